package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

const defaultDispatchTimeout = 10 * time.Second

// agentDispatchClient is the part of lksdk.AgentDispatchClient we use.
type agentDispatchClient interface {
	CreateDispatch(ctx context.Context, req *livekit.CreateAgentDispatchRequest) (*livekit.AgentDispatch, error)
}

type LiveKitDispatcher struct {
	client    agentDispatchClient
	agentName string
	timeout   time.Duration
}

type Option func(*LiveKitDispatcher)

func WithTimeout(timeout time.Duration) Option {
	return func(d *LiveKitDispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func WithAgentName(name string) Option {
	return func(d *LiveKitDispatcher) {
		if name = strings.TrimSpace(name); name != "" {
			d.agentName = name
		}
	}
}

func NewLiveKitDispatcher(creds Credentials, opts ...Option) (*LiveKitDispatcher, error) {
	if !creds.Complete() {
		return nil, ErrMissingCredentials
	}
	client := lksdk.NewAgentDispatchServiceClient(
		strings.TrimSpace(creds.URL),
		strings.TrimSpace(creds.APIKey),
		strings.TrimSpace(creds.APISecret),
	)
	return newLiveKitDispatcher(client, opts...), nil
}

func newLiveKitDispatcher(client agentDispatchClient, opts ...Option) *LiveKitDispatcher {
	d := &LiveKitDispatcher{
		client:    client,
		agentName: DefaultAgentName,
		timeout:   defaultDispatchTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// LiveKitFactory returns a Factory that builds a LiveKitDispatcher per call.
func LiveKitFactory(opts ...Option) Factory {
	return func(creds Credentials) (Dispatcher, error) {
		return NewLiveKitDispatcher(creds, opts...)
	}
}

func (d *LiveKitDispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	agentName := strings.TrimSpace(req.AgentName)
	if agentName == "" {
		agentName = d.agentName
	}
	metadata, err := json.Marshal(map[string]string{"phone_number": req.PhoneNumber})
	if err != nil {
		return Result{}, fmt.Errorf("encode dispatch metadata: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resp, err := d.client.CreateDispatch(ctx, &livekit.CreateAgentDispatchRequest{
		AgentName: agentName,
		Room:      req.RoomName,
		Metadata:  string(metadata),
	})
	if err != nil {
		return Result{}, fmt.Errorf("create agent dispatch for room %s: %w", req.RoomName, err)
	}
	return Result{DispatchID: resp.GetId(), RoomName: req.RoomName}, nil
}
