package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

var ErrUnknownKey = errors.New("unknown setting")

// EnvFile reads and rewrites a dotenv file. Reads are always fresh so edits
// made by the voice agent or by hand are picked up without a restart.
type EnvFile struct {
	Path string

	mu sync.Mutex
}

func NewEnvFile(path string) *EnvFile {
	return &EnvFile{Path: strings.TrimSpace(path)}
}

// Read returns the file's key/value pairs. A missing file reads as empty.
func (e *EnvFile) Read() (map[string]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readLocked()
}

func (e *EnvFile) readLocked() (map[string]string, error) {
	values, err := godotenv.Read(e.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", e.Path, err)
	}
	return values, nil
}

// Update merges changes into the file. Every key must be in the catalog.
// An empty value for a secret field keeps the stored secret.
func (e *EnvFile) Update(changes map[string]string) error {
	var unknown []string
	for key := range changes {
		if _, ok := LookupField(key); !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: %s", ErrUnknownKey, strings.Join(unknown, ", "))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	values, err := e.readLocked()
	if err != nil {
		return err
	}
	changed := false
	for key, value := range changes {
		field, _ := LookupField(key)
		value = strings.TrimSpace(value)
		if field.Secret() && value == "" {
			continue
		}
		if current, ok := values[key]; ok && current == value {
			continue
		}
		values[key] = value
		changed = true
	}
	if !changed {
		return nil
	}

	if dir := filepath.Dir(e.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create env file directory: %w", err)
		}
	}
	if err := writeEnvFile(e.Path, values); err != nil {
		return fmt.Errorf("write env file %s: %w", e.Path, err)
	}
	return nil
}

// envValueEscaper applies the escapes godotenv.Parse undoes inside double
// quotes.
var envValueEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\n", `\n`,
	"\r", `\r`,
	`"`, `\"`,
	`!`, `\!`,
	`$`, `\$`,
	"`", "\\`",
)

// marshalEnv renders values as sorted KEY="value" lines. Every value is
// quoted: godotenv.Marshal writes integer-looking values bare, which strips
// the leading + and zeros from phone numbers.
func marshalEnv(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&b, "%s=\"%s\"\n", key, envValueEscaper.Replace(values[key]))
	}
	return b.String()
}

func writeEnvFile(path string, values map[string]string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".env-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(marshalEnv(values)); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Lookup resolves key from the file first, then the process environment.
func (e *EnvFile) Lookup(key string) string {
	values, err := e.Read()
	if err == nil {
		if value := strings.TrimSpace(values[key]); value != "" {
			return value
		}
	}
	return strings.TrimSpace(os.Getenv(key))
}

// Resolved returns every catalog key resolved the way Lookup does, reading
// the file once.
func (e *EnvFile) Resolved() (map[string]string, error) {
	values, err := e.Read()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, group := range catalog {
		for _, field := range group.Fields {
			value := strings.TrimSpace(values[field.Key])
			if value == "" {
				value = strings.TrimSpace(os.Getenv(field.Key))
			}
			if value != "" {
				out[field.Key] = value
			}
		}
	}
	return out, nil
}

type LiveKit struct {
	URL       string
	APIKey    string
	APISecret string
}

func (e *EnvFile) LiveKitCredentials() LiveKit {
	values, _ := e.Resolved()
	return LiveKit{
		URL:       values[KeyLiveKitURL],
		APIKey:    values[KeyLiveKitAPIKey],
		APISecret: values[KeyLiveKitAPISecret],
	}
}

type LLM struct {
	Provider string
	APIKey   string
	Model    string
}

func (e *EnvFile) LLMCredentials() LLM {
	values, _ := e.Resolved()
	llm := LLM{
		Provider: values[KeyLLMProvider],
		APIKey:   values[KeyGroqAPIKey],
		Model:    values[KeyGroqModel],
	}
	if llm.Provider == "" {
		llm.Provider = "groq"
	}
	if llm.Model == "" {
		llm.Model = DefaultGroqModel
	}
	return llm
}

const notConfigured = "Not configured"

type StatusView struct {
	Configured      bool   `json:"configured"`
	LiveKitURL      string `json:"livekit_url"`
	TrunkConfigured bool   `json:"trunk_configured"`
	OutboundNumber  string `json:"outbound_number"`
}

// Status reports whether the dialer has everything it needs to place calls.
func (e *EnvFile) Status() StatusView {
	values, _ := e.Resolved()
	lk := LiveKit{URL: values[KeyLiveKitURL], APIKey: values[KeyLiveKitAPIKey], APISecret: values[KeyLiveKitAPISecret]}
	trunk := values[KeySIPTrunkID]

	view := StatusView{
		Configured:      lk.URL != "" && lk.APIKey != "" && lk.APISecret != "" && trunk != "",
		LiveKitURL:      lk.URL,
		TrunkConfigured: trunk != "",
		OutboundNumber:  values[KeyOutboundNumber],
	}
	if view.LiveKitURL == "" {
		view.LiveKitURL = notConfigured
	}
	if view.OutboundNumber == "" {
		view.OutboundNumber = notConfigured
	}
	return view
}
