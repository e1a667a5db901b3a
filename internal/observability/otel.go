package observability

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/auth"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/config"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/correlation"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/pathutil"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "calldesk"

	metricCallsDispatched = "calldesk.calls.dispatched_total"
	metricCallCost        = "calldesk.calls.cost_usd"
	metricWebhookEvents   = "calldesk.webhook.events_total"
	metricStoreWriteFails = "calldesk.store.write_failed_total"
)

// Runtime exposes OpenTelemetry HTTP wrappers and calldesk metric hooks.
// A nil or disabled Runtime is safe to use; every hook becomes a no-op.
type Runtime struct {
	enabled bool

	callsDispatched  metric.Int64Counter
	callCost         metric.Float64Histogram
	webhookEvents    metric.Int64Counter
	storeWriteFailed metric.Int64Counter

	shutdownFns []func(context.Context) error
}

// Setup initializes OpenTelemetry providers and runtime hooks.
func Setup(ctx context.Context, cfg config.OTelConfig, serviceVersion string, logger *slog.Logger) (*Runtime, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	runtime := &Runtime{}
	if !cfg.Enabled {
		return runtime, nil
	}

	exportTimeout := time.Duration(cfg.ExportTimeoutMS) * time.Millisecond
	metricInterval := time.Duration(cfg.MetricExportIntervalMS) * time.Millisecond
	otlpEndpoint, inferredInsecure, err := normalizeOTLPEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	insecure := cfg.Insecure
	if strings.Contains(strings.TrimSpace(cfg.Endpoint), "://") {
		// An explicit scheme wins over the insecure toggle.
		insecure = inferredInsecure
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", strings.TrimSpace(cfg.ServiceName)),
		attribute.String("service.version", strings.TrimSpace(serviceVersion)),
	)

	if cfg.TracesEnabled {
		traceOptions := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(otlpEndpoint),
			otlptracehttp.WithTimeout(exportTimeout),
		}
		if insecure {
			traceOptions = append(traceOptions, otlptracehttp.WithInsecure())
		}
		traceExporter, err := otlptracehttp.New(ctx, traceOptions...)
		if err != nil {
			return nil, fmt.Errorf("initialize otel trace exporter: %w", err)
		}

		tracerProvider := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRatio))),
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tracerProvider)
		runtime.shutdownFns = append(runtime.shutdownFns, tracerProvider.Shutdown)
	}

	if cfg.MetricsEnabled {
		metricOptions := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(otlpEndpoint),
			otlpmetrichttp.WithTimeout(exportTimeout),
		}
		if insecure {
			metricOptions = append(metricOptions, otlpmetrichttp.WithInsecure())
		}
		metricExporter, err := otlpmetrichttp.New(ctx, metricOptions...)
		if err != nil {
			_ = runtime.Shutdown(context.Background())
			return nil, fmt.Errorf("initialize otel metric exporter: %w", err)
		}

		reader := sdkmetric.NewPeriodicReader(
			metricExporter,
			sdkmetric.WithInterval(metricInterval),
			sdkmetric.WithTimeout(exportTimeout),
		)
		meterProvider := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		)
		otel.SetMeterProvider(meterProvider)
		runtime.shutdownFns = append(runtime.shutdownFns, meterProvider.Shutdown)
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})
	runtime.registerInstruments(otel.Meter(instrumentationName), logger)
	runtime.enabled = true

	if logger != nil {
		logger.Info(
			"opentelemetry enabled",
			"otel_endpoint", otlpEndpoint,
			"otel_traces_enabled", cfg.TracesEnabled,
			"otel_metrics_enabled", cfg.MetricsEnabled,
			"otel_sampling_ratio", cfg.SamplingRatio,
		)
	}

	return runtime, nil
}

// NewRuntimeWithMeter builds an enabled Runtime whose instruments come from
// meter. Tests use it with a manual reader; callers that need spans should
// install a tracer provider separately.
func NewRuntimeWithMeter(meter metric.Meter, logger *slog.Logger) *Runtime {
	runtime := &Runtime{}
	if meter == nil {
		return runtime
	}
	runtime.registerInstruments(meter, logger)
	runtime.enabled = true
	return runtime
}

func (r *Runtime) registerInstruments(meter metric.Meter, logger *slog.Logger) {
	warn := func(name string, err error) {
		if err != nil && logger != nil {
			logger.Warn("failed to create opentelemetry instrument", "metric", name, "error", err)
		}
	}

	var err error
	r.callsDispatched, err = meter.Int64Counter(
		metricCallsDispatched,
		metric.WithDescription("Outbound call dispatch attempts by outcome."),
	)
	warn(metricCallsDispatched, err)

	r.callCost, err = meter.Float64Histogram(
		metricCallCost,
		metric.WithDescription("Computed USD cost of calls when they reach a terminal status."),
		metric.WithUnit("USD"),
	)
	warn(metricCallCost, err)

	r.webhookEvents, err = meter.Int64Counter(
		metricWebhookEvents,
		metric.WithDescription("LiveKit webhook events received by event type."),
	)
	warn(metricWebhookEvents, err)

	r.storeWriteFailed, err = meter.Int64Counter(
		metricStoreWriteFails,
		metric.WithDescription("Store writes that failed, by operation and error class."),
	)
	warn(metricStoreWriteFails, err)
}

// Enabled reports whether OpenTelemetry instrumentation is active.
func (r *Runtime) Enabled() bool {
	return r != nil && r.enabled
}

// WrapHTTPHandler wraps an inbound HTTP handler with OpenTelemetry spans.
func (r *Runtime) WrapHTTPHandler(next http.Handler) http.Handler {
	if next == nil {
		next = http.NotFoundHandler()
	}
	if !r.Enabled() {
		return next
	}
	return otelhttp.NewHandler(
		next,
		"calldesk.request",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return serverSpanName(req.Method, req.URL.Path)
		}),
	)
}

// SpanEnrichmentMiddleware tags the active span with the correlation id and
// the caller's key, and marks 5xx responses as errors.
func (r *Runtime) SpanEnrichmentMiddleware(next http.Handler) http.Handler {
	if next == nil {
		next = http.NotFoundHandler()
	}
	if !r.Enabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusCapturingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(recorder, req)

		span := oteltrace.SpanFromContext(req.Context())
		if span == nil || !span.IsRecording() {
			return
		}

		statusCode := recorder.StatusCode()
		if statusCode >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, fmt.Sprintf("http %d", statusCode))
		}

		attrs := make([]attribute.KeyValue, 0, 3)
		if correlationID, ok := correlation.FromContext(req.Context()); ok {
			attrs = append(attrs, attribute.String("calldesk.correlation_id", correlationID))
		}
		if identity, ok := auth.IdentityFromContext(req.Context()); ok {
			if keyID := strings.TrimSpace(identity.KeyID); keyID != "" {
				attrs = append(attrs, attribute.String("calldesk.key_id", keyID))
			}
			if role := strings.TrimSpace(identity.Role); role != "" {
				attrs = append(attrs, attribute.String("calldesk.role", role))
			}
		}
		if len(attrs) > 0 {
			span.SetAttributes(attrs...)
		}
	})
}

// WrapHTTPTransport wraps an outbound HTTP transport with OpenTelemetry spans.
func (r *Runtime) WrapHTTPTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if !r.Enabled() {
		return base
	}
	return otelhttp.NewTransport(
		base,
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return "outbound " + normalizedMethod(req.Method) + " " + req.URL.Host
		}),
	)
}

// RecordCallDispatched counts one dispatch attempt. outcome is a short code
// such as "dispatched", "invalid_phone", "limited" or "dispatch_failed".
func (r *Runtime) RecordCallDispatched(ctx context.Context, outcome string) {
	if !r.Enabled() || r.callsDispatched == nil {
		return
	}
	r.callsDispatched.Add(
		contextOrBackground(ctx),
		1,
		metric.WithAttributes(attribute.String("outcome", nonEmpty(outcome, "unknown"))),
	)
}

// RecordCallCost records the USD cost of a call that reached status.
func (r *Runtime) RecordCallCost(ctx context.Context, status string, costUSD float64) {
	if !r.Enabled() || r.callCost == nil || costUSD < 0 {
		return
	}
	r.callCost.Record(
		contextOrBackground(ctx),
		costUSD,
		metric.WithAttributes(attribute.String("status", nonEmpty(status, "unknown"))),
	)
}

// RecordWebhookEvent counts a received LiveKit webhook event.
func (r *Runtime) RecordWebhookEvent(ctx context.Context, event string) {
	if !r.Enabled() || r.webhookEvents == nil {
		return
	}
	r.webhookEvents.Add(
		contextOrBackground(ctx),
		1,
		metric.WithAttributes(attribute.String("event", nonEmpty(event, "unknown"))),
	)
}

// RecordStoreWriteFailure counts a failed store write.
func (r *Runtime) RecordStoreWriteFailure(ctx context.Context, operation, errorClass string) {
	if !r.Enabled() || r.storeWriteFailed == nil {
		return
	}
	r.storeWriteFailed.Add(
		contextOrBackground(ctx),
		1,
		metric.WithAttributes(
			attribute.String("operation", nonEmpty(operation, "unknown")),
			attribute.String("error_class", nonEmpty(errorClass, "unknown")),
		),
	)
}

// Shutdown flushes and stops OpenTelemetry providers.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil || len(r.shutdownFns) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for i := len(r.shutdownFns) - 1; i >= 0; i-- {
		if err := r.shutdownFns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func normalizeOTLPEndpoint(raw string) (string, bool, error) {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		return "", false, errors.New("observability.otel.endpoint must not be empty")
	}

	if !strings.Contains(endpoint, "://") {
		return endpoint, false, nil
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse observability.otel.endpoint: %w", err)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return "", false, fmt.Errorf("observability.otel.endpoint must include host (got %q)", raw)
	}

	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "http":
		return parsed.Host, true, nil
	case "https":
		return parsed.Host, false, nil
	default:
		return "", false, fmt.Errorf("observability.otel.endpoint scheme must be http or https when provided (got %q)", parsed.Scheme)
	}
}

// routePatternForPath keeps span names low-cardinality by collapsing ids.
func routePatternForPath(path string) string {
	switch {
	case pathutil.HasPathPrefix(path, "/webhook"):
		return "/webhook/*"
	case pathutil.HasPathPrefix(path, "/api/calls"):
		return collapseID("/api/calls", path)
	case pathutil.HasPathPrefix(path, "/api/contacts"):
		return collapseID("/api/contacts", path)
	case pathutil.HasPathPrefix(path, "/api/transcripts"):
		return "/api/transcripts/{call_id}"
	case pathutil.HasPathPrefix(path, "/api"):
		return path
	default:
		return "/pages"
	}
}

func collapseID(prefix, path string) string {
	segments, _ := pathutil.Tail(path, prefix)
	if len(segments) == 0 {
		return prefix
	}
	return prefix + "/{id}"
}

func serverSpanName(method, path string) string {
	return normalizedMethod(method) + " " + routePatternForPath(path)
}

func normalizedMethod(method string) string {
	method = strings.TrimSpace(method)
	if method == "" {
		return "UNKNOWN"
	}
	return method
}

func nonEmpty(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// statusCapturingResponseWriter must keep Hijack working: /api/events
// upgrades to a websocket underneath this wrapper.
type statusCapturingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusCapturingResponseWriter) Unwrap() http.ResponseWriter {
	if w == nil {
		return nil
	}
	return w.ResponseWriter
}

func (w *statusCapturingResponseWriter) WriteHeader(statusCode int) {
	if w.statusCode == 0 {
		w.statusCode = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusCapturingResponseWriter) Write(p []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusCapturingResponseWriter) StatusCode() int {
	if w.statusCode == 0 {
		return http.StatusOK
	}
	return w.statusCode
}

func (w *statusCapturingResponseWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusCapturingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	if w.statusCode == 0 {
		w.statusCode = http.StatusSwitchingProtocols
	}
	return hijacker.Hijack()
}

func (w *statusCapturingResponseWriter) ReadFrom(r io.Reader) (int64, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	readerFrom, ok := w.ResponseWriter.(io.ReaderFrom)
	if !ok {
		return io.Copy(w.ResponseWriter, r)
	}
	return readerFrom.ReadFrom(r)
}
