package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName       = "prism-gtd/api"
	requestEventName = "gtd.request"
	eventDomain      = "prism.gtd"
	observabilityMsg = "observability.event"
)

// requestMetrics collects per-request timings and outcome, then reports them
// once as a span and one structured log line.
type requestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time
	route  string
	method string

	authDuration  time.Duration
	storeDuration time.Duration
	tasksReturned int
	countTasks    bool
	hasNextPage   bool
	errorStage    string
	err           error
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
	return &requestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		route:  route,
		method: method,
	}, ctx
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.authDuration = d
}

func (m *requestMetrics) ObserveStore(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.storeDuration += d
}

func (m *requestMetrics) SetTasksReturned(n int) {
	if m == nil {
		return
	}
	m.countTasks = true
	m.tasksReturned = max(n, 0)
}

func (m *requestMetrics) SetHasNextPage(hasNext bool) {
	if m == nil {
		return
	}
	m.hasNextPage = hasNext
}

// Fail records the stage at which the request failed. The first failure wins.
func (m *requestMetrics) Fail(stage string, err error) {
	if m == nil || m.errorStage != "" {
		return
	}
	m.errorStage = stage
	m.err = err
}

func (m *requestMetrics) attributes(status int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.String("http.request.method", m.method),
		attribute.Int("http.status_code", status),
		attribute.Float64("prism.gtd.total_ms", durationToMillis(time.Since(m.start))),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("prism.gtd.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.storeDuration > 0 {
		attrs = append(attrs, attribute.Float64("prism.gtd.store_ms", durationToMillis(m.storeDuration)))
	}
	if m.countTasks {
		attrs = append(attrs,
			attribute.Int("prism.gtd.tasks_returned", m.tasksReturned),
			attribute.Bool("prism.gtd.has_next_page", m.hasNextPage),
		)
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("prism.gtd.error_stage", m.errorStage))
	}
	if m.err != nil {
		attrs = append(attrs, attribute.String("error.message", m.err.Error()))
	}
	return attrs
}

// End closes the span and writes the observability event.
func (m *requestMetrics) End(status int) {
	if m == nil {
		return
	}
	attrs := m.attributes(status)
	severityText, severityNumber := severityForStatus(status, m.err)

	m.span.SetAttributes(attrs...)
	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", requestEventName),
		attribute.String("event.domain", eventDomain),
		attribute.String("severity_text", severityText),
	}, attrs...)
	m.span.AddEvent(observabilityMsg, trace.WithAttributes(eventAttrs...))
	if status >= http.StatusInternalServerError {
		desc := http.StatusText(status)
		if m.err != nil {
			desc = m.err.Error()
		}
		m.span.SetStatus(codes.Error, desc)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()

	if m.logger == nil {
		return
	}
	attrMap := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		attrMap[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    eventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attrMap,
	}
	if sc := m.span.SpanContext(); sc.IsValid() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	m.logger.WithFields(fields).Log(levelForSeverity(severityText), observabilityMsg)
}

// severityForStatus follows the OpenTelemetry log severity numbers.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError, status == 0 && err != nil:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	}
	return "INFO", 9
}

func levelForSeverity(text string) log.Level {
	switch text {
	case "ERROR":
		return log.ErrorLevel
	case "WARN":
		return log.WarnLevel
	}
	return log.InfoLevel
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
