package metrics

import (
	"context"
	"io"
	"log/slog"

	"github.com/velora-health/velora/pkg/redact"
)

// JSONLObserver writes one JSON line per event, keyed by the event name, for
// the rolling metrics artifact. String fields pass through redaction because
// message_final events carry transcript text.
type JSONLObserver struct {
	logger *slog.Logger
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	return &JSONLObserver{logger: slog.New(slog.NewJSONHandler(w, nil))}
}

func (o *JSONLObserver) RecordEvent(ev MetricsEvent) {
	attrs := make([]slog.Attr, 0, 2+len(ev.Tags)+len(ev.Fields))
	attrs = append(attrs,
		slog.Time("time", ev.Time),
		slog.Float64("value", ev.Value))
	for k, v := range ev.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	for k, v := range redact.Fields(ev.Fields) {
		attrs = append(attrs, slog.Any(k, v))
	}
	o.logger.LogAttrs(context.Background(), slog.LevelInfo, ev.Name, attrs...)
}
