package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/velora-health/velora/pkg/live"
)

// widgetList holds the session's widgets: append-only, mutated in place by
// id, removed only by explicit dismissal.
type widgetList struct {
	items []Widget
}

func (w *widgetList) add(ev *live.WidgetEvent) Widget {
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}
	item := Widget{
		ID:        id,
		Kind:      ev.Kind,
		Args:      ev.Args,
		Status:    initialWidgetStatus(ev.Kind),
		CreatedAt: time.Now(),
	}
	w.items = append(w.items, item)
	return item
}

// initialWidgetStatus picks the starting status by kind: exercises begin
// immediately, commitments wait for user confirmation.
func initialWidgetStatus(kind string) WidgetStatus {
	switch kind {
	case WidgetBreathing, WidgetStressGauge:
		return WidgetStatusActive
	default:
		return WidgetStatusPending
	}
}

func (w *widgetList) indexByID(id string) int {
	for i := range w.items {
		if w.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (w *widgetList) updateStatus(id string, status WidgetStatus, result map[string]any) bool {
	i := w.indexByID(id)
	if i < 0 {
		return false
	}
	w.items[i].Status = status
	if result != nil {
		w.items[i].Result = result
	}
	return true
}

func (w *widgetList) dismiss(id string) bool {
	i := w.indexByID(id)
	if i < 0 {
		return false
	}
	w.items = append(w.items[:i], w.items[i+1:]...)
	return true
}

func (w *widgetList) snapshot() []Widget {
	out := make([]Widget, len(w.items))
	copy(out, w.items)
	return out
}

func (w *widgetList) restore(items []Widget) {
	w.items = make([]Widget, len(items))
	copy(w.items, items)
}

// Typed widget arguments, decoded from the model's tool-call args.

type BreathingArgs struct {
	Cycles        int `mapstructure:"cycles"`
	InhaleSeconds int `mapstructure:"inhaleSeconds"`
	HoldSeconds   int `mapstructure:"holdSeconds"`
	ExhaleSeconds int `mapstructure:"exhaleSeconds"`
}

type StressGaugeArgs struct {
	Score float64 `mapstructure:"score"`
	Label string  `mapstructure:"label"`
}

type CommitmentArgs struct {
	Title string `mapstructure:"title"`
	Due   string `mapstructure:"due"`
	Notes string `mapstructure:"notes"`
}

// DecodeWidgetArgs decodes a widget's raw args into a typed struct.
func DecodeWidgetArgs(w Widget, out any) error {
	return mapstructure.Decode(w.Args, out)
}
