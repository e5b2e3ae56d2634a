package framework

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// WalkEventType names a point in the life of a graph walk.
type WalkEventType string

const (
	EventWalkStart    WalkEventType = "walk_start"
	EventWaveStart    WalkEventType = "wave_start"
	EventNodeEnter    WalkEventType = "node_enter"
	EventNodeExit     WalkEventType = "node_exit"
	EventWaveJoin     WalkEventType = "wave_join"
	EventWalkComplete WalkEventType = "walk_complete"
	EventWalkError    WalkEventType = "walk_error"
)

// WalkEvent is one observation from a graph walk. Wave is meaningful for
// wave and node events only; Metadata carries event-specific extras such as
// the node names of a starting wave.
type WalkEvent struct {
	Type     WalkEventType
	Graph    string
	Node     string
	Wave     int
	Elapsed  time.Duration
	Error    error
	Metadata map[string]any
}

func (e WalkEvent) waveScoped() bool {
	return e.Node != "" || e.Type == EventWaveStart || e.Type == EventWaveJoin
}

// WalkObserver receives walk events. Node events of a wave are emitted from
// the goroutines running those nodes, so OnEvent must be safe for concurrent
// use.
type WalkObserver interface {
	OnEvent(WalkEvent)
}

// WalkObserverFunc lets a plain function observe a walk.
type WalkObserverFunc func(WalkEvent)

func (f WalkObserverFunc) OnEvent(e WalkEvent) { f(e) }

// Observers fans each event out in slice order. Nil entries are skipped.
type Observers []WalkObserver

func (o Observers) OnEvent(e WalkEvent) {
	for _, obs := range o {
		emitEvent(obs, e)
	}
}

// LogObserver turns walk events into structured log lines: failures at
// warn, everything else at debug.
type LogObserver struct {
	Logger *slog.Logger // slog.Default when nil
}

func (o *LogObserver) OnEvent(e WalkEvent) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelDebug
	if e.Error != nil {
		level = slog.LevelWarn
	}
	ctx := context.Background()
	if !logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, 6)
	attrs = append(attrs, slog.String("event", string(e.Type)), slog.String("graph", e.Graph))
	if e.Node != "" {
		attrs = append(attrs, slog.String("node", e.Node))
	}
	if e.waveScoped() {
		attrs = append(attrs, slog.Int("wave", e.Wave))
	}
	if e.Elapsed > 0 {
		attrs = append(attrs, slog.Duration("elapsed", e.Elapsed))
	}
	if e.Error != nil {
		attrs = append(attrs, slog.String("error", e.Error.Error()))
	}
	logger.LogAttrs(ctx, level, "walk", attrs...)
}

// EventRecorder keeps every event it sees, in arrival order. It is mostly
// useful in tests and for post-run inspection.
type EventRecorder struct {
	mu     sync.Mutex
	events []WalkEvent
}

func (r *EventRecorder) OnEvent(e WalkEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events, limited to the given types
// when any are passed.
func (r *EventRecorder) Events(types ...WalkEventType) []WalkEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(types) == 0 {
		return slices.Clone(r.events)
	}
	var out []WalkEvent
	for _, e := range r.events {
		if slices.Contains(types, e.Type) {
			out = append(out, e)
		}
	}
	return out
}

// Count is len(Events(typ)) without the copy.
func (r *EventRecorder) Count(typ WalkEventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func emitEvent(obs WalkObserver, e WalkEvent) {
	if obs != nil {
		obs.OnEvent(e)
	}
}
