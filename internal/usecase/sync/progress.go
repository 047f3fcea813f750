package sync

import (
	gosync "sync"
	"time"

	"github.com/google/uuid"
)

// Progress stages, in emit order for one run.
const (
	StageStarted  = "started"
	StageProgress = "progress"
	StageFinished = "finished"
	StageFailed   = "failed"
)

// ProgressEvent is one live status update from a running sync.
type ProgressEvent struct {
	TraceID   string    `json:"traceId"`
	RunID     uint64    `json:"runId,omitempty"`
	Kind      string    `json:"kind"`
	Stage     string    `json:"stage"`
	Terminal  string    `json:"terminal,omitempty"`
	Processed int       `json:"processed"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// ProgressHub fans progress events out to any number of subscribers.
// Slow subscribers drop events instead of stalling a sync run.
type ProgressHub struct {
	mu   gosync.Mutex
	subs map[chan ProgressEvent]struct{}
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{subs: make(map[chan ProgressEvent]struct{})}
}

// Subscribe registers a listener. The returned cancel func must be called
// to release the channel.
func (h *ProgressHub) Subscribe() (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, 64)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *ProgressHub) Publish(event ProgressEvent) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
	h.mu.Unlock()
}

// newTraceID correlates every event of one run across log lines and
// websocket frames.
func newTraceID() string {
	return uuid.NewString()
}
