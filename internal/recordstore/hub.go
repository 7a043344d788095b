package recordstore

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/jconstantine618/ai-consulting-crm/internal/domain"
)

// Snapshot is the full ordered-by-id record set of one collection.
// Records is shared between subscribers and must be treated as read-only.
type Snapshot struct {
	Scope   domain.Scope    `json:"scope"`
	Kind    string          `json:"kind"`
	Records []domain.Record `json:"records"`
}

type topic struct {
	scope domain.Scope
	kind  string
}

type subscriber struct {
	ch chan Snapshot
}

type topicState struct {
	// mu serializes list+deliver so subscribers observe snapshots in commit order.
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type lister func(ctx context.Context, scope domain.Scope, kind string) ([]domain.Record, error)

type hub struct {
	mu     sync.Mutex
	topics map[topic]*topicState
	list   lister
	log    *zap.Logger
}

func newHub(list lister, log *zap.Logger) *hub {
	return &hub{topics: map[topic]*topicState{}, list: list, log: log}
}

func (h *hub) state(t topic) *topicState {
	h.mu.Lock()
	defer h.mu.Unlock()
	ts, ok := h.topics[t]
	if !ok {
		ts = &topicState{subs: map[*subscriber]struct{}{}}
		h.topics[t] = ts
	}
	return ts
}

func (h *hub) subscribe(ctx context.Context, scope domain.Scope, kind string) (<-chan Snapshot, error) {
	t := topic{scope: scope, kind: kind}
	for {
		ts := h.state(t)
		ts.mu.Lock()
		if ts.closed {
			ts.mu.Unlock()
			continue
		}
		recs, err := h.list(ctx, scope, kind)
		if err != nil {
			ts.mu.Unlock()
			return nil, err
		}
		sub := &subscriber{ch: make(chan Snapshot, 1)}
		sub.ch <- Snapshot{Scope: scope, Kind: kind, Records: recs}
		ts.subs[sub] = struct{}{}
		ts.mu.Unlock()

		go func() {
			<-ctx.Done()
			h.remove(t, ts, sub)
		}()
		return sub.ch, nil
	}
}

func (h *hub) remove(t topic, ts *topicState, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.subs, sub)
	close(sub.ch)
	if len(ts.subs) == 0 {
		ts.closed = true
		delete(h.topics, t)
	}
}

// refresh re-reads a collection and pushes it to its subscribers.
func (h *hub) refresh(ctx context.Context, scope domain.Scope, kind string) {
	t := topic{scope: scope, kind: kind}
	h.mu.Lock()
	ts := h.topics[t]
	h.mu.Unlock()
	if ts == nil {
		return
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.closed || len(ts.subs) == 0 {
		return
	}
	recs, err := h.list(ctx, scope, kind)
	if err != nil {
		h.log.Warn("refresh snapshot failed",
			zap.String("path", scope.CollectionPath(kind)),
			zap.Error(err))
		return
	}
	snap := Snapshot{Scope: scope, Kind: kind, Records: recs}
	for sub := range ts.subs {
		offer(sub.ch, snap)
	}
}

func (h *hub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ts := range h.topics {
		ts.mu.Lock()
		n += len(ts.subs)
		ts.mu.Unlock()
	}
	return n
}

// offer replaces any undelivered snapshot with the newer one.
func offer(ch chan Snapshot, s Snapshot) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- s
}
