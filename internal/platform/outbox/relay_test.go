package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/metrics"
	"github.com/hms/hms/internal/platform/websocket"
)

type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memStore struct {
	mu      sync.Mutex
	entries []*Entry
	locked  bool
}

func (s *memStore) TryLock(ctx context.Context) (bool, error) {
	return !s.locked, nil
}

func (s *memStore) FetchPending(ctx context.Context, limit, maxRetries int) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Entry
	for _, e := range s.entries {
		if e.ProcessedAt == nil && e.RetryCount < maxRetries && len(out) < limit {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) find(id int64) *Entry {
	for _, e := range s.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (s *memStore) MarkProcessed(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.find(id).ProcessedAt = &now
	return nil
}

func (s *memStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.find(id)
	e.RetryCount++
	e.LastError = &reason
	return nil
}

func (s *memStore) Stats(ctx context.Context, maxRetries int) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &Stats{}
	for _, e := range s.entries {
		switch {
		case e.ProcessedAt != nil:
			st.Processed24h++
		case e.RetryCount >= maxRetries:
			st.Parked++
		default:
			st.Pending++
		}
	}
	return st, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	sent   []*Entry
	failOn map[string]bool
}

func (p *fakePublisher) Publish(ctx context.Context, e *Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn[e.EventType] {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, e)
	return nil
}

type fakeFanout struct {
	events []websocket.Event
}

func (f *fakeFanout) Publish(ctx context.Context, e websocket.Event) error {
	f.events = append(f.events, e)
	return nil
}

func newEntries() []*Entry {
	return []*Entry{
		{ID: 1, AggregateID: "bed-1", AggregateType: "ward_bed", EventType: "bed.assigned", Topic: "hms.ward", MessageKey: "bed-1", Payload: json.RawMessage(`{}`)},
		{ID: 2, AggregateID: "drug-1", AggregateType: "drug", EventType: "drug.dispensed", Topic: "hms.pharmacy", MessageKey: "drug-1", Payload: json.RawMessage(`{}`)},
	}
}

func TestRelay_PublishesAndMarksProcessed(t *testing.T) {
	store := &memStore{entries: newEntries()}
	pub := &fakePublisher{}
	fan := &fakeFanout{}
	m := metrics.New()
	r := NewRelay(passthroughTx{}, store, pub, fan, DefaultRelayConfig(), zerolog.Nop(), m)

	n, err := r.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 published, got %d", n)
	}
	if len(pub.sent) != 2 || len(fan.events) != 2 {
		t.Fatalf("expected 2 sent and fanned out, got %d/%d", len(pub.sent), len(fan.events))
	}
	if fan.events[0].Topic != "hms.ward" || fan.events[0].Type != "bed.assigned" {
		t.Errorf("unexpected fanout event %+v", fan.events[0])
	}
	for _, e := range store.entries {
		if e.ProcessedAt == nil {
			t.Errorf("entry %d not marked processed", e.ID)
		}
	}
	if got := testutil.ToFloat64(m.OutboxPublished); got != 2 {
		t.Errorf("expected 2 published metric, got %v", got)
	}

	n, _ = r.ProcessBatch(context.Background())
	if n != 0 {
		t.Errorf("expected nothing left to publish, got %d", n)
	}
}

func TestRelay_FailureIncrementsRetryAndParks(t *testing.T) {
	store := &memStore{entries: newEntries()}
	pub := &fakePublisher{failOn: map[string]bool{"drug.dispensed": true}}
	fan := &fakeFanout{}
	cfg := DefaultRelayConfig()
	cfg.MaxRetries = 2
	r := NewRelay(passthroughTx{}, store, pub, fan, cfg, zerolog.Nop(), nil)

	for i := 0; i < 3; i++ {
		if _, err := r.ProcessBatch(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	failed := store.find(2)
	if failed.ProcessedAt != nil {
		t.Fatal("failed entry must stay unprocessed")
	}
	if failed.RetryCount != 2 {
		t.Errorf("expected retry count capped at 2, got %d", failed.RetryCount)
	}
	if failed.LastError == nil || *failed.LastError != "broker unavailable" {
		t.Errorf("unexpected last error %v", failed.LastError)
	}
	if len(fan.events) != 1 {
		t.Errorf("expected only the published entry to fan out, got %d", len(fan.events))
	}
}

func TestRelay_SkipsWhenLocked(t *testing.T) {
	store := &memStore{entries: newEntries(), locked: true}
	pub := &fakePublisher{}
	r := NewRelay(passthroughTx{}, store, pub, nil, DefaultRelayConfig(), zerolog.Nop(), nil)

	n, err := r.ProcessBatch(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected (0, nil), got (%d, %v)", n, err)
	}
	if len(pub.sent) != 0 {
		t.Error("nothing should be published without the lock")
	}
}

func TestRelay_FanoutOnlyWithoutBroker(t *testing.T) {
	store := &memStore{entries: newEntries()}
	fan := &fakeFanout{}
	r := NewRelay(passthroughTx{}, store, nil, fan, DefaultRelayConfig(), zerolog.Nop(), nil)

	n, err := r.ProcessBatch(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("expected (2, nil), got (%d, %v)", n, err)
	}
	if len(fan.events) != 2 {
		t.Errorf("expected 2 fanned out events, got %d", len(fan.events))
	}
}

// commitFailTx runs the batch and then reports a failed commit.
type commitFailTx struct{}

func (commitFailTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		return err
	}
	return errors.New("commit failed")
}

func TestRelay_NoFanoutWhenCommitFails(t *testing.T) {
	store := &memStore{entries: newEntries()}
	fan := &fakeFanout{}
	r := NewRelay(commitFailTx{}, store, &fakePublisher{}, fan, DefaultRelayConfig(), zerolog.Nop(), nil)

	if _, err := r.ProcessBatch(context.Background()); err == nil {
		t.Fatal("expected the commit error")
	}
	if len(fan.events) != 0 {
		t.Errorf("expected no fan-out before commit, got %d events", len(fan.events))
	}

	for _, e := range store.entries {
		e.ProcessedAt = nil
	}
	r = NewRelay(passthroughTx{}, store, &fakePublisher{}, fan, DefaultRelayConfig(), zerolog.Nop(), nil)
	if n, err := r.ProcessBatch(context.Background()); err != nil || n != 2 {
		t.Fatalf("expected (2, nil) on retry, got (%d, %v)", n, err)
	}
	if len(fan.events) != 2 {
		t.Errorf("expected each event fanned out once, got %d", len(fan.events))
	}
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	store := &memStore{entries: newEntries()}
	pub := &fakePublisher{}
	cfg := DefaultRelayConfig()
	cfg.PollInterval = 5 * time.Millisecond
	r := NewRelay(passthroughTx{}, store, pub, nil, cfg, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		pub.mu.Lock()
		n := len(pub.sent)
		pub.mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("relay did not publish in time")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
