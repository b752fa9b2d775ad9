package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type memorySink struct {
	mu      sync.Mutex
	batches [][]RelayEvent
}

func (s *memorySink) WriteBatch(_ context.Context, events []RelayEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]RelayEvent(nil), events...))
	return nil
}

func (s *memorySink) events() []RelayEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RelayEvent
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func TestJournalFlushesOnStop(t *testing.T) {
	sink := &memorySink{}
	j := NewJournal(sink, Options{FlushInterval: time.Hour}, zap.NewNop())
	j.Start()

	j.Log(RelayEvent{Kind: KindRelay, Origin: "https://a.test", Status: StatusSuccess})
	j.Log(RelayEvent{Kind: KindGrant, Origin: "https://b.test", Hosts: []string{"api.b.test"}})
	j.Stop()

	events := sink.events()
	require.Len(t, events, 2)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, "https://b.test", events[1].Origin)

	// После остановки события отбрасываются без паники.
	j.Log(RelayEvent{Kind: KindRelay})
	j.Stop()
	assert.Len(t, sink.events(), 2)
}

func TestJournalFlushesByBatchSize(t *testing.T) {
	sink := &memorySink{}
	j := NewJournal(sink, Options{BatchSize: 2, FlushInterval: time.Hour}, zap.NewNop())
	j.Start()
	defer j.Stop()

	j.Log(RelayEvent{Kind: KindRelay})
	j.Log(RelayEvent{Kind: KindRelay})

	assert.Eventually(t, func() bool { return len(sink.events()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestLogSinkWritesStructuredEntries(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.WriteBatch(context.Background(), []RelayEvent{
		{ID: "1", Kind: KindRevoke, Origin: "https://a.test", Status: StatusSuccess},
	}))

	entries := logs.FilterMessage("audit").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "REVOKE", entries[0].ContextMap()["kind"])
	assert.Equal(t, "https://a.test", entries[0].ContextMap()["origin"])
}
