package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func sampleEvent(step int) Event {
	return Event{
		RunID:   "3f1d7c9e-1f1e-4a55-9d5e-6f6a0c1d2b3a",
		Time:    time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		Kind:    KindStep,
		Step:    step,
		Name:    "stop validator",
		Host:    "node-a",
		Outcome: OutcomeCompleted,
	}
}

type mockWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msgs...)
	return w.err
}

// blockingWriter stands in for a broker that accepts the connection and never answers.
type blockingWriter struct{ mockWriter }

func (w *blockingWriter) WriteMessages(ctx context.Context, _ ...kafka.Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func (w *mockWriter) Close() error {
	w.closed = true
	return nil
}

type mockInserter struct {
	docs []any
	err  error
}

func (m *mockInserter) InsertOne(_ context.Context, doc interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	m.docs = append(m.docs, doc)
	return &mongo.InsertOneResult{}, m.err
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recorder) Record(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) Close() error { return nil }

func TestFileJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swap-journal.jsonl")
	j := NewFileJournal(path)
	ctx := context.Background()
	require.NoError(t, j.Record(ctx, sampleEvent(2)))
	require.NoError(t, j.Record(ctx, sampleEvent(3)))
	require.NoError(t, j.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var got []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, sampleEvent(2), got[0])
	assert.Equal(t, 3, got[1].Step)
}

func TestKafkaJournal(t *testing.T) {
	w := &mockWriter{}
	j := &KafkaJournal{writer: w}
	require.NoError(t, j.Record(context.Background(), sampleEvent(5)))
	require.Len(t, w.messages, 1)
	assert.Equal(t, sampleEvent(5).RunID, string(w.messages[0].Key))

	var ev Event
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &ev))
	assert.Equal(t, "node-a", ev.Host)

	w.err = errors.New("broker down")
	assert.ErrorContains(t, j.Record(context.Background(), sampleEvent(6)), "broker down")

	require.NoError(t, j.Close())
	assert.True(t, w.closed)
}

func TestKafkaJournalHungBroker(t *testing.T) {
	j := &KafkaJournal{writer: &blockingWriter{}, timeout: 20 * time.Millisecond}

	start := time.Now()
	err := j.Record(context.Background(), sampleEvent(5))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewKafkaJournal(t *testing.T) {
	j := NewKafkaJournal([]string{"localhost:9092"}, "validator-swaps")
	w, ok := j.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "validator-swaps", w.Topic)
	assert.Equal(t, recordTimeout, j.timeout)
	assert.Equal(t, recordTimeout, w.WriteTimeout)
	assert.Less(t, w.BatchTimeout, time.Second, "writes must not wait for a full batch")
	require.NoError(t, j.Close())
}

func TestMongoJournal(t *testing.T) {
	ins := &mockInserter{}
	j := &MongoJournal{coll: ins}
	require.NoError(t, j.Record(context.Background(), sampleEvent(7)))
	require.Len(t, ins.docs, 1)
	assert.Equal(t, sampleEvent(7), ins.docs[0])

	ins.err = errors.New("not primary")
	assert.ErrorContains(t, j.Record(context.Background(), sampleEvent(8)), "InsertOne failed")
	assert.NoError(t, j.Close())
}

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{err: errors.New("sink b down")}
	m := Multi{a, b}

	err := m.Record(context.Background(), sampleEvent(1))
	assert.ErrorContains(t, err, "sink b down")
	assert.Len(t, a.events, 1, "healthy sink still receives the event")
	assert.Len(t, b.events, 1)
	assert.NoError(t, m.Close())
}

func TestDiscard(t *testing.T) {
	assert.NoError(t, Discard.Record(context.Background(), sampleEvent(1)))
	assert.NoError(t, Discard.Close())
}
