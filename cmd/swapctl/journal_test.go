package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/swapctl/internal/journal"
	"github.com/andrej220/swapctl/pkg/consumer"
)

type fakeEvents struct {
	events []journal.Event
	err    error
	cancel context.CancelFunc
	closed bool
}

func (f *fakeEvents) Read(ctx context.Context) (journal.Event, error) {
	if len(f.events) == 0 {
		if f.err != nil {
			return journal.Event{}, f.err
		}
		f.cancel()
		<-ctx.Done()
		return journal.Event{}, ctx.Err()
	}
	ev := f.events[0]
	f.events = f.events[1:]
	return ev, nil
}

func (f *fakeEvents) Close() error {
	f.closed = true
	return nil
}

var at = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

func TestTailEventsFiltersRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &fakeEvents{cancel: cancel, events: []journal.Event{
		{RunID: "r1", Time: at, Kind: journal.KindStep, Step: 2, Name: "stop validator", Host: "node-a", Outcome: journal.OutcomeCompleted},
		{RunID: "r2", Time: at, Kind: journal.KindSwap, Outcome: journal.OutcomeStarted},
		{RunID: "r1", Time: at, Kind: journal.KindValidation, Outcome: journal.OutcomeFailed, Errors: []string{"Missing source key file on node-b: /x"}},
	}}
	var out bytes.Buffer

	require.NoError(t, tailEvents(ctx, r, &out, "r1"))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, `2026-10-19T09:30:00Z r1 step       step 2 "stop validator" on node-a: completed`, lines[0])
	assert.Equal(t, "2026-10-19T09:30:00Z r1 validation: failed", lines[1])
	assert.Equal(t, "    Missing source key file on node-b: /x", lines[2])
}

func TestTailEventsError(t *testing.T) {
	r := &fakeEvents{err: errors.New("broker unavailable")}
	err := tailEvents(context.Background(), r, &bytes.Buffer{}, "")
	assert.ErrorContains(t, err, "broker unavailable")
}

func TestJournalTailCmd(t *testing.T) {
	h := newHarness(t)
	body, err := os.ReadFile(h.cfgPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &fakeEvents{cancel: cancel, events: []journal.Event{{RunID: "r9", Time: at, Kind: journal.KindSwap, Outcome: journal.OutcomeCompleted}}}
	var got consumer.Config
	a := newApp()
	a.openReader = func(cfg consumer.Config) eventReader {
		got = cfg
		return r
	}

	var out bytes.Buffer
	err = run(ctx, a, []string{"--config", h.cfgPath, "journal", "tail"}, &out)
	assert.ErrorContains(t, err, "journal.kafka is not configured")

	kafka := "  kafka:\n    brokers: [kafka-1:9092]\n    topic: validator-swaps\n"
	require.NoError(t, os.WriteFile(h.cfgPath, append(body, []byte(kafka)...), 0o600))
	out.Reset()
	require.NoError(t, run(ctx, a, []string{"--config", h.cfgPath, "journal", "tail", "--from-start", "--group", "ops"}, &out))

	assert.Equal(t, consumer.Config{Brokers: []string{"kafka-1:9092"}, Topic: "validator-swaps", GroupID: "ops", FromStart: true}, got)
	assert.Contains(t, out.String(), "r9 swap")
	assert.True(t, r.closed)
}
