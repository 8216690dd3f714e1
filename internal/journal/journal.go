// Package journal keeps an audit trail of swap runs: the validation verdict,
// every step as it starts, completes or fails, and the terminal state.
package journal

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindStep       Kind = "step"
	KindSwap       Kind = "swap"
)

const (
	OutcomePassed    = "passed"
	OutcomeFailed    = "failed"
	OutcomeStarted   = "started"
	OutcomeCompleted = "completed"
)

// Event is one journal record.
type Event struct {
	RunID   string    `json:"run_id" bson:"run_id"`
	Time    time.Time `json:"time" bson:"time"`
	Kind    Kind      `json:"kind" bson:"kind"`
	Step    int       `json:"step,omitempty" bson:"step,omitempty"`
	Name    string    `json:"name,omitempty" bson:"name,omitempty"`
	Host    string    `json:"host,omitempty" bson:"host,omitempty"`
	Outcome string    `json:"outcome" bson:"outcome"`
	Errors  []string  `json:"errors,omitempty" bson:"errors,omitempty"`
}

type Journal interface {
	Record(ctx context.Context, ev Event) error
	Close() error
}

type discard struct{}

func (discard) Record(context.Context, Event) error { return nil }
func (discard) Close() error                        { return nil }

// Discard drops every event.
var Discard Journal = discard{}

// Multi writes every event to all sinks concurrently.
type Multi []Journal

func (m Multi) Record(ctx context.Context, ev Event) error {
	var g errgroup.Group
	for _, j := range m {
		g.Go(func() error { return j.Record(ctx, ev) })
	}
	return g.Wait()
}

func (m Multi) Close() error {
	var errs []error
	for _, j := range m {
		errs = append(errs, j.Close())
	}
	return errors.Join(errs...)
}
