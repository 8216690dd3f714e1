// Package swap moves the validator role from one node of a pair to the other:
// it resolves which node is validating, checks the pair is ready, and runs
// the ordered stop, transfer, key swap and restart sequence.
package swap

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/andrej220/swapctl/internal/journal"
	"github.com/andrej220/swapctl/internal/lg"
)

// ErrNotConfirmed is returned by Run when checks pass but the operator did
// not confirm the swap.
var ErrNotConfirmed = errors.New("pre-swap checks passed, swap not confirmed")

// States are the reactor states each role must report before a swap.
type States struct {
	Validator string `yaml:"validator" validate:"required"`
	Standby   string `yaml:"standby" validate:"required"`
}

func DefaultStates() States {
	return States{Validator: "Validate", Standby: "KeepUp"}
}

type Orchestrator struct {
	nodes        *NodeSet
	localUnitDir string
	states       States
	journal      journal.Journal
	logger       lg.Logger
	runID        string
}

type Option func(*Orchestrator)

func WithStates(s States) Option { return func(o *Orchestrator) { o.states = s } }
func WithJournal(j journal.Journal) Option { return func(o *Orchestrator) { o.journal = j } }
func WithLogger(l lg.Logger) Option { return func(o *Orchestrator) { o.logger = l } }
func WithRunID(id string) Option { return func(o *Orchestrator) { o.runID = id } }

// NewOrchestrator prepares a run over nodes, staging unit files in localUnitDir.
func NewOrchestrator(nodes *NodeSet, localUnitDir string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		nodes:        nodes,
		localUnitDir: localUnitDir,
		states:       DefaultStates(),
		journal:      journal.Discard,
		logger:       lg.Discard,
		runID:        uuid.NewString(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(lg.String("run", o.runID))
	return o
}

func (o *Orchestrator) RunID() string { return o.runID }

func (o *Orchestrator) Nodes() *NodeSet { return o.nodes }

// Run validates the pair and swaps only when confirm is set.
func (o *Orchestrator) Run(ctx context.Context, confirm bool) (*Result, error) {
	if err := o.CheckSwap(ctx); err != nil {
		return nil, err
	}
	if !confirm {
		return nil, ErrNotConfirmed
	}
	return o.Swap(ctx)
}

// record never fails the caller, a journal outage must not change the swap.
func (o *Orchestrator) record(ctx context.Context, ev journal.Event) {
	ev.RunID = o.runID
	ev.Time = time.Now().UTC()
	if err := o.journal.Record(ctx, ev); err != nil {
		o.logger.Warn("journal write failed", lg.String("kind", string(ev.Kind)), lg.Err(err))
	}
}
