package swap

import (
	"context"
	"strings"

	"github.com/andrej220/swapctl/internal/journal"
	"github.com/andrej220/swapctl/internal/lg"
	"github.com/andrej220/swapctl/internal/node"
)

// State is the terminal state of a swap run.
type State int

const (
	StatePending State = iota
	StateCompleted
	StateFailedPartial
)

func (s State) String() string {
	switch s {
	case StateCompleted:
		return "completed"
	case StateFailedPartial:
		return "failed-partial"
	default:
		return "pending"
	}
}

// Result describes how far a swap got.
type Result struct {
	RunID          string
	State          State
	StepsCompleted int
	NewValidator   string
	NewStandby     string
	// ValidatorStatus is the systemd status of the new validator.
	ValidatorStatus string
}

type step struct {
	name  string
	nodes []*node.Node
	run   func(context.Context) error
}

func hostsOf(nodes []*node.Node) string {
	hosts := make([]string, len(nodes))
	for i, n := range nodes {
		hosts[i] = n.Host
	}
	return strings.Join(hosts, ",")
}

// Swap moves the validator role to the standby node. The pre-swap checks must
// have passed in this run; Swap does not repeat them.
//
// There is no rollback. When a step fails the earlier steps stay applied and
// the returned *StepError names the step to resume from by hand.
func (o *Orchestrator) Swap(ctx context.Context) (*Result, error) {
	validator, standby, err := o.nodes.Roles(ctx)
	if err != nil {
		return nil, err
	}
	res := &Result{RunID: o.runID, State: StatePending}
	local := o.localUnitDir
	both := []*node.Node{validator, standby}

	steps := []step{
		{"refresh status", both, func(ctx context.Context) error {
			for _, n := range both {
				if _, err := n.RestStatus(ctx, true); err != nil {
					return err
				}
			}
			return nil
		}},
		{"stop validator", []*node.Node{validator}, validator.StopNode},
		{"get unit files", []*node.Node{validator}, func(ctx context.Context) error {
			return validator.GetUnitFiles(ctx, local)
		}},
		{"put unit files", []*node.Node{standby}, func(ctx context.Context) error {
			return standby.PutUnitFiles(ctx, local)
		}},
		{"stop standby", []*node.Node{standby}, standby.StopNode},
		{"keys to validator", []*node.Node{standby}, standby.KeysToValidator},
		{"start new validator", []*node.Node{standby}, standby.StartNode},
		{"keys to offline", []*node.Node{validator}, validator.KeysToOffline},
		{"start new standby", []*node.Node{validator}, validator.StartNode},
		{"new validator status", []*node.Node{standby}, func(ctx context.Context) error {
			out, err := standby.SystemdStatus(ctx)
			res.ValidatorStatus = out
			return err
		}},
		{"reset validator", both, func(context.Context) error {
			o.nodes.Invalidate()
			for _, n := range both {
				n.InvalidateStatus()
			}
			return nil
		}},
	}

	o.logger.Info("starting swap", lg.String("validator", validator.Host), lg.String("standby", standby.Host))
	o.record(ctx, journal.Event{Kind: journal.KindSwap, Outcome: journal.OutcomeStarted, Host: hostsOf(both)})

	for i, st := range steps {
		num := i + 1
		host := hostsOf(st.nodes)
		logger := o.logger.With(lg.Int("step", num), lg.String("host", host))
		logger.Info(st.name)
		o.record(ctx, journal.Event{Kind: journal.KindStep, Step: num, Name: st.name, Host: host, Outcome: journal.OutcomeStarted})

		if err := st.run(ctx); err != nil {
			res.State = StateFailedPartial
			logger.Error("swap step failed, manual recovery required", lg.String("name", st.name), lg.Err(err))
			o.record(ctx, journal.Event{Kind: journal.KindStep, Step: num, Name: st.name, Host: host,
				Outcome: journal.OutcomeFailed, Errors: []string{err.Error()}})
			o.record(ctx, journal.Event{Kind: journal.KindSwap, Step: num, Outcome: journal.OutcomeFailed, Host: hostsOf(both)})
			return res, &StepError{Step: num, Name: st.name, Host: host, Err: err}
		}

		res.StepsCompleted = num
		o.record(ctx, journal.Event{Kind: journal.KindStep, Step: num, Name: st.name, Host: host, Outcome: journal.OutcomeCompleted})
	}

	res.State = StateCompleted
	res.NewValidator = standby.Host
	res.NewStandby = validator.Host
	o.logger.Info("swap complete", lg.String("validator", res.NewValidator), lg.String("standby", res.NewStandby))
	o.record(ctx, journal.Event{Kind: journal.KindSwap, Outcome: journal.OutcomeCompleted, Host: hostsOf(both)})
	return res, nil
}
