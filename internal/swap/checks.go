package swap

import (
	"context"
	"fmt"

	"github.com/andrej220/swapctl/internal/journal"
	"github.com/andrej220/swapctl/internal/lg"
	"github.com/andrej220/swapctl/internal/node"
)

// PreSwapChecks runs every read-only check and returns all problems found.
// A non-nil error means a check could not be evaluated at all.
func (o *Orchestrator) PreSwapChecks(ctx context.Context) ([]string, error) {
	validator, standby, err := o.nodes.Roles(ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range []*node.Node{validator, standby} {
		if _, err := n.RestStatus(ctx, true); err != nil {
			return nil, err
		}
	}

	var problems []string

	vNet, err := validator.NetworkName(ctx)
	if err != nil {
		return nil, err
	}
	sNet, err := standby.NetworkName(ctx)
	if err != nil {
		return nil, err
	}
	if vNet != sNet {
		problems = append(problems, fmt.Sprintf("%s is on network: %s\n%s is on network: %s",
			validator, vNet, standby, sNet))
	} else {
		o.logger.Info("on same networks", lg.String("network", vNet))
	}

	for _, c := range []struct {
		n        *node.Node
		expected string
	}{
		{validator, o.states.Validator},
		{standby, o.states.Standby},
	} {
		msg, err := o.checkReactorState(ctx, c.n, c.expected)
		if err != nil {
			return nil, err
		}
		if msg != "" {
			problems = append(problems, msg)
		}
	}

	for _, n := range []*node.Node{validator, standby} {
		missing, err := n.MissingKeyFiles(ctx)
		if err != nil {
			return nil, err
		}
		for _, m := range missing {
			problems = append(problems, fmt.Sprintf("Missing source key file on %s: %s", n, m))
		}
	}

	ev := journal.Event{Kind: journal.KindValidation, Outcome: journal.OutcomePassed, Errors: problems}
	if len(problems) > 0 {
		ev.Outcome = journal.OutcomeFailed
		o.logger.Error("errors encountered", lg.Strings("errors", problems))
	} else {
		o.logger.Info("all checks complete",
			lg.String("validator", validator.Host), lg.String("standby", standby.Host))
	}
	o.record(ctx, ev)
	return problems, nil
}

func (o *Orchestrator) checkReactorState(ctx context.Context, n *node.Node, expected string) (string, error) {
	state, ok, err := n.ReactorState(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		state = "<unknown>"
	}
	if !ok || state != expected {
		return fmt.Sprintf("Expected %s to have reactor_state of %s not %s.", n, expected, state), nil
	}
	o.logger.Info("reactor state ok", lg.String("host", n.Host), lg.String("state", state))
	return "", nil
}

// CheckSwap is PreSwapChecks folded into a single error; failed checks come
// back as *ValidationFailure.
func (o *Orchestrator) CheckSwap(ctx context.Context) error {
	problems, err := o.PreSwapChecks(ctx)
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		return &ValidationFailure{Errors: problems}
	}
	return nil
}
