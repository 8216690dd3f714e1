package swap

import (
	"fmt"
	"strings"
)

// InconsistentRoleError means the pair does not have exactly one validator.
type InconsistentRoleError struct {
	Hosts      [2]string
	Validators int
}

func (e *InconsistentRoleError) Error() string {
	if e.Validators == 0 {
		return fmt.Sprintf("no validator among %s and %s, something is wrong", e.Hosts[0], e.Hosts[1])
	}
	return fmt.Sprintf("both %s and %s indicate as validator", e.Hosts[0], e.Hosts[1])
}

// ValidationFailure carries every problem found by the pre-swap checks.
type ValidationFailure struct {
	Errors []string
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("pre-swap checks failed (%d):\n%s", len(e.Errors), strings.Join(e.Errors, "\n"))
}

// StepError reports the swap step that failed. Steps before it completed and
// nothing was rolled back; recovery resumes manually from Step.
type StepError struct {
	Step int
	Name string
	Host string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("swap step %d (%s on %s) failed: %v", e.Step, e.Name, e.Host, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
