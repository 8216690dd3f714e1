package node

import "fmt"

// TransportError reports a remote command that could not be run or that
// wrote to stderr. Stderr output counts as failure whatever the exit status.
type TransportError struct {
	Host    string
	Command string
	Stderr  string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %q: %v", e.Host, e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %q: error output: %s", e.Host, e.Command, e.Stderr)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConfigError reports a status snapshot lacking a field the swap depends on.
type ConfigError struct {
	Host  string
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: cannot retrieve %s from status: %v", e.Host, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: cannot retrieve %s from status", e.Host, e.Field)
}

func (e *ConfigError) Unwrap() error { return e.Err }
