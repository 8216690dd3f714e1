package swap

import (
	"context"
	"fmt"

	"github.com/andrej220/swapctl/internal/node"
)

// NodeSet is the pair of nodes taking part in one swap. The resolved
// validator is cached until Invalidate.
type NodeSet struct {
	A, B *node.Node

	validator *node.Node
}

func NewNodeSet(a, b *node.Node) *NodeSet {
	return &NodeSet{A: a, B: b}
}

// FromHosts builds a NodeSet from exactly two host names.
func FromHosts(hosts []string, build func(host string) *node.Node) (*NodeSet, error) {
	if len(hosts) != 2 {
		return nil, fmt.Errorf("expected 2 servers for node swap, got %d", len(hosts))
	}
	if hosts[0] == hosts[1] {
		return nil, fmt.Errorf("swap needs two distinct servers, got %s twice", hosts[0])
	}
	return NewNodeSet(build(hosts[0]), build(hosts[1])), nil
}

// Validator returns the node whose active keys are the validator keys.
func (s *NodeSet) Validator(ctx context.Context) (*node.Node, error) {
	if s.validator != nil {
		return s.validator, nil
	}
	aVal, err := s.A.IsValidator(ctx)
	if err != nil {
		return nil, err
	}
	bVal, err := s.B.IsValidator(ctx)
	if err != nil {
		return nil, err
	}
	hosts := [2]string{s.A.Host, s.B.Host}
	switch {
	case aVal && bVal:
		return nil, &InconsistentRoleError{Hosts: hosts, Validators: 2}
	case aVal:
		s.validator = s.A
	case bVal:
		s.validator = s.B
	default:
		return nil, &InconsistentRoleError{Hosts: hosts, Validators: 0}
	}
	return s.validator, nil
}

// Standby returns the node that is not the validator.
func (s *NodeSet) Standby(ctx context.Context) (*node.Node, error) {
	v, err := s.Validator(ctx)
	if err != nil {
		return nil, err
	}
	if v == s.A {
		return s.B, nil
	}
	return s.A, nil
}

// Roles resolves both roles at once.
func (s *NodeSet) Roles(ctx context.Context) (validator, standby *node.Node, err error) {
	if validator, err = s.Validator(ctx); err != nil {
		return nil, nil, err
	}
	standby, err = s.Standby(ctx)
	return validator, standby, err
}

// Invalidate forgets the resolved validator.
func (s *NodeSet) Invalidate() { s.validator = nil }

// Resolved reports whether a validator is cached.
func (s *NodeSet) Resolved() bool { return s.validator != nil }
