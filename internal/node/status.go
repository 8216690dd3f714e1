package node

import (
	"encoding/json"
	"maps"
)

const (
	FieldChainspecName = "chainspec_name"
	FieldReactorState  = "reactor_state"
)

// Status is a snapshot of the node's REST status document. Refreshing a node
// replaces its Status; a snapshot is never edited in place.
type Status map[string]any

func ParseStatus(raw []byte) (Status, error) {
	var s Status
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if s == nil {
		s = Status{}
	}
	return s, nil
}

func (s Status) str(key string) (string, bool) {
	v, ok := s[key].(string)
	return v, ok
}

// ChainspecName is the network the node is running on.
func (s Status) ChainspecName() (string, bool) { return s.str(FieldChainspecName) }

// ReactorState is the node's consensus state label, e.g. Validate or KeepUp.
func (s Status) ReactorState() (string, bool) { return s.str(FieldReactorState) }

func (s Status) clone() Status { return maps.Clone(s) }
