package stub

import "gosupervisor/internal/rpc"

// APISet is the capability set a connection serves to its remote side.
type APISet struct {
	name  string
	verbs map[string]rpc.Handler
}

// NewAPISet exposes verbs under the api name.
func NewAPISet(name string, verbs map[string]rpc.Handler) *APISet {
	cp := make(map[string]rpc.Handler, len(verbs))
	for k, v := range verbs {
		cp[k] = v
	}
	return &APISet{name: name, verbs: cp}
}

// Empty returns a set that exposes nothing.
func Empty(name string) *APISet {
	return NewAPISet(name, nil)
}

// Name returns the api name of the set.
func (s *APISet) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Len returns the number of exposed verbs.
func (s *APISet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.verbs)
}

// lookup resolves api/verb or returns the error name to reply with.
func (s *APISet) lookup(api, verb string) (rpc.Handler, string) {
	if s == nil || len(s.verbs) == 0 || (api != "" && api != s.name) {
		return nil, rpc.ErrUnknownAPI
	}
	h, ok := s.verbs[verb]
	if !ok {
		return nil, rpc.ErrUnknownVerb
	}
	return h, ""
}
