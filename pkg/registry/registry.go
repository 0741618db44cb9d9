package registry

import (
	"fmt"
)

// Registry is an immutable, ordered lookup table of operations.
type Registry struct {
	ops   []Operation
	index map[string]int
}

// New builds a Registry from ops, keeping their order. Names must be unique and
// every operation needs a handler.
func New(ops ...Operation) (*Registry, error) {
	r := &Registry{
		ops:   make([]Operation, 0, len(ops)),
		index: make(map[string]int, len(ops)),
	}
	for _, op := range ops {
		if op.Name == "" {
			return nil, fmt.Errorf("registry - operation with empty name")
		}
		if op.Handler == nil {
			return nil, fmt.Errorf("registry - operation %s has no handler", op.Name)
		}
		if _, dup := r.index[op.Name]; dup {
			return nil, fmt.Errorf("registry - duplicate operation %s", op.Name)
		}
		op = op.clone()
		r.index[op.Name] = len(r.ops)
		r.ops = append(r.ops, op)
	}
	return r, nil
}

// Default returns the registry of PV operations: read-value, write-value, describe.
func Default() *Registry {
	r, err := New(Operations()...)
	if err != nil {
		panic(err)
	}
	return r
}

// DescribeAll returns every operation in registration order.
func (r *Registry) DescribeAll() []Operation {
	out := make([]Operation, len(r.ops))
	for i, op := range r.ops {
		out[i] = op.clone()
	}
	return out
}

// Lookup returns the operation registered under name.
func (r *Registry) Lookup(name string) (Operation, bool) {
	i, ok := r.index[name]
	if !ok {
		return Operation{}, false
	}
	return r.ops[i].clone(), true
}

// Names returns the operation names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.ops))
	for i, op := range r.ops {
		out[i] = op.Name
	}
	return out
}

// Len returns the number of operations.
func (r *Registry) Len() int {
	return len(r.ops)
}

func (o Operation) clone() Operation {
	o.Params = append([]Param(nil), o.Params...)
	return o
}
