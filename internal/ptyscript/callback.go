package ptyscript

import "fmt"

// CallbackFunc runs when a match or fail step fires. It may queue
// further steps via Driver.Enqueue, the Go-native rendering of a script
// callback pushing new MatchActions onto the context stack.
type CallbackFunc func(d *Driver, matched []byte) error

// CallbackRegistry maps callback names declared in script YAML to their
// Go implementations (Design Note 9 option (b): a static registry
// instead of dynamically evaluated script callbacks).
type CallbackRegistry struct {
	callbacks map[string]CallbackFunc
}

// NewCallbackRegistry returns an empty registry; callers register their
// own named callbacks before driving a script.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{callbacks: make(map[string]CallbackFunc)}
}

// Register adds or replaces a named callback.
func (r *CallbackRegistry) Register(name string, fn CallbackFunc) {
	r.callbacks[name] = fn
}

func (r *CallbackRegistry) lookup(name string) (CallbackFunc, error) {
	if name == "" {
		return nil, nil
	}
	fn, ok := r.callbacks[name]
	if !ok {
		return nil, fmt.Errorf("ptyscript: unknown callback %q", name)
	}
	return fn, nil
}
