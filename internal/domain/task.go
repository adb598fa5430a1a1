package domain

import "fmt"

// ParamValue is a configured parameter: either a literal value or a reference
// to a parameter binding of the owning configuration.
type ParamValue struct {
	Value string
	Ref   string
}

// Literal returns a ParamValue holding v
func Literal(v string) ParamValue {
	return ParamValue{Value: v}
}

// Reference returns a ParamValue pointing at the configuration binding name
func Reference(name string) ParamValue {
	return ParamValue{Ref: name}
}

// IsRef returns true if the value is resolved from a configuration binding
func (p ParamValue) IsRef() bool {
	return p.Ref != ""
}

// Task is a named unit of work bound to a task type
type Task struct {
	Name       string
	Type       string
	Parameters map[string]ParamValue
}

// Configuration is a workflow definition: parameter bindings, tasks and the
// batches that order them.
type Configuration struct {
	Name       string
	Parameters map[string]string
	Tasks      []*Task
	Batches    []*Batch
}

// Task returns the task with the given name, or nil
func (c *Configuration) Task(name string) *Task {
	for _, t := range c.Tasks {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Batch returns the batch with the given name, or nil
func (c *Configuration) Batch(name string) *Batch {
	for _, b := range c.Batches {
		if b.Name == name {
			return b
		}
	}
	return nil
}

// Binding resolves a configuration parameter binding
func (c *Configuration) Binding(name string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("parameter binding %q: no configuration", name)
	}
	v, ok := c.Parameters[name]
	if !ok {
		return "", fmt.Errorf("parameter binding %q not defined in configuration %q", name, c.Name)
	}
	return v, nil
}
