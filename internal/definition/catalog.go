package definition

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hochfrequenz/batch-engine/internal/domain"
	"github.com/hochfrequenz/batch-engine/internal/tasktype"
)

// ErrNotFound is returned by catalog lookups
var ErrNotFound = errors.New("not found")

// Catalog indexes loaded configurations. Batch names are unique across all
// configurations so a batch can be triggered by name alone.
type Catalog struct {
	configs map[string]*domain.Configuration
	batches map[string]*domain.Configuration
}

// NewCatalog indexes cfgs, rejecting duplicate configuration or batch names
func NewCatalog(cfgs ...*domain.Configuration) (*Catalog, error) {
	c := &Catalog{
		configs: make(map[string]*domain.Configuration),
		batches: make(map[string]*domain.Configuration),
	}
	for _, cfg := range cfgs {
		if _, ok := c.configs[cfg.Name]; ok {
			return nil, fmt.Errorf("duplicate configuration %q", cfg.Name)
		}
		c.configs[cfg.Name] = cfg

		for _, b := range cfg.Batches {
			if owner, ok := c.batches[b.Name]; ok {
				return nil, fmt.Errorf("batch %q defined in both %q and %q", b.Name, owner.Name, cfg.Name)
			}
			c.batches[b.Name] = cfg
		}
	}
	return c, nil
}

// Configuration returns the configuration with the given name
func (c *Catalog) Configuration(name string) (*domain.Configuration, error) {
	cfg, ok := c.configs[name]
	if !ok {
		return nil, fmt.Errorf("configuration %q: %w", name, ErrNotFound)
	}
	return cfg, nil
}

// Batch returns the named batch together with its configuration
func (c *Catalog) Batch(name string) (*domain.Configuration, *domain.Batch, error) {
	cfg, ok := c.batches[name]
	if !ok {
		return nil, nil, fmt.Errorf("batch %q: %w", name, ErrNotFound)
	}
	return cfg, cfg.Batch(name), nil
}

// Task returns a task of the named configuration
func (c *Catalog) Task(configuration, name string) (*domain.Configuration, *domain.Task, error) {
	cfg, err := c.Configuration(configuration)
	if err != nil {
		return nil, nil, err
	}
	task := cfg.Task(name)
	if task == nil {
		return nil, nil, fmt.Errorf("task %q in configuration %q: %w", name, configuration, ErrNotFound)
	}
	return cfg, task, nil
}

// Configurations returns all configurations sorted by name
func (c *Catalog) Configurations() []*domain.Configuration {
	out := make([]*domain.Configuration, 0, len(c.configs))
	for _, cfg := range c.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Batches returns all batches sorted by name
func (c *Catalog) Batches() []*domain.Batch {
	out := make([]*domain.Batch, 0, len(c.batches))
	for name, cfg := range c.batches {
		out = append(out, cfg.Batch(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Check verifies every task against the registry: its type must be
// registered and it may only set declared parameters. All problems are
// reported together.
func (c *Catalog) Check(reg *tasktype.Registry) error {
	var errs []error
	for _, cfg := range c.Configurations() {
		for _, task := range cfg.Tasks {
			typ, err := reg.Lookup(task.Type)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s/%s: %w", cfg.Name, task.Name, err))
				continue
			}

			declared := make(map[string]bool)
			for _, def := range typ.Parameters() {
				declared[def.Name] = true
			}

			var unknown []string
			for name := range task.Parameters {
				if !declared[name] {
					unknown = append(unknown, name)
				}
			}
			if len(unknown) > 0 {
				sort.Strings(unknown)
				errs = append(errs, fmt.Errorf("%s/%s: unrecognized parameters %v", cfg.Name, task.Name, unknown))
			}
		}
	}
	return errors.Join(errs...)
}
