// Package definition loads workflow definitions from YAML files. A file
// describes one configuration: its parameter bindings, its tasks and the
// batches that order them.
package definition

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hochfrequenz/batch-engine/internal/domain"
	"gopkg.in/yaml.v3"
)

// document is the on-disk form of a configuration
type document struct {
	Name       string            `yaml:"name"`
	Parameters map[string]string `yaml:"parameters"`
	Tasks      []taskDoc         `yaml:"tasks"`
	Batches    []batchDoc        `yaml:"batches"`
}

type taskDoc struct {
	Name       string              `yaml:"name"`
	Type       string              `yaml:"type"`
	Parameters map[string]paramDoc `yaml:"parameters"`
}

type batchDoc struct {
	Name      string       `yaml:"name"`
	Workspace string       `yaml:"workspace"`
	Elements  []elementDoc `yaml:"elements"`
}

type elementDoc struct {
	Task      string `yaml:"task"`
	Position  *int   `yaml:"position"`
	Condition string `yaml:"condition"`
}

// paramDoc accepts either a scalar or a {ref: binding} mapping
type paramDoc struct {
	value domain.ParamValue
}

func (p *paramDoc) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		p.value = domain.Literal(node.Value)
		return nil
	case yaml.MappingNode:
		var ref struct {
			Ref string `yaml:"ref"`
		}
		if err := node.Decode(&ref); err != nil {
			return err
		}
		if ref.Ref == "" {
			return fmt.Errorf("line %d: parameter mapping needs a non-empty ref", node.Line)
		}
		p.value = domain.Reference(ref.Ref)
		return nil
	default:
		return fmt.Errorf("line %d: parameter must be a scalar or {ref: name}", node.Line)
	}
}

// Parse decodes one configuration document. Unknown fields are rejected.
func Parse(data []byte) (*domain.Configuration, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty definition")
		}
		return nil, err
	}
	return build(&doc)
}

// Load reads a single definition file into a catalog
func Load(path string) (*Catalog, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	return NewCatalog(cfg)
}

// LoadDir reads every *.yaml and *.yml file in dir, in name order
func LoadDir(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading definitions: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	var cfgs []*domain.Configuration
	for _, path := range paths {
		cfg, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		cfgs = append(cfgs, cfg)
	}
	return NewCatalog(cfgs...)
}

func loadFile(path string) (*domain.Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func build(doc *document) (*domain.Configuration, error) {
	if doc.Name == "" {
		return nil, fmt.Errorf("configuration name is required")
	}

	cfg := &domain.Configuration{
		Name:       doc.Name,
		Parameters: doc.Parameters,
	}
	if cfg.Parameters == nil {
		cfg.Parameters = map[string]string{}
	}

	for _, td := range doc.Tasks {
		if td.Name == "" {
			return nil, fmt.Errorf("configuration %q: task name is required", doc.Name)
		}
		if td.Type == "" {
			return nil, fmt.Errorf("configuration %q: task %q has no type", doc.Name, td.Name)
		}
		if cfg.Task(td.Name) != nil {
			return nil, fmt.Errorf("configuration %q: duplicate task %q", doc.Name, td.Name)
		}

		task := &domain.Task{Name: td.Name, Type: td.Type, Parameters: map[string]domain.ParamValue{}}
		for name, p := range td.Parameters {
			if p.value.IsRef() {
				if _, ok := cfg.Parameters[p.value.Ref]; !ok {
					return nil, fmt.Errorf("configuration %q: task %q: parameter %q refers to unknown binding %q",
						doc.Name, td.Name, name, p.value.Ref)
				}
			}
			task.Parameters[name] = p.value
		}
		cfg.Tasks = append(cfg.Tasks, task)
	}

	for _, bd := range doc.Batches {
		if cfg.Batch(bd.Name) != nil {
			return nil, fmt.Errorf("configuration %q: duplicate batch %q", doc.Name, bd.Name)
		}

		b := &domain.Batch{Name: bd.Name, Configuration: doc.Name, Workspace: bd.Workspace}
		next := 1
		for _, ed := range bd.Elements {
			task := cfg.Task(ed.Task)
			if task == nil {
				return nil, fmt.Errorf("configuration %q: batch %q references unknown task %q", doc.Name, bd.Name, ed.Task)
			}
			pos := next
			if ed.Position != nil {
				pos = *ed.Position
			}
			next = pos + 1

			b.Elements = append(b.Elements, domain.BatchElement{
				Task:      task,
				Position:  pos,
				Condition: domain.RunCondition(ed.Condition),
			})
		}
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("configuration %q: %w", doc.Name, err)
		}
		cfg.Batches = append(cfg.Batches, b)
	}

	return cfg, nil
}
