// Package labels manages the set of labels issues can be classified into.
// Labels live in a YAML file of the form:
//
//	labels:
//	  - name: bug
//	    description: A problem or error in the software.
package labels

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	ErrLabelExists   = errors.New("label already exists")
	ErrLabelNotFound = errors.New("label not found")
	ErrLastLabel     = errors.New("cannot delete the last label")
	ErrEmptyName     = errors.New("label name must not be empty")
)

// Label is a classification target.
type Label struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

type file struct {
	Labels []Label `yaml:"labels"`
}

// Defaults are used while no label file exists.
var Defaults = []Label{
	{
		Name:        "bug",
		Description: "The 'bug' label is used to identify an issue report that describes a problem or error within the software or codebase.",
	},
	{
		Name:        "non-bug",
		Description: "The 'non-bug' label is applied to any issue that is not a bug.",
	},
}

// Store reads and writes the label file. All methods are safe for concurrent use.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store backed by the YAML file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// List returns the configured labels.
func (s *Store) List() ([]Label, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Names returns the configured label names in file order.
func (s *Store) Names() ([]string, error) {
	labels, err := s.List()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.Name
	}
	return names, nil
}

// Add appends a new label.
func (s *Store) Add(name, description string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	labels, err := s.read()
	if err != nil {
		return err
	}
	if indexOf(labels, name) >= 0 {
		return fmt.Errorf("%w: %s", ErrLabelExists, name)
	}
	return s.write(append(labels, Label{Name: name, Description: description}))
}

// Update renames and re-describes the label oldName.
func (s *Store) Update(oldName, newName, description string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return ErrEmptyName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	labels, err := s.read()
	if err != nil {
		return err
	}
	i := indexOf(labels, oldName)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrLabelNotFound, oldName)
	}
	if newName != oldName && indexOf(labels, newName) >= 0 {
		return fmt.Errorf("%w: %s", ErrLabelExists, newName)
	}
	labels[i] = Label{Name: newName, Description: description}
	return s.write(labels)
}

// Delete removes a label. At least one label must remain.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	labels, err := s.read()
	if err != nil {
		return err
	}
	if len(labels) <= 1 {
		return ErrLastLabel
	}
	i := indexOf(labels, name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrLabelNotFound, name)
	}
	return s.write(append(labels[:i], labels[i+1:]...))
}

func (s *Store) read() ([]Label, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return append([]Label(nil), Defaults...), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read labels config: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse labels config: %w", err)
	}
	return f.Labels, nil
}

func (s *Store) write(labels []Label) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("write labels config: %w", err)
	}
	raw, err := yaml.Marshal(file{Labels: labels})
	if err != nil {
		return fmt.Errorf("encode labels config: %w", err)
	}

	// Write through a temp file so readers never see a truncated config.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write labels config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("write labels config: %w", err)
	}
	return nil
}

func indexOf(labels []Label, name string) int {
	for i, l := range labels {
		if l.Name == name {
			return i
		}
	}
	return -1
}
