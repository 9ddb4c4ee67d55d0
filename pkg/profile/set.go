package profile

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mlsmithjr/transcoder/pkg/models"
)

// ErrUnknownDirective is returned when a name does not resolve
var ErrUnknownDirective = errors.New("unknown directive")

// Set is the registry of every directive loaded from configuration
type Set struct {
	profiles  map[string]*Profile
	templates map[string]*Template
}

// NewSet builds the registry, resolving profile includes. Parents must be
// declared by name in profiles; include cycles are rejected.
func NewSet(profiles map[string]Spec, templates map[string]TemplateSpec) (*Set, error) {
	s := &Set{
		profiles:  make(map[string]*Profile, len(profiles)),
		templates: make(map[string]*Template, len(templates)),
	}
	for name, spec := range profiles {
		s.profiles[name] = &Profile{name: name, spec: spec, set: s}
	}

	resolved := make(map[string]bool)
	var resolve func(name string, stack []string) error
	resolve = func(name string, stack []string) error {
		if resolved[name] {
			return nil
		}
		for _, seen := range stack {
			if seen == name {
				return fmt.Errorf("profile %s: include cycle %v", name, append(stack, name))
			}
		}
		p := s.profiles[name]
		for _, parent := range p.Includes() {
			pp, ok := s.profiles[parent]
			if !ok {
				return fmt.Errorf("profile %s: included %q not defined", name, parent)
			}
			if err := resolve(parent, append(stack, name)); err != nil {
				return err
			}
			p.include(pp)
		}
		resolved[name] = true
		return nil
	}
	for _, name := range s.names() {
		if err := resolve(name, nil); err != nil {
			return nil, err
		}
	}

	for name, spec := range templates {
		if _, dup := s.profiles[name]; dup {
			return nil, fmt.Errorf("template %s: name already used by a profile", name)
		}
		if spec.CLI == nil {
			return nil, fmt.Errorf("template %s: missing \"cli\" section", name)
		}
		s.templates[name] = &Template{name: name, spec: spec}
	}
	return s, nil
}

// Get returns the directive registered under name
func (s *Set) Get(name string) (models.Directive, error) {
	if p, ok := s.profiles[name]; ok {
		return p, nil
	}
	if t, ok := s.templates[name]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownDirective, name)
}

// Has reports whether name is registered
func (s *Set) Has(name string) bool {
	_, err := s.Get(name)
	return err == nil
}

// All returns every directive, sorted by name
func (s *Set) All() []models.Directive {
	out := make([]models.Directive, 0, len(s.profiles)+len(s.templates))
	for _, name := range s.names() {
		out = append(out, s.profiles[name])
	}
	tnames := make([]string, 0, len(s.templates))
	for name := range s.templates {
		tnames = append(tnames, name)
	}
	sort.Strings(tnames)
	for _, name := range tnames {
		out = append(out, s.templates[name])
	}
	return out
}

func (s *Set) names() []string {
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// mixinProfiles resolves mixin names; unknown names are ignored
func (s *Set) mixinProfiles(names []string) []*Profile {
	var out []*Profile
	for _, n := range names {
		if p, ok := s.profiles[n]; ok {
			out = append(out, p)
		}
	}
	return out
}
