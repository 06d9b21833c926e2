package capability

import "sort"

// Set holds an agent's capabilities keyed by type. A type appears at most
// once; adding an existing type replaces its version.
//
// Set is not internally synchronized: it is owned exclusively by one agent
// and mutated only while holding that agent's lock.
type Set struct {
	caps map[Type]string
}

// NewSet creates a set seeded with the given capabilities.
func NewSet(caps ...Capability) *Set {
	s := &Set{caps: make(map[Type]string, len(caps))}
	for _, c := range caps {
		s.Add(c)
	}
	return s
}

// Add inserts or replaces the capability for its type.
func (s *Set) Add(c Capability) {
	if c.Version == "" {
		c.Version = "1.0"
	}
	s.caps[c.Type] = c.Version
}

// Remove deletes the capability of the given type. Removing an absent type
// is a no-op.
func (s *Set) Remove(t Type) {
	delete(s.caps, t)
}

// Has reports whether the set holds a capability of the given type.
func (s *Set) Has(t Type) bool {
	_, ok := s.caps[t]
	return ok
}

// HasAtLeast reports whether the set holds the type at version >= minVersion.
// An empty minVersion matches any version.
func (s *Set) HasAtLeast(t Type, minVersion string) bool {
	v, ok := s.caps[t]
	if !ok {
		return false
	}
	if minVersion == "" {
		return true
	}
	return CompareVersions(v, minVersion) >= 0
}

// Version returns the held version for the type, if any.
func (s *Set) Version(t Type) (string, bool) {
	v, ok := s.caps[t]
	return v, ok
}

// Len returns the number of capabilities held.
func (s *Set) Len() int {
	return len(s.caps)
}

// List returns the capabilities sorted by type for deterministic iteration.
func (s *Set) List() []Capability {
	out := make([]Capability, 0, len(s.caps))
	for t, v := range s.caps {
		out = append(out, Capability{Type: t, Version: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Clone returns an independent copy of the set.
func (s *Set) Clone() *Set {
	out := &Set{caps: make(map[Type]string, len(s.caps))}
	for t, v := range s.caps {
		out.caps[t] = v
	}
	return out
}
