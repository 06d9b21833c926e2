// Package capability defines the typed, versioned skills agents advertise.
package capability

import (
	"fmt"
	"strconv"
	"strings"
)

// Type is a closed enumeration of the capabilities known to the system.
// Routing is by exact type match; there is no runtime attribute probing.
type Type string

const (
	CodeReview      Type = "code_review"
	Research        Type = "research"
	ImageGeneration Type = "image_generation"
	Storage         Type = "storage"
	Notification    Type = "notification"
	KnowledgeQuery  Type = "knowledge_query"
	Planning        Type = "planning"
)

// Valid reports whether t is one of the known capability types.
func (t Type) Valid() bool {
	switch t {
	case CodeReview, Research, ImageGeneration, Storage, Notification, KnowledgeQuery, Planning:
		return true
	}
	return false
}

// Capability pairs a capability type with the version an agent implements.
type Capability struct {
	Type    Type
	Version string
}

// New creates a capability, defaulting the version to "1.0".
func New(t Type, version string) Capability {
	if strings.TrimSpace(version) == "" {
		version = "1.0"
	}
	return Capability{Type: t, Version: version}
}

// String renders the capability as type@version.
func (c Capability) String() string {
	return fmt.Sprintf("%s@%s", c.Type, c.Version)
}

// CompareVersions compares two dotted numeric version strings.
// Returns -1, 0, or 1. Non-numeric segments compare lexically.
func CompareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av, bv := "0", "0"
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		ai, aerr := strconv.Atoi(av)
		bi, berr := strconv.Atoi(bv)
		if aerr == nil && berr == nil {
			if ai != bi {
				if ai < bi {
					return -1
				}
				return 1
			}
			continue
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
