package graph

import (
	"fmt"
	"time"

	"github.com/nicholaskb/semant/pkg/errors"
)

// Version is one append-only ledger entry: a monotonically increasing id and
// the delta applied relative to the previous version.
type Version struct {
	ID      uint64
	Added   []Triple
	Removed []Triple
	Note    string
	At      time.Time
}

// Ledger is the append-only history of graph deltas. Rollback is expressed
// as a new forward version carrying the inverse deltas; history is never
// destroyed, only pruned past the retention horizon.
//
// The ledger is not internally synchronized: access is serialized by the
// owning knowledge store's write lock.
type Ledger struct {
	versions []Version
	next     uint64
	limit    int
}

// NewLedger creates a ledger retaining at most limit versions (0 = unbounded).
func NewLedger(limit int) *Ledger {
	return &Ledger{next: 1, limit: limit}
}

// Append records a delta and returns the new version.
func (l *Ledger) Append(added, removed []Triple, note string) Version {
	v := Version{
		ID:      l.next,
		Added:   append([]Triple(nil), added...),
		Removed: append([]Triple(nil), removed...),
		Note:    note,
		At:      time.Now().UTC(),
	}
	l.next++
	l.versions = append(l.versions, v)
	if l.limit > 0 && len(l.versions) > l.limit {
		l.versions = l.versions[len(l.versions)-l.limit:]
	}
	return v
}

// Restore seeds the ledger from persisted versions, preserving ids.
func (l *Ledger) Restore(versions []Version) {
	l.versions = append([]Version(nil), versions...)
	l.next = 1
	if n := len(l.versions); n > 0 {
		l.next = l.versions[n-1].ID + 1
	}
	if l.limit > 0 && len(l.versions) > l.limit {
		l.versions = l.versions[len(l.versions)-l.limit:]
	}
}

// NextID returns the id the next Append will assign.
func (l *Ledger) NextID() uint64 {
	return l.next
}

// Latest returns the most recent version id, or 0 for an empty ledger.
func (l *Ledger) Latest() uint64 {
	if len(l.versions) == 0 {
		return 0
	}
	return l.versions[len(l.versions)-1].ID
}

// Oldest returns the oldest retained version id, or 0 for an empty ledger.
func (l *Ledger) Oldest() uint64 {
	if len(l.versions) == 0 {
		return 0
	}
	return l.versions[0].ID
}

// Get returns the retained version with the given id.
func (l *Ledger) Get(id uint64) (Version, bool) {
	for _, v := range l.versions {
		if v.ID == id {
			return v, true
		}
	}
	return Version{}, false
}

// Versions returns the retained history oldest first.
func (l *Ledger) Versions() []Version {
	return append([]Version(nil), l.versions...)
}

// DeltasAfter returns the versions with id > target, newest first: the
// deltas to invert when rolling back to target. Fails with VersionNotFound
// when the target predates the retained horizon.
func (l *Ledger) DeltasAfter(target uint64) ([]Version, error) {
	if len(l.versions) == 0 {
		if target == 0 {
			return nil, nil
		}
		return nil, errors.New(errors.CodeVersionNotFound, fmt.Sprintf("version %d does not exist", target), nil)
	}
	if target > l.Latest() {
		return nil, errors.New(errors.CodeVersionNotFound, fmt.Sprintf("version %d does not exist", target), nil)
	}
	// Rolling back to target requires every delta after it; the horizon has
	// been crossed once versions up to target are pruned.
	if target+1 < l.Oldest() {
		return nil, errors.New(errors.CodeVersionNotFound, fmt.Sprintf("version %d predates retained history", target), nil)
	}
	var out []Version
	for i := len(l.versions) - 1; i >= 0; i-- {
		if l.versions[i].ID > target {
			out = append(out, l.versions[i])
		}
	}
	return out, nil
}
