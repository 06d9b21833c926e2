package graph

// TripleStore is the in-memory graph with subject, predicate, and object
// indices kept in lockstep with the triple set.
//
// The store is not internally synchronized: all access is serialized by the
// owning knowledge store's lock (writes exclusive, reads shared).
type TripleStore struct {
	triples     map[string]Triple
	bySubject   map[string]map[string]Triple
	byPredicate map[string]map[string]Triple
	byObject    map[string]map[string]Triple
}

// NewTripleStore creates an empty store.
func NewTripleStore() *TripleStore {
	return &TripleStore{
		triples:     make(map[string]Triple),
		bySubject:   make(map[string]map[string]Triple),
		byPredicate: make(map[string]map[string]Triple),
		byObject:    make(map[string]map[string]Triple),
	}
}

// Add inserts the triple if absent. Returns true when the store changed.
// Adding an existing triple is a successful no-op (set semantics).
func (s *TripleStore) Add(t Triple) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, err
	}
	key := t.Key()
	if _, ok := s.triples[key]; ok {
		return false, nil
	}
	s.triples[key] = t
	indexInsert(s.bySubject, t.Subject, key, t)
	indexInsert(s.byPredicate, t.Predicate, key, t)
	indexInsert(s.byObject, t.Object.Key(), key, t)
	return true, nil
}

// Remove deletes the triple if present. Returns true when the store changed.
// Removing an absent triple is a successful no-op.
func (s *TripleStore) Remove(t Triple) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, err
	}
	key := t.Key()
	if _, ok := s.triples[key]; !ok {
		return false, nil
	}
	delete(s.triples, key)
	indexDelete(s.bySubject, t.Subject, key)
	indexDelete(s.byPredicate, t.Predicate, key)
	indexDelete(s.byObject, t.Object.Key(), key)
	return true, nil
}

// Contains reports membership.
func (s *TripleStore) Contains(t Triple) bool {
	_, ok := s.triples[t.Key()]
	return ok
}

// Len returns the number of stored triples.
func (s *TripleStore) Len() int {
	return len(s.triples)
}

// All returns every stored triple in unspecified order.
func (s *TripleStore) All() []Triple {
	out := make([]Triple, 0, len(s.triples))
	for _, t := range s.triples {
		out = append(out, t)
	}
	return out
}

// Match returns triples matching the given positions. Empty subject or
// predicate and a nil object act as wildcards. The smallest applicable index
// drives the scan.
func (s *TripleStore) Match(subject, predicate string, object *Term) []Triple {
	var candidates map[string]Triple
	switch {
	case subject != "":
		candidates = s.bySubject[subject]
	case predicate != "":
		candidates = s.byPredicate[predicate]
	case object != nil:
		candidates = s.byObject[object.Key()]
	default:
		candidates = s.triples
	}

	out := make([]Triple, 0, len(candidates))
	for _, t := range candidates {
		if subject != "" && t.Subject != subject {
			continue
		}
		if predicate != "" && t.Predicate != predicate {
			continue
		}
		if object != nil && t.Object != *object {
			continue
		}
		out = append(out, t)
	}
	return out
}

// subjects, predicates, and objects expose index keys for consistency checks.

// Subjects returns the distinct subjects currently indexed.
func (s *TripleStore) Subjects() []string {
	out := make([]string, 0, len(s.bySubject))
	for k := range s.bySubject {
		out = append(out, k)
	}
	return out
}

// IndexConsistent cross-checks every triple against all three indices and
// every index entry against the triple set.
func (s *TripleStore) IndexConsistent() bool {
	for key, t := range s.triples {
		if _, ok := s.bySubject[t.Subject][key]; !ok {
			return false
		}
		if _, ok := s.byPredicate[t.Predicate][key]; !ok {
			return false
		}
		if _, ok := s.byObject[t.Object.Key()][key]; !ok {
			return false
		}
	}
	total := 0
	for _, m := range s.bySubject {
		total += len(m)
		for key := range m {
			if _, ok := s.triples[key]; !ok {
				return false
			}
		}
	}
	if total != len(s.triples) {
		return false
	}
	for _, m := range s.byPredicate {
		for key := range m {
			if _, ok := s.triples[key]; !ok {
				return false
			}
		}
	}
	for _, m := range s.byObject {
		for key := range m {
			if _, ok := s.triples[key]; !ok {
				return false
			}
		}
	}
	return true
}

func indexInsert(index map[string]map[string]Triple, idxKey, tripleKey string, t Triple) {
	bucket, ok := index[idxKey]
	if !ok {
		bucket = make(map[string]Triple)
		index[idxKey] = bucket
	}
	bucket[tripleKey] = t
}

func indexDelete(index map[string]map[string]Triple, idxKey, tripleKey string) {
	bucket, ok := index[idxKey]
	if !ok {
		return
	}
	delete(bucket, tripleKey)
	if len(bucket) == 0 {
		delete(index, idxKey)
	}
}
