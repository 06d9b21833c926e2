package graph

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/nicholaskb/semant/pkg/errors"
)

func TestAddIdempotent(t *testing.T) {
	s := NewTripleStore()
	tr := Triple{Subject: "ex:A", Predicate: "ex:hasStatus", Object: Literal("ok")}

	added, err := s.Add(tr)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !added {
		t.Fatalf("expected first add to change the store")
	}

	added, err = s.Add(tr)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if added {
		t.Fatalf("expected duplicate add to be a no-op")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 triple, got %d", s.Len())
	}
}

func TestRemoveAbsentIsNoOp(t *testing.T) {
	s := NewTripleStore()
	removed, err := s.Remove(Triple{Subject: "ex:A", Predicate: "ex:p", Object: Literal("x")})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed {
		t.Fatalf("expected remove of absent triple to be a no-op")
	}
}

func TestValidationFailsFast(t *testing.T) {
	s := NewTripleStore()
	tests := []Triple{
		{Subject: "not a uri", Predicate: "ex:p", Object: Literal("x")},
		{Subject: "", Predicate: "ex:p", Object: Literal("x")},
		{Subject: "ex:A", Predicate: "plainword", Object: Literal("x")},
		{Subject: "ex:A", Predicate: "ex:p", Object: IRI("has space")},
	}
	for _, tr := range tests {
		if _, err := s.Add(tr); !errors.IsCode(err, errors.CodeValidation) {
			t.Errorf("expected validation error for %v, got %v", tr, err)
		}
	}
	if s.Len() != 0 {
		t.Fatalf("expected no partial mutation, store has %d triples", s.Len())
	}
	if !s.IndexConsistent() {
		t.Fatalf("indices inconsistent after rejected writes")
	}
}

func TestMatchUsesWildcards(t *testing.T) {
	s := NewTripleStore()
	mustAdd(t, s, Triple{Subject: "ex:A", Predicate: "ex:p", Object: Literal("1")})
	mustAdd(t, s, Triple{Subject: "ex:A", Predicate: "ex:q", Object: Literal("2")})
	mustAdd(t, s, Triple{Subject: "ex:B", Predicate: "ex:p", Object: Literal("1")})

	if got := len(s.Match("ex:A", "", nil)); got != 2 {
		t.Errorf("subject match: expected 2, got %d", got)
	}
	if got := len(s.Match("", "ex:p", nil)); got != 2 {
		t.Errorf("predicate match: expected 2, got %d", got)
	}
	obj := Literal("1")
	if got := len(s.Match("", "", &obj)); got != 2 {
		t.Errorf("object match: expected 2, got %d", got)
	}
	if got := len(s.Match("ex:A", "ex:p", &obj)); got != 1 {
		t.Errorf("full match: expected 1, got %d", got)
	}
	if got := len(s.Match("", "", nil)); got != 3 {
		t.Errorf("wildcard match: expected 3, got %d", got)
	}
}

func TestIndexConsistencyRandomized(t *testing.T) {
	s := NewTripleStore()
	rng := rand.New(rand.NewSource(42))

	pool := make([]Triple, 0, 50)
	for i := 0; i < 50; i++ {
		pool = append(pool, Triple{
			Subject:   fmt.Sprintf("ex:s%d", rng.Intn(10)),
			Predicate: fmt.Sprintf("ex:p%d", rng.Intn(5)),
			Object:    Literal(fmt.Sprintf("v%d", rng.Intn(8))),
		})
	}

	live := map[string]Triple{}
	for i := 0; i < 500; i++ {
		tr := pool[rng.Intn(len(pool))]
		if rng.Intn(2) == 0 {
			if _, err := s.Add(tr); err != nil {
				t.Fatalf("add: %v", err)
			}
			live[tr.Key()] = tr
		} else {
			if _, err := s.Remove(tr); err != nil {
				t.Fatalf("remove: %v", err)
			}
			delete(live, tr.Key())
		}
		if !s.IndexConsistent() {
			t.Fatalf("indices inconsistent after %d operations", i+1)
		}
	}

	if s.Len() != len(live) {
		t.Fatalf("store has %d triples, expected %d", s.Len(), len(live))
	}
	for _, tr := range live {
		if !s.Contains(tr) {
			t.Fatalf("missing triple %v", tr)
		}
	}
}

func mustAdd(t *testing.T, s *TripleStore, tr Triple) {
	t.Helper()
	if _, err := s.Add(tr); err != nil {
		t.Fatalf("add %v: %v", tr, err)
	}
}
