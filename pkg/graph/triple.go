// Package graph implements the in-memory semantic triple store: the triple
// model, subject/predicate/object indices, the pattern query engine, the
// TTL-bounded query cache, and the append-only version ledger.
package graph

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nicholaskb/semant/pkg/errors"
)

// TermKind distinguishes IRIs from literal values in object position.
type TermKind int

const (
	KindIRI TermKind = iota
	KindLiteral
)

// Term is an object-position value: an IRI or a literal.
type Term struct {
	Kind  TermKind
	Value string
}

// IRI creates an IRI term.
func IRI(value string) Term { return Term{Kind: KindIRI, Value: value} }

// Literal creates a literal term.
func Literal(value string) Term { return Term{Kind: KindLiteral, Value: value} }

// Key returns a canonical encoding that keeps IRIs and literals distinct.
func (t Term) Key() string {
	if t.Kind == KindLiteral {
		return fmt.Sprintf("%q", t.Value)
	}
	return "<" + t.Value + ">"
}

func (t Term) String() string {
	if t.Kind == KindLiteral {
		return fmt.Sprintf("%q", t.Value)
	}
	return t.Value
}

// Triple is an immutable (subject, predicate, object) fact. Updating a fact
// means removing the old triple and adding a new one atomically at the
// knowledge store layer.
type Triple struct {
	Subject   string
	Predicate string
	Object    Term
}

// Key returns the canonical identity used for set semantics.
func (t Triple) Key() string {
	return "<" + t.Subject + "> <" + t.Predicate + "> " + t.Object.Key()
}

func (t Triple) String() string {
	return fmt.Sprintf("(%s, %s, %s)", t.Subject, t.Predicate, t.Object)
}

// iriPattern accepts absolute IRIs (scheme:rest) and CURIEs (prefix:name).
// Whitespace and angle brackets are rejected outright.
var iriPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*:[^\s<>]+$`)

// ValidateIRI fails fast with a validation error for malformed identifiers.
func ValidateIRI(position, value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.New(errors.CodeValidation, position+" is empty", nil)
	}
	if !iriPattern.MatchString(value) {
		return errors.New(errors.CodeValidation, position+" is not a URI", nil).
			WithContext(position, value)
	}
	return nil
}

// Validate checks the triple's subject and predicate are IRIs and, when the
// object is an IRI, that it is well-formed too.
func (t Triple) Validate() error {
	if err := ValidateIRI("subject", t.Subject); err != nil {
		return err
	}
	if err := ValidateIRI("predicate", t.Predicate); err != nil {
		return err
	}
	if t.Object.Kind == KindIRI {
		if err := ValidateIRI("object", t.Object.Value); err != nil {
			return err
		}
	}
	return nil
}
