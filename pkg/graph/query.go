package graph

import (
	"sort"
	"strings"

	"github.com/nicholaskb/semant/pkg/errors"
)

// Pattern is one triple pattern in a query. A term beginning with '?' is a
// variable; a double-quoted object is a literal; anything else is an IRI.
type Pattern struct {
	Subject   string
	Predicate string
	Object    string
}

// FilterOp enumerates the supported filter comparisons.
type FilterOp string

const (
	OpEq     FilterOp = "="
	OpNeq    FilterOp = "!="
	OpPrefix FilterOp = "prefix"
)

// Filter constrains a bound variable by a simple comparison on its value.
type Filter struct {
	Var   string
	Op    FilterOp
	Value string
}

// Query is a conjunction of triple patterns with optional filters and the
// count/distinct aggregates. This is the pattern-matching subset used by the
// orchestration layer, not full SPARQL.
type Query struct {
	Select   []string // variable names without '?'; empty selects all
	Patterns []Pattern
	Filters  []Filter
	Distinct bool
	Count    bool
}

// Binding maps variable names to the terms they matched.
type Binding map[string]Term

// ResultSet is the outcome of a query execution.
type ResultSet struct {
	Vars  []string
	Rows  []Binding
	Count int
}

// Values collects the string values bound to a variable across all rows.
func (r ResultSet) Values(name string) []string {
	out := make([]string, 0, len(r.Rows))
	for _, row := range r.Rows {
		if term, ok := row[name]; ok {
			out = append(out, term.Value)
		}
	}
	return out
}

// Validate checks the query shape and that constant terms are well-formed.
func (q Query) Validate() error {
	if len(q.Patterns) == 0 {
		return errors.New(errors.CodeValidation, "query has no patterns", nil)
	}
	for _, p := range q.Patterns {
		if !isVar(p.Subject) {
			if err := ValidateIRI("subject", p.Subject); err != nil {
				return err
			}
		}
		if !isVar(p.Predicate) {
			if err := ValidateIRI("predicate", p.Predicate); err != nil {
				return err
			}
		}
		if p.Object == "" {
			return errors.New(errors.CodeValidation, "object term is empty", nil)
		}
		if !isVar(p.Object) && !isQuoted(p.Object) {
			if err := ValidateIRI("object", p.Object); err != nil {
				return err
			}
		}
	}
	return nil
}

// Canonical renders a deterministic string form used as the cache key.
func (q Query) Canonical() string {
	var b strings.Builder
	b.WriteString("SELECT")
	if q.Distinct {
		b.WriteString(" DISTINCT")
	}
	if q.Count {
		b.WriteString(" COUNT")
	}
	sel := append([]string(nil), q.Select...)
	sort.Strings(sel)
	for _, v := range sel {
		b.WriteString(" ?")
		b.WriteString(v)
	}
	b.WriteString(" WHERE {")
	for _, p := range q.Patterns {
		b.WriteString(" ")
		b.WriteString(p.Subject)
		b.WriteString(" ")
		b.WriteString(p.Predicate)
		b.WriteString(" ")
		b.WriteString(p.Object)
		b.WriteString(" .")
	}
	for _, f := range q.Filters {
		b.WriteString(" FILTER(?")
		b.WriteString(f.Var)
		b.WriteString(" ")
		b.WriteString(string(f.Op))
		b.WriteString(" ")
		b.WriteString(f.Value)
		b.WriteString(")")
	}
	b.WriteString(" }")
	return b.String()
}

// FingerprintPair is the (subject, predicate) signature of one pattern.
// An empty field is a wildcard produced by a variable in that position.
type FingerprintPair struct {
	Subject   string
	Predicate string
}

// Matches reports whether a write to (subject, predicate) touches this pair.
func (f FingerprintPair) Matches(subject, predicate string) bool {
	if f.Subject != "" && f.Subject != subject {
		return false
	}
	if f.Predicate != "" && f.Predicate != predicate {
		return false
	}
	return true
}

// Fingerprint returns the dependency signature recorded with cached results.
func (q Query) Fingerprint() []FingerprintPair {
	out := make([]FingerprintPair, 0, len(q.Patterns))
	for _, p := range q.Patterns {
		pair := FingerprintPair{}
		if !isVar(p.Subject) {
			pair.Subject = p.Subject
		}
		if !isVar(p.Predicate) {
			pair.Predicate = p.Predicate
		}
		out = append(out, pair)
	}
	return out
}

// Execute runs the query against the store. The caller holds the governing
// read lock.
func Execute(store *TripleStore, q Query) (ResultSet, error) {
	if err := q.Validate(); err != nil {
		return ResultSet{}, err
	}

	bindings := []Binding{{}}
	for _, p := range q.Patterns {
		var next []Binding
		for _, b := range bindings {
			next = append(next, matchPattern(store, p, b)...)
		}
		if len(next) == 0 {
			bindings = nil
			break
		}
		bindings = next
	}

	rows := make([]Binding, 0, len(bindings))
	for _, b := range bindings {
		if passesFilters(b, q.Filters) {
			rows = append(rows, b)
		}
	}

	vars := q.Select
	if len(vars) == 0 {
		vars = collectVars(q.Patterns)
	}
	rows = projectRows(rows, vars)

	if q.Distinct || q.Count {
		rows = dedupeRows(rows, vars)
	}

	rs := ResultSet{Vars: vars, Rows: rows, Count: len(rows)}
	if q.Count {
		rs.Rows = nil
	}
	return rs, nil
}

func matchPattern(store *TripleStore, p Pattern, bound Binding) []Binding {
	subject, subjectVar := resolveTerm(p.Subject, bound)
	predicate, predicateVar := resolveTerm(p.Predicate, bound)

	var object *Term
	objectVar := ""
	switch {
	case isVar(p.Object):
		name := varName(p.Object)
		if t, ok := bound[name]; ok {
			obj := t
			object = &obj
		} else {
			objectVar = name
		}
	case isQuoted(p.Object):
		obj := Literal(unquote(p.Object))
		object = &obj
	default:
		obj := IRI(p.Object)
		object = &obj
	}

	matches := store.Match(subject, predicate, object)
	out := make([]Binding, 0, len(matches))
	for _, t := range matches {
		b := cloneBinding(bound)
		if subjectVar != "" {
			b[subjectVar] = IRI(t.Subject)
		}
		if predicateVar != "" {
			b[predicateVar] = IRI(t.Predicate)
		}
		if objectVar != "" {
			b[objectVar] = t.Object
		}
		out = append(out, b)
	}
	return out
}

// resolveTerm returns the constant value for a subject/predicate position and
// the variable name to bind when the position is an unbound variable.
func resolveTerm(term string, bound Binding) (string, string) {
	if !isVar(term) {
		return term, ""
	}
	name := varName(term)
	if t, ok := bound[name]; ok {
		return t.Value, ""
	}
	return "", name
}

func passesFilters(b Binding, filters []Filter) bool {
	for _, f := range filters {
		term, ok := b[f.Var]
		if !ok {
			return false
		}
		value := f.Value
		if isQuoted(value) {
			value = unquote(value)
		}
		switch f.Op {
		case OpEq:
			if term.Value != value {
				return false
			}
		case OpNeq:
			if term.Value == value {
				return false
			}
		case OpPrefix:
			if !strings.HasPrefix(term.Value, value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func collectVars(patterns []Pattern) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, p := range patterns {
		for _, term := range []string{p.Subject, p.Predicate, p.Object} {
			if !isVar(term) {
				continue
			}
			name := varName(term)
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

func projectRows(rows []Binding, vars []string) []Binding {
	out := make([]Binding, 0, len(rows))
	for _, row := range rows {
		projected := make(Binding, len(vars))
		for _, v := range vars {
			if t, ok := row[v]; ok {
				projected[v] = t
			}
		}
		out = append(out, projected)
	}
	return out
}

func dedupeRows(rows []Binding, vars []string) []Binding {
	seen := map[string]struct{}{}
	out := make([]Binding, 0, len(rows))
	for _, row := range rows {
		var b strings.Builder
		for _, v := range vars {
			if t, ok := row[v]; ok {
				b.WriteString(t.Key())
			}
			b.WriteString("\x1f")
		}
		key := b.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, row)
	}
	return out
}

func cloneBinding(b Binding) Binding {
	out := make(Binding, len(b)+1)
	for k, v := range b {
		out[k] = v
	}
	return out
}

func isVar(term string) bool { return strings.HasPrefix(term, "?") }

func varName(term string) string { return strings.TrimPrefix(term, "?") }

func isQuoted(term string) bool {
	return len(term) >= 2 && strings.HasPrefix(term, `"`) && strings.HasSuffix(term, `"`)
}

func unquote(term string) string { return term[1 : len(term)-1] }
