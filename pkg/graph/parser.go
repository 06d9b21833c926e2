package graph

import (
	"strings"

	"github.com/nicholaskb/semant/pkg/errors"
)

// ParseSelect parses the SELECT subset understood by the store:
//
//	SELECT [DISTINCT] ?a ?b | COUNT(?a) | * WHERE { s p o . s p o . FILTER(?a = "x") }
//
// Terms are variables (?name), quoted literals, or IRIs/CURIEs.
func ParseSelect(input string) (Query, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return Query{}, err
	}
	if len(tokens) == 0 {
		return Query{}, errors.New(errors.CodeValidation, "empty query", nil)
	}

	pos := 0
	if !strings.EqualFold(tokens[pos], "SELECT") {
		return Query{}, errors.New(errors.CodeValidation, "query must start with SELECT", nil)
	}
	pos++

	var q Query
	if pos < len(tokens) && strings.EqualFold(tokens[pos], "DISTINCT") {
		q.Distinct = true
		pos++
	}

	// Projection: *, COUNT(?v), or variable list.
	for pos < len(tokens) && !strings.EqualFold(tokens[pos], "WHERE") {
		tok := tokens[pos]
		switch {
		case tok == "*":
			// select all variables
		case strings.HasPrefix(strings.ToUpper(tok), "COUNT(") && strings.HasSuffix(tok, ")"):
			inner := tok[strings.Index(tok, "(")+1 : len(tok)-1]
			if !isVar(inner) {
				return Query{}, errors.New(errors.CodeValidation, "COUNT requires a variable", nil)
			}
			q.Count = true
			q.Select = append(q.Select, varName(inner))
		case isVar(tok):
			q.Select = append(q.Select, varName(tok))
		default:
			return Query{}, errors.New(errors.CodeValidation, "unexpected projection term", nil).
				WithContext("token", tok)
		}
		pos++
	}

	if pos >= len(tokens) || !strings.EqualFold(tokens[pos], "WHERE") {
		return Query{}, errors.New(errors.CodeValidation, "missing WHERE clause", nil)
	}
	pos++
	if pos >= len(tokens) || tokens[pos] != "{" {
		return Query{}, errors.New(errors.CodeValidation, "missing { after WHERE", nil)
	}
	pos++

	for pos < len(tokens) && tokens[pos] != "}" {
		if tokens[pos] == "." {
			pos++
			continue
		}
		if strings.HasPrefix(strings.ToUpper(tokens[pos]), "FILTER(") && strings.HasSuffix(tokens[pos], ")") {
			filter, err := parseFilter(tokens[pos])
			if err != nil {
				return Query{}, err
			}
			q.Filters = append(q.Filters, filter)
			pos++
			continue
		}
		if pos+2 >= len(tokens) {
			return Query{}, errors.New(errors.CodeValidation, "incomplete triple pattern", nil)
		}
		q.Patterns = append(q.Patterns, Pattern{
			Subject:   tokens[pos],
			Predicate: tokens[pos+1],
			Object:    tokens[pos+2],
		})
		pos += 3
	}

	if pos >= len(tokens) || tokens[pos] != "}" {
		return Query{}, errors.New(errors.CodeValidation, "missing closing }", nil)
	}

	if err := q.Validate(); err != nil {
		return Query{}, err
	}
	return q, nil
}

func parseFilter(tok string) (Filter, error) {
	inner := tok[strings.Index(tok, "(")+1 : len(tok)-1]
	parts := strings.Fields(inner)
	if len(parts) != 3 || !isVar(parts[0]) {
		return Filter{}, errors.New(errors.CodeValidation, "malformed FILTER", nil).
			WithContext("filter", tok)
	}
	op := FilterOp(parts[1])
	switch op {
	case OpEq, OpNeq, OpPrefix:
	default:
		return Filter{}, errors.New(errors.CodeValidation, "unsupported filter operator", nil).
			WithContext("op", parts[1])
	}
	return Filter{Var: varName(parts[0]), Op: op, Value: parts[2]}, nil
}

// tokenize splits on whitespace, keeping quoted literals intact, and treats
// braces and pattern separators as standalone tokens. A separator glued to
// the preceding term (`?o.` or `"ok".`) is split off. Parenthesized groups
// (COUNT, FILTER) are collapsed into single tokens.
func tokenize(input string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inQuote := false
	parenDepth := 0

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := cur.String()
		cur.Reset()
		if tok != "." && strings.HasSuffix(tok, ".") {
			tokens = append(tokens, strings.TrimSuffix(tok, "."), ".")
			return
		}
		tokens = append(tokens, tok)
	}

	for _, r := range input {
		switch {
		case inQuote:
			cur.WriteRune(r)
			if r == '"' {
				inQuote = false
			}
		case r == '"':
			cur.WriteRune(r)
			inQuote = true
		case r == '(':
			parenDepth++
			cur.WriteRune(r)
		case r == ')':
			parenDepth--
			if parenDepth < 0 {
				return nil, errors.New(errors.CodeValidation, "unbalanced parentheses", nil)
			}
			cur.WriteRune(r)
		case parenDepth > 0:
			if r != ' ' && r != '\t' && r != '\n' {
				cur.WriteRune(r)
			} else {
				cur.WriteRune(' ')
			}
		case r == '{' || r == '}':
			flush()
			tokens = append(tokens, string(r))
		case r == '.' && cur.Len() == 0:
			tokens = append(tokens, ".")
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if inQuote {
		return nil, errors.New(errors.CodeValidation, "unterminated string literal", nil)
	}
	if parenDepth != 0 {
		return nil, errors.New(errors.CodeValidation, "unbalanced parentheses", nil)
	}
	flush()
	return tokens, nil
}
