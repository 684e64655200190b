package entity

import (
	"fmt"
	"strings"

	"github.com/faucetdb/cistern/internal/generic"
)

// Query is an entity clause with its :name references replaced by driver
// placeholders.
type Query struct {
	SQL string
	// Names lists the referenced parameter names, one per placeholder, in
	// order of occurrence.
	Names []string
}

// Compile rewrites the :name references in the entity clause using
// placeholder, which receives the 1-based position of each reference.
// Quoted literals, quoted identifiers, comments and :: casts are left alone.
func (e *Entity) Compile(placeholder func(int) string) (Query, error) {
	return compile(e.Clause(), placeholder)
}

// CompileBound compiles the clause and binds params to its references in
// one go. placeholder receives the 1-based position of each reference and
// the parameter bound there.
func (e *Entity) CompileBound(params []*Parameter, placeholder func(int, *Parameter) string) (Query, []*Parameter, error) {
	return compileBound(e.Clause(), params, placeholder)
}

// CompileCall is CompileBound for procedures given by bare name: call
// renders the invocation from the name and one :name reference per declared
// parameter. Other entities compile their clause unchanged.
func (e *Entity) CompileCall(params []*Parameter, call func(name string, refs []string) string, placeholder func(int, *Parameter) string) (Query, []*Parameter, error) {
	clause := e.Clause()
	if name, ok := e.ProcedureName(); ok {
		clause = call(name, e.parameterRefs())
	}
	return compileBound(clause, params, placeholder)
}

func compileBound(clause string, params []*Parameter, placeholder func(int, *Parameter) string) (Query, []*Parameter, error) {
	names, err := compile(clause, func(int) string { return "?" })
	if err != nil {
		return Query{}, nil, err
	}
	bound := names.Bind(params)
	q, err := compile(clause, func(i int) string { return placeholder(i, bound[i-1]) })
	if err != nil {
		return Query{}, nil, err
	}
	return q, bound, nil
}

func compile(clause string, placeholder func(int) string) (Query, error) {
	var (
		b     strings.Builder
		names []string
	)
	b.Grow(len(clause))

	n := len(clause)
	for i := 0; i < n; {
		c := clause[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			end := closingQuote(clause, i)
			if end < 0 {
				return Query{}, fmt.Errorf("unterminated %c quote at offset %d", c, i)
			}
			b.WriteString(clause[i : end+1])
			i = end + 1

		case c == '-' && i+1 < n && clause[i+1] == '-':
			end := strings.IndexByte(clause[i:], '\n')
			if end < 0 {
				end = n - i
			}
			b.WriteString(clause[i : i+end])
			i += end

		case c == '/' && i+1 < n && clause[i+1] == '*':
			end := strings.Index(clause[i+2:], "*/")
			if end < 0 {
				return Query{}, fmt.Errorf("unterminated comment at offset %d", i)
			}
			b.WriteString(clause[i : i+2+end+2])
			i += 2 + end + 2

		case c == ':' && i+1 < n && clause[i+1] == ':':
			b.WriteString("::")
			i += 2

		case c == ':' && i+1 < n && isIdentStart(clause[i+1]):
			j := i + 2
			for j < n && isIdentPart(clause[j]) {
				j++
			}
			names = append(names, clause[i+1:j])
			b.WriteString(placeholder(len(names)))
			i = j

		default:
			b.WriteByte(c)
			i++
		}
	}
	return Query{SQL: b.String(), Names: names}, nil
}

// closingQuote returns the index of the quote closing the one at start. A
// doubled quote inside the literal is an escaped quote.
func closingQuote(s string, start int) int {
	q := s[start]
	for i := start + 1; i < len(s); i++ {
		if s[i] != q {
			continue
		}
		if i+1 < len(s) && s[i+1] == q {
			i++
			continue
		}
		return i
	}
	return -1
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// Bind resolves q.Names against params, ignoring case. A name with no
// matching parameter binds as a null STRING.
func (q Query) Bind(params []*Parameter) []*Parameter {
	byName := make(map[string]*Parameter, len(params))
	for _, p := range params {
		byName[strings.ToLower(p.Name)] = p
	}
	out := make([]*Parameter, len(q.Names))
	for i, name := range q.Names {
		if p, ok := byName[strings.ToLower(name)]; ok {
			out[i] = p
			continue
		}
		out[i] = &Parameter{Name: name, Mode: ModeIn, Type: generic.String, Value: generic.Null(generic.String)}
	}
	return out
}
