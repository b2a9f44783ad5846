// Package resolve maps the free-text names users type onto exactly one panel
// entity. A reference that matches nothing or more than one entity is
// reported, never guessed.
package resolve

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opentalon/panelpilot/internal/panel"
)

type Status int

const (
	Resolved Status = iota
	NotFound
	Ambiguous
)

func (s Status) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case NotFound:
		return "not_found"
	case Ambiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// Error is the outcome of a failed resolution. Candidates holds the display
// names the user can pick from when Status is Ambiguous.
type Error struct {
	Status     Status
	Kind       string
	Query      string
	Candidates []string
}

func (e *Error) Error() string {
	switch e.Status {
	case Ambiguous:
		return fmt.Sprintf("%s %q is ambiguous, it matches: %s", e.Kind, e.Query, strings.Join(e.Candidates, ", "))
	default:
		return fmt.Sprintf("no %s matches %q", e.Kind, e.Query)
	}
}

// ServerOutcome is the result of ResolveServer.
type ServerOutcome struct {
	Status  Status
	Server  panel.Server
	Matches []panel.Server
}

// Err converts a non-resolved outcome into an *Error, or returns nil.
func (o ServerOutcome) Err(query string) error {
	if o.Status == Resolved {
		return nil
	}
	e := &Error{Status: o.Status, Kind: "server", Query: query}
	for _, s := range o.Matches {
		e.Candidates = append(e.Candidates, s.Name)
	}
	return e
}

// ResolveServer finds the server a query refers to. An exact identifier
// (short id, uuid or internal id) always wins; otherwise the query must be a
// case-insensitive substring of exactly one server name.
func ResolveServer(query string, servers []panel.Server) ServerOutcome {
	q := strings.TrimSpace(query)
	if q == "" {
		return ServerOutcome{Status: NotFound}
	}
	for _, exact := range []func(panel.Server) bool{
		func(s panel.Server) bool { return s.Identifier == q },
		func(s panel.Server) bool { return s.UUID != "" && s.UUID == q },
		func(s panel.Server) bool { return s.ID != 0 && strconv.Itoa(s.ID) == q },
	} {
		for _, s := range servers {
			if exact(s) {
				return ServerOutcome{Status: Resolved, Server: s}
			}
		}
	}

	matches := matchByName(servers, q, func(s panel.Server) string { return s.Name })
	switch len(matches) {
	case 0:
		return ServerOutcome{Status: NotFound}
	case 1:
		return ServerOutcome{Status: Resolved, Server: matches[0]}
	default:
		return ServerOutcome{Status: Ambiguous, Matches: matches}
	}
}

// TypeOutcome is the result of ResolveType.
type TypeOutcome struct {
	Status   Status
	Category panel.Category
	Type     panel.ServerType
	Matches  []panel.ServerType
	// CategoryMiss is set when the category filter itself did not resolve.
	CategoryMiss *Error
}

func (o TypeOutcome) Err(query string) error {
	if o.CategoryMiss != nil {
		return o.CategoryMiss
	}
	if o.Status == Resolved {
		return nil
	}
	e := &Error{Status: o.Status, Kind: "server type", Query: query}
	for _, t := range o.Matches {
		e.Candidates = append(e.Candidates, t.Name)
	}
	return e
}

// ResolveType finds a server type by numeric id or name, optionally scoped
// to a category. The category filter resolves with the same rules; an empty
// filter searches every category.
func ResolveType(query, category string, categories []panel.Category) TypeOutcome {
	q := strings.TrimSpace(query)
	if q == "" {
		return TypeOutcome{Status: NotFound}
	}

	scope := categories
	if c := strings.TrimSpace(category); c != "" {
		cat, err := resolveCategory(c, categories)
		if err != nil {
			return TypeOutcome{Status: err.Status, CategoryMiss: err}
		}
		scope = []panel.Category{cat}
	}

	owner := make(map[int]panel.Category)
	var all []panel.ServerType
	for _, c := range scope {
		owner[c.ID] = c
		for _, t := range c.Types {
			if t.CategoryID == 0 {
				t.CategoryID = c.ID
			}
			all = append(all, t)
		}
	}

	resolved := func(t panel.ServerType) TypeOutcome {
		return TypeOutcome{Status: Resolved, Type: t, Category: owner[t.CategoryID]}
	}

	if id, err := strconv.Atoi(q); err == nil {
		for _, t := range all {
			if t.ID == id {
				return resolved(t)
			}
		}
	}
	var exact []panel.ServerType
	for _, t := range all {
		if strings.EqualFold(t.Name, q) {
			exact = append(exact, t)
		}
	}
	if len(exact) == 1 {
		return resolved(exact[0])
	}
	if len(exact) > 1 {
		return TypeOutcome{Status: Ambiguous, Matches: exact}
	}

	matches := matchByName(all, q, func(t panel.ServerType) string { return t.Name })
	switch len(matches) {
	case 0:
		return TypeOutcome{Status: NotFound}
	case 1:
		return resolved(matches[0])
	default:
		return TypeOutcome{Status: Ambiguous, Matches: matches}
	}
}

func resolveCategory(query string, categories []panel.Category) (panel.Category, *Error) {
	if id, err := strconv.Atoi(query); err == nil {
		for _, c := range categories {
			if c.ID == id {
				return c, nil
			}
		}
	}
	for _, c := range categories {
		if strings.EqualFold(c.Name, query) {
			return c, nil
		}
	}
	matches := matchByName(categories, query, func(c panel.Category) string { return c.Name })
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return panel.Category{}, &Error{Status: NotFound, Kind: "category", Query: query}
	default:
		e := &Error{Status: Ambiguous, Kind: "category", Query: query}
		for _, c := range matches {
			e.Candidates = append(e.Candidates, c.Name)
		}
		return panel.Category{}, e
	}
}

func matchByName[T any](items []T, query string, name func(T) string) []T {
	q := strings.ToLower(query)
	var out []T
	for _, it := range items {
		if strings.Contains(strings.ToLower(name(it)), q) {
			out = append(out, it)
		}
	}
	return out
}

// ResolveCategory finds a category by numeric id, exact name, or unique
// name substring.
func ResolveCategory(query string, categories []panel.Category) (panel.Category, error) {
	c, err := resolveCategory(strings.TrimSpace(query), categories)
	if err != nil {
		return panel.Category{}, err
	}
	return c, nil
}
