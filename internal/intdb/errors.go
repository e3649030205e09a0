package intdb

import (
	"fmt"

	"github.com/agnivade/levenshtein"
)

// SchemaErrorKind classifies a SchemaError.
type SchemaErrorKind int

const (
	// KindDuplicate is a name registered twice in one namespace.
	KindDuplicate SchemaErrorKind = iota
	// KindUnregistered is a reference to a name or ID that was never issued.
	KindUnregistered
	// KindInvalid is a structurally inconsistent declaration.
	KindInvalid
)

// SchemaError reports a malformed architecture description.
type SchemaError struct {
	Kind      SchemaErrorKind
	Namespace string // "wire slot", "bel pin", ...
	Name      string
	Context   string // enclosing declaration, if any
	Detail    string
	// Suggestion is the closest registered name, for KindUnregistered.
	Suggestion string
}

func (e *SchemaError) Error() string {
	var msg string
	switch e.Kind {
	case KindDuplicate:
		msg = fmt.Sprintf("duplicate %s %q", e.Namespace, e.Name)
	case KindUnregistered:
		msg = fmt.Sprintf("unregistered %s %q", e.Namespace, e.Name)
	default:
		msg = fmt.Sprintf("invalid %s %q", e.Namespace, e.Name)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
	}
	if e.Context != "" {
		msg = e.Context + ": " + msg
	}
	return msg
}

func duplicate(ns, name, ctx string) *SchemaError {
	return &SchemaError{Kind: KindDuplicate, Namespace: ns, Name: name, Context: ctx}
}

func unregistered(ns, name, ctx string, candidates []string) *SchemaError {
	return &SchemaError{
		Kind:       KindUnregistered,
		Namespace:  ns,
		Name:       name,
		Context:    ctx,
		Suggestion: suggest(name, candidates),
	}
}

func invalid(ns, name, detail string) *SchemaError {
	return &SchemaError{Kind: KindInvalid, Namespace: ns, Name: name, Detail: detail}
}

// suggest returns the candidate closest to name when it is close enough to
// plausibly be a typo.
func suggest(name string, candidates []string) string {
	best, bestDist := "", -1
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(name, c)
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	limit := len(name) / 3
	if limit < 2 {
		limit = 2
	}
	if bestDist < 0 || bestDist > limit {
		return ""
	}
	return best
}
