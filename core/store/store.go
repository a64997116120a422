// Package store declares the document-collection contract consumed by
// controllers. Implementations live in the subpackages; controllers never
// depend on a concrete store.
package store

import (
	"context"
	"errors"

	"github.com/fatmatto/rest-toolkit/core/document"
)

// ErrNoDocument is returned by FindOne when no document matches the query.
var ErrNoDocument = errors.New("store: no matching document")

// Filter selects documents by field equality. A value of type AnyOf matches
// when the field equals any of its elements.
type Filter map[string]interface{}

// AnyOf is a filter value matching any of the listed values. It is what the
// relationship resolver uses to batch-fetch related documents.
type AnyOf []interface{}

// Sort is a single-field sort specification.
type Sort struct {
	Field     string
	Ascending bool
}

// Query bundles a filter with the read modifiers of a find call.
// A Limit of zero means no limit.
type Query struct {
	Filter     Filter
	Projection map[string]int
	Sort       *Sort
	Skip       int
	Limit      int
}

// ValidationResult is the outcome of validating a candidate document.
// Message carries the storage-level validation error verbatim.
type ValidationResult struct {
	OK      bool
	Message string
}

// Collection is the storage collaborator of a controller: a named set of
// documents with schema validation and CRUD primitives.
//
// UpdateOne and UpdateMany merge the given fields into matching documents;
// keys may be dotted paths. ReplaceOne swaps the full document. The update
// and delete calls report how many documents they touched and never fail on
// zero matches.
type Collection interface {
	Find(ctx context.Context, query Query) ([]document.Document, error)
	FindOne(ctx context.Context, query Query) (document.Document, error)
	Insert(ctx context.Context, doc document.Document) (document.Document, error)
	UpdateOne(ctx context.Context, filter Filter, set document.Document) (int, error)
	UpdateMany(ctx context.Context, filter Filter, set document.Document) (int, error)
	ReplaceOne(ctx context.Context, filter Filter, doc document.Document) (int, error)
	DeleteOne(ctx context.Context, filter Filter) (int, error)
	DeleteMany(ctx context.Context, filter Filter) (int, error)
	Count(ctx context.Context, filter Filter) (int, error)
	Validate(doc document.Document) ValidationResult
}

// Matches reports whether a document satisfies a filter. It is exported so
// that collection implementations share one equality semantics.
func Matches(doc document.Document, filter Filter) bool {
	for field, want := range filter {
		got, ok := doc.Get(field)
		if !ok {
			return false
		}
		if anyOf, ok := want.(AnyOf); ok {
			matched := false
			for _, w := range anyOf {
				if document.Equal(got, w) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
			continue
		}
		if !document.Equal(got, want) {
			return false
		}
	}
	return true
}
