// Package memstore provides an in-memory store.Collection. It backs the unit
// tests and the example services; production deployments use pgstore.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/fatmatto/rest-toolkit/core/document"
	"github.com/fatmatto/rest-toolkit/core/store"
)

// Collection is an in-memory document collection. Inserted documents without
// an "_id" get a monotonically increasing one, so the default "newest first"
// ordering of controllers is observable without timestamps.
type Collection struct {
	mu        sync.RWMutex
	name      string
	docs      []document.Document
	seq       uint64
	schema    *gojsonschema.Schema
	validator func(document.Document) store.ValidationResult
}

// Option configures a Collection.
type Option func(*Collection)

// WithSchema adds JSON schema validation. The schema must be valid, otherwise
// New panics; schemas are part of the service configuration and a broken one
// should fail fast.
func WithSchema(schemaJSON string) Option {
	return func(c *Collection) {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
		if err != nil {
			panic(fmt.Sprintf("memstore %s: invalid schema: %v", c.name, err))
		}
		c.schema = schema
	}
}

// WithValidator adds a custom validation function, called after the schema
// validation (if any).
func WithValidator(fn func(document.Document) store.ValidationResult) Option {
	return func(c *Collection) {
		c.validator = fn
	}
}

// New creates an empty collection.
func New(name string, options ...Option) *Collection {
	c := &Collection{name: name}
	for _, option := range options {
		option(c)
	}
	return c
}

// Len returns the number of stored documents.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// Find returns the documents matching the query, sorted, paginated and
// projected. The returned documents are deep copies.
func (c *Collection) Find(ctx context.Context, query store.Query) ([]document.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	matches := []document.Document{}
	for _, doc := range c.docs {
		if store.Matches(doc, query.Filter) {
			matches = append(matches, doc)
		}
	}
	if s := query.Sort; s != nil {
		sort.SliceStable(matches, func(i, j int) bool {
			a, _ := matches[i].Get(s.Field)
			b, _ := matches[j].Get(s.Field)
			if s.Ascending {
				return document.Less(a, b)
			}
			return document.Less(b, a)
		})
	}
	if query.Skip > 0 {
		if query.Skip >= len(matches) {
			matches = nil
		} else {
			matches = matches[query.Skip:]
		}
	}
	if query.Limit > 0 && query.Limit < len(matches) {
		matches = matches[:query.Limit]
	}
	result := make([]document.Document, len(matches))
	for i, doc := range matches {
		result[i] = document.Project(doc, query.Projection)
	}
	return result, nil
}

// FindOne returns the first matching document in insertion order, or
// store.ErrNoDocument.
func (c *Collection) FindOne(ctx context.Context, query store.Query) (document.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, doc := range c.docs {
		if store.Matches(doc, query.Filter) {
			return document.Project(doc, query.Projection), nil
		}
	}
	return nil, store.ErrNoDocument
}

// Insert stores a copy of the document and returns the persisted form. A
// missing "_id" is generated from the collection's sequence.
func (c *Collection) Insert(ctx context.Context, doc document.Document) (document.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := doc.Clone()
	if stored == nil {
		stored = document.Document{}
	}
	if _, ok := stored["_id"]; !ok {
		c.seq++
		stored["_id"] = fmt.Sprintf("%020d", c.seq)
	}
	c.docs = append(c.docs, stored)
	return stored.Clone(), nil
}

// UpdateOne merges the given fields into the first matching document.
func (c *Collection) UpdateOne(ctx context.Context, filter store.Filter, set document.Document) (int, error) {
	return c.update(filter, set, true)
}

// UpdateMany merges the given fields into every matching document.
func (c *Collection) UpdateMany(ctx context.Context, filter store.Filter, set document.Document) (int, error) {
	return c.update(filter, set, false)
}

func (c *Collection) update(filter store.Filter, set document.Document, single bool) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, doc := range c.docs {
		if !store.Matches(doc, filter) {
			continue
		}
		for path, value := range set {
			doc.Set(path, value)
		}
		count++
		if single {
			break
		}
	}
	return count, nil
}

// ReplaceOne swaps the first matching document for the given one.
func (c *Collection) ReplaceOne(ctx context.Context, filter store.Filter, doc document.Document) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, stored := range c.docs {
		if store.Matches(stored, filter) {
			c.docs[i] = doc.Clone()
			return 1, nil
		}
	}
	return 0, nil
}

// DeleteOne removes the first matching document. Zero matches is not an error.
func (c *Collection) DeleteOne(ctx context.Context, filter store.Filter) (int, error) {
	return c.delete(filter, true)
}

// DeleteMany removes every matching document. Zero matches is not an error.
func (c *Collection) DeleteMany(ctx context.Context, filter store.Filter) (int, error) {
	return c.delete(filter, false)
}

func (c *Collection) delete(filter store.Filter, single bool) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.docs[:0]
	count := 0
	for _, doc := range c.docs {
		if (!single || count == 0) && store.Matches(doc, filter) {
			count++
			continue
		}
		kept = append(kept, doc)
	}
	c.docs = kept
	return count, nil
}

// Count returns the number of matching documents.
func (c *Collection) Count(ctx context.Context, filter store.Filter) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	count := 0
	for _, doc := range c.docs {
		if store.Matches(doc, filter) {
			count++
		}
	}
	return count, nil
}

// Validate checks a candidate document against the collection's schema and
// custom validator. Without either, every document is valid.
func (c *Collection) Validate(doc document.Document) store.ValidationResult {
	if c.schema != nil {
		result, err := c.schema.Validate(gojsonschema.NewGoLoader(map[string]interface{}(doc)))
		if err != nil {
			return store.ValidationResult{Message: err.Error()}
		}
		if !result.Valid() {
			messages := make([]string, 0, len(result.Errors()))
			for _, desc := range result.Errors() {
				messages = append(messages, desc.String())
			}
			return store.ValidationResult{Message: strings.Join(messages, "; ")}
		}
	}
	if c.validator != nil {
		return c.validator(doc)
	}
	return store.ValidationResult{OK: true}
}
