// Package controller implements the resource-operation engine of the
// toolkit: query-option parsing, relationship resolution, the CRUD and patch
// operations, and the lifecycle-hook pipeline wrapped around them.
//
// A Controller holds no per-request state; every operation is independent
// and safe to run concurrently once configuration is done.
package controller

import (
	"context"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/fatmatto/rest-toolkit/core/document"
	"github.com/fatmatto/rest-toolkit/core/errs"
	"github.com/fatmatto/rest-toolkit/core/logger"
	"github.com/fatmatto/rest-toolkit/core/store"
)

// default values for the find() pagination
const (
	DefaultSkipValue  = 0
	DefaultLimitValue = 100
)

// Relationship declares a join from the host resource to a target
// collection. The target handle is resolved once, at configuration time;
// nothing is looked up by name while serving.
type Relationship struct {
	// Name is the alias used in includes, fields, sort, skip and limit
	// query modifiers. Must be unique within a controller.
	Name string
	// Target is the collection holding the related documents.
	Target store.Collection
	// LocalField is the join key on the host document.
	LocalField string
	// ForeignField is the field matched against LocalField on the target.
	ForeignField string
	// AlwaysInclude fetches the relationship on every read, whether or not
	// the client asked for it.
	AlwaysInclude bool
}

// Config is the controller configuration.
type Config struct {
	// Name is the resource name. Mandatory.
	Name string
	// Collection is the document collection backing the resource. Mandatory.
	Collection store.Collection
	// IDField is the attribute used as primary key for the by-id operations.
	// Defaults to "_id".
	IDField string
	// DefaultSkipValue is the skip used by find() when the query has none.
	DefaultSkipValue int
	// DefaultLimitValue is the limit used by find() when the query has none.
	// Defaults to 100.
	DefaultLimitValue int
	// UseUpdateOne makes UpdateByID persist only the changed fields instead
	// of saving the full document.
	UseUpdateOne bool
	// PartialUpdates flattens nested update objects to dotted-path
	// assignments, so {"a":{"b":1}} updates a.b instead of replacing a.
	PartialUpdates bool
	// Relationships declares the relationships available for inclusion.
	Relationships []Relationship
}

// Controller exposes the resource-operation contract for one resource.
type Controller struct {
	name              string
	col               store.Collection
	idField           string
	defaultSkipValue  int
	defaultLimitValue int
	useUpdateOne      bool
	partialUpdates    bool
	relationships     []Relationship
	hooks             map[string][]Hook
}

// New creates a controller. Malformed configuration fails here, never at
// request time.
func New(config Config) (*Controller, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("controller: Name is missing")
	}
	if config.Collection == nil {
		return nil, fmt.Errorf("controller %s: Collection is missing", config.Name)
	}
	c := &Controller{
		name:              config.Name,
		col:               config.Collection,
		idField:           config.IDField,
		defaultSkipValue:  config.DefaultSkipValue,
		defaultLimitValue: config.DefaultLimitValue,
		useUpdateOne:      config.UseUpdateOne,
		partialUpdates:    config.PartialUpdates,
		relationships:     config.Relationships,
		hooks:             map[string][]Hook{},
	}
	if c.idField == "" {
		c.idField = "_id"
	}
	if c.defaultLimitValue == 0 {
		c.defaultLimitValue = DefaultLimitValue
	}
	seen := map[string]bool{}
	for _, r := range c.relationships {
		if r.Name == "" || r.LocalField == "" || r.ForeignField == "" {
			return nil, fmt.Errorf("controller %s: relationship needs Name, LocalField and ForeignField", c.name)
		}
		if r.Target == nil {
			return nil, fmt.Errorf("controller %s: relationship %s has no target collection", c.name, r.Name)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("controller %s: duplicate relationship %s", c.name, r.Name)
		}
		seen[r.Name] = true
	}
	return c, nil
}

// MustNew is like New but panics on configuration errors.
func MustNew(config Config) *Controller {
	c, err := New(config)
	if err != nil {
		panic(err)
	}
	return c
}

// Name returns the resource name.
func (c *Controller) Name() string {
	return c.name
}

// IDField returns the attribute used as primary key.
func (c *Controller) IDField() string {
	return c.idField
}

func (c *Controller) relationship(name string) *Relationship {
	for i := range c.relationships {
		if c.relationships[i].Name == name {
			return &c.relationships[i]
		}
	}
	return nil
}

// Find looks for documents matching the query, honoring the skip, limit,
// sortby, sortorder, fields and includes modifiers. An empty result is an
// empty list, never an error.
func (c *Controller) Find(ctx context.Context, query RawQuery) ([]document.Document, error) {
	filter, options, err := c.ParseOptions(query)
	if err != nil {
		return nil, err
	}
	docs, err := c.col.Find(ctx, store.Query{
		Filter:     filter,
		Projection: options.ProjectionFor(DefaultKey),
		Sort:       options.SortFor(DefaultKey),
		Skip:       options.SkipFor(DefaultKey, c.defaultSkipValue),
		Limit:      options.LimitFor(DefaultKey, c.defaultLimitValue),
	})
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []document.Document{}
	}
	if err := c.includeRelated(ctx, docs, options); err != nil {
		return nil, err
	}
	return docs, nil
}

// FindOne looks for a single document matching the query.
func (c *Controller) FindOne(ctx context.Context, query RawQuery) (document.Document, error) {
	filter, options, err := c.ParseOptions(query)
	if err != nil {
		return nil, err
	}
	return c.findOne(ctx, filter, options)
}

// FindByID looks for the single document with the given id. The optional
// query narrows the lookup further, useful to scope access to a subset of
// the collection.
func (c *Controller) FindByID(ctx context.Context, id string, query RawQuery) (document.Document, error) {
	filter, options, err := c.ParseOptions(query)
	if err != nil {
		return nil, err
	}
	filter[c.idField] = id
	return c.findOne(ctx, filter, options)
}

func (c *Controller) findOne(ctx context.Context, filter store.Filter, options *Options) (document.Document, error) {
	doc, err := c.col.FindOne(ctx, store.Query{
		Filter:     filter,
		Projection: options.ProjectionFor(DefaultKey),
	})
	if err == store.ErrNoDocument {
		return nil, errs.NotFound()
	}
	if err != nil {
		return nil, err
	}
	wrapped := []document.Document{doc}
	if err := c.includeRelated(ctx, wrapped, options); err != nil {
		return nil, err
	}
	return wrapped[0], nil
}

// Create validates and creates one document, or delegates to BulkCreate when
// given a list. It returns the persisted form, with storage defaults applied.
func (c *Controller) Create(ctx context.Context, data interface{}) (interface{}, error) {
	switch t := data.(type) {
	case []interface{}:
		docs := make([]document.Document, len(t))
		for i, element := range t {
			m, ok := element.(map[string]interface{})
			if !ok {
				return nil, errs.BadRequest("create expects an object or a list of objects")
			}
			docs[i] = document.Document(m)
		}
		return c.BulkCreate(ctx, docs)
	case []document.Document:
		return c.BulkCreate(ctx, t)
	case map[string]interface{}:
		return c.createOne(ctx, document.Document(t))
	case document.Document:
		return c.createOne(ctx, t)
	default:
		return nil, errs.BadRequest("create expects an object or a list of objects")
	}
}

func (c *Controller) createOne(ctx context.Context, doc document.Document) (document.Document, error) {
	if result := c.col.Validate(doc); !result.OK {
		return nil, errs.BadRequest("%s", result.Message)
	}
	saved, err := c.col.Insert(ctx, doc)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Debugf("%s: created %v", c.name, saved[c.idField])
	return saved, nil
}

// BulkCreate validates every document before persisting any, then inserts
// them one by one. When a late insert fails, the documents already inserted
// in the same call stay persisted; the batch is not atomic.
func (c *Controller) BulkCreate(ctx context.Context, docs []document.Document) ([]document.Document, error) {
	for _, doc := range docs {
		if result := c.col.Validate(doc); !result.OK {
			return nil, errs.BadRequest("%s", result.Message)
		}
	}
	saved := make([]document.Document, 0, len(docs))
	for _, doc := range docs {
		s, err := c.col.Insert(ctx, doc)
		if err != nil {
			return nil, err
		}
		saved = append(saved, s)
	}
	return saved, nil
}

// BulkUpdate replaces multiple documents at once, matched by their id field.
// Every document must carry the id field, otherwise the whole call fails
// before any update is issued. The per-document updates run concurrently;
// one failing does not roll back the others.
func (c *Controller) BulkUpdate(ctx context.Context, docs []document.Document) error {
	for _, doc := range docs {
		if _, ok := doc[c.idField]; !ok {
			return errs.BadRequest("All documents must provide the %s key in order to perform a bulk update.", c.idField)
		}
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			_, err := c.col.ReplaceOne(ctx, store.Filter{c.idField: doc[c.idField]}, doc)
			return err
		})
	}
	return g.Wait()
}

// UpdateByQuery applies the update to every document matching the query.
// Each key of the update is a field assignment; with PartialUpdates enabled,
// nested objects are flattened to dotted paths first. All matching documents
// are re-validated with the update applied before anything is persisted.
func (c *Controller) UpdateByQuery(ctx context.Context, query RawQuery, update document.Document) (int, error) {
	filter, _, err := c.ParseOptions(query)
	if err != nil {
		return 0, err
	}
	set := c.updateSet(update)
	docs, err := c.col.Find(ctx, store.Query{Filter: filter})
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, errs.NotFound()
	}
	for _, doc := range docs {
		candidate := doc.Clone()
		for path, value := range set {
			candidate.Set(path, value)
		}
		if result := c.col.Validate(candidate); !result.OK {
			return 0, errs.BadRequest("%s", result.Message)
		}
	}
	return c.col.UpdateMany(ctx, filter, set)
}

// UpdateByID updates the document with the given id and returns the new
// form. With UseUpdateOne enabled only the changed fields are written,
// otherwise the full updated document is saved.
func (c *Controller) UpdateByID(ctx context.Context, id string, update document.Document, query RawQuery) (document.Document, error) {
	filter, _, err := c.ParseOptions(query)
	if err != nil {
		return nil, err
	}
	filter[c.idField] = id
	existing, err := c.col.FindOne(ctx, store.Query{Filter: filter})
	if err == store.ErrNoDocument {
		return nil, errs.NotFound()
	}
	if err != nil {
		return nil, err
	}
	set := c.updateSet(update)
	candidate := existing.Clone()
	for path, value := range set {
		candidate.Set(path, value)
	}
	if result := c.col.Validate(candidate); !result.OK {
		return nil, errs.BadRequest("%s", result.Message)
	}
	if c.useUpdateOne {
		_, err = c.col.UpdateOne(ctx, filter, set)
	} else {
		_, err = c.col.ReplaceOne(ctx, filter, candidate)
	}
	if err != nil {
		return nil, err
	}
	return candidate, nil
}

func (c *Controller) updateSet(update document.Document) document.Document {
	if c.partialUpdates {
		return document.Flatten(update)
	}
	return update
}

// ReplaceByID replaces the document with the given id. The storage id and
// the configured id field are forcibly preserved from the existing document;
// a replacement body cannot change a document's identity.
func (c *Controller) ReplaceByID(ctx context.Context, id string, replacement document.Document, query RawQuery) (document.Document, error) {
	filter, _, err := c.ParseOptions(query)
	if err != nil {
		return nil, err
	}
	filter[c.idField] = id
	existing, err := c.col.FindOne(ctx, store.Query{Filter: filter})
	if err == store.ErrNoDocument {
		return nil, errs.NotFound()
	}
	if err != nil {
		return nil, err
	}
	candidate := replacement.Clone()
	if candidate == nil {
		candidate = document.Document{}
	}
	if v, ok := existing["_id"]; ok {
		candidate["_id"] = v
	}
	if v, ok := existing[c.idField]; ok {
		candidate[c.idField] = v
	}
	if result := c.col.Validate(candidate); !result.OK {
		return nil, errs.BadRequest("%s", result.Message)
	}
	if _, err := c.col.ReplaceOne(ctx, filter, candidate); err != nil {
		return nil, err
	}
	return candidate, nil
}

// PatchByID applies an ordered list of JSON-Patch operations (RFC 6902) to
// the document with the given id, validates the patched document as a unit,
// persists and returns it.
func (c *Controller) PatchByID(ctx context.Context, id string, operations interface{}, query RawQuery) (document.Document, error) {
	filter, _, err := c.ParseOptions(query)
	if err != nil {
		return nil, err
	}
	filter[c.idField] = id
	existing, err := c.col.FindOne(ctx, store.Query{Filter: filter})
	if err == store.ErrNoDocument {
		return nil, errs.NotFound()
	}
	if err != nil {
		return nil, err
	}

	rawOperations, err := json.Marshal(operations)
	if err != nil {
		return nil, errs.BadRequest("Invalid JSON Patch format")
	}
	patch, err := jsonpatch.DecodePatch(rawOperations)
	if err != nil {
		return nil, errs.BadRequest("Invalid JSON Patch format")
	}
	original, err := json.Marshal(existing)
	if err != nil {
		return nil, err
	}
	patched, err := patch.Apply(original)
	if err != nil {
		return nil, errs.BadRequest("Invalid JSON Patch format")
	}
	var candidate document.Document
	if err := json.Unmarshal(patched, &candidate); err != nil {
		return nil, errs.BadRequest("Invalid JSON Patch format")
	}

	if result := c.col.Validate(candidate); !result.OK {
		return nil, errs.BadRequest("%s", result.Message)
	}
	if _, err := c.col.ReplaceOne(ctx, filter, candidate); err != nil {
		return nil, err
	}
	return candidate, nil
}

// DeleteByQuery removes every document matching the query. Zero matches is
// not an error; deletion is idempotent.
func (c *Controller) DeleteByQuery(ctx context.Context, query RawQuery) error {
	filter, _, err := c.ParseOptions(query)
	if err != nil {
		return err
	}
	_, err = c.col.DeleteMany(ctx, filter)
	return err
}

// DeleteByID removes the document with the given id. Zero matches is not an
// error; deletion is idempotent.
func (c *Controller) DeleteByID(ctx context.Context, id string, query RawQuery) error {
	filter, _, err := c.ParseOptions(query)
	if err != nil {
		return err
	}
	filter[c.idField] = id
	_, err = c.col.DeleteOne(ctx, filter)
	return err
}

// Count returns the number of documents matching the query, ignoring the
// pagination, sort and projection modifiers.
func (c *Controller) Count(ctx context.Context, query RawQuery) (int, error) {
	filter, _, err := c.ParseOptions(query)
	if err != nil {
		return 0, err
	}
	return c.col.Count(ctx, filter)
}
