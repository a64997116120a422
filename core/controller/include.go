package controller

import (
	"context"
	"fmt"

	"github.com/fatmatto/rest-toolkit/core/document"
	"github.com/fatmatto/rest-toolkit/core/store"
)

// IncludesKey is the document key related records are attached under.
const IncludesKey = "includes"

// includeRelated fetches the requested relationships for a list of host
// documents and joins them in memory. One batched query is issued per
// relationship, never one per document.
//
// The relationship's own skip, limit and sort apply to the flattened batched
// fetch, not per host document. With a small limit and several hosts sharing
// a batch, a host's attached records may therefore not be its own first n.
// This matches the long-standing observable behavior and stays.
func (c *Controller) includeRelated(ctx context.Context, docs []document.Document, options *Options) error {
	wanted := map[string]bool{}
	for _, name := range options.Includes {
		wanted[name] = true
	}

	for i := range c.relationships {
		relationship := &c.relationships[i]
		if !relationship.AlwaysInclude && !wanted[relationship.Name] {
			continue
		}

		values := make(store.AnyOf, 0, len(docs))
		seen := map[string]bool{}
		for _, doc := range docs {
			v, ok := doc.Get(relationship.LocalField)
			if !ok {
				continue
			}
			key := fmt.Sprint(v)
			if seen[key] {
				continue
			}
			seen[key] = true
			values = append(values, v)
		}

		projection := map[string]int{}
		for field, mode := range options.ProjectionFor(relationship.Name) {
			projection[field] = mode
		}
		// a scoped projection must not drop the join key
		if len(projection) > 0 {
			projection[relationship.ForeignField] = 1
		}

		related, err := relationship.Target.Find(ctx, store.Query{
			Filter:     store.Filter{relationship.ForeignField: values},
			Projection: projection,
			Sort:       options.SortFor(relationship.Name),
			Skip:       options.SkipFor(relationship.Name, c.defaultSkipValue),
			Limit:      options.LimitFor(relationship.Name, c.defaultLimitValue),
		})
		if err != nil {
			return err
		}

		for _, doc := range docs {
			matched := []document.Document{}
			hostValue, hasHostValue := doc.Get(relationship.LocalField)
			if hasHostValue {
				for _, item := range related {
					foreignValue, ok := item.Get(relationship.ForeignField)
					if ok && document.Equal(foreignValue, hostValue) {
						matched = append(matched, item)
					}
				}
			}
			includes, ok := doc[IncludesKey].(map[string]interface{})
			if !ok {
				includes = map[string]interface{}{}
				doc[IncludesKey] = includes
			}
			includes[relationship.Name] = matched
		}
	}
	return nil
}
