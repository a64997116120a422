package controller

import (
	"sort"
	"strconv"
	"strings"

	"github.com/fatmatto/rest-toolkit/core/errs"
	"github.com/fatmatto/rest-toolkit/core/store"
)

// RawQuery is a decoded query-string map. Values are either a plain string,
// a list of strings, or a map scoping the modifier to one relationship
// (the bracket convention, limit[books]=2).
type RawQuery map[string]interface{}

// DefaultKey is the pseudo-key addressing the host resource itself in
// per-target modifiers, as opposed to a named relationship.
const DefaultKey = "default"

// Options is the per-request result of parsing the query modifiers. Every
// modifier is keyed by DefaultKey or by a relationship name.
type Options struct {
	Skip       map[string]int
	Limit      map[string]int
	Sort       map[string]store.Sort
	Projection map[string]map[string]int
	Includes   []string
}

// SkipFor returns the skip value for a pseudo-key, or the fallback.
func (o *Options) SkipFor(name string, fallback int) int {
	if v, ok := o.Skip[name]; ok {
		return v
	}
	return fallback
}

// LimitFor returns the limit value for a pseudo-key, or the fallback. An
// explicit zero resolves to the fallback as well, never to an unbounded read.
func (o *Options) LimitFor(name string, fallback int) int {
	if v, ok := o.Limit[name]; ok && v > 0 {
		return v
	}
	return fallback
}

// SortFor returns the sort for a pseudo-key, or nil when none was requested.
func (o *Options) SortFor(name string) *store.Sort {
	if s, ok := o.Sort[name]; ok {
		return &s
	}
	return nil
}

// ProjectionFor returns the projection for a pseudo-key, possibly empty.
func (o *Options) ProjectionFor(name string) map[string]int {
	return o.Projection[name]
}

// the query keys consumed as modifiers, never used as filter fields
var modifierKeys = map[string]bool{
	"includes":  true,
	"include":   true,
	"fields":    true,
	"sortby":    true,
	"sortorder": true,
	"skip":      true,
	"limit":     true,
}

// param is a parsed modifier value: either a single scalar applying to the
// host resource, or a per-relationship map, or both when the query mixes
// limit=5 with limit[books]=2.
type param struct {
	scalar    string
	hasScalar bool
	perTarget map[string]string
}

// entries normalizes a param into pseudo-key form, with the scalar stored
// under DefaultKey.
func (p param) entries() map[string]string {
	m := make(map[string]string, len(p.perTarget)+1)
	if p.hasScalar {
		m[DefaultKey] = p.scalar
	}
	for k, v := range p.perTarget {
		m[k] = v
	}
	return m
}

func parseParam(name string, value interface{}) (param, error) {
	var p param
	add := func(target string, v interface{}) error {
		s, ok := v.(string)
		if !ok {
			return errs.BadRequest("parameter %s must be a string", name)
		}
		if p.perTarget == nil {
			p.perTarget = map[string]string{}
		}
		p.perTarget[target] = s
		return nil
	}
	switch t := value.(type) {
	case string:
		p.scalar, p.hasScalar = t, true
	case []string:
		if len(t) == 0 {
			return p, errs.BadRequest("parameter %s must not be empty", name)
		}
		p.scalar, p.hasScalar = t[0], true
	case map[string]string:
		for target, v := range t {
			if p.perTarget == nil {
				p.perTarget = map[string]string{}
			}
			p.perTarget[target] = v
		}
	case map[string]interface{}:
		for target, v := range t {
			if err := add(target, v); err != nil {
				return p, err
			}
		}
	case []interface{}:
		// repeated scoped parameters decode as a list of one-entry objects
		for _, element := range t {
			m, ok := element.(map[string]interface{})
			if !ok {
				return p, errs.BadRequest("parameter %s must be a string", name)
			}
			for target, v := range m {
				if err := add(target, v); err != nil {
					return p, err
				}
			}
		}
	default:
		return p, errs.BadRequest("parameter %s must be a string", name)
	}
	return p, nil
}

// ParseOptions splits a raw query into the storage filter and the parsed
// modifiers. The input map is left untouched; recognized modifier keys are
// stripped from the returned filter so they never act as equality filters.
func (c *Controller) ParseOptions(query RawQuery) (store.Filter, *Options, error) {
	options := &Options{
		Skip:       map[string]int{DefaultKey: c.defaultSkipValue},
		Limit:      map[string]int{DefaultKey: c.defaultLimitValue},
		Sort:       map[string]store.Sort{DefaultKey: {Field: c.idField, Ascending: false}},
		Projection: map[string]map[string]int{DefaultKey: {}},
	}

	if raw, ok := firstPresent(query, "includes", "include"); ok {
		p, err := parseParam("includes", raw)
		if err != nil {
			return nil, nil, err
		}
		if !p.hasScalar {
			return nil, nil, errs.BadRequest("parameter includes must be a string")
		}
		options.Includes = strings.Split(p.scalar, ",")
		var unknown []string
		for _, name := range options.Includes {
			if c.relationship(name) == nil {
				unknown = append(unknown, name)
			}
		}
		if len(unknown) > 0 {
			return nil, nil, errs.BadRequest("Unknown included resource: %s", strings.Join(unknown, ","))
		}
	}

	if raw, ok := query["fields"]; ok {
		p, err := parseParam("fields", raw)
		if err != nil {
			return nil, nil, err
		}
		for target, spec := range p.entries() {
			options.Projection[target] = parseFieldSpec(spec)
		}
	}

	if err := c.parseSorting(query, options); err != nil {
		return nil, nil, err
	}

	for _, key := range []string{"skip", "limit"} {
		raw, ok := query[key]
		if !ok {
			continue
		}
		p, err := parseParam(key, raw)
		if err != nil {
			return nil, nil, err
		}
		dest := options.Skip
		if key == "limit" {
			dest = options.Limit
		}
		for target, v := range p.entries() {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return nil, nil, errs.BadRequest("parameter %s must be a non-negative integer", key)
			}
			dest[target] = n
		}
	}

	filter := store.Filter{}
	for key, value := range query {
		if modifierKeys[key] {
			continue
		}
		if list, ok := value.([]string); ok {
			if len(list) == 1 {
				filter[key] = list[0]
				continue
			}
			anyOf := make(store.AnyOf, len(list))
			for i, v := range list {
				anyOf[i] = v
			}
			filter[key] = anyOf
			continue
		}
		filter[key] = value
	}
	return filter, options, nil
}

func (c *Controller) parseSorting(query RawQuery, options *Options) error {
	sortBy := map[string]string{}
	sortOrder := map[string]string{}
	if raw, ok := query["sortby"]; ok {
		p, err := parseParam("sortby", raw)
		if err != nil {
			return err
		}
		sortBy = p.entries()
	}
	if raw, ok := query["sortorder"]; ok {
		p, err := parseParam("sortorder", raw)
		if err != nil {
			return err
		}
		sortOrder = p.entries()
	}

	targets := map[string]bool{}
	for target := range sortBy {
		targets[target] = true
	}
	for target := range sortOrder {
		targets[target] = true
	}
	names := make([]string, 0, len(targets))
	for target := range targets {
		names = append(names, target)
	}
	sort.Strings(names)

	for _, target := range names {
		field := sortBy[target]
		if field == "" {
			field = c.idField
		}
		order := sortOrder[target]
		if order == "" {
			order = "DESC"
		}
		switch order {
		case "ASC":
			options.Sort[target] = store.Sort{Field: field, Ascending: true}
		case "DESC":
			options.Sort[target] = store.Sort{Field: field, Ascending: false}
		default:
			return errs.BadRequest(`sortorder parameter can be "ASC" or "DESC". Got "%s".`, order)
		}
	}
	return nil
}

// parseFieldSpec turns "age,-name" into {age:1, name:0}.
func parseFieldSpec(spec string) map[string]int {
	projection := map[string]int{}
	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if strings.HasPrefix(token, "-") {
			projection[strings.TrimPrefix(token, "-")] = 0
		} else {
			projection[token] = 1
		}
	}
	return projection
}

func firstPresent(query RawQuery, keys ...string) (interface{}, bool) {
	for _, key := range keys {
		if v, ok := query[key]; ok {
			return v, true
		}
	}
	return nil, false
}
