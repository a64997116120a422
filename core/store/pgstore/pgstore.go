// Package pgstore provides a postgres-backed store.Collection. Documents
// live in a jsonb column, one table per collection; filters and sorting work
// on text-extracted json paths.
package pgstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/xeipuuv/gojsonschema"

	"github.com/fatmatto/rest-toolkit/core/csql"
	"github.com/fatmatto/rest-toolkit/core/document"
	"github.com/fatmatto/rest-toolkit/core/store"
)

// Collection is a document collection stored in a postgres jsonb table.
type Collection struct {
	db        *csql.DB
	name      string
	table     string
	schema    *gojsonschema.Schema
	validator func(document.Document) store.ValidationResult
}

// Option configures a Collection.
type Option func(*Collection) error

// WithSchema adds JSON schema validation.
func WithSchema(schemaJSON string) Option {
	return func(c *Collection) error {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
		if err != nil {
			return fmt.Errorf("pgstore %s: invalid schema: %w", c.name, err)
		}
		c.schema = schema
		return nil
	}
}

// WithValidator adds a custom validation function.
func WithValidator(fn func(document.Document) store.ValidationResult) Option {
	return func(c *Collection) error {
		c.validator = fn
		return nil
	}
}

// New creates the collection and its backing table if needed.
func New(db *csql.DB, name string, options ...Option) (*Collection, error) {
	if strings.ContainsAny(name, `"'`) {
		return nil, fmt.Errorf("pgstore: invalid collection name %q", name)
	}
	c := &Collection{
		db:    db,
		name:  name,
		table: fmt.Sprintf("%s.\"%s\"", db.Schema, name),
	}
	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}
	createQuery := fmt.Sprintf(
		"CREATE table IF NOT EXISTS %s (_id varchar NOT NULL PRIMARY KEY, document jsonb NOT NULL DEFAULT '{}'::jsonb);",
		c.table)
	if _, err := db.Exec(createQuery); err != nil {
		return nil, fmt.Errorf("pgstore %s: %w", name, err)
	}
	return c, nil
}

// pathArray turns a dotted field path into the text[] parameter used with
// the #>> operator.
func pathArray(field string) interface{} {
	return pq.Array(strings.Split(field, "."))
}

// whereClause builds the WHERE part for a filter, with deterministic
// parameter order.
func whereClause(filter store.Filter, parameters *[]interface{}) string {
	if len(filter) == 0 {
		return ""
	}
	fields := make([]string, 0, len(filter))
	for field := range filter {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	conditions := make([]string, 0, len(fields))
	for _, field := range fields {
		value := filter[field]
		*parameters = append(*parameters, pathArray(field))
		pathIndex := len(*parameters)
		if anyOf, ok := value.(store.AnyOf); ok {
			values := make([]string, len(anyOf))
			for i, v := range anyOf {
				values[i] = fmt.Sprint(v)
			}
			*parameters = append(*parameters, pq.Array(values))
			conditions = append(conditions,
				fmt.Sprintf("document #>> $%d::text[] = ANY($%d)", pathIndex, len(*parameters)))
			continue
		}
		*parameters = append(*parameters, fmt.Sprint(value))
		conditions = append(conditions,
			fmt.Sprintf("document #>> $%d::text[] = $%d", pathIndex, len(*parameters)))
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}

// Find returns the documents matching the query.
func (c *Collection) Find(ctx context.Context, query store.Query) ([]document.Document, error) {
	var parameters []interface{}
	sqlQuery := "SELECT document FROM " + c.table + whereClause(query.Filter, &parameters)

	if s := query.Sort; s != nil {
		parameters = append(parameters, pathArray(s.Field))
		direction := "DESC"
		if s.Ascending {
			direction = "ASC"
		}
		sqlQuery += fmt.Sprintf(" ORDER BY document #>> $%d::text[] %s", len(parameters), direction)
	}
	if query.Limit > 0 {
		sqlQuery += " LIMIT " + strconv.Itoa(query.Limit)
	}
	if query.Skip > 0 {
		sqlQuery += " OFFSET " + strconv.Itoa(query.Skip)
	}

	rows, err := c.db.QueryContext(ctx, sqlQuery+";", parameters...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []document.Document{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var doc document.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		result = append(result, document.Project(doc, query.Projection))
	}
	return result, rows.Err()
}

// FindOne returns a single matching document, or store.ErrNoDocument.
func (c *Collection) FindOne(ctx context.Context, query store.Query) (document.Document, error) {
	var parameters []interface{}
	sqlQuery := "SELECT document FROM " + c.table + whereClause(query.Filter, &parameters) + " LIMIT 1;"
	var raw []byte
	err := c.db.QueryRowContext(ctx, sqlQuery, parameters...).Scan(&raw)
	if err == csql.ErrNoRows {
		return nil, store.ErrNoDocument
	}
	if err != nil {
		return nil, err
	}
	var doc document.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return document.Project(doc, query.Projection), nil
}

// Insert stores the document and returns the persisted form. A missing
// "_id" is generated.
func (c *Collection) Insert(ctx context.Context, doc document.Document) (document.Document, error) {
	stored := doc.Clone()
	if stored == nil {
		stored = document.Document{}
	}
	if _, ok := stored["_id"]; !ok {
		stored["_id"] = uuid.New().String()
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, err
	}
	insertQuery := "INSERT INTO " + c.table + " (_id, document) VALUES($1, $2);"
	if _, err := c.db.ExecContext(ctx, insertQuery, fmt.Sprint(stored["_id"]), raw); err != nil {
		return nil, err
	}
	return stored, nil
}

// UpdateOne merges the given fields into the first matching document.
func (c *Collection) UpdateOne(ctx context.Context, filter store.Filter, set document.Document) (int, error) {
	return c.update(ctx, filter, set, true)
}

// UpdateMany merges the given fields into every matching document.
func (c *Collection) UpdateMany(ctx context.Context, filter store.Filter, set document.Document) (int, error) {
	return c.update(ctx, filter, set, false)
}

// update is a read-modify-write in one transaction, so that dotted-path
// assignments behave exactly like the in-memory store.
func (c *Collection) update(ctx context.Context, filter store.Filter, set document.Document, single bool) (int, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var parameters []interface{}
	selectQuery := "SELECT _id, document FROM " + c.table + whereClause(filter, &parameters)
	if single {
		selectQuery += " LIMIT 1"
	}
	rows, err := tx.QueryContext(ctx, selectQuery+" FOR UPDATE;", parameters...)
	if err != nil {
		return 0, err
	}
	type row struct {
		id  string
		doc document.Document
	}
	var matched []row
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return 0, err
		}
		var doc document.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			rows.Close()
			return 0, err
		}
		matched = append(matched, row{id: id, doc: doc})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	updateQuery := "UPDATE " + c.table + " SET document = $1 WHERE _id = $2;"
	for _, r := range matched {
		for path, value := range set {
			r.doc.Set(path, value)
		}
		raw, err := json.Marshal(r.doc)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, updateQuery, raw, r.id); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(matched), nil
}

// ReplaceOne swaps the first matching document for the given one.
func (c *Collection) ReplaceOne(ctx context.Context, filter store.Filter, doc document.Document) (int, error) {
	var parameters []interface{}
	selectQuery := "SELECT _id FROM " + c.table + whereClause(filter, &parameters) + " LIMIT 1;"
	var id string
	err := c.db.QueryRowContext(ctx, selectQuery, parameters...).Scan(&id)
	if err == csql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return 0, err
	}
	updateQuery := "UPDATE " + c.table + " SET document = $1 WHERE _id = $2;"
	if _, err := c.db.ExecContext(ctx, updateQuery, raw, id); err != nil {
		return 0, err
	}
	return 1, nil
}

// DeleteOne removes the first matching document. Zero matches is not an error.
func (c *Collection) DeleteOne(ctx context.Context, filter store.Filter) (int, error) {
	var parameters []interface{}
	deleteQuery := "DELETE FROM " + c.table + " WHERE _id IN (SELECT _id FROM " + c.table +
		whereClause(filter, &parameters) + " LIMIT 1);"
	result, err := c.db.ExecContext(ctx, deleteQuery, parameters...)
	if err != nil {
		return 0, err
	}
	count, _ := result.RowsAffected()
	return int(count), nil
}

// DeleteMany removes every matching document. Zero matches is not an error.
func (c *Collection) DeleteMany(ctx context.Context, filter store.Filter) (int, error) {
	var parameters []interface{}
	deleteQuery := "DELETE FROM " + c.table + whereClause(filter, &parameters) + ";"
	result, err := c.db.ExecContext(ctx, deleteQuery, parameters...)
	if err != nil {
		return 0, err
	}
	count, _ := result.RowsAffected()
	return int(count), nil
}

// Count returns the number of matching documents.
func (c *Collection) Count(ctx context.Context, filter store.Filter) (int, error) {
	var parameters []interface{}
	countQuery := "SELECT count(*) FROM " + c.table + whereClause(filter, &parameters) + ";"
	var count int
	if err := c.db.QueryRowContext(ctx, countQuery, parameters...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Validate checks a candidate document against the collection's schema and
// custom validator.
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
