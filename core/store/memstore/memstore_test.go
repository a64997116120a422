package memstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatmatto/rest-toolkit/core/document"
	"github.com/fatmatto/rest-toolkit/core/store"
)

func TestInsertGeneratesSequentialIDs(t *testing.T) {
	ctx := context.Background()
	col := New("things")

	first, err := col.Insert(ctx, document.Document{"n": 1})
	require.NoError(t, err)
	second, err := col.Insert(ctx, document.Document{"n": 2})
	require.NoError(t, err)

	assert.NotEmpty(t, first["_id"])
	assert.NotEmpty(t, second["_id"])
	assert.True(t, first["_id"].(string) < second["_id"].(string))
}

func TestInsertKeepsProvidedID(t *testing.T) {
	ctx := context.Background()
	col := New("things")
	saved, err := col.Insert(ctx, document.Document{"_id": "custom", "n": 1})
	require.NoError(t, err)
	assert.Equal(t, "custom", saved["_id"])
}

func TestInsertStoresACopy(t *testing.T) {
	ctx := context.Background()
	col := New("things")
	doc := document.Document{"n": 1}
	saved, err := col.Insert(ctx, doc)
	require.NoError(t, err)

	doc["n"] = 99
	saved["n"] = 42
	found, err := col.FindOne(ctx, store.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, found["n"])
}

func TestFindSortSkipLimit(t *testing.T) {
	ctx := context.Background()
	col := New("things")
	for i := 0; i < 5; i++ {
		_, err := col.Insert(ctx, document.Document{"n": i})
		require.NoError(t, err)
	}

	docs, err := col.Find(ctx, store.Query{
		Sort:  &store.Sort{Field: "n", Ascending: false},
		Skip:  1,
		Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, 3, docs[0]["n"])
	assert.Equal(t, 2, docs[1]["n"])
}

func TestFindSkipBeyondEnd(t *testing.T) {
	ctx := context.Background()
	col := New("things")
	_, err := col.Insert(ctx, document.Document{"n": 1})
	require.NoError(t, err)

	docs, err := col.Find(ctx, store.Query{Skip: 10})
	require.NoError(t, err)
	assert.Len(t, docs, 0)
}

func TestFindAnyOfFilter(t *testing.T) {
	ctx := context.Background()
	col := New("things")
	for _, name := range []string{"a", "b", "c"} {
		_, err := col.Insert(ctx, document.Document{"name": name})
		require.NoError(t, err)
	}

	docs, err := col.Find(ctx, store.Query{
		Filter: store.Filter{"name": store.AnyOf{"a", "c"}},
	})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestFindOneNoDocument(t *testing.T) {
	ctx := context.Background()
	col := New("things")
	_, err := col.FindOne(ctx, store.Query{Filter: store.Filter{"name": "ghost"}})
	assert.Equal(t, store.ErrNoDocument, err)
}

func TestUpdateOneDottedPath(t *testing.T) {
	ctx := context.Background()
	col := New("things")
	_, err := col.Insert(ctx, document.Document{"name": "a", "address": map[string]interface{}{"city": "rome"}})
	require.NoError(t, err)

	count, err := col.UpdateOne(ctx, store.Filter{"name": "a"}, document.Document{"address.city": "milan"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	doc, err := col.FindOne(ctx, store.Query{Filter: store.Filter{"name": "a"}})
	require.NoError(t, err)
	city, _ := doc.Get("address.city")
	assert.Equal(t, "milan", city)
}

func TestUpdateManyCountsMatches(t *testing.T) {
	ctx := context.Background()
	col := New("things")
	for i := 0; i < 3; i++ {
		_, err := col.Insert(ctx, document.Document{"group": "g", "i": i})
		require.NoError(t, err)
	}
	count, err := col.UpdateMany(ctx, store.Filter{"group": "g"}, document.Document{"seen": true})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestReplaceOne(t *testing.T) {
	ctx := context.Background()
	col := New("things")
	_, err := col.Insert(ctx, document.Document{"_id": "x", "name": "old", "extra": 1})
	require.NoError(t, err)

	count, err := col.ReplaceOne(ctx, store.Filter{"_id": "x"}, document.Document{"_id": "x", "name": "new"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	doc, err := col.FindOne(ctx, store.Query{Filter: store.Filter{"_id": "x"}})
	require.NoError(t, err)
	assert.Equal(t, "new", doc["name"])
	_, hasExtra := doc["extra"]
	assert.False(t, hasExtra)
}

func TestDeleteOneAndMany(t *testing.T) {
	ctx := context.Background()
	col := New("things")
	for i := 0; i < 3; i++ {
		_, err := col.Insert(ctx, document.Document{"group": "g", "i": i})
		require.NoError(t, err)
	}

	count, err := col.DeleteOne(ctx, store.Filter{"group": "g"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 2, col.Len())

	count, err = col.DeleteMany(ctx, store.Filter{"group": "g"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 0, col.Len())

	// deleting again matches nothing and is not an error
	count, err = col.DeleteMany(ctx, store.Filter{"group": "g"})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCount(t *testing.T) {
	ctx := context.Background()
	col := New("things")
	for i := 0; i < 4; i++ {
		_, err := col.Insert(ctx, document.Document{"even": i%2 == 0})
		require.NoError(t, err)
	}
	count, err := col.Count(ctx, store.Filter{"even": true})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestValidateSchema(t *testing.T) {
	col := New("things", WithSchema(`{
		"type": "object",
		"required": ["name"],
		"properties": { "name": { "type": "string" } }
	}`))

	result := col.Validate(document.Document{"name": "ok"})
	assert.True(t, result.OK)

	result = col.Validate(document.Document{})
	assert.False(t, result.OK)
	assert.NotEmpty(t, result.Message)
}

func TestValidateCustomValidator(t *testing.T) {
	col := New("things", WithValidator(func(doc document.Document) store.ValidationResult {
		if doc["name"] == "forbidden" {
			return store.ValidationResult{Message: "name is forbidden"}
		}
		return store.ValidationResult{OK: true}
	}))

	assert.True(t, col.Validate(document.Document{"name": "fine"}).OK)
	result := col.Validate(document.Document{"name": "forbidden"})
	assert.False(t, result.OK)
	assert.Equal(t, "name is forbidden", result.Message)
}

func TestWithSchemaPanicsOnBrokenSchema(t *testing.T) {
	assert.Panics(t, func() {
		New("things", WithSchema(`{"type": 42`))
	})
}

func TestConcurrentInserts(t *testing.T) {
	ctx := context.Background()
	col := New("things")
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			_, err := col.Insert(ctx, document.Document{"i": fmt.Sprint(i)})
			assert.NoError(t, err)
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	assert.Equal(t, 10, col.Len())
}
