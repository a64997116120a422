package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneIsDeep(t *testing.T) {
	original := Document{
		"name": "alice",
		"address": map[string]interface{}{
			"city": "rome",
		},
		"tags": []interface{}{"a", "b"},
	}
	clone := original.Clone()
	clone.Set("address.city", "milan")
	clone["tags"].([]interface{})[0] = "z"

	city, _ := original.Get("address.city")
	assert.Equal(t, "rome", city)
	assert.Equal(t, "a", original["tags"].([]interface{})[0])
}

func TestGetSetDelete(t *testing.T) {
	doc := Document{}
	doc.Set("a.b.c", 42)
	v, ok := doc.Get("a.b.c")
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = doc.Get("a.b.missing")
	assert.False(t, ok)
	_, ok = doc.Get("a.b.c.deeper")
	assert.False(t, ok)

	doc.Delete("a.b.c")
	_, ok = doc.Get("a.b.c")
	assert.False(t, ok)

	// deleting through a missing branch is a no-op
	doc.Delete("x.y.z")
}

func TestFlatten(t *testing.T) {
	patch := Document{
		"name": "alice",
		"address": map[string]interface{}{
			"city": "rome",
			"geo": map[string]interface{}{
				"lat": 1.0,
			},
		},
		"tags":  []interface{}{"a"},
		"empty": map[string]interface{}{},
	}
	flat := Flatten(patch)
	assert.Equal(t, Document{
		"name":            "alice",
		"address.city":    "rome",
		"address.geo.lat": 1.0,
		"tags":            []interface{}{"a"},
		"empty":           map[string]interface{}{},
	}, flat)
}

func TestProjectIncludeMode(t *testing.T) {
	doc := Document{"name": "alice", "age": 30, "city": "rome"}
	out := Project(doc, map[string]int{"age": 1, "name": 0})
	_, hasName := out["name"]
	_, hasCity := out["city"]
	assert.Equal(t, 30, out["age"])
	assert.False(t, hasName)
	assert.False(t, hasCity)
}

func TestProjectExcludeMode(t *testing.T) {
	doc := Document{"name": "alice", "age": 30}
	out := Project(doc, map[string]int{"name": 0})
	_, hasName := out["name"]
	assert.False(t, hasName)
	assert.Equal(t, 30, out["age"])
}

func TestProjectEmptyReturnsCopy(t *testing.T) {
	doc := Document{"name": "alice"}
	out := Project(doc, nil)
	out["name"] = "bob"
	assert.Equal(t, "alice", doc["name"])
}

func TestEqualLooseNumbers(t *testing.T) {
	assert.True(t, Equal(float64(7), 7))
	assert.True(t, Equal("7", float64(7)))
	assert.True(t, Equal("abc", "abc"))
	assert.False(t, Equal("abc", "abd"))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, "x"))
}

func TestLess(t *testing.T) {
	assert.True(t, Less(1, 2))
	assert.True(t, Less("10", float64(20)))
	assert.True(t, Less("alpha", "beta"))
	assert.True(t, Less(nil, "anything"))
	assert.False(t, Less("anything", nil))
}
