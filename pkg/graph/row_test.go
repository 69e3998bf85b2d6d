package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRow() Row {
	return NewRow(
		[]string{"n", "count", "score", "name", "ok", "tags", "props", "raw"},
		[]any{
			Node{ID: 1, Labels: []string{"Person"}, Props: map[string]any{"name": "Odin"}},
			int64(9),
			0.75,
			"Odin",
			true,
			[]any{"a", "b"},
			map[string]any{"k": int64(1)},
			[]byte{0xDE, 0xAD},
		},
	)
}

func TestRowAccessors(t *testing.T) {
	row := testRow()
	assert.Equal(t, 8, row.Len())
	assert.Equal(t, []string{"n", "count", "score", "name", "ok", "tags", "props", "raw"}, row.Keys())
	assert.Equal(t, int64(9), row.Index(1))

	v, ok := row.Get("name")
	assert.True(t, ok)
	assert.Equal(t, "Odin", v)

	_, ok = row.Get("absent")
	assert.False(t, ok)
}

func TestRowTypedGetters(t *testing.T) {
	row := testRow()

	n, err := row.GetInt("count")
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)

	f, err := row.GetFloat("score")
	require.NoError(t, err)
	assert.Equal(t, 0.75, f)

	// Integers widen to float on request.
	f, err = row.GetFloat("count")
	require.NoError(t, err)
	assert.Equal(t, 9.0, f)

	s, err := row.GetString("name")
	require.NoError(t, err)
	assert.Equal(t, "Odin", s)

	b, err := row.GetBool("ok")
	require.NoError(t, err)
	assert.True(t, b)

	raw, err := row.GetBytes("raw")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD}, raw)

	list, err := row.GetList("tags")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, list)

	m, err := row.GetMap("props")
	require.NoError(t, err)
	assert.Equal(t, int64(1), m["k"])

	node, err := row.GetNode("n")
	require.NoError(t, err)
	assert.Equal(t, int64(1), node.ID)
}

func TestRowTypeMismatch(t *testing.T) {
	row := testRow()

	_, err := row.GetInt("name")
	var mismatch *TypeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "name", mismatch.Field)
	assert.Equal(t, "Integer", mismatch.Expected)
	assert.Equal(t, "String", mismatch.Actual)

	_, err = row.GetNode("count")
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "Node", mismatch.Expected)
	assert.Equal(t, "Integer", mismatch.Actual)

	// Floats do not silently truncate to integers.
	_, err = row.GetInt("score")
	assert.Error(t, err)

	_, err = row.GetString("missing")
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "missing", mismatch.Field)
}

func TestRowGraphValueGetters(t *testing.T) {
	row := NewRow(
		[]string{"r", "p", "pt2", "pt3", "dt"},
		[]any{
			Relationship{ID: 5, StartID: 1, EndID: 2, Type: "KNOWS"},
			Path{Nodes: []Node{{ID: 1}}},
			Point2D{SRID: 4326, X: 1, Y: 2},
			Point3D{SRID: 4979, X: 1, Y: 2, Z: 3},
			DateTime{Seconds: 100, Offset: 0},
		},
	)

	rel, err := row.GetRelationship("r")
	require.NoError(t, err)
	assert.Equal(t, "KNOWS", rel.Type)

	path, err := row.GetPath("p")
	require.NoError(t, err)
	assert.Len(t, path.Nodes, 1)

	pt2, err := row.GetPoint2D("pt2")
	require.NoError(t, err)
	assert.Equal(t, int64(4326), pt2.SRID)

	pt3, err := row.GetPoint3D("pt3")
	require.NoError(t, err)
	assert.Equal(t, 3.0, pt3.Z)

	dt, err := row.GetDateTime("dt")
	require.NoError(t, err)
	assert.Equal(t, int64(100), dt.Seconds)

	_, err = row.GetPath("r")
	assert.Error(t, err)
}

func TestRowValuesSnapshot(t *testing.T) {
	// A row keeps its own data; it stays valid independent of any stream.
	keys := []string{"x"}
	values := []any{int64(1)}
	row := NewRow(keys, values)
	assert.Equal(t, int64(1), row.Values()[0])
}
