package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornic-go/pkg/packstream"
)

func nodeStruct(id int64, labels []any, props map[string]any) packstream.Structure {
	return packstream.Structure{Tag: TagNode, Fields: []any{id, labels, props}}
}

func relStruct(id int64, relType string, props map[string]any) packstream.Structure {
	return packstream.Structure{Tag: TagUnboundRelationship, Fields: []any{id, relType, props}}
}

func TestFromStructureNode(t *testing.T) {
	v, err := FromStructure(nodeStruct(42, []any{"Person", "Admin"}, map[string]any{"name": "Loki"}))
	require.NoError(t, err)

	node, ok := v.(Node)
	require.True(t, ok)
	assert.Equal(t, int64(42), node.ID)
	assert.Equal(t, []string{"Person", "Admin"}, node.Labels)
	assert.Equal(t, "Loki", node.Props["name"])
	assert.True(t, node.HasLabel("Admin"))
	assert.False(t, node.HasLabel("Deity"))
}

func TestFromStructureRelationship(t *testing.T) {
	v, err := FromStructure(packstream.Structure{
		Tag:    TagRelationship,
		Fields: []any{int64(7), int64(1), int64(2), "KNOWS", map[string]any{"since": int64(2020)}},
	})
	require.NoError(t, err)

	rel, ok := v.(Relationship)
	require.True(t, ok)
	assert.Equal(t, int64(7), rel.ID)
	assert.Equal(t, int64(1), rel.StartID)
	assert.Equal(t, int64(2), rel.EndID)
	assert.Equal(t, "KNOWS", rel.Type)
	assert.Equal(t, int64(2020), rel.Props["since"])
}

func TestFromStructurePath(t *testing.T) {
	a := nodeStruct(1, []any{"A"}, map[string]any{})
	b := nodeStruct(2, []any{"B"}, map[string]any{})
	c := nodeStruct(3, []any{"C"}, map[string]any{})
	r1 := relStruct(10, "NEXT", map[string]any{})
	r2 := relStruct(11, "NEXT", map[string]any{})

	t.Run("forward walk", func(t *testing.T) {
		v, err := FromStructure(packstream.Structure{
			Tag: TagPath,
			Fields: []any{
				[]any{a, b, c},
				[]any{r1, r2},
				[]any{int64(1), int64(1), int64(2), int64(2)},
			},
		})
		require.NoError(t, err)

		path, ok := v.(Path)
		require.True(t, ok)
		segments, err := path.Walk()
		require.NoError(t, err)
		require.Len(t, segments, 2)
		assert.Equal(t, int64(1), segments[0].Start.ID)
		assert.Equal(t, int64(10), segments[0].Relationship.ID)
		assert.Equal(t, int64(2), segments[0].End.ID)
		assert.Equal(t, int64(2), segments[1].Start.ID)
		assert.Equal(t, int64(3), segments[1].End.ID)
	})

	t.Run("reversed relationship", func(t *testing.T) {
		// Negative relationship index: traversed against its direction, so
		// the segment's start is the far node.
		v, err := FromStructure(packstream.Structure{
			Tag: TagPath,
			Fields: []any{
				[]any{a, b},
				[]any{r1},
				[]any{int64(-1), int64(1)},
			},
		})
		require.NoError(t, err)

		segments, err := v.(Path).Walk()
		require.NoError(t, err)
		require.Len(t, segments, 1)
		assert.Equal(t, int64(2), segments[0].Start.ID)
		assert.Equal(t, int64(1), segments[0].End.ID)
	})

	t.Run("single node path", func(t *testing.T) {
		v, err := FromStructure(packstream.Structure{
			Tag:    TagPath,
			Fields: []any{[]any{a}, []any{}, []any{}},
		})
		require.NoError(t, err)
		segments, err := v.(Path).Walk()
		require.NoError(t, err)
		assert.Empty(t, segments)
	})

	t.Run("rejected malformed index sequence", func(t *testing.T) {
		tests := []struct {
			name    string
			indices []any
		}{
			{"odd length", []any{int64(1)}},
			{"zero relationship index", []any{int64(0), int64(1)}},
			{"relationship out of range", []any{int64(5), int64(1)}},
			{"node out of range", []any{int64(1), int64(9)}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := FromStructure(packstream.Structure{
					Tag:    TagPath,
					Fields: []any{[]any{a, b}, []any{r1}, tt.indices},
				})
				assert.Error(t, err)
			})
		}
	})
}

func TestFromStructurePoints(t *testing.T) {
	v, err := FromStructure(packstream.Structure{
		Tag:    TagPoint2D,
		Fields: []any{int64(4326), 12.99, 55.61},
	})
	require.NoError(t, err)
	assert.Equal(t, Point2D{SRID: 4326, X: 12.99, Y: 55.61}, v)

	v, err = FromStructure(packstream.Structure{
		Tag:    TagPoint3D,
		Fields: []any{int64(4979), 1.0, 2.0, 3.0},
	})
	require.NoError(t, err)
	assert.Equal(t, Point3D{SRID: 4979, X: 1, Y: 2, Z: 3}, v)
}

func TestFromStructureTemporals(t *testing.T) {
	tests := []struct {
		name string
		in   packstream.Structure
		want any
	}{
		{"date", packstream.Structure{Tag: TagDate, Fields: []any{int64(19000)}}, Date{Days: 19000}},
		{"time", packstream.Structure{Tag: TagTime, Fields: []any{int64(3600e9), int64(7200)}}, Time{Nanos: 3600e9, Offset: 7200}},
		{"local time", packstream.Structure{Tag: TagLocalTime, Fields: []any{int64(5e9)}}, LocalTime{Nanos: 5e9}},
		{"datetime", packstream.Structure{Tag: TagDateTime, Fields: []any{int64(1700000000), int64(42), int64(3600)}}, DateTime{Seconds: 1700000000, Nanos: 42, Offset: 3600}},
		{"local datetime", packstream.Structure{Tag: TagLocalDateTime, Fields: []any{int64(1700000000), int64(7)}}, LocalDateTime{Seconds: 1700000000, Nanos: 7}},
		{"duration", packstream.Structure{Tag: TagDuration, Fields: []any{int64(1), int64(2), int64(3), int64(4)}}, Duration{Months: 1, Days: 2, Seconds: 3, Nanos: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := FromStructure(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestDateTimeConversion(t *testing.T) {
	// 2022-06-01T10:00:00+02:00: the wire carries local seconds, Time()
	// yields the UTC instant shifted into the fixed zone.
	d := DateTime{Seconds: 1654077600 + 7200, Nanos: 0, Offset: 7200}
	got := d.Time()
	assert.Equal(t, int64(1654077600), got.Unix())
	_, offset := got.Zone()
	assert.Equal(t, 7200, offset)

	date := Date{Days: 0}
	assert.Equal(t, time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC), date.Time())
}

func TestFromStructureErrors(t *testing.T) {
	t.Run("unknown tag", func(t *testing.T) {
		_, err := FromStructure(packstream.Structure{Tag: 0x7A})
		assert.Error(t, err)
	})
	t.Run("node missing fields", func(t *testing.T) {
		_, err := FromStructure(packstream.Structure{Tag: TagNode, Fields: []any{int64(1)}})
		assert.Error(t, err)
	})
	t.Run("node wrong field type", func(t *testing.T) {
		_, err := FromStructure(packstream.Structure{Tag: TagNode, Fields: []any{"x", []any{}, map[string]any{}}})
		assert.Error(t, err)
	})
	t.Run("date non-integer field", func(t *testing.T) {
		_, err := FromStructure(packstream.Structure{Tag: TagDate, Fields: []any{"today"}})
		assert.Error(t, err)
	})
}

func TestHydrateRecursesIntoCollections(t *testing.T) {
	raw := []any{
		nodeStruct(1, []any{"N"}, map[string]any{}),
		map[string]any{"point": packstream.Structure{Tag: TagPoint2D, Fields: []any{int64(0), 1.0, 2.0}}},
		int64(3),
	}
	v, err := Hydrate(raw)
	require.NoError(t, err)

	list, ok := v.([]any)
	require.True(t, ok)
	assert.IsType(t, Node{}, list[0])
	inner := list[1].(map[string]any)
	assert.Equal(t, Point2D{SRID: 0, X: 1, Y: 2}, inner["point"])
	assert.Equal(t, int64(3), list[2])
}

func TestDehydrate(t *testing.T) {
	t.Run("temporal and spatial parameters become structures", func(t *testing.T) {
		v := Dehydrate(map[string]any{
			"at":    DateTime{Seconds: 100, Nanos: 5, Offset: 0},
			"where": Point2D{SRID: 4326, X: 1, Y: 2},
			"plain": "text",
		})
		m := v.(map[string]any)
		at := m["at"].(packstream.Structure)
		assert.Equal(t, byte(TagDateTime), at.Tag)
		where := m["where"].(packstream.Structure)
		assert.Equal(t, byte(TagPoint2D), where.Tag)
		assert.Equal(t, "text", m["plain"])
	})

	t.Run("round trips through hydrate", func(t *testing.T) {
		in := Duration{Months: 1, Days: 2, Seconds: 3, Nanos: 4}
		back, err := Hydrate(Dehydrate(in))
		require.NoError(t, err)
		assert.Equal(t, in, back)
	})
}
