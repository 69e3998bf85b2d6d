// Package graph defines the typed graph values a Bolt server returns —
// nodes, relationships, paths, spatial points and temporal values — and the
// Row type with checked field extraction.
//
// Wire structures arrive as packstream.Structure with a fixed, type-specific
// field order. FromStructure converts them into the plain value types below;
// Dehydrate performs the reverse for the value kinds a client may send as
// query parameters (points and temporals).
//
// All values are immutable snapshots: they hold no reference to the
// connection or stream that produced them.
package graph

import (
	"fmt"
	"time"

	"github.com/orneryd/nornic-go/pkg/convert"
	"github.com/orneryd/nornic-go/pkg/packstream"
)

// Structure tags for graph and temporal values.
const (
	TagNode                = 0x4E // 'N'
	TagRelationship        = 0x52 // 'R'
	TagUnboundRelationship = 0x72 // 'r'
	TagPath                = 0x50 // 'P'
	TagPoint2D             = 0x58 // 'X'
	TagPoint3D             = 0x59 // 'Y'
	TagDate                = 0x44 // 'D'
	TagTime                = 0x54 // 'T'
	TagLocalTime           = 0x74 // 't'
	TagDateTime            = 0x46 // 'F'
	TagLocalDateTime       = 0x64 // 'd'
	TagDuration            = 0x45 // 'E'
)

// Node is a graph node: a server-assigned identity, a set of labels and a
// property map. Labels are unordered; Props keys are unique.
type Node struct {
	ID     int64
	Labels []string
	Props  map[string]any
}

// HasLabel reports whether the node carries the given label.
func (n Node) HasLabel(label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Relationship is a directed edge between two nodes identified by StartID
// and EndID.
type Relationship struct {
	ID      int64
	StartID int64
	EndID   int64
	Type    string
	Props   map[string]any
}

// UnboundRelationship is a relationship without endpoint identities. It only
// occurs inside a Path, where the endpoints are given by the path's index
// sequence.
type UnboundRelationship struct {
	ID    int64
	Type  string
	Props map[string]any
}

// Path is an alternating node/relationship walk. Nodes and Relationships are
// the unique entities on the path; Indices describes the traversal: pairs of
// (relationship index, node index) where a positive odd entry 2i-1 selects
// Relationships[i-1] traversed forward, a negative entry selects it
// traversed backward, and the following entry selects the next node.
type Path struct {
	Nodes         []Node
	Relationships []UnboundRelationship
	Indices       []int64
}

// Segment is one hop of a path with its relationship direction resolved.
type Segment struct {
	Start        Node
	Relationship UnboundRelationship
	End          Node
}

// Walk expands the index sequence into segments, validating that it
// describes a well-formed alternating node-edge-node walk.
func (p Path) Walk() ([]Segment, error) {
	if len(p.Nodes) == 0 {
		return nil, fmt.Errorf("path has no nodes")
	}
	if len(p.Indices)%2 != 0 {
		return nil, fmt.Errorf("path index sequence has odd length %d", len(p.Indices))
	}
	segments := make([]Segment, 0, len(p.Indices)/2)
	current := p.Nodes[0]
	for i := 0; i < len(p.Indices); i += 2 {
		relIdx, nodeIdx := p.Indices[i], p.Indices[i+1]
		if relIdx == 0 {
			return nil, fmt.Errorf("path relationship index must be non-zero")
		}
		forward := relIdx > 0
		if !forward {
			relIdx = -relIdx
		}
		if int(relIdx) > len(p.Relationships) {
			return nil, fmt.Errorf("path relationship index %d out of range", relIdx)
		}
		if nodeIdx < 0 || int(nodeIdx) >= len(p.Nodes) {
			return nil, fmt.Errorf("path node index %d out of range", nodeIdx)
		}
		next := p.Nodes[nodeIdx]
		rel := p.Relationships[relIdx-1]
		if forward {
			segments = append(segments, Segment{Start: current, Relationship: rel, End: next})
		} else {
			segments = append(segments, Segment{Start: next, Relationship: rel, End: current})
		}
		current = next
	}
	return segments, nil
}

// Point2D is a spatial point in the coordinate system identified by SRID.
type Point2D struct {
	SRID int64
	X    float64
	Y    float64
}

// Point3D is a spatial point with three coordinates.
type Point3D struct {
	SRID int64
	X    float64
	Y    float64
	Z    float64
}

// Date is a temporal value with day precision.
type Date struct {
	Days int64 // days since the Unix epoch
}

// Time returns the date as a UTC time at midnight.
func (d Date) Time() time.Time {
	return time.Unix(d.Days*86400, 0).UTC()
}

// Time is a time of day with a fixed UTC offset.
type Time struct {
	Nanos  int64 // nanoseconds since midnight
	Offset int64 // offset from UTC in seconds
}

// LocalTime is a time of day without a zone.
type LocalTime struct {
	Nanos int64 // nanoseconds since midnight
}

// DateTime is an instant with a fixed UTC offset.
type DateTime struct {
	Seconds int64 // seconds since the Unix epoch, in the local offset
	Nanos   int64
	Offset  int64 // offset from UTC in seconds
}

// Time returns the instant in its fixed-offset zone.
func (d DateTime) Time() time.Time {
	zone := time.FixedZone("", int(d.Offset))
	return time.Unix(d.Seconds-d.Offset, d.Nanos).In(zone)
}

// LocalDateTime is a wall-clock instant without a zone.
type LocalDateTime struct {
	Seconds int64
	Nanos   int64
}

// Time returns the instant interpreted as UTC.
func (d LocalDateTime) Time() time.Time {
	return time.Unix(d.Seconds, d.Nanos).UTC()
}

// Duration is a temporal amount. Months and days are kept separate from
// seconds because their length depends on the calendar.
type Duration struct {
	Months  int64
	Days    int64
	Seconds int64
	Nanos   int64
}

// FromStructure converts a decoded wire structure into its graph value.
// Unknown tags and shape violations return an error; the caller classifies
// it as a protocol failure.
func FromStructure(s packstream.Structure) (any, error) {
	switch s.Tag {
	case TagNode:
		if len(s.Fields) < 3 {
			return nil, shapeError(s, "Node", 3)
		}
		id, ok := convert.ToInt64(s.Fields[0])
		if !ok {
			return nil, fieldError(s, "Node", 0, "integer id")
		}
		labels, err := stringList(s.Fields[1])
		if err != nil {
			return nil, fieldError(s, "Node", 1, "label list")
		}
		props, err := propertyMap(s.Fields[2])
		if err != nil {
			return nil, fieldError(s, "Node", 2, "property map")
		}
		return Node{ID: id, Labels: labels, Props: props}, nil

	case TagRelationship:
		if len(s.Fields) < 5 {
			return nil, shapeError(s, "Relationship", 5)
		}
		id, ok1 := convert.ToInt64(s.Fields[0])
		start, ok2 := convert.ToInt64(s.Fields[1])
		end, ok3 := convert.ToInt64(s.Fields[2])
		relType, ok4 := s.Fields[3].(string)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return nil, shapeError(s, "Relationship", 5)
		}
		props, err := propertyMap(s.Fields[4])
		if err != nil {
			return nil, fieldError(s, "Relationship", 4, "property map")
		}
		return Relationship{ID: id, StartID: start, EndID: end, Type: relType, Props: props}, nil

	case TagUnboundRelationship:
		if len(s.Fields) < 3 {
			return nil, shapeError(s, "UnboundRelationship", 3)
		}
		id, ok1 := convert.ToInt64(s.Fields[0])
		relType, ok2 := s.Fields[1].(string)
		if !ok1 || !ok2 {
			return nil, shapeError(s, "UnboundRelationship", 3)
		}
		props, err := propertyMap(s.Fields[2])
		if err != nil {
			return nil, fieldError(s, "UnboundRelationship", 2, "property map")
		}
		return UnboundRelationship{ID: id, Type: relType, Props: props}, nil

	case TagPath:
		if len(s.Fields) < 3 {
			return nil, shapeError(s, "Path", 3)
		}
		rawNodes, ok := s.Fields[0].([]any)
		if !ok {
			return nil, fieldError(s, "Path", 0, "node list")
		}
		nodes := make([]Node, len(rawNodes))
		for i, rn := range rawNodes {
			ns, ok := rn.(packstream.Structure)
			if !ok {
				return nil, fieldError(s, "Path", 0, "node list")
			}
			v, err := FromStructure(ns)
			if err != nil {
				return nil, err
			}
			node, ok := v.(Node)
			if !ok {
				return nil, fieldError(s, "Path", 0, "node list")
			}
			nodes[i] = node
		}
		rawRels, ok := s.Fields[1].([]any)
		if !ok {
			return nil, fieldError(s, "Path", 1, "relationship list")
		}
		rels := make([]UnboundRelationship, len(rawRels))
		for i, rr := range rawRels {
			rs, ok := rr.(packstream.Structure)
			if !ok {
				return nil, fieldError(s, "Path", 1, "relationship list")
			}
			v, err := FromStructure(rs)
			if err != nil {
				return nil, err
			}
			rel, ok := v.(UnboundRelationship)
			if !ok {
				return nil, fieldError(s, "Path", 1, "relationship list")
			}
			rels[i] = rel
		}
		indices, err := intList(s.Fields[2])
		if err != nil {
			return nil, fieldError(s, "Path", 2, "index list")
		}
		path := Path{Nodes: nodes, Relationships: rels, Indices: indices}
		if _, err := path.Walk(); err != nil {
			return nil, fmt.Errorf("invalid path: %w", err)
		}
		return path, nil

	case TagPoint2D:
		if len(s.Fields) < 3 {
			return nil, shapeError(s, "Point2D", 3)
		}
		srid, ok1 := convert.ToInt64(s.Fields[0])
		x, ok2 := convert.ToFloat64(s.Fields[1])
		y, ok3 := convert.ToFloat64(s.Fields[2])
		if !ok1 || !ok2 || !ok3 {
			return nil, shapeError(s, "Point2D", 3)
		}
		return Point2D{SRID: srid, X: x, Y: y}, nil

	case TagPoint3D:
		if len(s.Fields) < 4 {
			return nil, shapeError(s, "Point3D", 4)
		}
		srid, ok1 := convert.ToInt64(s.Fields[0])
		x, ok2 := convert.ToFloat64(s.Fields[1])
		y, ok3 := convert.ToFloat64(s.Fields[2])
		z, ok4 := convert.ToFloat64(s.Fields[3])
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return nil, shapeError(s, "Point3D", 4)
		}
		return Point3D{SRID: srid, X: x, Y: y, Z: z}, nil

	case TagDate:
		days, err := intFields(s, "Date", 1)
		if err != nil {
			return nil, err
		}
		return Date{Days: days[0]}, nil

	case TagTime:
		f, err := intFields(s, "Time", 2)
		if err != nil {
			return nil, err
		}
		return Time{Nanos: f[0], Offset: f[1]}, nil

	case TagLocalTime:
		f, err := intFields(s, "LocalTime", 1)
		if err != nil {
			return nil, err
		}
		return LocalTime{Nanos: f[0]}, nil

	case TagDateTime:
		f, err := intFields(s, "DateTime", 3)
		if err != nil {
			return nil, err
		}
		return DateTime{Seconds: f[0], Nanos: f[1], Offset: f[2]}, nil

	case TagLocalDateTime:
		f, err := intFields(s, "LocalDateTime", 2)
		if err != nil {
			return nil, err
		}
		return LocalDateTime{Seconds: f[0], Nanos: f[1]}, nil

	case TagDuration:
		f, err := intFields(s, "Duration", 4)
		if err != nil {
			return nil, err
		}
		return Duration{Months: f[0], Days: f[1], Seconds: f[2], Nanos: f[3]}, nil

	default:
		return nil, fmt.Errorf("unknown structure tag 0x%02X", s.Tag)
	}
}

// Hydrate recursively converts wire structures inside a decoded value into
// graph values. Lists and maps are rebuilt with their elements hydrated.
func Hydrate(v any) (any, error) {
	switch val := v.(type) {
	case packstream.Structure:
		return FromStructure(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			h, err := Hydrate(item)
			if err != nil {
				return nil, err
			}
			out[i] = h
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			h, err := Hydrate(item)
			if err != nil {
				return nil, err
			}
			out[k] = h
		}
		return out, nil
	default:
		return v, nil
	}
}

// Dehydrate converts parameter values of graph types back into wire
// structures. Only the value kinds a server accepts as parameters convert:
// points and temporal values. Nodes, relationships and paths are
// server-owned and are passed through unchanged so the server can reject
// them with its own error.
func Dehydrate(v any) any {
	switch val := v.(type) {
	case Point2D:
		return packstream.Structure{Tag: TagPoint2D, Fields: []any{val.SRID, val.X, val.Y}}
	case Point3D:
		return packstream.Structure{Tag: TagPoint3D, Fields: []any{val.SRID, val.X, val.Y, val.Z}}
	case Date:
		return packstream.Structure{Tag: TagDate, Fields: []any{val.Days}}
	case Time:
		return packstream.Structure{Tag: TagTime, Fields: []any{val.Nanos, val.Offset}}
	case LocalTime:
		return packstream.Structure{Tag: TagLocalTime, Fields: []any{val.Nanos}}
	case DateTime:
		return packstream.Structure{Tag: TagDateTime, Fields: []any{val.Seconds, val.Nanos, val.Offset}}
	case LocalDateTime:
		return packstream.Structure{Tag: TagLocalDateTime, Fields: []any{val.Seconds, val.Nanos}}
	case Duration:
		return packstream.Structure{Tag: TagDuration, Fields: []any{val.Months, val.Days, val.Seconds, val.Nanos}}
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Dehydrate(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Dehydrate(item)
		}
		return out
	default:
		return v
	}
}

func shapeError(s packstream.Structure, name string, want int) error {
	return fmt.Errorf("%s structure has %d fields, want %d", name, len(s.Fields), want)
}

func fieldError(s packstream.Structure, name string, idx int, want string) error {
	return fmt.Errorf("%s structure field %d: expected %s, got %T", name, idx, want, s.Fields[idx])
}

func intFields(s packstream.Structure, name string, want int) ([]int64, error) {
	if len(s.Fields) < want {
		return nil, shapeError(s, name, want)
	}
	out := make([]int64, want)
	for i := 0; i < want; i++ {
		n, ok := convert.ToInt64(s.Fields[i])
		if !ok {
			return nil, fieldError(s, name, i, "integer")
		}
		out[i] = n
	}
	return out, nil
}

func propertyMap(v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("not a map: %T", v)
	}
	return m, nil
}

func stringList(v any) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		if s, ok := v.([]string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("not a list: %T", v)
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("list item %d is %T, not string", i, item)
		}
		out[i] = s
	}
	return out, nil
}

func intList(v any) ([]int64, error) {
	items, ok := v.([]any)
	if !ok {
		if s, ok := v.([]int64); ok {
			return s, nil
		}
		return nil, fmt.Errorf("not a list: %T", v)
	}
	out := make([]int64, len(items))
	for i, item := range items {
		n, ok := convert.ToInt64(item)
		if !ok {
			return nil, fmt.Errorf("list item %d is %T, not integer", i, item)
		}
		out[i] = n
	}
	return out, nil
}
