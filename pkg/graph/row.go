package graph

import (
	"fmt"

	"github.com/orneryd/nornic-go/pkg/convert"
)

// TypeMismatchError reports a checked extraction whose target type does not
// match the stored value's shape.
type TypeMismatchError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("field %q: expected %s, got %s", e.Field, e.Expected, e.Actual)
}

// Row is one record of a result: an ordered sequence of named values. Rows
// are fully materialized snapshots with no reference to the connection that
// produced them, so they remain valid after the stream and connection are
// gone.
type Row struct {
	keys   []string
	values []any
}

// NewRow builds a row from field names and their values. The two slices are
// taken over by the row and must not be mutated afterwards.
func NewRow(keys []string, values []any) Row {
	return Row{keys: keys, values: values}
}

// Keys returns the declared field names in declaration order.
func (r Row) Keys() []string {
	return r.keys
}

// Values returns the field values in declaration order.
func (r Row) Values() []any {
	return r.values
}

// Len returns the number of fields.
func (r Row) Len() int {
	return len(r.keys)
}

// Get returns the value of the named field and whether the field exists.
func (r Row) Get(key string) (any, bool) {
	for i, k := range r.keys {
		if k == key {
			return r.values[i], true
		}
	}
	return nil, false
}

// Index returns the value at position i.
func (r Row) Index(i int) any {
	return r.values[i]
}

// kindOf names a value's kind for mismatch errors.
func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "Null"
	case bool:
		return "Boolean"
	case int64, int, int32:
		return "Integer"
	case float64, float32:
		return "Float"
	case string:
		return "String"
	case []byte:
		return "Bytes"
	case []any:
		return "List"
	case map[string]any:
		return "Map"
	case Node:
		return "Node"
	case Relationship:
		return "Relationship"
	case UnboundRelationship:
		return "UnboundRelationship"
	case Path:
		return "Path"
	case Point2D:
		return "Point2D"
	case Point3D:
		return "Point3D"
	case Date:
		return "Date"
	case Time:
		return "Time"
	case LocalTime:
		return "LocalTime"
	case DateTime:
		return "DateTime"
	case LocalDateTime:
		return "LocalDateTime"
	case Duration:
		return "Duration"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func (r Row) lookup(key, expected string) (any, error) {
	v, ok := r.Get(key)
	if !ok {
		return nil, &TypeMismatchError{Field: key, Expected: expected, Actual: "missing field"}
	}
	return v, nil
}

// GetInt extracts an integer field.
func (r Row) GetInt(key string) (int64, error) {
	v, err := r.lookup(key, "Integer")
	if err != nil {
		return 0, err
	}
	n, ok := convert.ToInt64(v)
	if !ok {
		return 0, &TypeMismatchError{Field: key, Expected: "Integer", Actual: kindOf(v)}
	}
	return n, nil
}

// GetFloat extracts a float field; integer values widen.
func (r Row) GetFloat(key string) (float64, error) {
	v, err := r.lookup(key, "Float")
	if err != nil {
		return 0, err
	}
	f, ok := convert.ToFloat64(v)
	if !ok {
		return 0, &TypeMismatchError{Field: key, Expected: "Float", Actual: kindOf(v)}
	}
	return f, nil
}

// GetString extracts a string field.
func (r Row) GetString(key string) (string, error) {
	v, err := r.lookup(key, "String")
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", &TypeMismatchError{Field: key, Expected: "String", Actual: kindOf(v)}
	}
	return s, nil
}

// GetBool extracts a boolean field.
func (r Row) GetBool(key string) (bool, error) {
	v, err := r.lookup(key, "Boolean")
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, &TypeMismatchError{Field: key, Expected: "Boolean", Actual: kindOf(v)}
	}
	return b, nil
}

// GetBytes extracts a byte array field.
func (r Row) GetBytes(key string) ([]byte, error) {
	v, err := r.lookup(key, "Bytes")
	if err != nil {
		return nil, err
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, &TypeMismatchError{Field: key, Expected: "Bytes", Actual: kindOf(v)}
	}
	return b, nil
}

// GetList extracts a list field.
func (r Row) GetList(key string) ([]any, error) {
	v, err := r.lookup(key, "List")
	if err != nil {
		return nil, err
	}
	l, ok := v.([]any)
	if !ok {
		return nil, &TypeMismatchError{Field: key, Expected: "List", Actual: kindOf(v)}
	}
	return l, nil
}

// GetMap extracts a map field.
func (r Row) GetMap(key string) (map[string]any, error) {
	v, err := r.lookup(key, "Map")
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &TypeMismatchError{Field: key, Expected: "Map", Actual: kindOf(v)}
	}
	return m, nil
}

// GetNode extracts a node field.
func (r Row) GetNode(key string) (Node, error) {
	v, err := r.lookup(key, "Node")
	if err != nil {
		return Node{}, err
	}
	n, ok := v.(Node)
	if !ok {
		return Node{}, &TypeMismatchError{Field: key, Expected: "Node", Actual: kindOf(v)}
	}
	return n, nil
}

// GetRelationship extracts a relationship field.
func (r Row) GetRelationship(key string) (Relationship, error) {
	v, err := r.lookup(key, "Relationship")
	if err != nil {
		return Relationship{}, err
	}
	rel, ok := v.(Relationship)
	if !ok {
		return Relationship{}, &TypeMismatchError{Field: key, Expected: "Relationship", Actual: kindOf(v)}
	}
	return rel, nil
}

// GetPath extracts a path field.
func (r Row) GetPath(key string) (Path, error) {
	v, err := r.lookup(key, "Path")
	if err != nil {
		return Path{}, err
	}
	p, ok := v.(Path)
	if !ok {
		return Path{}, &TypeMismatchError{Field: key, Expected: "Path", Actual: kindOf(v)}
	}
	return p, nil
}

// GetPoint2D extracts a 2D point field.
func (r Row) GetPoint2D(key string) (Point2D, error) {
	v, err := r.lookup(key, "Point2D")
	if err != nil {
		return Point2D{}, err
	}
	p, ok := v.(Point2D)
	if !ok {
		return Point2D{}, &TypeMismatchError{Field: key, Expected: "Point2D", Actual: kindOf(v)}
	}
	return p, nil
}

// GetPoint3D extracts a 3D point field.
func (r Row) GetPoint3D(key string) (Point3D, error) {
	v, err := r.lookup(key, "Point3D")
	if err != nil {
		return Point3D{}, err
	}
	p, ok := v.(Point3D)
	if !ok {
		return Point3D{}, &TypeMismatchError{Field: key, Expected: "Point3D", Actual: kindOf(v)}
	}
	return p, nil
}

// GetDateTime extracts a zoned datetime field.
func (r Row) GetDateTime(key string) (DateTime, error) {
	v, err := r.lookup(key, "DateTime")
	if err != nil {
		return DateTime{}, err
	}
	d, ok := v.(DateTime)
	if !ok {
		return DateTime{}, &TypeMismatchError{Field: key, Expected: "DateTime", Actual: kindOf(v)}
	}
	return d, nil
}
