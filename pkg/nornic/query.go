package nornic

// Query is a Cypher query plus its parameter map, built fluently:
//
//	q := nornic.NewQuery("CREATE (p:Person {name: $name}) RETURN p").
//		Param("name", "Mr Mark")
//
// Parameters are encoded as PackStream values; use graph.Point2D, graph.Date
// and friends for spatial and temporal parameters. Always pass user input as
// parameters, never by string interpolation.
type Query struct {
	text      string
	params    map[string]any
	bookmarks []string
}

// NewQuery starts a query from its Cypher text.
func NewQuery(text string) *Query {
	return &Query{text: text, params: map[string]any{}}
}

// Param sets one named parameter and returns the query for chaining.
func (q *Query) Param(key string, value any) *Query {
	q.params[key] = value
	return q
}

// Params merges a map of parameters into the query.
func (q *Query) Params(params map[string]any) *Query {
	for k, v := range params {
		q.params[k] = v
	}
	return q
}

// After chains this query causally behind earlier commits by their
// bookmarks. Only meaningful for auto-commit execution.
func (q *Query) After(bookmarks ...string) *Query {
	q.bookmarks = append(q.bookmarks, bookmarks...)
	return q
}

// Text returns the Cypher text.
func (q *Query) Text() string { return q.text }
