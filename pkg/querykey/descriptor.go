// Package querykey turns request descriptors into canonical cache keys.
package querykey

import "slices"

// Param is a single named request parameter.
type Param struct {
	Name  string
	Value any
}

// Descriptor identifies a remote resource: an endpoint plus its path and query
// parameters. A Descriptor is immutable once constructed; accessors return
// copies, and the key is fixed at construction, so later changes to a map or
// slice passed as a parameter value do not move it.
type Descriptor struct {
	endpoint string
	path     []Param
	query    []Param
	key      Key
}

// Option adds parameters to a Descriptor under construction.
type Option func(d *Descriptor)

// Path adds a path parameter, e.g. the id in /users/{id}.
func Path(name string, value any) Option {
	return func(d *Descriptor) {
		d.path = append(d.path, Param{Name: name, Value: value})
	}
}

// Query adds a query-string parameter.
func Query(name string, value any) Option {
	return func(d *Descriptor) {
		d.query = append(d.query, Param{Name: name, Value: value})
	}
}

// New creates a Descriptor for the endpoint. Parameters may be given in any
// order; a later parameter with the same name replaces an earlier one.
func New(endpoint string, opts ...Option) Descriptor {
	d := Descriptor{endpoint: endpoint}
	for _, opt := range opts {
		opt(&d)
	}
	d.path = dedupe(d.path)
	d.query = dedupe(d.query)
	d.key = serialize(d)
	return d
}

// Endpoint returns the endpoint identifier.
func (d Descriptor) Endpoint() string { return d.endpoint }

// PathParams returns a copy of the path parameters in insertion order.
func (d Descriptor) PathParams() []Param { return slices.Clone(d.path) }

// QueryParams returns a copy of the query parameters in insertion order.
func (d Descriptor) QueryParams() []Param { return slices.Clone(d.query) }

// PathParam looks up a path parameter by name.
func (d Descriptor) PathParam(name string) (any, bool) {
	return lookup(d.path, name)
}

// QueryParam looks up a query parameter by name.
func (d Descriptor) QueryParam(name string) (any, bool) {
	return lookup(d.query, name)
}

// Key is shorthand for Serialize(d).
func (d Descriptor) Key() Key { return Serialize(d) }

// String returns the canonical key, which is also a readable form for logs.
func (d Descriptor) String() string { return string(d.Key()) }

func lookup(params []Param, name string) (any, bool) {
	for _, p := range params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// dedupe keeps the last value for each name, preserving first-seen position.
func dedupe(params []Param) []Param {
	if len(params) < 2 {
		return params
	}
	out := make([]Param, 0, len(params))
	index := make(map[string]int, len(params))
	for _, p := range params {
		if i, ok := index[p.Name]; ok {
			out[i].Value = p.Value
			continue
		}
		index[p.Name] = len(out)
		out = append(out, p)
	}
	return out
}
