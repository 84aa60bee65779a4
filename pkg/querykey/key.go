package querykey

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key is the canonical, comparable form of a Descriptor.
type Key string

// Serialize builds the canonical key for a descriptor. Parameters are sorted by
// name within each section and values are JSON encoded, so the integer 1 and
// the string "1" produce different keys. It never fails.
func Serialize(d Descriptor) Key {
	if d.key != "" {
		return d.key
	}
	return serialize(d)
}

func serialize(d Descriptor) Key {
	var b strings.Builder
	b.WriteString(url.QueryEscape(d.endpoint))
	writeSection(&b, "path", d.path)
	writeSection(&b, "query", d.query)
	return Key(b.String())
}

func writeSection(b *strings.Builder, name string, params []Param) {
	if len(params) == 0 {
		return
	}
	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, url.QueryEscape(p.Name)+"="+url.QueryEscape(encodeValue(p.Value)))
	}
	sort.Strings(parts)
	b.WriteString("|")
	b.WriteString(name)
	b.WriteString(":")
	b.WriteString(strings.Join(parts, "&"))
}

// encodeValue produces a stable textual form of a parameter value. Maps are
// encoded with sorted keys by encoding/json.
func encodeValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%T:%v", v, v)
	}
	return string(data)
}

// Endpoint extracts the endpoint part of a key.
func (k Key) Endpoint() string {
	endpoint, _, _ := strings.Cut(string(k), "|")
	if unescaped, err := url.QueryUnescape(endpoint); err == nil {
		return unescaped
	}
	return endpoint
}
