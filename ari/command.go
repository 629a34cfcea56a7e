package ari

import (
	"net/url"
	"strconv"
	"strings"
)

// Method is the HTTP verb of an ARI command.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodDelete Method = "DELETE"
)

// Omit marks an optional numeric parameter as absent.
const Omit = -1

// Query is an ordered list of rendered key=value pairs. Keys may repeat.
type Query []string

// Add appends key with a percent-encoded value.
func (q Query) Add(key, value string) Query {
	return append(q, key+"="+escape(value))
}

// AddRaw appends key with value passed through literally.
func (q Query) AddRaw(key, value string) Query {
	return append(q, key+"="+value)
}

// AddString appends key only when value is not empty.
func (q Query) AddString(key, value string) Query {
	if value == "" {
		return q
	}
	return q.AddRaw(key, value)
}

// AddInt appends key only when value is not negative.
func (q Query) AddInt(key string, value int) Query {
	if value < 0 {
		return q
	}
	return q.AddRaw(key, strconv.Itoa(value))
}

// Has reports whether key appears in the query.
func (q Query) Has(key string) bool {
	for _, p := range q {
		if strings.HasPrefix(p, key+"=") {
			return true
		}
	}
	return false
}

// String renders the pairs joined by '&', without the leading '?'.
func (q Query) String() string {
	return strings.Join(q, "&")
}

// Command describes one outbound ARI request.
type Command struct {
	Method Method
	Path   string
	Query  Query
	Body   []byte
}

// URI returns the request path with its query string.
func (c Command) URI() string {
	if len(c.Query) == 0 {
		return c.Path
	}
	return c.Path + "?" + c.Query.String()
}

func (c Command) String() string {
	return string(c.Method) + " " + c.URI()
}

// escape percent-encodes everything outside the RFC 3986 unreserved set.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
