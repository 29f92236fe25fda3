package lyapi

import (
	"net/url"
	"strconv"
	"strings"
)

// Query collects upstream query parameters. Keys are the upstream field
// names, which are mostly Chinese (屆, 會期, 黨籍, ...). Setters skip zero
// values so optional tool arguments can be passed through unconditionally.
type Query struct {
	v url.Values
}

// NewQuery returns an empty query.
func NewQuery() *Query { return &Query{v: url.Values{}} }

// Set sets key to value, unless value is empty.
func (q *Query) Set(key, value string) *Query {
	if value != "" {
		q.v.Set(key, value)
	}
	return q
}

// Int sets key to n, unless n is zero.
func (q *Query) Int(key string, n int) *Query {
	if n != 0 {
		q.v.Set(key, strconv.Itoa(n))
	}
	return q
}

// Term sets 屆.
func (q *Query) Term(term int) *Query { return q.Int("屆", term) }

// Session sets 會期.
func (q *Query) Session(session int) *Query { return q.Int("會期", session) }

// Page sets page and limit, falling back to 1 and [DefaultLimit].
func (q *Query) Page(page, limit int) *Query {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	q.v.Set("page", strconv.Itoa(page))
	q.v.Set("limit", strconv.Itoa(limit))
	return q
}

// Agg requests server-side aggregation over the given fields.
func (q *Query) Agg(fields ...string) *Query {
	if len(fields) > 0 {
		q.v.Set("agg", strings.Join(fields, ","))
	}
	return q
}

// Phrase sets the full-text query q to the quoted phrase, so the upstream
// matches it as a unit rather than as separate terms.
func (q *Query) Phrase(text string) *Query {
	text = strings.Trim(strings.TrimSpace(text), `"`)
	if text != "" {
		q.v.Set("q", `"`+text+`"`)
	}
	return q
}

// Text sets the full-text query q verbatim.
func (q *Query) Text(text string) *Query { return q.Set("q", strings.TrimSpace(text)) }

// DateRange sets 日期_gte and 日期_lte from YYYY-MM-DD dates, covering the
// whole of the end day.
func (q *Query) DateRange(from, to string) *Query {
	if from != "" {
		q.v.Set("日期_gte", from+"T00:00:00.000Z")
	}
	if to != "" {
		q.v.Set("日期_lte", to+"T23:59:59.999Z")
	}
	return q
}

// Get returns the current value for key.
func (q *Query) Get(key string) string { return q.v.Get(key) }

// Encode returns the URL-encoded form, sorted by key.
func (q *Query) Encode() string {
	if q == nil {
		return ""
	}
	return q.v.Encode()
}
