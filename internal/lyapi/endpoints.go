package lyapi

import (
	"context"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Relations of a legislator record, appended to /legislators/{term}/{name}.
const (
	RelProposeBills    = "propose_bills"
	RelCosignBills     = "cosign_bills"
	RelMeets           = "meets"
	RelInterpellations = "interpellations"
)

// Relations of a meeting record, appended to /meets/{id}.
const (
	MeetBills           = "bills"
	MeetIVODs           = "ivods"
	MeetInterpellations = "interpellations"
)

var (
	legislatorRelations = map[string]bool{
		RelProposeBills: true, RelCosignBills: true, RelMeets: true, RelInterpellations: true,
	}
	meetRelations = map[string]bool{
		MeetBills: true, MeetIVODs: true, MeetInterpellations: true,
	}
)

// Legislators lists legislators.
func (c *Client) Legislators(ctx context.Context, q *Query) (gjson.Result, error) {
	return c.Get(ctx, "/legislators", "/legislators", q)
}

// Legislator fetches one legislator record for a term.
func (c *Client) Legislator(ctx context.Context, term int, name string) (gjson.Result, error) {
	if strings.TrimSpace(name) == "" {
		return gjson.Result{}, Invalid("name", "must not be empty")
	}
	return c.Get(ctx, "/legislators/{term}/{name}", legislatorPath(c.Term(term), name), nil)
}

// LegislatorRelation lists records related to a legislator, one of
// [RelProposeBills], [RelCosignBills], [RelMeets] or [RelInterpellations].
func (c *Client) LegislatorRelation(ctx context.Context, term int, name, relation string, q *Query) (gjson.Result, error) {
	if strings.TrimSpace(name) == "" {
		return gjson.Result{}, Invalid("name", "must not be empty")
	}
	if !legislatorRelations[relation] {
		return gjson.Result{}, Invalid("relation", "unknown legislator relation %q", relation)
	}
	return c.Get(ctx, "/legislators/{term}/{name}/"+relation,
		legislatorPath(c.Term(term), name)+"/"+relation, q)
}

// LegislatorRelationURL returns the absolute URL of a legislator relation.
func (c *Client) LegislatorRelationURL(term int, name, relation string) string {
	return c.URL(legislatorPath(c.Term(term), name) + "/" + relation)
}

func legislatorPath(term int, name string) string {
	return "/legislators/" + strconv.Itoa(term) + "/" + PathSegment(name)
}

// Bills searches bills.
func (c *Client) Bills(ctx context.Context, q *Query) (gjson.Result, error) {
	return c.Get(ctx, "/bills", "/bills", q)
}

// Bill fetches a bill by 議案編號.
func (c *Client) Bill(ctx context.Context, billNo string) (gjson.Result, error) {
	if strings.TrimSpace(billNo) == "" {
		return gjson.Result{}, Invalid("bill_no", "must not be empty")
	}
	return c.Get(ctx, "/bills/{bill_no}", "/bills/"+PathSegment(billNo), nil)
}

// Committees lists committees.
func (c *Client) Committees(ctx context.Context, q *Query) (gjson.Result, error) {
	return c.Get(ctx, "/committees", "/committees", q)
}

// Meets searches meetings.
func (c *Client) Meets(ctx context.Context, q *Query) (gjson.Result, error) {
	return c.Get(ctx, "/meets", "/meets", q)
}

// MeetRelation lists records attached to a meeting, one of [MeetBills],
// [MeetIVODs] or [MeetInterpellations].
func (c *Client) MeetRelation(ctx context.Context, meetID, relation string, q *Query) (gjson.Result, error) {
	if strings.TrimSpace(meetID) == "" {
		return gjson.Result{}, Invalid("meeting_id", "must not be empty")
	}
	if !meetRelations[relation] {
		return gjson.Result{}, Invalid("relation", "unknown meeting relation %q", relation)
	}
	return c.Get(ctx, "/meets/{id}/"+relation, "/meets/"+PathSegment(meetID)+"/"+relation, q)
}

// Interpellations searches interpellations.
func (c *Client) Interpellations(ctx context.Context, q *Query) (gjson.Result, error) {
	return c.Get(ctx, "/interpellations", "/interpellations", q)
}

// Interpellation fetches one interpellation.
func (c *Client) Interpellation(ctx context.Context, id string) (gjson.Result, error) {
	if strings.TrimSpace(id) == "" {
		return gjson.Result{}, Invalid("interpellation_id", "must not be empty")
	}
	return c.Get(ctx, "/interpellations/{id}", "/interpellations/"+PathSegment(id), nil)
}

// Gazettes searches gazettes.
func (c *Client) Gazettes(ctx context.Context, q *Query) (gjson.Result, error) {
	return c.Get(ctx, "/gazettes", "/gazettes", q)
}

// Gazette fetches one gazette.
func (c *Client) Gazette(ctx context.Context, id string) (gjson.Result, error) {
	if strings.TrimSpace(id) == "" {
		return gjson.Result{}, Invalid("gazette_id", "must not be empty")
	}
	return c.Get(ctx, "/gazettes/{id}", "/gazettes/"+PathSegment(id), nil)
}

// GazetteAgendas lists the agenda items of a gazette.
func (c *Client) GazetteAgendas(ctx context.Context, id string, q *Query) (gjson.Result, error) {
	if strings.TrimSpace(id) == "" {
		return gjson.Result{}, Invalid("gazette_id", "must not be empty")
	}
	return c.Get(ctx, "/gazettes/{id}/agendas", "/gazettes/"+PathSegment(id)+"/agendas", q)
}

// ---- payload helpers ----

// Total returns the record count of a list response. The v2 API reports it
// as "total"; some older payloads use "總筆數".
func Total(res gjson.Result) int {
	if t := res.Get("total"); t.Exists() {
		return int(t.Int())
	}
	return int(res.Get("總筆數").Int())
}

// Items returns the records of a list response stored under key. When key is
// absent the first top-level array is used, since sub-resource lists name
// their array after the record type.
func Items(res gjson.Result, key string) []gjson.Result {
	if v := res.Get(gjson.Escape(key)); v.IsArray() {
		return v.Array()
	}
	var items []gjson.Result
	res.ForEach(func(k, v gjson.Result) bool {
		if v.IsArray() && k.String() != "aggs" {
			items = v.Array()
			return false
		}
		return true
	})
	return items
}

// Data returns the record of a detail response, stored under "data".
func Data(res gjson.Result) gjson.Result {
	if d := res.Get("data"); d.Exists() {
		return d
	}
	return res
}

// Field reads a Chinese-named field from a record.
func Field(rec gjson.Result, name string) gjson.Result {
	return rec.Get(gjson.Escape(name))
}

// Str reads a Chinese-named field as a string.
func Str(rec gjson.Result, name string) string {
	return Field(rec, name).String()
}

// Names reads a field that holds either an array of names or a single
// 、-separated string, returning trimmed, non-empty names.
func Names(rec gjson.Result, name string) []string {
	v := Field(rec, name)
	var out []string
	add := func(s string) {
		for _, part := range strings.FieldsFunc(s, func(r rune) bool {
			return r == '、' || r == ',' || r == '，'
		}) {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	if v.IsArray() {
		for _, e := range v.Array() {
			if e.IsObject() {
				add(Str(e, "委員姓名"))
				continue
			}
			add(e.String())
		}
		return out
	}
	add(v.String())
	return out
}
