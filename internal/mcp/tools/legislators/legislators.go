// Package legislators provides the built-in tools that look up legislators:
// listings by name, party or constituency, detail records, proposed and
// cosigned bills, meeting records, committee memberships and party seat
// counts.
//
// All tools default to the client's default term (the 11th) when no term is
// given. All handlers are safe for concurrent use.
package legislators

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/MrWong99/lybot/internal/constituency"
	"github.com/MrWong99/lybot/internal/lyapi"
	"github.com/MrWong99/lybot/internal/mcp/tools"
	"github.com/MrWong99/lybot/pkg/provider/llm"
)

// listKey is the array name of legislator list responses.
const listKey = "legislators"

// committeeFields are the record fields that may hold committee memberships.
var committeeFields = []string{"現任委員會", "歷屆委員會", "委員會"}

type listArgs struct {
	Name  string `json:"name,omitempty"`
	Party string `json:"party,omitempty"`
	Term  int    `json:"term,omitempty"`
}

type constituencyArgs struct {
	Constituency string `json:"constituency"`
}

type nameArgs struct {
	Name string `json:"name"`
	Term int    `json:"term,omitempty"`
}

type partyArgs struct {
	Party string `json:"party"`
	Term  int    `json:"term,omitempty"`
}

type relationArgs struct {
	Name          string `json:"name"`
	Term          int    `json:"term,omitempty"`
	SessionPeriod int    `json:"session_period,omitempty"`
	BillType      string `json:"bill_type,omitempty"`
	MeetingType   string `json:"meeting_type,omitempty"`
	Page          int    `json:"page,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Handler constructors
// ─────────────────────────────────────────────────────────────────────────────

func makeListHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a listArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		q := lyapi.NewQuery().
			Term(c.Term(a.Term)).
			Set("委員姓名", strings.TrimSpace(a.Name)).
			Set("黨籍", tools.PartyName(a.Party)).
			Agg("委員姓名").
			Page(1, 0)
		res, err := c.Legislators(ctx, q)
		if err != nil {
			return "", fmt.Errorf("legislators: get_legislators: %w", err)
		}
		return tools.Encode(tools.List(res, listKey))
	}
}

func makeByConstituencyHandler(c *lyapi.Client, norm *constituency.Normalizer) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a constituencyArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		if strings.TrimSpace(a.Constituency) == "" {
			return "", lyapi.Invalid("constituency", "must not be empty")
		}
		name, resolved := norm.Normalize(a.Constituency)

		base := func() *lyapi.Query {
			return lyapi.NewQuery().Term(c.Term(0)).Agg("委員姓名").Page(1, 0)
		}
		res, err := c.Legislators(ctx, base().Set("選區名稱", name))
		if err != nil {
			return "", fmt.Errorf("legislators: get_legislator_by_constituency: %w", err)
		}
		out := tools.List(res, listKey)
		out["constituency"] = name
		out["normalized"] = resolved

		if lyapi.Total(res) == 0 {
			// The upstream only matches exact names; fall back to a
			// substring match over the whole term.
			all, err := c.Legislators(ctx, base())
			if err != nil {
				return "", fmt.Errorf("legislators: get_legislator_by_constituency: %w", err)
			}
			var matched []gjson.Result
			for _, rec := range lyapi.Items(all, listKey) {
				if strings.Contains(lyapi.Str(rec, "選區名稱"), name) {
					matched = append(matched, rec)
				}
			}
			out[listKey] = tools.RawList(matched)
			out["total"] = len(matched)
			out["partial_match"] = true
		}
		return tools.Encode(out)
	}
}

func makeDetailsHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a nameArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		res, err := c.Legislator(ctx, a.Term, a.Name)
		if err != nil {
			return "", fmt.Errorf("legislators: get_legislator_details: %w", err)
		}
		type relation struct {
			Name string `json:"name"`
			URL  string `json:"url"`
		}
		var rels []relation
		for _, r := range []string{lyapi.RelProposeBills, lyapi.RelCosignBills, lyapi.RelMeets, lyapi.RelInterpellations} {
			rels = append(rels, relation{Name: r, URL: c.LegislatorRelationURL(a.Term, a.Name, r)})
		}
		return tools.Encode(map[string]any{
			"data":      tools.Raw(lyapi.Data(res)),
			"relations": rels,
		})
	}
}

func makeByPartyHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a partyArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		res, err := fetchParty(ctx, c, a.Party, a.Term)
		if err != nil {
			return "", fmt.Errorf("legislators: get_legislators_by_party: %w", err)
		}
		return tools.Encode(tools.List(res, listKey))
	}
}

func makeSeatCountHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a partyArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		res, err := fetchParty(ctx, c, a.Party, a.Term)
		if err != nil {
			return "", fmt.Errorf("legislators: get_party_seat_count: %w", err)
		}
		byArea := make(map[string][]string)
		for _, rec := range lyapi.Items(res, listKey) {
			area := lyapi.Str(rec, "選區名稱")
			if area == "" {
				area = "未知"
			}
			byArea[area] = append(byArea[area], lyapi.Str(rec, "委員姓名"))
		}
		return tools.Encode(map[string]any{
			"黨籍":    tools.PartyName(a.Party),
			"總席次":   lyapi.Total(res),
			"各選區分布": byArea,
			"選區數量":  len(byArea),
		})
	}
}

// relationKeys names the record array of each legislator relation.
var relationKeys = map[string]string{
	lyapi.RelProposeBills:    "bills",
	lyapi.RelCosignBills:     "bills",
	lyapi.RelMeets:           "meets",
	lyapi.RelInterpellations: "interpellations",
}

func makeRelationHandler(c *lyapi.Client, tool, relation string) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a relationArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		q := lyapi.NewQuery().
			Set("議案類別", a.BillType).
			Set("會議種類", a.MeetingType).
			Session(a.SessionPeriod).
			Page(a.Page, a.Limit)
		res, err := c.LegislatorRelation(ctx, a.Term, a.Name, relation, q)
		if err != nil {
			return "", fmt.Errorf("legislators: %s: %w", tool, err)
		}
		out := tools.List(res, relationKeys[relation])
		out["name"] = a.Name
		out["term"] = c.Term(a.Term)
		return tools.Encode(out)
	}
}

func makeCommitteesHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a nameArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		res, err := c.Legislator(ctx, a.Term, a.Name)
		if err != nil {
			return "", fmt.Errorf("legislators: get_legislator_committees: %w", err)
		}
		return tools.Encode(map[string]any{
			"name":       a.Name,
			"term":       c.Term(a.Term),
			"committees": Committees(lyapi.Data(res)),
		})
	}
}

// Committees collects committee memberships from a legislator record. Each
// field may hold a list, a single object or a string.
func Committees(rec gjson.Result) []any {
	out := []any{}
	for _, f := range committeeFields {
		v := lyapi.Field(rec, f)
		switch {
		case v.IsArray():
			for _, e := range v.Array() {
				out = append(out, e.Value())
			}
		case v.IsObject():
			out = append(out, v.Value())
		case v.String() != "":
			out = append(out, v.String())
		}
	}
	return out
}

func fetchParty(ctx context.Context, c *lyapi.Client, party string, term int) (gjson.Result, error) {
	party = tools.PartyName(party)
	if party == "" {
		return gjson.Result{}, lyapi.Invalid("party", "must not be empty")
	}
	q := lyapi.NewQuery().Term(c.Term(term)).Set("黨籍", party).Agg("委員姓名").Page(1, 0)
	return c.Legislators(ctx, q)
}

// ─────────────────────────────────────────────────────────────────────────────
// Tool definitions
// ─────────────────────────────────────────────────────────────────────────────

// NewTools returns the legislator tools bound to c. norm resolves colloquial
// constituency names.
func NewTools(c *lyapi.Client, norm *constituency.Normalizer) []tools.Tool {
	nameProp := tools.String("立法委員姓名，例如「韓國瑜」。")
	partyProp := tools.String("政黨完整名稱，例如「中國國民黨」、「民主進步黨」、「台灣民眾黨」。")
	pagedProps := func(extra map[string]any) map[string]any {
		p := map[string]any{
			"name":  nameProp,
			"term":  tools.TermProp,
			"page":  tools.PageProp,
			"limit": tools.LimitProp,
		}
		for k, v := range extra {
			p[k] = v
		}
		return p
	}

	return []tools.Tool{
		{
			Definition: llm.ToolDefinition{
				Name:        "get_legislators",
				Description: "列出立法委員，可依姓名或政黨篩選。回傳委員基本資料與總數。",
				Parameters: tools.Object(map[string]any{
					"name":  nameProp,
					"party": partyProp,
					"term":  tools.TermProp,
				}),
				EstimatedDurationMs: 800,
				MaxDurationMs:       15000,
				Idempotent:          true,
			},
			Handler:     makeListHandler(c),
			DeclaredP50: 800,
			DeclaredMax: 15000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_legislator_by_constituency",
				Description: "依選區查詢立法委員。接受口語選區名稱，例如「台北市第七選區」或「北松山信義」，會自動轉換為正式名稱。",
				Parameters: tools.Object(map[string]any{
					"constituency": tools.String("選區名稱，例如「臺北市第7選舉區」。"),
				}, "constituency"),
				EstimatedDurationMs: 800,
				MaxDurationMs:       20000,
				Idempotent:          true,
			},
			Handler:     makeByConstituencyHandler(c, norm),
			DeclaredP50: 800,
			DeclaredMax: 20000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_legislator_details",
				Description: "取得單一立法委員的詳細資料，並附上提案、連署、會議與質詢等相關資料的 API 連結。",
				Parameters: tools.Object(map[string]any{
					"name": nameProp,
					"term": tools.TermProp,
				}, "name"),
				EstimatedDurationMs: 500,
				MaxDurationMs:       15000,
				Idempotent:          true,
			},
			Handler:     makeDetailsHandler(c),
			DeclaredP50: 500,
			DeclaredMax: 15000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_legislators_by_party",
				Description: "列出特定政黨的所有立法委員。",
				Parameters: tools.Object(map[string]any{
					"party": partyProp,
					"term":  tools.TermProp,
				}, "party"),
				EstimatedDurationMs: 800,
				MaxDurationMs:       15000,
				Idempotent:          true,
			},
			Handler:     makeByPartyHandler(c),
			DeclaredP50: 800,
			DeclaredMax: 15000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_legislator_proposed_bills",
				Description: "查詢立法委員提出的法案，可依議案類別篩選並分頁。",
				Parameters: tools.Object(pagedProps(map[string]any{
					"bill_type": tools.String("議案類別，例如「法律案」。"),
				}), "name"),
				EstimatedDurationMs: 1000,
				MaxDurationMs:       20000,
				Idempotent:          true,
			},
			Handler:     makeRelationHandler(c, "get_legislator_proposed_bills", lyapi.RelProposeBills),
			DeclaredP50: 1000,
			DeclaredMax: 20000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:                "get_legislator_cosigned_bills",
				Description:         "查詢立法委員連署的法案並分頁。",
				Parameters:          tools.Object(pagedProps(nil), "name"),
				EstimatedDurationMs: 1000,
				MaxDurationMs:       20000,
				Idempotent:          true,
			},
			Handler:     makeRelationHandler(c, "get_legislator_cosigned_bills", lyapi.RelCosignBills),
			DeclaredP50: 1000,
			DeclaredMax: 20000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_legislator_meetings",
				Description: "查詢立法委員出席的會議紀錄，可依會期與會議種類篩選。",
				Parameters: tools.Object(pagedProps(map[string]any{
					"session_period": tools.SessionProp,
					"meeting_type":   tools.String("會議種類，例如「委員會」、「院會」。"),
				}), "name"),
				EstimatedDurationMs: 1000,
				MaxDurationMs:       20000,
				Idempotent:          true,
			},
			Handler:     makeRelationHandler(c, "get_legislator_meetings", lyapi.RelMeets),
			DeclaredP50: 1000,
			DeclaredMax: 20000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_party_seat_count",
				Description: "計算政黨的總席次，並列出各選區的委員分布。",
				Parameters: tools.Object(map[string]any{
					"party": partyProp,
					"term":  tools.TermProp,
				}, "party"),
				EstimatedDurationMs: 800,
				MaxDurationMs:       15000,
				Idempotent:          true,
			},
			Handler:     makeSeatCountHandler(c),
			DeclaredP50: 800,
			DeclaredMax: 15000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_legislator_committees",
				Description: "查詢立法委員參與的委員會。",
				Parameters: tools.Object(map[string]any{
					"name": nameProp,
					"term": tools.TermProp,
				}, "name"),
				EstimatedDurationMs: 500,
				MaxDurationMs:       15000,
				Idempotent:          true,
			},
			Handler:     makeCommitteesHandler(c),
			DeclaredP50: 500,
			DeclaredMax: 15000,
		},
	}
}
