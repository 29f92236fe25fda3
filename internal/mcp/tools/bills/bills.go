// Package bills provides the built-in tools for searching and analysing
// bills (議案): filtered search, detail lookup, cosigner extraction,
// per-legislator statistics, keyword search and status timelines.
//
// All handlers are safe for concurrent use.
package bills

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/MrWong99/lybot/internal/lyapi"
	"github.com/MrWong99/lybot/internal/mcp/tools"
	"github.com/MrWong99/lybot/pkg/provider/llm"
)

const listKey = "bills"

// aggFields are the aggregations requested with every bill search.
var aggFields = []string{"提案來源", "議案類別", "議案狀態"}

// cosignerFields are the bill fields that may list cosigners.
var cosignerFields = []string{"連署人", "共同提案人", "提案人及連署人"}

// summaryFields are the fields kept for compact bill listings.
var summaryFields = []string{"議案編號", "議案名稱", "提案人", "提案日期", "議案狀態", "會期"}

// SearchParams are the filters of a bill search.
type SearchParams struct {
	Term          int    `json:"term,omitempty"`
	SessionPeriod int    `json:"session_period,omitempty"`
	BillType      string `json:"bill_type,omitempty"`
	Proposer      string `json:"proposer,omitempty"`
	Cosigner      string `json:"-"`
	Keyword       string `json:"keyword,omitempty"`
	Page          int    `json:"page,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

// Search runs a bill search with the standard aggregations. Other tool
// packages reuse it.
func Search(ctx context.Context, c *lyapi.Client, p SearchParams) (gjson.Result, error) {
	q := lyapi.NewQuery().
		Term(c.Term(p.Term)).
		Session(p.SessionPeriod).
		Set("議案類別", p.BillType).
		Set("提案人", strings.TrimSpace(p.Proposer)).
		Set("連署人", strings.TrimSpace(p.Cosigner)).
		Phrase(p.Keyword).
		Agg(aggFields...).
		Page(p.Page, p.Limit)
	return c.Bills(ctx, q)
}

// Items returns the bill records of a search result.
func Items(res gjson.Result) []gjson.Result { return lyapi.Items(res, listKey) }

// Cosigners returns the deduplicated cosigner names of a bill record in
// first-seen order.
func Cosigners(rec gjson.Result) []string {
	var out []string
	for _, f := range cosignerFields {
		for _, n := range lyapi.Names(rec, f) {
			if !slices.Contains(out, n) {
				out = append(out, n)
			}
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// Proposers returns the proposer names of a bill record.
func Proposers(rec gjson.Result) []string { return lyapi.Names(rec, "提案人") }

// ─────────────────────────────────────────────────────────────────────────────
// Handler constructors
// ─────────────────────────────────────────────────────────────────────────────

type billArgs struct {
	BillNo string `json:"bill_no"`
}

type analyzeArgs struct {
	Name          string `json:"name"`
	Term          int    `json:"term,omitempty"`
	SessionPeriod int    `json:"session_period,omitempty"`
	BillType      string `json:"bill_type,omitempty"`
}

type keywordArgs struct {
	Keyword string `json:"keyword"`
	Term    int    `json:"term,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func makeSearchHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a SearchParams
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		res, err := Search(ctx, c, a)
		if err != nil {
			return "", fmt.Errorf("bills: search_bills: %w", err)
		}
		return tools.Encode(tools.List(res, listKey))
	}
}

func makeDetailsHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a billArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		res, err := c.Bill(ctx, a.BillNo)
		if err != nil {
			return "", fmt.Errorf("bills: get_bill_details: %w", err)
		}
		return tools.Encode(map[string]any{"data": tools.Raw(lyapi.Data(res))})
	}
}

func makeCosignersHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a billArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		res, err := c.Bill(ctx, a.BillNo)
		if err != nil {
			return "", fmt.Errorf("bills: get_bill_cosigners: %w", err)
		}
		names := Cosigners(lyapi.Data(res))
		return tools.Encode(map[string]any{
			"bill_no":   a.BillNo,
			"cosigners": names,
			"count":     len(names),
		})
	}
}

func makeAnalyzeHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a analyzeArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		if strings.TrimSpace(a.Name) == "" {
			return "", lyapi.Invalid("name", "must not be empty")
		}
		res, err := Search(ctx, c, SearchParams{
			Term:          a.Term,
			SessionPeriod: a.SessionPeriod,
			BillType:      a.BillType,
			Proposer:      a.Name,
		})
		if err != nil {
			return "", fmt.Errorf("bills: analyze_legislator_bills: %w", err)
		}

		byType := make(map[string][]map[string]any)
		byStatus := make(map[string]int)
		for _, b := range Items(res) {
			kind := lyapi.Str(b, "議案類別")
			if kind == "" {
				kind = "其他"
			}
			byType[kind] = append(byType[kind], tools.Pick(b, "議案編號", "議案名稱", "提案日期", "議案狀態"))
			status := lyapi.Str(b, "議案狀態")
			if status == "" {
				status = "未知"
			}
			byStatus[status]++
		}
		counts := make(map[string]int, len(byType))
		for k, v := range byType {
			counts[k] = len(v)
		}
		return tools.Encode(map[string]any{
			"立委姓名":   a.Name,
			"屆":      c.Term(a.Term),
			"提案總數":   lyapi.Total(res),
			"議案類別統計": counts,
			"議案狀態統計": byStatus,
			"議案詳情":   byType,
		})
	}
}

func makeKeywordHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a keywordArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		if strings.TrimSpace(a.Keyword) == "" {
			return "", lyapi.Invalid("keyword", "must not be empty")
		}
		limit := a.Limit
		if limit <= 0 {
			limit = 100
		}
		res, err := Search(ctx, c, SearchParams{Term: a.Term, Keyword: a.Keyword, Limit: limit})
		if err != nil {
			return "", fmt.Errorf("bills: find_bills_by_keyword: %w", err)
		}
		found := make([]map[string]any, 0)
		for _, b := range Items(res) {
			found = append(found, tools.Pick(b, summaryFields...))
		}
		return tools.Encode(map[string]any{
			"keyword": a.Keyword,
			"total":   lyapi.Total(res),
			"bills":   found,
		})
	}
}

func makeTimelineHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a billArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		res, err := c.Bill(ctx, a.BillNo)
		if err != nil {
			return "", fmt.Errorf("bills: get_bill_status_timeline: %w", err)
		}
		return tools.Encode(map[string]any{
			"bill_no":  a.BillNo,
			"timeline": Timeline(lyapi.Data(res)),
		})
	}
}

// Timeline returns the status history of a bill record. Records without a
// recorded history get one built from the proposal and review dates.
func Timeline(rec gjson.Result) any {
	for _, f := range []string{"議案流程", "歷程"} {
		if v := lyapi.Field(rec, f); v.Exists() {
			return v.Value()
		}
	}
	steps := []map[string]any{}
	if d := lyapi.Str(rec, "提案日期"); d != "" {
		proposer := strings.Join(Proposers(rec), "、")
		if proposer == "" {
			proposer = "未知"
		}
		steps = append(steps, map[string]any{"日期": d, "狀態": "提案", "說明": "由 " + proposer + " 提案"})
	}
	if d := lyapi.Str(rec, "審查日期"); d != "" {
		steps = append(steps, map[string]any{"日期": d, "狀態": "審查", "說明": lyapi.Str(rec, "審查結果")})
	}
	return steps
}

// ─────────────────────────────────────────────────────────────────────────────
// Tool definitions
// ─────────────────────────────────────────────────────────────────────────────

// NewTools returns the bill tools bound to c.
func NewTools(c *lyapi.Client) []tools.Tool {
	billNoProp := tools.String("議案編號，例如「202110071090000」。")

	return []tools.Tool{
		{
			Definition: llm.ToolDefinition{
				Name:        "search_bills",
				Description: "搜尋議案，可依屆期、會期、議案類別、提案人或關鍵字篩選，並附提案來源、類別與狀態統計。",
				Parameters: tools.Object(map[string]any{
					"term":           tools.TermProp,
					"session_period": tools.SessionProp,
					"bill_type":      tools.String("議案類別，例如「法律案」、「預算案」。"),
					"proposer":       tools.String("提案人姓名。"),
					"keyword":        tools.String("議案名稱或內容的關鍵字。"),
					"page":           tools.PageProp,
					"limit":          tools.LimitProp,
				}),
				EstimatedDurationMs: 1000,
				MaxDurationMs:       20000,
				Idempotent:          true,
			},
			Handler:     makeSearchHandler(c),
			DeclaredP50: 1000,
			DeclaredMax: 20000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_bill_details",
				Description: "取得單一議案的完整資料。",
				Parameters: tools.Object(map[string]any{
					"bill_no": billNoProp,
				}, "bill_no"),
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
				Name:        "get_bill_cosigners",
				Description: "列出議案的連署人與共同提案人。",
				Parameters: tools.Object(map[string]any{
					"bill_no": billNoProp,
				}, "bill_no"),
				EstimatedDurationMs: 500,
				MaxDurationMs:       15000,
				Idempotent:          true,
			},
			Handler:     makeCosignersHandler(c),
			DeclaredP50: 500,
			DeclaredMax: 15000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "analyze_legislator_bills",
				Description: "統計立法委員的提案，依議案類別與狀態分類。",
				Parameters: tools.Object(map[string]any{
					"name":           tools.String("立法委員姓名。"),
					"term":           tools.TermProp,
					"session_period": tools.SessionProp,
					"bill_type":      tools.String("只統計此議案類別。"),
				}, "name"),
				EstimatedDurationMs: 1200,
				MaxDurationMs:       20000,
				Idempotent:          true,
			},
			Handler:     makeAnalyzeHandler(c),
			DeclaredP50: 1200,
			DeclaredMax: 20000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "find_bills_by_keyword",
				Description: "以關鍵字搜尋議案，回傳精簡的議案清單。",
				Parameters: tools.Object(map[string]any{
					"keyword": tools.String("關鍵字，例如「勞基法」、「AI」。"),
					"term":    tools.TermProp,
					"limit":   tools.LimitProp,
				}, "keyword"),
				EstimatedDurationMs: 1000,
				MaxDurationMs:       20000,
				Idempotent:          true,
			},
			Handler:     makeKeywordHandler(c),
			DeclaredP50: 1000,
			DeclaredMax: 20000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_bill_status_timeline",
				Description: "查詢議案的審議歷程。",
				Parameters: tools.Object(map[string]any{
					"bill_no": billNoProp,
				}, "bill_no"),
				EstimatedDurationMs: 500,
				MaxDurationMs:       15000,
				Idempotent:          true,
			},
			Handler:     makeTimelineHandler(c),
			DeclaredP50: 500,
			DeclaredMax: 15000,
		},
	}
}
