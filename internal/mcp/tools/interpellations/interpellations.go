// Package interpellations provides the built-in tools for legislators'
// interpellations (質詢): search, detail lookup, the interpellations of a
// meeting, per-legislator statistics and a local key-statement extractor.
package interpellations

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/lybot/internal/lyapi"
	"github.com/MrWong99/lybot/internal/mcp/tools"
	"github.com/MrWong99/lybot/pkg/provider/llm"
)

const (
	listKey = "interpellations"

	// Key statements are sentences longer than minStatement runes whose
	// cleaned form stays below maxStatement runes.
	minStatement  = 20
	maxStatement  = 300
	maxStatements = 5

	// sampleSize is the number of subjects quoted in statistics.
	sampleSize = 5
)

// KeyStatements returns up to five sentences of content that mention topic.
// Sentences are split on 。 and returned with the full stop restored.
func KeyStatements(content, topic string) []string {
	out := []string{}
	if content == "" || topic == "" {
		return out
	}
	for _, s := range strings.Split(content, "。") {
		if !strings.Contains(s, topic) || utf8.RuneCountInString(s) <= minStatement {
			continue
		}
		clean := strings.TrimSpace(s) + "。"
		if utf8.RuneCountInString(clean) >= maxStatement {
			continue
		}
		out = append(out, clean)
		if len(out) == maxStatements {
			break
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Handler constructors
// ─────────────────────────────────────────────────────────────────────────────

type searchArgs struct {
	Legislator    string `json:"legislator,omitempty"`
	Keyword       string `json:"keyword,omitempty"`
	Term          int    `json:"term,omitempty"`
	SessionPeriod int    `json:"session_period,omitempty"`
	Page          int    `json:"page,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

type idArgs struct {
	InterpellationID string `json:"interpellation_id"`
}

type meetingArgs struct {
	MeetingID string `json:"meeting_id"`
}

type statementArgs struct {
	Content string `json:"content"`
	Topic   string `json:"topic"`
}

type statsArgs struct {
	Name          string `json:"name"`
	Term          int    `json:"term,omitempty"`
	SessionPeriod int    `json:"session_period,omitempty"`
}

func makeSearchHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a searchArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		q := lyapi.NewQuery().
			Term(c.Term(a.Term)).
			Session(a.SessionPeriod).
			Set("質詢委員", strings.TrimSpace(a.Legislator)).
			Text(a.Keyword).
			Page(a.Page, a.Limit)
		res, err := c.Interpellations(ctx, q)
		if err != nil {
			return "", fmt.Errorf("interpellations: search_interpellations: %w", err)
		}
		return tools.Encode(tools.List(res, listKey))
	}
}

func makeDetailsHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a idArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		res, err := c.Interpellation(ctx, a.InterpellationID)
		if err != nil {
			return "", fmt.Errorf("interpellations: get_interpellation_details: %w", err)
		}
		return tools.Encode(map[string]any{"data": tools.Raw(lyapi.Data(res))})
	}
}

func makeMeetingHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a meetingArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		res, err := c.MeetRelation(ctx, a.MeetingID, lyapi.MeetInterpellations, lyapi.NewQuery().Page(1, 0))
		if err != nil {
			return "", fmt.Errorf("interpellations: get_meeting_interpellations: %w", err)
		}
		out := tools.List(res, listKey)
		out["meeting_id"] = a.MeetingID
		return tools.Encode(out)
	}
}

func statementsHandler(_ context.Context, args string) (string, error) {
	var a statementArgs
	if err := tools.Decode(args, &a); err != nil {
		return "", err
	}
	if strings.TrimSpace(a.Topic) == "" {
		return "", lyapi.Invalid("topic", "must not be empty")
	}
	return tools.Encode(map[string]any{
		"topic":      a.Topic,
		"statements": KeyStatements(a.Content, strings.TrimSpace(a.Topic)),
	})
}

type sessionCount struct {
	Session int `json:"會期"`
	Count   int `json:"質詢次數"`
}

func makeStatsHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a statsArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return "", lyapi.Invalid("name", "must not be empty")
		}
		term := c.Term(a.Term)
		q := lyapi.NewQuery().
			Term(term).
			Session(a.SessionPeriod).
			Set("質詢委員", name).
			Page(1, lyapi.MaxLimit)
		res, err := c.Interpellations(ctx, q)
		if err != nil {
			return "", fmt.Errorf("interpellations: get_interpellation_statistics: %w", err)
		}

		bySession := make(map[int]int)
		subjects := []string{}
		for _, it := range lyapi.Items(res, listKey) {
			if s := int(lyapi.Field(it, "會期").Int()); s > 0 {
				bySession[s]++
			}
			if subj := strings.TrimSpace(lyapi.Str(it, "事由")); subj != "" && len(subjects) < sampleSize {
				subjects = append(subjects, subj)
			}
		}
		sessions := make([]sessionCount, 0, len(bySession))
		for s, n := range bySession {
			sessions = append(sessions, sessionCount{Session: s, Count: n})
		}
		slices.SortFunc(sessions, func(a, b sessionCount) int { return cmp.Compare(a.Session, b.Session) })

		out := map[string]any{
			"立委":    name,
			"屆":     term,
			"總質詢次數": lyapi.Total(res),
			"各會期統計": sessions,
			"質詢事由":  subjects,
		}
		if a.SessionPeriod > 0 {
			out["會期"] = a.SessionPeriod
		}
		return tools.Encode(out)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Tool definitions
// ─────────────────────────────────────────────────────────────────────────────

// NewTools returns the interpellation tools bound to c.
func NewTools(c *lyapi.Client) []tools.Tool {
	return []tools.Tool{
		{
			Definition: llm.ToolDefinition{
				Name:        "search_interpellations",
				Description: "搜尋質詢紀錄，可依質詢委員、關鍵字、屆期與會期篩選。",
				Parameters: tools.Object(map[string]any{
					"legislator":     tools.String("質詢委員姓名。"),
					"keyword":        tools.String("質詢內容關鍵字。"),
					"term":           tools.TermProp,
					"session_period": tools.SessionProp,
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
				Name:        "get_interpellation_details",
				Description: "取得單一質詢的完整內容。",
				Parameters: tools.Object(map[string]any{
					"interpellation_id": tools.String("質詢編號。"),
				}, "interpellation_id"),
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
				Name:        "get_meeting_interpellations",
				Description: "列出會議中的質詢紀錄。",
				Parameters: tools.Object(map[string]any{
					"meeting_id": tools.String("會議代碼。"),
				}, "meeting_id"),
				EstimatedDurationMs: 600,
				MaxDurationMs:       15000,
				Idempotent:          true,
			},
			Handler:     makeMeetingHandler(c),
			DeclaredP50: 600,
			DeclaredMax: 15000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "extract_key_statements",
				Description: "從質詢內容中擷取與主題相關的重點語句，最多五句。",
				Parameters: tools.Object(map[string]any{
					"content": tools.String("質詢全文。"),
					"topic":   tools.String("主題關鍵字。"),
				}, "content", "topic"),
				EstimatedDurationMs: 5,
				MaxDurationMs:       1000,
				Idempotent:          true,
			},
			Handler:     statementsHandler,
			DeclaredP50: 5,
			DeclaredMax: 1000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_interpellation_statistics",
				Description: "統計立法委員的質詢次數，依會期分組並列出部分質詢事由。",
				Parameters: tools.Object(map[string]any{
					"name":           tools.String("立法委員姓名。"),
					"term":           tools.TermProp,
					"session_period": tools.SessionProp,
				}, "name"),
				EstimatedDurationMs: 1500,
				MaxDurationMs:       30000,
				Idempotent:          true,
			},
			Handler:     makeStatsHandler(c),
			DeclaredP50: 1500,
			DeclaredMax: 30000,
		},
	}
}
