// Package meetings provides the built-in tools for committees, meetings and
// attendance: committee listings, meeting search, the bills and IVOD videos
// of a meeting, attendance rates for legislators and parties, session
// summaries and the meetings that discussed a bill.
//
// Attendance is approximated the same way throughout: the number of meetings
// recorded for a legislator divided by the number of meetings held in the
// same term and session.
package meetings

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lybot/internal/lyapi"
	"github.com/MrWong99/lybot/internal/mcp/tools"
	"github.com/MrWong99/lybot/pkg/provider/llm"
)

const (
	listKey = "meets"

	// fanOut bounds concurrent upstream calls made by one tool call.
	fanOut = 4

	// topN is the number of individual rates kept in party statistics.
	topN = 10
)

// Attendance is the attendance record of one legislator.
type Attendance struct {
	Legislator string         `json:"立委"`
	Term       int            `json:"屆"`
	Session    int            `json:"會期,omitempty"`
	Attended   int            `json:"出席會議數"`
	Total      int            `json:"總會議數"`
	RateText   string         `json:"出席率"`
	ByType     map[string]int `json:"會議類型統計"`

	// Rate is the attendance percentage, 0 when no meetings were held.
	Rate float64 `json:"-"`
}

// ComputeAttendance returns the attendance of name. meetingType optionally
// restricts both counts to one kind of meeting.
func ComputeAttendance(ctx context.Context, c *lyapi.Client, name string, term, session int, meetingType string) (Attendance, error) {
	term = c.Term(term)
	mine, err := c.LegislatorRelation(ctx, term, name, lyapi.RelMeets,
		lyapi.NewQuery().Session(session).Set("會議種類", meetingType).Page(1, lyapi.MaxLimit))
	if err != nil {
		return Attendance{}, err
	}
	all, err := c.Meets(ctx,
		lyapi.NewQuery().Term(term).Session(session).Set("會議種類", meetingType).Page(1, 1))
	if err != nil {
		return Attendance{}, err
	}

	a := Attendance{
		Legislator: name,
		Term:       term,
		Session:    session,
		Attended:   lyapi.Total(mine),
		Total:      lyapi.Total(all),
		ByType:     make(map[string]int),
	}
	for _, m := range lyapi.Items(mine, listKey) {
		kind := lyapi.Str(m, "會議種類")
		if kind == "" {
			kind = "其他"
		}
		a.ByType[kind]++
	}
	if a.Total > 0 {
		a.Rate = float64(a.Attended) / float64(a.Total) * 100
	}
	a.RateText = formatRate(a.Rate)
	return a, nil
}

func formatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', 1, 64) + "%"
}

// failure records a legislator whose attendance could not be computed.
type failure struct {
	Legislator string `json:"立委"`
	Error      string `json:"錯誤"`
}

// attendanceOf computes attendance for every name concurrently. Data errors
// for single legislators are reported as failures; other errors abort.
func attendanceOf(ctx context.Context, c *lyapi.Client, names []string, term, session int) ([]Attendance, []failure, error) {
	var (
		mu       sync.Mutex
		results  []Attendance
		failures []failure
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)
	for _, name := range names {
		g.Go(func() error {
			a, err := ComputeAttendance(gctx, c, name, term, session, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				results = append(results, a)
			case lyapi.IsDataError(err):
				failures = append(failures, failure{Legislator: name, Error: err.Error()})
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	SortByRate(results)
	return results, failures, nil
}

// SortByRate orders attendance records by rate, highest first, then by name.
func SortByRate(as []Attendance) {
	slices.SortStableFunc(as, func(a, b Attendance) int {
		if c := cmp.Compare(b.Rate, a.Rate); c != 0 {
			return c
		}
		return strings.Compare(a.Legislator, b.Legislator)
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Handler constructors
// ─────────────────────────────────────────────────────────────────────────────

type committeesArgs struct {
	CommitteeType string `json:"committee_type,omitempty"`
}

type meetingsArgs struct {
	Term          int    `json:"term,omitempty"`
	SessionPeriod int    `json:"session_period,omitempty"`
	MeetingType   string `json:"meeting_type,omitempty"`
	Keyword       string `json:"keyword,omitempty"`
	Page          int    `json:"page,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

type meetingArgs struct {
	MeetingID string `json:"meeting_id"`
}

type attendanceArgs struct {
	Name          string `json:"name"`
	Term          int    `json:"term,omitempty"`
	SessionPeriod int    `json:"session_period,omitempty"`
	MeetingType   string `json:"meeting_type,omitempty"`
}

type compareArgs struct {
	Names         []string `json:"names"`
	Term          int      `json:"term,omitempty"`
	SessionPeriod int      `json:"session_period,omitempty"`
}

type sessionArgs struct {
	Term int `json:"term,omitempty"`
}

type billArgs struct {
	BillName string `json:"bill_name"`
	Term     int    `json:"term,omitempty"`
}

type partyArgs struct {
	Party         string `json:"party"`
	Term          int    `json:"term,omitempty"`
	SessionPeriod int    `json:"session_period,omitempty"`
}

func makeCommitteesHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a committeesArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		res, err := c.Committees(ctx, lyapi.NewQuery().Set("委員會類別", a.CommitteeType).Page(1, 0))
		if err != nil {
			return "", fmt.Errorf("meetings: get_committees: %w", err)
		}
		return tools.Encode(tools.List(res, "committees"))
	}
}

func makeMeetingsHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a meetingsArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		q := lyapi.NewQuery().
			Term(c.Term(a.Term)).
			Session(a.SessionPeriod).
			Set("會議種類", a.MeetingType).
			Text(a.Keyword).
			Page(a.Page, a.Limit)
		res, err := c.Meets(ctx, q)
		if err != nil {
			return "", fmt.Errorf("meetings: get_meetings: %w", err)
		}
		return tools.Encode(tools.List(res, listKey))
	}
}

func makeMeetingRelationHandler(c *lyapi.Client, tool, relation, key string) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a meetingArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		res, err := c.MeetRelation(ctx, a.MeetingID, relation, lyapi.NewQuery().Page(1, 0))
		if err != nil {
			return "", fmt.Errorf("meetings: %s: %w", tool, err)
		}
		out := tools.List(res, key)
		out["meeting_id"] = a.MeetingID
		return tools.Encode(out)
	}
}

func makeAttendanceHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a attendanceArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		att, err := ComputeAttendance(ctx, c, a.Name, a.Term, a.SessionPeriod, a.MeetingType)
		if err != nil {
			return "", fmt.Errorf("meetings: calculate_attendance_rate: %w", err)
		}
		return tools.Encode(att)
	}
}

func makeCompareHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a compareArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		names := dedupe(a.Names)
		if len(names) == 0 {
			return "", lyapi.Invalid("names", "at least one legislator is required")
		}
		results, failures, err := attendanceOf(ctx, c, names, a.Term, a.SessionPeriod)
		if err != nil {
			return "", fmt.Errorf("meetings: compare_attendance_rates: %w", err)
		}
		out := map[string]any{"排名": results}
		if len(failures) > 0 {
			out["查詢失敗"] = failures
		}
		return tools.Encode(out)
	}
}

// session summarises the meetings of one 會期.
type session struct {
	Session  int    `json:"會期"`
	Meetings int    `json:"會議數"`
	Earliest string `json:"最早日期,omitempty"`
	Latest   string `json:"最晚日期,omitempty"`
}

func makeSessionInfoHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a sessionArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		term := c.Term(a.Term)
		res, err := c.Meets(ctx, lyapi.NewQuery().Term(term).Agg("會期").Page(1, lyapi.MaxLimit))
		if err != nil {
			return "", fmt.Errorf("meetings: get_session_info: %w", err)
		}
		return tools.Encode(map[string]any{
			"屆":    term,
			"會期資訊": summariseSessions(lyapi.Items(res, listKey)),
		})
	}
}

func summariseSessions(meets []gjson.Result) []session {
	byNum := make(map[int]*session)
	for _, m := range meets {
		n := int(lyapi.Field(m, "會期").Int())
		if n == 0 {
			continue
		}
		s, ok := byNum[n]
		if !ok {
			s = &session{Session: n}
			byNum[n] = s
		}
		s.Meetings++
		for _, d := range meetingDates(m) {
			if s.Earliest == "" || d < s.Earliest {
				s.Earliest = d
			}
			if s.Latest == "" || d > s.Latest {
				s.Latest = d
			}
		}
	}
	out := make([]session, 0, len(byNum))
	for _, s := range byNum {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b session) int { return cmp.Compare(a.Session, b.Session) })
	return out
}

// meetingDates returns the 日期 values of a meeting, which is a single date
// or a list of dates for meetings held over several days.
func meetingDates(m gjson.Result) []string {
	v := lyapi.Field(m, "日期")
	if v.IsArray() {
		var out []string
		for _, d := range v.Array() {
			if s := d.String(); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	if s := v.String(); s != "" {
		return []string{s}
	}
	return nil
}

func makeMeetingsByBillHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a billArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		name := strings.TrimSpace(a.BillName)
		if name == "" {
			return "", lyapi.Invalid("bill_name", "must not be empty")
		}
		res, err := c.Meets(ctx, lyapi.NewQuery().Term(c.Term(a.Term)).Text(name).Page(1, 0))
		if err != nil {
			return "", fmt.Errorf("meetings: find_meetings_by_bill: %w", err)
		}

		meets := lyapi.Items(res, listKey)
		found := make([]map[string]any, len(meets))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(fanOut)
		for i, m := range meets {
			id := lyapi.Str(m, "會議代碼")
			if id == "" {
				continue
			}
			g.Go(func() error {
				bills, err := c.MeetRelation(gctx, id, lyapi.MeetBills, nil)
				if lyapi.IsDataError(err) {
					return nil
				}
				if err != nil {
					return err
				}
				for _, b := range lyapi.Items(bills, "bills") {
					if title := lyapi.Str(b, "議案名稱"); strings.Contains(title, name) {
						info := tools.Pick(m, "會議代碼", "會議名稱", "日期", "會議種類")
						info["相關議案"] = title
						found[i] = info
						return nil
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return "", fmt.Errorf("meetings: find_meetings_by_bill: %w", err)
		}

		matched := make([]map[string]any, 0)
		for _, f := range found {
			if f != nil {
				matched = append(matched, f)
			}
		}
		return tools.Encode(map[string]any{
			"bill_name": name,
			"meetings":  matched,
		})
	}
}

func makePartyAttendanceHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a partyArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		party := tools.PartyName(a.Party)
		if party == "" {
			return "", lyapi.Invalid("party", "must not be empty")
		}
		res, err := c.Legislators(ctx,
			lyapi.NewQuery().Term(c.Term(a.Term)).Set("黨籍", party).Page(1, 0))
		if err != nil {
			return "", fmt.Errorf("meetings: get_party_attendance_statistics: %w", err)
		}
		var names []string
		for _, l := range lyapi.Items(res, "legislators") {
			if n := lyapi.Str(l, "委員姓名"); n != "" {
				names = append(names, n)
			}
		}
		names = dedupe(names)

		results, failures, err := attendanceOf(ctx, c, names, a.Term, a.SessionPeriod)
		if err != nil {
			return "", fmt.Errorf("meetings: get_party_attendance_statistics: %w", err)
		}

		attended, held := 0, 0
		for _, r := range results {
			attended += r.Attended
			held = max(held, r.Total)
		}
		var avg float64
		if held > 0 && len(results) > 0 {
			avg = float64(attended) / float64(len(results)*held) * 100
		}
		out := map[string]any{
			"黨籍":    party,
			"立委人數":  len(names),
			"平均出席率": formatRate(avg),
			"個別出席率": results[:min(topN, len(results))],
		}
		if len(results) > 0 {
			out["最高出席率"] = results[0]
			out["最低出席率"] = results[len(results)-1]
		}
		if len(failures) > 0 {
			out["查詢失敗"] = failures
		}
		return tools.Encode(out)
	}
}

func dedupe(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Tool definitions
// ─────────────────────────────────────────────────────────────────────────────

// NewTools returns the meeting and attendance tools bound to c.
func NewTools(c *lyapi.Client) []tools.Tool {
	meetingIDProp := tools.String("會議代碼，可由 get_meetings 取得。")
	meetingTypeProp := tools.String("會議種類，例如「院會」、「委員會」、「公聽會」。")

	return []tools.Tool{
		{
			Definition: llm.ToolDefinition{
				Name:        "get_committees",
				Description: "列出立法院各委員會。",
				Parameters: tools.Object(map[string]any{
					"committee_type": tools.String("委員會類別，例如「常設委員會」。"),
				}),
				EstimatedDurationMs: 500,
				MaxDurationMs:       15000,
				Idempotent:          true,
			},
			Handler:     makeCommitteesHandler(c),
			DeclaredP50: 500,
			DeclaredMax: 15000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_meetings",
				Description: "搜尋會議，可依屆期、會期、會議種類與關鍵字篩選。",
				Parameters: tools.Object(map[string]any{
					"term":           tools.TermProp,
					"session_period": tools.SessionProp,
					"meeting_type":   meetingTypeProp,
					"keyword":        tools.String("會議名稱或內容的關鍵字。"),
					"page":           tools.PageProp,
					"limit":          tools.LimitProp,
				}),
				EstimatedDurationMs: 1000,
				MaxDurationMs:       20000,
				Idempotent:          true,
			},
			Handler:     makeMeetingsHandler(c),
			DeclaredP50: 1000,
			DeclaredMax: 20000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_meeting_bills",
				Description: "列出會議中討論的議案。",
				Parameters: tools.Object(map[string]any{
					"meeting_id": meetingIDProp,
				}, "meeting_id"),
				EstimatedDurationMs: 600,
				MaxDurationMs:       15000,
				Idempotent:          true,
			},
			Handler:     makeMeetingRelationHandler(c, "get_meeting_bills", lyapi.MeetBills, "bills"),
			DeclaredP50: 600,
			DeclaredMax: 15000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_meeting_ivods",
				Description: "列出會議的 IVOD 影音紀錄連結。",
				Parameters: tools.Object(map[string]any{
					"meeting_id": meetingIDProp,
				}, "meeting_id"),
				EstimatedDurationMs: 600,
				MaxDurationMs:       15000,
				Idempotent:          true,
			},
			Handler:     makeMeetingRelationHandler(c, "get_meeting_ivods", lyapi.MeetIVODs, "ivods"),
			DeclaredP50: 600,
			DeclaredMax: 15000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "calculate_attendance_rate",
				Description: "計算立法委員的會議出席率，並依會議種類統計。",
				Parameters: tools.Object(map[string]any{
					"name":           tools.String("立法委員姓名。"),
					"term":           tools.TermProp,
					"session_period": tools.SessionProp,
					"meeting_type":   meetingTypeProp,
				}, "name"),
				EstimatedDurationMs: 1500,
				MaxDurationMs:       30000,
				Idempotent:          true,
			},
			Handler:     makeAttendanceHandler(c),
			DeclaredP50: 1500,
			DeclaredMax: 30000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "compare_attendance_rates",
				Description: "比較多位立法委員的出席率，由高至低排序。",
				Parameters: tools.Object(map[string]any{
					"names":          tools.StringArray("立法委員姓名清單。", 1),
					"term":           tools.TermProp,
					"session_period": tools.SessionProp,
				}, "names"),
				EstimatedDurationMs: 3000,
				MaxDurationMs:       60000,
				Idempotent:          true,
			},
			Handler:     makeCompareHandler(c),
			DeclaredP50: 3000,
			DeclaredMax: 60000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_session_info",
				Description: "列出各會期的會議數與起訖日期。",
				Parameters: tools.Object(map[string]any{
					"term": tools.TermProp,
				}),
				EstimatedDurationMs: 2000,
				MaxDurationMs:       30000,
				Idempotent:          true,
			},
			Handler:     makeSessionInfoHandler(c),
			DeclaredP50: 2000,
			DeclaredMax: 30000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "find_meetings_by_bill",
				Description: "找出討論過特定議案的會議。",
				Parameters: tools.Object(map[string]any{
					"bill_name": tools.String("議案名稱或其中的關鍵字。"),
					"term":      tools.TermProp,
				}, "bill_name"),
				EstimatedDurationMs: 4000,
				MaxDurationMs:       60000,
				Idempotent:          true,
			},
			Handler:     makeMeetingsByBillHandler(c),
			DeclaredP50: 4000,
			DeclaredMax: 60000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_party_attendance_statistics",
				Description: "計算政黨全體立法委員的出席率統計，包含平均、最高、最低與前十名。",
				Parameters: tools.Object(map[string]any{
					"party":          tools.String("政黨完整名稱。"),
					"term":           tools.TermProp,
					"session_period": tools.SessionProp,
				}, "party"),
				EstimatedDurationMs: 10000,
				MaxDurationMs:       120000,
				Idempotent:          true,
			},
			Handler:     makePartyAttendanceHandler(c),
			DeclaredP50: 10000,
			DeclaredMax: 120000,
		},
	}
}
