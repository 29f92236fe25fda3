// Package analysis provides the cross-cutting research tools: party
// statistics, cosigning alignment, cross-party cooperation, activity
// rankings, topic focus and side-by-side legislator comparison. They are
// built from the bill, meeting and interpellation lookups of the sibling
// tool packages.
package analysis

import (
	"cmp"
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lybot/internal/lyapi"
	"github.com/MrWong99/lybot/internal/mcp/tools"
	"github.com/MrWong99/lybot/internal/mcp/tools/bills"
	"github.com/MrWong99/lybot/internal/mcp/tools/meetings"
	"github.com/MrWong99/lybot/pkg/provider/llm"
)

const (
	fanOut = 4

	// partySample is how many members analyze_party_statistics reads bills for.
	partySample = 10

	// cooperationBills bounds the bills find_cross_party_cooperation inspects.
	cooperationBills = 50

	topLaws   = 10
	topActive = 5
	topShared = 10
)

// Ranking metrics.
const (
	MetricBills           = "bills"
	MetricCosigned        = "cosigned"
	MetricInterpellations = "interpellations"
	MetricAttendance      = "attendance"
)

var (
	quoted     = regexp.MustCompile(`[「『]([^」』]+)[」』]`)
	lawPattern = regexp.MustCompile(`\p{Han}{1,20}?(?:條例|通則|法)`)
)

// LawName returns the statute a bill title amends, or "" when none is named.
func LawName(title string) string {
	if m := quoted.FindStringSubmatch(title); m != nil {
		if law := lawPattern.FindString(m[1]); law != "" {
			return law
		}
		return m[1]
	}
	return lawPattern.FindString(title)
}

// ---- shared lookups ----

type member struct {
	Name         string
	Party        string
	Constituency string
	Gender       string
}

// members lists the legislators of term, optionally of one party.
func members(ctx context.Context, c *lyapi.Client, term int, party string) ([]member, error) {
	q := lyapi.NewQuery().Term(c.Term(term)).Set("黨籍", party).Page(1, lyapi.MaxLimit)
	res, err := c.Legislators(ctx, q)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []member
	for _, l := range lyapi.Items(res, "legislators") {
		name := strings.TrimSpace(lyapi.Str(l, "委員姓名"))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, member{
			Name:         name,
			Party:        lyapi.Str(l, "黨籍"),
			Constituency: lyapi.Str(l, "選區名稱"),
			Gender:       lyapi.Str(l, "性別"),
		})
	}
	return out, nil
}

type failure struct {
	Legislator string `json:"立委"`
	Error      string `json:"錯誤"`
}

// each runs fn for every name with bounded concurrency. Results keep the
// order of names; data errors become failures and other errors abort.
func each[T any](ctx context.Context, names []string, fn func(context.Context, string) (T, error)) ([]T, []failure, error) {
	var (
		mu       sync.Mutex
		failures []failure
	)
	slots := make([]*T, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)
	for i, name := range names {
		g.Go(func() error {
			v, err := fn(gctx, name)
			if err != nil {
				if lyapi.IsDataError(err) {
					mu.Lock()
					failures = append(failures, failure{Legislator: name, Error: err.Error()})
					mu.Unlock()
					return nil
				}
				return err
			}
			slots[i] = &v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	out := make([]T, 0, len(names))
	for _, s := range slots {
		if s != nil {
			out = append(out, *s)
		}
	}
	slices.SortFunc(failures, func(a, b failure) int { return cmp.Compare(a.Legislator, b.Legislator) })
	return out, failures, nil
}

func percent(part, whole int) string {
	var rate float64
	if whole > 0 {
		rate = float64(part) / float64(whole) * 100
	}
	return strconv.FormatFloat(rate, 'f', 1, 64) + "%"
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

// counted is a label with its frequency, used for ranked breakdowns.
type counted struct {
	Label string `json:"名稱"`
	Count int    `json:"次數"`
}

// ranked sorts counts by frequency, then label, and keeps the first n.
func ranked(counts map[string]int, n int) []counted {
	out := make([]counted, 0, len(counts))
	for k, v := range counts {
		out = append(out, counted{Label: k, Count: v})
	}
	slices.SortFunc(out, func(a, b counted) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Label, b.Label)
	})
	return out[:min(n, len(out))]
}

// ─────────────────────────────────────────────────────────────────────────────
// Handler constructors
// ─────────────────────────────────────────────────────────────────────────────

type partyArgs struct {
	Party string `json:"party"`
	Term  int    `json:"term,omitempty"`
}

type alignmentArgs struct {
	Names       []string `json:"names"`
	BillKeyword string   `json:"bill_keyword,omitempty"`
	Term        int      `json:"term,omitempty"`
}

type cooperationArgs struct {
	Topic      string `json:"topic"`
	Term       int    `json:"term,omitempty"`
	MinParties int    `json:"min_parties,omitempty"`
}

type rankArgs struct {
	Term   int    `json:"term,omitempty"`
	Party  string `json:"party,omitempty"`
	Metric string `json:"metric,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type focusArgs struct {
	Name   string   `json:"name"`
	Term   int      `json:"term,omitempty"`
	Topics []string `json:"topics,omitempty"`
}

type compareArgs struct {
	Names         []string `json:"names"`
	Term          int      `json:"term,omitempty"`
	SessionPeriod int      `json:"session_period,omitempty"`
}

type proposals struct {
	Name  string `json:"立委"`
	Count int    `json:"提案數"`
	types map[string]int
}

func makePartyHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a partyArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		party := tools.PartyName(a.Party)
		if party == "" {
			return "", lyapi.Invalid("party", "must not be empty")
		}
		term := c.Term(a.Term)
		ms, err := members(ctx, c, term, party)
		if err != nil {
			return "", fmt.Errorf("analysis: analyze_party_statistics: %w", err)
		}

		constituencies := make(map[string]int)
		genders := make(map[string]int)
		atLarge := 0
		for _, m := range ms {
			key := m.Constituency
			if key == "" {
				key = "未知"
			}
			constituencies[key]++
			if strings.Contains(m.Constituency, "不分區") {
				atLarge++
			}
			if m.Gender != "" {
				genders[m.Gender]++
			}
		}

		sample := make([]string, 0, partySample)
		for _, m := range ms[:min(partySample, len(ms))] {
			sample = append(sample, m.Name)
		}
		counts, failures, err := each(ctx, sample, func(ctx context.Context, name string) (proposals, error) {
			res, err := bills.Search(ctx, c, bills.SearchParams{Term: term, Proposer: name, Limit: lyapi.MaxLimit})
			if err != nil {
				return proposals{}, err
			}
			p := proposals{Name: name, Count: lyapi.Total(res), types: make(map[string]int)}
			for _, b := range bills.Items(res) {
				kind := lyapi.Str(b, "議案類別")
				if kind == "" {
					kind = "其他"
				}
				p.types[kind]++
			}
			return p, nil
		})
		if err != nil {
			return "", fmt.Errorf("analysis: analyze_party_statistics: %w", err)
		}

		total := 0
		types := make(map[string]int)
		for _, p := range counts {
			total += p.Count
			for k, v := range p.types {
				types[k] += v
			}
		}
		var avg float64
		if len(counts) > 0 {
			avg = float64(total) / float64(len(counts))
		}
		active := slices.Clone(counts)
		slices.SortStableFunc(active, func(a, b proposals) int { return cmp.Compare(b.Count, a.Count) })

		out := map[string]any{
			"黨籍": party,
			"屆":  term,
			"基本統計": map[string]any{
				"總人數":   len(ms),
				"不分區人數": atLarge,
				"選區分布":  constituencies,
				"性別分布":  genders,
			},
			"提案統計": map[string]any{
				"抽樣人數":   len(counts),
				"平均提案數":  strconv.FormatFloat(avg, 'f', 1, 64),
				"議案類型分布": types,
			},
			"活躍立委": active[:min(topActive, len(active))],
		}
		if len(failures) > 0 {
			out["查詢失敗"] = failures
		}
		return tools.Encode(out)
	}
}

type pair struct {
	A          string   `json:"立委A"`
	B          string   `json:"立委B"`
	Shared     int      `json:"共同支持議案數"`
	Similarity string   `json:"相似度"`
	Bills      []string `json:"共同議案"`
	score      float64
}

type supported struct {
	Name  string
	Bills map[string]string // 議案編號 → 議案名稱
}

// supportedBills returns the bills name proposed or cosigned.
func supportedBills(ctx context.Context, c *lyapi.Client, name, keyword string, term int) (supported, error) {
	s := supported{Name: name, Bills: make(map[string]string)}
	for _, p := range []bills.SearchParams{
		{Term: term, Proposer: name, Keyword: keyword, Limit: lyapi.MaxLimit},
		{Term: term, Cosigner: name, Keyword: keyword, Limit: lyapi.MaxLimit},
	} {
		res, err := bills.Search(ctx, c, p)
		if err != nil {
			return supported{}, err
		}
		for _, b := range bills.Items(res) {
			if no := lyapi.Str(b, "議案編號"); no != "" {
				s.Bills[no] = lyapi.Str(b, "議案名稱")
			}
		}
	}
	return s, nil
}

func makeAlignmentHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a alignmentArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		names := cleanNames(a.Names)
		if len(names) < 2 {
			return "", lyapi.Invalid("names", "need at least two legislators")
		}
		term := c.Term(a.Term)
		sets, failures, err := each(ctx, names, func(ctx context.Context, name string) (supported, error) {
			return supportedBills(ctx, c, name, a.BillKeyword, term)
		})
		if err != nil {
			return "", fmt.Errorf("analysis: analyze_voting_alignment: %w", err)
		}

		totals := make(map[string]int, len(sets))
		var pairs []pair
		for i := range sets {
			totals[sets[i].Name] = len(sets[i].Bills)
			for j := i + 1; j < len(sets); j++ {
				pairs = append(pairs, comparePair(sets[i], sets[j]))
			}
		}
		slices.SortStableFunc(pairs, func(a, b pair) int { return cmp.Compare(b.score, a.score) })

		out := map[string]any{
			"屆":     term,
			"支持議案數": totals,
			"兩兩比較":  pairs,
		}
		if a.BillKeyword != "" {
			out["議案關鍵字"] = a.BillKeyword
		}
		if len(failures) > 0 {
			out["查詢失敗"] = failures
		}
		return tools.Encode(out)
	}
}

// comparePair measures cosigning overlap as the Jaccard index of the two
// sets of supported bills.
func comparePair(x, y supported) pair {
	shared := []string{}
	var ids []string
	for no := range x.Bills {
		if _, ok := y.Bills[no]; ok {
			ids = append(ids, no)
		}
	}
	slices.Sort(ids)
	for _, no := range ids[:min(topShared, len(ids))] {
		shared = append(shared, x.Bills[no])
	}
	union := len(x.Bills) + len(y.Bills) - len(ids)
	p := pair{A: x.Name, B: y.Name, Shared: len(ids), Similarity: percent(len(ids), union), Bills: shared}
	if union > 0 {
		p.score = float64(len(ids)) / float64(union)
	}
	return p
}

type cooperation struct {
	BillNo     string         `json:"議案編號"`
	Title      string         `json:"議案名稱"`
	Parties    []string       `json:"參與政黨"`
	PerParty   map[string]int `json:"各黨人數"`
	Proposers  int            `json:"提案人數"`
	Cosigners  int            `json:"連署人數"`
	Supporters int            `json:"總支持人數"`
}

func makeCooperationHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a cooperationArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		topic := strings.TrimSpace(a.Topic)
		if topic == "" {
			return "", lyapi.Invalid("topic", "must not be empty")
		}
		minParties := max(a.MinParties, 2)
		term := c.Term(a.Term)

		var (
			ms  []member
			res gjson.Result
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			ms, err = members(gctx, c, term, "")
			return err
		})
		g.Go(func() (err error) {
			res, err = bills.Search(gctx, c, bills.SearchParams{Term: term, Keyword: topic, Limit: cooperationBills})
			return err
		})
		if err := g.Wait(); err != nil {
			return "", fmt.Errorf("analysis: find_cross_party_cooperation: %w", err)
		}
		partyOf := make(map[string]string, len(ms))
		for _, m := range ms {
			partyOf[m.Name] = m.Party
		}

		found := []cooperation{}
		pairs := make(map[string]int)
		items := bills.Items(res)
		for _, b := range items {
			proposers := bills.Proposers(b)
			cosigners := bills.Cosigners(b)
			perParty := make(map[string]int)
			for _, n := range cleanNames(append(slices.Clone(proposers), cosigners...)) {
				if p := partyOf[n]; p != "" {
					perParty[p]++
				}
			}
			if len(perParty) < minParties {
				continue
			}
			parties := make([]string, 0, len(perParty))
			for p := range perParty {
				parties = append(parties, p)
			}
			slices.Sort(parties)
			for i := range parties {
				for j := i + 1; j < len(parties); j++ {
					pairs[parties[i]+"+"+parties[j]]++
				}
			}
			found = append(found, cooperation{
				BillNo:     lyapi.Str(b, "議案編號"),
				Title:      lyapi.Str(b, "議案名稱"),
				Parties:    parties,
				PerParty:   perParty,
				Proposers:  len(proposers),
				Cosigners:  len(cosigners),
				Supporters: len(proposers) + len(cosigners),
			})
		}
		slices.SortStableFunc(found, func(a, b cooperation) int { return cmp.Compare(len(b.Parties), len(a.Parties)) })

		return tools.Encode(map[string]any{
			"議題":     topic,
			"屆":      term,
			"分析議案數":  len(items),
			"跨黨派法案":  found,
			"政黨合作統計": pairs,
		})
	}
}

type score struct {
	Rank  int     `json:"名次"`
	Name  string  `json:"立委"`
	Party string  `json:"黨籍"`
	Score float64 `json:"分數"`
}

// activity returns the value of metric for one legislator.
func activity(ctx context.Context, c *lyapi.Client, metric, name string, term int) (float64, error) {
	switch metric {
	case MetricBills:
		res, err := bills.Search(ctx, c, bills.SearchParams{Term: term, Proposer: name, Limit: 1})
		return float64(lyapi.Total(res)), err
	case MetricCosigned:
		res, err := c.LegislatorRelation(ctx, term, name, lyapi.RelCosignBills, lyapi.NewQuery().Page(1, 1))
		return float64(lyapi.Total(res)), err
	case MetricInterpellations:
		res, err := c.Interpellations(ctx, lyapi.NewQuery().Term(term).Set("質詢委員", name).Page(1, 1))
		return float64(lyapi.Total(res)), err
	case MetricAttendance:
		at, err := meetings.ComputeAttendance(ctx, c, name, term, 0, "")
		return at.Rate, err
	}
	return 0, lyapi.Invalid("metric", "unknown metric %q", metric)
}

func makeRankHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a rankArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		metric := cmp.Or(a.Metric, MetricBills)
		if !slices.Contains([]string{MetricBills, MetricCosigned, MetricInterpellations, MetricAttendance}, metric) {
			return "", lyapi.Invalid("metric", "unknown metric %q", metric)
		}
		limit := a.Limit
		if limit <= 0 {
			limit = 10
		}
		term := c.Term(a.Term)
		party := tools.PartyName(a.Party)
		ms, err := members(ctx, c, term, party)
		if err != nil {
			return "", fmt.Errorf("analysis: rank_legislators_by_activity: %w", err)
		}
		partyOf := make(map[string]string, len(ms))
		names := make([]string, 0, len(ms))
		for _, m := range ms {
			partyOf[m.Name] = m.Party
			names = append(names, m.Name)
		}

		scores, failures, err := each(ctx, names, func(ctx context.Context, name string) (score, error) {
			v, err := activity(ctx, c, metric, name, term)
			return score{Name: name, Party: partyOf[name], Score: v}, err
		})
		if err != nil {
			return "", fmt.Errorf("analysis: rank_legislators_by_activity: %w", err)
		}
		slices.SortStableFunc(scores, func(a, b score) int {
			if c := cmp.Compare(b.Score, a.Score); c != 0 {
				return c
			}
			return cmp.Compare(a.Name, b.Name)
		})
		scores = scores[:min(limit, len(scores))]
		for i := range scores {
			scores[i].Rank = i + 1
		}

		out := map[string]any{
			"指標":   metric,
			"屆":    term,
			"統計人數": len(names),
			"排名":   scores,
		}
		if party != "" {
			out["黨籍"] = party
		}
		if len(failures) > 0 {
			out["查詢失敗"] = failures
		}
		return tools.Encode(out)
	}
}

type topicActivity struct {
	Topic           string `json:"議題"`
	Interpellations int    `json:"質詢次數"`
	Bills           int    `json:"相關提案"`
	Total           int    `json:"總計"`
}

func makeFocusHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a focusArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return "", lyapi.Invalid("name", "must not be empty")
		}
		term := c.Term(a.Term)

		res, err := bills.Search(ctx, c, bills.SearchParams{Term: term, Proposer: name, Limit: lyapi.MaxLimit})
		if err != nil {
			return "", fmt.Errorf("analysis: analyze_topic_focus: %w", err)
		}
		laws := make(map[string]int)
		types := make(map[string]int)
		for _, b := range bills.Items(res) {
			if law := LawName(lyapi.Str(b, "議案名稱")); law != "" {
				laws[law]++
			}
			if kind := lyapi.Str(b, "議案類別"); kind != "" {
				types[kind]++
			}
		}
		out := map[string]any{
			"立委":     name,
			"屆":      term,
			"總提案數":   lyapi.Total(res),
			"關注法律":   ranked(laws, topLaws),
			"議案類別分布": types,
		}

		topics := cleanNames(a.Topics)
		if len(topics) > 0 {
			focus, _, err := each(ctx, topics, func(ctx context.Context, topic string) (topicActivity, error) {
				return topicOf(ctx, c, name, topic, term)
			})
			if err != nil {
				return "", fmt.Errorf("analysis: analyze_topic_focus: %w", err)
			}
			slices.SortStableFunc(focus, func(a, b topicActivity) int { return cmp.Compare(b.Total, a.Total) })
			out["議題關注度"] = focus
			if len(focus) > 0 && focus[0].Total > 0 {
				out["最關注議題"] = focus[0].Topic
			}
		}
		return tools.Encode(out)
	}
}

func topicOf(ctx context.Context, c *lyapi.Client, name, topic string, term int) (topicActivity, error) {
	var ta topicActivity
	ta.Topic = topic
	interps, err := c.Interpellations(ctx,
		lyapi.NewQuery().Term(term).Set("質詢委員", name).Text(topic).Page(1, 1))
	if err != nil {
		return ta, err
	}
	res, err := bills.Search(ctx, c, bills.SearchParams{Term: term, Proposer: name, Keyword: topic, Limit: 1})
	if err != nil {
		return ta, err
	}
	ta.Interpellations = lyapi.Total(interps)
	ta.Bills = lyapi.Total(res)
	ta.Total = ta.Interpellations + ta.Bills
	return ta, nil
}

type performance struct {
	Name            string    `json:"立委"`
	Attendance      string    `json:"出席率"`
	Bills           int       `json:"提案數"`
	Interpellations int       `json:"質詢數"`
	Focus           []counted `json:"主要關注"`
}

func makeCompareHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a compareArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		names := cleanNames(a.Names)
		if len(names) == 0 {
			return "", lyapi.Invalid("names", "must not be empty")
		}
		term := c.Term(a.Term)
		perf, failures, err := each(ctx, names, func(ctx context.Context, name string) (performance, error) {
			at, err := meetings.ComputeAttendance(ctx, c, name, term, a.SessionPeriod, "")
			if err != nil {
				return performance{}, err
			}
			res, err := bills.Search(ctx, c, bills.SearchParams{
				Term: term, SessionPeriod: a.SessionPeriod, Proposer: name, Limit: lyapi.MaxLimit,
			})
			if err != nil {
				return performance{}, err
			}
			interps, err := c.Interpellations(ctx,
				lyapi.NewQuery().Term(term).Session(a.SessionPeriod).Set("質詢委員", name).Page(1, 1))
			if err != nil {
				return performance{}, err
			}
			laws := make(map[string]int)
			for _, b := range bills.Items(res) {
				if law := LawName(lyapi.Str(b, "議案名稱")); law != "" {
					laws[law]++
				}
			}
			return performance{
				Name:            name,
				Attendance:      at.RateText,
				Bills:           lyapi.Total(res),
				Interpellations: lyapi.Total(interps),
				Focus:           ranked(laws, 3),
			}, nil
		})
		if err != nil {
			return "", fmt.Errorf("analysis: compare_legislators_performance: %w", err)
		}
		out := map[string]any{
			"屆":  term,
			"比較": perf,
		}
		if a.SessionPeriod > 0 {
			out["會期"] = a.SessionPeriod
		}
		if len(failures) > 0 {
			out["查詢失敗"] = failures
		}
		return tools.Encode(out)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Tool definitions
// ─────────────────────────────────────────────────────────────────────────────

// NewTools returns the analysis tools bound to c.
func NewTools(c *lyapi.Client) []tools.Tool {
	names := tools.StringArray("立法委員姓名列表。", 1)
	return []tools.Tool{
		{
			Definition: llm.ToolDefinition{
				Name:        "analyze_party_statistics",
				Description: "分析政黨的席次組成、選區與性別分布，以及抽樣委員的提案統計。",
				Parameters: tools.Object(map[string]any{
					"party": tools.String("政黨名稱，可使用簡稱。"),
					"term":  tools.TermProp,
				}, "party"),
				EstimatedDurationMs: 6000,
				MaxDurationMs:       60000,
				Idempotent:          true,
			},
			Handler:     makePartyHandler(c),
			DeclaredP50: 6000,
			DeclaredMax: 60000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "analyze_voting_alignment",
				Description: "以共同提案與連署的重疊程度，比較多位立委的立場相近度。",
				Parameters: tools.Object(map[string]any{
					"names":        tools.StringArray("立法委員姓名列表，至少兩位。", 2),
					"bill_keyword": tools.String("限定議案關鍵字。"),
					"term":         tools.TermProp,
				}, "names"),
				EstimatedDurationMs: 5000,
				MaxDurationMs:       60000,
				Idempotent:          true,
			},
			Handler:     makeAlignmentHandler(c),
			DeclaredP50: 5000,
			DeclaredMax: 60000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "find_cross_party_cooperation",
				Description: "找出特定議題中，由多個政黨委員共同提案或連署的法案。",
				Parameters: tools.Object(map[string]any{
					"topic":       tools.String("議題關鍵字。"),
					"term":        tools.TermProp,
					"min_parties": tools.Integer("最少參與政黨數，預設 2。", 2, 10),
				}, "topic"),
				EstimatedDurationMs: 3000,
				MaxDurationMs:       30000,
				Idempotent:          true,
			},
			Handler:     makeCooperationHandler(c),
			DeclaredP50: 3000,
			DeclaredMax: 30000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "rank_legislators_by_activity",
				Description: "依提案數、連署數、質詢數或出席率排名立法委員。",
				Parameters: tools.Object(map[string]any{
					"term":   tools.TermProp,
					"party":  tools.String("限定政黨。"),
					"metric": tools.Enum("排名指標，預設 bills。", MetricBills, MetricCosigned, MetricInterpellations, MetricAttendance),
					"limit":  tools.Integer("回傳名次數，預設 10。", 1, 120),
				}),
				EstimatedDurationMs: 20000,
				MaxDurationMs:       120000,
				Idempotent:          true,
			},
			Handler:     makeRankHandler(c),
			DeclaredP50: 20000,
			DeclaredMax: 120000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "analyze_topic_focus",
				Description: "分析立委提案所涉及的法律與議題，可指定議題以比較質詢與提案數量。",
				Parameters: tools.Object(map[string]any{
					"name":   tools.String("立法委員姓名。"),
					"term":   tools.TermProp,
					"topics": tools.StringArray("要比較的議題關鍵字。", 0),
				}, "name"),
				EstimatedDurationMs: 3000,
				MaxDurationMs:       30000,
				Idempotent:          true,
			},
			Handler:     makeFocusHandler(c),
			DeclaredP50: 3000,
			DeclaredMax: 30000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "compare_legislators_performance",
				Description: "並列比較多位立委的出席率、提案數、質詢數與主要關注法律。",
				Parameters: tools.Object(map[string]any{
					"names":          names,
					"term":           tools.TermProp,
					"session_period": tools.SessionProp,
				}, "names"),
				EstimatedDurationMs: 6000,
				MaxDurationMs:       60000,
				Idempotent:          true,
			},
			Handler:     makeCompareHandler(c),
			DeclaredP50: 6000,
			DeclaredMax: 60000,
		},
	}
}
