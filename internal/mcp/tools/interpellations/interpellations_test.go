package interpellations

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/lybot/internal/lyapi/lyapitest"
)

func decode(t *testing.T, out string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("invalid JSON result: %v\n%s", err, out)
	}
	return m
}

// ─────────────────────────────────────────────────────────────────────────────
// KeyStatements
// ─────────────────────────────────────────────────────────────────────────────

func TestKeyStatements(t *testing.T) {
	t.Parallel()

	long := "關於長照政策的推動，政府必須提出更具體的財源規劃與人力配置方案"
	tests := []struct {
		name    string
		content string
		topic   string
		want    []string
	}{
		{
			name:    "matching sentence restored with full stop",
			content: "短句長照。" + long + "。其他議題完全無關的句子內容在這裡出現而且夠長。",
			topic:   "長照",
			want:    []string{long + "。"},
		},
		{
			name:    "short sentences ignored",
			content: "長照很重要。長照要加油。",
			topic:   "長照",
			want:    []string{},
		},
		{
			name:    "overlong sentence ignored",
			content: "長照" + strings.Repeat("字", 300) + "。",
			topic:   "長照",
			want:    []string{},
		},
		{
			name:    "at most five",
			content: strings.Repeat(long+"。", 7),
			topic:   "長照",
			want:    slices.Repeat([]string{long + "。"}, 5),
		},
		{
			name:    "empty content",
			content: "",
			topic:   "長照",
			want:    []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := KeyStatements(tt.content, tt.topic)
			if !slices.Equal(got, tt.want) {
				t.Errorf("KeyStatements = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatementsHandler_EmptyTopic(t *testing.T) {
	t.Parallel()
	if _, err := statementsHandler(context.Background(), `{"content":"內容","topic":"  "}`); err == nil {
		t.Fatal("expected validation error for empty topic")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// upstream-backed tools
// ─────────────────────────────────────────────────────────────────────────────

func TestSearch_QueryEncoding(t *testing.T) {
	t.Parallel()
	srv := lyapitest.NewServer(t)
	srv.JSON("/interpellations", `{"total":1,"interpellations":[{"質詢委員":["林月琴"]}]}`)

	out, err := makeSearchHandler(srv.Client())(context.Background(),
		`{"legislator":" 林月琴 ","keyword":"長照","session_period":3,"limit":5}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := decode(t, out); got["total"] != float64(1) {
		t.Errorf("total = %v", got["total"])
	}
	q := srv.Requests()[0].Query
	want := map[string]string{"質詢委員": "林月琴", "q": "長照", "會期": "3", "屆": "11", "limit": "5"}
	for k, v := range want {
		if q.Get(k) != v {
			t.Errorf("query[%s] = %q, want %q", k, q.Get(k), v)
		}
	}
}

func TestMeetingInterpellations(t *testing.T) {
	t.Parallel()
	srv := lyapitest.NewServer(t)
	srv.JSON("/meets/m1/interpellations", `{"total":2,"interpellations":[{},{}]}`)

	out, err := makeMeetingHandler(srv.Client())(context.Background(), `{"meeting_id":"m1"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := decode(t, out)
	if got["meeting_id"] != "m1" || len(got["interpellations"].([]any)) != 2 {
		t.Errorf("result = %v", got)
	}
}

func TestDetails_NotFound(t *testing.T) {
	t.Parallel()
	srv := lyapitest.NewServer(t)

	if _, err := makeDetailsHandler(srv.Client())(context.Background(), `{"interpellation_id":"x"}`); err == nil {
		t.Fatal("expected error for unknown interpellation")
	}
}

func TestStatistics(t *testing.T) {
	t.Parallel()
	srv := lyapitest.NewServer(t)
	srv.JSON("/interpellations", `{"total":4,"interpellations":[
		{"會期":2,"事由":"長照財源"},
		{"會期":1,"事由":"托育政策"},
		{"會期":2,"事由":" "},
		{"會期":2}
	]}`)

	out, err := makeStatsHandler(srv.Client())(context.Background(), `{"name":"林月琴"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := decode(t, out)
	if got["總質詢次數"] != float64(4) || got["立委"] != "林月琴" {
		t.Errorf("result = %v", got)
	}
	sessions := got["各會期統計"].([]any)
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %v", sessions)
	}
	first := sessions[0].(map[string]any)
	second := sessions[1].(map[string]any)
	if first["會期"] != float64(1) || first["質詢次數"] != float64(1) || second["質詢次數"] != float64(3) {
		t.Errorf("各會期統計 = %v", sessions)
	}
	if subjects := got["質詢事由"].([]any); len(subjects) != 2 {
		t.Errorf("質詢事由 = %v", subjects)
	}
	if q := srv.Requests()[0].Query; q.Get("質詢委員") != "林月琴" || q.Get("limit") != "1000" {
		t.Errorf("query = %v", q)
	}
}

func TestNewTools(t *testing.T) {
	t.Parallel()
	srv := lyapitest.NewServer(t)
	seen := make(map[string]bool)
	for _, tool := range NewTools(srv.Client()) {
		if seen[tool.Definition.Name] {
			t.Errorf("duplicate tool %q", tool.Definition.Name)
		}
		seen[tool.Definition.Name] = true
		if tool.Handler == nil {
			t.Errorf("tool %q has no handler", tool.Definition.Name)
		}
	}
	if len(seen) != 5 {
		t.Errorf("expected 5 tools, got %d", len(seen))
	}
}
