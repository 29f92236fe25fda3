package bills

import (
	"context"
	"encoding/json"
	"slices"
	"testing"

	"github.com/tidwall/gjson"

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

const searchResult = `{
	"total": 3,
	"bills": [
		{"議案編號": "1", "議案名稱": "勞動基準法修正草案", "議案類別": "法律案", "議案狀態": "審查完畢", "提案人": ["林月琴"]},
		{"議案編號": "2", "議案名稱": "勞工保險條例修正草案", "議案類別": "法律案", "議案狀態": "交付審查"},
		{"議案編號": "3", "議案名稱": "臨時提案", "議案類別": "", "提案日期": "2024-03-01"}
	],
	"aggs": [{"agg": "議案類別", "buckets": []}]
}`

// ─────────────────────────────────────────────────────────────────────────────
// search_bills
// ─────────────────────────────────────────────────────────────────────────────

func TestSearch_QueryEncoding(t *testing.T) {
	t.Parallel()
	srv := lyapitest.NewServer(t)
	srv.JSON("/bills", searchResult)

	out, err := makeSearchHandler(srv.Client())(context.Background(),
		`{"session_period":2,"bill_type":"法律案","proposer":"林月琴","keyword":"勞基法"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := decode(t, out)
	if got["total"] != float64(3) || got["aggs"] == nil {
		t.Errorf("result = %v", got)
	}

	q := srv.Requests()[0].Query
	want := map[string]string{
		"屆":     "11",
		"會期":    "2",
		"議案類別":  "法律案",
		"提案人":   "林月琴",
		"q":     `"勞基法"`,
		"agg":   "提案來源,議案類別,議案狀態",
		"limit": "200",
	}
	for k, v := range want {
		if q.Get(k) != v {
			t.Errorf("query[%s] = %q, want %q", k, q.Get(k), v)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// cosigners and timeline
// ─────────────────────────────────────────────────────────────────────────────

func TestCosigners(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rec  string
		want []string
	}{
		{
			name: "string field split and deduplicated",
			rec:  `{"連署人": "王美惠、吳春城、 王美惠", "共同提案人": ["吳春城", "林月琴"]}`,
			want: []string{"王美惠", "吳春城", "林月琴"},
		},
		{
			name: "combined field",
			rec:  `{"提案人及連署人": "甲、乙"}`,
			want: []string{"甲", "乙"},
		},
		{
			name: "none",
			rec:  `{}`,
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Cosigners(gjson.Parse(tt.rec))
			if !slices.Equal(got, tt.want) {
				t.Errorf("Cosigners = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosignersHandler(t *testing.T) {
	t.Parallel()
	srv := lyapitest.NewServer(t)
	srv.JSON("/bills/202110071090000", `{"data":{"連署人":"甲、乙、丙"}}`)

	out, err := makeCosignersHandler(srv.Client())(context.Background(), `{"bill_no":"202110071090000"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := decode(t, out); got["count"] != float64(3) {
		t.Errorf("count = %v, want 3", got["count"])
	}
}

func TestTimeline(t *testing.T) {
	t.Parallel()

	recorded := Timeline(gjson.Parse(`{"議案流程": [{"狀態": "一讀"}], "歷程": [{"狀態": "ignored"}]}`))
	if steps, ok := recorded.([]any); !ok || len(steps) != 1 {
		t.Errorf("recorded timeline = %v", recorded)
	}

	built := Timeline(gjson.Parse(`{"提案日期": "2024-03-01", "提案人": "林月琴", "審查日期": "2024-04-01", "審查結果": "通過"}`))
	steps, ok := built.([]map[string]any)
	if !ok || len(steps) != 2 {
		t.Fatalf("built timeline = %v", built)
	}
	if steps[0]["說明"] != "由 林月琴 提案" || steps[1]["說明"] != "通過" {
		t.Errorf("steps = %v", steps)
	}

	if empty := Timeline(gjson.Parse(`{}`)).([]map[string]any); len(empty) != 0 {
		t.Errorf("empty record should yield no steps, got %v", empty)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// statistics
// ─────────────────────────────────────────────────────────────────────────────

func TestAnalyze_CountsByTypeAndStatus(t *testing.T) {
	t.Parallel()
	srv := lyapitest.NewServer(t)
	srv.JSON("/bills", searchResult)

	out, err := makeAnalyzeHandler(srv.Client())(context.Background(), `{"name":"林月琴"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := decode(t, out)
	types := got["議案類別統計"].(map[string]any)
	if types["法律案"] != float64(2) || types["其他"] != float64(1) {
		t.Errorf("議案類別統計 = %v", types)
	}
	status := got["議案狀態統計"].(map[string]any)
	if status["未知"] != float64(1) || status["審查完畢"] != float64(1) {
		t.Errorf("議案狀態統計 = %v", status)
	}
	if q := srv.Requests()[0].Query; q.Get("提案人") != "林月琴" {
		t.Errorf("提案人 = %q", q.Get("提案人"))
	}
}

func TestKeyword_DefaultLimitAndProjection(t *testing.T) {
	t.Parallel()
	srv := lyapitest.NewServer(t)
	srv.JSON("/bills", searchResult)

	out, err := makeKeywordHandler(srv.Client())(context.Background(), `{"keyword":"勞工"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := decode(t, out)
	list := got["bills"].([]any)
	if len(list) != 3 {
		t.Fatalf("expected 3 bills, got %d", len(list))
	}
	first := list[0].(map[string]any)
	if _, ok := first["議案類別"]; ok {
		t.Error("projection should drop 議案類別")
	}
	if first["議案名稱"] != "勞動基準法修正草案" {
		t.Errorf("first bill = %v", first)
	}
	if q := srv.Requests()[0].Query; q.Get("limit") != "100" {
		t.Errorf("limit = %q, want 100", q.Get("limit"))
	}
}

func TestKeyword_EmptyRejected(t *testing.T) {
	t.Parallel()
	srv := lyapitest.NewServer(t)
	if _, err := makeKeywordHandler(srv.Client())(context.Background(), `{"keyword":""}`); err == nil {
		t.Fatal("expected validation error")
	}
}
