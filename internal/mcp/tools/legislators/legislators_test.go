package legislators

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/MrWong99/lybot/internal/constituency"
	"github.com/MrWong99/lybot/internal/lyapi"
	"github.com/MrWong99/lybot/internal/lyapi/lyapitest"
)

const twoLegislators = `{
	"total": 2,
	"legislators": [
		{"委員姓名": "王美惠", "黨籍": "民主進步黨", "選區名稱": "嘉義市選舉區"},
		{"委員姓名": "吳春城", "黨籍": "台灣民眾黨", "選區名稱": "全國不分區"}
	],
	"aggs": []
}`

func decode(t *testing.T, out string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("invalid JSON result: %v\n%s", err, out)
	}
	return m
}

// ─────────────────────────────────────────────────────────────────────────────
// get_legislator_by_constituency
// ─────────────────────────────────────────────────────────────────────────────

func TestByConstituency_NormalizesInput(t *testing.T) {
	t.Parallel()
	srv := lyapitest.NewServer(t)
	srv.Handle("/legislators", func(q url.Values) (int, string) {
		if q.Get("選區名稱") == "臺北市第7選舉區" {
			return http.StatusOK, `{"total":1,"legislators":[{"委員姓名":"王鴻薇","選區名稱":"臺北市第7選舉區"}]}`
		}
		return http.StatusOK, `{"total":0,"legislators":[]}`
	})

	h := makeByConstituencyHandler(srv.Client(), constituency.New())
	out, err := h(context.Background(), `{"constituency":"台北市第七選區"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := decode(t, out)
	if got["constituency"] != "臺北市第7選舉區" || got["normalized"] != true {
		t.Errorf("constituency = %v, normalized = %v", got["constituency"], got["normalized"])
	}
	if got["total"] != float64(1) {
		t.Errorf("total = %v, want 1", got["total"])
	}

	reqs := srv.RequestsTo("/legislators")
	if len(reqs) != 1 {
		t.Fatalf("expected 1 upstream request, got %d", len(reqs))
	}
	q := reqs[0].Query
	if q.Get("屆") != "11" || q.Get("agg") != "委員姓名" || q.Get("limit") != "200" {
		t.Errorf("query = %v", q)
	}
}

func TestByConstituency_PartialMatchFallback(t *testing.T) {
	t.Parallel()
	srv := lyapitest.NewServer(t)
	srv.Handle("/legislators", func(q url.Values) (int, string) {
		if q.Get("選區名稱") != "" {
			return http.StatusOK, `{"total":0,"legislators":[]}`
		}
		return http.StatusOK, twoLegislators
	})

	h := makeByConstituencyHandler(srv.Client(), constituency.New())
	out, err := h(context.Background(), `{"constituency":"嘉義市"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := decode(t, out)
	if got["partial_match"] != true || got["total"] != float64(1) {
		t.Fatalf("result = %v", got)
	}
	list := got["legislators"].([]any)
	if name := list[0].(map[string]any)["委員姓名"]; name != "王美惠" {
		t.Errorf("matched %v, want 王美惠", name)
	}
	if n := len(srv.RequestsTo("/legislators")); n != 2 {
		t.Errorf("expected 2 upstream requests, got %d", n)
	}
}

func TestByConstituency_EmptyInput(t *testing.T) {
	t.Parallel()
	srv := lyapitest.NewServer(t)
	h := makeByConstituencyHandler(srv.Client(), constituency.New())

	_, err := h(context.Background(), `{"constituency":"  "}`)
	var ve *lyapi.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(srv.Requests()) != 0 {
		t.Error("no upstream request expected")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// listings and details
// ─────────────────────────────────────────────────────────────────────────────

func TestList_PartyShortFormExpanded(t *testing.T) {
	t.Parallel()
	srv := lyapitest.NewServer(t)
	srv.JSON("/legislators", twoLegislators)

	h := makeListHandler(srv.Client())
	if _, err := h(context.Background(), `{"party":"民眾黨","term":10}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q := srv.Requests()[0].Query
	if q.Get("黨籍") != "台灣民眾黨" || q.Get("屆") != "10" {
		t.Errorf("query = %v", q)
	}
}

func TestDetails_AddsRelations(t *testing.T) {
	t.Parallel()
	srv := lyapitest.NewServer(t)
	srv.JSON("/legislators/11/韓國瑜", `{"data":{"委員姓名":"韓國瑜","黨籍":"中國國民黨"}}`)
	c := srv.Client()

	out, err := makeDetailsHandler(c)(context.Background(), `{"name":"韓國瑜"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := decode(t, out)
	if got["data"].(map[string]any)["黨籍"] != "中國國民黨" {
		t.Errorf("data = %v", got["data"])
	}
	rels := got["relations"].([]any)
	if len(rels) != 4 {
		t.Fatalf("expected 4 relations, got %d", len(rels))
	}
	first := rels[0].(map[string]any)
	if first["name"] != "propose_bills" || first["url"] != c.LegislatorRelationURL(11, "韓國瑜", "propose_bills") {
		t.Errorf("first relation = %v", first)
	}
}

func TestDetails_NotFound(t *testing.T) {
	t.Parallel()
	srv := lyapitest.NewServer(t)

	_, err := makeDetailsHandler(srv.Client())(context.Background(), `{"name":"查無此人"}`)
	var nf *lyapi.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}

func TestSeatCount_GroupsByConstituency(t *testing.T) {
	t.Parallel()
	srv := lyapitest.NewServer(t)
	srv.JSON("/legislators", `{
		"total": 3,
		"legislators": [
			{"委員姓名": "甲", "選區名稱": "全國不分區"},
			{"委員姓名": "乙", "選區名稱": "全國不分區"},
			{"委員姓名": "丙"}
		]
	}`)

	out, err := makeSeatCountHandler(srv.Client())(context.Background(), `{"party":"KMT"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := decode(t, out)
	if got["黨籍"] != "中國國民黨" || got["總席次"] != float64(3) || got["選區數量"] != float64(2) {
		t.Errorf("result = %v", got)
	}
	areas := got["各選區分布"].(map[string]any)
	if len(areas["全國不分區"].([]any)) != 2 || len(areas["未知"].([]any)) != 1 {
		t.Errorf("各選區分布 = %v", areas)
	}
}

func TestRelation_PassesFilters(t *testing.T) {
	t.Parallel()
	srv := lyapitest.NewServer(t)
	srv.JSON("/legislators/11/韓國瑜/meets", `{"total":1,"meets":[{"會議代碼":"m1"}]}`)

	h := makeRelationHandler(srv.Client(), "get_legislator_meetings", lyapi.RelMeets)
	out, err := h(context.Background(), `{"name":"韓國瑜","session_period":2,"meeting_type":"院會","limit":50}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := decode(t, out)
	if len(got["meets"].([]any)) != 1 {
		t.Errorf("meets = %v", got["meets"])
	}
	q := srv.Requests()[0].Query
	if q.Get("會期") != "2" || q.Get("會議種類") != "院會" || q.Get("limit") != "50" || q.Get("page") != "1" {
		t.Errorf("query = %v", q)
	}
}

func TestCommittees_CollectsAllFields(t *testing.T) {
	t.Parallel()
	srv := lyapitest.NewServer(t)
	srv.JSON("/legislators/11/王美惠", `{"data":{
		"現任委員會": ["社會福利及衛生環境委員會"],
		"歷屆委員會": {"會期": 1, "委員會": "經濟委員會"},
		"委員會": "內政委員會"
	}}`)

	out, err := makeCommitteesHandler(srv.Client())(context.Background(), `{"name":"王美惠"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := decode(t, out)
	if n := len(got["committees"].([]any)); n != 3 {
		t.Errorf("expected 3 committee entries, got %d", n)
	}
}

func TestNewTools_Definitions(t *testing.T) {
	t.Parallel()
	srv := lyapitest.NewServer(t)
	seen := make(map[string]bool)
	for _, tool := range NewTools(srv.Client(), constituency.New()) {
		if tool.Handler == nil {
			t.Errorf("%s: nil handler", tool.Definition.Name)
		}
		if tool.Definition.Parameters["type"] != "object" {
			t.Errorf("%s: parameters must be an object schema", tool.Definition.Name)
		}
		if seen[tool.Definition.Name] {
			t.Errorf("duplicate tool %q", tool.Definition.Name)
		}
		seen[tool.Definition.Name] = true
	}
	if len(seen) != 9 {
		t.Errorf("expected 9 tools, got %d", len(seen))
	}
}
