// Package gazettes provides the built-in tools for the Legislative Yuan
// gazette (公報): search, detail and agenda lookup, and roll-call vote
// extraction from gazette PDFs.
package gazettes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lybot/internal/lyapi"
	"github.com/MrWong99/lybot/internal/mcp/tools"
	"github.com/MrWong99/lybot/internal/observe"
	"github.com/MrWong99/lybot/internal/pdftext"
	"github.com/MrWong99/lybot/pkg/provider/llm"
)

const (
	listKey   = "gazettes"
	agendaKey = "agendas"

	// maxGazettes bounds how many gazettes find_voting_records_for_bill reads.
	maxGazettes = 10

	// maxDocuments bounds how many PDFs a single bill lookup downloads.
	maxDocuments = 10

	fanOut = 4
)

// ---- document helpers ----

// PDFURLs collects every http(s) URL ending in .pdf anywhere inside rec, in
// document order and without duplicates.
func PDFURLs(rec gjson.Result) []string {
	seen := make(map[string]bool)
	urls := []string{}
	var walk func(v gjson.Result)
	walk = func(v gjson.Result) {
		switch {
		case v.IsObject() || v.IsArray():
			v.ForEach(func(_, child gjson.Result) bool {
				walk(child)
				return true
			})
		case v.Type == gjson.String:
			s := strings.TrimSpace(v.String())
			lower := strings.ToLower(s)
			if (strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")) &&
				strings.HasSuffix(lower, ".pdf") && !seen[s] {
				seen[s] = true
				urls = append(urls, s)
			}
		}
	}
	walk(rec)
	return urls
}

// ExtractVotes downloads the PDF at url and parses its votes. Documents
// without a readable text layer are reported as validation errors.
func ExtractVotes(ctx context.Context, c *lyapi.Client, url, bill string) (Votes, error) {
	data, err := c.FetchDocument(ctx, url)
	if err != nil {
		return Votes{}, err
	}
	text, err := pdftext.Extract(data)
	switch {
	case errors.Is(err, pdftext.ErrNotPDF):
		return Votes{}, lyapi.Invalid("pdf_url", "document at %s is not a PDF", url)
	case errors.Is(err, pdftext.ErrEncrypted):
		return Votes{}, lyapi.Invalid("pdf_url", "document at %s is encrypted and cannot be read", url)
	case errors.Is(err, pdftext.ErrNoText):
		return Votes{}, lyapi.Invalid("pdf_url", "document at %s has no extractable text layer (scanned or unsupported fonts)", url)
	case err != nil:
		return Votes{}, err
	}
	return ParseVotes(text, bill), nil
}

// mentions reports whether any string value inside rec contains s.
func mentions(rec gjson.Result, s string) bool {
	if rec.Type == gjson.String {
		return strings.Contains(rec.String(), s)
	}
	found := false
	rec.ForEach(func(_, v gjson.Result) bool {
		found = mentions(v, s)
		return !found
	})
	return found
}

func gazetteID(rec gjson.Result) string {
	for _, f := range []string{"公報編號", "公報_id", "卷期號"} {
		if s := lyapi.Str(rec, f); s != "" {
			return s
		}
	}
	return ""
}

func gazetteDate(rec gjson.Result) string {
	for _, f := range []string{"發布日期", "日期", "會議日期"} {
		if s := lyapi.Field(rec, f); s.Exists() {
			if s.IsArray() {
				return s.Get("0").String()
			}
			return s.String()
		}
	}
	return ""
}

// ─────────────────────────────────────────────────────────────────────────────
// Handler constructors
// ─────────────────────────────────────────────────────────────────────────────

type searchArgs struct {
	Term          int    `json:"term,omitempty"`
	SessionPeriod int    `json:"session_period,omitempty"`
	DateFrom      string `json:"date_from,omitempty"`
	DateTo        string `json:"date_to,omitempty"`
	Keyword       string `json:"keyword,omitempty"`
	Page          int    `json:"page,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

type idArgs struct {
	GazetteID string `json:"gazette_id"`
	Page      int    `json:"page,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type pdfArgs struct {
	PDFURL         string `json:"pdf_url"`
	BillIdentifier string `json:"bill_identifier,omitempty"`
}

type findArgs struct {
	BillName string `json:"bill_name"`
	DateFrom string `json:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty"`
}

func makeSearchHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a searchArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		// Gazettes are searched across terms unless one is asked for.
		q := lyapi.NewQuery().
			Term(a.Term).
			Session(a.SessionPeriod).
			DateRange(a.DateFrom, a.DateTo).
			Text(a.Keyword).
			Page(a.Page, a.Limit)
		res, err := c.Gazettes(ctx, q)
		if err != nil {
			return "", fmt.Errorf("gazettes: search_gazettes: %w", err)
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
		res, err := c.Gazette(ctx, a.GazetteID)
		if err != nil {
			return "", fmt.Errorf("gazettes: get_gazette_details: %w", err)
		}
		data := lyapi.Data(res)
		return tools.Encode(map[string]any{
			"data":     tools.Raw(data),
			"pdf_urls": PDFURLs(data),
		})
	}
}

func makeAgendasHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a idArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		res, err := c.GazetteAgendas(ctx, a.GazetteID, lyapi.NewQuery().Page(a.Page, a.Limit))
		if err != nil {
			return "", fmt.Errorf("gazettes: get_gazette_agendas: %w", err)
		}
		out := tools.List(res, agendaKey)
		out["gazette_id"] = a.GazetteID
		return tools.Encode(out)
	}
}

func makeExtractHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a pdfArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		v, err := ExtractVotes(ctx, c, a.PDFURL, strings.TrimSpace(a.BillIdentifier))
		if err != nil {
			return "", fmt.Errorf("gazettes: extract_voting_records_from_pdf: %w", err)
		}
		return tools.Encode(struct {
			Votes
			PDFURL string `json:"pdf_url"`
		}{v, a.PDFURL})
	}
}

// record is one gazette PDF in which votes for a bill were found.
type record struct {
	Votes
	GazetteID   string `json:"gazette_id"`
	GazetteDate string `json:"gazette_date,omitempty"`
	PDFURL      string `json:"pdf_url"`
}

type failure struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

type document struct {
	url, gazetteID, date string
}

func makeFindHandler(c *lyapi.Client) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a findArgs
		if err := tools.Decode(args, &a); err != nil {
			return "", err
		}
		bill := strings.TrimSpace(a.BillName)
		if bill == "" {
			return "", lyapi.Invalid("bill_name", "must not be empty")
		}
		q := lyapi.NewQuery().DateRange(a.DateFrom, a.DateTo).Text(bill).Page(1, maxGazettes)
		res, err := c.Gazettes(ctx, q)
		if err != nil {
			return "", fmt.Errorf("gazettes: find_voting_records_for_bill: %w", err)
		}
		gazettes := lyapi.Items(res, listKey)
		if len(gazettes) > maxGazettes {
			gazettes = gazettes[:maxGazettes]
		}

		var (
			mu       sync.Mutex
			failures []failure
		)
		fail := func(source string, err error) {
			mu.Lock()
			defer mu.Unlock()
			failures = append(failures, failure{Source: source, Error: err.Error()})
		}

		docs := make([][]document, len(gazettes))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(fanOut)
		for i, gz := range gazettes {
			id := gazetteID(gz)
			if id == "" {
				continue
			}
			g.Go(func() error {
				urls, err := gazettePDFs(gctx, c, id, bill)
				if err != nil {
					if lyapi.IsDataError(err) {
						fail(id, err)
						return nil
					}
					return err
				}
				for _, u := range urls {
					docs[i] = append(docs[i], document{url: u, gazetteID: id, date: gazetteDate(gz)})
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return "", fmt.Errorf("gazettes: find_voting_records_for_bill: %w", err)
		}

		var queue []document
		seen := make(map[string]bool)
		for _, ds := range docs {
			for _, d := range ds {
				if !seen[d.url] && len(queue) < maxDocuments {
					seen[d.url] = true
					queue = append(queue, d)
				}
			}
		}

		found := make([]*record, len(queue))
		g, gctx = errgroup.WithContext(ctx)
		g.SetLimit(fanOut)
		for i, d := range queue {
			g.Go(func() error {
				v, err := ExtractVotes(gctx, c, d.url, bill)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					observe.Logger(gctx).Warn("gazette document unreadable", "url", d.url, "err", err)
					fail(d.url, err)
					return nil
				}
				if v.Found() {
					found[i] = &record{Votes: v, GazetteID: d.gazetteID, GazetteDate: d.date, PDFURL: d.url}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return "", fmt.Errorf("gazettes: find_voting_records_for_bill: %w", err)
		}

		records := []record{}
		for _, r := range found {
			if r != nil {
				records = append(records, *r)
			}
		}
		out := map[string]any{
			"bill_name":         bill,
			"searched_gazettes": len(gazettes),
			"checked_documents": len(queue),
			"records":           records,
		}
		if len(failures) > 0 {
			out["failures"] = failures
		}
		return tools.Encode(out)
	}
}

// gazettePDFs returns the PDF URLs of a gazette. Agenda items mentioning the
// bill come first; the gazette-level documents are used when none do.
func gazettePDFs(ctx context.Context, c *lyapi.Client, id, bill string) ([]string, error) {
	agendas, err := c.GazetteAgendas(ctx, id, lyapi.NewQuery().Page(1, lyapi.MaxLimit))
	if err != nil {
		return nil, err
	}
	var urls []string
	for _, it := range lyapi.Items(agendas, agendaKey) {
		if mentions(it, bill) {
			urls = append(urls, PDFURLs(it)...)
		}
	}
	if len(urls) > 0 {
		return urls, nil
	}
	res, err := c.Gazette(ctx, id)
	if err != nil {
		return nil, err
	}
	return PDFURLs(lyapi.Data(res)), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Tool definitions
// ─────────────────────────────────────────────────────────────────────────────

// NewTools returns the gazette tools bound to c.
func NewTools(c *lyapi.Client) []tools.Tool {
	return []tools.Tool{
		{
			Definition: llm.ToolDefinition{
				Name:        "search_gazettes",
				Description: "搜尋立法院公報，可依屆期、會期、日期區間與關鍵字篩選。",
				Parameters: tools.Object(map[string]any{
					"term":           tools.TermProp,
					"session_period": tools.SessionProp,
					"date_from":      tools.Date("起始日期 (YYYY-MM-DD)。"),
					"date_to":        tools.Date("結束日期 (YYYY-MM-DD)。"),
					"keyword":        tools.String("關鍵字。"),
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
				Name:        "get_gazette_details",
				Description: "取得公報詳細資料與其 PDF 檔案連結。",
				Parameters: tools.Object(map[string]any{
					"gazette_id": tools.String("公報編號。"),
				}, "gazette_id"),
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
				Name:        "get_gazette_agendas",
				Description: "列出公報中的議程項目。",
				Parameters: tools.Object(map[string]any{
					"gazette_id": tools.String("公報編號。"),
					"page":       tools.PageProp,
					"limit":      tools.LimitProp,
				}, "gazette_id"),
				EstimatedDurationMs: 800,
				MaxDurationMs:       15000,
				Idempotent:          true,
			},
			Handler:     makeAgendasHandler(c),
			DeclaredP50: 800,
			DeclaredMax: 15000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "extract_voting_records_from_pdf",
				Description: "下載公報 PDF 並解析表決紀錄，包含贊成、反對、棄權人數與個別委員投票。",
				Parameters: tools.Object(map[string]any{
					"pdf_url":         tools.String("公報 PDF 網址。"),
					"bill_identifier": tools.String("議案名稱或編號，用於定位表決段落。"),
				}, "pdf_url"),
				EstimatedDurationMs: 5000,
				MaxDurationMs:       60000,
				Idempotent:          true,
			},
			Handler:     makeExtractHandler(c),
			DeclaredP50: 5000,
			DeclaredMax: 60000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "find_voting_records_for_bill",
				Description: "依議案名稱搜尋公報，並從相關 PDF 中擷取表決紀錄。",
				Parameters: tools.Object(map[string]any{
					"bill_name": tools.String("議案名稱。"),
					"date_from": tools.Date("起始日期 (YYYY-MM-DD)。"),
					"date_to":   tools.Date("結束日期 (YYYY-MM-DD)。"),
				}, "bill_name"),
				EstimatedDurationMs: 15000,
				MaxDurationMs:       120000,
				Idempotent:          true,
			},
			Handler:     makeFindHandler(c),
			DeclaredP50: 15000,
			DeclaredMax: 120000,
		},
	}
}
