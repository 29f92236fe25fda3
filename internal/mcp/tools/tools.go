// Package tools defines the shared [Tool] type used by all built-in research
// tool packages. Each sub-package exports a constructor function that returns
// a slice of [Tool] values ready for registration with the tool host.
//
// The package also carries the small helpers every handler needs: argument
// decoding, result encoding and JSON Schema builders.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/MrWong99/lybot/internal/lyapi"
	"github.com/MrWong99/lybot/pkg/provider/llm"
)

// Handler executes a tool with JSON-encoded args and returns a JSON-encoded
// result. Implementations must be safe for concurrent use and must respect
// context cancellation.
type Handler func(ctx context.Context, args string) (string, error)

// Tool represents a built-in tool ready for registration with the host.
//
// Each Tool carries its LLM-facing schema ([llm.ToolDefinition]) together
// with the handler function that is invoked when the LLM calls the tool.
type Tool struct {
	// Definition is the tool's LLM-facing schema including its name,
	// description, and JSON Schema parameters.
	Definition llm.ToolDefinition

	// Handler executes the tool. Errors of the lyapi error types are fed back
	// to the model as tool results.
	Handler Handler

	// DeclaredP50 is the tool author's declared median latency in
	// milliseconds.
	DeclaredP50 int64

	// DeclaredMax is the declared upper-bound latency in milliseconds. The
	// host uses it as the call timeout.
	DeclaredMax int64
}

// Decode unmarshals the JSON object args into dst. An empty string is
// treated as "{}". Malformed input yields a [lyapi.ValidationError].
func Decode(args string, dst any) error {
	if args == "" {
		args = "{}"
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(args)))
	if err := dec.Decode(dst); err != nil {
		return lyapi.Invalid("arguments", "malformed JSON: %v", err)
	}
	return nil
}

// Encode marshals a handler result without escaping HTML characters, so that
// the model sees names and titles as written.
func Encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("tools: encode result: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Raw returns the upstream JSON of r unchanged, or null when r is absent.
func Raw(r gjson.Result) json.RawMessage {
	if !r.Exists() || r.Raw == "" {
		return json.RawMessage("null")
	}
	return json.RawMessage(r.Raw)
}

// RawList converts upstream records to raw JSON values. The result is never
// nil so it encodes as [].
func RawList(items []gjson.Result) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		out = append(out, Raw(it))
	}
	return out
}

// List shapes an upstream list response as {"total", key: [...], "aggs"}.
func List(res gjson.Result, key string) map[string]any {
	items := lyapi.Items(res, key)
	out := map[string]any{
		"total": lyapi.Total(res),
		key:     RawList(items),
	}
	if aggs := res.Get("aggs"); aggs.Exists() {
		out["aggs"] = Raw(aggs)
	}
	return out
}

// Pick projects the named fields of an upstream record. Missing fields are
// null.
func Pick(rec gjson.Result, fields ...string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f] = lyapi.Field(rec, f).Value()
	}
	return out
}

// partyNames maps common short forms to the full party names used upstream.
var partyNames = map[string]string{
	"國民黨":   "中國國民黨",
	"國黨":    "中國國民黨",
	"藍營":    "中國國民黨",
	"KMT":   "中國國民黨",
	"民進黨":   "民主進步黨",
	"綠營":    "民主進步黨",
	"DPP":   "民主進步黨",
	"民眾黨":   "台灣民眾黨",
	"臺灣民眾黨": "台灣民眾黨",
	"白營":    "台灣民眾黨",
	"TPP":   "台灣民眾黨",
	"時力":    "時代力量",
	"無黨":    "無黨籍",
}

// PartyName returns the full upstream party name for s.
func PartyName(s string) string {
	s = strings.TrimSpace(s)
	if full, ok := partyNames[strings.ToUpper(s)]; ok {
		return full
	}
	return s
}

// ---- JSON Schema builders ----

// Object builds an object schema with the given properties.
func Object(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// String builds a string property.
func String(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// Date builds a YYYY-MM-DD string property.
func Date(desc string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": desc,
		"pattern":     `^\d{4}-\d{2}-\d{2}$`,
	}
}

// Enum builds a string property restricted to values.
func Enum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}

// Integer builds an integer property with an inclusive range. A zero max
// leaves the range open.
func Integer(desc string, lo, hi int) map[string]any {
	s := map[string]any{"type": "integer", "description": desc, "minimum": lo}
	if hi > 0 {
		s["maximum"] = hi
	}
	return s
}

// StringArray builds an array-of-strings property with at least minItems
// entries.
func StringArray(desc string, minItems int) map[string]any {
	return map[string]any{
		"type":        "array",
		"description": desc,
		"items":       map[string]any{"type": "string"},
		"minItems":    minItems,
	}
}

// Common properties shared by most tools.
var (
	TermProp    = Integer("屆期，預設為第 11 屆。", 1, 20)
	SessionProp = Integer("會期編號。", 1, 20)
	PageProp    = Integer("頁碼，從 1 開始。", 1, 0)
	LimitProp   = Integer("每頁筆數。", 1, lyapi.MaxLimit)
)
