package pdftext

import (
	"strings"
	"unicode/utf16"
)

type tokKind int

const (
	tokOp tokKind = iota
	tokNumber
	tokName
	tokLiteral
	tokHex
	tokArray
	tokDict
)

type token struct {
	kind  tokKind
	text  string  // operator, name or number text
	raw   []byte  // decoded string bytes
	items []token // array elements
}

// tokenize splits a content or CMap stream into tokens. Arrays are nested
// into a single token; dictionaries are skipped.
func tokenize(body []byte) []token {
	l := lexer{src: body}
	var out []token
	for {
		t, ok := l.next()
		if !ok {
			return out
		}
		out = append(out, t)
	}
}

type lexer struct {
	src []byte
	pos int
}

func (l *lexer) next() (token, bool) {
	for {
		l.skipSpace()
		if l.pos >= len(l.src) {
			return token{}, false
		}
		c := l.src[l.pos]
		switch {
		case c == '%':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' && l.src[l.pos] != '\r' {
				l.pos++
			}
		case c == '(':
			l.pos++
			return token{kind: tokLiteral, raw: l.literal()}, true
		case c == '<' && l.peek(1) == '<':
			l.pos += 2
			l.skipDict()
			return token{kind: tokDict}, true
		case c == '<':
			l.pos++
			start := l.pos
			for l.pos < len(l.src) && l.src[l.pos] != '>' {
				l.pos++
			}
			raw := decodeHex(l.src[start:l.pos])
			l.pos++
			return token{kind: tokHex, raw: raw}, true
		case c == '[':
			l.pos++
			var items []token
			for {
				l.skipSpace()
				if l.pos >= len(l.src) {
					break
				}
				if l.src[l.pos] == ']' {
					l.pos++
					break
				}
				t, ok := l.next()
				if !ok {
					break
				}
				items = append(items, t)
			}
			return token{kind: tokArray, items: items}, true
		case c == ']' || c == '>' || c == ')' || c == '{' || c == '}':
			l.pos++
		case c == '/':
			l.pos++
			return token{kind: tokName, text: l.word()}, true
		default:
			w := l.word()
			if w == "" {
				l.pos++
				continue
			}
			if isNumber(w) {
				return token{kind: tokNumber, text: w}, true
			}
			return token{kind: tokOp, text: w}, true
		}
	}
}

func (l *lexer) peek(n int) byte {
	if l.pos+n < len(l.src) {
		return l.src[l.pos+n]
	}
	return 0
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) && isSpace(l.src[l.pos]) {
		l.pos++
	}
}

func (l *lexer) word() string {
	start := l.pos
	for l.pos < len(l.src) && !isSpace(l.src[l.pos]) && !isDelim(l.src[l.pos]) {
		l.pos++
	}
	return string(l.src[start:l.pos])
}

func (l *lexer) skipDict() {
	depth := 1
	for l.pos < len(l.src) && depth > 0 {
		switch {
		case l.src[l.pos] == '<' && l.peek(1) == '<':
			depth++
			l.pos += 2
		case l.src[l.pos] == '>' && l.peek(1) == '>':
			depth--
			l.pos += 2
		case l.src[l.pos] == '(':
			l.pos++
			l.literal()
		default:
			l.pos++
		}
	}
}

// literal reads a parenthesised string after the opening paren, handling
// nesting and backslash escapes.
func (l *lexer) literal() []byte {
	var out []byte
	depth := 1
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		l.pos++
		switch c {
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return out
			}
			out = append(out, c)
		case '\\':
			if l.pos >= len(l.src) {
				return out
			}
			e := l.src[l.pos]
			l.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r':
				if l.pos < len(l.src) && l.src[l.pos] == '\n' {
					l.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for k := 0; k < 2 && l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '7'; k++ {
						v = v*8 + int(l.src[l.pos]-'0')
						l.pos++
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
				}
			}
		default:
			out = append(out, c)
		}
	}
	return out
}

func isNumber(w string) bool {
	digits := 0
	for i, c := range w {
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
		case (c == '-' || c == '+') && i == 0:
		default:
			return false
		}
	}
	return digits > 0
}

// ---- content interpretation ----

// extractContent appends the text shown by one content stream to out.
func extractContent(body []byte, cm *cmap, out *strings.Builder) {
	var (
		operands []token
		lastY    string
	)
	for _, t := range tokenize(body) {
		if t.kind != tokOp {
			operands = append(operands, t)
			continue
		}
		switch t.text {
		case "Tj", "'", "\"":
			if t.text != "Tj" {
				out.WriteByte('\n')
			}
			if n := len(operands); n > 0 {
				writeString(operands[n-1], cm, out)
			}
		case "TJ":
			if n := len(operands); n > 0 && operands[n-1].kind == tokArray {
				for _, e := range operands[n-1].items {
					switch e.kind {
					case tokLiteral, tokHex:
						writeString(e, cm, out)
					case tokNumber:
						// Large negative kerning separates words in
						// Latin text; CJK text needs no spaces.
						if strings.HasPrefix(e.text, "-") && len(e.text) > 4 && cm.empty() {
							out.WriteByte(' ')
						}
					}
				}
			}
		case "Td", "TD":
			if len(operands) >= 2 && operands[len(operands)-1].text != "0" {
				out.WriteByte('\n')
			}
		case "Tm":
			// Only a new baseline starts a new line.
			if len(operands) == 6 && operands[5].text != lastY {
				if lastY != "" {
					out.WriteByte('\n')
				}
				lastY = operands[5].text
			}
		case "T*", "ET":
			out.WriteByte('\n')
		}
		operands = operands[:0]
	}
}

func writeString(t token, cm *cmap, out *strings.Builder) {
	if t.kind != tokLiteral && t.kind != tokHex {
		return
	}
	if !cm.empty() {
		if s := cm.decode(t.raw); s != "" {
			out.WriteString(s)
			return
		}
	}
	raw := t.raw
	if len(raw) >= 2 && raw[0] == 0xFE && raw[1] == 0xFF {
		out.WriteString(string(utf16.Decode(utf16Units(raw[2:]))))
		return
	}
	for _, b := range raw {
		out.WriteRune(rune(b))
	}
}
