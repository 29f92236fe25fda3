package pdftext

import (
	"bytes"
	"encoding/hex"
	"unicode/utf16"
)

// cmap maps character codes to Unicode text. Codes from every ToUnicode map
// in the document are merged; gazette fonts do not reuse codes for
// different glyphs in practice.
type cmap struct {
	// byLen holds one table per code width in bytes (1 or 2).
	byLen map[int]map[uint32]string
}

func newCMap() *cmap {
	return &cmap{byLen: make(map[int]map[uint32]string)}
}

func (m *cmap) empty() bool { return len(m.byLen) == 0 }

func (m *cmap) set(width int, code uint32, text string) {
	t := m.byLen[width]
	if t == nil {
		t = make(map[uint32]string)
		m.byLen[width] = t
	}
	t[code] = text
}

// codeWidth returns the code width to use when decoding, preferring two-byte
// codes as used by CID fonts.
func (m *cmap) codeWidth() int {
	if _, ok := m.byLen[2]; ok {
		return 2
	}
	return 1
}

// decode maps raw string bytes through the table.
func (m *cmap) decode(raw []byte) string {
	w := m.codeWidth()
	t := m.byLen[w]
	var b bytes.Buffer
	for i := 0; i+w <= len(raw); i += w {
		var code uint32
		for k := range w {
			code = code<<8 | uint32(raw[i+k])
		}
		if s, ok := t[code]; ok {
			b.WriteString(s)
		}
	}
	return b.String()
}

// parse reads bfchar and bfrange sections of a CMap stream.
func (m *cmap) parse(body []byte) {
	toks := tokenize(body)
	for i := 0; i < len(toks); i++ {
		switch toks[i].kind {
		case tokOp:
			switch toks[i].text {
			case "beginbfchar":
				i = m.parseChars(toks, i+1)
			case "beginbfrange":
				i = m.parseRanges(toks, i+1)
			}
		}
	}
}

func (m *cmap) parseChars(toks []token, i int) int {
	for ; i+1 < len(toks); i += 2 {
		if toks[i].kind == tokOp {
			return i
		}
		src, dst := toks[i], toks[i+1]
		if src.kind != tokHex || dst.kind != tokHex || len(src.raw) == 0 || len(src.raw) > 2 {
			continue
		}
		m.set(len(src.raw), codeOf(src.raw), utf16Text(dst.raw))
	}
	return i
}

func (m *cmap) parseRanges(toks []token, i int) int {
	for i+2 < len(toks) {
		if toks[i].kind == tokOp {
			return i
		}
		lo, hi, dst := toks[i], toks[i+1], toks[i+2]
		i += 3
		if lo.kind != tokHex || hi.kind != tokHex || len(lo.raw) == 0 || len(lo.raw) > 2 {
			continue
		}
		width := len(lo.raw)
		start, end := codeOf(lo.raw), codeOf(hi.raw)
		if end < start || end-start > 0xFFFF {
			continue
		}
		switch dst.kind {
		case tokHex:
			base := utf16.Decode(utf16Units(dst.raw))
			if len(base) == 0 {
				continue
			}
			for c := start; c <= end; c++ {
				r := make([]rune, len(base))
				copy(r, base)
				r[len(r)-1] += rune(c - start)
				m.set(width, c, string(r))
			}
		case tokArray:
			for k, e := range dst.items {
				c := start + uint32(k)
				if c > end {
					break
				}
				if e.kind == tokHex {
					m.set(width, c, utf16Text(e.raw))
				}
			}
		}
	}
	return i
}

func codeOf(raw []byte) uint32 {
	var c uint32
	for _, b := range raw {
		c = c<<8 | uint32(b)
	}
	return c
}

func utf16Units(raw []byte) []uint16 {
	units := make([]uint16, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		units = append(units, uint16(raw[i])<<8|uint16(raw[i+1]))
	}
	return units
}

func utf16Text(raw []byte) string {
	return string(utf16.Decode(utf16Units(raw)))
}

func decodeHex(s []byte) []byte {
	clean := make([]byte, 0, len(s)+1)
	for _, c := range s {
		if !isSpace(c) {
			clean = append(clean, c)
		}
	}
	if len(clean)%2 == 1 {
		clean = append(clean, '0')
	}
	out := make([]byte, hex.DecodedLen(len(clean)))
	n, _ := hex.Decode(out, clean)
	return out[:n]
}
