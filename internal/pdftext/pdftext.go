// Package pdftext extracts the text layer of a PDF document.
//
// It is a minimal stream scanner, not a PDF renderer: it walks every stream
// object, inflates FlateDecode streams, collects ToUnicode CMaps and decodes
// the string operands of the text-showing operators (Tj, TJ, ' and ") in
// content streams. Text positioning operators only produce line breaks.
// Layout, fonts without a ToUnicode map, images and encrypted documents are
// out of scope; such files yield [ErrNoText].
//
// The Legislative Yuan gazettes are generated with embedded CID fonts and
// ToUnicode maps, which this covers.
package pdftext

import (
	"bytes"
	"compress/zlib"
	"errors"
	"io"
	"strings"
)

var (
	// ErrNotPDF is returned when the input does not start with a PDF header.
	ErrNotPDF = errors.New("pdftext: not a PDF document")

	// ErrNoText is returned when no text could be decoded.
	ErrNoText = errors.New("pdftext: no extractable text layer")

	// ErrEncrypted is returned for encrypted documents.
	ErrEncrypted = errors.New("pdftext: document is encrypted")
)

// maxInflated bounds the decompressed size of a single stream.
const maxInflated = 32 << 20

// Extract returns the text of data, one text line per output line.
func Extract(data []byte) (string, error) {
	head := bytes.TrimLeft(data[:min(len(data), 1024)], "\x00\t\r\n \xef\xbb\xbf")
	if !bytes.HasPrefix(head, []byte("%PDF-")) {
		return "", ErrNotPDF
	}
	if bytes.Contains(data, []byte("/Encrypt")) {
		return "", ErrEncrypted
	}

	streams := scanStreams(data)
	cmap := newCMap()
	var contents [][]byte
	for _, s := range streams {
		body, ok := s.decode()
		if !ok {
			continue
		}
		switch {
		case bytes.Contains(body, []byte("begincmap")):
			cmap.parse(body)
		case isContent(body):
			contents = append(contents, body)
		}
	}

	var out strings.Builder
	for _, c := range contents {
		extractContent(c, cmap, &out)
	}
	text := tidy(out.String())
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

// ---- stream scanning ----

type stream struct {
	dict []byte
	data []byte
}

func scanStreams(data []byte) []stream {
	var out []stream
	kw := []byte("stream")
	pos := 0
	for {
		i := bytes.Index(data[pos:], kw)
		if i < 0 {
			return out
		}
		i += pos
		pos = i + len(kw)
		if i >= 3 && string(data[i-3:i]) == "end" {
			continue
		}
		dict := dictBefore(data, i)
		if dict == nil {
			continue
		}
		start := pos
		if start < len(data) && data[start] == '\r' {
			start++
		}
		if start < len(data) && data[start] == '\n' {
			start++
		}
		end := bytes.Index(data[start:], []byte("endstream"))
		if end < 0 {
			return out
		}
		end += start
		pos = end + len("endstream")
		body := bytes.TrimRight(data[start:end], "\r\n")
		out = append(out, stream{dict: dict, data: body})
	}
}

// dictBefore returns the dictionary that ends right before the stream
// keyword at i, or nil if there is none.
func dictBefore(data []byte, i int) []byte {
	j := i - 1
	for j >= 0 && isSpace(data[j]) {
		j--
	}
	if j < 1 || data[j] != '>' || data[j-1] != '>' {
		return nil
	}
	end := j + 1
	depth := 0
	for j >= 1 {
		switch {
		case data[j] == '>' && data[j-1] == '>':
			depth++
			j -= 2
		case data[j] == '<' && data[j-1] == '<':
			depth--
			j -= 2
			if depth == 0 {
				return data[j+1 : end]
			}
		default:
			j--
		}
	}
	return nil
}

func (s stream) decode() ([]byte, bool) {
	filters := s.filters()
	switch {
	case len(filters) == 0:
		return s.data, true
	case len(filters) == 1 && filters[0] == "FlateDecode":
		zr, err := zlib.NewReader(bytes.NewReader(s.data))
		if err != nil {
			return nil, false
		}
		defer zr.Close()
		body, err := io.ReadAll(io.LimitReader(zr, maxInflated))
		if err != nil && len(body) == 0 {
			return nil, false
		}
		return body, true
	default:
		return nil, false
	}
}

func (s stream) filters() []string {
	i := bytes.Index(s.dict, []byte("/Filter"))
	if i < 0 {
		return nil
	}
	rest := bytes.TrimLeft(s.dict[i+len("/Filter"):], " \r\n\t")
	switch {
	case len(rest) > 0 && rest[0] == '[':
		end := bytes.IndexByte(rest, ']')
		if end < 0 {
			return []string{"?"}
		}
		rest = rest[1:end]
	case len(rest) > 0 && rest[0] == '/':
		end := 1
		for end < len(rest) && !isSpace(rest[end]) && !isDelim(rest[end]) {
			end++
		}
		rest = rest[:end]
	default:
		// Indirect filter reference; not worth resolving.
		return []string{"?"}
	}
	var out []string
	for _, f := range bytes.Split(rest, []byte("/")) {
		if f = bytes.TrimSpace(f); len(f) > 0 {
			out = append(out, string(f))
		}
	}
	return out
}

func isContent(body []byte) bool {
	return bytes.Contains(body, []byte("BT")) &&
		(bytes.Contains(body, []byte("Tj")) || bytes.Contains(body, []byte("TJ")))
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}

func isDelim(b byte) bool {
	switch b {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// tidy trims lines and collapses runs of blank lines.
func tidy(s string) string {
	var b strings.Builder
	blank := true
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank {
				b.WriteByte('\n')
			}
			blank = true
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
		blank = false
	}
	return strings.TrimSpace(b.String())
}
