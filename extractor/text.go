package extractor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"strings"

	"github.com/wudi/pdfdoc/coords"
	"github.com/wudi/pdfdoc/object"
	"github.com/wudi/pdfdoc/parser"
	"github.com/wudi/pdfdoc/scanner"
)

// PageText extracts the text a page's content stream shows, in stream
// order. Strings pass through the active font's ToUnicode map when one
// exists; line breaks come from the text-positioning operators, so the
// result approximates reading order but carries no layout.
func (e *Extractor) PageText(ctx context.Context, pageIndex int) (string, error) {
	page, err := e.page(pageIndex)
	if err != nil {
		return "", err
	}
	content, err := e.doc.PageContent(ctx, pageIndex)
	if err != nil {
		return "", err
	}
	if len(content) == 0 {
		return "", nil
	}
	fonts := e.pageFonts(ctx, page.Resources)

	tr := object.NewTokenReader(scanner.New(bytes.NewReader(content), scanner.Config{}))
	var (
		buf      textBuf
		operands []object.Object
		cur      *fontDecoder
		tlm      = coords.Identity()
		lineY    float64
	)
	// moved reports whether the text line origin left its baseline.
	moved := func() bool {
		y := tlm.Transform(coords.Point{}).Y
		if math.Abs(y-lineY) < 1e-6 {
			return false
		}
		lineY = y
		return true
	}
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		tok, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch tok.Type {
		case scanner.TokenKeyword:
			switch tok.Str {
			case "BT":
				tlm = coords.Identity()
				lineY = 0
				buf.lineBreak()
			case "Tf":
				cur = nil
				if len(operands) == 2 {
					if n, ok := operands[0].(object.Name); ok {
						cur = fonts[n.Value()]
					}
				}
			case "Tj":
				if s, ok := lastString(operands); ok {
					buf.write(decodeString(cur, s))
				}
			case "'", "\"":
				buf.lineBreak()
				if s, ok := lastString(operands); ok {
					buf.write(decodeString(cur, s))
				}
			case "TJ":
				if len(operands) > 0 {
					if arr, ok := operands[len(operands)-1].(*object.ArrayObj); ok {
						for _, item := range arr.Items {
							if s, ok := item.(object.String); ok {
								buf.write(decodeString(cur, s.Value()))
							}
						}
					}
				}
			case "T*":
				buf.lineBreak()
			case "Td", "TD":
				if n, ok := numberOperands(operands, 2); ok {
					tlm = coords.Translate(n[0], n[1]).Multiply(tlm)
					if moved() {
						buf.lineBreak()
					}
				}
			case "Tm":
				if n, ok := numberOperands(operands, 6); ok {
					tlm = coords.Matrix{n[0], n[1], n[2], n[3], n[4], n[5]}
					if moved() {
						buf.lineBreak()
					}
				}
			}
			operands = operands[:0]
		case scanner.TokenInlineImage:
			operands = operands[:0]
		default:
			tr.Unread(tok)
			obj, err := object.Decode(tr)
			if err != nil {
				return "", err
			}
			operands = append(operands, obj)
		}
	}
	return buf.b.String(), nil
}

// pageFonts maps resource font names to ToUnicode decoders. A nil
// decoder means the font carries no usable map and strings fall back
// to byte passthrough.
func (e *Extractor) pageFonts(ctx context.Context, res *object.DictObj) map[string]*fontDecoder {
	out := make(map[string]*fontDecoder)
	if res == nil {
		return out
	}
	resolve := e.doc.Resolver(ctx)
	fonts := resolvedDict(resolve, res, "Font")
	if fonts == nil {
		return out
	}
	for _, key := range fonts.Keys() {
		raw, _ := fonts.Get(key)
		ref, indirect := raw.(object.Reference)
		if indirect {
			e.mu.Lock()
			dec, hit := e.fontCache[ref.Ref()]
			e.mu.Unlock()
			if hit {
				out[key.Value()] = dec
				continue
			}
		}
		dec := e.loadFont(ctx, resolve, raw)
		if indirect {
			e.mu.Lock()
			e.fontCache[ref.Ref()] = dec
			e.mu.Unlock()
		}
		out[key.Value()] = dec
	}
	return out
}

func (e *Extractor) loadFont(ctx context.Context, resolve object.Resolver, raw object.Object) *fontDecoder {
	r, err := resolve(raw)
	if err != nil {
		return nil
	}
	dict, ok := r.(*object.DictObj)
	if !ok {
		return nil
	}
	tu, ok := dict.Get(object.NameLiteral("ToUnicode"))
	if !ok {
		return nil
	}
	rv, err := resolve(tu)
	if err != nil {
		return nil
	}
	st, ok := rv.(*object.StreamObj)
	if !ok {
		return nil
	}
	data, err := e.doc.DecodeStream(ctx, st)
	if err != nil {
		return nil
	}
	dec, err := parseToUnicode(data)
	if err != nil {
		return nil
	}
	return dec
}

func lastString(ops []object.Object) ([]byte, bool) {
	if len(ops) == 0 {
		return nil, false
	}
	s, ok := ops[len(ops)-1].(object.String)
	if !ok {
		return nil, false
	}
	return s.Value(), true
}

// numberOperands pulls the trailing n numeric operands off the stack.
func numberOperands(ops []object.Object, n int) ([]float64, bool) {
	if len(ops) < n {
		return nil, false
	}
	out := make([]float64, n)
	for i, op := range ops[len(ops)-n:] {
		num, ok := op.(object.Number)
		if !ok {
			return nil, false
		}
		out[i] = num.Float()
	}
	return out, true
}

// decodeString turns a content string into text. Without a ToUnicode
// map, UTF-16 strings are converted and everything else passes through
// byte for byte, which is right for the standard Latin encodings.
func decodeString(dec *fontDecoder, b []byte) string {
	if dec.hasMap() {
		return dec.decode(b)
	}
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		return parser.DecodeTextString(b)
	}
	return string(b)
}

type textBuf struct{ b strings.Builder }

func (t *textBuf) write(s string) { t.b.WriteString(s) }

// lineBreak starts a new output line unless the output is empty or a
// break was just written.
func (t *textBuf) lineBreak() {
	if t.b.Len() == 0 {
		return
	}
	s := t.b.String()
	if s[len(s)-1] != '\n' {
		t.b.WriteByte('\n')
	}
}
