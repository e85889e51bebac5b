package extractor

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"unicode/utf16"

	"github.com/wudi/pdfdoc/object"
	"github.com/wudi/pdfdoc/scanner"
)

// fontDecoder translates content-string character codes to Unicode
// text through a font's ToUnicode CMap.
type fontDecoder struct {
	repl     map[string]string
	codeLens [5]bool
	minLen   int
	maxLen   int
}

func (d *fontDecoder) hasMap() bool { return d != nil && len(d.repl) > 0 }

// decode walks the code bytes with greedy longest-match against the
// declared code lengths. Unmapped codes are skipped.
func (d *fontDecoder) decode(b []byte) string {
	var sb strings.Builder
	for i := 0; i < len(b); {
		n := d.maxLen
		if rem := len(b) - i; n > rem {
			n = rem
		}
		matched := false
		for ; n >= d.minLen && n > 0; n-- {
			if !d.codeLens[n] {
				continue
			}
			if dst, ok := d.repl[string(b[i:i+n])]; ok {
				sb.WriteString(dst)
				i += n
				matched = true
				break
			}
		}
		if !matched {
			step := d.minLen
			if step < 1 {
				step = 1
			}
			if rem := len(b) - i; step > rem {
				step = rem
			}
			i += step
		}
	}
	return sb.String()
}

func (d *fontDecoder) addCodeLen(n int) {
	if n < 1 || n > 4 {
		return
	}
	d.codeLens[n] = true
	if d.minLen == 0 || n < d.minLen {
		d.minLen = n
	}
	if n > d.maxLen {
		d.maxLen = n
	}
}

// parseToUnicode reads the codespacerange, bfchar and bfrange sections
// of a ToUnicode CMap. The PostScript scaffolding around them is
// tokenized but not interpreted; every operator keyword resets the
// collected operands, so only the mapping blocks matter.
func parseToUnicode(data []byte) (*fontDecoder, error) {
	dec := &fontDecoder{repl: make(map[string]string)}
	tr := object.NewTokenReader(scanner.New(bytes.NewReader(data), scanner.Config{}))
	var operands []object.Object
	for {
		tok, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if tok.Type != scanner.TokenKeyword {
			tr.Unread(tok)
			obj, err := object.Decode(tr)
			if err != nil {
				return nil, err
			}
			operands = append(operands, obj)
			continue
		}
		switch tok.Str {
		case "endcodespacerange":
			for i := 0; i+1 < len(operands); i += 2 {
				if lo, ok := operands[i].(object.String); ok {
					dec.addCodeLen(len(lo.Value()))
				}
			}
		case "endbfchar":
			for i := 0; i+1 < len(operands); i += 2 {
				src, ok1 := operands[i].(object.String)
				dst, ok2 := operands[i+1].(object.String)
				if !ok1 || !ok2 {
					continue
				}
				dec.addCodeLen(len(src.Value()))
				dec.repl[string(src.Value())] = utf16BEString(dst.Value())
			}
		case "endbfrange":
			for i := 0; i+2 < len(operands); i += 3 {
				dec.addRange(operands[i], operands[i+1], operands[i+2])
			}
		}
		operands = operands[:0]
	}
	if len(dec.repl) == 0 {
		return nil, errors.New("cmap defines no mappings")
	}
	return dec, nil
}

// addRange expands one bfrange entry. The destination is either a
// string whose last UTF-16 unit increments across the range, or an
// array with one destination per code. Ranges wider than 64K codes
// are ignored.
func (d *fontDecoder) addRange(loV, hiV, dstV object.Object) {
	lo, ok1 := loV.(object.String)
	hi, ok2 := hiV.(object.String)
	if !ok1 || !ok2 {
		return
	}
	loB, hiB := lo.Value(), hi.Value()
	if len(loB) == 0 || len(loB) > 4 || len(loB) != len(hiB) {
		return
	}
	start := beUint(loB)
	end := beUint(hiB)
	if end < start || end-start > 0xFFFF {
		return
	}
	d.addCodeLen(len(loB))
	switch dst := dstV.(type) {
	case object.String:
		units := utf16Units(dst.Value())
		if len(units) == 0 {
			return
		}
		for c := start; c <= end; c++ {
			u := append([]uint16(nil), units...)
			u[len(u)-1] += uint16(c - start)
			d.repl[string(codeBytes(c, len(loB)))] = string(utf16.Decode(u))
		}
	case *object.ArrayObj:
		for i, item := range dst.Items {
			c := start + uint64(i)
			if c > end {
				break
			}
			if s, ok := item.(object.String); ok {
				d.repl[string(codeBytes(c, len(loB)))] = utf16BEString(s.Value())
			}
		}
	}
}

func beUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func codeBytes(v uint64, n int) []byte {
	out := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

func utf16Units(b []byte) []uint16 {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
	}
	return units
}

func utf16BEString(b []byte) string {
	return string(utf16.Decode(utf16Units(b)))
}
