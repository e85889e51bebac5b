package xref

import (
	"context"
	"errors"
	"fmt"

	"github.com/wudi/pdfdoc/filters"
	"github.com/wudi/pdfdoc/object"
	"github.com/wudi/pdfdoc/scanner"
)

// parseStreamSection reads a cross-reference stream: an indirect
// stream object whose dictionary doubles as the trailer.
func (res *resolver) parseStreamSection(ctx context.Context, tr *object.TokenReader) (*section, error) {
	if _, err := expectInt(tr, "xref stream object number"); err != nil {
		return nil, err
	}
	if _, err := expectInt(tr, "xref stream generation"); err != nil {
		return nil, err
	}
	kw, err := tr.Next()
	if err != nil {
		return nil, fmt.Errorf("xref stream header: %w", err)
	}
	if kw.Type != scanner.TokenKeyword || kw.Str != "obj" {
		return nil, fmt.Errorf("expected obj keyword, got %q at offset %d", kw.Str, kw.Pos)
	}
	obj, err := object.Decode(tr)
	if err != nil {
		return nil, fmt.Errorf("xref stream dictionary: %w", err)
	}
	dict, ok := obj.(*object.DictObj)
	if !ok {
		return nil, errors.New("xref stream object is not a dictionary")
	}
	if typ, ok := dict.Get(object.NameLiteral("Type")); ok {
		if n, ok := typ.(object.Name); ok && n.Value() != "XRef" {
			return nil, fmt.Errorf("object at xref offset has type %s", n.Value())
		}
	}

	// The stream's own Length cannot be indirect: nothing can be
	// resolved before the table exists.
	if length, ok := trailerInt(dict, "Length"); ok {
		tr.Scanner().SetNextStreamLength(length)
	}
	stm, err := tr.Next()
	if err != nil {
		return nil, fmt.Errorf("xref stream data: %w", err)
	}
	if stm.Type != scanner.TokenStream {
		return nil, fmt.Errorf("expected stream data, got %q at offset %d", stm.Str, stm.Pos)
	}
	names, parms := filters.ExtractFilters(dict)
	data, err := res.cfg.Pipeline.Decode(ctx, stm.Bytes, names, parms)
	if err != nil {
		return nil, fmt.Errorf("decode xref stream: %w", err)
	}

	sec := &section{entries: make(map[int]Entry), trailer: dict, typ: "stream", prev: -1, xrefStm: -1}
	if prev, ok := trailerInt(dict, "Prev"); ok {
		sec.prev = prev
	}
	if err := decodeStreamEntries(sec, dict, data); err != nil {
		return nil, err
	}
	return sec, nil
}

func decodeStreamEntries(sec *section, dict *object.DictObj, data []byte) error {
	size, ok := trailerInt(dict, "Size")
	if !ok {
		return errors.New("xref stream missing Size")
	}
	w, ok := dictInts(dict, "W")
	if !ok || len(w) < 3 {
		return errors.New("xref stream missing W widths")
	}
	w1, w2, w3 := int(w[0]), int(w[1]), int(w[2])
	rowLen := w1 + w2 + w3
	if rowLen <= 0 || rowLen > 32 {
		return fmt.Errorf("implausible xref stream row width %d", rowLen)
	}

	index, ok := dictInts(dict, "Index")
	if !ok {
		index = []int64{0, size}
	}
	if len(index)%2 != 0 {
		return errors.New("xref stream Index has odd length")
	}

	pos := 0
	for i := 0; i < len(index); i += 2 {
		start, count := int(index[i]), int(index[i+1])
		for j := 0; j < count; j++ {
			if pos+rowLen > len(data) {
				return fmt.Errorf("xref stream truncated at row for object %d", start+j)
			}
			row := data[pos : pos+rowLen]
			pos += rowLen

			typ := int64(1)
			if w1 > 0 {
				typ = beInt(row[:w1])
			}
			f2 := beInt(row[w1 : w1+w2])
			f3 := beInt(row[w1+w2:])

			var e Entry
			switch typ {
			case 0:
				e = Entry{Kind: EntryFree, Gen: int(f3)}
			case 1:
				e = Entry{Kind: EntryInFile, Offset: f2, Gen: int(f3)}
			case 2:
				e = Entry{Kind: EntryInObjectStream, StreamNum: int(f2), StreamIdx: int(f3)}
			default:
				// Unknown types are reserved; treat the object as absent.
				continue
			}
			sec.entries[start+j] = e
		}
	}
	return nil
}

func dictInts(d *object.DictObj, key string) ([]int64, bool) {
	v, ok := d.Get(object.NameLiteral(key))
	if !ok {
		return nil, false
	}
	arr, ok := v.(*object.ArrayObj)
	if !ok {
		return nil, false
	}
	out := make([]int64, 0, arr.Len())
	for _, item := range arr.Items {
		n, ok := item.(object.Number)
		if !ok {
			return nil, false
		}
		out = append(out, n.Int())
	}
	return out, true
}

func beInt(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}
