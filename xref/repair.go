package xref

import (
	"context"
	"errors"
	"io"

	"github.com/wudi/pdfdoc/object"
	"github.com/wudi/pdfdoc/scanner"
)

// repair rebuilds the table by scanning the whole file for
// "num gen obj" headers. The last header found for an object wins,
// matching how incremental updates append newer bodies.
func (res *resolver) repair(ctx context.Context, r io.ReaderAt) (Table, error) {
	s := scanner.New(r, res.cfg.Scanner)
	tr := object.NewTokenReader(s)
	entries := make(map[int]Entry)
	var lastTrailer *object.DictObj
	maxObj := 0
	lastPos := int64(-1)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := tr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// A scan error that leaves the position unchanged would
			// loop forever; step over the offending byte.
			if s.Position() == lastPos {
				if serr := s.SeekTo(lastPos + 1); serr != nil {
					break
				}
			}
			lastPos = s.Position()
			continue
		}
		lastPos = s.Position()

		switch {
		case tok.Type == scanner.TokenNumber && tok.IsInt && tok.Int >= 0:
			gen, err := tr.Next()
			if err != nil {
				continue
			}
			if gen.Type != scanner.TokenNumber || !gen.IsInt {
				tr.Unread(gen)
				continue
			}
			kw, err := tr.Next()
			if err != nil {
				continue
			}
			if kw.Type == scanner.TokenKeyword && kw.Str == "obj" {
				num := int(tok.Int)
				entries[num] = Entry{Kind: EntryInFile, Offset: tok.Pos, Gen: int(gen.Int)}
				if num > maxObj {
					maxObj = num
				}
				continue
			}
			// The header may start at the second number, as in
			// "1 2 0 obj"; put both tokens back and retry from there.
			tr.Unread(kw)
			tr.Unread(gen)

		case tok.Type == scanner.TokenKeyword && tok.Str == "trailer":
			if obj, err := object.Decode(tr); err == nil {
				if d, ok := obj.(*object.DictObj); ok {
					lastTrailer = d
				}
			}
		}
	}

	if len(entries) == 0 {
		return nil, errors.New("rebuild found no objects")
	}
	if lastTrailer == nil {
		lastTrailer = object.Dict()
		lastTrailer.Set(object.NameLiteral("Size"), object.NumberInt(int64(maxObj+1)))
	}
	sec := &section{entries: entries, trailer: lastTrailer, typ: "repaired", prev: -1, xrefStm: -1}
	res.sections = []*section{sec}
	return &table{entries: entries, trailer: lastTrailer, typ: "repaired"}, nil
}
