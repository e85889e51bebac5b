package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/wudi/pdfdoc/filters"
	"github.com/wudi/pdfdoc/object"
	"github.com/wudi/pdfdoc/observability"
	"github.com/wudi/pdfdoc/recovery"
	"github.com/wudi/pdfdoc/scanner"
)

// EntryKind distinguishes where an object body lives.
type EntryKind int

const (
	// EntryFree marks a deleted object. Recorded so newer sections
	// shadow older in-file entries instead of resurrecting them.
	EntryFree EntryKind = iota
	// EntryInFile is a classic entry: byte offset plus generation.
	EntryInFile
	// EntryInObjectStream points into a compressed object stream.
	EntryInObjectStream
)

type Entry struct {
	Kind      EntryKind
	Offset    int64
	Gen       int
	StreamNum int
	StreamIdx int
}

// Table holds merged object locations for a document.
type Table interface {
	Lookup(objNum int) (Entry, bool)
	Objects() []int
	Trailer() object.Dictionary
	Type() string
}

// Resolver locates and parses cross-reference information in a PDF.
type Resolver interface {
	Resolve(ctx context.Context, r io.ReaderAt, size int64) (Table, error)
	Linearized() bool
	Incremental() []Table
}

type ResolverConfig struct {
	// MaxXRefDepth caps the Prev chain length. Zero means 50.
	MaxXRefDepth int
	Scanner      scanner.Config
	Pipeline     *filters.Pipeline
	Recovery     recovery.Strategy
	Logger       observability.Logger
}

func NewResolver(cfg ResolverConfig) Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = 50
	}
	if cfg.Pipeline == nil {
		cfg.Pipeline = filters.NewDefaultPipeline(filters.DefaultLimits())
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &resolver{cfg: cfg}
}

type resolver struct {
	cfg        ResolverConfig
	sections   []*section
	linearized bool
}

// section is one parsed cross-reference node in the Prev chain.
type section struct {
	entries map[int]Entry
	trailer *object.DictObj
	typ     string
	prev    int64
	xrefStm int64
}

func (res *resolver) Resolve(ctx context.Context, r io.ReaderAt, size int64) (Table, error) {
	res.sections = nil
	res.linearized = detectLinearized(r, res.cfg.Scanner)

	t, err := res.resolveChain(ctx, r, size)
	if err == nil {
		return t, nil
	}
	if res.cfg.Recovery != nil {
		loc := recovery.Location{Component: recovery.ComponentXref}
		if act := res.cfg.Recovery.OnError(ctx, err, loc); act != recovery.ActionFail {
			res.cfg.Logger.Warn("rebuilding cross-reference table",
				observability.Error("error", err))
			rt, rerr := res.repair(ctx, r)
			if rerr == nil {
				return rt, nil
			}
			res.cfg.Logger.Error("cross-reference rebuild failed",
				observability.Error("error", rerr))
		}
	}
	return nil, err
}

func (res *resolver) Linearized() bool { return res.linearized }

// Incremental returns one table per revision, newest first.
func (res *resolver) Incremental() []Table {
	out := make([]Table, 0, len(res.sections))
	for _, sec := range res.sections {
		out = append(out, &table{entries: sec.entries, trailer: sec.trailer, typ: sec.typ})
	}
	return out
}

func (res *resolver) resolveChain(ctx context.Context, r io.ReaderAt, size int64) (Table, error) {
	start, err := findStartXref(r, size)
	if err != nil {
		return nil, err
	}

	visited := make(map[int64]bool)
	var ordered []*section
	offset := start
	for depth := 0; offset > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if depth >= res.cfg.MaxXRefDepth {
			return nil, fmt.Errorf("cross-reference chain longer than %d", res.cfg.MaxXRefDepth)
		}
		if visited[offset] {
			return nil, fmt.Errorf("cross-reference chain cycles at offset %d", offset)
		}
		if offset >= size {
			return nil, fmt.Errorf("cross-reference offset %d past end of file", offset)
		}
		visited[offset] = true

		sec, err := res.parseSectionAt(ctx, r, offset)
		if err != nil {
			return nil, err
		}
		// A hybrid file's stream section takes precedence over the
		// classic section that references it.
		if sec.xrefStm > 0 && !visited[sec.xrefStm] && sec.xrefStm < size {
			visited[sec.xrefStm] = true
			if stm, err := res.parseSectionAt(ctx, r, sec.xrefStm); err == nil {
				ordered = append(ordered, stm)
			} else {
				res.cfg.Logger.Warn("broken hybrid xref stream",
					observability.Int64("offset", sec.xrefStm),
					observability.Error("error", err))
			}
		}
		ordered = append(ordered, sec)
		offset = sec.prev
	}
	if len(ordered) == 0 {
		return nil, errors.New("no cross-reference sections found")
	}
	res.sections = ordered
	return mergeSections(ordered), nil
}

func (res *resolver) parseSectionAt(ctx context.Context, r io.ReaderAt, offset int64) (*section, error) {
	s := scanner.New(r, res.cfg.Scanner)
	if err := s.SeekTo(offset); err != nil {
		return nil, fmt.Errorf("seek to xref section: %w", err)
	}
	tr := object.NewTokenReader(s)
	tok, err := tr.Next()
	if err != nil {
		return nil, fmt.Errorf("read xref section at %d: %w", offset, err)
	}
	if tok.Type == scanner.TokenKeyword && tok.Str == "xref" {
		return parseClassicSection(tr)
	}
	if tok.Type == scanner.TokenNumber && tok.IsInt {
		tr.Unread(tok)
		return res.parseStreamSection(ctx, tr)
	}
	return nil, fmt.Errorf("no xref table or stream at offset %d", offset)
}

// parseClassicSection reads subsections of fixed entries up to the
// trailer dictionary.
func parseClassicSection(tr *object.TokenReader) (*section, error) {
	sec := &section{entries: make(map[int]Entry), typ: "table", prev: -1, xrefStm: -1}
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, fmt.Errorf("xref table: %w", err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			obj, err := object.Decode(tr)
			if err != nil {
				return nil, fmt.Errorf("trailer: %w", err)
			}
			d, ok := obj.(*object.DictObj)
			if !ok {
				return nil, errors.New("trailer is not a dictionary")
			}
			sec.trailer = d
			break
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return nil, fmt.Errorf("unexpected %q in xref table at offset %d", tok.Str, tok.Pos)
		}
		start := int(tok.Int)
		cnt, err := expectInt(tr, "subsection count")
		if err != nil {
			return nil, err
		}
		for i := 0; i < int(cnt); i++ {
			off, err := expectInt(tr, "entry offset")
			if err != nil {
				return nil, err
			}
			gen, err := expectInt(tr, "entry generation")
			if err != nil {
				return nil, err
			}
			kw, err := tr.Next()
			if err != nil {
				return nil, fmt.Errorf("entry type: %w", err)
			}
			if kw.Type != scanner.TokenKeyword || (kw.Str != "n" && kw.Str != "f") {
				return nil, fmt.Errorf("xref entry type %q at offset %d", kw.Str, kw.Pos)
			}
			e := Entry{Kind: EntryFree, Gen: int(gen)}
			if kw.Str == "n" {
				e = Entry{Kind: EntryInFile, Offset: off, Gen: int(gen)}
			}
			sec.entries[start+i] = e
		}
	}
	if prev, ok := trailerInt(sec.trailer, "Prev"); ok {
		sec.prev = prev
	}
	if stm, ok := trailerInt(sec.trailer, "XRefStm"); ok {
		sec.xrefStm = stm
	}
	return sec, nil
}

func expectInt(tr *object.TokenReader, what string) (int64, error) {
	tok, err := tr.Next()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	if tok.Type != scanner.TokenNumber || !tok.IsInt {
		return 0, fmt.Errorf("%s: got %q at offset %d", what, tok.Str, tok.Pos)
	}
	return tok.Int, nil
}

func trailerInt(d *object.DictObj, key string) (int64, bool) {
	if d == nil {
		return 0, false
	}
	v, ok := d.Get(object.NameLiteral(key))
	if !ok {
		return 0, false
	}
	n, ok := v.(object.Number)
	if !ok {
		return 0, false
	}
	return n.Int(), true
}

// mergeSections folds sections newest-first: the first entry seen for
// an object wins, and trailer keys fill in from older revisions only
// when the newer ones lack them.
func mergeSections(ordered []*section) Table {
	merged := &table{entries: make(map[int]Entry), trailer: object.Dict(), typ: ordered[0].typ}
	for _, sec := range ordered {
		for num, e := range sec.entries {
			if _, ok := merged.entries[num]; !ok {
				merged.entries[num] = e
			}
		}
		if sec.trailer == nil {
			continue
		}
		for _, key := range sec.trailer.Keys() {
			switch key.Value() {
			case "Prev", "XRefStm":
				continue
			}
			if _, ok := merged.trailer.Get(key); !ok {
				if v, ok := sec.trailer.Get(key); ok {
					merged.trailer.Set(key, v)
				}
			}
		}
	}
	return merged
}

type table struct {
	entries map[int]Entry
	trailer *object.DictObj
	typ     string
}

func (t *table) Lookup(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.Kind == EntryFree {
		return Entry{}, false
	}
	return e, true
}

func (t *table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for num, e := range t.entries {
		if e.Kind == EntryFree {
			continue
		}
		out = append(out, num)
	}
	sort.Ints(out)
	return out
}

func (t *table) Trailer() object.Dictionary {
	if t.trailer == nil {
		return object.Dict()
	}
	return t.trailer
}

func (t *table) Type() string { return t.typ }

// findStartXref scans the file tail for the startxref marker and its
// offset.
func findStartXref(r io.ReaderAt, size int64) (int64, error) {
	const tailLen = 2048
	n := int64(tailLen)
	if n > size {
		n = size
	}
	tail := make([]byte, n)
	if _, err := r.ReadAt(tail, size-n); err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	idx := bytes.LastIndex(tail, []byte("startxref"))
	if idx < 0 {
		return 0, errors.New("startxref not found")
	}
	fields := bytes.Fields(tail[idx+len("startxref"):])
	if len(fields) == 0 {
		return 0, errors.New("startxref offset missing")
	}
	off, err := strconv.ParseInt(string(fields[0]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse startxref offset: %w", err)
	}
	if off <= 0 || off >= size {
		return 0, fmt.Errorf("startxref offset %d out of range", off)
	}
	return off, nil
}

// detectLinearized checks whether the first object carries a
// Linearized dictionary.
func detectLinearized(r io.ReaderAt, cfg scanner.Config) bool {
	tr := object.NewTokenReader(scanner.New(r, cfg))
	num, err := tr.Next()
	if err != nil || num.Type != scanner.TokenNumber {
		return false
	}
	if gen, err := tr.Next(); err != nil || gen.Type != scanner.TokenNumber {
		return false
	}
	if kw, err := tr.Next(); err != nil || kw.Str != "obj" {
		return false
	}
	obj, err := object.Decode(tr)
	if err != nil {
		return false
	}
	d, ok := obj.(object.Dictionary)
	if !ok {
		return false
	}
	_, has := d.Get(object.NameLiteral("Linearized"))
	return has
}
