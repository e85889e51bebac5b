package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/wudi/pdfdoc/filters"
	"github.com/wudi/pdfdoc/object"
	"github.com/wudi/pdfdoc/recovery"
	"github.com/wudi/pdfdoc/scanner"
	"github.com/wudi/pdfdoc/security"
	"github.com/wudi/pdfdoc/xref"
)

// Loader fetches indirect objects on demand, consulting the xref
// table, unpacking object streams, and decrypting as it goes.
type Loader interface {
	Load(ctx context.Context, ref object.Ref) (object.Object, error)
	Resolver(ctx context.Context) object.Resolver
}

type LoaderBuilder struct {
	reader   io.ReaderAt
	table    xref.Table
	security security.Handler
	pipeline *filters.Pipeline
	cache    Cache
	recovery recovery.Strategy
	limits   security.Limits
}

func NewLoaderBuilder() *LoaderBuilder {
	return &LoaderBuilder{limits: security.DefaultLimits()}
}

func (b *LoaderBuilder) WithReader(r io.ReaderAt) *LoaderBuilder         { b.reader = r; return b }
func (b *LoaderBuilder) WithTable(t xref.Table) *LoaderBuilder           { b.table = t; return b }
func (b *LoaderBuilder) WithSecurity(h security.Handler) *LoaderBuilder  { b.security = h; return b }
func (b *LoaderBuilder) WithPipeline(p *filters.Pipeline) *LoaderBuilder { b.pipeline = p; return b }
func (b *LoaderBuilder) WithCache(c Cache) *LoaderBuilder                { b.cache = c; return b }
func (b *LoaderBuilder) WithRecovery(s recovery.Strategy) *LoaderBuilder { b.recovery = s; return b }
func (b *LoaderBuilder) WithLimits(l security.Limits) *LoaderBuilder     { b.limits = l; return b }

func (b *LoaderBuilder) Build() (Loader, error) {
	if b.reader == nil || b.table == nil {
		return nil, errors.New("parser: loader needs a reader and an xref table")
	}
	sec := b.security
	if sec == nil {
		sec = security.NoopHandler()
	}
	pipe := b.pipeline
	if pipe == nil {
		pipe = filters.NewDefaultPipeline(filters.Limits{
			MaxDecompressedSize: b.limits.MaxDecompressedSize,
			MaxChainLength:      b.limits.MaxFilterChain,
		})
	}
	cache := b.cache
	if cache == nil {
		cache = NewMapCache()
	}
	maxDepth := b.limits.MaxIndirectDepth
	if maxDepth <= 0 {
		maxDepth = security.DefaultLimits().MaxIndirectDepth
	}
	return &loader{
		reader:   b.reader,
		table:    b.table,
		sec:      sec,
		pipeline: pipe,
		cache:    cache,
		rec:      b.recovery,
		maxDepth: maxDepth,
		scanCfg: scanner.Config{
			MaxStringLength: b.limits.MaxStringLength,
			MaxArrayDepth:   b.limits.MaxArrayDepth,
			MaxDictDepth:    b.limits.MaxDictDepth,
			MaxStreamLength: b.limits.MaxStreamLength,
			Recovery:        b.recovery,
		},
	}, nil
}

type loader struct {
	reader   io.ReaderAt
	table    xref.Table
	sec      security.Handler
	pipeline *filters.Pipeline
	cache    Cache
	rec      recovery.Strategy
	maxDepth int
	scanCfg  scanner.Config

	mu     sync.Mutex
	shared scanner.Scanner
	objstm map[int]containerContents
}

func (l *loader) Load(ctx context.Context, ref object.Ref) (object.Object, error) {
	if obj, ok := l.cache.Get(ref); ok {
		return obj, nil
	}
	obj, err := l.loadUncached(ctx, ref)
	if err != nil {
		return nil, err
	}
	l.cache.Put(ref, obj)
	return obj, nil
}

// Resolver adapts the loader to the object.Resolver shape, following
// reference chains up to the indirection limit.
func (l *loader) Resolver(ctx context.Context) object.Resolver {
	return func(o object.Object) (object.Object, error) {
		for i := 0; i < l.maxDepth; i++ {
			r, ok := o.(object.RefObj)
			if !ok {
				return o, nil
			}
			var err error
			o, err = l.Load(ctx, r.R)
			if err != nil {
				return nil, err
			}
		}
		return nil, fmt.Errorf("reference chain deeper than %d", l.maxDepth)
	}
}

func (l *loader) loadUncached(ctx context.Context, ref object.Ref) (object.Object, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.table.Lookup(ref.Num)
	if !ok {
		// A reference with no live entry denotes the null object.
		return object.NullObj{}, nil
	}
	switch entry.Kind {
	case xref.EntryInFile:
		obj, err := l.loadAtLocked(ctx, ref.Num, entry.Offset, entry.Gen)
		if err != nil {
			return nil, err
		}
		return l.decrypt(ref, obj)
	case xref.EntryInObjectStream:
		return l.fromObjectStream(ctx, ref, entry.StreamNum)
	default:
		return object.NullObj{}, nil
	}
}

// loadAtLocked reads "num gen obj <body>" at offset using the shared
// scanner. Caller holds l.mu.
func (l *loader) loadAtLocked(ctx context.Context, objNum int, offset int64, gen int) (object.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.shared == nil {
		l.shared = scanner.New(l.reader, l.scanCfg)
	}
	s := l.shared
	if locSetter, ok := s.(interface{ SetRecoveryLocation(recovery.Location) }); ok {
		locSetter.SetRecoveryLocation(recovery.Location{
			ByteOffset: offset,
			ObjectNum:  objNum,
			ObjectGen:  gen,
			Component:  recovery.ComponentObject,
		})
	}
	if err := s.SeekTo(offset); err != nil {
		return nil, fmt.Errorf("seek to object %d: %w", objNum, err)
	}
	tr := object.NewTokenReader(s)
	if err := expectHeader(ctx, tr, objNum, gen, l.rec); err != nil {
		return nil, err
	}
	obj, err := object.Decode(tr)
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", objNum, err)
	}
	if dict, ok := obj.(*object.DictObj); ok {
		return l.attachStream(tr, dict)
	}
	return obj, nil
}

func expectHeader(ctx context.Context, tr *object.TokenReader, objNum, gen int, rec recovery.Strategy) error {
	num, err := tr.Next()
	if err != nil {
		return fmt.Errorf("object %d header: %w", objNum, err)
	}
	genTok, err := tr.Next()
	if err != nil {
		return fmt.Errorf("object %d header: %w", objNum, err)
	}
	kw, err := tr.Next()
	if err != nil {
		return fmt.Errorf("object %d header: %w", objNum, err)
	}
	if num.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber ||
		kw.Type != scanner.TokenKeyword || kw.Str != "obj" {
		return fmt.Errorf("object %d: malformed header at offset %d", objNum, num.Pos)
	}
	if int(num.Int) != objNum || int(genTok.Int) != gen {
		err := fmt.Errorf("object header says %d %d, xref says %d %d",
			num.Int, genTok.Int, objNum, gen)
		if rec != nil {
			loc := recovery.Location{ByteOffset: num.Pos, ObjectNum: objNum, ObjectGen: gen, Component: recovery.ComponentObject}
			if act := rec.OnError(ctx, err, loc); act != recovery.ActionFail {
				return nil
			}
		}
		return err
	}
	return nil
}

// attachStream turns a dictionary into a stream object when stream
// data follows, resolving /Length first so the scanner can slice the
// payload exactly.
func (l *loader) attachStream(tr *object.TokenReader, dict *object.DictObj) (object.Object, error) {
	length := int64(-1)
	lengthVal, _ := dict.Get(object.NameLiteral("Length"))
	switch lv := lengthVal.(type) {
	case object.NumberObj:
		length = lv.Int()
	case object.RefObj:
		if n, err := l.loadNumberDirect(lv.R); err == nil {
			length = n
		}
	}
	tr.Scanner().SetNextStreamLength(length)
	tok, err := tr.Next()
	if err != nil {
		// Dictionary at EOF; nothing follows it.
		return dict, nil
	}
	if tok.Type != scanner.TokenStream {
		tr.Unread(tok)
		return dict, nil
	}
	if length >= 0 && length != int64(len(tok.Bytes)) {
		dict.Set(object.NameLiteral("Length"), object.NumberInt(int64(len(tok.Bytes))))
	}
	return object.NewStream(dict, tok.Bytes), nil
}

// loadNumberDirect resolves an indirect /Length with a throwaway
// scanner so the shared cursor stays put. Lengths stored in object
// streams are not chased; the caller falls back to an endstream scan.
func (l *loader) loadNumberDirect(ref object.Ref) (int64, error) {
	entry, ok := l.table.Lookup(ref.Num)
	if !ok || entry.Kind != xref.EntryInFile {
		return 0, errors.New("length reference not loadable directly")
	}
	s := scanner.New(l.reader, l.scanCfg)
	if err := s.SeekTo(entry.Offset); err != nil {
		return 0, err
	}
	tr := object.NewTokenReader(s)
	if err := expectHeader(context.Background(), tr, ref.Num, entry.Gen, nil); err != nil {
		return 0, err
	}
	obj, err := object.Decode(tr)
	if err != nil {
		return 0, err
	}
	n, ok := obj.(object.Number)
	if !ok {
		return 0, fmt.Errorf("length reference %d is not a number", ref.Num)
	}
	return n.Int(), nil
}

// fromObjectStream serves an object out of a compressed container,
// parsing and caching the whole container on first touch. Contained
// objects are already covered by the container's decryption, so they
// are not decrypted again. Caller holds l.mu.
func (l *loader) fromObjectStream(ctx context.Context, ref object.Ref, containerNum int) (object.Object, error) {
	const maxExtends = 16
	seen := 0
	for containerNum != 0 && seen < maxExtends {
		objs, err := l.containerObjects(ctx, containerNum)
		if err != nil {
			return nil, err
		}
		if obj, ok := objs.byNum[ref.Num]; ok {
			return obj, nil
		}
		containerNum = objs.extends
		seen++
	}
	return nil, fmt.Errorf("object %d not found in its object stream", ref.Num)
}

type containerContents struct {
	byNum   map[int]object.Object
	extends int
}

func (l *loader) containerObjects(ctx context.Context, containerNum int) (containerContents, error) {
	if c, ok := l.objstm[containerNum]; ok {
		return c, nil
	}
	entry, ok := l.table.Lookup(containerNum)
	if !ok || entry.Kind != xref.EntryInFile {
		return containerContents{}, fmt.Errorf("object stream %d has no file entry", containerNum)
	}
	raw, err := l.loadAtLocked(ctx, containerNum, entry.Offset, entry.Gen)
	if err != nil {
		return containerContents{}, fmt.Errorf("object stream %d: %w", containerNum, err)
	}
	st, ok := raw.(*object.StreamObj)
	if !ok {
		return containerContents{}, fmt.Errorf("object %d is not a stream", containerNum)
	}
	dec, err := l.decrypt(object.Ref{Num: containerNum, Gen: entry.Gen}, st)
	if err != nil {
		return containerContents{}, err
	}
	st = dec.(*object.StreamObj)

	names, parms := filters.ExtractFilters(st.Dict)
	data, err := l.pipeline.Decode(ctx, st.Data, names, parms)
	if err != nil {
		return containerContents{}, fmt.Errorf("decode object stream %d: %w", containerNum, err)
	}
	n := int(dictInt(st.Dict, "N"))
	first := int(dictInt(st.Dict, "First"))
	if first < 0 || first > len(data) {
		return containerContents{}, fmt.Errorf("object stream %d First %d out of range", containerNum, first)
	}

	pairs, err := readPairTable(data[:first], n, l.scanCfg)
	if err != nil {
		return containerContents{}, fmt.Errorf("object stream %d: %w", containerNum, err)
	}
	body := data[first:]
	objs := make(map[int]object.Object, n)
	for i := 0; i < n; i++ {
		num, off := pairs[2*i], pairs[2*i+1]
		if off < 0 || off > len(body) {
			return containerContents{}, fmt.Errorf("object stream %d entry %d offset out of range", containerNum, i)
		}
		s := scanner.New(bytes.NewReader(body[off:]), l.scanCfg)
		obj, err := object.Decode(object.NewTokenReader(s))
		if err != nil {
			return containerContents{}, fmt.Errorf("object stream %d entry %d: %w", containerNum, i, err)
		}
		objs[num] = obj
	}

	extends := 0
	if ext, ok := st.Dict.Get(object.NameLiteral("Extends")); ok {
		if r, ok := ext.(object.RefObj); ok {
			extends = r.R.Num
		}
	}
	c := containerContents{byNum: objs, extends: extends}
	if l.objstm == nil {
		l.objstm = make(map[int]containerContents)
	}
	l.objstm[containerNum] = c
	return c, nil
}

func readPairTable(header []byte, n int, cfg scanner.Config) ([]int, error) {
	s := scanner.New(bytes.NewReader(header), cfg)
	pairs := make([]int, 0, 2*n)
	for len(pairs) < 2*n {
		tok, err := s.Next()
		if err != nil {
			return nil, fmt.Errorf("pair table: %w", err)
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return nil, fmt.Errorf("pair table holds %q", tok.Str)
		}
		pairs = append(pairs, int(tok.Int))
	}
	return pairs, nil
}

func dictInt(d *object.DictObj, key string) int64 {
	if v, ok := d.Get(object.NameLiteral(key)); ok {
		if n, ok := v.(object.Number); ok {
			return n.Int()
		}
	}
	return 0
}

// decrypt walks the object, decrypting strings and stream payloads in
// place. Streams honor Crypt pseudo-filters, including Identity.
func (l *loader) decrypt(ref object.Ref, obj object.Object) (object.Object, error) {
	if !l.sec.IsEncrypted() {
		return obj, nil
	}
	return l.decryptWalk(ref, obj)
}

func (l *loader) decryptWalk(ref object.Ref, obj object.Object) (object.Object, error) {
	switch v := obj.(type) {
	case object.StringObj:
		dec, err := l.sec.Decrypt(ref.Num, ref.Gen, v.Value(), security.DataClassString)
		if err != nil {
			return nil, err
		}
		return object.StringObj{Bytes: dec, Hex: v.Hex}, nil
	case *object.ArrayObj:
		for i, item := range v.Items {
			dec, err := l.decryptWalk(ref, item)
			if err != nil {
				return nil, err
			}
			v.Items[i] = dec
		}
		return v, nil
	case *object.DictObj:
		for _, key := range v.Keys() {
			item, _ := v.Get(key)
			dec, err := l.decryptWalk(ref, item)
			if err != nil {
				return nil, err
			}
			v.Set(key, dec)
		}
		return v, nil
	case *object.StreamObj:
		if v.Dict != nil {
			if _, err := l.decryptWalk(ref, v.Dict); err != nil {
				return nil, err
			}
		}
		class := security.DataClassStream
		if isMetadataStream(v.Dict) {
			class = security.DataClassMetadataStream
		}
		cryptFilter, hasCrypt := cryptFilterName(v.Dict)
		if hasCrypt && cryptFilter == "Identity" {
			return v, nil
		}
		dec, err := l.sec.DecryptWithFilter(ref.Num, ref.Gen, v.Data, class, cryptFilter)
		if err != nil {
			return nil, err
		}
		v.Data = dec
		if v.Dict != nil {
			v.Dict.Set(object.NameLiteral("Length"), object.NumberInt(int64(len(dec))))
		}
		return v, nil
	default:
		return obj, nil
	}
}

func isMetadataStream(d *object.DictObj) bool {
	if d == nil {
		return false
	}
	if v, ok := d.Get(object.NameLiteral("Type")); ok {
		if n, ok := v.(object.Name); ok {
			return n.Value() == "Metadata"
		}
	}
	return false
}

// cryptFilterName finds a Crypt entry in the stream's filter chain and
// reports the crypt filter it names. An empty name with true means the
// default filter applies.
func cryptFilterName(d *object.DictObj) (string, bool) {
	if d == nil {
		return "", false
	}
	names, parms := filters.ExtractFilters(d)
	for i, name := range names {
		if name != "Crypt" {
			continue
		}
		if i < len(parms) && parms[i] != nil {
			if v, ok := parms[i].Get(object.NameLiteral("Name")); ok {
				if n, ok := v.(object.Name); ok {
					return n.Value(), true
				}
			}
		}
		return "", true
	}
	return "", false
}
