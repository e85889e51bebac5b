package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/wudi/pdfdoc/coords"
	"github.com/wudi/pdfdoc/filters"
	"github.com/wudi/pdfdoc/object"
	"github.com/wudi/pdfdoc/observability"
	"github.com/wudi/pdfdoc/recovery"
	"github.com/wudi/pdfdoc/scanner"
	"github.com/wudi/pdfdoc/security"
	"github.com/wudi/pdfdoc/xref"
)

// Config controls document parsing end to end: xref resolution,
// object loading, decryption, and page tree assembly.
type Config struct {
	Password string
	// Security overrides the handler built from the file's own
	// encryption dictionary. The caller authenticates it.
	Security security.Handler
	Limits   security.Limits
	Recovery recovery.Strategy
	Logger   observability.Logger
	Cache    Cache
}

type DocumentParser struct {
	cfg Config
	log observability.Logger
}

func NewDocumentParser(cfg Config) *DocumentParser {
	if cfg.Limits == (security.Limits{}) {
		cfg.Limits = security.DefaultLimits()
	}
	log := cfg.Logger
	if log == nil {
		log = observability.NopLogger{}
	}
	return &DocumentParser{cfg: cfg, log: log}
}

// Metadata carries the document information dictionary, decoded to
// UTF-8.
type Metadata struct {
	Title        string
	Author       string
	Subject      string
	Keywords     []string
	Creator      string
	Producer     string
	CreationDate time.Time
	ModDate      time.Time
}

// Page is one leaf of the page tree with inherited attributes
// resolved.
type Page struct {
	Ref       object.Ref
	Dict      *object.DictObj
	MediaBox  coords.Rect
	CropBox   coords.Rect
	Rotate    int
	Resources *object.DictObj
}

// Document is a parsed file: structural facts plus lazy access to
// objects and page content.
type Document struct {
	Version           string
	Trailer           object.Dictionary
	Catalog           *object.DictObj
	Meta              Metadata
	Encrypted         bool
	MetadataEncrypted bool
	Permissions       security.Permissions
	Linearized        bool
	Revisions         int
	TableType         string

	pages    []Page
	loader   Loader
	pipeline *filters.Pipeline
	table    xref.Table
	limits   security.Limits
}

// Limits reports the resource limits the document was parsed under.
func (d *Document) Limits() security.Limits { return d.limits }

func (d *Document) NumPages() int { return len(d.pages) }

func (d *Document) Page(index int) (Page, bool) {
	if index < 0 || index >= len(d.pages) {
		return Page{}, false
	}
	return d.pages[index], true
}

// Object loads an indirect object, decrypted and cached.
func (d *Document) Object(ctx context.Context, ref object.Ref) (object.Object, error) {
	return d.loader.Load(ctx, ref)
}

// Resolver returns a reference-chasing resolver bound to ctx.
func (d *Document) Resolver(ctx context.Context) object.Resolver {
	return d.loader.Resolver(ctx)
}

// Table exposes the merged cross-reference table.
func (d *Document) Table() xref.Table { return d.table }

// DecodeStream runs a stream's payload through its filter chain.
func (d *Document) DecodeStream(ctx context.Context, st object.Stream) ([]byte, error) {
	names, parms := filters.ExtractFilters(st.Dictionary())
	return d.pipeline.Decode(ctx, st.RawData(), names, parms)
}

// PageContent concatenates the decoded content streams of a page.
func (d *Document) PageContent(ctx context.Context, index int) ([]byte, error) {
	page, ok := d.Page(index)
	if !ok {
		return nil, fmt.Errorf("page %d out of range", index)
	}
	contents, ok := page.Dict.Get(object.NameLiteral("Contents"))
	if !ok {
		return nil, nil
	}
	resolve := d.Resolver(ctx)
	resolved, err := resolve(contents)
	if err != nil {
		return nil, fmt.Errorf("page %d contents: %w", index, err)
	}
	var parts [][]byte
	appendStream := func(o object.Object) error {
		st, ok := o.(*object.StreamObj)
		if !ok {
			return fmt.Errorf("page %d content entry is %T, not a stream", index, o)
		}
		data, err := d.DecodeStream(ctx, st)
		if err != nil {
			return fmt.Errorf("page %d content: %w", index, err)
		}
		parts = append(parts, data)
		return nil
	}
	switch v := resolved.(type) {
	case *object.StreamObj:
		if err := appendStream(v); err != nil {
			return nil, err
		}
	case *object.ArrayObj:
		for _, item := range v.Items {
			r, err := resolve(item)
			if err != nil {
				return nil, fmt.Errorf("page %d contents: %w", index, err)
			}
			if err := appendStream(r); err != nil {
				return nil, err
			}
		}
	case object.NullObj, nil:
	default:
		return nil, fmt.Errorf("page %d contents is %T", index, resolved)
	}
	// Streams concatenate with whitespace between them so operators
	// split across streams stay separated.
	total := 0
	for _, p := range parts {
		total += len(p) + 1
	}
	out := make([]byte, 0, total)
	for i, p := range parts {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, p...)
	}
	return out, nil
}

func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt, size int64) (*Document, error) {
	pipeline := filters.NewDefaultPipeline(filters.Limits{
		MaxDecompressedSize: p.cfg.Limits.MaxDecompressedSize,
		MaxChainLength:      p.cfg.Limits.MaxFilterChain,
	})
	scanCfg := scanner.Config{
		MaxStringLength: p.cfg.Limits.MaxStringLength,
		MaxArrayDepth:   p.cfg.Limits.MaxArrayDepth,
		MaxDictDepth:    p.cfg.Limits.MaxDictDepth,
		MaxStreamLength: p.cfg.Limits.MaxStreamLength,
		Recovery:        p.cfg.Recovery,
	}
	resolver := xref.NewResolver(xref.ResolverConfig{
		MaxXRefDepth: p.cfg.Limits.MaxXRefDepth,
		Scanner:      scanCfg,
		Pipeline:     pipeline,
		Recovery:     p.cfg.Recovery,
		Logger:       p.log,
	})
	table, err := resolver.Resolve(ctx, r, size)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}

	sec, err := p.selectSecurity(ctx, r, table, pipeline)
	if err != nil {
		return nil, err
	}

	loader, err := NewLoaderBuilder().
		WithReader(r).
		WithTable(table).
		WithSecurity(sec).
		WithPipeline(pipeline).
		WithCache(p.cfg.Cache).
		WithRecovery(p.cfg.Recovery).
		WithLimits(p.cfg.Limits).
		Build()
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Version:           headerVersion(r),
		Trailer:           table.Trailer(),
		Encrypted:         sec.IsEncrypted(),
		MetadataEncrypted: sec.IsEncrypted() && sec.EncryptMetadata(),
		Permissions:       sec.Permissions(),
		Linearized:        resolver.Linearized(),
		Revisions:         len(resolver.Incremental()),
		TableType:         table.Type(),
		loader:            loader,
		pipeline:          pipeline,
		table:             table,
		limits:            p.cfg.Limits,
	}

	catalog, err := p.findCatalog(ctx, loader, table)
	if err != nil {
		return nil, err
	}
	doc.Catalog = catalog
	if v := catalogVersion(catalog); v != "" && versionLess(doc.Version, v) {
		doc.Version = v
	}

	pages, err := p.collectPages(ctx, loader, catalog)
	if err != nil {
		return nil, err
	}
	doc.pages = pages

	p.populateMetadata(ctx, loader, doc)

	p.log.Debug("document parsed",
		observability.String("version", doc.Version),
		observability.Int("pages", len(doc.pages)),
		observability.Bool("encrypted", doc.Encrypted),
		observability.String("xref", doc.TableType))
	return doc, nil
}

func (p *DocumentParser) selectSecurity(ctx context.Context, r io.ReaderAt, table xref.Table, pipeline *filters.Pipeline) (security.Handler, error) {
	if p.cfg.Security != nil {
		return p.cfg.Security, nil
	}
	trailer := table.Trailer()
	encObj, ok := trailer.Get(object.NameLiteral("Encrypt"))
	if !ok {
		return security.NoopHandler(), nil
	}
	var encDict *object.DictObj
	switch v := encObj.(type) {
	case *object.DictObj:
		encDict = v
	case object.RefObj:
		// The encryption dictionary itself is never encrypted, so it
		// loads through a plain loader.
		plain, err := NewLoaderBuilder().
			WithReader(r).
			WithTable(table).
			WithPipeline(pipeline).
			WithRecovery(p.cfg.Recovery).
			WithLimits(p.cfg.Limits).
			Build()
		if err != nil {
			return nil, err
		}
		obj, err := plain.Load(ctx, v.R)
		if err != nil {
			return nil, fmt.Errorf("load encryption dictionary: %w", err)
		}
		encDict, _ = obj.(*object.DictObj)
	}
	if encDict == nil {
		return nil, errors.New("trailer Encrypt entry is not a dictionary")
	}
	trailerDict, _ := trailer.(*object.DictObj)
	handler, err := (&security.HandlerBuilder{}).
		WithEncryptDict(encDict).
		WithTrailer(trailerDict).
		Build()
	if err != nil {
		return nil, err
	}
	if err := handler.Authenticate(p.cfg.Password); err != nil {
		return nil, err
	}
	return handler, nil
}

// findCatalog follows trailer Root, falling back to a scan over every
// live object when a rebuilt trailer lost it.
func (p *DocumentParser) findCatalog(ctx context.Context, loader Loader, table xref.Table) (*object.DictObj, error) {
	trailer := table.Trailer()
	if rootObj, ok := trailer.Get(object.NameLiteral("Root")); ok {
		resolved, err := loader.Resolver(ctx)(rootObj)
		if err == nil {
			if d, ok := resolved.(*object.DictObj); ok {
				return d, nil
			}
			err = fmt.Errorf("trailer Root is %T", resolved)
		}
		if act := p.consult(ctx, err, recovery.ComponentTrailer); act == recovery.ActionFail {
			return nil, err
		}
	} else {
		err := errors.New("trailer has no Root")
		if act := p.consult(ctx, err, recovery.ComponentTrailer); act == recovery.ActionFail {
			return nil, err
		}
	}

	p.log.Warn("scanning objects for the document catalog")
	for _, num := range table.Objects() {
		obj, err := loader.Load(ctx, object.Ref{Num: num, Gen: genOf(table, num)})
		if err != nil {
			continue
		}
		d, ok := obj.(*object.DictObj)
		if !ok {
			continue
		}
		if t, ok := d.Get(object.NameLiteral("Type")); ok {
			if n, ok := t.(object.Name); ok && n.Value() == "Catalog" {
				return d, nil
			}
		}
	}
	return nil, errors.New("no document catalog found")
}

func genOf(table xref.Table, num int) int {
	if e, ok := table.Lookup(num); ok {
		return e.Gen
	}
	return 0
}

func (p *DocumentParser) consult(ctx context.Context, err error, component string) recovery.Action {
	if p.cfg.Recovery == nil {
		return recovery.ActionFail
	}
	return p.cfg.Recovery.OnError(ctx, err, recovery.Location{Component: component})
}

// letterMediaBox stands in when no ancestor defines one.
var letterMediaBox = coords.Rect{URX: 612, URY: 792}

type inherited struct {
	resources *object.DictObj
	mediaBox  *coords.Rect
	cropBox   *coords.Rect
	rotate    *int
}

const maxPageTreeDepth = 64

func (p *DocumentParser) collectPages(ctx context.Context, loader Loader, catalog *object.DictObj) ([]Page, error) {
	pagesObj, ok := catalog.Get(object.NameLiteral("Pages"))
	if !ok {
		err := errors.New("catalog has no Pages")
		if act := p.consult(ctx, err, recovery.ComponentPageTree); act == recovery.ActionFail {
			return nil, err
		}
		return nil, nil
	}
	resolve := loader.Resolver(ctx)
	rootObj, err := resolve(pagesObj)
	if err != nil {
		return nil, fmt.Errorf("page tree root: %w", err)
	}
	root, ok := rootObj.(*object.DictObj)
	if !ok {
		return nil, fmt.Errorf("page tree root is %T", rootObj)
	}

	rootRef, _ := pagesObj.(object.RefObj)
	var pages []Page
	visited := make(map[object.Ref]bool)
	if err := p.walkPageTree(ctx, resolve, root, rootRef.R, inherited{}, visited, 0, &pages); err != nil {
		return nil, err
	}

	if countObj, ok := root.Get(object.NameLiteral("Count")); ok {
		if n, ok := countObj.(object.Number); ok && int(n.Int()) != len(pages) {
			p.log.Warn("page tree count mismatch",
				observability.Int64("declared", n.Int()),
				observability.Int("found", len(pages)))
		}
	}
	return pages, nil
}

func (p *DocumentParser) walkPageTree(ctx context.Context, resolve object.Resolver, node *object.DictObj, ref object.Ref, inh inherited, visited map[object.Ref]bool, depth int, out *[]Page) error {
	if depth > maxPageTreeDepth {
		return fmt.Errorf("page tree deeper than %d", maxPageTreeDepth)
	}
	if ref != (object.Ref{}) {
		if visited[ref] {
			return fmt.Errorf("page tree cycles at object %d", ref.Num)
		}
		visited[ref] = true
	}

	inh = p.absorb(resolve, node, inh)

	kidsObj, hasKids := node.Get(object.NameLiteral("Kids"))
	typeName := dictType(node)
	if typeName == "Page" || (!hasKids && typeName != "Pages") {
		*out = append(*out, p.makePage(node, ref, inh))
		return nil
	}

	kidsResolved, err := resolve(kidsObj)
	if err != nil {
		return p.skipOrFail(ctx, fmt.Errorf("page tree kids: %w", err), ref)
	}
	kids, ok := kidsResolved.(*object.ArrayObj)
	if !ok {
		return p.skipOrFail(ctx, fmt.Errorf("page tree kids is %T", kidsResolved), ref)
	}
	for _, kid := range kids.Items {
		kidRef, _ := kid.(object.RefObj)
		kidObj, err := resolve(kid)
		if err != nil {
			if err := p.skipOrFail(ctx, fmt.Errorf("page tree kid: %w", err), kidRef.R); err != nil {
				return err
			}
			continue
		}
		kidDict, ok := kidObj.(*object.DictObj)
		if !ok {
			if err := p.skipOrFail(ctx, fmt.Errorf("page tree kid is %T", kidObj), kidRef.R); err != nil {
				return err
			}
			continue
		}
		if err := p.walkPageTree(ctx, resolve, kidDict, kidRef.R, inh, visited, depth+1, out); err != nil {
			return err
		}
	}
	return nil
}

// skipOrFail drops a broken subtree when the recovery strategy
// tolerates it.
func (p *DocumentParser) skipOrFail(ctx context.Context, err error, ref object.Ref) error {
	if p.cfg.Recovery != nil {
		loc := recovery.Location{ObjectNum: ref.Num, ObjectGen: ref.Gen, Component: recovery.ComponentPageTree}
		if act := p.cfg.Recovery.OnError(ctx, err, loc); act != recovery.ActionFail {
			p.log.Warn("skipping broken page tree node",
				observability.String("object", ref.String()),
				observability.Error("error", err))
			return nil
		}
	}
	return err
}

// absorb copies the inheritable page attributes present on node.
func (p *DocumentParser) absorb(resolve object.Resolver, node *object.DictObj, inh inherited) inherited {
	if v, ok := node.Get(object.NameLiteral("Resources")); ok {
		if d, ok := resolveDict(resolve, v); ok {
			inh.resources = d
		}
	}
	if r, ok := rectEntry(resolve, node, "MediaBox"); ok {
		inh.mediaBox = &r
	}
	if r, ok := rectEntry(resolve, node, "CropBox"); ok {
		inh.cropBox = &r
	}
	if v, ok := node.Get(object.NameLiteral("Rotate")); ok {
		if resolved, err := resolve(v); err == nil {
			if n, ok := resolved.(object.Number); ok {
				rot := normalizeRotation(int(n.Int()))
				inh.rotate = &rot
			}
		}
	}
	return inh
}

func (p *DocumentParser) makePage(node *object.DictObj, ref object.Ref, inh inherited) Page {
	page := Page{Ref: ref, Dict: node, MediaBox: letterMediaBox}
	if inh.mediaBox != nil && !inh.mediaBox.Empty() {
		page.MediaBox = *inh.mediaBox
	}
	page.CropBox = page.MediaBox
	if inh.cropBox != nil {
		if crop := inh.cropBox.Intersect(page.MediaBox); !crop.Empty() {
			page.CropBox = crop
		}
	}
	if inh.rotate != nil {
		page.Rotate = *inh.rotate
	}
	page.Resources = inh.resources
	return page
}

func dictType(d *object.DictObj) string {
	if v, ok := d.Get(object.NameLiteral("Type")); ok {
		if n, ok := v.(object.Name); ok {
			return n.Value()
		}
	}
	return ""
}

func resolveDict(resolve object.Resolver, v object.Object) (*object.DictObj, bool) {
	resolved, err := resolve(v)
	if err != nil {
		return nil, false
	}
	d, ok := resolved.(*object.DictObj)
	return d, ok
}

func rectEntry(resolve object.Resolver, d *object.DictObj, key string) (coords.Rect, bool) {
	v, ok := d.Get(object.NameLiteral(key))
	if !ok {
		return coords.Rect{}, false
	}
	resolved, err := resolve(v)
	if err != nil {
		return coords.Rect{}, false
	}
	arr, ok := resolved.(*object.ArrayObj)
	if !ok || arr.Len() != 4 {
		return coords.Rect{}, false
	}
	var n [4]float64
	for i, item := range arr.Items {
		r, err := resolve(item)
		if err != nil {
			return coords.Rect{}, false
		}
		num, ok := r.(object.Number)
		if !ok {
			return coords.Rect{}, false
		}
		n[i] = num.Float()
	}
	return coords.RectFromCorners(n[0], n[1], n[2], n[3]), true
}

// normalizeRotation clamps to a multiple of ninety in [0, 270].
func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg / 90 * 90
}

func (p *DocumentParser) populateMetadata(ctx context.Context, loader Loader, doc *Document) {
	infoObj, ok := doc.Trailer.Get(object.NameLiteral("Info"))
	if !ok {
		return
	}
	resolved, err := loader.Resolver(ctx)(infoObj)
	if err != nil {
		p.log.Warn("info dictionary unreadable", observability.Error("error", err))
		return
	}
	info, ok := resolved.(*object.DictObj)
	if !ok {
		return
	}
	text := func(key string) string {
		if v, ok := info.Get(object.NameLiteral(key)); ok {
			if s, ok := v.(object.String); ok {
				return DecodeTextString(s.Value())
			}
		}
		return ""
	}
	md := Metadata{
		Title:    text("Title"),
		Author:   text("Author"),
		Subject:  text("Subject"),
		Creator:  text("Creator"),
		Producer: text("Producer"),
	}
	if kw := text("Keywords"); kw != "" {
		for _, part := range strings.Split(kw, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				md.Keywords = append(md.Keywords, trimmed)
			}
		}
	}
	if v := text("CreationDate"); v != "" {
		if t, ok := ParseDate(v); ok {
			md.CreationDate = t
		}
	}
	if v := text("ModDate"); v != "" {
		if t, ok := ParseDate(v); ok {
			md.ModDate = t
		}
	}
	doc.Meta = md
}

// headerVersion reads the %PDF-N.M comment, tolerating leading junk
// within the first kilobyte.
func headerVersion(r io.ReaderAt) string {
	buf := make([]byte, 1024)
	n, err := r.ReadAt(buf, 0)
	if n == 0 && err != nil {
		return ""
	}
	head := string(buf[:n])
	idx := strings.Index(head, "%PDF-")
	if idx < 0 {
		return ""
	}
	rest := head[idx+5:]
	end := strings.IndexAny(rest, "\r\n \t")
	if end < 0 {
		end = len(rest)
	}
	return strings.TrimSpace(rest[:end])
}

func catalogVersion(catalog *object.DictObj) string {
	if catalog == nil {
		return ""
	}
	if v, ok := catalog.Get(object.NameLiteral("Version")); ok {
		if n, ok := v.(object.Name); ok {
			return n.Value()
		}
	}
	return ""
}

// versionLess compares "major.minor" strings numerically.
func versionLess(a, b string) bool {
	pa, oka := parseVersion(a)
	pb, okb := parseVersion(b)
	if !oka || !okb {
		return false
	}
	return pa < pb
}

func parseVersion(v string) (int, bool) {
	parts := strings.SplitN(v, ".", 2)
	if len(parts) != 2 {
		return 0, false
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return major*100 + minor, true
}
