// Package document is the lifecycle facade over a pluggable PDF engine.
//
// A Document is loaded from an fdio.FileReader, whose descriptor it then
// owns, and hands out Page handles with shared ownership: the retention
// cache and every caller each hold one reference, and the engine page is
// released when the last reference is closed. Engines plug in behind
// small interfaces; optional features surface through capability
// type-assertions, so a minimal engine stays minimal.
package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/wudi/pdfdoc/fdio"
	"github.com/wudi/pdfdoc/observability"
	"github.com/wudi/pdfdoc/recovery"
	"github.com/wudi/pdfdoc/security"
)

// Status is the tri-state outcome of a load attempt.
type Status int

const (
	StatusLoaded Status = iota
	StatusPasswordRequired
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoaded:
		return "loaded"
	case StatusPasswordRequired:
		return "password_required"
	default:
		return "error"
	}
}

// StatusOf maps a Load error back to the tri-state.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusLoaded
	case errors.Is(err, ErrPasswordRequired):
		return StatusPasswordRequired
	default:
		return StatusError
	}
}

var (
	// ErrPasswordRequired covers both an encrypted file opened without a
	// password and a wrong password. Re-prompting is caller policy.
	ErrPasswordRequired = errors.New("document: password required")
	ErrClosed           = errors.New("document: closed")
	ErrPageOutOfRange   = errors.New("document: page index out of range")
	ErrPageReleased     = errors.New("document: page already released")
	ErrNoEngine         = errors.New("document: no engine registered")
	ErrUnsupported      = errors.New("document: operation not supported by engine")
)

// Options configures a load.
type Options struct {
	// Password decrypts protected files. Empty tries the empty user
	// password, which many protected files accept.
	Password string

	// KeepSourceOnFailure leaves the source open when Load fails. The
	// zero value closes it, so the common call site cannot leak a
	// descriptor.
	KeepSourceOnFailure bool

	// Engine overrides the registered default.
	Engine Engine

	Logger   observability.Logger
	Recovery recovery.Strategy
	Limits   security.Limits
}

// Metadata is the document information dictionary in engine-neutral
// form.
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

// Document owns an open file and the engine state parsed from it.
// All methods are safe for concurrent use.
type Document struct {
	mu       sync.Mutex
	src      *fdio.FileReader
	engine   EngineDocument
	log      observability.Logger
	retained map[int]*Page
	pages    int
	stats    counters
	closed   bool
}

// counters accumulates page and cache activity for Stats.
type counters struct {
	pagesOpened int64
	pagesClosed int64
	cacheHits   int64
	cacheMisses int64
}

// Load opens a document through an engine. It consumes src: on success
// the Document owns it, on failure it is closed unless
// opts.KeepSourceOnFailure is set. Engine password failures map to
// ErrPasswordRequired so callers can distinguish the tri-state with
// StatusOf.
func Load(ctx context.Context, src *fdio.FileReader, opts Options) (*Document, error) {
	if src == nil {
		return nil, errors.New("document: nil source")
	}
	log := opts.Logger
	if log == nil {
		log = observability.NopLogger{}
	}
	eng := opts.Engine
	if eng == nil {
		eng = DefaultEngine()
	}
	if eng == nil {
		if !opts.KeepSourceOnFailure {
			src.Close()
		}
		return nil, ErrNoEngine
	}

	limits := opts.Limits
	if limits == (security.Limits{}) {
		limits = security.DefaultLimits()
	}
	if limits.MaxParseTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limits.MaxParseTime)
		defer cancel()
	}

	start := time.Now()
	edoc, err := eng.Open(ctx, src, src.Size(), EngineOptions{
		Password: opts.Password,
		Logger:   log,
		Recovery: opts.Recovery,
		Limits:   limits,
	})
	if err != nil {
		if !opts.KeepSourceOnFailure {
			src.Close()
		}
		if errors.Is(err, security.ErrInvalidPassword) && !errors.Is(err, ErrPasswordRequired) {
			err = fmt.Errorf("%w: %w", ErrPasswordRequired, err)
		}
		log.Debug("load failed", observability.String("status", StatusOf(err).String()), observability.Error("err", err))
		return nil, err
	}

	log.Debug("document loaded",
		observability.Int("pages", edoc.PageCount()),
		observability.Duration(observability.MetricLoadTime, time.Since(start)))
	return &Document{
		src:      src,
		engine:   edoc,
		log:      log,
		retained: make(map[int]*Page),
		pages:    edoc.PageCount(),
	}, nil
}

// PageCount returns the number of pages, zero once closed.
func (d *Document) PageCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0
	}
	return d.engine.PageCount()
}

// GetPage returns a handle for the zero-based page index.
//
// With retain=true the handle is cached per index and later retained
// calls return the identical *Page, each holding one more reference.
// With retain=false the engine loads a fresh page every time and the
// cache is never consulted, so a retained handle for the same index is
// unaffected. Every returned handle must be balanced by exactly one
// Close.
func (d *Document) GetPage(ctx context.Context, index int, retain bool) (*Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if n := d.engine.PageCount(); index < 0 || index >= n {
		return nil, fmt.Errorf("%w: index %d of %d", ErrPageOutOfRange, index, n)
	}
	if retain {
		if p, ok := d.retained[index]; ok {
			d.stats.cacheHits++
			p.refs++
			return p, nil
		}
		d.stats.cacheMisses++
	}
	ep, err := d.engine.Page(ctx, index)
	if err != nil {
		return nil, err
	}
	d.stats.pagesOpened++
	p := &Page{doc: d, engine: ep, index: index, refs: 1}
	if retain {
		p.refs++ // the cache's reference
		d.retained[index] = p
	}
	return p, nil
}

// Stats reports page and cache activity keyed by the
// observability.Metric* names. The retained count is the current cache
// size; the other counters only grow.
func (d *Document) Stats() map[string]int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return map[string]int64{
		observability.MetricPageCount:     int64(d.pages),
		observability.MetricPagesOpened:   d.stats.pagesOpened,
		observability.MetricPagesClosed:   d.stats.pagesClosed,
		observability.MetricCacheHits:     d.stats.cacheHits,
		observability.MetricCacheMisses:   d.stats.cacheMisses,
		observability.MetricRetainedPages: int64(len(d.retained)),
	}
}

// ReleasePage drops the retention cache's reference for the index and
// reports whether a cached handle existed. Callers still holding the
// handle keep it alive until their own Close.
func (d *Document) ReleasePage(index int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	p, ok := d.retained[index]
	if !ok {
		return false
	}
	delete(d.retained, index)
	p.refs--
	if p.refs == 0 {
		d.stats.pagesClosed++
		if err := p.engine.Close(); err != nil {
			d.log.Warn("page close", observability.Int("index", index), observability.Error("err", err))
		}
	}
	return true
}

// Close releases every cached page, the engine document, and the
// source descriptor. It is idempotent. Pages still held by callers are
// invalidated: their operations, including Close, return ErrClosed
// afterwards.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for index, p := range d.retained {
		p.refs = 0
		d.stats.pagesClosed++
		if err := p.engine.Close(); err != nil {
			d.log.Warn("page close", observability.Int("index", index), observability.Error("err", err))
		}
		delete(d.retained, index)
	}
	err := d.engine.Close()
	if cerr := d.src.Close(); err == nil {
		err = cerr
	}
	return err
}

// Metadata returns the document information entries, zero when the
// engine does not expose them or the document is closed.
func (d *Document) Metadata() Metadata {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Metadata{}
	}
	if m, ok := d.engine.(MetadataProvider); ok {
		return m.Metadata()
	}
	return Metadata{}
}

// Encrypted reports whether the file carries an encryption dictionary.
func (d *Document) Encrypted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	if p, ok := d.engine.(PermissionsProvider); ok {
		return p.Encrypted()
	}
	return false
}

// Permissions returns the access permissions granted by the file's
// encryption dictionary. Unencrypted files and engines without the
// capability report everything allowed.
func (d *Document) Permissions() security.Permissions {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return security.Permissions{}
	}
	if p, ok := d.engine.(PermissionsProvider); ok {
		return p.Permissions()
	}
	return security.AllPermissions()
}

// Version returns the file format version, for example "1.7".
func (d *Document) Version() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ""
	}
	if v, ok := d.engine.(VersionProvider); ok {
		return v.Version()
	}
	return ""
}

// SaveCopy writes a decrypted, flattened copy of the document to w.
// Engines without the capability return ErrUnsupported.
func (d *Document) SaveCopy(ctx context.Context, w io.Writer) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	saver, ok := d.engine.(CopySaver)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: save copy", ErrUnsupported)
	}
	return saver.SaveCopy(ctx, w)
}
