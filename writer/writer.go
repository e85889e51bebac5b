// Package writer serializes parsed documents back to PDF syntax. Its
// product is a fresh single-revision copy of an existing document:
// every live object rewritten in clear text under a classic
// cross-reference table, with the source's encryption, incremental
// updates, and object streams flattened away.
package writer

import (
	"context"
	"io"

	"github.com/wudi/pdfdoc/object"
	"github.com/wudi/pdfdoc/observability"
	"github.com/wudi/pdfdoc/parser"
)

// Config tunes output. The zero value keeps the source document's
// version.
type Config struct {
	// Version overrides the header version, as "1.7".
	Version string
}

// Interceptor observes indirect objects on their way to the output.
type Interceptor interface {
	BeforeObject(ctx context.Context, ref object.Ref, obj object.Object) error
	AfterObject(ctx context.Context, ref object.Ref, written int64) error
}

type Writer interface {
	// WriteDocument copies doc to out and reports the bytes written.
	WriteDocument(ctx context.Context, doc *parser.Document, out io.Writer) (int64, error)
	// SerializeObject renders a single indirect object.
	SerializeObject(ref object.Ref, obj object.Object) ([]byte, error)
}

type Builder struct {
	cfg          Config
	log          observability.Logger
	interceptors []Interceptor
}

func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) WithConfig(cfg Config) *Builder             { b.cfg = cfg; return b }
func (b *Builder) WithLogger(l observability.Logger) *Builder { b.log = l; return b }

func (b *Builder) WithInterceptor(i Interceptor) *Builder {
	b.interceptors = append(b.interceptors, i)
	return b
}

func (b *Builder) Build() Writer {
	log := b.log
	if log == nil {
		log = observability.NopLogger{}
	}
	return &docWriter{cfg: b.cfg, log: log, interceptors: b.interceptors}
}
