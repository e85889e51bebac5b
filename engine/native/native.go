// Package native is the pure-Go engine behind the document facade. A
// blank import registers it under the name "native":
//
//	import _ "github.com/wudi/pdfdoc/engine/native"
//
// Open parses the file with the in-module parser (header sniff, xref
// resolution with repair under a lenient strategy, security handler
// selection, lazy object loading, page tree walk) and surfaces the
// optional capabilities: metadata, permissions, version, decrypted
// copies through the writer, and per-page text, images and
// geometry-only rendering.
package native

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfdoc/document"
	"github.com/wudi/pdfdoc/extractor"
	"github.com/wudi/pdfdoc/observability"
	"github.com/wudi/pdfdoc/parser"
	"github.com/wudi/pdfdoc/security"
	"github.com/wudi/pdfdoc/writer"
)

func init() {
	document.RegisterEngine("native", Engine{})
}

// ErrCopyDenied reports that the file's permissions forbid saving a
// copy of an encrypted document.
var ErrCopyDenied = errors.New("native: file permissions deny saving a copy")

// Engine parses documents with the in-module parser. The zero value is
// ready to use.
type Engine struct{}

func (Engine) Open(ctx context.Context, src io.ReaderAt, size int64, opts document.EngineOptions) (document.EngineDocument, error) {
	log := opts.Logger
	if log == nil {
		log = observability.NopLogger{}
	}
	doc, err := parser.NewDocumentParser(parser.Config{
		Password: opts.Password,
		Limits:   opts.Limits,
		Recovery: opts.Recovery,
		Logger:   log,
	}).Parse(ctx, src, size)
	if err != nil {
		return nil, err
	}
	ex, err := extractor.New(doc)
	if err != nil {
		return nil, err
	}
	return &engineDoc{doc: doc, ex: ex, log: log}, nil
}

type engineDoc struct {
	doc *parser.Document
	ex  *extractor.Extractor
	log observability.Logger
}

func (d *engineDoc) PageCount() int { return d.doc.NumPages() }

func (d *engineDoc) Page(ctx context.Context, index int) (document.EnginePage, error) {
	p, ok := d.doc.Page(index)
	if !ok {
		return nil, fmt.Errorf("native: page %d out of range", index)
	}
	return &enginePage{doc: d, page: p, index: index}, nil
}

// Close is a no-op: the parsed document holds no descriptor of its
// own, and the byte source belongs to the caller.
func (d *engineDoc) Close() error { return nil }

func (d *engineDoc) Metadata() document.Metadata {
	m := d.doc.Meta
	return document.Metadata{
		Title:        m.Title,
		Author:       m.Author,
		Subject:      m.Subject,
		Keywords:     m.Keywords,
		Creator:      m.Creator,
		Producer:     m.Producer,
		CreationDate: m.CreationDate,
		ModDate:      m.ModDate,
	}
}

func (d *engineDoc) Encrypted() bool { return d.doc.Encrypted }

func (d *engineDoc) Permissions() security.Permissions {
	if !d.doc.Encrypted {
		return security.AllPermissions()
	}
	return d.doc.Permissions
}

func (d *engineDoc) Version() string { return d.doc.Version }

// SaveCopy writes a decrypted single-revision copy. Encrypted files
// whose permissions withhold content copying are refused.
func (d *engineDoc) SaveCopy(ctx context.Context, w io.Writer) error {
	if d.doc.Encrypted && !d.doc.Permissions.Copy {
		return ErrCopyDenied
	}
	_, err := writer.NewBuilder().WithLogger(d.log).Build().WriteDocument(ctx, d.doc, w)
	return err
}

var (
	_ document.Engine              = Engine{}
	_ document.EngineDocument      = (*engineDoc)(nil)
	_ document.MetadataProvider    = (*engineDoc)(nil)
	_ document.PermissionsProvider = (*engineDoc)(nil)
	_ document.VersionProvider     = (*engineDoc)(nil)
	_ document.CopySaver           = (*engineDoc)(nil)
)
