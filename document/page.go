package document

import (
	"context"
	"fmt"
	"image"
)

// Page is a shared-ownership handle onto one engine page. The same
// *Page may be held by the retention cache and several callers at
// once; each holder owes exactly one Close, and the engine page is
// released when the last reference drops.
type Page struct {
	doc    *Document
	engine EnginePage
	index  int
	refs   int // guarded by doc.mu
}

// Index returns the zero-based page index. It stays valid after Close.
func (p *Page) Index() int { return p.index }

func (p *Page) alive() error {
	p.doc.mu.Lock()
	defer p.doc.mu.Unlock()
	if p.doc.closed {
		return ErrClosed
	}
	if p.refs <= 0 {
		return ErrPageReleased
	}
	return nil
}

// Size returns the page dimensions in PDF units, zero once the handle
// or its document is closed.
func (p *Page) Size() (float64, float64) {
	if p.alive() != nil {
		return 0, 0
	}
	return p.engine.Size()
}

// Rotation returns the page's normalized rotation in degrees.
func (p *Page) Rotation() int {
	if p.alive() != nil {
		return 0
	}
	return p.engine.Rotation()
}

// Render rasterizes the page. Engines without a renderer return
// ErrUnsupported.
func (p *Page) Render(ctx context.Context, opts RenderOptions) (image.Image, error) {
	if err := p.alive(); err != nil {
		return nil, err
	}
	r, ok := p.engine.(Renderer)
	if !ok {
		return nil, fmt.Errorf("%w: render", ErrUnsupported)
	}
	return r.Render(ctx, opts)
}

// Text extracts the page's text in stream order. Engines without a
// text provider return ErrUnsupported.
func (p *Page) Text(ctx context.Context) (string, error) {
	if err := p.alive(); err != nil {
		return "", err
	}
	t, ok := p.engine.(TextProvider)
	if !ok {
		return "", fmt.Errorf("%w: text", ErrUnsupported)
	}
	return t.Text(ctx)
}

// Images lists the image XObjects on the page. Engines without an
// image provider return ErrUnsupported.
func (p *Page) Images(ctx context.Context) ([]PageImage, error) {
	if err := p.alive(); err != nil {
		return nil, err
	}
	ip, ok := p.engine.(ImageProvider)
	if !ok {
		return nil, fmt.Errorf("%w: images", ErrUnsupported)
	}
	return ip.Images(ctx)
}

// Close drops this holder's reference. The engine page is released
// when the count reaches zero; closing more times than references were
// handed out returns ErrPageReleased. After the document closes, Close
// returns ErrClosed and the engine page is already gone.
func (p *Page) Close() error {
	p.doc.mu.Lock()
	defer p.doc.mu.Unlock()
	if p.doc.closed {
		return ErrClosed
	}
	if p.refs <= 0 {
		return ErrPageReleased
	}
	p.refs--
	if p.refs > 0 {
		return nil
	}
	p.doc.stats.pagesClosed++
	// An over-closed retained handle must not linger in the cache with
	// a dead engine page.
	if cached, ok := p.doc.retained[p.index]; ok && cached == p {
		delete(p.doc.retained, p.index)
	}
	return p.engine.Close()
}
