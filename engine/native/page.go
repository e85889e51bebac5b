package native

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"github.com/wudi/pdfdoc/document"
	"github.com/wudi/pdfdoc/parser"
)

// maxRenderEdge caps the rendered canvas so a hostile MediaBox or a
// huge DPI cannot allocate without bound.
const maxRenderEdge = 16384

type enginePage struct {
	doc   *engineDoc
	page  parser.Page
	index int
}

func (p *enginePage) Index() int { return p.index }

// Size returns the visible page area, the CropBox clamped into the
// MediaBox, in PDF units.
func (p *enginePage) Size() (float64, float64) {
	return p.page.CropBox.Width(), p.page.CropBox.Height()
}

func (p *enginePage) Rotation() int { return p.page.Rotate }

func (p *enginePage) Close() error { return nil }

// Render produces the page canvas at the requested scale with rotation
// applied to the geometry. Content is not painted; the result is the
// correctly sized white canvas, which callers use for dimensioning and
// compositing.
func (p *enginePage) Render(ctx context.Context, opts document.RenderOptions) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scale := opts.Scale
	if opts.DPI > 0 {
		scale = opts.DPI / 72
	}
	if scale <= 0 {
		scale = 1
	}
	w, h := p.Size()
	if p.page.Rotate == 90 || p.page.Rotate == 270 {
		w, h = h, w
	}
	pw := int(math.Ceil(w * scale))
	ph := int(math.Ceil(h * scale))
	if pw < 1 {
		pw = 1
	}
	if ph < 1 {
		ph = 1
	}
	if pw > maxRenderEdge || ph > maxRenderEdge {
		return nil, fmt.Errorf("native: render size %dx%d exceeds %d", pw, ph, maxRenderEdge)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, pw, ph))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	if fw, fh, ok := fitInto(pw, ph, opts.MaxWidth, opts.MaxHeight); ok {
		fitted := image.NewRGBA(image.Rect(0, 0, fw, fh))
		draw.ApproxBiLinear.Scale(fitted, fitted.Bounds(), canvas, canvas.Bounds(), draw.Src, nil)
		return fitted, nil
	}
	return canvas, nil
}

// fitInto shrinks w x h to the given bounds preserving aspect ratio.
// ok is false when no bound applies or the size already fits.
func fitInto(w, h, maxW, maxH int) (int, int, bool) {
	if maxW <= 0 && maxH <= 0 {
		return w, h, false
	}
	ratio := 1.0
	if maxW > 0 && w > maxW {
		ratio = float64(maxW) / float64(w)
	}
	if maxH > 0 && h > maxH {
		if r := float64(maxH) / float64(h); r < ratio {
			ratio = r
		}
	}
	if ratio >= 1 {
		return w, h, false
	}
	fw := int(math.Floor(float64(w) * ratio))
	fh := int(math.Floor(float64(h) * ratio))
	if fw < 1 {
		fw = 1
	}
	if fh < 1 {
		fh = 1
	}
	return fw, fh, true
}

func (p *enginePage) Text(ctx context.Context) (string, error) {
	return p.doc.ex.PageText(ctx, p.index)
}

func (p *enginePage) Images(ctx context.Context) ([]document.PageImage, error) {
	return p.doc.ex.PageImages(ctx, p.index)
}

var (
	_ document.EnginePage    = (*enginePage)(nil)
	_ document.Renderer      = (*enginePage)(nil)
	_ document.TextProvider  = (*enginePage)(nil)
	_ document.ImageProvider = (*enginePage)(nil)
)
