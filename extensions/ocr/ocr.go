//go:build cgo

// Package ocr recognizes text in the raster images of a document's
// pages. It feeds the images the extractor decodes, re-encoded as PNG,
// to a pluggable recognition engine; the Tesseract-backed engine in
// this package is the default choice.
package ocr

import (
	"context"
	"fmt"
	"image"

	"github.com/wudi/pdfdoc/document"
)

// Options carries recognition hints shared by every engine.
type Options struct {
	// Languages lists trained-data hints, for example "eng", "deu".
	Languages []string
	// DPI is the effective resolution of the source image; zero means
	// unknown and leaves the engine's heuristics alone.
	DPI int
	// Variables passes engine-specific knobs through uninterpreted,
	// for example Tesseract's "psm".
	Variables map[string]string
}

// Word is one recognized token with its pixel bounds.
type Word struct {
	Text       string
	Bounds     image.Rectangle
	Confidence float64
}

// Result is the recognition outcome for one page image.
type Result struct {
	Page       int
	ImageName  string
	Text       string
	Words      []Word
	Confidence float64
}

// Engine turns an encoded PNG into text.
type Engine interface {
	Recognize(ctx context.Context, png []byte, opts Options) (Result, error)
}

// PageResults recognizes every decodable image on the page, in
// resource-name order. Images the extractor could not decode, such as
// JPXDecode payloads, are skipped.
func PageResults(ctx context.Context, page *document.Page, eng Engine, opts Options) ([]Result, error) {
	if eng == nil {
		return nil, fmt.Errorf("ocr: engine is required")
	}
	imgs, err := page.Images(ctx)
	if err != nil {
		return nil, err
	}
	return recognizeImages(ctx, eng, page.Index(), imgs, opts)
}

// DocumentResults runs OCR across all pages using transient page
// handles, so the document's retention cache is left untouched.
func DocumentResults(ctx context.Context, doc *document.Document, eng Engine, opts Options) ([]Result, error) {
	if eng == nil {
		return nil, fmt.Errorf("ocr: engine is required")
	}
	var out []Result
	for index := 0; index < doc.PageCount(); index++ {
		page, err := doc.GetPage(ctx, index, false)
		if err != nil {
			return nil, err
		}
		results, err := PageResults(ctx, page, eng, opts)
		cerr := page.Close()
		if err != nil {
			return nil, fmt.Errorf("ocr: page %d: %w", index, err)
		}
		if cerr != nil {
			return nil, cerr
		}
		out = append(out, results...)
	}
	return out, nil
}

func recognizeImages(ctx context.Context, eng Engine, pageIndex int, imgs []document.PageImage, opts Options) ([]Result, error) {
	var out []Result
	for _, im := range imgs {
		if im.Image == nil {
			continue
		}
		png, err := im.PNG()
		if err != nil {
			return nil, fmt.Errorf("ocr: encode %s: %w", im.Name, err)
		}
		res, err := eng.Recognize(ctx, png, opts)
		if err != nil {
			return nil, fmt.Errorf("ocr: recognize %s: %w", im.Name, err)
		}
		res.Page = pageIndex
		res.ImageName = im.Name
		out = append(out, res)
	}
	return out, nil
}
