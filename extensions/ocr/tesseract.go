//go:build cgo

package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract recognizes text through the gosseract client. The zero
// value is not usable; construct with NewTesseract.
type Tesseract struct {
	// newClient exists so tests can substitute a stub.
	newClient func() *gosseract.Client
}

func NewTesseract() *Tesseract {
	return &Tesseract{newClient: gosseract.NewClient}
}

func (t *Tesseract) Recognize(ctx context.Context, png []byte, opts Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	c := t.newClient()
	defer c.Close()

	if err := c.SetImageFromBytes(png); err != nil {
		return Result{}, fmt.Errorf("set image: %w", err)
	}
	if len(opts.Languages) > 0 {
		if err := c.SetLanguage(opts.Languages...); err != nil {
			return Result{}, fmt.Errorf("set languages: %w", err)
		}
	}
	if opts.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(opts.DPI)); err != nil {
			return Result{}, fmt.Errorf("set dpi: %w", err)
		}
	}
	for k, v := range opts.Variables {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return Result{}, fmt.Errorf("set variable %s: %w", k, err)
		}
	}

	text, err := c.Text()
	if err != nil {
		return Result{}, fmt.Errorf("recognize: %w", err)
	}
	words, conf := boundingWords(c)
	return Result{
		Text:       strings.TrimSpace(text),
		Words:      words,
		Confidence: conf,
	}, nil
}

// boundingWords collects per-word boxes; recognition succeeds without
// them, so errors degrade to an empty list.
func boundingWords(c *gosseract.Client) ([]Word, float64) {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return nil, 0
	}
	words := make([]Word, 0, len(boxes))
	var sum float64
	for _, b := range boxes {
		conf := b.Confidence / 100.0
		sum += conf
		words = append(words, Word{
			Text:       b.Word,
			Bounds:     image.Rect(b.Box.Min.X, b.Box.Min.Y, b.Box.Max.X, b.Box.Max.Y),
			Confidence: conf,
		})
	}
	return words, sum / float64(len(words))
}

var _ Engine = (*Tesseract)(nil)
