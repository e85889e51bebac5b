// Package extractor pulls text and images out of parsed pages.
//
// An Extractor wraps a parser.Document and walks page content streams
// and resource dictionaries on demand. ToUnicode font maps are parsed
// once per font object and cached, so extracting text from many pages
// that share a font set does not re-read the maps.
package extractor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wudi/pdfdoc/object"
	"github.com/wudi/pdfdoc/parser"
)

// Extractor reads text and images from the pages of a parsed document.
// It is safe for concurrent use.
type Extractor struct {
	doc *parser.Document

	mu        sync.Mutex
	fontCache map[object.Ref]*fontDecoder
}

// New wraps a parsed document.
func New(doc *parser.Document) (*Extractor, error) {
	if doc == nil {
		return nil, errors.New("extractor: parsed document is required")
	}
	return &Extractor{doc: doc, fontCache: make(map[object.Ref]*fontDecoder)}, nil
}

func (e *Extractor) page(index int) (parser.Page, error) {
	p, ok := e.doc.Page(index)
	if !ok {
		return parser.Page{}, fmt.Errorf("extractor: page %d out of range", index)
	}
	return p, nil
}

// resolvedDict resolves a dictionary entry that may be indirect.
func resolvedDict(resolve object.Resolver, d object.Dictionary, key string) *object.DictObj {
	if d == nil {
		return nil
	}
	v, ok := d.Get(object.NameLiteral(key))
	if !ok {
		return nil
	}
	r, err := resolve(v)
	if err != nil {
		return nil
	}
	dict, _ := r.(*object.DictObj)
	return dict
}

func resolvedInt(resolve object.Resolver, d object.Dictionary, key string, def int) int {
	v, ok := d.Get(object.NameLiteral(key))
	if !ok {
		return def
	}
	r, err := resolve(v)
	if err != nil {
		return def
	}
	if n, ok := r.(object.Number); ok {
		return int(n.Int())
	}
	return def
}
