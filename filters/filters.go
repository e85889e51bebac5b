package filters

import (
	"context"
	"errors"
	"fmt"

	"github.com/wudi/pdfdoc/object"
)

type Decoder interface {
	Name() string
	Decode(ctx context.Context, input []byte, params object.Dictionary) ([]byte, error)
}

type Limits struct {
	// MaxDecompressedSize bounds the output of every pipeline stage.
	// Zero means no limit.
	MaxDecompressedSize int64
	// MaxChainLength bounds the number of chained filters. Zero means 8.
	MaxChainLength int
}

// DefaultLimits are safe for untrusted input.
func DefaultLimits() Limits {
	return Limits{
		MaxDecompressedSize: 256 << 20,
		MaxChainLength:      8,
	}
}

type Pipeline struct {
	registry Registry
	limits   Limits
}

// NewPipeline constructs a pipeline with the provided decoders and limits.
func NewPipeline(decoders []Decoder, limits Limits) *Pipeline {
	p := &Pipeline{limits: limits}
	for _, d := range decoders {
		p.registry.Register(d)
	}
	return p
}

// Register adds or replaces a decoder. Engines use this to plug in
// decoders beyond the stock set.
func (p *Pipeline) Register(d Decoder) { p.registry.Register(d) }

// NewDefaultPipeline covers the standard non-image filters plus terminal
// passthroughs for compressed image data.
func NewDefaultPipeline(limits Limits) *Pipeline {
	return NewPipeline(DefaultDecoders(limits), limits)
}

// DefaultDecoders returns the stock decoder set, size-capped by limits.
func DefaultDecoders(limits Limits) []Decoder {
	return []Decoder{
		NewFlateDecoder(limits),
		NewLZWDecoder(limits),
		NewASCIIHexDecoder(),
		NewASCII85Decoder(),
		NewRunLengthDecoder(limits),
		NewCCITTFaxDecoder(limits),
		NewDCTDecoder(),
		NewJPXDecoder(),
		NewCryptDecoder(),
	}
}

// Decode runs input through the named filters in order. params aligns with
// filterNames positionally; missing entries mean no parameters.
func (p *Pipeline) Decode(ctx context.Context, input []byte, filterNames []string, params []object.Dictionary) ([]byte, error) {
	maxChain := p.limits.MaxChainLength
	if maxChain == 0 {
		maxChain = 8
	}
	if len(filterNames) > maxChain {
		return nil, fmt.Errorf("filter chain of %d exceeds limit %d", len(filterNames), maxChain)
	}
	data := input
	for i, name := range filterNames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dec, ok := p.registry.Get(name)
		if !ok {
			return nil, errors.New("unknown filter: " + name)
		}
		var param object.Dictionary
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(ctx, data, param)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, errors.New("decompressed size exceeds limit")
		}
		data = out
	}
	return data, nil
}

// Registry maps filter names to decoders. The zero value is ready to use.
type Registry struct{ decoders map[string]Decoder }

func (r *Registry) Register(d Decoder) {
	if r.decoders == nil {
		r.decoders = make(map[string]Decoder)
	}
	r.decoders[d.Name()] = d
}

func (r *Registry) Get(name string) (Decoder, bool) { d, ok := r.decoders[name]; return d, ok }
