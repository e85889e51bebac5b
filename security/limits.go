package security

import "time"

// Limits bounds resource use while parsing untrusted documents. Engines
// translate these into the scanner, filter and parser configurations,
// which keeps compression bombs and deep reference cycles from
// exhausting memory or wall clock time.
type Limits struct {
	// Maximum decompressed stream size. Default: 256 MB.
	MaxDecompressedSize int64

	// Maximum number of chained stream filters. Default: 8.
	MaxFilterChain int

	// Maximum string token length. Default: 10 MB.
	MaxStringLength int64

	// Maximum raw stream length. Default: 50 MB.
	MaxStreamLength int64

	// Maximum array nesting depth. Default: 512.
	MaxArrayDepth int

	// Maximum dictionary nesting depth. Default: 512.
	MaxDictDepth int

	// Maximum indirect reference resolution depth. Default: 100.
	MaxIndirectDepth int

	// Maximum cross-reference chain length (Prev entries). Default: 50.
	MaxXRefDepth int

	// Maximum XObject nesting depth during image walks. Default: 20.
	MaxXObjectDepth int

	// Maximum total document open time. Default: 5m.
	MaxParseTime time.Duration
}

// DefaultLimits returns limits safe for untrusted input.
func DefaultLimits() Limits {
	return Limits{
		MaxDecompressedSize: 256 << 20,
		MaxFilterChain:      8,
		MaxStringLength:     10 << 20,
		MaxStreamLength:     50 << 20,
		MaxArrayDepth:       512,
		MaxDictDepth:        512,
		MaxIndirectDepth:    100,
		MaxXRefDepth:        50,
		MaxXObjectDepth:     20,
		MaxParseTime:        5 * time.Minute,
	}
}
