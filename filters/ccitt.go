package filters

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"golang.org/x/image/ccitt"

	"github.com/wudi/pdfdoc/object"
)

// ccittFaxDecoder implements CCITTFaxDecode for Group 3 one-dimensional
// (K = 0) and Group 4 (K < 0) data. Mixed two-dimensional Group 3 (K > 0)
// is rejected.
type ccittFaxDecoder struct{ limits Limits }

func NewCCITTFaxDecoder(limits Limits) Decoder { return ccittFaxDecoder{limits: limits} }

func (ccittFaxDecoder) Name() string { return "CCITTFaxDecode" }

func (d ccittFaxDecoder) Decode(ctx context.Context, in []byte, params object.Dictionary) ([]byte, error) {
	k := dictInt(params, "K", 0)
	columns := int(dictInt(params, "Columns", 1728))
	rows := int(dictInt(params, "Rows", 0))
	blackIs1 := dictBool(params, "BlackIs1", false)
	byteAlign := dictBool(params, "EncodedByteAlign", false)

	var sf ccitt.SubFormat
	switch {
	case k < 0:
		sf = ccitt.Group4
	case k == 0:
		sf = ccitt.Group3
	default:
		return nil, fmt.Errorf("CCITT K=%d (mixed 2D group 3) not supported", k)
	}
	if columns <= 0 {
		return nil, errors.New("CCITT invalid Columns")
	}
	if rows <= 0 {
		return nil, errors.New("CCITT requires Rows")
	}
	if d.limits.MaxDecompressedSize > 0 {
		if est := (int64(columns+7) / 8) * int64(rows); est > d.limits.MaxDecompressedSize {
			return nil, errors.New("decompressed size exceeds limit")
		}
	}
	r := ccitt.NewReader(bytes.NewReader(in), ccitt.MSB, sf, columns, rows, &ccitt.Options{
		Invert: blackIs1,
		Align:  byteAlign,
	})
	return readCapped(r, d.limits.MaxDecompressedSize)
}

// dctDecoder is a terminal passthrough: DCT data is a complete JPEG image
// and is handed to an image decoder, not inflated here.
type dctDecoder struct{}

func NewDCTDecoder() Decoder { return dctDecoder{} }

func (dctDecoder) Name() string { return "DCTDecode" }

func (dctDecoder) Decode(ctx context.Context, in []byte, params object.Dictionary) ([]byte, error) {
	return in, nil
}

// jpxDecoder is a terminal passthrough for JPEG 2000 codestreams.
type jpxDecoder struct{}

func NewJPXDecoder() Decoder { return jpxDecoder{} }

func (jpxDecoder) Name() string { return "JPXDecode" }

func (jpxDecoder) Decode(ctx context.Context, in []byte, params object.Dictionary) ([]byte, error) {
	return in, nil
}

// cryptDecoder is a passthrough: Crypt entries mark data for the
// security handler, which has already run by the time a chain decodes.
type cryptDecoder struct{}

func NewCryptDecoder() Decoder { return cryptDecoder{} }

func (cryptDecoder) Name() string { return "Crypt" }

func (cryptDecoder) Decode(ctx context.Context, in []byte, params object.Dictionary) ([]byte, error) {
	return in, nil
}
