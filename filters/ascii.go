package filters

import (
	"bytes"
	"context"
	stdascii85 "encoding/ascii85"
	"encoding/hex"
	"errors"

	"github.com/wudi/pdfdoc/object"
)

type asciiHexDecoder struct{}

func NewASCIIHexDecoder() Decoder { return asciiHexDecoder{} }

func (asciiHexDecoder) Name() string { return "ASCIIHexDecode" }

func (asciiHexDecoder) Decode(ctx context.Context, in []byte, params object.Dictionary) ([]byte, error) {
	trimmed := in
	if i := bytes.IndexByte(trimmed, '>'); i >= 0 {
		trimmed = trimmed[:i]
	}
	compact := make([]byte, 0, len(trimmed))
	for _, c := range trimmed {
		if isSpaceByte(c) {
			continue
		}
		compact = append(compact, c)
	}
	// An odd count is padded with zero per the dictionary of filters.
	if len(compact)%2 == 1 {
		compact = append(compact, '0')
	}
	result := make([]byte, hex.DecodedLen(len(compact)))
	n, err := hex.Decode(result, compact)
	if err != nil {
		return nil, err
	}
	return result[:n], nil
}

type ascii85Decoder struct{}

func NewASCII85Decoder() Decoder { return ascii85Decoder{} }

func (ascii85Decoder) Name() string { return "ASCII85Decode" }

func (ascii85Decoder) Decode(ctx context.Context, in []byte, params object.Dictionary) ([]byte, error) {
	trimmed := bytes.TrimSpace(in)
	if bytes.HasPrefix(trimmed, []byte("<~")) {
		trimmed = trimmed[2:]
	}
	if i := bytes.Index(trimmed, []byte("~>")); i >= 0 {
		trimmed = trimmed[:i]
	}
	// A "z" group decodes to four bytes, so output can exceed input.
	out := make([]byte, 4*len(trimmed))
	n, _, err := stdascii85.Decode(out, trimmed, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// runLengthDecoder implements RunLengthDecode: a length byte L, then either
// L+1 literal bytes (L < 128) or one byte repeated 257-L times (L > 128).
// 128 is end of data.
type runLengthDecoder struct{ limits Limits }

func NewRunLengthDecoder(limits Limits) Decoder { return runLengthDecoder{limits: limits} }

func (runLengthDecoder) Name() string { return "RunLengthDecode" }

func (d runLengthDecoder) Decode(ctx context.Context, in []byte, params object.Dictionary) ([]byte, error) {
	var out bytes.Buffer
	i := 0
	for i < len(in) {
		l := int(in[i])
		i++
		switch {
		case l == 128:
			return out.Bytes(), nil
		case l < 128:
			count := l + 1
			if i+count > len(in) {
				return nil, errors.New("run length literal overruns data")
			}
			out.Write(in[i : i+count])
			i += count
		default:
			if i >= len(in) {
				return nil, errors.New("run length repeat overruns data")
			}
			out.Write(bytes.Repeat(in[i:i+1], 257-l))
			i++
		}
		if d.limits.MaxDecompressedSize > 0 && int64(out.Len()) > d.limits.MaxDecompressedSize {
			return nil, errors.New("decompressed size exceeds limit")
		}
	}
	return out.Bytes(), nil
}

func isSpaceByte(c byte) bool {
	switch c {
	case 0x00, 0x09, 0x0A, 0x0C, 0x0D, 0x20:
		return true
	default:
		return false
	}
}
