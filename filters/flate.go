package filters

import (
	"bytes"
	"compress/lzw"
	"context"
	"errors"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"

	"github.com/wudi/pdfdoc/object"
)

// flateDecoder implements FlateDecode. Stream data is zlib-wrapped per the
// PDF specification, but plenty of real files carry bare deflate data, so
// that is accepted as a fallback.
type flateDecoder struct{ limits Limits }

func NewFlateDecoder(limits Limits) Decoder { return flateDecoder{limits: limits} }

func (flateDecoder) Name() string { return "FlateDecode" }

func (d flateDecoder) Decode(ctx context.Context, in []byte, params object.Dictionary) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(in))
	var out []byte
	if err == nil {
		out, err = readCapped(zr, d.limits.MaxDecompressedSize)
		zr.Close()
	}
	if err != nil {
		fr := flate.NewReader(bytes.NewReader(in))
		out, err = readCapped(fr, d.limits.MaxDecompressedSize)
		fr.Close()
		if err != nil {
			return nil, err
		}
	}
	return applyPredictor(out, params)
}

// lzwDecoder implements LZWDecode. PDF uses MSB bit order. EarlyChange
// (default 1) widens code words one code before the table fills; the
// stdlib reader only speaks the late-change convention, so the default
// case runs through the dedicated decoder below.
type lzwDecoder struct{ limits Limits }

func NewLZWDecoder(limits Limits) Decoder { return lzwDecoder{limits: limits} }

func (lzwDecoder) Name() string { return "LZWDecode" }

func (d lzwDecoder) Decode(ctx context.Context, in []byte, params object.Dictionary) ([]byte, error) {
	early := int64(1)
	if params != nil {
		early = dictInt(params, "EarlyChange", 1)
	}
	var out []byte
	var err error
	if early == 0 {
		r := lzw.NewReader(bytes.NewReader(in), lzw.MSB, 8)
		out, err = readCapped(r, d.limits.MaxDecompressedSize)
		r.Close()
	} else {
		out, err = decodeLZWEarly(in, d.limits.MaxDecompressedSize)
	}
	if err != nil {
		return nil, err
	}
	return applyPredictor(out, params)
}

// decodeLZWEarly decodes MSB-first LZW with the early-change convention:
// the code width grows one code before the table actually fills.
func decodeLZWEarly(in []byte, maxSize int64) ([]byte, error) {
	const (
		clearCode = 256
		eodCode   = 257
	)
	table := make([][]byte, 4096)
	var out bytes.Buffer

	reset := func() int {
		for i := 0; i < 256; i++ {
			table[i] = []byte{byte(i)}
		}
		return 258
	}
	next := reset()
	width := uint(9)

	var bitBuf uint32
	var bitCount uint
	pos := 0
	readCode := func() (int, bool) {
		for bitCount < width {
			if pos >= len(in) {
				return 0, false
			}
			bitBuf = bitBuf<<8 | uint32(in[pos])
			pos++
			bitCount += 8
		}
		bitCount -= width
		code := int(bitBuf >> bitCount)
		bitBuf &= (1 << bitCount) - 1
		return code, true
	}

	var prev []byte
	for {
		code, ok := readCode()
		if !ok {
			break
		}
		if code == eodCode {
			break
		}
		if code == clearCode {
			next = reset()
			width = 9
			prev = nil
			continue
		}
		var entry []byte
		switch {
		case code < next && table[code] != nil:
			entry = table[code]
		case code == next && prev != nil:
			entry = append(append([]byte(nil), prev...), prev[0])
		default:
			return nil, errors.New("invalid LZW code")
		}
		out.Write(entry)
		if maxSize > 0 && int64(out.Len()) > maxSize {
			return nil, errors.New("decompressed size exceeds limit")
		}
		if prev != nil && next < 4096 {
			table[next] = append(append([]byte(nil), prev...), entry[0])
			next++
		}
		// Early change: widen one code before the table is full.
		switch next {
		case 511, 1023, 2047:
			width++
		}
		prev = entry
	}
	return out.Bytes(), nil
}

// readCapped drains r, failing once maxSize is exceeded. maxSize zero means
// unbounded.
func readCapped(r io.Reader, maxSize int64) ([]byte, error) {
	var out bytes.Buffer
	if maxSize <= 0 {
		if _, err := io.Copy(&out, r); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	}
	n, err := io.Copy(&out, io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, err
	}
	if n > maxSize {
		return nil, errors.New("decompressed size exceeds limit")
	}
	return out.Bytes(), nil
}
