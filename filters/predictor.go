package filters

import (
	"errors"
	"fmt"

	"github.com/wudi/pdfdoc/object"
)

// applyPredictor undoes the Predictor declared in DecodeParms. Predictor 1
// (or absent params) passes data through; 2 is TIFF horizontal
// differencing; 10..15 are the PNG row filters used heavily by xref
// streams.
func applyPredictor(data []byte, params object.Dictionary) ([]byte, error) {
	if params == nil {
		return data, nil
	}
	predictor := dictInt(params, "Predictor", 1)
	if predictor <= 1 {
		return data, nil
	}
	colors := int(dictInt(params, "Colors", 1))
	bpc := int(dictInt(params, "BitsPerComponent", 8))
	columns := int(dictInt(params, "Columns", 1))
	if colors < 1 || columns < 1 || bpc < 1 {
		return nil, errors.New("invalid predictor parameters")
	}
	rowLen := (colors*bpc*columns + 7) / 8
	sampleLen := (colors*bpc + 7) / 8

	switch {
	case predictor == 2:
		if bpc != 8 {
			return nil, fmt.Errorf("TIFF predictor with %d bits per component not supported", bpc)
		}
		out := append([]byte(nil), data...)
		for r := 0; r+rowLen <= len(out); r += rowLen {
			row := out[r : r+rowLen]
			for i := sampleLen; i < len(row); i++ {
				row[i] += row[i-sampleLen]
			}
		}
		return out, nil
	case predictor >= 10 && predictor <= 15:
		return applyPNGPredictor(data, rowLen, sampleLen)
	default:
		return nil, fmt.Errorf("unsupported predictor %d", predictor)
	}
}

// applyPNGPredictor undoes per-row PNG filtering. Each encoded row carries
// a leading filter-type byte.
func applyPNGPredictor(data []byte, rowLen, sampleLen int) ([]byte, error) {
	encRowLen := rowLen + 1
	if len(data)%encRowLen != 0 {
		return nil, errors.New("png predictor: data is not a whole number of rows")
	}
	rows := len(data) / encRowLen
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	cur := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		enc := data[r*encRowLen : (r+1)*encRowLen]
		ft := enc[0]
		copy(cur, enc[1:])
		switch ft {
		case 0: // None
		case 1: // Sub
			for i := sampleLen; i < rowLen; i++ {
				cur[i] += cur[i-sampleLen]
			}
		case 2: // Up
			for i := 0; i < rowLen; i++ {
				cur[i] += prev[i]
			}
		case 3: // Average
			for i := 0; i < rowLen; i++ {
				var left byte
				if i >= sampleLen {
					left = cur[i-sampleLen]
				}
				cur[i] += byte((int(left) + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := 0; i < rowLen; i++ {
				var left, upLeft byte
				if i >= sampleLen {
					left = cur[i-sampleLen]
					upLeft = prev[i-sampleLen]
				}
				cur[i] += paeth(left, prev[i], upLeft)
			}
		default:
			return nil, fmt.Errorf("png predictor: unknown filter type %d", ft)
		}
		out = append(out, cur...)
		prev, cur = cur, prev
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// dictInt reads an integer entry with a default.
func dictInt(d object.Dictionary, key string, def int64) int64 {
	if d == nil {
		return def
	}
	v, ok := d.Get(object.NameLiteral(key))
	if !ok {
		return def
	}
	n, ok := v.(object.Number)
	if !ok {
		return def
	}
	return n.Int()
}

// dictBool reads a boolean entry with a default.
func dictBool(d object.Dictionary, key string, def bool) bool {
	if d == nil {
		return def
	}
	v, ok := d.Get(object.NameLiteral(key))
	if !ok {
		return def
	}
	b, ok := v.(object.Boolean)
	if !ok {
		return def
	}
	return b.Value()
}
