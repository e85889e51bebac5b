package parser

import (
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// pdfDocDiffs maps the PDFDocEncoding code points that differ from
// Latin-1. Everything else in 0x20..0xFF matches Latin-1 directly.
var pdfDocDiffs = map[byte]rune{
	0x18: '˘', // breve
	0x19: 'ˇ', // caron
	0x1A: 'ˆ', // circumflex
	0x1B: '˙', // dot accent
	0x1C: '˝', // double acute
	0x1D: '˛', // ogonek
	0x1E: '˚', // ring
	0x1F: '˜', // small tilde
	0x80: '•',
	0x81: '†',
	0x82: '‡',
	0x83: '…',
	0x84: '—',
	0x85: '–',
	0x86: 'ƒ',
	0x87: '⁄',
	0x88: '‹',
	0x89: '›',
	0x8A: '−',
	0x8B: '‰',
	0x8C: '„',
	0x8D: '“',
	0x8E: '”',
	0x8F: '‘',
	0x90: '’',
	0x91: '‚',
	0x92: '™',
	0x93: 'ﬁ', // fi
	0x94: 'ﬂ', // fl
	0x95: 'Ł',
	0x96: 'Œ',
	0x97: 'Š',
	0x98: 'Ÿ',
	0x99: 'Ž',
	0x9A: 'ı',
	0x9B: 'ł',
	0x9C: 'œ',
	0x9D: 'š',
	0x9E: 'ž',
	0xA0: '€', // euro
}

// DecodeTextString converts a PDF text string to UTF-8. A UTF-16BE
// byte order mark selects UTF-16, a UTF-8 mark selects UTF-8, and
// anything else reads as PDFDocEncoding.
func DecodeTextString(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		dec := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder()
		out, err := dec.Bytes(b)
		if err == nil {
			return string(out)
		}
	}
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		if rest := b[3:]; utf8.Valid(rest) {
			return string(rest)
		}
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if r, ok := pdfDocDiffs[c]; ok {
			sb.WriteRune(r)
			continue
		}
		switch {
		case c == 0x7F || c == 0x9F || c == 0xAD:
			sb.WriteRune(utf8.RuneError)
		default:
			sb.WriteRune(rune(c))
		}
	}
	return sb.String()
}

// ParseDate reads the D:YYYYMMDDHHmmSSOHH'mm' form. Every field after
// the year is optional, and the apostrophes around timezone minutes
// appear in several broken variants in the wild.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "D:")

	digits := func(n int) (int, bool) {
		if len(s) < n {
			return 0, false
		}
		v := 0
		for i := 0; i < n; i++ {
			c := s[i]
			if c < '0' || c > '9' {
				return 0, false
			}
			v = v*10 + int(c-'0')
		}
		s = s[n:]
		return v, true
	}

	year, ok := digits(4)
	if !ok {
		return time.Time{}, false
	}
	month, day, hour, minute, sec := 1, 1, 0, 0, 0
	if v, ok := digits(2); ok {
		month = v
		if v, ok := digits(2); ok {
			day = v
			if v, ok := digits(2); ok {
				hour = v
				if v, ok := digits(2); ok {
					minute = v
					if v, ok := digits(2); ok {
						sec = v
					}
				}
			}
		}
	}
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || sec > 60 {
		return time.Time{}, false
	}

	loc := time.UTC
	if len(s) > 0 {
		sign := 0
		switch s[0] {
		case 'Z':
			s = s[1:]
		case '+':
			sign = 1
			s = s[1:]
		case '-':
			sign = -1
			s = s[1:]
		}
		if sign != 0 {
			tzh, ok := digits(2)
			if !ok {
				return time.Time{}, false
			}
			s = strings.TrimPrefix(s, "'")
			tzm, _ := digits(2)
			offset := sign * (tzh*3600 + tzm*60)
			loc = time.FixedZone("", offset)
		}
	}
	return time.Date(year, time.Month(month), day, hour, minute, sec, 0, loc), true
}
