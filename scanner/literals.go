package scanner

import (
	"bytes"
	"errors"
	"io"
	"strconv"
)

func (s *fileScanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // skip '/'
	var out bytes.Buffer
	for {
		if err := s.fill(s.pos); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Token{}, err
		}
		if s.pos >= int64(len(s.buf)) {
			break
		}
		c := s.buf[s.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' { // two-digit hex escape
			s.pos++
			a := s.hexNibble()
			b := s.hexNibble()
			out.WriteByte((a << 4) | b)
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	return s.emit(Token{Type: TokenName, Str: out.String(), Pos: start})
}

func (s *fileScanner) hexNibble() byte {
	if err := s.fill(s.pos); err != nil || s.pos >= int64(len(s.buf)) {
		return 0
	}
	c := s.buf[s.pos]
	s.pos++
	return fromHex(c)
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}

func (s *fileScanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // skip '('
	var buf bytes.Buffer
	depth := 1
scan:
	for {
		if err := s.fill(s.pos); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Token{}, err
		}
		if s.pos >= int64(len(s.buf)) {
			break
		}
		c := s.buf[s.pos]
		if c == '\\' {
			s.pos++
			if err := s.fill(s.pos); err != nil && !errors.Is(err, io.EOF) {
				return Token{}, err
			}
			if s.pos >= int64(len(s.buf)) {
				break scan
			}
			esc := s.buf[s.pos]
			// Backslash before EOL is a line continuation.
			if esc == '\r' {
				s.pos++
				s.skipLF()
				continue
			}
			if esc == '\n' {
				s.pos++
				continue
			}
			// Octal escape, up to three digits.
			if esc >= '0' && esc <= '7' {
				val := int(esc - '0')
				s.pos++
				for k := 0; k < 2; k++ {
					if err := s.fill(s.pos); err != nil || s.pos >= int64(len(s.buf)) {
						break
					}
					d := s.buf[s.pos]
					if d < '0' || d > '7' {
						break
					}
					val = (val << 3) + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
				continue
			}
			buf.WriteByte(translateEscape(esc))
			s.pos++
			continue
		}
		if c == '(' {
			depth++
			buf.WriteByte(c)
			s.pos++
		} else if c == ')' {
			depth--
			if depth == 0 {
				s.pos++
				return s.emit(Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start})
			}
			buf.WriteByte(c)
			s.pos++
		} else {
			buf.WriteByte(c)
			s.pos++
		}
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			if err := s.recover(errors.New("literal string too long"), "literal"); err != nil {
				return Token{}, err
			}
			// Tolerated: hand back the truncated prefix.
			return s.emit(Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start})
		}
	}
	if err := s.recover(errors.New("unterminated literal string"), "literal"); err != nil {
		return Token{}, err
	}
	return s.emit(Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start})
}

func (s *fileScanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // skip '<'
	var nibbles []byte
	closed := false
	truncated := false
	for {
		if err := s.fill(s.pos); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Token{}, err
		}
		if s.pos >= int64(len(s.buf)) {
			break
		}
		c := s.buf[s.pos]
		if c == '>' {
			s.pos++
			closed = true
			break
		}
		if isWhitespace(c) {
			s.pos++
			continue
		}
		nibbles = append(nibbles, c)
		s.pos++
		if s.cfg.MaxStringLength > 0 && int64(len(nibbles)/2) > s.cfg.MaxStringLength {
			if err := s.recover(errors.New("hex string too long"), "hex"); err != nil {
				return Token{}, err
			}
			truncated = true
			break
		}
	}
	if !closed && !truncated {
		if err := s.recover(errors.New("unterminated hex string"), "hex"); err != nil {
			return Token{}, err
		}
	}
	if len(nibbles)%2 == 1 {
		nibbles = append(nibbles, '0')
	}
	out := make([]byte, 0, len(nibbles)/2)
	for i := 0; i < len(nibbles); i += 2 {
		out = append(out, (fromHex(nibbles[i])<<4)|fromHex(nibbles[i+1]))
	}
	return s.emit(Token{Type: TokenString, Bytes: out, Hex: true, Pos: start})
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}

func (s *fileScanner) scanKeyword() (Token, error) {
	start := s.pos
	var buf bytes.Buffer
	for {
		if err := s.fill(s.pos); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Token{}, err
		}
		if s.pos >= int64(len(s.buf)) {
			break
		}
		c := s.buf[s.pos]
		if isDelimiter(c) {
			break
		}
		buf.WriteByte(c)
		s.pos++
	}
	kw := buf.String()
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	case "ID": // inline image; the caller has already consumed the parameter dict
		return s.scanInlineImage(start)
	default:
		return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
	}
}

// scanNumberOrRef scans a number, looking ahead for the "N G R" reference
// form. The lookahead is reverted when the trailing R does not materialize.
func (s *fileScanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	first := s.scanNumberString()
	if first == "" {
		return Token{}, errors.New("invalid number")
	}

	if err := s.skipSpaceAndComments(); err != nil && !errors.Is(err, io.EOF) {
		return Token{}, err
	}
	secondStart := s.pos
	second := s.scanNumberString()
	if second != "" {
		if err := s.skipSpaceAndComments(); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		// The R must stand alone: "0 0 RG" is two numbers and an operator.
		if s.pos < int64(len(s.buf)) && s.buf[s.pos] == 'R' && isDelimiter(s.peek(1)) {
			s.pos++
			num, _ := strconv.Atoi(first)
			gen, _ := strconv.Atoi(second)
			return Token{Type: TokenRef, Num: num, Gen: gen, Pos: start}, nil
		}
	}
	if second != "" {
		s.pos = secondStart
	}
	if i, err := strconv.ParseInt(first, 10, 64); err == nil {
		return s.emit(Token{Type: TokenNumber, Int: i, IsInt: true, Pos: start})
	}
	f, err := strconv.ParseFloat(first, 64)
	if err != nil {
		return Token{}, errors.New("invalid number")
	}
	return s.emit(Token{Type: TokenNumber, Real: f, Pos: start})
}

func (s *fileScanner) scanNumberString() string {
	start := s.pos
	var buf bytes.Buffer
	seenDigit := false
	for {
		if err := s.fill(s.pos); err != nil || s.pos >= int64(len(s.buf)) {
			break
		}
		c := s.buf[s.pos]
		if c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') {
			buf.WriteByte(c)
			if c >= '0' && c <= '9' {
				seenDigit = true
			}
			s.pos++
			continue
		}
		break
	}
	if !seenDigit {
		s.pos = start
		return ""
	}
	return buf.String()
}

// skipLF consumes a single LF, for CRLF normalization after a CR.
func (s *fileScanner) skipLF() {
	if err := s.fill(s.pos); err == nil && s.pos < int64(len(s.buf)) && s.buf[s.pos] == '\n' {
		s.pos++
	}
}
