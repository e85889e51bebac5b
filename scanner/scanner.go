package scanner

import (
	"errors"
	"io"

	"github.com/wudi/pdfdoc/recovery"
)

type TokenType int

const (
	TokenDict        TokenType = iota // '<<'
	TokenArray                        // '['
	TokenName                         // '/Name'
	TokenString                       // literal or hex string
	TokenNumber                       // numeric value
	TokenBoolean                      // true/false
	TokenNull                         // null
	TokenRef                          // indirect ref '5 0 R'
	TokenStream                       // stream payload
	TokenInlineImage                  // inline image data between ID and EI (content streams only)
	TokenKeyword                      // obj, endobj, endstream, >>, ], operators
)

var tokenNames = [...]string{
	TokenDict:        "dict",
	TokenArray:       "array",
	TokenName:        "name",
	TokenString:      "string",
	TokenNumber:      "number",
	TokenBoolean:     "boolean",
	TokenNull:        "null",
	TokenRef:         "ref",
	TokenStream:      "stream",
	TokenInlineImage: "inline-image",
	TokenKeyword:     "keyword",
}

// String names the token type for diagnostics.
func (t TokenType) String() string {
	if t < 0 || int(t) >= len(tokenNames) {
		return "invalid"
	}
	return tokenNames[t]
}

// Token is one lexical item. Which fields are populated depends on Type:
// Str carries names and keywords, Bytes carries string and stream payloads,
// Int/Real/IsInt carry numbers, Num/Gen carry indirect references.
type Token struct {
	Type  TokenType
	Pos   int64
	Str   string
	Bytes []byte
	Hex   bool // string written in hex form
	Int   int64
	Real  float64
	IsInt bool
	Bool  bool
	Num   int
	Gen   int
}

type Scanner interface {
	Next() (Token, error)
	Position() int64
	SeekTo(offset int64) error
	SetNextStreamLength(n int64)
}

type Config struct {
	MaxStringLength int64
	MaxArrayDepth   int
	MaxDictDepth    int
	MaxStreamLength int64
	MaxStreamScan   int64
	MaxInlineImage  int64
	WindowSize      int64
	Recovery        recovery.Strategy
}

type ReaderAt interface {
	ReadAt(p []byte, off int64) (n int, err error)
}

// fileScanner buffers the source in fixed-size windows, growing the buffer
// whenever a token scan reaches past the loaded tail.
type fileScanner struct {
	src           ReaderAt
	buf           []byte
	pos           int64
	cfg           Config
	window        int64
	eof           bool
	nextStreamLen int64
	arrayDepth    int
	dictDepth     int
	recLoc        recovery.Location
}

func New(r ReaderAt, cfg Config) Scanner {
	window := cfg.WindowSize
	if window <= 0 {
		window = 64 * 1024
	}
	return &fileScanner{src: r, cfg: cfg, window: window, nextStreamLen: -1}
}

func (s *fileScanner) Position() int64 { return s.pos }

func (s *fileScanner) SeekTo(offset int64) error {
	if offset < 0 {
		return errors.New("seek out of range")
	}
	if err := s.fill(offset); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if offset > int64(len(s.buf)) {
		return errors.New("seek out of range")
	}
	s.pos = offset
	return nil
}

func (s *fileScanner) SetNextStreamLength(n int64) { s.nextStreamLen = n }

// SetRecoveryLocation attributes subsequent scan errors to the given object.
// Reached through a type assertion; not part of the Scanner interface.
func (s *fileScanner) SetRecoveryLocation(loc recovery.Location) { s.recLoc = loc }

func (s *fileScanner) Next() (Token, error) {
	if err := s.skipSpaceAndComments(); err != nil {
		if errors.Is(err, io.EOF) {
			return Token{}, io.EOF
		}
		return Token{}, err
	}
	if s.pos >= int64(len(s.buf)) {
		return Token{}, io.EOF
	}
	start := s.pos
	c := s.buf[s.pos]
	switch c {
	case '<':
		if s.peek(1) == '<' {
			s.pos += 2
			return s.emit(Token{Type: TokenDict, Str: "<<", Pos: start})
		}
		return s.scanHexString()
	case '>':
		if s.peek(1) == '>' {
			s.pos += 2
			return s.emit(Token{Type: TokenKeyword, Str: ">>", Pos: start})
		}
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: string(c), Pos: start})
	case '[':
		s.pos++
		return s.emit(Token{Type: TokenArray, Str: "[", Pos: start})
	case ']':
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: "]", Pos: start})
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	}
	if isNumberStart(c) {
		return s.scanNumberOrRef()
	}
	if isRegular(c) {
		return s.scanKeyword()
	}
	s.pos++
	return s.emit(Token{Type: TokenKeyword, Str: string(c), Pos: start})
}

func (s *fileScanner) skipSpaceAndComments() error {
	for {
		if s.pos >= int64(len(s.buf)) {
			if err := s.fill(s.pos); err != nil {
				return err
			}
		}
		if s.pos >= int64(len(s.buf)) {
			return io.EOF
		}
		c := s.buf[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for {
				s.pos++
				if err := s.fill(s.pos); err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				if s.pos >= int64(len(s.buf)) {
					return io.EOF
				}
				if isEOL(s.buf[s.pos]) {
					break
				}
			}
			continue
		}
		return nil
	}
}

// fill grows the buffer until offset n is loaded or the source is exhausted.
func (s *fileScanner) fill(n int64) error {
	for int64(len(s.buf)) <= n {
		if s.eof {
			return io.EOF
		}
		if err := s.grow(); err != nil {
			return err
		}
	}
	return nil
}

func (s *fileScanner) grow() error {
	chunk := make([]byte, s.window)
	off := int64(len(s.buf))
	n, err := s.src.ReadAt(chunk, off)
	if n > 0 {
		s.buf = append(s.buf, chunk[:n]...)
	}
	if err == io.EOF {
		s.eof = true
		return nil
	}
	if err != nil {
		return err
	}
	if n == 0 {
		s.eof = true
	}
	return nil
}

func (s *fileScanner) peek(ahead int64) byte {
	if err := s.fill(s.pos + ahead); err != nil {
		return 0
	}
	if s.pos+ahead >= int64(len(s.buf)) {
		return 0
	}
	return s.buf[s.pos+ahead]
}

func (s *fileScanner) emit(tok Token) (Token, error) {
	switch tok.Type {
	case TokenArray:
		s.arrayDepth++
		if s.cfg.MaxArrayDepth > 0 && s.arrayDepth > s.cfg.MaxArrayDepth {
			if err := s.recover(errors.New("array depth exceeded"), "array"); err != nil {
				return Token{}, err
			}
		}
	case TokenDict:
		s.dictDepth++
		if s.cfg.MaxDictDepth > 0 && s.dictDepth > s.cfg.MaxDictDepth {
			if err := s.recover(errors.New("dict depth exceeded"), "dict"); err != nil {
				return Token{}, err
			}
		}
	case TokenKeyword:
		switch tok.Str {
		case "]":
			if s.arrayDepth > 0 {
				s.arrayDepth--
			}
		case ">>":
			if s.dictDepth > 0 {
				s.dictDepth--
			}
		}
	}
	return tok, nil
}

func (s *fileScanner) recover(err error, where string) error {
	if s.cfg.Recovery == nil {
		return err
	}
	loc := s.recLoc
	loc.ByteOffset = s.pos
	if loc.Component == "" {
		loc.Component = "scanner:" + where
	} else {
		loc.Component += "->scanner:" + where
	}
	switch s.cfg.Recovery.OnError(nil, err, loc) {
	case recovery.ActionSkip, recovery.ActionFix, recovery.ActionWarn:
		return nil
	default:
		return err
	}
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isEOL(c byte) bool { return c == '\r' || c == '\n' }

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return isWhitespace(c)
	}
}

func isNumberStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }

// isRegular reports whether c can start a keyword.
func isRegular(c byte) bool {
	return !isDelimiter(c) && !isNumberStart(c)
}
