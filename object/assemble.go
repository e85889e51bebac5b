package object

import (
	"fmt"

	"github.com/wudi/pdfdoc/scanner"
)

// TokenReader adds pushback on top of a scanner, which the assembler
// needs to stop at closing keywords without consuming past them.
type TokenReader struct {
	s   scanner.Scanner
	buf []scanner.Token
}

func NewTokenReader(s scanner.Scanner) *TokenReader { return &TokenReader{s: s} }

func (r *TokenReader) Next() (scanner.Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.s.Next()
}

func (r *TokenReader) Unread(tok scanner.Token) { r.buf = append(r.buf, tok) }

// Scanner returns the underlying scanner for seek and stream-length
// control. Pushed-back tokens are discarded by a seek, so callers
// should drain or avoid lookahead first.
func (r *TokenReader) Scanner() scanner.Scanner { return r.s }

// SeekTo repositions the underlying scanner and drops any lookahead.
func (r *TokenReader) SeekTo(offset int64) error {
	r.buf = r.buf[:0]
	return r.s.SeekTo(offset)
}

// Decode assembles the next complete object from the token stream.
// Structural tokens open containers; numbers, names, strings, booleans,
// null and references map straight onto their object values.
func Decode(tr *TokenReader) (Object, error) {
	tok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	return decodeFrom(tr, tok)
}

func decodeFrom(tr *TokenReader, tok scanner.Token) (Object, error) {
	switch tok.Type {
	case scanner.TokenName:
		return NameObj{Val: tok.Str}, nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return NumberObj{I: tok.Int, IsInt: true}, nil
		}
		return NumberObj{F: tok.Real}, nil
	case scanner.TokenBoolean:
		return BoolObj{V: tok.Bool}, nil
	case scanner.TokenNull:
		return NullObj{}, nil
	case scanner.TokenString:
		return StringObj{Bytes: append([]byte(nil), tok.Bytes...), Hex: tok.Hex}, nil
	case scanner.TokenRef:
		return RefObj{R: Ref{Num: tok.Num, Gen: tok.Gen}}, nil
	case scanner.TokenArray:
		return decodeArray(tr)
	case scanner.TokenDict:
		return decodeDict(tr)
	}
	return nil, fmt.Errorf("unexpected token %q at offset %d", tok.Str, tok.Pos)
}

func decodeArray(tr *TokenReader) (Object, error) {
	arr := &ArrayObj{}
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		item, err := decodeFrom(tr, tok)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func decodeDict(tr *TokenReader) (Object, error) {
	d := Dict()
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == ">>" {
			return d, nil
		}
		if tok.Type != scanner.TokenName {
			return nil, fmt.Errorf("dictionary key must be a name, got %q at offset %d", tok.Str, tok.Pos)
		}
		val, err := Decode(tr)
		if err != nil {
			return nil, err
		}
		d.Set(NameObj{Val: tok.Str}, val)
	}
}
