package scanner

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/wudi/pdfdoc/recovery"
)

func newScanner(t *testing.T, data string, cfg Config) Scanner {
	t.Helper()
	return New(bytes.NewReader([]byte(data)), cfg)
}

func nextToken(t *testing.T, s Scanner) Token {
	t.Helper()
	tok, err := s.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tok
}

func TestScannerBasicTokens(t *testing.T) {
	s := newScanner(t, "%PDF-1.7\n1 0 obj\n<< /Name /Value /Nums [1 2 3] /Flag true /Null null >>\nendobj", Config{})

	tok := nextToken(t, s)
	if tok.Type != TokenNumber || !tok.IsInt || tok.Int != 1 {
		t.Fatalf("expected object number 1, got %+v", tok)
	}
	tok = nextToken(t, s)
	if tok.Type != TokenNumber || !tok.IsInt || tok.Int != 0 {
		t.Fatalf("expected generation 0, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "obj" {
		t.Fatalf("expected obj keyword, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenDict {
		t.Fatalf("expected dict start, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Name" {
		t.Fatalf("expected Name key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Value" {
		t.Fatalf("expected Value name, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Nums" {
		t.Fatalf("expected Nums key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenArray {
		t.Fatalf("expected array start, got %+v", tok)
	}
	for i := int64(1); i <= 3; i++ {
		tok = nextToken(t, s)
		if tok.Type != TokenNumber || !tok.IsInt || tok.Int != i {
			t.Fatalf("expected array number %d, got %+v", i, tok)
		}
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "]" {
		t.Fatalf("expected array close, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Flag" {
		t.Fatalf("expected Flag key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenBoolean || tok.Bool != true {
		t.Fatalf("expected true, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Null" {
		t.Fatalf("expected Null key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenNull {
		t.Fatalf("expected null, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != ">>" {
		t.Fatalf("expected dict close, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "endobj" {
		t.Fatalf("expected endobj, got %+v", tok)
	}
	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestScannerReferences(t *testing.T) {
	s := newScanner(t, "/Parent 2 0 R /Count 5 0.5", Config{})

	if tok := nextToken(t, s); tok.Type != TokenName || tok.Str != "Parent" {
		t.Fatalf("expected Parent, got %+v", tok)
	}
	tok := nextToken(t, s)
	if tok.Type != TokenRef || tok.Num != 2 || tok.Gen != 0 {
		t.Fatalf("expected 2 0 R, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Count" {
		t.Fatalf("expected Count, got %+v", tok)
	}
	// "5 0.5" must not collapse into a reference.
	if tok = nextToken(t, s); tok.Type != TokenNumber || !tok.IsInt || tok.Int != 5 {
		t.Fatalf("expected number 5, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenNumber || tok.IsInt || tok.Real != 0.5 {
		t.Fatalf("expected real 0.5, got %+v", tok)
	}
}

func TestScannerRefNotGreedyBeforeOperator(t *testing.T) {
	// Content stream fragment: RG is an operator, not a reference tail.
	s := newScanner(t, "0 0 RG", Config{})
	if tok := nextToken(t, s); tok.Type != TokenNumber || tok.Int != 0 {
		t.Fatalf("expected 0, got %+v", tok)
	}
	if tok := nextToken(t, s); tok.Type != TokenNumber || tok.Int != 0 {
		t.Fatalf("expected 0, got %+v", tok)
	}
	if tok := nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "RG" {
		t.Fatalf("expected RG operator, got %+v", tok)
	}
}

func TestScannerStrings(t *testing.T) {
	s := newScanner(t, `(Hello \(World\)\n) (a\101) <48656C6C6F> <48656C6C6F7>`, Config{})

	tok := nextToken(t, s)
	if tok.Type != TokenString || string(tok.Bytes) != "Hello (World)\n" {
		t.Fatalf("literal escapes wrong: %q", tok.Bytes)
	}
	tok = nextToken(t, s)
	if string(tok.Bytes) != "aA" {
		t.Fatalf("octal escape wrong: %q", tok.Bytes)
	}
	tok = nextToken(t, s)
	if string(tok.Bytes) != "Hello" {
		t.Fatalf("hex string wrong: %q", tok.Bytes)
	}
	// An odd nibble count pads with zero.
	tok = nextToken(t, s)
	if string(tok.Bytes) != "Hellop" {
		t.Fatalf("odd hex string wrong: %q", tok.Bytes)
	}
}

func TestScannerNestedParens(t *testing.T) {
	s := newScanner(t, "(outer (inner) tail)", Config{})
	tok := nextToken(t, s)
	if string(tok.Bytes) != "outer (inner) tail" {
		t.Fatalf("nested parens wrong: %q", tok.Bytes)
	}
}

func TestScannerNameHexEscape(t *testing.T) {
	s := newScanner(t, "/A#20B", Config{})
	tok := nextToken(t, s)
	if tok.Type != TokenName || tok.Str != "A B" {
		t.Fatalf("name hex escape wrong: %+v", tok)
	}
}

func TestScannerStreamWithLength(t *testing.T) {
	data := "<< /Length 5 >>\nstream\nhello\nendstream\nendobj"
	s := newScanner(t, data, Config{})
	for {
		tok := nextToken(t, s)
		if tok.Type == TokenKeyword && tok.Str == ">>" {
			break
		}
	}
	s.SetNextStreamLength(5)
	tok := nextToken(t, s)
	if tok.Type != TokenStream || string(tok.Bytes) != "hello" {
		t.Fatalf("stream payload = %q, want hello", tok.Bytes)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "endobj" {
		t.Fatalf("expected endobj after stream, got %+v", tok)
	}
}

func TestScannerStreamWithoutLength(t *testing.T) {
	data := "stream\nbinary data here\nendstream"
	s := newScanner(t, data, Config{})
	tok := nextToken(t, s)
	if tok.Type != TokenStream || string(tok.Bytes) != "binary data here" {
		t.Fatalf("stream payload = %q", tok.Bytes)
	}
}

func TestScannerInlineImage(t *testing.T) {
	// An EI inside the data does not terminate it unless framed by
	// whitespace and a delimiter.
	s := newScanner(t, "BI /W 1 ID (EI) inside EI Q", Config{})
	for {
		tok := nextToken(t, s)
		if tok.Type == TokenKeyword && tok.Str == "ID" {
			t.Fatalf("ID should start the image payload, got keyword token")
		}
		if tok.Type == TokenInlineImage {
			if string(tok.Bytes) != "(EI) inside" {
				t.Fatalf("inline image payload = %q", tok.Bytes)
			}
			break
		}
	}
	if tok := nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "Q" {
		t.Fatalf("expected Q after EI, got %+v", tok)
	}
}

func TestScannerInlineImageTooLong(t *testing.T) {
	s := newScanner(t, "BI ID abcdefgh EI", Config{MaxInlineImage: 4})
	var err error
	for i := 0; i < 3; i++ {
		if _, err = s.Next(); err != nil {
			break
		}
	}
	if err == nil {
		t.Fatal("expected inline image length error")
	}
}

func TestScannerSeekTo(t *testing.T) {
	s := newScanner(t, "aaaa /Target", Config{})
	if err := s.SeekTo(5); err != nil {
		t.Fatalf("SeekTo: %v", err)
	}
	tok := nextToken(t, s)
	if tok.Type != TokenName || tok.Str != "Target" {
		t.Fatalf("after seek expected /Target, got %+v", tok)
	}
	if err := s.SeekTo(-1); err == nil {
		t.Fatal("negative seek should fail")
	}
	if err := s.SeekTo(1 << 20); err == nil {
		t.Fatal("seek past EOF should fail")
	}
}

func TestScannerDepthLimit(t *testing.T) {
	s := newScanner(t, "[[[[", Config{MaxArrayDepth: 3})
	var err error
	for i := 0; i < 4; i++ {
		if _, err = s.Next(); err != nil {
			break
		}
	}
	if err == nil {
		t.Fatal("expected depth limit error")
	}
}

func TestScannerStringLimitWithLenientRecovery(t *testing.T) {
	rec := recovery.NewLenientStrategy()
	s := newScanner(t, "(abcdefgh)", Config{MaxStringLength: 4, Recovery: rec})
	if _, err := s.Next(); err != nil {
		t.Fatalf("lenient recovery should tolerate the long string, got %v", err)
	}
	if len(rec.Errors) == 0 {
		t.Fatal("lenient strategy should have recorded the problem")
	}
}

func TestScannerCommentSkipping(t *testing.T) {
	s := newScanner(t, "% leading comment\n42 % trailing\n/Name", Config{})
	if tok := nextToken(t, s); tok.Type != TokenNumber || tok.Int != 42 {
		t.Fatalf("expected 42, got %+v", tok)
	}
	if tok := nextToken(t, s); tok.Type != TokenName || tok.Str != "Name" {
		t.Fatalf("expected /Name, got %+v", tok)
	}
}

func TestScannerSmallWindow(t *testing.T) {
	// A window smaller than the token forces repeated buffer growth.
	s := New(bytes.NewReader([]byte("/AVeryLongNameThatSpansWindows 123456789")), Config{WindowSize: 4})
	tok := nextToken(t, s)
	if tok.Type != TokenName || tok.Str != "AVeryLongNameThatSpansWindows" {
		t.Fatalf("windowed name scan broke: %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenNumber || tok.Int != 123456789 {
		t.Fatalf("windowed number scan broke: %+v", tok)
	}
}

type recordRecovery struct {
	loc recovery.Location
	err error
}

func (r *recordRecovery) OnError(ctx recovery.Context, err error, loc recovery.Location) recovery.Action {
	r.loc = loc
	r.err = err
	return recovery.ActionWarn
}

func TestScannerRecoveryLocationIncludesObject(t *testing.T) {
	rec := &recordRecovery{}
	s := New(bytes.NewReader([]byte("<abc")), Config{Recovery: rec})
	if rc, ok := s.(interface{ SetRecoveryLocation(recovery.Location) }); ok {
		rc.SetRecoveryLocation(recovery.Location{ObjectNum: 5, ObjectGen: 2, Component: "parser"})
	} else {
		t.Fatal("scanner should expose SetRecoveryLocation")
	}
	if _, err := s.Next(); err != nil {
		t.Fatalf("warn action should tolerate the unterminated hex string, got %v", err)
	}
	if rec.loc.ObjectNum != 5 || rec.loc.ObjectGen != 2 {
		t.Fatalf("expected object context 5 2, got %+v", rec.loc)
	}
	if !strings.Contains(rec.loc.Component, "scanner:hex") {
		t.Fatalf("expected component to include scanner:hex, got %q", rec.loc.Component)
	}
}
