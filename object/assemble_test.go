package object

import (
	"strings"
	"testing"

	"github.com/wudi/pdfdoc/scanner"
)

type stringReaderAt struct{ s string }

func (r stringReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return strings.NewReader(r.s).ReadAt(p, off)
}

func decodeString(t *testing.T, src string) Object {
	t.Helper()
	tr := NewTokenReader(scanner.New(stringReaderAt{src}, scanner.Config{}))
	obj, err := Decode(tr)
	if err != nil {
		t.Fatalf("decode %q: %v", src, err)
	}
	return obj
}

func TestDecodeDictionary(t *testing.T) {
	obj := decodeString(t, "<< /Type /Catalog /Pages 2 0 R /Count 3 >>")
	d, ok := obj.(Dictionary)
	if !ok {
		t.Fatalf("got %T, want Dictionary", obj)
	}
	typ, _ := d.Get(NameLiteral("Type"))
	if n, ok := typ.(Name); !ok || n.Value() != "Catalog" {
		t.Fatalf("Type = %v", typ)
	}
	pages, _ := d.Get(NameLiteral("Pages"))
	if r, ok := pages.(Reference); !ok || r.Ref() != (Ref{Num: 2, Gen: 0}) {
		t.Fatalf("Pages = %v", pages)
	}
	count, _ := d.Get(NameLiteral("Count"))
	if n, ok := count.(Number); !ok || n.Int() != 3 {
		t.Fatalf("Count = %v", count)
	}
}

func TestDecodeNestedArray(t *testing.T) {
	obj := decodeString(t, "[ 1 [ 2.5 (str) ] /Nm true null ]")
	arr, ok := obj.(Array)
	if !ok {
		t.Fatalf("got %T, want Array", obj)
	}
	if arr.Len() != 5 {
		t.Fatalf("len = %d, want 5", arr.Len())
	}
	inner, _ := arr.Get(1)
	innerArr, ok := inner.(Array)
	if !ok || innerArr.Len() != 2 {
		t.Fatalf("inner = %v", inner)
	}
	s, _ := innerArr.Get(1)
	if str, ok := s.(String); !ok || string(str.Value()) != "str" {
		t.Fatalf("inner string = %v", s)
	}
	if v, _ := arr.Get(4); v.Type() != "null" {
		t.Fatalf("last = %v", v)
	}
}

func TestDecodeStringForms(t *testing.T) {
	obj := decodeString(t, "[ (lit) <4869> ]")
	arr, ok := obj.(Array)
	if !ok {
		t.Fatalf("got %T, want Array", obj)
	}
	lit, _ := arr.Get(0)
	if s, ok := lit.(String); !ok || s.IsHex() || string(s.Value()) != "lit" {
		t.Fatalf("literal = %v", lit)
	}
	hexed, _ := arr.Get(1)
	if s, ok := hexed.(String); !ok || !s.IsHex() || string(s.Value()) != "Hi" {
		t.Fatalf("hex = %v", hexed)
	}
}

func TestDecodeRejectsNonNameKey(t *testing.T) {
	tr := NewTokenReader(scanner.New(stringReaderAt{"<< 5 /Val >>"}, scanner.Config{}))
	if _, err := Decode(tr); err == nil {
		t.Fatal("want error for numeric dictionary key")
	}
}

func TestTokenReaderUnread(t *testing.T) {
	tr := NewTokenReader(scanner.New(stringReaderAt{"1 2"}, scanner.Config{}))
	tok, err := tr.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	tr.Unread(tok)
	again, err := tr.Next()
	if err != nil {
		t.Fatalf("next after unread: %v", err)
	}
	if again.Int != tok.Int || again.Pos != tok.Pos {
		t.Fatalf("unread token mismatch: %+v vs %+v", again, tok)
	}
}
