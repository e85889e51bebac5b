package parser

import (
	"testing"
	"time"
)

func TestDecodeTextStringUTF16(t *testing.T) {
	in := []byte{0xFE, 0xFF, 0x00, 0x52, 0x00, 0xE9, 0x00, 0x73, 0x00, 0x75, 0x00, 0x6D, 0x00, 0xE9}
	if got := DecodeTextString(in); got != "Résumé" {
		t.Errorf("DecodeTextString = %q, want Résumé", got)
	}
}

func TestDecodeTextStringUTF8BOM(t *testing.T) {
	in := append([]byte{0xEF, 0xBB, 0xBF}, []byte("héllo")...)
	if got := DecodeTextString(in); got != "héllo" {
		t.Errorf("DecodeTextString = %q, want héllo", got)
	}
}

func TestDecodeTextStringPDFDoc(t *testing.T) {
	cases := []struct {
		in   []byte
		want string
	}{
		{[]byte("plain ascii"), "plain ascii"},
		{[]byte{0x80, 0x41}, "•A"},      // bullet remap
		{[]byte{0xA0}, "€"},             // euro
		{[]byte{0x93}, "ﬁ"},             // fi ligature
		{[]byte{0x7F, 0x41}, "�" + "A"}, // undefined slot
		{[]byte{0xE9}, "é"},             // latin-1 range passes through
	}
	for _, tc := range cases {
		if got := DecodeTextString(tc.in); got != tc.want {
			t.Errorf("DecodeTextString(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseDateForms(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"D:19981223195200-08'00'", time.Date(1998, 12, 23, 19, 52, 0, 0, time.FixedZone("", -8*3600))},
		{"D:20240102030405+01'30'", time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("", 90*60))},
		{"D:20240102030405Z", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"D:20241231", time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)},
		{"D:2024", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"20240615", time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)}, // prefix omitted
	}
	for _, tc := range cases {
		got, ok := ParseDate(tc.in)
		if !ok {
			t.Errorf("ParseDate(%q) failed", tc.in)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("ParseDate(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseDateRejects(t *testing.T) {
	for _, in := range []string{"", "D:", "D:202", "D:20241350", "D:20240132", "notadate"} {
		if _, ok := ParseDate(in); ok {
			t.Errorf("ParseDate(%q) accepted", in)
		}
	}
}
