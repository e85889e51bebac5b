package xref

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/klauspost/compress/zlib"

	"github.com/wudi/pdfdoc/object"
	"github.com/wudi/pdfdoc/recovery"
)

func nameKey(s string) object.Name { return object.NameLiteral(s) }

func resolve(t *testing.T, data []byte, cfg ResolverConfig) (Resolver, Table) {
	t.Helper()
	res := NewResolver(cfg)
	table, err := res.Resolve(context.Background(), bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return res, table
}

// buildSimplePDF writes a two-object file with a classic table and
// returns the body offsets alongside the bytes.
func buildSimplePDF() (data []byte, off1, off2 int64) {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	off1 = int64(b.Len())
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 = int64(b.Len())
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")
	xrefOff := b.Len()
	b.WriteString("xref\n0 3\n")
	fmt.Fprintf(&b, "%010d %05d f \n", 0, 65535)
	fmt.Fprintf(&b, "%010d %05d n \n", off1, 0)
	fmt.Fprintf(&b, "%010d %05d n \n", off2, 0)
	b.WriteString("trailer\n<< /Size 3 /Root 1 0 R >>\nstartxref\n")
	fmt.Fprintf(&b, "%d\n%%%%EOF\n", xrefOff)
	return b.Bytes(), off1, off2
}

func TestResolveClassicTable(t *testing.T) {
	data, off1, off2 := buildSimplePDF()
	_, table := resolve(t, data, ResolverConfig{})

	if table.Type() != "table" {
		t.Fatalf("Type() = %q, want table", table.Type())
	}
	e, ok := table.Lookup(1)
	if !ok || e.Kind != EntryInFile || e.Offset != off1 {
		t.Fatalf("Lookup(1) = %+v, %v; want in-file at %d", e, ok, off1)
	}
	e, ok = table.Lookup(2)
	if !ok || e.Offset != off2 {
		t.Fatalf("Lookup(2) = %+v, %v; want in-file at %d", e, ok, off2)
	}
	if _, ok := table.Lookup(0); ok {
		t.Fatal("Lookup(0) found the free head entry")
	}
	if _, ok := table.Lookup(7); ok {
		t.Fatal("Lookup(7) found a nonexistent object")
	}
	if got := table.Objects(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("Objects() = %v, want [1 2]", got)
	}
	if _, ok := table.Trailer().Get(nameKey("Root")); !ok {
		t.Fatal("merged trailer lost Root")
	}
}

func TestResolveIncrementalUpdate(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	off1 := int64(b.Len())
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := int64(b.Len())
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	off3 := int64(b.Len())
	b.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R >>\nendobj\n")
	xref1 := b.Len()
	b.WriteString("xref\n0 4\n")
	fmt.Fprintf(&b, "%010d %05d f \n", 0, 65535)
	fmt.Fprintf(&b, "%010d %05d n \n", off1, 0)
	fmt.Fprintf(&b, "%010d %05d n \n", off2, 0)
	fmt.Fprintf(&b, "%010d %05d n \n", off3, 0)
	b.WriteString("trailer\n<< /Size 4 /Root 1 0 R /Info 9 0 R >>\nstartxref\n")
	fmt.Fprintf(&b, "%d\n%%%%EOF\n", xref1)

	// Update rewrites object 2 and frees object 3.
	off2b := int64(b.Len())
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")
	xref2 := b.Len()
	b.WriteString("xref\n2 2\n")
	fmt.Fprintf(&b, "%010d %05d n \n", off2b, 0)
	fmt.Fprintf(&b, "%010d %05d f \n", 0, 1)
	fmt.Fprintf(&b, "trailer\n<< /Size 4 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n", xref1, xref2)

	res, table := resolve(t, b.Bytes(), ResolverConfig{})

	if e, ok := table.Lookup(2); !ok || e.Offset != off2b {
		t.Fatalf("Lookup(2) = %+v, %v; want updated offset %d", e, ok, off2b)
	}
	if e, ok := table.Lookup(1); !ok || e.Offset != off1 {
		t.Fatalf("Lookup(1) = %+v, %v; want base offset %d", e, ok, off1)
	}
	if _, ok := table.Lookup(3); ok {
		t.Fatal("Lookup(3) resurrected an object freed by the update")
	}
	if _, ok := table.Trailer().Get(nameKey("Info")); !ok {
		t.Fatal("trailer merge dropped Info from the base revision")
	}
	if _, ok := table.Trailer().Get(nameKey("Prev")); ok {
		t.Fatal("merged trailer kept the Prev chain pointer")
	}

	revs := res.Incremental()
	if len(revs) != 2 {
		t.Fatalf("Incremental() returned %d revisions, want 2", len(revs))
	}
	if got := revs[0].Objects(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("newest revision touches %v, want [2]", got)
	}
	if got := revs[1].Objects(); len(got) != 3 {
		t.Fatalf("base revision holds %v, want three objects", got)
	}
}

func buildXrefStreamPDF(compress bool) (data []byte, off1 int64) {
	var b bytes.Buffer
	b.WriteString("%PDF-1.5\n")
	off1 = int64(b.Len())
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := int64(b.Len())
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")
	off4 := int64(b.Len())
	b.WriteString("4 0 obj\n<< /Type /ObjStm /N 1 /First 8 >>\nendobj\n")
	offX := int64(b.Len())

	rows := []struct{ typ, f2, f3 int64 }{
		{0, 0, 65535 & 0xFFFF},
		{1, off1, 0},
		{1, off2, 0},
		{2, 4, 0},
		{1, off4, 0},
		{1, offX, 0},
	}
	var stm bytes.Buffer
	for _, r := range rows {
		stm.WriteByte(byte(r.typ))
		stm.WriteByte(byte(r.f2 >> 8))
		stm.WriteByte(byte(r.f2))
		stm.WriteByte(byte(r.f3))
	}
	payload := stm.Bytes()
	filter := ""
	if compress {
		var z bytes.Buffer
		zw := zlib.NewWriter(&z)
		zw.Write(payload)
		zw.Close()
		payload = z.Bytes()
		filter = " /Filter /FlateDecode"
	}
	fmt.Fprintf(&b, "5 0 obj\n<< /Type /XRef /Size 6 /W [1 2 1] /Index [0 6] /Root 1 0 R /Length %d%s >>\nstream\n", len(payload), filter)
	b.Write(payload)
	b.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(&b, "startxref\n%d\n%%%%EOF\n", offX)
	return b.Bytes(), off1
}

func TestResolveXrefStream(t *testing.T) {
	for _, compress := range []bool{false, true} {
		data, off1 := buildXrefStreamPDF(compress)
		_, table := resolve(t, data, ResolverConfig{})

		if table.Type() != "stream" {
			t.Fatalf("compress=%v: Type() = %q, want stream", compress, table.Type())
		}
		if e, ok := table.Lookup(1); !ok || e.Kind != EntryInFile || e.Offset != off1 {
			t.Fatalf("compress=%v: Lookup(1) = %+v, %v", compress, e, ok)
		}
		e, ok := table.Lookup(3)
		if !ok || e.Kind != EntryInObjectStream || e.StreamNum != 4 || e.StreamIdx != 0 {
			t.Fatalf("compress=%v: Lookup(3) = %+v, %v; want object stream 4 index 0", compress, e, ok)
		}
		if got := table.Objects(); len(got) != 5 {
			t.Fatalf("compress=%v: Objects() = %v, want five live objects", compress, got)
		}
		if _, ok := table.Trailer().Get(nameKey("Root")); !ok {
			t.Fatalf("compress=%v: stream dictionary did not serve as trailer", compress)
		}
	}
}

// A hybrid file carries both a classic table and an XRefStm stream;
// the stream's entries win where they overlap.
func TestResolveHybrid(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	off1 := int64(b.Len())
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := int64(b.Len())
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")
	offStm := int64(b.Len())
	row := []byte{2, 0, 4, 1} // object 3 lives in object stream 4 at index 1
	fmt.Fprintf(&b, "5 0 obj\n<< /Type /XRef /Size 6 /W [1 2 1] /Index [3 1] /Root 1 0 R /Length %d >>\nstream\n", len(row))
	b.Write(row)
	b.WriteString("\nendstream\nendobj\n")
	xrefOff := b.Len()
	b.WriteString("xref\n0 4\n")
	fmt.Fprintf(&b, "%010d %05d f \n", 0, 65535)
	fmt.Fprintf(&b, "%010d %05d n \n", off1, 0)
	fmt.Fprintf(&b, "%010d %05d n \n", off2, 0)
	fmt.Fprintf(&b, "%010d %05d n \n", 99, 0) // stale location for object 3
	fmt.Fprintf(&b, "trailer\n<< /Size 6 /Root 1 0 R /XRefStm %d >>\nstartxref\n%d\n%%%%EOF\n", offStm, xrefOff)

	_, table := resolve(t, b.Bytes(), ResolverConfig{})

	e, ok := table.Lookup(3)
	if !ok || e.Kind != EntryInObjectStream || e.StreamNum != 4 || e.StreamIdx != 1 {
		t.Fatalf("Lookup(3) = %+v, %v; XRefStm entry should shadow the classic one", e, ok)
	}
	if e, ok := table.Lookup(1); !ok || e.Offset != off1 {
		t.Fatalf("Lookup(1) = %+v, %v", e, ok)
	}
}

func TestRepairCorruptTable(t *testing.T) {
	data, off1, off2 := buildSimplePDF()
	data = bytes.Replace(data, []byte("xref\n0 3"), []byte("xref\ngarbage"), 1)

	strat := recovery.NewLenientStrategy()
	_, table := resolve(t, data, ResolverConfig{Recovery: strat})

	if table.Type() != "repaired" {
		t.Fatalf("Type() = %q, want repaired", table.Type())
	}
	if e, ok := table.Lookup(1); !ok || e.Offset != off1 {
		t.Fatalf("Lookup(1) = %+v, %v; want rebuilt offset %d", e, ok, off1)
	}
	if e, ok := table.Lookup(2); !ok || e.Offset != off2 {
		t.Fatalf("Lookup(2) = %+v, %v; want rebuilt offset %d", e, ok, off2)
	}
	if _, ok := table.Trailer().Get(nameKey("Root")); !ok {
		t.Fatal("rebuild did not pick up the trailer dictionary")
	}
	if len(strat.Errors) == 0 {
		t.Fatal("lenient strategy recorded no errors")
	}
}

func TestRepairBadStartxref(t *testing.T) {
	data, off1, _ := buildSimplePDF()
	data = bytes.Replace(data, []byte("startxref\n"), []byte("startxref\n999999 "), 1)

	_, table := resolve(t, data, ResolverConfig{Recovery: recovery.NewLenientStrategy()})
	if table.Type() != "repaired" {
		t.Fatalf("Type() = %q, want repaired", table.Type())
	}
	if e, ok := table.Lookup(1); !ok || e.Offset != off1 {
		t.Fatalf("Lookup(1) = %+v, %v", e, ok)
	}
}

func TestResolveFailsWithoutRecovery(t *testing.T) {
	data, _, _ := buildSimplePDF()
	data = bytes.Replace(data, []byte("xref\n0 3"), []byte("xref\ngarbage"), 1)

	res := NewResolver(ResolverConfig{})
	if _, err := res.Resolve(context.Background(), bytes.NewReader(data), int64(len(data))); err == nil {
		t.Fatal("Resolve accepted a corrupt table with no recovery strategy")
	}
}

func TestResolvePrevCycle(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	off1 := int64(b.Len())
	b.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	xrefOff := b.Len()
	b.WriteString("xref\n0 2\n")
	fmt.Fprintf(&b, "%010d %05d f \n", 0, 65535)
	fmt.Fprintf(&b, "%010d %05d n \n", off1, 0)
	fmt.Fprintf(&b, "trailer\n<< /Size 2 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n", xrefOff, xrefOff)

	res := NewResolver(ResolverConfig{})
	if _, err := res.Resolve(context.Background(), bytes.NewReader(b.Bytes()), int64(b.Len())); err == nil {
		t.Fatal("Resolve did not detect the Prev cycle")
	}
}

func TestMissingStartxref(t *testing.T) {
	res := NewResolver(ResolverConfig{})
	data := []byte("%PDF-1.4\nnothing to see here\n")
	if _, err := res.Resolve(context.Background(), bytes.NewReader(data), int64(len(data))); err == nil {
		t.Fatal("Resolve accepted a file without startxref")
	}
}

func TestLinearizedDetection(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offLin := int64(b.Len())
	b.WriteString("4 0 obj\n<< /Linearized 1 /L 1234 /O 3 /N 1 >>\nendobj\n")
	off1 := int64(b.Len())
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := int64(b.Len())
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")
	xrefOff := b.Len()
	b.WriteString("xref\n0 3\n")
	fmt.Fprintf(&b, "%010d %05d f \n", 0, 65535)
	fmt.Fprintf(&b, "%010d %05d n \n", off1, 0)
	fmt.Fprintf(&b, "%010d %05d n \n", off2, 0)
	b.WriteString("4 1\n")
	fmt.Fprintf(&b, "%010d %05d n \n", offLin, 0)
	b.WriteString("trailer\n<< /Size 5 /Root 1 0 R >>\nstartxref\n")
	fmt.Fprintf(&b, "%d\n%%%%EOF\n", xrefOff)

	res, table := resolve(t, b.Bytes(), ResolverConfig{})
	if !res.Linearized() {
		t.Fatal("Linearized() = false for a linearized file")
	}
	if e, ok := table.Lookup(4); !ok || e.Offset != offLin {
		t.Fatalf("Lookup(4) = %+v, %v; want linearization dict at %d", e, ok, offLin)
	}

	plain, _, _ := buildSimplePDF()
	resPlain, _ := resolve(t, plain, ResolverConfig{})
	if resPlain.Linearized() {
		t.Fatal("Linearized() = true for an ordinary file")
	}
}
