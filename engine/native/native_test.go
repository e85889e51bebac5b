package native

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/wudi/pdfdoc/document"
	"github.com/wudi/pdfdoc/fdio"
	"github.com/wudi/pdfdoc/object"
	"github.com/wudi/pdfdoc/recovery"
	"github.com/wudi/pdfdoc/security"
)

type fixture struct {
	buf  bytes.Buffer
	offs map[int]int64
	max  int
}

func newFixture(version string) *fixture {
	f := &fixture{offs: make(map[int]int64)}
	fmt.Fprintf(&f.buf, "%%PDF-%s\n", version)
	return f
}

func (f *fixture) obj(num int, body string) {
	f.offs[num] = int64(f.buf.Len())
	if num > f.max {
		f.max = num
	}
	fmt.Fprintf(&f.buf, "%d 0 obj\n%s\nendobj\n", num, body)
}

func (f *fixture) stream(num int, entries string, data []byte) {
	f.offs[num] = int64(f.buf.Len())
	if num > f.max {
		f.max = num
	}
	fmt.Fprintf(&f.buf, "%d 0 obj\n<< %s /Length %d >>\nstream\n", num, entries, len(data))
	f.buf.Write(data)
	f.buf.WriteString("\nendstream\nendobj\n")
}

func (f *fixture) bytes(trailerExtra string) []byte {
	xref := f.buf.Len()
	fmt.Fprintf(&f.buf, "xref\n0 %d\n0000000000 65535 f \n", f.max+1)
	for n := 1; n <= f.max; n++ {
		if off, ok := f.offs[n]; ok {
			fmt.Fprintf(&f.buf, "%010d 00000 n \n", off)
		} else {
			f.buf.WriteString("0000000000 65535 f \n")
		}
	}
	fmt.Fprintf(&f.buf, "trailer\n<< /Size %d /Root 1 0 R %s>>\nstartxref\n%d\n%%%%EOF\n", f.max+1, trailerExtra, xref)
	return f.buf.Bytes()
}

func buildPlainPDF() []byte {
	f := newFixture("1.6")
	f.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	f.obj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 /MediaBox [0 0 200 300] /Rotate 90 >>")
	f.obj(3, "<< /Type /Page /Parent 2 0 R /Contents 4 0 R >>")
	f.stream(4, "", []byte("BT (Hello from page one) Tj ET"))
	f.obj(5, "<< /Title (Native Engine) /Author (QA) >>")
	return f.bytes("/Info 5 0 R ")
}

func buildEncryptedPDF(t *testing.T, perms security.Permissions) []byte {
	t.Helper()
	fileID := bytes.Repeat([]byte{0x42}, 16)
	encDict, err := security.BuildStandardEncryption("user", "owner", perms, fileID, 3, true)
	if err != nil {
		t.Fatalf("build encryption: %v", err)
	}
	handler, err := (&security.HandlerBuilder{}).WithEncryptDict(encDict).WithFileID(fileID).Build()
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	if err := handler.Authenticate("user"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	title, err := handler.Encrypt(5, 0, []byte("Locked"), security.DataClassString)
	if err != nil {
		t.Fatalf("encrypt title: %v", err)
	}
	content, err := handler.Encrypt(4, 0, []byte("BT (secret) Tj ET"), security.DataClassStream)
	if err != nil {
		t.Fatalf("encrypt content: %v", err)
	}

	strEntry := func(key string) []byte {
		v, ok := encDict.Get(object.NameLiteral(key))
		if !ok {
			t.Fatalf("encryption dictionary lacks %s", key)
		}
		return v.(object.String).Value()
	}
	pVal, _ := encDict.Get(object.NameLiteral("P"))

	f := newFixture("1.4")
	f.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	f.obj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	f.obj(3, "<< /Type /Page /Parent 2 0 R /Contents 4 0 R >>")
	f.stream(4, "", content)
	f.obj(5, fmt.Sprintf("<< /Title <%X> >>", title))
	f.obj(6, fmt.Sprintf("<< /Filter /Standard /V 2 /R 3 /Length 128 /O <%X> /U <%X> /P %d >>",
		strEntry("O"), strEntry("U"), pVal.(object.Number).Int()))
	return f.bytes(fmt.Sprintf("/Info 5 0 R /Encrypt 6 0 R /ID [<%X> <%X>] ", fileID, fileID))
}

func loadTemp(t *testing.T, data []byte, opts document.Options) (*document.Document, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pdf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	src, err := fdio.OpenFileReader(path)
	if err != nil {
		t.Fatalf("OpenFileReader: %v", err)
	}
	return document.Load(context.Background(), src, opts)
}

func TestOpenThroughFacade(t *testing.T) {
	doc, err := loadTemp(t, buildPlainPDF(), document.Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer doc.Close()
	ctx := context.Background()

	if got := doc.PageCount(); got != 1 {
		t.Fatalf("PageCount = %d", got)
	}
	if got := doc.Version(); got != "1.6" {
		t.Errorf("Version = %q", got)
	}
	if doc.Encrypted() {
		t.Error("plain file reports encryption")
	}
	meta := doc.Metadata()
	if meta.Title != "Native Engine" || meta.Author != "QA" {
		t.Errorf("Metadata = %+v", meta)
	}

	p, err := doc.GetPage(ctx, 0, true)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if w, h := p.Size(); w != 200 || h != 300 {
		t.Errorf("Size = %gx%g", w, h)
	}
	if got := p.Rotation(); got != 90 {
		t.Errorf("Rotation = %d", got)
	}
	text, err := p.Text(ctx)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if text != "Hello from page one" {
		t.Errorf("Text = %q", text)
	}
}

func TestEncryptedTriState(t *testing.T) {
	data := buildEncryptedPDF(t, security.Permissions{Print: true})

	_, err := loadTemp(t, data, document.Options{})
	if !errors.Is(err, document.ErrPasswordRequired) {
		t.Fatalf("no password err = %v", err)
	}
	if got := document.StatusOf(err); got != document.StatusPasswordRequired {
		t.Errorf("StatusOf = %v", got)
	}

	_, err = loadTemp(t, data, document.Options{Password: "nope"})
	if !errors.Is(err, document.ErrPasswordRequired) {
		t.Fatalf("wrong password err = %v", err)
	}

	doc, err := loadTemp(t, data, document.Options{Password: "user"})
	if err != nil {
		t.Fatalf("Load with password: %v", err)
	}
	defer doc.Close()
	if !doc.Encrypted() {
		t.Error("Encrypted = false")
	}
	perms := doc.Permissions()
	if !perms.Print || perms.Copy {
		t.Errorf("Permissions = %+v", perms)
	}
	if got := doc.Metadata().Title; got != "Locked" {
		t.Errorf("Title = %q", got)
	}
	p, err := doc.GetPage(context.Background(), 0, false)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	defer p.Close()
	if text, err := p.Text(context.Background()); err != nil || text != "secret" {
		t.Errorf("Text = %q, %v", text, err)
	}
}

func TestSaveCopyPermissionGate(t *testing.T) {
	ctx := context.Background()

	denied, err := loadTemp(t, buildEncryptedPDF(t, security.Permissions{Print: true}), document.Options{Password: "user"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer denied.Close()
	if err := denied.SaveCopy(ctx, &bytes.Buffer{}); !errors.Is(err, ErrCopyDenied) {
		t.Errorf("SaveCopy without Copy permission err = %v", err)
	}

	allowed, err := loadTemp(t, buildEncryptedPDF(t, security.Permissions{Print: true, Copy: true}), document.Options{Password: "user"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer allowed.Close()
	var out bytes.Buffer
	if err := allowed.SaveCopy(ctx, &out); err != nil {
		t.Fatalf("SaveCopy: %v", err)
	}

	// The copy opens with no password and keeps the content.
	copyDoc, err := loadTemp(t, out.Bytes(), document.Options{})
	if err != nil {
		t.Fatalf("Load copy: %v", err)
	}
	defer copyDoc.Close()
	if copyDoc.Encrypted() {
		t.Error("copy still encrypted")
	}
	if got := copyDoc.Metadata().Title; got != "Locked" {
		t.Errorf("copy Title = %q", got)
	}
	p, err := copyDoc.GetPage(ctx, 0, false)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	defer p.Close()
	if text, _ := p.Text(ctx); text != "secret" {
		t.Errorf("copy Text = %q", text)
	}
}

func TestSaveCopyPlain(t *testing.T) {
	doc, err := loadTemp(t, buildPlainPDF(), document.Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer doc.Close()

	var out bytes.Buffer
	if err := doc.SaveCopy(context.Background(), &out); err != nil {
		t.Fatalf("SaveCopy: %v", err)
	}
	if !bytes.HasPrefix(out.Bytes(), []byte("%PDF-")) {
		t.Fatalf("copy starts with %q", out.Bytes()[:8])
	}
	copyDoc, err := loadTemp(t, out.Bytes(), document.Options{})
	if err != nil {
		t.Fatalf("Load copy: %v", err)
	}
	defer copyDoc.Close()
	if got := copyDoc.PageCount(); got != 1 {
		t.Errorf("copy PageCount = %d", got)
	}
}

func TestRepairedLoadWithLenientRecovery(t *testing.T) {
	data := bytes.Replace(buildPlainPDF(), []byte("startxref\n"), []byte("startxref\n999999 "), 1)

	if _, err := loadTemp(t, data, document.Options{}); err == nil {
		t.Fatal("strict load survived a corrupt startxref")
	}
	if _, err := loadTemp(t, data, document.Options{}); document.StatusOf(err) != document.StatusError {
		t.Errorf("StatusOf = %v, want error", document.StatusOf(err))
	}

	doc, err := loadTemp(t, data, document.Options{Recovery: recovery.NewLenientStrategy()})
	if err != nil {
		t.Fatalf("lenient load: %v", err)
	}
	defer doc.Close()
	if got := doc.PageCount(); got != 1 {
		t.Errorf("PageCount = %d", got)
	}
}

func TestRenderGeometry(t *testing.T) {
	doc, err := loadTemp(t, buildPlainPDF(), document.Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer doc.Close()
	ctx := context.Background()

	p, err := doc.GetPage(ctx, 0, false)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	defer p.Close()

	// 200x300 page rotated 90 presents as 300x200.
	img, err := p.Render(ctx, document.RenderOptions{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 300 || b.Dy() != 200 {
		t.Errorf("bounds = %v", b)
	}
	r, g, b, a := img.At(10, 10).RGBA()
	if r != 0xFFFF || g != 0xFFFF || b != 0xFFFF || a != 0xFFFF {
		t.Errorf("canvas pixel = %v", color.RGBA64{R: uint16(r), G: uint16(g), B: uint16(b), A: uint16(a)})
	}

	img, err = p.Render(ctx, document.RenderOptions{DPI: 144})
	if err != nil {
		t.Fatalf("Render at 144 dpi: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 600 || b.Dy() != 400 {
		t.Errorf("144 dpi bounds = %v", b)
	}

	img, err = p.Render(ctx, document.RenderOptions{MaxWidth: 150})
	if err != nil {
		t.Fatalf("Render fitted: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 150 || b.Dy() != 100 {
		t.Errorf("fitted bounds = %v", b)
	}

	if _, err := p.Render(ctx, document.RenderOptions{Scale: 100}); err == nil {
		t.Error("oversized render did not fail")
	}
}

func TestRegisteredAsDefault(t *testing.T) {
	if _, ok := document.LookupEngine("native"); !ok {
		t.Fatal("native engine not registered")
	}
	if document.DefaultEngine() == nil {
		t.Fatal("no default engine")
	}
}
