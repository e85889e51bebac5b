package writer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/wudi/pdfdoc/object"
	"github.com/wudi/pdfdoc/observability"
	"github.com/wudi/pdfdoc/parser"
)

type docWriter struct {
	cfg          Config
	log          observability.Logger
	interceptors []Interceptor
}

// staleTrailerKeys describe the source file's own layout or
// encryption and must not survive into the copy. The stream-dictionary
// keys appear when the source trailer came from an xref stream.
var staleTrailerKeys = map[string]bool{
	"Encrypt":     true,
	"Prev":        true,
	"XRefStm":     true,
	"Size":        true,
	"Type":        true,
	"W":           true,
	"Index":       true,
	"Filter":      true,
	"DecodeParms": true,
	"Length":      true,
}

func (w *docWriter) WriteDocument(ctx context.Context, doc *parser.Document, out io.Writer) (int64, error) {
	cw := &countingWriter{w: out}
	version := w.cfg.Version
	if version == "" {
		version = doc.Version
	}
	if version == "" {
		version = "1.7"
	}
	// The comment line of high bytes marks the file eight-bit clean.
	fmt.Fprintf(cw, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", version)

	table := doc.Table()
	encryptNum := -1
	if doc.Trailer != nil {
		if encObj, ok := doc.Trailer.Get(object.NameLiteral("Encrypt")); ok {
			if ref, ok := encObj.(object.RefObj); ok {
				encryptNum = ref.R.Num
			}
		}
	}

	type row struct {
		off int64
		gen int
	}
	rows := make(map[int]row)
	maxNum := 0
	for _, num := range table.Objects() {
		if err := ctx.Err(); err != nil {
			return cw.n, err
		}
		if cw.err != nil {
			return cw.n, cw.err
		}
		if num == encryptNum {
			continue
		}
		entry, ok := table.Lookup(num)
		if !ok {
			continue
		}
		ref := object.Ref{Num: num, Gen: entry.Gen}
		obj, err := doc.Object(ctx, ref)
		if err != nil {
			return cw.n, fmt.Errorf("object %d: %w", num, err)
		}
		if isStructuralStream(obj) {
			continue
		}
		for _, ic := range w.interceptors {
			if err := ic.BeforeObject(ctx, ref, obj); err != nil {
				return cw.n, err
			}
		}
		b, err := w.SerializeObject(ref, obj)
		if err != nil {
			return cw.n, fmt.Errorf("object %d: %w", num, err)
		}
		off := cw.n
		cw.Write(b)
		rows[num] = row{off: off, gen: entry.Gen}
		if num > maxNum {
			maxNum = num
		}
		for _, ic := range w.interceptors {
			if err := ic.AfterObject(ctx, ref, int64(len(b))); err != nil {
				return cw.n, err
			}
		}
	}

	xrefOff := cw.n
	fmt.Fprintf(cw, "xref\n0 %d\n", maxNum+1)
	io.WriteString(cw, "0000000000 65535 f \n")
	for num := 1; num <= maxNum; num++ {
		if r, ok := rows[num]; ok {
			fmt.Fprintf(cw, "%010d %05d n \n", r.off, r.gen)
		} else {
			io.WriteString(cw, "0000000000 65535 f \n")
		}
	}

	trailer := object.Dict()
	if doc.Trailer != nil {
		for _, k := range doc.Trailer.Keys() {
			if staleTrailerKeys[k.Value()] {
				continue
			}
			if v, ok := doc.Trailer.Get(k); ok {
				trailer.Set(k, v)
			}
		}
	}
	trailer.Set(object.NameLiteral("Size"), object.NumberInt(int64(maxNum+1)))

	io.WriteString(cw, "trailer\n")
	var tbuf bytes.Buffer
	if err := writeValue(&tbuf, trailer); err != nil {
		return cw.n, err
	}
	cw.Write(tbuf.Bytes())
	fmt.Fprintf(cw, "\nstartxref\n%d\n%%%%EOF\n", xrefOff)

	if cw.err == nil {
		w.log.Debug("document copy written",
			observability.Int("objects", len(rows)),
			observability.Int64("bytes", cw.n))
	}
	return cw.n, cw.err
}

func (w *docWriter) SerializeObject(ref object.Ref, obj object.Object) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
	if err := writeValue(&buf, obj); err != nil {
		return nil, err
	}
	buf.WriteString("\nendobj\n")
	return buf.Bytes(), nil
}

// isStructuralStream reports containers the copy must not carry:
// object streams and xref streams describe the source layout, and the
// copy indexes everything through its own classic table.
func isStructuralStream(obj object.Object) bool {
	st, ok := obj.(*object.StreamObj)
	if !ok || st.Dict == nil {
		return false
	}
	if t, ok := st.Dict.Get(object.NameLiteral("Type")); ok {
		if n, ok := t.(object.Name); ok {
			return n.Value() == "ObjStm" || n.Value() == "XRef"
		}
	}
	return false
}

func writeValue(buf *bytes.Buffer, o object.Object) error {
	switch v := o.(type) {
	case nil, object.NullObj:
		buf.WriteString("null")
	case object.NameObj:
		writeName(buf, v.Value())
	case object.NumberObj:
		writeNumber(buf, v)
	case object.BoolObj:
		buf.WriteString(strconv.FormatBool(v.Value()))
	case object.StringObj:
		writeString(buf, v)
	case object.RefObj:
		fmt.Fprintf(buf, "%d %d R", v.R.Num, v.R.Gen)
	case *object.ArrayObj:
		buf.WriteByte('[')
		for i, item := range v.Items {
			if i > 0 {
				buf.WriteByte(' ')
			}
			if err := writeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case *object.DictObj:
		return writeDict(buf, v)
	case *object.StreamObj:
		if err := writeDict(buf, streamDict(v)); err != nil {
			return err
		}
		buf.WriteString("\nstream\n")
		buf.Write(v.Data)
		buf.WriteString("\nendstream")
	default:
		return fmt.Errorf("cannot serialize %T", o)
	}
	return nil
}

// writeDict emits keys in sorted order so the same document always
// serializes to the same bytes.
func writeDict(buf *bytes.Buffer, d *object.DictObj) error {
	buf.WriteString("<<")
	keys := make([]string, 0, d.Len())
	for _, k := range d.Keys() {
		keys = append(keys, k.Value())
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteByte(' ')
		writeName(buf, k)
		buf.WriteByte(' ')
		v, _ := d.Get(object.NameLiteral(k))
		if err := writeValue(buf, v); err != nil {
			return err
		}
	}
	buf.WriteString(" >>")
	return nil
}

// streamDict clones the dictionary with /Length forced to the payload
// size. Loaded objects are shared through the cache, so the original
// is never mutated.
func streamDict(st *object.StreamObj) *object.DictObj {
	d := object.Dict()
	if st.Dict != nil {
		for _, k := range st.Dict.Keys() {
			if v, ok := st.Dict.Get(k); ok {
				d.Set(k, v)
			}
		}
	}
	d.Set(object.NameLiteral("Length"), object.NumberInt(int64(len(st.Data))))
	return d
}

func writeNumber(buf *bytes.Buffer, n object.NumberObj) {
	if n.IsInteger() {
		buf.WriteString(strconv.FormatInt(n.Int(), 10))
		return
	}
	f := n.Float()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		buf.WriteByte('0')
		return
	}
	buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
}

func writeName(buf *bytes.Buffer, name string) {
	buf.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= ' ' || c > '~' || c == '#' || isDelimiter(c) {
			fmt.Fprintf(buf, "#%02X", c)
		} else {
			buf.WriteByte(c)
		}
	}
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

const hexDigits = "0123456789ABCDEF"

// writeString keeps the source form: hex strings stay hex, literal
// strings stay literal with delimiters and carriage returns escaped.
// Decrypted payloads are raw bytes, which literal syntax tolerates.
func writeString(buf *bytes.Buffer, s object.StringObj) {
	if s.IsHex() {
		buf.WriteByte('<')
		for _, c := range s.Value() {
			buf.WriteByte(hexDigits[c>>4])
			buf.WriteByte(hexDigits[c&0xF])
		}
		buf.WriteByte('>')
		return
	}
	buf.WriteByte('(')
	for _, c := range s.Value() {
		switch c {
		case '(', ')', '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\r':
			buf.WriteString(`\r`)
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte(')')
}

// countingWriter latches the first error so the emit path can defer
// checking to section boundaries.
type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}
