package parser

import (
	"bytes"
	"context"
	"testing"

	"github.com/wudi/pdfdoc/recovery"
)

func FuzzParse(f *testing.F) {
	f.Add(buildTwoPagePDF())
	f.Add(buildObjStmPDF())
	f.Add([]byte("%PDF-1.7\n1 0 obj\n<< /Type /Catalog >>\nendobj\nstartxref\n9\n%%EOF"))
	f.Add([]byte("%PDF-\nxref\ntrailer\nstartxref\n0"))

	f.Fuzz(func(t *testing.T, data []byte) {
		r := bytes.NewReader(data)
		for _, strat := range []recovery.Strategy{
			recovery.NewStrictStrategy(),
			recovery.NewLenientStrategy(),
		} {
			p := NewDocumentParser(Config{Recovery: strat})
			_, _ = p.Parse(context.Background(), r, int64(len(data)))
		}
	})
}
