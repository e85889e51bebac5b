package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/wudi/pdfdoc/document"
	_ "github.com/wudi/pdfdoc/engine/native"
	"github.com/wudi/pdfdoc/fdio"
)

type options struct {
	pdfPath  string
	password string
	pages    bool
	meta     bool
	jsonOut  bool
	savePath string
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfinfo: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "pdfinfo: %v\n", err)
		if errors.Is(err, document.ErrPasswordRequired) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: go run ./cmd/pdfinfo [flags] <pdf>\n")
		flag.PrintDefaults()
	}
	password := flag.String("password", "", "Password to open encrypted PDFs")
	pages := flag.Bool("pages", false, "List per-page geometry")
	meta := flag.Bool("meta", false, "Include document metadata")
	jsonOut := flag.Bool("json", false, "Emit one JSON object instead of text")
	savePath := flag.String("save-decrypted", "", "Write a decrypted copy to PATH")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return options{}, fmt.Errorf("missing pdf path")
	}
	opts.pdfPath = flag.Arg(0)
	opts.password = *password
	opts.pages = *pages
	opts.meta = *meta
	opts.jsonOut = *jsonOut
	opts.savePath = *savePath
	return opts, nil
}

type report struct {
	File        string       `json:"file"`
	Status      string       `json:"status"`
	Version     string       `json:"version,omitempty"`
	PageCount   int          `json:"pageCount"`
	Encrypted   bool         `json:"encrypted"`
	Permissions []string     `json:"permissions,omitempty"`
	Metadata    *metaReport  `json:"metadata,omitempty"`
	Pages       []pageReport `json:"pages,omitempty"`
}

type metaReport struct {
	Title        string   `json:"title,omitempty"`
	Author       string   `json:"author,omitempty"`
	Subject      string   `json:"subject,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
	Creator      string   `json:"creator,omitempty"`
	Producer     string   `json:"producer,omitempty"`
	CreationDate string   `json:"creationDate,omitempty"`
	ModDate      string   `json:"modDate,omitempty"`
}

type pageReport struct {
	Index    int     `json:"index"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation int     `json:"rotation"`
}

func run(opts options) error {
	ctx := context.Background()

	src, err := fdio.OpenFileReader(opts.pdfPath)
	if err != nil {
		return fmt.Errorf("open pdf: %w", err)
	}
	doc, err := document.Load(ctx, src, document.Options{Password: opts.password})
	if err != nil {
		emit(opts, report{File: opts.pdfPath, Status: document.StatusOf(err).String()})
		return fmt.Errorf("load pdf: %w", err)
	}
	defer doc.Close()

	rep := report{
		File:      opts.pdfPath,
		Status:    document.StatusLoaded.String(),
		Version:   doc.Version(),
		PageCount: doc.PageCount(),
		Encrypted: doc.Encrypted(),
	}
	if rep.Encrypted {
		rep.Permissions = permissionNames(doc)
	}
	if opts.meta {
		rep.Metadata = collectMetadata(doc)
	}
	if opts.pages {
		pages, err := collectPages(ctx, doc)
		if err != nil {
			return err
		}
		rep.Pages = pages
	}
	emit(opts, rep)

	if opts.savePath != "" {
		if err := saveCopy(ctx, doc, opts.savePath); err != nil {
			return err
		}
	}
	return nil
}

func permissionNames(doc *document.Document) []string {
	perms := doc.Permissions()
	var names []string
	for _, p := range []struct {
		name string
		set  bool
	}{
		{"print", perms.Print},
		{"modify", perms.Modify},
		{"copy", perms.Copy},
		{"annotate", perms.ModifyAnnotations},
		{"fill-forms", perms.FillForms},
		{"extract-accessible", perms.ExtractAccessible},
		{"assemble", perms.Assemble},
		{"print-high-quality", perms.PrintHighQuality},
	} {
		if p.set {
			names = append(names, p.name)
		}
	}
	return names
}

func collectMetadata(doc *document.Document) *metaReport {
	meta := doc.Metadata()
	rep := &metaReport{
		Title:    meta.Title,
		Author:   meta.Author,
		Subject:  meta.Subject,
		Keywords: meta.Keywords,
		Creator:  meta.Creator,
		Producer: meta.Producer,
	}
	if !meta.CreationDate.IsZero() {
		rep.CreationDate = meta.CreationDate.Format("2006-01-02T15:04:05Z07:00")
	}
	if !meta.ModDate.IsZero() {
		rep.ModDate = meta.ModDate.Format("2006-01-02T15:04:05Z07:00")
	}
	return rep
}

func collectPages(ctx context.Context, doc *document.Document) ([]pageReport, error) {
	reports := make([]pageReport, 0, doc.PageCount())
	for i := 0; i < doc.PageCount(); i++ {
		page, err := doc.GetPage(ctx, i, false)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		w, h := page.Size()
		reports = append(reports, pageReport{Index: i, Width: w, Height: h, Rotation: page.Rotation()})
		if err := page.Close(); err != nil {
			return nil, fmt.Errorf("close page %d: %w", i, err)
		}
	}
	return reports, nil
}

func saveCopy(ctx context.Context, doc *document.Document, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create copy: %w", err)
	}
	if err := doc.SaveCopy(ctx, out); err != nil {
		out.Close()
		return fmt.Errorf("save copy: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close copy: %w", err)
	}
	fmt.Printf("decrypted copy written to %s\n", path)
	return nil
}

func emit(opts options, rep report) {
	if opts.jsonOut {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "pdfinfo: marshal report: %v\n", err)
			return
		}
		fmt.Printf("%s\n", data)
		return
	}
	fmt.Printf("file:      %s\n", rep.File)
	fmt.Printf("status:    %s\n", rep.Status)
	if rep.Status != document.StatusLoaded.String() {
		return
	}
	fmt.Printf("version:   %s\n", rep.Version)
	fmt.Printf("pages:     %d\n", rep.PageCount)
	fmt.Printf("encrypted: %t\n", rep.Encrypted)
	if rep.Encrypted {
		fmt.Printf("allowed:   %s\n", strings.Join(rep.Permissions, ", "))
	}
	if rep.Metadata != nil {
		m := rep.Metadata
		fmt.Printf("title:     %s\n", m.Title)
		fmt.Printf("author:    %s\n", m.Author)
		if m.Subject != "" {
			fmt.Printf("subject:   %s\n", m.Subject)
		}
		if len(m.Keywords) > 0 {
			fmt.Printf("keywords:  %s\n", strings.Join(m.Keywords, ", "))
		}
		if m.Creator != "" {
			fmt.Printf("creator:   %s\n", m.Creator)
		}
		if m.Producer != "" {
			fmt.Printf("producer:  %s\n", m.Producer)
		}
		if m.CreationDate != "" {
			fmt.Printf("created:   %s\n", m.CreationDate)
		}
		if m.ModDate != "" {
			fmt.Printf("modified:  %s\n", m.ModDate)
		}
	}
	for _, p := range rep.Pages {
		fmt.Printf("page %-4d  %.0f x %.0f pt, rotation %d\n", p.Index, p.Width, p.Height, p.Rotation)
	}
}
