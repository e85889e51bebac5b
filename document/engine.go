package document

import (
	"context"
	"image"
	"io"
	"sort"
	"sync"

	"github.com/wudi/pdfdoc/extractor"
	"github.com/wudi/pdfdoc/observability"
	"github.com/wudi/pdfdoc/recovery"
	"github.com/wudi/pdfdoc/security"
)

// EngineOptions carries the load options an engine may honor. Engines
// ignore fields they have no use for.
type EngineOptions struct {
	Password string
	Logger   observability.Logger
	Recovery recovery.Strategy
	Limits   security.Limits
}

// Engine opens documents from a byte source. Open must never close
// src; descriptor lifetime belongs to the Document above it.
type Engine interface {
	Open(ctx context.Context, src io.ReaderAt, size int64, opts EngineOptions) (EngineDocument, error)
}

// EngineDocument is one open file inside an engine.
type EngineDocument interface {
	PageCount() int
	Page(ctx context.Context, index int) (EnginePage, error)
	Close() error
}

// EnginePage is one loaded page. Size is in PDF units (1/72 inch) with
// rotation not applied; Rotation is the normalized multiple of 90.
type EnginePage interface {
	Index() int
	Size() (float64, float64)
	Rotation() int
	Close() error
}

// Optional engine capabilities, type-asserted by the Document facade.
type (
	MetadataProvider interface{ Metadata() Metadata }

	PermissionsProvider interface {
		Encrypted() bool
		Permissions() security.Permissions
	}

	VersionProvider interface{ Version() string }

	CopySaver interface {
		SaveCopy(ctx context.Context, w io.Writer) error
	}
)

// RenderOptions controls page rasterization.
type RenderOptions struct {
	// Scale multiplies the page's native 72 dpi size. Zero means 1.
	Scale float64
	// DPI overrides Scale when positive: Scale becomes DPI / 72.
	DPI float64
	// MaxWidth and MaxHeight, when positive, bound the output and the
	// raster is downscaled preserving aspect ratio.
	MaxWidth  int
	MaxHeight int
}

// PageImage is an image extracted from a page's resources.
type PageImage = extractor.PageImage

// Optional page capabilities.
type (
	Renderer interface {
		Render(ctx context.Context, opts RenderOptions) (image.Image, error)
	}

	TextProvider interface {
		Text(ctx context.Context) (string, error)
	}

	ImageProvider interface {
		Images(ctx context.Context) ([]PageImage, error)
	}
)

var (
	enginesMu sync.RWMutex
	engines   = make(map[string]Engine)
)

// RegisterEngine makes an engine available to Load by name. It is
// intended to be called from engine package init functions and panics
// on a duplicate or nil registration, like database/sql.Register.
func RegisterEngine(name string, e Engine) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	if e == nil {
		panic("document: RegisterEngine with nil engine")
	}
	if _, dup := engines[name]; dup {
		panic("document: RegisterEngine called twice for " + name)
	}
	engines[name] = e
}

// LookupEngine returns a registered engine by name.
func LookupEngine(name string) (Engine, bool) {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	e, ok := engines[name]
	return e, ok
}

// Engines lists the registered engine names, sorted.
func Engines() []string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultEngine returns the engine named "native" when registered,
// otherwise the sole registered engine, otherwise nil.
func DefaultEngine() Engine {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	if e, ok := engines["native"]; ok {
		return e
	}
	if len(engines) == 1 {
		for _, e := range engines {
			return e
		}
	}
	return nil
}
