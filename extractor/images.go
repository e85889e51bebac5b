package extractor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"sort"

	"github.com/wudi/pdfdoc/filters"
	"github.com/wudi/pdfdoc/object"
)

// Raster assembly caps. A claimed geometry past these is treated as
// undecodable and the image is reported metadata-only.
const (
	maxImageDimension       = 32768
	maxImagePixels    int64 = 64 * 1024 * 1024
)

// PageImage is one image XObject reachable from a page's resources.
type PageImage struct {
	Name             string
	Format           string
	Width            int
	Height           int
	BitsPerComponent int
	ColorSpace       string
	Filters          []string

	// Image is the decoded raster. It is nil when no decoder covers
	// the format, for example JPXDecode or an exotic color space.
	Image image.Image
	// Data is the post-filter stream payload: pixel samples for raw
	// images, a complete JPEG file for DCTDecode.
	Data []byte
}

// PNG encodes the decoded raster as a PNG file.
func (p PageImage) PNG() ([]byte, error) {
	if p.Image == nil {
		return nil, fmt.Errorf("extractor: image %s has no decoded raster", p.Name)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, p.Image); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PageImages lists the image XObjects reachable from the page's
// resource dictionary, ordered by resource name at each level. Form
// XObjects are descended into and their images reported under a
// slash-joined name such as "Fm0/Im1". Entries that fail to decode
// keep their metadata and carry a nil Image.
func (e *Extractor) PageImages(ctx context.Context, pageIndex int) ([]PageImage, error) {
	page, err := e.page(pageIndex)
	if err != nil {
		return nil, err
	}
	if page.Resources == nil {
		return nil, nil
	}
	resolve := e.doc.Resolver(ctx)
	xobjs := resolvedDict(resolve, page.Resources, "XObject")
	if xobjs == nil {
		return nil, nil
	}

	maxDepth := e.doc.Limits().MaxXObjectDepth
	if maxDepth <= 0 {
		maxDepth = 20
	}
	var out []PageImage
	e.collectImages(ctx, resolve, xobjs, "", make(map[object.Ref]bool), 0, maxDepth, &out)
	return out, nil
}

// collectImages appends the image entries of one XObject dictionary,
// descending into Form XObjects. Each form is descended at most once,
// and forms nested past maxDepth levels are skipped.
func (e *Extractor) collectImages(ctx context.Context, resolve object.Resolver, xobjs *object.DictObj, prefix string, visited map[object.Ref]bool, depth, maxDepth int, out *[]PageImage) {
	names := make([]string, 0, xobjs.Len())
	for _, k := range xobjs.Keys() {
		names = append(names, k.Value())
	}
	sort.Strings(names)

	for _, name := range names {
		v, _ := xobjs.Get(object.NameLiteral(name))
		r, err := resolve(v)
		if err != nil {
			continue
		}
		st, ok := r.(*object.StreamObj)
		if !ok {
			continue
		}
		sub, _ := st.Dict.Get(object.NameLiteral("Subtype"))
		switch nameValue(sub) {
		case "Image":
			*out = append(*out, e.buildImage(ctx, resolve, prefix+name, st))
		case "Form":
			if depth+1 > maxDepth {
				continue
			}
			if ref, ok := v.(object.Reference); ok {
				if visited[ref.Ref()] {
					continue
				}
				visited[ref.Ref()] = true
			}
			res := resolvedDict(resolve, st.Dict, "Resources")
			if res == nil {
				continue
			}
			if nested := resolvedDict(resolve, res, "XObject"); nested != nil {
				e.collectImages(ctx, resolve, nested, prefix+name+"/", visited, depth+1, maxDepth, out)
			}
		}
	}
}

func (e *Extractor) buildImage(ctx context.Context, resolve object.Resolver, name string, st *object.StreamObj) PageImage {
	dict := st.Dict
	img := PageImage{
		Name:             name,
		Format:           "raw",
		Width:            resolvedInt(resolve, dict, "Width", 0),
		Height:           resolvedInt(resolve, dict, "Height", 0),
		BitsPerComponent: resolvedInt(resolve, dict, "BitsPerComponent", 8),
		ColorSpace:       colorSpaceName(resolve, dict),
	}
	img.Filters, _ = filters.ExtractFilters(dict)

	data, err := e.doc.DecodeStream(ctx, st)
	if err != nil {
		return img
	}
	img.Data = data

	switch {
	case hasFilter(img.Filters, "DCTDecode"):
		img.Format = "jpeg"
		if m, err := jpeg.Decode(bytes.NewReader(data)); err == nil {
			img.Image = m
		}
	case hasFilter(img.Filters, "JPXDecode"):
		img.Format = "jp2"
	default:
		img.Image = rasterize(img, data)
	}
	return img
}

// rasterize builds an image.Image from raw samples. Covered layouts
// are 8-bit DeviceGray, 8-bit DeviceRGB, and 1-bit packed rows as
// produced by CCITTFaxDecode and bilevel masks.
func rasterize(meta PageImage, data []byte) image.Image {
	w, h := meta.Width, meta.Height
	if err := validateImageBounds(w, h); err != nil {
		return nil
	}
	switch {
	case meta.BitsPerComponent == 8 && meta.ColorSpace == "DeviceGray":
		if len(data) < w*h {
			return nil
		}
		m := image.NewGray(image.Rect(0, 0, w, h))
		copy(m.Pix, data[:w*h])
		return m
	case meta.BitsPerComponent == 8 && meta.ColorSpace == "DeviceRGB":
		if len(data) < w*h*3 {
			return nil
		}
		m := image.NewRGBA(image.Rect(0, 0, w, h))
		for i := 0; i < w*h; i++ {
			m.Pix[i*4+0] = data[i*3+0]
			m.Pix[i*4+1] = data[i*3+1]
			m.Pix[i*4+2] = data[i*3+2]
			m.Pix[i*4+3] = 0xFF
		}
		return m
	case meta.BitsPerComponent == 1:
		stride := (w + 7) / 8
		if len(data) < stride*h {
			return nil
		}
		m := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			row := data[y*stride:]
			for x := 0; x < w; x++ {
				if row[x/8]&(1<<(7-x%8)) != 0 {
					m.Pix[y*w+x] = 0xFF
				}
			}
		}
		return m
	}
	return nil
}

func validateImageBounds(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("invalid image size %dx%d", w, h)
	}
	if w > maxImageDimension || h > maxImageDimension {
		return fmt.Errorf("image dimension %dx%d exceeds %d", w, h, maxImageDimension)
	}
	if int64(w)*int64(h) > maxImagePixels {
		return fmt.Errorf("image area %dx%d exceeds pixel limit", w, h)
	}
	return nil
}

// colorSpaceName reduces a ColorSpace entry to a name. Families given
// as arrays, such as ICCBased and Indexed, report the family name.
func colorSpaceName(resolve object.Resolver, dict object.Dictionary) string {
	v, ok := dict.Get(object.NameLiteral("ColorSpace"))
	if !ok {
		return ""
	}
	r, err := resolve(v)
	if err != nil {
		return ""
	}
	switch cs := r.(type) {
	case object.Name:
		return cs.Value()
	case *object.ArrayObj:
		if len(cs.Items) > 0 {
			return nameValue(cs.Items[0])
		}
	}
	return ""
}

func nameValue(v object.Object) string {
	if n, ok := v.(object.Name); ok {
		return n.Value()
	}
	return ""
}

func hasFilter(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}
