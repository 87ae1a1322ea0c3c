// Package optimize downloads a source image and re-encodes it at a bounded width.
package optimize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"

	"github.com/cheahjs/og-image-proxy/internal/fetch"
	"github.com/cheahjs/og-image-proxy/internal/ogimage"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrImageTooLarge     = errors.New("image dimensions too large")
)

// FormatAuto keeps the source image's format.
const FormatAuto = "auto"

type Options struct {
	JPEGQuality int
	WebPQuality float32
	// MaxPixels bounds width*height of a source image before it is decoded.
	MaxPixels int
}

func DefaultOptions() Options {
	return Options{
		JPEGQuality: 85,
		WebPQuality: 80,
		MaxPixels:   40_000_000,
	}
}

// ImageFetcher is the part of fetch.Fetcher the optimizer needs.
type ImageFetcher interface {
	Get(ctx context.Context, rawURL string) (*fetch.Document, error)
}

type Optimizer struct {
	fetcher ImageFetcher
	opts    Options
}

func New(fetcher ImageFetcher, opts Options) *Optimizer {
	return &Optimizer{fetcher: fetcher, opts: opts}
}

// Optimize fetches imageURL and encodes it into every format listed in format (comma separated,
// e.g. "webp,jpeg"), in that order, downscaled to maxWidth. Images are never upscaled.
func (o *Optimizer) Optimize(ctx context.Context, imageURL, format string, maxWidth int) (*ogimage.Result, error) {
	formats, err := parseFormats(format)
	if err != nil {
		return nil, err
	}

	doc, err := o.fetcher.Get(ctx, imageURL)
	if err != nil {
		return nil, err
	}

	img, sourceFormat, err := o.decode(doc.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image from %s: %w", imageURL, err)
	}

	if maxWidth > 0 && img.Bounds().Dx() > maxWidth {
		img = imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	}

	result := ogimage.NewResult()
	for _, f := range formats {
		if f == FormatAuto {
			f = outputFormatFor(sourceFormat)
		}
		buf, err := o.encode(img, f)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", f, err)
		}
		result.Add(ogimage.Variant{
			Format:     f,
			SourceType: mimeTypes[f],
			Width:      img.Bounds().Dx(),
			Height:     img.Bounds().Dy(),
			Buffer:     buf,
		})
	}
	return result, nil
}

func (o *Optimizer) decode(data []byte) (image.Image, string, error) {
	cfg, sourceFormat, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	if o.opts.MaxPixels > 0 && cfg.Width*cfg.Height > o.opts.MaxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", err
	}
	return img, sourceFormat, nil
}

func (o *Optimizer) encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case "png":
		err = imaging.Encode(&buf, img, imaging.PNG)
	case "jpeg":
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(o.opts.JPEGQuality))
	case "gif":
		err = imaging.Encode(&buf, img, imaging.GIF)
	case "webp":
		err = webp.Encode(&buf, img, &webp.Options{Quality: o.opts.WebPQuality})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var mimeTypes = map[string]string{
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
}

var formatAliases = map[string]string{
	"jpg": "jpeg",
}

func parseFormats(format string) ([]string, error) {
	var formats []string
	seen := make(map[string]bool)
	for _, f := range strings.Split(format, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if alias, ok := formatAliases[f]; ok {
			f = alias
		}
		if f == "" || seen[f] {
			continue
		}
		if _, ok := mimeTypes[f]; !ok && f != FormatAuto {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
		}
		seen[f] = true
		formats = append(formats, f)
	}
	if len(formats) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return formats, nil
}

// outputFormatFor maps a decoder name to a format we can encode.
func outputFormatFor(sourceFormat string) string {
	if _, ok := mimeTypes[sourceFormat]; ok {
		return sourceFormat
	}
	return "png"
}
