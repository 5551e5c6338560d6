// Package imageprep shrinks photos of exam papers before upload.
package imageprep

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxDimension = 2048
	DefaultQuality      = 85
)

// ErrNotImage is returned for inputs that should be uploaded untouched.
var ErrNotImage = errors.New("not a decodable image")

// Result is a downsized image.
type Result struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
}

// Downsize scales data so that neither side exceeds maxDim and re-encodes it
// as JPEG. Images already within bounds, or whose re-encoding would not be
// smaller, come back unchanged. Callers upload the original bytes whenever an
// error is returned.
func Downsize(data []byte, mimeType string, maxDim, quality int) (Result, error) {
	if !strings.HasPrefix(strings.ToLower(mimeType), "image/") {
		return Result{}, fmt.Errorf("%w: %s", ErrNotImage, mimeType)
	}
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrNotImage, err)
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return Result{Data: data, MIMEType: mimeType, Width: w, Height: h}, nil
	}

	nw, nh := fit(w, h, maxDim)
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return Result{}, fmt.Errorf("encode jpeg: %w", err)
	}
	if buf.Len() >= len(data) {
		return Result{Data: data, MIMEType: mimeType, Width: w, Height: h}, nil
	}
	return Result{Data: buf.Bytes(), MIMEType: "image/jpeg", Width: nw, Height: nh}, nil
}

// fit scales w×h down so the longer side equals maxDim, keeping the aspect ratio.
func fit(w, h, maxDim int) (int, int) {
	if w >= h {
		return maxDim, max(1, h*maxDim/w)
	}
	return max(1, w*maxDim/h), maxDim
}
