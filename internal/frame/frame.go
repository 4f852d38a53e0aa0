// File: internal/frame/frame.go
package frame

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png" // PNG screenshots from the bridge viewer.
	"io"
	"strings"

	"github.com/xkilldash9x/herobine/api/schemas"
	"golang.org/x/image/draw"
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 90

// Placeholder returns the all-black frame substituted whenever a capture fails.
func Placeholder(height, width int) schemas.Frame {
	return schemas.NewBlackFrame(height, width)
}

// FromImage packs any image into an RGB frame without changing its size.
func FromImage(img image.Image) schemas.Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	f := schemas.Frame{Width: w, Height: h, Pix: make([]byte, w*h*3)}

	// Fast path for the common decoder outputs.
	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < h; y++ {
			off := rgba.PixOffset(b.Min.X, b.Min.Y+y)
			src := rgba.Pix[off : off+w*4]
			dst := f.Pix[y*w*3 : (y+1)*w*3]
			for x := 0; x < w; x++ {
				dst[x*3] = src[x*4]
				dst[x*3+1] = src[x*4+1]
				dst[x*3+2] = src[x*4+2]
			}
		}
		return f
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			f.Pix[i], f.Pix[i+1], f.Pix[i+2] = c.R, c.G, c.B
			i += 3
		}
	}
	return f
}

// ToImage unpacks a frame into an RGBA image. An invalid frame yields an empty image.
func ToImage(f schemas.Frame) *image.RGBA {
	if !f.Valid() {
		return image.NewRGBA(image.Rectangle{})
	}
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for p, q := 0, 0; p < len(f.Pix); p, q = p+3, q+4 {
		img.Pix[q] = f.Pix[p]
		img.Pix[q+1] = f.Pix[p+1]
		img.Pix[q+2] = f.Pix[p+2]
		img.Pix[q+3] = 0xff
	}
	return img
}

// Resize scales a frame to height x width. A frame that already matches is returned as is.
func Resize(f schemas.Frame, height, width int) schemas.Frame {
	if f.Height == height && f.Width == width {
		return f
	}
	if !f.Valid() {
		return Placeholder(height, width)
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), ToImage(f), image.Rect(0, 0, f.Width, f.Height), draw.Src, nil)
	return FromImage(dst)
}

// ErrTooLarge is returned for images or rasters beyond schemas.MaxFrameDimension.
var ErrTooLarge = errors.New("image dimensions exceed the frame limit")

func checkDimensions(height, width int) error {
	if height > schemas.MaxFrameDimension || width > schemas.MaxFrameDimension {
		return fmt.Errorf("%w: %dx%d", ErrTooLarge, width, height)
	}
	return nil
}

// Decode reads an encoded JPEG or PNG image and resizes it to height x width.
// The header is checked before any pixel buffer is allocated.
func Decode(r io.Reader, height, width int) (schemas.Frame, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return schemas.Frame{}, fmt.Errorf("failed to read image: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return schemas.Frame{}, fmt.Errorf("failed to decode image header: %w", err)
	}
	if err := checkDimensions(cfg.Height, cfg.Width); err != nil {
		return schemas.Frame{}, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return schemas.Frame{}, fmt.Errorf("failed to decode image: %w", err)
	}
	return Resize(FromImage(img), height, width), nil
}

// DecodeBase64 decodes a base64 image, optionally carrying a data URL prefix.
func DecodeBase64(encoded string, height, width int) (schemas.Frame, error) {
	if i := strings.Index(encoded, ","); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return schemas.Frame{}, fmt.Errorf("failed to decode base64 image: %w", err)
	}
	return Decode(bytes.NewReader(raw), height, width)
}

// FromRaw builds a frame from a raw H x W x C byte raster (C is 3 or 4).
func FromRaw(pix []byte, height, width, channels int) (schemas.Frame, error) {
	if channels != 3 && channels != 4 {
		return schemas.Frame{}, fmt.Errorf("unsupported channel count %d", channels)
	}
	if height <= 0 || width <= 0 {
		return schemas.Frame{}, fmt.Errorf("invalid raster size %dx%d", width, height)
	}
	if err := checkDimensions(height, width); err != nil {
		return schemas.Frame{}, err
	}
	if len(pix) != height*width*channels {
		return schemas.Frame{}, fmt.Errorf("raster of %d bytes does not match %dx%dx%d", len(pix), height, width, channels)
	}
	if channels == 3 {
		return schemas.Frame{Width: width, Height: height, Pix: append([]byte(nil), pix...)}, nil
	}
	f := schemas.Frame{Width: width, Height: height, Pix: make([]byte, height*width*3)}
	for p, q := 0, 0; q < len(pix); p, q = p+3, q+4 {
		copy(f.Pix[p:p+3], pix[q:q+3])
	}
	return f, nil
}

// EncodeJPEG writes the frame as a JPEG.
func EncodeJPEG(w io.Writer, f schemas.Frame, quality int) error {
	if !f.Valid() {
		return fmt.Errorf("cannot encode invalid frame %dx%d", f.Width, f.Height)
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return jpeg.Encode(w, ToImage(f), &jpeg.Options{Quality: quality})
}

// JPEGBytes is EncodeJPEG into a fresh buffer.
func JPEGBytes(f schemas.Frame, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeJPEG(&buf, f, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// JPEGBase64 returns the frame as a base64 JPEG, the form inference endpoints accept.
func JPEGBase64(f schemas.Frame, quality int) (string, error) {
	b, err := JPEGBytes(f, quality)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
