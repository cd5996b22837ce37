package pixel

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

var (
	// ErrDecode is returned when bytes cannot be decoded as a supported image.
	ErrDecode = errors.New("invalid image data")
	// ErrTooLarge is returned when an image declares more pixels than allowed.
	ErrTooLarge = errors.New("image dimensions exceed limit")
)

// Config describes an encoded image without decoding its pixels.
type Config struct {
	Format string
	Width  int
	Height int
}

// Decode reads an encoded image and returns its pixel buffer. EXIF orientation
// is applied so buffers are always upright.
func Decode(r io.Reader) (*Buffer, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}
	return FromImage(img), nil
}

// DecodeBytes is Decode over an in-memory payload.
func DecodeBytes(data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	return Decode(bytes.NewReader(data))
}

// DecodeConfig reports the format and dimensions of an encoded image.
func DecodeConfig(data []byte) (Config, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return Config{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// CheckDimensions reads only the header of data and rejects images that
// declare more than maxPixels pixels, before any pixel memory is allocated.
// A maxPixels of zero disables the limit.
func CheckDimensions(data []byte, maxPixels int64) (Config, error) {
	cfg, err := DecodeConfig(data)
	if err != nil {
		return Config{}, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Config{}, fmt.Errorf("%w: empty image", ErrDecode)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return cfg, fmt.Errorf("%w: %dx%d is above %d pixels", ErrTooLarge, cfg.Width, cfg.Height, maxPixels)
	}
	return cfg, nil
}
