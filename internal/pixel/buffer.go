package pixel

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// Channel indexes within a three-channel pixel.
const (
	Blue  = 0
	Green = 1
	Red   = 2
)

// ErrInvalidBuffer is returned when a buffer's dimensions do not match its samples.
var ErrInvalidBuffer = errors.New("invalid pixel buffer")

// Buffer is a decoded image held as interleaved 8-bit samples.
type Buffer struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
}

// New allocates a zeroed buffer. Channels must be 1 or 3.
func New(width, height, channels int) (*Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidBuffer, width, height)
	}
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("%w: unsupported channel count %d", ErrInvalidBuffer, channels)
	}
	return &Buffer{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]uint8, width*height*channels),
	}, nil
}

// Validate checks that the sample slice matches the declared shape.
func (b *Buffer) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: nil buffer", ErrInvalidBuffer)
	}
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidBuffer, b.Width, b.Height)
	}
	if b.Channels != 1 && b.Channels != 3 {
		return fmt.Errorf("%w: unsupported channel count %d", ErrInvalidBuffer, b.Channels)
	}
	if len(b.Pix) != b.Width*b.Height*b.Channels {
		return fmt.Errorf("%w: have %d samples, want %d",
			ErrInvalidBuffer, len(b.Pix), b.Width*b.Height*b.Channels)
	}
	return nil
}

// Pixels returns the number of pixels in the buffer.
func (b *Buffer) Pixels() int {
	return b.Width * b.Height
}

// At returns the samples of the pixel at (x, y). The slice aliases the buffer.
func (b *Buffer) At(x, y int) []uint8 {
	i := (y*b.Width + x) * b.Channels
	return b.Pix[i : i+b.Channels]
}

// SetBGR writes one pixel of a three-channel buffer.
func (b *Buffer) SetBGR(x, y int, blue, green, red uint8) {
	p := b.At(x, y)
	p[Blue], p[Green], p[Red] = blue, green, red
}

// ToBGR returns a three-channel view of the buffer. A single-channel buffer is
// replicated into all three channels; a three-channel buffer is returned as is.
func (b *Buffer) ToBGR() *Buffer {
	if b.Channels == 3 {
		return b
	}
	out := &Buffer{
		Width:    b.Width,
		Height:   b.Height,
		Channels: 3,
		Pix:      make([]uint8, b.Pixels()*3),
	}
	for i, v := range b.Pix {
		out.Pix[i*3+Blue] = v
		out.Pix[i*3+Green] = v
		out.Pix[i*3+Red] = v
	}
	return out
}

// FromImage copies img into a Buffer. Gray images produce a single-channel
// buffer, everything else three channels in BGR order. Alpha is discarded.
func FromImage(img image.Image) *Buffer {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	switch src := img.(type) {
	case *image.Gray:
		out := &Buffer{Width: w, Height: h, Channels: 1, Pix: make([]uint8, w*h)}
		for y := 0; y < h; y++ {
			off := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(out.Pix[y*w:(y+1)*w], src.Pix[off:off+w])
		}
		return out
	case *image.Gray16:
		out := &Buffer{Width: w, Height: h, Channels: 1, Pix: make([]uint8, w*h)}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.Pix[y*w+x] = uint8(src.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y >> 8)
			}
		}
		return out
	}

	out := &Buffer{Width: w, Height: h, Channels: 3, Pix: make([]uint8, w*h*3)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			i := (y*w + x) * 3
			out.Pix[i+Blue] = c.B
			out.Pix[i+Green] = c.G
			out.Pix[i+Red] = c.R
		}
	}
	return out
}

// Image returns an RGBA copy of the buffer for use with image processing
// libraries.
func (b *Buffer) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, b.Width, b.Height))
	for i := 0; i < b.Pixels(); i++ {
		o := i * 4
		if b.Channels == 1 {
			v := b.Pix[i]
			img.Pix[o], img.Pix[o+1], img.Pix[o+2] = v, v, v
		} else {
			s := i * 3
			img.Pix[o] = b.Pix[s+Red]
			img.Pix[o+1] = b.Pix[s+Green]
			img.Pix[o+2] = b.Pix[s+Blue]
		}
		img.Pix[o+3] = 0xff
	}
	return img
}
