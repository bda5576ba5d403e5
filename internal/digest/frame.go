package digest

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFormat = errors.New("digest: unsupported pixel format")
	ErrShortFrame        = errors.New("digest: short frame")
	ErrNoSignal          = errors.New("digest: no signal")
	ErrIncomparable      = errors.New("digest: frames not comparable")
)

// PixelFormat is the raw header signature of a frame.
type PixelFormat uint32

// Raw header signatures, stored little endian as "RAW1", "RAW2", "RAW3", "RAW6".
const (
	FormatMono8  PixelFormat = 0x31574152
	FormatMono16 PixelFormat = 0x32574152
	FormatRGB24  PixelFormat = 0x33574152
	FormatRGB48  PixelFormat = 0x36574152
)

// RawHeaderLen is the size of the signature, width, height header.
const RawHeaderLen = 12

// MaxDimension bounds the width and height accepted from a raw header.
const MaxDimension = 1 << 16

func (f PixelFormat) String() string {
	switch f {
	case FormatMono8:
		return "mono8"
	case FormatMono16:
		return "mono16"
	case FormatRGB24:
		return "rgb24"
	case FormatRGB48:
		return "rgb48"
	default:
		return fmt.Sprintf("format(%#x)", uint32(f))
	}
}

// Supported reports whether the digest engine can reduce frames of f.
func (f PixelFormat) Supported() bool {
	switch f {
	case FormatMono8, FormatMono16, FormatRGB24, FormatRGB48:
		return true
	default:
		return false
	}
}

// BytesPerPixel returns the pixel stride of a supported format.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatMono8:
		return 1
	case FormatMono16:
		return 2
	case FormatRGB24:
		return 3
	case FormatRGB48:
		return 6
	default:
		return 0
	}
}

// Frame is a decoded raw image. Pixels are not copied.
type Frame struct {
	Format PixelFormat
	Width  int
	Height int
	Pixels []byte
}

// ParseRaw decodes a raw blob: 12-byte little-endian header then pixel data.
func ParseRaw(blob []byte) (Frame, error) {
	if len(blob) < RawHeaderLen {
		return Frame{}, fmt.Errorf("%w: %d header bytes", ErrShortFrame, len(blob))
	}
	f := Frame{
		Format: PixelFormat(binary.LittleEndian.Uint32(blob[0:4])),
		Width:  int(int32(binary.LittleEndian.Uint32(blob[4:8]))),
		Height: int(int32(binary.LittleEndian.Uint32(blob[8:12]))),
		Pixels: blob[RawHeaderLen:],
	}
	if !f.Format.Supported() {
		return Frame{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Format)
	}
	if err := f.validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// EncodeRaw is the inverse of ParseRaw.
func EncodeRaw(f Frame) []byte {
	out := make([]byte, RawHeaderLen+len(f.Pixels))
	binary.LittleEndian.PutUint32(out[0:4], uint32(f.Format))
	binary.LittleEndian.PutUint32(out[4:8], uint32(int32(f.Width)))
	binary.LittleEndian.PutUint32(out[8:12], uint32(int32(f.Height)))
	copy(out[RawHeaderLen:], f.Pixels)
	return out
}

func (f Frame) validate() error {
	if f.Width <= 0 || f.Height <= 0 || f.Width > MaxDimension || f.Height > MaxDimension {
		return fmt.Errorf("%w: %dx%d", ErrShortFrame, f.Width, f.Height)
	}
	stride := f.Width * f.Format.BytesPerPixel()
	if stride <= 0 || f.Height > len(f.Pixels)/stride {
		return fmt.Errorf("%w: have %d bytes want %d rows of %d", ErrShortFrame, len(f.Pixels), f.Height, stride)
	}
	return nil
}

// luminance flattens a frame into one float per pixel, row major.
// Color frames average their channels; 16-bit samples are little endian.
func luminance(f Frame) []float64 {
	n := f.Width * f.Height
	out := make([]float64, n)
	p := f.Pixels
	switch f.Format {
	case FormatMono8:
		for i := 0; i < n; i++ {
			out[i] = float64(p[i])
		}
	case FormatMono16:
		for i := 0; i < n; i++ {
			out[i] = float64(binary.LittleEndian.Uint16(p[2*i:]))
		}
	case FormatRGB24:
		for i := 0; i < n; i++ {
			o := 3 * i
			out[i] = (float64(p[o]) + float64(p[o+1]) + float64(p[o+2])) / 3
		}
	case FormatRGB48:
		for i := 0; i < n; i++ {
			o := 6 * i
			r := binary.LittleEndian.Uint16(p[o:])
			g := binary.LittleEndian.Uint16(p[o+2:])
			b := binary.LittleEndian.Uint16(p[o+4:])
			out[i] = (float64(r) + float64(g) + float64(b)) / 3
		}
	}
	return out
}
