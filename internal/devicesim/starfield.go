package devicesim

import (
	"encoding/binary"
	"math"
	"math/rand"

	"github.com/danmuck/guidectl/internal/digest"
)

// Star is one gaussian point source.
type Star struct {
	X     float64
	Y     float64
	Peak  float64
	Sigma float64
}

// Field describes a synthetic frame. Intensities are in 8-bit units and are
// scaled by 256 for 16-bit formats.
type Field struct {
	Format     digest.PixelFormat
	Width      int
	Height     int
	Background float64
	Noise      float64
	Stars      []Star
}

// StarField renders a single-star field.
func StarField(format digest.PixelFormat, width, height int, x, y float64) digest.Frame {
	return Field{
		Format:     format,
		Width:      width,
		Height:     height,
		Background: 10,
		Stars:      []Star{{X: x, Y: y, Peak: 200, Sigma: 2}},
	}.Render(nil)
}

// Render draws the field. rng is only consulted when Noise is positive.
func (f Field) Render(rng *rand.Rand) digest.Frame {
	bpp := f.Format.BytesPerPixel()
	pix := make([]byte, f.Width*f.Height*bpp)
	scale := 1.0
	limit := 255.0
	if f.Format == digest.FormatMono16 || f.Format == digest.FormatRGB48 {
		scale = 256
		limit = 65535
	}
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			v := f.Background
			for _, s := range f.Stars {
				dx, dy := float64(x)-s.X, float64(y)-s.Y
				v += s.Peak * math.Exp(-(dx*dx+dy*dy)/(2*s.Sigma*s.Sigma))
			}
			if f.Noise > 0 && rng != nil {
				v += rng.NormFloat64() * f.Noise
			}
			v = math.Max(0, math.Min(limit, math.Round(v*scale)))
			o := (y*f.Width + x) * bpp
			switch f.Format {
			case digest.FormatMono8:
				pix[o] = uint8(v)
			case digest.FormatMono16:
				binary.LittleEndian.PutUint16(pix[o:], uint16(v))
			case digest.FormatRGB24:
				pix[o], pix[o+1], pix[o+2] = uint8(v), uint8(v), uint8(v)
			case digest.FormatRGB48:
				for c := 0; c < 3; c++ {
					binary.LittleEndian.PutUint16(pix[o+2*c:], uint16(v))
				}
			}
		}
	}
	return digest.Frame{Format: f.Format, Width: f.Width, Height: f.Height, Pixels: pix}
}
