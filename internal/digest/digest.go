// Package digest reduces raw frames to alignment signatures and estimates
// the pixel drift between two signatures.
package digest

import (
	"fmt"
	"math"

	"github.com/danmuck/guidectl/internal/property"
)

// Digest is an immutable alignment signature of one frame.
type Digest struct {
	Algorithm property.Algorithm
	Format    PixelFormat
	Width     int
	Height    int

	// centroid
	cx, cy float64
	// donuts
	colProfile []float64
	rowProfile []float64
}

// Drift is the pixel offset of a current digest relative to a reference.
type Drift struct {
	X float64
	Y float64
}

// Magnitude returns the euclidean length of the drift.
func (d Drift) Magnitude() float64 {
	return math.Hypot(d.X, d.Y)
}

// Compute reduces f with the selected algorithm.
func Compute(alg property.Algorithm, f Frame) (Digest, error) {
	if !f.Format.Supported() {
		return Digest{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Format)
	}
	if err := f.validate(); err != nil {
		return Digest{}, err
	}
	d := Digest{Algorithm: alg, Format: f.Format, Width: f.Width, Height: f.Height}
	lum := luminance(f)
	switch alg {
	case property.AlgorithmCentroid:
		cx, cy, err := centroid(lum, f.Width, f.Height)
		if err != nil {
			return Digest{}, err
		}
		d.cx, d.cy = cx, cy
	case property.AlgorithmDonuts:
		cols, rows, err := projections(lum, f.Width, f.Height)
		if err != nil {
			return Digest{}, err
		}
		d.colProfile, d.rowProfile = cols, rows
	default:
		return Digest{}, fmt.Errorf("digest: unknown algorithm %s", alg)
	}
	return d, nil
}

// Estimate returns cur - ref. Both digests must come from the same algorithm,
// format and geometry.
func Estimate(ref, cur Digest) (Drift, error) {
	if ref.Algorithm != cur.Algorithm {
		return Drift{}, fmt.Errorf("%w: algorithm %s vs %s", ErrIncomparable, ref.Algorithm, cur.Algorithm)
	}
	if ref.Width != cur.Width || ref.Height != cur.Height {
		return Drift{}, fmt.Errorf("%w: %dx%d vs %dx%d", ErrIncomparable, ref.Width, ref.Height, cur.Width, cur.Height)
	}
	if ref.Format != cur.Format {
		return Drift{}, fmt.Errorf("%w: %s vs %s", ErrIncomparable, ref.Format, cur.Format)
	}
	switch ref.Algorithm {
	case property.AlgorithmCentroid:
		return Drift{X: cur.cx - ref.cx, Y: cur.cy - ref.cy}, nil
	case property.AlgorithmDonuts:
		dx, err := correlate(ref.colProfile, cur.colProfile)
		if err != nil {
			return Drift{}, err
		}
		dy, err := correlate(ref.rowProfile, cur.rowProfile)
		if err != nil {
			return Drift{}, err
		}
		return Drift{X: dx, Y: dy}, nil
	default:
		return Drift{}, fmt.Errorf("%w: algorithm %s", ErrIncomparable, ref.Algorithm)
	}
}
