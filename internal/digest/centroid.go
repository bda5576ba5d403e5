package digest

import "math"

// centroidSigma is the detection threshold above the frame mean, in
// standard deviations.
const centroidSigma = 3.0

// centroid returns the intensity-weighted center of the pixels standing
// above the background threshold.
func centroid(lum []float64, width, height int) (float64, float64, error) {
	mean, std := meanStd(lum)
	threshold := mean + centroidSigma*std

	var sum, sx, sy float64
	for y := 0; y < height; y++ {
		row := lum[y*width : (y+1)*width]
		for x, v := range row {
			w := v - threshold
			if w <= 0 {
				continue
			}
			sum += w
			sx += w * float64(x)
			sy += w * float64(y)
		}
	}
	if sum == 0 {
		return 0, 0, ErrNoSignal
	}
	return sx / sum, sy / sum, nil
}

func meanStd(v []float64) (float64, float64) {
	if len(v) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	mean := sum / float64(len(v))
	var sq float64
	for _, x := range v {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(v)))
}
