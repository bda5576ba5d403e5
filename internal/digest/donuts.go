package digest

// projections collapses the frame onto its columns and rows. Each profile is
// background subtracted and clipped at zero so only star signal correlates.
func projections(lum []float64, width, height int) ([]float64, []float64, error) {
	cols := make([]float64, width)
	rows := make([]float64, height)
	for y := 0; y < height; y++ {
		row := lum[y*width : (y+1)*width]
		for x, v := range row {
			cols[x] += v
			rows[y] += v
		}
	}
	if !clipBackground(cols) || !clipBackground(rows) {
		return nil, nil, ErrNoSignal
	}
	return cols, rows, nil
}

func clipBackground(p []float64) bool {
	mean, _ := meanStd(p)
	signal := false
	for i, v := range p {
		v -= mean
		if v <= 0 {
			p[i] = 0
			continue
		}
		p[i] = v
		signal = true
	}
	return signal
}

// correlate returns the sub-pixel shift s maximizing sum(ref[i]*cur[i+s]).
func correlate(ref, cur []float64) (float64, error) {
	n := len(ref)
	if n == 0 || len(cur) != n {
		return 0, ErrIncomparable
	}
	maxShift := n / 2
	score := func(s int) float64 {
		var c float64
		for i := 0; i < n; i++ {
			j := i + s
			if j < 0 || j >= n {
				continue
			}
			c += ref[i] * cur[j]
		}
		return c
	}

	best := 0
	bestScore := score(0)
	for s := -maxShift; s <= maxShift; s++ {
		if c := score(s); c > bestScore {
			best, bestScore = s, c
		}
	}
	if bestScore <= 0 {
		return 0, ErrNoSignal
	}

	shift := float64(best)
	if best > -maxShift && best < maxShift {
		left, right := score(best-1), score(best+1)
		denom := left - 2*bestScore + right
		if denom < 0 {
			shift += 0.5 * (left - right) / denom
		}
	}
	return shift, nil
}
