package sampler

// Downsample reduces readings to at most maxPoints by decimation, keeping the
// first reading. dst is reused when it has enough capacity. maxPoints <= 0
// copies everything.
func Downsample(dst, readings []Reading, maxPoints int) []Reading {
	if maxPoints <= 0 || len(readings) <= maxPoints {
		if cap(dst) >= len(readings) {
			dst = dst[:len(readings)]
		} else {
			dst = make([]Reading, len(readings))
		}
		copy(dst, readings)
		return dst
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0]
	} else {
		dst = make([]Reading, 0, maxPoints)
	}

	step := float64(len(readings)) / float64(maxPoints)
	for i := 0; i < maxPoints; i++ {
		dst = append(dst, readings[int(float64(i)*step)])
	}
	return dst
}
