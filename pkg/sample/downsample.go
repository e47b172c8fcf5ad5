package sample

// Downsample downsamples readings to at most maxPoints by decimation.
// Destination-based: reuses dst if it has sufficient capacity, otherwise
// allocates new. If len(readings) <= maxPoints all readings are copied.
func Downsample(dst []Reading, readings []Reading, maxPoints int) []Reading {
	if maxPoints <= 0 || len(readings) <= maxPoints {
		if cap(dst) >= len(readings) {
			dst = dst[:len(readings)]
			copy(dst, readings)
			return dst
		}
		result := make([]Reading, len(readings))
		copy(result, readings)
		return result
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0]
	} else {
		dst = make([]Reading, 0, maxPoints)
	}

	step := float64(len(readings)) / float64(maxPoints)
	for i := range maxPoints {
		idx := int(float64(i) * step)
		if idx < len(readings) {
			dst = append(dst, readings[idx])
		}
	}

	// Keep the newest reading so the plot ends at the current value.
	if len(dst) > 0 {
		dst[len(dst)-1] = readings[len(readings)-1]
	}
	return dst
}
