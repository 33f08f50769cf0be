package audio

// Resample converts mono samples between rates with linear interpolation.
// The output has floor(len(samples) / (from/to)) samples; the last input sample
// is held where no right neighbour exists.
func Resample(samples []float32, from, to int) []float32 {
	if from == to || len(samples) == 0 || from <= 0 || to <= 0 {
		return samples
	}

	ratio := float64(from) / float64(to)
	n := int(float64(len(samples)) / ratio)
	out := make([]float32, n)

	for i := range out {
		src := float64(i) * ratio
		idx := int(src)
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		frac := float32(src - float64(idx))

		if idx+1 < len(samples) {
			out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
		} else {
			out[i] = samples[idx]
		}
	}
	return out
}
