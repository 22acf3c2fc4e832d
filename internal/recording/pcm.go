package recording

import "math"

// BytesToSamples converts little-endian PCM16 bytes to samples. A trailing
// odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts samples to little-endian PCM16 bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// Resample converts between sample rates with linear interpolation. Good
// enough for speech; the output length is len(samples)*toRate/fromRate.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}
	ratio := float64(fromRate) / float64(toRate)
	n := int(float64(len(samples)) / ratio)
	out := make([]int16, n)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		a, b := float64(samples[idx]), float64(samples[idx+1])
		out[i] = int16(math.Round(a + frac*(b-a)))
	}
	return out
}

// Overlay mixes over into base starting at sample index at. Samples are summed
// with int16 saturation. base grows (zero filled) when over runs past its end;
// it is never truncated. The returned slice may alias base.
func Overlay(base, over []int16, at int) []int16 {
	if at < 0 {
		at = 0
	}
	if end := at + len(over); end > len(base) {
		grown := make([]int16, end)
		copy(grown, base)
		base = grown
	}
	for i, s := range over {
		base[at+i] = saturate(int32(base[at+i]) + int32(s))
	}
	return base
}

func saturate(v int32) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
