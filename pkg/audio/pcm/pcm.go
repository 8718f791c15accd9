// Package pcm converts 16-bit PCM sample streams between formats.
//
// Synthesis backends do not all speak the same format, and a single response
// may mix backends mid-request. Conforming every unit to the format of the
// first keeps the assembled audio playable.
package pcm

// Resample converts samples from srcRate to dstRate using linear
// interpolation. Samples are interleaved when channels > 1. If the rates
// match (or either is invalid) the input is returned unchanged.
func Resample(samples []int16, channels, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || channels <= 0 {
		return samples
	}
	srcFrames := len(samples) / channels
	if srcFrames == 0 {
		return samples
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]int16, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		for ch := range channels {
			s0 := samples[srcIdx*channels+ch]
			s1 := s0
			if srcIdx+1 < srcFrames {
				s1 = samples[(srcIdx+1)*channels+ch]
			}
			out[i*channels+ch] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
		}
	}
	return out
}

// StereoToMono averages each interleaved L+R pair. Arithmetic runs in int32
// and clamps to the int16 range.
func StereoToMono(samples []int16) []int16 {
	frames := len(samples) / 2
	out := make([]int16, frames)
	for i := range frames {
		avg := (int32(samples[i*2]) + int32(samples[i*2+1])) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		out[i] = int16(avg)
	}
	return out
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(samples []int16) []int16 {
	out := make([]int16, len(samples)*2)
	for i, s := range samples {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// Conform converts samples from the source format to the target format.
// Resampling happens before channel conversion so stereo input is never
// resampled when the target is mono. Unsupported channel counts are returned
// with only the resample applied.
func Conform(samples []int16, srcRate, srcChannels, dstRate, dstChannels int) []int16 {
	if srcRate != dstRate {
		samples = Resample(samples, srcChannels, srcRate, dstRate)
	}
	switch {
	case srcChannels == dstChannels:
	case srcChannels == 2 && dstChannels == 1:
		samples = StereoToMono(samples)
	case srcChannels == 1 && dstChannels == 2:
		samples = MonoToStereo(samples)
	}
	return samples
}
