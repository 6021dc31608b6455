// Package resample converts 8kHz PCM to 16kHz. The conversion is
// stateless per call: no filter state ever survives between calls, so a
// whole segment converted in one shot never picks up boundary artifacts
// from earlier audio.
//
// The filter is a fresh windowed-sinc low-pass built from scratch on every
// call (band-limited interpolation: zero-stuff to 16kHz, then filter out
// the imaging above 4kHz), the same hand-rolled-filter idiom the example
// pack uses for its own sample-rate conversion rather than a third-party
// DSP library.
package resample

import "math"

const filterTaps = 21

// lowPassCoeffs generates windowed-sinc low-pass filter coefficients for
// the given cutoff at the given (post-upsampling) sample rate. Built fresh
// on every call: no persisted filter state crosses segment boundaries.
func lowPassCoeffs(cutoffHz, sampleRateHz float64) []float64 {
	coeffs := make([]float64, filterTaps)
	wc := 2.0 * math.Pi * cutoffHz / sampleRateHz
	half := filterTaps / 2

	for i := 0; i < filterTaps; i++ {
		n := i - half
		if n == 0 {
			coeffs[i] = wc / math.Pi
		} else {
			coeffs[i] = math.Sin(wc*float64(n)) / (math.Pi * float64(n))
		}
		window := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(filterTaps-1))
		coeffs[i] *= window
	}

	var sum float64
	for _, c := range coeffs {
		sum += c
	}
	if sum != 0 {
		for i := range coeffs {
			coeffs[i] /= sum
		}
	}
	return coeffs
}

// To16k upconverts a whole segment of 8kHz signed 16-bit little-endian mono
// PCM to 16kHz PCM of exactly double the byte length.
//
// Implementation: zero-stuff one sample between each input sample (doubling
// the rate), then convolve with a low-pass filter cut at 4kHz (the original
// Nyquist) scaled by 2 to restore amplitude lost to the stuffed zeros. This
// is a standard band-limited interpolation with a 21-tap filter. Away from
// the buffer edges, a 1kHz sine of amplitude 10000 comes out within about
// 40 LSB of a directly sampled 16kHz sine; it does not reach ±1 LSB.
func To16k(pcm8k []byte) []byte {
	in := bytesToSamples(pcm8k)
	n := len(in)
	if n == 0 {
		return []byte{}
	}

	stuffed := make([]float64, n*2)
	for i, s := range in {
		stuffed[2*i] = float64(s) * 2
	}

	coeffs := lowPassCoeffs(4000, 16000)
	half := filterTaps / 2
	out := make([]int16, n*2)
	for i := range stuffed {
		var sum float64
		for j, c := range coeffs {
			idx := i + j - half
			if idx >= 0 && idx < len(stuffed) {
				sum += stuffed[idx] * c
			}
		}
		out[i] = clampInt16(sum)
	}

	return samplesToBytes(out)
}

func bytesToSamples(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
	}
	return out
}

func samplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
