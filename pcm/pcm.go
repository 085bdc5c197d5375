// Package pcm converts synthesizer float output into interleaved signed 16-bit
// little-endian stereo frames.
package pcm

import "math"

const (
	// DefaultBoost compensates for the quiet default output level of the synthesizer.
	DefaultBoost float32 = 7.0
	// BytesPerFrame is one left + one right int16 sample.
	BytesPerFrame = 4
	// MaxSample is the value a full-scale float maps to.
	MaxSample = math.MaxInt16
)

// Amplify multiplies v by boost and clamps the result to [-1, 1].
// NaN maps to silence.
func Amplify(v, boost float32) float32 {
	v *= boost
	switch {
	case v != v:
		return 0
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}

// Sample16 converts a boosted float sample to int16. Full scale is ±MaxSample.
func Sample16(v, boost float32) int16 {
	return int16(Amplify(v, boost) * MaxSample)
}

// Convert16 writes the frames in left/right into out as interleaved PCM16 and
// returns the number of bytes written. Conversion stops at whichever of the
// inputs or out runs out first.
func Convert16(left, right []float32, boost float32, out []byte) int {
	n := len(left)
	if len(right) < n {
		n = len(right)
	}
	if frames := len(out) / BytesPerFrame; frames < n {
		n = frames
	}
	for i := 0; i < n; i++ {
		l := Sample16(left[i], boost)
		r := Sample16(right[i], boost)
		j := i * BytesPerFrame
		out[j] = byte(l)
		out[j+1] = byte(uint16(l) >> 8)
		out[j+2] = byte(r)
		out[j+3] = byte(uint16(r) >> 8)
	}
	return n * BytesPerFrame
}

// ConvertFrames is Convert16 for beep style [][2]float64 frames.
func ConvertFrames(frames [][2]float64, boost float32, out []byte) int {
	n := len(frames)
	if limit := len(out) / BytesPerFrame; limit < n {
		n = limit
	}
	for i := 0; i < n; i++ {
		l := Sample16(float32(frames[i][0]), boost)
		r := Sample16(float32(frames[i][1]), boost)
		j := i * BytesPerFrame
		out[j] = byte(l)
		out[j+1] = byte(uint16(l) >> 8)
		out[j+2] = byte(r)
		out[j+3] = byte(uint16(r) >> 8)
	}
	return n * BytesPerFrame
}

// Decode16 is the inverse of ConvertFrames with unit boost. It fills frames
// from interleaved PCM16 data and returns the number of frames decoded.
func Decode16(data []byte, frames [][2]float64) int {
	n := len(data) / BytesPerFrame
	if len(frames) < n {
		n = len(frames)
	}
	for i := 0; i < n; i++ {
		j := i * BytesPerFrame
		l := int16(uint16(data[j]) | uint16(data[j+1])<<8)
		r := int16(uint16(data[j+2]) | uint16(data[j+3])<<8)
		frames[i][0] = float64(l) / MaxSample
		frames[i][1] = float64(r) / MaxSample
	}
	return n
}

// ApplyGain scales both channels in place.
func ApplyGain(left, right []float32, gain float32) {
	if gain == 1 {
		return
	}
	for i := range left {
		left[i] *= gain
	}
	for i := range right {
		right[i] *= gain
	}
}

// Silence zeroes buf.
func Silence(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

// Frames returns how many stereo frames fit in a buffer of n bytes.
func Frames(n int) int {
	return n / BytesPerFrame
}
