package audio

import (
	"encoding/binary"
	"math"
)

// PCM16FromFloat32 converts normalized float32 samples to little-endian
// 16-bit PCM. Samples outside [-1, 1] are clamped. This is the on-wire
// format expected by recognition backends and by WAV encoding.
func PCM16FromFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// LEFromFloat32 is the inverse of [Float32FromLE]: it lays samples out as
// raw little-endian float32 bytes, the buffer layout playback devices in
// f32 mode consume.
func LEFromFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// Float32FromLE reinterprets raw little-endian float32 bytes as samples.
// Capture devices running in f32 mode deliver buffers in this layout.
// A trailing partial sample (len(data) not a multiple of 4) is ignored.
func Float32FromLE(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := range n {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
