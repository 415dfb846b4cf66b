// Package pcm holds the little PCM16 math shared by the capture and playback
// pipelines: base64 chunk framing and instantaneous level readings.
package pcm

import (
	"encoding/base64"
	"math"
	"time"
)

const (
	// BytesPerSample is fixed: signed 16-bit little-endian mono.
	BytesPerSample = 2

	// InputSampleRate is what the remote model expects on the uplink.
	InputSampleRate = 16000

	// OutputSampleRate is what the remote model synthesizes on the downlink.
	OutputSampleRate = 24000
)

// FrameBytes returns the byte size of one frame of the given duration.
func FrameBytes(sampleRate int, d time.Duration) int {
	samples := int(float64(sampleRate) * d.Seconds())
	return samples * BytesPerSample
}

// Encode returns the base64 form of a raw PCM16 chunk for the wire.
func Encode(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// Decode parses a base64 PCM16 chunk from the wire.
func Decode(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}

// Level computes the RMS energy of a PCM16 frame normalized to [0,1].
// Odd trailing bytes are ignored.
func Level(frame []byte) float64 {
	n := len(frame) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(uint16(frame[2*i]) | uint16(frame[2*i+1])<<8)
		v := float64(s)
		sum += v * v
	}
	level := math.Sqrt(sum/float64(n)) / 32768.0
	if level > 1 {
		level = 1
	}
	return level
}
