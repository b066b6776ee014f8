package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Frame is one block of mono float samples in [-1, 1] as delivered by the
// capture device. A frame is never mutated after it has been produced.
type Frame struct {
	Samples    []float32
	SampleRate int
}

// EncodedChunk is 16-bit signed little-endian mono PCM ready for the wire.
// len(Data) is always twice the number of samples it was encoded from.
type EncodedChunk struct {
	Data       []byte
	SampleRate int
}

// MIMEType describes the payload, e.g. "audio/pcm;rate=16000".
func (c EncodedChunk) MIMEType() string {
	return fmt.Sprintf("%s;rate=%d", pcmMIMEPrefix, c.SampleRate)
}

// Samples returns the number of whole samples in the chunk.
func (c EncodedChunk) Samples() int {
	return len(c.Data) / BytesPerSample
}

// Base64 returns the transport-safe representation of the PCM bytes.
func (c EncodedChunk) Base64() string {
	return base64.StdEncoding.EncodeToString(c.Data)
}

// PlaybackChunk is decoded audio waiting to be scheduled on the speaker.
type PlaybackChunk struct {
	Samples    []float32
	SampleRate int
}

// Duration is len(Samples)/SampleRate.
func (c PlaybackChunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// EncodeSample converts one float sample to int16. Out of range input is
// clamped; the result saturates at math.MaxInt16.
func EncodeSample(s float32) int16 {
	switch {
	case math.IsNaN(float64(s)):
		return 0
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	}
	v := math.Round(float64(s) * 32768)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	return int16(v)
}

// DecodeSample converts one int16 sample back to float in [-1, 1).
func DecodeSample(v int16) float32 {
	return float32(v) / 32768.0
}

// Encode converts a frame to little-endian PCM16. It never fails and never
// resamples: the chunk keeps the frame's sample rate.
//
// Samples are scaled by 32768, not 32767, and saturate at 32767. This
// mirrors Decode's divisor, so Decode(Encode(f)) stays within 1/32768 of f
// and -1 maps to -32768.
func Encode(frame Frame) EncodedChunk {
	out := make([]byte, len(frame.Samples)*BytesPerSample)
	for i, s := range frame.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(EncodeSample(s)))
	}
	return EncodedChunk{Data: out, SampleRate: frame.SampleRate}
}

// Decode converts PCM16 back to float samples. A trailing odd byte, as seen
// on fragmented deliveries, is dropped rather than reported.
func Decode(chunk EncodedChunk) PlaybackChunk {
	n := chunk.Samples()
	out := make([]float32, n)
	for i := range n {
		out[i] = DecodeSample(int16(binary.LittleEndian.Uint16(chunk.Data[i*2:])))
	}
	return PlaybackChunk{Samples: out, SampleRate: chunk.SampleRate}
}

// DecodeBase64 is the inverse of EncodedChunk.Base64.
func DecodeBase64(b64 string, sampleRate int) (EncodedChunk, error) {
	if b64 == "" {
		return EncodedChunk{}, errors.New("base64 empty")
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return EncodedChunk{}, fmt.Errorf("base64 decode: %w", err)
	}
	return EncodedChunk{Data: data, SampleRate: sampleRate}, nil
}

// ParseRate extracts the rate parameter from a PCM mime type. It returns
// fallback when the mime type carries no usable rate.
func ParseRate(mime string, fallback int) int {
	for _, param := range strings.Split(mime, ";")[1:] {
		key, val, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		if rate, err := strconv.Atoi(val); err == nil && rate > 0 {
			return rate
		}
	}
	return fallback
}
