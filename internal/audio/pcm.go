package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultSampleRate is the room audio rate: PCM16 LE mono.
	DefaultSampleRate = 16000
	// FrameDuration is the VAD frame length.
	FrameDuration = 20 * time.Millisecond

	pcmChannels = 1
	pcmBitDepth = 16
)

var ErrNotWAV = errors.New("not a PCM16 wav file")

// FrameSamples returns the number of samples in one frame at rate.
func FrameSamples(rate int) int {
	return rate * int(FrameDuration/time.Millisecond) / 1000
}

// Samples decodes little-endian PCM16 bytes. A trailing odd byte is dropped.
func Samples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

// Bytes encodes samples as little-endian PCM16.
func Bytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

// Resample converts between sample rates with linear interpolation.
func Resample(s []int16, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 || len(s) == 0 {
		return s
	}
	n := int(int64(len(s)) * int64(to) / int64(from))
	out := make([]int16, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(s)-1 {
			out[i] = s[len(s)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = int16(float64(s[j])*(1-frac) + float64(s[j+1])*frac)
	}
	return out
}

// ResampleBytes is Resample over PCM16 LE bytes.
func ResampleBytes(pcm []byte, from, to int) []byte {
	if from == to {
		return pcm
	}
	return Bytes(Resample(Samples(pcm), from, to))
}

// Duration is the playback length of pcm at rate.
func Duration(pcmBytes, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	samples := pcmBytes / 2
	return time.Duration(samples) * time.Second / time.Duration(rate)
}

// EncodeWAV wraps mono PCM16 in a RIFF header.
func EncodeWAV(pcm []byte, rate int) []byte {
	header, _ := wavHeader(len(pcm), rate, pcmChannels, pcmBitDepth)
	out := make([]byte, 0, len(header)+len(pcm))
	out = append(out, header...)
	return append(out, pcm...)
}

// DecodeWAV returns the PCM payload and sample rate of a mono PCM16 wav.
func DecodeWAV(data []byte) ([]byte, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, ErrNotWAV
	}

	var (
		rate     int
		channels int
		bits     int
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4:]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, ErrNotWAV
			}
			if format := binary.LittleEndian.Uint16(data[body:]); format != 1 {
				return nil, 0, fmt.Errorf("%w: format %d", ErrNotWAV, format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			rate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits = int(binary.LittleEndian.Uint16(data[body+14:]))
		case "data":
			if rate == 0 {
				return nil, 0, ErrNotWAV
			}
			if channels != pcmChannels || bits != pcmBitDepth {
				return nil, 0, fmt.Errorf("%w: %d channels, %d bits", ErrNotWAV, channels, bits)
			}
			return data[body : body+size], rate, nil
		}
		pos = body + size + size%2
	}
	return nil, 0, ErrNotWAV
}

func wavHeader(dataSize, sampleRate, channels, bitDepth int) ([]byte, error) {
	byteRate := sampleRate * channels * bitDepth / 8
	blockAlign := channels * bitDepth / 8
	chunkSize := 36 + dataSize

	buf := bytes.NewBuffer(make([]byte, 0, 44))
	buf.WriteString("RIFF")
	if err := binary.Write(buf, binary.LittleEndian, uint32(chunkSize)); err != nil {
		return nil, err
	}
	buf.WriteString("WAVEfmt ")
	for _, f := range []any{
		uint32(16),
		uint16(1),
		uint16(channels),
		uint32(sampleRate),
		uint32(byteRate),
		uint16(blockAlign),
		uint16(bitDepth),
	} {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	buf.WriteString("data")
	if err := binary.Write(buf, binary.LittleEndian, uint32(dataSize)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
