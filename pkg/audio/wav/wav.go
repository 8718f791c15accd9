// Package wav encodes and decodes uncompressed linear-PCM RIFF/WAVE containers.
//
// Encode produces a self-contained container from 16-bit samples; Parse walks
// the RIFF chunk list of an existing container and extracts the format and the
// sample payload. Both are pure functions — no I/O, no shared state.
//
// Every declared size field in an encoded container matches the payload byte
// count exactly. A mismatch in a parsed container is reported as an error
// rather than silently tolerated, because downstream players interpret those
// fields literally.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// headerSize is the byte length of the RIFF descriptor plus the standard
	// 16-byte "fmt " sub-chunk and the "data" sub-chunk header.
	headerSize = 44

	// riffBaseSize is the contribution of everything after the RIFF size field
	// except the sample data: "WAVE" (4) + fmt header (8) + fmt body (16) +
	// data header (8).
	riffBaseSize = 36

	// BitsPerSample is fixed: this package only handles 16-bit linear PCM.
	BitsPerSample = 16

	pcmFormatCode = 1
)

var (
	// ErrNotRIFF is returned by [Parse] when the input lacks a RIFF/WAVE header.
	ErrNotRIFF = errors.New("wav: not a RIFF/WAVE container")

	// ErrNoData is returned by [Parse] when the container has no data sub-chunk.
	ErrNoData = errors.New("wav: missing data sub-chunk")
)

// Header holds the format fields decoded from a container's fmt sub-chunk
// together with the location and declared size of the sample payload.
type Header struct {
	SampleRate    int
	Channels      int
	BitsPerSample int

	// RIFFSize is the value of the 4-byte size field following "RIFF".
	RIFFSize int

	// DataOffset is the byte offset of the first sample.
	DataOffset int

	// DataSize is the declared byte length of the sample payload.
	DataSize int
}

// SampleCount returns the number of samples declared by the header.
func (h Header) SampleCount() int {
	if h.BitsPerSample == 0 || h.Channels == 0 {
		return 0
	}
	return h.DataSize / (h.BitsPerSample / 8)
}

// Encode wraps 16-bit signed samples in a linear-PCM RIFF/WAVE container.
// channels must be 1 or 2; sampleRate must be positive. For multi-channel
// audio, samples are expected interleaved. The input slice is not retained
// or modified.
func Encode(samples []int16, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("wav: invalid sample rate %d", sampleRate)
	}
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("wav: invalid channel count %d", channels)
	}

	dataSize := len(samples) * 2
	buf := make([]byte, 0, headerSize+dataSize)
	le := binary.LittleEndian

	u16 := func(v uint16) {
		buf = le.AppendUint16(buf, v)
	}
	u32 := func(v uint32) {
		buf = le.AppendUint32(buf, v)
	}

	blockAlign := channels * BitsPerSample / 8
	byteRate := sampleRate * blockAlign

	// RIFF descriptor.
	buf = append(buf, "RIFF"...)
	u32(uint32(riffBaseSize + dataSize))
	buf = append(buf, "WAVE"...)

	// Format sub-chunk.
	buf = append(buf, "fmt "...)
	u32(16)
	u16(pcmFormatCode)
	u16(uint16(channels))
	u32(uint32(sampleRate))
	u32(uint32(byteRate))
	u16(uint16(blockAlign))
	u16(BitsPerSample)

	// Data sub-chunk.
	buf = append(buf, "data"...)
	u32(uint32(dataSize))
	for _, s := range samples {
		u16(uint16(s))
	}
	return buf, nil
}

// EncodeFloat32 converts floating-point samples in [-1, 1] to 16-bit signed
// integers (scaled by the maximum int16 value, out-of-range values clamped)
// and encodes them with [Encode].
func EncodeFloat32(samples []float32, sampleRate, channels int) ([]byte, error) {
	ints := make([]int16, len(samples))
	for i, f := range samples {
		v := f * 32767
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		ints[i] = int16(v)
	}
	return Encode(ints, sampleRate, channels)
}

// Parse walks the RIFF chunk list in b and returns the decoded [Header].
// It tolerates extra sub-chunks (LIST, cue, etc.) before the data chunk, but
// requires the fmt chunk to appear before data. The declared data size is
// clamped against the actual remaining bytes so a truncated container cannot
// cause out-of-range reads via [Samples].
func Parse(b []byte) (Header, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Header{}, ErrNotRIFF
	}

	h := Header{
		RIFFSize: int(binary.LittleEndian.Uint32(b[4:8])),
	}
	foundFmt := false

	offset := 12
	for offset+8 <= len(b) {
		chunkID := string(b[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(b[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || offset+8+16 > len(b) {
				return Header{}, fmt.Errorf("wav: fmt sub-chunk too short (%d bytes)", chunkSize)
			}
			body := b[offset+8:]
			if code := binary.LittleEndian.Uint16(body[0:2]); code != pcmFormatCode {
				return Header{}, fmt.Errorf("wav: unsupported format code %d (only linear PCM)", code)
			}
			h.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			h.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			h.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return Header{}, errors.New("wav: data sub-chunk precedes fmt")
			}
			h.DataOffset = offset + 8
			h.DataSize = chunkSize
			if max := len(b) - h.DataOffset; h.DataSize > max {
				h.DataSize = max
			}
			return h, nil
		}

		// Chunks are word-aligned: odd sizes carry one pad byte.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return Header{}, ErrNoData
}

// Samples decodes the 16-bit little-endian sample payload of a parsed
// container into int16 values.
func Samples(b []byte) ([]int16, error) {
	h, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if h.BitsPerSample != 16 {
		return nil, fmt.Errorf("wav: unsupported bits per sample %d", h.BitsPerSample)
	}
	n := h.DataSize / 2
	out := make([]int16, n)
	for i := range n {
		out[i] = int16(binary.LittleEndian.Uint16(b[h.DataOffset+i*2:]))
	}
	return out, nil
}
