package wav

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncode_HeaderFields(t *testing.T) {
	// Two mono samples at 8000 Hz: data size 4, RIFF size 36+4.
	b, err := Encode([]int16{0, 16384}, 8000, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := len(b); got != 48 {
		t.Fatalf("container length = %d, want 48", got)
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE markers")
	}
	if riffSize := binary.LittleEndian.Uint32(b[4:8]); riffSize != 40 {
		t.Errorf("RIFF size = %d, want 40", riffSize)
	}
	if dataSize := binary.LittleEndian.Uint32(b[40:44]); dataSize != 4 {
		t.Errorf("data size = %d, want 4", dataSize)
	}
	if rate := binary.LittleEndian.Uint32(b[24:28]); rate != 8000 {
		t.Errorf("sample rate = %d, want 8000", rate)
	}
	if byteRate := binary.LittleEndian.Uint32(b[28:32]); byteRate != 16000 {
		t.Errorf("byte rate = %d, want 16000", byteRate)
	}
	if blockAlign := binary.LittleEndian.Uint16(b[32:34]); blockAlign != 2 {
		t.Errorf("block align = %d, want 2", blockAlign)
	}
}

func TestEncode_ParseRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		rate     int
		channels int
	}{
		{"mono 16k", []int16{0, 1, -1, 32767, -32768}, 16000, 1},
		{"stereo 44k1", []int16{100, -100, 200, -200}, 44100, 2},
		{"empty payload", nil, 22050, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.samples, tt.rate, tt.channels)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			h, err := Parse(b)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if h.SampleRate != tt.rate {
				t.Errorf("SampleRate = %d, want %d", h.SampleRate, tt.rate)
			}
			if h.Channels != tt.channels {
				t.Errorf("Channels = %d, want %d", h.Channels, tt.channels)
			}
			if h.SampleCount() != len(tt.samples) {
				t.Errorf("SampleCount = %d, want %d", h.SampleCount(), len(tt.samples))
			}
			if h.RIFFSize != riffBaseSize+len(tt.samples)*2 {
				t.Errorf("RIFFSize = %d, want %d", h.RIFFSize, riffBaseSize+len(tt.samples)*2)
			}

			got, err := Samples(b)
			if err != nil {
				t.Fatalf("Samples: %v", err)
			}
			if len(got) != len(tt.samples) {
				t.Fatalf("decoded %d samples, want %d", len(got), len(tt.samples))
			}
			for i := range got {
				if got[i] != tt.samples[i] {
					t.Errorf("sample[%d] = %d, want %d", i, got[i], tt.samples[i])
				}
			}
		})
	}
}

func TestEncode_Validation(t *testing.T) {
	if _, err := Encode([]int16{0}, 0, 1); err == nil {
		t.Error("zero sample rate accepted")
	}
	if _, err := Encode([]int16{0}, 8000, 3); err == nil {
		t.Error("3-channel audio accepted")
	}
}

func TestEncodeFloat32_Normalization(t *testing.T) {
	b, err := EncodeFloat32([]float32{0, 0.5, 1, -1, 2, -2}, 16000, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := Samples(b)
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	want := []int16{0, 16383, 32767, -32767, 32767, -32768}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse([]byte("not audio")); !errors.Is(err, ErrNotRIFF) {
		t.Errorf("err = %v, want ErrNotRIFF", err)
	}

	// Valid RIFF/WAVE preamble with no data chunk.
	b := append([]byte("RIFF"), 0, 0, 0, 0)
	b = append(b, "WAVE"...)
	if _, err := Parse(b); !errors.Is(err, ErrNoData) {
		t.Errorf("err = %v, want ErrNoData", err)
	}
}

func TestParse_SkipsUnknownChunks(t *testing.T) {
	b, err := Encode([]int16{7, 8}, 8000, 1)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Splice a LIST chunk between fmt and data.
	list := append([]byte("LIST"), 4, 0, 0, 0)
	list = append(list, "INFO"...)
	spliced := append([]byte{}, b[:36]...)
	spliced = append(spliced, list...)
	spliced = append(spliced, b[36:]...)

	h, err := Parse(spliced)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.SampleCount() != 2 {
		t.Errorf("SampleCount = %d, want 2", h.SampleCount())
	}
}
