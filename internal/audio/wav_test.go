package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestProbeCaptureProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.wav")
	// half a second of stereo S32_LE at 48 kHz
	samples := make([]int, 48000)
	if err := WriteWAV(path, 48000, 32, 2, samples); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	info, err := Probe(path)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if info.SampleRate != 48000 || info.Channels != 2 || info.BitDepth != 32 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.Duration != 500*time.Millisecond {
		t.Fatalf("expected 500ms, got %s", info.Duration)
	}
}

func TestProbeRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	if err := os.WriteFile(path, []byte("definitely not riff data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Probe(path); err == nil {
		t.Fatal("expected error for invalid wav")
	}
}

func TestLoadMonoDownmixesAndResamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	const frames = 4800
	full := int(math.MaxInt32)
	samples := make([]int, frames*2)
	for i := 0; i < frames; i++ {
		samples[i*2] = full / 2
		samples[i*2+1] = full / 2
	}
	if err := WriteWAV(path, 48000, 32, 2, samples); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	mono, err := LoadMono(path, 16000)
	if err != nil {
		t.Fatalf("load mono: %v", err)
	}
	if len(mono) != frames/3 {
		t.Fatalf("expected %d samples, got %d", frames/3, len(mono))
	}
	for i, v := range mono {
		if math.Abs(float64(v)-0.5) > 0.001 {
			t.Fatalf("sample %d: expected ~0.5, got %f", i, v)
		}
	}
}

func TestResampleIdentity(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out := resample(in, 16000, 16000)
	if len(out) != 3 || out[2] != 0.3 {
		t.Fatalf("expected identity, got %v", out)
	}
}
