// Package audio reads and writes the PCM WAV files produced by the capture
// process.
package audio

import (
	"errors"
	"fmt"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Info is the header summary of a WAV file.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// Probe reads only the header. Files still being written carry a placeholder
// data size, so the duration is bounded by what is on disk.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Info{}, err
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Info{}, fmt.Errorf("%s: not a valid wav file", path)
	}
	if err := dec.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("%s: locate pcm chunk: %w", path, err)
	}

	info := Info{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	frameBytes := int64(info.Channels) * int64(info.BitDepth) / 8
	if frameBytes <= 0 || info.SampleRate <= 0 {
		return info, nil
	}
	size := int64(dec.PCMSize)
	if onDisk := st.Size() - 44; size <= 0 || size > onDisk {
		size = max(onDisk, 0)
	}
	frames := size / frameBytes
	info.Duration = time.Duration(frames) * time.Second / time.Duration(info.SampleRate)
	return info, nil
}

// LoadMono decodes a PCM WAV file into mono float32 samples in [-1, 1] at
// targetRate. Channels are averaged.
func LoadMono(path string, targetRate int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%s: decode pcm: %w", path, err)
	}

	depth := int(dec.BitDepth)
	switch depth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%s: unsupported bit depth %d", path, depth)
	}
	channels := int(dec.NumChans)
	if channels <= 0 {
		return nil, errors.New("wav reports zero channels")
	}

	scale := float32(int64(1) << (depth - 1))
	frames := len(buf.Data) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) / scale
		}
		mono[i] = sum / float32(channels)
	}
	return resample(mono, int(dec.SampleRate), targetRate), nil
}

// resample uses linear interpolation. Good enough for speech models fed at
// 16 kHz from a 48 kHz capture.
func resample(in []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]float32, n)
	ratio := float64(from) / float64(to)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= last {
			out[i] = in[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}

// WriteWAV writes interleaved integer samples as a PCM WAV file.
func WriteWAV(path string, sampleRate, bitDepth, channels int, samples []int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}
	enc := wav.NewEncoder(f, sampleRate, bitDepth, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
