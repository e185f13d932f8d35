package audio

import (
	"errors"
	"fmt"
	"time"
)

// PCMFormat describes raw PCM audio: sample rate, channel count and bits
// per sample, little-endian signed samples.
type PCMFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// DefaultPCMFormat matches the synthesis service output: 24 kHz mono 16-bit.
func DefaultPCMFormat() PCMFormat {
	return PCMFormat{SampleRate: 24000, Channels: 1, BitDepth: 16}
}

// FrameSize returns the number of bytes in one sample frame.
func (f PCMFormat) FrameSize() int {
	return f.Channels * f.BitDepth / 8
}

// BytesPerSecond returns the data rate of the format.
func (f PCMFormat) BytesPerSecond() int {
	return f.SampleRate * f.FrameSize()
}

// Duration returns the play time of n bytes of audio in this format.
func (f PCMFormat) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// Validate checks that the format is one the output device can open.
func (f PCMFormat) Validate() error {
	if f.SampleRate < 8000 || f.SampleRate > 48000 {
		return fmt.Errorf("sample rate must be between 8000 and 48000 Hz, got %d", f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", f.Channels)
	}
	if f.BitDepth != 16 {
		return fmt.Errorf("bit depth must be 16, got %d", f.BitDepth)
	}
	return nil
}

// ValidateBuffer checks that pcm is non-empty and frame-aligned for the
// format.
func (f PCMFormat) ValidateBuffer(pcm []byte) error {
	if len(pcm) == 0 {
		return errors.New("audio data is empty")
	}
	if frame := f.FrameSize(); frame > 0 && len(pcm)%frame != 0 {
		return fmt.Errorf("audio data is not frame-aligned: %d bytes, frame size %d", len(pcm), frame)
	}
	return nil
}
