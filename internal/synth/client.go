package synth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies a synthesis failure for the retry policy.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindRateLimited
	KindInvalidVoice
)

// String returns the kind as a short lowercase label.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRateLimited:
		return "rate-limited"
	case KindInvalidVoice:
		return "invalid-voice"
	default:
		return "unknown"
	}
}

// Error is a classified synthesis failure.
type Error struct {
	Kind  Kind
	Voice string
	Err   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("synthesis failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("synthesis failed (%s)", e.Kind)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from err. Errors that are not synthesis
// errors report KindUnknown. Context cancellation is not a synthesis
// failure; callers check ctx.Err() before classifying.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// Result is one synthesized clip: raw PCM plus its play time.
type Result struct {
	Audio    []byte
	Duration time.Duration
}

// Voice describes one entry of the service voice catalog.
type Voice struct {
	Name           string `json:"Name"`
	ShortName      string `json:"ShortName"`
	Gender         string `json:"Gender"`
	Locale         string `json:"Locale"`
	SuggestedCodec string `json:"SuggestedCodec"`
	FriendlyName   string `json:"FriendlyName"`
	Status         string `json:"Status"`
}

// Client produces audio for sentence text. Implementations must honor ctx
// cancellation mid-request and classify failures with Error.
type Client interface {
	Synthesize(ctx context.Context, text, voice string) (Result, error)
	Voices(ctx context.Context) ([]Voice, error)
}
