package audio

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Completion reports that one clip finished playing to the end. Gen carries
// the generation the clip was started with.
type Completion struct {
	Gen uint64
}

// Player outputs one PCM clip at a time. Stop is synchronous: when it
// returns no audio is sounding. A clip that drains in the same instant may
// still deliver its completion, so consumers filter completions by
// generation.
type Player interface {
	Play(pcm []byte, gen uint64) error
	Stop()
	Pause()
	Resume()
	Done() <-chan Completion
	Close() error
}

// Config configures the output device.
type Config struct {
	Format     PCMFormat
	BufferSize time.Duration
}

// DefaultConfig returns the device configuration matching the synthesis
// output format.
func DefaultConfig() Config {
	return Config{
		Format:     DefaultPCMFormat(),
		BufferSize: 100 * time.Millisecond,
	}
}

// OtoPlayer plays PCM clips through oto. The underlying context is opened
// once; clips are fed to short-lived oto players.
type OtoPlayer struct {
	ctx  *oto.Context
	cfg  Config
	done chan Completion

	mu      sync.Mutex
	current *oto.Player
	watch   chan struct{}
	paused  bool
	closed  bool
}

var _ Player = (*OtoPlayer)(nil)

// NewOtoPlayer opens the system audio device for the configured format.
func NewOtoPlayer(cfg Config) (*OtoPlayer, error) {
	if err := cfg.Format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audio format: %w", err)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	op := &oto.NewContextOptions{
		SampleRate:   cfg.Format.SampleRate,
		ChannelCount: cfg.Format.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   cfg.BufferSize,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("unable to open audio device: %w", err)
	}
	<-ready

	return &OtoPlayer{
		ctx:  ctx,
		cfg:  cfg,
		done: make(chan Completion, 4),
	}, nil
}

// Play stops any sounding clip and starts pcm from the beginning. The data
// is copied, so the caller may reuse the buffer.
func (p *OtoPlayer) Play(pcm []byte, gen uint64) error {
	if err := p.cfg.Format.ValidateBuffer(pcm); err != nil {
		return err
	}

	// The oto player reads from this buffer for the lifetime of the clip.
	data := make([]byte, len(pcm))
	copy(data, pcm)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("player is closed")
	}
	p.stopLocked()

	player := p.ctx.NewPlayer(bytes.NewReader(data))
	watch := make(chan struct{})
	p.current = player
	p.watch = watch
	p.paused = false

	player.Play()
	go p.watchCompletion(player, gen, watch)
	return nil
}

// watchCompletion polls the oto player until the clip drains, then delivers
// the completion. Closing watch ends the watch without a completion.
func (p *OtoPlayer) watchCompletion(player *oto.Player, gen uint64, watch chan struct{}) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-watch:
			return
		case <-ticker.C:
			p.mu.Lock()
			if p.watch != watch {
				// Stopped or replaced between ticks.
				p.mu.Unlock()
				return
			}
			if p.paused {
				p.mu.Unlock()
				continue
			}
			playing := player.IsPlaying()
			if !playing {
				p.current = nil
				p.watch = nil
				_ = player.Close()
			}
			p.mu.Unlock()

			if !playing {
				p.done <- Completion{Gen: gen}
				return
			}
		}
	}
}

// Stop halts the sounding clip. No completion is delivered for it once the
// watcher has been stopped.
func (p *OtoPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *OtoPlayer) stopLocked() {
	if p.watch != nil {
		close(p.watch)
		p.watch = nil
	}
	if p.current != nil {
		p.current.Pause()
		_ = p.current.Close()
		p.current = nil
	}
	p.paused = false
}

// Pause suspends the sounding clip in place.
func (p *OtoPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && !p.paused {
		p.current.Pause()
		p.paused = true
	}
}

// Resume continues a paused clip from where it stopped.
func (p *OtoPlayer) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && p.paused {
		p.paused = false
		p.current.Play()
	}
}

// Done returns the completion channel.
func (p *OtoPlayer) Done() <-chan Completion {
	return p.done
}

// Close stops playback and releases the device.
func (p *OtoPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.closed = true
	return nil
}
