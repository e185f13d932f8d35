package audio

import (
	"sync"
	"time"
)

// MockPlayer implements Player for tests. It produces no sound: each clip
// completes after a configurable delay (instantly by default), and every
// call is recorded for assertions.
type MockPlayer struct {
	done chan Completion

	mu        sync.Mutex
	playDelay time.Duration
	playErr   error
	timer     *time.Timer
	active    bool
	paused    bool

	played      [][]byte
	playedGens  []uint64
	stopCount   int
	pauseCount  int
	resumeCount int
	closed      bool
}

var _ Player = (*MockPlayer)(nil)

// NewMockPlayer returns a mock that completes clips immediately.
func NewMockPlayer() *MockPlayer {
	return &MockPlayer{done: make(chan Completion, 16)}
}

// SetPlayDelay makes subsequent clips take d to complete.
func (m *MockPlayer) SetPlayDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playDelay = d
}

// SetPlayError makes subsequent Play calls fail with err.
func (m *MockPlayer) SetPlayError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playErr = err
}

// Play records the clip and schedules its completion.
func (m *MockPlayer) Play(pcm []byte, gen uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.playErr != nil {
		return m.playErr
	}

	m.cancelTimerLocked()

	data := make([]byte, len(pcm))
	copy(data, pcm)
	m.played = append(m.played, data)
	m.playedGens = append(m.playedGens, gen)
	m.active = true
	m.paused = false

	m.timer = time.AfterFunc(m.playDelay, func() {
		m.mu.Lock()
		if !m.active {
			m.mu.Unlock()
			return
		}
		m.active = false
		m.mu.Unlock()
		m.done <- Completion{Gen: gen}
	})
	return nil
}

// Stop cancels the in-flight clip; its completion will not be delivered.
func (m *MockPlayer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCount++
	m.cancelTimerLocked()
}

// Pause freezes the in-flight clip.
func (m *MockPlayer) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauseCount++
	if m.active && !m.paused {
		m.paused = true
		if m.timer != nil {
			m.timer.Stop()
		}
	}
}

// Resume restarts a paused clip; it completes after the configured delay
// again.
func (m *MockPlayer) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumeCount++
	if !m.active || !m.paused {
		return
	}
	m.paused = false
	gen := m.playedGens[len(m.playedGens)-1]
	m.timer = time.AfterFunc(m.playDelay, func() {
		m.mu.Lock()
		if !m.active {
			m.mu.Unlock()
			return
		}
		m.active = false
		m.mu.Unlock()
		m.done <- Completion{Gen: gen}
	})
}

// Done returns the completion channel.
func (m *MockPlayer) Done() <-chan Completion {
	return m.done
}

// Close stops playback.
func (m *MockPlayer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimerLocked()
	m.closed = true
	return nil
}

func (m *MockPlayer) cancelTimerLocked() {
	m.active = false
	m.paused = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Played returns the recorded clip payloads in play order.
func (m *MockPlayer) Played() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.played))
	copy(out, m.played)
	return out
}

// PlayedGens returns the generations passed to Play, in order.
func (m *MockPlayer) PlayedGens() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, len(m.playedGens))
	copy(out, m.playedGens)
	return out
}

// Active reports whether a clip is currently in flight.
func (m *MockPlayer) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// StopCount returns the number of Stop calls.
func (m *MockPlayer) StopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCount
}

// PauseCount returns the number of Pause calls.
func (m *MockPlayer) PauseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pauseCount
}

// ResumeCount returns the number of Resume calls.
func (m *MockPlayer) ResumeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resumeCount
}
