// Package capture drives the acquisition of face samples for one
// enrollment or verification interaction. A session is owned by a
// single event-ordered caller; it does no internal threading, and all
// waiting is cooperative against a deadline computed from the clock.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"faceattend/internal/embedding"
	"faceattend/internal/template"
)

// State of a capture session.
type State int

const (
	StateReady State = iota
	StateScanning
	StateProcessing
	StateSuccess
	StateError
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateScanning:
		return "scanning"
	case StateProcessing:
		return "processing"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Mode selects enrollment (multi-sample) or verification (single-sample).
type Mode int

const (
	ModeEnroll Mode = iota
	ModeVerify
)

var (
	// ErrNotScanning means the operation is only valid while scanning.
	ErrNotScanning = errors.New("session is not scanning")
	// ErrDeadlineElapsed means the hard capture deadline passed; the
	// session has moved to processing with whatever it accumulated.
	ErrDeadlineElapsed = errors.New("capture deadline elapsed")
	// ErrCancelled means the session was torn down by the caller.
	ErrCancelled = errors.New("capture session cancelled")
)

// Options tune a session. Zero values take the defaults: 5 target
// samples, 20 max, 10s deadline, 1.5s cadence.
type Options struct {
	TargetSamples int
	MaxSamples    int
	Deadline      time.Duration
	Interval      time.Duration
	Now           func() time.Time
}

// Session accumulates provider-accepted samples until it completes,
// times out, or is cancelled. Nothing is persisted here; a cancelled
// session leaves no trace.
type Session struct {
	mode     Mode
	provider embedding.Provider
	opts     Options

	state        State
	samples      []template.Embedding
	rejected     int
	deadline     time.Time
	lastAccepted time.Time
	cancelled    bool
}

// NewSession creates a session in the Ready state.
func NewSession(provider embedding.Provider, mode Mode, opts Options) *Session {
	if opts.TargetSamples <= 0 {
		opts.TargetSamples = template.MinSamples
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 20
	}
	if opts.MaxSamples < opts.TargetSamples {
		opts.MaxSamples = opts.TargetSamples
	}
	if opts.Deadline <= 0 {
		opts.Deadline = 10 * time.Second
	}
	if opts.Interval <= 0 {
		opts.Interval = 1500 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{mode: mode, provider: provider, opts: opts, state: StateReady}
}

// State reports the current state.
func (s *Session) State() State { return s.state }

// Start moves Ready -> Scanning with zero samples and a fresh deadline.
func (s *Session) Start() error {
	if s.state != StateReady {
		return fmt.Errorf("start from %s: %w", s.state, ErrNotScanning)
	}
	s.samples = nil
	s.rejected = 0
	s.cancelled = false
	s.deadline = s.opts.Now().Add(s.opts.Deadline)
	s.state = StateScanning
	return nil
}

// AddSample runs one enrollment image through the provider. The quality
// gate is the provider's alone: extraction failure rejects the sample
// and the session keeps scanning. Once the target count is reached, or
// the hard deadline has passed, the session moves to Processing.
func (s *Session) AddSample(ctx context.Context, image []byte, filename string) error {
	if s.mode != ModeEnroll {
		return fmt.Errorf("add sample in verify mode: %w", ErrNotScanning)
	}
	if s.state != StateScanning {
		return ErrNotScanning
	}
	if !s.opts.Now().Before(s.deadline) {
		s.state = StateProcessing
		return ErrDeadlineElapsed
	}

	res, err := s.provider.Embed(ctx, image, filename)
	if err != nil {
		if errors.Is(err, embedding.ErrNoFace) {
			s.rejected++
		}
		return err
	}

	now := s.opts.Now()
	s.samples = append(s.samples, template.Embedding{
		Vector:     res.Vector,
		Quality:    res.Quality,
		CapturedAt: now,
	})
	s.lastAccepted = now
	if len(s.samples) >= s.opts.TargetSamples {
		s.state = StateProcessing
	}
	return nil
}

// Capture takes the single verification sample and moves straight to
// Processing.
func (s *Session) Capture(ctx context.Context, image []byte, filename string) (*template.Embedding, error) {
	if s.mode != ModeVerify {
		return nil, fmt.Errorf("capture in enroll mode: %w", ErrNotScanning)
	}
	if s.state != StateScanning {
		return nil, ErrNotScanning
	}

	res, err := s.provider.Embed(ctx, image, filename)
	if err != nil {
		s.state = StateError
		return nil, err
	}
	emb := template.Embedding{Vector: res.Vector, Quality: res.Quality, CapturedAt: s.opts.Now()}
	s.samples = []template.Embedding{emb}
	s.state = StateProcessing
	return &emb, nil
}

// Complete moves to Processing and hands back the accumulated samples.
// A shortfall against the target is allowed here; whether it is fatal
// is the persistence step's call, not the capture step's.
func (s *Session) Complete() ([]template.Embedding, error) {
	switch s.state {
	case StateScanning, StateProcessing:
	default:
		return nil, ErrNotScanning
	}
	s.state = StateProcessing
	out := make([]template.Embedding, len(s.samples))
	copy(out, s.samples)
	return out, nil
}

// Shortfall is how many accepted samples the session is missing against
// its target. Zero means the target was met.
func (s *Session) Shortfall() int {
	if n := s.opts.TargetSamples - len(s.samples); n > 0 {
		return n
	}
	return 0
}

// Accepted and Rejected report sample counts for caller feedback.
func (s *Session) Accepted() int { return len(s.samples) }
func (s *Session) Rejected() int { return s.rejected }

// Expired reports whether the hard capture deadline has passed.
func (s *Session) Expired() bool {
	return s.state == StateScanning && !s.opts.Now().Before(s.deadline)
}

// NextSampleAt tells an interactive driver when the next periodic
// sample is due. It is a cadence hint, never a trust decision.
func (s *Session) NextSampleAt() time.Time {
	if s.lastAccepted.IsZero() {
		return s.opts.Now()
	}
	return s.lastAccepted.Add(s.opts.Interval)
}

// Conclude records the outcome of Processing.
func (s *Session) Conclude(err error) {
	if s.state != StateProcessing {
		return
	}
	if err != nil {
		s.state = StateError
		return
	}
	s.state = StateSuccess
}

// Cancel tears the session down and discards everything it held. No
// partial template can survive a cancelled session.
func (s *Session) Cancel() {
	if s.state == StateSuccess {
		return
	}
	s.samples = nil
	s.cancelled = true
	s.state = StateError
}

// Cancelled reports whether the session ended by explicit cancel.
func (s *Session) Cancelled() bool { return s.cancelled }

// Reset returns a terminal session to Ready with nothing accumulated.
func (s *Session) Reset() error {
	switch s.state {
	case StateSuccess, StateError:
	default:
		return fmt.Errorf("reset from %s: %w", s.state, ErrNotScanning)
	}
	s.samples = nil
	s.rejected = 0
	s.cancelled = false
	s.state = StateReady
	return nil
}
