// Package verify composes capture, embedding, matching, and the
// attendance ledger into the two end-to-end flows: enroll and
// verify-and-mark.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"faceattend/internal/capture"
	"faceattend/internal/embedding"
	"faceattend/internal/ledger"
	"faceattend/internal/matcher"
	"faceattend/internal/metrics"
	"faceattend/internal/template"
)

// ImageFile is one uploaded capture.
type ImageFile struct {
	Name string
	Data []byte
}

// EnrollSummary reports what the capture session did with the offered
// images, whether or not enrollment persisted.
type EnrollSummary struct {
	Accepted int  `json:"accepted"`
	Rejected int  `json:"rejected"`
	Enrolled bool `json:"enrolled"`
}

// Result is a successful verify-and-mark outcome.
type Result struct {
	UserID string
	Score  float64
	Marked ledger.Outcome
	Record ledger.Record
}

// Options tune the orchestrator's capture sessions.
type Options struct {
	MaxSamples      int
	CaptureDeadline time.Duration
	SampleInterval  time.Duration
	Now             func() time.Time
}

// Orchestrator wires the pipeline together. It holds no per-request
// state; sessions are created per call and die with it.
type Orchestrator struct {
	provider  embedding.Provider
	templates template.Store
	match     *matcher.Matcher
	marks     ledger.Ledger
	opts      Options
}

// New creates an orchestrator.
func New(provider embedding.Provider, templates template.Store, m *matcher.Matcher, marks ledger.Ledger, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{provider: provider, templates: templates, match: m, marks: marks, opts: opts}
}

// Enroll runs an enrollment capture session over the uploaded images
// and persists the template when enough samples were accepted. The
// session token makes retries idempotent. No partial template survives
// a failure at any step.
func (o *Orchestrator) Enroll(ctx context.Context, userID, sessionToken string, images []ImageFile) (EnrollSummary, error) {
	target := len(images)
	if target > o.opts.MaxSamples && o.opts.MaxSamples > 0 {
		target = o.opts.MaxSamples
	}
	sess := capture.NewSession(o.provider, capture.ModeEnroll, capture.Options{
		TargetSamples: target,
		MaxSamples:    o.opts.MaxSamples,
		Deadline:      o.opts.CaptureDeadline,
		Interval:      o.opts.SampleInterval,
		Now:           o.opts.Now,
	})
	if err := sess.Start(); err != nil {
		return EnrollSummary{}, err
	}

	for _, img := range images {
		err := sess.AddSample(ctx, img.Data, img.Name)
		switch {
		case err == nil:
			continue
		case errors.Is(err, embedding.ErrNoFace):
			continue
		case errors.Is(err, capture.ErrDeadlineElapsed):
			// Proceed with whatever was accepted; persistence below
			// decides whether the shortfall is fatal.
		case errors.Is(err, capture.ErrNotScanning):
			// Target reached early.
		default:
			sess.Cancel()
			metrics.Enrollments.WithLabelValues(outcomeLabel(err)).Inc()
			return EnrollSummary{Accepted: sess.Accepted(), Rejected: sess.Rejected()}, err
		}
		break
	}

	samples, err := sess.Complete()
	if err != nil {
		return EnrollSummary{}, err
	}
	summary := EnrollSummary{Accepted: sess.Accepted(), Rejected: sess.Rejected()}

	if len(samples) < template.MinSamples {
		err := fmt.Errorf("%w: accepted %d of %d required", template.ErrInsufficientSamples, len(samples), template.MinSamples)
		sess.Conclude(err)
		metrics.Enrollments.WithLabelValues("insufficient_samples").Inc()
		return summary, err
	}

	if err := o.templates.Enroll(ctx, userID, sessionToken, samples); err != nil {
		sess.Conclude(err)
		metrics.Enrollments.WithLabelValues("store_error").Inc()
		return summary, err
	}
	sess.Conclude(nil)
	summary.Enrolled = true
	metrics.Enrollments.WithLabelValues("enrolled").Inc()
	return summary, nil
}

// VerifyAndMark takes one captured image, determines identity from the
// matcher alone, and appends the day's attendance record. The ledger
// write is the only durable side effect; once it is in flight it is
// allowed to complete even if the caller goes away.
func (o *Orchestrator) VerifyAndMark(ctx context.Context, image ImageFile) (Result, error) {
	sess := capture.NewSession(o.provider, capture.ModeVerify, capture.Options{
		Deadline: o.opts.CaptureDeadline,
		Now:      o.opts.Now,
	})
	if err := sess.Start(); err != nil {
		return Result{}, err
	}

	probe, err := sess.Capture(ctx, image.Data, image.Name)
	if err != nil {
		metrics.Verifications.WithLabelValues(outcomeLabel(err)).Inc()
		return Result{}, err
	}

	candidates, err := o.templates.ListTemplates(ctx)
	if err != nil {
		sess.Conclude(err)
		metrics.Verifications.WithLabelValues("store_error").Inc()
		return Result{}, err
	}

	m, err := o.match.Match(probe.Vector, candidates)
	if err != nil {
		sess.Conclude(err)
		metrics.Verifications.WithLabelValues(outcomeLabel(err)).Inc()
		return Result{}, err
	}

	now := o.opts.Now().UTC()
	mark, err := o.marks.MarkPresent(context.WithoutCancel(ctx), m.UserID, ledger.DayOf(now), now)
	if err != nil {
		sess.Conclude(err)
		metrics.Verifications.WithLabelValues("ledger_error").Inc()
		return Result{}, err
	}

	sess.Conclude(nil)
	metrics.Verifications.WithLabelValues("matched").Inc()
	metrics.AttendanceMarks.WithLabelValues(string(mark.Outcome)).Inc()
	return Result{UserID: m.UserID, Score: m.Score, Marked: mark.Outcome, Record: mark.Record}, nil
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, embedding.ErrNoFace):
		return "no_face"
	case errors.Is(err, embedding.ErrTimeout):
		return "provider_timeout"
	case errors.Is(err, embedding.ErrUnavailable):
		return "provider_unavailable"
	case errors.Is(err, matcher.ErrNoMatch):
		return "not_recognized"
	case errors.Is(err, matcher.ErrAmbiguous):
		return "ambiguous"
	default:
		return "error"
	}
}
