package verify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceattend/internal/embedding"
	"faceattend/internal/ledger"
	"faceattend/internal/matcher"
	"faceattend/internal/template"
)

// stubProvider maps image bytes to vectors; unknown bytes have no face,
// and bytes registered in errs fail with that error.
type stubProvider struct {
	vectors map[string][]float32
	errs    map[string]error
}

func (s *stubProvider) Embed(_ context.Context, image []byte, _ string) (*embedding.Result, error) {
	if err, ok := s.errs[string(image)]; ok {
		return nil, err
	}
	v, ok := s.vectors[string(image)]
	if !ok {
		return nil, embedding.ErrNoFace
	}
	return &embedding.Result{Vector: v, Quality: 0.9}, nil
}

func images(n int, body string) []ImageFile {
	out := make([]ImageFile, n)
	for i := range out {
		out[i] = ImageFile{Name: "f.jpg", Data: []byte(body)}
	}
	return out
}

func newPipeline() (*Orchestrator, *stubProvider, *template.Memory, *ledger.Memory) {
	provider := &stubProvider{
		vectors: map[string][]float32{
			"alice":    {1, 0, 0},
			"bob":      {0, 1, 0},
			"stranger": {0, 0, 1},
		},
		errs: map[string]error{},
	}
	templates := template.NewMemory()
	marks := ledger.NewMemory()
	orch := New(provider, templates, matcher.New(0.80, 0.001), marks, Options{
		MaxSamples:      20,
		CaptureDeadline: 10 * time.Second,
	})
	return orch, provider, templates, marks
}

func TestEnrollThenVerifyAndMark(t *testing.T) {
	orch, _, _, _ := newPipeline()
	ctx := context.Background()

	summary, err := orch.Enroll(ctx, "user-a", "tok-1", images(5, "alice"))
	require.NoError(t, err)
	assert.True(t, summary.Enrolled)
	assert.Equal(t, 5, summary.Accepted)

	// First check-in of the day creates the record.
	res, err := orch.VerifyAndMark(ctx, ImageFile{Name: "probe.jpg", Data: []byte("alice")})
	require.NoError(t, err)
	assert.Equal(t, "user-a", res.UserID)
	assert.Equal(t, ledger.OutcomeCreated, res.Marked)

	// A second capture the same day is dedup, not a duplicate row.
	res2, err := orch.VerifyAndMark(ctx, ImageFile{Name: "probe.jpg", Data: []byte("alice")})
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeAlreadyMarked, res2.Marked)
	assert.Equal(t, res.Record.TimeIn, res2.Record.TimeIn)
}

func TestVerifyUnenrolledFaceIsNotRecognized(t *testing.T) {
	orch, _, _, marks := newPipeline()
	ctx := context.Background()

	_, err := orch.Enroll(ctx, "user-a", "tok-1", images(5, "alice"))
	require.NoError(t, err)

	_, err = orch.VerifyAndMark(ctx, ImageFile{Name: "probe.jpg", Data: []byte("stranger")})
	assert.ErrorIs(t, err, matcher.ErrNoMatch)

	// Rejection must leave no attendance side effect.
	records, err := marks.ListDay(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestVerifyNoFaceDetected(t *testing.T) {
	orch, _, _, marks := newPipeline()
	ctx := context.Background()

	_, err := orch.VerifyAndMark(ctx, ImageFile{Name: "probe.jpg", Data: []byte("wall")})
	assert.ErrorIs(t, err, embedding.ErrNoFace)

	records, _ := marks.ListDay(ctx, time.Now().UTC())
	assert.Empty(t, records)
}

func TestEnrollInsufficientExtractableSamples(t *testing.T) {
	orch, _, templates, _ := newPipeline()
	ctx := context.Background()

	// Five images offered, only three have a usable face.
	batch := append(images(3, "alice"), images(2, "wall")...)
	summary, err := orch.Enroll(ctx, "user-a", "tok-1", batch)
	assert.ErrorIs(t, err, template.ErrInsufficientSamples)
	assert.Equal(t, 3, summary.Accepted)
	assert.Equal(t, 2, summary.Rejected)
	assert.False(t, summary.Enrolled)

	_, err = templates.GetTemplate(ctx, "user-a")
	assert.ErrorIs(t, err, template.ErrNotFound, "no partial template may be persisted")
}

func TestEnrollDeadlineShortfall(t *testing.T) {
	clock := time.Now()
	now := func() time.Time { return clock }

	provider := &stubProvider{vectors: map[string][]float32{"alice": {1, 0, 0}}}
	templates := template.NewMemory()
	orch := New(provider, templates, matcher.New(0.80, 0.001), ledger.NewMemory(), Options{
		MaxSamples:      20,
		CaptureDeadline: 10 * time.Second,
		Now: func() time.Time {
			// Every clock observation moves time 4s forward, so the
			// deadline passes while the batch is still short of five.
			t := now()
			clock = clock.Add(4 * time.Second)
			return t
		},
	})

	summary, err := orch.Enroll(context.Background(), "user-a", "tok-1", images(8, "alice"))
	assert.ErrorIs(t, err, template.ErrInsufficientSamples)
	assert.False(t, summary.Enrolled)

	_, err = templates.GetTemplate(context.Background(), "user-a")
	assert.ErrorIs(t, err, template.ErrNotFound)
}

func TestEnrollRetryIsIdempotent(t *testing.T) {
	orch, _, templates, _ := newPipeline()
	ctx := context.Background()

	_, err := orch.Enroll(ctx, "user-a", "tok-1", images(5, "alice"))
	require.NoError(t, err)

	// Network retry replays the same session token with a bigger batch.
	_, err = orch.Enroll(ctx, "user-a", "tok-1", images(7, "alice"))
	require.NoError(t, err)

	tmpl, err := templates.GetTemplate(ctx, "user-a")
	require.NoError(t, err)
	assert.Len(t, tmpl.Embeddings, 5)
}

func TestVerifyProviderTimeout(t *testing.T) {
	orch, provider, _, marks := newPipeline()
	provider.errs["alice"] = embedding.ErrTimeout
	ctx := context.Background()

	_, err := orch.VerifyAndMark(ctx, ImageFile{Name: "probe.jpg", Data: []byte("alice")})
	assert.ErrorIs(t, err, embedding.ErrTimeout)

	// Never silently degrade an infrastructure fault into a match.
	records, _ := marks.ListDay(ctx, time.Now().UTC())
	assert.Empty(t, records)
}

func TestVerifyAmbiguousTwins(t *testing.T) {
	orch, _, _, _ := newPipeline()
	ctx := context.Background()

	// Two users enrolled with the same vectors: a probe that fits both
	// must be rejected, not assigned to either.
	_, err := orch.Enroll(ctx, "user-a", "tok-1", images(5, "alice"))
	require.NoError(t, err)
	_, err = orch.Enroll(ctx, "user-b", "tok-2", images(5, "alice"))
	require.NoError(t, err)

	_, err = orch.VerifyAndMark(ctx, ImageFile{Name: "probe.jpg", Data: []byte("alice")})
	assert.ErrorIs(t, err, matcher.ErrAmbiguous)
}
