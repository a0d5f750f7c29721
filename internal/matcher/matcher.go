// Package matcher scores a probe embedding against enrolled templates
// and decides whether any identity is a confident match.
package matcher

import (
	"errors"
	"math"

	"faceattend/internal/template"
)

var (
	// ErrNoMatch means no template scored at or above the threshold.
	ErrNoMatch = errors.New("no template scored above threshold")
	// ErrAmbiguous means two identities scored within epsilon of each
	// other; reject rather than guess.
	ErrAmbiguous = errors.New("top candidates scored too close to separate")
)

// Match is a winning identity with its similarity score.
type Match struct {
	UserID string
	Score  float64
}

// Matcher holds the acceptance policy.
type Matcher struct {
	threshold float64
	epsilon   float64
}

// New creates a matcher. Zero values fall back to the defaults
// (threshold 0.80 on cosine similarity, epsilon 0.001).
func New(threshold, epsilon float64) *Matcher {
	if threshold <= 0 {
		threshold = 0.80
	}
	if epsilon <= 0 {
		epsilon = 0.001
	}
	return &Matcher{threshold: threshold, epsilon: epsilon}
}

// Match scores the probe against every candidate template. A
// template's score is the maximum similarity over its stored
// embeddings: any one clean enrollment sample is sufficient evidence.
// The best identity wins if it clears the threshold and beats the
// runner-up by more than epsilon.
func (m *Matcher) Match(probe []float32, candidates []template.Template) (Match, error) {
	best := Match{Score: math.Inf(-1)}
	second := math.Inf(-1)

	for _, cand := range candidates {
		score := math.Inf(-1)
		for _, emb := range cand.Embeddings {
			if s := CosineSimilarity(probe, emb.Vector); s > score {
				score = s
			}
		}
		if len(cand.Embeddings) == 0 {
			continue
		}
		if score > best.Score {
			second = best.Score
			best = Match{UserID: cand.UserID, Score: score}
		} else if score > second {
			second = score
		}
	}

	if best.UserID == "" || best.Score < m.threshold {
		return Match{}, ErrNoMatch
	}
	if best.Score-second <= m.epsilon {
		return Match{}, ErrAmbiguous
	}
	return best, nil
}

// CosineSimilarity returns the cosine of the angle between two vectors,
// clamped to [-1, 1]. Mismatched or zero vectors score -1.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return -1
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return sim
}
