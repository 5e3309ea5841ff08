package batching

import (
	"strings"
	"time"

	"genqueue/internal/domain"
	"genqueue/internal/fingerprint"
)

// Weights of the soft similarity components. Kind, engine and resolution are
// hard gates: a mismatch makes two requests incompatible.
const (
	promptWeight   = 0.5
	styleWeight    = 0.3
	durationWeight = 0.2
)

// compatible reports whether a and b can share a backend call at all.
func compatible(a, b domain.ContentRequest) bool {
	return a.Kind == b.Kind &&
		strings.EqualFold(strings.TrimSpace(a.Engine), strings.TrimSpace(b.Engine)) &&
		strings.EqualFold(strings.TrimSpace(a.Resolution), strings.TrimSpace(b.Resolution))
}

// Similarity scores two requests in [0, 1].
func Similarity(a, b domain.ContentRequest) float64 {
	if !compatible(a, b) {
		return 0
	}
	return promptWeight*fingerprint.PromptSimilarity(a.Prompt, b.Prompt) +
		styleWeight*styleSimilarity(a.Style, b.Style) +
		durationWeight*durationSimilarity(a.Duration, b.Duration)
}

// styleSimilarity is the share of style keys on which a and b agree.
func styleSimilarity(a, b map[string]string) float64 {
	na, nb := normalizeStyle(a), normalizeStyle(b)
	if len(na) == 0 && len(nb) == 0 {
		return 1
	}
	keys := make(map[string]struct{}, len(na)+len(nb))
	for k := range na {
		keys[k] = struct{}{}
	}
	for k := range nb {
		keys[k] = struct{}{}
	}
	same := 0
	for k := range keys {
		va, okA := na[k]
		vb, okB := nb[k]
		if okA && okB && va == vb {
			same++
		}
	}
	return float64(same) / float64(len(keys))
}

func normalizeStyle(s map[string]string) map[string]string {
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func durationSimilarity(a, b time.Duration) float64 {
	if a == b {
		return 1
	}
	lo, hi := min(a, b), max(a, b)
	if hi <= 0 {
		return 1
	}
	return float64(lo) / float64(hi)
}

// centroidSimilarity is the mean similarity of r to every member.
func centroidSimilarity(members []domain.ContentRequest, r domain.ContentRequest) float64 {
	if len(members) == 0 {
		return 1
	}
	var sum float64
	for _, m := range members {
		sum += Similarity(m, r)
	}
	return sum / float64(len(members))
}

// cohesion is the mean pairwise similarity within a batch; singletons are 1.
func cohesion(members []domain.ContentRequest) float64 {
	if len(members) < 2 {
		return 1
	}
	var (
		sum   float64
		pairs int
	)
	for i := range members {
		for j := i + 1; j < len(members); j++ {
			sum += Similarity(members[i], members[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}
