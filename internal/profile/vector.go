// internal/profile/vector.go
// Interest vectors: a user's ranked interests projected onto the master
// vocabulary, weighted by rank.

package profile

import (
	"math"
	"strings"
)

// MaxRankedInterests is how many of a user's interests enter the vector
const MaxRankedInterests = 10

var defaultTerms = []string{
	"hiking", "coding", "gaming", "music", "movies", "reading", "travel", "cooking",
	"fitness", "photography", "art", "dancing", "yoga", "running", "cycling", "football",
	"basketball", "tennis", "swimming", "anime", "fashion", "writing", "podcasts", "theatre",
	"board games", "camping", "climbing", "coffee", "wine", "food", "pets", "gardening",
	"volunteering", "meditation", "astronomy", "history", "science", "startups", "design", "languages",
}

// Vocabulary is the ordered master list of interests. Slot i of every
// vector corresponds to term i.
type Vocabulary struct {
	terms []string
	index map[string]int
}

// NewVocabulary normalizes and de-duplicates terms, keeping first occurrence order
func NewVocabulary(terms []string) *Vocabulary {
	v := &Vocabulary{index: make(map[string]int, len(terms))}
	for _, t := range terms {
		n := normalizeInterest(t)
		if n == "" {
			continue
		}
		if _, dup := v.index[n]; dup {
			continue
		}
		v.index[n] = len(v.terms)
		v.terms = append(v.terms, n)
	}
	return v
}

// DefaultVocabulary returns the built-in interest list
func DefaultVocabulary() *Vocabulary {
	return NewVocabulary(defaultTerms)
}

func (v *Vocabulary) Size() int {
	return len(v.terms)
}

func (v *Vocabulary) Contains(term string) bool {
	_, ok := v.index[normalizeInterest(term)]
	return ok
}

// BuildVector maps the first MaxRankedInterests entries of a ranked list
// onto the vocabulary. Unknown terms keep their rank position but add no
// weight; repeated terms keep the higher-ranked weight.
func (v *Vocabulary) BuildVector(interests []string) []float32 {
	vec := make([]float32, len(v.terms))
	for rank, raw := range interests {
		if rank >= MaxRankedInterests {
			break
		}
		slot, ok := v.index[normalizeInterest(raw)]
		if !ok || vec[slot] > 0 {
			continue
		}
		vec[slot] = RankWeight(rank)
	}
	return vec
}

// RankWeight is max(0.1, 1.0 - 0.1*rank)
func RankWeight(rank int) float32 {
	w := 1.0 - 0.1*float64(rank)
	if w < 0.1 {
		w = 0.1
	}
	return float32(w)
}

// CosineDistance is 1 - cosine similarity. Zero vectors and mismatched
// dimensions are maximally distant (1.0).
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1.0
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1.0
	}
	return 1.0 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func normalizeInterest(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
