package memory

import (
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// Embedder maps text to a fixed-size unit vector.
type Embedder interface {
	ModelID() string
	Embed(text string) []float32
}

const defaultEmbeddingModel = "dotcompanion-chargram-384-v1"

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_\-]+`)

type chargramEmbedder struct {
	dims    int
	modelID string
}

// NewChargramEmbedder returns the local character-trigram embedder.
func NewChargramEmbedder() Embedder {
	return &chargramEmbedder{dims: 384, modelID: defaultEmbeddingModel}
}

func (e *chargramEmbedder) ModelID() string { return e.modelID }

// Embed hashes character trigrams of the padded text plus whole tokens
// (weighted higher) into the vector, then scales it to unit length.
func (e *chargramEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.dims)
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return vec
	}
	padded := "#" + lower + "#"
	for i := 3; i <= len(padded); i++ {
		vec[e.bucket(padded[i-3:i])]++
	}
	for _, token := range tokenize(lower) {
		vec[e.bucket("tok:"+token)] += 1.25
	}

	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq > 0 {
		scale := float32(1 / math.Sqrt(sumSq))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

func (e *chargramEmbedder) bucket(feature string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	return int(h.Sum64() % uint64(e.dims))
}

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// similarity is the dot product of two unit vectors, over their common length.
func similarity(a, b []float32) float64 {
	var dot float64
	for i := range min(len(a), len(b)) {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// NoveltyDetector decides whether a message is a first mention relative to
// what the companion already remembers.
type NoveltyDetector struct {
	embedder  Embedder
	threshold float64
}

func NewNoveltyDetector(embedder Embedder, threshold float64) *NoveltyDetector {
	if embedder == nil {
		embedder = NewChargramEmbedder()
	}
	if threshold <= 0 || threshold > 1 {
		threshold = 0.82
	}
	return &NoveltyDetector{embedder: embedder, threshold: threshold}
}

// IsFirstMention is true when the message introduced new vocabulary or is
// not close to any prior memory.
func (d *NoveltyDetector) IsFirstMention(text string, newWords int, prior []MemoryRecord) bool {
	if newWords > 0 {
		return true
	}
	if len(prior) == 0 {
		return true
	}
	vec := d.embedder.Embed(text)
	for _, rec := range prior {
		if similarity(vec, d.embedder.Embed(rec.Text)) >= d.threshold {
			return false
		}
	}
	return true
}
