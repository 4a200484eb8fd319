package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// FakeEmbedder implements ai.Embedder deterministically: identical text
// always yields the identical unit vector, so self-similarity is 1.0 and
// unrelated texts land far apart. Fixtures lets tests pin exact vectors.
type FakeEmbedder struct {
	Dim      int
	Fixtures map[string][]float32
	Err      error
}

// NewFakeEmbedder returns a FakeEmbedder producing vectors of dim dimensions.
func NewFakeEmbedder(dim int) *FakeEmbedder {
	return &FakeEmbedder{Dim: dim, Fixtures: make(map[string][]float32)}
}

func (f *FakeEmbedder) Name() string { return "fake-embedder" }

func (f *FakeEmbedder) Register(r api.Registry) {}

func (f *FakeEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	if f.Err != nil {
		return nil, f.Err
	}

	resp := &ai.EmbedResponse{}
	for _, doc := range req.Input {
		text := ""
		if len(doc.Content) > 0 {
			text = doc.Content[0].Text
		}
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{
			Embedding: f.vectorFor(text),
		})
	}
	return resp, nil
}

func (f *FakeEmbedder) vectorFor(text string) []float32 {
	if v, ok := f.Fixtures[text]; ok {
		return v
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, f.Dim)
	var norm float64
	for i := range vec {
		vec[i] = float32(rng.NormFloat64())
		norm += float64(vec[i]) * float64(vec[i])
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// UnitVector builds a unit vector of dim dimensions pointing along axis.
// Two vectors on the same axis have cosine similarity 1.0; orthogonal axes
// have 0. Useful for pinning exact similarities via Fixtures.
func UnitVector(dim, axis int) []float32 {
	vec := make([]float32, dim)
	vec[axis%dim] = 1
	return vec
}

// BlendVectors mixes two vectors with the given weight on a and renormalizes.
// Lets tests construct queries at a chosen similarity to a fixture.
func BlendVectors(a, b []float32, weightA float64) []float32 {
	out := make([]float32, len(a))
	var norm float64
	for i := range a {
		out[i] = float32(weightA*float64(a[i]) + (1-weightA)*float64(b[i]))
		norm += float64(out[i]) * float64(out[i])
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return out
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out
}
