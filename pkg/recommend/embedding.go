package recommend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lumipark/localpulse/internal/cache"
)

// EmbeddingDims is the vector size shared by all providers.
const EmbeddingDims = 64

// EmbeddingProvider turns text into a vector. Implementations: the remote ML
// service and the deterministic local heuristic.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	UpdateModel(ctx context.Context) error
	Name() string
}

// RemoteProvider calls the external ML service over HTTP with JSON bodies.
type RemoteProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewRemoteProvider creates a remote embedding client.
func NewRemoteProvider(baseURL, apiKey string, timeout time.Duration) *RemoteProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

func (p *RemoteProvider) Name() string { return "remote" }

func (p *RemoteProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	payload, _ := json.Marshal(map[string]string{"input": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embedding service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("embedding service status %d", resp.StatusCode)
	}

	var result struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("embedding service returned empty vector")
	}
	return result.Embedding, nil
}

func (p *RemoteProvider) UpdateModel(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/model/update", nil)
	if err != nil {
		return fmt.Errorf("create model update request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("call model update: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("model update status %d", resp.StatusCode)
	}
	return nil
}

// HeuristicProvider is the deterministic local fallback: tokens are hashed
// into a fixed-size vector, which is then L2-normalized. The same text always
// yields the same vector.
type HeuristicProvider struct{}

func (HeuristicProvider) Name() string { return "heuristic" }

func (HeuristicProvider) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, EmbeddingDims)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(token))
		idx := int(h.Sum32() % EmbeddingDims)
		// Alternate sign by a second bit of the hash so vectors spread out.
		sign := 1.0
		if h.Sum32()&0x10000 != 0 {
			sign = -1.0
		}
		vec[idx] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

func (HeuristicProvider) UpdateModel(context.Context) error { return nil }

// FallbackProvider tries the primary provider and falls back on any failure
// (timeout, non-2xx, connection error are all treated identically). Failures
// are logged as warnings, never propagated.
type FallbackProvider struct {
	primary  EmbeddingProvider
	fallback EmbeddingProvider
}

// NewFallbackProvider composes a primary provider with a fallback.
func NewFallbackProvider(primary, fallback EmbeddingProvider) *FallbackProvider {
	return &FallbackProvider{primary: primary, fallback: fallback}
}

func (p *FallbackProvider) Name() string { return p.primary.Name() + "+" + p.fallback.Name() }

func (p *FallbackProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	vec, err := p.primary.Embed(ctx, text)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %s embedding failed, using %s: %v\n",
			p.primary.Name(), p.fallback.Name(), err)
		return p.fallback.Embed(ctx, text)
	}
	return vec, nil
}

func (p *FallbackProvider) UpdateModel(ctx context.Context) error {
	if err := p.primary.UpdateModel(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %s model update failed: %v\n", p.primary.Name(), err)
	}
	return nil
}

// CachedProvider memoizes vectors with a TTL and drops them on model update.
type CachedProvider struct {
	inner EmbeddingProvider
	cache *cache.Cache
}

// NewCachedProvider wraps a provider with an embedding cache.
func NewCachedProvider(inner EmbeddingProvider, c *cache.Cache) *CachedProvider {
	return &CachedProvider{inner: inner, cache: c}
}

func (p *CachedProvider) Name() string { return p.inner.Name() }

func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	key := "emb:" + text
	if v, ok := p.cache.Get(key); ok {
		return v.([]float64), nil
	}
	vec, err := p.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	p.cache.Set(key, vec)
	return vec, nil
}

func (p *CachedProvider) UpdateModel(ctx context.Context) error {
	p.cache.Clear()
	return p.inner.UpdateModel(ctx)
}

// cosine returns the cosine similarity of two vectors, 0 when either is zero
// or lengths differ.
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
