package openai

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/web-shredder/chunk-daddy-sub002/internal/apperr"
	"github.com/web-shredder/chunk-daddy-sub002/internal/domain"
)

// Client is an OpenAI-compatible embeddings provider.
type Client struct {
	client     *openai.Client
	model      string
	dimensions int
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
	// Dimensions asks text-embedding-3 models for shortened vectors. Zero keeps the default.
	Dimensions int
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	return newClient(cfg, key), nil
}

func newClient(cfg Config, key string) *Client {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	oc := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: t}
	return &Client{
		client:     openai.NewClientWithConfig(oc),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai" }

// Embed sends all texts in one request and returns the vectors in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([]domain.Vector, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(c.model),
		Dimensions: c.dimensions,
	})
	if err != nil {
		return nil, apperr.Classify("embedding.openai", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, apperr.New(apperr.KindUpstream, "embedding.openai",
			fmt.Sprintf("got %d embeddings for %d inputs", len(resp.Data), len(texts)))
	}
	// the API does not promise response order, only an index per item
	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([]domain.Vector, len(data))
	for i, d := range data {
		v := make(domain.Vector, len(d.Embedding))
		for j, f := range d.Embedding {
			v[j] = float64(f)
		}
		out[i] = v
	}
	return out, nil
}
