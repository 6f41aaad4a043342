package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/web-shredder/chunk-daddy-sub002/internal/apperr"
	"github.com/web-shredder/chunk-daddy-sub002/internal/batch"
	"github.com/web-shredder/chunk-daddy-sub002/internal/domain"
	"github.com/web-shredder/chunk-daddy-sub002/internal/logger"
	"github.com/web-shredder/chunk-daddy-sub002/internal/metrics"
)

const defaultBatchSize = 32

// BatchClient pages embedding requests through a Provider.
type BatchClient struct {
	provider   Provider
	batchSize  int
	maxRetries int
	logger     *zap.Logger
	metrics    *metrics.Metrics

	// fitMu keeps Prepare and the following Embed calls of one request together.
	fitMu sync.Mutex
}

// Option configures a BatchClient.
type Option func(*BatchClient)

func WithBatchSize(n int) Option {
	return func(c *BatchClient) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

func WithRetries(n int) Option {
	return func(c *BatchClient) { c.maxRetries = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *BatchClient) { c.logger = logger.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *BatchClient) { c.metrics = m }
}

// NewBatchClient wraps p.
func NewBatchClient(p Provider, opts ...Option) *BatchClient {
	c := &BatchClient{provider: p, batchSize: defaultBatchSize, maxRetries: 3, logger: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Provider returns the wrapped provider.
func (c *BatchClient) Provider() Provider { return c.provider }

// EmbedAll embeds texts in pages of at most the batch size. The result has exactly one
// vector per text in input order. Any page failing fails the whole call. Providers that
// implement Preparer are fitted to all texts first, so every vector of one call shares
// a vocabulary.
func (c *BatchClient) EmbedAll(ctx context.Context, texts []string) ([]domain.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if p, ok := c.provider.(Preparer); ok {
		c.fitMu.Lock()
		defer c.fitMu.Unlock()
		if err := p.Prepare(texts); err != nil {
			return nil, apperr.Wrap(apperr.KindInvalidInput, "embedding.prepare", err)
		}
	}
	out := make([]domain.Vector, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		page := texts[start:end]

		var vecs []domain.Vector
		err := batch.Retry(ctx, c.maxRetries, func(ctx context.Context) error {
			var callErr error
			vecs, callErr = c.provider.Embed(ctx, page)
			if callErr != nil {
				callErr = apperr.Classify("embedding."+c.provider.Name(), callErr)
				c.logger.Warn("embedding call failed",
					zap.String("provider", c.provider.Name()),
					zap.Int("offset", start),
					zap.Int("count", len(page)),
					zap.Error(callErr))
			}
			return callErr
		})
		if err != nil {
			c.metrics.EmbeddingCall(c.provider.Name(), string(apperr.KindOf(err)))
			return nil, err
		}
		c.metrics.EmbeddingCall(c.provider.Name(), "ok")
		if len(vecs) != len(page) {
			return nil, apperr.New(apperr.KindUpstream, "embedding."+c.provider.Name(),
				fmt.Sprintf("provider returned %d vectors for %d texts", len(vecs), len(page)))
		}
		out = append(out, vecs...)
	}
	if err := checkDimensions(out); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedRequest runs every text of req as one flattened call and unzips the vectors by key.
func (c *BatchClient) EmbedRequest(ctx context.Context, req *Request) (*Result, error) {
	// blank texts are never sent; providers reject them and fail the whole call
	keys := make([]Key, 0, len(req.keys))
	texts := make([]string, 0, len(req.texts))
	for i, k := range req.keys {
		if strings.TrimSpace(req.texts[i]) == "" {
			c.logger.Warn("skipping blank text in embedding request",
				zap.String("role", string(k.Role)),
				zap.String("id", k.ID),
				zap.String("kind", string(apperr.KindDataIntegrity)))
			continue
		}
		keys = append(keys, k)
		texts = append(texts, req.texts[i])
	}
	res := &Result{vectors: make(map[Key]domain.Vector, len(keys))}
	if len(texts) == 0 {
		return res, nil
	}
	vecs, err := c.EmbedAll(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		res.vectors[k] = vecs[i]
	}
	return res, nil
}

func checkDimensions(vecs []domain.Vector) error {
	dim := 0
	for i, v := range vecs {
		if len(v) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(v)
			continue
		}
		if len(v) != dim {
			return apperr.New(apperr.KindUpstream, "embedding",
				fmt.Sprintf("vector %d has dimension %d, expected %d", i, len(v), dim))
		}
	}
	return nil
}
