package discovery

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ebongard/renfield-mcp-dlna/internal/domain"
)

const (
	cacheTTL             = 5 * time.Minute
	defaultSearchTimeout = 4 * time.Second
	descriptionTimeout   = 5 * time.Second
	maxDescriptionBytes  = 1 << 20
)

// Engine discovers MediaRenderers on the LAN and caches the result.
// Only the Engine writes the cache; updates replace it as a single swap.
type Engine struct {
	logger        *slog.Logger
	client        *retryablehttp.Client
	search        searchFunc
	searchTimeout time.Duration
	ttl           time.Duration
	now           func() time.Time

	mu       sync.Mutex
	cached   []domain.Renderer
	cachedAt time.Time
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 1
	client.Logger = nil
	client.HTTPClient.Timeout = descriptionTimeout

	return &Engine{
		logger:        logger,
		client:        client,
		search:        ssdpSearch,
		searchTimeout: defaultSearchTimeout,
		ttl:           cacheTTL,
		now:           time.Now,
	}
}

// Discover returns the known renderers. While the cache is younger than
// the TTL and force is false, the cached list is returned unchanged with
// no network activity. A fresh pass fans out over every discovered
// location; individual fetch or parse failures never fail the pass.
func (e *Engine) Discover(ctx context.Context, force bool) ([]domain.Renderer, error) {
	e.mu.Lock()
	if !force && len(e.cached) > 0 && e.now().Sub(e.cachedAt) < e.ttl {
		cached := e.cached
		e.mu.Unlock()
		return cached, nil
	}
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.logger.Info("discovery_pass_start", slog.Bool("forced", force))
	locations := e.search(ctx, e.searchTimeout)
	e.logger.Info("ssdp_search_complete", slog.Int("locations", len(locations)))

	// Scatter/gather: one task per location, failures captured per task.
	records := make([]*domain.Renderer, len(locations))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, location := range locations {
		i, location := i, location
		group.Go(func() error {
			rec, err := e.fetchRenderer(groupCtx, location)
			if err != nil {
				e.logger.Debug(
					"renderer_description_failed",
					slog.String("location", location),
					slog.String("error", err.Error()),
				)
				return nil
			}
			records[i] = rec
			return nil
		})
	}
	_ = group.Wait()

	renderers := make([]domain.Renderer, 0, len(records))
	for _, rec := range records {
		if rec != nil {
			renderers = append(renderers, *rec)
		}
	}

	e.mu.Lock()
	e.cached = renderers
	e.cachedAt = e.now()
	e.mu.Unlock()

	e.logger.Info("discovery_pass_complete", slog.Int("renderers", len(renderers)))
	return renderers, nil
}

// Resolve finds a renderer by name, case-insensitively. An exact match
// wins over any substring match; among substring matches the first
// discovered wins. No match returns nil, never an error.
func (e *Engine) Resolve(ctx context.Context, name string) (*domain.Renderer, error) {
	renderers, err := e.Discover(ctx, false)
	if err != nil {
		return nil, err
	}

	for i := range renderers {
		if strings.EqualFold(renderers[i].Name, name) {
			rec := renderers[i]
			return &rec, nil
		}
	}

	needle := strings.ToLower(name)
	for i := range renderers {
		if strings.Contains(strings.ToLower(renderers[i].Name), needle) {
			rec := renderers[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (e *Engine) fetchRenderer(ctx context.Context, location string) (*domain.Renderer, error) {
	doc, err := e.get(ctx, location)
	if err != nil {
		return nil, errors.Wrap(err, "fetch device description")
	}

	rec, scpdURL, err := parseDescription(doc, location)
	if err != nil {
		return nil, err
	}

	if scpdURL != "" {
		rec.SupportsGapless = e.checkGaplessSupport(ctx, scpdURL)
	}
	return rec, nil
}

// checkGaplessSupport probes the AVTransport capability document. Fetch
// failures read as "capability absent": partial device metadata is more
// useful than none.
func (e *Engine) checkGaplessSupport(ctx context.Context, scpdURL string) bool {
	doc, err := e.get(ctx, scpdURL)
	if err != nil {
		e.logger.Debug(
			"scpd_fetch_failed",
			slog.String("url", scpdURL),
			slog.String("error", err.Error()),
		)
		return false
	}
	return scpdSupportsSetNext(doc)
}

func (e *Engine) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDescriptionBytes))
}
