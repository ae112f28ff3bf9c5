// Package blacklist provides the sanctioned address set used by the
// blacklisted_address detector: the configured static set plus an optional
// remote feed that is refreshed in the background, never during a pass.
package blacklist

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/domain"
)

const (
	cacheKeyPrefix = "blacklist:"
	maxFeedBytes   = 16 << 20
)

// Source merges the static set with the remote feed. Until a feed loads, and
// after a failed refresh with no earlier feed, only the static set applies.
type Source struct {
	static  domain.AddressSet
	feedURL string
	ttl     time.Duration
	client  *http.Client
	cache   domain.Cache
	logger  *slog.Logger

	mu       sync.Mutex
	lastFeed domain.AddressSet
}

// Option customizes a Source.
type Option func(*Source)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) { s.client = c }
}

// WithCache shares fetched feeds through c so instances started within one
// TTL skip the initial fetch.
func WithCache(c domain.Cache) Option {
	return func(s *Source) { s.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.logger = l }
}

// New creates a source from cfg.
func New(cfg domain.BlacklistConfig, opts ...Option) *Source {
	s := &Source{
		static:  domain.NewAddressSet().Union(cfg.Addresses),
		feedURL: strings.TrimSpace(cfg.FeedURL),
		ttl:     cfg.TTL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	if s.ttl <= 0 {
		s.ttl = time.Hour
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Blacklist returns the static set merged with the last loaded feed. It only
// reads memory; the feed is loaded by Refresh or Run.
func (s *Source) Blacklist(context.Context) domain.AddressSet {
	s.mu.Lock()
	feed := s.lastFeed
	s.mu.Unlock()

	if len(feed) == 0 {
		return s.static
	}
	return s.static.Union(feed)
}

// Run loads the feed, from the cache when a fresh copy exists, and refreshes
// it every TTL until ctx is done. Failures keep the previous feed.
func (s *Source) Run(ctx context.Context) error {
	if s.feedURL == "" {
		return nil
	}

	if !s.loadCached(ctx) {
		s.refreshOrWarn(ctx)
	}

	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.refreshOrWarn(ctx)
		}
	}
}

// Refresh fetches the feed and replaces the loaded and cached copies. On
// failure the previously loaded feed stays in use.
func (s *Source) Refresh(ctx context.Context) (int, error) {
	if s.feedURL == "" {
		return 0, nil
	}
	addrs, err := s.fetch(ctx)
	if err != nil {
		return 0, err
	}
	return len(s.store(ctx, addrs)), nil
}

func (s *Source) refreshOrWarn(ctx context.Context) {
	if _, err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("sanctions feed unavailable, keeping previous blacklist",
			"feed_url", s.feedURL,
			"static_count", len(s.static),
			"feed_count", s.FeedSize(),
			"error", err,
		)
	}
}

// loadCached adopts a feed another instance already stored in the cache.
func (s *Source) loadCached(ctx context.Context) bool {
	if s.cache == nil {
		return false
	}
	addrs, ok, err := cache.GetJSON[[]string](ctx, s.cache, cacheKeyPrefix+s.feedURL)
	if err != nil {
		s.logger.Debug("blacklist cache read failed", "error", err)
	}
	if !ok {
		return false
	}

	set := domain.NewAddressSet(addrs...)
	s.mu.Lock()
	s.lastFeed = set
	s.mu.Unlock()
	s.logger.Info("sanctions feed loaded from cache", "count", len(set))
	return true
}

func (s *Source) store(ctx context.Context, addrs []string) domain.AddressSet {
	set := domain.NewAddressSet(addrs...)
	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, cacheKeyPrefix+s.feedURL, set.Sorted(), s.ttl); err != nil {
			s.logger.Debug("blacklist cache write failed", "error", err)
		}
	}

	s.mu.Lock()
	s.lastFeed = set
	s.mu.Unlock()

	s.logger.Info("sanctions feed loaded",
		"feed_url", s.feedURL,
		"count", len(set),
	)
	return set
}

func (s *Source) fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid feed url: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sanctions feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sanctions feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read sanctions feed: %w", err)
	}
	return Parse(body)
}

// Parse decodes a feed body: either a JSON array of addresses or one address
// per line. Blank lines and lines starting with '#' are skipped.
func Parse(body []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var addrs []string
		if err := json.Unmarshal(trimmed, &addrs); err != nil {
			return nil, fmt.Errorf("failed to parse sanctions feed: %w", err)
		}
		return addrs, nil
	}

	var addrs []string
	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addrs = append(addrs, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse sanctions feed: %w", err)
	}
	return addrs, nil
}

// FeedSize returns the size of the last successfully loaded feed.
func (s *Source) FeedSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lastFeed)
}
