package browser

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProxyPool holds HTTP proxies fetched from public proxy lists. A nil or
// empty pool hands out the empty string, which means a direct connection.
type ProxyPool struct {
	client *http.Client
	urls   []string
	logger *zap.Logger

	mu      sync.RWMutex
	proxies []string
}

// NewProxyPool creates a pool that loads from the given list URLs. Each URL
// must serve one proxy address per line.
func NewProxyPool(urls []string, logger *zap.Logger) *ProxyPool {
	return &ProxyPool{
		client: &http.Client{Timeout: 15 * time.Second},
		urls:   urls,
		logger: logger,
	}
}

// Load fetches every list concurrently and replaces the pool contents with
// the deduplicated union. Lists that fail to download are logged and skipped;
// Load only errors when every list failed.
func (p *ProxyPool) Load(ctx context.Context) error {
	if len(p.urls) == 0 {
		return nil
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		merged []string
		seen   = make(map[string]struct{})
		failed int
	)
	for _, u := range p.urls {
		wg.Add(1)
		go func(listURL string) {
			defer wg.Done()
			entries, err := p.fetchList(ctx, listURL)
			if err != nil {
				p.logger.Warn("proxy list fetch failed", zap.String("url", listURL), zap.Error(err))
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			mu.Lock()
			for _, e := range entries {
				if _, dup := seen[e]; dup {
					continue
				}
				seen[e] = struct{}{}
				merged = append(merged, e)
			}
			mu.Unlock()
		}(u)
	}
	wg.Wait()

	if failed == len(p.urls) {
		return fmt.Errorf("all %d proxy lists failed to load", failed)
	}

	p.mu.Lock()
	p.proxies = merged
	p.mu.Unlock()
	p.logger.Info("proxy pool loaded", zap.Int("proxies", len(merged)))
	return nil
}

// Random returns a random proxy address, or "" when the pool is empty.
func (p *ProxyPool) Random() string {
	if p == nil {
		return ""
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.proxies) == 0 {
		return ""
	}
	return p.proxies[rand.Intn(len(p.proxies))]
}

// Size returns the number of proxies currently held.
func (p *ProxyPool) Size() int {
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.proxies)
}

func (p *ProxyPool) fetchList(ctx context.Context, listURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching list: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var entries []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading list body: %w", err)
	}
	return entries, nil
}
