// Package browser hosts the rendering surface: a pool of headless browsers
// and the bridge that routes their subresource requests through the
// interception pipeline.
package browser

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Rorqualx/pagehook/internal/config"
	"github.com/Rorqualx/pagehook/internal/metrics"
	"github.com/Rorqualx/pagehook/internal/types"
)

// maxBrowserAge bounds how long a browser is reused before it is replaced.
const maxBrowserAge = 30 * time.Minute

// Pool manages a fixed set of reusable browser instances.
//
// Lock ordering: mu is never held across browser I/O.
type Pool struct {
	mu        sync.Mutex
	browsers  []*browserEntry
	available chan *rod.Browser
	config    *config.Config
	closed    atomic.Bool

	stopCh chan struct{}
	wg     sync.WaitGroup

	availableCount atomic.Int32
	stats          PoolStats
}

type browserEntry struct {
	browser   *rod.Browser
	createdAt time.Time
	useCount  atomic.Int64
}

// PoolStats provides statistics about pool usage.
type PoolStats struct {
	Acquired atomic.Int64
	Released atomic.Int64
	Recycled atomic.Int64
	Errors   atomic.Int64
}

// PoolStatsSnapshot holds a point-in-time snapshot of pool statistics.
type PoolStatsSnapshot struct {
	Acquired int64
	Released int64
	Recycled int64
	Errors   int64
}

// NewPool launches cfg.BrowserPoolSize browsers and returns once all of them
// are connected. If any launch fails the already started browsers are closed.
func NewPool(cfg *config.Config) (*Pool, error) {
	if cfg.BrowserPoolSize < 1 {
		return nil, types.ErrRenderingDisabled
	}

	log.Info().
		Int("pool_size", cfg.BrowserPoolSize).
		Bool("headless", cfg.Headless).
		Str("browser_path", cfg.BrowserPath).
		Msg("Initializing browser pool")

	pool := &Pool{
		config:    cfg,
		available: make(chan *rod.Browser, cfg.BrowserPoolSize),
		browsers:  make([]*browserEntry, 0, cfg.BrowserPoolSize),
		stopCh:    make(chan struct{}),
	}

	for i := 0; i < cfg.BrowserPoolSize; i++ {
		browser, err := pool.spawnBrowser(context.Background())
		if err != nil {
			log.Error().Err(err).Int("browser_index", i).Msg("Failed to spawn browser during pool initialization")
			if closeErr := pool.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("Failed to close pool during cleanup")
			}
			return nil, fmt.Errorf("failed to spawn browser %d: %w", i, err)
		}

		pool.browsers = append(pool.browsers, &browserEntry{browser: browser, createdAt: time.Now()})
		pool.available <- browser
	}
	pool.availableCount.Store(int32(cfg.BrowserPoolSize))
	pool.updateMetrics()

	pool.wg.Add(1)
	go func() {
		defer pool.wg.Done()
		pool.healthCheckRoutine()
	}()

	log.Info().Int("pool_size", cfg.BrowserPoolSize).Msg("Browser pool initialized successfully")
	return pool, nil
}

// createLauncher builds the launcher for one browser process. Launchers
// are single use.
func (p *Pool) createLauncher() *launcher.Launcher {
	l := launcher.New()

	if p.config.BrowserPath != "" {
		l = l.Bin(p.config.BrowserPath)
	}

	if p.config.Headless {
		l = l.Set("headless", "new")
	} else {
		// Rod enables headless by default.
		l = l.Headless(false)
	}

	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage")

	l = l.Set("disable-blink-features", "AutomationControlled")
	l = l.Delete("enable-automation")

	if p.config.IgnoreCertErrors {
		l = l.Set("ignore-certificate-errors")
	}

	l = l.Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-search-engine-choice-screen").
		Set("window-size", "1920,1080")

	l = l.Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("mute-audio").
		Set("js-flags", "--max-old-space-size=256")

	if isARM() {
		l = l.Set("disable-gpu-compositing")
	}

	return l
}

func (p *Pool) spawnBrowser(ctx context.Context) (*rod.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Debug().Msg("Spawning new browser instance")

	controlURL, err := p.createLauncher().Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	if p.config.IgnoreCertErrors {
		if err := browser.IgnoreCertErrors(true); err != nil {
			log.Warn().Err(err).Msg("Failed to set IgnoreCertErrors")
		}
	}

	log.Debug().Str("url", controlURL).Msg("Browser spawned successfully")
	return browser, nil
}

// Acquire obtains a browser from the pool. It blocks until one is
// available, ctx is done, or the pool timeout elapses. The caller must
// Release the browser.
func (p *Pool) Acquire(ctx context.Context) (*rod.Browser, error) {
	if p.closed.Load() {
		return nil, types.ErrBrowserPoolClosed
	}

	const maxRetries = 3

	timer := time.NewTimer(p.config.BrowserPoolTimeout)
	defer timer.Stop()

	for retry := 0; retry < maxRetries; retry++ {
		select {
		case browser, ok := <-p.available:
			if !ok || p.closed.Load() {
				if browser != nil {
					_ = browser.Close()
				}
				return nil, types.ErrBrowserPoolClosed
			}
			p.stats.Acquired.Add(1)

			if !p.isHealthy(browser) {
				log.Warn().Int("retry", retry).Msg("Acquired unhealthy browser, recycling")
				p.stats.Errors.Add(1)
				p.goRecycle(browser)
				continue
			}

			p.availableCount.Add(-1)
			p.updateMetrics()

			p.mu.Lock()
			for _, entry := range p.browsers {
				if entry.browser == browser {
					entry.useCount.Add(1)
					break
				}
			}
			p.mu.Unlock()

			return browser, nil

		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", types.ErrContextCanceled, ctx.Err())

		case <-timer.C:
			p.stats.Errors.Add(1)
			return nil, types.ErrBrowserPoolTimeout
		}
	}

	p.stats.Errors.Add(1)
	return nil, fmt.Errorf("%w: all browsers unhealthy after %d retries", types.ErrBrowserUnhealthy, maxRetries)
}

// Release closes the browser's pages and returns it to the pool. It is safe
// to call with nil.
func (p *Pool) Release(browser *rod.Browser) {
	if browser == nil {
		return
	}
	if p.closed.Load() {
		_ = browser.Close()
		return
	}
	p.stats.Released.Add(1)

	cleanupFailed := false
	pages, err := browser.Pages()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to get pages for cleanup")
		cleanupFailed = true
	} else {
		for _, page := range pages {
			if err := page.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close page during cleanup")
				cleanupFailed = true
			}
		}
	}
	if cleanupFailed {
		p.goRecycle(browser)
		return
	}

	p.addBrowserToPool(browser)
}

func (p *Pool) isHealthy(browser *rod.Browser) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		log.Debug().Err(err).Msg("Browser health check failed")
		return false
	}
	_ = page.Close()
	return true
}

func (p *Pool) goRecycle(browser *rod.Browser) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.recycleBrowser(browser)
	}()
}

// recycleBrowser replaces old with a freshly launched browser. Must not be
// called with mu held.
func (p *Pool) recycleBrowser(old *rod.Browser) {
	if p.closed.Load() {
		return
	}
	p.stats.Recycled.Add(1)
	log.Info().Int64("total_recycled", p.stats.Recycled.Load()).Msg("Recycling browser")

	if err := old.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing browser during recycle")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	fresh, err := p.spawnBrowser(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to spawn replacement browser")
		p.removeBrowserEntry(old)
		p.updateMetrics()
		return
	}

	p.mu.Lock()
	replaced := false
	for i, entry := range p.browsers {
		if entry.browser == old {
			p.browsers[i] = &browserEntry{browser: fresh, createdAt: time.Now()}
			replaced = true
			break
		}
	}
	if !replaced {
		p.browsers = append(p.browsers, &browserEntry{browser: fresh, createdAt: time.Now()})
	}
	p.mu.Unlock()

	p.addBrowserToPool(fresh)
}

func (p *Pool) addBrowserToPool(browser *rod.Browser) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		_ = browser.Close()
		return
	}

	select {
	case p.available <- browser:
		p.availableCount.Add(1)
	default:
		log.Warn().Msg("Pool is full, closing excess browser")
		_ = browser.Close()
	}
	p.updateMetrics()
}

func (p *Pool) removeBrowserEntry(old *rod.Browser) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, entry := range p.browsers {
		if entry.browser == old {
			last := len(p.browsers) - 1
			p.browsers[i] = p.browsers[last]
			p.browsers = p.browsers[:last]
			return
		}
	}
}

// healthCheckRoutine replaces idle browsers older than maxBrowserAge.
func (p *Pool) healthCheckRoutine() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.mu.Lock()
			var stale []*browserEntry
			for _, entry := range p.browsers {
				if time.Since(entry.createdAt) > maxBrowserAge {
					stale = append(stale, entry)
				}
			}
			p.mu.Unlock()

			for _, entry := range stale {
				// Only idle browsers can be taken out of rotation.
				select {
				case b, ok := <-p.available:
					if !ok {
						return
					}
					p.availableCount.Add(-1)
					if b != entry.browser {
						p.addBrowserToPool(b)
						continue
					}
					log.Info().Msg("Recycling stale browser")
					p.recycleBrowser(b)
				default:
				}
			}
		}
	}
}

// Size returns the configured pool size.
func (p *Pool) Size() int {
	return p.config.BrowserPoolSize
}

// Available returns the number of idle browsers.
func (p *Pool) Available() int {
	if p.closed.Load() {
		return 0
	}
	return int(p.availableCount.Load())
}

// Stats returns a snapshot of the current pool statistics.
func (p *Pool) Stats() PoolStatsSnapshot {
	return PoolStatsSnapshot{
		Acquired: p.stats.Acquired.Load(),
		Released: p.stats.Released.Load(),
		Recycled: p.stats.Recycled.Load(),
		Errors:   p.stats.Errors.Load(),
	}
}

func (p *Pool) updateMetrics() {
	metrics.UpdatePoolMetrics(p.Size(), p.Available())
}

// Close shuts the pool down. It is safe to call more than once.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed.Swap(true) {
		p.mu.Unlock()
		return nil
	}
	close(p.available)
	p.mu.Unlock()

	log.Info().Msg("Closing browser pool")
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("Timeout waiting for background goroutines to stop")
	}

	p.mu.Lock()
	browsers := p.browsers
	p.browsers = nil
	p.mu.Unlock()

	eg := new(errgroup.Group)
	eg.SetLimit(4)
	for _, entry := range browsers {
		browser := entry.browser
		eg.Go(func() error {
			if err := browser.Close(); err != nil {
				log.Warn().Err(err).Msg("Error closing browser during pool shutdown")
				return err
			}
			return nil
		})
	}
	closeErr := eg.Wait()

	// Drain; these were closed above.
	for range p.available {
	}
	metrics.UpdatePoolMetrics(0, 0)

	log.Info().
		Int64("total_acquired", p.stats.Acquired.Load()).
		Int64("total_recycled", p.stats.Recycled.Load()).
		Int64("total_errors", p.stats.Errors.Load()).
		Msg("Browser pool closed")

	return closeErr
}

func isARM() bool {
	return runtime.GOARCH == "arm" || runtime.GOARCH == "arm64"
}
