package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInstallFailed wraps the first manifest fetch that failed during Install.
	ErrInstallFailed = errors.New("offline install failed")
	// ErrNetwork is returned by Fetch when the network is unreachable and no
	// cached or fallback response applies.
	ErrNetwork = errors.New("network unavailable")
)

// DefaultFallback is the page served for HTML navigations that miss both the
// cache and the network.
const DefaultFallback = "./index.html"

// Config describes one worker version.
type Config struct {
	// Version names the cache namespace owned by this worker.
	Version string
	// Origin is the base URL that relative manifest entries resolve against.
	Origin *url.URL
	// Manifest lists the assets stored at install time, relative or absolute.
	Manifest []string
	// Fallback is served to HTML requests when offline. Defaults to DefaultFallback.
	Fallback string
	// SkipWaiting promotes the worker to active right after a successful install.
	SkipWaiting bool
	// Concurrency bounds parallel manifest fetches. Zero means 4.
	Concurrency int
	// FetchTimeout bounds each manifest fetch. Zero means no per-fetch limit.
	FetchTimeout time.Duration
}

// Worker is one version of the offline cache.
type Worker struct {
	cfg       Config
	storage   CacheStorage
	transport http.RoundTripper
	logger    *zap.Logger
	metrics   *Metrics

	mu    sync.RWMutex
	state State
}

// NewWorker creates a worker in StateParsed. transport reaches the network;
// nil means http.DefaultTransport.
func NewWorker(cfg Config, storage CacheStorage, transport http.RoundTripper, logger *zap.Logger) (*Worker, error) {
	if cfg.Version == "" {
		return nil, errors.New("offline: cache version is required")
	}
	if cfg.Origin == nil || !cfg.Origin.IsAbs() {
		return nil, errors.New("offline: absolute origin URL is required")
	}
	if storage == nil {
		return nil, errors.New("offline: cache storage is required")
	}
	// Manifest entries resolve against the origin as a directory, the same
	// base Target maps request paths onto.
	origin := *cfg.Origin
	if !strings.HasSuffix(origin.Path, "/") {
		origin.Path += "/"
		origin.RawPath = ""
	}
	cfg.Origin = &origin
	if cfg.Fallback == "" {
		cfg.Fallback = DefaultFallback
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		cfg:       cfg,
		storage:   storage,
		transport: transport,
		logger:    logger.With(zap.String("cache", cfg.Version)),
		state:     StateParsed,
	}, nil
}

// WithMetrics attaches request counters and returns w.
func (w *Worker) WithMetrics(m *Metrics) *Worker {
	w.metrics = m
	return w
}

// Version returns the namespace this worker owns.
func (w *Worker) Version() string { return w.cfg.Version }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) transition(to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !CanTransition(w.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.state, to)
	}
	w.state = to
	return nil
}

// Resolve turns a manifest entry or request path into the absolute URL used
// as the cache key.
func (w *Worker) Resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid asset reference %q: %w", ref, err)
	}
	abs := w.cfg.Origin.ResolveReference(u)
	abs.Fragment = ""
	return abs.String(), nil
}

// Register runs Install and, when SkipWaiting is set, Activate.
func (w *Worker) Register(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		return err
	}
	if !w.cfg.SkipWaiting {
		w.logger.Info("worker installed, waiting for activation")
		return nil
	}
	return w.Activate(ctx)
}

// Install fetches every manifest asset and stores them in the worker's
// namespace. Nothing is written unless every fetch succeeds; on failure the
// worker becomes redundant and any previously active namespace stays in control.
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition(StateInstalling); err != nil {
		return err
	}
	start := time.Now()

	urls := make([]string, len(w.cfg.Manifest))
	for i, ref := range w.cfg.Manifest {
		u, err := w.Resolve(ref)
		if err != nil {
			return w.failInstall(fmt.Errorf("%w: %v", ErrInstallFailed, err))
		}
		urls[i] = u
	}

	results := make([]*Response, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for i, u := range urls {
		g.Go(func() error {
			snap, err := w.fetchAsset(gctx, u)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInstallFailed, u, err)
			}
			results[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return w.failInstall(err)
	}

	cache, err := w.storage.Open(ctx, w.cfg.Version)
	if err != nil {
		return w.failInstall(fmt.Errorf("%w: open cache: %v", ErrInstallFailed, err))
	}
	if err := cache.PutAll(ctx, results); err != nil {
		return w.failInstall(fmt.Errorf("%w: store assets: %v", ErrInstallFailed, err))
	}
	if err := w.transition(StateInstalled); err != nil {
		return err
	}
	w.logger.Info("offline assets installed",
		zap.Int("assets", len(results)),
		zap.Duration("took", time.Since(start)))
	return nil
}

func (w *Worker) failInstall(err error) error {
	if terr := w.transition(StateRedundant); terr != nil {
		w.logger.Warn("failed to mark worker redundant", zap.Error(terr))
	}
	w.logger.Error("offline install failed", zap.Error(err))
	return err
}

func (w *Worker) fetchAsset(ctx context.Context, u string) (*Response, error) {
	if w.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.FetchTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	snap, _, err := Snapshot(u, resp)
	return snap, err
}

// Activate deletes every namespace other than the worker's own and claims
// control of requests.
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.transition(StateActivating); err != nil {
		return err
	}
	names, err := w.storage.Keys(ctx)
	if err != nil {
		w.transition(StateRedundant)
		return fmt.Errorf("failed to list caches: %w", err)
	}
	for _, name := range names {
		if name == w.cfg.Version {
			continue
		}
		if _, err := w.storage.Delete(ctx, name); err != nil {
			w.transition(StateRedundant)
			return fmt.Errorf("failed to delete cache %s: %w", name, err)
		}
		w.logger.Info("removed stale cache", zap.String("stale", name))
	}
	if err := w.transition(StateActivated); err != nil {
		return err
	}
	w.logger.Info("offline worker activated")
	return nil
}

// controlling returns the namespace that answers requests: the worker's own
// once activated, otherwise the most recently created namespace other than
// its own. A waiting worker's namespace serves only when nothing else exists.
func (w *Worker) controlling(ctx context.Context) (Cache, bool) {
	name := w.cfg.Version
	if w.State() != StateActivated {
		names, err := w.storage.Keys(ctx)
		if err != nil {
			w.logger.Warn("failed to list caches", zap.Error(err))
			return nil, false
		}
		name = previous(names, w.cfg.Version)
		if name == "" {
			return nil, false
		}
	}
	c, err := w.storage.Open(ctx, name)
	if err != nil {
		w.logger.Warn("failed to open cache", zap.String("name", name), zap.Error(err))
		return nil, false
	}
	return c, true
}

// Fetch answers req cache-first. GET misses go to the network and successful
// same-origin responses are stored; when the network fails an HTML request
// gets the cached fallback page. Other methods pass straight through.
func (w *Worker) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Context() != ctx {
		req = req.WithContext(ctx)
	}
	if req.Method != http.MethodGet {
		w.metrics.observe("bypass")
		return w.transport.RoundTrip(req)
	}

	key := cacheKey(req.URL)
	cache, ok := w.controlling(ctx)
	if ok {
		hit, err := cache.Match(ctx, key)
		switch {
		case err == nil:
			w.metrics.observe("hit")
			return hit.HTTP(req), nil
		case !errors.Is(err, ErrCacheMiss):
			w.logger.Warn("cache lookup failed", zap.String("url", key), zap.Error(err))
		}
	}

	resp, err := w.transport.RoundTrip(req)
	if err != nil {
		if ok && acceptsHTML(req) {
			if fb, ferr := w.fallback(ctx, cache); ferr == nil {
				w.metrics.observe("fallback")
				return fb.HTTP(req), nil
			}
		}
		w.metrics.observe("error")
		return nil, fmt.Errorf("%w: %s: %w", ErrNetwork, key, err)
	}

	if !ok || resp.StatusCode != http.StatusOK || !w.sameOrigin(req.URL) {
		w.metrics.observe("network")
		return resp, nil
	}
	snap, out, err := Snapshot(key, resp)
	if err != nil {
		w.metrics.observe("error")
		return nil, err
	}
	if err := cache.Put(ctx, snap); err != nil {
		w.logger.Warn("failed to store response", zap.String("url", key), zap.Error(err))
	}
	w.metrics.observe("stored")
	return out, nil
}

func (w *Worker) fallback(ctx context.Context, cache Cache) (*Response, error) {
	key, err := w.Resolve(w.cfg.Fallback)
	if err != nil {
		return nil, err
	}
	return cache.Match(ctx, key)
}

func (w *Worker) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, w.cfg.Origin.Scheme) && strings.EqualFold(u.Host, w.cfg.Origin.Host)
}

// RoundTrip lets the worker stand in as an http.Client transport.
func (w *Worker) RoundTrip(req *http.Request) (*http.Response, error) {
	return w.Fetch(req.Context(), req)
}

// Target maps a path on the local server onto the worker's origin.
func (w *Worker) Target(r *http.Request) *url.URL {
	target := *w.cfg.Origin
	target.Path = joinPath(w.cfg.Origin.Path, r.URL.Path)
	target.RawPath = ""
	target.RawQuery = r.URL.RawQuery
	target.Fragment = ""
	return &target
}

// previous picks the newest namespace that is not own, or own when it is the
// only one left.
func previous(names []string, own string) string {
	for i := len(names) - 1; i >= 0; i-- {
		if names[i] != own {
			return names[i]
		}
	}
	if slices.Contains(names, own) {
		return own
	}
	return ""
}

func cacheKey(u *url.URL) string {
	c := *u
	c.Fragment = ""
	if c.Path == "" {
		c.Path = "/"
	}
	return c.String()
}

func acceptsHTML(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		if p == "" {
			return "/"
		}
		return p
	}
	joined := path.Join(base, p)
	if strings.HasSuffix(p, "/") && !strings.HasSuffix(joined, "/") {
		joined += "/"
	}
	return joined
}
