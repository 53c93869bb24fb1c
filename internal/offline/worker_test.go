package offline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errUnplugged = errors.New("unplugged")

// switchTransport fails every request while down is set.
type switchTransport struct {
	down  atomic.Bool
	calls atomic.Int32
	next  http.RoundTripper
}

func (s *switchTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.calls.Add(1)
	if s.down.Load() {
		return nil, errUnplugged
	}
	return s.next.RoundTrip(req)
}

func newOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	page := func(body, ctype string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", ctype)
			io.WriteString(w, body)
		}
	}
	mux.HandleFunc("/{$}", page("<html>root</html>", "text/html"))
	mux.HandleFunc("/index.html", page("<html>index</html>", "text/html"))
	mux.HandleFunc("/app.js", page("console.log(1)", "text/javascript"))
	mux.HandleFunc("/styles.css", page("body{}", "text/css"))
	mux.HandleFunc("/data.json", page(`{"ok":true}`, "application/json"))
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestWorker(t *testing.T, srv *httptest.Server, storage CacheStorage, version string, manifest ...string) (*Worker, *switchTransport) {
	t.Helper()
	origin, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	if len(manifest) == 0 {
		manifest = []string{"./", "./index.html", "./app.js", "./styles.css"}
	}
	tr := &switchTransport{next: srv.Client().Transport}
	w, err := NewWorker(Config{
		Version:     version,
		Origin:      origin,
		Manifest:    manifest,
		SkipWaiting: true,
	}, storage, tr, zaptest.NewLogger(t))
	require.NoError(t, err)
	return w, tr
}

func get(t *testing.T, w *Worker, rawURL string, accept string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return w.Fetch(context.Background(), req)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestNewWorker_Validates(t *testing.T) {
	_, err := NewWorker(Config{}, NewMemoryStorage(), nil, nil)
	assert.Error(t, err)

	rel, _ := url.Parse("/relative")
	_, err = NewWorker(Config{Version: "v1", Origin: rel}, NewMemoryStorage(), nil, nil)
	assert.Error(t, err)
}

func TestRegister_InstallsAndActivates(t *testing.T) {
	ctx := context.Background()
	srv := newOrigin(t)
	storage := NewMemoryStorage()
	w, _ := newTestWorker(t, srv, storage, "ewm-search-v2")

	require.NoError(t, w.Register(ctx))
	assert.Equal(t, StateActivated, w.State())

	c, err := storage.Open(ctx, "ewm-search-v2")
	require.NoError(t, err)
	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		srv.URL + "/",
		srv.URL + "/index.html",
		srv.URL + "/app.js",
		srv.URL + "/styles.css",
	}, keys)

	hit, err := c.Match(ctx, srv.URL+"/app.js")
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", string(hit.Body))
	assert.Len(t, hit.Digest, 64)
}

func TestActivate_PrunesOtherNamespaces(t *testing.T) {
	ctx := context.Background()
	srv := newOrigin(t)
	storage := NewMemoryStorage()
	_, err := storage.Open(ctx, "ewm-search-v1")
	require.NoError(t, err)
	_, err = storage.Open(ctx, "unrelated")
	require.NoError(t, err)

	w, _ := newTestWorker(t, srv, storage, "ewm-search-v2")
	require.NoError(t, w.Register(ctx))

	names, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ewm-search-v2"}, names)
}

func TestInstall_FailureIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	srv := newOrigin(t)
	storage := NewMemoryStorage()

	old, _ := newTestWorker(t, srv, storage, "ewm-search-v1")
	require.NoError(t, old.Register(ctx))

	w, _ := newTestWorker(t, srv, storage, "ewm-search-v2", "./index.html", "./gone")
	err := w.Register(ctx)
	require.ErrorIs(t, err, ErrInstallFailed)
	assert.Equal(t, StateRedundant, w.State())

	has, err := storage.Has(ctx, "ewm-search-v2")
	require.NoError(t, err)
	assert.False(t, has, "failed install must not create its namespace")
	has, err = storage.Has(ctx, "ewm-search-v1")
	require.NoError(t, err)
	assert.True(t, has)

	// The previously activated namespace keeps answering.
	tr := w.transport.(*switchTransport)
	tr.down.Store(true)
	resp, err := get(t, w, srv.URL+"/app.js", "")
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", readBody(t, resp))
}

func TestLifecycle_RejectsOutOfOrderSteps(t *testing.T) {
	srv := newOrigin(t)
	w, _ := newTestWorker(t, srv, NewMemoryStorage(), "v1")
	assert.ErrorIs(t, w.Activate(context.Background()), ErrInvalidTransition)

	require.NoError(t, w.Install(context.Background()))
	assert.ErrorIs(t, w.Install(context.Background()), ErrInvalidTransition)
	assert.Equal(t, StateInstalled, w.State())
}

func TestRegister_WithoutSkipWaitingStaysInstalled(t *testing.T) {
	srv := newOrigin(t)
	w, _ := newTestWorker(t, srv, NewMemoryStorage(), "v1")
	w.cfg.SkipWaiting = false
	require.NoError(t, w.Register(context.Background()))
	assert.Equal(t, StateInstalled, w.State())

	require.NoError(t, w.Activate(context.Background()))
	assert.Equal(t, StateActivated, w.State())
}

func TestFetch_CacheFirst(t *testing.T) {
	ctx := context.Background()
	srv := newOrigin(t)
	w, tr := newTestWorker(t, srv, NewMemoryStorage(), "v1")
	require.NoError(t, w.Register(ctx))

	before := tr.calls.Load()
	resp, err := get(t, w, srv.URL+"/styles.css", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "body{}", readBody(t, resp))
	assert.NotEmpty(t, resp.Header.Get("ETag"))
	assert.Equal(t, before, tr.calls.Load(), "hit must not touch the network")

	tr.down.Store(true)
	resp, err = get(t, w, srv.URL+"/", "text/html")
	require.NoError(t, err)
	assert.Equal(t, "<html>root</html>", readBody(t, resp))
}

func TestFetch_StoresSameOriginSuccesses(t *testing.T) {
	ctx := context.Background()
	srv := newOrigin(t)
	w, tr := newTestWorker(t, srv, NewMemoryStorage(), "v1")
	require.NoError(t, w.Register(ctx))

	resp, err := get(t, w, srv.URL+"/data.json", "")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, readBody(t, resp))

	resp, err = get(t, w, srv.URL+"/gone", "")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	tr.down.Store(true)
	resp, err = get(t, w, srv.URL+"/data.json", "")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, readBody(t, resp))

	_, err = get(t, w, srv.URL+"/gone", "")
	assert.ErrorIs(t, err, ErrNetwork, "non-200 responses are not stored")
}

func TestFetch_CrossOriginNotStored(t *testing.T) {
	ctx := context.Background()
	srv := newOrigin(t)
	cdn := newOrigin(t)
	w, tr := newTestWorker(t, srv, NewMemoryStorage(), "v1")
	require.NoError(t, w.Register(ctx))

	resp, err := get(t, w, cdn.URL+"/data.json", "")
	require.NoError(t, err)
	readBody(t, resp)

	tr.down.Store(true)
	_, err = get(t, w, cdn.URL+"/data.json", "")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestFetch_OfflineFallbacks(t *testing.T) {
	ctx := context.Background()
	srv := newOrigin(t)
	w, tr := newTestWorker(t, srv, NewMemoryStorage(), "v1")
	require.NoError(t, w.Register(ctx))
	tr.down.Store(true)

	resp, err := get(t, w, srv.URL+"/some/deep/page", "text/html,application/xhtml+xml")
	require.NoError(t, err)
	assert.Equal(t, "<html>index</html>", readBody(t, resp))

	_, err = get(t, w, srv.URL+"/missing.png", "image/png")
	require.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, errUnplugged)
}

func TestFetch_NonGetBypassesCache(t *testing.T) {
	ctx := context.Background()
	srv := newOrigin(t)
	w, tr := newTestWorker(t, srv, NewMemoryStorage(), "v1")
	require.NoError(t, w.Register(ctx))

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/app.js", nil)
	require.NoError(t, err)
	before := tr.calls.Load()
	resp, err := w.Fetch(ctx, req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, before+1, tr.calls.Load())
}

func TestFetch_BeforeAnyInstallGoesToNetwork(t *testing.T) {
	srv := newOrigin(t)
	w, _ := newTestWorker(t, srv, NewMemoryStorage(), "v1")
	resp, err := get(t, w, srv.URL+"/data.json", "")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, readBody(t, resp))
}

func TestHandler_ServesThroughWorker(t *testing.T) {
	ctx := context.Background()
	srv := newOrigin(t)
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	w, tr := newTestWorker(t, srv, NewMemoryStorage(), "v1")
	w.WithMetrics(m)
	require.NoError(t, w.Register(ctx))
	tr.down.Store(true)

	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>index</html>", rec.Body.String())

	rec = httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope.js", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("error")))
}

func TestLocalTransport(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "local "+r.URL.Path)
	})
	remote := newOrigin(t)
	tr := &LocalTransport{Host: "shell.local", Handler: inner, Next: remote.Client().Transport}
	client := &http.Client{Transport: tr}

	resp, err := client.Get("http://shell.local/app.js")
	require.NoError(t, err)
	assert.Equal(t, "200 OK", resp.Status)
	assert.Equal(t, "local /app.js", readBody(t, resp))

	resp, err = client.Get(remote.URL + "/app.js")
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", readBody(t, resp))
}

func TestTargetJoinsOriginPath(t *testing.T) {
	origin, _ := url.Parse("http://host.example/app/")
	w, err := NewWorker(Config{Version: "v", Origin: origin}, NewMemoryStorage(), nil, nil)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/index.html?x=1", nil)
	assert.Equal(t, "http://host.example/app/index.html?x=1", w.Target(r).String())

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "http://host.example/app/", w.Target(r).String())

	key, err := w.Resolve("./index.html#top")
	require.NoError(t, err)
	assert.Equal(t, "http://host.example/app/index.html", key)
}

func TestTarget_OriginWithoutTrailingSlash(t *testing.T) {
	ctx := context.Background()
	mux := http.NewServeMux()
	mux.HandleFunc("/app/{$}", func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "<html>app</html>") })
	mux.HandleFunc("/app/index.html", func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "<html>index</html>") })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	origin, err := url.Parse(srv.URL + "/app")
	require.NoError(t, err)
	tr := &switchTransport{next: srv.Client().Transport}
	w, err := NewWorker(Config{
		Version:     "v1",
		Origin:      origin,
		Manifest:    []string{"./", "./index.html"},
		SkipWaiting: true,
	}, NewMemoryStorage(), tr, nil)
	require.NoError(t, err)
	assert.Equal(t, "/app", origin.Path, "caller's URL is left untouched")
	require.NoError(t, w.Register(ctx))

	tr.down.Store(true)
	for path, body := range map[string]string{"/index.html": "<html>index</html>", "/": "<html>app</html>"} {
		target := w.Target(httptest.NewRequest(http.MethodGet, path, nil))
		key, err := w.Resolve("." + path)
		require.NoError(t, err)
		assert.Equal(t, key, target.String())

		resp, err := get(t, w, target.String(), "")
		require.NoError(t, err, path)
		assert.Equal(t, body, readBody(t, resp))
	}
}

func TestFetch_WaitingWorkerDoesNotTakeOver(t *testing.T) {
	ctx := context.Background()
	srv := newOrigin(t)
	storage := NewMemoryStorage()

	v1, err := storage.Open(ctx, "ewm-search-v1")
	require.NoError(t, err)
	require.NoError(t, v1.Put(ctx, &Response{
		URL:    srv.URL + "/app.js",
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"text/javascript"}},
		Body:   []byte("OLD"),
	}))

	w, tr := newTestWorker(t, srv, storage, "ewm-search-v2")
	w.cfg.SkipWaiting = false
	require.NoError(t, w.Register(ctx))
	require.Equal(t, StateInstalled, w.State())

	tr.down.Store(true)
	resp, err := get(t, w, srv.URL+"/app.js", "")
	require.NoError(t, err)
	assert.Equal(t, "OLD", readBody(t, resp), "active namespace answers until activation")

	require.NoError(t, w.Activate(ctx))
	resp, err = get(t, w, srv.URL+"/app.js", "")
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", readBody(t, resp))
}

func TestPrevious(t *testing.T) {
	assert.Equal(t, "v1", previous([]string{"v1", "v2"}, "v2"))
	assert.Equal(t, "v2", previous([]string{"v1", "v2"}, "v3"))
	assert.Equal(t, "v2", previous([]string{"v2"}, "v2"))
	assert.Empty(t, previous(nil, "v2"))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateParsed, StateInstalling))
	assert.True(t, CanTransition(StateInstalling, StateRedundant))
	assert.False(t, CanTransition(StateParsed, StateActivated))
	assert.False(t, CanTransition(StateRedundant, StateInstalling))
	assert.Equal(t, "activated", StateActivated.String())
}
