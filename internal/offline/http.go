package offline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Metrics counts how the worker answered requests.
type Metrics struct {
	requests *prometheus.CounterVec
}

// NewMetrics registers the offline request counter on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ewmsearch_offline_requests_total",
			Help: "Requests answered by the offline worker, by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests)
	}
	return m
}

func (m *Metrics) observe(result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(result).Inc()
}

// Handler serves local requests through Fetch, mapping each path onto the
// worker's origin.
func (w *Worker) Handler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var body io.Reader
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			body = r.Body
		}
		out, err := http.NewRequestWithContext(r.Context(), r.Method, w.Target(r).String(), body)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		out.Header = r.Header.Clone()

		resp, err := w.Fetch(r.Context(), out)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, ErrNetwork) {
				status = http.StatusServiceUnavailable
			}
			w.logger.Debug("offline fetch failed", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(rw, "offline: "+http.StatusText(status), status)
			return
		}
		defer resp.Body.Close()

		for k, vs := range resp.Header {
			for _, v := range vs {
				rw.Header().Add(k, v)
			}
		}
		rw.WriteHeader(resp.StatusCode)
		if r.Method != http.MethodHead {
			io.Copy(rw, resp.Body)
		}
	})
}

// LocalTransport serves requests for one host from an in-process handler and
// sends everything else to Next.
type LocalTransport struct {
	Host    string
	Handler http.Handler
	Next    http.RoundTripper
}

func (t *LocalTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !strings.EqualFold(req.URL.Host, t.Host) {
		next := t.Next
		if next == nil {
			next = http.DefaultTransport
		}
		return next.RoundTrip(req)
	}
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	rec := &bufferedWriter{header: http.Header{}}
	inbound := req.Clone(req.Context())
	inbound.RequestURI = req.URL.RequestURI()
	t.Handler.ServeHTTP(rec, inbound)
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", rec.status, http.StatusText(rec.status)),
		StatusCode:    rec.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        rec.header,
		Body:          io.NopCloser(bytes.NewReader(rec.body.Bytes())),
		ContentLength: int64(rec.body.Len()),
		Request:       req,
	}, nil
}

type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}
