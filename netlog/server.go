package netlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid"
	"github.com/pkg/errors"
	"github.com/vx-labs/netlog/commitlog"
	"github.com/vx-labs/netlog/netlog/stats"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the health server service name tracking store availability.
const HealthService = "store"

const (
	routeGet    = "/server-network-log/get"
	routeInfo   = "/server-network-log/info"
	routePut    = "/server-network-log/put"
	routeExport = "/server-network-log/export"
)

// ExportContentType is the media type of raw log exports.
const ExportContentType = "application/octet-stream"

// Response is the JSON envelope returned by every non-binary endpoint.
type Response struct {
	Status  uint32      `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func OK(data interface{}) Response {
	return Response{Status: 0, Message: "OK", Data: data}
}

func Failure(message string) Response {
	return Response{Status: 1, Message: message}
}

type Server struct {
	ctx     context.Context
	store   *Store
	encoder *Encoder
	health  *health.Server
	mux     *http.ServeMux
	routes  []string

	entropyMtx sync.Mutex
	entropy    io.Reader
}

// NewServer returns the HTTP front of store. ctx carries the request logger.
func NewServer(ctx context.Context, store *Store, encoder *Encoder, healthServer *health.Server) *Server {
	s := &Server{
		ctx:     ctx,
		store:   store,
		encoder: encoder,
		health:  healthServer,
		mux:     http.NewServeMux(),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	s.handle(http.MethodGet, routeGet, s.handleGet)
	s.handle(http.MethodGet, routeInfo, s.handleInfo)
	s.handle(http.MethodPost, routePut, s.handlePut)
	s.handle(http.MethodGet, routeExport, s.handleExport)
	s.handle(http.MethodGet, "/routes", s.handleRoutes)
	s.handle(http.MethodGet, "/health", s.handleHealth)
	return s
}

func (s *Server) handle(method, pattern string, h func(context.Context, http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, fmt.Sprintf("%s %s", method, pattern))
	s.mux.Handle(pattern, s.instrument(method, pattern, h))
}

func (s *Server) requestID() string {
	s.entropyMtx.Lock()
	defer s.entropyMtx.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), s.entropy)
	if err != nil {
		return ""
	}
	return id.String()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(method, route string, h func(context.Context, http.ResponseWriter, *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := s.requestID()
		ctx := AddFields(s.ctx, zap.String("request_id", id), zap.String("http_route", route))
		w.Header().Set("X-Request-Id", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		if r.Method != method {
			http.Error(rec, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		} else {
			h(ctx, rec, r)
		}
		stats.HistogramVec("requestHandling").With(map[string]string{
			"route":  route,
			"status": strconv.Itoa(rec.status),
		}).Observe(stats.MilisecondsElapsed(start))
		L(ctx).Debug("request served",
			zap.String("http_method", r.Method),
			zap.String("http_query", r.URL.RawQuery),
			zap.Int("http_status", rec.status),
			zap.Duration("request_duration", time.Since(start)))
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Routes lists the registered endpoints as "METHOD /path".
func (s *Server) Routes() []string {
	return s.routes
}

// ListenAndServe serves HTTP on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s}
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			L(s.ctx).Warn("http server did not shutdown cleanly", zap.Error(err))
		}
	}()
	L(s.ctx).Info("http server started", zap.String("http_address", addr))
	err := srv.ListenAndServe()
	if err != http.ErrServerClosed {
		return err
	}
	<-done
	return nil
}

func writeJSON(ctx context.Context, w http.ResponseWriter, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(response)
	if err != nil {
		L(ctx).Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) fail(ctx context.Context, w http.ResponseWriter, route string, err error) {
	message := ErrorMessage(err)
	if isExpected(err) {
		L(ctx).Debug("request failed", zap.String("failure_message", message), zap.Error(err))
	} else {
		L(ctx).Error("request failed", zap.String("failure_message", message), zap.Error(err))
	}
	stats.CounterVec("queryFailures").With(map[string]string{
		"route":   route,
		"message": message,
	}).Inc()
	writeJSON(ctx, w, Failure(message))
}

func (s *Server) handleGet(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	q, err := ParseQuery(r.URL.Query())
	if err != nil {
		s.fail(ctx, w, routeGet, err)
		return
	}
	switch q.Mode.Kind {
	case ModeSingle:
		entry, err := s.store.Get(q.Mode.From)
		if err != nil {
			s.fail(ctx, w, routeGet, err)
			return
		}
		writeJSON(ctx, w, OK(entry))
	case ModeRange:
		scanner, err := s.store.Scan(q.Mode.From, q.Mode.To)
		if err != nil {
			s.fail(ctx, w, routeGet, err)
			return
		}
		rendered, err := s.encoder.Encode(scanner, q.Compress)
		if err != nil {
			s.fail(ctx, w, routeGet, err)
			return
		}
		stats.HistogramVec("rangeResultSize").With(map[string]string{
			"encoding": rendered.ContentType,
		}).Observe(float64(rendered.EntryCount))
		w.Header().Set("Content-Type", rendered.ContentType)
		w.Header().Set("X-Entry-Count", strconv.Itoa(rendered.EntryCount))
		w.WriteHeader(http.StatusOK)
		_, err = w.Write(rendered.Body)
		if err != nil {
			L(ctx).Warn("failed to write range result", zap.Error(err))
		}
	}
}

func (s *Server) handleInfo(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	metadata, err := s.store.Info()
	if err != nil {
		s.fail(ctx, w, routeInfo, err)
		return
	}
	writeJSON(ctx, w, OK(metadata))
}

func (s *Server) handlePut(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	ts := uint64(time.Now().Unix())
	if _, ok := r.URL.Query()["time"]; ok {
		mode, err := ParseTime(r.URL.Query().Get("time"))
		if err != nil {
			s.fail(ctx, w, routePut, err)
			return
		}
		if mode.Kind != ModeSingle {
			s.fail(ctx, w, routePut, errors.Wrap(ErrInvalidQuery, "put requires a single timestamp"))
			return
		}
		ts = mode.From
	}
	payload, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, int64(commitlog.MaxEntrySize)))
	if err != nil {
		s.fail(ctx, w, routePut, errors.Wrap(ErrInvalidQuery, err.Error()))
		return
	}
	if len(payload) == 0 {
		s.fail(ctx, w, routePut, errors.Wrap(ErrInvalidQuery, "empty payload"))
		return
	}
	entry, err := s.store.Append(ctx, ts, payload)
	if err != nil {
		s.fail(ctx, w, routePut, err)
		return
	}
	writeJSON(ctx, w, OK(entry))
}

// countingWriter sets the export headers before the first write, so a failure
// before any byte is sent can still be reported in an envelope.
type countingWriter struct {
	w       http.ResponseWriter
	written int64
}

func (c *countingWriter) Write(buf []byte) (int, error) {
	if c.written == 0 {
		c.w.Header().Set("Content-Type", ExportContentType)
		c.w.WriteHeader(http.StatusOK)
	}
	n, err := c.w.Write(buf)
	c.written += int64(n)
	return n, err
}

func (s *Server) handleExport(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	out := &countingWriter{w: w}
	_, err := s.store.Export(out)
	if err != nil {
		if out.written == 0 {
			s.fail(ctx, w, routeExport, err)
			return
		}
		L(ctx).Error("export interrupted", zap.Int64("exported_bytes", out.written), zap.Error(err))
		return
	}
	if out.written == 0 {
		w.Header().Set("Content-Type", ExportContentType)
		w.WriteHeader(http.StatusOK)
	}
	L(ctx).Debug("log exported", zap.Int64("exported_bytes", out.written))
}

func (s *Server) handleRoutes(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	writeJSON(ctx, w, OK(s.routes))
}

func (s *Server) handleHealth(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	out, err := s.health.Check(r.Context(), &healthpb.HealthCheckRequest{
		Service: HealthService,
	})
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"status": "not_passing", "msg":"service unknown"}`))
		return
	}
	switch out.Status {
	case healthpb.HealthCheckResponse_SERVING:
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "passing", "msg":"service is running"}`))
	case healthpb.HealthCheckResponse_NOT_SERVING:
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"status": "warning", "msg":"service is not serving"}`))
	default:
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"status": "not_passing", "msg":"unknown failure"}`))
	}
}
