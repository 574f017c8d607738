package passd

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"lukechampine.com/blake3"

	"wazoopass/passes/avatar"
	"wazoopass/passes/compose"
	"wazoopass/passes/export"
	"wazoopass/passes/flow"
	"wazoopass/passes/store"
)

const (
	maxBodyBytes    = 1 << 16 // 64 KiB
	headerRequestID = "X-Request-ID"
)

// Flow is the subset of the state machine the HTTP adapter drives.
type Flow interface {
	Generate(ctx context.Context, member flow.Member) (flow.Pass, error)
	SubmitLink(ctx context.Context, identity, link string) error
	SubmitWallet(ctx context.Context, identity, wallet string) (store.Submission, error)
	Submissions(ctx context.Context) ([]store.Submission, error)
	ImagePath(passID uint64) string
}

// ServerConfig wires the adapter.
type ServerConfig struct {
	PublicBaseURL string
	Auth          *Authenticator
	RateLimiter   *RateLimiter
	Logger        *slog.Logger
}

// Server renders the pass flow as a JSON HTTP API.
type Server struct {
	flow       Flow
	publicBase string
	logger     *slog.Logger
	router     chi.Router
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	durations  *prometheus.HistogramVec
}

// NewServer builds the router.
func NewServer(f Flow, cfg ServerConfig) (*Server, error) {
	if f == nil {
		return nil, errors.New("flow required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		flow:       f,
		publicBase: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		logger:     logger,
		registry:   prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "passd",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed by passd.",
		}, []string{"route", "method", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "passd",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	s.registry.MustRegister(s.requests, s.durations)

	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(prometheus.Gatherers{prometheus.DefaultGatherer, s.registry}, promhttp.HandlerOpts{}))

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(cfg.RateLimiter.Middleware)
		v1.Get("/images/{passID}", s.observe("image", s.handleImage))
		v1.Group(func(w chi.Router) {
			w.Use(cfg.Auth.Middleware(ScopeWrite))
			w.Post("/passes", s.observe("generate", s.handleGenerate))
			w.Post("/passes/{identity}/link", s.observe("link", s.handleLink))
			w.Post("/passes/{identity}/wallet", s.observe("wallet", s.handleWallet))
		})
	})
	r.Route("/admin", func(admin chi.Router) {
		admin.Use(cfg.Auth.Middleware(ScopeExport))
		admin.Get("/submissions", s.observe("export", s.handleExport))
	})
	s.router = r
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type generateResponse struct {
	PassID   uint64 `json:"passId"`
	Role     string `json:"role"`
	Caption  string `json:"caption"`
	ImageURL string `json:"imageUrl"`
	Resumed  bool   `json:"resumed"`
}

type messageResponse struct {
	Message    string            `json:"message"`
	Submission *store.Submission `json:"submission,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var profile flow.Profile
	if err := decodeJSON(r, &profile); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pass, err := s.flow.Generate(r.Context(), profile)
	if err != nil {
		s.writeFlowError(w, r, "generate", err)
		return
	}
	status := http.StatusCreated
	if pass.Resumed {
		status = http.StatusOK
	}
	writeJSON(w, status, generateResponse{
		PassID:   pass.ID,
		Role:     pass.Role,
		Caption:  pass.Caption,
		ImageURL: s.imageURL(pass.ID),
		Resumed:  pass.Resumed,
	})
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Link string `json:"link"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.flow.SubmitLink(r.Context(), chi.URLParam(r, "identity"), body.Link); err != nil {
		s.writeFlowError(w, r, "link", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: flow.LinkConfirmation()})
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Wallet string `json:"wallet"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sub, err := s.flow.SubmitWallet(r.Context(), chi.URLParam(r, "identity"), body.Wallet)
	if err != nil {
		s.writeFlowError(w, r, "wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: flow.WalletConfirmation(sub.PassID), Submission: &sub})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	passID, err := strconv.ParseUint(chi.URLParam(r, "passID"), 10, 64)
	if err != nil || passID == 0 {
		writeError(w, http.StatusBadRequest, "invalid pass id")
		return
	}
	data, err := os.ReadFile(s.flow.ImagePath(passID))
	if errors.Is(err, fs.ErrNotExist) {
		writeError(w, http.StatusNotFound, "pass not found")
		return
	}
	if err != nil {
		s.logger.Error("read pass image", slog.Uint64("pass_id", passID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	digest := blake3.Sum256(data)
	etag := `"` + hex.EncodeToString(digest[:16]) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	http.ServeContent(w, r, fmt.Sprintf("pass_%d.png", passID), time.Time{}, bytes.NewReader(data))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	subs, err := s.flow.Submissions(r.Context())
	if err != nil {
		s.writeFlowError(w, r, "export", err)
		return
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	switch format {
	case "", "json":
		if subs == nil {
			subs = []store.Submission{}
		}
		writeJSON(w, http.StatusOK, subs)
	case "csv":
		var buf bytes.Buffer
		if err := export.WriteCSV(&buf, subs); err != nil {
			s.writeFlowError(w, r, "export", err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="submissions.csv"`)
		_, _ = w.Write(buf.Bytes())
	case "parquet":
		var buf bytes.Buffer
		if err := export.WriteParquet(&buf, subs); err != nil {
			s.writeFlowError(w, r, "export", err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apache.parquet")
		w.Header().Set("Content-Disposition", `attachment; filename="submissions.parquet"`)
		_, _ = w.Write(buf.Bytes())
	default:
		writeError(w, http.StatusBadRequest, "unsupported format")
	}
}

func (s *Server) imageURL(passID uint64) string {
	return fmt.Sprintf("%s/v1/images/%d", s.publicBase, passID)
}

// writeFlowError renders a flow rejection. Expected rejections are reported as
// is; faults are logged with context and surfaced as a generic message.
func (s *Server) writeFlowError(w http.ResponseWriter, r *http.Request, step string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("step", step),
			slog.String("request_id", w.Header().Get(headerRequestID)),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	writeError(w, status, flow.UserMessage(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, flow.ErrAlreadyCompleted):
		return http.StatusConflict
	case errors.Is(err, flow.ErrGenerateFirst), errors.Is(err, flow.ErrLinkFirst):
		return http.StatusPreconditionFailed
	case errors.Is(err, flow.ErrInvalidWallet), errors.Is(err, flow.ErrEmptyLink), errors.Is(err, flow.ErrIdentityRequired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, avatar.ErrFetch), errors.Is(err, compose.ErrImageDecode):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) observe(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		duration := time.Since(start)
		s.requests.WithLabelValues(route, r.Method, strconv.Itoa(recorder.status)).Inc()
		s.durations.WithLabelValues(route, r.Method).Observe(duration.Seconds())
		s.logger.Debug("request served",
			slog.String("route", route),
			slog.Int("status", recorder.status),
			slog.String("request_id", w.Header().Get(headerRequestID)),
			slog.Duration("duration", duration))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
