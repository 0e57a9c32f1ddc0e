// Package gateway serves the REST API, the chart streaming WebSocket and the
// API documentation.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"coinfeed/internal/auth"
	"coinfeed/internal/logger"
	"coinfeed/internal/metrics"
	"coinfeed/internal/model"
	"coinfeed/internal/portfolio"
	"coinfeed/internal/stream"

	"github.com/go-openapi/runtime/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

const maxBodyBytes = 1 << 20

// MarketService serves coin listings and details.
type MarketService interface {
	ListSnapshot(ctx context.Context, refresh bool) ([]model.CoinSummary, error)
	DetailSnapshot(ctx context.Context, slug string) (*model.CoinDetail, error)
}

// UserStore registers and authenticates users.
type UserStore interface {
	Create(ctx context.Context, username string) (*model.User, string, error)
	Authenticate(ctx context.Context, username, code string) (*model.User, error)
}

// Summarizer values a user's holdings.
type Summarizer interface {
	Summarize(ctx context.Context, userID string) ([]portfolio.Holding, error)
}

// Deps are the collaborators the gateway routes to.
type Deps struct {
	Market    MarketService
	Charts    stream.SeriesSource
	Users     UserStore
	Ledger    model.LedgerStore
	Favorites model.FavoriteStore
	Summary   Summarizer
	Hub       *Hub
	Health    http.Handler
	Gatherer  prometheus.Gatherer
	Metrics   *metrics.Metrics
	Log       *slog.Logger

	// StreamDelay overrides the per-interval pause between streamed pushes.
	StreamDelay func(model.Interval) time.Duration
}

type Server struct {
	Deps
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func New(d Deps) *Server {
	if d.Hub == nil {
		d.Hub = NewHub()
	}
	return &Server{
		Deps: d,
		log:  d.Log.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			CheckOrigin:       func(r *http.Request) bool { return true },
			EnableCompression: true,
		},
	}
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Username, X-TOTP")
}

// RegisterRoutes registers all API routes on mux. Routes are method-qualified,
// so any other method on a known path is answered with 405.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /coins", s.listCoins)
	mux.HandleFunc("GET /coins/{slug}", s.coinDetail)
	mux.HandleFunc("GET /coins/{slug}/chart", s.coinChart)
	mux.HandleFunc("GET /ws/crypto/{slug}", s.serveWS)
	mux.HandleFunc("GET /ws/crypto/{slug}/{$}", s.serveWS)

	mux.HandleFunc("POST /auth/register", s.register)
	mux.Handle("GET /auth/me", s.requireUser(s.me))

	mux.Handle("GET /portfolio/summary", s.requireUser(s.summary))
	mux.Handle("GET /portfolio/transactions", s.requireUser(s.listTransactions))
	mux.Handle("POST /portfolio/transactions", s.requireUser(s.createTransaction))
	mux.Handle("DELETE /portfolio/transactions/{id}", s.requireUser(s.deleteTransaction))
	mux.Handle("GET /portfolio/favorites", s.requireUser(s.listFavorites))
	mux.Handle("POST /portfolio/favorites", s.requireUser(s.addFavorite))
	mux.Handle("DELETE /portfolio/favorites", s.requireUser(s.removeFavorite))

	if s.Health != nil {
		mux.Handle("GET /health", s.Health)
	}
	if s.Gatherer != nil {
		mux.Handle("GET /metrics", metrics.Handler(s.Gatherer))
	}
}

// Handler assembles the routes with the OpenAPI document at /openapi.json,
// Swagger UI at /docs, CORS and request logging.
func (s *Server) Handler() (http.Handler, error) {
	doc, err := buildOpenAPISpec()
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var h http.Handler = mux
	h = middleware.SwaggerUI(middleware.SwaggerUIOpts{
		BasePath: "/",
		Path:     "docs",
		SpecURL:  "/openapi.json",
		Title:    "coinfeed API",
	}, h)
	h = middleware.Spec("/", doc, h, middleware.WithSpecDocument("openapi.json"))
	h = withCORS(h)
	return s.withRequestLog(h), nil
}

// ── Market ──

func (s *Server) listCoins(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	coins, err := s.Market.ListSnapshot(r.Context(), refresh)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, coins)
}

func (s *Server) coinDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.Market.DetailSnapshot(r.Context(), r.PathValue("slug"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) coinChart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	interval, err := model.ParseInterval(q.Get("interval"), model.IntervalDaily)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	kind, err := model.ParseChartKind(q.Get("kind"), model.KindLine)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	slug := r.PathValue("slug")
	points, err := s.Charts.Series(r.Context(), slug, interval, kind)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.SeriesFrame{Type: "data", Slug: slug, Interval: interval, Kind: kind, Data: points})
}

// serveWS upgrades to a WebSocket and runs a streaming session for the slug
// until the client goes away.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", "err", err)
		return
	}

	ctx := logger.WithTraceID(r.Context(), logger.GenerateTraceID(slug, time.Now()))
	c := newClient(conn, s.Hub, s.log.With(logger.LogWithTrace(ctx)...))
	// a terminated session stops counting as a live stream even while its
	// socket stays open
	opts := []stream.Option{stream.WithOnClose(func() { s.Hub.RemoveClient(c) })}
	if s.StreamDelay != nil {
		opts = append(opts, stream.WithDelay(s.StreamDelay))
	}
	c.session = stream.NewSession(slug, s.Charts, c, c.log, s.Metrics, opts...)

	s.Hub.AddClient(c)
	go c.writePump()
	c.log.Info("ws client connected", "slug", slug)
	if err := c.session.Connect(ctx); err != nil {
		c.log.Error("session connect failed", "err", err)
	}
	c.readPump(ctx)
}

// ── Auth ──

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}
	u, otpURL, err := s.Users.Create(r.Context(), req.Username)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info("user registered", "username", u.Username)
	writeJSON(w, http.StatusCreated, RegisterResponse{User: u, OTPAuthURL: otpURL})
}

// requireUser authenticates the X-Username / X-TOTP header pair and attaches
// the user to the request context.
func (s *Server) requireUser(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := s.Users.Authenticate(r.Context(), r.Header.Get("X-Username"), r.Header.Get("X-TOTP"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next(w, r.WithContext(auth.WithUser(r.Context(), u)))
	})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())
	writeJSON(w, http.StatusOK, u)
}

// ── Portfolio ──

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())
	holdings, err := s.Summary.Summarize(r.Context(), u.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, holdings)
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())
	txs, err := s.Ledger.ListByUser(r.Context(), u.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) createTransaction(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())
	var req TransactionRequest
	if !s.decode(w, r, &req) {
		return
	}
	tx := &model.Transaction{
		UserID:   u.ID,
		CoinID:   req.CoinID,
		Amount:   req.Amount,
		PriceUSD: req.PriceUSD,
		Fee:      req.Fee,
		Type:     req.Type,
	}
	if err := s.Ledger.Create(r.Context(), tx); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())
	if err := s.Ledger.Delete(r.Context(), u.ID, r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listFavorites(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())
	favs, err := s.Favorites.List(r.Context(), u.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, favs)
}

func (s *Server) addFavorite(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())
	var req FavoriteRequest
	if !s.decode(w, r, &req) {
		return
	}
	fav, err := s.Favorites.Add(r.Context(), u.ID, req.CoinID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, fav)
}

// removeFavorite takes coin_id from the JSON body, or from the query string
// when there is no body.
func (s *Server) removeFavorite(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())
	req := FavoriteRequest{CoinID: r.URL.Query().Get("coin_id")}
	if req.CoinID == "" && !s.decode(w, r, &req) {
		return
	}
	if err := s.Favorites.Remove(r.Context(), u.ID, req.CoinID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Helpers ──

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: msg}})
}

// classify maps a service error to its HTTP status and envelope code.
func classify(err error) (int, string) {
	var (
		ve *model.ValidationError
		fe *model.FetchError
		se *model.ShapingError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, "INVALID_PARAMETER"
	case errors.As(err, &fe), errors.As(err, &se):
		return http.StatusBadGateway, "UPSTREAM_ERROR"
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, model.ErrDuplicate):
		return http.StatusConflict, "CONFLICT"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = "internal server error"
	} else if status == http.StatusBadGateway {
		s.log.Warn("upstream failure", "path", r.URL.Path, "err", err)
	}
	writeError(w, status, code, msg)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return false
	}
	return true
}
