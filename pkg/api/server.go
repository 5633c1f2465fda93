package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/assets"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/experts"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/form"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/i18n"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/media"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/observability"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/pipeline"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/quota"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/telemetry"
)

const maxBodyBytes = 1 << 20

// Runner executes readings.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// ExpertSource lists installed experts.
type ExpertSource interface {
	List() []experts.Expert
	GetForUser(kind experts.Kind, userID string) (experts.Expert, error)
}

// Entitlements manages purchased allowances.
type Entitlements interface {
	Grant(ctx context.Context, userID, productID, orderID string) (*quota.Entitlement, error)
	Refund(ctx context.Context, userID, productID string) (int, error)
	Balance(ctx context.Context, userID string) (*quota.Balance, error)
}

// Deps are the collaborators of a Server. Events, SLO, Assets and Media
// are optional; their endpoints answer 404 when unset.
type Deps struct {
	Runner       Runner
	Experts      ExpertSource
	Entitlements Entitlements
	Events       telemetry.Source
	SLO          *observability.SLOTracker
	Assets       *assets.Catalog
	Localizer    *i18n.Localizer
	Media        media.Store
	Clock        func() time.Time
	Logger       *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	deps   Deps
	logger *slog.Logger
}

func NewServer(deps Deps) *Server {
	if deps.Localizer == nil {
		deps.Localizer = i18n.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{deps: deps, logger: logger.With("component", "api")}
}

// Routes registers every endpoint.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/experts", s.handleExperts)
	mux.HandleFunc("GET /v1/experts/{id}/form", s.handleForm)
	mux.HandleFunc("POST /v1/readings", s.handleReading)
	mux.HandleFunc("GET /v1/media/{ref}", s.handleMedia)
	mux.HandleFunc("GET /v1/balance/{user}", s.handleBalance)
	mux.HandleFunc("POST /v1/entitlements", s.handleGrant)
	mux.HandleFunc("DELETE /v1/entitlements", s.handleRefund)
	mux.HandleFunc("GET /admin/metrics", s.handleMetrics)
	mux.HandleFunc("GET /admin/decks", s.handleDecks)
	return mux
}

// Chain wraps h so that the first middleware runs first.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ExpertInfo describes an expert on the menu.
type ExpertInfo struct {
	ID       experts.Kind `json:"id"`
	Name     string       `json:"name"`
	Version  string       `json:"version"`
	Cost     int          `json:"cost"`
	Products []string     `json:"products"`
	CTA      []string     `json:"cta,omitempty"`
}

func (s *Server) handleExperts(w http.ResponseWriter, r *http.Request) {
	locale := s.deps.Localizer.Match(r.URL.Query().Get("locale"))
	list := s.deps.Experts.List()
	out := make([]ExpertInfo, 0, len(list))
	for _, e := range list {
		out = append(out, ExpertInfo{
			ID:       e.ID(),
			Name:     s.deps.Localizer.ExpertName(string(e.ID()), locale),
			Version:  e.Version(),
			Cost:     e.Cost(),
			Products: e.Products(),
			CTA:      e.CTA(locale),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// FormInfo is an expert's input form with its JSON schema.
type FormInfo struct {
	Expert  experts.Kind   `json:"expert"`
	Version string         `json:"version"`
	Locale  string         `json:"locale"`
	Fields  []form.Field   `json:"fields"`
	Schema  map[string]any `json:"schema"`
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	kind, err := experts.ParseKind(r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	q := r.URL.Query()
	e, err := s.deps.Experts.GetForUser(kind, q.Get("user_id"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	locale := s.deps.Localizer.Match(q.Get("locale"))
	fields := e.Form(locale)
	writeJSON(w, http.StatusOK, FormInfo{
		Expert:  e.ID(),
		Version: e.Version(),
		Locale:  locale,
		Fields:  fields,
		Schema:  form.SchemaFor(fields),
	})
}

// ReadingRequest is the body of POST /v1/readings.
type ReadingRequest struct {
	UserID string `json:"user_id"`
	Expert string `json:"expert"`
	Locale string `json:"locale,omitempty"`
	// Date is YYYY-MM-DD; empty means today.
	Date  string         `json:"date,omitempty"`
	Nonce int            `json:"nonce,omitempty"`
	Input map[string]any `json:"input"`
}

type inlineMedia struct {
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

type readingResponse struct {
	*pipeline.Result
	Media *inlineMedia `json:"media,omitempty"`
}

func (s *Server) handleReading(w http.ResponseWriter, r *http.Request) {
	var req ReadingRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Expert == "" {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "Missing required fields: user_id, expert")
		return
	}
	kind, err := experts.ParseKind(req.Expert)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	var date time.Time
	if req.Date != "" {
		if date, err = time.Parse(time.DateOnly, req.Date); err != nil {
			WriteDomainError(w, r, form.Invalid("date", "must be a date in YYYY-MM-DD format"))
			return
		}
	}

	res, err := s.deps.Runner.Run(r.Context(), pipeline.Request{
		UserID: req.UserID,
		Expert: kind,
		Locale: req.Locale,
		Date:   date,
		Nonce:  req.Nonce,
		Values: req.Input,
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	resp := readingResponse{Result: res}
	if res.Media != nil {
		resp.Media = &inlineMedia{ContentType: res.Media.ContentType, Data: res.Media.Data}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	if s.deps.Media == nil {
		WriteNotFound(w, "media storage is not configured")
		return
	}
	data, err := s.deps.Media.Get(r.Context(), r.PathValue("ref"))
	switch {
	case errors.Is(err, media.ErrNotFound):
		WriteNotFound(w, "media not found")
		return
	case errors.Is(err, media.ErrInvalidRef):
		WriteBadRequest(w, err.Error())
		return
	case err != nil:
		WriteInternal(w, err)
		return
	}
	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "text/plain") && json.Valid(data) {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	_, _ = w.Write(data)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Entitlements.Balance(r.Context(), r.PathValue("user"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GrantRequest is the body of POST /v1/entitlements, sent once a payment
// settles.
type GrantRequest struct {
	UserID  string `json:"user_id"`
	Product string `json:"product"`
	OrderID string `json:"order_id,omitempty"`
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Product == "" {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "Missing required fields: user_id, product")
		return
	}
	e, err := s.deps.Entitlements.Grant(r.Context(), req.UserID, req.Product, req.OrderID)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "entitlement granted", "user_id", req.UserID, "product", req.Product, "entitlement_id", e.ID)
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, product := q.Get("user_id"), q.Get("product")
	if userID == "" || product == "" {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "Missing required query parameters: user_id, product")
		return
	}
	n, err := s.deps.Entitlements.Refund(r.Context(), userID, product)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "entitlements refunded", "user_id", userID, "product", product, "cancelled", n)
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

// MetricsResponse is the admin dashboard.
type MetricsResponse struct {
	telemetry.Metrics
	SLO []*observability.SLOStatus `json:"slo,omitempty"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		WriteNotFound(w, "event source is not configured")
		return
	}
	m, err := telemetry.SummarizeSource(r.Context(), s.deps.Events, s.deps.Clock())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	resp := MetricsResponse{Metrics: m}
	if s.deps.SLO != nil {
		resp.SLO = s.deps.SLO.Statuses()
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeckInfo summarizes a loaded deck.
type DeckInfo struct {
	ID    string           `json:"id"`
	Type  string           `json:"type"`
	Name  assets.Localized `json:"name"`
	Items int              `json:"items"`
}

func (s *Server) handleDecks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Assets == nil {
		WriteNotFound(w, "asset catalog is not configured")
		return
	}
	decks := s.deps.Assets.Decks(r.URL.Query().Get("type"))
	out := make([]DeckInfo, 0, len(decks))
	for _, d := range decks {
		out = append(out, DeckInfo{ID: d.ID, Type: d.Type, Name: d.Name, Items: len(d.Items)})
	}
	writeJSON(w, http.StatusOK, out)
}
