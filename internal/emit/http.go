package emit

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tradeforge/stream-gateway/internal/domain"
	"github.com/tradeforge/stream-gateway/internal/errmap"
)

// Handler is the internal ingress upstream services POST domain events to.
// It is not exposed to clients; deploy it behind the service mesh boundary.
type Handler struct {
	emitter *Emitter
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewHandler mounts the typed emit routes under the given prefix-less mux.
func NewHandler(emitter *Emitter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{emitter: emitter, logger: logger, mux: http.NewServeMux()}
	h.mux.HandleFunc("/internal/emit/portfolio", h.portfolio)
	h.mux.HandleFunc("/internal/emit/trade", h.trade)
	h.mux.HandleFunc("/internal/emit/quote", h.quote)
	h.mux.HandleFunc("/internal/emit/position", h.position)
	h.mux.HandleFunc("/internal/emit/notify", h.notify)
	h.mux.HandleFunc("/internal/emit/market", h.market)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type portfolioRequest struct {
	UserID    string    `json:"userId"`
	Portfolio Portfolio `json:"portfolio"`
}

func (h *Handler) portfolio(w http.ResponseWriter, r *http.Request) {
	var req portfolioRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		errmap.WriteRejection(w, domain.ErrInvalidParams)
		return
	}
	h.emitter.PortfolioUpdated(r.Context(), req.UserID, req.Portfolio)
	accepted(w)
}

type tradeRequest struct {
	UserID string `json:"userId"`
	Trade  Trade  `json:"trade"`
	Failed bool   `json:"failed,omitempty"`
}

func (h *Handler) trade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Trade.Symbol == "" {
		errmap.WriteRejection(w, domain.ErrInvalidParams)
		return
	}
	if req.Failed {
		h.emitter.TradeFailed(r.Context(), req.UserID, req.Trade)
	} else {
		h.emitter.TradeExecuted(r.Context(), req.UserID, req.Trade)
	}
	accepted(w)
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	var q Quote
	if !h.decode(w, r, &q) {
		return
	}
	if q.Symbol == "" {
		errmap.WriteRejection(w, domain.ErrInvalidParams)
		return
	}
	h.emitter.WatchlistQuote(r.Context(), q)
	accepted(w)
}

type positionRequest struct {
	UserID   string   `json:"userId"`
	Position Position `json:"position"`
}

func (h *Handler) position(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		errmap.WriteRejection(w, domain.ErrInvalidParams)
		return
	}
	h.emitter.PositionClosed(r.Context(), req.UserID, req.Position)
	accepted(w)
}

type notifyRequest struct {
	UserID  string `json:"userId"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (h *Handler) notify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Message == "" {
		errmap.WriteRejection(w, domain.ErrInvalidParams)
		return
	}
	typ := req.Type
	if typ == "" {
		typ = "info"
	}
	h.emitter.Notify(r.Context(), req.UserID, req.Title, req.Message, typ)
	accepted(w)
}

type marketRequest struct {
	Status string `json:"status"`
}

func (h *Handler) market(w http.ResponseWriter, r *http.Request) {
	var req marketRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Status == "" {
		errmap.WriteRejection(w, domain.ErrInvalidParams)
		return
	}
	h.emitter.MarketStatus(r.Context(), req.Status)
	accepted(w)
}

// decode rejects non-POST methods and malformed bodies. Returns false when
// a response has already been written.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.logger.Debug("malformed emit request",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		errmap.WriteRejection(w, domain.ErrParse)
		return false
	}
	return true
}

func accepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"accepted":true}`))
}
