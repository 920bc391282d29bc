// Package api provides the HTTP and WebSocket surface of the RGS
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/alexbotov/sweepsrgs/internal/audit"
	"github.com/alexbotov/sweepsrgs/internal/auth"
	"github.com/alexbotov/sweepsrgs/internal/control"
	"github.com/alexbotov/sweepsrgs/internal/domain"
	"github.com/alexbotov/sweepsrgs/internal/game"
	"github.com/alexbotov/sweepsrgs/internal/ledger"
	"github.com/alexbotov/sweepsrgs/internal/limits"
	"github.com/alexbotov/sweepsrgs/internal/metrics"
	"github.com/alexbotov/sweepsrgs/internal/rng"
	"github.com/alexbotov/sweepsrgs/internal/wallet"
)

// Version is reported by the server info endpoint
const Version = "1.0.0"

// Deps are the services behind the handlers
type Deps struct {
	Auth           *auth.Service
	Wallet         *wallet.Service
	Engine         *game.Engine
	Control        *control.Service
	Limits         *limits.Service
	Audit          *audit.Service
	RNG            *rng.Service
	AllowedOrigins []string
	// TrustedProxies may set X-Forwarded-For and X-Real-IP
	TrustedProxies []netip.Prefix
}

// Handler contains all HTTP handlers
type Handler struct {
	auth    *auth.Service
	wallet  *wallet.Service
	engine  *game.Engine
	control *control.Service
	limits  *limits.Service
	audit   *audit.Service
	rng     *rng.Service
	origins []string
	proxies []netip.Prefix
}

// New creates a new API handler
func New(d Deps) *Handler {
	return &Handler{
		auth:    d.Auth,
		wallet:  d.Wallet,
		engine:  d.Engine,
		control: d.Control,
		limits:  d.Limits,
		audit:   d.Audit,
		rng:     d.RNG,
		origins: d.AllowedOrigins,
		proxies: d.TrustedProxies,
	}
}

// APIResponse is the envelope of every JSON answer
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError carries a stable code. Reason is the compliance reason of a
// blocked location.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeError(w, status, &APIError{Code: code, Message: message})
}

func writeError(w http.ResponseWriter, status int, e *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: e})
}

var kindStatus = map[domain.Kind]int{
	domain.KindInvalidWager:      http.StatusBadRequest,
	domain.KindInsufficientFunds: http.StatusUnprocessableEntity,
	domain.KindKYCRequired:       http.StatusForbidden,
	domain.KindLocationBlocked:   http.StatusForbidden,
	domain.KindSelfExcluded:      http.StatusForbidden,
	domain.KindLimitExceeded:     http.StatusForbidden,
	domain.KindNotFound:          http.StatusNotFound,
	domain.KindRoundInProgress:   http.StatusConflict,
	domain.KindInvalidRoundState: http.StatusConflict,
	domain.KindNoFreeSpins:       http.StatusConflict,
	domain.KindDeckDepleted:      http.StatusConflict,
	domain.KindGameDisabled:      http.StatusServiceUnavailable,
	domain.KindRNGUnavailable:    http.StatusServiceUnavailable,
	domain.KindDataIntegrity:     http.StatusInternalServerError,
}

// errorBody classifies err into a status and a body. Internal errors never
// leak their message.
func errorBody(err error) (int, *APIError) {
	kind := domain.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	body := &APIError{Code: string(kind), Message: err.Error()}

	var blocked *domain.LocationBlockedError
	if errors.As(err, &blocked) {
		body.Reason = blocked.Reason
	}
	if errors.Is(err, ledger.ErrAccountExists) {
		return http.StatusConflict, &APIError{Code: "ACCOUNT_EXISTS", Message: err.Error()}
	}
	if status == http.StatusInternalServerError {
		body.Message = "Internal server error"
	}
	return status, body
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorBody(err)
	entry := log.WithError(err).WithFields(log.Fields{
		"request_id": RequestID(r.Context()),
		"code":       body.Code,
	})
	if status >= 500 {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}
	writeError(w, status, body)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

// clientIP returns the address a request is attributed to. The forwarding
// headers count only when the peer is a trusted proxy; X-Forwarded-For is
// then read from the right, skipping trusted hops.
func (h *Handler) clientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if !h.trustedProxy(peer) {
		return peer
	}
	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if i == 0 || !h.trustedProxy(hop) {
				return hop
			}
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		return xrip
	}
	return peer
}

func (h *Handler) trustedProxy(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range h.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (h *Handler) player(r *http.Request) game.Player {
	return game.Player{UserID: ClaimsFrom(r.Context()).Subject, IP: h.clientIP(r)}
}

// === Health & Info ===

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"gaming_enabled": h.control.IsGamingEnabled(),
	})
}

// ServerInfo handles GET /
func (h *Handler) ServerInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"name":    "sweeps-rgs",
		"version": Version,
	})
}

// RNGStatus handles GET /api/v1/system/rng
func (h *Handler) RNGStatus(w http.ResponseWriter, r *http.Request) {
	res, err := h.rng.HealthCheck()
	if err != nil {
		metrics.RNGHealthy.Set(0)
		respondJSON(w, http.StatusServiceUnavailable, res)
		return
	}
	if res.Healthy {
		metrics.RNGHealthy.Set(1)
	} else {
		metrics.RNGHealthy.Set(0)
	}
	respondJSON(w, http.StatusOK, res)
}

// === Authentication ===

// StartGuest handles POST /api/v1/auth/guest
func (h *Handler) StartGuest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
			return
		}
	}
	sess, err := h.auth.StartGuest(r.Context(), req.DisplayName, h.clientIP(r))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

// === Account ===

// GetBalance handles GET /api/v1/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.wallet.GetBalance(r.Context(), ClaimsFrom(r.Context()).Subject)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, bal)
}

// GetProfile handles GET /api/v1/profile
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	prof, err := h.wallet.GetProfile(r.Context(), ClaimsFrom(r.Context()).Subject)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"profile":         prof,
		"can_play_sweeps": prof.CanPlaySweeps(),
	})
}

// GetHistory handles GET /api/v1/history?from=&to=&limit=
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	f := domain.HistoryFilter{UserID: ClaimsFrom(r.Context()).Subject}
	q := r.URL.Query()
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer")
			return
		}
		f.Limit = n
	}
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", name+" must be RFC 3339")
			return
		}
		*dst = &t
	}

	entries, err := h.wallet.History(r.Context(), f)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// === Games ===

// GetGames handles GET /api/v1/games
func (h *Handler) GetGames(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"games":   h.engine.Games(),
		"ladders": h.wallet.Ladders(),
	})
}

// GetGame handles GET /api/v1/games/{id}
func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request) {
	def, err := h.engine.Catalog().Get(mux.Vars(r)["id"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := map[string]any{
		"game":    def,
		"enabled": h.control.CheckAccess(def.ID) == nil,
	}
	if def.Type == domain.GameTypePlinko {
		out["multipliers"] = plinkoTables()
	}
	respondJSON(w, http.StatusOK, out)
}

func plinkoTables() map[game.Risk]map[int][]string {
	out := make(map[game.Risk]map[int][]string)
	for _, risk := range []game.Risk{game.RiskLow, game.RiskMedium, game.RiskHigh} {
		out[risk] = make(map[int][]string)
		for rows := game.PlinkoMinRows; rows <= game.PlinkoMaxRows; rows++ {
			table, err := game.Multipliers(rows, risk)
			if err != nil {
				continue
			}
			s := make([]string, len(table))
			for i, m := range table {
				s[i] = m.String()
			}
			out[risk][rows] = s
		}
	}
	return out
}

// GetBonus handles GET /api/v1/games/{id}/bonus
func (h *Handler) GetBonus(w http.ResponseWriter, r *http.Request) {
	b, err := h.wallet.GetBonus(r.Context(), ClaimsFrom(r.Context()).Subject, mux.Vars(r)["id"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

// PlayRequest is the body of every wager
type PlayRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
	FreeSpin       bool   `json:"free_spin,omitempty"`
	Rows           int    `json:"rows,omitempty"`
	Risk           string `json:"risk,omitempty"`
	Held           []int  `json:"held,omitempty"`
}

func (p *PlayRequest) wager(gameID string) (domain.Wager, error) {
	w := domain.Wager{Amount: p.Amount, GameID: gameID, IdempotencyKey: p.IdempotencyKey}
	if p.FreeSpin {
		return w, nil
	}
	cur, err := domain.ParseCurrency(p.Currency)
	if err != nil {
		return w, err
	}
	w.Currency = cur
	return w, nil
}

func (h *Handler) readPlay(w http.ResponseWriter, r *http.Request) (*PlayRequest, domain.Wager, bool) {
	var req PlayRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return nil, domain.Wager{}, false
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}
	wager, err := req.wager(mux.Vars(r)["id"])
	if err != nil {
		h.respondErr(w, r, err)
		return nil, wager, false
	}
	return &req, wager, true
}

// Play handles POST /api/v1/games/{id}/play for slots, plinko and scratch
// games, and deals a new round at table games
func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
	req, wager, ok := h.readPlay(w, r)
	if !ok {
		return
	}
	res, status, err := h.dispatch(r.Context(), h.player(r), req, wager)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, status, res)
}

func (h *Handler) dispatch(ctx context.Context, p game.Player, req *PlayRequest, wager domain.Wager) (any, int, error) {
	def, err := h.engine.Catalog().Get(wager.GameID)
	if err != nil {
		return nil, 0, err
	}

	switch def.Type {
	case domain.GameTypeSlots:
		res, err := h.engine.Spin(ctx, p, wager, req.FreeSpin)
		return res, http.StatusOK, err
	case domain.GameTypePlinko:
		risk, err := game.ParseRisk(req.Risk)
		if err != nil {
			return nil, 0, err
		}
		res, err := h.engine.Drop(ctx, p, wager, req.Rows, risk)
		return res, http.StatusOK, err
	case domain.GameTypeScratch:
		res, err := h.engine.BuyTicket(ctx, p, wager)
		return res, http.StatusOK, err
	case domain.GameTypeBlackjack:
		res, err := h.engine.DealBlackjack(ctx, p, wager)
		return res, http.StatusCreated, err
	case domain.GameTypePoker:
		res, err := h.engine.DealPoker(ctx, p, wager)
		return res, http.StatusCreated, err
	}
	return nil, 0, domain.ErrNotFound
}

// === Table rounds ===

// ActiveRound handles GET /api/v1/games/{id}/round
func (h *Handler) ActiveRound(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.ActiveRound(r.Context(), h.player(r), mux.Vars(r)["id"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// GetRound handles GET /api/v1/rounds/{round_id}
func (h *Handler) GetRound(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Round(r.Context(), h.player(r), mux.Vars(r)["round_id"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// RoundAction handles POST /api/v1/rounds/{round_id}/{action}
func (h *Handler) RoundAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ctx, p, id := r.Context(), h.player(r), vars["round_id"]

	var (
		res *game.RoundResult
		err error
	)
	switch vars["action"] {
	case "hit":
		res, err = h.engine.Hit(ctx, p, id)
	case "stand":
		res, err = h.engine.Stand(ctx, p, id)
	case "double":
		res, err = h.engine.DoubleDown(ctx, p, id)
	case "draw":
		var req struct {
			Held []int `json:"held"`
		}
		if derr := decode(r, &req); derr != nil {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
			return
		}
		res, err = h.engine.Draw(ctx, p, id, req.Held)
	default:
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Unknown action")
		return
	}
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// === Administration ===

type switchRequest struct {
	Reason string `json:"reason"`
}

func operator(r *http.Request) string {
	return ClaimsFrom(r.Context()).Subject
}

// SystemStatus handles GET /api/v1/admin/status
func (h *Handler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.control.GetSystemStatus())
}

// SetGaming handles POST /api/v1/admin/gaming/{state}
func (h *Handler) SetGaming(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
			return
		}
	}
	var err error
	switch mux.Vars(r)["state"] {
	case "enable":
		err = h.control.EnableAllGaming(r.Context(), operator(r))
	case "disable":
		if req.Reason == "" {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "reason is required")
			return
		}
		err = h.control.DisableAllGaming(r.Context(), req.Reason, operator(r))
	}
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.control.GetSystemStatus())
}

// SetGame handles POST /api/v1/admin/games/{id}/{state}
func (h *Handler) SetGame(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if _, err := h.engine.Catalog().Get(vars["id"]); err != nil {
		h.respondErr(w, r, err)
		return
	}
	var req switchRequest
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
			return
		}
	}
	var err error
	switch vars["state"] {
	case "enable":
		err = h.control.EnableGame(r.Context(), vars["id"], operator(r))
	case "disable":
		err = h.control.DisableGame(r.Context(), vars["id"], req.Reason, operator(r))
	}
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.control.GetSystemStatus())
}

// OpenAccount handles POST /api/v1/admin/accounts
func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      string           `json:"user_id"`
		DisplayName string           `json:"display_name"`
		KYCStatus   domain.KYCStatus `json:"kyc_status"`
		GoldCoins   int64            `json:"gold_coins"`
		SweepsCash  int64            `json:"sweeps_cash"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.GoldCoins < 0 || req.SweepsCash < 0 {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "grants must not be negative")
		return
	}
	p := &domain.Profile{UserID: req.UserID, DisplayName: req.DisplayName, KYCStatus: req.KYCStatus}
	bal, err := h.wallet.OpenAccount(r.Context(), p, ledger.Grant{GoldCoins: req.GoldCoins, SweepsCash: req.SweepsCash})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.audit.Log(r.Context(), audit.EventAccountOpened, domain.SeverityInfo,
		"Account opened by operator", map[string]any{"operator": operator(r)},
		audit.WithUser(p.UserID), audit.WithIP(h.clientIP(r)), audit.WithComponent("admin"))
	respondJSON(w, http.StatusCreated, map[string]any{"profile": p, "balance": bal})
}

// SetKYC handles PUT /api/v1/admin/accounts/{user_id}/kyc
func (h *Handler) SetKYC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status domain.KYCStatus `json:"status"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	switch req.Status {
	case domain.KYCNone, domain.KYCPending, domain.KYCVerified, domain.KYCRejected:
	default:
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown kyc status")
		return
	}
	userID := mux.Vars(r)["user_id"]
	if err := h.wallet.SetKYCStatus(r.Context(), userID, req.Status); err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.audit.Log(r.Context(), audit.EventKYCChanged, domain.SeverityInfo,
		"KYC status set to "+string(req.Status), map[string]any{"operator": operator(r), "status": req.Status},
		audit.WithUser(userID), audit.WithComponent("admin"))
	respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "kyc_status": req.Status})
}

// AuditEvents handles GET /api/v1/admin/audit?type=&user_id=&limit=
func (h *Handler) AuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := &audit.EventFilter{Type: q.Get("type"), UserID: q.Get("user_id")}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer")
			return
		}
		f.Limit = n
	}
	events, err := h.audit.Events(r.Context(), f)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}
