package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mauricedesaxe/betme/internal/domain"
	"github.com/mauricedesaxe/betme/internal/service"
)

// callerHeader carries the address acting on a bet. There is no signature
// verification here; custody of value happens at the payment substrate, the
// API only enforces the escrow rules for whoever the substrate authenticated.
const callerHeader = "X-Caller-Address"

// BetHandler serves the bet lifecycle endpoints.
type BetHandler struct {
	svc *service.BetService

	// defaultAuthority, when nonzero, backs manual bets that omit an
	// authority: the operator acts as the house mediator.
	defaultAuthority common.Address

	logger *slog.Logger
}

// NewBetHandler creates a BetHandler backed by the given service.
func NewBetHandler(svc *service.BetService, defaultAuthority common.Address, logger *slog.Logger) *BetHandler {
	return &BetHandler{
		svc:              svc,
		defaultAuthority: defaultAuthority,
		logger:           logHandler(logger, "bet"),
	}
}

// createBetRequest is the body of POST /api/bets.
type createBetRequest struct {
	Kind      string         `json:"kind"`
	Authority string         `json:"authority,omitempty"`
	BettorA   string         `json:"bettor_a"`
	BettorB   string         `json:"bettor_b"`
	Option    *optionRequest `json:"option,omitempty"`
}

type optionRequest struct {
	Type             string    `json:"type"`
	FeedAddress      string    `json:"feed_address"`
	StrikeWei        string    `json:"strike_wei"`
	Expiration       time.Time `json:"expiration"`
	HeartbeatSeconds int64     `json:"heartbeat_seconds,omitempty"`
}

// CreateBet opens a new bet.
// POST /api/bets
func (h *BetHandler) CreateBet(w http.ResponseWriter, r *http.Request) {
	var req createBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	bettorA, ok := parseAddress(req.BettorA)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid bettor_a address")
		return
	}
	bettorB, ok := parseAddress(req.BettorB)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid bettor_b address")
		return
	}

	var (
		bet domain.Bet
		err error
	)
	switch domain.BetKind(req.Kind) {
	case domain.BetKindManual:
		authority := h.defaultAuthority
		if req.Authority != "" {
			authority, ok = parseAddress(req.Authority)
			if !ok {
				writeError(w, http.StatusBadRequest, "invalid authority address")
				return
			}
		}
		if authority == (common.Address{}) {
			writeError(w, http.StatusBadRequest, "authority required")
			return
		}
		bet, err = h.svc.CreateManual(r.Context(), authority, bettorA, bettorB)

	case domain.BetKindOracle:
		if req.Option == nil {
			writeError(w, http.StatusBadRequest, "option terms required for oracle bets")
			return
		}
		terms, terr := req.Option.toTerms()
		if terr != nil {
			writeError(w, http.StatusBadRequest, terr.Error())
			return
		}
		bet, err = h.svc.CreateOracle(r.Context(), bettorA, bettorB, terms)

	default:
		writeError(w, http.StatusBadRequest, "kind must be manual or oracle")
		return
	}
	if err != nil {
		writeBetError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, bet)
}

func (o *optionRequest) toTerms() (domain.OptionTerms, error) {
	feed, ok := parseAddress(o.FeedAddress)
	if !ok {
		return domain.OptionTerms{}, errors.New("invalid feed_address")
	}
	strike, ok := new(big.Int).SetString(o.StrikeWei, 10)
	if !ok {
		return domain.OptionTerms{}, errors.New("invalid strike_wei")
	}
	return domain.OptionTerms{
		Type:        domain.OptionType(o.Type),
		FeedAddress: feed,
		StrikeWei:   strike,
		Expiration:  o.Expiration,
		Heartbeat:   time.Duration(o.HeartbeatSeconds) * time.Second,
	}, nil
}

// ListBets returns bets, optionally filtered by state and kind.
// GET /api/bets
func (h *BetHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	filter := domain.BetFilter{
		State: domain.BetState(r.URL.Query().Get("state")),
		Kind:  domain.BetKind(r.URL.Query().Get("kind")),
	}

	bets, err := h.svc.List(r.Context(), filter, parseListOpts(r))
	if err != nil {
		writeBetError(w, err)
		return
	}
	if bets == nil {
		bets = []domain.Bet{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": bets, "count": len(bets)})
}

// GetBet returns a single bet.
// GET /api/bets/{id}
func (h *BetHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	bet, err := h.svc.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeBetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

// depositRequest is the body of POST /api/bets/{id}/deposit.
type depositRequest struct {
	AmountWei string `json:"amount_wei"`
}

// Deposit adds to the caller's stake.
// POST /api/bets/{id}/deposit
func (h *BetHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid "+callerHeader+" header")
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, ok := new(big.Int).SetString(req.AmountWei, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount_wei")
		return
	}

	bet, err := h.svc.Deposit(r.Context(), pathParam(r, "id"), caller, amount)
	if err != nil {
		writeBetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

// selectWinnerRequest is the body of POST /api/bets/{id}/winner.
type selectWinnerRequest struct {
	Winner string `json:"winner"`
}

// SelectWinner records the authority's decision.
// POST /api/bets/{id}/winner
func (h *BetHandler) SelectWinner(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid "+callerHeader+" header")
		return
	}

	var req selectWinnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	candidate, ok := parseAddress(req.Winner)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid winner address")
		return
	}

	bet, err := h.svc.SelectWinner(r.Context(), pathParam(r, "id"), caller, candidate)
	if err != nil {
		writeBetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

// Withdraw pays the pool to the winner.
// POST /api/bets/{id}/withdraw
func (h *BetHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid "+callerHeader+" header")
		return
	}

	bet, payout, err := h.svc.Withdraw(r.Context(), pathParam(r, "id"), caller)
	if err != nil {
		writeBetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bet":        bet,
		"payout_wei": payout.String(),
	})
}

// Resolve triggers oracle resolution for a bet. Callable by anyone.
// POST /api/bets/{id}/resolve
func (h *BetHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	bet, err := h.svc.Resolve(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeBetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

// ListEvents returns a bet's event log.
// GET /api/bets/{id}/events
func (h *BetHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.Events(r.Context(), pathParam(r, "id"), parseListOpts(r))
	if err != nil {
		writeBetError(w, err)
		return
	}
	if events == nil {
		events = []domain.BetEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func callerAddress(r *http.Request) (common.Address, bool) {
	return parseAddress(r.Header.Get(callerHeader))
}

func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// writeBetError maps domain sentinels to HTTP status codes.
func writeBetError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "bet not found")
	case errors.Is(err, domain.ErrNotAuthority),
		errors.Is(err, domain.ErrNotBettor),
		errors.Is(err, domain.ErrNotWinner):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrBetLocked),
		errors.Is(err, domain.ErrNotLocked),
		errors.Is(err, domain.ErrWinnerAlreadySet),
		errors.Is(err, domain.ErrWinnerNotSet),
		errors.Is(err, domain.ErrNoWinnerYet),
		errors.Is(err, domain.ErrNothingToWithdraw),
		errors.Is(err, domain.ErrNotOracleMediated):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrStaleQuote):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrSameBettor),
		errors.Is(err, domain.ErrZeroAddress),
		errors.Is(err, domain.ErrMissingField),
		errors.Is(err, domain.ErrExpirationPast),
		errors.Is(err, domain.ErrStrikeInconsistent),
		errors.Is(err, domain.ErrInvalidOptionType):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
