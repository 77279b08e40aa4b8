// Package api is the remote-call boundary. Every mutating endpoint carries
// a signature; the recovered signer is the caller identity handed to the
// engine, so authorization decisions never trust the request body alone.
package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/stonxe/stonxed/pkg/asset"
	"github.com/stonxe/stonxed/pkg/cheque"
	stonxecrypto "github.com/stonxe/stonxed/pkg/crypto"
	"github.com/stonxe/stonxed/pkg/exchange"
	"github.com/stonxe/stonxed/pkg/storage"
)

type Server struct {
	exchange *exchange.Exchange
	cheques  *cheque.Book
	store    *storage.PebbleStore // event journal reads; may be nil
	router   *mux.Router
	hub      *Hub
	log      *zap.SugaredLogger
}

func NewServer(x *exchange.Exchange, b *cheque.Book, store *storage.PebbleStore, hub *Hub, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		exchange: x,
		cheques:  b,
		store:    store,
		router:   mux.NewRouter(),
		hub:      hub,
		log:      log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// ledger
	api.HandleFunc("/deposits", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/balances/{token}/{account}", s.handleGetBalance).Methods("GET")

	// order book
	api.HandleFunc("/orders", s.handleMakeOrder).Methods("POST")
	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/orders/count", s.handleOrderCount).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/fill", s.handleFillOrder).Methods("POST")

	// escrow
	api.HandleFunc("/cheques", s.handleNewCheque).Methods("POST")
	api.HandleFunc("/cheques/{id}", s.handleGetCheque).Methods("GET")
	api.HandleFunc("/cheques/{id}/topup", s.handleTopup).Methods("POST")
	api.HandleFunc("/cheques/{id}/withdraw", s.handleChequeWithdraw).Methods("POST")
	api.HandleFunc("/cheques/{id}/deactivate", s.handleDeactivate).Methods("POST")
	api.HandleFunc("/cheques/{id}/balance", s.handleChequeBalance).Methods("GET")

	// journals
	api.HandleFunc("/events", s.handleEvents).Methods("GET")
	api.HandleFunc("/cheque-events", s.handleChequeEvents).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub and serves HTTP on addr.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})

	s.log.Infow("api_starting", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ==============================
// Ledger handlers
// ==============================

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}

	if req.Token == "" || isEtherParam(req.Token) {
		caller, ok := s.authenticate(w, req.SignedRequest, "deposit_ether", req.Account, req.Amount)
		if !ok {
			return
		}
		s.respondOp(w, s.exchange.DepositEther(caller, amount))
		return
	}

	tok, ok := parseAddress(w, req.Token)
	if !ok {
		return
	}
	caller, ok := s.authenticate(w, req.SignedRequest, "deposit_token", req.Account, req.Token, req.Amount)
	if !ok {
		return
	}
	s.respondOp(w, s.exchange.DepositToken(caller, tok, amount))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}

	if req.Token == "" || isEtherParam(req.Token) {
		caller, ok := s.authenticate(w, req.SignedRequest, "withdraw_ether", req.Account, req.Amount)
		if !ok {
			return
		}
		s.respondOp(w, s.exchange.WithdrawEther(caller, amount))
		return
	}

	tok, ok := parseAddress(w, req.Token)
	if !ok {
		return
	}
	caller, ok := s.authenticate(w, req.SignedRequest, "withdraw_token", req.Account, req.Token, req.Amount)
	if !ok {
		return
	}
	s.respondOp(w, s.exchange.WithdrawToken(caller, tok, amount))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var tok common.Address
	if !isEtherParam(vars["token"]) {
		var ok bool
		if tok, ok = parseAddress(w, vars["token"]); !ok {
			return
		}
	}
	account, ok := parseAddress(w, vars["account"])
	if !ok {
		return
	}
	bal := s.exchange.BalanceOf(tok, account)
	respondJSON(w, BalanceResponse{Token: tok.Hex(), Account: account.Hex(), Balance: bal.Dec()})
}

// ==============================
// Order handlers
// ==============================

func (s *Server) handleMakeOrder(w http.ResponseWriter, r *http.Request) {
	var req MakeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	amountGet, ok := parseAmount(w, req.AmountGet)
	if !ok {
		return
	}
	amountGive, ok := parseAmount(w, req.AmountGive)
	if !ok {
		return
	}
	tokenGet, ok := parseAssetParam(w, req.TokenGet)
	if !ok {
		return
	}
	tokenGive, ok := parseAssetParam(w, req.TokenGive)
	if !ok {
		return
	}
	caller, ok := s.authenticate(w, req.SignedRequest, "make_order",
		req.Account, req.TokenGet, req.AmountGet, req.TokenGive, req.AmountGive)
	if !ok {
		return
	}

	order, err := s.exchange.MakeOrder(caller, tokenGet, amountGet, tokenGive, amountGive)
	if err != nil {
		s.respondOp(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "ok", ID: order.ID})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.exchange.Orders()
	out := make([]OrderResponse, len(orders))
	for i, o := range orders {
		out[i] = orderResponse(o)
	}
	respondJSON(w, out)
}

func (s *Server) handleOrderCount(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, OrderCountResponse{Count: s.exchange.OrderCount()})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	respondJSON(w, orderResponse(s.exchange.Order(id)))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	var req OrderActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := s.authenticate(w, req.SignedRequest, "cancel_order", req.Account, strconv.FormatUint(id, 10))
	if !ok {
		return
	}
	s.respondOp(w, s.exchange.CancelOrder(caller, id))
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	var req OrderActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := s.authenticate(w, req.SignedRequest, "fill_order", req.Account, strconv.FormatUint(id, 10))
	if !ok {
		return
	}
	s.respondOp(w, s.exchange.FillOrder(caller, id))
}

// ==============================
// Escrow handlers
// ==============================

func (s *Server) handleNewCheque(w http.ResponseWriter, r *http.Request) {
	var req NewChequeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	kind, ok := parseKind(w, req.Kind)
	if !ok {
		return
	}
	caller, ok := s.authenticate(w, req.SignedRequest, "new_cheque", req.Account, req.Kind)
	if !ok {
		return
	}
	c, err := s.cheques.NewCheque(caller, kind)
	if err != nil {
		s.respondOp(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "ok", ID: c.ID})
}

func (s *Server) handleGetCheque(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	c := s.cheques.Cheque(id)
	respondJSON(w, ChequeResponse{
		ID:       c.ID,
		Owner:    c.Owner.Hex(),
		Kind:     c.Kind.String(),
		Inactive: c.Inactive,
	})
}

func (s *Server) handleTopup(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	var req TopupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}
	caller, ok := s.authenticate(w, req.SignedRequest, "topup", req.Account, strconv.FormatUint(id, 10), req.Amount)
	if !ok {
		return
	}

	// The ticket's bound kind selects the variant; a mismatch is rejected by
	// the book, mirroring the separate topupEther/topupToken entry points.
	var err error
	if s.cheques.Cheque(id).Kind == asset.Ether {
		err = s.cheques.TopupEther(caller, id, amount)
	} else {
		err = s.cheques.TopupToken(caller, id, amount)
	}
	s.respondOp(w, err)
}

func (s *Server) handleChequeWithdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	var req ChequeWithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}
	caller, ok := s.authenticate(w, req.SignedRequest, "cheque_withdraw", req.Account, strconv.FormatUint(id, 10), req.Amount)
	if !ok {
		return
	}
	s.respondOp(w, s.cheques.Withdraw(caller, id, amount))
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	var req DeactivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := s.authenticate(w, req.SignedRequest, "deactivate", req.Account, strconv.FormatUint(id, 10))
	if !ok {
		return
	}
	s.respondOp(w, s.cheques.Deactivate(caller, id))
}

// handleChequeBalance is the one owner-restricted read: the owner signs the
// query (account + id) and the balance is only returned to them.
func (s *Server) handleChequeBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	account := r.URL.Query().Get("account")
	sig := r.URL.Query().Get("signature")
	caller, ok := s.authenticate(w, SignedRequest{Account: account, Signature: sig},
		"cheque_balance", account, strconv.FormatUint(id, 10))
	if !ok {
		return
	}
	bal, err := s.cheques.BalanceOf(caller, id)
	if err != nil {
		s.respondOp(w, err)
		return
	}
	respondJSON(w, ChequeBalanceResponse{ID: id, Balance: bal.Dec()})
}

// ==============================
// Journal handlers
// ==============================

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotFound, "journal disabled", "")
		return
	}
	from, limit := journalQuery(r)
	events, err := s.store.Events(from, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal read failed", err.Error())
		return
	}
	respondJSON(w, events)
}

func (s *Server) handleChequeEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotFound, "journal disabled", "")
		return
	}
	from, limit := journalQuery(r)
	events, err := s.store.ChequeEvents(from, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal read failed", err.Error())
		return
	}
	respondJSON(w, events)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

// authenticate recovers the signer of the canonical request digest and
// checks it matches the claimed account.
func (s *Server) authenticate(w http.ResponseWriter, req SignedRequest, op string, fields ...string) (common.Address, bool) {
	if !common.IsHexAddress(req.Account) {
		respondError(w, http.StatusBadRequest, "invalid account address", req.Account)
		return common.Address{}, false
	}
	claimed := common.HexToAddress(req.Account)

	sigHex := strings.TrimPrefix(req.Signature, "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != 65 {
		respondError(w, http.StatusBadRequest, "invalid signature encoding", "")
		return common.Address{}, false
	}

	digest := stonxecrypto.RequestDigest(op, fields...)
	signer, err := stonxecrypto.RecoverAddress(digest, sig)
	if err != nil || signer != claimed {
		respondError(w, http.StatusForbidden, "signature does not match account", "")
		return common.Address{}, false
	}
	return claimed, true
}

func (s *Server) respondOp(w http.ResponseWriter, err error) {
	if err == nil {
		respondJSON(w, StatusResponse{Status: "ok"})
		return
	}
	s.log.Infow("op_rejected", "err", err)

	switch {
	case errors.Is(err, exchange.ErrOrderNotFound), errors.Is(err, cheque.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found", err.Error())
	case errors.Is(err, exchange.ErrNotMaker), errors.Is(err, cheque.ErrNotOwner):
		respondError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, exchange.ErrOrderFilled),
		errors.Is(err, exchange.ErrOrderCancelled),
		errors.Is(err, cheque.ErrInactive):
		respondError(w, http.StatusConflict, "already terminal", err.Error())
	case errors.Is(err, exchange.ErrInsufficientBalance), errors.Is(err, cheque.ErrInsufficientBalance):
		respondError(w, http.StatusConflict, "insufficient balance", err.Error())
	case errors.Is(err, exchange.ErrAssetMismatch), errors.Is(err, cheque.ErrAssetMismatch),
		errors.Is(err, exchange.ErrUnknownToken):
		respondError(w, http.StatusBadRequest, "asset mismatch", err.Error())
	case errors.Is(err, exchange.ErrNilAmount), errors.Is(err, cheque.ErrNilAmount),
		errors.Is(err, exchange.ErrAmountOverflow), errors.Is(err, cheque.ErrAmountOverflow):
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
	default:
		// adapter failures and persistence errors
		respondError(w, http.StatusBadGateway, "operation failed", err.Error())
	}
}

func isEtherParam(p string) bool {
	return p == "" || strings.EqualFold(p, "ether") || (common.IsHexAddress(p) && common.HexToAddress(p) == asset.EtherAddress)
}

func parseAssetParam(w http.ResponseWriter, p string) (common.Address, bool) {
	if isEtherParam(p) {
		return asset.EtherAddress, true
	}
	return parseAddress(w, p)
}

func parseAddress(w http.ResponseWriter, p string) (common.Address, bool) {
	if !common.IsHexAddress(p) {
		respondError(w, http.StatusBadRequest, "invalid address", p)
		return common.Address{}, false
	}
	return common.HexToAddress(p), true
}

func parseAmount(w http.ResponseWriter, p string) (*uint256.Int, bool) {
	amount, err := uint256.FromDecimal(p)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", p)
		return nil, false
	}
	return amount, true
}

func parseID(w http.ResponseWriter, p string) (uint64, bool) {
	id, err := strconv.ParseUint(p, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id", p)
		return 0, false
	}
	return id, true
}

func parseKind(w http.ResponseWriter, p string) (asset.Kind, bool) {
	switch strings.ToLower(p) {
	case "ether", "eth":
		return asset.Ether, true
	case "token", "stx":
		return asset.Token, true
	default:
		respondError(w, http.StatusBadRequest, "invalid asset kind", p)
		return 0, false
	}
}

func journalQuery(r *http.Request) (uint64, int) {
	from := uint64(1)
	limit := 0
	if v := r.URL.Query().Get("from"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			from = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	return from, limit
}

func orderResponse(o exchange.Order) OrderResponse {
	resp := OrderResponse{
		ID:        o.ID,
		User:      o.User.Hex(),
		TokenGet:  o.TokenGet.Hex(),
		TokenGive: o.TokenGive.Hex(),
		Timestamp: o.Timestamp,
		Filled:    o.Filled,
		Cancelled: o.Cancelled,
	}
	if o.AmountGet != nil {
		resp.AmountGet = o.AmountGet.Dec()
	}
	if o.AmountGive != nil {
		resp.AmountGive = o.AmountGive.Dec()
	}
	return resp
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: message})
}
