package api

// Request/response types for the REST boundary. Amounts travel as decimal
// strings; addresses as 0x-hex; signatures as 65-byte 0x-hex over the
// canonical request digest (see pkg/crypto.RequestDigest).

// SignedRequest fields shared by every mutating call. Account is the
// claimed caller; the server recovers the signer from Signature and
// requires the two to match.
type SignedRequest struct {
	Account   string `json:"account"`
	Signature string `json:"signature"`
}

type DepositRequest struct {
	SignedRequest
	Token  string `json:"token,omitempty"` // empty or sentinel for ether
	Amount string `json:"amount"`
}

type WithdrawRequest struct {
	SignedRequest
	Token  string `json:"token,omitempty"`
	Amount string `json:"amount"`
}

type MakeOrderRequest struct {
	SignedRequest
	TokenGet   string `json:"tokenGet"`
	AmountGet  string `json:"amountGet"`
	TokenGive  string `json:"tokenGive"`
	AmountGive string `json:"amountGive"`
}

type OrderActionRequest struct { // cancel and fill
	SignedRequest
}

type NewChequeRequest struct {
	SignedRequest
	Kind string `json:"kind"` // "ether" or "token"
}

type TopupRequest struct {
	SignedRequest
	Amount string `json:"amount"`
}

type ChequeWithdrawRequest struct {
	SignedRequest
	Amount string `json:"amount"`
}

type DeactivateRequest struct {
	SignedRequest
}

type BalanceResponse struct {
	Token   string `json:"token"`
	Account string `json:"account"`
	Balance string `json:"balance"`
}

type OrderResponse struct {
	ID         uint64 `json:"id"`
	User       string `json:"user"`
	TokenGet   string `json:"tokenGet"`
	AmountGet  string `json:"amountGet"`
	TokenGive  string `json:"tokenGive"`
	AmountGive string `json:"amountGive"`
	Timestamp  int64  `json:"timestamp"`
	Filled     bool   `json:"filled"`
	Cancelled  bool   `json:"cancelled"`
}

type OrderCountResponse struct {
	Count uint64 `json:"count"`
}

type ChequeResponse struct {
	ID       uint64 `json:"id"`
	Owner    string `json:"owner"`
	Kind     string `json:"kind"`
	Inactive bool   `json:"inactive"`
}

type ChequeBalanceResponse struct {
	ID      uint64 `json:"id"`
	Balance string `json:"balance"`
}

type StatusResponse struct {
	Status string `json:"status"`
	ID     uint64 `json:"id,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSSubscribeRequest is the client -> server subscription message.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSEvent wraps a journal event for websocket delivery.
type WSEvent struct {
	Channel string `json:"channel"` // "exchange" or "cheque"
	Event   any    `json:"event"`
}
