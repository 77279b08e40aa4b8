package api

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stonxe/stonxed/pkg/cheque"
	stonxecrypto "github.com/stonxe/stonxed/pkg/crypto"
	"github.com/stonxe/stonxed/pkg/exchange"
	"github.com/stonxe/stonxed/pkg/token"
)

var (
	exchangeAddr = common.HexToAddress("0x00000000000000000000000000000000000E0001")
	feeAccount   = common.HexToAddress("0x00000000000000000000000000000000000Fee00")
	stxAddr      = common.HexToAddress("0x00000000000000000000000000000000005702e1")
)

type testEnv struct {
	server *httptest.Server
	signer *stonxecrypto.Signer
	stx    *token.Token
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	signer, err := stonxecrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	stx := token.NewStonxe(stxAddr, signer.Address())
	x := exchange.New(exchange.Config{
		Self:       exchangeAddr,
		FeeAccount: feeAccount,
		FeePercent: 10,
	})
	if err := x.RegisterToken(stxAddr, stx); err != nil {
		t.Fatal(err)
	}
	book := cheque.NewBook(cheque.Config{
		Self:      exchangeAddr,
		TokenAddr: stxAddr,
		Token:     stx,
	})

	srv := NewServer(x, book, nil, NewHub(), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, signer: signer, stx: stx}
}

func (e *testEnv) sign(t *testing.T, op string, fields ...string) string {
	t.Helper()
	digest := stonxecrypto.RequestDigest(op, fields...)
	sig, err := e.signer.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return "0x" + hex.EncodeToString(sig)
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	resp := e.get(t, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestDepositEtherAndReadBalance(t *testing.T) {
	e := newTestEnv(t)
	account := e.signer.Address().Hex()

	resp := e.post(t, "/api/v1/deposits", DepositRequest{
		SignedRequest: SignedRequest{
			Account:   account,
			Signature: e.sign(t, "deposit_ether", account, "1000"),
		},
		Amount: "1000",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deposit status = %d", resp.StatusCode)
	}

	bal := decode[BalanceResponse](t, e.get(t, "/api/v1/balances/ether/"+account))
	if bal.Balance != "1000" {
		t.Errorf("balance = %s, want 1000", bal.Balance)
	}
}

func TestDepositRejectsWrongSigner(t *testing.T) {
	e := newTestEnv(t)
	other, err := stonxecrypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	account := other.Address().Hex() // claims other's account, signs with own key

	resp := e.post(t, "/api/v1/deposits", DepositRequest{
		SignedRequest: SignedRequest{
			Account:   account,
			Signature: e.sign(t, "deposit_ether", account, "1000"),
		},
		Amount: "1000",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestDepositRejectsTamperedAmount(t *testing.T) {
	e := newTestEnv(t)
	account := e.signer.Address().Hex()

	// signature covers 1000 but the body says 9999
	resp := e.post(t, "/api/v1/deposits", DepositRequest{
		SignedRequest: SignedRequest{
			Account:   account,
			Signature: e.sign(t, "deposit_ether", account, "1000"),
		},
		Amount: "9999",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestDepositRejectsBadAmount(t *testing.T) {
	e := newTestEnv(t)
	account := e.signer.Address().Hex()

	resp := e.post(t, "/api/v1/deposits", DepositRequest{
		SignedRequest: SignedRequest{Account: account, Signature: "0x00"},
		Amount:        "not-a-number",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWithdrawInsufficientMapsToConflict(t *testing.T) {
	e := newTestEnv(t)
	account := e.signer.Address().Hex()

	resp := e.post(t, "/api/v1/withdrawals", WithdrawRequest{
		SignedRequest: SignedRequest{
			Account:   account,
			Signature: e.sign(t, "withdraw_ether", account, "500"),
		},
		Amount: "500",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestOrderLifecycle(t *testing.T) {
	e := newTestEnv(t)
	account := e.signer.Address().Hex()

	resp := e.post(t, "/api/v1/orders", MakeOrderRequest{
		SignedRequest: SignedRequest{
			Account: account,
			Signature: e.sign(t, "make_order",
				account, stxAddr.Hex(), "100", "ether", "200"),
		},
		TokenGet:   stxAddr.Hex(),
		AmountGet:  "100",
		TokenGive:  "ether",
		AmountGive: "200",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("make order status = %d", resp.StatusCode)
	}
	made := decode[StatusResponse](t, resp)
	if made.ID != 1 {
		t.Fatalf("order id = %d, want 1", made.ID)
	}

	count := decode[OrderCountResponse](t, e.get(t, "/api/v1/orders/count"))
	if count.Count != 1 {
		t.Errorf("count = %d, want 1", count.Count)
	}

	got := decode[OrderResponse](t, e.get(t, "/api/v1/orders/1"))
	if got.AmountGet != "100" || got.AmountGive != "200" || got.Filled || got.Cancelled {
		t.Errorf("order = %+v", got)
	}

	idStr := strconv.FormatUint(made.ID, 10)
	resp = e.post(t, "/api/v1/orders/"+idStr+"/cancel", OrderActionRequest{
		SignedRequest: SignedRequest{
			Account:   account,
			Signature: e.sign(t, "cancel_order", account, idStr),
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}

	// fill after cancel is a conflict
	resp = e.post(t, "/api/v1/orders/"+idStr+"/fill", OrderActionRequest{
		SignedRequest: SignedRequest{
			Account:   account,
			Signature: e.sign(t, "fill_order", account, idStr),
		},
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("fill after cancel status = %d, want 409", resp.StatusCode)
	}
}

func TestCancelMissingOrderMapsToNotFound(t *testing.T) {
	e := newTestEnv(t)
	account := e.signer.Address().Hex()

	resp := e.post(t, "/api/v1/orders/42/cancel", OrderActionRequest{
		SignedRequest: SignedRequest{
			Account:   account,
			Signature: e.sign(t, "cancel_order", account, "42"),
		},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestChequeEndpoints(t *testing.T) {
	e := newTestEnv(t)
	account := e.signer.Address().Hex()

	resp := e.post(t, "/api/v1/cheques", NewChequeRequest{
		SignedRequest: SignedRequest{
			Account:   account,
			Signature: e.sign(t, "new_cheque", account, "ether"),
		},
		Kind: "ether",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("new cheque status = %d", resp.StatusCode)
	}
	made := decode[StatusResponse](t, resp)
	if made.ID != 1 {
		t.Fatalf("cheque id = %d, want 1", made.ID)
	}

	resp = e.post(t, "/api/v1/cheques/1/topup", TopupRequest{
		SignedRequest: SignedRequest{
			Account:   account,
			Signature: e.sign(t, "topup", account, "1", "300"),
		},
		Amount: "300",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("topup status = %d", resp.StatusCode)
	}

	// owner-signed balance query
	sig := e.sign(t, "cheque_balance", account, "1")
	path := fmt.Sprintf("/api/v1/cheques/1/balance?account=%s&signature=%s", account, sig)
	bal := decode[ChequeBalanceResponse](t, e.get(t, path))
	if bal.Balance != "300" {
		t.Errorf("balance = %s, want 300", bal.Balance)
	}

	resp = e.post(t, "/api/v1/cheques/1/deactivate", DeactivateRequest{
		SignedRequest: SignedRequest{
			Account:   account,
			Signature: e.sign(t, "deactivate", account, "1"),
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deactivate status = %d", resp.StatusCode)
	}

	got := decode[ChequeResponse](t, e.get(t, "/api/v1/cheques/1"))
	if !got.Inactive {
		t.Error("cheque must read inactive after deactivation")
	}

	// topup after deactivation is a conflict
	resp = e.post(t, "/api/v1/cheques/1/topup", TopupRequest{
		SignedRequest: SignedRequest{
			Account:   account,
			Signature: e.sign(t, "topup", account, "1", "300"),
		},
		Amount: "300",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("topup after deactivate status = %d, want 409", resp.StatusCode)
	}
}

func TestEventsEndpointDisabledWithoutStore(t *testing.T) {
	e := newTestEnv(t)
	resp := e.get(t, "/api/v1/events")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
