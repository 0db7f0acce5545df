package onchain

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		raw      string
		decimals int
		want     string
	}{
		{"0", 18, "0"},
		{"1500000000000000000", 18, "1.5"},
		{"2000000000000000000", 18, "2"},
		{"1", 18, "0.000000000000000001"},
		{"1000000", 6, "1"},
		{"1234567", 6, "1.234567"},
		{"123456789000000000000", 18, "123.456789"},
		{"42", 0, "42"},
	}
	for _, tt := range tests {
		raw, ok := new(big.Int).SetString(tt.raw, 10)
		if !ok {
			t.Fatalf("bad raw %q", tt.raw)
		}
		if got := FormatAmount(raw, tt.decimals); got != tt.want {
			t.Errorf("FormatAmount(%s, %d) = %q, want %q", tt.raw, tt.decimals, got, tt.want)
		}
	}
}

func TestPadAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0x1234", strings.Repeat("0", 60) + "1234"},
		{"0xABCD", strings.Repeat("0", 60) + "abcd"},
		{"", strings.Repeat("0", 64)},
		// Already full width or wider: passed through, never padded.
		{"0x" + strings.Repeat("a", 64), strings.Repeat("a", 64)},
		{"0x" + strings.Repeat("a", 70), strings.Repeat("a", 70)},
	}
	for _, tt := range tests {
		if got := padAddress(tt.in); got != tt.want {
			t.Errorf("padAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTokenBalance_OverlongAddress(t *testing.T) {
	srv := rpcServer(t, func(string, []json.RawMessage) (string, bool) { return "", false })
	defer srv.Close()
	c := NewClient(srv.URL, "", nil)

	// Addresses come straight off the URL path, so garbage longer than 32
	// bytes must surface as an RPC rejection, not a panic.
	bal, err := c.TokenBalance(context.Background(), "0x"+strings.Repeat("a", 70))
	if err == nil {
		t.Fatal("expected error")
	}
	if bal.Amount != "0" || bal.Raw != "0" {
		t.Errorf("balance = %+v", bal)
	}
}

func rpcServer(t *testing.T, handle func(method string, params []json.RawMessage) (string, bool)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			return
		}
		result, ok := handle(req.Method, req.Params)
		if !ok {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "id": 1,
				"error": map[string]any{"code": -32000, "message": "execution reverted"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": result})
	}))
}

func TestTokenBalance(t *testing.T) {
	const address = "0xAbCd000000000000000000000000000000001234"

	srv := rpcServer(t, func(method string, params []json.RawMessage) (string, bool) {
		if method != "eth_call" {
			t.Errorf("method = %q", method)
			return "", false
		}
		var call struct {
			To   string `json:"to"`
			Data string `json:"data"`
		}
		if err := json.Unmarshal(params[0], &call); err != nil {
			t.Fatalf("unmarshal call: %v", err)
		}
		if call.To != DefaultTokenContract {
			t.Errorf("to = %q", call.To)
		}
		wantData := "0x70a08231" + strings.Repeat("0", 24) + strings.ToLower(address[2:])
		if call.Data != wantData {
			t.Errorf("data = %q, want %q", call.Data, wantData)
		}
		// 1.5 tokens at 18 decimals.
		return "0x14d1120d7b160000", true
	})
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	bal, err := c.TokenBalance(context.Background(), address)
	if err != nil {
		t.Fatalf("TokenBalance: %v", err)
	}
	if bal.Amount != "1.5" {
		t.Errorf("Amount = %q, want 1.5", bal.Amount)
	}
	if bal.Raw != "1500000000000000000" {
		t.Errorf("Raw = %q", bal.Raw)
	}
}

func TestTokenBalance_EmptyResultIsZero(t *testing.T) {
	srv := rpcServer(t, func(string, []json.RawMessage) (string, bool) { return "0x", true })
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	bal, err := c.TokenBalance(context.Background(), "0x1234")
	if err != nil {
		t.Fatalf("TokenBalance: %v", err)
	}
	if bal.Amount != "0" || bal.Raw != "0" {
		t.Errorf("balance = %+v", bal)
	}
}

func TestNativeBalance(t *testing.T) {
	srv := rpcServer(t, func(method string, params []json.RawMessage) (string, bool) {
		if method != "eth_getBalance" {
			t.Errorf("method = %q", method)
		}
		var block string
		_ = json.Unmarshal(params[1], &block)
		if block != "latest" {
			t.Errorf("block = %q", block)
		}
		// 2 ETH.
		return "0x1bc16d674ec80000", true
	})
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	bal, err := c.NativeBalance(context.Background(), "0x1234")
	if err != nil {
		t.Fatalf("NativeBalance: %v", err)
	}
	if bal.Amount != "2" {
		t.Errorf("Amount = %q, want 2", bal.Amount)
	}
}

func TestTokenBalance_RPCError(t *testing.T) {
	srv := rpcServer(t, func(string, []json.RawMessage) (string, bool) { return "", false })
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	bal, err := c.TokenBalance(context.Background(), "0x1234")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "execution reverted") {
		t.Errorf("err = %v", err)
	}
	if bal.Amount != "0" || bal.Raw != "0" {
		t.Errorf("balance on error = %+v", bal)
	}
}

func TestVerifyBalance(t *testing.T) {
	srv := rpcServer(t, func(string, []json.RawMessage) (string, bool) {
		// 1.5 tokens.
		return "0x14d1120d7b160000", true
	})
	defer srv.Close()
	c := NewClient(srv.URL, "", nil)

	v := c.VerifyBalance(context.Background(), "0x1234", 1.0)
	if !v.Sufficient || v.Balance != "1.5" || v.Required != "1" {
		t.Errorf("verification = %+v", v)
	}

	v = c.VerifyBalance(context.Background(), "0x1234", 2.0)
	if v.Sufficient {
		t.Errorf("verification = %+v", v)
	}

	// Exactly the required amount counts as sufficient.
	v = c.VerifyBalance(context.Background(), "0x1234", 1.5)
	if !v.Sufficient {
		t.Errorf("verification = %+v", v)
	}
}

func TestVerifyBalance_RPCFailureReadsAsZero(t *testing.T) {
	srv := rpcServer(t, func(string, []json.RawMessage) (string, bool) { return "", false })
	defer srv.Close()
	c := NewClient(srv.URL, "", nil)

	v := c.VerifyBalance(context.Background(), "0x1234", 1.0)
	if v.Sufficient || v.Balance != "0" {
		t.Errorf("verification = %+v", v)
	}
	// Zero required stays satisfiable even when the node is down.
	v = c.VerifyBalance(context.Background(), "0x1234", 0)
	if !v.Sufficient {
		t.Errorf("verification = %+v", v)
	}
}
