// Package onchain reads token and native balances from an Ethereum-family
// JSON-RPC node.
package onchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRPCURL is the Base mainnet public endpoint.
	DefaultRPCURL = "https://mainnet.base.org"
	// DefaultTokenContract is the $OPENWORK token on Base.
	DefaultTokenContract = "0x299c30DD5974BF4D5bFE42C340CA40462816AB07"

	// balanceOfSelector is the 4-byte selector of balanceOf(address).
	balanceOfSelector = "0x70a08231"

	tokenDecimals = 18

	rpcTimeout      = 10 * time.Second
	balanceCacheTTL = 30 * time.Second
)

// Contracts lists related deployed contract addresses, kept for reference.
var Contracts = map[string]string{
	"OPENWORK_TOKEN": DefaultTokenContract,
	"MCV2_BOND":      "0xc5a076cad94176c2996B32d8466Be1cE757FAa27",
	"MCV2_TOKEN":     "0xAa70bC79fD1cB4a6FBA717018351F0C3c64B79Df",
	"MCV2_ZAP":       "0x91523b39813F3F4E406ECe406D0bEAaA9dE251fa",
}

// Balance is a formatted balance plus the raw integer amount, both as
// decimal strings.
type Balance struct {
	Amount string `json:"balance"`
	Raw    string `json:"balance_raw"`
}

// zeroBalance is what callers see alongside any error.
var zeroBalance = Balance{Amount: "0", Raw: "0"}

// Client queries one node for one token. cache may be nil; with it, balance
// reads go through a short-TTL Redis read-through cache.
type Client struct {
	rpcURL string
	token  string
	http   *http.Client
	cache  *redis.Client
}

func NewClient(rpcURL, tokenContract string, cache *redis.Client) *Client {
	if rpcURL == "" {
		rpcURL = DefaultRPCURL
	}
	if tokenContract == "" {
		tokenContract = DefaultTokenContract
	}
	return &Client{
		rpcURL: rpcURL,
		token:  tokenContract,
		http:   &http.Client{Timeout: rpcTimeout},
		cache:  cache,
	}
}

// TokenBalance returns the ERC-20 token balance of address.
func (c *Client) TokenBalance(ctx context.Context, address string) (Balance, error) {
	return c.balance(ctx, "token", address, func(ctx context.Context) (string, error) {
		data := balanceOfSelector + padAddress(address)
		return c.call(ctx, "eth_call", []any{
			map[string]string{"to": c.token, "data": data},
			"latest",
		})
	})
}

// NativeBalance returns the native currency balance of address, for gas
// estimation.
func (c *Client) NativeBalance(ctx context.Context, address string) (Balance, error) {
	return c.balance(ctx, "native", address, func(ctx context.Context) (string, error) {
		return c.call(ctx, "eth_getBalance", []any{address, "latest"})
	})
}

// Verification is the result of a sufficiency check.
type Verification struct {
	Sufficient bool   `json:"sufficient"`
	Balance    string `json:"balance"`
	Required   string `json:"required"`
}

// VerifyBalance reports whether the address holds at least required tokens.
// The comparison parses the formatted balance as a float: precision is lost
// for very large balances, which is tolerable for a coarse threshold.
func (c *Client) VerifyBalance(ctx context.Context, address string, required float64) Verification {
	bal, err := c.TokenBalance(ctx, address)
	if err != nil {
		bal = zeroBalance
	}
	parsed, _ := strconv.ParseFloat(bal.Amount, 64)
	return Verification{
		Sufficient: parsed >= required,
		Balance:    bal.Amount,
		Required:   strconv.FormatFloat(required, 'f', -1, 64),
	}
}

func (c *Client) balance(ctx context.Context, kind, address string, fetch func(context.Context) (string, error)) (Balance, error) {
	cacheKey := fmt.Sprintf("onchain:%s:%s", kind, strings.ToLower(address))
	if c.cache != nil {
		if raw, err := c.cache.Get(ctx, cacheKey).Result(); err == nil {
			if parsed, ok := new(big.Int).SetString(raw, 10); ok {
				return Balance{Amount: FormatAmount(parsed, tokenDecimals), Raw: raw}, nil
			}
		}
	}

	result, err := fetch(ctx)
	if err != nil {
		return zeroBalance, err
	}
	raw, err := parseHexAmount(result)
	if err != nil {
		return zeroBalance, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, raw.String(), balanceCacheTTL).Err(); err != nil {
			slog.Warn("failed to cache balance", "key", cacheKey, "error", err)
		}
	}
	return Balance{Amount: FormatAmount(raw, tokenDecimals), Raw: raw.String()}, nil
}

type rpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []any) (string, error) {
	body, err := json.Marshal(rpcRequest{Jsonrpc: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("rpc transport: %w", err)
	}
	defer resp.Body.Close()

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("rpc decode: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	return decoded.Result, nil
}

// parseHexAmount parses a 0x-prefixed hex quantity. An empty result counts
// as zero.
func parseHexAmount(hex string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(hex, "0x")
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, fmt.Errorf("malformed hex amount %q", hex)
	}
	return parsed, nil
}

// padAddress strips the 0x prefix and left-pads the address to 32 bytes for
// ABI encoding. Input already at or past 64 characters passes through
// unpadded; the node rejects it, the client must not panic.
func padAddress(address string) string {
	trimmed := strings.TrimPrefix(strings.ToLower(address), "0x")
	if len(trimmed) >= 64 {
		return trimmed
	}
	return strings.Repeat("0", 64-len(trimmed)) + trimmed
}

// FormatAmount renders a raw integer amount as a decimal string with the
// given number of implied decimal places. Trailing fractional zeros are
// trimmed and a zero fraction drops the decimal point entirely.
func FormatAmount(raw *big.Int, decimals int) string {
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, fraction := new(big.Int).QuoRem(raw, divisor, new(big.Int))

	fractionStr := strings.TrimRight(fmt.Sprintf("%0*s", decimals, fraction.String()), "0")
	if fractionStr == "" {
		return whole.String()
	}
	return whole.String() + "." + fractionStr
}
