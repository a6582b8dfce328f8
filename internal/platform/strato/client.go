// Package strato is the REST client for a STRATO node: Cirrus search for
// state, the transaction API for contract calls, and the bloc results API
// for confirmations.
package strato

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"

	"github.com/alanyoungcy/stratoarb/internal/domain"
)

// Defaults for Config fields left zero.
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultSubmitTimeout  = 30 * time.Second
	DefaultConfirmPoll    = 2 * time.Second
)

// Config configures a Client.
type Config struct {
	NodeURL        string
	RequestTimeout time.Duration
	SubmitTimeout  time.Duration
	ConfirmPoll    time.Duration
	// BaseToken is the stable token whose balance also pays for gas.
	BaseToken common.Address
	OAuth     OAuthConfig
}

// Client talks to one STRATO node on behalf of one account.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	mu      sync.RWMutex
	account common.Address
}

// NewClient creates a Client that authenticates with the password grant.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	cfg = withDefaults(cfg)
	ts := NewTokenSource(cfg.OAuth, &http.Client{Timeout: cfg.RequestTimeout})
	return NewClientWithTokenSource(cfg, ts, logger)
}

// NewClientWithTokenSource creates a Client that takes bearer tokens from ts.
func NewClientWithTokenSource(cfg Config, ts oauth2.TokenSource, logger *slog.Logger) *Client {
	cfg = withDefaults(cfg)
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: &oauth2.Transport{Source: ts, Base: http.DefaultTransport},
			Timeout:   max(cfg.RequestTimeout, cfg.SubmitTimeout),
		},
		logger: logger.With(slog.String("component", "strato")),
	}
}

func withDefaults(cfg Config) Config {
	cfg.NodeURL = strings.TrimRight(cfg.NodeURL, "/")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	if cfg.ConfirmPoll <= 0 {
		cfg.ConfirmPoll = DefaultConfirmPoll
	}
	return cfg
}

// Connect authenticates and resolves the account address. It must succeed
// before any account-scoped call.
func (c *Client) Connect(ctx context.Context) error {
	var resp struct {
		Address string `json:"address"`
	}
	if err := c.get(ctx, "/strato/v2.3/key", nil, &resp); err != nil {
		return fmt.Errorf("strato: fetch account address: %w", err)
	}
	if resp.Address == "" {
		return errors.New("strato: fetch account address: no address in response")
	}
	addr := common.HexToAddress(resp.Address)
	c.mu.Lock()
	c.account = addr
	c.mu.Unlock()
	c.logger.InfoContext(ctx, "connected", slog.String("account", addr.Hex()))
	return nil
}

// Account returns the address resolved by Connect.
func (c *Client) Account() common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.account
}

var errNoAccount = errors.New("strato: account not resolved, call Connect first")

func (c *Client) requireAccount() (string, error) {
	a := c.Account()
	if a == (common.Address{}) {
		return "", errNoAccount
	}
	return cirrusAddr(a), nil
}

// Search runs a Cirrus query against table and decodes the JSON rows into
// out.
func (c *Client) Search(ctx context.Context, table string, params url.Values, out any) error {
	if err := c.get(ctx, "/cirrus/search/"+table, params, out); err != nil {
		return fmt.Errorf("strato: search %s: %w", table, err)
	}
	return nil
}

// GasBalances returns the account's base-token and voucher balances.
func (c *Client) GasBalances(ctx context.Context) (*big.Int, *big.Int, error) {
	account, err := c.requireAccount()
	if err != nil {
		return nil, nil, err
	}

	var base []struct {
		Balance bigNum `json:"balance"`
	}
	err = c.Search(ctx, "BlockApps-Token-_balances", url.Values{
		"address": {"eq." + cirrusAddr(c.cfg.BaseToken)},
		"key":     {"eq." + account},
		"select":  {"balance:value::text"},
	}, &base)
	if err != nil {
		return nil, nil, err
	}

	var voucher []struct {
		Balance bigNum `json:"balance"`
	}
	err = c.Search(ctx, "BlockApps-Voucher-_balances", url.Values{
		"key":    {"eq." + account},
		"select": {"balance:value::text"},
	}, &voucher)
	if err != nil {
		return nil, nil, err
	}

	baseBal, voucherBal := new(big.Int), new(big.Int)
	if len(base) > 0 {
		baseBal = base[0].Balance.Value()
	}
	if len(voucher) > 0 {
		voucherBal = voucher[0].Balance.Value()
	}
	return baseBal, voucherBal, nil
}

// Call is a single contract function call.
type Call struct {
	ContractAddress common.Address
	Method          string
	Args            map[string]any
}

type txEnvelope struct {
	Txs []txItem `json:"txs"`
}

type txItem struct {
	Type    string    `json:"type"`
	Payload txPayload `json:"payload"`
}

type txPayload struct {
	ContractAddress string         `json:"contractAddress"`
	Method          string         `json:"method"`
	Args            map[string]any `json:"args"`
}

// SendTransaction submits call and returns its transaction hash.
func (c *Client) SendTransaction(ctx context.Context, call Call) (string, error) {
	if call.Method == "" || call.ContractAddress == (common.Address{}) {
		return "", fmt.Errorf("%w: transaction needs a contract address and method", domain.ErrSubmitFailed)
	}
	if call.Args == nil {
		call.Args = map[string]any{}
	}
	body := txEnvelope{Txs: []txItem{{
		Type: "FUNCTION",
		Payload: txPayload{
			ContractAddress: cirrusAddr(call.ContractAddress),
			Method:          call.Method,
			Args:            call.Args,
		},
	}}}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	raw, err := c.do(ctx, http.MethodPost, "/strato/v2.3/transaction/parallel", url.Values{"resolve": {"true"}}, body)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", domain.ErrSubmitFailed, call.Method, err)
	}
	hash, err := extractHash(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", domain.ErrSubmitFailed, call.Method, err)
	}
	c.logger.InfoContext(ctx, "transaction sent",
		slog.String("method", call.Method),
		slog.String("hash", hash),
	)
	return hash, nil
}

// extractHash accepts the response shapes the node is known to return: a
// list of results, a single result object, or a bare hash string.
func extractHash(raw []byte) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("no transaction data returned")
	}
	switch raw[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return "", fmt.Errorf("decode transaction result: %w", err)
		}
		if len(list) == 0 {
			return "", errors.New("no transaction data returned")
		}
		return extractHash(list[0])
	case '{':
		var obj struct {
			Hash string `json:"hash"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", fmt.Errorf("decode transaction result: %w", err)
		}
		if obj.Hash == "" {
			return "", errors.New("no transaction hash returned")
		}
		return obj.Hash, nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decode transaction result: %w", err)
		}
		if s == "" {
			return "", errors.New("no transaction hash returned")
		}
		return s, nil
	}
	return "", errors.New("no transaction hash returned")
}

type txResult struct {
	Status   string `json:"status"`
	Error    string `json:"error"`
	TxResult struct {
		Message string `json:"message"`
	} `json:"txResult"`
}

var errPending = errors.New("transaction pending")

// WaitForTransaction polls the node until hash reaches a terminal status or
// timeout elapses. Failed transactions return a Confirmation with status
// failure and a nil error; a timeout returns domain.ErrTxTimeout.
func (c *Client) WaitForTransaction(ctx context.Context, hash string, timeout time.Duration) (domain.Confirmation, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var conf domain.Confirmation
	op := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()

		raw, err := c.do(reqCtx, http.MethodPost, "/bloc/v2.2/transactions/results", nil, []string{hash})
		if err != nil {
			return err
		}
		var results []txResult
		if err := json.Unmarshal(raw, &results); err != nil {
			return fmt.Errorf("decode transaction results: %w", err)
		}
		if len(results) == 0 {
			return errors.New("no transaction data returned")
		}

		r := results[0]
		switch r.Status {
		case "Success":
			conf = domain.Confirmation{Hash: hash, Status: domain.TxStatusSuccess}
			return nil
		case "Failed", "Failure":
			detail := r.TxResult.Message
			if detail == "" {
				detail = r.Error
			}
			if detail == "" {
				detail = "Unknown error"
			}
			conf = domain.Confirmation{Hash: hash, Status: domain.TxStatusFailure, Detail: detail}
			return nil
		}
		return errPending
	}
	notify := func(err error, _ time.Duration) {
		if !errors.Is(err, errPending) {
			c.logger.WarnContext(ctx, "error checking transaction status",
				slog.String("hash", hash),
				slog.String("error", err.Error()),
			)
		}
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(c.cfg.ConfirmPoll), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if ctx.Err() != nil {
			return domain.Confirmation{}, fmt.Errorf("%w: %s after %s", domain.ErrTxTimeout, hash, timeout)
		}
		return domain.Confirmation{}, fmt.Errorf("strato: wait for %s: %w", hash, err)
	}
	if conf.Status == domain.TxStatusSuccess {
		c.logger.InfoContext(ctx, "transaction confirmed", slog.String("hash", hash))
	}
	return conf, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	raw, err := c.do(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do builds, sends and reads an authenticated request against the node.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	fullURL := c.cfg.NodeURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkStatus maps non-2xx HTTP status codes to errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}

// cirrusAddr renders an address the way Cirrus stores it: lowercase hex
// without the 0x prefix.
func cirrusAddr(a common.Address) string {
	return strings.ToLower(strings.TrimPrefix(a.Hex(), "0x"))
}

// bigNum decodes an integer amount that Cirrus may return as a JSON number,
// a numeric string, or a float-formatted string. Fractions are truncated.
type bigNum struct{ v *big.Int }

func (b *bigNum) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		b.v = new(big.Int)
		return nil
	}
	if v, ok := new(big.Int).SetString(s, 10); ok {
		b.v = v
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("strato: parse amount %q: %w", s, err)
	}
	b.v = d.BigInt()
	return nil
}

// Value returns the decoded amount, zero when absent.
func (b bigNum) Value() *big.Int {
	if b.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b.v)
}
