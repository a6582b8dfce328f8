package strato

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/oauth2"

	"github.com/alanyoungcy/stratoarb/internal/domain"
)

const (
	accountHex = "1b7dc206ef2fe3aab27404b88c36470ccf16c0ce"
	usdstHex   = "937efa7e3a77e20bbdbd7c0d32b6514f368c1010"
	ethstHex   = "93fb7295859b2d70199e0a4883b7c320cf874e6c"
	poolHex    = "0a3b4c5d6e7f8091a2b3c4d5e6f708192a3b4c5d"
)

type submitted struct {
	ContractAddress string
	Method          string
	Args            map[string]json.Number
	RawArgs         map[string]any
}

// fakeNode serves the subset of the STRATO API the client uses.
type fakeNode struct {
	t *testing.T

	mu        sync.Mutex
	queries   map[string]url.Values
	txs       []submitted
	statuses  []string
	failMsg   string
	poolJSON  string
	swapJSON  string
	submitRaw string
	authFail  bool
}

func newFakeNode(t *testing.T) (*fakeNode, *httptest.Server) {
	n := &fakeNode{
		t:         t,
		queries:   map[string]url.Values{},
		statuses:  []string{"Success"},
		submitRaw: `[{"hash":"0xfeed","status":"Pending"}]`,
		swapJSON:  `[{"spent":"2000000000000000000000","bought":"1000000000000000000000"}]`,
		poolJSON: fmt.Sprintf(`[{
			"address": %q,
			"tokenABalance": 1000000000000000000000,
			"tokenBBalance": "2000000000000000000000.0",
			"tokenA": {"address": %q, "_symbol": "ETHST", "_name": "ETHST",
				"balances": [{"key": %q, "value": "5000000000000000000"}],
				"allowances": []},
			"tokenB": {"address": %q, "_symbol": "USDST", "_name": "USDST",
				"balances": [{"key": %q, "value": "7000000000000000000"}],
				"allowances": [{"key": %q, "key2": %q, "value": "0"}]}
		}]`, poolHex, ethstHex, accountHex, usdstHex, accountHex, accountHex, poolHex),
	}
	srv := httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(srv.Close)
	return n, srv
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.authFail || r.Header.Get("Authorization") != "Bearer test-token" {
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/strato/v2.3/key":
		fmt.Fprintf(w, `{"address":%q}`, accountHex)

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/cirrus/search/"):
		table := strings.TrimPrefix(r.URL.Path, "/cirrus/search/")
		n.queries[table] = r.URL.Query()
		switch table {
		case "BlockApps-Pool":
			io.WriteString(w, n.poolJSON)
		case "BlockApps-Token-_balances":
			io.WriteString(w, `[{"balance":"5000000000000000000"}]`)
		case "BlockApps-Voucher-_balances":
			io.WriteString(w, `[]`)
		case "BlockApps-Pool-Swap":
			io.WriteString(w, n.swapJSON)
		default:
			http.NotFound(w, r)
		}

	case r.Method == http.MethodPost && r.URL.Path == "/strato/v2.3/transaction/parallel":
		if r.URL.Query().Get("resolve") != "true" {
			n.t.Errorf("submit without resolve=true")
		}
		var env struct {
			Txs []struct {
				Type    string `json:"type"`
				Payload struct {
					ContractAddress string         `json:"contractAddress"`
					Method          string         `json:"method"`
					Args            map[string]any `json:"args"`
				} `json:"payload"`
			} `json:"txs"`
		}
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&env); err != nil || len(env.Txs) != 1 || env.Txs[0].Type != "FUNCTION" {
			n.t.Errorf("bad submit body: %v %+v", err, env)
		}
		p := env.Txs[0].Payload
		nums := map[string]json.Number{}
		for k, v := range p.Args {
			if num, ok := v.(json.Number); ok {
				nums[k] = num
			}
		}
		n.txs = append(n.txs, submitted{p.ContractAddress, p.Method, nums, p.Args})
		io.WriteString(w, n.submitRaw)

	case r.Method == http.MethodPost && r.URL.Path == "/bloc/v2.2/transactions/results":
		var hashes []string
		_ = json.NewDecoder(r.Body).Decode(&hashes)
		status := n.statuses[0]
		if len(n.statuses) > 1 {
			n.statuses = n.statuses[1:]
		}
		body := map[string]any{"hash": hashes[0], "status": status}
		if status == "Failure" {
			body["txResult"] = map[string]string{"message": n.failMsg}
		}
		json.NewEncoder(w).Encode([]any{body})

	default:
		http.NotFound(w, r)
	}
}

func (n *fakeNode) set(f func(*fakeNode)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	f(n)
}

func (n *fakeNode) query(table string) url.Values {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.queries[table]
}

func (n *fakeNode) lastTx() submitted {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.txs[len(n.txs)-1]
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c := NewClientWithTokenSource(Config{
		NodeURL:     srv.URL + "/",
		ConfirmPoll: time.Millisecond,
		BaseToken:   common.HexToAddress(usdstHex),
	}, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c
}

func TestConnectResolvesAccount(t *testing.T) {
	_, srv := newFakeNode(t)
	c := newTestClient(t, srv)
	if c.Account() != common.HexToAddress(accountHex) {
		t.Fatalf("account = %s", c.Account().Hex())
	}
}

func TestAccountScopedCallsRequireConnect(t *testing.T) {
	_, srv := newFakeNode(t)
	c := NewClientWithTokenSource(Config{NodeURL: srv.URL},
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, _, err := c.GasBalances(context.Background()); !errors.Is(err, errNoAccount) {
		t.Fatalf("GasBalances before Connect = %v", err)
	}
}

func TestUnauthorizedIsMapped(t *testing.T) {
	n, srv := newFakeNode(t)
	c := newTestClient(t, srv)
	n.set(func(n *fakeNode) { n.authFail = true })
	if _, _, err := c.GasBalances(context.Background()); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestGasBalances(t *testing.T) {
	n, srv := newFakeNode(t)
	c := newTestClient(t, srv)

	base, voucher, err := c.GasBalances(context.Background())
	if err != nil {
		t.Fatalf("GasBalances: %v", err)
	}
	if base.String() != "5000000000000000000" || voucher.Sign() != 0 {
		t.Fatalf("base=%s voucher=%s", base, voucher)
	}
	q := n.query("BlockApps-Token-_balances")
	if q.Get("address") != "eq."+usdstHex || q.Get("key") != "eq."+accountHex {
		t.Fatalf("balance query = %v", q)
	}
}

func TestSendTransactionHashShapes(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{`[{"hash":"0xaa"}]`, "0xaa", true},
		{`{"hash":"0xbb","status":"Pending"}`, "0xbb", true},
		{`"0xcc"`, "0xcc", true},
		{`["0xdd"]`, "0xdd", true},
		{`[]`, "", false},
		{`{}`, "", false},
		{`null`, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := extractHash([]byte(tc.raw))
			if tc.ok && (err != nil || got != tc.want) {
				t.Fatalf("extractHash = %q, %v; want %q", got, err, tc.want)
			}
			if !tc.ok && err == nil {
				t.Fatalf("extractHash = %q, want error", got)
			}
		})
	}
}

func TestSendTransactionFailureIsSubmitFailed(t *testing.T) {
	n, srv := newFakeNode(t)
	c := newTestClient(t, srv)
	n.set(func(n *fakeNode) { n.submitRaw = `[]` })

	_, err := c.SendTransaction(context.Background(), Call{
		ContractAddress: common.HexToAddress(poolHex),
		Method:          "swap",
	})
	if !errors.Is(err, domain.ErrSubmitFailed) {
		t.Fatalf("err = %v, want ErrSubmitFailed", err)
	}
}

func TestWaitForTransaction(t *testing.T) {
	t.Run("pending then success", func(t *testing.T) {
		n, srv := newFakeNode(t)
		c := newTestClient(t, srv)
		n.set(func(n *fakeNode) { n.statuses = []string{"Pending", "Pending", "Success"} })

		conf, err := c.WaitForTransaction(context.Background(), "0xfeed", time.Second)
		if err != nil || conf.Status != domain.TxStatusSuccess || conf.Hash != "0xfeed" {
			t.Fatalf("conf=%+v err=%v", conf, err)
		}
	})

	t.Run("failure carries message", func(t *testing.T) {
		n, srv := newFakeNode(t)
		c := newTestClient(t, srv)
		n.set(func(n *fakeNode) {
			n.statuses = []string{"Failure"}
			n.failMsg = "SLIPPAGE"
		})

		conf, err := c.WaitForTransaction(context.Background(), "0xfeed", time.Second)
		if err != nil {
			t.Fatalf("err = %v", err)
		}
		if conf.Status != domain.TxStatusFailure || conf.Detail != "SLIPPAGE" {
			t.Fatalf("conf = %+v", conf)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		n, srv := newFakeNode(t)
		c := newTestClient(t, srv)
		n.set(func(n *fakeNode) { n.statuses = []string{"Pending"} })

		_, err := c.WaitForTransaction(context.Background(), "0xfeed", 30*time.Millisecond)
		if !errors.Is(err, domain.ErrTxTimeout) {
			t.Fatalf("err = %v, want ErrTxTimeout", err)
		}
	})
}

func TestBigNumDecoding(t *testing.T) {
	cases := map[string]string{
		`123`:                        "123",
		`"456"`:                      "456",
		`"2000000000000000000000.0"`: "2000000000000000000000",
		`"1.5e+21"`:                  "1500000000000000000000",
		`null`:                       "0",
		`""`:                         "0",
	}
	for in, want := range cases {
		var b bigNum
		if err := json.Unmarshal([]byte(in), &b); err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if got := b.Value().String(); got != want {
			t.Errorf("%s decoded to %s, want %s", in, got, want)
		}
	}
	var b bigNum
	if err := json.Unmarshal([]byte(`"abc"`), &b); err == nil {
		t.Fatal("expected error for non-numeric amount")
	}
}

func bigString(s string) *big.Int {
	v, _ := new(big.Int).SetString(s, 10)
	return v
}
