package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapScope/internal/model"
)

var (
	weth = common.HexToAddress("0x00000000000000000000000000000000000000E1")
	usdc = common.HexToAddress("0x00000000000000000000000000000000000000C6")
)

type stubQuoter struct {
	route    model.Route
	err      error
	lastAmt  *big.Int
	lastUnit string
}

func (s *stubQuoter) GetBestQuote(_ context.Context, _, _ common.Address, amountIn *big.Int) (model.Route, error) {
	s.lastAmt = amountIn
	return s.route, s.err
}

func (s *stubQuoter) GetBestQuoteUnits(_ context.Context, _, _ common.Address, units string) (model.Route, error) {
	s.lastUnit = units
	return s.route, s.err
}

func sampleRoute() model.Route {
	venue := model.Venue{Name: "v3", Protocol: model.ProtocolConcentratedLiquidity}
	q := model.QuoteResult{
		Venue:     venue,
		Path:      []model.Hop{{Token: weth, Fee: 500}, {Token: usdc}},
		Pools:     []common.Address{common.HexToAddress("0x00000000000000000000000000000000000000AA")},
		AmountIn:  big.NewInt(1e18),
		AmountOut: big.NewInt(2_000_000_000),
		Status:    model.QuoteOK,
	}
	return model.Route{
		TokenIn:     model.Token{Address: weth, Decimals: 18, Symbol: "WETH"},
		TokenOut:    model.Token{Address: usdc, Decimals: 6, Symbol: "USDC"},
		AmountIn:    big.NewInt(1e18),
		AmountOut:   big.NewInt(2_000_000_000),
		Allocations: []model.Allocation{{Quote: q, AmountIn: big.NewInt(1e18), AmountOut: big.NewInt(2_000_000_000)}},
		Rate:        big.NewRat(2000, 1),
		PriceImpact: big.NewRat(25, 10000),
		Attempts:    4,
		Succeeded:   2,
	}
}

type envelope struct {
	Success bool          `json:"success"`
	Data    QuoteResponse `json:"data"`
	Error   string        `json:"error"`
}

func serve(t *testing.T, q Quoter, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewHandler(q, Options{Gatherer: prometheus.NewRegistry()})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body envelope
	if rec.Header().Get("Content-Type") != "" && rec.Body.Len() > 0 && target != "/metrics" {
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
	}
	return rec, body
}

func quoteURL(query string) string {
	return fmt.Sprintf("/v1/quote?tokenIn=%s&tokenOut=%s&%s", weth.Hex(), usdc.Hex(), query)
}

func TestQuoteSuccess(t *testing.T) {
	q := &stubQuoter{route: sampleRoute()}
	rec, body := serve(t, q, quoteURL("amount=1000000000000000000&slippageBps=100"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, body.Success)
	assert.Equal(t, "1000000000000000000", q.lastAmt.String())
	assert.Equal(t, "2000000000", body.Data.AmountOut)
	assert.Equal(t, "2000", body.Data.AmountOutUnits)
	assert.Equal(t, "1", body.Data.AmountInUnits)
	assert.Equal(t, "2000", body.Data.Rate)
	assert.Equal(t, "1980000000", body.Data.MinAmountOut)
	require.NotNil(t, body.Data.PriceImpactBps)
	assert.Equal(t, int64(25), *body.Data.PriceImpactBps)
	assert.Equal(t, "0.2500%", body.Data.PriceImpactPercent)
	assert.Equal(t, "none", body.Data.PriceImpactSeverity)
	require.Len(t, body.Data.Routes, 1)
	assert.Equal(t, "100.00", body.Data.Routes[0].Percent)
	assert.Equal(t, []uint32{500}, body.Data.Routes[0].Fees)
	assert.Equal(t, 1, body.Data.Routes[0].HopCount)
}

func TestQuoteUnits(t *testing.T) {
	q := &stubQuoter{route: sampleRoute()}
	rec, _ := serve(t, q, quoteURL("amountUnits=1.5"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1.5", q.lastUnit)
	assert.Nil(t, q.lastAmt)
}

func TestQuoteBadRequests(t *testing.T) {
	q := &stubQuoter{route: sampleRoute()}
	cases := []string{
		"/v1/quote?tokenIn=0x1234&tokenOut=" + usdc.Hex() + "&amount=1",
		quoteURL(""),
		quoteURL("amount=1&amountUnits=1"),
		quoteURL("amount=-5"),
		quoteURL("amount=abc"),
		quoteURL("amount=1&slippageBps=10000"),
		"/v1/quote?tokenOut=" + usdc.Hex() + "&amount=1",
	}
	for _, target := range cases {
		rec, body := serve(t, q, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.False(t, body.Success, target)
	}
}

func TestQuoteErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: none", model.ErrAllRoutesExhausted), http.StatusNotFound},
		{fmt.Errorf("%w: 0xdead", model.ErrTokenNotFound), http.StatusNotFound},
		{model.ErrTokenMetadataUnavailable, http.StatusUnprocessableEntity},
		{model.ErrInvalidAmount, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec, body := serve(t, &stubQuoter{err: tc.err}, quoteURL("amount=1"))
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		assert.False(t, body.Success)
		assert.Equal(t, tc.err.Error(), body.Error)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	rec, _ := serve(t, &stubQuoter{}, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec, _ = serve(t, &stubQuoter{}, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(&stubQuoter{}, Options{RateLimit: 0.001, Burst: 1})
	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/health", nil))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
