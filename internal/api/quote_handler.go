package api

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"swapScope/internal/api/httputil"
	"swapScope/internal/config"
	"swapScope/internal/model"
	"swapScope/internal/price"
)

const defaultSlippageBps = 50

type QuoteHandler struct {
	quoter  Quoter
	timeout time.Duration
}

func NewQuoteHandler(quoter Quoter, timeout time.Duration) *QuoteHandler {
	return &QuoteHandler{quoter: quoter, timeout: timeout}
}

func (h *QuoteHandler) SetRoutes(group *gin.RouterGroup) {
	group.GET("", h.getQuote)
}

// QuoteRequest takes either a raw amount or a decimal amountUnits.
type QuoteRequest struct {
	TokenIn     string `form:"tokenIn" binding:"required"`
	TokenOut    string `form:"tokenOut" binding:"required"`
	Amount      string `form:"amount"`
	AmountUnits string `form:"amountUnits"`
	SlippageBps *int64 `form:"slippageBps"`
}

type TokenInfo struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// RouteInfo is one allocation of the route.
type RouteInfo struct {
	Venue     string   `json:"venue"`
	Protocol  string   `json:"protocol"`
	PathID    string   `json:"pathId"`
	Path      []string `json:"path"`
	Fees      []uint32 `json:"fees"`
	Pools     []string `json:"pools,omitempty"`
	HopCount  int      `json:"hopCount"`
	Percent   string   `json:"percent"`
	AmountIn  string   `json:"amountIn"`
	AmountOut string   `json:"amountOut"`
}

type QuoteResponse struct {
	TokenIn             TokenInfo   `json:"tokenIn"`
	TokenOut            TokenInfo   `json:"tokenOut"`
	AmountIn            string      `json:"amountIn"`
	AmountOut           string      `json:"amountOut"`
	AmountInUnits       string      `json:"amountInUnits"`
	AmountOutUnits      string      `json:"amountOutUnits"`
	Rate                string      `json:"rate"`
	PriceImpactBps      *int64      `json:"priceImpactBps,omitempty"`
	PriceImpactPercent  string      `json:"priceImpactPercent,omitempty"`
	PriceImpactSeverity string      `json:"priceImpactSeverity,omitempty"`
	SlippageBps         int64       `json:"slippageBps"`
	MinAmountOut        string      `json:"minAmountOut"`
	Split               bool        `json:"split"`
	Routes              []RouteInfo `json:"routes"`
	Attempts            int         `json:"attempts"`
	Succeeded           int         `json:"succeeded"`
}

func (h *QuoteHandler) getQuote(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httputil.BadRequest(c, "invalid query parameters: "+err.Error())
		return
	}
	tokenIn, err := config.ParseTokenAddress(req.TokenIn)
	if err != nil {
		httputil.BadRequest(c, "invalid tokenIn address")
		return
	}
	tokenOut, err := config.ParseTokenAddress(req.TokenOut)
	if err != nil {
		httputil.BadRequest(c, "invalid tokenOut address")
		return
	}
	if (req.Amount == "") == (req.AmountUnits == "") {
		httputil.BadRequest(c, "exactly one of amount or amountUnits is required")
		return
	}
	slippage := int64(defaultSlippageBps)
	if req.SlippageBps != nil {
		slippage = *req.SlippageBps
	}
	if slippage < 0 || slippage >= 10000 {
		httputil.BadRequest(c, "slippageBps must be between 0 and 9999")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	var route model.Route
	if req.Amount != "" {
		amount, ok := new(big.Int).SetString(req.Amount, 10)
		if !ok || amount.Sign() <= 0 {
			httputil.BadRequest(c, "invalid amount: must be a positive integer")
			return
		}
		route, err = h.quoter.GetBestQuote(ctx, tokenIn, tokenOut, amount)
	} else {
		route, err = h.quoter.GetBestQuoteUnits(ctx, tokenIn, tokenOut, req.AmountUnits)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	httputil.Success(c, BuildQuoteResponse(route, slippage))
}

// BuildQuoteResponse renders a route for clients; slippageBps sets MinAmountOut.
func BuildQuoteResponse(route model.Route, slippageBps int64) QuoteResponse {
	minOut := new(big.Int).Mul(route.AmountOut, big.NewInt(10000-slippageBps))
	minOut.Quo(minOut, big.NewInt(10000))

	resp := QuoteResponse{
		TokenIn:        tokenInfo(route.TokenIn),
		TokenOut:       tokenInfo(route.TokenOut),
		AmountIn:       route.AmountIn.String(),
		AmountOut:      route.AmountOut.String(),
		AmountInUnits:  price.FormatAmount(route.AmountIn, route.TokenIn.Decimals),
		AmountOutUnits: price.FormatAmount(route.AmountOut, route.TokenOut.Decimals),
		Rate:           price.FormatRate(route.Rate),
		SlippageBps:    slippageBps,
		MinAmountOut:   minOut.String(),
		Split:          route.Split,
		Attempts:       route.Attempts,
		Succeeded:      route.Succeeded,
	}
	if route.PriceImpact != nil {
		bps := price.ImpactBps(route.PriceImpact)
		resp.PriceImpactBps = &bps
		resp.PriceImpactPercent = price.FormatPercent(route.PriceImpact) + "%"
		resp.PriceImpactSeverity = string(price.SeverityOf(bps))
	}

	total := decimal.NewFromBigInt(route.AmountIn, 0)
	for _, alloc := range route.Allocations {
		q := alloc.Quote
		info := RouteInfo{
			Venue:     q.Venue.Name,
			Protocol:  string(q.Venue.Protocol),
			PathID:    q.ID(),
			HopCount:  q.HopCount(),
			AmountIn:  alloc.AmountIn.String(),
			AmountOut: alloc.AmountOut.String(),
			Percent:   decimal.NewFromBigInt(alloc.AmountIn, 2).Div(total).StringFixed(2),
		}
		for i, hop := range q.Path {
			info.Path = append(info.Path, hop.Token.Hex())
			if i < len(q.Path)-1 {
				info.Fees = append(info.Fees, hop.Fee)
			}
		}
		for _, pool := range q.Pools {
			info.Pools = append(info.Pools, pool.Hex())
		}
		resp.Routes = append(resp.Routes, info)
	}
	return resp
}

func tokenInfo(tok model.Token) TokenInfo {
	return TokenInfo{Address: tok.Address.Hex(), Symbol: tok.Symbol, Decimals: tok.Decimals}
}

func writeError(c *gin.Context, err error) {
	httputil.Error(c, statusOf(err), err.Error())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrAllRoutesExhausted), errors.Is(err, model.ErrTokenNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidAmount), errors.Is(err, model.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrTokenMetadataUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
