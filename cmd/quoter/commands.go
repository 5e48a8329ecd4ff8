package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swapScope/internal/api"
	"swapScope/internal/config"
	"swapScope/internal/dex"
	"swapScope/internal/model"
	"swapScope/internal/price"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runQuote(cmd *cobra.Command, _ []string) error {
	inFlag, _ := cmd.Flags().GetString("in")
	outFlag, _ := cmd.Flags().GetString("out")
	amountFlag, _ := cmd.Flags().GetString("amount")
	unitsFlag, _ := cmd.Flags().GetString("units")
	slippage, _ := cmd.Flags().GetInt64("slippage-bps")

	tokenIn, err := config.ParseTokenAddress(inFlag)
	if err != nil {
		return fmt.Errorf("--in: %w", err)
	}
	tokenOut, err := config.ParseTokenAddress(outFlag)
	if err != nil {
		return fmt.Errorf("--out: %w", err)
	}
	if (amountFlag == "") == (unitsFlag == "") {
		return fmt.Errorf("exactly one of --amount or --units is required")
	}
	if slippage < 0 || slippage >= 10000 {
		return fmt.Errorf("--slippage-bps must be between 0 and 9999")
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var route model.Route
	if amountFlag != "" {
		amount, ok := new(big.Int).SetString(amountFlag, 10)
		if !ok {
			return fmt.Errorf("%w: %q", model.ErrInvalidAmount, amountFlag)
		}
		route, err = a.service.GetBestQuote(ctx, tokenIn, tokenOut, amount)
	} else {
		route, err = a.service.GetBestQuoteUnits(ctx, tokenIn, tokenOut, unitsFlag)
	}
	if err != nil {
		return err
	}
	return printJSON(api.BuildQuoteResponse(route, slippage))
}

type poolRow struct {
	Venue     string `json:"venue"`
	Protocol  string `json:"protocol"`
	FeeTier   uint32 `json:"feeTier"`
	Pool      string `json:"pool,omitempty"`
	Liquidity string `json:"liquidity,omitempty"`
	BalanceA  string `json:"balanceA,omitempty"`
	BalanceB  string `json:"balanceB,omitempty"`
}

func runPools(cmd *cobra.Command, _ []string) error {
	aFlag, _ := cmd.Flags().GetString("a")
	bFlag, _ := cmd.Flags().GetString("b")
	tokenA, err := config.ParseAddress(aFlag)
	if err != nil {
		return fmt.Errorf("--a: %w", err)
	}
	tokenB, err := config.ParseAddress(bFlag)
	if err != nil {
		return fmt.Errorf("--b: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	metaA, err := a.tokens.Resolve(ctx, tokenA)
	if err != nil {
		return err
	}
	metaB, err := a.tokens.Resolve(ctx, tokenB)
	if err != nil {
		return err
	}

	candidates, err := a.catalog.Candidates(ctx, tokenA, tokenB)
	if err != nil {
		return err
	}
	rows := make([]poolRow, 0, len(candidates))
	for _, c := range candidates {
		row := poolRow{Venue: c.Venue.Name, Protocol: string(c.Venue.Protocol), FeeTier: c.FeeTier}
		if c.Pool != (common.Address{}) {
			row.Pool = c.Pool.Hex()
			if liq, err := dex.PoolLiquidity(ctx, a.client, c.Venue.Protocol, c.Pool); err == nil {
				row.Liquidity = liq.String()
			} else {
				a.logger.Debug("pool liquidity failed", zap.String("pool", c.Pool.Hex()), zap.Error(err))
			}
			if bal, err := dex.BalanceOf(ctx, a.client, tokenA, c.Pool); err == nil {
				row.BalanceA = price.FormatAmount(bal, metaA.Decimals)
			}
			if bal, err := dex.BalanceOf(ctx, a.client, tokenB, c.Pool); err == nil {
				row.BalanceB = price.FormatAmount(bal, metaB.Decimals)
			}
		}
		rows = append(rows, row)
	}
	return printJSON(rows)
}

func runTokens(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	refresh, _ := cmd.Flags().GetBool("refresh")
	var tokens []model.Token
	if len(args) == 0 {
		tokens = a.tokens.Tokens()
	}
	for _, arg := range args {
		addr, err := config.ParseTokenAddress(arg)
		if err != nil {
			return err
		}
		resolve := a.tokens.Resolve
		if refresh {
			resolve = a.tokens.Refresh
		}
		tok, err := resolve(ctx, addr)
		if err != nil {
			return fmt.Errorf("%s: %w", arg, err)
		}
		tokens = append(tokens, tok)
	}

	out := make([]api.TokenInfo, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, api.TokenInfo{Address: tok.Address.Hex(), Symbol: tok.Symbol, Decimals: tok.Decimals})
	}
	return printJSON(out)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	server := api.NewServer(a.service, api.Options{
		Listen:         a.cfg.Listen,
		RateLimit:      a.cfg.APIRateLimit,
		Burst:          a.cfg.APIBurst,
		RequestTimeout: a.cfg.RequestTimeout,
		Gatherer:       a.registry,
		Logger:         a.logger,
	})
	return server.Run(ctx)
}
