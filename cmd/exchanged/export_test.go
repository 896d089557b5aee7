package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"nftswap/native/exchange"
	"nftswap/services/exchanged/indexer"
)

func TestExportActivityFromIndex(t *testing.T) {
	dir := t.TempDir()
	cfgPath, cfg := testConfig(t, dir)
	n := open(t, cfgPath, cfg)
	trader := common.HexToAddress("0xa1")
	idx := indexer.New(n.index, slog.Default())
	idx.Emit(exchange.WrapEvent(exchange.NewNonceIncrementedEvent(trader, 1)))
	idx.Emit(exchange.WrapEvent(exchange.NewTradingToggledEvent(false)))
	require.NoError(t, n.Close())

	out := filepath.Join(dir, "activity.parquet")
	err := exportActivity(context.Background(), cfg, out, indexer.Filter{Trader: trader.Hex()}, slog.Default())
	require.NoError(t, err)
	require.FileExists(t, out)
}
