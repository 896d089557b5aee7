package main

import (
	"context"
	"log/slog"

	"nftswap/config"
	"nftswap/services/exchanged/indexer"
)

// exportActivity dumps the activity index to a parquet file without starting
// the exchange. It only needs the indexer database.
func exportActivity(ctx context.Context, cfg *config.Config, path string, filter indexer.Filter, logger *slog.Logger) error {
	db, err := indexer.Open(cfg.Indexer.Driver, cfg.IndexerDSN())
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	n, err := indexer.New(db, logger).ExportParquet(ctx, path, filter)
	if err != nil {
		return err
	}
	logger.Info("activity exported", "path", path, "rows", n)
	return nil
}
