package server

import (
	"log/slog"
	"math/big"

	"nftswap/core/events"
	"nftswap/native/exchange"
	"nftswap/observability"
)

type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	payload, ok := exchange.Unwrap(evt)
	if !ok {
		return
	}
	args := make([]any, 0, len(payload.Attributes)+1)
	args = append(args, slog.String("type", payload.Type))
	for k, v := range payload.Attributes {
		if k == "offer" || k == "sellOffer" || k == "buyOffer" {
			continue
		}
		args = append(args, slog.String(k, v))
	}
	l.logger.Info("exchange event", args...)
}

type metricsEmitter struct {
	metrics *observability.ExchangeMetrics
}

func (m metricsEmitter) Emit(evt events.Event) {
	payload, ok := exchange.Unwrap(evt)
	if !ok || payload.Type != exchange.EventTypeFeeDistributed {
		return
	}
	amount, ok := new(big.Float).SetString(payload.Attr("amount"))
	if !ok {
		return
	}
	f, _ := amount.Float64()
	m.metrics.RecordFee(payload.Attr("kind") == "partner", f)
}
