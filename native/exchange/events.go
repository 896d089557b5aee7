package exchange

import (
	"encoding/json"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"nftswap/core/events"
	"nftswap/core/types"
)

const (
	EventTypeOfferListed    = "exchange.offer.listed"
	EventTypeOfferMade      = "exchange.offer.made"
	EventTypeOfferCancelled = "exchange.offer.cancelled"
	EventTypeOffersMatched  = "exchange.offers.matched"
	EventTypeNonceIncreased = "exchange.nonce.incremented"
	EventTypeTradingToggled = "exchange.trading.toggled"
	EventTypeEscrowRefunded = "exchange.escrow.refunded"
	EventTypeFeeDistributed = "exchange.fee.distributed"
)

type exchangeEvent struct {
	evt *types.Event
}

func (e exchangeEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

// Event exposes the structured payload.
func (e exchangeEvent) Event() *types.Event { return e.evt }

// WrapEvent adapts a payload to the events.Event interface.
func WrapEvent(evt *types.Event) events.Event {
	return exchangeEvent{evt: evt}
}

// Unwrap returns the structured payload of an event emitted by the engine.
func Unwrap(evt interface{ EventType() string }) (*types.Event, bool) {
	wrapper, ok := evt.(exchangeEvent)
	if !ok || wrapper.evt == nil {
		return nil, false
	}
	return wrapper.evt, true
}

// NewOfferListedEvent is emitted when a sell offer is registered.
func NewOfferListedEvent(id uint64, offer *types.Offer, hash common.Hash) *types.Event {
	return newOfferEvent(EventTypeOfferListed, id, offer, hash)
}

// NewOfferMadeEvent is emitted when a buy offer is registered against a
// listing.
func NewOfferMadeEvent(id uint64, offer *types.Offer, hash common.Hash) *types.Event {
	evt := newOfferEvent(EventTypeOfferMade, id, offer, hash)
	evt.Attributes["matchingId"] = strconv.FormatUint(offer.MatchingID, 10)
	return evt
}

// NewOfferCancelledEvent is emitted when an offer identity is voided.
func NewOfferCancelledEvent(trader common.Address, hash common.Hash) *types.Event {
	return &types.Event{
		Type: EventTypeOfferCancelled,
		Attributes: map[string]string{
			"trader": trader.Hex(),
			"hash":   hash.Hex(),
		},
	}
}

// NewOffersMatchedEvent is emitted on settlement with both legs of the trade.
func NewOffersMatchedEvent(sell *types.Offer, sellHash common.Hash, buy *types.Offer, buyHash common.Hash) *types.Event {
	return &types.Event{
		Type: EventTypeOffersMatched,
		Attributes: map[string]string{
			"makerTrader":  buy.Trader.Hex(),
			"takerTrader":  sell.Trader.Hex(),
			"sellHash":     sellHash.Hex(),
			"buyHash":      buyHash.Hex(),
			"sellOffer":    encodeOffer(sell),
			"buyOffer":     encodeOffer(buy),
			"listingId":    strconv.FormatUint(buy.MatchingID, 10),
			"price":        amountOrZero(buy.Price).String(),
			"paymentToken": buy.PaymentToken.Hex(),
		},
	}
}

// NewNonceIncrementedEvent is emitted when a trader invalidates their open
// offers.
func NewNonceIncrementedEvent(trader common.Address, nonce uint64) *types.Event {
	return &types.Event{
		Type: EventTypeNonceIncreased,
		Attributes: map[string]string{
			"trader": trader.Hex(),
			"nonce":  strconv.FormatUint(nonce, 10),
		},
	}
}

// NewTradingToggledEvent is emitted when the trading gate changes.
func NewTradingToggledEvent(open bool) *types.Event {
	return &types.Event{
		Type:       EventTypeTradingToggled,
		Attributes: map[string]string{"open": strconv.FormatBool(open)},
	}
}

// NewEscrowRefundedEvent is emitted when a native price escrow returns to the
// maker.
func NewEscrowRefundedEvent(trader common.Address, hash common.Hash, amount string) *types.Event {
	return &types.Event{
		Type: EventTypeEscrowRefunded,
		Attributes: map[string]string{
			"trader": trader.Hex(),
			"hash":   hash.Hex(),
			"amount": amount,
		},
	}
}

// NewFeeDistributedEvent is emitted for every fee payout.
func NewFeeDistributedEvent(p Payout, source string) *types.Event {
	kind := "protocol"
	if p.Partner {
		kind = "partner"
	}
	attrs := map[string]string{
		"recipient": p.Recipient.Hex(),
		"amount":    p.Amount.String(),
		"kind":      kind,
		"source":    source,
	}
	if p.Partner {
		attrs["collection"] = p.Collection.Hex()
	}
	return &types.Event{Type: EventTypeFeeDistributed, Attributes: attrs}
}

func newOfferEvent(kind string, id uint64, offer *types.Offer, hash common.Hash) *types.Event {
	return &types.Event{
		Type: kind,
		Attributes: map[string]string{
			"id":     strconv.FormatUint(id, 10),
			"trader": offer.Trader.Hex(),
			"hash":   hash.Hex(),
			"side":   offer.Side.String(),
			"offer":  encodeOffer(offer),
		},
	}
}

func encodeOffer(offer *types.Offer) string {
	raw, err := json.Marshal(offer)
	if err != nil {
		return ""
	}
	return string(raw)
}
