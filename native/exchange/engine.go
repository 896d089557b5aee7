package exchange

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"nftswap/core/events"
	"nftswap/core/state"
	"nftswap/core/types"
	nativecommon "nftswap/native/common"
)

const moduleName = nativecommon.ModuleExchange

// Engine lists, matches, settles and cancels offers. Every mutating
// operation runs inside a state snapshot: on failure the state, the executor
// (when it implements Reverter) and the pending events are all rolled back.
//
// Engine is not safe for concurrent use; the host serialises operations.
type Engine struct {
	state    engineState
	policy   PolicyGate
	executor AssetExecutor
	params   Params
	emitter  events.Emitter
	nowFn    func() int64
	pauses   nativecommon.PauseView
}

// Settlement summarises a successful AcceptOffer.
type Settlement struct {
	SellHash common.Hash
	BuyHash  common.Hash
	Payouts  []Payout
}

// NewEngine constructs an engine with the supplied fee schedule.
func NewEngine(params Params) *Engine {
	return &Engine{
		params:  params,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPolicy configures the policy gate.
func (e *Engine) SetPolicy(policy PolicyGate) { e.policy = policy }

// SetExecutor configures the asset executor.
func (e *Engine) SetExecutor(executor AssetExecutor) { e.executor = executor }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Params returns the fee schedule in use.
func (e *Engine) Params() Params { return e.params }

func (e *Engine) nowUnix() uint64 {
	now := time.Now().Unix()
	if e.nowFn != nil {
		now = e.nowFn()
	}
	if now < 0 {
		return 0
	}
	return uint64(now)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.executor == nil {
		return errNilExecutor
	}
	if e.policy == nil {
		return errNilPolicy
	}
	return nil
}

func (e *Engine) requireOpen() error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return fmt.Errorf("%w: %w", ErrNotOpen, err)
	}
	open, err := e.state.TradingOpen()
	if err != nil {
		return err
	}
	if !open {
		return ErrNotOpen
	}
	return nil
}

// atomic runs fn against a snapshot of the state and the executor. Events
// queued by fn are released only when fn succeeds. A panic in fn rolls back
// like an error before it propagates.
func (e *Engine) atomic(fn func(buf *events.Buffer) error) (err error) {
	snap := e.state.Snapshot()
	reverter, journaled := e.executor.(Reverter)
	var execSnap int
	if journaled {
		execSnap = reverter.Snapshot()
	}
	buf := new(events.Buffer)
	rollback := func() {
		if journaled {
			reverter.RevertToSnapshot(execSnap)
		}
		e.state.RevertToSnapshot(snap)
		buf.Discard()
	}
	defer func() {
		if r := recover(); r != nil {
			rollback()
			panic(r)
		}
	}()
	if err = fn(buf); err != nil {
		rollback()
		return err
	}
	buf.Flush(e.emitter)
	return nil
}

func emit(buf *events.Buffer, evt *types.Event) {
	buf.Emit(WrapEvent(evt))
}

// identity hashes the offer at its trader's current nonce. A price or token
// id that cannot be encoded is reported as invalid parameters of role.
func (e *Engine) identity(offer *types.Offer, role types.Role) (common.Hash, error) {
	if reason := wordsOutOfRange(offer); reason != "" {
		return common.Hash{}, invalidParams(role, reason)
	}
	nonce, err := e.state.OfferNonce(offer.Trader)
	if err != nil {
		return common.Hash{}, err
	}
	return IdentityHash(offer, nonce)
}

// sideRole is the role an offer plays given its side.
func sideRole(offer *types.Offer) types.Role {
	if offer.Side == types.SideBuy {
		return types.RoleMatching
	}
	return types.RoleListing
}

// validate maps a pipeline failure to an error tagged with the role.
func (e *Engine) validate(offer *types.Offer, hash common.Hash, role types.Role) error {
	reason, err := e.checkParameters(offer, hash, role)
	if err != nil {
		return err
	}
	if reason != "" {
		return invalidParams(role, reason)
	}
	return nil
}

// match resolves the listing targeted by maker and compares its identity
// with taker's. An unknown target never matches.
func (e *Engine) match(maker, taker *types.Offer) (*state.OfferRecord, bool, error) {
	record, ok, err := e.state.OfferGet(maker.MatchingID)
	if err != nil || !ok {
		return nil, false, err
	}
	target, err := e.identity(record.Offer, types.RoleListing)
	if err != nil {
		return nil, false, err
	}
	supplied, err := e.identity(taker, types.RoleListing)
	if err != nil {
		return nil, false, err
	}
	return record, target == supplied, nil
}

// Matches reports whether maker targets the registered listing equal to
// taker.
func (e *Engine) Matches(maker, taker *types.Offer) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	if maker == nil || taker == nil {
		return false, nil
	}
	if wordsOutOfRange(maker) != "" || wordsOutOfRange(taker) != "" {
		return false, nil
	}
	_, ok, err := e.match(maker, taker)
	return ok, err
}

// collect pulls the attached value into the vault and refunds whatever
// exceeds required.
func (e *Engine) collect(call Call, required *big.Int) error {
	value := call.value()
	if value.Sign() > 0 {
		if err := e.executor.ReceiveNative(call.Caller, value); err != nil {
			return transferFailed("receive attached value", err)
		}
	}
	surplus := new(big.Int).Sub(value, required)
	if surplus.Sign() > 0 {
		if err := e.executor.TransferNative(call.Caller, surplus); err != nil {
			return transferFailed("refund surplus", err)
		}
	}
	return nil
}

// ListOffer registers a sell offer and returns its sequential id and identity
// hash. The attached value must cover the listing fee, which the vault holds
// until the listing is filled.
func (e *Engine) ListOffer(call Call, offer *types.Offer) (uint64, common.Hash, error) {
	if err := e.ready(); err != nil {
		return 0, common.Hash{}, err
	}
	if err := e.requireOpen(); err != nil {
		return 0, common.Hash{}, err
	}
	if offer == nil {
		return 0, common.Hash{}, invalidParams(types.RoleListing, "offer missing")
	}
	if offer.Side != types.SideSell {
		return 0, common.Hash{}, ErrWrongSide
	}
	if offer.PriceOrZero().Sign() != 0 {
		return 0, common.Hash{}, invalidParams(types.RoleListing, "sell offer must not carry a price")
	}
	if call.Caller != offer.Trader {
		return 0, common.Hash{}, ErrWrongCaller
	}
	fee := amountOrZero(e.params.ListingFee)
	if call.value().Cmp(fee) < 0 {
		return 0, common.Hash{}, ErrNotEnoughFunds
	}
	hash, err := e.identity(offer, types.RoleListing)
	if err != nil {
		return 0, common.Hash{}, err
	}
	if err := e.validate(offer, hash, types.RoleListing); err != nil {
		return 0, common.Hash{}, err
	}

	var id uint64
	err = e.atomic(func(buf *events.Buffer) error {
		if err := e.collect(call, fee); err != nil {
			return err
		}
		var err error
		if id, err = e.state.OfferAppend(offer, hash); err != nil {
			return err
		}
		if err := e.state.SetListingFeeHeld(hash, fee); err != nil {
			return err
		}
		emit(buf, NewOfferListedEvent(id, offer, hash))
		return nil
	})
	if err != nil {
		return 0, common.Hash{}, err
	}
	return id, hash, nil
}

// MakeOffer registers a buy offer against the listing taker. The attached
// value must cover the buying fee and, for a native-priced offer, the price,
// which stays escrowed in the vault until the offer is filled or cancelled.
func (e *Engine) MakeOffer(call Call, maker, taker *types.Offer) (uint64, common.Hash, error) {
	if err := e.ready(); err != nil {
		return 0, common.Hash{}, err
	}
	if err := e.requireOpen(); err != nil {
		return 0, common.Hash{}, err
	}
	if maker == nil {
		return 0, common.Hash{}, invalidParams(types.RoleMatching, "offer missing")
	}
	if taker == nil {
		return 0, common.Hash{}, invalidParams(types.RoleListing, "offer missing")
	}
	if maker.Side != types.SideBuy {
		return 0, common.Hash{}, ErrWrongSide
	}
	if maker.Trader == taker.Trader {
		return 0, common.Hash{}, ErrSelfTradeRejected
	}
	if call.Caller != maker.Trader {
		return 0, common.Hash{}, ErrWrongCaller
	}
	fee := amountOrZero(e.params.BuyingFee)
	escrow := big.NewInt(0)
	if maker.PaysNative() && maker.PriceOrZero().Sign() > 0 {
		escrow = new(big.Int).Set(maker.Price)
	}
	required := new(big.Int).Add(fee, escrow)
	if call.value().Cmp(required) < 0 {
		return 0, common.Hash{}, ErrNotEnoughFunds
	}

	record, ok, err := e.match(maker, taker)
	if err != nil {
		return 0, common.Hash{}, err
	}
	if !ok {
		return 0, common.Hash{}, ErrOffersDoNotMatch
	}
	makerHash, err := e.identity(maker, types.RoleMatching)
	if err != nil {
		return 0, common.Hash{}, err
	}
	if err := e.validate(maker, makerHash, types.RoleMatching); err != nil {
		return 0, common.Hash{}, err
	}
	takerHash, err := e.identity(taker, types.RoleListing)
	if err != nil {
		return 0, common.Hash{}, err
	}
	if err := e.validate(taker, takerHash, types.RoleListing); err != nil {
		return 0, common.Hash{}, err
	}
	if record.Hash != takerHash {
		return 0, common.Hash{}, invalidParams(types.RoleListing, "listing superseded by nonce change")
	}

	var id uint64
	err = e.atomic(func(buf *events.Buffer) error {
		if err := e.collect(call, required); err != nil {
			return err
		}
		if fee.Sign() > 0 {
			if err := e.executor.TransferNative(e.params.FeeSink, fee); err != nil {
				return transferFailed("forward buying fee", err)
			}
			emit(buf, NewFeeDistributedEvent(Payout{Recipient: e.params.FeeSink, Amount: new(big.Int).Set(fee)}, "buying"))
		}
		if escrow.Sign() > 0 {
			held, err := e.state.NativeEscrow(makerHash)
			if err != nil {
				return err
			}
			if err := e.state.SetNativeEscrow(makerHash, new(big.Int).Add(held, escrow)); err != nil {
				return err
			}
		}
		var err error
		if id, err = e.state.OfferAppend(maker, makerHash); err != nil {
			return err
		}
		emit(buf, NewOfferMadeEvent(id, maker, makerHash))
		return nil
	})
	if err != nil {
		return 0, common.Hash{}, err
	}
	return id, makerHash, nil
}

// AcceptOffer settles the buy offer maker against the caller's listing taker.
// Both identities are marked filled, the listing fee is split, the price and
// both bundles change hands. Any failure leaves no trace.
func (e *Engine) AcceptOffer(call Call, maker, taker *types.Offer) (*Settlement, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.params.RequireOpenForAccept {
		if err := e.requireOpen(); err != nil {
			return nil, err
		}
	}
	if maker == nil {
		return nil, invalidParams(types.RoleMatching, "offer missing")
	}
	if taker == nil {
		return nil, invalidParams(types.RoleListing, "offer missing")
	}
	if call.Caller != taker.Trader {
		return nil, ErrWrongCaller
	}
	if maker.Side != types.SideBuy || taker.Side != types.SideSell {
		return nil, ErrWrongSide
	}
	if maker.Trader == taker.Trader {
		return nil, ErrSelfTradeRejected
	}

	record, ok, err := e.match(maker, taker)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOffersDoNotMatch
	}
	makerHash, err := e.identity(maker, types.RoleMatching)
	if err != nil {
		return nil, err
	}
	if err := e.validate(maker, makerHash, types.RoleMatching); err != nil {
		return nil, err
	}
	takerHash, err := e.identity(taker, types.RoleListing)
	if err != nil {
		return nil, err
	}
	if err := e.validate(taker, takerHash, types.RoleListing); err != nil {
		return nil, err
	}
	if record.Hash != takerHash {
		return nil, invalidParams(types.RoleListing, "listing superseded by nonce change")
	}
	if _, registered, err := e.state.OfferIDByHash(makerHash); err != nil {
		return nil, err
	} else if !registered {
		return nil, invalidParams(types.RoleMatching, "offer not registered at current nonce")
	}

	settlement := &Settlement{SellHash: takerHash, BuyHash: makerHash}
	err = e.atomic(func(buf *events.Buffer) error {
		if err := e.state.SetOfferSettled(makerHash); err != nil {
			return err
		}
		if err := e.state.SetOfferSettled(takerHash); err != nil {
			return err
		}

		pool, err := e.listingFeePool(takerHash)
		if err != nil {
			return err
		}
		splitter := FeeSplitter{Policy: e.policy, Share: e.params.PartnerShare, Sink: e.params.FeeSink}
		payouts, err := splitter.Split(taker.Collections, pool)
		if err != nil {
			return err
		}
		for _, p := range payouts {
			if err := e.executor.TransferNative(p.Recipient, p.Amount); err != nil {
				return transferFailed("pay listing fee to "+p.Recipient.Hex(), err)
			}
			emit(buf, NewFeeDistributedEvent(p, "listing"))
		}
		settlement.Payouts = payouts

		if err := e.settlePrice(maker, makerHash, taker.Trader); err != nil {
			return err
		}
		if err := e.moveBundle(taker, taker.Trader, maker.Trader); err != nil {
			return err
		}
		if err := e.moveBundle(maker, maker.Trader, taker.Trader); err != nil {
			return err
		}
		emit(buf, NewOffersMatchedEvent(taker, takerHash, maker, makerHash))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settlement, nil
}

// listingFeePool releases the fee the vault collected for the listing.
// Listings without a recorded fee fall back to the configured one.
func (e *Engine) listingFeePool(listingHash common.Hash) (*big.Int, error) {
	held, ok, err := e.state.ListingFeeHeld(listingHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		held = amountOrZero(e.params.ListingFee)
	}
	if err := e.state.SetListingFeeHeld(listingHash, nil); err != nil {
		return nil, err
	}
	return held, nil
}

func (e *Engine) settlePrice(maker *types.Offer, makerHash common.Hash, seller common.Address) error {
	price := maker.PriceOrZero()
	if price.Sign() == 0 {
		return nil
	}
	if !maker.PaysNative() {
		if err := e.executor.TransferCurrencyUnits(maker.PaymentToken, maker.Trader, seller, price); err != nil {
			return transferFailed("pay price in "+maker.PaymentToken.Hex(), err)
		}
		return nil
	}
	held, err := e.state.NativeEscrow(makerHash)
	if err != nil {
		return err
	}
	if held.Cmp(price) < 0 {
		return fmt.Errorf("%w: escrow %s below price %s", ErrNotEnoughFunds, held, price)
	}
	if err := e.state.SetNativeEscrow(makerHash, nil); err != nil {
		return err
	}
	if err := e.executor.TransferNative(seller, price); err != nil {
		return transferFailed("pay native price", err)
	}
	if rest := new(big.Int).Sub(held, price); rest.Sign() > 0 {
		if err := e.executor.TransferNative(maker.Trader, rest); err != nil {
			return transferFailed("refund escrow remainder", err)
		}
	}
	return nil
}

func (e *Engine) moveBundle(offer *types.Offer, from, to common.Address) error {
	for i, collection := range offer.Collections {
		id := offer.TokenIDs[i]
		var err error
		switch offer.AssetTypes[i] {
		case types.AssetERC721:
			err = e.executor.TransferSingleUnitAsset(collection, from, to, id)
		case types.AssetERC1155:
			err = e.executor.TransferFungibleUnits(collection, from, to, id, big.NewInt(1))
		default:
			err = fmt.Errorf("unsupported asset type %s", offer.AssetTypes[i])
		}
		if err != nil {
			return transferFailed(fmt.Sprintf("%s %s #%s", offer.AssetTypes[i], collection.Hex(), id), err)
		}
	}
	return nil
}

// CancelOffer voids the offer's current identity. A native escrow held for
// that identity is refunded to the trader.
func (e *Engine) CancelOffer(call Call, offer *types.Offer) (common.Hash, error) {
	if err := e.ready(); err != nil {
		return common.Hash{}, err
	}
	var hash common.Hash
	err := e.atomic(func(buf *events.Buffer) error {
		var err error
		hash, err = e.cancel(call, offer, buf)
		return err
	})
	return hash, err
}

// CancelOffers cancels every offer in order. Either all are cancelled or none
// is.
func (e *Engine) CancelOffers(call Call, offers []*types.Offer) ([]common.Hash, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	hashes := make([]common.Hash, 0, len(offers))
	err := e.atomic(func(buf *events.Buffer) error {
		for i, offer := range offers {
			hash, err := e.cancel(call, offer, buf)
			if err != nil {
				return fmt.Errorf("offer %d: %w", i, err)
			}
			hashes = append(hashes, hash)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hashes, nil
}

func (e *Engine) cancel(call Call, offer *types.Offer, buf *events.Buffer) (common.Hash, error) {
	if offer == nil {
		return common.Hash{}, invalidParams(types.RoleListing, "offer missing")
	}
	if call.Caller != offer.Trader {
		return common.Hash{}, ErrWrongCaller
	}
	hash, err := e.identity(offer, sideRole(offer))
	if err != nil {
		return common.Hash{}, err
	}
	if err := e.void(offer.Trader, hash, buf); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// void marks hash settled and refunds any escrow recorded under it.
func (e *Engine) void(trader common.Address, hash common.Hash, buf *events.Buffer) error {
	settled, err := e.state.OfferSettled(hash)
	if err != nil {
		return err
	}
	if settled {
		return ErrAlreadyCancelledOrFilled
	}
	if err := e.state.SetOfferSettled(hash); err != nil {
		return err
	}
	held, err := e.state.NativeEscrow(hash)
	if err != nil {
		return err
	}
	if held.Sign() > 0 {
		if err := e.state.SetNativeEscrow(hash, nil); err != nil {
			return err
		}
		if err := e.executor.TransferNative(trader, held); err != nil {
			return transferFailed("refund escrow", err)
		}
		emit(buf, NewEscrowRefundedEvent(trader, hash, held.String()))
	}
	emit(buf, NewOfferCancelledEvent(trader, hash))
	return nil
}

// IncrementNonce bumps the caller's offer nonce, which changes the identity of
// every offer they hold. Registered offers created before the bump can no
// longer be matched or accepted.
func (e *Engine) IncrementNonce(call Call) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	var next uint64
	err := e.atomic(func(buf *events.Buffer) error {
		current, err := e.state.OfferNonce(call.Caller)
		if err != nil {
			return err
		}
		next = current + 1
		if err := e.state.SetOfferNonce(call.Caller, next); err != nil {
			return err
		}
		emit(buf, NewNonceIncrementedEvent(call.Caller, next))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// ReclaimEscrow voids a registered offer by id using the identity it was
// registered with, refunding its native escrow. It is how makers recover
// escrow after a nonce bump made the offer unreachable by CancelOffer.
func (e *Engine) ReclaimEscrow(call Call, id uint64) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	record, ok, err := e.state.OfferGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOfferNotFound
	}
	if call.Caller != record.Offer.Trader {
		return nil, ErrWrongCaller
	}
	held, err := e.state.NativeEscrow(record.Hash)
	if err != nil {
		return nil, err
	}
	err = e.atomic(func(buf *events.Buffer) error {
		return e.void(record.Offer.Trader, record.Hash, buf)
	})
	if err != nil {
		return nil, err
	}
	return held, nil
}

// SetTradingOpen toggles the global trading gate.
func (e *Engine) SetTradingOpen(open bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.atomic(func(buf *events.Buffer) error {
		if err := e.state.SetTradingOpen(open); err != nil {
			return err
		}
		emit(buf, NewTradingToggledEvent(open))
		return nil
	})
}

// TradingOpen reports whether list and make are currently accepted.
func (e *Engine) TradingOpen() (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	if nativecommon.Guard(e.pauses, moduleName) != nil {
		return false, nil
	}
	return e.state.TradingOpen()
}

// Offer returns the registered offer with the given id.
func (e *Engine) Offer(id uint64) (*state.OfferRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok, err := e.state.OfferGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOfferNotFound
	}
	return record, nil
}

// OfferAssets returns the bundle of a registered offer as parallel
// collection and token id sequences.
func (e *Engine) OfferAssets(id uint64) ([]common.Address, []*big.Int, error) {
	record, err := e.Offer(id)
	if err != nil {
		return nil, nil, err
	}
	return record.Offer.Collections, record.Offer.TokenIDs, nil
}

// OffersByTrader returns the ids registered by trader in registration order.
func (e *Engine) OffersByTrader(trader common.Address) ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.OfferIDsByTrader(trader)
}

// SwapID returns the last assigned offer id.
func (e *Engine) SwapID() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.SwapID()
}

// IdentityHash returns the offer's identity at its trader's current nonce.
func (e *Engine) IdentityHash(offer *types.Offer) (common.Hash, error) {
	if e == nil || e.state == nil {
		return common.Hash{}, errNilState
	}
	if offer == nil {
		return IdentityHash(nil, 0)
	}
	return e.identity(offer, sideRole(offer))
}

// IsSettled reports whether hash was cancelled or filled.
func (e *Engine) IsSettled(hash common.Hash) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.OfferSettled(hash)
}

// Nonce returns the trader's current offer nonce.
func (e *Engine) Nonce(trader common.Address) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.OfferNonce(trader)
}

// Escrow returns the native amount escrowed for hash.
func (e *Engine) Escrow(hash common.Hash) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.NativeEscrow(hash)
}
