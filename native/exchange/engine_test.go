package exchange

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"nftswap/core/events"
	"nftswap/core/state"
	"nftswap/core/types"
	"nftswap/native/bank"
	nativecommon "nftswap/native/common"
)

var (
	vaultAddr   = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	sinkAddr    = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	wrappedAddr = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	tokenAddr   = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	traderA     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	traderB     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	collection1 = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	collection2 = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	collection3 = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	partnerAddr = common.HexToAddress("0x00000000000000000000000000000000000000ee")
)

const testNow = int64(1_000)

type testPolicy struct {
	blacklist map[common.Address]bool
	allowed   map[common.Address]bool
	partners  map[common.Address]common.Address
}

func newTestPolicy() *testPolicy {
	return &testPolicy{
		blacklist: make(map[common.Address]bool),
		allowed:   make(map[common.Address]bool),
		partners:  make(map[common.Address]common.Address),
	}
}

func (p *testPolicy) IsBlacklisted(c common.Address) (bool, error)  { return p.blacklist[c], nil }
func (p *testPolicy) IsAllowedToken(t common.Address) (bool, error) { return p.allowed[t], nil }
func (p *testPolicy) PartnerFeeRecipient(c common.Address) (common.Address, bool, error) {
	r, ok := p.partners[c]
	return r, ok, nil
}

// failingExecutor fails the n-th bundle transfer and records journal use.
type failingExecutor struct {
	AssetExecutor
	failAt    int
	calls     int
	snapshots int
	reverts   int
}

var errInjected = errors.New("injected transfer failure")

func (f *failingExecutor) TransferSingleUnitAsset(c, from, to common.Address, id *big.Int) error {
	f.calls++
	if f.calls == f.failAt {
		return errInjected
	}
	return f.AssetExecutor.TransferSingleUnitAsset(c, from, to, id)
}

func (f *failingExecutor) TransferFungibleUnits(c, from, to common.Address, id, amount *big.Int) error {
	f.calls++
	if f.calls == f.failAt {
		return errInjected
	}
	return f.AssetExecutor.TransferFungibleUnits(c, from, to, id, amount)
}

func (f *failingExecutor) Snapshot() int {
	f.snapshots++
	return f.snapshots
}

func (f *failingExecutor) RevertToSnapshot(int) { f.reverts++ }

type harness struct {
	t        *testing.T
	engine   *Engine
	state    *state.Manager
	ledger   *bank.Ledger
	policy   *testPolicy
	recorder *events.Recorder
}

func defaultTestParams() Params {
	return Params{
		ListingFee:    big.NewInt(100),
		BuyingFee:     big.NewInt(10),
		PartnerShare:  big.NewInt(30),
		FeeSink:       sinkAddr,
		Vault:         vaultAddr,
		WrappedNative: wrappedAddr,
	}
}

func newHarness(t *testing.T, mutate func(*Params)) *harness {
	t.Helper()
	params := defaultTestParams()
	if mutate != nil {
		mutate(&params)
	}
	manager := state.NewMemoryManager()
	ledger, err := bank.NewLedger(manager, vaultAddr)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	policy := newTestPolicy()
	recorder := &events.Recorder{}
	engine := NewEngine(params)
	engine.SetState(manager)
	engine.SetPolicy(policy)
	engine.SetExecutor(ledger)
	engine.SetEmitter(recorder)
	engine.SetNowFunc(func() int64 { return testNow })
	if err := engine.SetTradingOpen(true); err != nil {
		t.Fatalf("open trading: %v", err)
	}
	for _, trader := range []common.Address{traderA, traderB} {
		if err := ledger.MintNative(trader, big.NewInt(10_000)); err != nil {
			t.Fatalf("fund: %v", err)
		}
	}
	return &harness{t: t, engine: engine, state: manager, ledger: ledger, policy: policy, recorder: recorder}
}

func (h *harness) mintNFT(collection common.Address, id int64, owner common.Address) {
	h.t.Helper()
	if err := h.ledger.MintNFT(collection, big.NewInt(id), owner); err != nil {
		h.t.Fatalf("mint nft: %v", err)
	}
	if err := h.ledger.SetApprovalForAll(collection, owner, vaultAddr, true); err != nil {
		h.t.Fatalf("approve: %v", err)
	}
}

func (h *harness) balance(addr common.Address) int64 {
	h.t.Helper()
	b, err := h.ledger.NativeBalance(addr)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return b.Int64()
}

func (h *harness) owner(collection common.Address, id int64) common.Address {
	h.t.Helper()
	o, err := h.ledger.OwnerOf(collection, big.NewInt(id))
	if err != nil {
		h.t.Fatalf("owner: %v", err)
	}
	return o
}

func (h *harness) settled(hash common.Hash) bool {
	h.t.Helper()
	ok, err := h.engine.IsSettled(hash)
	if err != nil {
		h.t.Fatalf("settled: %v", err)
	}
	return ok
}

func (h *harness) eventCount(kind string) int {
	n := 0
	for _, evt := range h.recorder.Events() {
		if evt.EventType() == kind {
			n++
		}
	}
	return n
}

func (h *harness) list(offer *types.Offer) (uint64, common.Hash) {
	h.t.Helper()
	id, hash, err := h.engine.ListOffer(Call{Caller: offer.Trader, Value: big.NewInt(100)}, offer)
	if err != nil {
		h.t.Fatalf("list: %v", err)
	}
	return id, hash
}

func sellOffer(trader common.Address, collection common.Address, ids ...int64) *types.Offer {
	offer := &types.Offer{
		Trader:       trader,
		Side:         types.SideSell,
		PaymentToken: types.NativeCurrency,
		Price:        big.NewInt(0),
		ListingTime:  uint64(testNow - 100),
	}
	for _, id := range ids {
		offer.Collections = append(offer.Collections, collection)
		offer.TokenIDs = append(offer.TokenIDs, big.NewInt(id))
		offer.AssetTypes = append(offer.AssetTypes, types.AssetERC721)
	}
	return offer
}

func buyOffer(trader common.Address, listingID uint64, price int64) *types.Offer {
	return &types.Offer{
		Trader:       trader,
		Side:         types.SideBuy,
		Collections:  []common.Address{},
		TokenIDs:     []*big.Int{},
		AssetTypes:   []types.AssetType{},
		PaymentToken: types.NativeCurrency,
		Price:        big.NewInt(price),
		ListingTime:  uint64(testNow - 100),
		MatchingID:   listingID,
	}
}

func expectRole(t *testing.T, err error, role types.Role) {
	t.Helper()
	if !errors.Is(err, ErrOfferInvalidParameters) {
		t.Fatalf("expected invalid parameters, got %v", err)
	}
	got, ok := RoleOf(err)
	if !ok || got != role {
		t.Fatalf("expected role %s, got %s (ok=%v)", role, got, ok)
	}
}

func mustHash(t *testing.T, offer *types.Offer, nonce uint64) common.Hash {
	t.Helper()
	hash, err := IdentityHash(offer, nonce)
	if err != nil {
		t.Fatalf("identity hash: %v", err)
	}
	return hash
}

func TestIdentityHashSensitivity(t *testing.T) {
	base := &types.Offer{
		Trader:         traderA,
		Side:           types.SideSell,
		Collections:    []common.Address{collection1, collection2},
		TokenIDs:       []*big.Int{big.NewInt(1), big.NewInt(2)},
		AssetTypes:     []types.AssetType{types.AssetERC721, types.AssetERC721},
		PaymentToken:   types.NativeCurrency,
		Price:          big.NewInt(0),
		ListingTime:    10,
		ExpirationTime: 20,
		MatchingID:     0,
	}
	baseHash := mustHash(t, base, 0)
	if mustHash(t, base.Clone(), 0) != baseHash {
		t.Fatalf("identity hash not deterministic")
	}

	variants := map[string]func(o *types.Offer){
		"trader":         func(o *types.Offer) { o.Trader = traderB },
		"side":           func(o *types.Offer) { o.Side = types.SideBuy },
		"collections":    func(o *types.Offer) { o.Collections[1] = collection3 },
		"collectionSwap": func(o *types.Offer) { o.Collections[0], o.Collections[1] = o.Collections[1], o.Collections[0] },
		"tokenIds":       func(o *types.Offer) { o.TokenIDs[0] = big.NewInt(3) },
		"tokenIdSwap":    func(o *types.Offer) { o.TokenIDs[0], o.TokenIDs[1] = o.TokenIDs[1], o.TokenIDs[0] },
		"assetTypes":     func(o *types.Offer) { o.AssetTypes[0] = types.AssetERC1155 },
		"paymentToken":   func(o *types.Offer) { o.PaymentToken = tokenAddr },
		"price":          func(o *types.Offer) { o.Price = big.NewInt(1) },
		"listingTime":    func(o *types.Offer) { o.ListingTime = 11 },
		"expirationTime": func(o *types.Offer) { o.ExpirationTime = 0 },
		"matchingId":     func(o *types.Offer) { o.MatchingID = 1 },
		"bundleLength": func(o *types.Offer) {
			o.Collections = o.Collections[:1]
			o.TokenIDs = o.TokenIDs[:1]
			o.AssetTypes = o.AssetTypes[:1]
		},
	}
	seen := map[common.Hash]string{baseHash: "base"}
	for name, mutate := range variants {
		variant := base.Clone()
		mutate(variant)
		hash := mustHash(t, variant, 0)
		if prev, dup := seen[hash]; dup {
			t.Fatalf("variant %s collides with %s", name, prev)
		}
		seen[hash] = name
	}
	if mustHash(t, base, 1) == baseHash {
		t.Fatalf("nonce must change the identity")
	}
	if mustHash(t, nil, 0) != mustHash(t, &types.Offer{}, 0) {
		t.Fatalf("nil offer must hash as the empty offer")
	}

	wrap := new(big.Int).Lsh(big.NewInt(1), 256)
	outOfRange := map[string]func(o *types.Offer){
		"price 2^256":    func(o *types.Offer) { o.Price = new(big.Int).Set(wrap) },
		"price 2^300":    func(o *types.Offer) { o.Price = new(big.Int).Lsh(big.NewInt(1), 300) },
		"negative price": func(o *types.Offer) { o.Price = big.NewInt(-1) },
		"token id 2^256": func(o *types.Offer) { o.TokenIDs[0] = new(big.Int).Add(wrap, big.NewInt(1)) },
		"negative id":    func(o *types.Offer) { o.TokenIDs[1] = big.NewInt(-2) },
	}
	for name, mutate := range outOfRange {
		variant := base.Clone()
		mutate(variant)
		if hash, err := IdentityHash(variant, 0); !errors.Is(err, ErrWordOutOfRange) {
			t.Fatalf("%s: expected out-of-range error, got hash %s err %v", name, hash.Hex(), err)
		}
	}
	maxWord := base.Clone()
	maxWord.Price = new(big.Int).Sub(wrap, big.NewInt(1))
	if mustHash(t, maxWord, 0) == baseHash {
		t.Fatalf("largest uint256 price must hash distinctly")
	}
}

func TestListOfferAssignsSequentialIDs(t *testing.T) {
	h := newHarness(t, nil)
	for i := int64(1); i <= 3; i++ {
		h.mintNFT(collection1, i, traderA)
		id, _ := h.list(sellOffer(traderA, collection1, i))
		if id != uint64(i) {
			t.Fatalf("expected id %d, got %d", i, id)
		}
	}
	swapID, err := h.engine.SwapID()
	if err != nil || swapID != 3 {
		t.Fatalf("expected swap id 3, got %d (%v)", swapID, err)
	}
	ids, err := h.engine.OffersByTrader(traderA)
	if err != nil || len(ids) != 3 || ids[0] != 1 || ids[2] != 3 {
		t.Fatalf("unexpected trader index %v (%v)", ids, err)
	}
	collections, tokenIDs, err := h.engine.OfferAssets(2)
	if err != nil {
		t.Fatalf("assets: %v", err)
	}
	if len(collections) != 1 || collections[0] != collection1 || tokenIDs[0].Int64() != 2 {
		t.Fatalf("unexpected assets %v %v", collections, tokenIDs)
	}
	if _, err := h.engine.Offer(0); !errors.Is(err, ErrOfferNotFound) {
		t.Fatalf("id 0 must be unused, got %v", err)
	}
	if got := h.eventCount(EventTypeOfferListed); got != 3 {
		t.Fatalf("expected 3 listed events, got %d", got)
	}
	if got := h.balance(vaultAddr); got != 300 {
		t.Fatalf("vault should hold three listing fees, got %d", got)
	}
}

func TestListOfferPreconditions(t *testing.T) {
	h := newHarness(t, nil)
	offer := sellOffer(traderA, collection1, 1)
	fee := big.NewInt(100)

	if _, _, err := h.engine.ListOffer(Call{Caller: traderB, Value: fee}, offer); !errors.Is(err, ErrWrongCaller) {
		t.Fatalf("expected wrong caller, got %v", err)
	}
	if _, _, err := h.engine.ListOffer(Call{Caller: traderA, Value: big.NewInt(99)}, offer); !errors.Is(err, ErrNotEnoughFunds) {
		t.Fatalf("expected not enough funds, got %v", err)
	}
	buy := offer.Clone()
	buy.Side = types.SideBuy
	if _, _, err := h.engine.ListOffer(Call{Caller: traderA, Value: fee}, buy); !errors.Is(err, ErrWrongSide) {
		t.Fatalf("expected wrong side, got %v", err)
	}
	priced := offer.Clone()
	priced.Price = big.NewInt(1)
	_, _, err := h.engine.ListOffer(Call{Caller: traderA, Value: fee}, priced)
	expectRole(t, err, types.RoleListing)
	linked := offer.Clone()
	linked.MatchingID = 7
	_, _, err = h.engine.ListOffer(Call{Caller: traderA, Value: fee}, linked)
	expectRole(t, err, types.RoleListing)

	if err := h.engine.SetTradingOpen(false); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, _, err := h.engine.ListOffer(Call{Caller: traderA, Value: fee}, offer); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected not open, got %v", err)
	}
	_ = h.engine.SetTradingOpen(true)
	h.engine.SetPauses(nativecommon.NewPauses([]string{nativecommon.ModuleExchange}))
	if _, _, err := h.engine.ListOffer(Call{Caller: traderA, Value: fee}, offer); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected paused module to report not open, got %v", err)
	}
	h.engine.SetPauses(nil)

	if h.balance(traderA) != 10_000 {
		t.Fatalf("rejected calls must not move funds")
	}
	if swapID, _ := h.engine.SwapID(); swapID != 0 {
		t.Fatalf("rejected calls must not register offers")
	}
}

func TestSurplusIsRefunded(t *testing.T) {
	h := newHarness(t, nil)
	if _, _, err := h.engine.ListOffer(Call{Caller: traderA, Value: big.NewInt(150)}, sellOffer(traderA, collection1, 1)); err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := h.balance(traderA); got != 9_900 {
		t.Fatalf("expected only the fee to be kept, balance %d", got)
	}
	if got := h.balance(vaultAddr); got != 100 {
		t.Fatalf("expected vault to hold the fee, got %d", got)
	}
}

func TestTemporalBoundaries(t *testing.T) {
	h := newHarness(t, nil)
	cases := []struct {
		name    string
		listing uint64
		expiry  uint64
		valid   bool
	}{
		{"listed now", uint64(testNow), 0, false},
		{"listed in future", uint64(testNow + 1), 0, false},
		{"expires now", uint64(testNow - 1), uint64(testNow), false},
		{"expired", uint64(testNow - 10), uint64(testNow - 1), false},
		{"never expires", uint64(testNow - 1), 0, true},
		{"expires next second", uint64(testNow - 1), uint64(testNow + 1), true},
	}
	for _, tc := range cases {
		offer := sellOffer(traderA, collection1, 1)
		offer.ListingTime = tc.listing
		offer.ExpirationTime = tc.expiry
		hash := mustHash(t, offer, 0)
		if got := h.engine.ValidateParameters(offer, hash, types.RoleListing); got != tc.valid {
			t.Fatalf("%s: expected valid=%v, got %v", tc.name, tc.valid, got)
		}
	}
}

func TestBundleBound(t *testing.T) {
	h := newHarness(t, nil)
	eight := sellOffer(traderA, collection1, 1, 2, 3, 4, 5, 6, 7, 8)
	if !h.engine.ValidateParameters(eight, mustHash(t, eight, 0), types.RoleListing) {
		t.Fatalf("8-element bundle must be accepted")
	}
	nine := sellOffer(traderA, collection1, 1, 2, 3, 4, 5, 6, 7, 8, 9)
	if h.engine.ValidateParameters(nine, mustHash(t, nine, 0), types.RoleListing) {
		t.Fatalf("9-element bundle must be rejected")
	}
	_, _, err := h.engine.ListOffer(Call{Caller: traderA, Value: big.NewInt(100)}, nine)
	expectRole(t, err, types.RoleListing)

	ragged := sellOffer(traderA, collection1, 1, 2)
	ragged.AssetTypes = ragged.AssetTypes[:1]
	if h.engine.ValidateParameters(ragged, mustHash(t, ragged, 0), types.RoleListing) {
		t.Fatalf("parallel sequences of different length must be rejected")
	}
}

func TestPolicyChecks(t *testing.T) {
	h := newHarness(t, nil)
	offer := sellOffer(traderA, collection1, 1)
	hash := mustHash(t, offer, 0)

	h.policy.blacklist[collection1] = true
	if h.engine.ValidateParameters(offer, hash, types.RoleListing) {
		t.Fatalf("blacklisted collection must be rejected")
	}
	delete(h.policy.blacklist, collection1)

	for _, tc := range []struct {
		token common.Address
		allow bool
		valid bool
	}{
		{types.NativeCurrency, false, true},
		{wrappedAddr, false, true},
		{tokenAddr, false, false},
		{tokenAddr, true, true},
	} {
		h.policy.allowed[tokenAddr] = tc.allow
		variant := offer.Clone()
		variant.PaymentToken = tc.token
		if got := h.engine.ValidateParameters(variant, mustHash(t, variant, 0), types.RoleListing); got != tc.valid {
			t.Fatalf("token %s allow=%v: expected %v, got %v", tc.token.Hex(), tc.allow, tc.valid, got)
		}
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	offer := sellOffer(traderA, collection1, 1)

	if _, err := h.engine.CancelOffer(Call{Caller: traderB}, offer); !errors.Is(err, ErrWrongCaller) {
		t.Fatalf("expected wrong caller, got %v", err)
	}
	hash, err := h.engine.CancelOffer(Call{Caller: traderA}, offer)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !h.settled(hash) {
		t.Fatalf("cancelled hash must be settled")
	}
	if _, err := h.engine.CancelOffer(Call{Caller: traderA}, offer); !errors.Is(err, ErrAlreadyCancelledOrFilled) {
		t.Fatalf("expected already cancelled, got %v", err)
	}
	if got := h.eventCount(EventTypeOfferCancelled); got != 1 {
		t.Fatalf("expected exactly one cancelled event, got %d", got)
	}
	if h.engine.ValidateParameters(offer, hash, types.RoleListing) {
		t.Fatalf("cancelled offer must fail validation")
	}
}

func TestCancelOffersIsAllOrNothing(t *testing.T) {
	h := newHarness(t, nil)
	a := sellOffer(traderA, collection1, 1)
	b := sellOffer(traderA, collection1, 2)

	_, err := h.engine.CancelOffers(Call{Caller: traderA}, []*types.Offer{a, b, a})
	if !errors.Is(err, ErrAlreadyCancelledOrFilled) {
		t.Fatalf("expected duplicate to fail the batch, got %v", err)
	}
	if h.settled(mustHash(t, a, 0)) || h.settled(mustHash(t, b, 0)) {
		t.Fatalf("failed batch must not cancel anything")
	}
	if got := h.eventCount(EventTypeOfferCancelled); got != 0 {
		t.Fatalf("failed batch must not emit events, got %d", got)
	}

	foreign := sellOffer(traderB, collection1, 3)
	if _, err := h.engine.CancelOffers(Call{Caller: traderA}, []*types.Offer{a, foreign}); !errors.Is(err, ErrWrongCaller) {
		t.Fatalf("expected wrong caller, got %v", err)
	}

	hashes, err := h.engine.CancelOffers(Call{Caller: traderA}, []*types.Offer{a, b})
	if err != nil {
		t.Fatalf("cancel batch: %v", err)
	}
	if len(hashes) != 2 || !h.settled(hashes[0]) || !h.settled(hashes[1]) {
		t.Fatalf("expected both offers cancelled: %v", hashes)
	}
}

func TestCancelOffersRejectsUnencodableOffer(t *testing.T) {
	h := newHarness(t, nil)
	good := sellOffer(traderA, collection1, 1)
	bad := sellOffer(traderA, collection1, 2)
	bad.Price = big.NewInt(-1)

	_, err := h.engine.CancelOffers(Call{Caller: traderA}, []*types.Offer{good, bad})
	expectRole(t, err, types.RoleListing)
	if err := h.state.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if h.settled(mustHash(t, good, 0)) {
		t.Fatalf("aborted batch must not cancel the first offer")
	}
	if got := h.eventCount(EventTypeOfferCancelled); got != 0 {
		t.Fatalf("aborted batch must not emit events, got %d", got)
	}

	// A price of 2^256 must not alias the zero-priced offer.
	alias := good.Clone()
	alias.Price = new(big.Int).Lsh(big.NewInt(1), 256)
	_, err = h.engine.CancelOffer(Call{Caller: traderA}, alias)
	expectRole(t, err, types.RoleListing)
	if h.settled(mustHash(t, good, 0)) {
		t.Fatalf("out-of-range price must not cancel the in-range offer")
	}

	bid := buyOffer(traderA, 1, 0)
	bid.Price = big.NewInt(-5)
	_, err = h.engine.CancelOffer(Call{Caller: traderA}, bid)
	expectRole(t, err, types.RoleMatching)
}

func TestAtomicRevertsOnPanic(t *testing.T) {
	h := newHarness(t, nil)
	hash := mustHash(t, sellOffer(traderA, collection1, 1), 0)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("panic must propagate")
			}
		}()
		_ = h.engine.atomic(func(buf *events.Buffer) error {
			if err := h.state.SetOfferSettled(hash); err != nil {
				return err
			}
			emit(buf, NewOfferCancelledEvent(traderA, hash))
			panic("boom")
		})
	}()
	if err := h.state.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if h.settled(hash) {
		t.Fatalf("panicking operation must leave no staged writes")
	}
	if got := h.eventCount(EventTypeOfferCancelled); got != 0 {
		t.Fatalf("panicking operation must not emit, got %d", got)
	}
}

func TestMakeAndMatchRejectUnencodableOffers(t *testing.T) {
	h := newHarness(t, nil)
	h.mintNFT(collection1, 1, traderA)
	listing := sellOffer(traderA, collection1, 1)
	listingID, _ := h.list(listing)

	bid := buyOffer(traderB, listingID, 0)
	bid.Price = big.NewInt(-1)
	_, _, err := h.engine.MakeOffer(Call{Caller: traderB, Value: big.NewInt(10)}, bid, listing)
	expectRole(t, err, types.RoleMatching)

	forged := listing.Clone()
	forged.TokenIDs[0] = big.NewInt(-1)
	ok, err := h.engine.Matches(buyOffer(traderB, listingID, 0), forged)
	if err != nil || ok {
		t.Fatalf("out-of-range listing must not match: ok=%v err=%v", ok, err)
	}
	_, err = h.engine.AcceptOffer(Call{Caller: traderA}, buyOffer(traderB, listingID, 0), forged)
	expectRole(t, err, types.RoleListing)
}

func TestAcceptRequiresRegisteredBid(t *testing.T) {
	h := newHarness(t, nil)
	h.policy.allowed[tokenAddr] = true
	h.mintNFT(collection1, 1, traderA)
	if err := h.ledger.MintToken(tokenAddr, traderB, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint token: %v", err)
	}
	if err := h.ledger.Approve(tokenAddr, traderB, vaultAddr, big.NewInt(400)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	listing := sellOffer(traderA, collection1, 1)
	listingID, listingHash := h.list(listing)

	// The bid was never made, so no buying fee was paid.
	bid := buyOffer(traderB, listingID, 400)
	bid.PaymentToken = tokenAddr
	_, err := h.engine.AcceptOffer(Call{Caller: traderA}, bid, listing)
	expectRole(t, err, types.RoleMatching)
	if h.settled(listingHash) || h.owner(collection1, 1) != traderA {
		t.Fatalf("rejected accept must leave the listing open")
	}
	paid, _ := h.ledger.TokenBalance(tokenAddr, traderA)
	if paid.Sign() != 0 {
		t.Fatalf("seller must not be paid for an unregistered bid, got %s", paid)
	}
}

func TestAcceptSplitsFeeCollectedAtListing(t *testing.T) {
	h := newHarness(t, nil)
	h.mintNFT(collection1, 1, traderA)
	listing := sellOffer(traderA, collection1, 1)
	listingID, _ := h.list(listing)
	bid := buyOffer(traderB, listingID, 0)
	if _, _, err := h.engine.MakeOffer(Call{Caller: traderB, Value: big.NewInt(10)}, bid, listing); err != nil {
		t.Fatalf("make: %v", err)
	}

	h.engine.params.ListingFee = big.NewInt(500)
	vaultBefore := h.balance(vaultAddr)
	settlement, err := h.engine.AcceptOffer(Call{Caller: traderA}, bid, listing)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	total := new(big.Int)
	for _, p := range settlement.Payouts {
		total.Add(total, p.Amount)
	}
	if total.Int64() != 100 {
		t.Fatalf("expected the 100 collected at listing to be split, got %s", total)
	}
	if got := h.balance(vaultAddr); got != vaultBefore-100 {
		t.Fatalf("vault must only release the listing's own fee: before %d after %d", vaultBefore, got)
	}
}

func TestScenarioListMakeAccept(t *testing.T) {
	h := newHarness(t, nil)
	h.mintNFT(collection1, 1, traderA)
	listing := sellOffer(traderA, collection1, 1)
	listingID, listingHash := h.list(listing)

	bid := buyOffer(traderB, listingID, 0)
	bidID, bidHash, err := h.engine.MakeOffer(Call{Caller: traderB, Value: big.NewInt(10)}, bid, listing)
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	if bidID != 2 {
		t.Fatalf("expected bid id 2, got %d", bidID)
	}
	if got := h.balance(sinkAddr); got != 10 {
		t.Fatalf("buying fee must be forwarded at make time, sink=%d", got)
	}

	if _, err := h.engine.AcceptOffer(Call{Caller: traderB}, bid, listing); !errors.Is(err, ErrWrongCaller) {
		t.Fatalf("only the lister may accept, got %v", err)
	}
	settlement, err := h.engine.AcceptOffer(Call{Caller: traderA}, bid, listing)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if settlement.SellHash != listingHash || settlement.BuyHash != bidHash {
		t.Fatalf("unexpected settlement hashes %+v", settlement)
	}
	if owner := h.owner(collection1, 1); owner != traderB {
		t.Fatalf("asset should move to buyer, owner=%s", owner.Hex())
	}
	if got := h.balance(sinkAddr); got != 110 {
		t.Fatalf("sink should hold listing and buying fee, got %d", got)
	}
	if got := h.balance(vaultAddr); got != 0 {
		t.Fatalf("vault should be drained, got %d", got)
	}
	if !h.settled(listingHash) || !h.settled(bidHash) {
		t.Fatalf("both hashes must be settled")
	}
	if swapID, _ := h.engine.SwapID(); swapID != 2 {
		t.Fatalf("expected swap id 2, got %d", swapID)
	}
	if got := h.eventCount(EventTypeOffersMatched); got != 1 {
		t.Fatalf("expected one matched event, got %d", got)
	}
	if _, err := h.engine.AcceptOffer(Call{Caller: traderA}, bid, listing); !errors.Is(err, ErrOfferInvalidParameters) {
		t.Fatalf("settled offers must not be accepted twice, got %v", err)
	}
}

func TestScenarioPartnerShares(t *testing.T) {
	h := newHarness(t, nil)
	h.policy.partners[collection1] = partnerAddr
	h.mintNFT(collection1, 1, traderA)
	h.mintNFT(collection1, 2, traderA)
	h.mintNFT(collection2, 3, traderA)

	listing := sellOffer(traderA, collection1, 1, 2)
	listing.Collections = append(listing.Collections, collection2)
	listing.TokenIDs = append(listing.TokenIDs, big.NewInt(3))
	listing.AssetTypes = append(listing.AssetTypes, types.AssetERC721)
	listingID, _ := h.list(listing)

	bid := buyOffer(traderB, listingID, 0)
	if _, _, err := h.engine.MakeOffer(Call{Caller: traderB, Value: big.NewInt(10)}, bid, listing); err != nil {
		t.Fatalf("make: %v", err)
	}
	settlement, err := h.engine.AcceptOffer(Call{Caller: traderA}, bid, listing)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := h.balance(partnerAddr); got != 30 {
		t.Fatalf("duplicate partner collection must be paid once, got %d", got)
	}
	if got := h.balance(sinkAddr); got != 70+10 {
		t.Fatalf("sink should receive residual plus buying fee, got %d", got)
	}
	if len(settlement.Payouts) != 2 {
		t.Fatalf("expected partner and residual payouts, got %+v", settlement.Payouts)
	}
}

func TestScenarioNativePrice(t *testing.T) {
	h := newHarness(t, nil)
	h.mintNFT(collection1, 1, traderA)
	listing := sellOffer(traderA, collection1, 1)
	listingID, _ := h.list(listing)

	bid := buyOffer(traderB, listingID, 500)
	if _, _, err := h.engine.MakeOffer(Call{Caller: traderB, Value: big.NewInt(509)}, bid, listing); !errors.Is(err, ErrNotEnoughFunds) {
		t.Fatalf("price plus fee must be attached, got %v", err)
	}
	_, bidHash, err := h.engine.MakeOffer(Call{Caller: traderB, Value: big.NewInt(515)}, bid, listing)
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	if got := h.balance(traderB); got != 10_000-510 {
		t.Fatalf("surplus must be refunded, balance %d", got)
	}
	escrow, _ := h.engine.Escrow(bidHash)
	if escrow.Int64() != 500 {
		t.Fatalf("expected escrow 500, got %s", escrow)
	}

	if _, err := h.engine.AcceptOffer(Call{Caller: traderA}, bid, listing); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := h.balance(traderA); got != 10_000-100+500 {
		t.Fatalf("seller should receive the price, balance %d", got)
	}
	if got := h.balance(sinkAddr); got != 110 {
		t.Fatalf("sink should receive both fees, got %d", got)
	}
	escrow, _ = h.engine.Escrow(bidHash)
	if escrow.Sign() != 0 {
		t.Fatalf("escrow must be released, got %s", escrow)
	}
}

func TestScenarioBuyAgainstCancelledListing(t *testing.T) {
	h := newHarness(t, nil)
	listing := sellOffer(traderA, collection1, 1)
	listingID, _ := h.list(listing)
	if _, err := h.engine.CancelOffer(Call{Caller: traderA}, listing); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, _, err := h.engine.MakeOffer(Call{Caller: traderB, Value: big.NewInt(10)}, buyOffer(traderB, listingID, 0), listing)
	expectRole(t, err, types.RoleListing)
}

func TestTokenPricedSettlement(t *testing.T) {
	h := newHarness(t, nil)
	h.policy.allowed[tokenAddr] = true
	h.mintNFT(collection1, 1, traderA)
	if err := h.ledger.MintToken(tokenAddr, traderB, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint token: %v", err)
	}
	listing := sellOffer(traderA, collection1, 1)
	listingID, _ := h.list(listing)
	bid := buyOffer(traderB, listingID, 400)
	bid.PaymentToken = tokenAddr
	if _, _, err := h.engine.MakeOffer(Call{Caller: traderB, Value: big.NewInt(10)}, bid, listing); err != nil {
		t.Fatalf("make: %v", err)
	}

	_, err := h.engine.AcceptOffer(Call{Caller: traderA}, bid, listing)
	if !errors.Is(err, ErrTransferFailed) || !errors.Is(err, bank.ErrInsufficientAllowance) {
		t.Fatalf("expected allowance failure, got %v", err)
	}
	if owner := h.owner(collection1, 1); owner != traderA {
		t.Fatalf("failed accept must not move the asset")
	}

	if err := h.ledger.Approve(tokenAddr, traderB, vaultAddr, big.NewInt(400)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := h.engine.AcceptOffer(Call{Caller: traderA}, bid, listing); err != nil {
		t.Fatalf("accept: %v", err)
	}
	paid, _ := h.ledger.TokenBalance(tokenAddr, traderA)
	if paid.Int64() != 400 {
		t.Fatalf("seller should receive 400 tokens, got %s", paid)
	}
}

func TestAcceptIsAtomic(t *testing.T) {
	h := newHarness(t, nil)
	h.mintNFT(collection1, 1, traderA)
	h.mintNFT(collection1, 2, traderA)
	listing := sellOffer(traderA, collection1, 1, 2)
	listingID, listingHash := h.list(listing)
	bid := buyOffer(traderB, listingID, 500)
	_, bidHash, err := h.engine.MakeOffer(Call{Caller: traderB, Value: big.NewInt(510)}, bid, listing)
	if err != nil {
		t.Fatalf("make: %v", err)
	}

	failing := &failingExecutor{AssetExecutor: h.ledger, failAt: 2}
	h.engine.SetExecutor(failing)
	before := len(h.recorder.Events())
	balanceA, vault, sink := h.balance(traderA), h.balance(vaultAddr), h.balance(sinkAddr)

	_, err = h.engine.AcceptOffer(Call{Caller: traderA}, bid, listing)
	if !errors.Is(err, ErrTransferFailed) || !errors.Is(err, errInjected) {
		t.Fatalf("expected injected transfer failure, got %v", err)
	}
	if h.settled(listingHash) || h.settled(bidHash) {
		t.Fatalf("failed accept must not leave settled flags")
	}
	if owner := h.owner(collection1, 1); owner != traderA {
		t.Fatalf("first transfer must be rolled back, owner=%s", owner.Hex())
	}
	if h.balance(traderA) != balanceA || h.balance(vaultAddr) != vault || h.balance(sinkAddr) != sink {
		t.Fatalf("fee and price movements must be rolled back")
	}
	if escrow, _ := h.engine.Escrow(bidHash); escrow.Int64() != 500 {
		t.Fatalf("escrow must be restored, got %s", escrow)
	}
	if len(h.recorder.Events()) != before {
		t.Fatalf("failed accept must not emit events")
	}
	if failing.snapshots != 1 || failing.reverts != 1 {
		t.Fatalf("journaled executor must be reverted, snapshots=%d reverts=%d", failing.snapshots, failing.reverts)
	}

	h.engine.SetExecutor(h.ledger)
	if _, err := h.engine.AcceptOffer(Call{Caller: traderA}, bid, listing); err != nil {
		t.Fatalf("accept after rollback: %v", err)
	}
}

func TestAcceptMovesMultiUnitAssets(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ledger.MintMulti(collection2, big.NewInt(9), traderA, big.NewInt(5)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	_ = h.ledger.SetApprovalForAll(collection2, traderA, vaultAddr, true)
	h.mintNFT(collection3, 4, traderB)

	listing := sellOffer(traderA, collection2)
	listing.Collections = []common.Address{collection2}
	listing.TokenIDs = []*big.Int{big.NewInt(9)}
	listing.AssetTypes = []types.AssetType{types.AssetERC1155}
	listingID, _ := h.list(listing)

	bid := buyOffer(traderB, listingID, 0)
	bid.Collections = []common.Address{collection3}
	bid.TokenIDs = []*big.Int{big.NewInt(4)}
	bid.AssetTypes = []types.AssetType{types.AssetERC721}
	if _, _, err := h.engine.MakeOffer(Call{Caller: traderB, Value: big.NewInt(10)}, bid, listing); err != nil {
		t.Fatalf("make: %v", err)
	}
	if _, err := h.engine.AcceptOffer(Call{Caller: traderA}, bid, listing); err != nil {
		t.Fatalf("accept: %v", err)
	}
	units, _ := h.ledger.MultiBalance(collection2, big.NewInt(9), traderB)
	if units.Int64() != 1 {
		t.Fatalf("one unit should move per bundle entry, got %s", units)
	}
	if owner := h.owner(collection3, 4); owner != traderA {
		t.Fatalf("maker bundle should move to the lister, owner=%s", owner.Hex())
	}
}

func TestMakeOfferPreconditions(t *testing.T) {
	h := newHarness(t, nil)
	listing := sellOffer(traderA, collection1, 1)
	listingID, _ := h.list(listing)
	fee := big.NewInt(10)

	self := buyOffer(traderA, listingID, 0)
	if _, _, err := h.engine.MakeOffer(Call{Caller: traderA, Value: fee}, self, listing); !errors.Is(err, ErrSelfTradeRejected) {
		t.Fatalf("expected self trade rejection, got %v", err)
	}
	wrongSide := buyOffer(traderB, listingID, 0)
	wrongSide.Side = types.SideSell
	if _, _, err := h.engine.MakeOffer(Call{Caller: traderB, Value: fee}, wrongSide, listing); !errors.Is(err, ErrWrongSide) {
		t.Fatalf("expected wrong side, got %v", err)
	}
	bid := buyOffer(traderB, listingID, 0)
	if _, _, err := h.engine.MakeOffer(Call{Caller: traderA, Value: fee}, bid, listing); !errors.Is(err, ErrWrongCaller) {
		t.Fatalf("expected wrong caller, got %v", err)
	}
	if _, _, err := h.engine.MakeOffer(Call{Caller: traderB, Value: big.NewInt(9)}, bid, listing); !errors.Is(err, ErrNotEnoughFunds) {
		t.Fatalf("expected not enough funds, got %v", err)
	}
	unknown := buyOffer(traderB, 99, 0)
	if _, _, err := h.engine.MakeOffer(Call{Caller: traderB, Value: fee}, unknown, listing); !errors.Is(err, ErrOffersDoNotMatch) {
		t.Fatalf("expected no match for unknown id, got %v", err)
	}
	altered := listing.Clone()
	altered.TokenIDs[0] = big.NewInt(2)
	if _, _, err := h.engine.MakeOffer(Call{Caller: traderB, Value: fee}, bid, altered); !errors.Is(err, ErrOffersDoNotMatch) {
		t.Fatalf("expected no match for altered listing, got %v", err)
	}
	expired := buyOffer(traderB, listingID, 0)
	expired.ExpirationTime = uint64(testNow)
	_, _, err := h.engine.MakeOffer(Call{Caller: traderB, Value: fee}, expired, listing)
	expectRole(t, err, types.RoleMatching)

	if err := h.engine.SetTradingOpen(false); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, _, err := h.engine.MakeOffer(Call{Caller: traderB, Value: fee}, bid, listing); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected not open, got %v", err)
	}
}

func TestMatchesUnknownTargetIsFalse(t *testing.T) {
	h := newHarness(t, nil)
	ok, err := h.engine.Matches(buyOffer(traderB, 0, 0), &types.Offer{})
	if err != nil || ok {
		t.Fatalf("id 0 must never match: ok=%v err=%v", ok, err)
	}
}

func TestAcceptTradingGateVariants(t *testing.T) {
	for _, requireOpen := range []bool{false, true} {
		h := newHarness(t, func(p *Params) { p.RequireOpenForAccept = requireOpen })
		h.mintNFT(collection1, 1, traderA)
		listing := sellOffer(traderA, collection1, 1)
		listingID, _ := h.list(listing)
		bid := buyOffer(traderB, listingID, 0)
		if _, _, err := h.engine.MakeOffer(Call{Caller: traderB, Value: big.NewInt(10)}, bid, listing); err != nil {
			t.Fatalf("make: %v", err)
		}
		if err := h.engine.SetTradingOpen(false); err != nil {
			t.Fatalf("close: %v", err)
		}
		_, err := h.engine.AcceptOffer(Call{Caller: traderA}, bid, listing)
		if requireOpen && !errors.Is(err, ErrNotOpen) {
			t.Fatalf("gated accept: expected not open, got %v", err)
		}
		if !requireOpen && err != nil {
			t.Fatalf("ungated accept: %v", err)
		}
	}
}

func TestNonceBumpInvalidatesRegisteredOffers(t *testing.T) {
	h := newHarness(t, nil)
	h.mintNFT(collection1, 1, traderA)
	listing := sellOffer(traderA, collection1, 1)
	listingID, _ := h.list(listing)
	bid := buyOffer(traderB, listingID, 300)
	bidID, bidHash, err := h.engine.MakeOffer(Call{Caller: traderB, Value: big.NewInt(310)}, bid, listing)
	if err != nil {
		t.Fatalf("make: %v", err)
	}

	nonce, err := h.engine.IncrementNonce(Call{Caller: traderB})
	if err != nil || nonce != 1 {
		t.Fatalf("increment nonce: %d %v", nonce, err)
	}
	_, err = h.engine.AcceptOffer(Call{Caller: traderA}, bid, listing)
	expectRole(t, err, types.RoleMatching)

	if _, err := h.engine.ReclaimEscrow(Call{Caller: traderA}, bidID); !errors.Is(err, ErrWrongCaller) {
		t.Fatalf("expected wrong caller, got %v", err)
	}
	refunded, err := h.engine.ReclaimEscrow(Call{Caller: traderB}, bidID)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if refunded.Int64() != 300 || h.balance(traderB) != 10_000-10 {
		t.Fatalf("escrow must be refunded, got %s balance %d", refunded, h.balance(traderB))
	}
	if !h.settled(bidHash) {
		t.Fatalf("reclaimed offer must be settled")
	}
	if _, err := h.engine.ReclaimEscrow(Call{Caller: traderB}, bidID); !errors.Is(err, ErrAlreadyCancelledOrFilled) {
		t.Fatalf("second reclaim must fail, got %v", err)
	}
	if _, err := h.engine.ReclaimEscrow(Call{Caller: traderB}, 42); !errors.Is(err, ErrOfferNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := h.engine.IncrementNonce(Call{Caller: traderA}); err != nil {
		t.Fatalf("increment: %v", err)
	}
	fresh := buyOffer(traderB, listingID, 0)
	_, _, err = h.engine.MakeOffer(Call{Caller: traderB, Value: big.NewInt(10)}, fresh, listing)
	expectRole(t, err, types.RoleListing)
	if got := h.eventCount(EventTypeNonceIncreased); got != 2 {
		t.Fatalf("expected 2 nonce events, got %d", got)
	}
}

func TestCancelBuyOfferRefundsEscrow(t *testing.T) {
	h := newHarness(t, nil)
	listing := sellOffer(traderA, collection1, 1)
	listingID, _ := h.list(listing)
	bid := buyOffer(traderB, listingID, 250)
	if _, _, err := h.engine.MakeOffer(Call{Caller: traderB, Value: big.NewInt(260)}, bid, listing); err != nil {
		t.Fatalf("make: %v", err)
	}
	if _, err := h.engine.CancelOffer(Call{Caller: traderB}, bid); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := h.balance(traderB); got != 10_000-10 {
		t.Fatalf("price escrow must be refunded, balance %d", got)
	}
	if got := h.eventCount(EventTypeEscrowRefunded); got != 1 {
		t.Fatalf("expected one refund event, got %d", got)
	}
}

func TestEventsCarryStructuredPayload(t *testing.T) {
	h := newHarness(t, nil)
	_, hash := h.list(sellOffer(traderA, collection1, 1))
	var found bool
	for _, evt := range h.recorder.Events() {
		payload, ok := Unwrap(evt)
		if !ok || payload.Type != EventTypeOfferListed {
			continue
		}
		found = true
		if payload.Attributes["hash"] != hash.Hex() || payload.Attributes["id"] != "1" {
			t.Fatalf("unexpected listed payload %+v", payload.Attributes)
		}
	}
	if !found {
		t.Fatalf("listed event not recorded")
	}
}
