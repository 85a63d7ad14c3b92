package lending

import (
	"errors"
	"math"
	"testing"

	"p2plend/core/events"
	"p2plend/core/types"
	"p2plend/crypto"
	nativecommon "p2plend/native/common"
	"p2plend/native/escrow"
)

type mockState struct {
	market   *MarketConfig
	pairs    map[crypto.Address]*AssetPairMarket
	offers   map[crypto.Address]*LendingOffer
	loans    map[crypto.Address]*Loan
	vaults   map[crypto.Address]*escrow.Vault
	accounts map[crypto.Address]*types.Account
}

func newMockState() *mockState {
	return &mockState{
		pairs:    make(map[crypto.Address]*AssetPairMarket),
		offers:   make(map[crypto.Address]*LendingOffer),
		loans:    make(map[crypto.Address]*Loan),
		vaults:   make(map[crypto.Address]*escrow.Vault),
		accounts: make(map[crypto.Address]*types.Account),
	}
}

func (m *mockState) MarketGet() (*MarketConfig, bool, error) {
	if m.market == nil {
		return nil, false, nil
	}
	return m.market.Clone(), true, nil
}

func (m *mockState) MarketPut(market *MarketConfig) error {
	m.market = market.Clone()
	return nil
}

func (m *mockState) PairGet(addr crypto.Address) (*AssetPairMarket, bool, error) {
	p, ok := m.pairs[addr]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

func (m *mockState) PairPut(pair *AssetPairMarket) error {
	m.pairs[pair.Address] = pair.Clone()
	return nil
}

func (m *mockState) OfferGet(addr crypto.Address) (*LendingOffer, bool, error) {
	o, ok := m.offers[addr]
	if !ok {
		return nil, false, nil
	}
	return o.Clone(), true, nil
}

func (m *mockState) OfferPut(offer *LendingOffer) error {
	m.offers[offer.Address] = offer.Clone()
	return nil
}

func (m *mockState) OfferDelete(addr crypto.Address) error {
	delete(m.offers, addr)
	return nil
}

func (m *mockState) LoanGet(addr crypto.Address) (*Loan, bool, error) {
	l, ok := m.loans[addr]
	if !ok {
		return nil, false, nil
	}
	return l.Clone(), true, nil
}

func (m *mockState) LoanPut(loan *Loan) error {
	m.loans[loan.Address] = loan.Clone()
	return nil
}

func (m *mockState) LoanDelete(addr crypto.Address) error {
	delete(m.loans, addr)
	return nil
}

func (m *mockState) VaultGet(addr crypto.Address) (*escrow.Vault, bool, error) {
	v, ok := m.vaults[addr]
	if !ok {
		return nil, false, nil
	}
	return v.Clone(), true, nil
}

func (m *mockState) VaultPut(v *escrow.Vault) error {
	m.vaults[v.Address] = v.Clone()
	return nil
}

func (m *mockState) VaultDelete(addr crypto.Address) error {
	delete(m.vaults, addr)
	return nil
}

func (m *mockState) GetAccount(addr crypto.Address) (*types.Account, error) {
	acc, ok := m.accounts[addr]
	if !ok {
		return nil, nil
	}
	return acc.Clone(), nil
}

func (m *mockState) PutAccount(addr crypto.Address, acc *types.Account) error {
	m.accounts[addr] = acc.Clone()
	return nil
}

func (m *mockState) fund(addr crypto.Address, asset string, amount uint64) {
	acc, ok := m.accounts[addr]
	if !ok {
		acc = &types.Account{}
		m.accounts[addr] = acc
	}
	acc.Credit(asset, amount)
}

func (m *mockState) balance(addr crypto.Address, asset string) uint64 {
	return m.accounts[addr].BalanceOf(asset)
}

type stubPauseView struct {
	modules map[string]bool
}

func (s stubPauseView) IsPaused(module string) bool {
	if s.modules == nil {
		return false
	}
	return s.modules[module]
}

var (
	adminAddr    = testAddress(0x01)
	feeAddr      = testAddress(0x02)
	lenderAddr   = testAddress(0x03)
	borrowerAddr = testAddress(0x04)
	strangerAddr = testAddress(0x05)
)

func testAddress(b byte) crypto.Address { return crypto.BytesToAddress([]byte{b}) }

const (
	principal  = uint64(1_000_000_000)
	collateral = uint64(1_250_000_000)
)

type fixture struct {
	engine    *Engine
	state     *mockState
	collector *events.Collector
	now       int64
	pair      *AssetPairMarket
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{state: newMockState(), collector: &events.Collector{}, now: 1_000}
	f.engine = NewEngine()
	f.engine.SetState(f.state)
	f.engine.SetEmitter(f.collector)
	f.engine.SetNowFunc(func() int64 { return f.now })
	if _, err := f.engine.InitMarket(adminAddr, feeAddr, 200, 100); err != nil {
		t.Fatalf("init market: %v", err)
	}
	pair, err := f.engine.CreateAssetPair(adminAddr, "usdc", "sol")
	if err != nil {
		t.Fatalf("create pair: %v", err)
	}
	f.pair = pair
	f.state.fund(lenderAddr, "USDC", 5*principal)
	f.state.fund(borrowerAddr, "SOL", 2*collateral)
	return f
}

func (f *fixture) offer(t *testing.T, id uint64) *LendingOffer {
	t.Helper()
	offer, err := f.engine.CreateOffer(lenderAddr, OfferParams{
		Pair:            f.pair.Address,
		Asset:           "USDC",
		OfferID:         id,
		LoanAmount:      principal,
		InterestRateBps: 1000,
		LTVBps:          8000,
	})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	return offer
}

func (f *fixture) take(t *testing.T, offer *LendingOffer) *Origination {
	t.Helper()
	origination, err := f.engine.TakeLoan(borrowerAddr, TakeParams{
		Offer:            offer.Address,
		LoanAsset:        "USDC",
		CollateralAsset:  "SOL",
		CollateralAmount: collateral,
	})
	if err != nil {
		t.Fatalf("take loan: %v", err)
	}
	return origination
}

func TestInitMarketValidation(t *testing.T) {
	engine := NewEngine()
	engine.SetState(newMockState())

	if _, err := engine.InitMarket(adminAddr, feeAddr, 10_001, 0); !errors.Is(err, ErrFeeTooHigh) {
		t.Fatalf("expected ErrFeeTooHigh, got %v", err)
	}
	if _, err := engine.InitMarket(adminAddr, feeAddr, 0, 10_001); !errors.Is(err, ErrFeeTooHigh) {
		t.Fatalf("expected ErrFeeTooHigh, got %v", err)
	}
	if _, err := engine.InitMarket(adminAddr, crypto.Address{}, 0, 0); !errors.Is(err, ErrInvalidFeeRecipient) {
		t.Fatalf("expected ErrInvalidFeeRecipient, got %v", err)
	}
	market, err := engine.InitMarket(adminAddr, feeAddr, 10_000, 10_000)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if market.Address != MarketAddress() || market.Admin != adminAddr {
		t.Fatalf("unexpected market %+v", market)
	}
	if _, err := engine.InitMarket(adminAddr, feeAddr, 0, 0); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestCreateAssetPairRequiresAdmin(t *testing.T) {
	engine := NewEngine()
	engine.SetState(newMockState())
	if _, err := engine.CreateAssetPair(adminAddr, "USDC", "SOL"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before init, got %v", err)
	}
	if _, err := engine.InitMarket(adminAddr, feeAddr, 0, 0); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := engine.CreateAssetPair(strangerAddr, "USDC", "SOL"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := engine.CreateAssetPair(adminAddr, "USDC", "usdc"); !errors.Is(err, ErrInvalidAssetPair) {
		t.Fatalf("expected ErrInvalidAssetPair, got %v", err)
	}
	pair, err := engine.CreateAssetPair(adminAddr, "usdc", "sol")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !pair.IsActive || pair.LoanAsset != "USDC" || pair.CollateralAsset != "SOL" {
		t.Fatalf("unexpected pair %+v", pair)
	}
	if pair.Address != AssetPairAddress("USDC", "SOL") || pair.Address == AssetPairAddress("SOL", "USDC") {
		t.Fatalf("pair address must be keyed by the ordered pair")
	}
	if _, err := engine.CreateAssetPair(adminAddr, "USDC", "SOL"); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
	if _, err := engine.CreateAssetPair(adminAddr, "SOL", "USDC"); err != nil {
		t.Fatalf("reverse pair is distinct: %v", err)
	}
}

func TestCreateThenCancelOfferRefundsLender(t *testing.T) {
	f := newFixture(t)
	offer := f.offer(t, 1)

	escrowAddr := escrow.VaultAddress(offer.Address, escrow.RoleEscrow)
	if got := f.state.vaults[escrowAddr].Balance; got != principal {
		t.Fatalf("escrow holds %d, want %d", got, principal)
	}
	if got := f.state.balance(lenderAddr, "USDC"); got != 4*principal {
		t.Fatalf("lender balance %d", got)
	}
	if offer.CreatedAt != 1_000 || !offer.IsActive {
		t.Fatalf("unexpected offer %+v", offer)
	}

	if _, err := f.engine.CancelOffer(strangerAddr, offer.Address); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	refunded, err := f.engine.CancelOffer(lenderAddr, offer.Address)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if refunded != principal {
		t.Fatalf("refunded %d", refunded)
	}
	if got := f.state.balance(lenderAddr, "USDC"); got != 5*principal {
		t.Fatalf("lender not made whole: %d", got)
	}
	if _, ok := f.state.vaults[escrowAddr]; ok {
		t.Fatalf("escrow vault not closed")
	}
	if _, ok := f.state.offers[offer.Address]; ok {
		t.Fatalf("cancelled offer not removed")
	}
	if _, err := f.engine.CancelOffer(lenderAddr, offer.Address); !errors.Is(err, ErrOfferNotActive) {
		t.Fatalf("expected ErrOfferNotActive, got %v", err)
	}
	if _, err := f.engine.TakeLoan(borrowerAddr, TakeParams{Offer: offer.Address, LoanAsset: "USDC", CollateralAsset: "SOL", CollateralAmount: collateral}); !errors.Is(err, ErrOfferNotActive) {
		t.Fatalf("expected ErrOfferNotActive, got %v", err)
	}
}

func TestCreateOfferValidation(t *testing.T) {
	f := newFixture(t)
	base := OfferParams{Pair: f.pair.Address, Asset: "USDC", OfferID: 9, LoanAmount: principal, InterestRateBps: 1000, LTVBps: 8000}

	cases := []struct {
		name   string
		mutate func(*OfferParams)
		want   error
	}{
		{"asset mismatch", func(p *OfferParams) { p.Asset = "SOL" }, ErrInvalidAssetPair},
		{"zero amount", func(p *OfferParams) { p.LoanAmount = 0 }, ErrInvalidLoanAmount},
		{"rate too high", func(p *OfferParams) { p.InterestRateBps = 10_001 }, ErrInvalidInterestRate},
		{"zero ltv", func(p *OfferParams) { p.LTVBps = 0 }, ErrInvalidLTV},
		{"ltv too high", func(p *OfferParams) { p.LTVBps = 10_001 }, ErrInvalidLTV},
		{"unknown pair", func(p *OfferParams) { p.Pair = testAddress(0x77) }, ErrNotFound},
		{"insufficient funds", func(p *OfferParams) { p.LoanAmount = 6 * principal }, ErrInsufficientFunds},
	}
	for _, tc := range cases {
		params := base
		tc.mutate(&params)
		if _, err := f.engine.CreateOffer(lenderAddr, params); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if len(f.state.offers) != 0 || len(f.state.vaults) != 0 {
		t.Fatalf("rejected offers left state behind")
	}
	if got := f.state.balance(lenderAddr, "USDC"); got != 5*principal {
		t.Fatalf("lender balance changed: %d", got)
	}

	if _, err := f.engine.CreateOffer(lenderAddr, base); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.engine.CreateOffer(lenderAddr, base); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}

	f.state.pairs[f.pair.Address].IsActive = false
	base.OfferID = 10
	if _, err := f.engine.CreateOffer(lenderAddr, base); !errors.Is(err, ErrMarketNotActive) {
		t.Fatalf("expected ErrMarketNotActive, got %v", err)
	}
}

func TestPausedModuleBlocksEntryPaths(t *testing.T) {
	f := newFixture(t)
	offer := f.offer(t, 1)
	f.engine.SetPauses(stubPauseView{modules: map[string]bool{"lending": true}})

	if _, err := f.engine.CreateOffer(lenderAddr, OfferParams{Pair: f.pair.Address, Asset: "USDC", OfferID: 2, LoanAmount: 1, LTVBps: 1}); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if _, err := f.engine.TakeLoan(borrowerAddr, TakeParams{Offer: offer.Address, LoanAsset: "USDC", CollateralAsset: "SOL", CollateralAmount: collateral}); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if _, err := f.engine.CancelOffer(lenderAddr, offer.Address); err != nil {
		t.Fatalf("cancel must stay available while paused: %v", err)
	}
}

func TestTakeLoanOriginates(t *testing.T) {
	f := newFixture(t)
	offer := f.offer(t, 1)
	f.collector.Drain()
	f.now = 5_000

	origination := f.take(t, offer)
	if origination.RequiredCollateral != collateral {
		t.Fatalf("required collateral %d", origination.RequiredCollateral)
	}
	if origination.BorrowerFee != 10_000_000 || origination.BorrowerReceives != 990_000_000 {
		t.Fatalf("unexpected fee split %d/%d", origination.BorrowerFee, origination.BorrowerReceives)
	}
	loan := origination.Loan
	if loan.Address != LoanAddress(offer.Address, borrowerAddr) {
		t.Fatalf("unexpected loan address")
	}
	if loan.InterestRateBps != 1000 || loan.LTVBps != 8000 || loan.PrincipalAmount != principal || loan.CollateralAmount != collateral {
		t.Fatalf("terms not copied from offer: %+v", loan)
	}
	if loan.LoanStartTime != 5_000 || loan.LastInterestUpdate != 5_000 || loan.RepaymentDeadline != nil || !loan.IsActive {
		t.Fatalf("unexpected loan state %+v", loan)
	}

	if got := f.state.balance(borrowerAddr, "USDC"); got != 990_000_000 {
		t.Fatalf("borrower received %d", got)
	}
	if got := f.state.balance(feeAddr, "USDC"); got != 10_000_000 {
		t.Fatalf("fee recipient received %d", got)
	}
	if got := f.state.balance(borrowerAddr, "SOL"); got != collateral {
		t.Fatalf("borrower collateral left %d", got)
	}
	vault := f.state.vaults[escrow.VaultAddress(loan.Address, escrow.RoleCollateral)]
	if vault == nil || vault.Balance != collateral || vault.Asset != "SOL" {
		t.Fatalf("unexpected collateral vault %+v", vault)
	}
	if _, ok := f.state.vaults[escrow.VaultAddress(offer.Address, escrow.RoleEscrow)]; ok {
		t.Fatalf("drained escrow not closed")
	}
	stored := f.state.offers[offer.Address]
	if stored == nil || stored.IsActive {
		t.Fatalf("consumed offer must be retained inactive: %+v", stored)
	}

	var sawOrigination bool
	for _, evt := range f.collector.Drain() {
		if evt.Type == EventTypeLoanOriginated {
			sawOrigination = evt.Attributes["borrowerFee"] == "10000000"
		}
	}
	if !sawOrigination {
		t.Fatalf("missing origination event")
	}

	if _, err := f.engine.TakeLoan(strangerAddr, TakeParams{Offer: offer.Address, LoanAsset: "USDC", CollateralAsset: "SOL", CollateralAmount: collateral}); !errors.Is(err, ErrOfferNotActive) {
		t.Fatalf("expected ErrOfferNotActive, got %v", err)
	}
	if _, err := f.engine.CancelOffer(lenderAddr, offer.Address); !errors.Is(err, ErrOfferNotActive) {
		t.Fatalf("expected ErrOfferNotActive, got %v", err)
	}
}

func TestTakeLoanValidation(t *testing.T) {
	f := newFixture(t)
	offer := f.offer(t, 1)

	cases := []struct {
		name   string
		params TakeParams
		want   error
	}{
		{"short collateral", TakeParams{Offer: offer.Address, LoanAsset: "USDC", CollateralAsset: "SOL", CollateralAmount: collateral - 1}, ErrInvalidCollateralAmount},
		{"wrong loan asset", TakeParams{Offer: offer.Address, LoanAsset: "USDT", CollateralAsset: "SOL", CollateralAmount: collateral}, ErrInvalidAssetPair},
		{"wrong collateral asset", TakeParams{Offer: offer.Address, LoanAsset: "USDC", CollateralAsset: "ETH", CollateralAmount: collateral}, ErrInvalidAssetPair},
		{"unknown offer", TakeParams{Offer: testAddress(0x99), LoanAsset: "USDC", CollateralAsset: "SOL", CollateralAmount: collateral}, ErrOfferNotActive},
		{"insufficient collateral funds", TakeParams{Offer: offer.Address, LoanAsset: "USDC", CollateralAsset: "SOL", CollateralAmount: 3 * collateral}, ErrInsufficientFunds},
	}
	for _, tc := range cases {
		if _, err := f.engine.TakeLoan(borrowerAddr, tc.params); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if len(f.state.loans) != 0 || !f.state.offers[offer.Address].IsActive {
		t.Fatalf("rejected take mutated state")
	}
	if got := f.state.vaults[escrow.VaultAddress(offer.Address, escrow.RoleEscrow)].Balance; got != principal {
		t.Fatalf("escrow changed: %d", got)
	}
	if got := f.state.balance(borrowerAddr, "SOL"); got != 2*collateral {
		t.Fatalf("borrower collateral changed: %d", got)
	}
}

func TestTakeLoanDetectsEscrowDrift(t *testing.T) {
	f := newFixture(t)
	offer := f.offer(t, 1)
	f.state.vaults[escrow.VaultAddress(offer.Address, escrow.RoleEscrow)].Balance = principal - 1
	if _, err := f.engine.TakeLoan(borrowerAddr, TakeParams{Offer: offer.Address, LoanAsset: "USDC", CollateralAsset: "SOL", CollateralAmount: collateral}); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestRepayLoanSettles(t *testing.T) {
	f := newFixture(t)
	offer := f.offer(t, 1)
	loan := f.take(t, offer).Loan

	f.now = loan.LoanStartTime + 73*SecondsPerDay
	quote, err := f.engine.QuoteRepayment(loan.Address)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Days != 73 || quote.Interest != 20_000_000 || quote.Total != 1_020_000_000 || quote.LenderFee != 20_400_000 || quote.LenderReceives != 999_600_000 {
		t.Fatalf("unexpected quote %+v", quote)
	}

	if _, err := f.engine.RepayLoan(borrowerAddr, loan.Address); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := f.state.balance(borrowerAddr, "USDC"); got != 990_000_000 {
		t.Fatalf("failed repayment moved funds: %d", got)
	}
	if _, ok := f.state.loans[loan.Address]; !ok {
		t.Fatalf("failed repayment closed the loan")
	}

	f.state.fund(borrowerAddr, "USDC", 30_000_000)
	if _, err := f.engine.RepayLoan(lenderAddr, loan.Address); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	settlement, err := f.engine.RepayLoan(borrowerAddr, loan.Address)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if settlement.Quote != quote || settlement.CollateralReturned != collateral {
		t.Fatalf("unexpected settlement %+v", settlement)
	}
	if got := f.state.balance(borrowerAddr, "USDC"); got != 0 {
		t.Fatalf("borrower USDC left %d", got)
	}
	if got := f.state.balance(lenderAddr, "USDC"); got != 4*principal+999_600_000 {
		t.Fatalf("lender USDC %d", got)
	}
	if got := f.state.balance(feeAddr, "USDC"); got != 10_000_000+20_400_000 {
		t.Fatalf("fee recipient USDC %d", got)
	}
	if got := f.state.balance(borrowerAddr, "SOL"); got != 2*collateral {
		t.Fatalf("collateral not returned: %d", got)
	}
	if _, ok := f.state.loans[loan.Address]; ok {
		t.Fatalf("repaid loan not removed")
	}
	if _, ok := f.state.vaults[escrow.VaultAddress(loan.Address, escrow.RoleCollateral)]; ok {
		t.Fatalf("collateral vault not closed")
	}
	if _, err := f.engine.RepayLoan(borrowerAddr, loan.Address); !errors.Is(err, ErrLoanNotActive) {
		t.Fatalf("expected ErrLoanNotActive, got %v", err)
	}
	if _, err := f.engine.LiquidateLoan(lenderAddr, loan.Address, 20_000); !errors.Is(err, ErrLoanNotActive) {
		t.Fatalf("expected ErrLoanNotActive, got %v", err)
	}
}

func TestLiquidationGating(t *testing.T) {
	f := newFixture(t)
	offer := f.offer(t, 1)
	loan := f.take(t, offer).Loan

	if _, err := f.engine.LiquidateLoan(lenderAddr, loan.Address, LiquidationLTVThresholdBps); !errors.Is(err, ErrCannotLiquidateHealthyLoan) {
		t.Fatalf("expected ErrCannotLiquidateHealthyLoan, got %v", err)
	}
	if _, err := f.engine.LiquidateLoan(borrowerAddr, loan.Address, 20_000); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	result, err := f.engine.LiquidateLoan(lenderAddr, loan.Address, LiquidationLTVThresholdBps+1)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.Seized != collateral || result.Overdue {
		t.Fatalf("unexpected liquidation %+v", result)
	}
	if got := f.state.balance(lenderAddr, "SOL"); got != collateral {
		t.Fatalf("lender seized %d", got)
	}
}

func TestRepaymentRequestThenOverdueLiquidation(t *testing.T) {
	f := newFixture(t)
	offer := f.offer(t, 1)
	loan := f.take(t, offer).Loan

	if _, err := f.engine.RequestRepayment(borrowerAddr, loan.Address); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	f.now = 2_000
	deadline, err := f.engine.RequestRepayment(lenderAddr, loan.Address)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if deadline != 2_000+RepaymentNoticeDuration {
		t.Fatalf("deadline %d", deadline)
	}
	f.now = 3_000
	rearmed, err := f.engine.RequestRepayment(lenderAddr, loan.Address)
	if err != nil {
		t.Fatalf("re-request: %v", err)
	}
	if rearmed != 3_000+RepaymentNoticeDuration {
		t.Fatalf("re-armed deadline %d", rearmed)
	}

	f.now = rearmed
	if _, err := f.engine.LiquidateLoan(lenderAddr, loan.Address, 0); !errors.Is(err, ErrCannotLiquidateHealthyLoan) {
		t.Fatalf("expected ErrCannotLiquidateHealthyLoan at the deadline, got %v", err)
	}
	f.now = rearmed + 1
	feesBefore := f.state.balance(feeAddr, "SOL")
	result, err := f.engine.LiquidateLoan(lenderAddr, loan.Address, 0)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if !result.Overdue || result.Seized != collateral {
		t.Fatalf("unexpected liquidation %+v", result)
	}
	if got := f.state.balance(lenderAddr, "SOL"); got != collateral {
		t.Fatalf("lender seized %d", got)
	}
	if got := f.state.balance(feeAddr, "SOL"); got != feesBefore {
		t.Fatalf("liquidation charged a fee")
	}
	if _, ok := f.state.loans[loan.Address]; ok {
		t.Fatalf("liquidated loan not removed")
	}
	if _, err := f.engine.RepayLoan(borrowerAddr, loan.Address); !errors.Is(err, ErrLoanNotActive) {
		t.Fatalf("expected ErrLoanNotActive, got %v", err)
	}
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	offer := f.offer(t, 1)

	required, err := f.engine.RequiredCollateralFor(offer.Address)
	if err != nil || required != collateral {
		t.Fatalf("required collateral %d %v", required, err)
	}
	pair, err := f.engine.Pair("usdc", "SOL")
	if err != nil || pair.Address != f.pair.Address {
		t.Fatalf("pair lookup: %+v %v", pair, err)
	}
	if _, err := f.engine.Loan(testAddress(0x42)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	vault, err := f.engine.Vault(escrow.VaultAddress(offer.Address, escrow.RoleEscrow))
	if err != nil || vault.Balance != principal {
		t.Fatalf("vault lookup %+v %v", vault, err)
	}
	if balance, err := f.engine.Balance(lenderAddr, "usdc"); err != nil || balance != 4*principal {
		t.Fatalf("balance %d %v", balance, err)
	}
	if _, err := NewEngine().Market(); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected ErrNilState, got %v", err)
	}
}

func TestTakeLoanCreditOverflowLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	offer := f.offer(t, 1)
	f.state.fund(feeAddr, "USDC", math.MaxUint64)

	_, err := f.engine.TakeLoan(borrowerAddr, TakeParams{
		Offer:            offer.Address,
		LoanAsset:        "USDC",
		CollateralAsset:  "SOL",
		CollateralAmount: collateral,
	})
	if !errors.Is(err, ErrInterestCalculationOverflow) {
		t.Fatalf("expected ErrInterestCalculationOverflow, got %v", err)
	}
	if got := f.state.balance(borrowerAddr, "SOL"); got != 2*collateral {
		t.Fatalf("borrower collateral moved: %d", got)
	}
	if got := f.state.balance(borrowerAddr, "USDC"); got != 0 {
		t.Fatalf("borrower received %d", got)
	}
	loanAddr := LoanAddress(offer.Address, borrowerAddr)
	if _, ok := f.state.vaults[escrow.VaultAddress(loanAddr, escrow.RoleCollateral)]; ok {
		t.Fatalf("collateral vault opened")
	}
	if _, ok := f.state.loans[loanAddr]; ok {
		t.Fatalf("loan recorded")
	}
	escrowVault := f.state.vaults[escrow.VaultAddress(offer.Address, escrow.RoleEscrow)]
	if escrowVault == nil || escrowVault.Balance != principal {
		t.Fatalf("escrow drifted: %+v", escrowVault)
	}
	if stored := f.state.offers[offer.Address]; stored == nil || !stored.IsActive {
		t.Fatalf("offer deactivated: %+v", stored)
	}
}

func TestRepayCreditOverflowLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	loan := f.take(t, f.offer(t, 1)).Loan
	f.state.fund(borrowerAddr, "USDC", 10_000_000)
	f.state.fund(lenderAddr, "USDC", math.MaxUint64-f.state.balance(lenderAddr, "USDC"))

	if _, err := f.engine.RepayLoan(borrowerAddr, loan.Address); !errors.Is(err, ErrInterestCalculationOverflow) {
		t.Fatalf("expected ErrInterestCalculationOverflow, got %v", err)
	}
	if got := f.state.balance(borrowerAddr, "USDC"); got != principal {
		t.Fatalf("borrower debited: %d", got)
	}
	if got := f.state.balance(feeAddr, "USDC"); got != 10_000_000 {
		t.Fatalf("fee recipient credited: %d", got)
	}
	if _, ok := f.state.loans[loan.Address]; !ok {
		t.Fatalf("loan closed")
	}
	vault := f.state.vaults[escrow.VaultAddress(loan.Address, escrow.RoleCollateral)]
	if vault == nil || vault.Balance != collateral {
		t.Fatalf("collateral vault changed: %+v", vault)
	}
}

func TestLiquidateCreditOverflowLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	loan := f.take(t, f.offer(t, 1)).Loan
	f.state.fund(lenderAddr, "SOL", math.MaxUint64)

	if _, err := f.engine.LiquidateLoan(lenderAddr, loan.Address, 20_000); !errors.Is(err, ErrInterestCalculationOverflow) {
		t.Fatalf("expected ErrInterestCalculationOverflow, got %v", err)
	}
	if _, ok := f.state.loans[loan.Address]; !ok {
		t.Fatalf("loan closed")
	}
	vault := f.state.vaults[escrow.VaultAddress(loan.Address, escrow.RoleCollateral)]
	if vault == nil || vault.Balance != collateral {
		t.Fatalf("collateral vault changed: %+v", vault)
	}
}

func TestCancelOfferCreditOverflowKeepsEscrow(t *testing.T) {
	f := newFixture(t)
	offer := f.offer(t, 1)
	f.state.fund(lenderAddr, "USDC", math.MaxUint64-f.state.balance(lenderAddr, "USDC"))

	if _, err := f.engine.CancelOffer(lenderAddr, offer.Address); !errors.Is(err, ErrInterestCalculationOverflow) {
		t.Fatalf("expected ErrInterestCalculationOverflow, got %v", err)
	}
	if stored := f.state.offers[offer.Address]; stored == nil || !stored.IsActive {
		t.Fatalf("offer removed: %+v", stored)
	}
	escrowVault := f.state.vaults[escrow.VaultAddress(offer.Address, escrow.RoleEscrow)]
	if escrowVault == nil || escrowVault.Balance != principal {
		t.Fatalf("escrow drained: %+v", escrowVault)
	}
}

func TestRequestRepaymentRejectsDeadlineOverflow(t *testing.T) {
	f := newFixture(t)
	loan := f.take(t, f.offer(t, 1)).Loan

	f.now = math.MaxInt64 - 10
	if _, err := f.engine.RequestRepayment(lenderAddr, loan.Address); !errors.Is(err, ErrInterestCalculationOverflow) {
		t.Fatalf("expected ErrInterestCalculationOverflow, got %v", err)
	}
	if stored := f.state.loans[loan.Address]; stored == nil || stored.RepaymentDeadline != nil {
		t.Fatalf("deadline recorded: %+v", stored)
	}
	if _, err := f.engine.LiquidateLoan(lenderAddr, loan.Address, 0); !errors.Is(err, ErrCannotLiquidateHealthyLoan) {
		t.Fatalf("expected ErrCannotLiquidateHealthyLoan, got %v", err)
	}
}
