package lending

import (
	"errors"
	"math"
	"time"

	"github.com/holiman/uint256"

	"p2plend/core/events"
	"p2plend/core/types"
	"p2plend/crypto"
	nativecommon "p2plend/native/common"
	"p2plend/native/escrow"
)

// State is the persistence surface required by the lending engine. It embeds
// the custody state so offers and loans can own vaults.
type State interface {
	escrow.State
	MarketGet() (*MarketConfig, bool, error)
	MarketPut(market *MarketConfig) error
	PairGet(addr crypto.Address) (*AssetPairMarket, bool, error)
	PairPut(pair *AssetPairMarket) error
	OfferGet(addr crypto.Address) (*LendingOffer, bool, error)
	OfferPut(offer *LendingOffer) error
	OfferDelete(addr crypto.Address) error
	LoanGet(addr crypto.Address) (*Loan, bool, error)
	LoanPut(loan *Loan) error
	LoanDelete(addr crypto.Address) error
}

// OfferParams describes a new lending offer.
type OfferParams struct {
	Pair crypto.Address
	// Asset is the symbol the lender is depositing; it must match the pair's
	// loan asset.
	Asset           string
	OfferID         uint64
	LoanAmount      uint64
	InterestRateBps uint64
	LTVBps          uint64
}

// TakeParams describes a borrower consuming an offer.
type TakeParams struct {
	Offer            crypto.Address
	LoanAsset        string
	CollateralAsset  string
	CollateralAmount uint64
}

// Origination is the outcome of TakeLoan.
type Origination struct {
	Loan               *Loan
	RequiredCollateral uint64
	BorrowerFee        uint64
	BorrowerReceives   uint64
}

// Quote itemises what a repayment would move at a point in time.
type Quote struct {
	Days           uint64
	Interest       uint64
	Total          uint64
	LenderFee      uint64
	LenderReceives uint64
}

// Settlement is the outcome of RepayLoan.
type Settlement struct {
	Loan               *Loan
	Quote              Quote
	CollateralReturned uint64
}

// Liquidation is the outcome of LiquidateLoan.
type Liquidation struct {
	Loan          *Loan
	Seized        uint64
	CurrentLTVBps uint64
	Overdue       bool
}

// Engine applies the offer and loan state transitions. Each operation validates
// every precondition, computes every amount and checks every debit and credit
// against current balances before the first write, so a rejected operation
// leaves the backing state untouched. Storage faults raised midway are only
// rolled back when State is transactional.
type Engine struct {
	state   State
	custody *escrow.Engine
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

// NewEngine constructs a lending engine using the wall clock.
func NewEngine() *Engine {
	return &Engine{
		custody: escrow.NewEngine(),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine and its custody engine to the persistence layer.
func (e *Engine) SetState(state State) {
	if e == nil {
		return
	}
	if e.custody == nil {
		e.custody = escrow.NewEngine()
	}
	e.state = state
	e.custody.SetState(state)
}

// SetEmitter configures the event emitter shared with the custody engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	if e.custody == nil {
		e.custody = escrow.NewEngine()
	}
	e.emitter = emitter
	e.custody.SetEmitter(emitter)
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil {
		return
	}
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(lendingEvent{evt: evt})
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	return nil
}

// custodyError translates custody failures into lending failure reasons.
func custodyError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, escrow.ErrInsufficientFunds):
		return wrap(ErrInsufficientFunds, "%v", err)
	case errors.Is(err, escrow.ErrBalanceOverflow):
		return wrap(ErrInterestCalculationOverflow, "%v", err)
	case errors.Is(err, escrow.ErrVaultExists),
		errors.Is(err, escrow.ErrVaultNotFound),
		errors.Is(err, escrow.ErrVaultAuthority):
		return wrap(ErrInvariantViolation, "%v", err)
	case errors.Is(err, escrow.ErrInvalidAsset):
		return wrap(ErrInvalidAssetPair, "%v", err)
	default:
		return err
	}
}

func normalizeAsset(symbol string) (string, error) {
	normalized, err := escrow.NormalizeAsset(symbol)
	if err != nil {
		return "", wrap(ErrInvalidAssetPair, "%v", err)
	}
	return normalized, nil
}

func validBps(bps uint64) bool { return bps <= BasisPointsDenominator }

func (e *Engine) loadMarket() (*MarketConfig, error) {
	market, ok, err := e.state.MarketGet()
	if err != nil {
		return nil, err
	}
	if !ok || market == nil {
		return nil, wrap(ErrNotFound, "market not initialised")
	}
	return market, nil
}

func (e *Engine) loadPair(addr crypto.Address) (*AssetPairMarket, error) {
	pair, ok, err := e.state.PairGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok || pair == nil {
		return nil, wrap(ErrNotFound, "asset pair %s", addr)
	}
	return pair, nil
}

func (e *Engine) loadActiveOffer(addr crypto.Address) (*LendingOffer, error) {
	offer, ok, err := e.state.OfferGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok || offer == nil || !offer.IsActive {
		return nil, wrap(ErrOfferNotActive, "offer %s", addr)
	}
	return offer, nil
}

func (e *Engine) loadActiveLoan(addr crypto.Address) (*Loan, error) {
	loan, ok, err := e.state.LoanGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok || loan == nil || !loan.IsActive {
		return nil, wrap(ErrLoanNotActive, "loan %s", addr)
	}
	return loan, nil
}

func (e *Engine) requireBalance(owner crypto.Address, asset string, amount uint64) error {
	balance, err := e.custody.Balance(owner, asset)
	if err != nil {
		return custodyError(err)
	}
	if balance < amount {
		return wrap(ErrInsufficientFunds, "%s holds %d %s, needs %d", owner, balance, asset, amount)
	}
	return nil
}

// credit is a planned increase of a participant balance.
type credit struct {
	owner  crypto.Address
	asset  string
	amount uint64
}

type creditKey struct {
	owner crypto.Address
	asset string
}

// requireCreditRoom fails when any receiving balance could not absorb its
// planned credits. Credits to the same holding are summed and debits are
// ignored, so the check holds whatever order the transfers run in.
func (e *Engine) requireCreditRoom(credits ...credit) error {
	totals := make(map[creditKey]*uint256.Int, len(credits))
	order := make([]creditKey, 0, len(credits))
	for _, c := range credits {
		if c.amount == 0 {
			continue
		}
		key := creditKey{owner: c.owner, asset: c.asset}
		total, ok := totals[key]
		if !ok {
			total = new(uint256.Int)
			totals[key] = total
			order = append(order, key)
		}
		total.Add(total, uint256.NewInt(c.amount))
	}
	for _, key := range order {
		balance, err := e.custody.Balance(key.owner, key.asset)
		if err != nil {
			return custodyError(err)
		}
		after := new(uint256.Int).Add(uint256.NewInt(balance), totals[key])
		if !after.IsUint64() {
			return wrap(ErrInterestCalculationOverflow, "crediting %s %s by %s overflows its balance %d", key.owner, key.asset, totals[key].Dec(), balance)
		}
	}
	return nil
}

func (e *Engine) loadVault(addr crypto.Address) (*escrow.Vault, error) {
	vault, err := e.custody.Vault(addr)
	if err != nil {
		return nil, custodyError(err)
	}
	return vault, nil
}

// InitMarket creates the market singleton.
func (e *Engine) InitMarket(admin, feeRecipient crypto.Address, lenderFeeBps, borrowerFeeBps uint64) (*MarketConfig, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if admin.IsZero() {
		return nil, wrap(ErrUnauthorized, "admin must be set")
	}
	if !validBps(lenderFeeBps) || !validBps(borrowerFeeBps) {
		return nil, wrap(ErrFeeTooHigh, "lender %d bps, borrower %d bps", lenderFeeBps, borrowerFeeBps)
	}
	if feeRecipient.IsZero() {
		return nil, ErrInvalidFeeRecipient
	}
	if _, ok, err := e.state.MarketGet(); err != nil {
		return nil, err
	} else if ok {
		return nil, wrap(ErrAlreadyInitialized, "market")
	}
	market := &MarketConfig{
		Address:        MarketAddress(),
		Admin:          admin,
		FeeRecipient:   feeRecipient,
		LenderFeeBps:   lenderFeeBps,
		BorrowerFeeBps: borrowerFeeBps,
	}
	if err := e.state.MarketPut(market); err != nil {
		return nil, err
	}
	e.emit(newMarketInitializedEvent(market))
	return market.Clone(), nil
}

// CreateAssetPair registers an active (loan asset, collateral asset) pair. Only
// the market admin may call it.
func (e *Engine) CreateAssetPair(admin crypto.Address, loanAsset, collateralAsset string) (*AssetPairMarket, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	market, err := e.loadMarket()
	if err != nil {
		return nil, err
	}
	if admin != market.Admin {
		return nil, wrap(ErrUnauthorized, "%s is not the market admin", admin)
	}
	loanSymbol, err := normalizeAsset(loanAsset)
	if err != nil {
		return nil, err
	}
	collateralSymbol, err := normalizeAsset(collateralAsset)
	if err != nil {
		return nil, err
	}
	if loanSymbol == collateralSymbol {
		return nil, wrap(ErrInvalidAssetPair, "loan and collateral asset are both %s", loanSymbol)
	}
	addr := AssetPairAddress(loanSymbol, collateralSymbol)
	if _, ok, err := e.state.PairGet(addr); err != nil {
		return nil, err
	} else if ok {
		return nil, wrap(ErrAlreadyInitialized, "asset pair %s/%s", loanSymbol, collateralSymbol)
	}
	pair := &AssetPairMarket{
		Address:         addr,
		LoanAsset:       loanSymbol,
		CollateralAsset: collateralSymbol,
		IsActive:        true,
	}
	if err := e.state.PairPut(pair); err != nil {
		return nil, err
	}
	e.emit(newPairCreatedEvent(pair))
	return pair.Clone(), nil
}

// CreateOffer posts a lending offer and locks LoanAmount in an escrow vault
// owned by the offer.
func (e *Engine) CreateOffer(lender crypto.Address, params OfferParams) (*LendingOffer, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	pair, err := e.loadPair(params.Pair)
	if err != nil {
		return nil, err
	}
	if !pair.IsActive {
		return nil, wrap(ErrMarketNotActive, "asset pair %s", pair.Address)
	}
	asset, err := normalizeAsset(params.Asset)
	if err != nil {
		return nil, err
	}
	if asset != pair.LoanAsset {
		return nil, wrap(ErrInvalidAssetPair, "deposit asset %s, pair lends %s", asset, pair.LoanAsset)
	}
	if params.LoanAmount == 0 {
		return nil, ErrInvalidLoanAmount
	}
	if !validBps(params.InterestRateBps) {
		return nil, wrap(ErrInvalidInterestRate, "%d bps", params.InterestRateBps)
	}
	if params.LTVBps == 0 || !validBps(params.LTVBps) {
		return nil, wrap(ErrInvalidLTV, "%d bps", params.LTVBps)
	}
	addr := OfferAddress(lender, params.OfferID)
	if _, ok, err := e.state.OfferGet(addr); err != nil {
		return nil, err
	} else if ok {
		return nil, wrap(ErrAlreadyInitialized, "offer %d for lender %s", params.OfferID, lender)
	}
	if err := e.requireBalance(lender, asset, params.LoanAmount); err != nil {
		return nil, err
	}

	vault, err := e.custody.Open(addr, escrow.RoleEscrow, asset)
	if err != nil {
		return nil, custodyError(err)
	}
	if err := e.custody.Deposit(vault.Address, lender, params.LoanAmount); err != nil {
		return nil, custodyError(err)
	}
	offer := &LendingOffer{
		Address:         addr,
		Lender:          lender,
		AssetPair:       pair.Address,
		LoanAmount:      params.LoanAmount,
		InterestRateBps: params.InterestRateBps,
		LTVBps:          params.LTVBps,
		OfferID:         params.OfferID,
		IsActive:        true,
		CreatedAt:       e.now(),
	}
	if err := e.state.OfferPut(offer); err != nil {
		return nil, err
	}
	e.emit(newOfferCreatedEvent(offer))
	return offer.Clone(), nil
}

// CancelOffer refunds the escrowed loan amount to the lender and removes the
// offer. The refunded amount is returned.
func (e *Engine) CancelOffer(lender, offerAddr crypto.Address) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	offer, err := e.loadActiveOffer(offerAddr)
	if err != nil {
		return 0, err
	}
	if offer.Lender != lender {
		return 0, wrap(ErrUnauthorized, "%s is not the offer lender", lender)
	}
	escrowAddr := escrow.VaultAddress(offer.Address, escrow.RoleEscrow)
	held, err := e.loadVault(escrowAddr)
	if err != nil {
		return 0, err
	}
	if err := e.requireCreditRoom(credit{owner: offer.Lender, asset: held.Asset, amount: held.Balance}); err != nil {
		return 0, err
	}

	refunded, err := e.custody.Close(escrowAddr, offer.Address, offer.Lender)
	if err != nil {
		return 0, custodyError(err)
	}
	if err := e.state.OfferDelete(offer.Address); err != nil {
		return 0, err
	}
	offer.IsActive = false
	e.emit(newOfferCancelledEvent(offer, refunded))
	return refunded, nil
}

// TakeLoan consumes an active offer: the borrower's collateral moves into a
// vault owned by the new loan, the escrowed loan amount is split between the
// borrower and the fee recipient, and the offer is retained as inactive.
func (e *Engine) TakeLoan(borrower crypto.Address, params TakeParams) (*Origination, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	offer, err := e.loadActiveOffer(params.Offer)
	if err != nil {
		return nil, err
	}
	pair, err := e.loadPair(offer.AssetPair)
	if err != nil {
		return nil, err
	}
	loanAsset, err := normalizeAsset(params.LoanAsset)
	if err != nil {
		return nil, err
	}
	collateralAsset, err := normalizeAsset(params.CollateralAsset)
	if err != nil {
		return nil, err
	}
	if loanAsset != pair.LoanAsset || collateralAsset != pair.CollateralAsset {
		return nil, wrap(ErrInvalidAssetPair, "supplied %s/%s, offer pair is %s/%s", loanAsset, collateralAsset, pair.LoanAsset, pair.CollateralAsset)
	}
	required, err := RequiredCollateral(offer.LoanAmount, offer.LTVBps)
	if err != nil {
		return nil, err
	}
	if params.CollateralAmount < required {
		return nil, wrap(ErrInvalidCollateralAmount, "supplied %d, required %d", params.CollateralAmount, required)
	}
	market, err := e.loadMarket()
	if err != nil {
		return nil, err
	}
	fee, net, err := ComputeFee(offer.LoanAmount, market.BorrowerFeeBps)
	if err != nil {
		return nil, err
	}
	loanAddr := LoanAddress(offer.Address, borrower)
	if _, ok, err := e.state.LoanGet(loanAddr); err != nil {
		return nil, err
	} else if ok {
		return nil, wrap(ErrAlreadyInitialized, "loan %s", loanAddr)
	}
	escrowAddr := escrow.VaultAddress(offer.Address, escrow.RoleEscrow)
	escrowVault, err := e.custody.Vault(escrowAddr)
	if err != nil {
		return nil, custodyError(err)
	}
	if escrowVault.Balance != offer.LoanAmount {
		return nil, wrap(ErrInvariantViolation, "escrow holds %d, offer records %d", escrowVault.Balance, offer.LoanAmount)
	}
	if err := e.requireBalance(borrower, collateralAsset, params.CollateralAmount); err != nil {
		return nil, err
	}
	if err := e.requireCreditRoom(
		credit{owner: borrower, asset: loanAsset, amount: net},
		credit{owner: market.FeeRecipient, asset: loanAsset, amount: fee},
	); err != nil {
		return nil, err
	}

	collateralVault, err := e.custody.Open(loanAddr, escrow.RoleCollateral, collateralAsset)
	if err != nil {
		return nil, custodyError(err)
	}
	if err := e.custody.Deposit(collateralVault.Address, borrower, params.CollateralAmount); err != nil {
		return nil, custodyError(err)
	}
	if err := e.custody.Release(escrowAddr, offer.Address, borrower, net); err != nil {
		return nil, custodyError(err)
	}
	if err := e.custody.Release(escrowAddr, offer.Address, market.FeeRecipient, fee); err != nil {
		return nil, custodyError(err)
	}
	drained, err := e.custody.Vault(escrowAddr)
	if err != nil {
		return nil, custodyError(err)
	}
	if drained.Balance != 0 {
		return nil, wrap(ErrInvariantViolation, "escrow retains %d after disbursement", drained.Balance)
	}
	if _, err := e.custody.Close(escrowAddr, offer.Address, offer.Lender); err != nil {
		return nil, custodyError(err)
	}

	now := e.now()
	loan := &Loan{
		Address:            loanAddr,
		Offer:              offer.Address,
		AssetPair:          pair.Address,
		Lender:             offer.Lender,
		Borrower:           borrower,
		PrincipalAmount:    offer.LoanAmount,
		CollateralAmount:   params.CollateralAmount,
		InterestRateBps:    offer.InterestRateBps,
		LTVBps:             offer.LTVBps,
		LoanStartTime:      now,
		LastInterestUpdate: now,
		IsActive:           true,
	}
	if err := e.state.LoanPut(loan); err != nil {
		return nil, err
	}
	offer.IsActive = false
	if err := e.state.OfferPut(offer); err != nil {
		return nil, err
	}
	origination := &Origination{
		Loan:               loan.Clone(),
		RequiredCollateral: required,
		BorrowerFee:        fee,
		BorrowerReceives:   net,
	}
	e.emit(newLoanOriginatedEvent(origination))
	return origination, nil
}

func (e *Engine) quote(loan *Loan, market *MarketConfig, now int64) (Quote, error) {
	days := ElapsedDays(loan.LoanStartTime, now)
	interest, err := SimpleInterest(loan.PrincipalAmount, loan.InterestRateBps, days)
	if err != nil {
		return Quote{}, err
	}
	total := loan.PrincipalAmount + interest
	if total < loan.PrincipalAmount {
		return Quote{}, wrap(ErrInterestCalculationOverflow, "principal %d + interest %d", loan.PrincipalAmount, interest)
	}
	fee, net, err := ComputeFee(total, market.LenderFeeBps)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Days: days, Interest: interest, Total: total, LenderFee: fee, LenderReceives: net}, nil
}

// RepayLoan pulls principal plus interest from the borrower, pays the lender
// net of the lender fee, returns the collateral and removes the loan.
func (e *Engine) RepayLoan(borrower, loanAddr crypto.Address) (*Settlement, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	loan, err := e.loadActiveLoan(loanAddr)
	if err != nil {
		return nil, err
	}
	if loan.Borrower != borrower {
		return nil, wrap(ErrUnauthorized, "%s is not the borrower", borrower)
	}
	market, err := e.loadMarket()
	if err != nil {
		return nil, err
	}
	pair, err := e.loadPair(loan.AssetPair)
	if err != nil {
		return nil, err
	}
	quote, err := e.quote(loan, market, e.now())
	if err != nil {
		return nil, err
	}
	if err := e.requireBalance(borrower, pair.LoanAsset, quote.Total); err != nil {
		return nil, err
	}
	collateralAddr := escrow.VaultAddress(loan.Address, escrow.RoleCollateral)
	held, err := e.loadVault(collateralAddr)
	if err != nil {
		return nil, err
	}
	if err := e.requireCreditRoom(
		credit{owner: loan.Lender, asset: pair.LoanAsset, amount: quote.LenderReceives},
		credit{owner: market.FeeRecipient, asset: pair.LoanAsset, amount: quote.LenderFee},
		credit{owner: borrower, asset: held.Asset, amount: held.Balance},
	); err != nil {
		return nil, err
	}

	if err := e.custody.Transfer(borrower, loan.Lender, pair.LoanAsset, quote.LenderReceives); err != nil {
		return nil, custodyError(err)
	}
	if err := e.custody.Transfer(borrower, market.FeeRecipient, pair.LoanAsset, quote.LenderFee); err != nil {
		return nil, custodyError(err)
	}
	returned, err := e.custody.Close(collateralAddr, loan.Address, borrower)
	if err != nil {
		return nil, custodyError(err)
	}
	if err := e.state.LoanDelete(loan.Address); err != nil {
		return nil, err
	}
	loan.IsActive = false
	settlement := &Settlement{Loan: loan, Quote: quote, CollateralReturned: returned}
	e.emit(newLoanRepaidEvent(settlement))
	return settlement, nil
}

// RequestRepayment starts the notice period after which an unpaid loan may be
// liquidated. Calling it again moves the deadline forward from now.
func (e *Engine) RequestRepayment(lender, loanAddr crypto.Address) (int64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	loan, err := e.loadActiveLoan(loanAddr)
	if err != nil {
		return 0, err
	}
	if loan.Lender != lender {
		return 0, wrap(ErrUnauthorized, "%s is not the lender", lender)
	}
	now := e.now()
	if now > math.MaxInt64-RepaymentNoticeDuration {
		return 0, wrap(ErrInterestCalculationOverflow, "repayment deadline from %d", now)
	}
	deadline := now + RepaymentNoticeDuration
	loan.RepaymentDeadline = &deadline
	if err := e.state.LoanPut(loan); err != nil {
		return 0, err
	}
	e.emit(newRepaymentRequestedEvent(loan))
	return deadline, nil
}

// LiquidateLoan seizes the full collateral for the lender when the loan is
// overdue or its current LTV exceeds the liquidation threshold. No fee is
// charged.
func (e *Engine) LiquidateLoan(lender, loanAddr crypto.Address, currentLTVBps uint64) (*Liquidation, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	loan, err := e.loadActiveLoan(loanAddr)
	if err != nil {
		return nil, err
	}
	if loan.Lender != lender {
		return nil, wrap(ErrUnauthorized, "%s is not the lender", lender)
	}
	now := e.now()
	if !CanLiquidate(loan, now, currentLTVBps) {
		return nil, wrap(ErrCannotLiquidateHealthyLoan, "ltv %d bps", currentLTVBps)
	}
	collateralAddr := escrow.VaultAddress(loan.Address, escrow.RoleCollateral)
	held, err := e.loadVault(collateralAddr)
	if err != nil {
		return nil, err
	}
	if err := e.requireCreditRoom(credit{owner: lender, asset: held.Asset, amount: held.Balance}); err != nil {
		return nil, err
	}
	seized, err := e.custody.Close(collateralAddr, loan.Address, lender)
	if err != nil {
		return nil, custodyError(err)
	}
	if err := e.state.LoanDelete(loan.Address); err != nil {
		return nil, err
	}
	loan.IsActive = false
	result := &Liquidation{
		Loan:          loan,
		Seized:        seized,
		CurrentLTVBps: currentLTVBps,
		Overdue:       loan.RepaymentDeadline != nil && now > *loan.RepaymentDeadline,
	}
	e.emit(newLoanLiquidatedEvent(result))
	return result, nil
}

// Market returns the market singleton.
func (e *Engine) Market() (*MarketConfig, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.loadMarket()
}

// Pair returns the pair registered for the supplied symbols.
func (e *Engine) Pair(loanAsset, collateralAsset string) (*AssetPairMarket, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	loanSymbol, err := normalizeAsset(loanAsset)
	if err != nil {
		return nil, err
	}
	collateralSymbol, err := normalizeAsset(collateralAsset)
	if err != nil {
		return nil, err
	}
	return e.loadPair(AssetPairAddress(loanSymbol, collateralSymbol))
}

// PairAt returns the pair stored at addr.
func (e *Engine) PairAt(addr crypto.Address) (*AssetPairMarket, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.loadPair(addr)
}

// Offer returns the offer stored at addr, active or consumed.
func (e *Engine) Offer(addr crypto.Address) (*LendingOffer, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	offer, ok, err := e.state.OfferGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok || offer == nil {
		return nil, wrap(ErrNotFound, "offer %s", addr)
	}
	return offer, nil
}

// Loan returns the active loan stored at addr.
func (e *Engine) Loan(addr crypto.Address) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	loan, ok, err := e.state.LoanGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok || loan == nil {
		return nil, wrap(ErrNotFound, "loan %s", addr)
	}
	return loan, nil
}

// Vault returns the custody vault stored at addr.
func (e *Engine) Vault(addr crypto.Address) (*escrow.Vault, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	vault, err := e.custody.Vault(addr)
	if errors.Is(err, escrow.ErrVaultNotFound) {
		return nil, wrap(ErrNotFound, "vault %s", addr)
	}
	return vault, err
}

// Balance returns the participant's holdings of asset.
func (e *Engine) Balance(addr crypto.Address, asset string) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	balance, err := e.custody.Balance(addr, asset)
	return balance, custodyError(err)
}

// QuoteRepayment prices repaying the loan at the engine's current time using
// the market's current lender fee.
func (e *Engine) QuoteRepayment(loanAddr crypto.Address) (Quote, error) {
	if err := e.ready(); err != nil {
		return Quote{}, err
	}
	loan, err := e.loadActiveLoan(loanAddr)
	if err != nil {
		return Quote{}, err
	}
	market, err := e.loadMarket()
	if err != nil {
		return Quote{}, err
	}
	return e.quote(loan, market, e.now())
}

// RequiredCollateralFor returns the minimum collateral a borrower must post to
// take the offer.
func (e *Engine) RequiredCollateralFor(offerAddr crypto.Address) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	offer, err := e.loadActiveOffer(offerAddr)
	if err != nil {
		return 0, err
	}
	return RequiredCollateral(offer.LoanAmount, offer.LTVBps)
}
