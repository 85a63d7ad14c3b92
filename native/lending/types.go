package lending

import (
	"encoding/binary"

	"p2plend/crypto"
)

// MarketConfig is the deployment-wide singleton holding the admin identity and
// the protocol fee schedule.
type MarketConfig struct {
	Address crypto.Address
	// Admin is the only identity allowed to register asset pairs.
	Admin crypto.Address
	// FeeRecipient receives both borrower and lender fees.
	FeeRecipient crypto.Address
	// LenderFeeBps is charged on the total repayment at settlement.
	LenderFeeBps uint64
	// BorrowerFeeBps is charged on the principal at origination.
	BorrowerFeeBps uint64
}

// AssetPairMarket gates offers and loans for one (loan asset, collateral asset)
// pair.
type AssetPairMarket struct {
	Address         crypto.Address
	LoanAsset       string
	CollateralAsset string
	IsActive        bool
}

// LendingOffer is a lender's standing offer. While active its escrow vault
// holds exactly LoanAmount of the pair's loan asset.
type LendingOffer struct {
	Address         crypto.Address
	Lender          crypto.Address
	AssetPair       crypto.Address
	LoanAmount      uint64
	InterestRateBps uint64
	LTVBps          uint64
	OfferID         uint64
	IsActive        bool
	CreatedAt       int64
}

// Loan is an originated loan. Interest and LTV terms are copied from the offer
// at origination and never re-read. While active its collateral vault holds
// exactly CollateralAmount of the pair's collateral asset.
type Loan struct {
	Address          crypto.Address
	Offer            crypto.Address
	AssetPair        crypto.Address
	Lender           crypto.Address
	Borrower         crypto.Address
	PrincipalAmount  uint64
	CollateralAmount uint64
	InterestRateBps  uint64
	LTVBps           uint64
	LoanStartTime    int64
	// LastInterestUpdate is recorded at origination but unused by the
	// simple-interest formula.
	LastInterestUpdate int64
	// RepaymentDeadline is nil until the lender requests repayment.
	RepaymentDeadline *int64
	IsActive          bool
}

// Clone returns a copy of the market configuration.
func (m *MarketConfig) Clone() *MarketConfig {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

// Clone returns a copy of the asset pair.
func (p *AssetPairMarket) Clone() *AssetPairMarket {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// Clone returns a copy of the offer.
func (o *LendingOffer) Clone() *LendingOffer {
	if o == nil {
		return nil
	}
	clone := *o
	return &clone
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	if l.RepaymentDeadline != nil {
		deadline := *l.RepaymentDeadline
		clone.RepaymentDeadline = &deadline
	}
	return &clone
}

// MarketAddress is the address of the MarketConfig singleton.
func MarketAddress() crypto.Address {
	return crypto.DeriveAddress(seedMarket)
}

// AssetPairAddress derives the address keyed by the ordered asset pair. The
// symbols must already be normalised.
func AssetPairAddress(loanAsset, collateralAsset string) crypto.Address {
	return crypto.DeriveAddress(seedAssetPair, []byte(loanAsset), []byte(collateralAsset))
}

// OfferAddress derives the address keyed by (lender, offer id).
func OfferAddress(lender crypto.Address, offerID uint64) crypto.Address {
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], offerID)
	return crypto.DeriveAddress(seedOffer, lender[:], id[:])
}

// LoanAddress derives the address of the loan originated from offer by
// borrower.
func LoanAddress(offer, borrower crypto.Address) crypto.Address {
	return crypto.DeriveAddress(seedLoan, offer[:], borrower[:])
}
