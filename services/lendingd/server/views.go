package server

import (
	"p2plend/crypto"
	"p2plend/native/escrow"
	"p2plend/native/lending"
)

type marketView struct {
	Address        crypto.Address `json:"address"`
	Admin          crypto.Address `json:"admin"`
	FeeRecipient   crypto.Address `json:"feeRecipient"`
	LenderFeeBps   uint64         `json:"lenderFeeBps"`
	BorrowerFeeBps uint64         `json:"borrowerFeeBps"`
}

func newMarketView(m *lending.MarketConfig) marketView {
	return marketView{
		Address:        m.Address,
		Admin:          m.Admin,
		FeeRecipient:   m.FeeRecipient,
		LenderFeeBps:   m.LenderFeeBps,
		BorrowerFeeBps: m.BorrowerFeeBps,
	}
}

type pairView struct {
	Address         crypto.Address `json:"address"`
	LoanAsset       string         `json:"loanAsset"`
	CollateralAsset string         `json:"collateralAsset"`
	IsActive        bool           `json:"isActive"`
}

func newPairView(p *lending.AssetPairMarket) pairView {
	return pairView{Address: p.Address, LoanAsset: p.LoanAsset, CollateralAsset: p.CollateralAsset, IsActive: p.IsActive}
}

type offerView struct {
	Address            crypto.Address `json:"address"`
	Lender             crypto.Address `json:"lender"`
	AssetPair          crypto.Address `json:"assetPair"`
	Escrow             crypto.Address `json:"escrow"`
	LoanAmount         uint64         `json:"loanAmount"`
	InterestRateBps    uint64         `json:"interestRateBps"`
	LTVBps             uint64         `json:"ltvBps"`
	OfferID            uint64         `json:"offerId"`
	IsActive           bool           `json:"isActive"`
	CreatedAt          int64          `json:"createdAt"`
	RequiredCollateral *uint64        `json:"requiredCollateral,omitempty"`
}

func newOfferView(o *lending.LendingOffer) offerView {
	view := offerView{
		Address:         o.Address,
		Lender:          o.Lender,
		AssetPair:       o.AssetPair,
		Escrow:          escrow.VaultAddress(o.Address, escrow.RoleEscrow),
		LoanAmount:      o.LoanAmount,
		InterestRateBps: o.InterestRateBps,
		LTVBps:          o.LTVBps,
		OfferID:         o.OfferID,
		IsActive:        o.IsActive,
		CreatedAt:       o.CreatedAt,
	}
	if o.IsActive {
		if required, err := lending.RequiredCollateral(o.LoanAmount, o.LTVBps); err == nil {
			view.RequiredCollateral = &required
		}
	}
	return view
}

type loanView struct {
	Address            crypto.Address `json:"address"`
	Offer              crypto.Address `json:"offer"`
	AssetPair          crypto.Address `json:"assetPair"`
	CollateralVault    crypto.Address `json:"collateralVault"`
	Lender             crypto.Address `json:"lender"`
	Borrower           crypto.Address `json:"borrower"`
	PrincipalAmount    uint64         `json:"principalAmount"`
	CollateralAmount   uint64         `json:"collateralAmount"`
	InterestRateBps    uint64         `json:"interestRateBps"`
	LTVBps             uint64         `json:"ltvBps"`
	LoanStartTime      int64          `json:"loanStartTime"`
	LastInterestUpdate int64          `json:"lastInterestUpdate"`
	RepaymentDeadline  *int64         `json:"repaymentDeadline"`
	IsActive           bool           `json:"isActive"`
}

func newLoanView(l *lending.Loan) loanView {
	return loanView{
		Address:            l.Address,
		Offer:              l.Offer,
		AssetPair:          l.AssetPair,
		CollateralVault:    escrow.VaultAddress(l.Address, escrow.RoleCollateral),
		Lender:             l.Lender,
		Borrower:           l.Borrower,
		PrincipalAmount:    l.PrincipalAmount,
		CollateralAmount:   l.CollateralAmount,
		InterestRateBps:    l.InterestRateBps,
		LTVBps:             l.LTVBps,
		LoanStartTime:      l.LoanStartTime,
		LastInterestUpdate: l.LastInterestUpdate,
		RepaymentDeadline:  l.RepaymentDeadline,
		IsActive:           l.IsActive,
	}
}

type quoteView struct {
	Days           uint64 `json:"days"`
	Interest       uint64 `json:"interest"`
	Total          uint64 `json:"total"`
	LenderFee      uint64 `json:"lenderFee"`
	LenderReceives uint64 `json:"lenderReceives"`
}

func newQuoteView(q lending.Quote) quoteView {
	return quoteView{Days: q.Days, Interest: q.Interest, Total: q.Total, LenderFee: q.LenderFee, LenderReceives: q.LenderReceives}
}
