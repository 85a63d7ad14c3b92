package state

import (
	"p2plend/crypto"
	"p2plend/native/lending"
)

// RLP has no signed integer encoding, so timestamps are stored as their
// two's-complement bit pattern and the optional deadline as a flag plus value.

type storedOffer struct {
	Address         crypto.Address
	Lender          crypto.Address
	AssetPair       crypto.Address
	LoanAmount      uint64
	InterestRateBps uint64
	LTVBps          uint64
	OfferID         uint64
	IsActive        bool
	CreatedAt       uint64
}

type storedLoan struct {
	Address            crypto.Address
	Offer              crypto.Address
	AssetPair          crypto.Address
	Lender             crypto.Address
	Borrower           crypto.Address
	PrincipalAmount    uint64
	CollateralAmount   uint64
	InterestRateBps    uint64
	LTVBps             uint64
	LoanStartTime      uint64
	LastInterestUpdate uint64
	HasDeadline        bool
	RepaymentDeadline  uint64
	IsActive           bool
}

func newStoredOffer(o *lending.LendingOffer) *storedOffer {
	return &storedOffer{
		Address:         o.Address,
		Lender:          o.Lender,
		AssetPair:       o.AssetPair,
		LoanAmount:      o.LoanAmount,
		InterestRateBps: o.InterestRateBps,
		LTVBps:          o.LTVBps,
		OfferID:         o.OfferID,
		IsActive:        o.IsActive,
		CreatedAt:       uint64(o.CreatedAt),
	}
}

func (s *storedOffer) toOffer() *lending.LendingOffer {
	return &lending.LendingOffer{
		Address:         s.Address,
		Lender:          s.Lender,
		AssetPair:       s.AssetPair,
		LoanAmount:      s.LoanAmount,
		InterestRateBps: s.InterestRateBps,
		LTVBps:          s.LTVBps,
		OfferID:         s.OfferID,
		IsActive:        s.IsActive,
		CreatedAt:       int64(s.CreatedAt),
	}
}

func newStoredLoan(l *lending.Loan) *storedLoan {
	stored := &storedLoan{
		Address:            l.Address,
		Offer:              l.Offer,
		AssetPair:          l.AssetPair,
		Lender:             l.Lender,
		Borrower:           l.Borrower,
		PrincipalAmount:    l.PrincipalAmount,
		CollateralAmount:   l.CollateralAmount,
		InterestRateBps:    l.InterestRateBps,
		LTVBps:             l.LTVBps,
		LoanStartTime:      uint64(l.LoanStartTime),
		LastInterestUpdate: uint64(l.LastInterestUpdate),
		IsActive:           l.IsActive,
	}
	if l.RepaymentDeadline != nil {
		stored.HasDeadline = true
		stored.RepaymentDeadline = uint64(*l.RepaymentDeadline)
	}
	return stored
}

func (s *storedLoan) toLoan() *lending.Loan {
	loan := &lending.Loan{
		Address:            s.Address,
		Offer:              s.Offer,
		AssetPair:          s.AssetPair,
		Lender:             s.Lender,
		Borrower:           s.Borrower,
		PrincipalAmount:    s.PrincipalAmount,
		CollateralAmount:   s.CollateralAmount,
		InterestRateBps:    s.InterestRateBps,
		LTVBps:             s.LTVBps,
		LoanStartTime:      int64(s.LoanStartTime),
		LastInterestUpdate: int64(s.LastInterestUpdate),
		IsActive:           s.IsActive,
	}
	if s.HasDeadline {
		deadline := int64(s.RepaymentDeadline)
		loan.RepaymentDeadline = &deadline
	}
	return loan
}
