package lending

import (
	"strconv"

	"p2plend/core/types"
)

const (
	EventTypeMarketInitialized      = "lending.market.initialized"
	EventTypePairCreated            = "lending.pair.created"
	EventTypeOfferCreated           = "lending.offer.created"
	EventTypeOfferCancelled         = "lending.offer.cancelled"
	EventTypeLoanOriginated         = "lending.loan.originated"
	EventTypeLoanRepaid             = "lending.loan.repaid"
	EventTypeLoanRepaymentRequested = "lending.loan.repayment_requested"
	EventTypeLoanLiquidated         = "lending.loan.liquidated"
)

type lendingEvent struct {
	evt *types.Event
}

func (e lendingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e lendingEvent) Event() *types.Event { return e.evt }

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }

func newMarketInitializedEvent(m *MarketConfig) *types.Event {
	return &types.Event{
		Type: EventTypeMarketInitialized,
		Attributes: map[string]string{
			"market":         m.Address.String(),
			"admin":          m.Admin.String(),
			"feeRecipient":   m.FeeRecipient.String(),
			"lenderFeeBps":   formatUint(m.LenderFeeBps),
			"borrowerFeeBps": formatUint(m.BorrowerFeeBps),
		},
	}
}

func newPairCreatedEvent(p *AssetPairMarket) *types.Event {
	return &types.Event{
		Type: EventTypePairCreated,
		Attributes: map[string]string{
			"pair":            p.Address.String(),
			"loanAsset":       p.LoanAsset,
			"collateralAsset": p.CollateralAsset,
		},
	}
}

func newOfferCreatedEvent(o *LendingOffer) *types.Event {
	return &types.Event{
		Type: EventTypeOfferCreated,
		Attributes: map[string]string{
			"offer":           o.Address.String(),
			"lender":          o.Lender.String(),
			"pair":            o.AssetPair.String(),
			"offerId":         formatUint(o.OfferID),
			"loanAmount":      formatUint(o.LoanAmount),
			"interestRateBps": formatUint(o.InterestRateBps),
			"ltvBps":          formatUint(o.LTVBps),
			"createdAt":       formatInt(o.CreatedAt),
		},
	}
}

func newOfferCancelledEvent(o *LendingOffer, refunded uint64) *types.Event {
	return &types.Event{
		Type: EventTypeOfferCancelled,
		Attributes: map[string]string{
			"offer":    o.Address.String(),
			"lender":   o.Lender.String(),
			"refunded": formatUint(refunded),
		},
	}
}

func newLoanOriginatedEvent(o *Origination) *types.Event {
	return &types.Event{
		Type: EventTypeLoanOriginated,
		Attributes: map[string]string{
			"loan":             o.Loan.Address.String(),
			"offer":            o.Loan.Offer.String(),
			"lender":           o.Loan.Lender.String(),
			"borrower":         o.Loan.Borrower.String(),
			"principal":        formatUint(o.Loan.PrincipalAmount),
			"collateral":       formatUint(o.Loan.CollateralAmount),
			"borrowerFee":      formatUint(o.BorrowerFee),
			"borrowerReceives": formatUint(o.BorrowerReceives),
			"startTime":        formatInt(o.Loan.LoanStartTime),
		},
	}
}

func newLoanRepaidEvent(s *Settlement) *types.Event {
	return &types.Event{
		Type: EventTypeLoanRepaid,
		Attributes: map[string]string{
			"loan":               s.Loan.Address.String(),
			"borrower":           s.Loan.Borrower.String(),
			"lender":             s.Loan.Lender.String(),
			"interest":           formatUint(s.Quote.Interest),
			"total":              formatUint(s.Quote.Total),
			"lenderFee":          formatUint(s.Quote.LenderFee),
			"lenderReceives":     formatUint(s.Quote.LenderReceives),
			"collateralReturned": formatUint(s.CollateralReturned),
		},
	}
}

func newRepaymentRequestedEvent(l *Loan) *types.Event {
	attrs := map[string]string{
		"loan":   l.Address.String(),
		"lender": l.Lender.String(),
	}
	if l.RepaymentDeadline != nil {
		attrs["deadline"] = formatInt(*l.RepaymentDeadline)
	}
	return &types.Event{Type: EventTypeLoanRepaymentRequested, Attributes: attrs}
}

func newLoanLiquidatedEvent(l *Liquidation) *types.Event {
	return &types.Event{
		Type: EventTypeLoanLiquidated,
		Attributes: map[string]string{
			"loan":          l.Loan.Address.String(),
			"lender":        l.Loan.Lender.String(),
			"borrower":      l.Loan.Borrower.String(),
			"seized":        formatUint(l.Seized),
			"currentLtvBps": formatUint(l.CurrentLTVBps),
			"overdue":       strconv.FormatBool(l.Overdue),
		},
	}
}
