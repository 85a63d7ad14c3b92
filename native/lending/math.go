package lending

import (
	"github.com/holiman/uint256"
)

var (
	basisPoints     = uint256.NewInt(BasisPointsDenominator)
	interestDivisor = uint256.NewInt(BasisPointsDenominator * DaysPerYear)
)

// mulDiv computes floor(a*b/den) in 256-bit precision and reports failure when
// the product overflows, den is zero, or the quotient does not fit in uint64.
func mulDiv(a, b uint64, den *uint256.Int) (uint64, bool) {
	if den == nil || den.IsZero() {
		return 0, false
	}
	product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow {
		return 0, false
	}
	quotient := new(uint256.Int).Div(product, den)
	if !quotient.IsUint64() {
		return 0, false
	}
	return quotient.Uint64(), true
}

// ComputeFee splits amount into the fee owed at feeBps and the remainder.
func ComputeFee(amount, feeBps uint64) (fee, net uint64, err error) {
	fee, ok := mulDiv(amount, feeBps, basisPoints)
	if !ok {
		return 0, 0, wrap(ErrInterestCalculationOverflow, "fee on %d at %d bps", amount, feeBps)
	}
	if fee > amount {
		return 0, 0, wrap(ErrInterestCalculationOverflow, "fee %d exceeds amount %d", fee, amount)
	}
	return fee, amount - fee, nil
}

// RequiredCollateral returns floor(loanAmount * 10000 / ltvBps), the inverse of
// LTV = loan / collateral.
func RequiredCollateral(loanAmount, ltvBps uint64) (uint64, error) {
	if ltvBps == 0 || ltvBps > BasisPointsDenominator {
		return 0, wrap(ErrInvalidLTV, "ltv %d bps", ltvBps)
	}
	required, ok := mulDiv(loanAmount, BasisPointsDenominator, uint256.NewInt(ltvBps))
	if !ok {
		return 0, wrap(ErrInvalidCollateralAmount, "required collateral for %d at %d bps exceeds range", loanAmount, ltvBps)
	}
	return required, nil
}

// ElapsedDays truncates the time since start to whole days. Clocks that run
// backwards count as zero elapsed time.
func ElapsedDays(start, now int64) uint64 {
	if now <= start {
		return 0
	}
	elapsed := uint64(now) - uint64(start)
	return elapsed / uint64(SecondsPerDay)
}

// SimpleInterest returns floor(principal * rateBps * days / (10000 * 365)).
func SimpleInterest(principal, rateBps, days uint64) (uint64, error) {
	product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(principal), uint256.NewInt(rateBps))
	if overflow {
		return 0, wrap(ErrInterestCalculationOverflow, "principal %d * rate %d", principal, rateBps)
	}
	product, overflow = new(uint256.Int).MulOverflow(product, uint256.NewInt(days))
	if overflow {
		return 0, wrap(ErrInterestCalculationOverflow, "interest product for %d days", days)
	}
	interest := new(uint256.Int).Div(product, interestDivisor)
	if !interest.IsUint64() {
		return 0, wrap(ErrInterestCalculationOverflow, "interest exceeds uint64")
	}
	return interest.Uint64(), nil
}

// Interest returns the simple interest owed on loan at now.
func Interest(loan *Loan, now int64) (uint64, error) {
	if loan == nil {
		return 0, ErrLoanNotActive
	}
	return SimpleInterest(loan.PrincipalAmount, loan.InterestRateBps, ElapsedDays(loan.LoanStartTime, now))
}

// TotalRepayment returns principal plus interest owed on loan at now.
func TotalRepayment(loan *Loan, now int64) (uint64, error) {
	interest, err := Interest(loan, now)
	if err != nil {
		return 0, err
	}
	total := loan.PrincipalAmount + interest
	if total < loan.PrincipalAmount {
		return 0, wrap(ErrInterestCalculationOverflow, "principal %d + interest %d", loan.PrincipalAmount, interest)
	}
	return total, nil
}

// CanLiquidate reports whether the loan is overdue after a repayment request or
// its caller-supplied LTV exceeds the liquidation threshold. An unset deadline
// never counts as passed.
func CanLiquidate(loan *Loan, now int64, currentLTVBps uint64) bool {
	if loan == nil {
		return false
	}
	if loan.RepaymentDeadline != nil && now > *loan.RepaymentDeadline {
		return true
	}
	return currentLTVBps > LiquidationLTVThresholdBps
}
