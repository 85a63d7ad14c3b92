package lending

import (
	"errors"
	"math"
	"testing"
)

func TestComputeFeeNeverExceedsAmount(t *testing.T) {
	amounts := []uint64{0, 1, 9_999, 10_000, 1_000_000_000, math.MaxUint64 / 3, math.MaxUint64}
	for _, amount := range amounts {
		for bps := uint64(0); bps <= BasisPointsDenominator; bps += 125 {
			fee, net, err := ComputeFee(amount, bps)
			if err != nil {
				t.Fatalf("fee(%d, %d): %v", amount, bps, err)
			}
			if fee > amount {
				t.Fatalf("fee %d exceeds amount %d at %d bps", fee, amount, bps)
			}
			if fee+net != amount {
				t.Fatalf("fee %d + net %d != amount %d", fee, net, amount)
			}
		}
	}
}

func TestComputeFeeRejectsOutOfRangeRate(t *testing.T) {
	if _, _, err := ComputeFee(math.MaxUint64, 20_000); !errors.Is(err, ErrInterestCalculationOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestRequiredCollateralFloorDivision(t *testing.T) {
	loans := []uint64{1, 7, 999, 1_000_000_000, math.MaxUint64 / 20_000}
	for _, loan := range loans {
		for _, ltv := range []uint64{1, 3, 333, 5000, 7777, 8000, 9999, 10_000} {
			required, err := RequiredCollateral(loan, ltv)
			if err != nil {
				t.Fatalf("required(%d, %d): %v", loan, ltv, err)
			}
			lhs := required * ltv
			scaled := loan * BasisPointsDenominator
			if lhs > scaled || scaled >= lhs+ltv {
				t.Fatalf("floor violated for loan %d ltv %d: required %d", loan, ltv, required)
			}
		}
	}
}

func TestRequiredCollateralValidation(t *testing.T) {
	if _, err := RequiredCollateral(100, 0); !errors.Is(err, ErrInvalidLTV) {
		t.Fatalf("expected ErrInvalidLTV, got %v", err)
	}
	if _, err := RequiredCollateral(100, 10_001); !errors.Is(err, ErrInvalidLTV) {
		t.Fatalf("expected ErrInvalidLTV, got %v", err)
	}
	if _, err := RequiredCollateral(math.MaxUint64, 1); !errors.Is(err, ErrInvalidCollateralAmount) {
		t.Fatalf("expected ErrInvalidCollateralAmount, got %v", err)
	}
}

func TestOriginationAmounts(t *testing.T) {
	required, err := RequiredCollateral(1_000_000_000, 8000)
	if err != nil {
		t.Fatalf("required: %v", err)
	}
	if required != 1_250_000_000 {
		t.Fatalf("expected 1250000000, got %d", required)
	}
	fee, net, err := ComputeFee(1_000_000_000, 100)
	if err != nil {
		t.Fatalf("fee: %v", err)
	}
	if fee != 10_000_000 || net != 990_000_000 {
		t.Fatalf("unexpected fee split %d/%d", fee, net)
	}
}

func TestRepaymentAmounts(t *testing.T) {
	loan := &Loan{PrincipalAmount: 1_000_000_000, InterestRateBps: 1000, LoanStartTime: 1_000}
	now := loan.LoanStartTime + 73*SecondsPerDay
	interest, err := Interest(loan, now)
	if err != nil {
		t.Fatalf("interest: %v", err)
	}
	if interest != 20_000_000 {
		t.Fatalf("expected 20000000, got %d", interest)
	}
	total, err := TotalRepayment(loan, now)
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total != 1_020_000_000 {
		t.Fatalf("expected 1020000000, got %d", total)
	}
	fee, net, err := ComputeFee(total, 200)
	if err != nil {
		t.Fatalf("fee: %v", err)
	}
	if fee != 20_400_000 || net != 999_600_000 {
		t.Fatalf("unexpected lender split %d/%d", fee, net)
	}
}

func TestInterestTruncatesToWholeDays(t *testing.T) {
	loan := &Loan{PrincipalAmount: 1_000_000_000, InterestRateBps: 1000, LoanStartTime: 0}
	if got, _ := Interest(loan, SecondsPerDay-1); got != 0 {
		t.Fatalf("partial day accrued %d", got)
	}
	if got, _ := Interest(loan, -5*SecondsPerDay); got != 0 {
		t.Fatalf("backwards clock accrued %d", got)
	}
	oneDay, _ := Interest(loan, SecondsPerDay)
	almostTwo, _ := Interest(loan, 2*SecondsPerDay-1)
	if oneDay != almostTwo {
		t.Fatalf("interest changed within a day: %d vs %d", oneDay, almostTwo)
	}
}

func TestSimpleInterestOverflow(t *testing.T) {
	if _, err := SimpleInterest(math.MaxUint64, 10_000, math.MaxUint64); !errors.Is(err, ErrInterestCalculationOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	loan := &Loan{PrincipalAmount: math.MaxUint64, InterestRateBps: 10_000}
	if _, err := TotalRepayment(loan, 365*SecondsPerDay); !errors.Is(err, ErrInterestCalculationOverflow) {
		t.Fatalf("expected overflow on total, got %v", err)
	}
}

func TestCanLiquidate(t *testing.T) {
	loan := &Loan{}
	if CanLiquidate(loan, 1_000, LiquidationLTVThresholdBps) {
		t.Fatalf("healthy loan without deadline must not be liquidatable")
	}
	if !CanLiquidate(loan, 1_000, LiquidationLTVThresholdBps+1) {
		t.Fatalf("expected unhealthy loan to be liquidatable")
	}
	deadline := int64(500)
	loan.RepaymentDeadline = &deadline
	if CanLiquidate(loan, 500, 0) {
		t.Fatalf("deadline is exclusive")
	}
	if !CanLiquidate(loan, 501, 0) {
		t.Fatalf("expected overdue loan to be liquidatable")
	}
	if CanLiquidate(nil, 501, math.MaxUint64) {
		t.Fatalf("nil loan must not be liquidatable")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	err := wrap(ErrOfferNotActive, "offer %d", 7)
	if !errors.Is(err, ErrOfferNotActive) {
		t.Fatalf("wrapped error lost identity")
	}
	typed, ok := AsError(err)
	if !ok || typed.Code != 6003 || typed.Kind != KindState || typed.Name != "OfferNotActive" {
		t.Fatalf("unexpected typed error %+v", typed)
	}
	if _, ok := AsError(errors.New("plain")); ok {
		t.Fatalf("plain error must not be typed")
	}
}
