package lending

// ModuleName is the key operators use to pause the lending entry points.
const ModuleName = "lending"

const moduleName = ModuleName

const (
	// BasisPointsDenominator is 100% expressed in basis points.
	BasisPointsDenominator uint64 = 10_000
	// SecondsPerDay truncates elapsed loan time to whole days.
	SecondsPerDay int64 = 86_400
	// DaysPerYear is the simple-interest year length.
	DaysPerYear uint64 = 365
	// RepaymentNoticeDuration is the notice a lender gives before an overdue
	// loan may be seized (48 hours).
	RepaymentNoticeDuration int64 = 48 * 60 * 60
	// LiquidationLTVThresholdBps is the health threshold above which a loan
	// may be liquidated regardless of its deadline (120%).
	LiquidationLTVThresholdBps uint64 = 12_000
)

// Seed labels used to derive record addresses.
const (
	seedMarket    = "lending_market"
	seedAssetPair = "asset_pair"
	seedOffer     = "lending_offer"
	seedLoan      = "loan"
)
