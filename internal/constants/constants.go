package constants

// Order sides
const (
	Buy  = "Buy"
	Sell = "Sell"
)

// Order types
const (
	Market = "Market"
	Limit  = "Limit"
)

// Bybit v5 category for linear perpetuals
const CategoryLinear = "linear"

// Timeframes
const (
	Minute1  = "1"
	Minute5  = "5"
	Minute15 = "15"
	Minute30 = "30"
	Hour1    = "60"
	Hour4    = "240"
	Day1     = "D"
)

// Default indicator periods
const (
	DefaultEMAPeriod    = 200
	DefaultMACDFast     = 12
	DefaultMACDSlow     = 26
	DefaultMACDSignal   = 9
	DefaultRSIPeriod    = 14
	DefaultATRPeriod    = 14
	DefaultADXPeriod    = 14
	DefaultVolumePeriod = 20
)

// Default signal thresholds
const (
	DefaultRSIOverbought    = 70.0
	DefaultRSIOversold      = 30.0
	DefaultVolumeMultiplier = 1.5
	DefaultMinADX           = 25.0
	DefaultExitADX          = 20.0
	DefaultBookDepth        = 10
)

// Risk management
const (
	DefaultRiskFraction     = 0.01
	DefaultSLAtrMultiplier  = 1.5
	DefaultTPAtrMultiplier  = 3.0
	DefaultMinRewardRisk    = 1.5
	DefaultTrailActivationR = 1.0
	MaxRiskFraction         = 0.1
	// Trailing distance scales by 1+(adx-ADXScalingBase)/100.
	ADXScalingBase = 25.0
)
