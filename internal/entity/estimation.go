package entity

import "time"

// Holding is one position in a user's portfolio.
type Holding struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
}

// PriceSample is a single point of a price history.
type PriceSample struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// StockEstimation is the per-symbol outcome of a gains estimation, already
// scaled by the held quantity.
type StockEstimation struct {
	Symbol                 string     `json:"symbol"`
	Quantity               float64    `json:"quantity"`
	CurrentPrice           float64    `json:"currentPrice"`
	EstimatedPrice         float64    `json:"estimatedPrice"`
	CurrentValue           float64    `json:"currentValue"`
	EstimatedValue         float64    `json:"estimatedValue"`
	EstimatedGains         float64    `json:"estimatedGains"`
	EstimatedGrowthPercent float64    `json:"estimatedGrowthPercent"`
	Confidence             Confidence `json:"confidence"`
	RSquared               float64    `json:"rSquared"`
	OriginalDataPoints     int        `json:"originalDataPoints"`
}

type Summary struct {
	TotalCurrentValue   float64 `json:"totalCurrentValue"`
	TotalEstimatedValue float64 `json:"totalEstimatedValue"`
	TotalEstimatedGains float64 `json:"totalEstimatedGains"`
	TotalGrowthPercent  float64 `json:"totalGrowthPercent"`
	StocksAnalyzed      int     `json:"stocksAnalyzed"`
}

// SkippedSymbol records a holding left out of the aggregate and why.
type SkippedSymbol struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

type JobResult struct {
	UserEmail      string            `json:"userEmail"`
	Estimations    []StockEstimation `json:"estimations"`
	Summary        Summary           `json:"summary"`
	SkippedSymbols []SkippedSymbol   `json:"skippedSymbols,omitempty"`
	CalculatedAt   time.Time         `json:"calculatedAt"`
}
