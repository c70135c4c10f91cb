// Package estimation projects a price 30 days ahead from a price history.
//
// The history is first resampled onto an evenly spaced grid by linear
// interpolation, then fitted with ordinary least squares over elapsed days.
// The confidence label depends on the fit quality and on how many samples
// the upstream actually returned, not on the size of the grid.
package estimation

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/tebi01/stock-market-e18-jobmaster/internal/entity"
)

const (
	DefaultTargetPoints = 100
	DefaultHorizonDays  = 30

	// single-sample histories are spread over this trailing window
	flatWindow = 30 * 24 * time.Hour
	day        = 24 * time.Hour
)

var ErrInsufficientData = errors.New("insufficient price data")

// Result is the projection for a single symbol.
type Result struct {
	CurrentPrice       float64
	EstimatedPrice     float64
	EstimatedGrowth    float64
	Slope              float64
	Intercept          float64
	RSquared           float64
	Confidence         entity.Confidence
	InterpolatedPoints int
	OriginalDataPoints int
}

// Regression is a least-squares fit of price against elapsed days.
type Regression struct {
	Slope     float64
	Intercept float64
	RSquared  float64
}

// Estimator is safe for concurrent use; it holds configuration only.
type Estimator struct {
	targetPoints int
	horizonDays  float64
	now          func() time.Time
}

type Option func(*Estimator)

// WithTargetPoints sets the interpolation grid size. Values below 2 are ignored.
func WithTargetPoints(n int) Option {
	return func(e *Estimator) {
		if n >= 2 {
			e.targetPoints = n
		}
	}
}

// WithHorizonDays sets how far past the last sample the projection looks.
func WithHorizonDays(d int) Option {
	return func(e *Estimator) {
		if d > 0 {
			e.horizonDays = float64(d)
		}
	}
}

// WithClock overrides the clock used to anchor single-sample histories.
func WithClock(now func() time.Time) Option {
	return func(e *Estimator) { e.now = now }
}

func New(opts ...Option) *Estimator {
	e := &Estimator{
		targetPoints: DefaultTargetPoints,
		horizonDays:  DefaultHorizonDays,
		now:          time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Estimate runs interpolation, regression, projection and labeling.
func (e *Estimator) Estimate(samples []entity.PriceSample) (Result, error) {
	grid, err := e.Interpolate(samples)
	if err != nil {
		return Result{}, err
	}

	reg, err := Regress(grid)
	if err != nil {
		return Result{}, err
	}

	last := grid[len(grid)-1]
	currentPrice := last.Price
	daysSinceStart := elapsedDays(grid[0].Timestamp, last.Timestamp)

	estimatedPrice := reg.Slope*(daysSinceStart+e.horizonDays) + reg.Intercept
	if estimatedPrice < 0 {
		estimatedPrice = 0
	}

	var growth float64
	if currentPrice != 0 {
		growth = (estimatedPrice - currentPrice) / currentPrice * 100
	}

	return Result{
		CurrentPrice:       currentPrice,
		EstimatedPrice:     estimatedPrice,
		EstimatedGrowth:    growth,
		Slope:              reg.Slope,
		Intercept:          reg.Intercept,
		RSquared:           reg.RSquared,
		Confidence:         Label(reg.RSquared, len(samples)),
		InterpolatedPoints: len(grid),
		OriginalDataPoints: len(samples),
	}, nil
}

// Interpolate resamples samples onto targetPoints evenly spaced instants
// between the earliest and latest timestamp. The input is not modified and
// may be in any order.
func (e *Estimator) Interpolate(samples []entity.PriceSample) ([]entity.PriceSample, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples to interpolate", ErrInsufficientData)
	}

	n := e.targetPoints
	sorted := slices.Clone(samples)
	slices.SortStableFunc(sorted, func(a, b entity.PriceSample) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	if len(sorted) == 1 {
		price := sorted[0].Price
		start := e.now().Add(-flatWindow)
		out := make([]entity.PriceSample, n)
		for i := range out {
			offset := time.Duration(float64(flatWindow) * float64(i) / float64(n-1))
			out[i] = entity.PriceSample{Timestamp: start.Add(offset), Price: price}
		}
		return out, nil
	}

	start := sorted[0].Timestamp
	end := sorted[len(sorted)-1].Timestamp
	span := end.Sub(start)

	out := make([]entity.PriceSample, n)
	for i := range out {
		at := end
		if i < n-1 {
			at = start.Add(time.Duration(float64(span) * float64(i) / float64(n-1)))
		}
		out[i] = entity.PriceSample{Timestamp: at, Price: priceAt(sorted, at)}
	}
	return out, nil
}

// priceAt interpolates between the last sample at or before t and the one
// after it. sorted must be ascending and non-empty.
func priceAt(sorted []entity.PriceSample, t time.Time) float64 {
	// first index with Timestamp > t
	idx, _ := slices.BinarySearchFunc(sorted, t, func(s entity.PriceSample, t time.Time) int {
		if s.Timestamp.After(t) {
			return 1
		}
		return -1
	})
	left := idx - 1
	if left < 0 {
		left = 0
	}
	if left >= len(sorted)-1 {
		return sorted[len(sorted)-1].Price
	}

	l, r := sorted[left], sorted[left+1]
	width := r.Timestamp.Sub(l.Timestamp)
	if width == 0 {
		return l.Price
	}
	frac := float64(t.Sub(l.Timestamp)) / float64(width)
	return l.Price + (r.Price-l.Price)*frac
}

// Regress fits price = slope·days + intercept, days counted from the first
// point. A constant series has R² = 1; a series whose points all share one
// timestamp has slope 0 and intercept equal to the mean price.
func Regress(points []entity.PriceSample) (Regression, error) {
	n := float64(len(points))
	if len(points) < 2 {
		return Regression{}, fmt.Errorf("%w: regression needs at least 2 points, got %d", ErrInsufficientData, len(points))
	}

	start := points[0].Timestamp
	var sumX, sumY, sumXY, sumXX float64
	for _, p := range points {
		x := elapsedDays(start, p.Timestamp)
		sumX += x
		sumY += p.Price
		sumXY += x * p.Price
		sumXX += x * x
	}

	var slope float64
	if den := n*sumXX - sumX*sumX; den != 0 {
		slope = (n*sumXY - sumX*sumY) / den
	}
	intercept := (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssTot, ssRes float64
	for _, p := range points {
		x := elapsedDays(start, p.Timestamp)
		ssTot += (p.Price - meanY) * (p.Price - meanY)
		d := p.Price - (slope*x + intercept)
		ssRes += d * d
	}

	r2 := 1.0
	if ssTot != 0 {
		r2 = clamp01(1 - ssRes/ssTot)
	}

	return Regression{Slope: slope, Intercept: intercept, RSquared: r2}, nil
}

// Label maps fit quality and the raw sample count to a confidence level.
func Label(rSquared float64, originalSamples int) entity.Confidence {
	switch {
	case rSquared > 0.8 && originalSamples >= 10:
		return entity.ConfidenceHigh
	case rSquared > 0.6 && originalSamples >= 5:
		return entity.ConfidenceMedium
	default:
		return entity.ConfidenceLow
	}
}

func elapsedDays(from, to time.Time) float64 {
	return float64(to.Sub(from)) / float64(day)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
