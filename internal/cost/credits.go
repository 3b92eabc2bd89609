package cost

import "github.com/sells-group/trend-curator/internal/model"

// CreditRates is the user-facing credit price list for a curation run.
type CreditRates struct {
	Base      int64 `yaml:"base" mapstructure:"base"`
	PerBatch  int64 `yaml:"per_batch" mapstructure:"per_batch"`
	PerVision int64 `yaml:"per_vision" mapstructure:"per_vision"`
}

// DefaultCreditRates returns the standard run pricing.
func DefaultCreditRates() CreditRates {
	return CreditRates{Base: 2, PerBatch: 2, PerVision: 5}
}

// Work counts the billable operations a run actually performed.
type Work struct {
	Batches     int
	VisionCalls int
}

// RunCost returns the credits charged for the work performed.
func RunCost(w Work, r CreditRates) int64 {
	return r.Base + int64(w.Batches)*r.PerBatch + int64(w.VisionCalls)*r.PerVision
}

// Deduct drains amount from the pool in bonus, rollover, main order.
// No bucket goes below zero; any remainder past an empty pool is forgiven.
func Deduct(pool model.CreditPool, amount int64) (model.CreditPool, model.CreditSplit) {
	var split model.CreditSplit
	if amount <= 0 {
		return pool, split
	}

	split.Bonus = take(&pool.Bonus, &amount)
	split.Rollover = take(&pool.Rollover, &amount)
	split.Main = take(&pool.Main, &amount)
	return pool, split
}

func take(bucket, remaining *int64) int64 {
	if *bucket <= 0 || *remaining <= 0 {
		return 0
	}
	n := min(*bucket, *remaining)
	*bucket -= n
	*remaining -= n
	return n
}
