package engine

import (
	"errors"
	"fmt"
	"math"
)

var (
	errTooManyPositions = errors.New("position limit exceeded")
	errCapitalLeak      = errors.New("capital not conserved across rebalance")
)

// RiskManager checks every rebalance against the portfolio limits: the
// position count may not exceed the allocation total and the value after
// the rebalance must equal the value before it.
type RiskManager struct {
	maxPositions int
	tolerance    float64 // relative
}

// NewRiskManager creates a RiskManager for the given position limit.
func NewRiskManager(maxPositions int) *RiskManager {
	return &RiskManager{maxPositions: maxPositions, tolerance: 1e-9}
}

// CheckRebalance compares the portfolio value before liquidation with the
// value after the new positions are opened.
func (rm *RiskManager) CheckRebalance(before, after float64, positions int) error {
	if positions > rm.maxPositions {
		return fmt.Errorf("%w: %d > %d", errTooManyPositions, positions, rm.maxPositions)
	}
	if math.Abs(after-before) > rm.tolerance*math.Max(1, math.Abs(before)) {
		return fmt.Errorf("%w: %.6f before, %.6f after", errCapitalLeak, before, after)
	}
	return nil
}
