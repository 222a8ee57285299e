package enums

import "fmt"

// StockAction labels a row of the stock ledger.
type StockAction string

const (
	StockActionReserved  StockAction = "reserved"
	StockActionReleased  StockAction = "released"
	StockActionCommitted StockAction = "committed"
	StockActionAdjusted  StockAction = "adjusted"
)

var validStockActions = []StockAction{
	StockActionReserved,
	StockActionReleased,
	StockActionCommitted,
	StockActionAdjusted,
}

// IsValid reports whether the value is a known stock action.
func (a StockAction) IsValid() bool {
	for _, candidate := range validStockActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// StockDelta is the signed effect of a ledger row of quantity q on the
// available stock.
func (a StockAction) StockDelta(q int) int {
	switch a {
	case StockActionReserved:
		return -q
	case StockActionReleased, StockActionAdjusted:
		return q
	default:
		return 0
	}
}

// ReservedDelta is the signed effect of a ledger row of quantity q on the
// reserved quantity.
func (a StockAction) ReservedDelta(q int) int {
	switch a {
	case StockActionReserved:
		return q
	case StockActionReleased, StockActionCommitted:
		return -q
	default:
		return 0
	}
}

// ParseStockAction converts raw input into StockAction.
func ParseStockAction(value string) (StockAction, error) {
	for _, candidate := range validStockActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stock action %q", value)
}
