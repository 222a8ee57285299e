package enums

import "testing"

func TestStockActionDeltas(t *testing.T) {
	tests := []struct {
		action   StockAction
		stock    int
		reserved int
	}{
		{StockActionReserved, -3, 3},
		{StockActionReleased, 3, -3},
		{StockActionCommitted, 0, -3},
		{StockActionAdjusted, 3, 0},
	}
	for _, tt := range tests {
		if got := tt.action.StockDelta(3); got != tt.stock {
			t.Fatalf("%s stock delta: want %d got %d", tt.action, tt.stock, got)
		}
		if got := tt.action.ReservedDelta(3); got != tt.reserved {
			t.Fatalf("%s reserved delta: want %d got %d", tt.action, tt.reserved, got)
		}
	}
}

func TestParseStockAction(t *testing.T) {
	action, err := ParseStockAction("committed")
	if err != nil || action != StockActionCommitted {
		t.Fatalf("unexpected parse result %q err=%v", action, err)
	}
	if _, err := ParseStockAction("refunded"); err == nil {
		t.Fatalf("expected error for unknown action")
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	if OrderStatusPendingPayment.IsTerminal() {
		t.Fatalf("pending payment is not terminal")
	}
	for _, s := range []OrderStatus{OrderStatusPaid, OrderStatusFailed, OrderStatusExpired} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	if _, err := ParseOrderStatus("shipped"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}
