package enums

import "fmt"

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateSubOrder  OutboxAggregateType = "sub_order"
	AggregateInventory OutboxAggregateType = "inventory"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateSubOrder,
	AggregateInventory,
}

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names the inventory events written through the outbox.
type OutboxEventType string

const (
	EventInventoryReserved  OutboxEventType = "inventory_reserved"
	EventInventoryReleased  OutboxEventType = "inventory_released"
	EventInventoryCommitted OutboxEventType = "inventory_committed"
	EventInventoryAdjusted  OutboxEventType = "inventory_adjusted"
)

var validOutboxEventTypes = []OutboxEventType{
	EventInventoryReserved,
	EventInventoryReleased,
	EventInventoryCommitted,
	EventInventoryAdjusted,
}

// IsValid reports whether the value is a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}
