package models

// All lists the models managed by AutoMigrate, parents before children.
func All() []any {
	return []any{
		&Order{},
		&SubOrder{},
		&OrderItem{},
		&InventoryRecord{},
		&StockTransaction{},
		&OutboxEvent{},
	}
}
