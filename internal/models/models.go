package models

import "gorm.io/gorm"

// All lists every persisted type in migration order.
func All() []any {
	return []any{
		&SOSRequest{},
		&StatusHistoryEntry{},
		&RescueTeam{},
		&ResourceStock{},
		&StockReservation{},
		&Allocation{},
		&AllocationSuggestion{},
		&MissingPersonCase{},
		&OperationLog{},
	}
}

// Migrate 自动迁移
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(All()...)
}
