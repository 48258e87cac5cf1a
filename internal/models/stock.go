package models

import "time"

const ScopeNational = "National"

// ResourceStock quantity per (scope, resource type). Scope is National or a province id.
type ResourceStock struct {
	ID           uint      `json:"-" gorm:"primaryKey"`
	Scope        string    `json:"scope" gorm:"size:36;uniqueIndex:idx_stock_scope_type"`
	ResourceType string    `json:"resourceType" gorm:"size:32;uniqueIndex:idx_stock_scope_type"`
	Quantity     int64     `json:"quantity" gorm:"check:quantity >= 0"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// StockReservation 预留. Pending holds quantity already taken out of ResourceStock.
type StockReservation struct {
	ID           string     `json:"id" gorm:"primaryKey;size:36"`
	Scope        string     `json:"scope" gorm:"size:36"`
	ResourceType string     `json:"resourceType" gorm:"size:32"`
	Quantity     int64      `json:"quantity"`
	Status       string     `json:"status" gorm:"size:16;index"` // Pending Committed Released
	SuggestionID string     `json:"suggestionId" gorm:"size:36;index"`
	CreatedAt    time.Time  `json:"createdAt" gorm:"index"`
	SettledAt    *time.Time `json:"settledAt"`
}

// Allocation the transfer committed by an approved suggestion
type Allocation struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	SuggestionID  string    `json:"suggestionId" gorm:"size:36;uniqueIndex"`
	ReservationID string    `json:"reservationId" gorm:"size:36"`
	FromScope     string    `json:"fromScope" gorm:"size:36"`
	ToScope       string    `json:"toScope" gorm:"size:36"`
	ResourceType  string    `json:"resourceType" gorm:"size:32"`
	Quantity      int64     `json:"quantity"`
	ApprovedBy    string    `json:"approvedBy" gorm:"size:64"`
	CreatedAt     time.Time `json:"createdAt"`
}
