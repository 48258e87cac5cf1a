package models

import "time"

const FlagInsufficientStock = "INSUFFICIENT_STOCK"

// AllocationSuggestion 资源分配建议, pushed by the prediction process.
type AllocationSuggestion struct {
	ID                string     `json:"id" gorm:"primaryKey;size:36"`
	ProvinceID        string     `json:"provinceId" gorm:"size:36;index"`
	ResourceType      string     `json:"resourceType" gorm:"size:32;index"`
	SuggestedQuantity int64      `json:"suggestedQuantity"`
	ConfidenceScore   float64    `json:"confidenceScore"`
	RuleIDs           []string   `json:"ruleIds" gorm:"serializer:json;type:text"`
	Flags             []string   `json:"flags" gorm:"serializer:json;type:text"`
	Reasoning         string     `json:"reasoning,omitempty" gorm:"type:text"`
	Status            string     `json:"status" gorm:"size:16;index"` // Pending Approved Rejected
	ReviewedAt        *time.Time `json:"reviewedAt"`
	ReviewedBy        string     `json:"reviewedBy,omitempty" gorm:"size:64"`
	RejectionReason   string     `json:"rejectionReason,omitempty" gorm:"size:1024"`
	AllocationID      *string    `json:"allocationId" gorm:"size:36"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// HasFlag reports whether flag is set.
func (s *AllocationSuggestion) HasFlag(flag string) bool {
	for _, f := range s.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
