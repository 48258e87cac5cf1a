package models

import "time"

// MissingPersonCase 失踪人员案件. DaysMissing and ShouldBeDeclaredDead are derived on read.
type MissingPersonCase struct {
	ID                   string    `json:"id" gorm:"primaryKey;size:36"`
	Name                 string    `json:"name" gorm:"size:128"`
	Age                  int       `json:"age"`
	Gender               string    `json:"gender" gorm:"size:16"`
	LastSeenAt           time.Time `json:"lastSeenAt" gorm:"index"`
	LastSeenLocation     string    `json:"lastSeenLocation" gorm:"size:255"`
	ReporterPhone        string    `json:"reporterPhone" gorm:"size:32"`
	DistrictID           string    `json:"districtId" gorm:"size:36;index"`
	Description          string    `json:"description" gorm:"size:1024"`
	Status               string    `json:"status" gorm:"size:16;index"` // Active Found Dead Closed
	Version              int       `json:"version"`
	DaysMissing          int       `json:"daysMissing" gorm:"-"`
	ShouldBeDeclaredDead bool      `json:"shouldBeDeclaredDead" gorm:"-"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}
