package models

import "time"

// SOSRequest 求助请求. Never deleted.
type SOSRequest struct {
	ID             string               `json:"id" gorm:"primaryKey;size:36"`
	SubmitterID    string               `json:"submitterId" gorm:"size:64;index"`
	Name           string               `json:"name" gorm:"size:128"`
	Phone          string               `json:"phone" gorm:"size:32"`
	CNIC           string               `json:"cnic" gorm:"size:16"`
	Lat            *float64             `json:"locationLat"`
	Lng            *float64             `json:"locationLng"`
	Location       string               `json:"location" gorm:"size:255"`
	PeopleCount    int                  `json:"peopleCount"`
	EmergencyType  string               `json:"emergencyType" gorm:"size:32"`
	Description    string               `json:"description" gorm:"size:1024"`
	ProvinceID     string               `json:"provinceId,omitempty" gorm:"size:36;index"`
	DistrictID     string               `json:"districtId,omitempty" gorm:"size:36;index"`
	Status         string               `json:"status" gorm:"size:16;index"` // Pending Assigned EnRoute Rescued Cancelled
	AssignedTeamID *string              `json:"assignedTeamId" gorm:"size:36;index"`
	Version        int                  `json:"version"`
	StatusHistory  []StatusHistoryEntry `json:"statusHistory" gorm:"foreignKey:RequestID"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

// StatusHistoryEntry one row per status transition
type StatusHistoryEntry struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	RequestID string    `json:"-" gorm:"size:36;index"`
	From      string    `json:"from" gorm:"size:16"`
	To        string    `json:"to" gorm:"size:16"`
	Actor     string    `json:"actor" gorm:"size:64"`
	Note      string    `json:"note,omitempty" gorm:"size:512"`
	At        time.Time `json:"at"`
}

func (StatusHistoryEntry) TableName() string { return "sos_status_history" }

// RescueTeam 救援队
type RescueTeam struct {
	ID              string    `json:"id" gorm:"primaryKey;size:36"`
	Name            string    `json:"name" gorm:"size:128"`
	Status          string    `json:"status" gorm:"size:16;index"` // Available Deployed OnMission Unavailable
	Lat             *float64  `json:"lat"`
	Lng             *float64  `json:"lng"`
	Capacity        int       `json:"capacity"`
	ProvinceID      string    `json:"provinceId,omitempty" gorm:"size:36;index"`
	DistrictID      string    `json:"districtId,omitempty" gorm:"size:36"`
	ActiveRequestID *string   `json:"activeRequestId" gorm:"size:36"`
	Version         int       `json:"version"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
