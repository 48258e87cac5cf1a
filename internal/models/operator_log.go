package models

import (
	"time"

	"gorm.io/gorm"
)

// OperationLog 记录操作员对工作流的操作
type OperationLog struct {
	ID              int64     `gorm:"primaryKey;autoIncrement;not null" json:"id"`
	ActorID         string    `gorm:"size:64;index" json:"actorId"`
	ActorRole       string    `gorm:"size:32" json:"actorRole"`
	Action          string    `gorm:"size:16" json:"action"`   // HTTP method
	Target          string    `gorm:"size:255" json:"target"`  // route pattern
	Details         string    `gorm:"size:512" json:"details"` // request path with ids
	Status          int       `json:"status"`
	IPAddress       string    `gorm:"size:64" json:"ipAddress"`
	UserAgent       string    `gorm:"size:512" json:"userAgent"`
	Device          string    `gorm:"size:64" json:"device"`
	Browser         string    `gorm:"size:64" json:"browser"`
	OperatingSystem string    `gorm:"size:64" json:"operatingSystem"`
	Location        string    `gorm:"size:128" json:"location"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

// CreateOperationLog 创建操作日志
func CreateOperationLog(db *gorm.DB, log *OperationLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	return db.Create(log).Error
}

// ListOperationLogs returns the newest logs for actorID (all actors when empty).
func ListOperationLogs(db *gorm.DB, actorID string, limit int) ([]OperationLog, error) {
	var logs []OperationLog
	q := db.Order("created_at DESC, id DESC")
	if actorID != "" {
		q = q.Where("actor_id = ?", actorID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&logs).Error
	return logs, err
}
