package models

import "time"

// StatusHistory records one status a video has held. Rows are append-only and
// written in the same transaction as the status change they describe, so the
// trail never disagrees with the videos table.
type StatusHistory struct {
	ID        uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	VideoID   uint        `gorm:"not null;index:idx_history_video_id" json:"video_id"`
	Status    VideoStatus `gorm:"not null;size:20" json:"status"`
	CreatedAt time.Time   `json:"created_at"`

	// Video backs the foreign key; cascade keeps the trail from outliving
	// its video.
	Video *Video `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for StatusHistory.
func (StatusHistory) TableName() string {
	return "status_history"
}
