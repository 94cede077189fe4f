package models

import (
	"time"
)

// Recognition is one processed recognition request and its aggregate.
type Recognition struct {
	ID             int       `gorm:"primaryKey;autoIncrement"`
	CorrelationID  string    `gorm:"type:text;not null;uniqueIndex"`
	ObjectKey      string    `gorm:"type:text"`
	Brand          string    `gorm:"type:text;index:idx_recognitions_brand"`
	MachineType    string    `gorm:"column:machine_type;type:text"`
	Model          string    `gorm:"type:text"`
	Confidence     float64   `gorm:"not null;default:0"`
	IsConfident    bool      `gorm:"column:is_confident;not null;default:false"`
	TypeConfidence *float64  `gorm:"column:type_confidence"`
	TypeSource     string    `gorm:"column:type_source;type:text"`
	Provider       string    `gorm:"type:text"`
	LatencyMs      int64     `gorm:"column:latency_ms"`
	CreatedAt      time.Time `gorm:"type:timestamp with time zone;default:CURRENT_TIMESTAMP"`

	Images []RecognitionImage `gorm:"foreignKey:RecognitionID;constraint:OnDelete:CASCADE"`
}

func (Recognition) TableName() string {
	return "recognitions"
}

// RecognitionImage is the per-image summary behind a Recognition.
type RecognitionImage struct {
	ID            int     `gorm:"primaryKey;autoIncrement"`
	RecognitionID int     `gorm:"not null;index"`
	ImageRef      string  `gorm:"column:image_ref;type:text;not null"`
	Brand         string  `gorm:"type:text"`
	MachineType   string  `gorm:"column:machine_type;type:text"`
	Logo          string  `gorm:"type:text"`
	Confidence    float64 `gorm:"not null;default:0"`
	IsConfident   bool    `gorm:"column:is_confident;not null;default:false"`
}

func (RecognitionImage) TableName() string {
	return "recognition_images"
}
