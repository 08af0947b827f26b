package domain

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Item is the read model of a catalog item.
type Item struct {
	ID       uuid.UUID                   `gorm:"type:uuid;primary_key;"`
	Active   bool                        `gorm:"not null"`
	Price    int64                       `gorm:"not null"`
	Currency string                      `gorm:"type:varchar(3);not null"`
	Images   datatypes.JSONSlice[string] `gorm:"type:jsonb"`
}

func (Item) TableName() string {
	return "catalog_items"
}

type BudgetRange struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// UserProfile is the read model of the profile fields used for styling.
type UserProfile struct {
	UserID       uuid.UUID                       `gorm:"type:uuid;primary_key;"`
	Gender       string                          `gorm:"type:varchar(20)"`
	BodyPhotoRef string                          `gorm:"type:text"`
	BudgetRange  datatypes.JSONType[BudgetRange] `gorm:"type:jsonb"`
}

func (UserProfile) TableName() string {
	return "user_profiles"
}

// OutfitComposition is one outfit proposed by the text model.
type OutfitComposition struct {
	ItemIDs   []uuid.UUID `json:"itemIds"`
	StyleTags []string    `json:"styleTags"`
	Occasion  string      `json:"occasion"`
	Comment   string      `json:"comment"`
}
