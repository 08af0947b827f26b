package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type LookStatus string

const (
	LookPendingGeneration LookStatus = "pending_generation"
	LookGenerating        LookStatus = "generating"
	LookReady             LookStatus = "ready"
	LookGenerationFailed  LookStatus = "generation_failed"
)

// Look is an outfit composition plus the state of its try-on image.
// Status is a projection of the matching generate_image step.
type Look struct {
	ID     uuid.UUID `gorm:"type:uuid;primary_key;"`
	UserID uuid.UUID `gorm:"type:uuid;index;not null"`

	// Set when the look was curated by a run; Position orders looks in it.
	SourceRunID *uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_look_source"`
	Position    int        `gorm:"uniqueIndex:idx_look_source"`

	ItemIDs   datatypes.JSONSlice[uuid.UUID] `gorm:"type:jsonb;not null"`
	StyleTags datatypes.JSONSlice[string]    `gorm:"type:jsonb"`
	Occasion  string                         `gorm:"type:varchar(100)"`
	Comment   string                         `gorm:"type:text"`

	Status        LookStatus `gorm:"type:varchar(30);index;default:'pending_generation'"`
	ImageRef      *string    `gorm:"type:text"`
	FailureReason string     `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Look) TableName() string {
	return "looks"
}

// NewPendingLook builds a look for a composition. Duplicate item ids are
// dropped, keeping first occurrence order.
func NewPendingLook(userID uuid.UUID, c OutfitComposition) *Look {
	return &Look{
		ID:        uuid.New(),
		UserID:    userID,
		ItemIDs:   DedupeItemIDs(c.ItemIDs),
		StyleTags: c.StyleTags,
		Occasion:  c.Occasion,
		Comment:   c.Comment,
		Status:    LookPendingGeneration,
		CreatedAt: time.Now().UTC(),
	}
}

func DedupeItemIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
