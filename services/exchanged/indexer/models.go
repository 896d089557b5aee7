package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Activity is one committed exchange event. Addresses and hashes are stored
// as checksummed hex so they can be compared directly.
type Activity struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"seq"`
	EventID      uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"eventId"`
	Type         string    `gorm:"size:64;index" json:"type"`
	Trader       string    `gorm:"size:42;index" json:"trader,omitempty"`
	Counterparty string    `gorm:"size:42;index" json:"counterparty,omitempty"`
	OfferHash    string    `gorm:"size:66;index" json:"offerHash,omitempty"`
	RelatedHash  string    `gorm:"size:66" json:"relatedHash,omitempty"`
	OfferID      uint64    `gorm:"index" json:"offerId,omitempty"`
	Amount       string    `gorm:"size:80" json:"amount,omitempty"`
	Attributes   string    `gorm:"type:text" json:"attributes"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AutoMigrate applies the activity schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Activity{})
}
