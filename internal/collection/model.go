package collection

import (
	"time"
)

// Visibility is the ordered access rank for a collection. Holding a
// higher rank implies every lower one.
type Visibility int

const (
	Private Visibility = 0
	Read    Visibility = 1
	Write   Visibility = 2
)

func (v Visibility) String() string {
	switch v {
	case Private:
		return "private"
	case Read:
		return "read"
	case Write:
		return "write"
	}
	return "unknown"
}

// Collection is a container of documents owned by a user. The owner
// implicitly has Write access regardless of Visibility or grants.
type Collection struct {
	ID              uint64
	UUID            string `gorm:"uniqueIndex"`
	OwnerID         uint64
	Name            string
	Description     *string
	DefaultDocument string
	Visibility      Visibility
	CreatedAt       time.Time
}

// Grant overrides a collection's default visibility for one user. At
// most one grant exists per (user, collection) pair.
type Grant struct {
	ID           uint64
	UserID       uint64 `gorm:"uniqueIndex:idx_grants_user_collection"`
	CollectionID uint64 `gorm:"uniqueIndex:idx_grants_user_collection"`
	Visibility   Visibility
	CreatedAt    time.Time
}

// LastOpened records when a user last opened a document in a
// collection, used by clients to sort their collection list.
type LastOpened struct {
	ID           uint64
	UserID       uint64 `gorm:"uniqueIndex:idx_last_opened_user_collection"`
	CollectionID uint64 `gorm:"uniqueIndex:idx_last_opened_user_collection"`
	OpenedAt     time.Time
}
