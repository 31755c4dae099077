package document

import (
	"time"
)

// Document is the durable record of a document's materialized text.
// While a document is hot its authoritative text lives in the engine's
// write-back cache; the row here is only guaranteed current after the
// cache entry is flushed.
type Document struct {
	ID           uint64
	Name         string `gorm:"uniqueIndex:idx_documents_collection_name"`
	Text         string
	CollectionID uint64 `gorm:"uniqueIndex:idx_documents_collection_name"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
