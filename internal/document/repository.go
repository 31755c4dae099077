package document

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"collaborative-document-server/internal/collection"
)

// Repository is the durable gateway for document rows.
type Repository interface {
	Create(ctx context.Context, collectionUUID, name string) (*Document, error)
	FindByCollectionAndName(ctx context.Context, collectionUUID, name string) (*Document, error)
	UpsertText(ctx context.Context, collectionUUID, name, text string) error
	ListNames(ctx context.Context, collectionID uint64) ([]string, error)
	PurgeCollection(ctx context.Context, collectionID uint64) error
}

type RepositoryImpl struct {
	db *gorm.DB
}

// NewRepository creates a new document repository
func NewRepository(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) collectionID(ctx context.Context, collectionUUID string) (uint64, error) {
	var col collection.Collection
	err := r.db.WithContext(ctx).Where("uuid = ?", collectionUUID).First(&col).Error
	if err != nil {
		return 0, err
	}
	return col.ID, nil
}

func (r *RepositoryImpl) Create(ctx context.Context, collectionUUID, name string) (*Document, error) {
	colID, err := r.collectionID(ctx, collectionUUID)
	if err != nil {
		return nil, err
	}
	doc := &Document{
		Name:         name,
		CollectionID: colID,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *RepositoryImpl) FindByCollectionAndName(ctx context.Context, collectionUUID, name string) (*Document, error) {
	var doc Document
	err := r.db.WithContext(ctx).
		Joins("JOIN collections ON collections.id = documents.collection_id").
		Where("collections.uuid = ? AND documents.name = ?", collectionUUID, name).
		First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// UpsertText writes the materialized text back to the document row,
// creating it if the document only ever existed in cache. Flushes for
// a collection deleted in the meantime are dropped.
func (r *RepositoryImpl) UpsertText(ctx context.Context, collectionUUID, name, text string) error {
	colID, err := r.collectionID(ctx, collectionUUID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection_id"}, {Name: "name"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"text": text, "updated_at": time.Now().UTC()}),
	}).Create(&Document{
		Name:         name,
		Text:         text,
		CollectionID: colID,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}).Error
}

func (r *RepositoryImpl) ListNames(ctx context.Context, collectionID uint64) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).
		Model(&Document{}).
		Where("collection_id = ?", collectionID).
		Pluck("name", &names).Error
	return names, err
}

func (r *RepositoryImpl) PurgeCollection(ctx context.Context, collectionID uint64) error {
	return r.db.WithContext(ctx).
		Where("collection_id = ?", collectionID).
		Delete(&Document{}).Error
}
