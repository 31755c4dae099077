package collection

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the durable gateway for collections, grants and
// last-opened records.
type Repository interface {
	Create(ctx context.Context, col *Collection) error
	FindByUUID(ctx context.Context, uuid string) (*Collection, error)
	ListForUser(ctx context.Context, userID uint64) ([]Collection, error)
	Save(ctx context.Context, col *Collection) error
	Delete(ctx context.Context, col *Collection) error
	FindGrant(ctx context.Context, userID, collectionID uint64) (*Grant, error)
	SaveGrant(ctx context.Context, grant *Grant) error
	TouchLastOpened(ctx context.Context, userID, collectionID uint64) error
}

type RepositoryImpl struct {
	db *gorm.DB
}

// NewRepository creates a new collection repository
func NewRepository(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) Create(ctx context.Context, col *Collection) error {
	col.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Create(col).Error
}

func (r *RepositoryImpl) FindByUUID(ctx context.Context, uuid string) (*Collection, error) {
	var col Collection
	err := r.db.WithContext(ctx).Where("uuid = ?", uuid).First(&col).Error
	if err != nil {
		return nil, err
	}
	return &col, nil
}

// ListForUser returns collections the user owns or holds a grant on.
func (r *RepositoryImpl) ListForUser(ctx context.Context, userID uint64) ([]Collection, error) {
	var cols []Collection
	err := r.db.WithContext(ctx).
		Distinct("collections.*").
		Joins("LEFT JOIN grants ON grants.collection_id = collections.id AND grants.user_id = ?", userID).
		Where("collections.owner_id = ? OR grants.id IS NOT NULL", userID).
		Order("collections.created_at DESC").
		Find(&cols).Error
	return cols, err
}

func (r *RepositoryImpl) Save(ctx context.Context, col *Collection) error {
	return r.db.WithContext(ctx).Save(col).Error
}

// Delete removes the collection together with its grants and
// last-opened records. Documents cascade separately through the
// document gateway.
func (r *RepositoryImpl) Delete(ctx context.Context, col *Collection) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection_id = ?", col.ID).Delete(&Grant{}).Error; err != nil {
			return err
		}
		if err := tx.Where("collection_id = ?", col.ID).Delete(&LastOpened{}).Error; err != nil {
			return err
		}
		return tx.Delete(col).Error
	})
}

func (r *RepositoryImpl) FindGrant(ctx context.Context, userID, collectionID uint64) (*Grant, error) {
	var grant Grant
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND collection_id = ?", userID, collectionID).
		First(&grant).Error
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

// SaveGrant updates the existing grant row for (user, collection) or
// creates one if absent.
func (r *RepositoryImpl) SaveGrant(ctx context.Context, grant *Grant) error {
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "collection_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"visibility"}),
	}).Create(grant).Error
}

func (r *RepositoryImpl) TouchLastOpened(ctx context.Context, userID, collectionID uint64) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "collection_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"opened_at"}),
	}).Create(&LastOpened{
		UserID:       userID,
		CollectionID: collectionID,
		OpenedAt:     time.Now().UTC(),
	}).Error
}
