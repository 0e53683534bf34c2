// Package store persists the small amount of durable state the resolver needs:
// external id mappings, manual availability overrides and provider health.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/pokerjest/animeSourceHub/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoMapping is returned when an anime has no id registered for a provider.
var ErrNoMapping = errors.New("no external id mapping")

type Store struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// LookupExternalID resolves the canonical anime id to the provider's own id.
func (s *Store) LookupExternalID(ctx context.Context, animeID string, provider model.Provider) (string, error) {
	var m model.ProviderMapping
	err := s.DB.WithContext(ctx).
		Where("anime_id = ? AND provider = ?", animeID, string(provider)).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNoMapping
	}
	if err != nil {
		return "", errors.Wrap(err, "lookup mapping")
	}
	if m.ExternalID == "" {
		return "", ErrNoMapping
	}
	return m.ExternalID, nil
}

func (s *Store) SetMapping(ctx context.Context, animeID string, provider model.Provider, externalID string) error {
	m := model.ProviderMapping{
		AnimeID:    animeID,
		Provider:   string(provider),
		ExternalID: externalID,
	}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "anime_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{"external_id", "updated_at", "deleted_at"}),
	}).Create(&m).Error
	return errors.Wrap(err, "save mapping")
}

func (s *Store) Mappings(ctx context.Context, animeID string) ([]model.ProviderMapping, error) {
	var list []model.ProviderMapping
	err := s.DB.WithContext(ctx).
		Where("anime_id = ?", animeID).
		Order("provider").
		Find(&list).Error
	return list, errors.Wrap(err, "list mappings")
}

func (s *Store) SetOverride(ctx context.Context, sourceID string, available bool) (model.SourceOverride, error) {
	o := model.SourceOverride{
		SourceID:  sourceID,
		Available: available,
		UpdatedAt: time.Now(),
	}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"available", "updated_at"}),
	}).Create(&o).Error
	return o, errors.Wrap(err, "save override")
}

// Overrides returns the overrides for the given source ids, keyed by id.
func (s *Store) Overrides(ctx context.Context, sourceIDs []string) (map[string]model.SourceOverride, error) {
	out := make(map[string]model.SourceOverride)
	if len(sourceIDs) == 0 {
		return out, nil
	}
	var list []model.SourceOverride
	if err := s.DB.WithContext(ctx).Where("source_id IN ?", sourceIDs).Find(&list).Error; err != nil {
		return out, errors.Wrap(err, "load overrides")
	}
	for _, o := range list {
		out[o.SourceID] = o
	}
	return out, nil
}

func (s *Store) PurgeOverrides(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).Where("updated_at < ?", olderThan).Delete(&model.SourceOverride{})
	return res.RowsAffected, errors.Wrap(res.Error, "purge overrides")
}

func (s *Store) SaveHealth(ctx context.Context, list []model.ProviderHealth) error {
	if len(list) == 0 {
		return nil
	}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&list).Error
	return errors.Wrap(err, "save provider health")
}

func (s *Store) LoadHealth(ctx context.Context) ([]model.ProviderHealth, error) {
	var list []model.ProviderHealth
	err := s.DB.WithContext(ctx).Order("provider").Find(&list).Error
	return list, errors.Wrap(err, "load provider health")
}
