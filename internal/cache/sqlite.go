package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/pokerjest/animeSourceHub/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLite persists results as JSON rows so they survive a restart.
type SQLite struct {
	db *gorm.DB
}

func NewSQLite(db *gorm.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Get(ctx context.Context, key Key) (*model.AggregatedResult, bool, error) {
	var row model.CachedResult
	err := s.db.WithContext(ctx).
		Where("anime_id = ? AND episode_number = ?", key.AnimeID, key.Episode).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "select cached result")
	}
	var res model.AggregatedResult
	if err := json.Unmarshal([]byte(row.Payload), &res); err != nil {
		return nil, false, errors.Wrap(err, "decode cached result")
	}
	return &res, true, nil
}

func (s *SQLite) Set(ctx context.Context, key Key, res *model.AggregatedResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, "encode cached result")
	}
	row := model.CachedResult{
		AnimeID:       key.AnimeID,
		EpisodeNumber: key.Episode,
		FetchedAt:     res.FetchedAt,
		Payload:       string(payload),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "anime_id"}, {Name: "episode_number"}},
		DoUpdates: clause.AssignmentColumns([]string{"fetched_at", "payload"}),
	}).Create(&row).Error
	return errors.Wrap(err, "upsert cached result")
}

func (s *SQLite) Delete(ctx context.Context, key Key) error {
	err := s.db.WithContext(ctx).
		Where("anime_id = ? AND episode_number = ?", key.AnimeID, key.Episode).
		Delete(&model.CachedResult{}).Error
	return errors.Wrap(err, "delete cached result")
}

func (s *SQLite) Keys(ctx context.Context) ([]Key, error) {
	var rows []model.CachedResult
	err := s.db.WithContext(ctx).
		Select("anime_id", "episode_number").
		Order("anime_id, episode_number").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "list cached keys")
	}
	keys := make([]Key, len(rows))
	for i, r := range rows {
		keys[i] = Key{AnimeID: r.AnimeID, Episode: r.EpisodeNumber}
	}
	return keys, nil
}

func (s *SQLite) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res := s.db.WithContext(ctx).Where("fetched_at < ?", cutoff).Delete(&model.CachedResult{})
	return int(res.RowsAffected), errors.Wrap(res.Error, "purge cached results")
}
