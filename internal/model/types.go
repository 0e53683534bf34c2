package model

import (
	"time"

	"gorm.io/gorm"
)

// ProviderMapping 将规范 animeId 映射到各数据源自己的 ID
type ProviderMapping struct {
	gorm.Model
	AnimeID    string `json:"anime_id" gorm:"uniqueIndex:idx_anime_provider"`
	Provider   string `json:"provider" gorm:"uniqueIndex:idx_anime_provider"`
	ExternalID string `json:"external_id"`
}

// SourceOverride 手动标记某个来源可用/不可用
type SourceOverride struct {
	SourceID  string    `json:"source_id" gorm:"primaryKey"`
	Available bool      `json:"available"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index"`
}

// CachedResult 持久化的聚合结果 (sqlite 缓存后端)
type CachedResult struct {
	AnimeID       string    `gorm:"primaryKey"`
	EpisodeNumber int       `gorm:"primaryKey"`
	FetchedAt     time.Time `gorm:"index"`
	Payload       string
}

// ProviderHealth 数据源健康状态快照
type ProviderHealth struct {
	Provider            string     `json:"provider" gorm:"primaryKey"`
	Enabled             bool       `json:"enabled" gorm:"-"`
	Degraded            bool       `json:"degraded"`
	LastSuccess         *time.Time `json:"last_success"`
	LastFailure         *time.Time `json:"last_failure"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TotalSuccesses      int64      `json:"total_successes"`
	TotalFailures       int64      `json:"total_failures"`
	LastErrorKind       string     `json:"last_error_kind"`
	LastError           string     `json:"last_error"`
	LastLatencyMs       int64      `json:"last_latency_ms"`
	UpdatedAt           time.Time  `json:"updated_at"`
}
