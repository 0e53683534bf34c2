package db

import (
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/pokerjest/animeSourceHub/internal/logging"
	"github.com/pokerjest/animeSourceHub/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDB(storagePath string) {
	log := logging.For("db")
	var err error

	// 确保存储目录存在
	if storagePath != ":memory:" {
		dir := filepath.Dir(storagePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("failed to create storage directory: %v", err)
		}
	}

	DB, err = Open(storagePath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
}

// Open connects and migrates without touching the package-level handle.
func Open(storagePath string) (*gorm.DB, error) {
	conn, err := gorm.Open(sqlite.Open(storagePath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	// in-memory sqlite is per-connection
	if storagePath == ":memory:" {
		sqlDB, err := conn.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	// 自动迁移模式
	err = conn.AutoMigrate(
		&model.ProviderMapping{},
		&model.SourceOverride{},
		&model.CachedResult{},
		&model.ProviderHealth{},
	)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func CloseDB() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
