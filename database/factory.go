package database

import (
	"fmt"
	"time"

	"arbmesh/config"
)

// NewDatabase 根据配置创建数据库实例
func NewDatabase(cfg *config.Config) (Database, error) {
	dbConfig := &DBConfig{
		Type:            cfg.Database.Type,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
		LogLevel:        cfg.Database.LogLevel,
	}

	switch dbConfig.Type {
	case "sqlite", "postgres", "postgresql", "mysql":
		return NewGormDatabase(dbConfig)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbConfig.Type)
	}
}
