package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormDatabase GORM 数据库实现
type GormDatabase struct {
	db *gorm.DB
}

// DBConfig 数据库配置
type DBConfig struct {
	Type            string        // sqlite, postgres, mysql
	DSN             string        // 数据源名称
	MaxOpenConns    int           // 最大打开连接数
	MaxIdleConns    int           // 最大空闲连接数
	ConnMaxLifetime time.Duration // 连接最大生命周期
	LogLevel        string        // 日志级别: silent, error, warn, info
}

// NewGormDatabase 创建 GORM 数据库实例
func NewGormDatabase(config *DBConfig) (*GormDatabase, error) {
	var dialector gorm.Dialector

	switch config.Type {
	case "sqlite":
		dialector = sqlite.Open(config.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(config.DSN)
	case "mysql":
		dialector = mysql.Open(config.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	// 日志级别
	logLevel := logger.Silent
	switch config.LogLevel {
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// 连接池
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	// 自动迁移
	if err := db.AutoMigrate(
		&RiskStateRecord{},
		&TradeRecord{},
		&LegRecord{},
		&EventRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	return &GormDatabase{db: db}, nil
}

// SaveRiskState 保存风控状态（按资金域整条覆盖）
func (g *GormDatabase) SaveRiskState(ctx context.Context, state *RiskStateRecord) error {
	state.UpdatedAt = time.Now()
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "domain"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"date", "opening_capital", "current_capital", "peak_capital",
			"daily_pnl", "consecutive_losses", "status", "updated_at",
		}),
	}).Create(state).Error
}

// GetRiskState 读取风控状态，不存在时返回 (nil, nil)
func (g *GormDatabase) GetRiskState(ctx context.Context, domain string) (*RiskStateRecord, error) {
	var state RiskStateRecord
	err := g.db.WithContext(ctx).Where("domain = ?", domain).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveTrade 保存交易记录
func (g *GormDatabase) SaveTrade(ctx context.Context, trade *TradeRecord) error {
	return g.db.WithContext(ctx).Create(trade).Error
}

// SaveTradeWithLegs 事务性保存交易及其全部腿明细
func (g *GormDatabase) SaveTradeWithLegs(ctx context.Context, trade *TradeRecord, legs []*LegRecord) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(trade).Error; err != nil {
			return err
		}
		for _, leg := range legs {
			leg.TradeID = trade.ID
		}
		if len(legs) > 0 {
			if err := tx.Create(&legs).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetTrades 查询交易记录
func (g *GormDatabase) GetTrades(ctx context.Context, filter *TradeFilter) ([]*TradeRecord, error) {
	query := g.db.WithContext(ctx).Model(&TradeRecord{})

	if filter.Strategy != "" {
		query = query.Where("strategy = ?", filter.Strategy)
	}
	if filter.Outcome != "" {
		query = query.Where("outcome = ?", filter.Outcome)
	}
	if filter.StartTime != nil {
		query = query.Where("created_at >= ?", filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("created_at <= ?", filter.EndTime)
	}

	query = query.Order("created_at DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var trades []*TradeRecord
	if err := query.Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// GetLegs 查询某笔交易的全部腿明细
func (g *GormDatabase) GetLegs(ctx context.Context, tradeID int64) ([]*LegRecord, error) {
	var legs []*LegRecord
	err := g.db.WithContext(ctx).Where("trade_id = ?", tradeID).Order("id ASC").Find(&legs).Error
	if err != nil {
		return nil, err
	}
	return legs, nil
}

// SaveEvent 保存事件记录
func (g *GormDatabase) SaveEvent(ctx context.Context, event *EventRecord) error {
	return g.db.WithContext(ctx).Create(event).Error
}

// GetEvents 查询事件记录
func (g *GormDatabase) GetEvents(ctx context.Context, filter *EventFilter) ([]*EventRecord, error) {
	query := g.db.WithContext(ctx).Model(&EventRecord{})

	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.StartTime != nil {
		query = query.Where("created_at >= ?", filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("created_at <= ?", filter.EndTime)
	}

	query = query.Order("created_at DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var events []*EventRecord
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// CleanupEvents 清理过期事件，返回删除条数
func (g *GormDatabase) CleanupEvents(ctx context.Context, before time.Time) (int64, error) {
	result := g.db.WithContext(ctx).Where("created_at < ?", before).Delete(&EventRecord{})
	return result.RowsAffected, result.Error
}

// Ping 健康检查
func (g *GormDatabase) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭连接
func (g *GormDatabase) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
