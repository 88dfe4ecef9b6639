package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"arbmesh/utils"
)

// LogStorage SQLite 日志存储
// 异步批量写入：日志热路径只投递到 channel，落盘由独立协程批量完成
type LogStorage struct {
	db     *sql.DB
	mu     sync.Mutex
	logCh  chan *logEntry
	closed bool
	done   chan struct{}
}

// logEntry 日志条目
type logEntry struct {
	level     string
	message   string
	timestamp time.Time
}

// LogRecord 日志记录
type LogRecord struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// LogQueryParams 日志查询参数
type LogQueryParams struct {
	StartTime time.Time
	EndTime   time.Time
	Level     string
	Keyword   string
	Limit     int
	Offset    int
}

// NewLogStorage 创建日志存储
func NewLogStorage(path string) (*LogStorage, error) {
	// WAL 模式提高并发性能
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("打开日志数据库失败: %w", err)
	}

	// SQLite 单写者
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ls := &LogStorage{
		db:    db,
		logCh: make(chan *logEntry, 500),
		done:  make(chan struct{}),
	}

	if err := ls.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("创建日志表失败: %w", err)
	}

	go ls.processLogs()

	return ls, nil
}

func (ls *LogStorage) createTable() error {
	ddl := `
	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_logs_level ON logs(level);
	`

	_, err := ls.db.Exec(ddl)
	return err
}

// WriteLog 写入日志（异步，队列满时丢弃，永不阻塞调用方）
func (ls *LogStorage) WriteLog(level, message string) {
	if ls.closed {
		return
	}

	entry := &logEntry{
		level:     level,
		message:   message,
		timestamp: utils.NowUTC(),
	}

	select {
	case ls.logCh <- entry:
	default:
	}
}

// processLogs 异步批量落盘
func (ls *LogStorage) processLogs() {
	defer close(ls.done)

	buffer := make([]*logEntry, 0, 100)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	flush := func() {
		if len(buffer) == 0 {
			return
		}

		ls.mu.Lock()
		// 写入失败静默：日志存储绝不影响主程序
		_ = ls.batchInsert(buffer)
		ls.mu.Unlock()

		buffer = buffer[:0]
	}

	for {
		select {
		case entry, ok := <-ls.logCh:
			if !ok {
				flush()
				return
			}
			buffer = append(buffer, entry)
			if len(buffer) >= 100 {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}

// batchInsert 事务批量插入
func (ls *LogStorage) batchInsert(entries []*logEntry) error {
	tx, err := ls.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO logs (timestamp, level, message)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, entry := range entries {
		if _, err := stmt.Exec(entry.timestamp, entry.level, entry.message); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// QueryLogs 查询日志
func (ls *LogStorage) QueryLogs(params *LogQueryParams) ([]*LogRecord, error) {
	var conditions []string
	var args []interface{}

	if !params.StartTime.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, params.StartTime)
	}
	if !params.EndTime.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, params.EndTime)
	}
	if params.Level != "" {
		conditions = append(conditions, "level = ?")
		args = append(args, strings.ToUpper(params.Level))
	}
	if params.Keyword != "" {
		conditions = append(conditions, "message LIKE ?")
		args = append(args, "%"+params.Keyword+"%")
	}

	query := "SELECT id, timestamp, level, message FROM logs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"

	limit := params.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, params.Offset)

	rows, err := ls.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询日志失败: %w", err)
	}
	defer rows.Close()

	var records []*LogRecord
	for rows.Next() {
		record := &LogRecord{}
		if err := rows.Scan(&record.ID, &record.Timestamp, &record.Level, &record.Message); err != nil {
			return nil, fmt.Errorf("扫描日志记录失败: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// CleanupOldLogs 清理过期日志，返回删除条数
func (ls *LogStorage) CleanupOldLogs(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	cutoff := utils.NowUTC().AddDate(0, 0, -retentionDays)

	ls.mu.Lock()
	defer ls.mu.Unlock()

	result, err := ls.db.Exec("DELETE FROM logs WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("清理日志失败: %w", err)
	}

	return result.RowsAffected()
}

// Close 关闭日志存储，等待缓冲区落盘
func (ls *LogStorage) Close() error {
	if ls.closed {
		return nil
	}
	ls.closed = true

	close(ls.logCh)
	<-ls.done

	return ls.db.Close()
}
