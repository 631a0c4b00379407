package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"autohedge/internal/service"
)

// TradeRepo 基于 SQLite 实现 service.TradeRepository。
// 交易记录整体序列化为 JSON 存储，另冗余出过滤排序所需的列；
// 所有更新都是整记录替换，避免并发完成与删除之间的丢失更新。
type TradeRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTradeRepo 创建交易仓储并初始化表结构。
func NewTradeRepo(store *Store, logger *zap.Logger) (*TradeRepo, error) {
	if store == nil {
		return nil, errors.New("store: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	repo := &TradeRepo{db: store.DB(), logger: logger}
	if err := repo.initSchema(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *TradeRepo) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			payload TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_user_created ON trades(user_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_user_status ON trades(user_id, status);`,
	}

	for _, stmt := range schema {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: 初始化交易表失败: %w", err)
		}
	}
	return nil
}

// CreateTrade 写入新交易。
func (r *TradeRepo) CreateTrade(ctx context.Context, trade service.Trade) error {
	payload, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("store: 序列化交易失败: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO trades (id, user_id, status, created_at, payload) VALUES (?, ?, ?, ?, ?)`,
		trade.ID, trade.UserID, string(trade.Status),
		trade.CreatedAt.Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return fmt.Errorf("store: 写入交易失败: %w", err)
	}
	return nil
}

// TradeByID 按所有者查找交易，所有权不匹配视同不存在。
func (r *TradeRepo) TradeByID(ctx context.Context, userID, tradeID string) (service.Trade, bool, error) {
	var payload string
	row := r.db.QueryRowContext(ctx,
		`SELECT payload FROM trades WHERE id = ? AND user_id = ?`,
		tradeID, userID,
	)

	switch err := row.Scan(&payload); {
	case errors.Is(err, sql.ErrNoRows):
		return service.Trade{}, false, nil
	case err != nil:
		return service.Trade{}, false, fmt.Errorf("store: 查询交易失败: %w", err)
	}

	trade, err := decodeTrade(payload)
	if err != nil {
		return service.Trade{}, false, err
	}
	return trade, true, nil
}

// ReplaceTrade 整体替换交易记录；记录不存在时返回 false，写入被丢弃。
func (r *TradeRepo) ReplaceTrade(ctx context.Context, trade service.Trade) (bool, error) {
	payload, err := json.Marshal(trade)
	if err != nil {
		return false, fmt.Errorf("store: 序列化交易失败: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE trades SET status = ?, payload = ? WHERE id = ? AND user_id = ?`,
		string(trade.Status), string(payload), trade.ID, trade.UserID,
	)
	if err != nil {
		return false, fmt.Errorf("store: 替换交易失败: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: 读取更新行数失败: %w", err)
	}
	return affected > 0, nil
}

// DeleteTrade 删除属于该用户的交易。
func (r *TradeRepo) DeleteTrade(ctx context.Context, userID, tradeID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM trades WHERE id = ? AND user_id = ?`,
		tradeID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("store: 删除交易失败: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: 读取删除行数失败: %w", err)
	}
	return affected > 0, nil
}

// ListTrades 返回用户交易，按创建时间倒序分页。
func (r *TradeRepo) ListTrades(ctx context.Context, userID string, filter service.ListFilter) ([]service.Trade, error) {
	query := `SELECT payload FROM trades WHERE user_id = ?`
	args := []interface{}{userID}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Skip)

	return r.queryTrades(ctx, query, args...)
}

// ListTradesSince 返回用户在给定时间之后创建的全部交易。
func (r *TradeRepo) ListTradesSince(ctx context.Context, userID string, since time.Time) ([]service.Trade, error) {
	return r.queryTrades(ctx,
		`SELECT payload FROM trades WHERE user_id = ? AND created_at >= ? ORDER BY created_at DESC`,
		userID, since.UTC().Format(time.RFC3339Nano),
	)
}

func (r *TradeRepo) queryTrades(ctx context.Context, query string, args ...interface{}) ([]service.Trade, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: 查询交易列表失败: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.Warn("关闭查询结果失败", zap.Error(closeErr))
		}
	}()

	trades := make([]service.Trade, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("store: 读取交易记录失败: %w", err)
		}
		trade, err := decodeTrade(payload)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 遍历交易记录失败: %w", err)
	}

	return trades, nil
}

func decodeTrade(payload string) (service.Trade, error) {
	var trade service.Trade
	if err := json.Unmarshal([]byte(payload), &trade); err != nil {
		return service.Trade{}, fmt.Errorf("store: 反序列化交易失败: %w", err)
	}
	return trade, nil
}
