package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"autohedge/internal/service"
)

// UserRepo 基于 SQLite 实现 service.UserRepository。
type UserRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUserRepo 创建用户仓储并初始化表结构。
func NewUserRepo(store *Store, logger *zap.Logger) (*UserRepo, error) {
	if store == nil {
		return nil, errors.New("store: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	repo := &UserRepo{db: store.DB(), logger: logger}
	if err := repo.initSchema(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *UserRepo) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL UNIQUE,
			fund_name TEXT NOT NULL,
			fund_description TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			key TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			created_at TEXT NOT NULL,
			revoked INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id);`,
	}

	for _, stmt := range schema {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: 初始化用户表失败: %w", err)
		}
	}
	return nil
}

// CreateUser 在同一事务中写入用户与 API Key。
func (r *UserRepo) CreateUser(ctx context.Context, user service.User, key service.APIKey) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, username, email, fund_name, fund_description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.Email, user.FundName, user.FundDescription,
		user.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			err = service.ErrDuplicateUser
			return err
		}
		err = fmt.Errorf("store: 写入用户失败: %w", err)
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO api_keys (key, user_id, created_at, revoked) VALUES (?, ?, ?, 0)`,
		key.Key, key.UserID, key.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		err = fmt.Errorf("store: 写入 API Key 失败: %w", err)
		return err
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("store: 提交事务失败: %w", err)
		return err
	}

	return nil
}

// UserByAPIKey 按未吊销的 API Key 查找用户。
func (r *UserRepo) UserByAPIKey(ctx context.Context, key string) (service.User, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT u.id, u.username, u.email, u.fund_name, u.fund_description, u.created_at
		 FROM api_keys k JOIN users u ON u.id = k.user_id
		 WHERE k.key = ? AND k.revoked = 0`,
		key,
	)

	user, err := scanUser(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return service.User{}, false, nil
	case err != nil:
		return service.User{}, false, fmt.Errorf("store: 查询 API Key 失败: %w", err)
	}

	return user, true, nil
}

// ReplaceUser 整体替换用户记录。
func (r *UserRepo) ReplaceUser(ctx context.Context, user service.User) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET username = ?, email = ?, fund_name = ?, fund_description = ? WHERE id = ?`,
		user.Username, user.Email, user.FundName, user.FundDescription, user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, service.ErrDuplicateUser
		}
		return false, fmt.Errorf("store: 更新用户失败: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: 读取更新行数失败: %w", err)
	}
	return affected > 0, nil
}

func scanUser(row *sql.Row) (service.User, error) {
	var (
		user      service.User
		createdAt string
	)
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &user.FundName, &user.FundDescription, &createdAt); err != nil {
		return service.User{}, err
	}

	ts, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return service.User{}, fmt.Errorf("解析 created_at 失败: %w", err)
	}
	user.CreatedAt = ts

	return user, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
