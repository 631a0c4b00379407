package service

import (
	"context"
	"time"
)

// UserRepository 持久化用户与 API Key。
type UserRepository interface {
	// CreateUser 原子地写入用户与其 API Key；
	// 用户名或邮箱冲突时返回 ErrDuplicateUser。
	CreateUser(ctx context.Context, user User, key APIKey) error
	// UserByAPIKey 按未吊销的 API Key 查找用户。
	UserByAPIKey(ctx context.Context, key string) (User, bool, error)
	// ReplaceUser 整体替换用户记录。
	ReplaceUser(ctx context.Context, user User) (bool, error)
}

// TradeRepository 持久化交易记录。所有更新均为整记录替换。
type TradeRepository interface {
	CreateTrade(ctx context.Context, trade Trade) error
	// TradeByID 按所有者查找交易，所有权不匹配视同不存在。
	TradeByID(ctx context.Context, userID, tradeID string) (Trade, bool, error)
	// ReplaceTrade 整体替换交易记录；记录已被删除时返回 false，写入被丢弃。
	ReplaceTrade(ctx context.Context, trade Trade) (bool, error)
	DeleteTrade(ctx context.Context, userID, tradeID string) (bool, error)
	// ListTrades 返回用户的交易，按创建时间倒序。
	ListTrades(ctx context.Context, userID string, filter ListFilter) ([]Trade, error)
	// ListTradesSince 返回用户在给定时间之后创建的全部交易。
	ListTradesSince(ctx context.Context, userID string, since time.Time) ([]Trade, error)
}
