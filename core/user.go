package core

import (
	"context"
	"time"
)

// User 是注册用户。PasswordHash 为空表示仅通过 Google 登录的账号。
type User struct {
	ID            string    `json:"id" bson:"_id"`
	Name          string    `json:"name" bson:"name"`
	Email         string    `json:"email" bson:"email"`
	PasswordHash  string    `json:"-" bson:"password,omitempty"`
	Role          string    `json:"role" bson:"role"`
	EmailVerified bool      `json:"email_verified" bson:"email_verified"`
	GoogleID      string    `json:"-" bson:"google_id,omitempty"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
}

// UserStore 是用户存储的领域接口。
//
// 实现：
//   - store.KVRecordStore（memory / redis）
//   - store.MongoStore
//   - store.SQLiteStore
type UserStore interface {
	// CreateUser 创建用户，邮箱重复时返回 ErrStoreConflict
	CreateUser(ctx context.Context, u *User) error

	// GetUser 按 ID 查询，不存在时返回 ErrStoreNotFound
	GetUser(ctx context.Context, id string) (*User, error)

	// GetUserByEmail 按邮箱查询（不区分大小写），不存在时返回 ErrStoreNotFound
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// UpdateUser 覆盖写入已有用户，邮箱与其他用户冲突时返回 ErrStoreConflict
	UpdateUser(ctx context.Context, u *User) error
}

// RecordStore 是预测记录存储的领域接口。记录只写一次，不提供更新和删除。
type RecordStore interface {
	// InsertRecord 写入一条记录
	InsertRecord(ctx context.Context, r *PredictionRecord) error

	// ListRecords 按创建时间倒序返回用户的记录，limit <= 0 表示不限
	ListRecords(ctx context.Context, userID string, limit int) ([]*PredictionRecord, error)

	// GetRecord 返回属于该用户的单条记录，不存在或不属于该用户时返回 ErrStoreNotFound
	GetRecord(ctx context.Context, userID, recordID string) (*PredictionRecord, error)
}

// Repository 聚合用户、记录与反馈存储，由 store 包的各后端实现。
type Repository interface {
	UserStore
	RecordStore
	FeedbackStore
	Name() string
	Ping(ctx context.Context) error
	Close() error
}
