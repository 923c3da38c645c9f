package store

import (
	"context"

	"github.com/rushteam/oralcare/core"
)

// OfflineStore 在存储后端启动时不可达时替代真实存储：所有操作返回 store UNAVAILABLE。
// 服务仍可启动，匿名预测不受影响，需要存储的接口返回 503。
type OfflineStore struct {
	backend string
	cause   error
}

// Offline 创建 OfflineStore，cause 为连接失败的原因
func Offline(backend string, cause error) *OfflineStore {
	return &OfflineStore{backend: backend, cause: cause}
}

func (s *OfflineStore) err() error {
	return core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "Database not connected", s.cause)
}

func (s *OfflineStore) Name() string               { return s.backend + "(offline)" }
func (s *OfflineStore) Ping(context.Context) error { return s.err() }
func (s *OfflineStore) Close() error               { return nil }

func (s *OfflineStore) CreateUser(context.Context, *core.User) error { return s.err() }

func (s *OfflineStore) GetUser(context.Context, string) (*core.User, error) { return nil, s.err() }

func (s *OfflineStore) GetUserByEmail(context.Context, string) (*core.User, error) {
	return nil, s.err()
}

func (s *OfflineStore) UpdateUser(context.Context, *core.User) error { return s.err() }

func (s *OfflineStore) InsertRecord(context.Context, *core.PredictionRecord) error { return s.err() }

func (s *OfflineStore) ListRecords(context.Context, string, int) ([]*core.PredictionRecord, error) {
	return nil, s.err()
}

func (s *OfflineStore) GetRecord(context.Context, string, string) (*core.PredictionRecord, error) {
	return nil, s.err()
}

func (s *OfflineStore) InsertFeedback(context.Context, *core.Feedback) error { return s.err() }

var _ core.Repository = (*OfflineStore)(nil)
