package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rushteam/oralcare/core"
)

// KVRecordStore 在 KeyValueStore 之上实现用户与预测记录存储，后端可以是 memory 或 redis。
//
// 键布局：
//
//	user:{id}              用户 JSON
//	user:email:{email}     小写邮箱 -> 用户 ID（SetNX 保证唯一）
//	record:{id}            记录 JSON
//	records:{user_id}      有序集合，score 为创建时间（微秒）
//	feedback:{id}          反馈 JSON
type KVRecordStore struct {
	kv core.KeyValueStore
}

func NewKVRecordStore(kv core.KeyValueStore) *KVRecordStore {
	return &KVRecordStore{kv: kv}
}

// userDoc 是用户的存储形态，core.User 的 JSON 形态不含密码哈希与 Google ID
type userDoc struct {
	core.User
	PasswordHash string `json:"password,omitempty"`
	GoogleID     string `json:"google_id,omitempty"`
}

func toUserDoc(u *core.User) *userDoc {
	return &userDoc{User: *u, PasswordHash: u.PasswordHash, GoogleID: u.GoogleID}
}

func (d *userDoc) user() *core.User {
	u := d.User
	u.PasswordHash = d.PasswordHash
	u.GoogleID = d.GoogleID
	return &u
}

func (s *KVRecordStore) Name() string { return s.kv.Name() }

func (s *KVRecordStore) Ping(ctx context.Context) error { return s.kv.Ping(ctx) }

func (s *KVRecordStore) Close() error { return s.kv.Close() }

func userKey(id string) string        { return "user:" + id }
func emailKey(email string) string    { return "user:email:" + strings.ToLower(strings.TrimSpace(email)) }
func recordKey(id string) string      { return "record:" + id }
func userRecordsKey(id string) string { return "records:" + id }
func feedbackKey(id string) string    { return "feedback:" + id }

func (s *KVRecordStore) CreateUser(ctx context.Context, u *core.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	ok, err := s.kv.SetNX(ctx, emailKey(u.Email), []byte(u.ID))
	if err != nil {
		return unavailable("create user", err)
	}
	if !ok {
		return core.ErrStoreConflict
	}
	if err := s.putJSON(ctx, userKey(u.ID), toUserDoc(u)); err != nil {
		_ = s.kv.Delete(ctx, emailKey(u.Email))
		return err
	}
	return nil
}

func (s *KVRecordStore) GetUser(ctx context.Context, id string) (*core.User, error) {
	var d userDoc
	if err := s.getJSON(ctx, userKey(id), &d); err != nil {
		return nil, err
	}
	return d.user(), nil
}

func (s *KVRecordStore) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	id, err := s.kv.Get(ctx, emailKey(email))
	if err != nil {
		if core.IsStoreNotFound(err) {
			return nil, err
		}
		return nil, unavailable("get user", err)
	}
	return s.GetUser(ctx, string(id))
}

func (s *KVRecordStore) UpdateUser(ctx context.Context, u *core.User) error {
	old, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return err
	}
	oldKey, newKey := emailKey(old.Email), emailKey(u.Email)
	if oldKey != newKey {
		ok, err := s.kv.SetNX(ctx, newKey, []byte(u.ID))
		if err != nil {
			return unavailable("update user", err)
		}
		if !ok {
			return core.ErrStoreConflict
		}
	}
	if err := s.putJSON(ctx, userKey(u.ID), toUserDoc(u)); err != nil {
		if oldKey != newKey {
			_ = s.kv.Delete(ctx, newKey)
		}
		return err
	}
	if oldKey != newKey {
		_ = s.kv.Delete(ctx, oldKey)
	}
	return nil
}

func (s *KVRecordStore) InsertRecord(ctx context.Context, r *core.PredictionRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if err := s.putJSON(ctx, recordKey(r.ID), r); err != nil {
		return err
	}
	if err := s.kv.ZAdd(ctx, userRecordsKey(r.UserID), float64(r.CreatedAt.UnixMicro()), r.ID); err != nil {
		_ = s.kv.Delete(ctx, recordKey(r.ID))
		return unavailable("index record", err)
	}
	return nil
}

func (s *KVRecordStore) ListRecords(ctx context.Context, userID string, limit int) ([]*core.PredictionRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.kv.ZRange(ctx, userRecordsKey(userID), 0, stop)
	if err != nil {
		return nil, unavailable("list records", err)
	}
	if len(ids) == 0 {
		return []*core.PredictionRecord{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKey(id)
	}
	docs, err := s.kv.BatchGet(ctx, keys)
	if err != nil {
		return nil, unavailable("list records", err)
	}
	out := make([]*core.PredictionRecord, 0, len(ids))
	for _, k := range keys {
		data, ok := docs[k]
		if !ok {
			continue
		}
		var r core.PredictionRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		out = append(out, &r)
	}
	return out, nil
}

func (s *KVRecordStore) GetRecord(ctx context.Context, userID, recordID string) (*core.PredictionRecord, error) {
	var r core.PredictionRecord
	if err := s.getJSON(ctx, recordKey(recordID), &r); err != nil {
		return nil, err
	}
	if r.UserID != userID {
		return nil, core.ErrStoreNotFound
	}
	return &r, nil
}

func (s *KVRecordStore) InsertFeedback(ctx context.Context, f *core.Feedback) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	return s.putJSON(ctx, feedbackKey(f.ID), f)
}

func (s *KVRecordStore) putJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, data); err != nil {
		return unavailable("write "+key, err)
	}
	return nil
}

func (s *KVRecordStore) getJSON(ctx context.Context, key string, v interface{}) error {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if core.IsStoreNotFound(err) {
			return err
		}
		return unavailable("read "+key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// unavailable 把后端错误统一为 store UNAVAILABLE，已是 DomainError 的保持原样
func unavailable(op string, err error) error {
	if core.GetDomainError(err) != nil {
		return err
	}
	return core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, op+" failed", err)
}

var _ core.Repository = (*KVRecordStore)(nil)
