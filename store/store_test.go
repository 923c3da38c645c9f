package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/oralcare/core"
)

func TestMemoryStore_KV(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	_, err := s.Get(ctx, "missing")
	assert.True(t, core.IsStoreNotFound(err))

	require.NoError(t, s.Set(ctx, "a", []byte("1")))
	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))

	ok, err := s.SetNX(ctx, "a", []byte("2"))
	require.NoError(t, err)
	assert.False(t, ok, "已存在的 key 不应被 SetNX 覆盖")
	ok, err = s.SetNX(ctx, "b", []byte("2"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Set(ctx, "c", []byte("3")))
	got, err := s.BatchGet(ctx, []string{"a", "c", "nope"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Get(ctx, "a")
	assert.True(t, errors.Is(err, core.ErrStoreNotFound))
	assert.NoError(t, s.Ping(ctx))
}

func TestMemoryStore_ZSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.ZAdd(ctx, "z", 1, "low"))
	require.NoError(t, s.ZAdd(ctx, "z", 3, "high"))
	require.NoError(t, s.ZAdd(ctx, "z", 2, "mid"))

	all, err := s.ZRange(ctx, "z", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "mid", "low"}, all)

	top, err := s.ZRange(ctx, "z", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"high"}, top)
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	s.mu.Lock()
	s.data["old"] = &entry{value: []byte("x"), expire: time.Now().Add(-time.Second)}
	s.mu.Unlock()

	_, err := s.Get(ctx, "old")
	assert.True(t, core.IsStoreNotFound(err), "过期 key 应视为不存在")
	ok, err := s.SetNX(ctx, "old", []byte("y"))
	require.NoError(t, err)
	assert.True(t, ok, "过期 key 可以被 SetNX 写入")
}

func TestOpen_Unsupported(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "cassandra"})
	assert.True(t, core.IsNotSupported(err))
}

// testRepository 对所有 Repository 实现执行相同的行为校验
func testRepository(t *testing.T, repo core.Repository) {
	ctx := context.Background()

	t.Run("users", func(t *testing.T) {
		u := &core.User{Name: "Asha", Email: "asha@example.com", PasswordHash: "hash", Role: "user", CreatedAt: time.Now().UTC()}
		require.NoError(t, repo.CreateUser(ctx, u))
		require.NotEmpty(t, u.ID)

		dup := &core.User{Name: "Other", Email: "ASHA@example.com", CreatedAt: time.Now().UTC()}
		err := repo.CreateUser(ctx, dup)
		assert.True(t, errors.Is(err, core.ErrStoreConflict), "邮箱重复（大小写不同）应冲突: %v", err)

		got, err := repo.GetUserByEmail(ctx, "Asha@Example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		assert.Equal(t, "hash", got.PasswordHash, "密码哈希应被持久化")

		got.Name = "Asha R"
		require.NoError(t, repo.UpdateUser(ctx, got))
		again, err := repo.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "Asha R", again.Name)

		_, err = repo.GetUserByEmail(ctx, "nobody@example.com")
		assert.True(t, core.IsStoreNotFound(err))
	})

	t.Run("records", func(t *testing.T) {
		base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		prob := 0.35
		first := &core.PredictionRecord{
			UserID: "u1", ImageResult: core.DecisionBenign, ImageConfidence: 0.4,
			MetadataProbability: &prob, FinalScore: 0.385, FinalDecision: core.DecisionBenign,
			Metadata: map[string]any{"tobacco": 1.0}, CreatedAt: base,
		}
		second := &core.PredictionRecord{
			UserID: "u1", ImageResult: core.DecisionMalignant, ImageConfidence: 0.9,
			FinalScore: 0.9, FinalDecision: core.DecisionMalignant, CreatedAt: base.Add(time.Minute),
		}
		other := &core.PredictionRecord{UserID: "u2", ImageResult: core.DecisionBenign, FinalDecision: core.DecisionBenign, CreatedAt: base}
		for _, r := range []*core.PredictionRecord{first, second, other} {
			require.NoError(t, repo.InsertRecord(ctx, r))
			require.NotEmpty(t, r.ID)
		}

		list, err := repo.ListRecords(ctx, "u1", 0)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, second.ID, list[0].ID, "应按创建时间倒序")
		assert.Nil(t, list[0].MetadataProbability)
		require.NotNil(t, list[1].MetadataProbability)
		assert.Equal(t, 0.35, *list[1].MetadataProbability)
		assert.Equal(t, 1.0, list[1].Metadata["tobacco"])
		assert.True(t, list[1].CreatedAt.Equal(base))

		limited, err := repo.ListRecords(ctx, "u1", 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		empty, err := repo.ListRecords(ctx, "nobody", 0)
		require.NoError(t, err)
		assert.NotNil(t, empty)
		assert.Empty(t, empty)

		got, err := repo.GetRecord(ctx, "u1", first.ID)
		require.NoError(t, err)
		assert.Equal(t, core.DecisionBenign, got.FinalDecision)

		_, err = repo.GetRecord(ctx, "u2", first.ID)
		assert.True(t, core.IsStoreNotFound(err), "不应读取到其他用户的记录")
	})

	t.Run("feedback", func(t *testing.T) {
		rating := 5
		f := &core.Feedback{Content: "helpful", Rating: &rating, Source: "test", CreatedAt: time.Now().UTC()}
		require.NoError(t, repo.InsertFeedback(ctx, f))
		assert.NotEmpty(t, f.ID)
		require.NoError(t, repo.InsertFeedback(ctx, &core.Feedback{Content: "no rating", CreatedAt: time.Now().UTC()}))
	})

	assert.NoError(t, repo.Ping(ctx))
}

func TestOfflineStore(t *testing.T) {
	s := Offline("mongo", errors.New("dial tcp: refused"))
	_, err := s.GetUser(context.Background(), "u1")
	assert.True(t, core.IsUnavailable(err))
	assert.True(t, core.IsUnavailable(s.Ping(context.Background())))
	assert.Equal(t, "mongo(offline)", s.Name())
}

func TestKVRecordStore(t *testing.T) {
	repo := NewKVRecordStore(NewMemoryStore())
	defer repo.Close()
	testRepository(t, repo)
}

// faultyKV 在指定操作上返回后端错误
type faultyKV struct {
	*MemoryStore
	failSet  string // 写入该 key 时失败
	failZAdd bool
}

var errBackend = errors.New("connection reset")

func (f *faultyKV) Set(ctx context.Context, key string, value []byte, ttl ...int) error {
	if key == f.failSet {
		return errBackend
	}
	return f.MemoryStore.Set(ctx, key, value, ttl...)
}

func (f *faultyKV) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if f.failZAdd {
		return errBackend
	}
	return f.MemoryStore.ZAdd(ctx, key, score, member)
}

func TestKVRecordStore_RollbackOnPartialWrite(t *testing.T) {
	ctx := context.Background()
	kv := &faultyKV{MemoryStore: NewMemoryStore()}
	repo := NewKVRecordStore(kv)
	defer repo.Close()

	t.Run("update user email", func(t *testing.T) {
		u := &core.User{Name: "Ravi", Email: "ravi@example.com", CreatedAt: time.Now().UTC()}
		require.NoError(t, repo.CreateUser(ctx, u))

		kv.failSet = userKey(u.ID)
		changed := *u
		changed.Email = "ravi.k@example.com"
		err := repo.UpdateUser(ctx, &changed)
		assert.True(t, core.IsUnavailable(err), "err = %v", err)
		kv.failSet = ""

		_, err = repo.GetUserByEmail(ctx, "ravi.k@example.com")
		assert.True(t, core.IsStoreNotFound(err), "写入失败后新邮箱索引应被回滚")
		got, err := repo.GetUserByEmail(ctx, "ravi@example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)

		other := &core.User{Name: "Other", Email: "ravi.k@example.com", CreatedAt: time.Now().UTC()}
		assert.NoError(t, repo.CreateUser(ctx, other), "回滚后的邮箱应可再次注册")
	})

	t.Run("insert record", func(t *testing.T) {
		kv.failZAdd = true
		r := &core.PredictionRecord{UserID: "u9", ImageResult: core.DecisionBenign, FinalDecision: core.DecisionBenign, CreatedAt: time.Now().UTC()}
		err := repo.InsertRecord(ctx, r)
		assert.True(t, core.IsUnavailable(err), "err = %v", err)
		kv.failZAdd = false

		require.NotEmpty(t, r.ID)
		_, err = kv.Get(ctx, recordKey(r.ID))
		assert.True(t, core.IsStoreNotFound(err), "索引失败后记录文档应被删除")
		list, err := repo.ListRecords(ctx, "u9", 0)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestSQLiteStore(t *testing.T) {
	repo, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "oralcare.db"))
	require.NoError(t, err)
	defer repo.Close()
	testRepository(t, repo)
}
