// Package store 提供 core.Store / core.KeyValueStore / core.Repository 的实现。
//
// 接口定义在 core 包，此包只包含实现：
//
//	var kv core.KeyValueStore = NewMemoryStore()
//	var repo core.Repository = NewKVRecordStore(kv)
//	repo, err := Open(ctx, Config{Backend: BackendSQLite, SQLitePath: "oralcare.db"})
package store
