package docqa

import (
	"fmt"
	"sync"
	"time"

	applog "docqa/internal/platform/log"
)

// Store 进程内唯一的共享索引句柄。
// 写路径：Update 持有写锁串行执行 load-if-absent → append → persist → publish，
// 两个并发上传不会互相覆盖对方的追加。
// 读路径：Refresh 在每次查询前对齐磁盘上的最新快照。
type Store struct {
	storage IndexStorage

	mu       sync.RWMutex
	idx      VectorIndex
	loadedAt time.Time

	writeMu sync.Mutex
}

// NewStore 创建索引句柄
func NewStore(storage IndexStorage) *Store {
	return &Store{storage: storage}
}

// Get 返回当前常驻索引，可能为 nil
func (s *Store) Get() VectorIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx
}

// Set 发布新的常驻索引
func (s *Store) Set(idx VectorIndex) {
	mod, _ := s.storage.ModTime()
	s.mu.Lock()
	s.idx = idx
	s.loadedAt = mod
	s.mu.Unlock()
}

// Refresh 磁盘快照比常驻索引新时重新加载。
// 没有快照文件时保持现状（可能仍为 nil）。
func (s *Store) Refresh() error {
	mod, ok := s.storage.ModTime()
	if !ok {
		return nil
	}

	s.mu.RLock()
	current := s.loadedAt
	resident := s.idx != nil
	s.mu.RUnlock()

	if resident && !mod.After(current) {
		return nil
	}

	idx, err := s.storage.Load()
	if err != nil {
		return fmt.Errorf("refresh index: %w", err)
	}

	s.mu.Lock()
	// 并发 Refresh 之间以最后一次加载为准，快照内容一致
	s.idx = idx
	s.loadedAt = mod
	s.mu.Unlock()

	applog.Debug("[DocQA/Store] Index reloaded from snapshot", "entries", idx.Len())
	return nil
}

// Update 在写锁内对索引执行一次追加型变更并持久化。
// 变更作用在从磁盘新载入的私有实例上，磁盘没有快照则以 dims 新建。
// fn 返回错误或持久化失败时不发布，常驻索引与磁盘快照都保持原样。
func (s *Store) Update(dims int, fn func(idx VectorIndex) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// 不复用常驻实例：读方正持有它的引用，追加必须发生在未发布的副本上，
	// 否则持久化失败时已追加的块会泄漏给查询。常驻索引只会来自已落盘的
	// 快照，从磁盘重载不会丢任何已发布的写入。
	var idx VectorIndex
	if s.storage.Exists() {
		loaded, err := s.storage.Load()
		if err != nil {
			return fmt.Errorf("load index before update: %w", err)
		}
		idx = loaded
	} else {
		idx = s.storage.Create(dims)
	}

	if err := fn(idx); err != nil {
		return err
	}

	if err := s.storage.Save(idx); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}

	s.Set(idx)
	return nil
}
