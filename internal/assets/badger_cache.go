package assets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
)

// BadgerCache хранит содержимое бандлов в локальной BadgerDB.
// Переживает перезапуск сервиса: повторное открытие того же реплея не ходит в CDN.
type BadgerCache struct {
	db      *badger.DB
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerCache открывает (или создаёт) кеш в указанной директории.
func NewBadgerCache(dir string) (*BadgerCache, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerCache{db: db, isReady: true}, nil
}

// Get читает значение по ключу.
func (bc *BadgerCache) Get(ctx context.Context, key string) ([]byte, error) {
	bc.mutex.RLock()
	defer bc.mutex.RUnlock()

	if !bc.isReady {
		return nil, ErrCacheClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := bc.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})

	if err == badger.ErrKeyNotFound {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	return data, nil
}

// Set сохраняет значение с TTL (0 — бессрочно).
func (bc *BadgerCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	bc.mutex.RLock()
	defer bc.mutex.RUnlock()

	if !bc.isReady {
		return ErrCacheClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := bc.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("ошибка записи в BadgerDB: %w", err)
	}

	return nil
}

// Close закрывает кеш.
func (bc *BadgerCache) Close() error {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()

	if !bc.isReady {
		return nil
	}

	bc.isReady = false
	return bc.db.Close()
}
