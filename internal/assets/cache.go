package assets

import (
	"context"
	"time"
)

// ContentCache определяет интерфейс кеша содержимого бандлов и манифестов.
// Пайплайн работает в режиме cache-first: попадание избавляет от сетевого
// запроса, промах заполняется после успешной загрузки. Недоступность кеша
// не фатальна — загрузка идёт напрямую из сети.
//
// Использование:
//
//	cache, _ := NewBadgerCache("data/bundle-cache")
//	data, err := cache.Get(ctx, "bundles/basegame/pak0.pk3")
//	if IsCacheMiss(err) { ... }
type ContentCache interface {
	// Get получает значение по ключу из кеша.
	// Возвращает ErrCacheMiss если ключ не найден.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение в кеше с указанным TTL.
	// TTL = 0 означает отсутствие истечения.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Close закрывает соединение с кешем.
	Close() error
}

// Ошибки кеша
var (
	ErrCacheMiss   = NewCacheError("cache miss")
	ErrCacheClosed = NewCacheError("cache closed")
)

// CacheError представляет ошибку кеша.
type CacheError struct {
	Message string
}

func (e *CacheError) Error() string {
	return e.Message
}

func NewCacheError(message string) *CacheError {
	return &CacheError{Message: message}
}

// IsCacheMiss проверяет, является ли ошибка промахом кеша.
func IsCacheMiss(err error) bool {
	return err == ErrCacheMiss
}
