package playback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/arena-stats/internal/logging"
)

// Громкость по умолчанию для пользователя без сохранённых настроек.
const (
	defaultEffectsVolume = 0.5
	defaultMusicVolume   = 0.5
)

// ErrVolumeNotFound — для пользователя нет сохранённых настроек громкости.
var ErrVolumeNotFound = errors.New("настройки громкости не найдены")

// VolumeState — два независимых канала и флаг заглушения. Заглушение
// переопределяет оба канала до эффективного нуля, не затирая сами уровни.
type VolumeState struct {
	Effects float64 `json:"effects"`
	Music   float64 `json:"music"`
	Muted   bool    `json:"muted"`
}

// VolumeRepo хранит настройки громкости между сессиями.
type VolumeRepo interface {
	Load(ctx context.Context, key string) (VolumeState, error)
	Save(ctx context.Context, key string, state VolumeState) error
}

// MemoryVolumeRepo — хранилище в памяти процесса. Для тестов и работы
// без Redis.
type MemoryVolumeRepo struct {
	mu     sync.RWMutex
	states map[string]VolumeState
}

// NewMemoryVolumeRepo создаёт пустое хранилище.
func NewMemoryVolumeRepo() *MemoryVolumeRepo {
	return &MemoryVolumeRepo{states: make(map[string]VolumeState)}
}

// Load читает настройки пользователя.
func (r *MemoryVolumeRepo) Load(_ context.Context, key string) (VolumeState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.states[key]
	if !ok {
		return VolumeState{}, ErrVolumeNotFound
	}
	return state, nil
}

// Save сохраняет настройки пользователя.
func (r *MemoryVolumeRepo) Save(_ context.Context, key string, state VolumeState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[key] = state
	return nil
}

// RedisVolumeRepo хранит настройки громкости в Redis, переживая рестарты
// сервиса и новые сессии воспроизведения.
type RedisVolumeRepo struct {
	client *redis.Client
}

// NewRedisVolumeRepo подключается к Redis и проверяет соединение.
func NewRedisVolumeRepo(url, password string, db int) (*RedisVolumeRepo, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     url,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
	}

	return &RedisVolumeRepo{client: client}, nil
}

func volumeKey(key string) string {
	return "volume:" + key
}

// Load читает настройки пользователя.
func (r *RedisVolumeRepo) Load(ctx context.Context, key string) (VolumeState, error) {
	data, err := r.client.Get(ctx, volumeKey(key)).Bytes()
	if err == redis.Nil {
		return VolumeState{}, ErrVolumeNotFound
	}
	if err != nil {
		return VolumeState{}, fmt.Errorf("ошибка чтения громкости из Redis: %w", err)
	}

	var state VolumeState
	if err := json.Unmarshal(data, &state); err != nil {
		return VolumeState{}, fmt.Errorf("ошибка десериализации громкости: %w", err)
	}
	return state, nil
}

// Save сохраняет настройки пользователя (бессрочно).
func (r *RedisVolumeRepo) Save(ctx context.Context, key string, state VolumeState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("ошибка сериализации громкости: %w", err)
	}
	if err := r.client.Set(ctx, volumeKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("ошибка записи громкости в Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение.
func (r *RedisVolumeRepo) Close() error {
	return r.client.Close()
}

// ConsoleSink — то, что контролю громкости нужно от сессии движка.
type ConsoleSink interface {
	QueueConsoleText(text string)
}

// Volume применяет настройки громкости к движку и сохраняет их в репозитории.
type Volume struct {
	mu    sync.Mutex
	sink  ConsoleSink
	repo  VolumeRepo
	key   string
	state VolumeState
	log   *logging.Logger
}

// NewVolume загружает сохранённые настройки пользователя (либо значения по
// умолчанию) и применяет их к движку.
func NewVolume(ctx context.Context, sink ConsoleSink, repo VolumeRepo, userKey string) *Volume {
	v := &Volume{
		sink: sink,
		repo: repo,
		key:  userKey,
		log:  logging.GetEngineLogger(),
	}

	state, err := repo.Load(ctx, userKey)
	if err != nil {
		if !errors.Is(err, ErrVolumeNotFound) {
			v.log.Warn("Не удалось загрузить громкость пользователя %s: %v", userKey, err)
		}
		state = VolumeState{Effects: defaultEffectsVolume, Music: defaultMusicVolume}
	}
	v.state = state
	v.apply()
	return v
}

// State возвращает текущие настройки.
func (v *Volume) State() VolumeState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Effective возвращает уровни, реально отправляемые движку:
// при заглушении оба равны нулю.
func (v *Volume) Effective() (effects, music float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.effectiveLocked()
}

func (v *Volume) effectiveLocked() (float64, float64) {
	if v.state.Muted {
		return 0, 0
	}
	return v.state.Effects, v.state.Music
}

// SetEffects задаёт уровень эффектов. Уровень сохраняется даже при
// активном заглушении.
func (v *Volume) SetEffects(ctx context.Context, level float64) {
	v.update(ctx, func(s *VolumeState) { s.Effects = clampLevel(level) })
}

// SetMusic задаёт уровень музыки.
func (v *Volume) SetMusic(ctx context.Context, level float64) {
	v.update(ctx, func(s *VolumeState) { s.Music = clampLevel(level) })
}

// SetMuted переключает заглушение. Снятие заглушения восстанавливает
// прежние уровни без участия пользователя.
func (v *Volume) SetMuted(ctx context.Context, muted bool) {
	v.update(ctx, func(s *VolumeState) { s.Muted = muted })
}

func (v *Volume) update(ctx context.Context, mutate func(*VolumeState)) {
	v.mu.Lock()
	mutate(&v.state)
	state := v.state
	v.mu.Unlock()

	v.apply()

	if err := v.repo.Save(ctx, v.key, state); err != nil {
		v.log.Warn("Не удалось сохранить громкость пользователя %s: %v", v.key, err)
	}
}

// apply шлёт движку эффективные уровни обоих каналов.
func (v *Volume) apply() {
	v.mu.Lock()
	effects, music := v.effectiveLocked()
	v.mu.Unlock()

	v.sink.QueueConsoleText(fmt.Sprintf("seta s_volume %g; seta s_musicvolume %g", effects, music))
}

func clampLevel(level float64) float64 {
	if level < 0 {
		return 0
	}
	if level > 1 {
		return 1
	}
	return level
}
