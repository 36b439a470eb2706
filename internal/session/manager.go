package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/annel0/arena-stats/internal/assets"
	"github.com/annel0/arena-stats/internal/logging"
	"github.com/annel0/arena-stats/internal/matchmeta"
)

// Manager владеет всеми живыми сессиями воспроизведения. Закрытие всегда
// проходит через менеджер, чтобы teardown выполнялся безусловно.
type Manager struct {
	matches     *matchmeta.Client
	deps        Deps
	manifestURL string
	manifest    sync.Once
	log         *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*PlaybackSession
}

// NewManager создаёт менеджер. Манифест ассетов загружается лениво при
// первой сессии: его отсутствие не мешает старту сервиса.
func NewManager(matches *matchmeta.Client, deps Deps, manifestURL string) *Manager {
	return &Manager{
		matches:     matches,
		deps:        deps,
		manifestURL: manifestURL,
		log:         logging.GetSessionLogger(),
		sessions:    make(map[string]*PlaybackSession),
	}
}

// Open запрашивает метаданные матча и открывает сессию воспроизведения.
func (m *Manager) Open(ctx context.Context, matchID string) (*PlaybackSession, error) {
	match, err := m.matches.GetMatch(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("метаданные матча недоступны: %w", err)
	}

	m.manifest.Do(func() {
		mf := m.deps.ManifestFetcher
		if mf == nil {
			mf = m.deps.Fetcher
		}
		m.deps.Manifest = assets.LoadManifest(ctx, mf, m.manifestURL)
	})

	s := Open(ctx, match, m.deps)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.log.Info("Открыта сессия %s для матча %s", s.ID(), matchID)
	return s, nil
}

// Get возвращает сессию по идентификатору.
func (m *Manager) Get(id string) (*PlaybackSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close закрывает и забывает сессию.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.Close()
	return true
}

// CloseAll разбирает все сессии; вызывается при останове сервиса.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*PlaybackSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*PlaybackSession)
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

// Count возвращает число живых сессий.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
