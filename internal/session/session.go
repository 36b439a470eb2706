package session

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/arena-stats/internal/assets"
	"github.com/annel0/arena-stats/internal/engine"
	"github.com/annel0/arena-stats/internal/eventbus"
	"github.com/annel0/arena-stats/internal/input"
	"github.com/annel0/arena-stats/internal/logging"
	"github.com/annel0/arena-stats/internal/matchmeta"
	"github.com/annel0/arena-stats/internal/playback"
	"github.com/annel0/arena-stats/internal/replay"
	"github.com/annel0/arena-stats/internal/viewport"
)

// State — состояние сессии воспроизведения, видимое дашборду.
type State string

const (
	StateCreated State = "created"
	StateStaging State = "staging"
	StateBooting State = "booting"
	StateReady   State = "ready"
	StateFailed  State = "failed"
	StateClosed  State = "closed"
)

// Deps — зависимости сессии, собираемые менеджером.
type Deps struct {
	Fetcher *assets.Fetcher

	// ManifestFetcher — отдельный загрузчик манифеста (короткий TTL,
	// обычно Redis-кеш); nil — манифест идёт через Fetcher.
	ManifestFetcher *assets.Fetcher

	Manifest    assets.Manifest
	CDNBase     string
	BaseDir     string
	StagingRoot string
	BootExtra   []string
	Launcher    engine.Launcher
	Surface     engine.RenderSurface
	Audio       io.Closer
	VolumeRepo  playback.VolumeRepo
	Publisher   *eventbus.Publisher
	Viewport    viewport.Size
}

// Status — снимок сессии для REST-ответов.
type Status struct {
	ID           string          `json:"id"`
	MatchID      string          `json:"match_id"`
	MapName      string          `json:"map_name,omitempty"`
	ModDirectory string          `json:"mod_directory,omitempty"`
	State        State           `json:"state"`
	Progress     assets.Progress `json:"progress"`
	Error        string          `json:"error,omitempty"`
}

// PlaybackSession ведёт один реплей от метаданных матча до первого кадра:
// загрузка реплея → разбор заголовка → staging → boot → мосты управления.
// Флаг отмены проверяется в каждой точке возобновления; после Close никакие
// вызовы в движок и записи в staging-дерево не выполняются.
type PlaybackSession struct {
	id    string
	match *matchmeta.Match
	deps  Deps
	log   *logging.Logger

	cancel  context.CancelFunc
	opened  time.Time
	eng     *engine.Session
	inputBr *input.Bridge
	resize  *viewport.Handshake
	ctrl    *playback.Controls
	volume  *playback.Volume

	mu      sync.Mutex
	state   State
	header  *replay.Header
	stager  *assets.Stager
	tree    *assets.StagingTree
	lastErr error
	closed  bool
}

// Open создаёт сессию и асинхронно запускает конвейер подготовки.
// Возвращает управление сразу: прогресс и состояние опрашиваются через Status.
func Open(ctx context.Context, match *matchmeta.Match, deps Deps) *PlaybackSession {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s := &PlaybackSession{
		id:     uuid.NewString(),
		match:  match,
		deps:   deps,
		log:    logging.GetSessionLogger(),
		cancel: cancel,
		opened: time.Now(),
		state:  StateCreated,
		eng:    engine.NewSession(deps.Launcher),
	}

	// Мост ввода взводится до boot: трансляция жестов не зависит от
	// состояния движка, события до готовности просто отбрасываются.
	s.inputBr = input.NewBridge(s.eng, input.Bounds{
		Width:  float64(deps.Viewport.Width),
		Height: float64(deps.Viewport.Height),
	})
	s.resize = viewport.NewHandshake(s.remoteSurface(), s.eng, deps.Viewport, viewport.Options{
		OnApplied: func(size viewport.Size) {
			s.inputBr.SetBounds(input.Bounds{Width: float64(size.Width), Height: float64(size.Height)})
		},
	})
	s.ctrl = playback.NewControls(s.eng)

	sessionsActive.Inc()
	s.publish(eventbus.EventSessionCreated, eventbus.SessionCreatedPayload{
		MatchID: match.ID,
		MapName: match.MapName,
	})

	go s.run(runCtx)
	return s
}

// ID возвращает идентификатор сессии.
func (s *PlaybackSession) ID() string { return s.id }

// Engine возвращает сессию движка для мостов и тестов.
func (s *PlaybackSession) Engine() *engine.Session { return s.eng }

// Input возвращает мост трансляции жестов.
func (s *PlaybackSession) Input() *input.Bridge { return s.inputBr }

// Resize возвращает рукопожатие вьюпорта.
func (s *PlaybackSession) Resize() *viewport.Handshake { return s.resize }

// Controls возвращает мост управления воспроизведением.
func (s *PlaybackSession) Controls() *playback.Controls { return s.ctrl }

// Volume возвращает контроль громкости; nil до готовности движка.
func (s *PlaybackSession) Volume() *playback.Volume {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Status возвращает снимок сессии.
func (s *PlaybackSession) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		ID:      s.id,
		MatchID: s.match.ID,
		State:   s.state,
	}
	if s.header != nil {
		st.MapName = s.header.MapName
		st.ModDirectory = s.header.ModDirectory
	}
	if s.stager != nil {
		st.Progress = s.stager.Progress()
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}

// run выполняет конвейер подготовки. Каждый шаг начинается с проверки
// отмены; после неё работа не возобновляется.
func (s *PlaybackSession) run(ctx context.Context) {
	// Файл реплея — единственная загрузка, без которой сессия не имеет
	// смысла: ошибка фатальна.
	replayData, err := s.deps.Fetcher.Fetch(ctx, s.match.ReplayURL)
	if err != nil {
		s.fail(fmt.Errorf("не удалось загрузить реплей: %w", err))
		return
	}
	if ctx.Err() != nil {
		return
	}

	header, err := replay.ParseHeader(replayData)
	if err != nil {
		s.fail(fmt.Errorf("реплей отвергнут: %w", err))
		return
	}

	tree, err := assets.NewStagingTree(s.deps.StagingRoot, s.id)
	if err != nil {
		s.fail(fmt.Errorf("не удалось создать staging-дерево: %w", err))
		return
	}

	stager := assets.NewStager(s.deps.Fetcher, s.deps.Manifest, s.deps.CDNBase, s.deps.BaseDir, tree, func(p assets.Progress) {
		if p.LoadedCount > 0 {
			stagedAssetsTotal.Inc()
		}
		s.publish(eventbus.EventSessionStaging, eventbus.SessionStagingPayload{
			LoadedCount: p.LoadedCount,
			TotalCount:  p.TotalCount,
		})
	})

	s.mu.Lock()
	if s.closed {
		// Закрыли, пока создавалось дерево: дерево не должно пережить сессию.
		s.mu.Unlock()
		_ = tree.Remove()
		return
	}
	s.header = header
	s.tree = tree
	s.stager = stager
	s.state = StateStaging
	s.mu.Unlock()

	s.log.Info("Сессия %s: карта %s, мод %q", s.id, header.MapName, header.ModDirectory)

	err = stager.Stage(ctx, header, assets.StageOptions{
		ReplayData:     replayData,
		InferMapBundle: true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.fail(fmt.Errorf("staging не удался: %w", err))
		return
	}
	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = StateBooting
	s.mu.Unlock()

	gameDir := header.ModDirectory
	if gameDir == "" {
		gameDir = s.deps.BaseDir
	}

	args := engine.BootArgs{
		BasePath:   tree.Root(),
		GameDir:    gameDir,
		ReplayPath: filepath.ToSlash(stager.ReplayRelPath(header)),
		Width:      s.deps.Viewport.Width,
		Height:     s.deps.Viewport.Height,
		Extra:      s.deps.BootExtra,
	}

	s.eng.OnReady(s.onEngineReady)

	// Модуль движка засчитывается загруженным в момент старта boot.
	stager.MarkModuleLoaded()
	if err := s.eng.Boot(args, s.deps.Surface, s.deps.Audio); err != nil {
		s.fail(fmt.Errorf("boot отвергнут: %w", err))
		return
	}
}

// onEngineReady вызывается один раз на первом отрендеренном кадре.
func (s *PlaybackSession) onEngineReady() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = StateReady
	// Контроль громкости создаётся по готовности движка: начальные уровни
	// должны уйти живой консоли.
	ctx, cancelVol := context.WithTimeout(context.Background(), 5*time.Second)
	s.volume = playback.NewVolume(ctx, s.eng, s.deps.VolumeRepo, s.match.ID)
	cancelVol()
	s.mu.Unlock()

	bootDuration.Observe(time.Since(s.opened).Seconds())
	s.publish(eventbus.EventSessionReady, nil)
	s.log.Info("Сессия %s готова (%.1fс)", s.id, time.Since(s.opened).Seconds())
}

// fail переводит сессию в failed. Teardown выполняется безусловно:
// состояние «разобрано» не должно оставаться неоднозначным.
func (s *PlaybackSession) fail(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.lastErr = err
	s.mu.Unlock()

	s.log.Error("Сессия %s: %v", s.id, err)
	s.eng.Teardown()
	sessionsTotal.WithLabelValues("failed").Inc()
	s.publish(eventbus.EventSessionFailed, eventbus.SessionFailedPayload{Reason: err.Error()})
}

// Close разбирает сессию безусловно и идемпотентно: отмена конвейера,
// teardown движка, мосты, staging-дерево.
func (s *PlaybackSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	wasFailed := s.state == StateFailed
	s.closed = true
	s.state = StateClosed
	tree := s.tree
	s.mu.Unlock()

	s.cancel()
	s.resize.Close()
	s.inputBr.Close()
	s.ctrl.Close()
	s.eng.Teardown()

	if tree != nil {
		if err := tree.Remove(); err != nil {
			s.log.Warn("Не удалось удалить staging-дерево сессии %s: %v", s.id, err)
		}
	}

	sessionsActive.Dec()
	if !wasFailed {
		sessionsTotal.WithLabelValues("closed").Inc()
	}
	s.publish(eventbus.EventSessionClosed, nil)
	s.log.Info("Сессия %s закрыта", s.id)
}

// publish шлёт событие сессии на шину; ошибка публикации не фатальна.
func (s *PlaybackSession) publish(eventType string, payload interface{}) {
	if s.deps.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.deps.Publisher.Publish(ctx, eventType, s.id, payload); err != nil {
		s.log.Warn("Событие %s не опубликовано: %v", eventType, err)
	}
}

// remoteSurface публикует подсказки видимости поверхности на шину событий:
// сама поверхность живёт на странице дашборда.
func (s *PlaybackSession) remoteSurface() viewport.Surface {
	return &busSurface{session: s}
}

type busSurface struct {
	session *PlaybackSession
}

func (b *busSurface) HideSurface() { b.session.publish(eventbus.EventSurfaceHidden, nil) }
func (b *busSurface) ShowSurface() { b.session.publish(eventbus.EventSurfaceRevealed, nil) }
func (b *busSurface) ShowOverlay() {}
func (b *busSurface) HideOverlay() {}
