package engine

import (
	"io"
	"sync"

	"github.com/annel0/arena-stats/internal/logging"
)

// State — состояние жизненного цикла сессии движка.
type State int32

const (
	StateIdle State = iota
	StateBooting
	StateReady
	StateTornDown
)

// String возвращает строковое представление состояния.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBooting:
		return "booting"
	case StateReady:
		return "ready"
	case StateTornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

// hostWiringDep — зависимость запуска, удерживаемая на время обвязки модуля
// хостом после успешного старта.
const hostWiringDep = "host_wiring"

// Session владеет жизненным циклом ровно одного экземпляра модуля движка:
// boot → run → teardown. Хэндл на идущий boot доступен сразу, поэтому
// Teardown можно запросить до его завершения — boot сам обнаружит отмену,
// когда долетит, и свернёт модуль.
//
// Teardown терминален: после него недействительны и boot, и любые вызовы
// к модулю, даже уже находившиеся в полёте.
type Session struct {
	mu     sync.Mutex
	state  State
	launch Launcher
	module Module
	audio  io.Closer

	pendingText []string // Команды, поставленные до завершения boot
	nextFrame   []func() // Очередь one-shot колбэков следующего кадра
	onReady     []func() // Колбэки первого отрендеренного кадра
	readyFired  bool
	bootErr     error

	log *logging.Logger
}

// NewSession создаёт сессию в состоянии Idle.
func NewSession(launch Launcher) *Session {
	return &Session{
		launch: launch,
		log:    logging.GetEngineLogger(),
	}
}

// State возвращает текущее состояние.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BootErr возвращает ошибку boot, если он завершился неудачей.
func (s *Session) BootErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bootErr
}

// Boot асинхронно запускает модуль. Возвращает управление сразу;
// завершение boot сигнализируется первым отрендеренным кадром (OnReady).
// audio — аудиовыход сессии, закрывается первым при teardown.
func (s *Session) Boot(args BootArgs, surface RenderSurface, audio io.Closer) error {
	s.mu.Lock()
	if s.state == StateTornDown {
		s.mu.Unlock()
		return ErrTornDown
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return &EngineBootError{Message: "повторный boot сессии"}
	}
	s.state = StateBooting
	s.audio = audio
	s.mu.Unlock()

	s.log.Info("Boot модуля движка: %s", bootArgsString(args))

	go func() {
		mod, err := s.launch(args, surface)
		if err != nil {
			s.log.Error("Boot не удался: %v", err)
			s.mu.Lock()
			s.bootErr = &EngineBootError{Message: "старт модуля", Cause: err}
			s.mu.Unlock()
			s.Teardown()
			return
		}

		s.mu.Lock()
		if s.state == StateTornDown {
			// Teardown пришёл, пока boot был в полёте: шаги boot нельзя
			// прервать, поэтому сворачиваем модуль постфактум.
			s.mu.Unlock()
			s.log.Info("Boot завершился после teardown — сворачиваем модуль")
			safeCall(mod.Pause)
			safeCall(mod.Terminate)
			return
		}

		s.module = mod
		pending := s.pendingText
		s.pendingText = nil
		s.mu.Unlock()

		// Главный цикл модуля придерживается, пока хост не довёл обвязку:
		// буфер команд и колбэк кадров обязаны стоять до первого кадра.
		mod.QueueRunDependency(hostWiringDep)
		for _, text := range pending {
			mod.QueueConsoleText(text)
		}
		mod.OnFrameComplete(s.frameCompleted)
		mod.ReleaseRunDependency(hostWiringDep)
	}()

	return nil
}

// OnReady регистрирует колбэк первого отрендеренного кадра.
// Срабатывает ровно один раз; при регистрации после готовности — немедленно.
func (s *Session) OnReady(fn func()) {
	s.mu.Lock()
	if s.readyFired {
		s.mu.Unlock()
		fn()
		return
	}
	if s.state == StateTornDown {
		s.mu.Unlock()
		return
	}
	s.onReady = append(s.onReady, fn)
	s.mu.Unlock()
}

// RunAfterNextFrame ставит one-shot колбэк, который выполнится после
// следующего завершённого кадра симуляции. Колбэки выполняются в порядке
// постановки; паника одного не мешает остальным в той же пачке.
func (s *Session) RunAfterNextFrame(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTornDown {
		return ErrTornDown
	}
	s.nextFrame = append(s.nextFrame, fn)
	return nil
}

// QueueConsoleText ставит команду в очередь движка. До завершения boot
// команды буферизуются и доставляются перед первым кадром, что сохраняет
// гарантию порядка: команда, поставленная раньше колбэка следующего кадра,
// видна движку раньше срабатывания колбэка.
func (s *Session) QueueConsoleText(text string) {
	s.mu.Lock()
	if s.state == StateTornDown {
		s.mu.Unlock()
		return
	}
	mod := s.module
	if mod == nil {
		s.pendingText = append(s.pendingText, text)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	mod.QueueConsoleText(text)
}

// QueueInput передаёт входное событие модулю. События до завершения boot
// отбрасываются: мост ввода взводится раньше запуска движка.
func (s *Session) QueueInput(ev InputEvent) {
	s.mu.Lock()
	mod := s.module
	torn := s.state == StateTornDown
	s.mu.Unlock()

	if torn || mod == nil {
		return
	}
	mod.QueueInputEvent(ev)
}

// Call — синхронный текстовый запрос к модулю.
func (s *Session) Call(fn string, args ...string) (string, error) {
	s.mu.Lock()
	mod := s.module
	torn := s.state == StateTornDown
	s.mu.Unlock()

	if torn {
		return "", ErrTornDown
	}
	if mod == nil {
		return "", ErrNotBooted
	}
	return mod.Call(fn, args...)
}

// Teardown разбирает сессию: сначала закрывает аудиовыход (иначе последний
// фрагмент буфера слышимо зациклится), затем останавливает главный цикл и
// освобождает хэндл. Шаги независимы: сбой одного не мешает остальным.
// Идемпотентен и безопасен во время идущего boot.
func (s *Session) Teardown() {
	s.mu.Lock()
	if s.state == StateTornDown {
		s.mu.Unlock()
		return
	}
	s.state = StateTornDown
	audio := s.audio
	mod := s.module
	s.audio = nil
	s.module = nil
	s.nextFrame = nil
	s.onReady = nil
	s.pendingText = nil
	s.mu.Unlock()

	if audio != nil {
		if err := audio.Close(); err != nil {
			s.log.Warn("Ошибка закрытия аудиовыхода: %v", err)
		}
	}
	if mod != nil {
		safeCall(mod.Pause)
		safeCall(mod.Terminate)
	}

	s.log.Info("Сессия движка разобрана")
}

// frameCompleted вызывается модулем после каждого завершённого кадра.
func (s *Session) frameCompleted() {
	s.mu.Lock()
	if s.state == StateTornDown {
		s.mu.Unlock()
		return
	}

	var ready []func()
	if !s.readyFired {
		// Первый отрендеренный кадр: Booting → Ready, строго один раз.
		s.readyFired = true
		s.state = StateReady
		ready = s.onReady
		s.onReady = nil
	}

	queue := s.nextFrame
	s.nextFrame = nil
	s.mu.Unlock()

	for _, fn := range ready {
		safeCall(fn)
	}
	for _, fn := range queue {
		safeCall(fn)
	}
}

// safeCall выполняет fn, гася панику, чтобы один колбэк не валил пачку.
func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.GetEngineLogger().Error("Паника в колбэке движка: %v", r)
		}
	}()
	fn()
}
