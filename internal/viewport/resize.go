package viewport

import (
	"fmt"
	"sync"
	"time"

	"github.com/annel0/arena-stats/internal/logging"
)

// Phase — фаза рукопожатия рестарта вьюпорта.
type Phase int

const (
	PhaseStable Phase = iota
	PhaseRestarting
	PhaseAwaitingFrame
)

// Size — размер вьюпорта в пикселях.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Surface — пользовательская поверхность рендеринга и переходный оверлей.
// Поверхность прячется на время рестарта, чтобы не было разрывов и вспышек.
type Surface interface {
	HideSurface()
	ShowSurface()
	ShowOverlay()
	HideOverlay()
}

// EngineControl — то, что рукопожатию нужно от сессии движка.
type EngineControl interface {
	QueueConsoleText(text string)
	RunAfterNextFrame(fn func()) error
}

// Options — настройки рукопожатия.
type Options struct {
	Debounce   time.Duration // Коалесценция быстрых изменений размера
	PaintDelay time.Duration // Пауза, дающая оверлею отрисоваться
	OnApplied  func(Size)    // Уведомление о применённом размере
}

// Handshake выполняет рестарт движка при изменении размера вьюпорта,
// чтобы внутренний фреймбуфер совпадал с поверхностью. В полёте не больше
// одного рестарта: новый размер во время рестарта замещает отложенный,
// а не ставит второй рестарт в очередь.
type Handshake struct {
	mu      sync.Mutex
	surface Surface
	eng     EngineControl
	opts    Options
	log     *logging.Logger

	phase    Phase
	current  Size
	pending  *Size
	debounce *time.Timer
	closed   bool
}

// NewHandshake создаёт рукопожатие для вьюпорта начального размера.
func NewHandshake(surface Surface, eng EngineControl, initial Size, opts Options) *Handshake {
	if opts.Debounce <= 0 {
		opts.Debounce = 200 * time.Millisecond
	}
	if opts.PaintDelay <= 0 {
		opts.PaintDelay = 16 * time.Millisecond
	}
	return &Handshake{
		surface: surface,
		eng:     eng,
		opts:    opts,
		log:     logging.GetEngineLogger(),
		current: initial,
	}
}

// Phase возвращает текущую фазу.
func (h *Handshake) Phase() Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phase
}

// Size возвращает последний применённый размер.
func (h *Handshake) Size() Size {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Observe принимает наблюдение размера вьюпорта. Быстрые изменения
// коалесцируются: рестарт выполняется только для финального размера.
func (h *Handshake) Observe(size Size) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	if h.debounce != nil {
		h.debounce.Stop()
	}
	h.debounce = time.AfterFunc(h.opts.Debounce, func() {
		h.commit(size)
	})
}

// Close останавливает рукопожатие; дальнейшие наблюдения игнорируются.
func (h *Handshake) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	if h.debounce != nil {
		h.debounce.Stop()
	}
}

// pendingSnapshot возвращает копию отложенного размера, если есть.
func (h *Handshake) pendingSnapshot() *Size {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending == nil {
		return nil
	}
	p := *h.pending
	return &p
}

// commit начинает рукопожатие для устоявшегося размера.
func (h *Handshake) commit(size Size) {
	h.mu.Lock()

	if h.closed {
		h.mu.Unlock()
		return
	}
	if h.phase != PhaseStable {
		// Рестарт уже в полёте: замещаем отложенный размер. Сравнивать с
		// h.current здесь нельзя — он ещё дорестартовый, и наблюдение,
		// вернувшее вьюпорт к исходному размеру, было бы потеряно.
		// Фактические no-op отфильтрует reveal.
		h.pending = &size
		h.mu.Unlock()
		return
	}
	if size == h.current {
		// Наблюдения без фактического изменения размера игнорируются.
		h.mu.Unlock()
		return
	}

	h.phase = PhaseRestarting
	h.mu.Unlock()

	h.log.Debug("Рестарт вьюпорта: %dx%d", size.Width, size.Height)

	// Прячем поверхность и показываем оверлей до рестарта.
	h.surface.HideSurface()
	h.surface.ShowOverlay()

	// Пауза в один кадр хоста: оверлей должен успеть отрисоваться,
	// прежде чем движок начнёт рестарт.
	time.AfterFunc(h.opts.PaintDelay, func() {
		h.issueRestart(size)
	})
}

// issueRestart шлёт пакетную команду рестарта и ставит колбэк раскрытия.
func (h *Handshake) issueRestart(size Size) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.phase = PhaseAwaitingFrame
	h.mu.Unlock()

	h.eng.QueueConsoleText(fmt.Sprintf(
		"seta r_customwidth %d; seta r_customheight %d; vid_restart",
		size.Width, size.Height))

	// Команда поставлена до колбэка, поэтому колбэк сработает на кадре
	// после фактического рестарта, а не на кадре постановки команды.
	err := h.eng.RunAfterNextFrame(func() {
		h.reveal(size)
	})
	if err != nil {
		// Сессия разобрана — раскрывать нечего.
		h.mu.Lock()
		h.phase = PhaseStable
		h.pending = nil
		h.mu.Unlock()
	}
}

// reveal раскрывает поверхность после рестарта и, если за время рестарта
// пришёл новый размер, начинает следующее рукопожатие.
func (h *Handshake) reveal(size Size) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.current = size
	h.phase = PhaseStable
	next := h.pending
	h.pending = nil
	onApplied := h.opts.OnApplied
	h.mu.Unlock()

	h.surface.ShowSurface()
	h.surface.HideOverlay()

	if onApplied != nil {
		onApplied(size)
	}

	if next != nil && *next != size {
		h.commit(*next)
	}
}
