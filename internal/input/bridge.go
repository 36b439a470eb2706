package input

import (
	"fmt"
	"sync"

	"github.com/annel0/arena-stats/internal/engine"
)

// defaultLookSensitivity — чувствительность обзора движка по умолчанию;
// восстанавливается после кадра с заглушенным обзором.
const defaultLookSensitivity = 5.0

// SessionSink — то, что мосту нужно от сессии движка. Сессия до завершения
// boot просто отбрасывает события, поэтому мост можно взводить заранее.
type SessionSink interface {
	QueueInput(ev engine.InputEvent)
	QueueConsoleText(text string)
	RunAfterNextFrame(fn func()) error
}

// Bridge доставляет результаты трансляции жестов в сессию движка.
// Взводится до boot и разбирается независимо от состояния движка.
type Bridge struct {
	mu          sync.Mutex
	state       *State
	sink        SessionSink
	sensitivity float64
	closed      bool
}

// NewBridge создаёт мост для вьюпорта с указанными границами.
func NewBridge(sink SessionSink, bounds Bounds) *Bridge {
	return &Bridge{
		state:       NewState(bounds),
		sink:        sink,
		sensitivity: defaultLookSensitivity,
	}
}

// SetLookSensitivity задаёт значение, восстанавливаемое после глушения.
func (b *Bridge) SetLookSensitivity(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sensitivity = v
}

// SetBounds обновляет границы вьюпорта (после рестарта).
func (b *Bridge) SetBounds(bounds Bounds) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.SetBounds(bounds)
}

// HandleGesture транслирует жест и доставляет действия движку.
func (b *Bridge) HandleGesture(g Gesture) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.deliver(Translate(b.state, g))
}

// SetScrub переключает режим перемотки; событие модификатора уходит движку
// независимо от каких-либо жестов.
func (b *Bridge) SetScrub(active bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.deliver([]Action{b.state.SetScrub(active)})
}

// Scrub сообщает текущее состояние режима перемотки.
func (b *Bridge) Scrub() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Scrub()
}

// Close разбирает мост: дальнейшие жесты игнорируются.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// deliver выполняет действия трансляции. Вызывается под мьютексом.
func (b *Bridge) deliver(actions []Action) {
	for _, a := range actions {
		switch a.Kind {
		case ActionForward:
			b.sink.QueueInput(a.Event)
		case ActionSuppressLook:
			b.sink.QueueConsoleText("set sensitivity 0")
		case ActionRestoreLook:
			prev := b.sensitivity
			// Восстанавливаем после ближайшего кадра: кадр с нулевой
			// чувствительностью поглощает скачок инициализации курсора.
			_ = b.sink.RunAfterNextFrame(func() {
				b.sink.QueueConsoleText(fmt.Sprintf("set sensitivity %g", prev))
			})
		}
	}
}
