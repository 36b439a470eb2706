package input

import (
	"math"

	"github.com/annel0/arena-stats/internal/engine"
)

// PinchZoomStep — изменение дистанции пинча (в пикселях вьюпорта),
// дающее одну дискретную ступень зума. Движок потребляет только
// дискретные ступени, не масштабированные скроллы.
const PinchZoomStep = 40.0

// ScrubModifierKey — модификатор режима перемотки в раскладке движка.
const ScrubModifierKey = "SHIFT"

// Point — точка в координатах вьюпорта.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Bounds — границы вьюпорта. Клэмп синтетического курсора обязан совпадать
// с ними точно: движок клэмпит позицию независимо, и при расхождении двух
// клэмпов все последующие дельты обнуляются.
type Bounds struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Phase — фаза жеста.
type Phase string

const (
	PhaseStart Phase = "start"
	PhaseMove  Phase = "move"
	PhaseEnd   Phase = "end"
)

// Gesture — одно событие жеста с вьюпорта.
type Gesture struct {
	Phase  Phase   `json:"phase"`
	Points []Point `json:"points"`
}

// ActionKind — вид действия, которое мост должен выполнить.
type ActionKind int

const (
	// ActionForward — переслать синтезированное событие движку.
	ActionForward ActionKind = iota
	// ActionSuppressLook — обнулить чувствительность обзора на один кадр,
	// чтобы инициализация курсора не дёргала камеру.
	ActionSuppressLook
	// ActionRestoreLook — вернуть прежнюю чувствительность после кадра.
	ActionRestoreLook
)

// Action — результат трансляции жеста.
type Action struct {
	Kind  ActionKind
	Event engine.InputEvent // Заполнено для ActionForward
}

// State — эфемерное состояние одного жеста. Сбрасывается на фазе start.
// Не зависит от жизненного цикла сессии движка.
type State struct {
	bounds        Bounds
	cursor        Point // Синтетический курсор, клэмпится к bounds
	lastTouch     Point
	touching      bool
	pinchActive   bool
	pinchDist     float64
	pinchResidual float64
	scrub         bool
}

// NewState создаёт состояние с указанными границами вьюпорта.
func NewState(bounds Bounds) *State {
	return &State{bounds: bounds}
}

// SetBounds обновляет границы (после рестарта вьюпорта).
func (s *State) SetBounds(b Bounds) {
	s.bounds = b
}

// Scrub сообщает, активен ли режим перемотки.
func (s *State) Scrub() bool {
	return s.scrub
}

// SetScrub переключает режим перемотки и возвращает событие модификатора,
// которое нужно переслать движку независимо от жестов.
func (s *State) SetScrub(active bool) Action {
	s.scrub = active
	ev := engine.InputEvent{Type: engine.EventKeyDown, Key: ScrubModifierKey}
	if !active {
		ev.Type = engine.EventKeyUp
	}
	return Action{Kind: ActionForward, Event: ev}
}

// Translate — чистая функция трансляции: жест + состояние → список действий.
// Доставкой занимается мост; трансляция детерминирована и тестируется
// без живого стека ввода.
func Translate(s *State, g Gesture) []Action {
	switch {
	case len(g.Points) >= 2:
		return s.translatePinch(g)
	case g.Phase == PhaseStart && len(g.Points) == 1:
		return s.translateStart(g.Points[0])
	case g.Phase == PhaseMove && len(g.Points) == 1:
		return s.translateMove(g.Points[0])
	case g.Phase == PhaseEnd:
		return s.translateEnd()
	default:
		return nil
	}
}

// translateStart: запоминаем сырую точку; вне режима перемотки глушим
// чувствительность на кадр, чтобы установка курсора в точку касания
// не произвела видимый скачок камеры.
func (s *State) translateStart(p Point) []Action {
	// Новый жест: состояние пинча сбрасывается.
	s.pinchActive = false
	s.pinchResidual = 0
	s.touching = true
	s.lastTouch = p
	s.cursor = s.clamp(p)

	if s.scrub {
		return nil
	}

	return []Action{
		{Kind: ActionSuppressLook},
		{Kind: ActionForward, Event: engine.InputEvent{
			Type: engine.EventPointerMove,
			X:    s.cursor.X,
			Y:    s.cursor.Y,
		}},
		{Kind: ActionRestoreLook},
	}
}

// translateMove: дельта от предыдущей сырой точки двигает синтетический
// курсор; пересылается одно событие с абсолютной позицией и дельтой.
func (s *State) translateMove(p Point) []Action {
	if !s.touching {
		return s.translateStart(p)
	}

	dx := p.X - s.lastTouch.X
	dy := p.Y - s.lastTouch.Y
	s.lastTouch = p

	s.cursor = s.clamp(Point{X: s.cursor.X + dx, Y: s.cursor.Y + dy})

	return []Action{{Kind: ActionForward, Event: engine.InputEvent{
		Type: engine.EventPointerMove,
		X:    s.cursor.X,
		Y:    s.cursor.Y,
		DX:   dx,
		DY:   dy,
	}}}
}

// translatePinch: изменение дистанции между двумя точками, делённое на
// PinchZoomStep, даёт целое число ступеней зума — по одному событию на
// ступень. Дробный остаток копится до следующих событий.
func (s *State) translatePinch(g Gesture) []Action {
	dist := distance(g.Points[0], g.Points[1])

	if !s.pinchActive || g.Phase == PhaseStart {
		s.pinchActive = true
		s.pinchDist = dist
		s.pinchResidual = 0
		return nil
	}

	s.pinchResidual += dist - s.pinchDist
	s.pinchDist = dist

	steps := int(s.pinchResidual / PinchZoomStep)
	if steps == 0 {
		return nil
	}
	s.pinchResidual -= float64(steps) * PinchZoomStep

	dir := 1
	if steps < 0 {
		dir = -1
		steps = -steps
	}

	actions := make([]Action, 0, steps)
	for i := 0; i < steps; i++ {
		actions = append(actions, Action{Kind: ActionForward, Event: engine.InputEvent{
			Type: engine.EventScroll,
			Dir:  dir,
		}})
	}
	return actions
}

// translateEnd: в режиме перемотки отпускание — это клик (нажатие и
// отпускание в последней точке) плюс сброс модификатора; иначе ничего —
// тап не должен становиться кликом.
func (s *State) translateEnd() []Action {
	s.touching = false
	s.pinchActive = false

	if !s.scrub {
		return nil
	}

	return []Action{
		{Kind: ActionForward, Event: engine.InputEvent{
			Type: engine.EventButtonDown, Button: 0, X: s.cursor.X, Y: s.cursor.Y,
		}},
		{Kind: ActionForward, Event: engine.InputEvent{
			Type: engine.EventButtonUp, Button: 0, X: s.cursor.X, Y: s.cursor.Y,
		}},
		{Kind: ActionForward, Event: engine.InputEvent{
			Type: engine.EventKeyUp, Key: ScrubModifierKey,
		}},
	}
}

// clamp ограничивает точку границами вьюпорта.
func (s *State) clamp(p Point) Point {
	return Point{
		X: math.Min(math.Max(p.X, 0), s.bounds.Width),
		Y: math.Min(math.Max(p.Y, 0), s.bounds.Height),
	}
}

func distance(a, b Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}
