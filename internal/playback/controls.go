package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/annel0/arena-stats/internal/engine"
	"github.com/annel0/arena-stats/internal/logging"
)

// Клавиши и кнопки управления воспроизведением в раскладке движка.
const (
	rewindKey  = "LEFTARROW"
	forwardKey = "RIGHTARROW"
	pauseKey   = "PAUSE"

	// cameraButton — вторичная кнопка, переключающая свободную камеру.
	cameraButton = 2

	// pauseTapDelay — пауза между синтезированными нажатием и отпусканием
	// клавиши паузы: движку нужен хотя бы один кадр, чтобы увидеть нажатие.
	pauseTapDelay = 60 * time.Millisecond

	// FreeViewpoint — слот «свободная камера», не привязанная к игроку.
	FreeViewpoint = -1
)

// EngineSink — то, что мосту управления нужно от сессии движка.
type EngineSink interface {
	QueueInput(ev engine.InputEvent)
	QueueConsoleText(text string)
	Call(fn string, args ...string) (string, error)
}

// Controls — тонкий командный мост: транспорт, камера, точка обзора и
// список игроков поверх консольного протокола движка.
type Controls struct {
	mu   sync.Mutex
	sink EngineSink
	log  *logging.Logger

	players    []PlayerListEntry
	viewpoint  int
	freeCamera bool
	closed     bool
}

// NewControls создаёт мост управления поверх сессии движка.
func NewControls(sink EngineSink) *Controls {
	return &Controls{
		sink:      sink,
		log:       logging.GetEngineLogger(),
		viewpoint: FreeViewpoint,
	}
}

// Rewind — удерживаемая перемотка назад: нажатие шлёт key_down,
// отпускание key_up.
func (c *Controls) Rewind(pressed bool) {
	c.holdKey(rewindKey, pressed)
}

// Forward — удерживаемая перемотка вперёд.
func (c *Controls) Forward(pressed bool) {
	c.holdKey(forwardKey, pressed)
}

func (c *Controls) holdKey(key string, pressed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	ev := engine.InputEvent{Type: engine.EventKeyDown, Key: key}
	if !pressed {
		ev.Type = engine.EventKeyUp
	}
	c.sink.QueueInput(ev)
}

// PauseTap — пауза как тап: нажатие сразу, отпускание после короткой
// фиксированной задержки.
func (c *Controls) PauseTap() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.sink.QueueInput(engine.InputEvent{Type: engine.EventKeyDown, Key: pauseKey})

	time.AfterFunc(pauseTapDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return
		}
		c.sink.QueueInput(engine.InputEvent{Type: engine.EventKeyUp, Key: pauseKey})
	})
}

// ToggleCamera переключает свободную камеру парой нажатие/отпускание
// вторичной кнопки.
func (c *Controls) ToggleCamera() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.sink.QueueInput(engine.InputEvent{Type: engine.EventButtonDown, Button: cameraButton})
	c.sink.QueueInput(engine.InputEvent{Type: engine.EventButtonUp, Button: cameraButton})
	c.freeCamera = !c.freeCamera
}

// FreeCamera сообщает текущее локальное состояние камеры.
func (c *Controls) FreeCamera() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freeCamera
}

// SetViewpoint переключает точку обзора на указанный слот клиента.
// Локальное состояние обновляется оптимистично, не дожидаясь движка.
func (c *Controls) SetViewpoint(slot int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.sink.QueueConsoleText(fmt.Sprintf("follow %d", slot))
	c.viewpoint = slot
}

// Viewpoint возвращает текущий (оптимистичный) слот точки обзора.
func (c *Controls) Viewpoint() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewpoint
}

// RefreshPlayers запрашивает у движка список игроков и целиком замещает
// прежний. Ошибка запроса или разбора проглатывается: прежний список
// остаётся в силе.
func (c *Controls) RefreshPlayers() []PlayerListEntry {
	c.mu.Lock()
	sink := c.sink
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return c.Players()
	}

	raw, err := sink.Call("playerlist")
	if err != nil {
		c.log.Debug("Запрос списка игроков не удался: %v", err)
		return c.Players()
	}

	entries, err := ParsePlayerList(raw)
	if err != nil {
		c.log.Debug("Ответ playerlist отброшен: %v", err)
		return c.Players()
	}

	c.mu.Lock()
	c.players = entries
	c.mu.Unlock()
	return c.Players()
}

// Players возвращает копию последнего успешно разобранного списка.
func (c *Controls) Players() []PlayerListEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PlayerListEntry(nil), c.players...)
}

// Close разбирает мост: дальнейшие команды игнорируются.
func (c *Controls) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
