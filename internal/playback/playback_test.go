package playback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/annel0/arena-stats/internal/engine"
)

// mockSink копит команды и события; ответы Call задаются заранее.
type mockSink struct {
	mu       sync.Mutex
	inputs   []engine.InputEvent
	commands []string
	callResp map[string]string
	callErr  error
}

func newMockSink() *mockSink {
	return &mockSink{callResp: make(map[string]string)}
}

func (m *mockSink) QueueInput(ev engine.InputEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, ev)
}

func (m *mockSink) QueueConsoleText(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, text)
}

func (m *mockSink) Call(fn string, args ...string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.callErr != nil {
		return "", m.callErr
	}
	return m.callResp[fn], nil
}

func (m *mockSink) inputLog() []engine.InputEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]engine.InputEvent(nil), m.inputs...)
}

func (m *mockSink) commandLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

func TestParsePlayerList(t *testing.T) {
	t.Run("Sorted By Team Then Slot", func(t *testing.T) {
		raw := "4\tSarge\t2\tsarge\t0\n" +
			"1\tVisor\t1\tvisor\t1\n" +
			"2\tAnarki\t2\tanarki\t0\n" +
			"7\tKeel\t1\tkeel\t0\n"

		entries, err := ParsePlayerList(raw)
		if err != nil {
			t.Fatalf("Ошибка разбора: %v", err)
		}

		want := []int{1, 7, 2, 4}
		if len(entries) != 4 {
			t.Fatalf("Ожидалось 4 записи, получено %d", len(entries))
		}
		for i, slot := range want {
			if entries[i].ClientSlot != slot {
				t.Errorf("Позиция %d: ожидался слот %d, получен %d", i, slot, entries[i].ClientSlot)
			}
		}
		if entries[0].Name != "Visor" || !entries[0].IsUsingAlternateInput {
			t.Errorf("Поля первой записи разобраны неверно: %+v", entries[0])
		}
	})

	t.Run("Malformed Line Rejects Whole Response", func(t *testing.T) {
		raw := "1\tVisor\t1\tvisor\t0\n" +
			"сломанная строка без полей\n"

		_, err := ParsePlayerList(raw)
		if !IsProtocolParseError(err) {
			t.Errorf("Ожидалась ProtocolParseError, получено: %v", err)
		}
	})

	t.Run("Bad Slot Number", func(t *testing.T) {
		_, err := ParsePlayerList("x\tVisor\t1\tvisor\t0")
		if !IsProtocolParseError(err) {
			t.Errorf("Ожидалась ProtocolParseError, получено: %v", err)
		}
	})

	t.Run("Empty Response", func(t *testing.T) {
		if _, err := ParsePlayerList(""); !IsProtocolParseError(err) {
			t.Errorf("Пустой ответ должен быть ошибкой разбора, получено: %v", err)
		}
	})
}

func TestTransportControls(t *testing.T) {
	t.Run("Rewind Is Held Key", func(t *testing.T) {
		sink := newMockSink()
		c := NewControls(sink)

		c.Rewind(true)
		c.Rewind(false)

		evs := sink.inputLog()
		if len(evs) != 2 {
			t.Fatalf("Ожидалось 2 события, получено %d", len(evs))
		}
		if evs[0].Type != engine.EventKeyDown || evs[1].Type != engine.EventKeyUp || evs[0].Key != evs[1].Key {
			t.Errorf("Перемотка должна быть удерживаемой клавишей: %+v", evs)
		}
	})

	t.Run("Pause Is Delayed Tap", func(t *testing.T) {
		sink := newMockSink()
		c := NewControls(sink)

		c.PauseTap()

		// Нажатие уходит сразу, отпускание — после задержки.
		if evs := sink.inputLog(); len(evs) != 1 || evs[0].Type != engine.EventKeyDown {
			t.Fatalf("Сразу после тапа ожидалось только нажатие: %+v", evs)
		}

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if len(sink.inputLog()) == 2 {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		evs := sink.inputLog()
		if len(evs) != 2 || evs[1].Type != engine.EventKeyUp || evs[1].Key != pauseKey {
			t.Errorf("Отпускание паузы не пришло: %+v", evs)
		}
	})

	t.Run("Camera Toggle Is Button Pair", func(t *testing.T) {
		sink := newMockSink()
		c := NewControls(sink)

		c.ToggleCamera()

		evs := sink.inputLog()
		if len(evs) != 2 ||
			evs[0].Type != engine.EventButtonDown || evs[0].Button != cameraButton ||
			evs[1].Type != engine.EventButtonUp || evs[1].Button != cameraButton {
			t.Errorf("Переключение камеры должно быть парой нажатие/отпускание: %+v", evs)
		}
		if !c.FreeCamera() {
			t.Error("Локальное состояние камеры должно переключиться")
		}
	})

	t.Run("Viewpoint Is Optimistic", func(t *testing.T) {
		sink := newMockSink()
		c := NewControls(sink)

		c.SetViewpoint(3)

		if cmds := sink.commandLog(); len(cmds) != 1 || !strings.Contains(cmds[0], "follow 3") {
			t.Errorf("Ожидалась команда follow со слотом: %v", cmds)
		}
		if c.Viewpoint() != 3 {
			t.Errorf("Точка обзора должна обновиться оптимистично, получено %d", c.Viewpoint())
		}
	})

	t.Run("Closed Controls Drop Commands", func(t *testing.T) {
		sink := newMockSink()
		c := NewControls(sink)
		c.Close()

		c.Rewind(true)
		c.PauseTap()
		c.SetViewpoint(5)

		if len(sink.inputLog()) != 0 || len(sink.commandLog()) != 0 {
			t.Error("После Close команды не должны доходить до движка")
		}
	})
}

func TestRefreshPlayers(t *testing.T) {
	t.Run("Replaces List Wholesale", func(t *testing.T) {
		sink := newMockSink()
		c := NewControls(sink)

		sink.callResp["playerlist"] = "2\tAnarki\t1\tanarki\t0"
		c.RefreshPlayers()

		sink.callResp["playerlist"] = "5\tKeel\t2\tkeel\t0"
		players := c.RefreshPlayers()

		if len(players) != 1 || players[0].ClientSlot != 5 {
			t.Errorf("Список должен замещаться целиком: %+v", players)
		}
	})

	t.Run("Parse Failure Retains Prior List", func(t *testing.T) {
		sink := newMockSink()
		c := NewControls(sink)

		sink.callResp["playerlist"] = "2\tAnarki\t1\tanarki\t0"
		c.RefreshPlayers()

		sink.callResp["playerlist"] = "мусор"
		players := c.RefreshPlayers()

		if len(players) != 1 || players[0].Name != "Anarki" {
			t.Errorf("Ошибка разбора должна сохранить прежний список: %+v", players)
		}
	})

	t.Run("Call Failure Retains Prior List", func(t *testing.T) {
		sink := newMockSink()
		c := NewControls(sink)

		sink.callResp["playerlist"] = "2\tAnarki\t1\tanarki\t0"
		c.RefreshPlayers()

		sink.callErr = errors.New("движок занят")
		players := c.RefreshPlayers()

		if len(players) != 1 {
			t.Errorf("Ошибка запроса должна сохранить прежний список: %+v", players)
		}
	})
}

func TestVolume(t *testing.T) {
	ctx := context.Background()

	t.Run("Mute Overrides Without Discarding", func(t *testing.T) {
		sink := newMockSink()
		v := NewVolume(ctx, sink, NewMemoryVolumeRepo(), "user1")

		v.SetEffects(ctx, 0.7)
		v.SetMuted(ctx, true)

		effects, music := v.Effective()
		if effects != 0 || music != 0 {
			t.Errorf("При заглушении эффективные уровни должны быть 0, получено %g/%g", effects, music)
		}
		if v.State().Effects != 0.7 {
			t.Errorf("Сам уровень не должен затираться: %g", v.State().Effects)
		}

		v.SetMuted(ctx, false)
		if effects, _ = v.Effective(); effects != 0.7 {
			t.Errorf("Снятие заглушения должно вернуть 0.7, получено %g", effects)
		}

		last := sink.commandLog()[len(sink.commandLog())-1]
		if !strings.Contains(last, "s_volume 0.7") {
			t.Errorf("Движку должен уйти восстановленный уровень: %q", last)
		}
	})

	t.Run("Persists Across Sessions", func(t *testing.T) {
		repo := NewMemoryVolumeRepo()

		v := NewVolume(ctx, newMockSink(), repo, "user2")
		v.SetMusic(ctx, 0.3)
		v.SetMuted(ctx, true)

		// Новая сессия того же пользователя видит сохранённое состояние.
		v2 := NewVolume(ctx, newMockSink(), repo, "user2")
		state := v2.State()
		if state.Music != 0.3 || !state.Muted {
			t.Errorf("Состояние должно пережить сессию: %+v", state)
		}
	})

	t.Run("Defaults Without Saved State", func(t *testing.T) {
		sink := newMockSink()
		v := NewVolume(ctx, sink, NewMemoryVolumeRepo(), "новый")

		state := v.State()
		if state.Effects != defaultEffectsVolume || state.Music != defaultMusicVolume || state.Muted {
			t.Errorf("Ожидались значения по умолчанию: %+v", state)
		}
		if len(sink.commandLog()) != 1 {
			t.Error("Начальные уровни должны примениться к движку при создании")
		}
	})

	t.Run("Levels Clamped", func(t *testing.T) {
		v := NewVolume(ctx, newMockSink(), NewMemoryVolumeRepo(), "user3")

		v.SetEffects(ctx, 1.5)
		v.SetMusic(ctx, -0.2)

		state := v.State()
		if state.Effects != 1 || state.Music != 0 {
			t.Errorf("Уровни должны клэмпиться в [0,1]: %+v", state)
		}
	})
}
