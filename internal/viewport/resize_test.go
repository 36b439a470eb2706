package viewport

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// mockSurface фиксирует последовательность операций над поверхностью.
type mockSurface struct {
	mu  sync.Mutex
	ops []string
}

func (m *mockSurface) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, op)
}

func (m *mockSurface) HideSurface() { m.record("hide_surface") }
func (m *mockSurface) ShowSurface() { m.record("show_surface") }
func (m *mockSurface) ShowOverlay() { m.record("show_overlay") }
func (m *mockSurface) HideOverlay() { m.record("hide_overlay") }

func (m *mockSurface) log() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

// mockEngine копит команды и колбэки; кадры прогоняются вручную.
type mockEngine struct {
	mu        sync.Mutex
	commands  []string
	callbacks []func()
	tornDown  bool
}

func (m *mockEngine) QueueConsoleText(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, text)
}

func (m *mockEngine) RunAfterNextFrame(fn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tornDown {
		return errTornDown
	}
	m.callbacks = append(m.callbacks, fn)
	return nil
}

// frame выполняет накопленные колбэки как завершение одного кадра.
func (m *mockEngine) frame() {
	m.mu.Lock()
	batch := m.callbacks
	m.callbacks = nil
	m.mu.Unlock()
	for _, fn := range batch {
		fn()
	}
}

func (m *mockEngine) commandLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

var errTornDown = errTornDownType{}

type errTornDownType struct{}

func (errTornDownType) Error() string { return "сессия разобрана" }

// waitFor опрашивает условие до таймаута.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("Условие не выполнилось за отведённое время")
}

func newTestHandshake(surface *mockSurface, eng *mockEngine) *Handshake {
	return NewHandshake(surface, eng, Size{Width: 800, Height: 600}, Options{
		Debounce:   10 * time.Millisecond,
		PaintDelay: time.Millisecond,
	})
}

func TestResizeHandshake(t *testing.T) {
	t.Run("Full Cycle", func(t *testing.T) {
		surface := &mockSurface{}
		eng := &mockEngine{}
		h := newTestHandshake(surface, eng)

		h.Observe(Size{Width: 1024, Height: 768})

		waitFor(t, func() bool { return len(eng.commandLog()) == 1 })
		cmd := eng.commandLog()[0]
		if !strings.Contains(cmd, "r_customwidth 1024") ||
			!strings.Contains(cmd, "r_customheight 768") ||
			!strings.Contains(cmd, "vid_restart") {
			t.Errorf("Команда рестарта должна нести размер и vid_restart одним пакетом: %q", cmd)
		}

		// До кадра после рестарта поверхность остаётся скрытой.
		if h.Phase() != PhaseAwaitingFrame {
			t.Errorf("Ожидалась фаза awaiting_frame, получено: %v", h.Phase())
		}
		ops := surface.log()
		if len(ops) != 2 || ops[0] != "hide_surface" || ops[1] != "show_overlay" {
			t.Errorf("До рестарта поверхность прячется и показывается оверлей: %v", ops)
		}

		eng.frame()

		if h.Phase() != PhaseStable {
			t.Errorf("После кадра рукопожатие должно стать stable, получено: %v", h.Phase())
		}
		if h.Size() != (Size{Width: 1024, Height: 768}) {
			t.Errorf("Неверный применённый размер: %+v", h.Size())
		}
		ops = surface.log()
		if len(ops) != 4 || ops[2] != "show_surface" || ops[3] != "hide_overlay" {
			t.Errorf("После кадра поверхность раскрывается: %v", ops)
		}
	})

	t.Run("Rapid Observations Coalesce", func(t *testing.T) {
		surface := &mockSurface{}
		eng := &mockEngine{}
		h := newTestHandshake(surface, eng)

		// Серия быстрых изменений: рестарт только для финального размера.
		h.Observe(Size{Width: 900, Height: 600})
		h.Observe(Size{Width: 1000, Height: 700})
		h.Observe(Size{Width: 1280, Height: 720})

		waitFor(t, func() bool { return len(eng.commandLog()) == 1 })
		eng.frame()

		if got := eng.commandLog(); len(got) != 1 || !strings.Contains(got[0], "r_customwidth 1280") {
			t.Errorf("Ожидался один рестарт для финального размера: %v", got)
		}
	})

	t.Run("Resize During Restart Supersedes", func(t *testing.T) {
		surface := &mockSurface{}
		eng := &mockEngine{}
		h := newTestHandshake(surface, eng)

		h.Observe(Size{Width: 1024, Height: 768})
		waitFor(t, func() bool { return len(eng.commandLog()) == 1 })

		// Рестарт в полёте; прилетают ещё два размера.
		h.Observe(Size{Width: 1100, Height: 800})
		waitFor(t, func() bool { return h.pendingSnapshot() != nil })
		h.Observe(Size{Width: 1920, Height: 1080})
		waitFor(t, func() bool {
			p := h.pendingSnapshot()
			return p != nil && p.Width == 1920
		})

		eng.frame() // Завершаем первый рестарт

		// Должен начаться ровно один следующий рестарт с последним размером.
		waitFor(t, func() bool { return len(eng.commandLog()) == 2 })
		if cmd := eng.commandLog()[1]; !strings.Contains(cmd, "r_customwidth 1920") {
			t.Errorf("Второй рестарт должен использовать последний размер: %q", cmd)
		}

		eng.frame()
		if h.Size() != (Size{Width: 1920, Height: 1080}) {
			t.Errorf("Неверный финальный размер: %+v", h.Size())
		}
		if got := len(eng.commandLog()); got != 2 {
			t.Errorf("Лишние рестарты: %d", got)
		}
	})

	t.Run("Resize Back To Original Supersedes", func(t *testing.T) {
		surface := &mockSurface{}
		eng := &mockEngine{}
		h := newTestHandshake(surface, eng)

		h.Observe(Size{Width: 1024, Height: 768})
		waitFor(t, func() bool { return len(eng.commandLog()) == 1 })

		// Пока рестарт в полёте, вьюпорт вернулся к дорестартовому размеру.
		// Сравнение с устаревшим current не должно проглотить наблюдение.
		h.Observe(Size{Width: 800, Height: 600})
		waitFor(t, func() bool { return h.pendingSnapshot() != nil })

		eng.frame() // Завершаем первый рестарт

		waitFor(t, func() bool { return len(eng.commandLog()) == 2 })
		if cmd := eng.commandLog()[1]; !strings.Contains(cmd, "r_customwidth 800") ||
			!strings.Contains(cmd, "r_customheight 600") {
			t.Errorf("Второй рестарт должен вернуть исходный размер: %q", cmd)
		}

		eng.frame()
		if h.Size() != (Size{Width: 800, Height: 600}) {
			t.Errorf("Финальный размер должен совпасть с последним запрошенным: %+v", h.Size())
		}
		if got := len(eng.commandLog()); got != 2 {
			t.Errorf("Лишние рестарты: %d", got)
		}
	})

	t.Run("Same Size Is Ignored", func(t *testing.T) {
		surface := &mockSurface{}
		eng := &mockEngine{}
		h := newTestHandshake(surface, eng)

		h.Observe(Size{Width: 800, Height: 600})

		time.Sleep(30 * time.Millisecond)
		if got := len(eng.commandLog()); got != 0 {
			t.Errorf("Наблюдение без изменения размера не должно вызывать рестарт: %d команд", got)
		}
		if len(surface.log()) != 0 {
			t.Error("Поверхность не должна трогаться")
		}
	})

	t.Run("Torn Down Session Settles", func(t *testing.T) {
		surface := &mockSurface{}
		eng := &mockEngine{tornDown: true}
		h := newTestHandshake(surface, eng)

		h.Observe(Size{Width: 1024, Height: 768})

		// Команда рестарта уходит, но колбэк поставить нельзя —
		// рукопожатие обязано вернуться в stable, а не зависнуть.
		waitFor(t, func() bool { return len(eng.commandLog()) == 1 })
		waitFor(t, func() bool { return h.Phase() == PhaseStable })
		if h.pendingSnapshot() != nil {
			t.Error("Отложенный размер должен быть сброшен при разобранной сессии")
		}
	})

	t.Run("Applied Callback Carries Size", func(t *testing.T) {
		surface := &mockSurface{}
		eng := &mockEngine{}

		var mu sync.Mutex
		var applied []Size
		h := NewHandshake(surface, eng, Size{Width: 800, Height: 600}, Options{
			Debounce:   10 * time.Millisecond,
			PaintDelay: time.Millisecond,
			OnApplied: func(s Size) {
				mu.Lock()
				applied = append(applied, s)
				mu.Unlock()
			},
		})

		h.Observe(Size{Width: 640, Height: 480})
		waitFor(t, func() bool { return len(eng.commandLog()) == 1 })
		eng.frame()

		mu.Lock()
		defer mu.Unlock()
		if len(applied) != 1 || applied[0] != (Size{Width: 640, Height: 480}) {
			t.Errorf("OnApplied должен получить применённый размер: %v", applied)
		}
	})
}
