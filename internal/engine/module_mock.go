package engine

import (
	"fmt"
	"sync"
)

// MockModule — модуль движка для тестов и локальной разработки.
// Записывает все команды и события; кадры симулируются вручную.
type MockModule struct {
	mu            sync.Mutex
	ConsoleText   []string
	InputEvents   []InputEvent
	Dependencies  map[string]bool
	DepLog        []string // +name при постановке, -name при отпускании
	CallResponses map[string]string
	frameCb       func()
	paused        bool
	terminated    bool
}

// NewMockModule создаёт пустой mock-модуль.
func NewMockModule() *MockModule {
	return &MockModule{
		Dependencies:  make(map[string]bool),
		CallResponses: make(map[string]string),
	}
}

func (m *MockModule) QueueConsoleText(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConsoleText = append(m.ConsoleText, text)
}

func (m *MockModule) QueueInputEvent(ev InputEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InputEvents = append(m.InputEvents, ev)
}

func (m *MockModule) QueueRunDependency(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Dependencies[name] = true
	m.DepLog = append(m.DepLog, "+"+name)
}

func (m *MockModule) ReleaseRunDependency(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Dependencies, name)
	m.DepLog = append(m.DepLog, "-"+name)
}

func (m *MockModule) OnFrameComplete(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frameCb = fn
}

func (m *MockModule) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
}

func (m *MockModule) Terminate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminated = true
}

func (m *MockModule) Call(fn string, args ...string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminated {
		return "", fmt.Errorf("модуль уже освобождён")
	}
	resp, ok := m.CallResponses[fn]
	if !ok {
		return "", fmt.Errorf("неизвестная функция модуля: %s", fn)
	}
	return resp, nil
}

// SimulateFrame имитирует завершение одного кадра симуляции.
func (m *MockModule) SimulateFrame() {
	m.mu.Lock()
	cb := m.frameCb
	terminated := m.terminated
	m.mu.Unlock()

	if cb != nil && !terminated {
		cb()
	}
}

// Paused сообщает, остановлен ли главный цикл.
func (m *MockModule) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Terminated сообщает, освобождён ли модуль.
func (m *MockModule) Terminated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminated
}

// DependencyLog возвращает копию журнала зависимостей запуска.
func (m *MockModule) DependencyLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.DepLog))
	copy(out, m.DepLog)
	return out
}

// ConsoleLog возвращает копию очереди консольных команд.
func (m *MockModule) ConsoleLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.ConsoleText))
	copy(out, m.ConsoleText)
	return out
}

// Inputs возвращает копию принятых входных событий.
func (m *MockModule) Inputs() []InputEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]InputEvent, len(m.InputEvents))
	copy(out, m.InputEvents)
	return out
}

// MockLauncher возвращает Launcher, который отдаёт заранее созданный модуль.
// launchErr != nil имитирует неудачный старт.
func MockLauncher(mod *MockModule, launchErr error) Launcher {
	return func(args BootArgs, surface RenderSurface) (Module, error) {
		if launchErr != nil {
			return nil, launchErr
		}
		return mod, nil
	}
}
