package engine

import (
	"fmt"
	"strconv"
)

// RenderSurface — непрозрачный хэндл поверхности рендеринга, передаваемый
// модулю при запуске. Конкретная реализация зависит от хоста.
type RenderSurface interface{}

// InputEventType — виды дискретных входных событий, которые понимает движок.
type InputEventType string

const (
	EventPointerMove InputEventType = "pointer_move"
	EventScroll      InputEventType = "scroll"
	EventButtonDown  InputEventType = "button_down"
	EventButtonUp    InputEventType = "button_up"
	EventKeyDown     InputEventType = "key_down"
	EventKeyUp       InputEventType = "key_up"
)

// InputEvent — одно синтезированное входное событие в нативной модели движка.
// PointerMove несёт и абсолютную позицию, и дельту; Scroll всегда одна
// дискретная ступень (Dir = ±1), движок не понимает масштабированных скроллов.
type InputEvent struct {
	Type   InputEventType `json:"type"`
	X      float64        `json:"x,omitempty"`
	Y      float64        `json:"y,omitempty"`
	DX     float64        `json:"dx,omitempty"`
	DY     float64        `json:"dy,omitempty"`
	Dir    int            `json:"dir,omitempty"`    // Для Scroll: +1 / -1
	Button int            `json:"button,omitempty"` // 0 — основная, 2 — вторичная
	Key    string         `json:"key,omitempty"`
}

// BootArgs — аргументы запуска модуля движка.
type BootArgs struct {
	BasePath   string // Корень staging-дерева
	GameDir    string // Игровая директория (base или mod)
	ReplayPath string // Путь реплея относительно staging-дерева
	Width      int
	Height     int
	Extra      []string
}

// List собирает аргументы в форму командной строки движка.
func (a BootArgs) List() []string {
	args := []string{
		"+set", "fs_basepath", a.BasePath,
		"+set", "fs_game", a.GameDir,
		"+set", "r_customwidth", strconv.Itoa(a.Width),
		"+set", "r_customheight", strconv.Itoa(a.Height),
		"+demo", a.ReplayPath,
	}
	return append(args, a.Extra...)
}

// Module — узкая управляющая поверхность запущенного модуля движка.
// Рендеринг и симуляция внутри модуля — чёрный ящик; хост может лишь
// ставить команды в очередь, слать входные события и узнавать о завершении
// кадров через колбэк.
type Module interface {
	// QueueConsoleText ставит консольную команду в очередь; модуль
	// потребляет очередь на своём следующем кадре.
	QueueConsoleText(text string)

	// QueueInputEvent передаёт синтезированное входное событие.
	QueueInputEvent(ev InputEvent)

	// QueueRunDependency / ReleaseRunDependency управляют зависимостями
	// запуска модуля (модуль не начнёт главный цикл, пока все не отпущены).
	QueueRunDependency(name string)
	ReleaseRunDependency(name string)

	// OnFrameComplete регистрирует колбэк, вызываемый модулем после
	// каждого завершённого кадра симуляции.
	OnFrameComplete(fn func())

	// Pause останавливает главный цикл модуля.
	Pause()

	// Terminate освобождает модуль. После вызова хэндл недействителен.
	Terminate()

	// Call — синхронный текстовый запрос к функции модуля.
	Call(fn string, args ...string) (string, error)
}

// Launcher запускает модуль движка с вычисленными аргументами.
// Возвращает хэндл после завершения асинхронного старта.
type Launcher func(args BootArgs, surface RenderSurface) (Module, error)

// bootArgsString — компактное представление для логов.
func bootArgsString(a BootArgs) string {
	return fmt.Sprintf("base=%s game=%s demo=%s %dx%d", a.BasePath, a.GameDir, a.ReplayPath, a.Width, a.Height)
}
