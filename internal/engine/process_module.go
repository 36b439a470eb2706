package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/annel0/arena-stats/internal/logging"
)

// callTimeout — таймаут синхронного текстового запроса к раннеру.
const callTimeout = 5 * time.Second

// ProcessModule — модуль движка, запущенный отдельным headless-раннером.
// Протокол строковый: команды уходят в stdin, раннер пишет в stdout
//
//	FRAME                — завершён один кадр симуляции
//	RET <строка ответа>  — строки ответа на call, завершаются строкой END
//
// Рендер раннер ведёт офскрин и стримит поверхности сам, поэтому
// RenderSurface здесь не используется.
type ProcessModule struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	log   *logging.Logger

	mu      sync.Mutex
	frameCb func()
	killed  bool

	callMu sync.Mutex // один call за раз: ответы не мультиплексируются
	callCh chan string
}

// NewProcessLauncher возвращает Launcher, запускающий раннер modulePath.
func NewProcessLauncher(modulePath string) Launcher {
	return func(args BootArgs, _ RenderSurface) (Module, error) {
		cmd := exec.Command(modulePath, args.List()...)

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin раннера: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("stdout раннера: %w", err)
		}

		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("не удалось запустить модуль движка %s: %w", modulePath, err)
		}

		m := &ProcessModule{
			cmd:    cmd,
			stdin:  stdin,
			log:    logging.GetEngineLogger(),
			callCh: make(chan string, 1),
		}
		go m.readLoop(bufio.NewScanner(stdout))
		return m, nil
	}
}

// readLoop разбирает stdout раннера до EOF.
func (m *ProcessModule) readLoop(sc *bufio.Scanner) {
	var ret []string
	inRet := false

	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "FRAME":
			m.mu.Lock()
			cb := m.frameCb
			m.mu.Unlock()
			if cb != nil {
				cb()
			}
		case line == "END" && inRet:
			inRet = false
			select {
			case m.callCh <- strings.Join(ret, "\n"):
			default:
				// Ответ без ожидающего call отбрасывается.
			}
			ret = nil
		case strings.HasPrefix(line, "RET "):
			inRet = true
			ret = append(ret, strings.TrimPrefix(line, "RET "))
		case inRet:
			ret = append(ret, line)
		default:
			m.log.Trace("Раннер: %s", line)
		}
	}
}

// writeLine шлёт одну строку в stdin раннера.
func (m *ProcessModule) writeLine(format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.killed {
		return
	}
	if _, err := fmt.Fprintf(m.stdin, format+"\n", args...); err != nil {
		m.log.Warn("Запись в раннер не удалась: %v", err)
	}
}

func (m *ProcessModule) QueueConsoleText(text string) {
	m.writeLine("text %s", text)
}

func (m *ProcessModule) QueueInputEvent(ev InputEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	m.writeLine("input %s", data)
}

func (m *ProcessModule) QueueRunDependency(name string) {
	m.writeLine("dep+ %s", name)
}

func (m *ProcessModule) ReleaseRunDependency(name string) {
	m.writeLine("dep- %s", name)
}

func (m *ProcessModule) OnFrameComplete(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frameCb = fn
}

func (m *ProcessModule) Pause() {
	m.writeLine("pause")
}

// Terminate убивает раннер и дожидается его завершения.
func (m *ProcessModule) Terminate() {
	m.mu.Lock()
	if m.killed {
		m.mu.Unlock()
		return
	}
	m.killed = true
	m.mu.Unlock()

	_ = m.stdin.Close()
	if m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
	}
	_ = m.cmd.Wait()
}

// Call — синхронный текстовый запрос. Ответы приходят строками RET…END.
func (m *ProcessModule) Call(fn string, args ...string) (string, error) {
	m.callMu.Lock()
	defer m.callMu.Unlock()

	// Сбрасываем возможный завалявшийся ответ предыдущего таймаута.
	select {
	case <-m.callCh:
	default:
	}

	cmd := fn
	if len(args) > 0 {
		cmd += " " + strings.Join(args, " ")
	}
	m.writeLine("call %s", cmd)

	select {
	case resp := <-m.callCh:
		return resp, nil
	case <-time.After(callTimeout):
		return "", fmt.Errorf("раннер не ответил на %s за %s", fn, callTimeout)
	}
}
