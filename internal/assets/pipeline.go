package assets

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/annel0/arena-stats/internal/logging"
	"github.com/annel0/arena-stats/internal/replay"
)

// fetchParallelism ограничивает число одновременных загрузок внутри одной
// игровой директории. Директории стейджатся строго по очереди (base → mod),
// чтобы файлы мода перезаписывали одноимённые файлы базы.
const fetchParallelism = 4

// replayFileName имя, под которым реплей кладётся в staging-дерево;
// движку оно передаётся аргументом запуска.
const replayFileName = "demos/session.dm_68"

// Progress — счётчики staging-пайплайна. LoadedCount растёт монотонно
// до TotalCount; TotalCount фиксируется один раз и не уменьшается.
type Progress struct {
	LoadedCount int `json:"loaded_count"`
	TotalCount  int `json:"total_count"`
}

// StageOptions — входы пайплайна помимо заголовка реплея.
type StageOptions struct {
	ReplayData      []byte            // Содержимое файла реплея (уже загружено)
	ExtraBundleURLs []string          // Дополнительные бандлы (абсолютные URL)
	InferMapBundle  bool              // Стейджить maps/<map>.pk3 по имени карты
	Settings        map[string]string // cvar'ы для autoexec.cfg
	Binds           map[string]string // key -> команда для autoexec.cfg
}

// Stager собирает в staging-дерево все байты, которые нужны движку до
// запуска, и ничего лишнего.
type Stager struct {
	fetcher  *Fetcher
	manifest Manifest
	cdnBase  string
	baseDir  string // Имя директории базовой игры
	tree     *StagingTree
	log      *logging.Logger

	mu         sync.Mutex
	progress   Progress
	onProgress func(Progress)
}

// NewStager создаёт пайплайн. onProgress может быть nil.
func NewStager(fetcher *Fetcher, manifest Manifest, cdnBase, baseDir string, tree *StagingTree, onProgress func(Progress)) *Stager {
	return &Stager{
		fetcher:    fetcher,
		manifest:   manifest,
		cdnBase:    strings.TrimRight(cdnBase, "/"),
		baseDir:    baseDir,
		tree:       tree,
		log:        logging.GetAssetsLogger(),
		onProgress: onProgress,
	}
}

// Progress возвращает текущий снимок счётчиков.
func (s *Stager) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// ReplayRelPath возвращает путь реплея внутри staging-дерева для заголовка h.
func (s *Stager) ReplayRelPath(h *replay.Header) string {
	return path.Join(s.primaryDir(h), replayFileName)
}

// Stage выполняет пайплайн целиком: директории манифеста (base, затем mod),
// дополнительные бандлы, инференс бандла карты, сам реплей и boot-скрипт.
// Отмена контекста прекращает загрузки; записи в дерево после отмены не выполняются.
func (s *Stager) Stage(ctx context.Context, h *replay.Header, opts StageOptions) error {
	if len(opts.ReplayData) == 0 {
		return newNetworkError("", "файл реплея отсутствует", nil)
	}

	baseEntries := s.manifest.Entries(s.baseDir)
	var modEntries []Entry
	if h.ModDirectory != "" && h.ModDirectory != s.baseDir {
		modEntries = s.manifest.Entries(h.ModDirectory)
	}

	mapRel := ""
	if opts.InferMapBundle && h.MapName != "" {
		mapRel = path.Join(s.primaryDir(h), "maps", h.MapName+".pk3")
	}

	// +1 — сам модуль движка: засчитывается загруженным при старте boot.
	total := len(baseEntries) + len(modEntries) + len(opts.ExtraBundleURLs) + 1
	if mapRel != "" {
		total++
	}
	s.setTotal(total)

	// Директории строго по очереди: base перекрывается mod'ом.
	if err := s.stageDirectory(ctx, baseEntries); err != nil {
		return err
	}
	if err := s.stageDirectory(ctx, modEntries); err != nil {
		return err
	}

	for _, url := range opts.ExtraBundleURLs {
		if err := ctx.Err(); err != nil {
			return err
		}
		dest := path.Join(s.primaryDir(h), path.Base(strings.TrimSuffix(url, ".zst")))
		s.stageOne(ctx, url, dest)
	}

	if mapRel != "" {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Промах инференса карты (404) не фатален: реплей рендерится
		// без геометрии карты.
		s.stageOne(ctx, s.cdnBase+"/"+mapRel, mapRel)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.tree.WriteFile(s.ReplayRelPath(h), opts.ReplayData); err != nil {
		return fmt.Errorf("не удалось записать реплей в staging-дерево: %w", err)
	}

	script := buildConfigScript(opts.Settings, opts.Binds)
	if script != "" {
		if err := ctx.Err(); err != nil {
			return err
		}
		cfgPath := path.Join(s.primaryDir(h), "autoexec.cfg")
		if err := s.tree.WriteFile(cfgPath, []byte(script)); err != nil {
			return fmt.Errorf("не удалось записать boot-скрипт: %w", err)
		}
	}

	s.log.Info("Staging завершён: %d/%d", s.Progress().LoadedCount, total)
	return nil
}

// MarkModuleLoaded засчитывает модуль движка как загруженный.
// Вызывается сессией в момент начала boot.
func (s *Stager) MarkModuleLoaded() {
	s.advance()
}

// stageDirectory загружает файлы одной игровой директории. Загрузки внутри
// директории идут параллельно; неудачный файл логируется и пропускается,
// счётчик прогресса продвигается в любом случае.
func (s *Stager) stageDirectory(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	sem := make(chan struct{}, fetchParallelism)
	var wg sync.WaitGroup

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := validateEntry(e); err != nil {
			s.log.Warn("Запись манифеста пропущена: %v", err)
			s.advance()
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(e Entry) {
			defer wg.Done()
			defer func() { <-sem }()

			dest := filepath.Join(e.DestDir, path.Base(strings.TrimSuffix(e.SourcePath, ".zst")))
			s.stageOne(ctx, s.cdnBase+"/"+e.SourcePath, dest)
		}(e)
	}

	wg.Wait()
	return ctx.Err()
}

// stageOne загружает один файл и кладёт его в дерево. Ошибка не фатальна:
// логируется, файл пропускается, прогресс продвигается.
func (s *Stager) stageOne(ctx context.Context, url, dest string) {
	defer s.advance()

	if ctx.Err() != nil {
		return
	}

	data, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		s.log.Warn("Ассет пропущен %s: %v", url, err)
		return
	}

	if ctx.Err() != nil {
		// Отменили во время загрузки — в дерево не пишем.
		return
	}

	if err := s.tree.WriteFile(dest, data); err != nil {
		s.log.Warn("Не удалось записать %s: %v", dest, err)
	}
}

// primaryDir — директория, в которую кладутся реплей, карта и скрипт:
// mod, если задан, иначе базовая.
func (s *Stager) primaryDir(h *replay.Header) string {
	if h.ModDirectory != "" {
		return h.ModDirectory
	}
	return s.baseDir
}

func (s *Stager) setTotal(total int) {
	s.mu.Lock()
	s.progress.TotalCount = total
	p := s.progress
	cb := s.onProgress
	s.mu.Unlock()

	if cb != nil {
		cb(p)
	}
}

func (s *Stager) advance() {
	s.mu.Lock()
	if s.progress.LoadedCount < s.progress.TotalCount {
		s.progress.LoadedCount++
	}
	p := s.progress
	cb := s.onProgress
	s.mu.Unlock()

	if cb != nil {
		cb(p)
	}
}

// buildConfigScript синтезирует autoexec.cfg из cvar'ов и биндов.
// Порядок детерминирован для воспроизводимости staging-дерева.
func buildConfigScript(settings, binds map[string]string) string {
	var sb strings.Builder

	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "seta %s \"%s\"\n", k, settings[k])
	}

	keys = keys[:0]
	for k := range binds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "bind %s \"%s\"\n", k, binds[k])
	}

	return sb.String()
}
