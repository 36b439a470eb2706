package assets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/annel0/arena-stats/internal/logging"
)

// Entry описывает один файл манифеста: откуда скачать и куда положить
// внутри staging-дерева.
type Entry struct {
	SourcePath string `json:"source_path"` // Относительно корня CDN
	DestDir    string `json:"dest_dir"`    // Относительно корня staging-дерева
}

// Manifest отображает имя игровой директории в упорядоченный список файлов.
// Загружается один раз и read-only на всё время жизни сессии.
type Manifest map[string][]Entry

// Entries возвращает файлы указанной игровой директории.
// Отсутствие директории в манифесте означает «нечего стейджить».
func (m Manifest) Entries(gameDir string) []Entry {
	if m == nil {
		return nil
	}
	return m[gameDir]
}

// LoadManifest загружает манифест с CDN через кеширующий Fetcher.
// Недоступный или повреждённый манифест не фатален: возвращается пустой
// манифест и сессия продолжается без ассетов из него.
func LoadManifest(ctx context.Context, fetcher *Fetcher, url string) Manifest {
	log := logging.GetAssetsLogger()

	data, err := fetcher.Fetch(ctx, url)
	if err != nil {
		log.Warn("Манифест недоступен (%s): %v — считаем пустым", url, err)
		return Manifest{}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		log.Warn("Повреждённый манифест (%s): %v — считаем пустым", url, err)
		return Manifest{}
	}

	log.Debug("Манифест загружен: %d директорий", len(m))
	return m
}

// validateEntry отбрасывает записи с путями, выходящими за пределы дерева.
func validateEntry(e Entry) error {
	if e.SourcePath == "" {
		return fmt.Errorf("пустой source_path")
	}
	return nil
}
