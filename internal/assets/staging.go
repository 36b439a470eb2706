package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// StagingTree — записываемая область, из которой модуль движка читает
// стартовые ассеты. Принадлежит ровно одной сессии; после Remove никакие
// записи не допускаются, чтобы прерванная сессия не оставляла файлов.
type StagingTree struct {
	root    string
	mu      sync.Mutex
	removed bool
}

// NewStagingTree создаёт дерево в <root>/<sessionID>.
func NewStagingTree(root, sessionID string) (*StagingTree, error) {
	dir := filepath.Join(root, sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("не удалось создать staging-директорию %s: %w", dir, err)
	}
	return &StagingTree{root: dir}, nil
}

// Root возвращает абсолютный корень дерева (аргумент запуска движка).
func (st *StagingTree) Root() string {
	return st.root
}

// WriteFile кладёт файл по относительному пути внутри дерева.
// Путь нормализуется; выход за пределы дерева — ошибка.
func (st *StagingTree) WriteFile(relPath string, data []byte) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.removed {
		return fmt.Errorf("staging-дерево уже удалено")
	}

	clean := filepath.Clean(relPath)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return fmt.Errorf("недопустимый путь в staging-дереве: %s", relPath)
	}

	full := filepath.Join(st.root, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("не удалось создать директорию для %s: %w", clean, err)
	}

	if err := os.WriteFile(full, data, 0644); err != nil {
		return fmt.Errorf("не удалось записать %s: %w", clean, err)
	}

	return nil
}

// Exists проверяет наличие файла в дереве.
func (st *StagingTree) Exists(relPath string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.removed {
		return false
	}
	_, err := os.Stat(filepath.Join(st.root, filepath.Clean(relPath)))
	return err == nil
}

// Remove удаляет дерево целиком. Идемпотентно; последующие записи отклоняются.
func (st *StagingTree) Remove() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.removed {
		return nil
	}
	st.removed = true
	return os.RemoveAll(st.root)
}
