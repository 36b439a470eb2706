package assets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/annel0/arena-stats/internal/replay"
)

// stubCache — простейший ContentCache в памяти для тестов.
type stubCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newStubCache() *stubCache {
	return &stubCache{data: make(map[string][]byte)}
}

func (m *stubCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, ErrCacheMiss
}

func (m *stubCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *stubCache) Close() error { return nil }

func TestFetcher(t *testing.T) {
	t.Run("Cache First Then Network", func(t *testing.T) {
		hits := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			_, _ = w.Write([]byte("содержимое"))
		}))
		defer srv.Close()

		cache := newStubCache()
		f := NewFetcher(srv.Client(), cache)

		url := srv.URL + "/bundle.pk3"
		if _, err := f.Fetch(context.Background(), url); err != nil {
			t.Fatalf("Первая загрузка: %v", err)
		}
		if _, err := f.Fetch(context.Background(), url); err != nil {
			t.Fatalf("Вторая загрузка: %v", err)
		}

		if hits != 1 {
			t.Errorf("Вторая загрузка должна прийти из кеша, сетевых запросов: %d", hits)
		}
	})

	t.Run("Unavailable Cache Falls Back To Network", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("ok"))
		}))
		defer srv.Close()

		f := NewFetcher(srv.Client(), nil)
		data, err := f.Fetch(context.Background(), srv.URL+"/x")
		if err != nil || string(data) != "ok" {
			t.Errorf("Без кеша загрузка должна идти напрямую: %v %q", err, data)
		}
	})

	t.Run("Zstd Suffix Is Decompressed", func(t *testing.T) {
		plain := []byte("распакованное содержимое бандла")
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			t.Fatal(err)
		}
		compressed := enc.EncodeAll(plain, nil)
		_ = enc.Close()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(compressed)
		}))
		defer srv.Close()

		f := NewFetcher(srv.Client(), nil)
		data, err := f.Fetch(context.Background(), srv.URL+"/pak0.pk3.zst")
		if err != nil {
			t.Fatalf("Ошибка загрузки: %v", err)
		}
		if string(data) != string(plain) {
			t.Errorf("Содержимое .zst должно прийти распакованным: %q", data)
		}
	})

	t.Run("HTTP Error Is NetworkError", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		f := NewFetcher(srv.Client(), nil)
		_, err := f.Fetch(context.Background(), srv.URL+"/нет")
		if !IsNetworkError(err) {
			t.Errorf("Ожидалась NetworkError, получено: %v", err)
		}
	})
}

func TestStagingTree(t *testing.T) {
	t.Run("Rejects Path Traversal", func(t *testing.T) {
		tree, err := NewStagingTree(t.TempDir(), "s1")
		if err != nil {
			t.Fatal(err)
		}

		if err := tree.WriteFile("../побег.cfg", []byte("x")); err == nil {
			t.Error("Путь с выходом за корень должен отвергаться")
		}
	})

	t.Run("Remove Is Idempotent And Blocks Writes", func(t *testing.T) {
		tree, err := NewStagingTree(t.TempDir(), "s2")
		if err != nil {
			t.Fatal(err)
		}
		if err := tree.WriteFile("basegame/pak0.pk3", []byte("данные")); err != nil {
			t.Fatal(err)
		}

		if err := tree.Remove(); err != nil {
			t.Fatalf("Первое удаление: %v", err)
		}
		if err := tree.Remove(); err != nil {
			t.Fatalf("Повторное удаление должно быть безопасно: %v", err)
		}

		if err := tree.WriteFile("basegame/late.pk3", []byte("x")); err == nil {
			t.Error("Запись после удаления дерева должна отвергаться")
		}
		if _, err := os.Stat(filepath.Join(tree.Root(), "basegame")); !os.IsNotExist(err) {
			t.Error("Содержимое дерева должно быть удалено")
		}
	})
}

// stageEnv поднимает httptest-CDN с набором файлов и возвращает Stager.
func stageEnv(t *testing.T, files map[string][]byte, manifest Manifest) (*Stager, *StagingTree, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if data, ok := files[r.URL.Path]; ok {
			_, _ = w.Write(data)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	tree, err := NewStagingTree(t.TempDir(), "сессия")
	if err != nil {
		t.Fatal(err)
	}

	stager := NewStager(NewFetcher(srv.Client(), nil), manifest, srv.URL, "basegame", tree, nil)
	return stager, tree, srv
}

func stagedHeader(mod string) *replay.Header {
	return &replay.Header{MapName: "q3dm6", ModDirectory: mod}
}

func TestStagePipeline(t *testing.T) {
	t.Run("Total Count Is Fixed Up Front", func(t *testing.T) {
		manifest := Manifest{
			"basegame": {
				{SourcePath: "basegame/pak0.pk3", DestDir: "basegame"},
				{SourcePath: "basegame/pak1.pk3", DestDir: "basegame"},
			},
			"missionpack": {
				{SourcePath: "missionpack/pak0.pk3", DestDir: "missionpack"},
			},
		}
		files := map[string][]byte{
			"/basegame/pak0.pk3": []byte("a"),
			"/basegame/pak1.pk3": []byte("b"),
		}

		stager, tree, _ := stageEnv(t, files, manifest)
		err := stager.Stage(context.Background(), stagedHeader("missionpack"), StageOptions{
			ReplayData:     []byte("replay"),
			InferMapBundle: true,
		})
		if err != nil {
			t.Fatalf("Ошибка staging: %v", err)
		}

		// 2 base + 1 mod + 1 карта + 1 модуль
		p := stager.Progress()
		if p.TotalCount != 5 {
			t.Errorf("Ожидался totalCount=5, получено %d", p.TotalCount)
		}
		// Всё, кроме модуля, уже засчитано (промахи тоже продвигают счётчик).
		if p.LoadedCount != 4 {
			t.Errorf("Ожидался loadedCount=4 до boot, получено %d", p.LoadedCount)
		}

		stager.MarkModuleLoaded()
		p = stager.Progress()
		if p.LoadedCount != p.TotalCount {
			t.Errorf("После boot счётчики должны сойтись: %+v", p)
		}

		if !tree.Exists("missionpack/" + replayFileName) {
			t.Error("Реплей должен лежать в директории мода")
		}
	})

	t.Run("Missing Asset Is Skipped Not Fatal", func(t *testing.T) {
		manifest := Manifest{
			"basegame": {
				{SourcePath: "basegame/есть.pk3", DestDir: "basegame"},
				{SourcePath: "basegame/нет.pk3", DestDir: "basegame"},
			},
		}
		files := map[string][]byte{"/basegame/есть.pk3": []byte("x")}

		stager, tree, _ := stageEnv(t, files, manifest)
		if err := stager.Stage(context.Background(), stagedHeader(""), StageOptions{ReplayData: []byte("r")}); err != nil {
			t.Fatalf("Промах одного ассета не должен быть фатален: %v", err)
		}

		if !tree.Exists("basegame/есть.pk3") {
			t.Error("Успешный ассет должен быть в дереве")
		}
		if tree.Exists("basegame/нет.pk3") {
			t.Error("Промахнувшийся ассет не должен появиться в дереве")
		}
	})

	t.Run("Cancellation Stops Writes", func(t *testing.T) {
		manifest := Manifest{
			"basegame": {{SourcePath: "basegame/pak0.pk3", DestDir: "basegame"}},
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel() // Отменяем до старта

		stager, tree, _ := stageEnv(t, nil, manifest)
		err := stager.Stage(ctx, stagedHeader(""), StageOptions{ReplayData: []byte("r")})
		if err == nil {
			t.Fatal("Отменённый staging должен вернуть ошибку контекста")
		}

		if tree.Exists("basegame/" + replayFileName) {
			t.Error("После отмены в дерево ничего не пишется")
		}
	})

	t.Run("Config Script Is Synthesized", func(t *testing.T) {
		stager, tree, _ := stageEnv(t, nil, Manifest{})
		err := stager.Stage(context.Background(), stagedHeader(""), StageOptions{
			ReplayData: []byte("r"),
			Settings:   map[string]string{"cg_draw2D": "1", "r_fastsky": "1"},
			Binds:      map[string]string{"SPACE": "pause"},
		})
		if err != nil {
			t.Fatal(err)
		}

		data, err := os.ReadFile(filepath.Join(tree.Root(), "basegame", "autoexec.cfg"))
		if err != nil {
			t.Fatalf("Boot-скрипт должен быть в дереве: %v", err)
		}
		script := string(data)
		if !strings.Contains(script, `seta cg_draw2D "1"`) || !strings.Contains(script, `bind SPACE "pause"`) {
			t.Errorf("Скрипт собран неверно:\n%s", script)
		}
	})
}

func TestLoadManifest(t *testing.T) {
	t.Run("Missing Manifest Is Empty Not Fatal", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		m := LoadManifest(context.Background(), NewFetcher(srv.Client(), nil), srv.URL+"/manifest.json")
		if len(m.Entries("basegame")) != 0 {
			t.Error("Отсутствующий манифест должен дать пустые директории")
		}
	})

	t.Run("Valid Manifest Parses", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"basegame":[{"source_path":"basegame/pak0.pk3.zst","dest_dir":"basegame"}]}`))
		}))
		defer srv.Close()

		m := LoadManifest(context.Background(), NewFetcher(srv.Client(), nil), srv.URL+"/manifest.json")
		entries := m.Entries("basegame")
		if len(entries) != 1 || entries[0].SourcePath != "basegame/pak0.pk3.zst" {
			t.Errorf("Манифест разобран неверно: %+v", entries)
		}
	})
}
