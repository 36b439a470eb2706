package replay

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildReplay собирает бинарный заголовок реплея для тестов.
func buildReplay(magic, mapName, timestamp string, records ...[]byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteString(mapName)
	buf.WriteByte(0)
	buf.WriteString(timestamp)
	buf.WriteByte(0)
	for _, rec := range records {
		buf.Write(rec)
	}
	return buf.Bytes()
}

// record кодирует одну configstring-запись.
func record(index uint16, payload string) []byte {
	rec := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint16(rec[0:], index)
	binary.LittleEndian.PutUint16(rec[2:], uint16(len(payload)))
	copy(rec[4:], payload)
	return rec
}

func sentinel() []byte {
	rec := make([]byte, 2)
	binary.LittleEndian.PutUint16(rec, 0xFFFF)
	return rec
}

func TestParseHeader(t *testing.T) {
	t.Run("Example From Format Description", func(t *testing.T) {
		data := buildReplay("TVD1", "q3dm6", "2024-01-01",
			record(1, `\fs_game\missionpack`), sentinel())

		h, err := ParseHeader(data)
		if err != nil {
			t.Fatalf("Ошибка парсинга заголовка: %v", err)
		}

		if h.MapName != "q3dm6" {
			t.Errorf("Неверное имя карты: ожидалось q3dm6, получено %q", h.MapName)
		}
		if h.ModDirectory != "missionpack" {
			t.Errorf("Неверная mod-директория: ожидалось missionpack, получено %q", h.ModDirectory)
		}
	})

	t.Run("No fs_game Means Base Directory", func(t *testing.T) {
		data := buildReplay("TVD1", "arena2", "2024-05-05",
			record(1, `\sv_hostname\duel server\timelimit\15`), sentinel())

		h, err := ParseHeader(data)
		if err != nil {
			t.Fatalf("Ошибка парсинга заголовка: %v", err)
		}
		if h.ModDirectory != "" {
			t.Errorf("Ожидалась пустая mod-директория, получено %q", h.ModDirectory)
		}
	})

	t.Run("System Info Slot Only", func(t *testing.T) {
		// fs_game в чужом слоте не должен учитываться.
		data := buildReplay("TVD1", "arena3", "2024-06-06",
			record(0, `\fs_game\wrongslot`),
			record(1, `\g_gametype\4`),
			record(7, `\fs_game\alsowrong`),
			sentinel())

		h, err := ParseHeader(data)
		if err != nil {
			t.Fatalf("Ошибка парсинга заголовка: %v", err)
		}
		if h.ModDirectory != "" {
			t.Errorf("Ожидалась пустая mod-директория, получено %q", h.ModDirectory)
		}
	})

	t.Run("Table Without Sentinel", func(t *testing.T) {
		// Конец буфера завершает таблицу так же, как сентинель.
		data := buildReplay("TVD1", "arena4", "2024-07-07",
			record(1, `\fs_game\insta`))

		h, err := ParseHeader(data)
		if err != nil {
			t.Fatalf("Ошибка парсинга заголовка: %v", err)
		}
		if h.ModDirectory != "insta" {
			t.Errorf("Неверная mod-директория: %q", h.ModDirectory)
		}
	})

	t.Run("Magic Mismatch", func(t *testing.T) {
		data := buildReplay("XXXX", "q3dm6", "2024-01-01", sentinel())

		_, err := ParseHeader(data)
		if !IsFormatError(err) {
			t.Fatalf("Ожидался FormatError, получено: %v", err)
		}
	})

	t.Run("Record Length Overruns Buffer", func(t *testing.T) {
		// Запись заявляет 200 байт payload, в буфере их нет.
		rec := make([]byte, 4)
		binary.LittleEndian.PutUint16(rec[0:], 1)
		binary.LittleEndian.PutUint16(rec[2:], 200)
		data := buildReplay("TVD1", "q3dm6", "2024-01-01", rec, []byte("short"))

		_, err := ParseHeader(data)
		if !IsFormatError(err) {
			t.Fatalf("Ожидался FormatError при выходе за границы буфера, получено: %v", err)
		}
	})

	t.Run("Truncated Map Name", func(t *testing.T) {
		data := []byte("TVD1q3dm6") // нет завершающего нуля

		_, err := ParseHeader(data)
		if !IsFormatError(err) {
			t.Fatalf("Ожидался FormatError, получено: %v", err)
		}
	})

	t.Run("Too Short For Magic", func(t *testing.T) {
		_, err := ParseHeader([]byte("TV"))
		if !IsFormatError(err) {
			t.Fatalf("Ожидался FormatError, получено: %v", err)
		}
	})
}

// TestParseHeaderRoundTrip: для валидного заголовка повторная сборка тех же
// полей даёт идентичный результат парсинга.
func TestParseHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		mapName string
		fsGame  string
	}{
		{"q3dm6", "missionpack"},
		{"arena_grand", ""},
		{"cpm22", "cpma"},
	}

	for _, tc := range cases {
		info := `\sv_fps\40`
		if tc.fsGame != "" {
			info += `\fs_game\` + tc.fsGame
		}
		data := buildReplay("TVD1", tc.mapName, "2025-12-31", record(1, info), sentinel())

		h, err := ParseHeader(data)
		if err != nil {
			t.Fatalf("Ошибка парсинга %q: %v", tc.mapName, err)
		}
		if h.MapName != tc.mapName {
			t.Errorf("Имя карты не совпало: ожидалось %q, получено %q", tc.mapName, h.MapName)
		}
		if h.ModDirectory != tc.fsGame {
			t.Errorf("fs_game не совпал: ожидалось %q, получено %q", tc.fsGame, h.ModDirectory)
		}

		// Пересобираем из распарсенных полей — парсинг должен дать то же самое.
		rebuilt := buildReplay("TVD1", h.MapName, "2025-12-31", record(1, info), sentinel())
		if !bytes.Equal(rebuilt, data) {
			t.Errorf("Пересборка заголовка %q не совпала с исходной", tc.mapName)
		}
	}
}
