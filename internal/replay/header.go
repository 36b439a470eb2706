package replay

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// Бинарный формат реплея:
//
//	magic (4 байта) | mapName\0 | timestamp\0 | configstring-таблица
//
// Таблица состоит из записей (index uint16, length uint16, payload length байт),
// little-endian, и завершается индексом 0xFFFF либо концом буфера.
const (
	// Magic метка формата реплея.
	Magic = "TVD1"

	// headerOffset позиция строки имени карты сразу после magic.
	headerOffset = 4

	// csSentinel завершает configstring-таблицу.
	csSentinel = 0xFFFF

	// csSystemInfo слот системной информации (строка вида \key\value\...).
	csSystemInfo = 1
)

// Header содержит поля заголовка реплея, известные до загрузки ассетов.
// Парсится один раз на сессию и далее неизменен.
type Header struct {
	Magic        [4]byte
	MapName      string
	ModDirectory string // Пустая строка — базовая директория игры.
}

// ParseHeader разбирает фиксированный заголовок и configstring-таблицу реплея.
// При несовпадении magic возвращает *FormatError без дальнейшего чтения буфера.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < headerOffset {
		return nil, newFormatError("буфер короче magic-метки")
	}

	var h Header
	copy(h.Magic[:], data[:headerOffset])
	if string(h.Magic[:]) != Magic {
		return nil, newFormatError("неизвестная magic-метка")
	}

	// Имя карты: null-terminated строка по фиксированному смещению.
	mapName, rest, err := readCString(data[headerOffset:])
	if err != nil {
		return nil, err
	}
	h.MapName = mapName

	// Временная метка записи; значение не используется, но строка обязана
	// присутствовать перед configstring-таблицей.
	if _, rest, err = readCString(rest); err != nil {
		return nil, err
	}

	sysInfo, err := scanConfigStrings(rest, csSystemInfo)
	if err != nil {
		return nil, err
	}
	h.ModDirectory = infoValue(sysInfo, "fs_game")

	return &h, nil
}

// readCString читает null-terminated строку и возвращает остаток буфера.
func readCString(data []byte) (string, []byte, error) {
	idx := bytes.IndexByte(data, 0)
	if idx < 0 {
		return "", nil, newFormatError("строка без завершающего нуля")
	}
	return string(data[:idx]), data[idx+1:], nil
}

// scanConfigStrings идёт по таблице записей (index, length, payload) до
// сентинеля или конца буфера и возвращает payload записи с индексом want.
// Запись, чья длина выходит за границы буфера, считается повреждённой.
func scanConfigStrings(data []byte, want uint16) (string, error) {
	for len(data) > 0 {
		if len(data) < 2 {
			return "", newFormatError("обрезанный индекс configstring")
		}
		index := binary.LittleEndian.Uint16(data)
		if index == csSentinel {
			break
		}
		data = data[2:]

		if len(data) < 2 {
			return "", newFormatError("обрезанная длина configstring")
		}
		length := int(binary.LittleEndian.Uint16(data))
		data = data[2:]

		if length > len(data) {
			return "", newFormatError("длина configstring выходит за границы буфера")
		}

		if index == want {
			return string(data[:length]), nil
		}
		data = data[length:]
	}
	return "", nil
}

// infoValue извлекает значение ключа из строки вида \key\value\key\value.
// Отсутствие ключа не ошибка: возвращается пустая строка.
func infoValue(info, key string) string {
	fields := strings.Split(info, "\\")
	// fields[0] — пустой префикс до первого разделителя.
	for i := 1; i+1 < len(fields); i += 2 {
		if fields[i] == key {
			return fields[i+1]
		}
	}
	return ""
}
