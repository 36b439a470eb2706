package playback

import (
	"sort"
	"strconv"
	"strings"
)

// playerListFieldCount — число полей в одной строке ответа playerlist.
const playerListFieldCount = 5

// PlayerListEntry — один игрок из текстового ответа движка.
type PlayerListEntry struct {
	ClientSlot            int    `json:"client_slot"`
	Name                  string `json:"name"`
	Team                  int    `json:"team"`
	Model                 string `json:"model"`
	IsUsingAlternateInput bool   `json:"is_using_alternate_input"`
}

// ParsePlayerList разбирает ответ движка на запрос списка игроков.
// Формат: по игроку на строку, поля разделены табуляцией:
//
//	слот<TAB>имя<TAB>команда<TAB>модель<TAB>альтернативный_ввод
//
// Результат отсортирован по команде, затем по слоту. Любая некорректная
// строка делает весь ответ невалидным (*ProtocolParseError): частично
// разобранный список хуже прежнего целого.
func ParsePlayerList(raw string) ([]PlayerListEntry, error) {
	lines := strings.Split(strings.TrimRight(raw, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, newProtocolParseError("пустой ответ playerlist")
	}

	entries := make([]PlayerListEntry, 0, len(lines))
	for i, line := range lines {
		fields := strings.Split(line, "\t")
		if len(fields) != playerListFieldCount {
			return nil, newProtocolParseError("строка %d: %d полей вместо %d", i+1, len(fields), playerListFieldCount)
		}

		slot, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, newProtocolParseError("строка %d: некорректный слот %q", i+1, fields[0])
		}
		team, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, newProtocolParseError("строка %d: некорректная команда %q", i+1, fields[2])
		}

		entries = append(entries, PlayerListEntry{
			ClientSlot:            slot,
			Name:                  fields[1],
			Team:                  team,
			Model:                 fields[3],
			IsUsingAlternateInput: fields[4] == "1",
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Team != entries[j].Team {
			return entries[i].Team < entries[j].Team
		}
		return entries[i].ClientSlot < entries[j].ClientSlot
	})

	return entries, nil
}
