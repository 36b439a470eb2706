package matchmeta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/annel0/arena-stats/internal/logging"
)

// requestTimeout — таймаут запроса к сервису метаданных матчей.
const requestTimeout = 10 * time.Second

// Match — метаданные матча, нужные подсистеме воспроизведения: откуда
// взять файл реплея и какая карта ожидается.
type Match struct {
	ID        string    `json:"id"`
	MapName   string    `json:"map_name"`
	ReplayURL string    `json:"replay_url"`
	Mode      string    `json:"mode"`
	PlayedAt  time.Time `json:"played_at"`
}

// Client — HTTP-клиент сервиса метаданных матчей. Сам сервис — внешний
// коллаборатор; здесь только потребление двух полей для запуска сессии.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logging.Logger
}

// NewClient создаёт клиент для указанного базового URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		log:     logging.GetAPILogger(),
	}
}

// GetMatch запрашивает метаданные матча по идентификатору.
func (c *Client) GetMatch(ctx context.Context, matchID string) (*Match, error) {
	url := fmt.Sprintf("%s/api/matches/%s", c.baseURL, matchID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать запрос метаданных: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос метаданных матча %s не удался: %w", matchID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("матч %s не найден", matchID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("сервис метаданных вернул статус %d для матча %s", resp.StatusCode, matchID)
	}

	var match Match
	if err := json.NewDecoder(resp.Body).Decode(&match); err != nil {
		return nil, fmt.Errorf("не удалось разобрать метаданные матча %s: %w", matchID, err)
	}
	if match.ReplayURL == "" {
		return nil, fmt.Errorf("метаданные матча %s не содержат URL реплея", matchID)
	}

	c.log.Debug("Метаданные матча %s: карта %s", matchID, match.MapName)
	return &match, nil
}
