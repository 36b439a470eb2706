package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Типы событий жизненного цикла сессии воспроизведения.
const (
	EventSessionCreated = "session.created"
	EventSessionStaging = "session.staging"
	EventSessionReady   = "session.ready"
	EventSessionFailed  = "session.failed"
	EventSessionClosed  = "session.closed"

	// Подсказки дашборду на время рестарта вьюпорта.
	EventSurfaceHidden   = "surface.hidden"
	EventSurfaceRevealed = "surface.revealed"
)

// sourceName — имя этого сервиса в поле Source.
const sourceName = "replay-playback"

// SessionCreatedPayload — сессия создана, staging ещё не начался.
type SessionCreatedPayload struct {
	MatchID string `json:"match_id"`
	MapName string `json:"map_name"`
}

// SessionStagingPayload — прогресс подготовки ассетов.
type SessionStagingPayload struct {
	LoadedCount int `json:"loaded_count"`
	TotalCount  int `json:"total_count"`
}

// SessionFailedPayload — сессия завершилась фатальной ошибкой.
type SessionFailedPayload struct {
	Reason string `json:"reason"`
}

// Publisher публикует события сессий на шину, не навязывая вызывающему
// коду детали конвертов.
type Publisher struct {
	bus EventBus
}

// NewPublisher создаёт публикатор поверх шины.
func NewPublisher(bus EventBus) *Publisher {
	return &Publisher{bus: bus}
}

// Publish сериализует полезную нагрузку и публикует событие сессии.
// Ошибка публикации не фатальна для сессии; вызывающий код её логирует.
func (p *Publisher) Publish(ctx context.Context, eventType, sessionID string, payload interface{}) error {
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return err
		}
	}

	return p.bus.Publish(ctx, &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    sourceName,
		EventType: eventType,
		Version:   1,
		SessionID: sessionID,
		Payload:   data,
	})
}
