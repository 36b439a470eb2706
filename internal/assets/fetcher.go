package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/annel0/arena-stats/internal/logging"
	"github.com/klauspost/compress/zstd"
)

// cacheTTL срок жизни закешированного бандла. Содержимое бандлов
// версионируется путями в манифесте, поэтому TTL щедрый.
const cacheTTL = 72 * time.Hour

// manifestTTL срок жизни закешированного манифеста: манифест обновляется
// на CDN по тому же пути, без версионирования.
const manifestTTL = 5 * time.Minute

// Fetcher загружает содержимое по URL через кеш: сначала кеш, при промахе —
// сеть с заполнением кеша. Недоступный кеш (nil или ошибка) не мешает
// прямой загрузке из сети.
type Fetcher struct {
	client *http.Client
	cache  ContentCache // может быть nil
	ttl    time.Duration
	log    *logging.Logger
}

// NewFetcher создаёт загрузчик бандлов. cache может быть nil.
func NewFetcher(client *http.Client, cache ContentCache) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Fetcher{
		client: client,
		cache:  cache,
		ttl:    cacheTTL,
		log:    logging.GetAssetsLogger(),
	}
}

// NewManifestFetcher создаёт загрузчик манифеста: тот же кеширующий путь,
// но с коротким TTL, чтобы обновлённый манифест подхватывался без рестарта.
func NewManifestFetcher(client *http.Client, cache ContentCache) *Fetcher {
	f := NewFetcher(client, cache)
	f.ttl = manifestTTL
	return f
}

// Fetch возвращает содержимое по URL. Пути с суффиксом .zst прозрачно
// распаковываются; в кеше лежит уже распакованный результат.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.cache != nil {
		data, err := f.cache.Get(ctx, url)
		if err == nil {
			f.log.Trace("Кеш-попадание: %s (%d байт)", url, len(data))
			return data, nil
		}
		if !IsCacheMiss(err) {
			f.log.Warn("Кеш недоступен для %s: %v", url, err)
		}
	}

	data, err := f.fetchNetwork(ctx, url)
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(url, ".zst") {
		data, err = decompressZstd(data)
		if err != nil {
			return nil, newNetworkError(url, "повреждённый zstd-поток", err)
		}
	}

	if f.cache != nil {
		if err := f.cache.Set(ctx, url, data, f.ttl); err != nil {
			f.log.Warn("Не удалось закешировать %s: %v", url, err)
		}
	}

	return data, nil
}

// fetchNetwork выполняет HTTP GET без кеша.
func (f *Fetcher) fetchNetwork(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, newNetworkError(url, "некорректный запрос", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, newNetworkError(url, "запрос не выполнен", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newNetworkError(url, fmt.Sprintf("статус %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newNetworkError(url, "обрыв чтения тела ответа", err)
	}

	return data, nil
}

// decompressZstd распаковывает zstd-поток целиком в память.
func decompressZstd(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	return dec.DecodeAll(data, nil)
}
