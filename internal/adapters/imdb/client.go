package imdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"moviesbot/internal/domain"
	"moviesbot/internal/infra/metrics"
)

// Config — параметры провайдера метаданных.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client запрашивает метаданные фильмов по IMDB-идентификатору.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var _ domain.MetadataClient = (*Client)(nil)

// NewClient создаёт клиент метаданных.
func NewClient(cfg Config) *Client {
	client := &Client{cfg: cfg}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client.httpClient = &http.Client{Timeout: timeout}
	if cfg.BaseURL == "" {
		client.cfg.BaseURL = "https://www.omdbapi.com"
	}
	return client
}

// SetHTTPClient подменяет транспорт (используется в тестах).
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	if httpClient != nil {
		c.httpClient = httpClient
	}
}

// LookupByID возвращает метаданные по идентификатору вида tt0133093.
// Неизвестный идентификатор и любая ошибка провайдера дают ErrLookupFailed.
func (c *Client) LookupByID(ctx context.Context, imdbID string) (domain.MovieMeta, error) {
	form := url.Values{}
	form.Set("i", imdbID)
	form.Set("tomatoes", "true")
	form.Set("apikey", c.cfg.APIKey)

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/?" + form.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.MovieMeta{}, fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("imdb", "lookup", "metadata", start, err)
	if err != nil {
		return domain.MovieMeta{}, fmt.Errorf("lookup %s: %w: %v", imdbID, domain.ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.MovieMeta{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return domain.MovieMeta{}, fmt.Errorf("lookup %s: %w: status %d", imdbID, domain.ErrLookupFailed, resp.StatusCode)
	}

	var parsed struct {
		Response    string `json:"Response"`
		Error       string `json:"Error"`
		Title       string `json:"Title"`
		Type        string `json:"Type"`
		IMDBRating  string `json:"imdbRating"`
		TomatoMeter string `json:"tomatoMeter"`
		TomatoURL   string `json:"tomatoURL"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return domain.MovieMeta{}, fmt.Errorf("decode response: %w", err)
	}
	if !strings.EqualFold(parsed.Response, "True") {
		return domain.MovieMeta{}, fmt.Errorf("lookup %s: %w: %s", imdbID, domain.ErrLookupFailed, parsed.Error)
	}

	meta := domain.MovieMeta{
		IMDBID:     imdbID,
		Title:      parsed.Title,
		MediaType:  domain.MediaType(parsed.Type),
		IMDBRating: parsed.IMDBRating,
	}
	if meter, err := strconv.Atoi(parsed.TomatoMeter); err == nil {
		meta.TomatoMeter = &meter
	}
	if parsed.TomatoURL != "" && parsed.TomatoURL != "N/A" {
		meta.TomatoURL = parsed.TomatoURL
	}
	return meta, nil
}
