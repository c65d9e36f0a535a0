package mediahound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"moviesbot/internal/domain"
	"moviesbot/internal/infra/metrics"
)

// Config — параметры графа доступности.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client ходит в граф доступности: резолвит внешние идентификаторы и
// возвращает предложения провайдеров.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var _ domain.AvailabilityClient = (*Client)(nil)

// NewClient создаёт клиент графа.
func NewClient(cfg Config) *Client {
	client := &Client{cfg: cfg}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.httpClient = &http.Client{Timeout: timeout}
	return client
}

// SetHTTPClient подменяет транспорт (используется в тестах).
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	if httpClient != nil {
		c.httpClient = httpClient
	}
}

func (c *Client) do(ctx context.Context, method, path, operation string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("mediahound", operation, "graph", start, err)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("mediahound %s failed: status %d: %s", operation, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// ResolveCrossRef резолвит IMDB-идентификатор в идентификатор узла графа.
// Пустая строка без ошибки означает, что граф фильм не знает.
func (c *Client) ResolveCrossRef(ctx context.Context, imdbID string) (string, error) {
	crossRef := "IMDB::" + imdbID
	payload := map[string]any{"ids": []string{crossRef}}
	data, err := c.do(ctx, http.MethodPost, "/graph/enter", "graph_enter", payload)
	if err != nil {
		return "", err
	}
	var parsed map[string]*string
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode enter response: %w", err)
	}
	graphID, ok := parsed[crossRef]
	if !ok || graphID == nil {
		return "", nil
	}
	return *graphID, nil
}

// FetchMedia возвращает метаданные узла графа.
func (c *Client) FetchMedia(ctx context.Context, graphID string) (domain.GraphRef, error) {
	path := "/graph/media/" + url.PathEscape(graphID)
	data, err := c.do(ctx, http.MethodGet, path, "graph_media", nil)
	if err != nil {
		return domain.GraphRef{}, err
	}
	var parsed struct {
		Metadata struct {
			Name  string `json:"name"`
			AltID string `json:"altId"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return domain.GraphRef{}, fmt.Errorf("decode media response: %w", err)
	}
	return domain.GraphRef{
		GraphID: graphID,
		Title:   parsed.Metadata.Name,
		AltID:   parsed.Metadata.AltID,
	}, nil
}

// sourcesResponse — срез sources узла графа в том виде, как его отдаёт API.
type sourcesResponse struct {
	Content []struct {
		Object struct {
			AllMediums []string `json:"allMediums"`
			Metadata   struct {
				Name string `json:"name"`
			} `json:"metadata"`
		} `json:"object"`
		Context struct {
			Mediums []struct {
				Methods []struct {
					Type    string `json:"type"`
					Formats []struct {
						Price      *float64 `json:"price,omitempty"`
						LaunchInfo struct {
							View struct {
								HTTP string `json:"http"`
							} `json:"view"`
						} `json:"launchInfo"`
					} `json:"formats"`
				} `json:"methods"`
			} `json:"mediums"`
		} `json:"context"`
	} `json:"content"`
}

// FetchOffers разворачивает sources узла в плоский список предложений.
// Источники без allMediums пропускаются, цена без поля price считается нулём.
func (c *Client) FetchOffers(ctx context.Context, graphID string) ([]domain.Offer, error) {
	path := "/graph/media/" + url.PathEscape(graphID) + "/sources"
	data, err := c.do(ctx, http.MethodGet, path, "graph_sources", nil)
	if err != nil {
		return nil, err
	}
	var parsed sourcesResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode sources response: %w", err)
	}

	var offers []domain.Offer
	for _, source := range parsed.Content {
		if len(source.Object.AllMediums) == 0 {
			continue
		}
		provider := source.Object.Metadata.Name
		for _, medium := range source.Context.Mediums {
			for _, method := range medium.Methods {
				for _, format := range method.Formats {
					offer := domain.Offer{
						Provider: provider,
						Method:   method.Type,
						URL:      format.LaunchInfo.View.HTTP,
						Mediums:  source.Object.AllMediums,
					}
					if format.Price != nil {
						offer.Price = *format.Price
					}
					offers = append(offers, offer)
				}
			}
		}
	}
	return offers, nil
}
