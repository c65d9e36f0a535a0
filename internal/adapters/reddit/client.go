package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"moviesbot/internal/domain"
	"moviesbot/internal/infra/metrics"
)

// Config — параметры доступа к REST API Reddit.
type Config struct {
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
	UserAgent    string
	BaseURL      string
	AuthURL      string
	Timeout      time.Duration
}

// Client ходит в Reddit по OAuth2 password grant и кеширует токен.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

var _ domain.ForumClient = (*Client)(nil)

// NewClient создаёт клиент с таймаутом по умолчанию.
func NewClient(cfg Config) *Client {
	client := &Client{cfg: cfg}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.httpClient = &http.Client{Timeout: timeout}
	if cfg.BaseURL == "" {
		client.cfg.BaseURL = "https://oauth.reddit.com"
	}
	if cfg.AuthURL == "" {
		client.cfg.AuthURL = "https://www.reddit.com"
	}
	return client
}

// SetHTTPClient подменяет транспорт (используется в тестах).
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	if httpClient != nil {
		c.httpClient = httpClient
	}
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)

	endpoint := strings.TrimRight(c.cfg.AuthURL, "/") + "/api/v1/access_token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("reddit", "access_token", "auth", start, err)
	if err != nil {
		return "", fmt.Errorf("send token request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("reddit token failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("reddit token failed: пустой access_token")
	}
	c.accessToken = parsed.AccessToken
	// Обновляем токен за минуту до истечения.
	c.tokenExpiry = time.Now().Add(time.Duration(parsed.ExpiresIn)*time.Second - time.Minute)
	return c.accessToken, nil
}

func (c *Client) do(ctx context.Context, method, path, operation string, form url.Values) ([]byte, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	var body io.Reader
	if method == http.MethodPost && form != nil {
		body = strings.NewReader(form.Encode())
	} else if form != nil {
		endpoint += "?" + form.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "bearer "+token)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("reddit", operation, "api", start, err)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("reddit %s failed: status %d: %s", operation, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// thing — элемент листинга в том виде, как его отдаёт API.
type thing struct {
	Kind string `json:"kind"`
	Data struct {
		Name       string  `json:"name"`
		ID         string  `json:"id"`
		Author     string  `json:"author"`
		Subreddit  string  `json:"subreddit"`
		CreatedUTC float64 `json:"created_utc"`
		Permalink  string  `json:"permalink"`
		Title      string  `json:"title"`
		SelfText   string  `json:"selftext"`
		URL        string  `json:"url"`
		Body       string  `json:"body"`
		Score      int     `json:"score"`
		Subject    string  `json:"subject"`
		WasComment bool    `json:"was_comment"`
	} `json:"data"`
}

type listing struct {
	Data struct {
		After    string  `json:"after"`
		Children []thing `json:"children"`
	} `json:"data"`
}

func payloadFromThing(t thing) domain.PostPayload {
	kind, _ := domain.KindFromThingID(t.Data.Name)
	return domain.PostPayload{
		Name:      t.Data.Name,
		Kind:      kind,
		Author:    t.Data.Author,
		Subreddit: t.Data.Subreddit,
		CreatedAt: time.Unix(int64(t.Data.CreatedUTC), 0).UTC(),
		Permalink: t.Data.Permalink,
		Title:     t.Data.Title,
		SelfText:  t.Data.SelfText,
		URL:       t.Data.URL,
		Body:      t.Data.Body,
		Score:     t.Data.Score,
	}
}

// FetchByID загружает элемент по полному идентификатору вида t3_xxx или t1_xxx.
func (c *Client) FetchByID(ctx context.Context, thingID string) (domain.PostPayload, error) {
	form := url.Values{}
	form.Set("id", thingID)
	data, err := c.do(ctx, http.MethodGet, "/api/info.json", "info", form)
	if err != nil {
		return domain.PostPayload{}, err
	}
	var parsed listing
	if err := json.Unmarshal(data, &parsed); err != nil {
		return domain.PostPayload{}, fmt.Errorf("decode info response: %w", err)
	}
	if len(parsed.Data.Children) == 0 {
		return domain.PostPayload{}, fmt.Errorf("fetch %s: %w", thingID, domain.ErrLookupFailed)
	}
	return payloadFromThing(parsed.Data.Children[0]), nil
}

// Search выполняет один запрос страницы поиска. Пустой after — первая страница.
func (c *Client) Search(ctx context.Context, query, after string) (domain.SearchPage, error) {
	form := url.Values{}
	form.Set("q", query)
	form.Set("sort", "new")
	form.Set("limit", "100")
	if after != "" {
		form.Set("after", after)
	}
	data, err := c.do(ctx, http.MethodGet, "/search.json", "search", form)
	if err != nil {
		return domain.SearchPage{}, err
	}
	var parsed listing
	if err := json.Unmarshal(data, &parsed); err != nil {
		return domain.SearchPage{}, fmt.Errorf("decode search response: %w", err)
	}
	page := domain.SearchPage{After: parsed.Data.After}
	for _, child := range parsed.Data.Children {
		page.Posts = append(page.Posts, payloadFromThing(child))
	}
	return page, nil
}

// jsonEnvelope — обёртка ответов api_type=json.
type jsonEnvelope struct {
	JSON struct {
		Errors [][]any `json:"errors"`
		Data   struct {
			Things []thing `json:"things"`
		} `json:"data"`
	} `json:"json"`
}

func submissionError(errs [][]any) *domain.SubmissionError {
	se := &domain.SubmissionError{}
	for _, e := range errs {
		parts := make([]string, 0, len(e))
		for _, p := range e {
			parts = append(parts, fmt.Sprint(p))
		}
		se.Errors = append(se.Errors, strings.Join(parts, ": "))
	}
	return se
}

// SubmitReply отправляет ответ под родительским элементом и возвращает полный
// идентификатор нового комментария.
func (c *Client) SubmitReply(ctx context.Context, parentID, body string) (string, error) {
	form := url.Values{}
	form.Set("api_type", "json")
	form.Set("thing_id", parentID)
	form.Set("text", body)
	data, err := c.do(ctx, http.MethodPost, "/api/comment", "comment", form)
	if err != nil {
		return "", err
	}
	var parsed jsonEnvelope
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode comment response: %w", err)
	}
	if len(parsed.JSON.Errors) > 0 {
		return "", submissionError(parsed.JSON.Errors)
	}
	if len(parsed.JSON.Data.Things) == 0 {
		return "", fmt.Errorf("comment response: пустой список things")
	}
	return parsed.JSON.Data.Things[0].Data.Name, nil
}

// EditReply заменяет тело существующего комментария.
func (c *Client) EditReply(ctx context.Context, thingID, body string) error {
	form := url.Values{}
	form.Set("api_type", "json")
	form.Set("thing_id", thingID)
	form.Set("text", body)
	data, err := c.do(ctx, http.MethodPost, "/api/editusertext", "edit", form)
	if err != nil {
		return err
	}
	var parsed jsonEnvelope
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("decode edit response: %w", err)
	}
	if len(parsed.JSON.Errors) > 0 {
		return submissionError(parsed.JSON.Errors)
	}
	return nil
}

// DeleteThing удаляет элемент, принадлежащий боту.
func (c *Client) DeleteThing(ctx context.Context, thingID string) error {
	form := url.Values{}
	form.Set("id", thingID)
	_, err := c.do(ctx, http.MethodPost, "/api/del", "delete", form)
	return err
}

// IsModerator проверяет, модерирует ли пользователь сабреддит.
func (c *Client) IsModerator(ctx context.Context, subreddit, user string) (bool, error) {
	path := fmt.Sprintf("/r/%s/about/moderators.json", url.PathEscape(subreddit))
	data, err := c.do(ctx, http.MethodGet, path, "moderators", nil)
	if err != nil {
		return false, err
	}
	var parsed struct {
		Data struct {
			Children []struct {
				Name string `json:"name"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return false, fmt.Errorf("decode moderators response: %w", err)
	}
	for _, mod := range parsed.Data.Children {
		if strings.EqualFold(mod.Name, user) {
			return true, nil
		}
	}
	return false, nil
}

// SendMessage отправляет личное сообщение. Адресат вида /r/name уходит
// модераторам сабреддита.
func (c *Client) SendMessage(ctx context.Context, to, subject, body string) error {
	form := url.Values{}
	form.Set("api_type", "json")
	form.Set("to", to)
	form.Set("subject", subject)
	form.Set("text", body)
	data, err := c.do(ctx, http.MethodPost, "/api/compose", "compose", form)
	if err != nil {
		return err
	}
	var parsed jsonEnvelope
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("decode compose response: %w", err)
	}
	if len(parsed.JSON.Errors) > 0 {
		return submissionError(parsed.JSON.Errors)
	}
	return nil
}

// UnreadMessages возвращает непрочитанные сообщения инбокса.
func (c *Client) UnreadMessages(ctx context.Context) ([]domain.Message, error) {
	data, err := c.do(ctx, http.MethodGet, "/message/unread.json", "unread", nil)
	if err != nil {
		return nil, err
	}
	var parsed listing
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode unread response: %w", err)
	}
	var messages []domain.Message
	for _, child := range parsed.Data.Children {
		messages = append(messages, domain.Message{
			ID:         child.Data.Name,
			Author:     child.Data.Author,
			Subject:    child.Data.Subject,
			Body:       child.Data.Body,
			Subreddit:  child.Data.Subreddit,
			CreatedAt:  time.Unix(int64(child.Data.CreatedUTC), 0).UTC(),
			WasComment: child.Data.WasComment,
		})
	}
	return messages, nil
}

// MarkRead помечает сообщение прочитанным.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	form := url.Values{}
	form.Set("id", messageID)
	_, err := c.do(ctx, http.MethodPost, "/api/read_message", "read_message", form)
	return err
}

// UpdateWikiPage перезаписывает страницу вики сабреддита.
func (c *Client) UpdateWikiPage(ctx context.Context, subreddit, page, content, reason string) error {
	form := url.Values{}
	form.Set("page", page)
	form.Set("content", content)
	form.Set("reason", reason)
	path := fmt.Sprintf("/r/%s/api/wiki/edit", url.PathEscape(subreddit))
	_, err := c.do(ctx, http.MethodPost, path, "wiki_edit", form)
	return err
}
