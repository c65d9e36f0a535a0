package domain

import "time"

// PostRecord описывает один обработанный элемент форума (пост или упоминание).
type PostRecord struct {
	ID         string
	Kind       PostKind
	Author     string
	Subreddit  string
	CreatedAt  time.Time
	Permalink  string
	MovieIDs   []string
	Commented  bool
	Processing bool
	SeenAt     time.Time
}

// Comment описывает отправленный ботом ответ.
type Comment struct {
	ID        string
	PostID    string
	Score     int
	Revision  int
	Deleted   bool
	CreatedAt time.Time
}

// CommentRevision хранит неизменяемый снимок тела комментария.
type CommentRevision struct {
	CommentID string
	Revision  int
	Body      string
	CreatedAt time.Time
}

// ListEntry описывает сабреддит в allow- или deny-списке.
type ListEntry struct {
	Subreddit string
	Kind      ListKind
	UpdatedBy string
	UpdatedAt time.Time
}

// IgnoreEntry описывает автора, попросившего бота замолчать.
type IgnoreEntry struct {
	Author    string
	Ignored   bool
	MessageID string
	Body      string
	UpdatedAt time.Time
}

// GraphRef хранит привязку IMDB-идентификатора к графу доступности.
type GraphRef struct {
	GraphID string
	Title   string
	AltID   string
}

// MovieMeta содержит метаданные фильма от провайдера.
type MovieMeta struct {
	IMDBID      string
	Title       string
	MediaType   MediaType
	IMDBRating  string
	TomatoMeter *int
	TomatoURL   string
}

// Offer описывает один способ посмотреть или купить фильм у провайдера.
type Offer struct {
	Provider string
	Method   string
	Price    float64
	URL      string
	Mediums  []string
}

// PostPayload — сырые данные элемента форума, как их отдаёт платформа.
type PostPayload struct {
	Name      string    `json:"name"`
	Kind      PostKind  `json:"kind"`
	Author    string    `json:"author"`
	Subreddit string    `json:"subreddit"`
	CreatedAt time.Time `json:"created_at"`
	Permalink string    `json:"permalink,omitempty"`
	Title     string    `json:"title,omitempty"`
	SelfText  string    `json:"selftext,omitempty"`
	URL       string    `json:"url,omitempty"`
	Body      string    `json:"body,omitempty"`
	Score     int       `json:"score"`
}

// TextSources возвращает тексты, в которых ищутся ссылки на фильмы.
// Для поста это заголовок, селфтекст и URL, для комментария — тело.
func (p PostPayload) TextSources() []string {
	if p.Kind == KindComment {
		return []string{p.Body}
	}
	return []string{p.Title, p.SelfText, p.URL}
}

// SearchPage — одна страница результатов поиска с курсором продолжения.
type SearchPage struct {
	Posts []PostPayload
	After string
}

// Message описывает личное сообщение или уведомление из инбокса.
type Message struct {
	ID         string
	Author     string
	Subject    string
	Body       string
	Subreddit  string
	CreatedAt  time.Time
	WasComment bool
}
