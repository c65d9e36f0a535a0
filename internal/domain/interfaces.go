package domain

import (
	"context"
	"time"
)

// PostRepo управляет записями постов и их флагами.
type PostRepo interface {
	GetPost(ctx context.Context, postID string) (PostRecord, bool, error)
	CreatePost(ctx context.Context, rec PostRecord) error
	SetCommented(ctx context.Context, postID string, commented bool) error
	// ClaimProcessing атомарно выставляет processing=true и возвращает true,
	// если запись была свободна. Повторный вызов до Release вернёт false.
	ClaimProcessing(ctx context.Context, postID string) (bool, error)
	ReleaseProcessing(ctx context.Context, postID string) error
	PurgePosts(ctx context.Context) (int64, error)
}

// CommentRepo управляет комментариями и их ревизиями.
type CommentRepo interface {
	CreateComment(ctx context.Context, postID, commentID, body string) error
	GetComment(ctx context.Context, commentID string) (Comment, error)
	// AppendRevision добавляет новую ревизию тела и возвращает её номер.
	// Ревизии только добавляются, прежние никогда не переписываются.
	AppendRevision(ctx context.Context, commentID, body string) (int, error)
	GetRevision(ctx context.Context, commentID string, revision int) (CommentRevision, error)
	UpdateScore(ctx context.Context, commentID string, score int) error
	MarkDeleted(ctx context.Context, commentID string) error
	ListRecentComments(ctx context.Context, since time.Time) ([]Comment, error)
}

// ListRepo управляет allow/deny-списками сабреддитов.
type ListRepo interface {
	AddToList(ctx context.Context, kind ListKind, subreddit, updatedBy string) error
	RemoveFromList(ctx context.Context, kind ListKind, subreddit string) error
	IsListed(ctx context.Context, kind ListKind, subreddit string) (bool, error)
	ListEntries(ctx context.Context, kind ListKind) ([]ListEntry, error)
}

// IgnoreRepo управляет списком авторов, которых бот не трогает.
type IgnoreRepo interface {
	SetIgnored(ctx context.Context, entry IgnoreEntry) error
	IsIgnored(ctx context.Context, author string) (bool, error)
}

// MovieRepo хранит привязки фильмов к графу доступности.
type MovieRepo interface {
	GetGraphRef(ctx context.Context, imdbID string) (GraphRef, bool, error)
	SaveGraphRef(ctx context.Context, imdbID string, ref GraphRef) error
}

// ForumClient — клиент REST API форума.
type ForumClient interface {
	FetchByID(ctx context.Context, thingID string) (PostPayload, error)
	Search(ctx context.Context, query, after string) (SearchPage, error)
	// SubmitReply отправляет ответ и возвращает идентификатор нового комментария.
	// Ошибки уровня API приходят как *SubmissionError.
	SubmitReply(ctx context.Context, parentID, body string) (string, error)
	EditReply(ctx context.Context, thingID, body string) error
	DeleteThing(ctx context.Context, thingID string) error
	IsModerator(ctx context.Context, subreddit, user string) (bool, error)
	SendMessage(ctx context.Context, to, subject, body string) error
	UnreadMessages(ctx context.Context) ([]Message, error)
	MarkRead(ctx context.Context, messageID string) error
	UpdateWikiPage(ctx context.Context, subreddit, page, content, reason string) error
}

// MetadataClient отвечает за метаданные фильмов по внешнему идентификатору.
type MetadataClient interface {
	LookupByID(ctx context.Context, imdbID string) (MovieMeta, error)
}

// AvailabilityClient — клиент графа доступности.
type AvailabilityClient interface {
	ResolveCrossRef(ctx context.Context, imdbID string) (string, error)
	FetchMedia(ctx context.Context, graphID string) (GraphRef, error)
	FetchOffers(ctx context.Context, graphID string) ([]Offer, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
