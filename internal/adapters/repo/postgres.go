package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"moviesbot/internal/domain"
	"moviesbot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.PostRepo    = (*Postgres)(nil)
	_ domain.CommentRepo = (*Postgres)(nil)
	_ domain.ListRepo    = (*Postgres)(nil)
	_ domain.IgnoreRepo  = (*Postgres)(nil)
	_ domain.MovieRepo   = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// GetPost возвращает запись поста. Второй результат false, если записи нет.
func (p *Postgres) GetPost(ctx context.Context, postID string) (domain.PostRecord, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var rec domain.PostRecord
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, kind, author, subreddit, created_at, COALESCE(permalink, ''), movie_ids, commented, processing, seen_at
FROM posts WHERE id=$1
`, postID).Scan(&rec.ID, &rec.Kind, &rec.Author, &rec.Subreddit, &rec.CreatedAt, &rec.Permalink, &rec.MovieIDs, &rec.Commented, &rec.Processing, &rec.SeenAt)
	metrics.ObserveNetworkRequest("postgres", "posts_get", "posts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PostRecord{}, false, nil
	}
	if err != nil {
		return domain.PostRecord{}, false, err
	}
	return rec, true, nil
}

// CreatePost сохраняет новую запись поста. Повторная вставка того же id не
// перетирает существующую запись: извлечение ссылок — эффект только создания.
func (p *Postgres) CreatePost(ctx context.Context, rec domain.PostRecord) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var permalink any
	if rec.Permalink != "" {
		permalink = rec.Permalink
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO posts (id, kind, author, subreddit, created_at, permalink, movie_ids, commented, processing, seen_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,false,false,now())
ON CONFLICT (id) DO NOTHING
`, rec.ID, rec.Kind, rec.Author, rec.Subreddit, rec.CreatedAt, permalink, rec.MovieIDs)
	metrics.ObserveNetworkRequest("postgres", "posts_create", "posts", start, err)
	return err
}

// SetCommented выставляет флаг commented.
func (p *Postgres) SetCommented(ctx context.Context, postID string, commented bool) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE posts SET commented=$2 WHERE id=$1`, postID, commented)
	metrics.ObserveNetworkRequest("postgres", "posts_set_commented", "posts", start, err)
	return err
}

// ClaimProcessing атомарно захватывает пост на обработку. Условный UPDATE
// исключает гонку «прочитал-записал» при одновременной доставке двух задач.
func (p *Postgres) ClaimProcessing(ctx context.Context, postID string) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `UPDATE posts SET processing=true WHERE id=$1 AND processing=false`, postID)
	metrics.ObserveNetworkRequest("postgres", "posts_claim", "posts", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// ReleaseProcessing снимает захват независимо от исхода обработки.
func (p *Postgres) ReleaseProcessing(ctx context.Context, postID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE posts SET processing=false WHERE id=$1`, postID)
	metrics.ObserveNetworkRequest("postgres", "posts_release", "posts", start, err)
	return err
}

// PurgePosts удаляет все записи постов вместе с комментариями и ревизиями.
func (p *Postgres) PurgePosts(ctx context.Context) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `DELETE FROM posts`)
	metrics.ObserveNetworkRequest("postgres", "posts_purge", "posts", start, err)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

// CreateComment сохраняет комментарий и его нулевую ревизию одной транзакцией.
func (p *Postgres) CreateComment(ctx context.Context, postID, commentID, body string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "comments", start, err)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	_, err = tx.Exec(ctx, `
INSERT INTO comments (id, post_id, score, revision, deleted, created_at)
VALUES ($1,$2,1,0,false,now())
`, commentID, postID)
	metrics.ObserveNetworkRequest("postgres", "comments_insert", "comments", start, err)
	if err != nil {
		return err
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
INSERT INTO comment_revisions (comment_id, revision, body, created_at)
VALUES ($1,0,$2,now())
`, commentID, body)
	metrics.ObserveNetworkRequest("postgres", "comment_revisions_insert", "comment_revisions", start, err)
	if err != nil {
		return err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "comments", start, err)
	return err
}

// GetComment возвращает комментарий.
func (p *Postgres) GetComment(ctx context.Context, commentID string) (domain.Comment, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var c domain.Comment
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, post_id, score, revision, deleted, created_at
FROM comments WHERE id=$1
`, commentID).Scan(&c.ID, &c.PostID, &c.Score, &c.Revision, &c.Deleted, &c.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "comments_get", "comments", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Comment{}, domain.ErrNotFound
	}
	return c, err
}

// AppendRevision добавляет новую ревизию тела и сдвигает счётчик.
// Существующие ревизии никогда не изменяются.
func (p *Postgres) AppendRevision(ctx context.Context, commentID, body string) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "comment_revisions", start, err)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var current int
	start = time.Now()
	err = tx.QueryRow(ctx, `SELECT revision FROM comments WHERE id=$1 FOR UPDATE`, commentID).Scan(&current)
	metrics.ObserveNetworkRequest("postgres", "comments_get_for_update", "comments", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	next := current + 1
	start = time.Now()
	_, err = tx.Exec(ctx, `
INSERT INTO comment_revisions (comment_id, revision, body, created_at)
VALUES ($1,$2,$3,now())
`, commentID, next, body)
	metrics.ObserveNetworkRequest("postgres", "comment_revisions_insert", "comment_revisions", start, err)
	if err != nil {
		return 0, err
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `UPDATE comments SET revision=$2 WHERE id=$1`, commentID, next)
	metrics.ObserveNetworkRequest("postgres", "comments_update_revision", "comments", start, err)
	if err != nil {
		return 0, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "comment_revisions", start, err)
	if err != nil {
		return 0, err
	}
	return next, nil
}

// GetRevision возвращает ревизию тела комментария.
func (p *Postgres) GetRevision(ctx context.Context, commentID string, revision int) (domain.CommentRevision, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var rev domain.CommentRevision
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT comment_id, revision, body, created_at
FROM comment_revisions WHERE comment_id=$1 AND revision=$2
`, commentID, revision).Scan(&rev.CommentID, &rev.Revision, &rev.Body, &rev.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "comment_revisions_get", "comment_revisions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CommentRevision{}, domain.ErrNotFound
	}
	return rev, err
}

// UpdateScore обновляет рейтинг комментария.
func (p *Postgres) UpdateScore(ctx context.Context, commentID string, score int) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE comments SET score=$2 WHERE id=$1`, commentID, score)
	metrics.ObserveNetworkRequest("postgres", "comments_update_score", "comments", start, err)
	return err
}

// MarkDeleted помечает комментарий удалённым; строка остаётся для аудита.
func (p *Postgres) MarkDeleted(ctx context.Context, commentID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE comments SET deleted=true WHERE id=$1`, commentID)
	metrics.ObserveNetworkRequest("postgres", "comments_mark_deleted", "comments", start, err)
	return err
}

// ListRecentComments возвращает неудалённые комментарии, созданные после since.
func (p *Postgres) ListRecentComments(ctx context.Context, since time.Time) ([]domain.Comment, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, post_id, score, revision, deleted, created_at
FROM comments WHERE created_at > $1 AND deleted=false
ORDER BY created_at DESC
`, since)
	metrics.ObserveNetworkRequest("postgres", "comments_list_recent", "comments", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var comments []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.Score, &c.Revision, &c.Deleted, &c.CreatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// AddToList вносит сабреддит в список. Ключ таблицы — сабреддит, поэтому
// запись в один список автоматически вытесняет запись в другом.
func (p *Postgres) AddToList(ctx context.Context, kind domain.ListKind, subreddit, updatedBy string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO subreddit_lists (subreddit, kind, updated_by, updated_at)
VALUES ($1,$2,$3,now())
ON CONFLICT (subreddit) DO UPDATE SET kind=EXCLUDED.kind, updated_by=EXCLUDED.updated_by, updated_at=now()
`, subreddit, kind, updatedBy)
	metrics.ObserveNetworkRequest("postgres", "lists_add", "subreddit_lists", start, err)
	return err
}

// RemoveFromList удаляет сабреддит из указанного списка.
func (p *Postgres) RemoveFromList(ctx context.Context, kind domain.ListKind, subreddit string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM subreddit_lists WHERE subreddit=$1 AND kind=$2`, subreddit, kind)
	metrics.ObserveNetworkRequest("postgres", "lists_remove", "subreddit_lists", start, err)
	return err
}

// IsListed проверяет присутствие сабреддита в списке.
func (p *Postgres) IsListed(ctx context.Context, kind domain.ListKind, subreddit string) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var listed bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT EXISTS(SELECT 1 FROM subreddit_lists WHERE subreddit=$1 AND kind=$2)
`, subreddit, kind).Scan(&listed)
	metrics.ObserveNetworkRequest("postgres", "lists_is_listed", "subreddit_lists", start, err)
	return listed, err
}

// ListEntries возвращает все записи списка.
func (p *Postgres) ListEntries(ctx context.Context, kind domain.ListKind) ([]domain.ListEntry, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT subreddit, kind, updated_by, updated_at
FROM subreddit_lists WHERE kind=$1
ORDER BY subreddit
`, kind)
	metrics.ObserveNetworkRequest("postgres", "lists_entries", "subreddit_lists", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.ListEntry
	for rows.Next() {
		var e domain.ListEntry
		if err := rows.Scan(&e.Subreddit, &e.Kind, &e.UpdatedBy, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SetIgnored сохраняет решение автора об игноре вместе с вызвавшим сообщением.
func (p *Postgres) SetIgnored(ctx context.Context, entry domain.IgnoreEntry) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO ignore_list (author, ignored, message_id, body, updated_at)
VALUES ($1,$2,$3,$4,now())
ON CONFLICT (author) DO UPDATE SET ignored=EXCLUDED.ignored, message_id=EXCLUDED.message_id, body=EXCLUDED.body, updated_at=now()
`, entry.Author, entry.Ignored, entry.MessageID, entry.Body)
	metrics.ObserveNetworkRequest("postgres", "ignore_set", "ignore_list", start, err)
	return err
}

// IsIgnored проверяет, просил ли автор его не трогать.
func (p *Postgres) IsIgnored(ctx context.Context, author string) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var ignored bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT EXISTS(SELECT 1 FROM ignore_list WHERE author=$1 AND ignored=true)
`, author).Scan(&ignored)
	metrics.ObserveNetworkRequest("postgres", "ignore_is_ignored", "ignore_list", start, err)
	return ignored, err
}

// GetGraphRef возвращает сохранённую привязку фильма к графу доступности.
func (p *Postgres) GetGraphRef(ctx context.Context, imdbID string) (domain.GraphRef, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var ref domain.GraphRef
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT graph_id, title, alt_id FROM movie_graph_refs WHERE imdb_id=$1
`, imdbID).Scan(&ref.GraphID, &ref.Title, &ref.AltID)
	metrics.ObserveNetworkRequest("postgres", "graph_refs_get", "movie_graph_refs", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GraphRef{}, false, nil
	}
	if err != nil {
		return domain.GraphRef{}, false, err
	}
	return ref, true, nil
}

// SaveGraphRef сохраняет привязку для повторного использования.
func (p *Postgres) SaveGraphRef(ctx context.Context, imdbID string, ref domain.GraphRef) error {
	if ref.GraphID == "" {
		return fmt.Errorf("graph ref for %s: пустой graph_id", imdbID)
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO movie_graph_refs (imdb_id, graph_id, title, alt_id, updated_at)
VALUES ($1,$2,$3,$4,now())
ON CONFLICT (imdb_id) DO UPDATE SET graph_id=EXCLUDED.graph_id, title=EXCLUDED.title, alt_id=EXCLUDED.alt_id, updated_at=now()
`, imdbID, ref.GraphID, ref.Title, ref.AltID)
	metrics.ObserveNetworkRequest("postgres", "graph_refs_save", "movie_graph_refs", start, err)
	return err
}
