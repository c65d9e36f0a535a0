package search

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"moviesbot/internal/domain"
	"moviesbot/internal/infra/metrics"
)

// Dispatcher обходит поиск форума и ставит найденные посты в очередь
// обработки.
type Dispatcher struct {
	forum   domain.ForumClient
	posts   domain.PostRepo
	queue   domain.ProcessQueue
	botUser string
	log     zerolog.Logger
}

// NewDispatcher создаёт диспетчер поиска.
func NewDispatcher(forum domain.ForumClient, posts domain.PostRepo, queue domain.ProcessQueue, botUser string, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{forum: forum, posts: posts, queue: queue, botUser: botUser, log: log}
}

// SearchIMDBLinks ищет свежие посты со ссылками на IMDB.
func (d *Dispatcher) SearchIMDBLinks(ctx context.Context) error {
	return d.run(ctx, "title:imdb.com OR url:imdb.com OR imdb.com", false, domain.CauseSearch)
}

// SearchMentions ищет посты с упоминанием бота.
func (d *Dispatcher) SearchMentions(ctx context.Context) error {
	query := fmt.Sprintf("title:/u/%s OR url:/u/%s OR /u/%s", d.botUser, d.botUser, d.botUser)
	return d.run(ctx, query, true, domain.CauseMention)
}

// run листает страницы поиска от новых к старым. Как только встречается уже
// известный пост, текущая страница дочитывается, но дальше не листаем:
// всё более старое уже видели.
func (d *Dispatcher) run(ctx context.Context, query string, summoned bool, cause domain.TaskCause) error {
	after := ""
	paginate := true
	for {
		page, err := d.forum.Search(ctx, query, after)
		if err != nil {
			return fmt.Errorf("страница поиска %q: %w", query, err)
		}
		metrics.SearchPages.Inc()

		for i := range page.Posts {
			post := page.Posts[i]
			if _, found, err := d.posts.GetPost(ctx, post.Name); err != nil {
				return fmt.Errorf("проверка поста %s: %w", post.Name, err)
			} else if found {
				paginate = false
			}
			job := domain.ProcessJob{
				ID:          uuid.NewString(),
				PostID:      post.Name,
				Summoned:    summoned,
				Payload:     &post,
				Cause:       cause,
				RequestedAt: time.Now().UTC(),
			}
			if err := d.queue.Enqueue(ctx, job); err != nil {
				return fmt.Errorf("постановка %s в очередь: %w", post.Name, err)
			}
		}

		if !paginate || page.After == "" {
			return nil
		}
		after = page.After
	}
}
