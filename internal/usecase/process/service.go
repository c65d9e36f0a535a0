package process

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"moviesbot/internal/domain"
	"moviesbot/internal/infra/metrics"
	"moviesbot/internal/linkextract"
	"moviesbot/internal/usecase/availability"
	"moviesbot/internal/usecase/comments"
)

// Тексты извинений, когда бота позвали, а показать нечего.
const (
	apologyNoLinks  = "Sorry, I couldn't find any links to streaming, rental, or purchase sites. Perhaps the movie is too new\n"
	apologyNoMovies = "Sorry, I was unable to find any movies in this post\n"
)

// Service ведёт жизненный цикл обработки поста: загрузка или создание записи,
// захват, решение об ответе, агрегация и публикация.
type Service struct {
	posts        domain.PostRepo
	forum        domain.ForumClient
	lists        domain.ListRepo
	ignores      domain.IgnoreRepo
	availability *availability.Service
	formatter    *comments.Formatter
	comments     *comments.Service
	log          zerolog.Logger
}

// NewService создаёт сервис обработки постов.
func NewService(posts domain.PostRepo, forum domain.ForumClient, lists domain.ListRepo, ignores domain.IgnoreRepo, avail *availability.Service, formatter *comments.Formatter, commentSvc *comments.Service, log zerolog.Logger) *Service {
	return &Service{
		posts:        posts,
		forum:        forum,
		lists:        lists,
		ignores:      ignores,
		availability: avail,
		formatter:    formatter,
		comments:     commentSvc,
		log:          log,
	}
}

// Process обрабатывает одну задачу. Повторная доставка той же задачи
// безопасна: запись создаётся один раз, ответ публикуется один раз.
func (s *Service) Process(ctx context.Context, job domain.ProcessJob) error {
	rec, err := s.LoadOrCreate(ctx, job)
	if err != nil {
		metrics.PostsProcessed.WithLabelValues("lookup_failed").Inc()
		return err
	}

	claimed, err := s.posts.ClaimProcessing(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("захват поста %s: %w", rec.ID, err)
	}
	if !claimed {
		s.log.Info().Str("post", rec.ID).Msg("process: пост уже обрабатывается, пропускаем")
		metrics.PostsProcessed.WithLabelValues("busy").Inc()
		return nil
	}
	defer func() {
		if err := s.posts.ReleaseProcessing(context.WithoutCancel(ctx), rec.ID); err != nil {
			s.log.Error().Err(err).Str("post", rec.ID).Msg("process: не удалось снять захват")
		}
	}()

	if rec.Commented && !job.Forced {
		s.log.Info().Str("post", rec.ID).Msg("process: уже отвечали на этот пост, пропускаем")
		metrics.PostsProcessed.WithLabelValues("already_commented").Inc()
		return nil
	}

	should, err := s.ShouldReply(ctx, rec, job.Forced, job.Summoned)
	if err != nil {
		return err
	}
	if !should {
		metrics.PostsProcessed.WithLabelValues("not_allowed").Inc()
		return nil
	}

	return s.reply(ctx, rec, job.Summoned)
}

// LoadOrCreate возвращает существующую запись поста как есть, либо строит
// новую из данных задачи или ответа форума. Извлечение ссылок на фильмы —
// эффект только создания: записанный список больше не пересматривается.
func (s *Service) LoadOrCreate(ctx context.Context, job domain.ProcessJob) (domain.PostRecord, error) {
	rec, found, err := s.posts.GetPost(ctx, job.PostID)
	if err != nil {
		return domain.PostRecord{}, fmt.Errorf("чтение поста %s: %w", job.PostID, err)
	}
	if found {
		return rec, nil
	}

	payload := job.Payload
	if payload == nil {
		fetched, err := s.forum.FetchByID(ctx, job.PostID)
		if err != nil {
			return domain.PostRecord{}, fmt.Errorf("загрузка поста %s: %w", job.PostID, err)
		}
		payload = &fetched
	}

	createdAt := payload.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	rec = domain.PostRecord{
		ID:        job.PostID,
		Kind:      payload.Kind,
		Author:    payload.Author,
		Subreddit: payload.Subreddit,
		CreatedAt: createdAt,
		Permalink: payload.Permalink,
		MovieIDs:  linkextract.IMDBIDsFromSources(payload.TextSources()),
	}
	if err := s.posts.CreatePost(ctx, rec); err != nil {
		return domain.PostRecord{}, fmt.Errorf("сохранение поста %s: %w", job.PostID, err)
	}
	return rec, nil
}

// ShouldReply решает, отвечать ли на пост. Порядок правил фиксированный:
// принудительная обработка, призыв вне запрещённого сабреддита, игнор автора,
// разрешённый сабреддит, иначе нет.
func (s *Service) ShouldReply(ctx context.Context, rec domain.PostRecord, forced, summoned bool) (bool, error) {
	if forced {
		return true, nil
	}
	if summoned {
		denied, err := s.lists.IsListed(ctx, domain.ListDeny, rec.Subreddit)
		if err != nil {
			return false, fmt.Errorf("проверка запрещённых: %w", err)
		}
		if !denied {
			return true, nil
		}
	}
	ignored, err := s.ignores.IsIgnored(ctx, rec.Author)
	if err != nil {
		return false, fmt.Errorf("проверка игнора: %w", err)
	}
	if ignored {
		s.log.Info().Str("author", rec.Author).Msg("process: автор просил его не трогать")
		return false, nil
	}
	allowed, err := s.lists.IsListed(ctx, domain.ListAllow, rec.Subreddit)
	if err != nil {
		return false, fmt.Errorf("проверка разрешённых: %w", err)
	}
	return allowed, nil
}

func (s *Service) reply(ctx context.Context, rec domain.PostRecord, summoned bool) error {
	res, err := s.availability.Aggregate(ctx, rec.MovieIDs)
	if err != nil {
		return fmt.Errorf("агрегация по посту %s: %w", rec.ID, err)
	}

	var body string
	switch {
	case len(res.Movies) == 0:
		if !summoned {
			s.log.Info().Str("post", rec.ID).Msg("process: фильмов нет и бота не звали, молчим")
			metrics.PostsProcessed.WithLabelValues("no_movies").Inc()
			return nil
		}
		body = apologyNoMovies
	default:
		body, err = s.formatter.Format(res)
		if errors.Is(err, comments.ErrNoContent) {
			if !summoned {
				s.log.Info().Str("post", rec.ID).Msg("process: предложений нет и бота не звали, молчим")
				metrics.PostsProcessed.WithLabelValues("no_content").Inc()
				return nil
			}
			body = apologyNoLinks
		} else if err != nil {
			return fmt.Errorf("форматирование ответа на %s: %w", rec.ID, err)
		}
	}

	if _, err := s.comments.Submit(ctx, rec.ID, s.comments.Compose(body)); err != nil {
		return fmt.Errorf("публикация ответа на %s: %w", rec.ID, err)
	}
	metrics.PostsProcessed.WithLabelValues("commented").Inc()
	return nil
}
