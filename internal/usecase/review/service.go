package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"moviesbot/internal/domain"
	"moviesbot/internal/usecase/availability"
	"moviesbot/internal/usecase/comments"
)

// scheduleOnceTTL защищает от двойной постановки одной проверки, когда
// планировщик срабатывает чаще, чем воркер разбирает очередь.
const scheduleOnceTTL = time.Hour

// Service планирует и выполняет повторные проверки опубликованных
// комментариев: обновляет рейтинг, отзывает заминусованные и дополняет
// устаревшие.
type Service struct {
	comments     domain.CommentRepo
	posts        domain.PostRepo
	forum        domain.ForumClient
	availability *availability.Service
	formatter    *comments.Formatter
	commentSvc   *comments.Service
	queue        domain.ReviewQueue
	cache        domain.Cache

	window         time.Duration
	scoreThreshold int
	log            zerolog.Logger
}

// NewService создаёт сервис проверки комментариев.
func NewService(commentRepo domain.CommentRepo, posts domain.PostRepo, forum domain.ForumClient, avail *availability.Service, formatter *comments.Formatter, commentSvc *comments.Service, queue domain.ReviewQueue, cache domain.Cache, windowDays, scoreThreshold int, log zerolog.Logger) *Service {
	if windowDays <= 0 {
		windowDays = 7
	}
	return &Service{
		comments:       commentRepo,
		posts:          posts,
		forum:          forum,
		availability:   avail,
		formatter:      formatter,
		commentSvc:     commentSvc,
		queue:          queue,
		cache:          cache,
		window:         time.Duration(windowDays) * 24 * time.Hour,
		scoreThreshold: scoreThreshold,
		log:            log,
	}
}

// ScheduleReviews ставит в очередь проверку всех свежих комментариев.
func (s *Service) ScheduleReviews(ctx context.Context) error {
	since := time.Now().UTC().Add(-s.window)
	recent, err := s.comments.ListRecentComments(ctx, since)
	if err != nil {
		return fmt.Errorf("список свежих комментариев: %w", err)
	}
	for _, comment := range recent {
		comment := comment
		enqueue := func() error {
			job := domain.ReviewJob{
				ID:          uuid.NewString(),
				PostID:      comment.PostID,
				CommentID:   comment.ID,
				RequestedAt: time.Now().UTC(),
			}
			return s.queue.Enqueue(ctx, job)
		}
		// Без кеша дедупликации нет, очередь и так переживает повторы.
		if s.cache == nil {
			err = enqueue()
		} else {
			err = s.cache.Once("review:"+comment.ID, scheduleOnceTTL, enqueue)
		}
		if err != nil {
			return fmt.Errorf("постановка проверки %s: %w", comment.ID, err)
		}
	}
	return nil
}

// Review выполняет одну проверку. Комментарий, которого уже нет в хранилище
// или на форуме, не считается ошибкой: задача подтверждается.
func (s *Service) Review(ctx context.Context, job domain.ReviewJob) error {
	comment, err := s.comments.GetComment(ctx, job.CommentID)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Warn().Str("comment", job.CommentID).Msg("review: комментария нет в хранилище")
		return nil
	}
	if err != nil {
		return fmt.Errorf("чтение комментария %s: %w", job.CommentID, err)
	}
	if comment.Deleted {
		return nil
	}

	payload, err := s.forum.FetchByID(ctx, comment.ID)
	if errors.Is(err, domain.ErrLookupFailed) {
		s.log.Info().Str("comment", comment.ID).Msg("review: комментарий пропал с форума, помечаем удалённым")
		return s.comments.MarkDeleted(ctx, comment.ID)
	}
	if err != nil {
		return fmt.Errorf("загрузка комментария %s: %w", comment.ID, err)
	}

	if err := s.comments.UpdateScore(ctx, comment.ID, payload.Score); err != nil {
		return fmt.Errorf("обновление рейтинга %s: %w", comment.ID, err)
	}

	if payload.Score < s.scoreThreshold {
		s.log.Info().Str("comment", comment.ID).Int("score", payload.Score).Msg("review: рейтинг ниже порога, отзываем комментарий")
		return s.commentSvc.Retract(ctx, comment.ID)
	}

	return s.maybeRevise(ctx, comment)
}

// maybeRevise пересобирает тело комментария по текущим данным и публикует
// его, только если новое тело строго длиннее сохранённого: появились новые
// предложения.
func (s *Service) maybeRevise(ctx context.Context, comment domain.Comment) error {
	current, err := s.comments.GetRevision(ctx, comment.ID, comment.Revision)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Error().Str("comment", comment.ID).Int("revision", comment.Revision).Msg("review: нет сохранённой ревизии")
		return nil
	}
	if err != nil {
		return fmt.Errorf("чтение ревизии %s/%d: %w", comment.ID, comment.Revision, err)
	}

	rec, found, err := s.posts.GetPost(ctx, comment.PostID)
	if err != nil {
		return fmt.Errorf("чтение поста %s: %w", comment.PostID, err)
	}
	if !found || len(rec.MovieIDs) == 0 {
		return nil
	}

	res, err := s.availability.Aggregate(ctx, rec.MovieIDs)
	if err != nil {
		return fmt.Errorf("агрегация по посту %s: %w", comment.PostID, err)
	}
	body, err := s.formatter.Format(res)
	if errors.Is(err, comments.ErrNoContent) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("форматирование %s: %w", comment.ID, err)
	}

	composed := s.commentSvc.ComposeFor(body, comment.ID)
	if len(composed) <= len(current.Body) {
		return nil
	}
	s.log.Info().Str("comment", comment.ID).Msg("review: появились новые предложения, дополняем комментарий")
	if _, err := s.commentSvc.Revise(ctx, comment.ID, composed); err != nil {
		return err
	}
	return nil
}
