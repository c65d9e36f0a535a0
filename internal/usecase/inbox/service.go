package inbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"moviesbot/internal/domain"
	"moviesbot/internal/infra/metrics"
	"moviesbot/internal/linkextract"
	"moviesbot/internal/usecase/availability"
	"moviesbot/internal/usecase/comments"
	"moviesbot/internal/usecase/process"
)

var (
	subredditPattern = regexp.MustCompile(`r/(\w+)`)
	deletePattern    = regexp.MustCompile(`delete ((t\d)_\w+)`)
	postLinkPattern  = regexp.MustCompile(`r\/[\w]+\/comments\/([a-z0-9]+)(\/[\w]+\/)?([a-z0-9]+)?`)
)

// Service разбирает инбокс бота: команды от пользователей, запросы
// модераторов и упоминания.
type Service struct {
	forum        domain.ForumClient
	lists        domain.ListRepo
	ignores      domain.IgnoreRepo
	posts        domain.PostRepo
	comments     domain.CommentRepo
	commentSvc   *comments.Service
	processSvc   *process.Service
	availability *availability.Service
	formatter    *comments.Formatter
	queue        domain.ProcessQueue

	botUser   string
	subreddit string
	log       zerolog.Logger
}

// NewService создаёт обработчик инбокса.
func NewService(forum domain.ForumClient, lists domain.ListRepo, ignores domain.IgnoreRepo, posts domain.PostRepo, commentRepo domain.CommentRepo, commentSvc *comments.Service, processSvc *process.Service, avail *availability.Service, formatter *comments.Formatter, queue domain.ProcessQueue, botUser, subreddit string, log zerolog.Logger) *Service {
	return &Service{
		forum:        forum,
		lists:        lists,
		ignores:      ignores,
		posts:        posts,
		comments:     commentRepo,
		commentSvc:   commentSvc,
		processSvc:   processSvc,
		availability: avail,
		formatter:    formatter,
		queue:        queue,
		botUser:      botUser,
		subreddit:    subreddit,
		log:          log,
	}
}

// HandleUnread читает непрочитанные сообщения, выполняет команды и отвечает
// отправителям. Каждое сообщение помечается прочитанным независимо от исхода.
func (s *Service) HandleUnread(ctx context.Context) error {
	unread, err := s.forum.UnreadMessages(ctx)
	if err != nil {
		return fmt.Errorf("чтение инбокса: %w", err)
	}
	for _, msg := range unread {
		response, command := s.handle(ctx, msg)
		metrics.InboxMessages.WithLabelValues(command).Inc()

		if err := s.forum.MarkRead(ctx, msg.ID); err != nil {
			s.log.Error().Err(err).Str("message", msg.ID).Msg("inbox: не удалось пометить сообщение прочитанным")
			continue
		}
		if response == "" {
			continue
		}
		if _, err := s.forum.SubmitReply(ctx, msg.ID, response); err != nil {
			s.log.Error().Err(err).Str("message", msg.ID).Msg("inbox: не удалось ответить на сообщение")
		}
	}
	return nil
}

// handle возвращает текст ответа (пустой — не отвечаем) и имя команды для
// метрик.
func (s *Service) handle(ctx context.Context, msg domain.Message) (string, string) {
	if msg.WasComment {
		if msg.Subject == "username mention" {
			if err := s.enqueueMention(ctx, msg); err != nil {
				s.log.Error().Err(err).Str("message", msg.ID).Msg("inbox: не удалось поставить упоминание в очередь")
			}
			return "", "mention"
		}
		s.log.Info().Str("subject", msg.Subject).Msg("inbox: комментарий с незнакомой темой, нужен человек")
		return "", "unknown_comment"
	}

	subject := strings.ToLower(msg.Subject)
	switch subject {
	case "ignore me":
		return s.setIgnored(ctx, msg, true), "ignore"
	case "remember me":
		return s.setIgnored(ctx, msg, false), "remember"
	case "whitelist":
		return s.addToList(ctx, msg, domain.ListAllow, subject), "whitelist"
	case "blacklist":
		return s.addToList(ctx, msg, domain.ListDeny, subject), "blacklist"
	case "delete":
		return s.deleteComment(ctx, msg), "delete"
	case "process", "re: process":
		return s.summon(ctx, msg), "process"
	default:
		s.log.Info().Str("author", msg.Author).Str("subject", msg.Subject).Msg("inbox: незнакомая тема, нужен человек")
		return "", "unknown"
	}
}

func (s *Service) enqueueMention(ctx context.Context, msg domain.Message) error {
	kind, ok := domain.KindFromThingID(msg.ID)
	if !ok {
		return fmt.Errorf("упоминание с неизвестным видом идентификатора: %s", msg.ID)
	}
	payload := &domain.PostPayload{
		Name:      msg.ID,
		Kind:      kind,
		Author:    msg.Author,
		Subreddit: msg.Subreddit,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
	}
	job := domain.ProcessJob{
		ID:          uuid.NewString(),
		PostID:      msg.ID,
		Summoned:    true,
		Payload:     payload,
		Cause:       domain.CauseMention,
		RequestedAt: time.Now().UTC(),
	}
	return s.queue.Enqueue(ctx, job)
}

func (s *Service) setIgnored(ctx context.Context, msg domain.Message, ignored bool) string {
	entry := domain.IgnoreEntry{
		Author:    msg.Author,
		Ignored:   ignored,
		MessageID: msg.ID,
		Body:      msg.Body,
	}
	if err := s.ignores.SetIgnored(ctx, entry); err != nil {
		s.log.Error().Err(err).Str("author", msg.Author).Msg("inbox: не удалось обновить список игнора")
		return ""
	}
	if ignored {
		return fmt.Sprintf(
			"Sorry to hear you want me to ignore you. Was it something "+
				"I said? I will not reply to any posts you make in the future. "+
				"If you want me to reply to your posts, you can send me "+
				"[a message](%s). Also, if you "+
				"wouldn't mind filling out [this survey](%s) "+
				"giving me feedback, I'd really appreciate it. It would make me a better bot",
			s.commentSvc.RememberURL(), s.commentSvc.FeedbackURL(),
		)
	}
	return fmt.Sprintf(
		"Ok, I'll reply to your posts from now on. "+
			"If you want me to stop, you can send me "+
			"[a message](%s), "+
			"and I'll stop replying to your posts",
		s.commentSvc.IgnoreURL(),
	)
}

// addToList вносит сабреддит в список по запросу модератора и уведомляет
// модераторов сабреддита. Сабреддит не может быть в обоих списках сразу.
func (s *Service) addToList(ctx context.Context, msg domain.Message, kind domain.ListKind, subject string) string {
	match := subredditPattern.FindStringSubmatch(msg.Body)
	if match == nil {
		return ""
	}
	subreddit := match[1]

	isMod, err := s.forum.IsModerator(ctx, subreddit, msg.Author)
	if err != nil {
		s.log.Error().Err(err).Str("subreddit", subreddit).Msg("inbox: не удалось проверить модератора")
		return ""
	}
	if !isMod {
		s.log.Warn().Str("author", msg.Author).Str("subreddit", subreddit).Msg("inbox: запрос не от модератора, игнорируем")
		return ""
	}

	listed, err := s.lists.IsListed(ctx, kind, subreddit)
	if err != nil {
		s.log.Error().Err(err).Str("subreddit", subreddit).Msg("inbox: не удалось проверить список")
		return ""
	}
	if listed {
		s.log.Info().Str("subreddit", subreddit).Msg("inbox: сабреддит уже в списке")
		return ""
	}

	if err := s.lists.AddToList(ctx, kind, subreddit, msg.Author); err != nil {
		s.log.Error().Err(err).Str("subreddit", subreddit).Msg("inbox: не удалось добавить в список")
		return ""
	}
	if err := s.lists.RemoveFromList(ctx, kind.Opposite(), subreddit); err != nil {
		s.log.Error().Err(err).Str("subreddit", subreddit).Msg("inbox: не удалось убрать из противоположного списка")
	}

	mods := "/r/" + subreddit
	replySubject := fmt.Sprintf("%s added to /u/%s %s", mods, s.botUser, subject)
	body := fmt.Sprintf(
		"This message is to inform you that the request by %s "+
			"to %s /r/%s has been processed. /u/%s will respect "+
			"this decision moving forward. You can find out more "+
			"about what this means by referring to [this wiki](%s)",
		msg.Author, subject, subreddit, s.botUser, s.commentSvc.ModsWikiURL(),
	)
	if err := s.forum.SendMessage(ctx, mods, replySubject, body); err != nil {
		s.log.Error().Err(err).Str("subreddit", subreddit).Msg("inbox: не удалось уведомить модераторов")
	}

	if err := s.ExportLists(ctx); err != nil {
		s.log.Error().Err(err).Msg("inbox: не удалось выгрузить списки в вики")
	}
	return ""
}

// deleteComment отзывает комментарий бота по просьбе автора поста.
// Запросы на чужие посты и на элементы, не являющиеся комментариями,
// игнорируются молча.
func (s *Service) deleteComment(ctx context.Context, msg domain.Message) string {
	match := deletePattern.FindStringSubmatch(msg.Body)
	if match == nil {
		s.log.Info().Str("author", msg.Author).Msg("inbox: в запросе на удаление нет идентификатора")
		return ""
	}
	thingID, thingKind := match[1], match[2]
	if thingKind != string(domain.KindComment) {
		s.log.Info().Str("thing", thingID).Msg("inbox: запрос на удаление не комментария")
		return ""
	}

	comment, err := s.comments.GetComment(ctx, thingID)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Info().Str("comment", thingID).Msg("inbox: комментарий не найден в хранилище")
		return ""
	}
	if err != nil {
		s.log.Error().Err(err).Str("comment", thingID).Msg("inbox: не удалось прочитать комментарий")
		return ""
	}
	rec, found, err := s.posts.GetPost(ctx, comment.PostID)
	if err != nil || !found {
		s.log.Error().Err(err).Str("post", comment.PostID).Msg("inbox: не удалось прочитать пост комментария")
		return ""
	}
	if rec.Author != msg.Author {
		s.log.Info().Str("author", msg.Author).Str("op", rec.Author).Msg("inbox: запрос на удаление не от автора поста")
		return ""
	}

	if err := s.commentSvc.Retract(ctx, thingID); err != nil {
		s.log.Error().Err(err).Str("comment", thingID).Msg("inbox: не удалось отозвать комментарий")
		return ""
	}
	return fmt.Sprintf(
		"Ok, I deleted my comment on your post. Sorry about that. "+
			"If you never want me to respond to you again, I understand. you can always send "+
			"[a message](%s), and I'll never ever respond to your post, "+
			"I promise. Also, if you wouldn't mind filling out "+
			"[this survey](%s) giving me feedback, I'd really appreciate "+
			"it. It would make me a better bot.",
		s.commentSvc.IgnoreURL(), s.commentSvc.FeedbackURL(),
	)
}

// summon обрабатывает запрос модератора прокомментировать конкретный пост.
// Возвращает человекочитаемый итог для ответа на сообщение.
func (s *Service) summon(ctx context.Context, msg domain.Message) string {
	const missingLink = "I can't find a valid reddit link in the message body"

	match := postLinkPattern.FindStringSubmatch(msg.Body)
	if match == nil {
		return missingLink
	}
	postID, commentID := match[1], match[3]
	thingID := "t3_" + postID
	if commentID != "" {
		thingID = "t1_" + commentID
	}

	rec, err := s.processSvc.LoadOrCreate(ctx, domain.ProcessJob{
		ID:     uuid.NewString(),
		PostID: thingID,
		Cause:  domain.CauseMessage,
	})
	if err != nil {
		s.log.Error().Err(err).Str("thing", thingID).Msg("inbox: не удалось загрузить пост по ссылке")
		return missingLink
	}

	isMod, err := s.forum.IsModerator(ctx, rec.Subreddit, msg.Author)
	if err != nil {
		s.log.Error().Err(err).Str("subreddit", rec.Subreddit).Msg("inbox: не удалось проверить модератора")
		return ""
	}
	if !isMod {
		return fmt.Sprintf("Sorry, this feature is only available to moderators of %s", rec.Subreddit)
	}

	should, err := s.processSvc.ShouldReply(ctx, rec, false, false)
	if err != nil {
		s.log.Error().Err(err).Str("post", rec.ID).Msg("inbox: не удалось принять решение об ответе")
		return ""
	}
	if !should {
		return "I don't think I should comment on this post. Either because the user has requested I not respond to them, or because the subreddit is on the blacklist"
	}

	imdbIDs := linkextract.IMDBIDs(msg.Body)
	if len(imdbIDs) == 0 {
		return "Couldn't find any IMDB links in your message"
	}

	claimed, err := s.posts.ClaimProcessing(ctx, rec.ID)
	if err != nil {
		s.log.Error().Err(err).Str("post", rec.ID).Msg("inbox: не удалось захватить пост")
		return ""
	}
	if !claimed {
		return "This post is currently processing. Try back in a few minutes"
	}
	defer func() {
		if err := s.posts.ReleaseProcessing(context.WithoutCancel(ctx), rec.ID); err != nil {
			s.log.Error().Err(err).Str("post", rec.ID).Msg("inbox: не удалось снять захват")
		}
	}()

	res, err := s.availability.Aggregate(ctx, imdbIDs)
	if err != nil {
		s.log.Error().Err(err).Str("post", rec.ID).Msg("inbox: не удалось собрать доступность")
		return ""
	}
	if len(res.Movies) == 0 {
		return "Couldn't find any movies in your message"
	}
	body, err := s.formatter.Format(res)
	if errors.Is(err, comments.ErrNoContent) {
		return "Couldn't find any movies in your message"
	}
	if err != nil {
		s.log.Error().Err(err).Str("post", rec.ID).Msg("inbox: не удалось отформатировать ответ")
		return ""
	}

	if _, err := s.commentSvc.Submit(ctx, rec.ID, s.commentSvc.Compose(body)); err != nil {
		s.log.Error().Err(err).Str("post", rec.ID).Msg("inbox: не удалось опубликовать комментарий")
		return ""
	}
	return "Hooray! that comment has been posted for you"
}

// ExportLists выгружает оба списка сабреддитов на вики-страницы домашнего
// сабреддита.
func (s *Service) ExportLists(ctx context.Context) error {
	pages := []struct {
		kind domain.ListKind
		page string
	}{
		{domain.ListAllow, "whitelist"},
		{domain.ListDeny, "blacklist"},
	}
	for _, p := range pages {
		entries, err := s.lists.ListEntries(ctx, p.kind)
		if err != nil {
			return fmt.Errorf("чтение списка %s: %w", p.page, err)
		}
		lines := make([]string, 0, len(entries))
		for _, entry := range entries {
			lines = append(lines, fmt.Sprintf("* /r/%s/", entry.Subreddit))
		}
		content := strings.Join(lines, "\n")
		if err := s.forum.UpdateWikiPage(ctx, s.subreddit, p.page, content, "Automated subreddit list update"); err != nil {
			return fmt.Errorf("обновление вики %s: %w", p.page, err)
		}
	}
	return nil
}
