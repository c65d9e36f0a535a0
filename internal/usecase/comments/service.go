package comments

import (
	"context"
	"fmt"
	"strings"

	"moviesbot/internal/domain"
	"moviesbot/internal/infra/metrics"
)

// thingIDPlaceholder подставляется в тело до того, как известен идентификатор
// комментария, и заменяется при первой ревизии.
const thingIDPlaceholder = "{thing_id}"

const (
	feedbackURL   = "https://docs.google.com/forms/d/1PZTwDM71_Wiwxdq6NGKHI1zf-GC2oahqxwn8tX-Hq_E/viewform"
	sourceCodeURL = "https://github.com/stevenviola/moviesbot"
	maintainer    = "\\/u/stevenviola"
	maintainerURL = "http://www.reddit.com/message/compose/?to=stevenviola"
)

// Service публикует, редактирует и отзывает комментарии бота, сохраняя
// каждую версию тела в хранилище.
type Service struct {
	forum    domain.ForumClient
	posts    domain.PostRepo
	comments domain.CommentRepo

	botUser   string
	subreddit string
}

// NewService создаёт сервис комментариев.
func NewService(forum domain.ForumClient, posts domain.PostRepo, comments domain.CommentRepo, botUser, subreddit string) *Service {
	return &Service{forum: forum, posts: posts, comments: comments, botUser: botUser, subreddit: subreddit}
}

// IgnoreURL — ссылка «не отвечай мне» для подписи и ответов на команды.
func (s *Service) IgnoreURL() string {
	return fmt.Sprintf("http://www.reddit.com/message/compose/?to=%s&subject=IGNORE%%20ME&message=[IGNORE%%20ME](http://i.imgur.com/s2jMqQN.jpg\\)", s.botUser)
}

// RememberURL — ссылка «отвечай мне снова».
func (s *Service) RememberURL() string {
	return fmt.Sprintf("http://www.reddit.com/message/compose/?to=%s&subject=REMEMBER%%20ME&message=I%%20made%%20a%%20mistake%%20I%%27m%%20sorry,%%20will%%20you%%20take%%20me%%20back", s.botUser)
}

// FeedbackURL — ссылка на форму обратной связи.
func (s *Service) FeedbackURL() string { return feedbackURL }

// ModsWikiURL — ссылка на вики для модераторов.
func (s *Service) ModsWikiURL() string {
	return fmt.Sprintf("https://www.reddit.com/r/%s/wiki/faq#wiki_info_for_moderators", s.subreddit)
}

func (s *Service) deleteURL() string {
	return fmt.Sprintf("http://reddit.com/message/compose/?to=%s&subject=delete&message=delete%%20%s", s.botUser, thingIDPlaceholder)
}

func (s *Service) faqURL() string {
	return fmt.Sprintf("https://www.reddit.com/r/%s/wiki/faq", s.subreddit)
}

// signature собирает подпись бота. Пробелы внутри ссылок заменены на &nbsp;,
// каждый фрагмент начинается с ^, чтобы подпись рендерилась мелким шрифтом.
func (s *Service) signature() string {
	links := []string{
		"[](#bot)",
		fmt.Sprintf("[Stop&nbsp;Replying](%s)", s.IgnoreURL()),
		fmt.Sprintf("[Delete](%s)", s.deleteURL()),
		fmt.Sprintf("[FAQ](%s)", s.faqURL()),
		fmt.Sprintf("[Source](%s)", sourceCodeURL),
		fmt.Sprintf("Created&nbsp;and&nbsp;maintained&nbsp;by&nbsp;[%s](%s)", maintainer, maintainerURL),
		"[](#bot)",
	}
	parts := make([]string, 0, len(links))
	for _, link := range links {
		parts = append(parts, "^"+link)
	}
	return "\n---\n" + strings.Join(parts, " ^| ")
}

// Compose добавляет к телу подпись бота. Идентификатор комментария на этом
// этапе ещё не известен, в теле остаётся плейсхолдер {thing_id}.
func (s *Service) Compose(body string) string {
	return body + s.signature()
}

// ComposeFor собирает финальное тело для уже существующего комментария.
func (s *Service) ComposeFor(body, commentID string) string {
	return strings.ReplaceAll(s.Compose(body), thingIDPlaceholder, commentID)
}

// Submit публикует составленное тело под постом, сохраняет комментарий с
// нулевой ревизией, помечает пост отвеченным и сразу редактирует комментарий,
// подставляя его настоящий идентификатор вместо плейсхолдера.
func (s *Service) Submit(ctx context.Context, postID, composed string) (string, error) {
	commentID, err := s.forum.SubmitReply(ctx, postID, composed)
	if err != nil {
		return "", fmt.Errorf("отправка комментария к %s: %w", postID, err)
	}
	if err := s.comments.CreateComment(ctx, postID, commentID, composed); err != nil {
		return "", fmt.Errorf("сохранение комментария %s: %w", commentID, err)
	}
	if err := s.posts.SetCommented(ctx, postID, true); err != nil {
		return "", fmt.Errorf("отметка поста %s: %w", postID, err)
	}
	metrics.CommentsSubmitted.Inc()

	final := strings.ReplaceAll(composed, thingIDPlaceholder, commentID)
	if final != composed {
		if _, err := s.Revise(ctx, commentID, final); err != nil {
			return "", fmt.Errorf("подстановка идентификатора в %s: %w", commentID, err)
		}
	}
	return commentID, nil
}

// Revise редактирует комментарий на форуме и добавляет новую ревизию тела.
// Возвращает номер новой ревизии.
func (s *Service) Revise(ctx context.Context, commentID, body string) (int, error) {
	if err := s.forum.EditReply(ctx, commentID, body); err != nil {
		return 0, fmt.Errorf("редактирование %s: %w", commentID, err)
	}
	revision, err := s.comments.AppendRevision(ctx, commentID, body)
	if err != nil {
		return 0, fmt.Errorf("сохранение ревизии %s: %w", commentID, err)
	}
	metrics.CommentsRevised.Inc()
	return revision, nil
}

// Retract удаляет комментарий на форуме и помечает его удалённым в хранилище.
func (s *Service) Retract(ctx context.Context, commentID string) error {
	if err := s.forum.DeleteThing(ctx, commentID); err != nil {
		return fmt.Errorf("удаление %s: %w", commentID, err)
	}
	if err := s.comments.MarkDeleted(ctx, commentID); err != nil {
		return fmt.Errorf("отметка удаления %s: %w", commentID, err)
	}
	metrics.CommentsRetracted.Inc()
	return nil
}
