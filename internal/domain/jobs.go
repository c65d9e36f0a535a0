package domain

import (
	"context"
	"time"
)

// TaskCause описывает источник задачи обработки.
type TaskCause string

const (
	// CauseSearch — пост найден плановым поиском.
	CauseSearch TaskCause = "search"
	// CauseMention — бота упомянули в комментарии.
	CauseMention TaskCause = "mention"
	// CauseManual — оператор запустил обработку вручную.
	CauseManual TaskCause = "manual"
	// CauseMessage — задача пришла из личного сообщения.
	CauseMessage TaskCause = "message"
)

// ProcessJob — задача обработки одного поста.
type ProcessJob struct {
	ID          string       `json:"job_id"`
	PostID      string       `json:"post_id"`
	Forced      bool         `json:"forced,omitempty"`
	Summoned    bool         `json:"summoned,omitempty"`
	Payload     *PostPayload `json:"payload,omitempty"`
	Cause       TaskCause    `json:"cause"`
	RequestedAt time.Time    `json:"requested_at"`
}

// ReviewJob — задача повторной проверки опубликованного комментария.
type ReviewJob struct {
	ID          string    `json:"job_id"`
	PostID      string    `json:"post_id"`
	CommentID   string    `json:"comment_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// AckFunc подтверждает обработку задачи или возвращает её в очередь.
type AckFunc func(success bool) error

// ProcessQueue — очередь задач обработки постов, at-least-once, без порядка.
type ProcessQueue interface {
	Enqueue(ctx context.Context, job ProcessJob) error
	Receive(ctx context.Context) (ProcessJob, AckFunc, error)
}

// ReviewQueue — очередь задач повторной проверки комментариев.
type ReviewQueue interface {
	Enqueue(ctx context.Context, job ReviewJob) error
	Receive(ctx context.Context) (ReviewJob, AckFunc, error)
}
