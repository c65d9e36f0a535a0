package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrLookupFailed возвращается, когда платформа не отдала данных по идентификатору.
// Задача завершается с ошибкой, запись не создаётся.
var ErrLookupFailed = errors.New("платформа не вернула данных по идентификатору")

// ErrNotFound возвращается репозиториями, когда записи нет.
var ErrNotFound = errors.New("запись не найдена")

// SubmissionError означает, что платформа отклонила отправку ответа.
// Флаг commented остаётся false, повторная задача может попробовать ещё раз.
type SubmissionError struct {
	Errors []string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("платформа отклонила комментарий: %s", strings.Join(e.Errors, "; "))
}
