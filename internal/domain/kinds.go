package domain

// PostKind — закрытое множество видов обрабатываемых элементов.
type PostKind string

const (
	// KindSubmission — обычный пост (t3).
	KindSubmission PostKind = "t3"
	// KindComment — комментарий с упоминанием (t1).
	KindComment PostKind = "t1"
)

// KindFromThingID определяет вид по префиксу полного идентификатора.
func KindFromThingID(thingID string) (PostKind, bool) {
	switch {
	case len(thingID) > 3 && thingID[:3] == "t3_":
		return KindSubmission, true
	case len(thingID) > 3 && thingID[:3] == "t1_":
		return KindComment, true
	}
	return "", false
}

// ListKind — вид списка сабреддитов.
type ListKind string

const (
	// ListAllow — сабреддиты, где бот отвечает сам.
	ListAllow ListKind = "allow"
	// ListDeny — сабреддиты, где бот не отвечает даже по призыву.
	ListDeny ListKind = "deny"
)

// Opposite возвращает противоположный список: сабреддит не может быть в обоих.
func (k ListKind) Opposite() ListKind {
	if k == ListAllow {
		return ListDeny
	}
	return ListAllow
}

// MediaType — тип медиа по данным провайдера метаданных.
type MediaType string

const (
	// MediaMovie — полнометражный фильм, единственный тип, на который бот отвечает.
	MediaMovie MediaType = "movie"
	// MediaSeries — сериал.
	MediaSeries MediaType = "series"
	// MediaEpisode — отдельный эпизод.
	MediaEpisode MediaType = "episode"
)
