package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"moviesbot/internal/domain"
)

type stubMetadata struct {
	metas map[string]domain.MovieMeta
	errs  map[string]error
}

func (s *stubMetadata) LookupByID(_ context.Context, imdbID string) (domain.MovieMeta, error) {
	if err, ok := s.errs[imdbID]; ok {
		return domain.MovieMeta{}, err
	}
	meta, ok := s.metas[imdbID]
	if !ok {
		return domain.MovieMeta{}, domain.ErrLookupFailed
	}
	return meta, nil
}

type stubGraph struct {
	refs      map[string]string
	media     map[string]domain.GraphRef
	offers    map[string][]domain.Offer
	offersErr error

	resolveCalls int
	offersCalls  int
}

func (s *stubGraph) ResolveCrossRef(_ context.Context, imdbID string) (string, error) {
	s.resolveCalls++
	return s.refs[imdbID], nil
}

func (s *stubGraph) FetchMedia(_ context.Context, graphID string) (domain.GraphRef, error) {
	return s.media[graphID], nil
}

func (s *stubGraph) FetchOffers(_ context.Context, graphID string) ([]domain.Offer, error) {
	s.offersCalls++
	if s.offersErr != nil {
		return nil, s.offersErr
	}
	return s.offers[graphID], nil
}

type stubMovieRepo struct {
	refs  map[string]domain.GraphRef
	saved map[string]domain.GraphRef
}

func (s *stubMovieRepo) GetGraphRef(_ context.Context, imdbID string) (domain.GraphRef, bool, error) {
	ref, ok := s.refs[imdbID]
	return ref, ok, nil
}

func (s *stubMovieRepo) SaveGraphRef(_ context.Context, imdbID string, ref domain.GraphRef) error {
	if s.saved == nil {
		s.saved = map[string]domain.GraphRef{}
	}
	s.saved[imdbID] = ref
	return nil
}

type memoryCache struct {
	data map[string][]byte
}

func (c *memoryCache) Once(string, time.Duration, func() error) error { return nil }

func (c *memoryCache) Set(key string, value []byte, _ time.Duration) error {
	if c.data == nil {
		c.data = map[string][]byte{}
	}
	c.data[key] = value
	return nil
}

func (c *memoryCache) Get(key string) ([]byte, error) {
	data, ok := c.data[key]
	if !ok {
		return nil, errors.New("нет значения")
	}
	return data, nil
}

func movieMeta(title string) domain.MovieMeta {
	return domain.MovieMeta{Title: title, MediaType: domain.MediaMovie, IMDBRating: "7.5"}
}

func TestAggregateLowestPricePerProvider(t *testing.T) {
	metadata := &stubMetadata{metas: map[string]domain.MovieMeta{"tt0000001": movieMeta("Пример")}}
	graph := &stubGraph{
		refs:  map[string]string{"tt0000001": "mh1"},
		media: map[string]domain.GraphRef{"mh1": {GraphID: "mh1", Title: "Пример", AltID: "mhmov-example"}},
		offers: map[string][]domain.Offer{"mh1": {
			{Provider: "iTunes", Method: "rental", Price: 4.99, URL: "https://a", Mediums: []string{"iTunes"}},
			{Provider: "iTunes", Method: "rental", Price: 2.99, URL: "https://b", Mediums: []string{"iTunes"}},
			{Provider: "Netflix", Method: "broker", Price: 0, URL: "https://n", Mediums: []string{"Netflix"}},
		}},
	}
	repo := &stubMovieRepo{}
	service := NewService(metadata, graph, repo, nil, zerolog.Nop())

	res, err := service.Aggregate(context.Background(), []string{"tt0000001"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(res.Movies) != 1 {
		t.Fatalf("ожидали 1 фильм, получили %d", len(res.Movies))
	}
	movie := res.Movies[0]
	if movie.Exclude {
		t.Fatalf("фильм с предложениями не должен исключаться")
	}
	rent := movie.Categories["Rent"]["iTunes"]
	if rent.Price != 2.99 || rent.URL != "https://b" {
		t.Fatalf("ожидали самое дешёвое предложение, получили %+v", rent)
	}
	sub := movie.Categories["Subscription"]["Netflix"]
	if sub.Price != 0 || sub.URL != "https://n" {
		t.Fatalf("ожидали бесплатную подписку, получили %+v", sub)
	}
}

func TestAggregateCategoryOrder(t *testing.T) {
	metadata := &stubMetadata{metas: map[string]domain.MovieMeta{"tt0000001": movieMeta("Пример")}}
	graph := &stubGraph{
		refs:  map[string]string{"tt0000001": "mh1"},
		media: map[string]domain.GraphRef{"mh1": {GraphID: "mh1"}},
		offers: map[string][]domain.Offer{"mh1": {
			{Provider: "A", Method: "purchase", URL: "https://a", Mediums: []string{"A"}},
			{Provider: "B", Method: "theater", URL: "https://b", Mediums: []string{"B"}},
			{Provider: "C", Method: "adSupported", URL: "https://c", Mediums: []string{"C"}},
			{Provider: "D", Method: "rental", URL: "https://d", Mediums: []string{"D"}},
		}},
	}
	service := NewService(metadata, graph, &stubMovieRepo{}, nil, zerolog.Nop())

	res, err := service.Aggregate(context.Background(), []string{"tt0000001"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	want := []string{"Subscription", "Rent", "Purchase", "Theater"}
	if len(res.Categories) != len(want) {
		t.Fatalf("ожидали %v, получили %v", want, res.Categories)
	}
	for i, category := range want {
		if res.Categories[i] != category {
			t.Fatalf("ожидали %v, получили %v", want, res.Categories)
		}
	}
}

func TestAggregateSkipsNonMovies(t *testing.T) {
	metadata := &stubMetadata{metas: map[string]domain.MovieMeta{
		"tt0000001": {Title: "Сериал", MediaType: domain.MediaSeries},
		"tt0000002": movieMeta("Фильм"),
	}}
	graph := &stubGraph{refs: map[string]string{"tt0000002": "mh2"}, media: map[string]domain.GraphRef{"mh2": {GraphID: "mh2"}}}
	service := NewService(metadata, graph, &stubMovieRepo{}, nil, zerolog.Nop())

	res, err := service.Aggregate(context.Background(), []string{"tt0000001", "tt0000002"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(res.Movies) != 1 || res.Movies[0].Title != "Фильм" {
		t.Fatalf("ожидали только фильм, получили %+v", res.Movies)
	}
}

func TestAggregateIsolatesLookupFailure(t *testing.T) {
	metadata := &stubMetadata{
		metas: map[string]domain.MovieMeta{"tt0000002": movieMeta("Фильм")},
		errs:  map[string]error{"tt0000001": domain.ErrLookupFailed},
	}
	graph := &stubGraph{refs: map[string]string{"tt0000002": "mh2"}, media: map[string]domain.GraphRef{"mh2": {GraphID: "mh2"}}}
	service := NewService(metadata, graph, &stubMovieRepo{}, nil, zerolog.Nop())

	res, err := service.Aggregate(context.Background(), []string{"tt0000001", "tt0000002"})
	if err != nil {
		t.Fatalf("ошибка одного фильма не должна ронять агрегацию: %v", err)
	}
	if len(res.Movies) != 1 {
		t.Fatalf("ожидали 1 фильм, получили %d", len(res.Movies))
	}
}

func TestAggregateExcludesUnknownMovie(t *testing.T) {
	metadata := &stubMetadata{metas: map[string]domain.MovieMeta{"tt0000001": movieMeta("Неизвестный графу")}}
	graph := &stubGraph{}
	service := NewService(metadata, graph, &stubMovieRepo{}, nil, zerolog.Nop())

	res, err := service.Aggregate(context.Background(), []string{"tt0000001"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(res.Movies) != 1 || !res.Movies[0].Exclude {
		t.Fatalf("фильм без узла графа должен исключаться: %+v", res.Movies)
	}
	if res.HasOffers() {
		t.Fatalf("предложений быть не должно")
	}
}

func TestAggregateBackfillsGraphRef(t *testing.T) {
	metadata := &stubMetadata{metas: map[string]domain.MovieMeta{"tt0000001": movieMeta("Пример")}}
	graph := &stubGraph{
		refs:  map[string]string{"tt0000001": "mh1"},
		media: map[string]domain.GraphRef{"mh1": {GraphID: "mh1", Title: "Пример", AltID: "mhmov-x"}},
	}
	repo := &stubMovieRepo{}
	service := NewService(metadata, graph, repo, nil, zerolog.Nop())

	if _, err := service.Aggregate(context.Background(), []string{"tt0000001"}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if saved, ok := repo.saved["tt0000001"]; !ok || saved.GraphID != "mh1" {
		t.Fatalf("привязка должна сохраняться: %+v", repo.saved)
	}

	// Повторный запуск с сохранённой привязкой не резолвит заново.
	repo.refs = repo.saved
	if _, err := service.Aggregate(context.Background(), []string{"tt0000001"}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if graph.resolveCalls != 1 {
		t.Fatalf("ожидали один резолв, получили %d", graph.resolveCalls)
	}
}

func TestAggregateCachesOffers(t *testing.T) {
	metadata := &stubMetadata{metas: map[string]domain.MovieMeta{"tt0000001": movieMeta("Пример")}}
	graph := &stubGraph{
		refs:   map[string]string{"tt0000001": "mh1"},
		media:  map[string]domain.GraphRef{"mh1": {GraphID: "mh1"}},
		offers: map[string][]domain.Offer{"mh1": {{Provider: "Netflix", Method: "broker", URL: "https://n", Mediums: []string{"Netflix"}}}},
	}
	service := NewService(metadata, graph, &stubMovieRepo{}, &memoryCache{}, zerolog.Nop())

	for i := 0; i < 2; i++ {
		if _, err := service.Aggregate(context.Background(), []string{"tt0000001"}); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	if graph.offersCalls != 1 {
		t.Fatalf("ожидали один запрос предложений, получили %d", graph.offersCalls)
	}
}

func TestNormalizeCategory(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"broker", "Subscription"},
		{"adSupported", "Subscription"},
		{"rental", "Rent"},
		{"purchase", "Purchase"},
		{"theater", "Theater"},
	}
	for _, tc := range cases {
		if got := normalizeCategory(tc.in); got != tc.want {
			t.Fatalf("%s: ожидали %s, получили %s", tc.in, tc.want, got)
		}
	}
}
