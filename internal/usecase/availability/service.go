package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"moviesbot/internal/domain"
)

// Listing — лучшее предложение провайдера в рамках одной категории.
type Listing struct {
	URL   string
	Price float64
}

// Movie — агрегированные данные одного фильма.
type Movie struct {
	IMDBID      string
	Title       string
	IMDBRating  string
	TomatoMeter *int
	TomatoURL   string
	GraphTitle  string
	AltID       string
	// Exclude выставляется, когда граф не знает фильм или не даёт ни одного
	// предложения.
	Exclude bool
	// Categories: категория -> провайдер -> лучшее предложение.
	Categories map[string]map[string]Listing
}

// Result — сводка доступности по списку фильмов.
type Result struct {
	Movies []Movie
	// Categories — категории в порядке вывода: сперва приоритетные, затем
	// остальные по алфавиту.
	Categories []string
	// FriendlyNames — человекочитаемые названия носителей от провайдеров.
	FriendlyNames []string
}

// HasOffers сообщает, есть ли хоть у одного фильма хоть одно предложение.
func (r Result) HasOffers() bool {
	for _, movie := range r.Movies {
		if len(movie.Categories) > 0 {
			return true
		}
	}
	return false
}

const offersCacheTTL = 30 * time.Minute

// Service агрегирует метаданные и предложения провайдеров по фильмам.
type Service struct {
	metadata domain.MetadataClient
	graph    domain.AvailabilityClient
	movies   domain.MovieRepo
	cache    domain.Cache
	log      zerolog.Logger
}

// NewService создаёт агрегатор. Кеш опционален: nil отключает кеширование.
func NewService(metadata domain.MetadataClient, graph domain.AvailabilityClient, movies domain.MovieRepo, cache domain.Cache, log zerolog.Logger) *Service {
	return &Service{metadata: metadata, graph: graph, movies: movies, cache: cache, log: log}
}

// Aggregate собирает сводку доступности по списку IMDB-идентификаторов.
// Фильмы, по которым провайдер метаданных не отвечает, и элементы не-фильмы
// пропускаются; ошибка одного фильма не роняет остальные.
func (s *Service) Aggregate(ctx context.Context, imdbIDs []string) (Result, error) {
	var res Result
	categorySet := map[string]bool{}
	friendlySet := map[string]bool{}

	for _, imdbID := range imdbIDs {
		meta, err := s.metadata.LookupByID(ctx, imdbID)
		if err != nil {
			s.log.Warn().Err(err).Str("imdb_id", imdbID).Msg("availability: нет метаданных, пропускаем фильм")
			continue
		}
		if meta.MediaType != domain.MediaMovie {
			s.log.Info().Str("imdb_id", imdbID).Str("type", string(meta.MediaType)).Msg("availability: пропускаем не-фильм")
			continue
		}
		if meta.Title == "" {
			s.log.Warn().Str("imdb_id", imdbID).Msg("availability: метаданные без названия, пропускаем фильм")
			continue
		}

		movie := Movie{
			IMDBID:      imdbID,
			Title:       meta.Title,
			IMDBRating:  meta.IMDBRating,
			TomatoMeter: meta.TomatoMeter,
			TomatoURL:   meta.TomatoURL,
			Exclude:     true,
		}

		ref, err := s.graphRef(ctx, imdbID)
		if err != nil {
			s.log.Warn().Err(err).Str("imdb_id", imdbID).Msg("availability: граф недоступен, фильм без предложений")
			res.Movies = append(res.Movies, movie)
			continue
		}
		if ref.GraphID == "" {
			res.Movies = append(res.Movies, movie)
			continue
		}
		movie.GraphTitle = ref.Title
		movie.AltID = ref.AltID

		offers, err := s.offers(ctx, ref.GraphID)
		if err != nil {
			s.log.Warn().Err(err).Str("imdb_id", imdbID).Msg("availability: не удалось получить предложения")
			res.Movies = append(res.Movies, movie)
			continue
		}

		movie.Exclude = len(offers) == 0
		for _, offer := range offers {
			category := normalizeCategory(offer.Method)
			categorySet[category] = true
			for _, medium := range offer.Mediums {
				friendlySet[medium] = true
			}
			if movie.Categories == nil {
				movie.Categories = map[string]map[string]Listing{}
			}
			providers := movie.Categories[category]
			if providers == nil {
				providers = map[string]Listing{}
				movie.Categories[category] = providers
			}
			// Из нескольких форматов провайдера оставляем самый дешёвый,
			// бесплатный (цена 0) выигрывает всегда.
			if current, ok := providers[offer.Provider]; !ok || offer.Price < current.Price {
				providers[offer.Provider] = Listing{URL: offer.URL, Price: offer.Price}
			}
		}
		res.Movies = append(res.Movies, movie)
	}

	res.Categories = sortCategories(categorySet)
	for name := range friendlySet {
		res.FriendlyNames = append(res.FriendlyNames, name)
	}
	sort.Strings(res.FriendlyNames)
	return res, nil
}

// graphRef возвращает привязку к графу, при первом обращении резолвит её и
// сохраняет для последующих запусков.
func (s *Service) graphRef(ctx context.Context, imdbID string) (domain.GraphRef, error) {
	ref, ok, err := s.movies.GetGraphRef(ctx, imdbID)
	if err != nil {
		return domain.GraphRef{}, fmt.Errorf("чтение привязки %s: %w", imdbID, err)
	}
	if ok {
		return ref, nil
	}

	graphID, err := s.graph.ResolveCrossRef(ctx, imdbID)
	if err != nil {
		return domain.GraphRef{}, fmt.Errorf("резолв %s: %w", imdbID, err)
	}
	if graphID == "" {
		return domain.GraphRef{}, nil
	}
	ref, err = s.graph.FetchMedia(ctx, graphID)
	if err != nil {
		return domain.GraphRef{}, fmt.Errorf("метаданные узла %s: %w", graphID, err)
	}
	if err := s.movies.SaveGraphRef(ctx, imdbID, ref); err != nil {
		return domain.GraphRef{}, fmt.Errorf("сохранение привязки %s: %w", imdbID, err)
	}
	return ref, nil
}

func (s *Service) offers(ctx context.Context, graphID string) ([]domain.Offer, error) {
	cacheKey := "offers:" + graphID
	if s.cache != nil {
		if data, err := s.cache.Get(cacheKey); err == nil && len(data) > 0 {
			var offers []domain.Offer
			if err := json.Unmarshal(data, &offers); err == nil {
				return offers, nil
			}
		}
	}

	offers, err := s.graph.FetchOffers(ctx, graphID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(offers); err == nil {
			if err := s.cache.Set(cacheKey, data, offersCacheTTL); err != nil {
				s.log.Warn().Err(err).Str("graph_id", graphID).Msg("availability: не удалось закешировать предложения")
			}
		}
	}
	return offers, nil
}

// normalizeCategory приводит тип предложения провайдера к публичной категории.
func normalizeCategory(method string) string {
	switch method {
	case "broker", "adSupported":
		method = "subscription"
	case "rental":
		method = "rent"
	}
	return titleCase(method)
}

var categoryOrder = []string{"Subscription", "Rent", "Purchase"}

// sortCategories упорядочивает категории: приоритетные в фиксированном
// порядке, остальные по алфавиту следом.
func sortCategories(present map[string]bool) []string {
	var ret []string
	seen := map[string]bool{}
	for _, category := range categoryOrder {
		if present[category] {
			ret = append(ret, category)
			seen[category] = true
		}
	}
	var rest []string
	for category := range present {
		if !seen[category] {
			rest = append(rest, category)
		}
	}
	sort.Strings(rest)
	return append(ret, rest...)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
