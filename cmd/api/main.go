package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"moviesbot/internal/adapters/imdb"
	"moviesbot/internal/adapters/mediahound"
	"moviesbot/internal/adapters/reddit"
	"moviesbot/internal/adapters/repo"
	"moviesbot/internal/domain"
	"moviesbot/internal/infra/cache"
	"moviesbot/internal/infra/config"
	"moviesbot/internal/infra/db"
	httpinfra "moviesbot/internal/infra/http"
	applog "moviesbot/internal/infra/log"
	"moviesbot/internal/infra/metrics"
	"moviesbot/internal/infra/queue"
	"moviesbot/internal/usecase/availability"
	"moviesbot/internal/usecase/comments"
	"moviesbot/internal/usecase/inbox"
	"moviesbot/internal/usecase/process"
	"moviesbot/internal/usecase/review"
	"moviesbot/internal/usecase/search"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	var cacheAdapter domain.Cache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		cacheAdapter = cache.NewRedis(redisClient)
	}

	forum := reddit.NewClient(reddit.Config{
		Username:     cfg.Reddit.Username,
		Password:     cfg.Reddit.Password,
		ClientID:     cfg.Reddit.ClientID,
		ClientSecret: cfg.Reddit.ClientSecret,
		UserAgent:    cfg.Reddit.UserAgent,
		BaseURL:      cfg.Reddit.BaseURL,
		AuthURL:      cfg.Reddit.AuthURL,
	})
	metadata := imdb.NewClient(imdb.Config{BaseURL: cfg.Metadata.BaseURL, APIKey: cfg.Metadata.APIKey})
	graph := mediahound.NewClient(mediahound.Config{BaseURL: cfg.Graph.BaseURL, Token: cfg.Graph.Token})

	var processQueue domain.ProcessQueue
	var reviewQueue domain.ReviewQueue
	if cfg.RabbitURL != "" {
		rabbit, err := queue.NewRabbit(cfg.RabbitURL)
		if err != nil {
			log.Fatal().Err(err).Msg("api: не удалось подключиться к RabbitMQ")
		}
		defer rabbit.Close()
		processQueue, err = queue.NewRabbitProcessQueue(rabbit, cfg.Queues.Process)
		if err != nil {
			log.Fatal().Err(err).Msg("api: не удалось объявить очередь обработки")
		}
		reviewQueue, err = queue.NewRabbitReviewQueue(rabbit, cfg.Queues.Review)
		if err != nil {
			log.Fatal().Err(err).Msg("api: не удалось объявить очередь проверки")
		}
	} else if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		processQueue = queue.NewRedisProcessQueue(redisClient, cfg.Queues.Process)
		reviewQueue = queue.NewRedisReviewQueue(redisClient, cfg.Queues.Review)
	} else {
		log.Fatal().Msg("api: нужна очередь — укажите RABBITMQ_URL или REDIS_ADDR")
	}

	availSvc := availability.NewService(metadata, graph, repoAdapter, cacheAdapter, logger.With().Str("component", "availability").Logger())
	formatter := comments.NewFormatter(cfg.Graph.ShortURL)
	commentSvc := comments.NewService(forum, repoAdapter, repoAdapter, cfg.Reddit.Username, cfg.Subreddit)
	processSvc := process.NewService(repoAdapter, forum, repoAdapter, repoAdapter, availSvc, formatter, commentSvc, logger.With().Str("component", "process").Logger())
	dispatcher := search.NewDispatcher(forum, repoAdapter, processQueue, cfg.Reddit.Username, logger.With().Str("component", "search").Logger())
	reviewSvc := review.NewService(repoAdapter, repoAdapter, forum, availSvc, formatter, commentSvc, reviewQueue, cacheAdapter, cfg.Review.WindowDays, cfg.Review.ScoreThreshold, logger.With().Str("component", "review").Logger())
	inboxSvc := inbox.NewService(forum, repoAdapter, repoAdapter, repoAdapter, repoAdapter, commentSvc, processSvc, availSvc, formatter, processQueue, cfg.Reddit.Username, cfg.Subreddit, logger.With().Str("component", "inbox").Logger())

	server := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	server.Router.Route("/tasks", func(r chi.Router) {
		r.Post("/search/imdb", runTask("search_imdb", func(ctx context.Context) error {
			return dispatcher.SearchIMDBLinks(ctx)
		}))
		r.Post("/search/mentions", runTask("search_mentions", func(ctx context.Context) error {
			return dispatcher.SearchMentions(ctx)
		}))
		r.Post("/manual/{postID}", func(w http.ResponseWriter, req *http.Request) {
			postID := chi.URLParam(req, "postID")
			if _, ok := domain.KindFromThingID(postID); !ok {
				http.Error(w, "неверный идентификатор поста", http.StatusBadRequest)
				return
			}
			job := domain.ProcessJob{
				ID:          uuid.NewString(),
				PostID:      postID,
				Forced:      true,
				Cause:       domain.CauseManual,
				RequestedAt: time.Now().UTC(),
			}
			if err := processQueue.Enqueue(req.Context(), job); err != nil {
				log.Error().Err(err).Str("post", postID).Msg("api: не удалось поставить задачу")
				http.Error(w, "очередь недоступна", http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusAccepted)
			fmt.Fprintf(w, "задача %s принята\n", job.ID)
		})
		r.Post("/inbox", runTask("inbox", func(ctx context.Context) error {
			return inboxSvc.HandleUnread(ctx)
		}))
		r.Post("/check-comments", runTask("check_comments", func(ctx context.Context) error {
			return reviewSvc.ScheduleReviews(ctx)
		}))
		r.Post("/wiki", runTask("wiki_export", func(ctx context.Context) error {
			return inboxSvc.ExportLists(ctx)
		}))
		r.Delete("/posts", func(w http.ResponseWriter, req *http.Request) {
			purged, err := repoAdapter.PurgePosts(req.Context())
			if err != nil {
				log.Error().Err(err).Msg("api: не удалось очистить записи")
				http.Error(w, "ошибка очистки", http.StatusInternalServerError)
				return
			}
			fmt.Fprintf(w, "удалено записей: %d\n", purged)
		})
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("api: ошибка при остановке сервера")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("api: сервер остановился с ошибкой")
	}
}

// runTask выполняет операцию синхронно и отвечает кодом по исходу. Повторный
// вызов безопасен: все операции идемпотентны.
func runTask(name string, fn func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := fn(req.Context()); err != nil {
			log.Error().Err(err).Str("task", name).Msg("api: задача завершилась ошибкой")
			http.Error(w, "задача завершилась ошибкой", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok\n")
	}
}
