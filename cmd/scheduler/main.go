package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"moviesbot/internal/adapters/imdb"
	"moviesbot/internal/adapters/mediahound"
	"moviesbot/internal/adapters/reddit"
	"moviesbot/internal/adapters/repo"
	"moviesbot/internal/domain"
	"moviesbot/internal/infra/cache"
	"moviesbot/internal/infra/config"
	"moviesbot/internal/infra/db"
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

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9091")

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
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
			logger.Fatal().Err(err).Msg("scheduler: не удалось подключиться к RabbitMQ")
		}
		defer rabbit.Close()
		processQueue, err = queue.NewRabbitProcessQueue(rabbit, cfg.Queues.Process)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: не удалось объявить очередь обработки")
		}
		reviewQueue, err = queue.NewRabbitReviewQueue(rabbit, cfg.Queues.Review)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: не удалось объявить очередь проверки")
		}
	} else if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		processQueue = queue.NewRedisProcessQueue(redisClient, cfg.Queues.Process)
		reviewQueue = queue.NewRedisReviewQueue(redisClient, cfg.Queues.Review)
	} else {
		logger.Fatal().Msg("scheduler: нужна очередь — укажите RABBITMQ_URL или REDIS_ADDR")
	}

	availSvc := availability.NewService(metadata, graph, repoAdapter, cacheAdapter, logger.With().Str("component", "availability").Logger())
	formatter := comments.NewFormatter(cfg.Graph.ShortURL)
	commentSvc := comments.NewService(forum, repoAdapter, repoAdapter, cfg.Reddit.Username, cfg.Subreddit)
	processSvc := process.NewService(repoAdapter, forum, repoAdapter, repoAdapter, availSvc, formatter, commentSvc, logger.With().Str("component", "process").Logger())
	dispatcher := search.NewDispatcher(forum, repoAdapter, processQueue, cfg.Reddit.Username, logger.With().Str("component", "search").Logger())
	reviewSvc := review.NewService(repoAdapter, repoAdapter, forum, availSvc, formatter, commentSvc, reviewQueue, cacheAdapter, cfg.Review.WindowDays, cfg.Review.ScoreThreshold, logger.With().Str("component", "review").Logger())
	inboxSvc := inbox.NewService(forum, repoAdapter, repoAdapter, repoAdapter, repoAdapter, commentSvc, processSvc, availSvc, formatter, processQueue, cfg.Reddit.Username, cfg.Subreddit, logger.With().Str("component", "inbox").Logger())

	c := cron.New()
	mustSchedule(logger, c, "search", cfg.Schedule.SearchSpec, func() error {
		if err := dispatcher.SearchIMDBLinks(ctx); err != nil {
			return err
		}
		return dispatcher.SearchMentions(ctx)
	})
	mustSchedule(logger, c, "inbox", cfg.Schedule.InboxSpec, func() error {
		return inboxSvc.HandleUnread(ctx)
	})
	mustSchedule(logger, c, "review", cfg.Schedule.ReviewSpec, func() error {
		return reviewSvc.ScheduleReviews(ctx)
	})
	mustSchedule(logger, c, "wiki", cfg.Schedule.WikiSpec, func() error {
		return inboxSvc.ExportLists(ctx)
	})

	logger.Info().
		Str("search", cfg.Schedule.SearchSpec).
		Str("inbox", cfg.Schedule.InboxSpec).
		Str("review", cfg.Schedule.ReviewSpec).
		Str("wiki", cfg.Schedule.WikiSpec).
		Msg("scheduler: запуск расписания")
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info().Msg("scheduler: остановлен")
}

// mustSchedule регистрирует задачу в cron и валит процесс на кривом расписании.
func mustSchedule(logger zerolog.Logger, c *cron.Cron, name, spec string, fn func() error) {
	jobLog := logger.With().Str("component", "scheduler").Str("job", name).Logger()
	_, err := c.AddFunc(spec, func() {
		jobLog.Info().Msg("scheduler: запуск задачи")
		if err := fn(); err != nil {
			jobLog.Error().Err(err).Msg("scheduler: задача завершилась ошибкой")
			return
		}
		jobLog.Info().Msg("scheduler: задача выполнена")
	})
	if err != nil {
		logger.Fatal().Err(err).Str("job", name).Msg("scheduler: некорректное расписание")
	}
}
