package main

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
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
	"moviesbot/internal/usecase/process"
	"moviesbot/internal/usecase/review"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
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
			logger.Fatal().Err(err).Msg("worker: не удалось подключиться к RabbitMQ")
		}
		defer rabbit.Close()
		processQueue, err = queue.NewRabbitProcessQueue(rabbit, cfg.Queues.Process)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: не удалось объявить очередь обработки")
		}
		reviewQueue, err = queue.NewRabbitReviewQueue(rabbit, cfg.Queues.Review)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: не удалось объявить очередь проверки")
		}
	} else if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		processQueue = queue.NewRedisProcessQueue(redisClient, cfg.Queues.Process)
		reviewQueue = queue.NewRedisReviewQueue(redisClient, cfg.Queues.Review)
	} else {
		logger.Fatal().Msg("worker: нужна очередь — укажите RABBITMQ_URL или REDIS_ADDR")
	}

	availSvc := availability.NewService(metadata, graph, repoAdapter, cacheAdapter, logger.With().Str("component", "availability").Logger())
	formatter := comments.NewFormatter(cfg.Graph.ShortURL)
	commentSvc := comments.NewService(forum, repoAdapter, repoAdapter, cfg.Reddit.Username, cfg.Subreddit)
	processSvc := process.NewService(repoAdapter, forum, repoAdapter, repoAdapter, availSvc, formatter, commentSvc, logger.With().Str("component", "process").Logger())
	reviewSvc := review.NewService(repoAdapter, repoAdapter, forum, availSvc, formatter, commentSvc, reviewQueue, cacheAdapter, cfg.Review.WindowDays, cfg.Review.ScoreThreshold, logger.With().Str("component", "review").Logger())

	logger.Info().Msg("worker: запуск обработки очередей")
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		runProcessLoop(ctx, logger.With().Str("component", "process_worker").Logger(), processQueue, processSvc)
	}()
	go func() {
		defer wg.Done()
		runReviewLoop(ctx, logger.With().Str("component", "review_worker").Logger(), reviewQueue, reviewSvc)
	}()
	wg.Wait()
	logger.Info().Msg("worker: остановлен")
}

// runProcessLoop разбирает очередь обработки постов. Ошибка возвращает задачу
// в очередь, обработка идемпотентна и переживает повторную доставку.
func runProcessLoop(ctx context.Context, log zerolog.Logger, q domain.ProcessQueue, svc *process.Service) {
	for {
		job, ack, err := q.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Msg("worker: ошибка чтения очереди обработки")
			time.Sleep(time.Second)
			continue
		}

		jobLog := log.With().
			Str("job_id", job.ID).
			Str("post", job.PostID).
			Str("cause", string(job.Cause)).
			Bool("forced", job.Forced).
			Bool("summoned", job.Summoned).
			Logger()

		if job.PostID == "" {
			jobLog.Error().Msg("worker: задача без поста, подтверждаем и пропускаем")
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось подтвердить пустую задачу")
			}
			continue
		}

		if err := svc.Process(ctx, job); err != nil {
			jobLog.Error().Err(err).Msg("worker: обработка завершилась ошибкой, вернём задачу")
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("worker: не удалось вернуть задачу в очередь")
			}
			time.Sleep(time.Second)
			continue
		}
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу")
		}
	}
}

// runReviewLoop разбирает очередь повторных проверок комментариев.
func runReviewLoop(ctx context.Context, log zerolog.Logger, q domain.ReviewQueue, svc *review.Service) {
	for {
		job, ack, err := q.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Msg("worker: ошибка чтения очереди проверок")
			time.Sleep(time.Second)
			continue
		}

		jobLog := log.With().Str("job_id", job.ID).Str("comment", job.CommentID).Logger()

		if err := svc.Review(ctx, job); err != nil {
			jobLog.Error().Err(err).Msg("worker: проверка завершилась ошибкой, вернём задачу")
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("worker: не удалось вернуть задачу в очередь")
			}
			time.Sleep(time.Second)
			continue
		}
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу")
		}
	}
}
