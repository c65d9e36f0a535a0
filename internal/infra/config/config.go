package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов бота.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Reddit struct {
		Username     string `envconfig:"REDDIT_USER"`
		Password     string `envconfig:"REDDIT_PASSWORD"`
		ClientID     string `envconfig:"REDDIT_CLIENT_ID"`
		ClientSecret string `envconfig:"REDDIT_CLIENT_SECRET"`
		UserAgent    string `envconfig:"REDDIT_USER_AGENT" default:"moviesbot/1.0"`
		BaseURL      string `envconfig:"REDDIT_BASE_URL" default:"https://oauth.reddit.com"`
		AuthURL      string `envconfig:"REDDIT_AUTH_URL" default:"https://www.reddit.com"`
	} `envconfig:""`

	// Subreddit — домашний сабреддит бота: там живут FAQ и вики-списки.
	Subreddit string `envconfig:"HOME_SUBREDDIT" default:"moviesbot"`

	Metadata struct {
		BaseURL string `envconfig:"METADATA_BASE_URL" default:"https://www.omdbapi.com"`
		APIKey  string `envconfig:"METADATA_API_KEY"`
	} `envconfig:""`

	Graph struct {
		BaseURL  string `envconfig:"GRAPH_BASE_URL"`
		Token    string `envconfig:"GRAPH_TOKEN"`
		ShortURL string `envconfig:"GRAPH_SHORT_URL" default:"https://nextqueue.com/movie"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Process string `envconfig:"PROCESS_QUEUE" default:"process_post"`
		Review  string `envconfig:"REVIEW_QUEUE" default:"review_comment"`
	} `envconfig:""`

	Review struct {
		WindowDays     int `envconfig:"REVIEW_WINDOW_DAYS" default:"7"`
		ScoreThreshold int `envconfig:"REVIEW_SCORE_THRESHOLD" default:"-2"`
	} `envconfig:""`

	Schedule struct {
		SearchSpec string `envconfig:"SEARCH_CRON" default:"@every 15m"`
		InboxSpec  string `envconfig:"INBOX_CRON" default:"@every 2m"`
		ReviewSpec string `envconfig:"REVIEW_CRON" default:"@daily"`
		WikiSpec   string `envconfig:"WIKI_CRON" default:"@daily"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
