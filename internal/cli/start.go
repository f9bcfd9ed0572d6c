package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tg-quiz-bot/internal/app"
	"tg-quiz-bot/internal/config"
	filestore "tg-quiz-bot/internal/infra/file"
	pgstore "tg-quiz-bot/internal/infra/postgres"
	redisstore "tg-quiz-bot/internal/infra/redis"
	"tg-quiz-bot/internal/infra/sheets"
	opshttp "tg-quiz-bot/internal/transport/http"
	"tg-quiz-bot/internal/transport/telegram"
)

// NewStartCmd builds the CLI subcommand to start the bot.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), *configPath, *port)
		},
	}
}

func runBot(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := newLogger(cfg.Log.Level)

	token := os.Getenv("TELEGRAM_TOKEN")
	if token == "" {
		return fmt.Errorf("TELEGRAM_TOKEN environment variable is required")
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *goredis.Client
	if cfg.Redis.Addr != "" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	loader, cleanup, err := buildQuestionLoader(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	repo := app.NewQuestionRepository(loader, config.TTLDuration(cfg.Questions.TTL, 10*time.Minute))

	// the initial load happens before any chat event is accepted; a provider
	// that fails outright here is a startup-fatal condition
	set, err := repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("initial question load: %w", err)
	}
	log.Info().Int("questions", set.Total()).Int("categories", len(set)).Msg("question set loaded")

	var ledger app.ScoreLedger
	if redisClient != nil {
		ledger = redisstore.NewLedger(ctx, redisClient, log)
	} else {
		path := cfg.Ledger.Path
		if path == "" {
			path = "leaderboard.json"
		}
		ledger = filestore.NewLedger(path, log)
	}
	feed := app.NewLeaderboardFeed(ledger)

	bot, err := telegram.NewBot(token, log)
	if err != nil {
		return err
	}

	mix := app.DefaultMixRange
	if cfg.Questions.MixMin > 0 && cfg.Questions.MixMax >= cfg.Questions.MixMin {
		mix = app.MixRange{Min: cfg.Questions.MixMin, Max: cfg.Questions.MixMax}
	}
	engine := app.NewEngine(repo, feed, bot, app.WithMixRange(mix), app.WithLogger(log))
	bot.SetEngine(engine)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	wsHandler := opshttp.NewLeaderboardHandler(feed, log)
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting ops endpoint")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("ops endpoint failed")
		}
	}()

	botCtx, cancelBot := context.WithCancel(ctx)
	defer cancelBot()
	go bot.Run(botCtx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down")
	}
	cancelBot()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildQuestionLoader(ctx context.Context, cfg config.Config, log zerolog.Logger) (app.QuestionLoader, func(), error) {
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, err
		}
		return pgstore.NewQuestionLoader(pool, log), pool.Close, nil
	}
	if cfg.Questions.SheetURL != "" {
		return sheets.NewQuestionLoader(cfg.Questions.SheetURL, log), func() {}, nil
	}
	dir := cfg.Questions.Dir
	if dir == "" {
		dir = "questions"
	}
	return filestore.NewQuestionLoader(dir, log), func() {}, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
