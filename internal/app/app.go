package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamvkosarev/peaceful-ai/config"
	"github.com/iamvkosarev/peaceful-ai/internal/controller"
	in_memory "github.com/iamvkosarev/peaceful-ai/internal/storage/in-memory"
	key_value "github.com/iamvkosarev/peaceful-ai/internal/storage/key-value"
	"github.com/iamvkosarev/peaceful-ai/internal/storage/relational"
	"github.com/iamvkosarev/peaceful-ai/internal/usecase"
	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

type storages struct {
	projects usecase.ProjectStorage
	users    usecase.UserStorage
	close    func() error
}

// Run starts the configured front ends and blocks until ctx is done or one
// of them fails.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.HTTP.Addr == "" && cfg.Telegram.TelegramAPIToken == "" {
		return errors.New("no front end configured: set http.addr or telegram.api_token")
	}

	stores, err := openStorages(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.close(); err != nil {
			logger.Warn("failed to close storage", zap.Error(err))
		}
	}()
	logger.Info("storage opened", zap.String("type", cfg.Storage.Type))

	completionUsecase := usecase.NewCompletionUsecase(
		usecase.CompletionUsecaseDeps{
			Logger: logger.Named("completion"),
		},
		cfg.Completion,
	)
	if cfg.Completion.APIKey == "" {
		logger.Warn("completion api key is not configured; requests must carry their own")
	}

	chatUsecase := usecase.NewChatUsecase(
		usecase.ChatUsecaseDeps{
			Storage:    stores.projects,
			Completion: completionUsecase,
			Logger:     logger.Named("chat"),
		},
		cfg.Chat,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)
	wg := conc.NewWaitGroup()
	wg.Go(
		func() {
			chatUsecase.Run(ctx)
		},
	)

	if cfg.HTTP.Addr != "" {
		server := &http.Server{
			Addr:    cfg.HTTP.Addr,
			Handler: controller.NewRouter(chatUsecase, logger.Named("http")),
		}
		wg.Go(
			func() {
				logger.Info("http server started", zap.String("addr", cfg.HTTP.Addr))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errs <- fmt.Errorf("http server failed: %w", err)
					cancel()
				}
			},
		)
		wg.Go(
			func() {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer shutdownCancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Warn("failed to shut down http server", zap.Error(err))
				}
			},
		)
	}

	if cfg.Telegram.TelegramAPIToken != "" {
		telegramUsecase, err := newTelegramUsecase(cfg.Telegram, stores.users, chatUsecase, logger)
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		wg.Go(
			func() {
				if err := telegramUsecase.Run(ctx); err != nil {
					errs <- fmt.Errorf("telegram bot failed: %w", err)
					cancel()
				}
			},
		)
	}

	wg.Wait()
	close(errs)
	return <-errs
}

func newTelegramUsecase(
	cfg config.Telegram,
	users usecase.UserStorage,
	chat *usecase.ChatUsecase,
	logger *zap.Logger,
) (*usecase.TelegramUsecase, error) {
	bot, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create new bot: %w", err)
	}
	logger.Info("telegram bot authorized", zap.String("account", bot.Self.UserName))

	userUsecase := usecase.NewUserUsecase(
		usecase.UserUsecaseDeps{
			UserStorage: users,
		},
	)

	telegramUsecase, err := usecase.NewTelegramUsecase(
		cfg, usecase.TelegramUsecaseDeps{
			User:   userUsecase,
			Chat:   chat,
			Bot:    bot,
			Logger: logger.Named("telegram"),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram usecase: %w", err)
	}
	return telegramUsecase, nil
}

func openStorages(ctx context.Context, cfg config.Storage) (storages, error) {
	switch cfg.Type {
	case config.StorageTypeMemory, "":
		return storages{
			projects: in_memory.NewProjectStorage(),
			users:    in_memory.NewUserStorage(),
			close:    func() error { return nil },
		}, nil
	case config.StorageTypeRedis:
		rdb := redis.NewClient(
			&redis.Options{
				Addr:     cfg.Redis.Endpoint,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			},
		)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return storages{}, fmt.Errorf("failed to connect to redis %s: %w", cfg.Redis.Endpoint, err)
		}
		return storages{
			projects: key_value.NewProjectStorage(rdb),
			users:    key_value.NewUserStorage(rdb),
			close:    rdb.Close,
		}, nil
	case config.StorageTypePostgres, config.StorageTypeSQLite:
		db, err := relational.Open(cfg.Type, cfg.SQL.DSN)
		if err != nil {
			return storages{}, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return storages{}, fmt.Errorf("failed to get sql connection: %w", err)
		}
		projects := relational.NewProjectStorage(db)
		users := relational.NewUserStorage(db)
		if err = migrate(ctx, sqlDB, projects, users); err != nil {
			return storages{}, err
		}
		return storages{
			projects: projects,
			users:    users,
			close:    sqlDB.Close,
		}, nil
	default:
		return storages{}, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

type migrator interface {
	Migrate(ctx context.Context) error
}

// migrate runs the migrations in order and closes pool when one fails.
func migrate(ctx context.Context, pool io.Closer, migrators ...migrator) error {
	for _, m := range migrators {
		if err := m.Migrate(ctx); err != nil {
			if closeErr := pool.Close(); closeErr != nil {
				return errors.Join(err, closeErr)
			}
			return err
		}
	}
	return nil
}
