package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Serval-Chat/backend-sub001/internal/chat"
	"github.com/Serval-Chat/backend-sub001/internal/database"
	"github.com/Serval-Chat/backend-sub001/internal/handlers"
	"github.com/Serval-Chat/backend-sub001/internal/hub"
	"github.com/Serval-Chat/backend-sub001/internal/jwt"
	"github.com/Serval-Chat/backend-sub001/internal/keyValue"
	"github.com/Serval-Chat/backend-sub001/internal/models"
	"github.com/Serval-Chat/backend-sub001/internal/permissions"
	"github.com/Serval-Chat/backend-sub001/internal/presence"
	"github.com/Serval-Chat/backend-sub001/internal/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupLogger(cfg *models.ConfigFile) (*zap.SugaredLogger, error) {
	config := zap.NewProductionConfig()

	config.OutputPaths = []string{"stdout"}
	if cfg.LogToFile {
		config.OutputPaths = append(config.OutputPaths, "app.log")
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	config.Level = level

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func readConfigFile() (*models.ConfigFile, error) {
	configFile, err := os.Open("config.json")
	if err != nil {
		return nil, err
	}
	defer configFile.Close()

	bytes, err := io.ReadAll(configFile)
	if err != nil {
		return nil, err
	}

	var cfg models.ConfigFile
	err = json.Unmarshal(bytes, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setupRedis(cfg *models.ConfigFile) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	err := rdb.Ping(context.Background()).Err()
	if err != nil {
		return nil, err
	}
	return rdb, nil
}

// chatStore narrows the transaction callback so the chat service only sees
// the writes that may run inside one.
type chatStore struct {
	*database.Store
}

func (s chatStore) RunInTransaction(ctx context.Context, fn func(tx chat.TxStore) error) error {
	return s.Store.RunInTransaction(ctx, func(tx *database.Tx) error {
		return fn(tx)
	})
}

func main() {
	fmt.Println("Reading config file...")
	cfg, err := readConfigFile()
	if err != nil {
		fmt.Println(err)
		return
	}

	fmt.Println("Setting up logger...")
	sugar, err := setupLogger(cfg)
	if err != nil {
		fmt.Println(err)
		return
	}

	fmt.Println("Connecting to database...")
	db, err := database.Setup(cfg)
	if err != nil {
		sugar.Fatal(err)
	}

	var redisClient *redis.Client
	if cfg.SelfContained {
		fmt.Println("Self contained mode, skipping redis...")
	} else {
		fmt.Println("Connecting to redis...")
		redisClient, err = setupRedis(cfg)
		if err != nil {
			sugar.Fatal(err)
		}
	}

	snowflakes, err := snowflake.NewGenerator(cfg.SnowflakeWorkerID)
	if err != nil {
		sugar.Fatal(err)
	}

	store := database.NewStore(db, sugar)
	registry := presence.NewRegistry()
	cache := keyValue.NewCache(sugar, redisClient, cfg.SelfContained)
	perms := permissions.NewService(store, sugar)

	isHttps := cfg.TlsCert != "" && cfg.TlsKey != ""
	signer := jwt.NewSigner(cfg.JwtSecret, isHttps)

	wsHub := hub.NewHub(sugar, redisClient, cfg.SelfContained, registry, snowflakes)

	service := chat.NewService(chatStore{store}, perms, wsHub, registry, snowflakes, sugar)
	service.RegisterHandlers(wsHub)

	api := handlers.New(sugar, db, store, signer, cache, wsHub, snowflakes)

	var httpProtocol string
	if isHttps {
		httpProtocol = "https"
	} else {
		httpProtocol = "http"
	}
	fmt.Printf("Server is running on %s://%s:%s\n", httpProtocol, cfg.Address, cfg.Port)

	err = api.Serve(isHttps, cfg)
	if err != nil {
		sugar.Fatal(err)
	}
}
