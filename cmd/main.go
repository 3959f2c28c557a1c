package main

import (
	"context"
	"log"

	"github.com/pot-code/course-progress/internal/catalog"
	"github.com/pot-code/course-progress/internal/engine"
	infra "github.com/pot-code/course-progress/internal/infrastructure"
	"github.com/pot-code/course-progress/internal/infrastructure/driver"
	"github.com/pot-code/course-progress/internal/infrastructure/logging"
	"github.com/pot-code/course-progress/internal/infrastructure/uuid"
	"github.com/pot-code/course-progress/internal/infrastructure/validate"
	"github.com/pot-code/course-progress/internal/interfaces/rest"
	"go.uber.org/zap"
)

func main() {
	log.SetFlags(log.Lshortfile | log.Ldate | log.Ltime)
	option, err := infra.InitConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		FilePath: option.Logging.FilePath,
		Level:    option.Logging.Level,
		AppID:    option.AppID,
		Env:      option.Env,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %s\n", err)
	}
	logger = logger.With(
		zap.String("service.id", option.AppID),
	)
	defer logger.Sync()

	courses, err := catalog.LoadFile(option.Catalog.Path, validate.NewValidator())
	if err != nil {
		logger.Fatal("Failed to load course catalog", zap.String("catalog.path", option.Catalog.Path), zap.Error(err))
	}
	logger.Info("Course catalog loaded", zap.String("catalog.path", option.Catalog.Path), zap.Int("catalog.courses", len(courses.Courses)))

	kv, err := newKeyValueDB(option, logger)
	if err != nil {
		logger.Fatal("Failed to create progress backend", zap.String("storage.backend", option.Storage.Backend), zap.Error(err))
	}

	registry := engine.NewRegistry(kv, courses, &engine.RegistryOptions{
		KeyPrefix:   option.Storage.KeyPrefix,
		MaxBackups:  option.Storage.MaxBackups,
		IDGenerator: uuid.NewNanoIDGenerator(10),
		Logger:      logger,
	})
	if err := rest.Serve(option, registry, logger); err != nil {
		logger.Fatal("Server stopped", zap.Error(err))
	}
}

func newKeyValueDB(option *infra.AppConfig, logger *zap.Logger) (driver.KeyValueDB, error) {
	switch option.Storage.Backend {
	case infra.BackendFile:
		return driver.NewFileKV(option.Storage.Dir)
	case infra.BackendRedis:
		return driver.NewRedisClient(&driver.RedisConfig{
			Host:     option.KVStore.Host,
			Port:     option.KVStore.Port,
			Password: option.KVStore.Password,
			DB:       option.KVStore.DB,
		}), nil
	case infra.BackendMySQL, infra.BackendPostgres, infra.BackendSQLite:
		dbConn, err := driver.GetDBConnection(&driver.DBConfig{
			User:     option.Database.User,
			Password: option.Database.Password,
			MaxConn:  option.Database.MaxConn,
			Protocol: option.Database.Protocol,
			Driver:   option.Database.Driver,
			Host:     option.Database.Host,
			Port:     option.Database.Port,
			Query:    option.Database.Query,
			Schema:   option.Database.Schema,
		})
		if err != nil {
			return nil, err
		}
		logger.Debug("Create database connection instance", zap.String("db.driver", option.Database.Driver),
			zap.String("db.schema", option.Database.Schema),
			zap.String("db.host", option.Database.Host),
		)
		return driver.NewSQLKV(context.Background(), dbConn, option.Storage.Table)
	}
	return driver.NewMemoryKV(option.Storage.Quota), nil
}
