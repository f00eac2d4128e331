package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/synthcert/internal/storage/implementations/postgres"
	"github.com/inferloop/synthcert/internal/storage/implementations/redis"
	"github.com/inferloop/synthcert/internal/storage/implementations/s3"
	"github.com/inferloop/synthcert/pkg/constants"
	"github.com/inferloop/synthcert/pkg/errors"
	"github.com/inferloop/synthcert/pkg/interfaces"
)

// Config selects a storage backend and carries its settings
type Config struct {
	Type     string                   `mapstructure:"type" json:"type"`
	Redis    *redis.RedisConfig       `mapstructure:"redis" json:"redis,omitempty"`
	Postgres *postgres.PostgresConfig `mapstructure:"postgres" json:"postgres,omitempty"`
	S3       *s3.S3Config             `mapstructure:"s3" json:"s3,omitempty"`
}

// CreateFunc builds an unconnected backend from its configuration
type CreateFunc func(config *Config) (interfaces.Storage, error)

// Factory creates storage backends by type name
type Factory struct {
	creators map[string]CreateFunc
	mu       sync.RWMutex
	logger   *logrus.Logger
}

// NewFactory creates a new storage factory
func NewFactory(logger *logrus.Logger) *Factory {
	if logger == nil {
		logger = logrus.New()
	}

	factory := &Factory{
		creators: make(map[string]CreateFunc),
		logger:   logger,
	}

	factory.registerDefaults()

	return factory
}

// CreateStorage creates a new storage instance
func (f *Factory) CreateStorage(config *Config) (interfaces.Storage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidStorageConfig, "storage config cannot be nil")
	}

	f.mu.RLock()
	createFunc, exists := f.creators[config.Type]
	f.mu.RUnlock()

	if !exists {
		return nil, errors.NewStorageError(errors.CodeUnsupportedStorage, fmt.Sprintf("Storage type '%s' is not supported", config.Type))
	}

	storage, err := createFunc(config)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "CREATION_FAILED", fmt.Sprintf("Failed to create %s storage", config.Type))
	}

	f.logger.WithFields(logrus.Fields{
		"storage_type": config.Type,
	}).Info("Created storage instance")

	return storage, nil
}

// CreateReportStore creates a backend that can hold evaluation reports and
// risk assessments
func (f *Factory) CreateReportStore(config *Config) (interfaces.ReportStore, error) {
	storage, err := f.CreateStorage(config)
	if err != nil {
		return nil, err
	}
	store, ok := storage.(interfaces.ReportStore)
	if !ok {
		return nil, errors.NewStorageError(errors.CodeUnsupportedStorage,
			fmt.Sprintf("Storage type '%s' cannot store evaluation reports", config.Type))
	}
	return store, nil
}

// CreateRunStore creates a backend that can hold training runs
func (f *Factory) CreateRunStore(config *Config) (interfaces.RunStore, error) {
	storage, err := f.CreateStorage(config)
	if err != nil {
		return nil, err
	}
	store, ok := storage.(interfaces.RunStore)
	if !ok {
		return nil, errors.NewStorageError(errors.CodeUnsupportedStorage,
			fmt.Sprintf("Storage type '%s' cannot store training runs", config.Type))
	}
	return store, nil
}

// GetSupportedTypes returns all supported storage types in sorted order
func (f *Factory) GetSupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.creators))
	for storageType := range f.creators {
		types = append(types, storageType)
	}
	sort.Strings(types)

	return types
}

// RegisterStorage registers a new storage type
func (f *Factory) RegisterStorage(storageType string, createFunc CreateFunc) error {
	if storageType == "" {
		return errors.NewValidationError("INVALID_TYPE", "Storage type cannot be empty")
	}

	if createFunc == nil {
		return errors.NewValidationError("INVALID_CREATOR", "Storage create function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.creators[storageType] = createFunc

	f.logger.WithFields(logrus.Fields{
		"storage_type": storageType,
	}).Debug("Registered storage type")

	return nil
}

// IsSupported checks if a storage type is supported
func (f *Factory) IsSupported(storageType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, exists := f.creators[storageType]
	return exists
}

func (f *Factory) registerDefaults() {
	f.RegisterStorage(constants.StorageTypeMemory, func(config *Config) (interfaces.Storage, error) {
		return NewMemoryStorage(f.logger), nil
	})

	f.RegisterStorage(constants.StorageTypeRedis, func(config *Config) (interfaces.Storage, error) {
		redisConfig := config.Redis
		if redisConfig == nil {
			redisConfig = &redis.RedisConfig{}
		}
		if redisConfig.Addr == "" && !redisConfig.UseClustering {
			redisConfig.Addr = "localhost:6379"
		}
		if redisConfig.KeyPrefix == "" {
			redisConfig.KeyPrefix = "synthcert"
		}
		if redisConfig.MaxRetries == 0 {
			redisConfig.MaxRetries = 3
		}
		return redis.NewRedisStorage(redisConfig, f.logger)
	})

	f.RegisterStorage(constants.StorageTypePostgres, func(config *Config) (interfaces.Storage, error) {
		if config.Postgres == nil {
			return nil, errors.NewStorageError(errors.CodeInvalidStorageConfig, "postgres settings are required")
		}
		if config.Postgres.ConnMaxLifetime == 0 {
			config.Postgres.ConnMaxLifetime = time.Hour
		}
		return postgres.NewPostgresStorage(config.Postgres, f.logger)
	})

	f.RegisterStorage(constants.StorageTypeS3, func(config *Config) (interfaces.Storage, error) {
		if config.S3 == nil {
			return nil, errors.NewStorageError(errors.CodeInvalidStorageConfig, "s3 settings are required")
		}
		s3Config := config.S3
		if s3Config.Region == "" {
			s3Config.Region = "us-east-1"
		}
		if s3Config.MaxRetries == 0 {
			s3Config.MaxRetries = 3
		}
		if s3Config.Prefix == "" {
			s3Config.Prefix = "synthcert"
		}
		return s3.NewS3Storage(s3Config, f.logger)
	})
}
