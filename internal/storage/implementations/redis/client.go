package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/synthcert/pkg/errors"
	"github.com/inferloop/synthcert/pkg/models"
)

// RedisConfig holds configuration for Redis storage
type RedisConfig struct {
	Addr          string        `mapstructure:"addr" json:"addr"`
	Password      string        `mapstructure:"password" json:"password"`
	DB            int           `mapstructure:"db" json:"db"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout" json:"dial_timeout"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	PoolSize      int           `mapstructure:"pool_size" json:"pool_size"`
	MinIdleConns  int           `mapstructure:"min_idle_conns" json:"min_idle_conns"`
	MaxRetries    int           `mapstructure:"max_retries" json:"max_retries"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout" json:"idle_timeout"`
	TTL           time.Duration `mapstructure:"ttl" json:"ttl"`
	KeyPrefix     string        `mapstructure:"key_prefix" json:"key_prefix"`
	UseClustering bool          `mapstructure:"use_clustering" json:"use_clustering"`
	ClusterAddrs  []string      `mapstructure:"cluster_addrs" json:"cluster_addrs"`
}

// RedisStorage keeps training runs, evaluation reports and risk assessments
// as JSON values. Reports and assessments expire after TTL when it is set;
// runs never expire.
type RedisStorage struct {
	config  *RedisConfig
	client  redis.UniversalClient
	logger  *logrus.Logger
	mu      sync.RWMutex
	metrics *storageMetrics
	closed  bool
}

type storageMetrics struct {
	readOps    int64
	writeOps   int64
	errorCount int64
	hitCount   int64
	missCount  int64
	startTime  time.Time
	mu         sync.RWMutex
}

// Stats is a snapshot of the operation counters
type Stats struct {
	ReadOps    int64         `json:"read_ops"`
	WriteOps   int64         `json:"write_ops"`
	ErrorCount int64         `json:"error_count"`
	HitCount   int64         `json:"hit_count"`
	MissCount  int64         `json:"miss_count"`
	Uptime     time.Duration `json:"uptime"`
}

// NewRedisStorage creates a new Redis storage instance
func NewRedisStorage(config *RedisConfig, logger *logrus.Logger) (*RedisStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidStorageConfig, "Redis config cannot be nil")
	}

	if config.Addr == "" && len(config.ClusterAddrs) == 0 {
		return nil, errors.NewStorageError(errors.CodeInvalidStorageConfig, "Redis address or cluster addresses are required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &RedisStorage{
		config:  config,
		logger:  logger,
		metrics: &storageMetrics{startTime: time.Now()},
	}, nil
}

// Connect establishes connection to Redis
func (r *RedisStorage) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return nil
	}

	var client redis.UniversalClient
	if r.config.UseClustering && len(r.config.ClusterAddrs) > 0 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        r.config.ClusterAddrs,
			Password:     r.config.Password,
			DialTimeout:  r.config.DialTimeout,
			ReadTimeout:  r.config.ReadTimeout,
			WriteTimeout: r.config.WriteTimeout,
			PoolSize:     r.config.PoolSize,
			MinIdleConns: r.config.MinIdleConns,
			MaxRetries:   r.config.MaxRetries,
			IdleTimeout:  r.config.IdleTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         r.config.Addr,
			Password:     r.config.Password,
			DB:           r.config.DB,
			DialTimeout:  r.config.DialTimeout,
			ReadTimeout:  r.config.ReadTimeout,
			WriteTimeout: r.config.WriteTimeout,
			PoolSize:     r.config.PoolSize,
			MinIdleConns: r.config.MinIdleConns,
			MaxRetries:   r.config.MaxRetries,
			IdleTimeout:  r.config.IdleTimeout,
		})
	}

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to connect to Redis")
	}

	r.client = client
	r.closed = false

	r.logger.WithFields(logrus.Fields{
		"addr":       r.config.Addr,
		"db":         r.config.DB,
		"clustering": r.config.UseClustering,
	}).Info("Connected to Redis")

	return nil
}

// Close closes the Redis connection
func (r *RedisStorage) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	r.closed = true
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "CLOSE_FAILED", "Failed to close Redis connection")
	}

	r.logger.Info("Redis connection closed")
	return nil
}

// Ping tests the Redis connection
func (r *RedisStorage) Ping(ctx context.Context) error {
	client, err := r.conn()
	if err != nil {
		return err
	}

	if _, err := client.Ping(ctx).Result(); err != nil {
		r.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "PING_FAILED", "Redis ping failed")
	}
	return nil
}

// SaveRun stores a training run. Once a run has been written with a
// FinalizedAt time, later writes are rejected.
func (r *RedisStorage) SaveRun(ctx context.Context, run *models.TrainingRun) error {
	if run == nil || run.ID == "" {
		return errors.NewValidationError(errors.CodeMissingField, "training run ID is required")
	}
	client, err := r.conn()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(run)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerializationFailed, "Failed to serialize training run")
	}

	key := r.generateRunKey(run.ID)
	txf := func(tx *redis.Tx) error {
		existing, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
		case err != nil:
			return err
		default:
			var stored models.TrainingRun
			if err := json.Unmarshal(existing, &stored); err != nil {
				return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerializationFailed, "Failed to decode stored training run")
			}
			if stored.FinalizedAt != nil {
				return errors.NewRunFinalizedError(run.ID)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}

	if err := client.Watch(ctx, txf, key); err != nil {
		r.incrementErrorCount()
		if errors.IsRunFinalized(err) {
			return err
		}
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to write training run")
	}

	r.incrementWriteOps()
	r.logger.WithFields(logrus.Fields{
		"run_id":    run.ID,
		"status":    run.Status,
		"finalized": run.FinalizedAt != nil,
	}).Debug("Training run saved")
	return nil
}

// GetRun reads a training run by ID
func (r *RedisStorage) GetRun(ctx context.Context, id string) (*models.TrainingRun, error) {
	var run models.TrainingRun
	if err := r.get(ctx, r.generateRunKey(id), "training run", id, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// SaveReport stores an evaluation report. Reports are immutable; saving an
// existing ID fails.
func (r *RedisStorage) SaveReport(ctx context.Context, report *models.EvaluationReport) error {
	if report == nil || report.ID == "" {
		return errors.NewValidationError(errors.CodeMissingField, "evaluation report ID is required")
	}
	return r.setOnce(ctx, r.generateReportKey(report.ID), "evaluation report", report.ID, report)
}

// GetReport reads an evaluation report by ID
func (r *RedisStorage) GetReport(ctx context.Context, id string) (*models.EvaluationReport, error) {
	var report models.EvaluationReport
	if err := r.get(ctx, r.generateReportKey(id), "evaluation report", id, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// SaveAssessment stores a risk assessment. Assessments are immutable.
func (r *RedisStorage) SaveAssessment(ctx context.Context, assessment *models.RiskAssessment) error {
	if assessment == nil || assessment.ID == "" {
		return errors.NewValidationError(errors.CodeMissingField, "risk assessment ID is required")
	}
	return r.setOnce(ctx, r.generateAssessmentKey(assessment.ID), "risk assessment", assessment.ID, assessment)
}

// GetAssessment reads a risk assessment by ID
func (r *RedisStorage) GetAssessment(ctx context.Context, id string) (*models.RiskAssessment, error) {
	var assessment models.RiskAssessment
	if err := r.get(ctx, r.generateAssessmentKey(id), "risk assessment", id, &assessment); err != nil {
		return nil, err
	}
	return &assessment, nil
}

// GetStats returns the operation counters
func (r *RedisStorage) GetStats() Stats {
	r.metrics.mu.RLock()
	defer r.metrics.mu.RUnlock()

	return Stats{
		ReadOps:    r.metrics.readOps,
		WriteOps:   r.metrics.writeOps,
		ErrorCount: r.metrics.errorCount,
		HitCount:   r.metrics.hitCount,
		MissCount:  r.metrics.missCount,
		Uptime:     time.Since(r.metrics.startTime),
	}
}

func (r *RedisStorage) conn() (redis.UniversalClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed || r.client == nil {
		return nil, errors.NewNotConnectedError("Redis")
	}
	return r.client, nil
}

func (r *RedisStorage) setOnce(ctx context.Context, key, kind, id string, value interface{}) error {
	client, err := r.conn()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerializationFailed, fmt.Sprintf("Failed to serialize %s", kind))
	}

	created, err := client.SetNX(ctx, key, payload, r.config.TTL).Result()
	if err != nil {
		r.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, fmt.Sprintf("Failed to write %s", kind))
	}
	if !created {
		return errors.NewDuplicateRecordError(kind, id)
	}

	r.incrementWriteOps()
	r.logger.WithFields(logrus.Fields{
		"key":  key,
		"kind": kind,
	}).Debug("Record saved")
	return nil
}

func (r *RedisStorage) get(ctx context.Context, key, kind, id string, out interface{}) error {
	client, err := r.conn()
	if err != nil {
		return err
	}

	r.incrementReadOps()
	payload, err := client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		r.incrementMissCount()
		return errors.NewRecordNotFoundError(kind, id)
	}
	if err != nil {
		r.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, fmt.Sprintf("Failed to read %s", kind))
	}
	r.incrementHitCount()

	if err := json.Unmarshal(payload, out); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerializationFailed, fmt.Sprintf("Failed to decode %s", kind))
	}
	return nil
}

func (r *RedisStorage) generateKey(kind, id string) string {
	if r.config.KeyPrefix != "" {
		return fmt.Sprintf("%s:%s:%s", r.config.KeyPrefix, kind, id)
	}
	return fmt.Sprintf("%s:%s", kind, id)
}

func (r *RedisStorage) generateRunKey(id string) string {
	return r.generateKey("run", id)
}

func (r *RedisStorage) generateReportKey(id string) string {
	return r.generateKey("report", id)
}

func (r *RedisStorage) generateAssessmentKey(id string) string {
	return r.generateKey("assessment", id)
}

func (r *RedisStorage) incrementReadOps() {
	r.metrics.mu.Lock()
	r.metrics.readOps++
	r.metrics.mu.Unlock()
}

func (r *RedisStorage) incrementWriteOps() {
	r.metrics.mu.Lock()
	r.metrics.writeOps++
	r.metrics.mu.Unlock()
}

func (r *RedisStorage) incrementErrorCount() {
	r.metrics.mu.Lock()
	r.metrics.errorCount++
	r.metrics.mu.Unlock()
}

func (r *RedisStorage) incrementHitCount() {
	r.metrics.mu.Lock()
	r.metrics.hitCount++
	r.metrics.mu.Unlock()
}

func (r *RedisStorage) incrementMissCount() {
	r.metrics.mu.Lock()
	r.metrics.missCount++
	r.metrics.mu.Unlock()
}
