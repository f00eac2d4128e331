package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/synthcert/pkg/errors"
	"github.com/inferloop/synthcert/pkg/models"
)

// uniqueViolation is the SQLSTATE for a duplicate primary key
const uniqueViolation = "23505"

// PostgresConfig holds configuration for PostgreSQL storage
type PostgresConfig struct {
	Host            string        `mapstructure:"host" json:"host"`
	Port            int           `mapstructure:"port" json:"port"`
	Database        string        `mapstructure:"database" json:"database"`
	Username        string        `mapstructure:"username" json:"username"`
	Password        string        `mapstructure:"password" json:"password"`
	SSLMode         string        `mapstructure:"ssl_mode" json:"ssl_mode"`
	Schema          string        `mapstructure:"schema" json:"schema"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout" json:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout" json:"query_timeout"`
	MaxConnections  int           `mapstructure:"max_connections" json:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// PostgresStorage is the durable record of training runs, evaluation
// reports and risk assessments. Every record is kept as a JSONB document
// next to the columns used for lookups.
type PostgresStorage struct {
	config  *PostgresConfig
	db      *sql.DB
	logger  *logrus.Logger
	mu      sync.RWMutex
	metrics *storageMetrics
	closed  bool
}

type storageMetrics struct {
	readOps    int64
	writeOps   int64
	errorCount int64
	startTime  time.Time
	mu         sync.RWMutex
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(config *PostgresConfig, logger *logrus.Logger) (*PostgresStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidStorageConfig, "PostgreSQL config cannot be nil")
	}
	if config.Host == "" || config.Database == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidStorageConfig, "PostgreSQL host and database are required")
	}

	if config.Port == 0 {
		config.Port = 5432
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}
	if config.Schema == "" {
		config.Schema = "public"
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 30 * time.Second
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &PostgresStorage{
		config:  config,
		logger:  logger,
		metrics: &storageMetrics{startTime: time.Now()},
	}, nil
}

// Connect establishes connection to PostgreSQL and creates the tables
func (p *PostgresStorage) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db != nil {
		return nil
	}

	db, err := sql.Open("postgres", p.connectionString())
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to open database connection")
	}

	db.SetMaxOpenConns(p.config.MaxConnections)
	db.SetMaxIdleConns(p.config.MaxIdleConns)
	db.SetConnMaxLifetime(p.config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(ctx, p.config.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, "PING_FAILED", "Failed to ping database")
	}

	p.db = db
	if err := p.initializeSchema(ctx); err != nil {
		db.Close()
		p.db = nil
		return errors.WrapError(err, errors.ErrorTypeStorage, "SCHEMA_INIT_FAILED", "Failed to initialize schema")
	}
	p.closed = false

	p.logger.WithFields(logrus.Fields{
		"host":     p.config.Host,
		"port":     p.config.Port,
		"database": p.config.Database,
		"schema":   p.config.Schema,
	}).Info("Connected to PostgreSQL")

	return nil
}

// Close closes the database connection
func (p *PostgresStorage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.db == nil {
		return nil
	}

	err := p.db.Close()
	p.db = nil
	p.closed = true
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "CLOSE_FAILED", "Failed to close database connection")
	}

	p.logger.Info("PostgreSQL connection closed")
	return nil
}

// Ping tests the database connection
func (p *PostgresStorage) Ping(ctx context.Context) error {
	db, err := p.conn()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.QueryTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		p.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "PING_FAILED", "Database ping failed")
	}
	return nil
}

// SaveRun inserts a training run or updates one that is not finalized yet
func (p *PostgresStorage) SaveRun(ctx context.Context, run *models.TrainingRun) error {
	if run == nil || run.ID == "" {
		return errors.NewValidationError(errors.CodeMissingField, "training run ID is required")
	}
	db, err := p.conn()
	if err != nil {
		return err
	}

	body, err := json.Marshal(run)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerializationFailed, "Failed to serialize training run")
	}

	table := p.table("training_runs")
	query := fmt.Sprintf(`
		INSERT INTO %s (id, status, body, created_at, finalized_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, body = EXCLUDED.body, finalized_at = EXCLUDED.finalized_at
		WHERE %s.finalized_at IS NULL`, table, table)

	ctx, cancel := context.WithTimeout(ctx, p.config.QueryTimeout)
	defer cancel()

	var finalizedAt interface{}
	if run.FinalizedAt != nil {
		finalizedAt = *run.FinalizedAt
	}

	result, err := db.ExecContext(ctx, query, run.ID, run.Status, body, run.CreatedAt, finalizedAt)
	if err != nil {
		p.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to write training run")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return errors.NewRunFinalizedError(run.ID)
	}

	p.incrementWriteOps()
	p.logger.WithFields(logrus.Fields{
		"run_id":    run.ID,
		"status":    run.Status,
		"finalized": run.FinalizedAt != nil,
	}).Debug("Training run saved")
	return nil
}

// GetRun reads a training run by ID
func (p *PostgresStorage) GetRun(ctx context.Context, id string) (*models.TrainingRun, error) {
	var run models.TrainingRun
	if err := p.getBody(ctx, "training_runs", "training run", id, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// SaveReport inserts an evaluation report. Reports are never updated.
func (p *PostgresStorage) SaveReport(ctx context.Context, report *models.EvaluationReport) error {
	if report == nil || report.ID == "" {
		return errors.NewValidationError(errors.CodeMissingField, "evaluation report ID is required")
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, created_at, body) VALUES ($1, $2, $3)`, p.table("evaluation_reports"))
	return p.insert(ctx, "evaluation report", report.ID, report, query, report.ID, report.CreatedAt)
}

// GetReport reads an evaluation report by ID
func (p *PostgresStorage) GetReport(ctx context.Context, id string) (*models.EvaluationReport, error) {
	var report models.EvaluationReport
	if err := p.getBody(ctx, "evaluation_reports", "evaluation report", id, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// SaveAssessment inserts a risk assessment. Assessments are never updated.
func (p *PostgresStorage) SaveAssessment(ctx context.Context, assessment *models.RiskAssessment) error {
	if assessment == nil || assessment.ID == "" {
		return errors.NewValidationError(errors.CodeMissingField, "risk assessment ID is required")
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, report_id, risk_level, overall_score, safe_for_release, assessed_at, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, p.table("risk_assessments"))
	return p.insert(ctx, "risk assessment", assessment.ID, assessment, query,
		assessment.ID, assessment.ReportID, assessment.RiskLevel, assessment.OverallScore,
		assessment.SafeForRelease, assessment.AssessedAt)
}

// GetAssessment reads a risk assessment by ID
func (p *PostgresStorage) GetAssessment(ctx context.Context, id string) (*models.RiskAssessment, error) {
	var assessment models.RiskAssessment
	if err := p.getBody(ctx, "risk_assessments", "risk assessment", id, &assessment); err != nil {
		return nil, err
	}
	return &assessment, nil
}

func (p *PostgresStorage) conn() (*sql.DB, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || p.db == nil {
		return nil, errors.NewNotConnectedError("PostgreSQL")
	}
	return p.db, nil
}

// insert runs query with args followed by the JSON body of value
func (p *PostgresStorage) insert(ctx context.Context, kind, id string, value interface{}, query string, args ...interface{}) error {
	db, err := p.conn()
	if err != nil {
		return err
	}

	body, err := json.Marshal(value)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerializationFailed, fmt.Sprintf("Failed to serialize %s", kind))
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.QueryTimeout)
	defer cancel()

	if _, err := db.ExecContext(ctx, query, append(args, body)...); err != nil {
		if isUniqueViolation(err) {
			return errors.NewDuplicateRecordError(kind, id)
		}
		p.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, fmt.Sprintf("Failed to write %s", kind))
	}

	p.incrementWriteOps()
	return nil
}

func (p *PostgresStorage) getBody(ctx context.Context, table, kind, id string, out interface{}) error {
	db, err := p.conn()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.QueryTimeout)
	defer cancel()

	p.incrementReadOps()
	var body []byte
	query := fmt.Sprintf(`SELECT body FROM %s WHERE id = $1`, p.table(table))
	err = db.QueryRowContext(ctx, query, id).Scan(&body)
	if err == sql.ErrNoRows {
		return errors.NewRecordNotFoundError(kind, id)
	}
	if err != nil {
		p.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, fmt.Sprintf("Failed to read %s", kind))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerializationFailed, fmt.Sprintf("Failed to decode %s", kind))
	}
	return nil
}

func (p *PostgresStorage) initializeSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pq.QuoteIdentifier(p.config.Schema)),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(255) PRIMARY KEY,
			status VARCHAR(50) NOT NULL,
			body JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			finalized_at TIMESTAMPTZ
		)`, p.table("training_runs")),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(255) PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			body JSONB NOT NULL
		)`, p.table("evaluation_reports")),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(255) PRIMARY KEY,
			report_id VARCHAR(255),
			risk_level VARCHAR(20) NOT NULL,
			overall_score DOUBLE PRECISION NOT NULL,
			safe_for_release BOOLEAN NOT NULL,
			assessed_at TIMESTAMPTZ NOT NULL,
			body JSONB NOT NULL
		)`, p.table("risk_assessments")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS risk_assessments_report_id_idx ON %s (report_id)`, p.table("risk_assessments")),
	}

	for _, stmt := range statements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// table returns the schema-qualified, quoted table name
func (p *PostgresStorage) table(name string) string {
	return pq.QuoteIdentifier(p.config.Schema) + "." + pq.QuoteIdentifier(name)
}

func (p *PostgresStorage) connectionString() string {
	parts := []string{
		"host=" + dsnValue(p.config.Host),
		fmt.Sprintf("port=%d", p.config.Port),
		"dbname=" + dsnValue(p.config.Database),
		"sslmode=" + dsnValue(p.config.SSLMode),
		fmt.Sprintf("connect_timeout=%d", int(p.config.ConnectTimeout.Seconds())),
	}
	if p.config.Username != "" {
		parts = append(parts, "user="+dsnValue(p.config.Username))
	}
	if p.config.Password != "" {
		parts = append(parts, "password="+dsnValue(p.config.Password))
	}
	return strings.Join(parts, " ")
}

// dsnValue quotes a keyword/value connection string value when needed
func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (p *PostgresStorage) incrementReadOps() {
	p.metrics.mu.Lock()
	p.metrics.readOps++
	p.metrics.mu.Unlock()
}

func (p *PostgresStorage) incrementWriteOps() {
	p.metrics.mu.Lock()
	p.metrics.writeOps++
	p.metrics.mu.Unlock()
}

func (p *PostgresStorage) incrementErrorCount() {
	p.metrics.mu.Lock()
	p.metrics.errorCount++
	p.metrics.mu.Unlock()
}
