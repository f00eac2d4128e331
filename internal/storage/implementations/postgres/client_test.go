package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/synthcert/pkg/models"
)

func TestNewPostgresStorageDefaults(t *testing.T) {
	storage, err := NewPostgresStorage(&PostgresConfig{Host: "db", Database: "synthcert"}, logrus.New())
	require.NoError(t, err)

	assert.Equal(t, 5432, storage.config.Port)
	assert.Equal(t, "disable", storage.config.SSLMode)
	assert.Equal(t, "public", storage.config.Schema)
	assert.Equal(t, 10*time.Second, storage.config.ConnectTimeout)
	assert.Equal(t, 30*time.Second, storage.config.QueryTimeout)
}

func TestNewPostgresStorageInvalidConfig(t *testing.T) {
	_, err := NewPostgresStorage(nil, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config cannot be nil")

	_, err = NewPostgresStorage(&PostgresConfig{Host: "db"}, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host and database are required")
}

func TestConnectionString(t *testing.T) {
	storage, err := NewPostgresStorage(&PostgresConfig{
		Host:     "db.internal",
		Port:     6543,
		Database: "synthcert",
		Username: "svc",
		Password: "it's secret",
		SSLMode:  "require",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t,
		`host=db.internal port=6543 dbname=synthcert sslmode=require connect_timeout=10 user=svc password='it\'s secret'`,
		storage.connectionString())
}

func TestDSNValue(t *testing.T) {
	assert.Equal(t, "plain", dsnValue("plain"))
	assert.Equal(t, "''", dsnValue(""))
	assert.Equal(t, `'a b'`, dsnValue("a b"))
	assert.Equal(t, `'a\\b'`, dsnValue(`a\b`))
}

func TestTableNamesAreQuoted(t *testing.T) {
	storage, err := NewPostgresStorage(&PostgresConfig{Host: "db", Database: "d", Schema: "privacy"}, nil)
	require.NoError(t, err)
	assert.Equal(t, `"privacy"."evaluation_reports"`, storage.table("evaluation_reports"))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(fmt.Errorf("boom")))
}

func TestPostgresStorageNotConnected(t *testing.T) {
	storage, err := NewPostgresStorage(&PostgresConfig{Host: "db", Database: "d"}, logrus.New())
	require.NoError(t, err)
	ctx := context.Background()

	assert.Error(t, storage.Ping(ctx))
	assert.Error(t, storage.SaveRun(ctx, &models.TrainingRun{ID: "r"}))
	_, err = storage.GetReport(ctx, "r")
	assert.Error(t, err)
	assert.NoError(t, storage.Close())
}

func TestPostgresStorageRejectsMissingIDs(t *testing.T) {
	storage, err := NewPostgresStorage(&PostgresConfig{Host: "db", Database: "d"}, logrus.New())
	require.NoError(t, err)
	ctx := context.Background()

	assert.Error(t, storage.SaveRun(ctx, nil))
	assert.Error(t, storage.SaveReport(ctx, &models.EvaluationReport{}))
	assert.Error(t, storage.SaveAssessment(ctx, &models.RiskAssessment{}))
}
