package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/synthcert/pkg/errors"
	"github.com/inferloop/synthcert/pkg/models"
)

type fakeObject struct {
	body            []byte
	contentEncoding string
}

// fakeS3 answers the path-style requests the client issues for a single bucket
type fakeS3 struct {
	bucket  string
	mu      sync.Mutex
	objects map[string]fakeObject
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/")
	if trimmed == f.bucket || trimmed == f.bucket+"/" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if !strings.HasPrefix(trimmed, f.bucket+"/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	key := strings.TrimPrefix(trimmed, f.bucket+"/")

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = fakeObject{body: body, contentEncoding: r.Header.Get("Content-Encoding")}
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodHead:
		if _, ok := f.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		if obj.contentEncoding != "" {
			w.Header().Set("Content-Encoding", obj.contentEncoding)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(obj.body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) object(key string) (fakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	return obj, ok
}

func newTestStorage(t *testing.T, compress bool) (*S3Storage, *fakeS3) {
	t.Helper()
	fake := &fakeS3{bucket: "reports", objects: make(map[string]fakeObject)}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	storage, err := NewS3Storage(&S3Config{
		Region:          "us-east-1",
		Bucket:          "reports",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		Endpoint:        server.URL,
		ForcePathStyle:  true,
		DisableSSL:      true,
		Prefix:          "archive",
		Timeout:         5 * time.Second,
		UseCompression:  compress,
	}, logrus.New())
	require.NoError(t, err)
	require.NoError(t, storage.Connect(context.Background()))
	t.Cleanup(func() { storage.Close() })
	return storage, fake
}

func TestNewS3Storage(t *testing.T) {
	config := &S3Config{
		Region: "us-east-1",
		Bucket: "test-bucket",
	}

	logger := logrus.New()
	storage, err := NewS3Storage(config, logger)

	require.NoError(t, err)
	require.NotNil(t, storage)
	assert.Equal(t, config, storage.config)
	assert.Equal(t, logger, storage.logger)
	assert.NotNil(t, storage.metrics)
}

func TestNewS3StorageInvalidConfig(t *testing.T) {
	_, err := NewS3Storage(nil, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3 config cannot be nil")

	_, err = NewS3Storage(&S3Config{Region: "us-east-1"}, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3 bucket is required")
}

func TestS3StorageGenerateKey(t *testing.T) {
	storage, err := NewS3Storage(&S3Config{Bucket: "b", Prefix: "test-prefix"}, logrus.New())
	require.NoError(t, err)
	assert.Equal(t, "test-prefix/reports/r-1.json", storage.generateKey("reports", "r-1"))

	storage, err = NewS3Storage(&S3Config{Bucket: "b"}, logrus.New())
	require.NoError(t, err)
	assert.Equal(t, "assessments/a-1.json", storage.generateKey("assessments", "a-1"))
}

func TestS3StorageNotConnected(t *testing.T) {
	storage, err := NewS3Storage(&S3Config{Bucket: "b"}, logrus.New())
	require.NoError(t, err)

	err = storage.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")

	_, err = storage.GetReport(context.Background(), "x")
	assert.Error(t, err)
}

func TestS3StorageReportRoundTrip(t *testing.T) {
	storage, fake := newTestStorage(t, false)
	ctx := context.Background()

	report := &models.EvaluationReport{
		ID:            "report-1",
		CreatedAt:     time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
		RealRows:      500,
		SyntheticRows: 500,
		DifferentialPrivacy: &models.PrivacySpend{
			Epsilon:       2.5,
			Delta:         1e-5,
			TargetEpsilon: 3,
		},
	}
	require.NoError(t, storage.SaveReport(ctx, report))

	obj, ok := fake.object("archive/reports/report-1.json")
	require.True(t, ok)
	assert.Contains(t, string(obj.body), `"id":"report-1"`)

	got, err := storage.GetReport(ctx, "report-1")
	require.NoError(t, err)
	assert.Equal(t, report, got)

	err = storage.SaveReport(ctx, report)
	require.Error(t, err)
	assert.True(t, errors.IsDuplicateRecord(err))

	_, err = storage.GetReport(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	stats := storage.GetStats()
	assert.Equal(t, int64(1), stats.WriteOps)
	assert.Equal(t, int64(1), stats.ReadOps)
}

func TestS3StorageCompressedAssessment(t *testing.T) {
	storage, fake := newTestStorage(t, true)
	ctx := context.Background()

	assessment := &models.RiskAssessment{
		ID:              "a-1",
		ReportID:        "report-1",
		AssessedAt:      time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
		OverallScore:    72,
		RiskLevel:       "high",
		Recommendations: []string{"Overall risk is high. Do not release this dataset."},
	}
	require.NoError(t, storage.SaveAssessment(ctx, assessment))

	obj, ok := fake.object("archive/assessments/a-1.json")
	require.True(t, ok)
	require.Greater(t, len(obj.body), 2)
	assert.Equal(t, byte(0x1f), obj.body[0])
	assert.Equal(t, byte(0x8b), obj.body[1])

	got, err := storage.GetAssessment(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, assessment, got)
}

func TestS3StorageRejectsMissingIDs(t *testing.T) {
	storage, _ := newTestStorage(t, false)

	assert.Error(t, storage.SaveReport(context.Background(), &models.EvaluationReport{}))
	assert.Error(t, storage.SaveAssessment(context.Background(), nil))
}

func TestDecompressPassesPlainPayloads(t *testing.T) {
	out, err := decompress([]byte(`{"id":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"id":"x"}`, string(out))
}

func TestS3StoragePingAndClose(t *testing.T) {
	storage, _ := newTestStorage(t, false)

	require.NoError(t, storage.Ping(context.Background()))
	require.NoError(t, storage.Close())
	require.NoError(t, storage.Close())
	assert.Error(t, storage.Ping(context.Background()))
}
