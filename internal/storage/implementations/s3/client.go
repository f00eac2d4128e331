package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/synthcert/pkg/errors"
	"github.com/inferloop/synthcert/pkg/models"
)

// S3Config holds configuration for S3 storage
type S3Config struct {
	Region          string        `mapstructure:"region" json:"region"`
	Bucket          string        `mapstructure:"bucket" json:"bucket"`
	AccessKeyID     string        `mapstructure:"access_key_id" json:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key" json:"secret_access_key"`
	SessionToken    string        `mapstructure:"session_token" json:"session_token,omitempty"`
	Endpoint        string        `mapstructure:"endpoint" json:"endpoint,omitempty"`
	ForcePathStyle  bool          `mapstructure:"force_path_style" json:"force_path_style"`
	DisableSSL      bool          `mapstructure:"disable_ssl" json:"disable_ssl"`
	Prefix          string        `mapstructure:"prefix" json:"prefix"`
	Timeout         time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries" json:"max_retries"`
	PartSize        int64         `mapstructure:"part_size" json:"part_size"`
	UseCompression  bool          `mapstructure:"use_compression" json:"use_compression"`
	StorageClass    string        `mapstructure:"storage_class" json:"storage_class"`
}

// S3Storage archives evaluation reports and risk assessments as JSON
// objects. Objects are written once; the existence check before an upload
// is not atomic, so concurrent writers of the same ID must be avoided.
type S3Storage struct {
	config   *S3Config
	s3Client *s3.S3
	uploader *s3manager.Uploader
	logger   *logrus.Logger
	mu       sync.RWMutex
	metrics  *storageMetrics
	closed   bool
}

type storageMetrics struct {
	readOps      int64
	writeOps     int64
	errorCount   int64
	bytesRead    int64
	bytesWritten int64
	startTime    time.Time
	mu           sync.RWMutex
}

// Stats is a snapshot of the operation counters
type Stats struct {
	ReadOps      int64         `json:"read_ops"`
	WriteOps     int64         `json:"write_ops"`
	ErrorCount   int64         `json:"error_count"`
	BytesRead    int64         `json:"bytes_read"`
	BytesWritten int64         `json:"bytes_written"`
	Uptime       time.Duration `json:"uptime"`
}

// NewS3Storage creates a new S3 storage instance
func NewS3Storage(config *S3Config, logger *logrus.Logger) (*S3Storage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidStorageConfig, "S3 config cannot be nil")
	}

	if config.Bucket == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidStorageConfig, "S3 bucket is required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &S3Storage{
		config:  config,
		logger:  logger,
		metrics: &storageMetrics{startTime: time.Now()},
	}, nil
}

// Connect creates the AWS session and checks that the bucket is reachable
func (s *S3Storage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.s3Client != nil {
		return nil
	}

	awsConfig := &aws.Config{
		Region:     aws.String(s.config.Region),
		MaxRetries: aws.Int(s.config.MaxRetries),
	}

	if s.config.AccessKeyID != "" && s.config.SecretAccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			s.config.AccessKeyID,
			s.config.SecretAccessKey,
			s.config.SessionToken,
		)
	}

	// S3-compatible services
	if s.config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(s.config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(s.config.ForcePathStyle)
	}

	if s.config.DisableSSL {
		awsConfig.DisableSSL = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "SESSION_FAILED", "Failed to create AWS session")
	}

	client := s3.New(sess)
	uploader := s3manager.NewUploaderWithClient(client)
	if s.config.PartSize > 0 {
		uploader.PartSize = s.config.PartSize
	}

	if _, err := client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.config.Bucket)}); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "BUCKET_ACCESS_FAILED",
			fmt.Sprintf("Failed to access bucket '%s'", s.config.Bucket))
	}

	s.s3Client = client
	s.uploader = uploader
	s.closed = false

	s.logger.WithFields(logrus.Fields{
		"region": s.config.Region,
		"bucket": s.config.Bucket,
	}).Info("Connected to S3")

	return nil
}

// Close releases the S3 client
func (s *S3Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.s3Client = nil
	s.uploader = nil
	s.closed = true

	s.logger.Info("S3 connection closed")
	return nil
}

// Ping checks that the bucket is still reachable
func (s *S3Storage) Ping(ctx context.Context) error {
	client, _, err := s.conn()
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.config.Bucket)}); err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "PING_FAILED", "S3 ping failed")
	}
	return nil
}

// SaveReport archives an evaluation report
func (s *S3Storage) SaveReport(ctx context.Context, report *models.EvaluationReport) error {
	if report == nil || report.ID == "" {
		return errors.NewValidationError(errors.CodeMissingField, "evaluation report ID is required")
	}
	return s.putOnce(ctx, s.generateKey("reports", report.ID), "evaluation report", report.ID, report)
}

// GetReport reads an archived evaluation report
func (s *S3Storage) GetReport(ctx context.Context, id string) (*models.EvaluationReport, error) {
	var report models.EvaluationReport
	if err := s.get(ctx, s.generateKey("reports", id), "evaluation report", id, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// SaveAssessment archives a risk assessment
func (s *S3Storage) SaveAssessment(ctx context.Context, assessment *models.RiskAssessment) error {
	if assessment == nil || assessment.ID == "" {
		return errors.NewValidationError(errors.CodeMissingField, "risk assessment ID is required")
	}
	return s.putOnce(ctx, s.generateKey("assessments", assessment.ID), "risk assessment", assessment.ID, assessment)
}

// GetAssessment reads an archived risk assessment
func (s *S3Storage) GetAssessment(ctx context.Context, id string) (*models.RiskAssessment, error) {
	var assessment models.RiskAssessment
	if err := s.get(ctx, s.generateKey("assessments", id), "risk assessment", id, &assessment); err != nil {
		return nil, err
	}
	return &assessment, nil
}

// GetStats returns the operation counters
func (s *S3Storage) GetStats() Stats {
	s.metrics.mu.RLock()
	defer s.metrics.mu.RUnlock()

	return Stats{
		ReadOps:      s.metrics.readOps,
		WriteOps:     s.metrics.writeOps,
		ErrorCount:   s.metrics.errorCount,
		BytesRead:    s.metrics.bytesRead,
		BytesWritten: s.metrics.bytesWritten,
		Uptime:       time.Since(s.metrics.startTime),
	}
}

func (s *S3Storage) conn() (*s3.S3, *s3manager.Uploader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return nil, nil, errors.NewNotConnectedError("S3")
	}
	return s.s3Client, s.uploader, nil
}

func (s *S3Storage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Timeout > 0 {
		return context.WithTimeout(ctx, s.config.Timeout)
	}
	return context.WithCancel(ctx)
}

func (s *S3Storage) putOnce(ctx context.Context, key, kind, id string, value interface{}) error {
	client, uploader, err := s.conn()
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	exists, err := s.exists(ctx, client, key)
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, fmt.Sprintf("Failed to check %s", kind))
	}
	if exists {
		return errors.NewDuplicateRecordError(kind, id)
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerializationFailed, fmt.Sprintf("Failed to serialize %s", kind))
	}

	var contentEncoding *string
	if s.config.UseCompression {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(payload); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, "COMPRESSION_FAILED", "Failed to compress data")
		}
		if err := gz.Close(); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, "COMPRESSION_FAILED", "Failed to compress data")
		}
		payload = buf.Bytes()
		contentEncoding = aws.String("gzip")
	}

	input := &s3manager.UploadInput{
		Bucket:          aws.String(s.config.Bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(payload),
		ContentType:     aws.String("application/json"),
		ContentEncoding: contentEncoding,
		Metadata: map[string]*string{
			"record-kind": aws.String(kind),
			"record-id":   aws.String(id),
		},
	}
	if s.config.StorageClass != "" {
		input.StorageClass = aws.String(s.config.StorageClass)
	}

	if _, err := uploader.UploadWithContext(ctx, input); err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, fmt.Sprintf("Failed to upload %s", kind))
	}

	s.metrics.mu.Lock()
	s.metrics.writeOps++
	s.metrics.bytesWritten += int64(len(payload))
	s.metrics.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"key":        key,
		"kind":       kind,
		"size":       len(payload),
		"compressed": s.config.UseCompression,
	}).Debug("Record archived")
	return nil
}

func (s *S3Storage) exists(ctx context.Context, client *s3.S3, key string) (bool, error) {
	_, err := client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func (s *S3Storage) get(ctx context.Context, key, kind, id string, out interface{}) error {
	client, _, err := s.conn()
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return errors.NewRecordNotFoundError(kind, id)
		}
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, fmt.Sprintf("Failed to read %s", kind))
	}
	defer result.Body.Close()

	payload, err := io.ReadAll(result.Body)
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, fmt.Sprintf("Failed to read %s", kind))
	}

	s.metrics.mu.Lock()
	s.metrics.readOps++
	s.metrics.bytesRead += int64(len(payload))
	s.metrics.mu.Unlock()

	if payload, err = decompress(payload); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "DECOMPRESSION_FAILED", "Failed to decompress data")
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerializationFailed, fmt.Sprintf("Failed to decode %s", kind))
	}
	return nil
}

// decompress inflates gzip payloads. The HTTP transport may already have
// removed the content encoding, so the magic bytes decide.
func decompress(payload []byte) ([]byte, error) {
	if len(payload) < 2 || payload[0] != 0x1f || payload[1] != 0x8b {
		return payload, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}

func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

func (s *S3Storage) generateKey(kind, id string) string {
	if s.config.Prefix != "" {
		return path.Join(s.config.Prefix, kind, id+".json")
	}
	return path.Join(kind, id+".json")
}

func (s *S3Storage) incrementErrorCount() {
	s.metrics.mu.Lock()
	s.metrics.errorCount++
	s.metrics.mu.Unlock()
}
