package storage

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/synthcert/pkg/errors"
	"github.com/inferloop/synthcert/pkg/models"
)

// MemoryStorage keeps runs, reports and assessments in process. Records are
// stored as JSON so callers never share memory with the store.
type MemoryStorage struct {
	mu          sync.RWMutex
	runs        map[string][]byte
	reports     map[string][]byte
	assessments map[string][]byte
	connected   bool
	logger      *logrus.Logger
}

// NewMemoryStorage creates an empty in-process store
func NewMemoryStorage(logger *logrus.Logger) *MemoryStorage {
	if logger == nil {
		logger = logrus.New()
	}
	return &MemoryStorage{
		runs:        make(map[string][]byte),
		reports:     make(map[string][]byte),
		assessments: make(map[string][]byte),
		logger:      logger,
	}
}

func (m *MemoryStorage) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return errors.NewNotConnectedError("memory")
	}
	return nil
}

// SaveRun inserts or replaces a run until it has been finalized
func (m *MemoryStorage) SaveRun(ctx context.Context, run *models.TrainingRun) error {
	if run == nil || run.ID == "" {
		return errors.NewValidationError(errors.CodeMissingField, "training run ID is required")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerializationFailed, "Failed to serialize training run")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkConnected(); err != nil {
		return err
	}

	if prev, ok := m.runs[run.ID]; ok {
		var stored models.TrainingRun
		if err := json.Unmarshal(prev, &stored); err == nil && stored.FinalizedAt != nil {
			return errors.NewRunFinalizedError(run.ID)
		}
	}
	m.runs[run.ID] = data
	return nil
}

func (m *MemoryStorage) GetRun(ctx context.Context, id string) (*models.TrainingRun, error) {
	var run models.TrainingRun
	if err := m.load(m.runs, "training run", id, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (m *MemoryStorage) SaveReport(ctx context.Context, report *models.EvaluationReport) error {
	if report == nil || report.ID == "" {
		return errors.NewValidationError(errors.CodeMissingField, "evaluation report ID is required")
	}
	return m.storeOnce(m.reports, "evaluation report", report.ID, report)
}

func (m *MemoryStorage) GetReport(ctx context.Context, id string) (*models.EvaluationReport, error) {
	var report models.EvaluationReport
	if err := m.load(m.reports, "evaluation report", id, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (m *MemoryStorage) SaveAssessment(ctx context.Context, assessment *models.RiskAssessment) error {
	if assessment == nil || assessment.ID == "" {
		return errors.NewValidationError(errors.CodeMissingField, "risk assessment ID is required")
	}
	return m.storeOnce(m.assessments, "risk assessment", assessment.ID, assessment)
}

func (m *MemoryStorage) GetAssessment(ctx context.Context, id string) (*models.RiskAssessment, error) {
	var assessment models.RiskAssessment
	if err := m.load(m.assessments, "risk assessment", id, &assessment); err != nil {
		return nil, err
	}
	return &assessment, nil
}

func (m *MemoryStorage) checkConnected() error {
	if !m.connected {
		return errors.NewNotConnectedError("memory")
	}
	return nil
}

func (m *MemoryStorage) storeOnce(bucket map[string][]byte, kind, id string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerializationFailed, "Failed to serialize "+kind)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkConnected(); err != nil {
		return err
	}
	if _, ok := bucket[id]; ok {
		return errors.NewDuplicateRecordError(kind, id)
	}
	bucket[id] = data

	m.logger.WithFields(logrus.Fields{
		"kind": kind,
		"id":   id,
	}).Debug("Record stored")
	return nil
}

func (m *MemoryStorage) load(bucket map[string][]byte, kind, id string, out interface{}) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkConnected(); err != nil {
		return err
	}
	data, ok := bucket[id]
	if !ok {
		return errors.NewRecordNotFoundError(kind, id)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerializationFailed, "Failed to decode "+kind)
	}
	return nil
}
