package ml

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ModelVersion represents a registered model.
type ModelVersion struct {
	Version   string       `json:"version"`
	ModelID   string       `json:"model_id"`
	CreatedAt time.Time    `json:"created_at"`
	Metrics   ModelMetrics `json:"metrics"`
	IsActive  bool         `json:"is_active"`
}

// ModelMetrics contains the headline numbers of a training run.
type ModelMetrics struct {
	TrainRMSE       float64 `json:"train_rmse"`
	TrainR2         float64 `json:"train_r2"`
	OOBRMSE         float64 `json:"oob_rmse,omitempty"`
	OOBR2           float64 `json:"oob_r2,omitempty"`
	TrainingSamples int     `json:"training_samples"`
	Trees           int     `json:"trees"`
	ExplainMethod   string  `json:"explain_method"`
}

// ModelStore is the persistence the registry needs.
type ModelStore interface {
	PutModel(id string, artifact, versions []byte) error
	GetModel(id string) ([]byte, error)
	PutVersions(versions []byte) error
	GetVersions() ([]byte, error)
}

// ModelManager handles model versioning and rollback. Versions are kept newest first.
type ModelManager struct {
	mu           sync.Mutex
	store        ModelStore
	versions     []ModelVersion
	currentModel *ModelVersion
}

// NewModelManager loads the version list from store.
func NewModelManager(store ModelStore) (*ModelManager, error) {
	mm := &ModelManager{store: store}
	if err := mm.loadVersions(); err != nil {
		return nil, fmt.Errorf("load model versions: %w", err)
	}
	return mm, nil
}

func metricsOf(m *TrainedModel) ModelMetrics {
	mm := ModelMetrics{
		TrainRMSE:       m.Report.TrainRMSE,
		TrainR2:         m.Report.TrainR2,
		TrainingSamples: m.Report.Rows,
		Trees:           m.Report.Trees,
		ExplainMethod:   m.explainer.Method(),
	}
	if m.Report.OOB != nil {
		mm.OOBRMSE = m.Report.OOB.RMSE
		mm.OOBR2 = m.Report.OOB.R2
	}
	return mm
}

// AddVersion stores m and registers it as a new, inactive version.
func (mm *ModelManager) AddVersion(m *TrainedModel) (ModelVersion, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	artifact, err := m.Encode()
	if err != nil {
		return ModelVersion{}, fmt.Errorf("encode model: %w", err)
	}

	version := ModelVersion{
		Version:   m.CreatedAt.UTC().Format("20060102-150405") + "-" + m.ID[:min(8, len(m.ID))],
		ModelID:   m.ID,
		CreatedAt: m.CreatedAt,
		Metrics:   metricsOf(m),
	}
	versions := append([]ModelVersion{}, mm.versions...)
	versions = append(versions, version)
	sortVersions(versions)

	data, err := json.Marshal(versions)
	if err != nil {
		return ModelVersion{}, err
	}
	if err := mm.store.PutModel(m.ID, artifact, data); err != nil {
		return ModelVersion{}, err
	}
	mm.setVersions(versions)

	log.Info().Str("version", version.Version).Str("model_id", m.ID).Msg("Model version registered")
	return version, nil
}

// ActivateVersion marks version as the active model.
func (mm *ModelManager) ActivateVersion(version string) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.activate(version)
}

func (mm *ModelManager) activate(version string) error {
	versions := append([]ModelVersion{}, mm.versions...)
	found := false
	for i := range versions {
		versions[i].IsActive = versions[i].Version == version
		found = found || versions[i].IsActive
	}
	if !found {
		return fmt.Errorf("version %s not found", version)
	}

	data, err := json.Marshal(versions)
	if err != nil {
		return err
	}
	if err := mm.store.PutVersions(data); err != nil {
		return err
	}
	mm.setVersions(versions)
	log.Info().Str("version", version).Msg("Model version activated")
	return nil
}

// Rollback activates the version registered just before the active one.
func (mm *ModelManager) Rollback() (ModelVersion, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if len(mm.versions) < 2 {
		return ModelVersion{}, fmt.Errorf("no previous version available for rollback")
	}

	currentIdx := -1
	for i, v := range mm.versions {
		if v.IsActive {
			currentIdx = i
			break
		}
	}
	if currentIdx == -1 {
		return ModelVersion{}, fmt.Errorf("no active version found")
	}
	if currentIdx+1 >= len(mm.versions) {
		return ModelVersion{}, fmt.Errorf("no previous version available")
	}

	target := mm.versions[currentIdx+1].Version
	if err := mm.activate(target); err != nil {
		return ModelVersion{}, err
	}
	return *mm.currentModel, nil
}

// GetCurrentVersion returns the active version, or nil.
func (mm *ModelManager) GetCurrentVersion() *ModelVersion {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.currentModel == nil {
		return nil
	}
	v := *mm.currentModel
	return &v
}

// ListVersions returns all versions, newest first.
func (mm *ModelManager) ListVersions() []ModelVersion {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return append([]ModelVersion{}, mm.versions...)
}

// Load decodes the model registered under version.
func (mm *ModelManager) Load(version string) (*TrainedModel, error) {
	mm.mu.Lock()
	var id string
	for _, v := range mm.versions {
		if v.Version == version {
			id = v.ModelID
		}
	}
	mm.mu.Unlock()
	if id == "" {
		return nil, fmt.Errorf("version %s not found", version)
	}

	data, err := mm.store.GetModel(id)
	if err != nil {
		return nil, err
	}
	return DecodeModel(data)
}

// LoadActive decodes the active model.
func (mm *ModelManager) LoadActive() (*TrainedModel, error) {
	current := mm.GetCurrentVersion()
	if current == nil {
		return nil, ErrNoModel
	}
	return mm.Load(current.Version)
}

func (mm *ModelManager) loadVersions() error {
	data, err := mm.store.GetVersions()
	if err != nil || data == nil {
		return err
	}
	var versions []ModelVersion
	if err := json.Unmarshal(data, &versions); err != nil {
		return err
	}
	sortVersions(versions)
	mm.setVersions(versions)
	return nil
}

func (mm *ModelManager) setVersions(versions []ModelVersion) {
	mm.versions = versions
	mm.currentModel = nil
	for i := range mm.versions {
		if mm.versions[i].IsActive {
			mm.currentModel = &mm.versions[i]
			break
		}
	}
}

func sortVersions(versions []ModelVersion) {
	sort.SliceStable(versions, func(i, j int) bool {
		if versions[i].CreatedAt.Equal(versions[j].CreatedAt) {
			return versions[i].Version > versions[j].Version
		}
		return versions[i].CreatedAt.After(versions[j].CreatedAt)
	})
}
