package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"court-pricer/internal/common"
	"court-pricer/internal/features"
)

// ArtifactFormat is bumped whenever the persisted layout changes.
const ArtifactFormat = 1

// Artifact is the on-disk form of a TrainedModel. Encoder, model and explainer are
// always written together so a loaded bundle can never mix parts of different runs.
type Artifact struct {
	Format    int                    `json:"format"`
	ID        string                 `json:"id"`
	CreatedAt time.Time              `json:"created_at"`
	Report    *TrainingReport        `json:"report,omitempty"`
	Encoder   *features.EncoderState `json:"encoder"`
	Model     *ForestState           `json:"model"`
	Explainer *ExplainerState        `json:"explainer"`
}

// Artifact returns the persistable form of m.
func (m *TrainedModel) Artifact() Artifact {
	enc := m.encoder.State()
	model := m.model.State()
	expl := m.explainer.State()
	report := m.Report
	return Artifact{
		Format:    ArtifactFormat,
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
		Report:    &report,
		Encoder:   &enc,
		Model:     &model,
		Explainer: &expl,
	}
}

// Encode serializes m as JSON.
func (m *TrainedModel) Encode() ([]byte, error) {
	return json.Marshal(m.Artifact())
}

// DecodeModel parses an encoded artifact and checks that its parts fit together.
// Any problem is reported as a CorruptModelError.
func DecodeModel(data []byte) (*TrainedModel, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, &common.CorruptModelError{Part: "artifact", Reason: err.Error()}
	}
	return a.Restore()
}

// Restore rebuilds a TrainedModel from the artifact.
func (a Artifact) Restore() (*TrainedModel, error) {
	if a.Format != ArtifactFormat {
		return nil, &common.CorruptModelError{Part: "artifact", Reason: fmt.Sprintf("unsupported format %d", a.Format)}
	}
	switch {
	case a.Encoder == nil:
		return nil, &common.CorruptModelError{Part: "encoder", Reason: "missing"}
	case a.Model == nil:
		return nil, &common.CorruptModelError{Part: "model", Reason: "missing"}
	case a.Explainer == nil:
		return nil, &common.CorruptModelError{Part: "explainer", Reason: "missing"}
	}

	enc, err := features.NewEncoderFromState(*a.Encoder)
	if err != nil {
		return nil, &common.CorruptModelError{Part: "encoder", Reason: err.Error()}
	}
	model, err := NewPriceModelFromState(*a.Model)
	if err != nil {
		return nil, &common.CorruptModelError{Part: "model", Reason: err.Error()}
	}
	if model.Width() != enc.Width() {
		return nil, &common.CorruptModelError{
			Part:   "model",
			Reason: fmt.Sprintf("expects %d columns but encoder produces %d", model.Width(), enc.Width()),
		}
	}
	explainer, err := NewExplainerFromState(model, enc.Columns(), *a.Explainer)
	if err != nil {
		return nil, &common.CorruptModelError{Part: "explainer", Reason: err.Error()}
	}

	m := &TrainedModel{
		ID:        a.ID,
		CreatedAt: a.CreatedAt,
		encoder:   enc,
		model:     model,
		explainer: explainer,
	}
	if a.Report != nil {
		m.Report = *a.Report
	}
	return m, nil
}

// SaveFile writes m to path atomically through a temporary file.
func SaveFile(m *TrainedModel, path string) error {
	data, err := m.Encode()
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp model file: %w", err)
	}
	tempPath := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to sync model: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to close model file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename model file: %w", err)
	}
	return nil
}

// LoadFile reads a model written by SaveFile.
func LoadFile(path string) (*TrainedModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	m, err := DecodeModel(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return m, nil
}
