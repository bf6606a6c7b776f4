package features

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"court-pricer/internal/common"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

// minScale is the standard deviation below which a numeric feature counts as constant.
const minScale = 1e-12

// Row is a record flattened onto the encoded schema, one map per field kind.
type Row struct {
	Numeric     map[string]float64
	Categorical map[string]string
	Boolean     map[string]bool
}

// Column binds one encoded position to its source field.
type Column struct {
	Field    string `json:"field"`
	Kind     Kind   `json:"kind"`
	Category string `json:"category,omitempty"`
}

// Label is the human-readable name of the column, e.g. "court_surface=Clay".
func (c Column) Label() string {
	if c.Kind == Categorical {
		return c.Field + "=" + c.Category
	}
	return c.Field
}

// NumericScale holds the standardization parameters of one numeric field.
type NumericScale struct {
	Field      string  `json:"field"`
	Mean       float64 `json:"mean"`
	Scale      float64 `json:"scale"`
	Degenerate bool    `json:"degenerate,omitempty"`
}

// CategoryLevels holds the fitted vocabulary of one categorical field. The category
// at Reference is dropped from the indicator set and encodes as all zeros.
type CategoryLevels struct {
	Field      string   `json:"field"`
	Vocabulary []string `json:"vocabulary"`
	Reference  int      `json:"reference"`
}

// ReferenceCategory returns the dropped category.
func (c CategoryLevels) ReferenceCategory() string {
	return c.Vocabulary[c.Reference]
}

// EncoderState is the serializable fitted state of an Encoder.
type EncoderState struct {
	Numeric     []NumericScale   `json:"numeric"`
	Categorical []CategoryLevels `json:"categorical"`
	Boolean     []string         `json:"boolean"`
}

// Encoder standardizes numeric fields, one-hot encodes categorical fields (minus a
// reference category) and passes booleans through as 0/1. Fit once, then share.
type Encoder struct {
	fitted  bool
	state   EncoderState
	columns []Column
	offsets map[string]map[string]int // field -> category -> column index
}

// NewEncoder returns an unfitted encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// NewEncoderFromState rebuilds a fitted encoder from persisted state.
func NewEncoderFromState(st EncoderState) (*Encoder, error) {
	if err := st.validate(); err != nil {
		return nil, err
	}
	e := &Encoder{}
	e.install(st)
	return e, nil
}

// Fitted reports whether the encoder has learned its parameters.
func (e *Encoder) Fitted() bool { return e != nil && e.fitted }

// Fit learns scaling parameters and vocabularies from records.
func (e *Encoder) Fit(records []BookingRecord) error {
	rows := make([]Row, len(records))
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("training record %d: %w", i, err)
		}
		rows[i] = r.Row()
	}
	return e.FitRows(rows)
}

// FitTransform fits on records and returns their encoded matrix.
func (e *Encoder) FitTransform(records []BookingRecord) ([][]float64, error) {
	if err := e.Fit(records); err != nil {
		return nil, err
	}
	return e.TransformBatch(records)
}

// FitRows fits on already flattened rows.
func (e *Encoder) FitRows(rows []Row) error {
	if e.fitted {
		return fmt.Errorf("encoder: %w", common.ErrAlreadyFitted)
	}
	if len(rows) == 0 {
		return fmt.Errorf("encoder fit: %w", common.ErrEmptyDataset)
	}

	var st EncoderState
	for _, f := range FieldsOf(Numeric) {
		values := make([]float64, len(rows))
		for i, row := range rows {
			v, ok := row.Numeric[f.Name]
			if !ok {
				return &common.SchemaMismatchError{Field: f.Name, Reason: fmt.Sprintf("is missing in training row %d", i)}
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return &common.SchemaMismatchError{Field: f.Name, Reason: fmt.Sprintf("is not finite in training row %d", i)}
			}
			values[i] = v
		}
		mean, std := stat.PopMeanStdDev(values, nil)
		ns := NumericScale{Field: f.Name, Mean: mean, Scale: std}
		if std < minScale {
			ns.Scale = 1
			ns.Degenerate = true
			log.Warn().
				Err(&common.DegenerateFeatureError{Field: f.Name, Value: mean}).
				Str("field", f.Name).
				Msg("Zero variance numeric feature, using scale factor 1")
		}
		st.Numeric = append(st.Numeric, ns)
	}

	for _, f := range FieldsOf(Categorical) {
		seen := make(map[string]struct{})
		for i, row := range rows {
			v, ok := row.Categorical[f.Name]
			if !ok {
				return &common.SchemaMismatchError{Field: f.Name, Reason: fmt.Sprintf("is missing in training row %d", i)}
			}
			if !slices.Contains(f.Vocabulary, v) {
				return &common.UnseenCategoryError{Field: f.Name, Value: v}
			}
			seen[v] = struct{}{}
		}
		vocab := make([]string, 0, len(seen))
		for v := range seen {
			vocab = append(vocab, v)
		}
		sort.Strings(vocab)
		if len(vocab) == 1 {
			log.Debug().Str("field", f.Name).Str("category", vocab[0]).Msg("Single observed category, field encodes to no columns")
		}
		st.Categorical = append(st.Categorical, CategoryLevels{Field: f.Name, Vocabulary: vocab, Reference: 0})
	}

	for _, f := range FieldsOf(Boolean) {
		for i, row := range rows {
			if _, ok := row.Boolean[f.Name]; !ok {
				return &common.SchemaMismatchError{Field: f.Name, Reason: fmt.Sprintf("is missing in training row %d", i)}
			}
		}
		st.Boolean = append(st.Boolean, f.Name)
	}

	e.install(st)
	return nil
}

func (e *Encoder) install(st EncoderState) {
	e.state = st
	e.columns = e.columns[:0]
	e.offsets = make(map[string]map[string]int)
	for _, ns := range st.Numeric {
		e.columns = append(e.columns, Column{Field: ns.Field, Kind: Numeric})
	}
	for _, cl := range st.Categorical {
		idx := make(map[string]int, len(cl.Vocabulary))
		for i, cat := range cl.Vocabulary {
			if i == cl.Reference {
				idx[cat] = -1
				continue
			}
			idx[cat] = len(e.columns)
			e.columns = append(e.columns, Column{Field: cl.Field, Kind: Categorical, Category: cat})
		}
		e.offsets[cl.Field] = idx
	}
	for _, name := range st.Boolean {
		e.columns = append(e.columns, Column{Field: name, Kind: Boolean})
	}
	e.fitted = true
}

// Transform validates and encodes one record.
func (e *Encoder) Transform(r BookingRecord) ([]float64, error) {
	if !e.Fitted() {
		return nil, fmt.Errorf("encoder transform: %w", common.ErrNotFitted)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return e.TransformRow(r.Row())
}

// TransformBatch encodes records into a row-major matrix.
func (e *Encoder) TransformBatch(records []BookingRecord) ([][]float64, error) {
	out := make([][]float64, len(records))
	for i, r := range records {
		v, err := e.Transform(r)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// TransformRow encodes one flattened row.
func (e *Encoder) TransformRow(row Row) ([]float64, error) {
	if !e.Fitted() {
		return nil, fmt.Errorf("encoder transform: %w", common.ErrNotFitted)
	}
	vec := make([]float64, len(e.columns))
	pos := 0
	for _, ns := range e.state.Numeric {
		v, ok := row.Numeric[ns.Field]
		if !ok {
			return nil, &common.SchemaMismatchError{Field: ns.Field, Reason: "is required"}
		}
		vec[pos] = (v - ns.Mean) / ns.Scale
		pos++
	}
	for _, cl := range e.state.Categorical {
		v, ok := row.Categorical[cl.Field]
		if !ok {
			return nil, &common.SchemaMismatchError{Field: cl.Field, Reason: "is required"}
		}
		idx, ok := e.offsets[cl.Field][v]
		if !ok {
			return nil, &common.UnseenCategoryError{Field: cl.Field, Value: v}
		}
		if idx >= 0 {
			vec[idx] = 1
		}
		pos += len(cl.Vocabulary) - 1
	}
	for _, name := range e.state.Boolean {
		b, ok := row.Boolean[name]
		if !ok {
			return nil, &common.SchemaMismatchError{Field: name, Reason: "is required"}
		}
		if b {
			vec[pos] = 1
		}
		pos++
	}
	return vec, nil
}

// Columns returns the frozen positional schema of encoded vectors.
func (e *Encoder) Columns() []Column {
	return slices.Clone(e.columns)
}

// Width is the encoded vector length, zero before fit.
func (e *Encoder) Width() int { return len(e.columns) }

// State returns a deep copy of the fitted state.
func (e *Encoder) State() EncoderState {
	st := EncoderState{
		Numeric: slices.Clone(e.state.Numeric),
		Boolean: slices.Clone(e.state.Boolean),
	}
	for _, cl := range e.state.Categorical {
		cl.Vocabulary = slices.Clone(cl.Vocabulary)
		st.Categorical = append(st.Categorical, cl)
	}
	return st
}

// Scale returns the standardization parameters of a numeric field.
func (e *Encoder) Scale(field string) (NumericScale, bool) {
	for _, ns := range e.state.Numeric {
		if ns.Field == field {
			return ns, true
		}
	}
	return NumericScale{}, false
}

// Levels returns the fitted vocabulary of a categorical field.
func (e *Encoder) Levels(field string) (CategoryLevels, bool) {
	for _, cl := range e.state.Categorical {
		if cl.Field == field {
			cl.Vocabulary = slices.Clone(cl.Vocabulary)
			return cl, true
		}
	}
	return CategoryLevels{}, false
}

// validate checks persisted state against the schema.
func (st EncoderState) validate() error {
	numeric, categorical, boolean := FieldsOf(Numeric), FieldsOf(Categorical), FieldsOf(Boolean)
	if len(st.Numeric) != len(numeric) || len(st.Categorical) != len(categorical) || len(st.Boolean) != len(boolean) {
		return errors.New("encoder state does not cover the feature schema")
	}
	for i, f := range numeric {
		ns := st.Numeric[i]
		if ns.Field != f.Name {
			return fmt.Errorf("numeric field %d is %q, want %q", i, ns.Field, f.Name)
		}
		if !(ns.Scale > 0) || math.IsInf(ns.Scale, 0) || math.IsNaN(ns.Mean) {
			return fmt.Errorf("numeric field %q has invalid scaling (mean %g, scale %g)", ns.Field, ns.Mean, ns.Scale)
		}
	}
	for i, f := range categorical {
		cl := st.Categorical[i]
		if cl.Field != f.Name {
			return fmt.Errorf("categorical field %d is %q, want %q", i, cl.Field, f.Name)
		}
		if len(cl.Vocabulary) == 0 || cl.Reference < 0 || cl.Reference >= len(cl.Vocabulary) {
			return fmt.Errorf("categorical field %q has invalid vocabulary or reference index", cl.Field)
		}
		seen := make(map[string]struct{}, len(cl.Vocabulary))
		for _, v := range cl.Vocabulary {
			if !slices.Contains(f.Vocabulary, v) {
				return fmt.Errorf("categorical field %q: %w", cl.Field, &common.UnseenCategoryError{Field: cl.Field, Value: v})
			}
			if _, dup := seen[v]; dup {
				return fmt.Errorf("categorical field %q lists %q twice", cl.Field, v)
			}
			seen[v] = struct{}{}
		}
	}
	for i, f := range boolean {
		if st.Boolean[i] != f.Name {
			return fmt.Errorf("boolean field %d is %q, want %q", i, st.Boolean[i], f.Name)
		}
	}
	return nil
}
