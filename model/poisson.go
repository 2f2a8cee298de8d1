package model

import (
	"fmt"
	"math"
	"strconv"

	"go.uber.org/zap"

	"cityflow/vehown/config"
	"cityflow/vehown/errs"
	"cityflow/vehown/frame"
)

// PoissonModel predicts household vehicles as the rounded mean of a Poisson
// count model with a log link.
type PoissonModel struct {
	cfg  *config.Model
	spec *config.Spec
	log  *zap.Logger

	data    *frame.Frame
	columns []string
	scored  bool
}

// NewPoissonModel reads the coefficient specification named by cfg.
func NewPoissonModel(cfg *config.Model, logger *zap.Logger) (*PoissonModel, error) {
	spec, err := config.LoadSpec(cfg.Path(cfg.ModelSpecFile))
	if err != nil {
		return nil, err
	}
	return NewPoissonModelWithSpec(cfg, spec, logger), nil
}

// NewPoissonModelWithSpec builds a model around an already loaded spec.
func NewPoissonModelWithSpec(cfg *config.Model, spec *config.Spec, logger *zap.Logger) *PoissonModel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoissonModel{cfg: cfg, spec: spec, log: logger}
}

// LoadData reads the assembled model input table.
func (m *PoissonModel) LoadData() error {
	path := m.cfg.Path(m.cfg.InputDataFile)
	data, err := frame.ReadCSV(path, frame.ReadOptions{Keys: m.cfg.KeyFields})
	if err != nil {
		return fmt.Errorf("loading model input: %w", err)
	}
	return m.Load(data)
}

// Load takes ownership of an in-memory input table. Every coefficient other
// than the constant must resolve to a numeric column; empty cells become 0.
func (m *PoissonModel) Load(data *frame.Frame) error {
	columns := make([]string, 0, len(m.spec.Terms()))
	for _, c := range m.spec.Terms() {
		col, err := m.spec.Column(c.Name)
		if err != nil {
			return err
		}
		if !data.Has(col) {
			return &errs.InputFileError{
				Path:   data.Source(),
				Column: col,
				Err:    fmt.Errorf("needed by coefficient %s", c.Name),
			}
		}
		if data.IsKey(col) {
			return &errs.InputFileError{
				Path:   data.Source(),
				Column: col,
				Err:    fmt.Errorf("coefficient %s applied to an identifier column", c.Name),
			}
		}
		columns = append(columns, col)
	}
	data.FillNaN(0)
	m.data = data
	m.columns = columns
	m.scored = false
	m.log.Info("model input loaded",
		zap.String("source", data.Source()),
		zap.Int("households", data.Len()),
		zap.Int("terms", len(columns)))
	return nil
}

// RunModel scores every household: the log link is the constant plus the
// sum of coefficient times value in declaration order, and the predicted
// count is exp of the link rounded half to even.
func (m *PoissonModel) RunModel() error {
	if m.data == nil {
		return &errs.SequencingError{Op: "RunModel", Requires: "LoadData"}
	}
	n := m.data.Len()
	logCount := make([]float64, n)
	intercept := m.spec.Intercept().Value
	for i := range logCount {
		logCount[i] = intercept
	}
	for k, c := range m.spec.Terms() {
		vals, err := m.data.Floats(m.columns[k])
		if err != nil {
			return err
		}
		for i, v := range vals {
			logCount[i] += c.Value * v
		}
	}

	pred := make([]float64, n)
	for i, x := range logCount {
		p := math.RoundToEven(math.Exp(x))
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return &errs.NumericDomainError{
				Quantity: ColPredVeh,
				Detail:   "log count " + strconv.FormatFloat(x, 'g', -1, 64) + " at row " + strconv.Itoa(i),
			}
		}
		pred[i] = p
	}

	if err := m.data.SetFloats(ColLogCount, logCount); err != nil {
		return err
	}
	if err := m.data.SetFloats(ColPredVeh, pred); err != nil {
		return err
	}
	for i, flags := range OwnershipFlags(pred, len(m.cfg.VehFields)) {
		if err := m.data.SetFloats(m.cfg.VehFields[i], flags); err != nil {
			return err
		}
	}
	m.scored = true
	m.log.Info("model applied", zap.Int("households", n))
	return nil
}

// Results returns the scored table.
func (m *PoissonModel) Results() (*frame.Frame, error) {
	if !m.scored {
		return nil, &errs.SequencingError{Op: "Results", Requires: "RunModel"}
	}
	return m.data, nil
}
