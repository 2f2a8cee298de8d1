package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cityflow/vehown/assemble"
	"cityflow/vehown/config"
	"cityflow/vehown/covariate"
	"cityflow/vehown/frame"
	"cityflow/vehown/model"
	"cityflow/vehown/services"
)

// PreprocessStages builds the covariate tables and then the model input.
func PreprocessStages(cfg *config.Preprocess, logger *zap.Logger) []Stage {
	b := covariate.NewBuilder(cfg, logger)
	a := assemble.NewAssembler(cfg, logger)
	return []Stage{
		{Name: "emp_accessibility", Run: func(context.Context) (int, error) { return rows(b.EmpAccessibility()) }},
		{Name: "activity_density", Run: func(context.Context) (int, error) { return rows(b.ActivityDensity()) }},
		{Name: "intersection_density", Run: func(context.Context) (int, error) { return rows(b.IntDenByBG()) }},
		{Name: "assemble_inputs", Run: func(context.Context) (int, error) { return rows(a.Run()) }},
	}
}

// Sinks are the optional destinations of an aggregated summary. Nil fields
// are skipped.
type Sinks struct {
	Store     *services.Store
	Publisher *services.Publisher
}

// Application holds the state of one model application run.
type Application struct {
	cfg   *config.Model
	model model.CountModel
	sinks Sinks
	log   *zap.Logger

	RunID string
	// Split is the table saved and aggregated: the zone-split households, or
	// the scored households themselves when no factor file is configured.
	Split *frame.Frame
	Agg   *frame.Frame
}

func NewApplication(cfg *config.Model, m model.CountModel, sinks Sinks, logger *zap.Logger) *Application {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Application{cfg: cfg, model: m, sinks: sinks, log: logger, RunID: uuid.NewString()}
}

// Stages lists load, score, split (when a factor file is configured), save
// and, when enabled, aggregate plus the configured sinks.
func (a *Application) Stages() []Stage {
	stages := []Stage{
		{Name: "load_data", Run: func(context.Context) (int, error) {
			return 0, a.model.LoadData()
		}},
		{Name: "run_model", Run: func(context.Context) (int, error) {
			if err := a.model.RunModel(); err != nil {
				return 0, err
			}
			var err error
			a.Split, err = a.model.Results()
			return rows(a.Split, err)
		}},
	}
	if a.cfg.BlkFctFile != "" {
		stages = append(stages, Stage{Name: "split_hh_to_taz", Run: func(context.Context) (int, error) {
			factors, err := model.ReadSplitFactors(a.cfg)
			if err != nil {
				return 0, err
			}
			a.Split, err = model.SplitHHToTAZ(a.model, factors, a.cfg.SplitFctField, model.SplitFields(a.cfg))
			return rows(a.Split, err)
		}})
	}
	stages = append(stages, Stage{Name: "save_results", Run: func(context.Context) (int, error) {
		if err := model.SaveResults(a.Split, a.cfg.Path(a.cfg.OutputDisaggFile)); err != nil {
			return 0, err
		}
		return a.Split.Len(), nil
	}})
	if !a.cfg.Aggregate {
		return stages
	}
	stages = append(stages, Stage{Name: "aggregate_results", Run: func(context.Context) (int, error) {
		var err error
		if a.Agg, err = model.AggregateResults(a.Split, a.cfg.OutputAggFields); err != nil {
			return 0, err
		}
		if err := a.Agg.WriteCSV(a.cfg.Path(a.cfg.OutputAggFile)); err != nil {
			return 0, err
		}
		return a.Agg.Len(), nil
	}})
	if a.sinks.Store != nil {
		stages = append(stages, Stage{Name: "store_summary", Run: func(ctx context.Context) (int, error) {
			if err := a.sinks.Store.EnsureSchema(ctx); err != nil {
				return 0, err
			}
			return a.sinks.Store.StoreSummary(ctx, a.RunID, time.Now().UTC(), a.Agg)
		}})
	}
	if a.sinks.Publisher.Available() {
		stages = append(stages, Stage{Name: "publish_summary", Run: func(ctx context.Context) (int, error) {
			summary, err := a.Summary()
			if err != nil {
				return 0, err
			}
			return 1, a.sinks.Publisher.Publish(ctx, summary)
		}})
	}
	return stages
}

// Summary totals the aggregated fields of the run.
func (a *Application) Summary() (services.RunSummary, error) {
	s := services.RunSummary{
		RunID:  a.RunID,
		TS:     time.Now().UTC(),
		Model:  a.cfg.ModelSpecFile,
		Totals: make(map[string]float64),
	}
	if res, err := a.model.Results(); err == nil {
		s.Households = res.Len()
	}
	if a.Agg == nil {
		return s, nil
	}
	s.Zones = a.Agg.Len()
	for _, field := range a.cfg.OutputAggFields[1:] {
		vals, err := a.Agg.Floats(field)
		if err != nil {
			return s, err
		}
		for _, v := range vals {
			s.Totals[field] += v
		}
	}
	return s, nil
}

func rows(f *frame.Frame, err error) (int, error) {
	if err != nil {
		return 0, err
	}
	return f.Len(), nil
}
