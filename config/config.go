package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"cityflow/vehown/errs"
)

const (
	defaultStateFIPS          = 25
	defaultLowIncomeThreshold = 35000
	defaultPublishChannel     = "vehown:runs"
)

// Preprocess configures the covariate builder and the input assembler.
type Preprocess struct {
	File string `yaml:"-"`

	InFolder  string `yaml:"in_folder"`
	OutFolder string `yaml:"out_folder"`

	SOVSkimFile     string    `yaml:"sov_skim_file"`
	SOVSkimName     string    `yaml:"sov_skim_name"`
	SOVTimes        []float64 `yaml:"sov_times"`
	TransitSkimFile string    `yaml:"transit_skim_file"`
	TransitSkimName string    `yaml:"transit_skim_name"`
	TransitTimes    []float64 `yaml:"transit_times"`
	SkimIndex       string    `yaml:"skim_index"`
	TAZEmpFile      string    `yaml:"taz_emp_file"`
	EmpCols         []string  `yaml:"emp_cols"`
	EmpAccessFile   string    `yaml:"emp_access_file"`

	UrbansimFile string `yaml:"urbansim_file"`
	GQPopFile    string `yaml:"gq_pop_file"`
	LandAreaFile string `yaml:"landarea_file"`
	BlkFctFile   string `yaml:"blk_fct_file"`
	ActDenFile   string `yaml:"act_den_file"`

	SmartLocFile string `yaml:"smart_loc_file"`
	IntDenFile   string `yaml:"int_den_file"`
	StateFIPS    int    `yaml:"state_fips"`

	BlkTAZFile         string   `yaml:"blk_taz_file"`
	HHFields           []string `yaml:"hh_fields"`
	HHSizeFields       []string `yaml:"hh_size_fields"`
	WorkerFields       []string `yaml:"worker_fields"`
	LowIncomeThreshold float64  `yaml:"low_income_threshold"`
	KeepUnmatchedZones bool     `yaml:"keep_unmatched_zones"`
	ModelInputFile     string   `yaml:"model_input_file"`

	MetricsFile string `yaml:"metrics_file"`
}

var preprocessRequired = []string{
	"in_folder", "out_folder",
	"sov_skim_file", "transit_skim_file", "taz_emp_file", "emp_cols", "emp_access_file",
	"sov_times", "sov_skim_name", "transit_times", "transit_skim_name", "skim_index",
	"urbansim_file", "gq_pop_file", "landarea_file", "blk_fct_file", "act_den_file",
	"smart_loc_file", "int_den_file",
	"blk_taz_file", "hh_fields", "hh_size_fields", "worker_fields", "model_input_file",
}

// In resolves an input file name against the input folder.
func (p *Preprocess) In(name string) string { return resolve(p.InFolder, name) }

// Out resolves an output file name against the output folder.
func (p *Preprocess) Out(name string) string { return resolve(p.OutFolder, name) }

// Model configures one count-model application run.
type Model struct {
	File string `yaml:"-"`

	WorkingDir       string   `yaml:"working_dir"`
	InputDataFile    string   `yaml:"input_data_file"`
	OutputDisaggFile string   `yaml:"output_disagg_file"`
	Aggregate        Flag     `yaml:"aggregate"`
	OutputAggFile    string   `yaml:"output_agg_file"`
	OutputAggFields  []string `yaml:"output_agg_fields"`
	ModelSpecFile    string   `yaml:"model_spec_file"`
	VehFields        []string `yaml:"veh_fields"`
	BlkFctFile       string   `yaml:"blk_fct_file"`
	SplitFctField    string   `yaml:"split_fct_field"`
	KeyFields        []string `yaml:"key_fields"`

	Database       DatabaseConfig `yaml:"database"`
	RedisURL       string         `yaml:"redis_url"`
	PublishChannel string         `yaml:"publish_channel"`
	MetricsFile    string         `yaml:"metrics_file"`
}

var modelRequired = []string{
	"working_dir", "input_data_file", "output_disagg_file", "aggregate",
	"model_spec_file", "veh_fields",
}

// Path resolves a file name against the working directory.
func (m *Model) Path(name string) string { return resolve(m.WorkingDir, name) }

// DatabaseConfig locates the optional Postgres results store.
type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// Enabled reports whether a store was configured.
func (d DatabaseConfig) Enabled() bool { return d.DSN != "" || d.Host != "" }

func (d DatabaseConfig) GetDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// Flag is a yes/no setting. It accepts YAML booleans as well as the strings
// yes, no, y, n, on and off.
type Flag bool

func (f *Flag) UnmarshalYAML(value *yaml.Node) error {
	switch strings.ToLower(strings.TrimSpace(value.Value)) {
	case "yes", "y", "true", "on", "1":
		*f = true
	case "no", "n", "false", "off", "0", "":
		*f = false
	default:
		return fmt.Errorf("line %d: %q is not a yes/no value", value.Line, value.Value)
	}
	return nil
}

// LoadPreprocess reads and validates a preprocessing setup document.
func LoadPreprocess(path string) (*Preprocess, error) {
	doc, err := loadDocument(path, preprocessRequired)
	if err != nil {
		return nil, err
	}
	cfg := &Preprocess{
		StateFIPS:          defaultStateFIPS,
		LowIncomeThreshold: defaultLowIncomeThreshold,
	}
	if err := doc.Decode(cfg); err != nil {
		return nil, &errs.ConfigError{File: path, Err: err}
	}
	cfg.File = path
	if len(cfg.EmpCols) != 2 {
		return nil, &errs.ConfigError{File: path, Fields: []string{"emp_cols"}, Err: fmt.Errorf("want [zone column, employment column], got %d entries", len(cfg.EmpCols))}
	}
	if err := distinct(cfg.SOVTimes); err != nil {
		return nil, &errs.ConfigError{File: path, Fields: []string{"sov_times"}, Err: err}
	}
	if err := distinct(cfg.TransitTimes); err != nil {
		return nil, &errs.ConfigError{File: path, Fields: []string{"transit_times"}, Err: err}
	}
	cfg.MetricsFile = getEnv("VEHOWN_METRICS_FILE", cfg.MetricsFile)
	return cfg, nil
}

// LoadModel reads and validates a model application setup document.
func LoadModel(path string) (*Model, error) {
	doc, err := loadDocument(path, modelRequired)
	if err != nil {
		return nil, err
	}
	cfg := &Model{
		KeyFields:      []string{"household_id", "block_id", "blockgroup_id", "taz"},
		PublishChannel: defaultPublishChannel,
		Database:       DatabaseConfig{Port: 5432, SSLMode: "disable"},
	}
	if err := doc.Decode(cfg); err != nil {
		return nil, &errs.ConfigError{File: path, Err: err}
	}
	cfg.File = path
	if cfg.Aggregate {
		var missing []string
		if cfg.OutputAggFile == "" {
			missing = append(missing, "output_agg_file")
		}
		if len(cfg.OutputAggFields) == 0 {
			missing = append(missing, "output_agg_fields")
		}
		if len(missing) > 0 {
			return nil, &errs.ConfigError{File: path, Fields: missing, Err: errors.New("required when aggregate is enabled")}
		}
	}
	if len(cfg.VehFields) == 0 {
		return nil, &errs.ConfigError{File: path, Fields: []string{"veh_fields"}, Err: errors.New("at least one vehicle count field is needed")}
	}
	if cfg.BlkFctFile != "" && cfg.SplitFctField == "" {
		return nil, &errs.ConfigError{File: path, Fields: []string{"split_fct_field"}, Err: errors.New("required when blk_fct_file is set")}
	}

	cfg.Database.DSN = getEnv("VEHOWN_DB_DSN", cfg.Database.DSN)
	port, err := getIntEnv("VEHOWN_DB_PORT", cfg.Database.Port)
	if err != nil {
		return nil, &errs.ConfigError{File: path, Fields: []string{"VEHOWN_DB_PORT"}, Err: err}
	}
	cfg.Database.Port = port
	cfg.RedisURL = getEnv("VEHOWN_REDIS_URL", cfg.RedisURL)
	cfg.MetricsFile = getEnv("VEHOWN_METRICS_FILE", cfg.MetricsFile)
	return cfg, nil
}

func distinct(times []float64) error {
	seen := make(map[float64]bool, len(times))
	for _, t := range times {
		if seen[t] {
			return fmt.Errorf("threshold %g listed twice", t)
		}
		seen[t] = true
	}
	return nil
}

// loadDocument parses a YAML file and checks that every required top-level
// key is present. All missing keys are reported in one error.
func loadDocument(path string, required []string) (*yaml.Node, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.ConfigError{File: path, Err: err}
	}
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, &errs.ConfigError{File: path, Err: err}
	}
	doc := &root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}
	present := make(map[string]bool)
	switch doc.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(doc.Content); i += 2 {
			present[doc.Content[i].Value] = true
		}
	case 0, yaml.DocumentNode:
		doc = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	default:
		return nil, &errs.ConfigError{File: path, Err: fmt.Errorf("line %d: top level must be a mapping", doc.Line)}
	}

	var missing []string
	for _, key := range required {
		if !present[key] {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, &errs.ConfigError{File: path, Fields: missing, Err: errors.New("required setting not found")}
	}
	return doc, nil
}

func resolve(dir, name string) string {
	if name == "" || filepath.IsAbs(name) || dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getIntEnv(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}
