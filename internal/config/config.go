package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"kvs-bench/internal/backend"
	"kvs-bench/internal/scenario"
	"kvs-bench/internal/workload"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnknownPreset は存在しないプリセット名で返される
var ErrUnknownPreset = errors.New("unknown preset")

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Scenario ScenarioConfig `yaml:"scenario" json:"scenario"`
}

// ScenarioConfig はシナリオ設定
type ScenarioConfig struct {
	Preset      string `yaml:"preset" json:"preset"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	RampUp      string `yaml:"ramp_up" json:"ramp_up"`
	Duration    string `yaml:"duration" json:"duration"`
	Iterations  int    `yaml:"iterations" json:"iterations"`

	Stressors StressorConfig `yaml:"stressors" json:"stressors"`
	Backend   BackendConfig  `yaml:"backend" json:"backend"`
	Workload  WorkloadConfig `yaml:"workload" json:"workload"`
}

// StressorConfig はストレッサー設定
type StressorConfig struct {
	Count                int    `yaml:"count" json:"count"`
	MinWaiting           int    `yaml:"min_waiting" json:"min_waiting"`
	Max                  int    `yaml:"max" json:"max"`
	CreationDelay        string `yaml:"creation_delay" json:"creation_delay"`
	ThinkTime            string `yaml:"think_time" json:"think_time"`
	ExitOnFailure        *bool  `yaml:"exit_on_failure" json:"exit_on_failure"`
	LogTransactionErrors *bool  `yaml:"log_transaction_errors" json:"log_transaction_errors"`
	ExecutorWorkers      int    `yaml:"executor_workers" json:"executor_workers"`
}

// BackendConfig はバックエンド設定
type BackendConfig struct {
	Kind      string `yaml:"kind" json:"kind"`
	Nodes     int    `yaml:"nodes" json:"nodes"`
	Delay     string `yaml:"delay" json:"delay"`
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
	TTL       string `yaml:"ttl" json:"ttl"`
}

// WorkloadConfig はワークロード設定
// レートは window あたりの会話数
type WorkloadConfig struct {
	KeyRange        int    `yaml:"key_range" json:"key_range"`
	ValueSize       int    `yaml:"value_size" json:"value_size"`
	Window          string `yaml:"window" json:"window"`
	GetRate         *int   `yaml:"get_rate" json:"get_rate"`
	PutRate         *int   `yaml:"put_rate" json:"put_rate"`
	RemoveRate      *int   `yaml:"remove_rate" json:"remove_rate"`
	TxRate          *int   `yaml:"tx_rate" json:"tx_rate"`
	TransactionSize int    `yaml:"transaction_size" json:"transaction_size"`
	Commit          *bool  `yaml:"commit" json:"commit"`

	AsyncRate         *int     `yaml:"async_rate" json:"async_rate"`
	AsyncSteps        []string `yaml:"async_steps" json:"async_steps"`
	AsyncTransactions *bool    `yaml:"async_transactions" json:"async_transactions"`
	Pause             string   `yaml:"pause" json:"pause"`
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// ToScenarioConfig はFileConfigをscenario.Configに変換する
// preset が指定されていればそれを基に上書きする
func (f *FileConfig) ToScenarioConfig() (scenario.Config, error) {
	sc := f.Scenario

	config := scenario.DefaultConfig()
	if sc.Preset != "" {
		preset, ok := scenario.GetPreset(sc.Preset)
		if !ok {
			return config, fmt.Errorf("%q: %w", sc.Preset, ErrUnknownPreset)
		}
		config = preset
	}

	if sc.Name != "" {
		config.Name = sc.Name
	}
	if sc.Description != "" {
		config.Description = sc.Description
	}
	if err := parseDuration(sc.RampUp, "ramp_up", &config.RampUp); err != nil {
		return config, err
	}
	if err := parseDuration(sc.Duration, "duration", &config.Duration); err != nil {
		return config, err
	}
	if sc.Iterations > 0 {
		config.Iterations = sc.Iterations
	}

	if err := applyStressors(sc.Stressors, &config); err != nil {
		return config, err
	}
	if err := applyBackend(sc.Backend, &config.Backend); err != nil {
		return config, err
	}
	if err := applyWorkload(sc.Workload, &config.Workload); err != nil {
		return config, err
	}
	return config, nil
}

func applyStressors(s StressorConfig, config *scenario.Config) error {
	if s.Count > 0 {
		config.Stressors = s.Count
	}
	if s.MinWaiting > 0 {
		config.MinWaitingStressors = s.MinWaiting
	}
	if s.Max > 0 {
		config.MaxStressors = s.Max
	}
	if s.ExecutorWorkers > 0 {
		config.ExecutorWorkers = s.ExecutorWorkers
	}
	if s.ExitOnFailure != nil {
		config.ExitOnFailure = *s.ExitOnFailure
	}
	if s.LogTransactionErrors != nil {
		config.LogTransactionErrors = *s.LogTransactionErrors
	}
	if err := parseDuration(s.CreationDelay, "stressors.creation_delay", &config.MinStressorCreationDelay); err != nil {
		return err
	}
	return parseDuration(s.ThinkTime, "stressors.think_time", &config.ThinkTime)
}

func applyBackend(b BackendConfig, config *backend.Config) error {
	if b.Kind != "" {
		config.Kind = backend.Kind(strings.ToLower(b.Kind))
	}
	if b.Nodes > 0 {
		config.Nodes = b.Nodes
	}
	if b.Addr != "" {
		config.Addr = b.Addr
	}
	if b.Password != "" {
		config.Password = b.Password
	}
	if b.DB > 0 {
		config.DB = b.DB
	}
	if b.KeyPrefix != "" {
		config.KeyPrefix = b.KeyPrefix
	}
	if err := parseDuration(b.Delay, "backend.delay", &config.Delay); err != nil {
		return err
	}
	return parseDuration(b.TTL, "backend.ttl", &config.TTL)
}

func applyWorkload(w WorkloadConfig, config *workload.Config) error {
	if w.KeyRange > 0 {
		config.KeyRange = w.KeyRange
	}
	if w.ValueSize > 0 {
		config.ValueSize = w.ValueSize
	}
	if w.TransactionSize > 0 {
		config.TransactionSize = w.TransactionSize
	}
	setInt(w.GetRate, &config.GetRate)
	setInt(w.PutRate, &config.PutRate)
	setInt(w.RemoveRate, &config.RemoveRate)
	setInt(w.TxRate, &config.TxRate)
	setInt(w.AsyncRate, &config.AsyncRate)
	if w.Commit != nil {
		config.Commit = *w.Commit
	}
	if w.AsyncTransactions != nil {
		config.AsyncTransactions = *w.AsyncTransactions
	}
	if len(w.AsyncSteps) > 0 {
		config.AsyncSteps = w.AsyncSteps
	}
	if err := parseDuration(w.Window, "workload.window", &config.Window); err != nil {
		return err
	}
	return parseDuration(w.Pause, "workload.pause", &config.Pause)
}

func setInt(v *int, dst *int) {
	if v != nil {
		*dst = *v
	}
}

// parseDuration は空でなければ dst に設定する
func parseDuration(s, field string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	*dst = d
	return nil
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	sc := f.Scenario

	if sc.Preset != "" {
		if _, ok := scenario.GetPreset(sc.Preset); !ok {
			return fmt.Errorf("%q: %w", sc.Preset, ErrUnknownPreset)
		}
	}

	if sc.Iterations < 0 {
		return fmt.Errorf("iterations must be non-negative")
	}

	s := sc.Stressors
	if s.Count < 0 || s.MinWaiting < 0 || s.Max < 0 || s.ExecutorWorkers < 0 {
		return fmt.Errorf("stressors counts must be non-negative")
	}
	if s.Max > 0 && s.Count > s.Max {
		return fmt.Errorf("stressors.count must not exceed stressors.max")
	}

	b := sc.Backend
	if b.Kind != "" && !validKind(b.Kind) {
		return fmt.Errorf("backend.kind %q: %w", b.Kind, backend.ErrUnknownKind)
	}
	if b.Nodes < 0 || b.DB < 0 {
		return fmt.Errorf("backend.nodes and backend.db must be non-negative")
	}

	w := sc.Workload
	if w.KeyRange < 0 || w.ValueSize < 0 || w.TransactionSize < 0 {
		return fmt.Errorf("workload sizes must be non-negative")
	}
	for _, rate := range []*int{w.GetRate, w.PutRate, w.RemoveRate, w.TxRate, w.AsyncRate} {
		if rate != nil && *rate < 0 {
			return fmt.Errorf("workload rates must be non-negative")
		}
	}
	for _, step := range w.AsyncSteps {
		if _, ok := workload.ParseKind(step); !ok && !strings.EqualFold(step, "pause") {
			return fmt.Errorf("workload.async_steps %q: %w", step, workload.ErrUnknownStep)
		}
	}

	// 期間の書式はまとめて確認する
	_, err := f.ToScenarioConfig()
	return err
}

func validKind(kind string) bool {
	for _, k := range backend.Kinds() {
		if strings.EqualFold(kind, string(k)) {
			return true
		}
	}
	return false
}
