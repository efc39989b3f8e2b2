// Package main is the entry point for kvs-bench.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"kvs-bench/internal/api"
	"kvs-bench/internal/backend"
	"kvs-bench/internal/config"
	"kvs-bench/internal/events"
	"kvs-bench/internal/logger"
	"kvs-bench/internal/metrics"
	"kvs-bench/internal/scenario"
)

var (
	version = "dev"
)

func main() {
	// フラグ定義
	flags := pflag.NewFlagSet("kvs-bench", pflag.ExitOnError)
	flags.String("config", "", "設定ファイルパス (YAML/JSON)")
	flags.String("preset", "", "プリセットシナリオ名 ("+strings.Join(scenario.ListPresets(), ", ")+")")
	flags.Duration("duration", 0, "定常状態1回の長さ (例: 10s, 1m)")
	flags.Duration("ramp-up", 0, "計測前のランプアップ時間")
	flags.Int("iterations", 0, "定常状態の回数")
	flags.Int("stressors", 0, "ストレッサー数")
	flags.String("backend", "", "バックエンド ("+kindList()+")")
	flags.Int("nodes", 0, "メモリバックエンドのノード数")
	flags.String("redis-addr", "", "Redis アドレス")
	flags.Bool("list-presets", false, "利用可能なプリセットを表示")
	flags.Bool("version", false, "バージョンを表示")
	flags.Bool("server", false, "API サーバーモードで起動")
	flags.String("addr", ":8080", "サーバーアドレス (例: :8080, 0.0.0.0:3000)")
	flags.String("metrics-addr", "", "シナリオ実行中に API とメトリクスを公開するアドレス")
	flags.String("log-level", "info", "ログレベル (debug, info, warn, error)")
	flags.Bool("log-json", false, "JSON 形式でログを出力")

	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, `kvs-bench - Concurrent Key-Value Store Load Generator

Usage:
  kvs-bench [options]

Options:
`)
		flags.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Environment:
  Every option can be set as KVSBENCH_<OPTION>, e.g. KVSBENCH_REDIS_ADDR.

Examples:
  # プリセットシナリオを実行
  kvs-bench --preset quick

  # 設定ファイルから実行
  kvs-bench --config scenario.yaml

  # フラグでカスタマイズ
  kvs-bench --preset transactional --duration 30s --stressors 50

  # Redis に対して実行
  kvs-bench --preset basic --backend redis --redis-addr localhost:6379

  # プリセット一覧を表示
  kvs-bench --list-presets

  # API サーバーモードで起動
  kvs-bench --server --addr :3000
`)
	}

	_ = flags.Parse(os.Args[1:])

	v := viper.New()
	v.SetEnvPrefix("KVSBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "フラグ設定エラー: %v\n", err)
		os.Exit(1)
	}

	if err := setupLogger(v.GetString("log-level"), v.GetBool("log-json")); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Default.Sync() }()

	// バージョン表示
	if v.GetBool("version") {
		fmt.Printf("kvs-bench version %s\n", version)
		return
	}

	// プリセット一覧表示
	if v.GetBool("list-presets") {
		printPresets()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// API サーバーモード
	if v.GetBool("server") {
		if err := runServer(ctx, v.GetString("addr")); err != nil {
			logger.Error("", "サーバーエラー: %v", err)
			os.Exit(1)
		}
		return
	}

	// シナリオ設定の決定
	scenarioConfig, err := buildScenarioConfig(v)
	if err != nil {
		logger.Error("", "設定エラー: %v", err)
		os.Exit(1)
	}

	// シナリオ実行
	if err := runScenario(ctx, scenarioConfig, v.GetString("metrics-addr")); err != nil {
		logger.Error("", "シナリオ実行エラー: %v", err)
		os.Exit(1)
	}
}

func setupLogger(level string, jsonFormat bool) error {
	l, ok := logger.ParseLevel(level)
	if !ok {
		return fmt.Errorf("不明なログレベル: %s", level)
	}
	if jsonFormat {
		logger.Default = logger.NewJSON(os.Stderr, l)
		return nil
	}
	logger.Default.SetLevel(l)
	return nil
}

func kindList() string {
	kinds := make([]string, 0, len(backend.Kinds()))
	for _, k := range backend.Kinds() {
		kinds = append(kinds, string(k))
	}
	return strings.Join(kinds, ", ")
}

// buildScenarioConfig はシナリオ設定を構築する
func buildScenarioConfig(v *viper.Viper) (scenario.Config, error) {
	var cfg scenario.Config

	// 1. 設定ファイルから読み込み
	if configFile := v.GetString("config"); configFile != "" {
		fileConfig, err := config.LoadFile(configFile)
		if err != nil {
			return cfg, fmt.Errorf("設定ファイル読み込みエラー: %w", err)
		}
		if err := fileConfig.Validate(); err != nil {
			return cfg, fmt.Errorf("設定検証エラー: %w", err)
		}
		cfg, err = fileConfig.ToScenarioConfig()
		if err != nil {
			return cfg, fmt.Errorf("設定変換エラー: %w", err)
		}
	} else if presetName := v.GetString("preset"); presetName != "" {
		// 2. プリセットから読み込み
		preset, ok := scenario.GetPreset(presetName)
		if !ok {
			return cfg, fmt.Errorf("不明なプリセット: %s (利用可能: %v)", presetName, scenario.ListPresets())
		}
		cfg = preset
	} else {
		// 3. デフォルト（quickシナリオ）
		cfg = scenario.QuickScenario()
	}

	// フラグでオーバーライド
	if d := v.GetDuration("duration"); d > 0 {
		cfg.Duration = d
	}
	if d := v.GetDuration("ramp-up"); d > 0 {
		cfg.RampUp = d
	}
	if n := v.GetInt("iterations"); n > 0 {
		cfg.Iterations = n
	}
	if n := v.GetInt("stressors"); n > 0 {
		cfg.Stressors = n
		if cfg.MaxStressors > 0 && cfg.MaxStressors < n {
			cfg.MaxStressors = n
		}
	}
	if kind := v.GetString("backend"); kind != "" {
		cfg.Backend.Kind = backend.Kind(strings.ToLower(kind))
	}
	if n := v.GetInt("nodes"); n > 0 {
		cfg.Backend.Nodes = n
	}
	if addr := v.GetString("redis-addr"); addr != "" {
		cfg.Backend.Addr = addr
	}

	return cfg, nil
}

// runScenario はシナリオを実行する
// metricsAddr が空でなければ実行中に API サーバーも起動する
func runScenario(ctx context.Context, cfg scenario.Config, metricsAddr string) error {
	fmt.Println("kvs-bench - Concurrent Key-Value Store Load Generator")
	fmt.Println("=====================================================")
	fmt.Printf("Scenario: %s\n", cfg.Name)
	fmt.Printf("Ramp-up: %v, Duration: %v x %d\n", cfg.RampUp, cfg.Duration, max(cfg.Iterations, 1))
	fmt.Printf("Backend: %s, Stressors: %d\n", cfg.Backend.Kind, cfg.Stressors)
	fmt.Println("=====================================================")
	fmt.Println()

	engine := scenario.New(cfg)
	if metricsAddr == "" {
		result, err := engine.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Println(result.Report())
		return nil
	}

	m := metrics.New()
	bus := events.NewBus()
	engine.SetMetrics(m)
	engine.SetEventBus(bus)

	server := api.NewServer(metricsAddr, m, bus)
	server.Attach(engine)

	serverCtx, cancelServer := context.WithCancel(ctx)
	defer cancelServer()

	g, gctx := errgroup.WithContext(serverCtx)
	g.Go(func() error {
		return server.Start(gctx)
	})

	var result *scenario.Result
	g.Go(func() error {
		// シナリオが終わればサーバーも止める
		defer cancelServer()
		var err error
		result, err = engine.Run(gctx)
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if result != nil {
		fmt.Println(result.Report())
	}
	return nil
}

// printPresets は利用可能なプリセットを表示する
func printPresets() {
	fmt.Println("利用可能なプリセットシナリオ:")
	fmt.Println()

	for _, name := range scenario.ListPresets() {
		preset, _ := scenario.GetPreset(name)
		fmt.Printf("  %-14s %s\n", name, preset.Description)
	}

	fmt.Println()
	fmt.Println("使用例: kvs-bench --preset quick")
}

// runServer は API サーバーを起動する
func runServer(ctx context.Context, addr string) error {
	fmt.Println("kvs-bench - API Server")
	fmt.Println("======================")
	fmt.Printf("Starting server on http://%s\n", addr)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	server := api.NewServer(addr, metrics.New(), events.NewBus())
	return server.Start(ctx)
}
