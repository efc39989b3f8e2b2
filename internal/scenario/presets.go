package scenario

import (
	"time"

	"kvs-bench/internal/backend"
	"kvs-bench/internal/workload"
)

// BasicScenario は基本的なシナリオ設定を返す
// トランザクションなし、GET/PUT/REMOVE のみ
func BasicScenario() Config {
	c := DefaultConfig()
	c.Name = "basic"
	c.Description = "Plain GET/PUT/REMOVE load without transactions"
	c.Duration = 10 * time.Second
	c.Workload = workload.DefaultConfig()
	c.Workload.KeyRange = 1000
	return c
}

// TransactionalScenario はコミットで終わるトランザクションのシナリオを返す
func TransactionalScenario() Config {
	c := BasicScenario()
	c.Name = "transactional"
	c.Description = "Transactions of several requests ending in commit"
	c.Workload.TxRate = 2
	c.Workload.TransactionSize = 5
	c.Workload.Commit = true
	return c
}

// RollbackScenario はロールバックで終わるトランザクションのシナリオを返す
func RollbackScenario() Config {
	c := TransactionalScenario()
	c.Name = "rollback"
	c.Description = "Transactions of several requests ending in rollback"
	c.Workload.Commit = false
	return c
}

// AsyncScenario は非同期会話のシナリオを返す
// ステップは Executor 上で実行される
func AsyncScenario() Config {
	c := BasicScenario()
	c.Name = "async"
	c.Description = "Asynchronous transactional conversations on an executor pool"
	c.ExecutorWorkers = 8
	c.Workload.AsyncRate = 2
	c.Workload.AsyncSteps = []string{"get", "put", "pause", "get", "remove"}
	c.Workload.AsyncTransactions = true
	c.Workload.Commit = true
	c.Workload.Pause = time.Millisecond
	return c
}

// ElasticScenario は待機中のストレッサーが減ると追加するシナリオを返す
func ElasticScenario() Config {
	c := AsyncScenario()
	c.Name = "elastic"
	c.Description = "Stressor pooling that grows while conversations are busy"
	c.Stressors = 4
	c.MinWaitingStressors = 2
	c.MaxStressors = 32
	c.MinStressorCreationDelay = 50 * time.Millisecond
	return c
}

// LatencyScenario はノード遅延を入れたシナリオを返す
func LatencyScenario() Config {
	c := TransactionalScenario()
	c.Name = "latency"
	c.Description = "Transactional load against nodes with injected latency"
	c.Backend = backend.Config{
		Kind:  backend.KindMemory,
		Nodes: 5,
		Delay: 2 * time.Millisecond,
	}
	c.Stressors = 20
	return c
}

// QuickScenario はクイックテスト用シナリオを返す
// 短時間での動作確認用
func QuickScenario() Config {
	c := TransactionalScenario()
	c.Name = "quick"
	c.Description = "Quick test for verification"
	c.RampUp = 200 * time.Millisecond
	c.Duration = 2 * time.Second
	c.Stressors = 5
	return c
}

var presets = map[string]func() Config{
	"basic":         BasicScenario,
	"transactional": TransactionalScenario,
	"rollback":      RollbackScenario,
	"async":         AsyncScenario,
	"elastic":       ElasticScenario,
	"latency":       LatencyScenario,
	"quick":         QuickScenario,
}

// GetPreset は名前からプリセットシナリオを取得する
func GetPreset(name string) (Config, bool) {
	if fn, ok := presets[name]; ok {
		return fn(), true
	}
	return Config{}, false
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	return []string{"basic", "transactional", "rollback", "async", "elastic", "latency", "quick"}
}
