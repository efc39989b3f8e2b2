package cluster

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"kvs-bench/internal/logger"
	"kvs-bench/internal/node"
)

var (
	// ErrEmpty はノードが存在しないクラスタでのルーティングで返される
	ErrEmpty = errors.New("cluster has no nodes")
	// ErrNodeExists は重複したノードIDの追加で返される
	ErrNodeExists = errors.New("node already exists in cluster")
)

// Stats はクラスタ全体の状態と操作回数
type Stats struct {
	Nodes     int    `json:"nodes"`
	Running   int    `json:"running"`
	Keys      int    `json:"keys"`
	Reads     uint64 `json:"reads"`
	Writes    uint64 `json:"writes"`
	Commits   uint64 `json:"commits"`
	Conflicts uint64 `json:"conflicts"`
}

// Cluster は複数のノードを管理する
type Cluster struct {
	mu    sync.RWMutex
	nodes map[string]*node.Node
	ring  []string // ソート済みノードID
}

// New は新しいクラスタを作成する
func New() *Cluster {
	return &Cluster{
		nodes: make(map[string]*node.Node),
	}
}

// AddNode はクラスタにノードを追加する
func (c *Cluster) AddNode(n *node.Node) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.nodes[n.ID()]; exists {
		return fmt.Errorf("node %s: %w", n.ID(), ErrNodeExists)
	}

	c.nodes[n.ID()] = n
	c.rebuildLocked()
	logger.Debug("", "Node %s added to cluster", n.ID())
	return nil
}

func (c *Cluster) rebuildLocked() {
	ring := make([]string, 0, len(c.nodes))
	for id := range c.nodes {
		ring = append(ring, id)
	}
	slices.Sort(ring)
	c.ring = ring
}

// Nodes は全てのノードをID順で返す
func (c *Cluster) Nodes() []*node.Node {
	c.mu.RLock()
	defer c.mu.RUnlock()

	nodes := make([]*node.Node, 0, len(c.ring))
	for _, id := range c.ring {
		nodes = append(nodes, c.nodes[id])
	}
	return nodes
}

// NodeFor はキーを担当するノードを返す
func (c *Cluster) NodeFor(key string) (*node.Node, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.ring) == 0 {
		return nil, ErrEmpty
	}
	idx := xxhash.Sum64String(key) % uint64(len(c.ring))
	return c.nodes[c.ring[idx]], nil
}

// StartAll は全てのノードを起動する
func (c *Cluster) StartAll(ctx context.Context) error {
	nodes := c.Nodes()
	logger.Info("", "Starting all nodes in cluster (count: %d)", len(nodes))

	g := new(errgroup.Group)
	for _, n := range nodes {
		g.Go(func() error {
			return n.Start(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("", "Failed to start nodes: %v", err)
		return fmt.Errorf("start cluster: %w", err)
	}

	logger.Info("", "All nodes started successfully")
	return nil
}

// StopAll は全てのノードを停止する
func (c *Cluster) StopAll() error {
	nodes := c.Nodes()
	logger.Info("", "Stopping all nodes in cluster (count: %d)", len(nodes))

	g := new(errgroup.Group)
	for _, n := range nodes {
		g.Go(func() error {
			if err := n.Stop(); err != nil && !errors.Is(err, node.ErrAlreadyStopped) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Warn("", "Failed to stop nodes: %v", err)
		return fmt.Errorf("stop cluster: %w", err)
	}

	logger.Info("", "All nodes stopped")
	return nil
}

// Size はクラスタ内のノード数を返す
func (c *Cluster) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}

// RunningCount は実行中のノード数を返す
func (c *Cluster) RunningCount() int {
	return c.countStatus(node.StatusRunning)
}

func (c *Cluster) countStatus(status node.Status) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for _, n := range c.nodes {
		if n.Status() == status {
			count++
		}
	}
	return count
}

// CreateNodes は指定された数のノードを作成してクラスタに追加する
func (c *Cluster) CreateNodes(count int, prefix string) error {
	logger.Info("", "Creating %d nodes with prefix '%s'", count, prefix)

	for i := range count {
		nodeID := fmt.Sprintf("%s-%d", prefix, i+1)
		if err := c.AddNode(node.New(nodeID)); err != nil {
			return err
		}
	}
	return nil
}

// TotalSize は全ノードのキー数の合計を返す
func (c *Cluster) TotalSize() int {
	total := 0
	for _, n := range c.Nodes() {
		total += n.Size()
	}
	return total
}

// Stats はノードの状態と操作回数を集計する
func (c *Cluster) Stats() Stats {
	s := Stats{
		Nodes:   c.Size(),
		Running: c.RunningCount(),
		Keys:    c.TotalSize(),
	}
	for _, n := range c.Nodes() {
		ns := n.Stats()
		s.Reads += ns.Reads
		s.Writes += ns.Writes
		s.Commits += ns.Commits
		s.Conflicts += ns.Conflicts
	}
	return s
}
