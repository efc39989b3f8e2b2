package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/net/websocket"

	"kvs-bench/internal/cluster"
	"kvs-bench/internal/events"
	"kvs-bench/internal/logger"
	"kvs-bench/internal/metrics"
	"kvs-bench/internal/scenario"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server はAPIサーバー
type Server struct {
	addr    string
	metrics *metrics.Metrics
	bus     *events.Bus

	mu        sync.RWMutex
	ctx       context.Context
	engine    *scenario.Engine
	cancel    context.CancelFunc
	wsClients map[*websocket.Conn]bool

	server *http.Server
}

// NewServer は新しいAPIサーバーを作成する
// m と bus は nil でもよい
func NewServer(addr string, m *metrics.Metrics, bus *events.Bus) *Server {
	if bus == nil {
		bus = events.NewBus()
	}
	return &Server{
		addr:      addr,
		metrics:   m,
		bus:       bus,
		ctx:       context.Background(),
		wsClients: make(map[*websocket.Conn]bool),
	}
}

// Attach は外部で実行されるエンジンを監視対象にする
func (s *Server) Attach(engine *scenario.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = engine
	s.cancel = nil
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// API routes
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/result", s.handleResult)
	mux.HandleFunc("/api/presets", s.handlePresets)
	mux.HandleFunc("/api/scenario/start", s.handleScenarioStart)
	mux.HandleFunc("/api/scenario/stop", s.handleScenarioStop)

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	// WebSocket
	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))
	return mux
}

// Start はサーバーを開始する
// ctx が終わるとシャットダウンする
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// バックグラウンドでイベントとステータスを配信
	go s.forwardEvents(ctx)
	go s.broadcastLoop(ctx)

	logger.Info("", "API Server starting on http://%s", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()

	if engine == nil {
		s.writeJSON(w, scenario.Status{})
		return
	}
	s.writeJSON(w, engine.Status())
}

// ResultResponse は実行結果レスポンス
type ResultResponse struct {
	RunID           string              `json:"run_id"`
	Scenario        string              `json:"scenario"`
	Backend         string              `json:"backend"`
	DurationMs      int64               `json:"duration_ms"`
	MeasuredMs      int64               `json:"measured_ms"`
	Phases          int                 `json:"phases"`
	Stressors       int                 `json:"stressors"`
	Conversations   uint64              `json:"conversations"`
	Faults          uint64              `json:"faults"`
	Terminated      bool                `json:"terminated"`
	TotalRequests   uint64              `json:"total_requests"`
	SuccessRequests uint64              `json:"success_requests"`
	FailedRequests  uint64              `json:"failed_requests"`
	ErrorRate       float64             `json:"error_rate"`
	Operations      []OperationResponse `json:"operations"`
	Store           *cluster.Stats      `json:"store,omitempty"`
	Errors          []string            `json:"errors,omitempty"`
}

// OperationResponse は操作ごとの統計
type OperationResponse struct {
	Operation  string  `json:"operation"`
	Requests   uint64  `json:"requests"`
	Errors     uint64  `json:"errors"`
	MeanMs     float64 `json:"mean_ms"`
	P99Ms      float64 `json:"p99_ms"`
	MaxMs      float64 `json:"max_ms"`
	Throughput float64 `json:"throughput"`
}

func newResultResponse(r *scenario.Result) ResultResponse {
	resp := ResultResponse{
		RunID:           r.RunID,
		Scenario:        r.ScenarioName,
		Backend:         r.Backend,
		DurationMs:      r.Duration.Milliseconds(),
		MeasuredMs:      r.Measured.Milliseconds(),
		Phases:          r.Phases,
		Stressors:       r.Stressors,
		Conversations:   r.Conversations,
		Faults:          r.Faults,
		Terminated:      r.Terminated,
		TotalRequests:   r.TotalRequests,
		SuccessRequests: r.SuccessRequests,
		FailedRequests:  r.FailedRequests,
		ErrorRate:       r.ErrorRate,
		Store:           r.Store,
		Errors:          r.Errors,
	}
	for _, op := range r.Operations {
		resp.Operations = append(resp.Operations, OperationResponse{
			Operation:  op.Operation,
			Requests:   op.Requests,
			Errors:     op.Errors,
			MeanMs:     millis(op.Mean),
			P99Ms:      millis(op.P99),
			MaxMs:      millis(op.Max),
			Throughput: op.Throughput,
		})
	}
	return resp
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()

	var result *scenario.Result
	if engine != nil {
		result = engine.LastResult()
	}
	if result == nil {
		http.Error(w, "No result available", http.StatusNotFound)
		return
	}
	s.writeJSON(w, newResultResponse(result))
}

// ScenarioRequest はシナリオ開始リクエスト
type ScenarioRequest struct {
	Preset    string `json:"preset"`
	Duration  string `json:"duration,omitempty"`
	RampUp    string `json:"ramp_up,omitempty"`
	Stressors int    `json:"stressors,omitempty"`
	Nodes     int    `json:"nodes,omitempty"`
}

func (s *Server) handleScenarioStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// プリセット取得
	config, ok := scenario.GetPreset(req.Preset)
	if !ok {
		config = scenario.QuickScenario()
	}

	// オーバーライド
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil {
			http.Error(w, "Invalid duration", http.StatusBadRequest)
			return
		}
		config.Duration = d
	}
	if req.RampUp != "" {
		d, err := time.ParseDuration(req.RampUp)
		if err != nil {
			http.Error(w, "Invalid ramp_up", http.StatusBadRequest)
			return
		}
		config.RampUp = d
	}
	if req.Stressors > 0 {
		config.Stressors = req.Stressors
	}
	if req.Nodes > 0 {
		config.Backend.Nodes = req.Nodes
	}

	s.mu.Lock()
	if s.engine != nil && s.engine.IsRunning() {
		s.mu.Unlock()
		http.Error(w, "Scenario already running", http.StatusConflict)
		return
	}

	engine := scenario.New(config)
	engine.SetEventBus(s.bus)
	if s.metrics != nil {
		engine.SetMetrics(s.metrics)
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.engine = engine
	s.cancel = cancel
	s.mu.Unlock()

	// バックグラウンドで実行
	go func() {
		defer cancel()
		result, err := engine.Run(ctx)
		if err != nil {
			logger.Error("", "Scenario failed: %v", err)
			s.broadcast(map[string]any{
				"type":  "scenario_failed",
				"error": err.Error(),
			})
			return
		}
		logger.Info("", "Scenario completed: %d requests", result.TotalRequests)

		s.broadcast(map[string]any{
			"type":   "scenario_complete",
			"result": newResultResponse(result),
		})
	}()

	s.writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "started", "scenario": config.Name})
}

func (s *Server) handleScenarioStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	engine, cancel := s.engine, s.cancel
	s.mu.Unlock()

	if engine == nil || !engine.IsRunning() {
		http.Error(w, "No scenario running", http.StatusBadRequest)
		return
	}
	if cancel == nil {
		http.Error(w, "Scenario is not controlled by this server", http.StatusConflict)
		return
	}
	cancel()

	s.writeJSON(w, map[string]string{"status": "stop requested"})
}

// PresetInfo はプリセット情報
type PresetInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	names := scenario.ListPresets()
	presets := make([]PresetInfo, 0, len(names))
	for _, name := range names {
		config, _ := scenario.GetPreset(name)
		presets = append(presets, PresetInfo{Name: name, Description: config.Description})
	}

	s.writeJSON(w, presets)
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// Keep connection alive
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

func (s *Server) broadcast(data any) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

// forwardEvents はイベントバスのイベントを WebSocket に流す
func (s *Server) forwardEvents(ctx context.Context) {
	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			s.broadcast(map[string]any{
				"type":  "event",
				"event": e,
			})
		}
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			engine := s.engine
			s.mu.RUnlock()

			if engine == nil || !engine.IsRunning() {
				continue
			}
			s.broadcast(map[string]any{
				"type":   "status",
				"status": engine.Status(),
			})
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	s.writeJSONStatus(w, http.StatusOK, data)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("", "Failed to encode JSON: %v", err)
	}
}
