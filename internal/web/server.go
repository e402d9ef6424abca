package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"photo-squeeze-go/internal/compressor"
	"photo-squeeze-go/internal/config"
	"photo-squeeze-go/internal/logger"
	"photo-squeeze-go/internal/metrics"
	"photo-squeeze-go/internal/packager"
	"photo-squeeze-go/internal/statistics"
	"photo-squeeze-go/internal/store"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Server struct {
	cfg        *config.Config
	cfgMutex   sync.RWMutex
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.Mutex

	codec     compressor.Codec
	results   *store.Store
	stats     *statistics.Statistics
	inFlight  int64
	startedAt time.Time
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// CompressResponse is the payload of a successful POST /api/compress.
type CompressResponse struct {
	ID          string          `json:"id"`
	DownloadURL string          `json:"download_url"`
	Summary     string          `json:"summary"`
	Report      packager.Report `json:"report"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewServer(cfg *config.Config, log *logrus.Logger, codec compressor.Codec) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		codec:     codec,
		results:   store.New(cfg.Server.ResultTTL),
		stats:     statistics.NewStatistics(),
		startedAt: time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")
	api.HandleFunc("/compress", s.handleCompress).Methods("POST")
	api.HandleFunc("/results/{id}", s.handleGetResult).Methods("GET")
	api.HandleFunc("/results/{id}/report", s.handleGetReport).Methods("GET")
	api.HandleFunc("/results/{id}", s.handleReleaseResult).Methods("DELETE")

	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.wsMutex.Lock()
	for conn := range s.wsClients {
		conn.Close()
		delete(s.wsClients, conn)
	}
	s.wsMutex.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// UpdateConfig swaps the configuration used for request defaults. Results
// already stored keep their original expiry.
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.cfgMutex.Lock()
	s.cfg = cfg
	s.cfgMutex.Unlock()
	s.log.Info("Server configuration updated")
}

func (s *Server) config() *config.Config {
	s.cfgMutex.RLock()
	defer s.cfgMutex.RUnlock()
	return s.cfg
}

// RunSweeper drops expired results every interval until ctx is done.
func (s *Server) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.results.Sweep(); n > 0 {
				s.log.Debugf("Swept %d expired results", n)
			}
			metrics.StoredResults.Set(float64(s.results.Len()))
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":        atomic.LoadInt64(&s.inFlight) > 0,
			"in_flight":      atomic.LoadInt64(&s.inFlight),
			"stored_results": s.results.Len(),
			"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		},
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary": s.stats.GetSummary(),
			"errors":  s.stats.GetErrorSummary(),
			"files":   s.stats.Snapshot(),
		},
	})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	cfg := s.config()
	r.Body = http.MaxBytesReader(w, r.Body, int64(cfg.Server.MaxUploadMB)<<20)

	req, err := s.parseCompressRequest(r, cfg)
	if err != nil {
		s.stats.RecordInvalidInput("upload", err.Error())
		metrics.ObserveFailure(metrics.ResultInvalidInput)
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	atomic.AddInt64(&s.inFlight, 1)
	defer atomic.AddInt64(&s.inFlight, -1)

	log := logger.WithFileOperation(s.log, req.Name, "compress")
	s.broadcastWSMessage("compress_started", map[string]interface{}{
		"name":        req.Name,
		"size":        len(req.Data),
		"custom_size": req.CustomSize,
	})

	scheduler := compressor.NewScheduler(s.codec, log).WithObserver(func(ev compressor.PassEvent) {
		metrics.ObservePass(ev)
		logger.WithPass(s.log, req.Name, ev.Index).Debugf("Pass output %d bytes", ev.OutputSize)
		s.broadcastWSMessage("pass_completed", map[string]interface{}{
			"name":          req.Name,
			"pass":          ev.Index,
			"quality":       ev.Config.Quality,
			"max_dimension": ev.Config.MaxDimension,
			"input_size":    ev.InputSize,
			"output_size":   ev.OutputSize,
			"stop":          ev.Stop,
		})
	})

	src, target, out, err := scheduler.Process(r.Context(), req)
	if err != nil {
		s.recordFailure(req.Name, err)
		log.Warnf("Compression failed: %v", err)
		s.broadcastWSMessage("compress_error", map[string]interface{}{
			"name":  req.Name,
			"error": err.Error(),
		})
		s.writeError(w, err.Error(), statusFor(err))
		return
	}

	report := packager.NewReport(src, target, out)
	report.OutputName = packager.OutputName(cfg.Compression.OutputPrefix, src.Name, report.MediaType)
	entry := s.results.Put(out.FinalResult.Bytes, report)

	s.stats.AddPasses(out.Passes)
	s.stats.RecordOutcome(report.MediaType, src.Size, out.FinalResult.Size, target.Enabled, out.ReachedTarget)
	metrics.ObserveOutcome(src.Size, out)
	metrics.StoredResults.Set(float64(s.results.Len()))

	log.Info(report.Summary())
	s.broadcastWSMessage("compress_completed", map[string]interface{}{
		"id":     entry.ID,
		"report": report,
	})

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: report.Status,
		Data: CompressResponse{
			ID:          entry.ID,
			DownloadURL: "/api/results/" + entry.ID,
			Summary:     report.Summary(),
			Report:      report,
		},
	})
}

// parseCompressRequest reads the multipart form. Missing optional fields
// fall back to the configured compression defaults.
func (s *Server) parseCompressRequest(r *http.Request, cfg *config.Config) (compressor.Request, error) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		return compressor.Request{}, fmt.Errorf("%w: invalid multipart form: %v", compressor.ErrInvalidInput, err)
	}

	file, header, err := r.FormFile("image_file")
	if err != nil {
		return compressor.Request{}, fmt.Errorf("%w: image_file is required", compressor.ErrInvalidInput)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return compressor.Request{}, fmt.Errorf("%w: failed to read upload: %v", compressor.ErrInvalidInput, err)
	}

	req := compressor.Request{
		Data:           data,
		Name:           header.Filename,
		CustomSize:     cfg.Compression.CustomSize,
		TargetSize:     cfg.Compression.TargetSize,
		Unit:           compressor.SizeUnit(cfg.Compression.TargetUnit),
		QualityPercent: cfg.Compression.DefaultQuality,
	}

	if v := r.FormValue("custom_size"); v != "" {
		if v == "on" {
			req.CustomSize = true
		} else if req.CustomSize, err = strconv.ParseBool(v); err != nil {
			return compressor.Request{}, fmt.Errorf("%w: custom_size must be a boolean", compressor.ErrInvalidInput)
		}
	}
	if v := r.FormValue("target_size"); v != "" {
		if req.TargetSize, err = strconv.ParseFloat(strings.TrimSpace(v), 64); err != nil {
			return compressor.Request{}, fmt.Errorf("%w: target_size must be a number", compressor.ErrInvalidInput)
		}
	}
	if v := r.FormValue("unit"); v != "" {
		if req.Unit, err = compressor.ParseSizeUnit(v); err != nil {
			return compressor.Request{}, err
		}
	}
	if v := r.FormValue("quality"); v != "" {
		if req.QualityPercent, err = strconv.Atoi(strings.TrimSpace(v)); err != nil {
			return compressor.Request{}, fmt.Errorf("%w: quality must be an integer", compressor.ErrInvalidInput)
		}
	}
	return req, nil
}

func (s *Server) recordFailure(name string, err error) {
	switch {
	case errors.Is(err, compressor.ErrInvalidInput):
		s.stats.RecordInvalidInput(name, err.Error())
		metrics.ObserveFailure(metrics.ResultInvalidInput)
	case errors.Is(err, compressor.ErrCodecFailure):
		s.stats.RecordCodecFailure(name, err.Error())
		metrics.ObserveFailure(metrics.ResultCodecFailure)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.stats.AddError(name, "compress", err.Error())
		metrics.ObserveFailure(metrics.ResultCancelled)
	default:
		s.stats.AddError(name, "compress", err.Error())
	}
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, compressor.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, compressor.ErrCodecFailure):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.results.Get(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, "Result not found or already released", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", entry.Report.MediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(entry.Data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", entry.Report.OutputName))
	if _, err := w.Write(entry.Data); err != nil {
		s.log.Warnf("Failed to write result %s: %v", entry.ID, err)
	}
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.results.Get(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, "Result not found or already released", http.StatusNotFound)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: entry})
}

func (s *Server) handleReleaseResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.results.Release(id) {
		s.writeError(w, "Result not found or already released", http.StatusNotFound)
		return
	}
	metrics.StoredResults.Set(float64(s.results.Len()))

	s.broadcastWSMessage("result_released", map[string]interface{}{
		"id": id,
	})
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Result released",
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) clientCount() int {
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()
	return len(s.wsClients)
}

// broadcastWSMessage sends a message to every client. Writes are serialised
// because a websocket connection supports one concurrent writer.
func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
