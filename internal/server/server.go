// Package server wires the HTTP surface: the gin engine, the per-route
// handlers, the prometheus endpoint, and the websocket status push routine.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mattn/go-colorable"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/meridianml/forecast-backend/internal/domain"
	"github.com/meridianml/forecast-backend/internal/server/concurrent_websocket"
	"github.com/meridianml/forecast-backend/internal/server/handlers"
	"github.com/meridianml/forecast-backend/internal/server/metrics"
	"github.com/meridianml/forecast-backend/internal/training"
)

// Route endpoints, registered under the configured base listen prefix.
const (
	TrainEndpoint                 = "/train"
	TrainingStatusEndpoint        = "/training_status/:session_id"
	PredictEndpoint               = "/predict/:session_id"
	DownloadPredictionEndpoint    = "/download_prediction/:session_id"
	DownloadPredictionCsvEndpoint = "/download_prediction_csv/:session_id"
	ConfigEndpoint                = "/config"
	SessionsEndpoint              = "/sessions"
	StatusWebsocketEndpoint       = "/ws"

	// OpPushedStatusUpdate is the op field of pushed websocket messages.
	OpPushedStatusUpdate = "session_status_update"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func init() {
	jsonpatch.SupportNegativeIndices = false
}

type serverImpl struct {
	logger        *zap.Logger
	sugaredLogger *zap.SugaredLogger
	atom          *zap.AtomicLevel
	opts          *domain.Configuration
	engine        *gin.Engine

	store        domain.SessionStore
	orchestrator *training.Orchestrator
	executor     domain.BackgroundExecutor

	// prometheusMetrics wraps the Prometheus metrics for sessions and
	// predictions.
	prometheusMetrics *metrics.PrometheusMetricsWrapper

	// Handler returned by promhttp.Handler to serve Prometheus metrics.
	prometheusHandler http.Handler

	// statusWebsockets are the frontends subscribed to session status pushes.
	statusWebsockets      map[string]*concurrent_websocket.ConcurrentWebSocket
	statusWebsocketsMutex sync.Mutex

	expectedOriginPort      int
	expectedOriginAddresses []string

	// The base prefix. Useful behind a reverse proxy that serves the backend
	// under something other than "/".
	baseListenPrefix string

	// Endpoint to serve prometheus metrics scraping requests.
	// Defined separately from the base-listen-prefix.
	prometheusEndpoint string

	pushUpdateInterval time.Duration
	done               chan struct{}
}

func NewServer(opts *domain.Configuration, store domain.SessionStore, orchestrator *training.Orchestrator, executor domain.BackgroundExecutor, atom *zap.AtomicLevel) domain.Server {
	s := &serverImpl{
		opts:                    opts,
		atom:                    atom,
		engine:                  gin.New(),
		store:                   store,
		orchestrator:            orchestrator,
		executor:                executor,
		prometheusHandler:       promhttp.Handler(),
		statusWebsockets:        make(map[string]*concurrent_websocket.ConcurrentWebSocket),
		expectedOriginPort:      opts.ExpectedOriginPort,
		expectedOriginAddresses: make([]string, 0),
		baseListenPrefix:        opts.BaseListenPrefix,
		prometheusEndpoint:      opts.PrometheusEndpoint,
		pushUpdateInterval:      time.Second * time.Duration(opts.PushUpdateInterval),
		done:                    make(chan struct{}),
	}

	// Default to "/"
	if s.baseListenPrefix == "" {
		s.baseListenPrefix = "/"
	}

	// Default value
	if s.prometheusEndpoint == "" {
		s.prometheusEndpoint = domain.PrometheusEndpoint
	}

	if s.pushUpdateInterval <= 0 {
		s.pushUpdateInterval = time.Second
	}

	zapConfig := zap.NewDevelopmentEncoderConfig()
	zapConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapConfig), zapcore.AddSync(colorable.NewColorableStdout()), atom)
	logger := zap.New(core, zap.Development())
	if logger == nil {
		panic("failed to create logger for forecast backend")
	}

	s.logger = logger
	s.sugaredLogger = logger.Sugar()

	s.prometheusMetrics, _ = metrics.NewPrometheusMetricsWrapper(atom)

	for _, addr := range strings.Split(opts.ExpectedOriginAddresses, ",") {
		expectedOrigin := fmt.Sprintf("%s:%d", strings.TrimSpace(addr), s.expectedOriginPort)
		s.logger.Debug("Loaded expected origin from configuration.", zap.String("origin", expectedOrigin))
		s.expectedOriginAddresses = append(s.expectedOriginAddresses, expectedOrigin)
	}

	if err := s.setupRoutes(); err != nil {
		panic(err)
	}

	return s
}

func lastChar(target string) uint8 {
	if target == "" {
		panic("Cannot find last character of an empty string!")
	}

	return target[len(target)-1]
}

func (s *serverImpl) getPath(relativePath string) string {
	if relativePath == "" {
		return s.baseListenPrefix
	}

	finalPath := path.Join(s.baseListenPrefix, relativePath)
	if lastChar(relativePath) == '/' && lastChar(finalPath) != '/' {
		return finalPath + "/"
	}
	return finalPath
}

// ErrorHandlerMiddleware is gin middleware to handle errors that occur while
// the request handlers are processing/handling a request.
func (s *serverImpl) ErrorHandlerMiddleware(c *gin.Context) {
	c.Next() // Execute all the handlers.

	errorsEncountered := make([]error, 0)
	for _, err := range c.Errors {
		errorsEncountered = append(errorsEncountered, err.Err)
		s.logger.Error("Error encountered.", zap.Error(err))
	}

	if len(errorsEncountered) > 0 {
		c.JSON(-1, gin.H{
			"message": errors.Join(errorsEncountered...).Error(),
		})
	}
}

func (s *serverImpl) setupRoutes() error {
	s.engine.ForwardedByClientIP = true
	if err := s.engine.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		panic(err)
	}

	s.engine.Use(gin.Logger())
	s.logger.Debug("Attached logger middleware.")
	s.engine.Use(cors.Default())
	s.logger.Debug("Attached CORS middleware.")
	s.engine.Use(gin.Recovery())
	s.logger.Debug("Attached recovery middleware.")
	s.engine.Use(s.ErrorHandlerMiddleware)
	s.logger.Debug("Attached error-handler middleware.")

	////////////////////////
	// Prometheus metrics //
	////////////////////////
	s.engine.GET(s.prometheusEndpoint, s.HandlePrometheusRequest)

	////////////////////////
	// Websocket Handlers //
	////////////////////////
	s.engine.GET(s.getPath(StatusWebsocketEndpoint), s.serveStatusWebsocket)

	pprof.Register(s.engine, s.getPath("dev/pprof"))

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": "PAGE_NOT_FOUND", "message": "Page not found"})
	})

	///////////////////////////////
	// Standard/Primary Handlers //
	///////////////////////////////
	{
		trainHandler := handlers.NewTrainHttpHandler(s.opts, s.orchestrator, s.prometheusMetrics, s.atom)
		predictHandler := handlers.NewPredictHttpHandler(s.opts, s.orchestrator, s.prometheusMetrics, s.atom)
		downloadHandler := handlers.NewDownloadPredictionHttpHandler(s.opts, s.store, s.atom)

		// Accepts a training submission and responds 202 with the session id.
		s.engine.POST(s.getPath(TrainEndpoint), trainHandler.HandleRequest)

		// Polled by clients for the current status of a session.
		s.engine.GET(s.getPath(TrainingStatusEndpoint), handlers.NewTrainingStatusHttpHandler(s.opts, s.store, s.atom).HandleRequest)

		// Runs an on-demand prediction for a completed session. Clients use
		// both verbs; prediction re-reads the persisted snapshot.
		s.engine.POST(s.getPath(PredictEndpoint), predictHandler.HandleRequest)
		s.engine.GET(s.getPath(PredictEndpoint), predictHandler.HandleRequest)

		// Serves the session's prediction artifacts.
		s.engine.GET(s.getPath(DownloadPredictionEndpoint), downloadHandler.HandleRequest)
		s.engine.GET(s.getPath(DownloadPredictionCsvEndpoint), downloadHandler.HandleCsvRequest)

		// Lists sessions currently in a non-terminal state.
		s.engine.GET(s.getPath(SessionsEndpoint), handlers.NewSessionsHttpHandler(s.opts, s.store, s.atom).HandleRequest)

		// Used by clients to inspect the effective server configuration.
		s.engine.GET(s.getPath(ConfigEndpoint), handlers.NewConfigHttpHandler(s.opts, s.atom).HandleRequest)
	}

	if s.opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return nil
}

// HandlePrometheusRequest passes the request directly to the http.Handler
// returned by promhttp.Handler.
func (s *serverImpl) HandlePrometheusRequest(c *gin.Context) {
	s.prometheusHandler.ServeHTTP(c.Writer, c.Request)
}

func (s *serverImpl) serveStatusWebsocket(c *gin.Context) {
	s.logger.Debug("Inspecting origin of incoming status WebSocket connection.",
		zap.String("request-origin", c.Request.Header.Get("Origin")),
		zap.String("request-host", c.Request.Host),
		zap.String("request-uri", c.Request.RequestURI))

	upgrader.CheckOrigin = func(r *http.Request) bool {
		incomingOrigin := r.Header.Get("Origin")
		for _, expectedOrigin := range s.expectedOriginAddresses {
			if strings.HasSuffix(incomingOrigin, expectedOrigin) {
				return true
			}
		}

		s.logger.Error("Incoming status WebSocket connection had unexpected origin. Rejecting.",
			zap.String("request-origin", incomingOrigin))
		return false
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade status WebSocket connection.", zap.Error(err))
		return
	}

	concurrentConn := concurrent_websocket.NewConcurrentWebSocket(conn)
	remoteIp := concurrentConn.RemoteAddr().String()

	s.statusWebsocketsMutex.Lock()
	s.statusWebsockets[remoteIp] = concurrentConn
	s.statusWebsocketsMutex.Unlock()

	s.logger.Debug("Registered status WebSocket connection.", zap.String("remote-addr", remoteIp))

	// Block on the read loop so we notice the peer going away. Pushes happen
	// from the push routine; inbound messages are ignored.
	for {
		if _, _, err := concurrentConn.ReadMessage(); err != nil {
			break
		}
	}

	s.statusWebsocketsMutex.Lock()
	delete(s.statusWebsockets, remoteIp)
	s.statusWebsocketsMutex.Unlock()

	_ = concurrentConn.Close()
	s.logger.Debug("Status WebSocket connection closed.", zap.String("remote-addr", remoteIp))
}

// statusUpdateMessage is one pushed websocket frame. New sessions are sent
// in full; sessions the client has already seen arrive as merge patches,
// which are much smaller than repeated full records.
type statusUpdateMessage struct {
	Op        string                     `json:"op"`
	MessageID string                     `json:"msg_id"`
	Sessions  []json.RawMessage          `json:"sessions,omitempty"`
	Patches   map[string]json.RawMessage `json:"patches,omitempty"`
}

// statusPushRoutine periodically pushes the state of active sessions to the
// subscribed websockets. A session that just reached a terminal state is
// pushed one final time, and its terminal metrics are recorded.
func (s *serverImpl) statusPushRoutine() {
	// Cache the previous encoding per session so that we can send a merge
	// patch instead of the full record.
	previousEncoded := make(map[string][]byte)

	ticker := time.NewTicker(s.pushUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		active := s.store.ActiveSessions()
		s.prometheusMetrics.ActiveTrainingSessions.Set(float64(len(active)))

		activeIds := make(map[string]struct{}, len(active))
		records := make([]*domain.StatusRecord, 0, len(active))
		for _, record := range active {
			activeIds[record.SessionID] = struct{}{}
			records = append(records, record)
		}

		// Sessions that were active last tick but are not anymore get one
		// final push with their terminal record.
		for sessionID := range previousEncoded {
			if _, stillActive := activeIds[sessionID]; stillActive {
				continue
			}
			record, err := s.store.GetStatus(sessionID)
			if err != nil {
				delete(previousEncoded, sessionID)
				continue
			}
			records = append(records, record)
			s.observeTerminal(record)
		}

		if len(records) == 0 {
			continue
		}

		message := &statusUpdateMessage{
			Op:        OpPushedStatusUpdate,
			MessageID: uuid.NewString(),
			Patches:   make(map[string]json.RawMessage),
		}

		for _, record := range records {
			encoded, err := json.Marshal(record)
			if err != nil {
				s.logger.Error("Failed to encode status record for push.",
					zap.String("session_id", record.SessionID), zap.Error(err))
				continue
			}

			prevEncoding, loaded := previousEncoded[record.SessionID]
			if loaded {
				patch, err := jsonpatch.CreateMergePatch(prevEncoding, encoded)
				if err != nil {
					s.logger.Error("Failed to create merge patch for session.",
						zap.String("session_id", record.SessionID), zap.Error(err))
					message.Sessions = append(message.Sessions, encoded)
				} else {
					message.Patches[record.SessionID] = patch
				}
			} else {
				message.Sessions = append(message.Sessions, encoded)
			}

			if record.Status.Terminal() {
				delete(previousEncoded, record.SessionID)
			} else {
				previousEncoded[record.SessionID] = encoded
			}
		}

		s.broadcastStatusUpdate(message)
	}
}

// observeTerminal records the terminal metrics for a session exactly once,
// when the push routine first sees it leave the active set.
func (s *serverImpl) observeTerminal(record *domain.StatusRecord) {
	duration := 0.0
	if record.EndTime != nil {
		duration = record.EndTime.Sub(record.CreateTime).Seconds()
	}
	s.prometheusMetrics.SessionFinished(record.Status.String(), duration)
}

func (s *serverImpl) broadcastStatusUpdate(message *statusUpdateMessage) {
	s.statusWebsocketsMutex.Lock()
	defer s.statusWebsocketsMutex.Unlock()

	toRemove := make([]string, 0)

	for remoteIp, conn := range s.statusWebsockets {
		err := conn.WriteJSON(message)
		if err != nil {
			s.logger.Debug("Failed to push status update to WebSocket.",
				zap.String("remote-addr", remoteIp), zap.Error(err))

			var closeError *websocket.CloseError
			if errors.As(err, &closeError) || errors.Is(err, websocket.ErrCloseSent) {
				toRemove = append(toRemove, remoteIp)
			}
		}
	}

	for _, remoteIp := range toRemove {
		s.logger.Warn("Removing status WebSocket connection.", zap.String("remote-addr", remoteIp))

		ws := s.statusWebsockets[remoteIp]
		if err := ws.Close(); err != nil {
			s.logger.Error("Error closing websocket.", zap.String("remote-addr", remoteIp), zap.Error(err))
		}

		delete(s.statusWebsockets, remoteIp)
	}
}

// Serve is a blocking call that runs the HTTP server and launches the
// status push routine.
func (s *serverImpl) Serve() error {
	go s.statusPushRoutine()

	addr := fmt.Sprintf(":%d", s.opts.ServerPort)
	s.logger.Debug("Listening for HTTP requests.", zap.String("address", addr))
	if err := http.ListenAndServe(addr, s.engine); err != nil {
		s.sugaredLogger.Errorf("HTTP Server failed to listen on '%s'. Error: %v", addr, err)
		return err
	}

	return nil
}

// Shutdown stops the push routine and the background executor. In-flight
// training tasks run to completion.
func (s *serverImpl) Shutdown() {
	close(s.done)
	s.executor.Shutdown()
}
