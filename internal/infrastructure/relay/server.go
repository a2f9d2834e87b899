package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"campuscall/internal/core/domain"
	"campuscall/internal/core/ports"
	"campuscall/internal/core/services"
	"campuscall/internal/infrastructure/middleware"
	"campuscall/pkg/config"
	apperrors "campuscall/pkg/errors"
	"campuscall/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is handled by the portal's reverse proxy
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server exposes the session chat relay and the call/chat read API.
type Server struct {
	cfg         *config.Config
	hub         *Hub
	callService ports.CallRecordService
	chatService ports.ChatService
	authService services.AuthService
	registry    *prometheus.Registry

	httpServer *http.Server
	logger     *zap.SugaredLogger
}

func NewServer(
	cfg *config.Config,
	hub *Hub,
	callService ports.CallRecordService,
	chatService ports.ChatService,
	authService services.AuthService,
	registry *prometheus.Registry,
	logger *zap.SugaredLogger,
) *Server {
	return &Server{
		cfg:         cfg,
		hub:         hub,
		callService: callService,
		chatService: chatService,
		authService: authService,
		registry:    registry,
		logger:      logger,
	}
}

// Router builds the gin engine with all routes and middleware attached.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(s.logger))
	router.Use(middleware.ErrorHandlerMiddleware(s.logger))
	if s.cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	router.GET("/health", s.handleHealth)
	if s.cfg.Monitoring.PrometheusEnabled && s.registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	auth := middleware.AuthMiddleware(s.authService)

	router.GET("/ws/chat", auth, s.handleChatSocket)

	api := router.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(s.cfg), auth)
	{
		api.GET("/calls/:id", s.handleGetCall)
		api.GET("/chats/:callId/messages", s.handleChatHistory)
		api.POST("/chats/:callId/messages", s.handlePostChatMessage)
	}

	return router
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.Address,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.logger.Infow("relay server listening", "address", s.cfg.Server.Address)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleChatSocket attaches an authenticated client to its call's chat room.
// The read timeouts on the HTTP server do not apply once the connection is
// hijacked; the ping/pong loop owns liveness from here.
func (s *Server) handleChatSocket(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	callID := domain.CallID(c.Query("callId"))
	if err := validation.ValidateCallID(string(callID)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "call_id", callID, "error", err)
		return
	}

	client := &client{
		hub:          s.hub,
		conn:         conn,
		identity:     identity,
		callID:       callID,
		send:         make(chan []byte, 64),
		done:         make(chan struct{}),
		limiter:      rate.NewLimiter(rate.Limit(s.cfg.Relay.MessagesPerSecond), s.cfg.Relay.MessageBurst),
		pingInterval: s.cfg.Relay.PingInterval,
		pongTimeout:  s.cfg.Relay.PongTimeout,
		writeTimeout: s.cfg.Relay.WriteTimeout,
		maxMsgSize:   s.cfg.Relay.MaxMessageSizeBytes,
		logger:       s.logger.With("call_id", callID, "user_id", identity.ID),
	}

	s.hub.join(client)

	go client.writePump()
	client.readPump()
}

type callResponse struct {
	ID              string     `json:"id"`
	CallID          string     `json:"callId"`
	CallerID        string     `json:"callerId"`
	CalleeID        string     `json:"calleeId"`
	Status          string     `json:"status"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationSeconds int64      `json:"durationSeconds"`
	CreatedAt       time.Time  `json:"createdAt"`
}

func toCallResponse(record *domain.CallRecord) callResponse {
	return callResponse{
		ID:              record.ID,
		CallID:          string(record.SignalID),
		CallerID:        string(record.CallerID),
		CalleeID:        string(record.CalleeID),
		Status:          string(record.Status),
		StartedAt:       record.StartedAt,
		EndedAt:         record.EndedAt,
		DurationSeconds: record.DurationSeconds,
		CreatedAt:       record.CreatedAt,
	}
}

type messageResponse struct {
	ID        string    `json:"id"`
	CallID    string    `json:"callId"`
	UserID    string    `json:"userId"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

func toMessageResponse(message *domain.ChatMessage) messageResponse {
	return messageResponse{
		ID:        message.ID,
		CallID:    string(message.CallID),
		UserID:    string(message.UserID),
		Message:   message.Message,
		CreatedAt: message.CreatedAt,
	}
}

func (s *Server) handleGetCall(c *gin.Context) {
	id := c.Param("id")

	record, err := s.callService.GetByID(c.Request.Context(), id)
	if errors.Is(err, domain.ErrCallNotFound) {
		// The portal mostly knows calls by their signaling id.
		record, err = s.callService.GetBySignalID(c.Request.Context(), domain.CallID(id))
	}
	if err != nil {
		if errors.Is(err, domain.ErrCallNotFound) {
			c.Error(apperrors.NewNotFoundError("call"))
			return
		}
		c.Error(apperrors.NewInternalError("failed to load call record"))
		return
	}

	c.JSON(http.StatusOK, toCallResponse(record))
}

func (s *Server) handleChatHistory(c *gin.Context) {
	callID := domain.CallID(c.Param("callId"))

	messages, err := s.chatService.History(c.Request.Context(), callID)
	if err != nil {
		c.Error(apperrors.NewInternalError("failed to load chat history"))
		return
	}

	out := make([]messageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, toMessageResponse(message))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

type postMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

func (s *Server) handlePostChatMessage(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	callID := domain.CallID(c.Param("callId"))

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("message is required"))
		return
	}

	message, err := s.chatService.Append(c.Request.Context(), callID, identity.ID, req.Message)
	if err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	c.JSON(http.StatusCreated, toMessageResponse(message))
}
