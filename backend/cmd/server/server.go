package main

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"music-tutor/backend/internal/agent"
	"music-tutor/backend/internal/conversation"
	"music-tutor/backend/internal/credentials"
	"music-tutor/backend/internal/events"
	"music-tutor/backend/internal/proxy"
	apperrors "music-tutor/backend/pkg/errors"
)

// maxAudioBytes bounds an uploaded clip
const maxAudioBytes = 25 << 20

// server holds the HTTP API's dependencies
type server struct {
	sessions     *conversation.Registry
	credentials  *credentials.Provider
	orchestrator *agent.Orchestrator
	hub          *events.Hub
	proxy        *proxy.Handler
	production   bool
	logger       *zap.Logger
}

// router builds the gin engine with every route mounted
func (s *server) router() *gin.Engine {
	if s.production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(ginLogger(s.logger))
	router.Use(gin.Recovery())

	// The proxy answers its own preflight with 200, so it is mounted
	// before the global CORS middleware
	s.proxy.Register(router, "/api/proxy")

	router.Use(corsMiddleware())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.sessions.Len()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes
	api := router.Group("/api")
	{
		api.POST("/sessions", s.createSession)
		api.DELETE("/sessions/:id", s.deleteSession)
		api.PUT("/sessions/:id/audio", s.uploadAudio)
		api.DELETE("/sessions/:id/audio", s.removeAudio)
		api.GET("/sessions/:id/messages", s.listMessages)
		api.POST("/sessions/:id/chat", s.chat)
		api.GET("/sessions/:id/events", s.streamEvents)

		api.GET("/credentials", s.getCredentials)
		api.PUT("/credentials", s.putCredentials)
	}

	return router
}

func (s *server) createSession(c *gin.Context) {
	session := s.sessions.Create()
	s.logger.Info("Session created", zap.String("session_id", session.ID))
	c.JSON(http.StatusCreated, gin.H{"session_id": session.ID, "created_at": session.CreatedAt})
}

func (s *server) deleteSession(c *gin.Context) {
	id := c.Param("id")
	s.sessions.Delete(id)
	s.hub.CloseSession(id)
	c.Status(http.StatusNoContent)
}

// session resolves :id or writes a 404
func (s *server) session(c *gin.Context) (*conversation.Session, bool) {
	session, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return nil, false
	}
	return session, true
}

func (s *server) uploadAudio(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}
	if fh.Size > maxAudioBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "audio file is too large"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, maxAudioBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	audio, err := conversation.NewAudioPayload(fh.Header.Get("Content-Type"), fh.Filename, raw)
	if err != nil {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
		return
	}

	if err := session.SetAudio(audio); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info("Audio attached",
		zap.String("session_id", session.ID),
		zap.String("mime_type", audio.MimeType),
		zap.Int("size", audio.Size),
	)
	c.JSON(http.StatusOK, audioSummary(audio))
}

func (s *server) removeAudio(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	if err := session.SetAudio(nil); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) listMessages(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": session.Conversation.Snapshot(),
		"audio":    audioSummary(session.Audio()),
		"running":  session.Running(),
	})
}

func (s *server) chat(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}

	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please enter a text prompt."})
		return
	}

	if !session.TryBeginRun() {
		c.JSON(http.StatusConflict, gin.H{"error": "A response is already being generated for this session"})
		return
	}
	defer session.EndRun()

	creds, err := s.credentials.Current(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to load credentials", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load credentials"})
		return
	}

	result, err := s.orchestrator.Run(c.Request.Context(), agent.RunRequest{
		Prompt:      req.Message,
		History:     session.Conversation.Snapshot(),
		Audio:       session.Audio(),
		Credentials: creds,
		Observer:    s.hub.ObserverFor(session.ID),
	})
	if err != nil {
		// The prompt stays in the transcript so the user can see what failed
		if appendErr := session.Conversation.Append(conversation.Message{
			Role:    conversation.RoleUser,
			Content: strings.TrimSpace(req.Message),
		}); appendErr != nil {
			s.logger.Warn("Failed to record prompt", zap.Error(appendErr))
		}
		s.logger.Error("Failed to run agent",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
		c.JSON(statusForError(err), gin.H{
			"error": "Error: " + apperrors.MessageOf(err),
			"type":  apperrors.TypeOf(err),
		})
		return
	}

	if err := session.Conversation.Append(result.Messages...); err != nil {
		s.logger.Error("Failed to record run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record the response"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":  result.RunID,
		"content": result.Text,
		"turns":   result.Turns,
	})
}

func (s *server) streamEvents(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	if err := s.hub.Serve(c.Writer, c.Request, session.ID); err != nil {
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
	}
}

func (s *server) getCredentials(c *gin.Context) {
	creds, err := s.credentials.Current(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to load credentials", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"credentials": creds.Redacted(),
		"missing":     creds.Missing(),
		"environment": s.credentials.EnvironmentProvided(),
	})
}

func (s *server) putCredentials(c *gin.Context) {
	var creds credentials.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.credentials.Save(c.Request.Context(), creds); err != nil {
		s.logger.Error("Failed to save credentials", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save credentials"})
		return
	}
	s.getCredentials(c)
}

// statusForError maps a failed run onto an HTTP status
func statusForError(err error) int {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrorTypeCredentialMissing:
		return http.StatusPreconditionFailed
	case apperrors.ErrorTypeTurnBudget:
		return http.StatusUnprocessableEntity
	case apperrors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	}
	if errors.Is(err, agent.ErrEmptyPrompt) {
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

func audioSummary(audio *conversation.AudioPayload) gin.H {
	if audio == nil {
		return nil
	}
	return gin.H{
		"filename":  audio.Filename,
		"mime_type": audio.MimeType,
		"size":      audio.Size,
	}
}

// corsMiddleware lets the browser client call the API from any origin
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info("HTTP Request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
