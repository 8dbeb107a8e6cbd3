// Package httpapi exposes the daemon's control surface over HTTP: session
// lifecycle, stored chats and messages, sync triggers, alerts, and the
// websocket push endpoint.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wpphub/wpphub/internal/config"
	"github.com/wpphub/wpphub/internal/push"
	"github.com/wpphub/wpphub/internal/registry"
	"github.com/wpphub/wpphub/internal/session"
	"github.com/wpphub/wpphub/internal/store"
	syncengine "github.com/wpphub/wpphub/internal/sync"
)

// Server is the HTTP control surface.
type Server struct {
	ctrl   *session.Controller
	db     *store.DB
	reg    *registry.Registry
	engine *syncengine.Engine
	hub    *push.Hub
	logger *zap.Logger
	srv    *http.Server
}

// NewServer wires the HTTP surface. Call Start to begin serving.
func NewServer(cfg *config.Config, ctrl *session.Controller, db *store.DB, reg *registry.Registry, engine *syncengine.Engine, hub *push.Hub, logger *zap.Logger) *Server {
	s := &Server{
		ctrl:   ctrl,
		db:     db,
		reg:    reg,
		engine: engine,
		hub:    hub,
		logger: logger,
	}
	s.srv = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: s.Router(),
	}
	return s
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.POST("/sessions", s.createSession)
		api.GET("/sessions", s.listSessions)
		api.GET("/sessions/:id", s.getSession)
		api.DELETE("/sessions/:id", s.destroySession)

		api.POST("/sessions/:id/messages", s.sendMessage)
		api.POST("/sessions/:id/sync", s.syncChats)

		api.GET("/sessions/:id/chats", s.listChats)
		api.GET("/sessions/:id/chats/:chatId/messages", s.listMessages)
		api.GET("/sessions/:id/chats/:chatId/deletions", s.chatDeletions)
		api.POST("/sessions/:id/chats/:chatId/sync", s.syncChatMessages)

		api.GET("/sessions/:id/messages/:msgId/editions", s.messageEditions)
		api.PATCH("/sessions/:id/messages/:msgId/group", s.setMessageGroup)

		api.GET("/sessions/:id/alerts", s.listAlerts)
		api.POST("/sessions/:id/alerts/:alertId/read", s.markAlertRead)
	}

	r.GET("/ws/:id", func(c *gin.Context) {
		s.hub.HandleUpgrade(c.Writer, c.Request, c.Param("id"))
	})

	return r
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type createSessionRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	GroupRef  string `json:"groupRef"`
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}

	res, err := s.ctrl.CreateSession(c.Request.Context(), req.SessionID, session.Options{GroupRef: req.GroupRef})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !res.Success {
		c.JSON(http.StatusConflict, res)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type sessionView struct {
	store.Session
	IsLive  bool `json:"isLive"`
	IsReady bool `json:"isReady"`
}

func (s *Server) listSessions(c *gin.Context) {
	stored, err := s.db.ListSessions(store.SessionFilter{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	views := make([]sessionView, 0, len(stored))
	for _, rec := range stored {
		v := sessionView{Session: rec}
		if h, ok := s.reg.Get(rec.ID); ok {
			v.IsLive = true
			v.IsReady = h.IsReady
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

func (s *Server) getSession(c *gin.Context) {
	rec, err := s.db.GetSession(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	v := sessionView{Session: *rec}
	if h, ok := s.reg.Get(rec.ID); ok {
		v.IsLive = true
		v.IsReady = h.IsReady
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) destroySession(c *gin.Context) {
	res, err := s.ctrl.DestroySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !res.Success {
		c.JSON(http.StatusNotFound, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

type sendMessageRequest struct {
	To   string `json:"to" binding:"required"`
	Text string `json:"text" binding:"required"`
}

func (s *Server) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to and text are required"})
		return
	}

	msgID, err := s.ctrl.SendMessage(c.Request.Context(), c.Param("id"), req.To, req.Text)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"msgId": msgID})
}

func (s *Server) syncChats(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	res, err := s.engine.SyncChatsWithProgress(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chatsProcessed": res.ChatsProcessed,
		"messagesSynced": res.MessagesSynced,
		"chatIds":        res.ChatIDs,
	})
}

func (s *Server) syncChatMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	n, err := s.engine.SyncRecentMessages(c.Request.Context(), c.Param("id"), c.Param("chatId"), limit)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messagesSynced": n})
}

func (s *Server) listChats(c *gin.Context) {
	f := store.ChatFilter{
		Archived:       boolPtrQuery(c, "archived"),
		IsGroup:        boolPtrQuery(c, "group"),
		IncludeDeleted: c.Query("includeDeleted") == "true",
		Skip:           intQuery(c, "skip"),
		Limit:          intQuery(c, "limit"),
	}

	chats, err := s.db.ListChats(c.Param("id"), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (s *Server) listMessages(c *gin.Context) {
	f := store.MessageFilter{
		ChatID:         c.Param("chatId"),
		FromMe:         boolPtrQuery(c, "fromMe"),
		Since:          int64Query(c, "since"),
		Until:          int64Query(c, "until"),
		IncludeDeleted: c.Query("includeDeleted") == "true",
		Skip:           intQuery(c, "skip"),
		Limit:          intQuery(c, "limit"),
	}

	msgs, err := s.db.ListMessages(c.Param("id"), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) chatDeletions(c *gin.Context) {
	ts, err := s.db.ChatDeletions(c.Param("id"), c.Param("chatId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deletedAt": ts})
}

func (s *Server) messageEditions(c *gin.Context) {
	editions, err := s.db.MessageEditions(c.Param("id"), c.Param("msgId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"editions": editions})
}

type setGroupRequest struct {
	GroupRef string `json:"groupRef" binding:"required"`
}

func (s *Server) setMessageGroup(c *gin.Context) {
	var req setGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "groupRef is required"})
		return
	}

	if err := s.db.SetMessageGroupRef(c.Param("id"), c.Param("msgId"), req.GroupRef); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "group ref updated"})
}

func (s *Server) listAlerts(c *gin.Context) {
	got, err := s.db.ListAlerts(c.Param("id"), c.Query("unread") == "true", intQuery(c, "skip"), intQuery(c, "limit"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": got})
}

func (s *Server) markAlertRead(c *gin.Context) {
	if err := s.db.MarkAlertRead(c.Param("alertId")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "alert marked read"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrSessionNotReady):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func boolPtrQuery(c *gin.Context, key string) *bool {
	switch c.Query(key) {
	case "true":
		v := true
		return &v
	case "false":
		v := false
		return &v
	}
	return nil
}

func intQuery(c *gin.Context, key string) int {
	n, _ := strconv.Atoi(c.Query(key))
	return n
}

func int64Query(c *gin.Context, key string) int64 {
	n, _ := strconv.ParseInt(c.Query(key), 10, 64)
	return n
}
