package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/arena-stats/internal/input"
	"github.com/annel0/arena-stats/internal/logging"
	"github.com/annel0/arena-stats/internal/middleware"
	"github.com/annel0/arena-stats/internal/playback"
	"github.com/annel0/arena-stats/internal/session"
	"github.com/annel0/arena-stats/internal/viewport"
)

// RestServer — REST-поверхность подсистемы воспроизведения для страницы
// дашборда: жизненный цикл сессий, жесты, рестарты вьюпорта, транспорт,
// громкость и список игроков.
type RestServer struct {
	router   *gin.Engine
	sessions *session.Manager
	srv      *http.Server
	metrics  *ServerMetrics
	log      *logging.Logger
}

// Config содержит конфигурацию REST сервера.
type Config struct {
	Port     int
	Sessions *session.Manager
}

// NewRestServer создает REST сервер поверх менеджера сессий.
func NewRestServer(config Config) *RestServer {
	if config.Port == 0 {
		config.Port = 8090
	}

	// Устанавливаем режим релиза для gin
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	loggerMw := middleware.NewRequestLogger()
	router.Use(loggerMw.Handler())

	router.Use(otelgin.Middleware("replay_api"))

	promMw := middleware.NewPrometheusMiddleware("replay_api")
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	server := &RestServer{
		router:   router,
		sessions: config.Sessions,
		metrics:  NewServerMetrics(),
		log:      logging.GetAPILogger(),
		srv: &http.Server{
			Addr: fmt.Sprintf(":%d", config.Port),
		},
	}
	server.srv.Handler = router

	server.setupRoutes()
	return server
}

// setupRoutes настраивает маршруты REST API.
func (rs *RestServer) setupRoutes() {
	// Middleware для CORS: поверхность дашборда живёт на другом origin.
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	api := rs.router.Group("/api/replay")
	{
		api.POST("/sessions", rs.handleOpenSession)
		api.GET("/sessions/:id", rs.handleGetSession)
		api.DELETE("/sessions/:id", rs.handleCloseSession)

		api.POST("/sessions/:id/gesture", rs.handleGesture)
		api.POST("/sessions/:id/scrub", rs.handleScrub)
		api.POST("/sessions/:id/resize", rs.handleResize)
		api.POST("/sessions/:id/transport", rs.handleTransport)
		api.POST("/sessions/:id/camera", rs.handleCameraToggle)
		api.POST("/sessions/:id/viewpoint", rs.handleViewpoint)
		api.GET("/sessions/:id/players", rs.handlePlayers)
		api.GET("/sessions/:id/volume", rs.handleGetVolume)
		api.PUT("/sessions/:id/volume", rs.handleSetVolume)
	}

	rs.router.GET("/health", rs.handleHealth)
}

// GenericResponse представляет общий ответ API.
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// OpenSessionRequest — запрос открытия сессии воспроизведения.
type OpenSessionRequest struct {
	MatchID string `json:"match_id" binding:"required"`
}

func (rs *RestServer) handleOpenSession(c *gin.Context) {
	var req OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Требуется match_id"})
		return
	}

	s, err := rs.sessions.Open(c.Request.Context(), req.MatchID)
	if err != nil {
		c.JSON(http.StatusBadGateway, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Сессия открыта",
		Data:    s.Status(),
	})
}

func (rs *RestServer) handleGetSession(c *gin.Context) {
	s, ok := rs.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Статус сессии", Data: s.Status()})
}

func (rs *RestServer) handleCloseSession(c *gin.Context) {
	if !rs.sessions.Close(c.Param("id")) {
		c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: "Сессия не найдена"})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Сессия закрыта"})
}

func (rs *RestServer) handleGesture(c *gin.Context) {
	s, ok := rs.session(c)
	if !ok {
		return
	}

	var g input.Gesture
	if err := c.ShouldBindJSON(&g); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Некорректный жест"})
		return
	}

	s.Input().HandleGesture(g)
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Жест принят"})
}

// ScrubRequest — переключение режима перемотки.
type ScrubRequest struct {
	Active bool `json:"active"`
}

func (rs *RestServer) handleScrub(c *gin.Context) {
	s, ok := rs.session(c)
	if !ok {
		return
	}

	var req ScrubRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Некорректный запрос"})
		return
	}

	s.Input().SetScrub(req.Active)
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Режим перемотки переключен"})
}

func (rs *RestServer) handleResize(c *gin.Context) {
	s, ok := rs.session(c)
	if !ok {
		return
	}

	var size viewport.Size
	if err := c.ShouldBindJSON(&size); err != nil || size.Width <= 0 || size.Height <= 0 {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Некорректный размер вьюпорта"})
		return
	}

	s.Resize().Observe(size)
	c.JSON(http.StatusAccepted, GenericResponse{Success: true, Message: "Размер принят"})
}

// TransportRequest — транспортная команда.
// Control: rewind | forward | pause. Для rewind/forward Pressed различает
// нажатие и отпускание; pause — тап, Pressed игнорируется.
type TransportRequest struct {
	Control string `json:"control" binding:"required"`
	Pressed bool   `json:"pressed"`
}

func (rs *RestServer) handleTransport(c *gin.Context) {
	s, ok := rs.session(c)
	if !ok {
		return
	}

	var req TransportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Требуется control"})
		return
	}

	switch req.Control {
	case "rewind":
		s.Controls().Rewind(req.Pressed)
	case "forward":
		s.Controls().Forward(req.Pressed)
	case "pause":
		s.Controls().PauseTap()
	default:
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Неизвестная транспортная команда"})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Команда принята"})
}

func (rs *RestServer) handleCameraToggle(c *gin.Context) {
	s, ok := rs.session(c)
	if !ok {
		return
	}

	s.Controls().ToggleCamera()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Камера переключена",
		Data:    gin.H{"free_camera": s.Controls().FreeCamera()},
	})
}

// ViewpointRequest — переключение точки обзора.
type ViewpointRequest struct {
	ClientSlot int `json:"client_slot"`
}

func (rs *RestServer) handleViewpoint(c *gin.Context) {
	s, ok := rs.session(c)
	if !ok {
		return
	}

	var req ViewpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Требуется client_slot"})
		return
	}

	s.Controls().SetViewpoint(req.ClientSlot)
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Точка обзора переключена",
		Data:    gin.H{"viewpoint": s.Controls().Viewpoint()},
	})
}

func (rs *RestServer) handlePlayers(c *gin.Context) {
	s, ok := rs.session(c)
	if !ok {
		return
	}

	players := s.Controls().RefreshPlayers()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список игроков",
		Data:    gin.H{"players": players, "total": len(players)},
	})
}

func (rs *RestServer) handleGetVolume(c *gin.Context) {
	s, ok := rs.session(c)
	if !ok {
		return
	}

	vol := s.Volume()
	if vol == nil {
		c.JSON(http.StatusConflict, GenericResponse{Success: false, Message: "Движок ещё не готов"})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Громкость", Data: vol.State()})
}

func (rs *RestServer) handleSetVolume(c *gin.Context) {
	s, ok := rs.session(c)
	if !ok {
		return
	}

	vol := s.Volume()
	if vol == nil {
		c.JSON(http.StatusConflict, GenericResponse{Success: false, Message: "Движок ещё не готов"})
		return
	}

	var req playback.VolumeState
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Некорректный запрос"})
		return
	}

	ctx := c.Request.Context()
	vol.SetEffects(ctx, req.Effects)
	vol.SetMusic(ctx, req.Music)
	vol.SetMuted(ctx, req.Muted)

	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Громкость обновлена", Data: vol.State()})
}

// handleHealth — проверка состояния сервиса.
func (rs *RestServer) handleHealth(c *gin.Context) {
	cpuUsage, _ := rs.metrics.GetCPUUsage()

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"time":      time.Now().Unix(),
		"uptime":    rs.metrics.GetUptime(),
		"memory_mb": rs.metrics.GetMemoryUsage(),
		"cpu_pct":   cpuUsage,
		"sessions":  rs.sessions.Count(),
	})
}

// session извлекает сессию из пути; при отсутствии отвечает 404 сам.
func (rs *RestServer) session(c *gin.Context) (*session.PlaybackSession, bool) {
	s, ok := rs.sessions.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: "Сессия не найдена"})
		return nil, false
	}
	return s, true
}

// Start запускает REST сервер (блокирует).
func (rs *RestServer) Start() error {
	rs.log.Info("REST сервер слушает %s", rs.srv.Addr)
	if err := rs.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop выполняет graceful shutdown.
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.srv.Shutdown(ctx)
}

// Router возвращает gin-роутер (для httptest).
func (rs *RestServer) Router() http.Handler {
	return rs.router
}
