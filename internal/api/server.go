package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"statuswatch/internal/buildinfo"
	"statuswatch/internal/logger"
)

// Server 管理 API 的 HTTP 服务器
type Server struct {
	handler    *Handler
	router     *gin.Engine
	httpServer *http.Server
	addr       string
}

// NewServer 创建服务器
func NewServer(handler *Handler, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	// CORS 中间件 - 默认只允许本机，额外来源从环境变量获取
	allowedOrigins := []string{
		"http://localhost:8080",
		"http://127.0.0.1:8080",
	}
	if extraOrigins := os.Getenv("STATUSWATCH_CORS_ORIGINS"); extraOrigins != "" {
		// 逗号分隔，例如: STATUSWATCH_CORS_ORIGINS=https://status.example.com,http://localhost:3000
		for _, o := range strings.Split(extraOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-Request-ID", "Accept-Encoding"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	// Request ID 中间件 - 为每个请求生成唯一 ID，便于日志追踪
	router.Use(func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()[:8]
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		ctx := logger.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()
		logger.FromContext(ctx, "api").Debug("请求完成",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start))
	})

	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// 安全头中间件
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	})

	router.GET("/api/status", handler.GetStatus)
	router.GET("/api/incidents", handler.GetIncidents)
	router.GET("/api/events", handler.GetEvents)
	router.GET("/api/events/latest", handler.GetLatestEventID)

	router.GET("/api/version", func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, gin.H{
			"version":    buildinfo.GetVersion(),
			"git_commit": buildinfo.GetGitCommit(),
			"build_time": buildinfo.GetBuildTime(),
			"go_version": buildinfo.GetGoVersion(),
		})
	})

	// 健康检查（支持 GET 和 HEAD）
	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/healthz", healthHandler)
	router.HEAD("/healthz", healthHandler)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "API endpoint not found"})
	})

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		handler:    handler,
		router:     router,
		httpServer: httpServer,
		addr:       addr,
	}
}

// Handler 返回路由（测试用）
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动服务器，阻塞直到 Stop 被调用或监听失败
func (s *Server) Start() error {
	logger.Info("api", "管理 API 已启动", "addr", s.addr,
		"status", "/api/status", "health", "/healthz")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("启动HTTP服务失败: %w", err)
	}
	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	logger.Info("api", "正在关闭HTTP服务器")
	return s.httpServer.Shutdown(ctx)
}
