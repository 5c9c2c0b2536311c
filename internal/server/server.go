package server

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"flipcut/internal/auth"
	"flipcut/internal/cloudstore"
	"flipcut/internal/models"
	"flipcut/internal/pipeline"
	"flipcut/internal/removebg"
)

type Server struct {
	cfg      *models.Config
	router   *gin.Engine
	pipeline *pipeline.Pipeline
	auth     *auth.Service
	httpSrv  *http.Server
}

func NewServer(cfg *models.Config, pl *pipeline.Pipeline, authSvc *auth.Service) *Server {
	r := gin.Default()

	s := &Server{cfg: cfg, router: r, pipeline: pl, auth: authSvc}

	r.Use(s.corsMiddleware())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "FlipCut API Server",
			"version": "1.0.0",
			"status":  "running",
		})
	})

	api := r.Group("/api")
	api.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "FlipCut API", "version": "1.0.0"})
	})
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	authGroup := api.Group("/auth")
	authGroup.POST("/session", s.handleSession)
	authGroup.GET("/me", authSvc.RequireAuth(), s.handleMe)
	authGroup.POST("/logout", s.handleLogout)

	images := api.Group("/images", authSvc.RequireAuth())
	images.POST("/upload", s.handleUpload)
	images.POST("/:image_id/process", s.handleProcess)
	images.GET("", s.handleList)
	images.GET("/:image_id", s.handleGet)
	images.DELETE("/:image_id", s.handleDelete)

	return s
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) Start() error {
	s.httpSrv = &http.Server{Addr: s.cfg.ServerAddr, Handler: s.router}
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	if s.httpSrv == nil {
		return
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		log.Printf("server.Stop: %v", err)
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	allowed := make(map[string]bool, len(s.cfg.CORSOrigins))
	wildcard := false
	for _, o := range s.cfg.CORSOrigins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (wildcard || allowed[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// writeError is the single place pipeline errors become HTTP responses.
// Clients only ever see the human-readable message; details stay in the
// server log.
func writeError(c *gin.Context, err error) {
	var verr *pipeline.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": verr.Message})
		return
	}
	if errors.Is(err, pipeline.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Image not found"})
		return
	}
	if errors.Is(err, pipeline.ErrAlreadyProcessing) {
		c.JSON(http.StatusConflict, gin.H{"detail": "Image is currently being processed"})
		return
	}

	var perr *removebg.ProviderError
	if errors.As(err, &perr) {
		status := http.StatusBadGateway
		switch perr.Kind {
		case removebg.KindConfig:
			status = http.StatusInternalServerError
		case removebg.KindAuth:
			status = http.StatusForbidden
		case removebg.KindQuota:
			status = http.StatusPaymentRequired
		case removebg.KindRateLimit:
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{"detail": perr.Message})
		return
	}

	var terr *pipeline.TransformError
	if errors.As(err, &terr) {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": terr.Error()})
		return
	}
	var serr *cloudstore.StorageError
	if errors.As(err, &serr) {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": serr.Message})
		return
	}

	log.Printf("server: unhandled error: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
}

func (s *Server) setSessionCookie(c *gin.Context, token string, maxAge int) {
	if s.cfg.CookieSecure {
		c.SetSameSite(http.SameSiteNoneMode)
	} else {
		c.SetSameSite(http.SameSiteLaxMode)
	}
	c.SetCookie(auth.CookieName, token, maxAge, "/", "", s.cfg.CookieSecure, true)
}

func (s *Server) handleSession(c *gin.Context) {
	var req models.SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "session_id required"})
		return
	}

	user, token, err := s.auth.ExchangeSession(c.Request.Context(), req.SessionID)
	if err != nil {
		var berr *auth.BrokerError
		if errors.As(err, &berr) {
			c.JSON(berr.Status, gin.H{"detail": berr.Message})
			return
		}
		log.Printf("server.handleSession: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
		return
	}

	s.setSessionCookie(c, token, 7*24*60*60)
	c.JSON(http.StatusOK, models.SessionResponse{Success: true, User: user})
}

func (s *Server) handleMe(c *gin.Context) {
	user := auth.UserFrom(c)
	c.JSON(http.StatusOK, models.MeResponse{
		UserID:  user.UserID,
		Email:   user.Email,
		Name:    user.Name,
		Picture: user.Picture,
	})
}

func (s *Server) handleLogout(c *gin.Context) {
	token := auth.TokenFromRequest(c)
	if err := s.auth.Logout(c.Request.Context(), token); err != nil {
		log.Printf("server.handleLogout: %v", err)
	}
	s.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out"})
}

func (s *Server) handleUpload(c *gin.Context) {
	user := auth.UserFrom(c)

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "File is required"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
		return
	}
	defer src.Close()

	// Read one byte past the limit so oversized files are caught even
	// when the multipart header lies about size.
	data, err := io.ReadAll(io.LimitReader(src, pipeline.MaxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
		return
	}

	resp, err := s.pipeline.Upload(c.Request.Context(), user.UserID, pipeline.UploadInput{
		Filename: file.Filename,
		MimeType: file.Header.Get("Content-Type"),
		Data:     data,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleProcess(c *gin.Context) {
	user := auth.UserFrom(c)

	resp, err := s.pipeline.Process(c.Request.Context(), user.UserID, c.Param("image_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleList(c *gin.Context) {
	user := auth.UserFrom(c)

	resp, err := s.pipeline.List(c.Request.Context(), user.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGet(c *gin.Context) {
	user := auth.UserFrom(c)

	img, err := s.pipeline.Get(c.Request.Context(), user.UserID, c.Param("image_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, img)
}

func (s *Server) handleDelete(c *gin.Context) {
	user := auth.UserFrom(c)

	resp, err := s.pipeline.Delete(c.Request.Context(), user.UserID, c.Param("image_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
