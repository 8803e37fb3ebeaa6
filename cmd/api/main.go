package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"geoattend/internal/apperr"
	"geoattend/internal/attendance"
	"geoattend/internal/auth"
	"geoattend/internal/biometric"
	"geoattend/internal/config"
	"geoattend/internal/event"
	"geoattend/internal/geofence"
	"geoattend/internal/httpmiddleware"
	"geoattend/internal/imagestore"
	"geoattend/internal/notify"
	"geoattend/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	var (
		db       *store.DB
		events   event.Store
		records  attendance.Store
		redisCli = store.NewRedis(cfg.RedisAddr)
	)
	if cfg.StoreBackend == "memory" {
		events = event.NewMemStore()
		records = attendance.NewMemStore()
		log.Println("using in-memory stores (STORE_BACKEND=memory)")
	} else {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(context.Background()); err != nil {
			return err
		}
		events = event.NewRepository(db.Client)
		records = attendance.NewRepository(db.Client)
	}

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.NotifierBackend == "redis" {
		notifier = notify.NewRedisNotifier(redisCli.Client, cfg.NotifyChannel)
	}

	face := biometric.New(cfg.FaceServiceURL, cfg.FaceSkip)
	if !cfg.FaceSkip {
		if err := face.Health(context.Background()); err != nil {
			log.Printf("WARNING: face service not available: %v", err)
		}
	}
	var verifier biometric.Verifier = face
	registrar := attendance.NewRegistrar(records, events, cfg.CutoffAtStart)
	monitor := attendance.NewMonitor(records, events)

	var cdnClient *imagestore.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		cdnClient = imagestore.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())

	limiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", healthzHandler(cfg, db, redisCli))

	r.POST("/v1/devices/register", limiter.GinMiddleware(), func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
			AdminKey  string `json:"admin_key"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		role := auth.RoleStudent
		if req.AdminKey != "" {
			if cfg.AdminKey == "" || req.AdminKey != cfg.AdminKey {
				c.JSON(http.StatusForbidden, gin.H{"error": "invalid admin key"})
				return
			}
			role = auth.RoleAdmin
		}

		tokens, err := auth.Issue(req.StudentID, role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	// Limiter sits after Bearer so buckets key on the token subject, one per
	// student device.
	authGroup := r.Group("/v1", auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer), limiter.GinMiddleware())

	// Selfie upload — the returned URL goes into /v1/registrations.
	authGroup.POST("/upload", func(c *gin.Context) {
		if cdnClient == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
			return
		}

		var result *imagestore.UploadResult
		var err error
		switch {
		case strings.Contains(c.ContentType(), "multipart/form-data"):
			file, header, ferr := c.Request.FormFile("file")
			if ferr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
				return
			}
			defer file.Close()
			data, ferr := io.ReadAll(file)
			if ferr != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
				return
			}
			result, err = cdnClient.UploadBytes(data, header.Filename)
		default:
			var body struct {
				Data string `json:"data" binding:"required"`
			}
			if berr := c.ShouldBindJSON(&body); berr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "provide {\"data\": \"<base64 data URL>\"}"})
				return
			}
			result, err = cdnClient.UploadBase64(body.Data)
		}
		if err != nil {
			log.Printf("selfie upload failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": result.SecureURL, "public_id": result.PublicID, "bytes": result.Bytes})
	})

	authGroup.POST("/registrations", func(c *gin.Context) {
		var req struct {
			StudentID  string   `json:"student_id" binding:"required"`
			EventID    string   `json:"event_id" binding:"required"`
			LocationID string   `json:"location_id"`
			Latitude   *float64 `json:"latitude" binding:"required"`
			Longitude  *float64 `json:"longitude" binding:"required"`
			ImageURL   string   `json:"image_url"`
			Groups     []string `json:"groups"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !auth.FromContext(c).CanActFor(req.StudentID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "student mismatch"})
			return
		}

		verdict, err := verifier.Verify(c.Request.Context(), req.StudentID, req.ImageURL)
		if err != nil {
			log.Printf("biometric verify for %s failed: %v", req.StudentID, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "biometric verification unavailable"})
			return
		}

		rec, err := registrar.Register(c.Request.Context(), attendance.RegisterInput{
			StudentID:        req.StudentID,
			EventID:          req.EventID,
			LocationID:       req.LocationID,
			Latitude:         *req.Latitude,
			Longitude:        *req.Longitude,
			StudentGroups:    req.Groups,
			BiometricVerdict: verdict,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, rec)
	})

	authGroup.POST("/pings", func(c *gin.Context) {
		var req struct {
			StudentID  string   `json:"student_id" binding:"required"`
			EventID    string   `json:"event_id" binding:"required"`
			LocationID string   `json:"location_id"`
			Latitude   *float64 `json:"latitude" binding:"required"`
			Longitude  *float64 `json:"longitude" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !auth.FromContext(c).CanActFor(req.StudentID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "student mismatch"})
			return
		}

		inside, err := monitor.RecordPing(c.Request.Context(), req.StudentID, req.EventID, req.LocationID, *req.Latitude, *req.Longitude)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"is_inside": inside})
	})

	authGroup.GET("/events/:id", func(c *gin.Context) {
		ev, err := events.GetEvent(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, ev)
	})

	authGroup.GET("/attendance", func(c *gin.Context) {
		claims := auth.FromContext(c)
		studentID := c.Query("student_id")
		if studentID == "" {
			studentID = claims.Subject
		}
		if !claims.CanActFor(studentID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "student mismatch"})
			return
		}

		if eventID := c.Query("event_id"); eventID != "" {
			rec, err := records.GetRecord(c.Request.Context(), studentID, eventID)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, rec)
			return
		}

		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		history, err := records.ListByStudent(c.Request.Context(), studentID, limit, offset)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": history})
	})

	// Administrative surface: event/location setup and manual cancellation.
	adminGroup := authGroup.Group("", requireAdmin())

	adminGroup.POST("/admin/locations", func(c *gin.Context) {
		var loc event.Location
		if err := c.ShouldBindJSON(&loc); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		saved, err := events.SaveLocation(c.Request.Context(), loc)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, saved)
	})

	adminGroup.POST("/admin/events", func(c *gin.Context) {
		var ev event.Event
		if err := c.ShouldBindJSON(&ev); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		saved, err := events.SaveEvent(c.Request.Context(), ev)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, saved)
	})

	adminGroup.POST("/admin/events/:id/cancel", func(c *gin.Context) {
		ev, err := events.GetEvent(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if ev.Status.Terminal() {
			c.JSON(http.StatusConflict, gin.H{"error": "event already " + string(ev.Status)})
			return
		}
		old := ev.Status
		saved, applied, err := events.TransitionEvent(c.Request.Context(), ev.ID, old, event.StatusCancelled)
		if err != nil {
			writeError(c, err)
			return
		}
		if !applied {
			// The scheduler (or another admin) moved the event since we
			// read it; the caller should re-fetch and decide again.
			c.JSON(http.StatusConflict, gin.H{"error": "event status changed, retry"})
			return
		}
		if err := notifier.Publish(c.Request.Context(), notify.Change{
			EventID: saved.ID,
			Old:     string(old),
			New:     string(event.StatusCancelled),
			At:      time.Now().UTC(),
		}); err != nil {
			log.Printf("notify cancel %s failed: %v", saved.ID, err)
		}
		c.JSON(http.StatusOK, saved)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// healthzHandler reports liveness of the dependencies this deployment
// actually uses. Redis is only probed when it backs the notifier; a
// log-notifier deployment must not go unhealthy over an unreachable Redis.
func healthzHandler(cfg config.App, db *store.DB, redisCli *store.Redis) gin.HandlerFunc {
	return func(c *gin.Context) {
		dbHealthy := db != nil || cfg.StoreBackend == "memory"
		redisHealthy := true
		if cfg.NotifierBackend == "redis" {
			redisHealthy = redisCli.Healthy(c.Request.Context())
		}
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	}
}

// writeError maps the engine's error taxonomy to HTTP responses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrValidation),
		errors.Is(err, geofence.ErrDegenerateGeometry),
		errors.Is(err, event.ErrInvalidSchedule):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, attendance.ErrAlreadyRegistered):
		status = http.StatusConflict
	case errors.Is(err, attendance.ErrRegistrationClosed),
		errors.Is(err, attendance.ErrEventNotOngoing):
		status = http.StatusConflict
	case errors.Is(err, attendance.ErrNotRegistered):
		status = http.StatusPreconditionFailed
	case errors.Is(err, attendance.ErrNotEligible),
		errors.Is(err, attendance.ErrBiometricMismatch):
		status = http.StatusForbidden
	case errors.Is(err, attendance.ErrOutsideGeofence):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth.FromContext(c).Role != auth.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
