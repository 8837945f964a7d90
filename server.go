package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/sales_backend/config"
	"github.com/mmdatafocus/sales_backend/integration"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/mmdatafocus/sales_backend/repository"
	"github.com/mmdatafocus/sales_backend/utils"
	"github.com/mmdatafocus/sales_backend/workflow"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// app holds what the handlers need once dependencies are connected.
type app struct {
	engine *workflow.Engine
	outbox models.Outbox
}

var current atomic.Pointer[app]

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	settings, err := config.LoadSalesSettings()
	if err != nil {
		log.Fatalf("sales settings: %v", err)
	}

	shutdownTracing, err := config.InitTracing(sigCtx, "sales-backend")
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "tracing"}).Warn("tracing disabled: " + err.Error())
	}

	// Start the HTTP server first; app routes answer 503 until dependencies are ready.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Header("x-correlation-id", cid)
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if current.Load() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "x-correlation-id", "x-ops-token")
	corsConfig.AddExposeHeaders("Content-Length", "x-correlation-id")
	r.Use(cors.New(corsConfig))
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/pubsub/crm", crmPubSubHandler())
	internal := r.Group("/internal", opsTokenRequired())
	internal.POST("/ops/outbox/replay", outboxReplayHandler())
	internal.POST("/quotes/convert", bulkConvertHandler())
	internal.POST("/orders/:id/confirm", confirmOrderHandler())
	internal.POST("/orders/:id/invoice", invoiceOrderHandler())
	internal.POST("/invoices/:id/send", sendInvoiceHandler())
	internal.POST("/invoices/:id/void", voidInvoiceHandler())
	internal.GET("/invoices/:id", getInvoiceHandler())
	internal.POST("/payments", receivePaymentHandler())
	internal.POST("/payments/:id/refund", refundPaymentHandler())
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry(sigCtx)

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate takes table locks; production runs it as a separate job.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	store := repository.NewGormStore(db)
	// Inventory and the HR rep directory stay in process until their services
	// expose an API: every product is unmanaged and reps come from the documents.
	logger.WithFields(logrus.Fields{"field": "collaborators"}).Warn("using in-process stock ledger and empty rep directory")
	opts := []workflow.Option{
		workflow.WithLogger(logger),
		workflow.WithInventory(integration.NewStockLedger()),
		workflow.WithRepDirectory(integration.NewStaticRepDirectory(nil)),
	}
	if lock := config.GetRedisLock(); lock != nil {
		opts = append(opts, workflow.WithLocker(utils.NewRedisDocumentLocker(lock)))
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("SALES_REDIS_SEQUENCES")), "true") {
		opts = append(opts, workflow.WithSequencer(utils.NewRedisSequencer(config.GetRedisDB())))
	}
	engine, err := workflow.NewEngine(store, settings, opts...)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "engine"}).Fatal(err.Error())
	}

	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	publisher := integration.NewPubSubEventPublisher(settings.EventsTopic)
	go workflow.NewOutboxDispatcher(store, publisher, logger).Run(dispatcherCtx)

	current.Store(&app{engine: engine, outbox: store})
	logger.WithFields(logrus.Fields{"info": "Connection Established"}).Info("sales backend listening on :" + port)

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop the dispatcher before draining so no new publishes start.
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
	if shutdownTracing != nil {
		_ = shutdownTracing(shutdownCtx)
	}
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger logs only requests that recorded errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
