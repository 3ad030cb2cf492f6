package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/payables/internal/audit"
	auditdomain "github.com/smallbiznis/payables/internal/audit/domain"
	"github.com/smallbiznis/payables/internal/config"
	"github.com/smallbiznis/payables/internal/creditapplication"
	creditdomain "github.com/smallbiznis/payables/internal/creditapplication/domain"
	"github.com/smallbiznis/payables/internal/lock"
	"github.com/smallbiznis/payables/internal/observability"
	obsmiddleware "github.com/smallbiznis/payables/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/payables/internal/observability/metrics"
	obstracing "github.com/smallbiznis/payables/internal/observability/tracing"
	"github.com/smallbiznis/payables/internal/paymentorder"
	orderdomain "github.com/smallbiznis/payables/internal/paymentorder/domain"
	"github.com/smallbiznis/payables/internal/paymentorder/voucher"
	"github.com/smallbiznis/payables/internal/ratelimit"
	"github.com/smallbiznis/payables/internal/sequence"
	"github.com/smallbiznis/payables/internal/supplierdocument"
	docdomain "github.com/smallbiznis/payables/internal/supplierdocument/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	lock.Module,
	ratelimit.Module,
	sequence.Module,
	audit.Module,
	supplierdocument.Module,
	creditapplication.Module,
	paymentorder.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	documentSvc  docdomain.Service
	creditSvc    creditdomain.Service
	orderSvc     orderdomain.Service
	auditSvc     auditdomain.Service
	vouchers     voucher.Renderer
	writeLimiter *ratelimit.WriteLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DocumentSvc  docdomain.Service
	CreditSvc    creditdomain.Service
	OrderSvc     orderdomain.Service
	AuditSvc     auditdomain.Service
	Vouchers     voucher.Renderer        `optional:"true"`
	WriteLimiter *ratelimit.WriteLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	vouchers := p.Vouchers
	if vouchers == nil {
		vouchers = voucher.New()
	}

	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		documentSvc:  p.DocumentSvc,
		creditSvc:    p.CreditSvc,
		orderSvc:     p.OrderSvc,
		auditSvc:     p.AuditSvc,
		vouchers:     vouchers,
		writeLimiter: p.WriteLimiter,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(ChannelContext())

	write := s.WriteRateLimit()

	// -------- Suppliers --------
	api.GET("/suppliers/:supplier_id/documents/open", s.ListOpenDocuments)
	api.GET("/suppliers/:supplier_id/credit-notes/open", s.ListOpenCreditNotes)
	api.GET("/suppliers/:supplier_id/balance", s.GetSupplierBalance)
	api.GET("/suppliers/:supplier_id/statement", s.ExportSupplierStatement)

	// -------- Documents --------
	api.GET("/documents", s.ListDocuments)
	api.POST("/documents", write, s.CreateDocument)
	api.GET("/documents/:id", s.GetDocumentByID)
	api.PUT("/documents/:id", write, s.UpdateDocument)
	api.PUT("/documents/:id/cancel", write, s.CancelDocument)
	api.GET("/documents/:id/credit-applications", s.ListDocumentCreditApplications)

	// -------- Credit applications --------
	api.POST("/credit-applications", write, s.ApplyCredit)

	// -------- Payment orders --------
	api.GET("/payment-orders", s.ListPaymentOrders)
	api.POST("/payment-orders", write, s.CreatePaymentOrder)
	api.GET("/payment-orders/:id", s.GetPaymentOrderByID)
	api.GET("/payment-orders/:id/voucher", s.GetPaymentOrderVoucher)
	api.PUT("/payment-orders/:id/confirm", write, s.ConfirmPaymentOrder)
	api.PUT("/payment-orders/:id/cancel", write, s.CancelPaymentOrder)

	api.GET("/alerts", s.GetAlerts)
	api.GET("/audit-logs", s.ListAuditLogs)
}
