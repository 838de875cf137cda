package httpapi

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"gigflow/auth"
	"gigflow/ledger"
	"gigflow/logger"
	"gigflow/report"
)

// LedgerService moves money between profiles.
type LedgerService interface {
	PayJob(ctx context.Context, jobID, payerProfileID int64) error
	Deposit(ctx context.Context, sourceProfileID, destProfileID, amount int64) error
}

// ContractReader serves the caller's contracts and jobs.
type ContractReader interface {
	GetForProfile(ctx context.Context, contractID, profileID int64) (ledger.Contract, error)
	ListActive(ctx context.Context, profileID int64) ([]ledger.Contract, error)
	ListUnpaidJobs(ctx context.Context, profileID int64) ([]ledger.Job, error)
}

// ReportReader serves the admin aggregates.
type ReportReader interface {
	BestProfession(ctx context.Context, rng report.Range) (report.ProfessionEarnings, bool, error)
	BestClients(ctx context.Context, rng report.Range, limit int) ([]report.ClientSpend, error)
}

// IdentityResolver maps request credentials to the calling profile.
type IdentityResolver interface {
	Resolve(ctx context.Context, cred auth.Credential) (ledger.CallerProfile, error)
}

type Config struct {
	Ledger    LedgerService
	Contracts ContractReader
	Reports   ReportReader
	Identity  IdentityResolver
	Log       *logger.Logger
	// ServiceName labels the otelgin server spans.
	ServiceName string
}

type Server struct {
	ledger    LedgerService
	contracts ContractReader
	reports   ReportReader
	identity  IdentityResolver
	log       *logger.Logger
	service   string
}

func NewServer(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = logger.Nop()
	}
	service := cfg.ServiceName
	if service == "" {
		service = "gigflow"
	}
	return &Server{
		ledger:    cfg.Ledger,
		contracts: cfg.Contracts,
		reports:   cfg.Reports,
		identity:  cfg.Identity,
		log:       log.With("component", "httpapi"),
		service:   service,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(s.service))
	router.Use(requestID())
	router.Use(requestLogger(s.log))

	router.GET("/healthz", s.handleHealth)

	protected := router.Group("/")
	protected.Use(s.requireIdentity())
	protected.GET("/contracts/:id", s.handleGetContract)
	protected.GET("/contracts", s.handleListContracts)
	protected.GET("/jobs/unpaid", s.handleUnpaidJobs)
	protected.POST("/jobs/:id/pay", s.handlePayJob)
	protected.POST("/balances/deposit/:userId", s.handleDeposit)

	admin := protected.Group("/admin")
	admin.GET("/best-profession", s.handleBestProfession)
	admin.GET("/best-clients", s.handleBestClients)

	return router
}
