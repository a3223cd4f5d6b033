// Package server exposes the minter's operations over HTTP.
package server

import (
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"boxmint/internal/account"
	"boxmint/internal/chain"
	"boxmint/internal/collateral"
	"boxmint/internal/engine"
	"boxmint/internal/observability"
	"boxmint/internal/persistence"
	"boxmint/internal/query"
)

// Server wires the engine into the HTTP API.
type Server struct {
	engine  *engine.Engine
	calc    *collateral.Calculator
	owner   string
	health  *observability.HealthChecker
	audit   *query.Service
	intents persistence.IntentStore
	log     zerolog.Logger
}

func New(eng *engine.Engine, calc *collateral.Calculator, owner string, health *observability.HealthChecker, log zerolog.Logger) *Server {
	return &Server{engine: eng, calc: calc, owner: owner, health: health, log: log}
}

// WithAudit attaches the audit read service and intent store, enabling the
// /v1/audit routes.
func (s *Server) WithAudit(audit *query.Service, intents persistence.IntentStore) *Server {
	s.audit = audit
	s.intents = intents
	return s
}

// Router builds the gin router with all routes attached.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", gin.WrapF(s.health.LivenessHandler))
	r.GET("/readyz", gin.WrapF(s.health.ReadinessHandler))

	v1 := r.Group("/v1")
	{
		v1.POST("/balance", s.updateBalance)
		v1.POST("/redeem", s.redeem)
		v1.POST("/transfer", s.transfer)
		v1.GET("/collateral/:ssi", s.collateralSnapshot)
		v1.POST("/assets/scan", s.scanAssets)

		if s.audit != nil {
			v1.GET("/audit/utxos/:ssi", s.auditUtxos)
		}
		if s.intents != nil {
			v1.GET("/audit/intents", s.auditIntents)
		}
	}
	return r
}

type updateBalanceRequest struct {
	SSI string `json:"ssi" binding:"required"`
}

func (s *Server) updateBalance(c *gin.Context) {
	var req updateBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	statuses, err := s.engine.UpdateBalance(c.Request.Context(), req.SSI)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"statuses": statuses})
}

type redeemRequest struct {
	SSI            string `json:"ssi" binding:"required"`
	DestOwner      string `json:"dest_owner" binding:"required"`
	DestSubaccount string `json:"dest_subaccount"`
}

func (s *Server) redeem(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dest := account.Account{Owner: req.DestOwner}
	if req.DestSubaccount != "" {
		sub, err := parseSubaccount(req.DestSubaccount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		dest.Subaccount = sub
	}

	if err := s.engine.Redeem(c.Request.Context(), req.SSI, dest); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "redeemed"})
}

type transferRequest struct {
	Caller      string `json:"caller" binding:"required"`
	SenderSSI   string `json:"sender_ssi" binding:"required"`
	ReceiverSSI string `json:"receiver_ssi" binding:"required"`
	Amount      uint64 `json:"amount" binding:"required"`
	SwapMinSats uint64 `json:"swap_min_sats"`
}

func (s *Server) transfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	receipts, err := s.engine.Transfer(c.Request.Context(),
		req.Caller, req.SenderSSI, req.ReceiverSSI, req.Amount, req.SwapMinSats)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipts": receipts})
}

type snapshotResponse struct {
	Collateral uint64 `json:"collateral"`
	Debt       uint64 `json:"debt"`
	Spendable  uint64 `json:"spendable"`
	Reserve    uint64 `json:"reserve"`
	RatioBps   uint64 `json:"ratio_bps"`
	Rate       uint64 `json:"rate"`
}

func (s *Server) collateralSnapshot(c *gin.Context) {
	snap, err := s.calc.TakeSnapshot(c.Request.Context(), s.owner, c.Param("ssi"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshotResponse{
		Collateral: snap.Collateral,
		Debt:       snap.Debt,
		Spendable:  snap.Spendable,
		Reserve:    snap.Reserve,
		RatioBps:   snap.Ratio(),
		Rate:       snap.Rate.Rate,
	})
}

func (s *Server) scanAssets(c *gin.Context) {
	split, err := s.engine.ScanAssets(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, split)
}

func (s *Server) auditUtxos(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	key := account.Derived(s.owner, account.NonceBox, c.Param("ssi")).Key()

	dispositions, err := s.audit.Dispositions(c.Request.Context(), key, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("audit query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": key, "utxos": dispositions})
}

func (s *Server) auditIntents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	intents, err := s.intents.ListIncomplete(c.Request.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("intent query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "intent query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incomplete": intents})
}

// writeError maps the engine's error taxonomy onto HTTP statuses. NoNewUtxos
// is informational and answers 200 with the pending-confirmation report.
func (s *Server) writeError(c *gin.Context, err error) {
	var (
		noNew  *engine.NoNewUtxosError
		ap     *engine.AlreadyProcessingError
		tu     *engine.TemporarilyUnavailableError
		ge     *engine.GenericError
		ce     *chain.CallError
		sysErr *engine.SystemError
	)
	switch {
	case errors.As(err, &noNew):
		c.JSON(http.StatusOK, gin.H{"no_new_utxos": noNew})
	case errors.As(err, &ap):
		c.JSON(http.StatusConflict, gin.H{"error": ap.Error()})
	case errors.As(err, &tu):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": tu.Error()})
	case errors.As(err, &ge):
		c.JSON(http.StatusBadRequest, gin.H{"error": ge.Message, "code": ge.Code})
	case errors.As(err, &ce):
		c.JSON(http.StatusBadGateway, gin.H{"error": ce.Error(), "method": ce.Method})
	case errors.As(err, &sysErr):
		s.log.Error().Err(err).Msg("internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": sysErr.Error()})
	default:
		s.log.Error().Err(err).Msg("unclassified error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func parseSubaccount(s string) (*account.Subaccount, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(account.Subaccount{}) {
		return nil, errors.New("subaccount must be 32 hex-encoded bytes")
	}
	var sub account.Subaccount
	copy(sub[:], raw)
	return &sub, nil
}
