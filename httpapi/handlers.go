package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"gigflow/report"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleGetContract(c *gin.Context) {
	caller, _ := callerFrom(c)
	id, ok := pathID(c, "id")
	if !ok {
		badRequest(c, "Invalid contract id")
		return
	}

	ct, err := s.contracts.GetForProfile(c.Request.Context(), id, caller.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toContractResponse(ct))
}

func (s *Server) handleListContracts(c *gin.Context) {
	caller, _ := callerFrom(c)
	contracts, err := s.contracts.ListActive(c.Request.Context(), caller.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]contractResponse, 0, len(contracts))
	for _, ct := range contracts {
		resp = append(resp, toContractResponse(ct))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleUnpaidJobs(c *gin.Context) {
	caller, _ := callerFrom(c)
	jobs, err := s.contracts.ListUnpaidJobs(c.Request.Context(), caller.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, toJobResponse(j))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePayJob(c *gin.Context) {
	caller, _ := callerFrom(c)
	jobID, ok := pathID(c, "id")
	if !ok {
		badRequest(c, "Invalid job id")
		return
	}

	if err := s.ledger.PayJob(c.Request.Context(), jobID, caller.ID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

type depositRequest struct {
	Amount *int64 `json:"amount"`
}

func (s *Server) handleDeposit(c *gin.Context) {
	caller, _ := callerFrom(c)
	// Any integer reaches the ledger so an unknown destination is a 404.
	destID, err := strconv.ParseInt(strings.TrimSpace(c.Param("userId")), 10, 64)
	if err != nil {
		badRequest(c, "Invalid user id")
		return
	}

	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Amount == nil {
		badRequest(c, "Deposit amount must be a positive integer")
		return
	}

	if err := s.ledger.Deposit(c.Request.Context(), caller.ID, destID, *req.Amount); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) handleBestProfession(c *gin.Context) {
	rng, err := report.ParseRange(c.Query("start"), c.Query("end"))
	if err != nil {
		badRequest(c, "Invalid date range")
		return
	}

	best, found, err := s.reports.BestProfession(c.Request.Context(), rng)
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusOK, []report.ProfessionEarnings{})
		return
	}
	c.JSON(http.StatusOK, best)
}

func (s *Server) handleBestClients(c *gin.Context) {
	rng, err := report.ParseRange(c.Query("start"), c.Query("end"))
	if err != nil {
		badRequest(c, "Invalid date range")
		return
	}
	limit, err := report.ParseLimit(c.Query("limit"))
	if err != nil {
		badRequest(c, "Invalid limit")
		return
	}

	clients, err := s.reports.BestClients(c.Request.Context(), rng, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if clients == nil {
		clients = []report.ClientSpend{}
	}
	c.JSON(http.StatusOK, clients)
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param(name)), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
