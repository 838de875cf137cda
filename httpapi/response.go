package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gigflow/contract"
	"gigflow/ledger"
)

type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type contractResponse struct {
	ID           int64  `json:"id"`
	Terms        string `json:"terms"`
	Status       string `json:"status"`
	ClientID     int64  `json:"clientId"`
	ContractorID int64  `json:"contractorId"`
}

type jobResponse struct {
	ID          int64   `json:"id"`
	Description string  `json:"description"`
	Price       int64   `json:"price"`
	Paid        bool    `json:"paid"`
	PaymentDate *string `json:"paymentDate"`
	ContractID  int64   `json:"contractId"`
}

func toContractResponse(c ledger.Contract) contractResponse {
	return contractResponse{
		ID:           c.ID,
		Terms:        c.Terms,
		Status:       string(c.Status),
		ClientID:     c.ClientID,
		ContractorID: c.ContractorID,
	}
}

func toJobResponse(j ledger.Job) jobResponse {
	resp := jobResponse{
		ID:          j.ID,
		Description: j.Description,
		Price:       j.Price,
		Paid:        j.Paid,
		ContractID:  j.ContractID,
	}
	if j.PaymentDate != nil {
		ts := j.PaymentDate.UTC().Format(time.RFC3339)
		resp.PaymentDate = &ts
	}
	return resp
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Message: message})
}

// writeError maps domain and store errors onto the HTTP surface.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	if rej, ok := ledger.IsRejection(err); ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Message: rej.Message, Code: rej.Code})
		return
	}

	switch {
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, contract.ErrNotFound):
		c.AbortWithStatus(http.StatusNotFound)
	case errors.Is(err, ledger.ErrStoreUnavailable):
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{Message: "Service temporarily unavailable"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Message: "Internal server error"})
	}
}
