package main

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/sales_backend/config"
	"github.com/mmdatafocus/sales_backend/integration"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/mmdatafocus/sales_backend/utils"
	"github.com/mmdatafocus/sales_backend/workflow"
	"github.com/sirupsen/logrus"
)

// statusFor maps an engine error to an HTTP status by its kind.
func statusFor(err error) int {
	switch models.KindOf(err) {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindBusinessRule:
		return http.StatusUnprocessableEntity
	case models.KindConcurrency:
		return http.StatusConflict
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindCollaborator:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": models.KindOf(err)})
}

// opsTokenRequired guards internal routes with a shared token. Without OPS_TOKEN
// configured the routes are disabled.
func opsTokenRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		want := strings.TrimSpace(os.Getenv("OPS_TOKEN"))
		got := c.GetHeader("x-ops-token")
		if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// crmPubSubHandler opens quotes for won opportunities. Malformed or rejected
// messages are acked (204) so Pub/Sub stops redelivering them; transient failures
// return 500 for a retry.
func crmPubSubHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "handlers.go", "crmPubSubHandler", "io.ReadAll", nil, err)
			c.Status(http.StatusNoContent)
			return
		}
		msg, messageID, ok, err := integration.DecodeOpportunityWon(body)
		if err != nil {
			config.LogError(logger, "handlers.go", "crmPubSubHandler", "DecodeOpportunityWon", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}
		if !ok {
			c.Status(http.StatusNoContent)
			return
		}
		ctx := c.Request.Context()
		if msg.CorrelationID == "" {
			msg.CorrelationID = messageID
		}
		fields := logrus.Fields{
			"field":          "crmPubSubHandler",
			"message_id":     messageID,
			"opportunity_id": msg.OpportunityID,
			"correlation_id": msg.CorrelationID,
		}
		quote, created, err := current.Load().engine.HandleOpportunityWon(ctx, msg)
		if err != nil {
			switch models.KindOf(err) {
			case models.KindValidation, models.KindBusinessRule, models.KindNotFound:
				logger.WithFields(fields).Warn("opportunity dropped: " + err.Error())
				c.Status(http.StatusNoContent)
			default:
				logger.WithFields(fields).Error("opportunity processing failed: " + err.Error())
				c.Status(http.StatusInternalServerError)
			}
			return
		}
		fields["quote_id"] = quote.ID
		fields["created"] = created
		logger.WithFields(fields).Info("opportunity processed")
		c.Status(http.StatusNoContent)
	}
}

type outboxReplayRequest struct {
	RecordIDs []int64 `json:"record_ids" binding:"required,min=1"`
}

// outboxReplayHandler moves DEAD or FAILED outbox records back to PENDING.
func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "record_ids are required"})
			return
		}
		n, err := current.Load().outbox.RequeueOutbox(c.Request.Context(), req.RecordIDs)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"requeued": n, "publish_status": models.OutboxPublishStatusPending})
	}
}

func refFromPath(c *gin.Context) (models.DocumentRef, error) {
	ref := models.DocumentRef{ID: c.Param("id")}
	if v := c.Query("version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return ref, utils.ErrInvalidInput
		}
		ref.Version = n
	}
	return ref, nil
}

// documentHandler runs a single-document command taken from the path.
func documentHandler[T any](run func(c *gin.Context, e *workflow.Engine, ref models.DocumentRef) (T, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref, err := refFromPath(c)
		if err != nil {
			respondError(c, err)
			return
		}
		out, err := run(c, current.Load().engine, ref)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func confirmOrderHandler() gin.HandlerFunc {
	return documentHandler(func(c *gin.Context, e *workflow.Engine, ref models.DocumentRef) (*models.SalesOrder, error) {
		return e.ConfirmOrder(c.Request.Context(), ref)
	})
}

func invoiceOrderHandler() gin.HandlerFunc {
	return documentHandler(func(c *gin.Context, e *workflow.Engine, ref models.DocumentRef) (*models.SalesInvoice, error) {
		var lines []models.InvoiceLineRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&lines); err != nil {
				return nil, errors.Join(utils.ErrInvalidInput, err)
			}
		}
		return e.InvoiceOrder(c.Request.Context(), ref, lines)
	})
}

func sendInvoiceHandler() gin.HandlerFunc {
	return documentHandler(func(c *gin.Context, e *workflow.Engine, ref models.DocumentRef) (*models.SalesInvoice, error) {
		return e.SendInvoice(c.Request.Context(), ref)
	})
}

func voidInvoiceHandler() gin.HandlerFunc {
	return documentHandler(func(c *gin.Context, e *workflow.Engine, ref models.DocumentRef) (*models.SalesInvoice, error) {
		return e.VoidInvoice(c.Request.Context(), ref)
	})
}

func getInvoiceHandler() gin.HandlerFunc {
	return documentHandler(func(c *gin.Context, e *workflow.Engine, ref models.DocumentRef) (*models.SalesInvoice, error) {
		return e.GetInvoice(c.Request.Context(), ref.ID)
	})
}

func refundPaymentHandler() gin.HandlerFunc {
	return documentHandler(func(c *gin.Context, e *workflow.Engine, ref models.DocumentRef) (*models.CustomerPayment, error) {
		var amount utils.Money
		if err := c.ShouldBindJSON(&amount); err != nil {
			return nil, errors.Join(utils.ErrInvalidInput, err)
		}
		return e.RefundPayment(c.Request.Context(), ref, amount)
	})
}

func receivePaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req workflow.PaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, errors.Join(utils.ErrInvalidInput, err))
			return
		}
		p, err := current.Load().engine.ReceivePayment(c.Request.Context(), req.Payment, req.Allocations)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, p)
	}
}

type bulkConvertRequest struct {
	Quotes []models.DocumentRef `json:"quotes" binding:"required,min=1"`
}

type bulkItemResponse struct {
	workflow.BulkItemResult
	Error string           `json:"error,omitempty"`
	Kind  models.ErrorKind `json:"kind,omitempty"`
}

func bulkConvertHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req bulkConvertRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, errors.Join(utils.ErrInvalidInput, err))
			return
		}
		results := current.Load().engine.BulkConvertQuotes(c.Request.Context(), req.Quotes)
		out := make([]bulkItemResponse, len(results))
		for i, r := range results {
			out[i] = bulkItemResponse{BulkItemResult: r}
			if r.Err != nil {
				out[i].Error = r.Err.Error()
				out[i].Kind = models.KindOf(r.Err)
			}
		}
		c.JSON(http.StatusOK, gin.H{"results": out})
	}
}
