package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/imrishuroy/go-flow-scheduler/internal/lease"
	"github.com/imrishuroy/go-flow-scheduler/internal/scheduler"
	"github.com/imrishuroy/go-flow-scheduler/internal/validation"
	"github.com/sirupsen/logrus"
)

// Runner executes one scheduler pass.
type Runner interface {
	Run(ctx context.Context, opts scheduler.RunOptions) (*scheduler.BatchReport, error)
}

// RunResponse is the body returned by POST /run.
type RunResponse struct {
	Success        bool                      `json:"success"`
	ProcessedFlows int                       `json:"processedFlows"`
	FailedFlows    int                       `json:"failedFlows"`
	Processed      []scheduler.ProcessedFlow `json:"processed"`
	Failed         []scheduler.FailedFlow    `json:"failed"`
	DeferredFlows  []string                  `json:"deferredFlows,omitempty"`
	Timestamp      string                    `json:"timestamp"`
}

// NewRouter builds the trigger API: POST /run and GET /health. Any other
// method on a known path gets 405.
func NewRouter(runner Runner, v *validatorv10.Validate) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"success":   false,
			"error":     "method not allowed",
			"timestamp": timestamp(),
		})
	})

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	RegisterRunRoutes(r, runner, v)
	return r
}

// RegisterRunRoutes registers POST /run.
func RegisterRunRoutes(r *gin.Engine, runner Runner, v *validatorv10.Validate) {
	r.POST("/run", func(c *gin.Context) {
		var req validation.RunRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		report, err := runner.Run(c.Request.Context(), scheduler.RunOptions{FlowIDs: req.FlowIDs})
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, lease.ErrRunInProgress) {
				status = http.StatusConflict
			}
			logrus.WithError(err).WithField("status", status).Error("scheduler run failed")
			c.JSON(status, gin.H{
				"success":   false,
				"error":     err.Error(),
				"timestamp": timestamp(),
			})
			return
		}

		c.JSON(http.StatusOK, RunResponse{
			Success:        true,
			ProcessedFlows: len(report.Processed),
			FailedFlows:    len(report.Failed),
			Processed:      report.Processed,
			Failed:         report.Failed,
			DeferredFlows:  report.Deferred,
			Timestamp:      timestamp(),
		})
	})
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
