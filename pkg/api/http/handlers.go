package http

import (
	"errors"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/aescanero/metricsd/pkg/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HelloMessage is the body message of /api/hello
const HelloMessage = "Hello Observability!"

// defaultListLimit bounds /metrics/snapshots without a limit parameter
const defaultListLimit = 20

// HelloResponse represents the /api/hello response
type HelloResponse struct {
	Message string `json:"message"`
}

// SnapshotListResponse represents a page of snapshots
type SnapshotListResponse struct {
	Snapshots []*domain.Snapshot `json:"snapshots"`
	Total     int                `json:"total"`
	Limit     int                `json:"limit"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleHello waits a random delay up to the configured bound, then greets
func (s *Server) handleHello(c *gin.Context) {
	if s.helloMaxDelay > 0 {
		delay := rand.N(s.helloMaxDelay + 1)
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-c.Request.Context().Done():
			// client went away; the status still feeds the histogram
			c.Status(499)
			return
		}
	}

	c.JSON(http.StatusOK, HelloResponse{Message: HelloMessage})
}

// handleLatestSnapshot returns the most recently published snapshot
func (s *Server) handleLatestSnapshot(c *gin.Context) {
	snap, err := s.store.Latest(c.Request.Context())
	if err != nil {
		s.snapshotError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleGetSnapshot returns one snapshot by id
func (s *Server) handleGetSnapshot(c *gin.Context) {
	snap, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.snapshotError(c, err)
		return
	}

	if c.Query("format") == "text" {
		c.Data(http.StatusOK, snap.ContentType, []byte(snap.Payload))
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleListSnapshots lists snapshots newest first
func (s *Server) handleListSnapshots(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer")
			return
		}
		limit = n
	}

	snaps, err := s.store.List(c.Request.Context(), limit)
	if err != nil {
		s.snapshotError(c, err)
		return
	}
	if snaps == nil {
		snaps = []*domain.Snapshot{}
	}

	c.JSON(http.StatusOK, SnapshotListResponse{
		Snapshots: snaps,
		Total:     len(snaps),
		Limit:     limit,
	})
}

func (s *Server) snapshotError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrSnapshotNotFound) {
		abortWithError(c, http.StatusNotFound, "NOT_FOUND", "Snapshot not found")
		return
	}
	s.logger.Error("failed to read snapshot store", zap.Error(err))
	abortWithError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
}
