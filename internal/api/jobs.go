package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"automation-hub/internal/broadcast"
	"automation-hub/internal/playbooks"
	"automation-hub/internal/store"

	"github.com/gin-gonic/gin"
)

// SubmitRequest asks for an immediate playbook run.
type SubmitRequest struct {
	Playbook       string `json:"playbook" validate:"required"`
	InventoryGroup string `json:"inventory_group"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	if !s.limiter.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
		return
	}

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := s.engine.Submit(req.Playbook, "web_ui", req.InventoryGroup)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
}

func (s *Server) handleJobStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	job, err := s.engine.GetStatus(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	jobs, err := s.engine.ListHistory(limit, c.Query("status"), c.Query("playbook"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (s *Server) handlePurge(c *gin.Context) {
	var criterion store.PurgeCriterion
	switch scope := c.Query("scope"); scope {
	case "all":
		criterion.All = true
	case "failed", "completed":
		criterion.Status = scope
	case "":
		days, err := strconv.Atoi(c.Query("days"))
		if err != nil || days <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "scope or days required"})
			return
		}
		criterion.OlderThanDays = days
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown purge scope"})
		return
	}

	deleted, err := s.engine.PurgeHistory(criterion)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.engine.HistoryStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleJobCancel(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.engine.Cancel(id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": id, "status": store.StatusCancelled})
}

// handleJobStream pushes live output lines as server-sent events,
// terminated by a completion marker. Replay for late joiners comes from
// polling the status endpoint, not from this stream.
func (s *Server) handleJobStream(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	job, err := s.engine.GetStatus(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	if job.Terminal() {
		writeEvent(c.Writer, broadcast.Event{JobID: job.ID, Done: true, Status: job.Status})
		c.Writer.Flush()
		return
	}

	sub := s.engine.Hub().Subscribe(id)
	defer s.engine.Hub().Unsubscribe(sub)

	// The job may have finished between the status check and the
	// subscription; the hub keeps no memory of closed jobs.
	if job, err := s.engine.GetStatus(id); err == nil && job.Terminal() {
		writeEvent(c.Writer, broadcast.Event{JobID: job.ID, Done: true, Status: job.Status})
		c.Writer.Flush()
		return
	}

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, open := <-sub.Ch:
			if !open {
				return
			}
			writeEvent(c.Writer, ev)
			c.Writer.Flush()
			if ev.Done {
				return
			}
		}
	}
}

func writeEvent(w io.Writer, ev broadcast.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}

func (s *Server) handlePlaybookList(c *gin.Context) {
	listing, err := playbooks.List(s.cfg.PlaybooksDir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (s *Server) handlePlaybookSync(c *gin.Context) {
	if err := s.syncer.Sync(); err != nil {
		s.logger.Error().Err(err).Msg("Playbook sync failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "synced"})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}
