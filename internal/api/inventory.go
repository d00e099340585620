package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"automation-hub/internal/cron"
	"automation-hub/internal/store"

	"github.com/gin-gonic/gin"
)

// ServerRequest creates or replaces an inventory target.
type ServerRequest struct {
	Name        string `json:"name" validate:"required"`
	Hostname    string `json:"hostname" validate:"required"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Groups      string `json:"groups"`
	Description string `json:"description"`
}

func (s *Server) handleServerList(c *gin.Context) {
	servers, err := s.store.ListServers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, servers)
}

func (s *Server) handleServerCreate(c *gin.Context) {
	var req ServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	srv := &store.Server{
		Name:        req.Name,
		Hostname:    req.Hostname,
		Port:        req.Port,
		Username:    req.Username,
		Password:    req.Password,
		Groups:      req.Groups,
		Description: req.Description,
	}
	if err := s.store.CreateServer(srv); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, srv.View())
}

func (s *Server) handleServerGet(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	srv, err := s.store.GetServer(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, srv)
}

// ServerUpdateRequest is a partial update; only the listed columns may
// change. Unknown keys, id included, reject the whole request.
type ServerUpdateRequest struct {
	Name        *string `json:"name"`
	Hostname    *string `json:"hostname"`
	Port        *int    `json:"port"`
	Username    *string `json:"username"`
	Password    *string `json:"password"`
	Groups      *string `json:"groups"`
	Description *string `json:"description"`
}

func (r *ServerUpdateRequest) fields() map[string]any {
	fields := make(map[string]any)
	if r.Name != nil {
		fields["name"] = *r.Name
	}
	if r.Hostname != nil {
		fields["hostname"] = *r.Hostname
	}
	if r.Port != nil {
		fields["port"] = *r.Port
	}
	if r.Username != nil {
		fields["username"] = *r.Username
	}
	if r.Password != nil {
		fields["password"] = *r.Password
	}
	if r.Groups != nil {
		fields["groups"] = *r.Groups
	}
	if r.Description != nil {
		fields["description"] = *r.Description
	}
	return fields
}

func (s *Server) handleServerUpdate(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req ServerUpdateRequest
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Name != nil && *req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name must not be empty"})
		return
	}
	if req.Hostname != nil && *req.Hostname == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hostname must not be empty"})
		return
	}
	fields := req.fields()
	if len(fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no updatable fields in request"})
		return
	}
	srv, err := s.store.UpdateServer(id, fields)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
		case errors.Is(err, store.ErrDuplicateName):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, srv.View())
}

func (s *Server) handleServerDelete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.store.DeleteServer(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// ScheduleRequest creates or replaces a recurring trigger.
type ScheduleRequest struct {
	Name             string `json:"name"`
	Playbook         string `json:"playbook" validate:"required"`
	CronExpr         string `json:"cron_expr" validate:"required,cronexpr"`
	Enabled          *bool  `json:"enabled"`
	NotifyOnComplete *bool  `json:"notify_on_complete"`
	InventoryGroup   string `json:"inventory_group"`
}

func (s *Server) handleScheduleList(c *gin.Context) {
	schedules, err := s.store.ListSchedules()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, schedules)
}

func (s *Server) handleScheduleCreate(c *gin.Context) {
	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sched := &store.Schedule{
		Name:             req.Name,
		Playbook:         req.Playbook,
		CronExpr:         req.CronExpr,
		Enabled:          true,
		NotifyOnComplete: true,
		InventoryGroup:   req.InventoryGroup,
		NextRun:          cron.Next(req.CronExpr, time.Now()),
	}
	if req.Enabled != nil {
		sched.Enabled = *req.Enabled
	}
	if req.NotifyOnComplete != nil {
		sched.NotifyOnComplete = *req.NotifyOnComplete
	}

	if err := s.store.CreateSchedule(sched); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sched)
}

func (s *Server) handleScheduleGet(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	sched, err := s.store.GetSchedule(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (s *Server) handleScheduleUpdate(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	sched, err := s.store.GetSchedule(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// A changed cron expression invalidates the stored next occurrence.
	if req.CronExpr != sched.CronExpr {
		sched.NextRun = cron.Next(req.CronExpr, time.Now())
	}
	sched.Name = req.Name
	sched.Playbook = req.Playbook
	sched.CronExpr = req.CronExpr
	sched.InventoryGroup = req.InventoryGroup
	if req.Enabled != nil {
		sched.Enabled = *req.Enabled
	}
	if req.NotifyOnComplete != nil {
		sched.NotifyOnComplete = *req.NotifyOnComplete
	}

	if err := s.store.SaveSchedule(sched); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (s *Server) handleScheduleDelete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.store.DeleteSchedule(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
