package store

import (
	"time"
)

// Job status values persisted in SQLite.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Job represents one execution attempt of a playbook.
type Job struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	Playbook    string     `json:"playbook"`
	Status      string     `json:"status"`
	TriggeredBy string     `json:"triggered_by"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	Output      string     `json:"output"`
	ExitCode    *int       `json:"exit_code"`
	Pid         *int       `json:"pid"`
}

// Terminal reports whether the job has reached a final status.
func (j *Job) Terminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Schedule is a recurring cron-driven trigger bound to a playbook.
type Schedule struct {
	ID               uint       `json:"id" gorm:"primaryKey"`
	Name             string     `json:"name"`
	Playbook         string     `json:"playbook"`
	CronExpr         string     `json:"cron_expr"`
	Enabled          bool       `json:"enabled" gorm:"default:true"`
	NotifyOnComplete bool       `json:"notify_on_complete" gorm:"default:true"`
	InventoryGroup   string     `json:"inventory_group"`
	LastRun          *time.Time `json:"last_run"`
	NextRun          *time.Time `json:"next_run"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Server is one inventory target host.
type Server struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"uniqueIndex"`
	Hostname    string    `json:"hostname"`
	Port        int       `json:"port" gorm:"default:22"`
	Username    string    `json:"username"`
	Password    string    `json:"-"`
	Groups      string    `json:"groups"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ServerView is the credential-redacted shape returned from list calls.
type ServerView struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Hostname    string    `json:"hostname"`
	Port        int       `json:"port"`
	Username    string    `json:"username"`
	HasPassword bool      `json:"has_password"`
	Groups      string    `json:"groups"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// View redacts the password down to a has_password flag.
func (s *Server) View() ServerView {
	return ServerView{
		ID:          s.ID,
		Name:        s.Name,
		Hostname:    s.Hostname,
		Port:        s.Port,
		Username:    s.Username,
		HasPassword: s.Password != "",
		Groups:      s.Groups,
		Description: s.Description,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}
