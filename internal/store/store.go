package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateName is returned when a server name is already taken.
var ErrDuplicateName = errors.New("server name already exists")

// Store wraps a single serialized SQLite connection. Every operation is a
// self-contained read-modify-write so concurrent submissions cannot corrupt
// id assignment or schedule bookkeeping.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// Open connects to the SQLite database at path and migrates the schema.
// Adding optional columns to existing rows applies their defaults.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access underlying connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Job{}, &Schedule{}, &Server{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- Jobs ---

// CreateJob inserts a pending job row and returns it with its assigned id.
func (s *Store) CreateJob(playbook, triggeredBy string) (*Job, error) {
	job := &Job{
		Playbook:    playbook,
		Status:      StatusPending,
		TriggeredBy: triggeredBy,
		StartedAt:   time.Now().UTC(),
	}
	if err := s.db.Create(job).Error; err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(id uint) (*Job, error) {
	var job Job
	if err := s.db.First(&job, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch job %d: %w", id, err)
	}
	return &job, nil
}

// MarkJobRunning flips a job to running and attaches the child process id.
func (s *Store) MarkJobRunning(id uint, pid int) error {
	res := s.db.Model(&Job{}).Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]any{"status": StatusRunning, "pid": pid})
	if res.Error != nil {
		return fmt.Errorf("mark job %d running: %w", id, res.Error)
	}
	return nil
}

// FinishJob writes the terminal state in one update. exit_code, output and
// completed_at are set exactly once, atomically with the final status.
func (s *Store) FinishJob(id uint, status string, exitCode int, output string) error {
	now := time.Now().UTC()
	res := s.db.Model(&Job{}).
		Where("id = ? AND status IN ?", id, []string{StatusPending, StatusRunning}).
		Updates(map[string]any{
			"status":       status,
			"exit_code":    exitCode,
			"output":       output,
			"completed_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("finish job %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("finish job %d: already terminal", id)
	}
	return nil
}

// ListJobs returns history newest-first, optionally filtered by status and
// by a playbook name substring.
func (s *Store) ListJobs(limit int, status, playbook string) ([]Job, error) {
	q := s.db.Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if playbook != "" {
		q = q.Where("playbook LIKE ?", "%"+playbook+"%")
	}
	var jobs []Job
	if err := q.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// PurgeCriterion selects which history rows to delete. The zero value
// deletes nothing.
type PurgeCriterion struct {
	All           bool
	Status        string
	OlderThanDays int
}

// PurgeJobs deletes history rows matching the criterion and returns the
// number of rows removed.
func (s *Store) PurgeJobs(c PurgeCriterion) (int64, error) {
	q := s.db.Model(&Job{})
	switch {
	case c.All:
		q = q.Where("1 = 1")
	case c.Status != "":
		q = q.Where("status = ?", c.Status)
	case c.OlderThanDays > 0:
		cutoff := time.Now().UTC().AddDate(0, 0, -c.OlderThanDays)
		q = q.Where("started_at < ?", cutoff)
	default:
		return 0, nil
	}
	res := q.Delete(&Job{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// HistoryStats summarizes the job table.
type HistoryStats struct {
	Total       int64      `json:"total"`
	Oldest      *time.Time `json:"oldest"`
	ApproxBytes int64      `json:"approx_bytes"`
}

// JobStats reports total entries, the oldest start time and the
// approximate size of captured output.
func (s *Store) JobStats() (HistoryStats, error) {
	var stats HistoryStats
	if err := s.db.Model(&Job{}).Count(&stats.Total).Error; err != nil {
		return stats, fmt.Errorf("count jobs: %w", err)
	}
	if stats.Total == 0 {
		return stats, nil
	}
	var oldest Job
	if err := s.db.Order("started_at ASC").First(&oldest).Error; err != nil {
		return stats, fmt.Errorf("oldest job: %w", err)
	}
	stats.Oldest = &oldest.StartedAt
	row := s.db.Model(&Job{}).Select("COALESCE(SUM(LENGTH(output)), 0)").Row()
	if err := row.Scan(&stats.ApproxBytes); err != nil {
		return stats, fmt.Errorf("sum output size: %w", err)
	}
	return stats, nil
}

// --- Servers ---

// CreateServer inserts a server, enforcing name uniqueness.
func (s *Store) CreateServer(srv *Server) error {
	var count int64
	if err := s.db.Model(&Server{}).Where("name = ?", srv.Name).Count(&count).Error; err != nil {
		return fmt.Errorf("check server name: %w", err)
	}
	if count > 0 {
		return ErrDuplicateName
	}
	if srv.Port == 0 {
		srv.Port = 22
	}
	if err := s.db.Create(srv).Error; err != nil {
		return fmt.Errorf("insert server: %w", err)
	}
	return nil
}

// GetServer fetches the full record, credentials included. This is the only
// read path that may embed passwords into a rendered inventory.
func (s *Store) GetServer(id uint) (*Server, error) {
	var srv Server
	if err := s.db.First(&srv, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch server %d: %w", id, err)
	}
	return &srv, nil
}

// ListServers returns all servers with passwords redacted.
func (s *Store) ListServers() ([]ServerView, error) {
	var servers []Server
	if err := s.db.Order("name ASC").Find(&servers).Error; err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	views := make([]ServerView, 0, len(servers))
	for i := range servers {
		views = append(views, servers[i].View())
	}
	return views, nil
}

// AllServers returns full records for inventory rendering.
func (s *Store) AllServers() ([]Server, error) {
	var servers []Server
	if err := s.db.Order("name ASC").Find(&servers).Error; err != nil {
		return nil, fmt.Errorf("load servers: %w", err)
	}
	return servers, nil
}

// UpdateServer applies a partial update, re-checking name uniqueness when
// the name changes.
func (s *Store) UpdateServer(id uint, fields map[string]any) (*Server, error) {
	srv, err := s.GetServer(id)
	if err != nil {
		return nil, err
	}
	if name, ok := fields["name"].(string); ok && name != srv.Name {
		var count int64
		if err := s.db.Model(&Server{}).Where("name = ? AND id <> ?", name, id).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("check server name: %w", err)
		}
		if count > 0 {
			return nil, ErrDuplicateName
		}
	}
	if err := s.db.Model(srv).Updates(fields).Error; err != nil {
		return nil, fmt.Errorf("update server %d: %w", id, err)
	}
	return s.GetServer(id)
}

// DeleteServer removes a server by id.
func (s *Store) DeleteServer(id uint) error {
	res := s.db.Delete(&Server{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete server %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Schedules ---

// CreateSchedule inserts a schedule row.
func (s *Store) CreateSchedule(sched *Schedule) error {
	if err := s.db.Create(sched).Error; err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// GetSchedule fetches a schedule by id.
func (s *Store) GetSchedule(id uint) (*Schedule, error) {
	var sched Schedule
	if err := s.db.First(&sched, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch schedule %d: %w", id, err)
	}
	return &sched, nil
}

// ListSchedules returns all schedules.
func (s *Store) ListSchedules() ([]Schedule, error) {
	var scheds []Schedule
	if err := s.db.Order("id ASC").Find(&scheds).Error; err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return scheds, nil
}

// EnabledSchedules returns only schedules eligible for the scheduler loop.
func (s *Store) EnabledSchedules() ([]Schedule, error) {
	var scheds []Schedule
	if err := s.db.Where("enabled = ?", true).Find(&scheds).Error; err != nil {
		return nil, fmt.Errorf("list enabled schedules: %w", err)
	}
	return scheds, nil
}

// SaveSchedule persists all fields of an existing schedule.
func (s *Store) SaveSchedule(sched *Schedule) error {
	if err := s.db.Save(sched).Error; err != nil {
		return fmt.Errorf("save schedule %d: %w", sched.ID, err)
	}
	return nil
}

// MarkScheduleFired records a firing and the recomputed next occurrence.
func (s *Store) MarkScheduleFired(id uint, lastRun time.Time, nextRun *time.Time) error {
	err := s.db.Model(&Schedule{}).Where("id = ?", id).
		Updates(map[string]any{"last_run": lastRun, "next_run": nextRun}).Error
	if err != nil {
		return fmt.Errorf("mark schedule %d fired: %w", id, err)
	}
	return nil
}

// DeleteSchedule removes a schedule by id.
func (s *Store) DeleteSchedule(id uint) error {
	res := s.db.Delete(&Schedule{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete schedule %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
