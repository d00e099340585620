// Package gitsync populates the playbooks root from a git repository.
package gitsync

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"automation-hub/internal/config"
	"automation-hub/internal/githubapp"

	"github.com/rs/zerolog"
	git "gopkg.in/src-d/go-git.v4"
)

// Syncer clones or refreshes the configured playbook repository into the
// playbooks root.
type Syncer struct {
	cfg    *config.Config
	logger zerolog.Logger
}

func New(cfg *config.Config, logger zerolog.Logger) *Syncer {
	return &Syncer{
		cfg:    cfg,
		logger: logger.With().Str("component", "gitsync").Logger(),
	}
}

// Sync makes the playbooks root match the remote repository. A fresh root
// is cloned; an existing checkout is pulled fast-forward.
func (s *Syncer) Sync() error {
	if s.cfg.PlaybookRepoURL == "" {
		return fmt.Errorf("no playbook repository configured")
	}

	cloneURL := s.cfg.PlaybookRepoURL
	if s.cfg.GitAppID != 0 && s.cfg.GitPrivateKey != "" {
		token, err := githubapp.GetInstallationToken(githubapp.AuthConfig{
			AppID:          s.cfg.GitAppID,
			InstallationID: s.cfg.GitInstallID,
			PrivateKey:     s.cfg.GitPrivateKey,
			APIBaseURL:     s.cfg.GitAPIBaseURL,
		})
		if err != nil {
			return fmt.Errorf("github authentication failed: %w", err)
		}
		cloneURL = githubapp.BuildCloneURL(token, extractRepoPath(s.cfg.PlaybookRepoURL), extractHost(s.cfg.PlaybookRepoURL))
	}

	s.logger.Info().Str("clone_url", maskTokenInURL(cloneURL)).Str("dir", s.cfg.PlaybooksDir).Msg("Syncing playbooks")

	repo, err := git.PlainOpen(s.cfg.PlaybooksDir)
	if err == git.ErrRepositoryNotExists {
		return s.clone(cloneURL)
	}
	if err != nil {
		return fmt.Errorf("open playbooks checkout: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	progress := &gitOutputWriter{logger: s.logger.With().Str("op", "pull").Logger()}
	err = wt.Pull(&git.PullOptions{RemoteName: "origin", Progress: progress})
	if err == git.NoErrAlreadyUpToDate {
		s.logger.Info().Msg("Playbooks already up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("pull playbooks: %w", err)
	}
	s.logger.Info().Msg("Playbooks updated")
	return nil
}

func (s *Syncer) clone(cloneURL string) error {
	if err := os.MkdirAll(s.cfg.PlaybooksDir, 0755); err != nil {
		return fmt.Errorf("create playbooks dir: %w", err)
	}
	progress := &gitOutputWriter{logger: s.logger.With().Str("op", "clone").Logger()}
	_, err := git.PlainClone(s.cfg.PlaybooksDir, false, &git.CloneOptions{
		URL:      cloneURL,
		Progress: progress,
	})
	if err != nil {
		return fmt.Errorf("clone playbooks: %w", err)
	}
	s.logger.Info().Msg("Playbooks cloned")
	return nil
}

func extractRepoPath(fullURL string) string {
	u, err := url.Parse(fullURL)
	if err != nil {
		return fullURL // fallback
	}
	return strings.TrimPrefix(u.Path, "/")
}

func extractHost(repoURL string) string {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "github.com"
	}
	return u.Host
}

// maskTokenInURL masks the token in a URL for logging.
func maskTokenInURL(cloneURL string) string {
	u, err := url.Parse(cloneURL)
	if err != nil || u.User == nil {
		return cloneURL
	}
	username := u.User.Username()
	if _, hasToken := u.User.Password(); hasToken {
		u.User = url.UserPassword(username, "****")
		return u.String()
	}
	return cloneURL
}

// gitOutputWriter converts git progress output into log lines.
type gitOutputWriter struct {
	logger zerolog.Logger
}

func (w *gitOutputWriter) Write(p []byte) (n int, err error) {
	output := strings.TrimSpace(string(p))
	if output != "" {
		w.logger.Debug().Str("progress", output).Msg("Git progress")
	}
	return len(p), nil
}
