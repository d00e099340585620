package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Runner modes. Script mode dispatches shell and python playbooks only;
// ansible mode additionally runs structured playbooks against a rendered
// inventory.
const (
	ModeScript  = "script"
	ModeAnsible = "ansible"
)

// Config holds the application configuration settings.
type Config struct {
	ServerPort   string `json:"port"`
	DatabasePath string `json:"database_path"`
	PlaybooksDir string `json:"playbooks_dir"`
	RunnerMode   string `json:"runner_mode"`
	// NotifyWebhookURL receives job completion summaries; empty means
	// log-only delivery.
	NotifyWebhookURL string `json:"notify_webhook_url"`
	RateLimit        int    `json:"rate_limit"`
	// Optional GitHub App credentials for playbook repository sync.
	PlaybookRepoURL string `json:"playbook_repo_url"`
	GitAppID        int    `json:"git_app_id"`
	GitInstallID    int    `json:"git_install_id"`
	GitPrivateKey   string `json:"git_private_key"`
	GitAPIBaseURL   string `json:"git_api_base_url"`
}

// Validate checks the configuration and creates required directories.
func (c *Config) Validate() error {
	if c.RunnerMode != ModeScript && c.RunnerMode != ModeAnsible {
		return fmt.Errorf("invalid runner mode: %q", c.RunnerMode)
	}
	dirs := []string{c.PlaybooksDir, filepath.Dir(c.DatabasePath)}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
