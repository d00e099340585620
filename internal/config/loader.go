package config

import (
	"os"
	"path/filepath"
	"strconv"

	"automation-hub/internal/vault"

	"github.com/rs/zerolog/log"
)

// Load builds the configuration from Vault secrets first, environment
// variables second and defaults last. The Vault client may be nil.
func Load(vaultClient *vault.Client) *Config {
	config := &Config{}
	loadFromVault(vaultClient, config)
	loadFromEnv(config)
	setDefaults(config)
	return config
}

func (c *Config) setIntValue(key string, value interface{}) {
	if str, ok := value.(string); ok {
		if intVal, err := strconv.Atoi(str); err == nil {
			switch key {
			case "rate_limit":
				c.RateLimit = intVal
			case "git_app_id":
				c.GitAppID = intVal
			case "git_install_id":
				c.GitInstallID = intVal
			}
		}
	}
}

func (c *Config) setStringValue(key string, value interface{}) {
	if str, ok := value.(string); ok {
		switch key {
		case "port":
			c.ServerPort = str
		case "database_path":
			c.DatabasePath = str
		case "playbooks_dir":
			c.PlaybooksDir = str
		case "runner_mode":
			c.RunnerMode = str
		case "notify_webhook_url":
			c.NotifyWebhookURL = str
		case "playbook_repo_url":
			c.PlaybookRepoURL = str
		case "git_private_key":
			c.GitPrivateKey = str
		case "git_api_base_url":
			c.GitAPIBaseURL = str
		}
	}
}

func loadFromVault(vaultClient *vault.Client, config *Config) {
	if vaultClient == nil {
		return
	}
	if hubConfig, err := vaultClient.GetSecret("automation/hub"); err == nil {
		for key, value := range hubConfig {
			config.setIntValue(key, value)
			config.setStringValue(key, value)
		}
	} else {
		log.Info().Msg("Hub configuration not found in Vault, will use environment variables")
	}
	if gitConfig, err := vaultClient.GetSecret("automation/git"); err == nil {
		for key, value := range gitConfig {
			config.setIntValue(key, value)
			config.setStringValue(key, value)
		}
	} else {
		log.Info().Msg("Git configuration not found in Vault, will use environment variables")
	}
}

func loadFromEnv(config *Config) {
	if config.ServerPort == "" {
		config.ServerPort = os.Getenv("PORT")
	}
	if config.DatabasePath == "" {
		config.DatabasePath = os.Getenv("DATABASE_PATH")
	}
	if config.PlaybooksDir == "" {
		config.PlaybooksDir = os.Getenv("PLAYBOOKS_DIR")
	}
	if config.RunnerMode == "" {
		config.RunnerMode = os.Getenv("RUNNER_MODE")
	}
	if config.NotifyWebhookURL == "" {
		config.NotifyWebhookURL = os.Getenv("NOTIFY_WEBHOOK_URL")
	}
	if config.RateLimit == 0 {
		if v := os.Getenv("RATE_LIMIT_REQUESTS_PER_SECOND"); v != "" {
			config.RateLimit, _ = strconv.Atoi(v)
		}
	}
	if config.PlaybookRepoURL == "" {
		config.PlaybookRepoURL = os.Getenv("PLAYBOOK_REPO_URL")
	}
	if config.GitAppID == 0 {
		if v := os.Getenv("GIT_APP_ID"); v != "" {
			config.GitAppID, _ = strconv.Atoi(v)
		}
	}
	if config.GitInstallID == 0 {
		if v := os.Getenv("GIT_INSTALLATION_ID"); v != "" {
			config.GitInstallID, _ = strconv.Atoi(v)
		}
	}
	if config.GitPrivateKey == "" {
		config.GitPrivateKey = os.Getenv("GIT_PRIVATE_KEY")
	}
	if config.GitAPIBaseURL == "" {
		config.GitAPIBaseURL = os.Getenv("GIT_API_BASE_URL")
	}
}

func setDefaults(config *Config) {
	baseDir := getBaseDir()
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}
	if config.DatabasePath == "" {
		config.DatabasePath = filepath.Join(baseDir, "hub.db")
	}
	if config.PlaybooksDir == "" {
		config.PlaybooksDir = filepath.Join(baseDir, "playbooks")
	}
	if config.RunnerMode == "" {
		config.RunnerMode = ModeScript
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10
	}
	if config.GitAPIBaseURL == "" {
		config.GitAPIBaseURL = "https://api.github.com"
	}
}

func getBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home, err = os.Getwd()
		if err != nil {
			home = "."
		}
	}
	return filepath.Join(home, "automation-hub")
}
