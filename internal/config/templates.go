package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Trade Reflector Configuration

[store]
# Database driver: "sqlite" or "postgres"
driver = "sqlite"
# SQLite file, relative to this directory
path = "trade_log.db"
# Postgres connection string (driver = "postgres")
dsn = ""

[feed]
# Hourly price source: "upbit" (crypto) or "yahoo" (equities)
source = "upbit"
base_url = "https://api.upbit.com"
# Upbit market prefix, e.g. KRW-BTC
quote_currency = "KRW"
timeout = "15s"
retries = 2
# Keep closed candles in the local database
cache = true

[reflection]
# Minimum decision age before it is reflected on
min_age_hours = 24
# Length of the forward price window
window_hours = 24
model = "gpt-4o-2024-08-06"
# Warn when a window has fewer samples than this
min_samples_warning = 12
# Skip generation for the rest of a run after this many consecutive failures (0 = never)
breaker_failures = 3

[logging]
# debug, info, warn, error
level = "info"
console = true
file = true
`

const credentialsTemplate = `# Trade Reflector Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[openai]
api_key = ""
# Optional OpenAI-compatible endpoint
base_url = ""
`

func createTemplate(configDir, name, content string, perm os.FileMode) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name)
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("writing %s template: %w", name, err)
	}
	return nil
}
