// Package environment loads harness configuration that is not given on the
// command line: a .env file for credentials and a TOML file supplying flag
// defaults for repeatable CI invocations.
package environment

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors the CLI flag surface. A value here applies only when
// the corresponding flag was not set explicitly.
type FileConfig struct {
	CorpusDir        string `toml:"corpus_dir"`
	Shell            string `toml:"shell"`
	ConnectionString string `toml:"connection_string"`
	Manifest         string `toml:"manifest"`
	CommonSetup      string `toml:"common_setup"`
	SSLHelper        string `toml:"ssl_helper"`
	OutputDir        string `toml:"output_dir"`
	Filter           string `toml:"filter"`

	Verbose       bool `toml:"verbose"`
	NoDrop        bool `toml:"no_drop_collections"`
	NoRetries     bool `toml:"no_retries"`
	VerifyCleanup bool `toml:"verify_cleanup"`

	LeakCheck  bool   `toml:"leak_check"`
	PgHost     string `toml:"pg_host"`
	PgPort     string `toml:"pg_port"`
	PgUser     string `toml:"pg_user"`
	PgDatabase string `toml:"pg_database"`

	PublishNats string `toml:"publish_nats"`
	NatsSubject string `toml:"nats_subject"`
	PublishSqs  string `toml:"publish_sqs"`
}

// LoadDotEnv reads a .env file from the working directory when one exists.
// Absence is not an error; CI environments set variables directly.
func LoadDotEnv() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	_ = godotenv.Load()
}

// ReadConfigFile parses a TOML config file.
func ReadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg := &FileConfig{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}
