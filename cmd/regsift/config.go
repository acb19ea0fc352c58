package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration for one regsift deployment.
type Config struct {
	LogLevel string `yaml:"log_level"`

	// DataDir is the blob store root.
	DataDir string `yaml:"data_dir"`
	// IndexDB is the SQLite index path.
	IndexDB string `yaml:"index_db"`

	QueueSize int `yaml:"queue_size"`
	Workers   int `yaml:"workers"`

	Fetch   FetchConfig    `yaml:"fetch"`
	Convert ConvertConfig  `yaml:"convert"`
	Sources []SourceConfig `yaml:"sources"`
}

type FetchConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	Backoff       time.Duration `yaml:"backoff"`
	UserAgent     string        `yaml:"user_agent"`
	RespectRobots bool          `yaml:"respect_robots"`
}

type ConvertConfig struct {
	HTMLTool       string   `yaml:"html_tool"`
	HTMLToolArgs   []string `yaml:"html_tool_args"`
	OfficeTool     string   `yaml:"office_tool"`
	OfficeToolArgs []string `yaml:"office_tool_args"`
	DiscardUnknown bool     `yaml:"discard_unknown"`
}

// SourceConfig selects and tunes one registered source. Type defaults to
// the name for built-in sources; "newsfeed" sources also need a feed URL.
type SourceConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Enabled *bool  `yaml:"enabled"`
	Limit   int    `yaml:"limit"`
	Initial bool   `yaml:"initial"`

	// Newsfeed-only.
	FeedURL     string `yaml:"feed_url"`
	FollowLinks bool   `yaml:"follow_links"`
}

func (s *SourceConfig) enabled() bool { return s.Enabled == nil || *s.Enabled }

func (s *SourceConfig) kind() string {
	if s.Type != "" {
		return s.Type
	}
	return s.Name
}

func loadConfig(path string) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		DataDir:  "data/blobs",
		IndexDB:  "data/index.db",
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	for i := range cfg.Sources {
		s := &cfg.Sources[i]
		if s.Name == "" {
			return nil, fmt.Errorf("source %d: name is required", i)
		}
		if s.kind() == "newsfeed" && s.FeedURL == "" {
			return nil, fmt.Errorf("source %s: feed_url is required", s.Name)
		}
	}
	return cfg, nil
}
