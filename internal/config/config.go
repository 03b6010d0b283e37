package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// GitHubConfig holds GitHub credentials and trigger settings.
type GitHubConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
	Token         string `yaml:"token"`
	MentionedUser string `yaml:"mentioned_user"`
}

// RepoPolicy is the per-repository routing policy.
type RepoPolicy struct {
	SingleQueue bool `yaml:"single_queue"`
}

// SQSConfig configures the SQS poll source.
type SQSConfig struct {
	QueueURL      string `yaml:"queue_url"`
	DeadLetterURL string `yaml:"dead_letter_url"`
	MaxReceive    int    `yaml:"max_receive"`
	WaitSeconds   int    `yaml:"wait_seconds"`
}

// KafkaConfig configures the Kafka poll source.
type KafkaConfig struct {
	Brokers         []string `yaml:"brokers"`
	Topic           string   `yaml:"topic"`
	GroupID         string   `yaml:"group_id"`
	DeadLetterTopic string   `yaml:"dead_letter_topic"`
}

// WorkerConfig configures the task worker subprocess.
type WorkerConfig struct {
	// Command is the worker binary spawned per task.
	Command string `yaml:"command"`
	// AgentCommand runs inside the slot's container; the prompt is appended
	// as the final argument.
	AgentCommand []string `yaml:"agent_command"`
	WorkspaceDir string   `yaml:"workspace_dir"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Environment string `yaml:"environment"`
}

// NtfyConfig holds the ntfy operator-notification settings.
type NtfyConfig struct {
	ServerURL string `yaml:"server_url"`
	Topic     string `yaml:"topic"`
}

// Config holds the application configuration.
type Config struct {
	GitHub GitHubConfig `yaml:"github"`

	// Slots is the fixed set of named execution slots. Each slot maps to a
	// dev container owned by the worker.
	Slots []string `yaml:"slots"`

	TaskTimeoutMinutes int `yaml:"task_timeout_minutes"`
	DedupWindowMinutes int `yaml:"dedup_window_minutes"`

	// DedupRedisAddr, when set, stores the dedup window in Redis so it
	// survives coordinator restarts.
	DedupRedisAddr string `yaml:"dedup_redis_addr"`

	// AllowedOwners restricts processing to repositories owned by these
	// logins.
	AllowedOwners []string `yaml:"allowed_owners"`

	// TriggerActors restricts which senders may trigger work. Empty means
	// allow all.
	TriggerActors []string `yaml:"trigger_actors"`

	Repos map[string]RepoPolicy `yaml:"repos"`

	SQS   SQSConfig   `yaml:"sqs"`
	Kafka KafkaConfig `yaml:"kafka"`

	Worker WorkerConfig `yaml:"worker"`

	WebhookHost string `yaml:"webhook_host"`
	WebhookPort int    `yaml:"webhook_port"`
	WebhookPath string `yaml:"webhook_path"`
	MetricsPort int    `yaml:"metrics_port"`
	DevMode     bool   `yaml:"dev_mode"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Tracing TracingConfig `yaml:"tracing"`
	Ntfy    NtfyConfig    `yaml:"ntfy"`
}

// Load loads the configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := &Config{
		Slots:              []string{"eamonn", "harry", "darren"},
		TaskTimeoutMinutes: 30,
		DedupWindowMinutes: 10,
		WebhookHost:        "0.0.0.0",
		WebhookPort:        8090,
		WebhookPath:        "/webhook",
		MetricsPort:        9090,
		LogLevel:           "info",
		LogFormat:          "json",
		ShutdownTimeout:    30 * time.Second,
		SQS: SQSConfig{
			MaxReceive:  5,
			WaitSeconds: 20,
		},
		Worker: WorkerConfig{
			Command:      "dispatchd-worker",
			AgentCommand: []string{"claude", "--dangerously-skip-permissions", "-p"},
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		// A missing file is fine; env vars and defaults still apply.
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	}

	applyEnv(config)

	if config.GitHub.WebhookSecret == "" {
		return nil, fmt.Errorf("GITHUB_WEBHOOK_SECRET is required")
	}
	if config.GitHub.Token == "" {
		return nil, fmt.Errorf("GITHUB_TOKEN is required")
	}
	if config.GitHub.MentionedUser == "" {
		return nil, fmt.Errorf("GITHUB_MENTIONED_USER is required")
	}
	if len(config.Slots) == 0 {
		return nil, fmt.Errorf("at least one slot is required")
	}
	// Owner authorization fails closed, so an empty allow-set would reject
	// every event.
	if len(config.AllowedOwners) == 0 {
		return nil, fmt.Errorf("at least one allowed owner is required")
	}
	if err := checkDistinct(config.Slots); err != nil {
		return nil, err
	}

	// Dev mode binds loopback and prefers readable logs.
	if config.DevMode {
		if config.WebhookHost == "0.0.0.0" {
			config.WebhookHost = "127.0.0.1"
		}
		if config.LogFormat == "json" {
			config.LogFormat = "text"
		}
	}

	return config, nil
}

func applyEnv(config *Config) {
	if v, ok := os.LookupEnv("GITHUB_WEBHOOK_SECRET"); ok {
		config.GitHub.WebhookSecret = v
	}
	if v, ok := os.LookupEnv("GITHUB_TOKEN"); ok {
		config.GitHub.Token = v
	}
	if v, ok := os.LookupEnv("GITHUB_MENTIONED_USER"); ok {
		config.GitHub.MentionedUser = v
	}
	if v, ok := os.LookupEnv("DISPATCHD_SLOTS"); ok {
		config.Slots = splitList(v)
	}
	if v, ok := os.LookupEnv("DISPATCHD_ALLOWED_OWNERS"); ok {
		config.AllowedOwners = splitList(v)
	}
	if v, ok := os.LookupEnv("DISPATCHD_TRIGGER_ACTORS"); ok {
		config.TriggerActors = splitList(v)
	}
	if v, ok := os.LookupEnv("DISPATCHD_TASK_TIMEOUT_MINUTES"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			config.TaskTimeoutMinutes = n
		}
	}
	if v, ok := os.LookupEnv("DISPATCHD_DEDUP_REDIS_ADDR"); ok {
		config.DedupRedisAddr = v
	}
	if v, ok := os.LookupEnv("DISPATCHD_WEBHOOK_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			config.WebhookPort = n
		}
	}
	if v, ok := os.LookupEnv("DISPATCHD_METRICS_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			config.MetricsPort = n
		}
	}
	if v, ok := os.LookupEnv("SQS_QUEUE_URL"); ok {
		config.SQS.QueueURL = v
	}
	if v, ok := os.LookupEnv("SQS_DEAD_LETTER_URL"); ok {
		config.SQS.DeadLetterURL = v
	}
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		config.Kafka.Brokers = splitList(v)
	}
	if v, ok := os.LookupEnv("KAFKA_TOPIC"); ok {
		config.Kafka.Topic = v
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		config.LogLevel = v
	}
	if v, ok := os.LookupEnv("LOG_FORMAT"); ok {
		config.LogFormat = v
	}
	if v, ok := os.LookupEnv("DISPATCHD_DEV_MODE"); ok {
		config.DevMode = v == "1" || strings.EqualFold(v, "true")
	}
}

// TaskTimeout returns the wall-clock limit for a single task execution.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutMinutes) * time.Minute
}

// DedupWindow returns the retention window for the deduplicator.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowMinutes) * time.Minute
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func checkDistinct(slots []string) error {
	seen := make(map[string]bool, len(slots))
	for _, s := range slots {
		if seen[s] {
			return fmt.Errorf("duplicate slot name %q", s)
		}
		seen[s] = true
	}
	return nil
}
