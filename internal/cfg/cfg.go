package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Queue backends.
const (
	QueueMemory = "memory"
	QueueNATS   = "nats"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	WebhookSecret string

	DatabaseURL string
	PolicyFile  string

	GitHubToken   string
	GitHubBaseURL string

	SlackWebhookURL string

	QueueBackend   string
	NATSURL        string
	NATSStream     string
	NATSSubject    string
	NATSQueue      string
	AckWaitSeconds int
	MaxDeliver     int
	Workers        int

	RedisAddr       string
	ClaimTTLSeconds int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "webhook listen TCP port (1..65535)")
	fs.StringVar(&c.WebhookSecret, "webhook-secret", "", "shared secret for GitHub webhook HMAC signatures")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for tenant policies (empty = policy file or built-in defaults)")
	fs.StringVar(&c.PolicyFile, "policy-file", "", "YAML tenant policy file, used when no database is configured")
	fs.StringVar(&c.GitHubToken, "github-token", "", "GitHub token for pull request lookups and comments")
	fs.StringVar(&c.GitHubBaseURL, "github-base-url", "https://api.github.com", "GitHub REST API base URL")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "default Slack webhook URL for notifications")
	fs.StringVar(&c.QueueBackend, "queue", QueueMemory, "queue backend: memory or nats")
	fs.StringVar(&c.NATSURL, "nats-url", "", "NATS server URL (required for -queue=nats)")
	fs.StringVar(&c.NATSStream, "nats-stream", "WARDEN_ALERTS", "JetStream stream name")
	fs.StringVar(&c.NATSSubject, "nats-subject", "warden.alerts", "JetStream subject for alert messages")
	fs.StringVar(&c.NATSQueue, "nats-queue", "warden-workers", "queue group and durable consumer name")
	fs.IntVar(&c.AckWaitSeconds, "ack-wait-seconds", 120, "seconds a worker may hold a message before redelivery (1..3600)")
	fs.IntVar(&c.MaxDeliver, "max-deliver", 5, "maximum deliveries per message (1..100)")
	fs.IntVar(&c.Workers, "workers", 4, "concurrent message handlers per process (1..256)")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "Redis address for cross-worker dedup claims (empty = disabled)")
	fs.IntVar(&c.ClaimTTLSeconds, "claim-ttl-seconds", 300, "dedup claim lifetime in seconds, keep below the redelivery span (1..86400)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Unsigned webhooks are never accepted
	if c.WebhookSecret == "" {
		errs = append(errs, errors.New("WEBHOOK_SECRET is required"))
	}

	if c.GitHubToken == "" {
		errs = append(errs, errors.New("GITHUB_TOKEN is required"))
	}

	switch c.QueueBackend {
	case QueueMemory:
	case QueueNATS:
		if c.NATSURL == "" {
			errs = append(errs, errors.New("NATS_URL is required when QUEUE is nats"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid QUEUE %q (must be memory or nats)", c.QueueBackend))
	}

	if c.AckWaitSeconds <= 0 || c.AckWaitSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid ACK_WAIT_SECONDS %d (must be 1..3600)", c.AckWaitSeconds))
	}
	if c.MaxDeliver <= 0 || c.MaxDeliver > 100 {
		errs = append(errs, fmt.Errorf("invalid MAX_DELIVER %d (must be 1..100)", c.MaxDeliver))
	}
	if c.Workers <= 0 || c.Workers > 256 {
		errs = append(errs, fmt.Errorf("invalid WORKERS %d (must be 1..256)", c.Workers))
	}
	if c.ClaimTTLSeconds <= 0 || c.ClaimTTLSeconds > 86400 {
		errs = append(errs, fmt.Errorf("invalid CLAIM_TTL_SECONDS %d (must be 1..86400)", c.ClaimTTLSeconds))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
