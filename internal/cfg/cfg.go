package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"

	"github.com/linnemanlabs/sdtom/internal/broker/alerce"
	"github.com/linnemanlabs/sdtom/internal/broker/lasair"
	"github.com/linnemanlabs/sdtom/internal/broker/mars"
	"github.com/linnemanlabs/sdtom/internal/notify/natsbus"
)

const maxRateLimit = 100

// Config holds sdtom-specific settings. It sits alongside the go-core
// package configs and follows the same Registerable/Validatable shape.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	DatabaseURL           string

	LasairURL       string
	LasairToken     string
	LasairRateLimit float64
	ALeRCEURL       string
	ALeRCERateLimit float64
	MARSURL         string
	MARSRateLimit   float64
	BrokerTimeout   int

	TNSUpdateURL string
	TNSToken     string

	SlackWebhookURL string
	NATSURL         string
	NATSSubject     string

	QueriesFile string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on job API requests")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory catalog and cache)")

	fs.StringVar(&c.LasairURL, "lasair-url", lasair.DefaultBaseURL, "Lasair API base URL")
	fs.StringVar(&c.LasairToken, "lasair-token", "", "Lasair API token")
	fs.Float64Var(&c.LasairRateLimit, "lasair-rate-limit", 2, "max Lasair requests per second")
	fs.StringVar(&c.ALeRCEURL, "alerce-url", alerce.DefaultBaseURL, "ALeRCE API base URL")
	fs.Float64Var(&c.ALeRCERateLimit, "alerce-rate-limit", 5, "max ALeRCE requests per second")
	fs.StringVar(&c.MARSURL, "mars-url", mars.DefaultBaseURL, "MARS API base URL")
	fs.Float64Var(&c.MARSRateLimit, "mars-rate-limit", 5, "max MARS requests per second")
	fs.IntVar(&c.BrokerTimeout, "broker-timeout-seconds", 30, "per-request timeout for broker APIs (1..600)")

	fs.StringVar(&c.TNSUpdateURL, "tns-update-url", "", "URL of the TNS updater endpoint (empty = TNS job fails)")
	fs.StringVar(&c.TNSToken, "tns-token", "", "bearer token for the TNS updater")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for new target notifications")
	fs.StringVar(&c.NATSURL, "nats-url", "", "NATS server URL for target events (empty = disabled)")
	fs.StringVar(&c.NATSSubject, "nats-subject", natsbus.DefaultSubject, "NATS subject for target events")

	fs.StringVar(&c.QueriesFile, "queries-file", "", "YAML file of broker queries to seed at startup")
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

	if c.APIToken == "" {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}

	errs = append(errs, c.ValidateClients()...)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ValidateClients checks the outbound settings shared by the server and
// the CLI. The CLI has no listener so it skips the rest of Validate.
func (c *Config) ValidateClients() []error {
	var errs []error

	for _, u := range []struct{ env, val string }{
		{"LASAIR_URL", c.LasairURL},
		{"ALERCE_URL", c.ALeRCEURL},
		{"MARS_URL", c.MARSURL},
	} {
		if err := httpURL(u.val); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", u.env, err))
		}
	}
	for _, u := range []struct{ env, val string }{
		{"TNS_UPDATE_URL", c.TNSUpdateURL},
		{"SLACK_WEBHOOK_URL", c.SlackWebhookURL},
	} {
		if u.val == "" {
			continue
		}
		if err := httpURL(u.val); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", u.env, err))
		}
	}

	for _, r := range []struct {
		env string
		val float64
	}{
		{"LASAIR_RATE_LIMIT", c.LasairRateLimit},
		{"ALERCE_RATE_LIMIT", c.ALeRCERateLimit},
		{"MARS_RATE_LIMIT", c.MARSRateLimit},
	} {
		if !(r.val > 0 && r.val <= maxRateLimit) {
			errs = append(errs, fmt.Errorf("invalid %s %g (must be >0 and <=%d)", r.env, r.val, maxRateLimit))
		}
	}

	if c.BrokerTimeout <= 0 || c.BrokerTimeout > 600 {
		errs = append(errs, fmt.Errorf("invalid BROKER_TIMEOUT_SECONDS %d (must be 1..600)", c.BrokerTimeout))
	}

	if c.NATSURL != "" {
		u, err := url.Parse(c.NATSURL)
		if err != nil || u.Host == "" || (u.Scheme != "nats" && u.Scheme != "tls") {
			errs = append(errs, fmt.Errorf("invalid NATS_URL %q (must be nats:// or tls://)", c.NATSURL))
		}
		if c.NATSSubject == "" {
			errs = append(errs, errors.New("NATS_SUBJECT is required when NATS_URL is set"))
		}
	}

	return errs
}

func httpURL(raw string) error {
	if raw == "" {
		return errors.New("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
