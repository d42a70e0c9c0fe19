package nexus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/viant/afs"
	"github.com/viant/nexus/internal/secret"
	"github.com/viant/nexus/policy"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so configuration files accept Go duration
// strings like "45s" or "2m"; bare numbers are taken as nanoseconds.
type Duration time.Duration

// Duration returns the wrapped value.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err == nil {
		parsed, pErr := time.ParseDuration(raw)
		if pErr != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, pErr)
		}
		*d = Duration(parsed)
		return nil
	}
	var nanos int64
	if err := node.Decode(&nanos); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(nanos)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var nanos int64
	if err := json.Unmarshal(data, &nanos); err != nil {
		return err
	}
	*d = Duration(nanos)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config is the serialisable pipeline configuration. It can be populated
// from YAML or JSON; the zero value is usable – every nested section
// inherits its package defaults through DefaultConfig.
type Config struct {
	Queue      QueueConfig      `json:"queue" yaml:"queue"`
	Store      StoreConfig      `json:"store" yaml:"store"`
	Database   DatabaseConfig   `json:"database" yaml:"database"`
	Approval   ApprovalConfig   `json:"approval" yaml:"approval"`
	Poller     PollerConfig     `json:"poller" yaml:"poller"`
	Dispatcher DispatcherConfig `json:"dispatcher" yaml:"dispatcher"`
	Worker     WorkerConfig     `json:"worker" yaml:"worker"`

	// Routing holds declarative routing rules, one per line, in the form
	// "kind -> queue [ask|auto|deny]". Empty routing sends every kind to its
	// conventional worker queue.
	Routing []string `json:"routing,omitempty" yaml:"routing,omitempty"`

	Gateway GatewayConfig  `json:"gateway" yaml:"gateway"`
	Policy  *policy.Config `json:"policy,omitempty" yaml:"policy,omitempty"`
	Tracing TracingConfig  `json:"tracing" yaml:"tracing"`
}

// QueueConfig selects and tunes the lease-queue vendor shared by the
// inbound, worker and result queues.
type QueueConfig struct {
	// Vendor is one of memory, fs or pg.
	Vendor string `json:"vendor" yaml:"vendor"`

	LeaseDuration    Duration `json:"lease_duration" yaml:"lease_duration"`
	MaxDeliveryCount int      `json:"max_delivery_count" yaml:"max_delivery_count"`
	RetryDelay       Duration `json:"retry_delay" yaml:"retry_delay"`
	BatchSize        int      `json:"batch_size" yaml:"batch_size"`
	Buffer           int      `json:"buffer" yaml:"buffer"`

	// BaseURL roots the fs vendor's queue directories.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// StoreConfig selects the request and approval ledger vendor.
type StoreConfig struct {
	// Vendor is one of memory, fs or pg.
	Vendor string `json:"vendor" yaml:"vendor"`

	// BaseURL roots the fs vendor's record directories.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// DatabaseConfig locates the Postgres database backing pg vendors.
type DatabaseConfig struct {
	// DSN carries the connection string inline or behind an encrypted scy
	// resource.
	DSN secret.Source `json:"dsn" yaml:"dsn"`
}

// ApprovalConfig tunes the human-in-the-loop gate.
type ApprovalConfig struct {
	ApprovalDeadline Duration `json:"approval_deadline" yaml:"approval_deadline"`

	// SweepInterval is the gap between runtime reconciliation passes that
	// expire overdue approvals and re-enqueue stuck requests.
	SweepInterval Duration `json:"sweep_interval" yaml:"sweep_interval"`

	// DecisionsDir, when set, is watched for decision files written by
	// external reviewers.
	DecisionsDir string `json:"decisions_dir,omitempty" yaml:"decisions_dir,omitempty"`
}

// PollerConfig tunes result application and caller waits.
type PollerConfig struct {
	PollInterval    Duration `json:"poll_interval" yaml:"poll_interval"`
	MaxPollInterval Duration `json:"max_poll_interval" yaml:"max_poll_interval"`
	PollTimeout     Duration `json:"poll_timeout" yaml:"poll_timeout"`
	Workers         int      `json:"workers" yaml:"workers"`
}

// DispatcherConfig tunes the inbound queue consumers.
type DispatcherConfig struct {
	Workers int `json:"workers" yaml:"workers"`
}

// WorkerConfig tunes the per-kind handler pools.
type WorkerConfig struct {
	// Workers is the pool size per registered kind.
	Workers           int      `json:"workers" yaml:"workers"`
	HeartbeatInterval Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	LeaseExtension    Duration `json:"lease_extension" yaml:"lease_extension"`
}

// GatewayConfig tunes the HTTP surface.
type GatewayConfig struct {
	Enabled    bool           `json:"enabled" yaml:"enabled"`
	Addr       string         `json:"addr" yaml:"addr"`
	APIKeyHash string         `json:"api_key_hash,omitempty" yaml:"api_key_hash,omitempty"`
	JWTSecret  *secret.Source `json:"jwt_secret,omitempty" yaml:"jwt_secret,omitempty"`
}

// TracingConfig tunes span export.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"service_name,omitempty" yaml:"service_name,omitempty"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`

	// OutputFile receives exported spans; empty means stdout.
	OutputFile string `json:"output_file,omitempty" yaml:"output_file,omitempty"`
}

// DefaultConfig returns a Config populated with the same defaults the
// individual service constructors use. Callers may modify the returned
// struct before passing it to New.
func DefaultConfig() *Config {
	return &Config{
		Queue: QueueConfig{
			Vendor:           "memory",
			LeaseDuration:    Duration(30 * time.Second),
			MaxDeliveryCount: 5,
			RetryDelay:       Duration(100 * time.Millisecond),
			BatchSize:        16,
			Buffer:           100,
		},
		Store: StoreConfig{Vendor: "memory"},
		Approval: ApprovalConfig{
			ApprovalDeadline: Duration(15 * time.Minute),
			SweepInterval:    Duration(30 * time.Second),
		},
		Poller: PollerConfig{
			PollInterval:    Duration(50 * time.Millisecond),
			MaxPollInterval: Duration(2 * time.Second),
			PollTimeout:     Duration(30 * time.Second),
			Workers:         5,
		},
		Dispatcher: DispatcherConfig{Workers: 5},
		Worker: WorkerConfig{
			Workers:           2,
			HeartbeatInterval: Duration(10 * time.Second),
			LeaseExtension:    Duration(30 * time.Second),
		},
		Gateway: GatewayConfig{Addr: ":8090"},
		Tracing: TracingConfig{ServiceName: "nexus", Version: "0.1.0"},
	}
}

// Validate returns an error describing the first invalid setting or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if err := validVendor("queue", c.Queue.Vendor); err != nil {
		return err
	}
	if err := validVendor("store", c.Store.Vendor); err != nil {
		return err
	}
	if c.Queue.Vendor == "fs" && c.Queue.BaseURL == "" {
		return fmt.Errorf("queue.base_url is required for the fs vendor")
	}
	if c.Store.Vendor == "fs" && c.Store.BaseURL == "" {
		return fmt.Errorf("store.base_url is required for the fs vendor")
	}
	if (c.Queue.Vendor == "pg" || c.Store.Vendor == "pg") && c.Database.DSN.Empty() {
		return fmt.Errorf("database.dsn is required for the pg vendor")
	}
	if c.Queue.MaxDeliveryCount <= 0 {
		return fmt.Errorf("queue.max_delivery_count must be > 0")
	}
	if c.Queue.LeaseDuration <= 0 {
		return fmt.Errorf("queue.lease_duration must be > 0")
	}
	if c.Approval.ApprovalDeadline <= 0 {
		return fmt.Errorf("approval.approval_deadline must be > 0")
	}
	if c.Poller.PollInterval <= 0 || c.Poller.MaxPollInterval < c.Poller.PollInterval {
		return fmt.Errorf("poller.poll_interval must be > 0 and <= poller.max_poll_interval")
	}
	if c.Dispatcher.Workers <= 0 || c.Poller.Workers <= 0 || c.Worker.Workers <= 0 {
		return fmt.Errorf("worker counts must be > 0")
	}
	if c.Gateway.Enabled && c.Gateway.Addr == "" {
		return fmt.Errorf("gateway.addr is required when the gateway is enabled")
	}
	return nil
}

func validVendor(section, vendor string) error {
	switch vendor {
	case "memory", "fs", "pg":
		return nil
	}
	return fmt.Errorf("%s.vendor must be one of memory, fs, pg; got %q", section, vendor)
}

// LoadConfig reads a YAML config from URL (afs notation, plain paths work)
// and overlays it on DefaultConfig.
func LoadConfig(ctx context.Context, URL string) (*Config, error) {
	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", URL, err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", URL, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
