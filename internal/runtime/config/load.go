package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix is used by the CLI for environment overrides.
const DefaultEnvPrefix = "TASKFLOW"

// Load reads a YAML file into a Config. Unknown keys are rejected so typos
// surface at startup instead of silently falling back to defaults.
func Load(path string) (*Config, error) {
	// #nosec G304 -- path comes from the operator's -config flag.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes into a Config.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from PREFIX_* environment variables.
func (c *Config) ApplyEnv(prefix string) error {
	return c.ApplyLookup(prefix, os.LookupEnv)
}

// ApplyLookup is ApplyEnv with an injectable lookup, used by tests.
func (c *Config) ApplyLookup(prefix string, lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var errs []string
	get := func(name string) (string, bool) {
		v, ok := lookup(prefix + "_" + name)
		if !ok {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	for name, dst := range c.stringFields() {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	for name, dst := range c.durationFields() {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s_%s: %v", prefix, name, err))
				continue
			}
			*dst = d
		}
	}
	for name, dst := range c.intFields() {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s_%s: %v", prefix, name, err))
				continue
			}
			*dst = n
		}
	}
	for name, dst := range c.boolFields() {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s_%s: %v", prefix, name, err))
				continue
			}
			*dst = b
		}
	}
	if v, ok := get("KAFKA_BROKERS"); ok {
		c.KafkaBrokers = splitList(v)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) stringFields() map[string]*string {
	return map[string]*string{
		"PUBSUB_SYSTEM":         &c.PubSubSystem,
		"KAFKA_CLIENT_ID":       &c.KafkaClientID,
		"KAFKA_CONSUMER_GROUP":  &c.KafkaConsumerGroup,
		"RABBITMQ_URL":          &c.RabbitMQURL,
		"NATS_URL":              &c.NATSURL,
		"NATS_QUEUE_GROUP":      &c.NATSQueueGroup,
		"HTTP_SERVER_ADDRESS":   &c.HTTPServerAddress,
		"HTTP_PUBLISHER_URL":    &c.HTTPPublisherURL,
		"SQLITE_FILE":           &c.SQLiteFile,
		"POSTGRES_URL":          &c.PostgresURL,
		"AWS_REGION":            &c.AWSRegion,
		"AWS_ACCESS_KEY_ID":     &c.AWSAccessKeyID,
		"AWS_SECRET_ACCESS_KEY": &c.AWSSecretAccessKey,
		"AWS_ENDPOINT":          &c.AWSEndpoint,
		"POISON_QUEUE":          &c.PoisonQueue,
		"RPC_QUEUE":             &c.RPCQueue,
		"REPLY_QUEUE":           &c.ReplyQueue,
		"STREAM_QUEUE":          &c.StreamQueue,
		"PART_QUEUE":            &c.PartQueue,
		"CHAIN_QUEUE":           &c.ChainQueue,
		"CHAIN_ENTRY_QUEUE":     &c.ChainEntryQueue,
		"RPC_TOKEN_PREFIX":      &c.RPCTokenPrefix,
		"STORE_DRIVER":          &c.StoreDriver,
		"STORE_DSN":             &c.StoreDSN,
		"STORE_DATABASE":        &c.StoreDatabase,
		"STORE_PREFIX":          &c.StorePrefix,
	}
}

func (c *Config) durationFields() map[string]*time.Duration {
	return map[string]*time.Duration{
		"RPC_TIMEOUT":            &c.RPCTimeout,
		"STALL_MIN":              &c.StallMin,
		"STALL_MAX":              &c.StallMax,
		"RETRY_INITIAL_INTERVAL": &c.RetryInitialInterval,
		"RETRY_MAX_INTERVAL":     &c.RetryMaxInterval,
	}
}

func (c *Config) intFields() map[string]*int {
	return map[string]*int{
		"RETRY_MAX_RETRIES": &c.RetryMaxRetries,
		"METRICS_PORT":      &c.MetricsPort,
		"API_PORT":          &c.APIPort,
	}
}

func (c *Config) boolFields() map[string]*bool {
	return map[string]*bool{
		"NATS_JETSTREAM":  &c.NATSJetStream,
		"STALL_DISABLED":  &c.StallDisabled,
		"METRICS_ENABLED": &c.MetricsEnabled,
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
