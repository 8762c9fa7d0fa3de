package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pitabwire/frame/config"
)

type GatewayConfig struct {
	config.ConfigurationDefault

	// Connection management
	MaxConnections  int `envDefault:"10000" env:"MAX_CONNECTIONS"`
	MaxFrameBytes   int `envDefault:"65536" env:"MAX_FRAME_BYTES"`
	WriteTimeoutSec int `envDefault:"10"    env:"WRITE_TIMEOUT_SEC"`

	// Bearer token validation on every route except health probes
	RequireAuth bool `envDefault:"true" env:"REQUIRE_AUTH"`

	// Heartbeat supervision. Without RequireAck a connection is only dropped
	// when the heartbeat write itself fails.
	HeartbeatIntervalSec   int  `envDefault:"30"    env:"HEARTBEAT_INTERVAL_SEC"`
	HeartbeatAckTimeoutSec int  `envDefault:"10"    env:"HEARTBEAT_ACK_TIMEOUT_SEC"`
	HeartbeatRequireAck    bool `envDefault:"false" env:"HEARTBEAT_REQUIRE_ACK"`

	// Presence mirror so other processes can see who is connected here
	CacheName            string `envDefault:"presenceCache"  env:"CACHE_NAME"`
	CacheURI             string `envDefault:"mem://presence" env:"CACHE_URI"`
	CacheCredentialsFile string `envDefault:""               env:"CACHE_CREDENTIALS_FILE"`

	// Offline push pipeline
	QueueOfflinePushName string `envDefault:"offline.push"       env:"QUEUE_OFFLINE_PUSH_NAME"`
	QueueOfflinePushURI  string `envDefault:"mem://offline.push" env:"QUEUE_OFFLINE_PUSH_URI"`
	QueueDeadLetterName  string `envDefault:"offline.push.dlq"       env:"QUEUE_DEAD_LETTER_NAME"`
	QueueDeadLetterURI   string `envDefault:"mem://offline.push.dlq" env:"QUEUE_DEAD_LETTER_URI"`
	MaxDeliveryRetries   int    `envDefault:"5"                      env:"MAX_DELIVERY_RETRIES"`

	// APNs token authentication; push is skipped while unset
	APNSKeyPath    string `envDefault:""                 env:"APNS_KEY_PATH"`
	APNSKeyID      string `envDefault:""                 env:"APNS_KEY_ID"`
	APNSTeamID     string `envDefault:""                 env:"APNS_TEAM_ID"`
	APNSBundleID   string `envDefault:"com.travel.genie" env:"APNS_BUNDLE_ID"`
	APNSUseSandbox bool   `envDefault:"true"             env:"APNS_USE_SANDBOX"`

	// Genie assistant
	GenieAIURL               string `envDefault:"https://genesis-engine.vercel.app/api/search" env:"GENIE_AI_URL"`
	GenieModel               string `envDefault:"genie-gemini"                                 env:"GENIE_MODEL"`
	GenieTimeoutSec          int    `envDefault:"60"                                           env:"GENIE_TIMEOUT_SEC"`
	GenieBreakerMaxFailures  int    `envDefault:"5"                                            env:"GENIE_BREAKER_MAX_FAILURES"`
	GenieBreakerResetTimeSec int    `envDefault:"30"                                           env:"GENIE_BREAKER_RESET_SEC"`
}

func (c *GatewayConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSec) * time.Second
}

// HeartbeatAckTimeout is zero when acknowledgements are not enforced.
func (c *GatewayConfig) HeartbeatAckTimeout() time.Duration {
	if !c.HeartbeatRequireAck {
		return 0
	}
	return time.Duration(c.HeartbeatAckTimeoutSec) * time.Second
}

func (c *GatewayConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSec) * time.Second
}

// PresenceTTL outlives two missed heartbeats before a mirrored entry expires.
func (c *GatewayConfig) PresenceTTL() time.Duration {
	return 3 * c.HeartbeatInterval()
}

func (c *GatewayConfig) GenieTimeout() time.Duration {
	return time.Duration(c.GenieTimeoutSec) * time.Second
}

// APNSConfigured reports whether push credentials are present.
func (c *GatewayConfig) APNSConfigured() bool {
	return c.APNSKeyPath != "" && c.APNSKeyID != "" && c.APNSTeamID != ""
}

// Validate checks that the configuration is valid.
// Returns an error if any validation fails.
func (c *GatewayConfig) Validate() error {
	var errs []error

	if c.MaxConnections < 1 {
		errs = append(errs, errors.New("MaxConnections must be >= 1"))
	}

	if c.MaxFrameBytes < 1024 {
		errs = append(errs, errors.New("MaxFrameBytes must be >= 1024"))
	}

	if c.WriteTimeoutSec <= 0 {
		errs = append(errs, errors.New("WriteTimeoutSec must be > 0"))
	}

	if c.HeartbeatIntervalSec <= 0 {
		errs = append(errs, errors.New("HeartbeatIntervalSec must be > 0"))
	}

	if c.HeartbeatRequireAck {
		if c.HeartbeatAckTimeoutSec <= 0 {
			errs = append(errs, errors.New("HeartbeatAckTimeoutSec must be > 0 when HeartbeatRequireAck is set"))
		} else if c.HeartbeatAckTimeoutSec >= c.HeartbeatIntervalSec {
			errs = append(errs, fmt.Errorf("HeartbeatAckTimeoutSec (%d) must be < HeartbeatIntervalSec (%d)",
				c.HeartbeatAckTimeoutSec, c.HeartbeatIntervalSec))
		}
	}

	if err := validateCacheURI(c.CacheURI, "CacheURI"); err != nil {
		errs = append(errs, err)
	}

	if err := validateQueueURI(c.QueueOfflinePushURI, "QueueOfflinePushURI"); err != nil {
		errs = append(errs, err)
	}
	if err := validateQueueURI(c.QueueDeadLetterURI, "QueueDeadLetterURI"); err != nil {
		errs = append(errs, err)
	}
	if c.QueueOfflinePushName == "" || c.QueueDeadLetterName == "" {
		errs = append(errs, errors.New("QueueOfflinePushName and QueueDeadLetterName cannot be empty"))
	} else if c.QueueOfflinePushName == c.QueueDeadLetterName {
		errs = append(errs, errors.New("QueueDeadLetterName must differ from QueueOfflinePushName"))
	}

	if c.MaxDeliveryRetries < 0 {
		errs = append(errs, errors.New("MaxDeliveryRetries must be >= 0"))
	}

	if err := c.validateAPNS(); err != nil {
		errs = append(errs, err)
	}

	if err := validateHTTPURL(c.GenieAIURL, "GenieAIURL"); err != nil {
		errs = append(errs, err)
	}

	if c.GenieTimeoutSec <= 0 {
		errs = append(errs, errors.New("GenieTimeoutSec must be > 0"))
	}

	return errors.Join(errs...)
}

// validateAPNS rejects a half-configured APNs credential set.
func (c *GatewayConfig) validateAPNS() error {
	set := 0
	for _, v := range []string{c.APNSKeyPath, c.APNSKeyID, c.APNSTeamID} {
		if v != "" {
			set++
		}
	}

	switch {
	case set == 0:
		return nil
	case set < 3:
		return errors.New("APNSKeyPath, APNSKeyID and APNSTeamID must be set together")
	case c.APNSBundleID == "":
		return errors.New("APNSBundleID cannot be empty when APNs is configured")
	}
	return nil
}

// validateCacheURI checks that a cache URI has a valid scheme.
func validateCacheURI(uri, name string) error {
	return validateScheme(uri, name, []string{"redis://", "rediss://", "nats://", "mem://", "memory://"})
}

// validateQueueURI checks that a queue URI has a valid scheme.
func validateQueueURI(uri, name string) error {
	return validateScheme(uri, name, []string{"mem://", "redis://", "amqp://", "nats://", "kafka://"})
}

func validateScheme(uri, name string, validSchemes []string) error {
	if uri == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}

	for _, scheme := range validSchemes {
		if strings.HasPrefix(uri, scheme) {
			return nil
		}
	}

	return fmt.Errorf("%s has invalid scheme (must be one of: %s): %s", name, strings.Join(validSchemes, ", "), uri)
}

func validateHTTPURL(raw, name string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL: %s", name, raw)
	}
	return nil
}
