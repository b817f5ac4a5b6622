// Package config loads feedgate settings from defaults, an optional file and
// FEEDGATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "FEEDGATE"

// Backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendLocal  = "local"
	BackendNATS   = "nats"
	BackendMongo  = "mongo"
)

type Config struct {
	Server        ServerConfig
	Gateway       GatewayConfig
	Auth          AuthConfig
	Presence      PresenceConfig
	Redis         RedisConfig
	Bus           BusConfig
	NATS          NATSConfig
	Notifications NotificationsConfig
	Mongo         MongoConfig
	ReadSide      ReadSideConfig
	Ingress       IngressConfig
	Log           LogConfig
}

type ServerConfig struct {
	Addr   string
	WSPath string
}

type GatewayConfig struct {
	SendQueue           int
	PingInterval        time.Duration
	WriteWait           time.Duration
	PongWait            time.Duration
	MaxMessageBytes     int64
	VerifyConversations bool
	ExcludeSenderEcho   bool
}

type AuthConfig struct {
	Secret string
	Alg    string
}

type PresenceConfig struct {
	Backend string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type BusConfig struct {
	Backend string
}

type NATSConfig struct {
	URL     string
	Subject string
	Name    string
}

type NotificationsConfig struct {
	Backend string
}

type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// ReadSideConfig points at the posts API. Token is a service credential used
// for conversation membership checks.
type ReadSideConfig struct {
	URL   string
	Token string
}

// IngressConfig guards POST /internal/events. An empty token disables it.
type IngressConfig struct {
	Token string
}

type LogConfig struct {
	Level string
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("gateway.send_queue", 64)
	v.SetDefault("gateway.ping_interval", 25*time.Second)
	v.SetDefault("gateway.write_wait", 10*time.Second)
	v.SetDefault("gateway.pong_wait", 60*time.Second)
	v.SetDefault("gateway.max_message_bytes", 64<<10)
	v.SetDefault("gateway.verify_conversations", false)
	v.SetDefault("gateway.exclude_sender_echo", false)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.alg", "HS256")
	v.SetDefault("presence.backend", BackendMemory)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "feed:presence:")
	v.SetDefault("bus.backend", BackendLocal)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject", "feedgate.deliveries")
	v.SetDefault("nats.name", "feedgate")
	v.SetDefault("notifications.backend", BackendMemory)
	v.SetDefault("mongo.uri", "mongodb://127.0.0.1:27017")
	v.SetDefault("mongo.database", "feed")
	v.SetDefault("mongo.collection", "notifications")
	v.SetDefault("readside.url", "http://127.0.0.1:5000")
	v.SetDefault("readside.token", "")
	v.SetDefault("ingress.token", "")
	v.SetDefault("log.level", "info")
}

// Load reads configuration into a fresh viper instance. path may be empty.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith reads configuration through v, which lets callers pre-bind flags.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	cfg := Config{
		Server: ServerConfig{
			Addr:   v.GetString("server.addr"),
			WSPath: v.GetString("server.ws_path"),
		},
		Gateway: GatewayConfig{
			SendQueue:           v.GetInt("gateway.send_queue"),
			PingInterval:        v.GetDuration("gateway.ping_interval"),
			WriteWait:           v.GetDuration("gateway.write_wait"),
			PongWait:            v.GetDuration("gateway.pong_wait"),
			MaxMessageBytes:     v.GetInt64("gateway.max_message_bytes"),
			VerifyConversations: v.GetBool("gateway.verify_conversations"),
			ExcludeSenderEcho:   v.GetBool("gateway.exclude_sender_echo"),
		},
		Auth: AuthConfig{
			Secret: v.GetString("auth.secret"),
			Alg:    v.GetString("auth.alg"),
		},
		Presence: PresenceConfig{Backend: v.GetString("presence.backend")},
		Redis: RedisConfig{
			Addr:      v.GetString("redis.addr"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
		},
		Bus: BusConfig{Backend: v.GetString("bus.backend")},
		NATS: NATSConfig{
			URL:     v.GetString("nats.url"),
			Subject: v.GetString("nats.subject"),
			Name:    v.GetString("nats.name"),
		},
		Notifications: NotificationsConfig{Backend: v.GetString("notifications.backend")},
		Mongo: MongoConfig{
			URI:        v.GetString("mongo.uri"),
			Database:   v.GetString("mongo.database"),
			Collection: v.GetString("mongo.collection"),
		},
		ReadSide: ReadSideConfig{
			URL:   v.GetString("readside.url"),
			Token: v.GetString("readside.token"),
		},
		Ingress: IngressConfig{Token: v.GetString("ingress.token")},
		Log:     LogConfig{Level: v.GetString("log.level")},
	}
	return cfg, nil
}

// Validate rejects configurations the gateway cannot start with.
func (c Config) Validate() error {
	if c.Auth.Secret == "" {
		return errors.New("auth.secret is required")
	}
	if c.Gateway.SendQueue <= 0 {
		return fmt.Errorf("gateway.send_queue must be positive, got %d", c.Gateway.SendQueue)
	}
	if c.Gateway.PingInterval >= c.Gateway.PongWait {
		return fmt.Errorf("gateway.ping_interval (%s) must be shorter than gateway.pong_wait (%s)",
			c.Gateway.PingInterval, c.Gateway.PongWait)
	}
	if c.Gateway.VerifyConversations && c.ReadSide.URL == "" {
		return errors.New("readside.url is required when gateway.verify_conversations is set")
	}
	if err := oneOf("presence.backend", c.Presence.Backend, BackendMemory, BackendRedis); err != nil {
		return err
	}
	if err := oneOf("bus.backend", c.Bus.Backend, BackendLocal, BackendNATS); err != nil {
		return err
	}
	return oneOf("notifications.backend", c.Notifications.Backend, BackendMemory, BackendMongo)
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s: unsupported value %q (want one of %s)", key, value, strings.Join(allowed, ", "))
}
