package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Security SecurityConfig `mapstructure:"security"`
	Events   EventsConfig   `mapstructure:"events"`
}

type ServerConfig struct {
	Port     int      `mapstructure:"port"`
	Debug    bool     `mapstructure:"debug"`
	AdminKey string   `mapstructure:"admin_key"`
	AdminIPs []string `mapstructure:"admin_ips"` // empty allows any IP
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | sqlite_memory | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

// GatewayConfig tunes the live connection layer.
type GatewayConfig struct {
	WorldChannel     string        `mapstructure:"world_channel"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	SendBuffer       int           `mapstructure:"send_buffer"`
	HistoryLimit     int           `mapstructure:"history_limit"`
	MaxMessageLen    int           `mapstructure:"max_message_len"`
	MessageCooldown  time.Duration `mapstructure:"message_cooldown"`
	TypingTTL        time.Duration `mapstructure:"typing_ttl"`
	MaxNameLen       int           `mapstructure:"max_name_len"`
	CensorWords      []string      `mapstructure:"censor_words"`
	PresenceSync     time.Duration `mapstructure:"presence_sync"`
	FrameRate        float64       `mapstructure:"frame_rate"` // inbound frames/s per character
	FrameBurst       int           `mapstructure:"frame_burst"`
	MaxFrameBytes    int64         `mapstructure:"max_frame_bytes"`
}

type SecurityConfig struct {
	JWTSecret      string  `mapstructure:"jwt_secret"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the WebSocket origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type EventsConfig struct {
	AMQPURL  string `mapstructure:"amqp_url"` // empty disables publishing
	Exchange string `mapstructure:"exchange"`
}

// DefaultGateway returns the gateway defaults; used by tests and as the base
// for Load.
func DefaultGateway() GatewayConfig {
	return GatewayConfig{
		WorldChannel:     "world",
		HeartbeatTimeout: 60 * time.Second,
		PingInterval:     25 * time.Second,
		WriteTimeout:     10 * time.Second,
		SendBuffer:       256,
		HistoryLimit:     50,
		MaxMessageLen:    500,
		MessageCooldown:  0,
		TypingTTL:        6 * time.Second,
		MaxNameLen:       32,
		PresenceSync:     time.Minute,
		FrameRate:        20,
		FrameBurst:       40,
		MaxFrameBytes:    16 << 10,
	}
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CHATGW")
	v.AutomaticEnv()

	gw := DefaultGateway()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/chat.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("gateway.world_channel", gw.WorldChannel)
	v.SetDefault("gateway.heartbeat_timeout", gw.HeartbeatTimeout)
	v.SetDefault("gateway.ping_interval", gw.PingInterval)
	v.SetDefault("gateway.write_timeout", gw.WriteTimeout)
	v.SetDefault("gateway.send_buffer", gw.SendBuffer)
	v.SetDefault("gateway.history_limit", gw.HistoryLimit)
	v.SetDefault("gateway.max_message_len", gw.MaxMessageLen)
	v.SetDefault("gateway.message_cooldown", gw.MessageCooldown)
	v.SetDefault("gateway.typing_ttl", gw.TypingTTL)
	v.SetDefault("gateway.max_name_len", gw.MaxNameLen)
	v.SetDefault("gateway.presence_sync", gw.PresenceSync)
	v.SetDefault("gateway.frame_rate", gw.FrameRate)
	v.SetDefault("gateway.frame_burst", gw.FrameBurst)
	v.SetDefault("gateway.max_frame_bytes", gw.MaxFrameBytes)
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("events.exchange", "chat.events")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
