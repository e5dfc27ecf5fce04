package config

import "time"

// Config holds host and joiner configuration values.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	Language string `mapstructure:"language" yaml:"language"`

	// Hosting side.
	ListenAddr        string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	AdminAddr         string        `mapstructure:"admin_addr" yaml:"admin_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DisposeTimeout    time.Duration `mapstructure:"dispose_timeout" yaml:"dispose_timeout"`
	RefuseGrace       time.Duration `mapstructure:"refuse_grace" yaml:"refuse_grace"`
	KickBanDuration   time.Duration `mapstructure:"kick_ban_duration" yaml:"kick_ban_duration"`
	BanDBPath         string        `mapstructure:"ban_db_path" yaml:"ban_db_path"`

	// Joining side.
	ConnectHost    string        `mapstructure:"connect_host" yaml:"connect_host"`
	ConnectPort    int           `mapstructure:"connect_port" yaml:"connect_port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	Upgrade        bool          `mapstructure:"upgrade" yaml:"upgrade"`
	AutoReconnect  bool          `mapstructure:"auto_reconnect" yaml:"auto_reconnect"`
	UserName       string        `mapstructure:"user_name" yaml:"user_name"`

	// Connections.
	Keepalive          bool          `mapstructure:"keepalive" yaml:"keepalive"`
	KeepaliveInterval  time.Duration `mapstructure:"keepalive_interval" yaml:"keepalive_interval"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	MaxChatLength      int           `mapstructure:"max_chat_length" yaml:"max_chat_length"`
	MaxFrameBytes      int           `mapstructure:"max_frame_bytes" yaml:"max_frame_bytes"`
	RateLimitPerSecond float64       `mapstructure:"rate_limit_per_second" yaml:"rate_limit_per_second"`
	RateLimitBurst     int           `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`

	// Control API.
	JWTSecret         string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	AdminPasswordHash string `mapstructure:"admin_password_hash" yaml:"admin_password_hash"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		LogLevel:           "info",
		Language:           "en",
		ListenAddr:         ":7777",
		AdminAddr:          "127.0.0.1:8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    10 * time.Second,
		DisposeTimeout:     5 * time.Second,
		RefuseGrace:        2 * time.Second,
		KickBanDuration:    5 * time.Minute,
		BanDBPath:          "bans.db",
		ConnectHost:        "127.0.0.1",
		ConnectPort:        7777,
		ConnectTimeout:     15 * time.Second,
		Upgrade:            true,
		AutoReconnect:      true,
		Keepalive:          true,
		KeepaliveInterval:  10 * time.Second,
		ReadTimeout:        20 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxChatLength:      250,
		MaxFrameBytes:      1 << 20,
		RateLimitPerSecond: 20,
		RateLimitBurst:     40,
		JWTIssuer:          "quizwire",
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Booleans cannot be distinguished from their zero value and are left alone.
func (c *Config) UpdateFrom(other Config) {
	setString(&c.LogLevel, other.LogLevel)
	setString(&c.Language, other.Language)
	setString(&c.ListenAddr, other.ListenAddr)
	setString(&c.AdminAddr, other.AdminAddr)
	setString(&c.BanDBPath, other.BanDBPath)
	setString(&c.ConnectHost, other.ConnectHost)
	setString(&c.UserName, other.UserName)
	setString(&c.JWTSecret, other.JWTSecret)
	setString(&c.JWTIssuer, other.JWTIssuer)
	setString(&c.AdminPasswordHash, other.AdminPasswordHash)

	setNonZero(&c.ReadHeaderTimeout, other.ReadHeaderTimeout)
	setNonZero(&c.ShutdownTimeout, other.ShutdownTimeout)
	setNonZero(&c.DisposeTimeout, other.DisposeTimeout)
	setNonZero(&c.RefuseGrace, other.RefuseGrace)
	setNonZero(&c.KickBanDuration, other.KickBanDuration)
	setNonZero(&c.ConnectTimeout, other.ConnectTimeout)
	setNonZero(&c.KeepaliveInterval, other.KeepaliveInterval)
	setNonZero(&c.ReadTimeout, other.ReadTimeout)
	setNonZero(&c.WriteTimeout, other.WriteTimeout)

	setNonZero(&c.ConnectPort, other.ConnectPort)
	setNonZero(&c.MaxChatLength, other.MaxChatLength)
	setNonZero(&c.MaxFrameBytes, other.MaxFrameBytes)
	setNonZero(&c.RateLimitPerSecond, other.RateLimitPerSecond)
	setNonZero(&c.RateLimitBurst, other.RateLimitBurst)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setNonZero[T time.Duration | int | float64](dst *T, v T) {
	if v != 0 {
		*dst = v
	}
}
