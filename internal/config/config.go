package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/fieldmon/kismet-monitor/internal/models"
	"github.com/fieldmon/kismet-monitor/internal/validation"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Kismet     KismetConfig     `yaml:"kismet"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Indicators IndicatorsConfig `yaml:"indicators"`
	Display    DisplayConfig    `yaml:"display"`
	NATS       NATSConfig       `yaml:"nats"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Mirror     MirrorConfig     `yaml:"mirror"`
	API        APIConfig        `yaml:"api"`
	History    HistoryConfig    `yaml:"history"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// KismetConfig represents the Kismet connection
type KismetConfig struct {
	Host               string        `yaml:"host" validate:"required"`
	Port               int           `yaml:"port" validate:"min=1,max=65535"`
	TLS                bool          `yaml:"tls"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	User               string        `yaml:"user"`
	Password           string        `yaml:"password"`
	APIKey             string        `yaml:"api_key"`
	Feeds              []string      `yaml:"feeds"`
	SubscribeInterval  time.Duration `yaml:"subscribe_interval" validate:"min=1s"` // 订阅请求间隔，Kismet 不能更快
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout" validate:"min=1s"`
	StatusTimeout      time.Duration `yaml:"status_timeout" validate:"min=1s"`
}

// ReconnectConfig represents the reconnect policy
type ReconnectConfig struct {
	// Enabled defaults to true when omitted
	Enabled *bool         `yaml:"enabled"`
	Delay   time.Duration `yaml:"delay" validate:"min=1s"` // 重连等待时间
}

// IsEnabled reports whether the client reconnects after a disconnect
func (r ReconnectConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// IndicatorsConfig represents LED and pixel indicators
type IndicatorsConfig struct {
	BlinkDuration time.Duration `yaml:"blink_duration" validate:"min=50ms"`
	FlashDuration time.Duration `yaml:"flash_duration" validate:"min=50ms"`
	Strip         StripConfig   `yaml:"strip"`
	// Outputs are checked one by one at setup so a bad entry only
	// disables itself.
	Outputs []IndicatorConfig `yaml:"outputs" validate:"-"`
}

// StripConfig represents a WS281x pixel strip on SPI
type StripConfig struct {
	SPIPort string `yaml:"spi_port"`
	Count   int    `yaml:"count" validate:"min=0,max=1024"`
}

// IndicatorConfig represents one physical indicator
type IndicatorConfig struct {
	Name     string        `yaml:"name" validate:"required"`
	Function string        `yaml:"function" validate:"oneof=connection gps error ssid ap device"`
	Output   string        `yaml:"output" validate:"oneof=gpio pixel log"`
	Pin      string        `yaml:"pin"`
	Pixel    int           `yaml:"pixel" validate:"min=0"` // 灯带中的序号，从0开始
	Color    string        `yaml:"color"`
	Duration time.Duration `yaml:"duration"`
}

// Check validates a single indicator against the strip it may use
func (i IndicatorConfig) Check(strip StripConfig) error {
	if err := validation.NewValidator().Validate(i); err != nil {
		return err
	}
	switch i.Output {
	case "gpio":
		if i.Pin == "" {
			return fmt.Errorf("indicator %q: gpio output needs a pin", i.Name)
		}
	case "pixel":
		if i.Pixel >= strip.Count {
			return fmt.Errorf("indicator %q: pixel %d outside strip of %d", i.Name, i.Pixel, strip.Count)
		}
		if i.Color == "" {
			return fmt.Errorf("indicator %q: pixel output needs a color", i.Name)
		}
	}
	return nil
}

// DurationFor returns the indicator's own duration or the default for its kind
func (i IndicatorConfig) DurationFor(c IndicatorsConfig, stateDriven bool) time.Duration {
	if i.Duration > 0 {
		return i.Duration
	}
	if stateDriven {
		return c.BlinkDuration
	}
	return c.FlashDuration
}

// DisplayConfig represents the status display
type DisplayConfig struct {
	Driver         string        `yaml:"driver" validate:"oneof=ssd1306 png none"`
	I2CBus         string        `yaml:"i2c_bus"`
	Width          int           `yaml:"width" validate:"min=64,max=512"`
	Height         int           `yaml:"height" validate:"min=32,max=256"`
	SparkHeight    int           `yaml:"spark_height" validate:"min=0"` // 像素，0 使用默认值
	PNGPath        string        `yaml:"png_path"`
	MsgDisplayTime time.Duration `yaml:"msg_disp_time" validate:"min=1s"`
	MsgMaxAge      time.Duration `yaml:"msg_max_age" validate:"min=1s"`
	MaxQueue       int           `yaml:"max_queue" validate:"min=1,max=1024"`
	IdleText       string        `yaml:"idle_text"`
}

// NATSConfig represents NATS configuration; an empty URL disables it
type NATSConfig struct {
	URL               string        `yaml:"url"`
	ClientName        string        `yaml:"client_name"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	SubjectPrefix     string        `yaml:"subject_prefix"`
	Commands          bool          `yaml:"commands"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// MQTTConfig represents MQTT configuration; an empty broker disables it
type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	QoS            uint8         `yaml:"qos" validate:"max=2"` // 0 | 1 | 2
	Retained       bool          `yaml:"retained"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// MirrorConfig selects which events go to NATS/MQTT
type MirrorConfig struct {
	Kinds  []string `yaml:"kinds"`
	Buffer int      `yaml:"buffer" validate:"min=1"` // 队列满时丢弃
}

// APIConfig represents the local status API
type APIConfig struct {
	Enabled      bool      `yaml:"enabled"`
	Host         string    `yaml:"host"`
	Port         int       `yaml:"port" validate:"min=1,max=65535"`
	CORSOrigins  []string  `yaml:"cors_origins"`
	Username     string    `yaml:"username"`
	PasswordHash string    `yaml:"password_hash"`
	JWT          JWTConfig `yaml:"jwt"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret         string        `yaml:"secret" validate:"omitempty,min=16"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl" validate:"min=1m"`
}

// HistoryConfig sizes the recent-events ring served by the API
type HistoryConfig struct {
	Size int `yaml:"size" validate:"min=1,max=10000"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return finish(&cfg)
}

// Default returns a configuration built only from defaults and the environment
func Default() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("KISMET_HOST"); host != "" {
		c.Kismet.Host = host
	}

	if user := os.Getenv("KISMET_USER"); user != "" {
		c.Kismet.User = user
	}

	if password := os.Getenv("KISMET_PASSWORD"); password != "" {
		c.Kismet.Password = password
	}

	if apiKey := os.Getenv("KISMET_API_KEY"); apiKey != "" {
		c.Kismet.APIKey = apiKey
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.API.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "kismet-monitor"
	}

	if c.Kismet.Host == "" {
		c.Kismet.Host = "localhost"
	}
	if c.Kismet.Port == 0 {
		c.Kismet.Port = 2501
	}
	if c.Kismet.SubscribeInterval == 0 {
		c.Kismet.SubscribeInterval = time.Second
	}
	if c.Kismet.HandshakeTimeout == 0 {
		c.Kismet.HandshakeTimeout = 10 * time.Second
	}
	if c.Kismet.StatusTimeout == 0 {
		c.Kismet.StatusTimeout = 5 * time.Second
	}

	// 默认3秒后重连
	if c.Reconnect.Delay == 0 {
		c.Reconnect.Delay = 3 * time.Second
	}

	if c.Indicators.BlinkDuration == 0 {
		c.Indicators.BlinkDuration = 500 * time.Millisecond
	}
	if c.Indicators.FlashDuration == 0 {
		c.Indicators.FlashDuration = time.Second
	}

	if c.Display.Driver == "" {
		c.Display.Driver = "ssd1306"
	}
	if c.Display.Width == 0 {
		c.Display.Width = 128
	}
	if c.Display.Height == 0 {
		c.Display.Height = 64
	}
	if c.Display.SparkHeight == 0 {
		c.Display.SparkHeight = 12
	}
	if c.Display.PNGPath == "" {
		c.Display.PNGPath = "monitor.png"
	}
	if c.Display.MsgDisplayTime == 0 {
		c.Display.MsgDisplayTime = 2 * time.Second
	}
	if c.Display.MsgMaxAge == 0 {
		c.Display.MsgMaxAge = 30 * time.Second
	}
	if c.Display.MaxQueue == 0 {
		c.Display.MaxQueue = 16
	}
	if c.Display.IdleText == "" {
		c.Display.IdleText = "Listening..."
	}

	if c.NATS.ClientName == "" {
		c.NATS.ClientName = c.Server.Name
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "kismon"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = c.Server.Name
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "kismon"
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = 10 * time.Second
	}

	if len(c.Mirror.Kinds) == 0 {
		for _, k := range models.AllKinds() {
			if k != models.KindTimestampUpdate {
				c.Mirror.Kinds = append(c.Mirror.Kinds, k.String())
			}
		}
	}
	if c.Mirror.Buffer == 0 {
		c.Mirror.Buffer = 256
	}

	if c.API.Host == "" {
		c.API.Host = "127.0.0.1"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.JWT.AccessTokenTTL == 0 {
		c.API.JWT.AccessTokenTTL = 12 * time.Hour
	}

	if c.History.Size == 0 {
		c.History.Size = 64
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Validate checks field rules and the constraints between sections
func (c *Config) Validate() error {
	if err := validation.NewValidator().Validate(c); err != nil {
		return err
	}

	var errs []error

	if c.Kismet.User != "" && c.Kismet.Password == "" {
		errs = append(errs, errors.New("kismet.password: required when kismet.user is set"))
	}

	// status bar plus at least one text row above the sparkline
	if c.Display.SparkHeight > c.Display.Height-26 {
		errs = append(errs, fmt.Errorf("display.spark_height: %d leaves no room for text on a %d px panel",
			c.Display.SparkHeight, c.Display.Height))
	}
	if c.Display.Driver == "png" && c.Display.PNGPath == "" {
		errs = append(errs, errors.New("display.png_path: required for the png driver"))
	}

	for _, name := range c.Mirror.Kinds {
		if _, err := models.ParseKind(name); err != nil {
			errs = append(errs, fmt.Errorf("mirror.kinds: %w", err))
		}
	}

	if c.API.Enabled && c.API.JWT.Secret != "" && (c.API.Username == "" || c.API.PasswordHash == "") {
		errs = append(errs, errors.New("api: username and password_hash are required when jwt.secret is set"))
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}

// ReconnectEnabled is shorthand for Reconnect.IsEnabled
func (c *Config) ReconnectEnabled() bool {
	return c.Reconnect.IsEnabled()
}
