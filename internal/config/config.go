// Package config loads the TX/RX firmware's configuration: a YAML file
// overlaid by environment variables via cleanenv, with struct-tag
// defaults applied by github.com/creasty/defaults for anything neither
// source sets.
package config

import (
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"periph.io/x/conn/v3/spi"

	"github.com/openairlink/airlink/libs/radio/sx127x"
)

// Config is the root configuration tree for either the airlink-tx or
// airlink-rx binary; both share the schema and simply leave the unused
// half (TX or RX) at its defaults.
type Config struct {
	StatePath string   `yaml:"state_path" env:"STATE_PATH" env-default:"airlink-state.json"`
	SPI   SPI          `yaml:"spi"`
	Radio sx127x.Config `yaml:"radio"`
	TX    TX           `yaml:"tx"`
	RX    RX           `yaml:"rx"`
	MQTT  MQTT         `yaml:"mqtt"`
	Status Status      `yaml:"status"`
	Metrics Metrics    `yaml:"metrics"`
}

// ------------------------------------------------------------------------
// = SPI ===
// ------------------------------------------------------------------------
type SPI struct {
	Enable      bool     `yaml:"enable" env:"SPI_ENABLE" env-default:"true"`
	Device      string   `yaml:"device" env:"SPI_DEVICE" env-default:"/dev/spidev0.0"`
	Speed       uint64   `yaml:"speed" env:"SPI_SPEED" env-default:"8000000"`
	Mode        spi.Mode `yaml:"mode" env:"SPI_MODE" env-default:"0"`
	BitsPerWord int      `yaml:"bits_per_word" env:"SPI_BITS_PER_WORD" env-default:"8"`
}

// ------------------------------------------------------------------------
// = TX-only settings ===
// ------------------------------------------------------------------------
type TX struct {
	DeviceName   string `yaml:"device_name" env:"TX_DEVICE_NAME" env-default:"airlink-tx" default:"airlink-tx"`
	Channel      string `yaml:"channel" env:"TX_CHANNEL_DEVICE" env-default:"/dev/ttyUSB0"`
	Band         uint16 `yaml:"band" env:"TX_BAND" env-default:"868" default:"868"`
}

// ------------------------------------------------------------------------
// = RX-only settings ===
// ------------------------------------------------------------------------
type RX struct {
	DeviceName      string   `yaml:"device_name" env:"RX_DEVICE_NAME" env-default:"airlink-rx" default:"airlink-rx"`
	FCSerialDevice  string   `yaml:"fc_serial_device" env:"RX_FC_SERIAL_DEVICE" env-default:"/dev/ttyS0"`
	FCSerialBaud    uint64   `yaml:"fc_serial_baud" env:"RX_FC_SERIAL_BAUD" env-default:"420000"`
	ScanBands       []uint16 `yaml:"scan_bands" env:"RX_SCAN_BANDS" env-default:"868,915" env-separator:","`
	RequireConfirm  bool     `yaml:"require_confirm" env:"RX_REQUIRE_CONFIRM" env-default:"false"`
}

// ------------------------------------------------------------------------
// = MQTT telemetry bridge ===
// ------------------------------------------------------------------------
type MQTT struct {
	Enable            bool          `yaml:"enable" env:"MQTT_ENABLE" env-default:"false"`
	BrokerAddress     string        `yaml:"broker_address" env:"MQTT_BROKER_ADDRESS" env-default:"localhost"`
	BrokerPort        uint16        `yaml:"broker_port" env:"MQTT_BROKER_PORT" env-default:"1883"`
	Topic             string        `yaml:"topic" env:"MQTT_TOPIC" env-default:"airlink/telemetry"`
	KeepAliveSeconds  uint16        `yaml:"keep_alive" env:"MQTT_KEEP_ALIVE" env-default:"60"`
	ReconnectInterval string        `yaml:"reconnect_interval" env:"MQTT_RECONNECT_INTERVAL" env-default:"10s"`
	AutoReconnect     bool          `yaml:"auto_reconnect" env:"MQTT_AUTO_RECONNECT" env-default:"true"`
	Username          string        `yaml:"username" env:"MQTT_USERNAME"`
	Password          string        `yaml:"password" env:"MQTT_PASSWORD"`
}

// ------------------------------------------------------------------------
// = Live status websocket ===
// ------------------------------------------------------------------------
type Status struct {
	Enable     bool   `yaml:"enable" env:"STATUS_ENABLE" env-default:"false"`
	ListenAddr string `yaml:"listen_addr" env:"STATUS_LISTEN_ADDR" env-default:":8088"`
}

// ------------------------------------------------------------------------
// = Prometheus metrics ===
// ------------------------------------------------------------------------
type Metrics struct {
	Enable     bool   `yaml:"enable" env:"METRICS_ENABLE" env-default:"false"`
	ListenAddr string `yaml:"listen_addr" env:"METRICS_LISTEN_ADDR" env-default:":9100"`
}

// ------------------------------------------------------------------------

// Load reads an optional .env file, then the YAML config at path if it
// exists, then fills in anything left unset from struct defaults. Missing
// path is not itself an error: a unit with no config file runs entirely
// off ENV and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // optional; absence is not an error

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config: set defaults: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config: file not found and failed to read ENV: %w", err)
		}
		return cfg, nil
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", path, err)
	}
	return cfg, nil
}
