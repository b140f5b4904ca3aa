// Package config loads the daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/li-charger/internal/ads1x15"
	"github.com/sweeney/li-charger/internal/charger"
	"github.com/sweeney/li-charger/internal/hal"
	"github.com/sweeney/li-charger/internal/logic"
)

// Config represents the daemon configuration.
type Config struct {
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Charge     ChargeConfig     `yaml:"charge"`
	Timing     TimingConfig     `yaml:"timing"`
	Scale      ScaleConfig      `yaml:"scale"`
	HAL        HALConfig        `yaml:"hal"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	HTTP       HTTPConfig       `yaml:"http"`
	Serial     SerialConfig     `yaml:"serial"`
}

// ThresholdsConfig holds the charge curve as raw 10-bit ADC codes.
type ThresholdsConfig struct {
	Low     uint16 `yaml:"low"`
	Ceiling uint16 `yaml:"ceiling"`
	Full    uint16 `yaml:"full"`
}

type ChargeConfig struct {
	TwoStage bool `yaml:"two_stage"` // separate CC and CV pins
}

type TimingConfig struct {
	TickPeriod        time.Duration `yaml:"tick_period"`
	SettleDelay       time.Duration `yaml:"adc_settle_delay"`
	ConversionTimeout time.Duration `yaml:"conversion_timeout"`
}

type ScaleConfig struct {
	FullScaleMV int `yaml:"full_scale_mv"` // millivolts at code 1024
}

// HALConfig is the board wiring. Pin numbers are line offsets on Chip;
// -1 marks an absent line.
type HALConfig struct {
	Chip       string `yaml:"chip"`
	USBPin     int    `yaml:"usb_pin"`
	CircuitPin int    `yaml:"circuit_pin"`
	CurrentPin int    `yaml:"current_pin"`
	VoltagePin int    `yaml:"voltage_pin"`
	SensePin   int    `yaml:"sense_pin"`
	I2CBus     string `yaml:"i2c_bus"`
	ADCAddress uint16 `yaml:"adc_address"`
	ADCVariant string `yaml:"adc_variant"` // ads1015 or ads1115
	ADCChannel int    `yaml:"adc_channel"` // single-ended AIN0-AIN3
	Suspend    bool   `yaml:"suspend"`     // suspend via logind on deep sleep
}

type MQTTConfig struct {
	Broker     string        `yaml:"broker"`
	ClientID   string        `yaml:"client_id"`
	Heartbeat  time.Duration `yaml:"heartbeat"` // 0 disables
	BufferSize int           `yaml:"buffer_size"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// SerialConfig is the optional telemetry line output. An empty port
// disables it.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// Default returns a default configuration for the reference board.
func Default() *Config {
	th := logic.DefaultThresholds()
	ch := charger.DefaultConfig()
	hc := hal.DefaultHostConfig()
	return &Config{
		Thresholds: ThresholdsConfig{
			Low:     th.Low,
			Ceiling: th.Ceiling,
			Full:    th.Full,
		},
		Timing: TimingConfig{
			TickPeriod:        ch.TickPeriod,
			SettleDelay:       ch.SettleDelay,
			ConversionTimeout: ch.ConversionTimeout,
		},
		Scale: ScaleConfig{
			FullScaleMV: logic.DefaultFullScaleMV,
		},
		HAL: HALConfig{
			Chip:       hc.Chip,
			USBPin:     hc.USBPin,
			CircuitPin: hc.CircuitPowerPin,
			CurrentPin: hc.ChargeCurrentPin,
			VoltagePin: hc.ChargeVoltagePin,
			SensePin:   hc.SenseEnablePin,
			ADCAddress: ads1x15.AddressDefault,
			ADCVariant: "ads1015",
			ADCChannel: 0,
		},
		MQTT: MQTTConfig{
			Broker:     "tcp://192.168.1.200:1883",
			ClientID:   "li-charger",
			Heartbeat:  15 * time.Minute,
			BufferSize: 1000,
		},
		HTTP: HTTPConfig{
			Addr: ":80",
		},
		Serial: SerialConfig{
			Baud: 115200,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults restores defaults for fields explicitly left empty.
// Thresholds and pins are not touched; zero is a meaningful value there and
// Validate rejects bad combinations. An explicit mqtt.heartbeat of zero
// disables heartbeats; a missing key keeps the default.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Timing.TickPeriod == 0 {
		c.Timing.TickPeriod = def.Timing.TickPeriod
	}
	if c.Timing.ConversionTimeout == 0 {
		c.Timing.ConversionTimeout = def.Timing.ConversionTimeout
	}
	if c.Scale.FullScaleMV == 0 {
		c.Scale.FullScaleMV = def.Scale.FullScaleMV
	}
	if c.HAL.Chip == "" {
		c.HAL.Chip = def.HAL.Chip
	}
	if c.HAL.ADCAddress == 0 {
		c.HAL.ADCAddress = def.HAL.ADCAddress
	}
	if c.HAL.ADCVariant == "" {
		c.HAL.ADCVariant = def.HAL.ADCVariant
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}
	if c.MQTT.BufferSize == 0 {
		c.MQTT.BufferSize = def.MQTT.BufferSize
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = def.HTTP.Addr
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = def.Serial.Baud
	}
}

var (
	ErrNoVoltagePin = errors.New("config: two_stage requires hal.voltage_pin")
	ErrBadChannel   = errors.New("config: hal.adc_channel must be 0-3")
	ErrBadVariant   = errors.New("config: hal.adc_variant must be ads1015 or ads1115")
)

// Validate rejects configurations the charger cannot run with.
func (c *Config) Validate() error {
	if err := c.ChargerConfig().Validate(); err != nil {
		return err
	}
	if c.Scale.FullScaleMV <= 0 {
		return errors.New("config: scale.full_scale_mv must be positive")
	}
	if c.Charge.TwoStage && c.HAL.VoltagePin == hal.NoPin {
		return ErrNoVoltagePin
	}
	for name, pin := range map[string]int{
		"usb_pin":     c.HAL.USBPin,
		"circuit_pin": c.HAL.CircuitPin,
		"current_pin": c.HAL.CurrentPin,
		"sense_pin":   c.HAL.SensePin,
	} {
		if pin < 0 {
			return fmt.Errorf("config: hal.%s must be a line offset, got %d", name, pin)
		}
	}
	if c.HAL.ADCChannel < 0 || c.HAL.ADCChannel > 3 {
		return ErrBadChannel
	}
	if _, err := c.adcVariant(); err != nil {
		return err
	}
	if c.MQTT.Heartbeat < 0 {
		return errors.New("config: mqtt.heartbeat must not be negative")
	}
	return nil
}

// ChargerConfig maps the file onto the charge core's settings.
func (c *Config) ChargerConfig() charger.Config {
	topo := logic.SingleStage
	if c.Charge.TwoStage {
		topo = logic.TwoStage
	}
	return charger.Config{
		Thresholds: logic.Thresholds{
			Low:     c.Thresholds.Low,
			Ceiling: c.Thresholds.Ceiling,
			Full:    c.Thresholds.Full,
		},
		Topology:          topo,
		TickPeriod:        c.Timing.TickPeriod,
		SettleDelay:       c.Timing.SettleDelay,
		ConversionTimeout: c.Timing.ConversionTimeout,
	}
}

// HostConfig maps the file onto the Linux HAL wiring.
func (c *Config) HostConfig() hal.HostConfig {
	hc := hal.DefaultHostConfig()
	hc.Chip = c.HAL.Chip
	hc.USBPin = c.HAL.USBPin
	hc.CircuitPowerPin = c.HAL.CircuitPin
	hc.ChargeCurrentPin = c.HAL.CurrentPin
	hc.ChargeVoltagePin = c.HAL.VoltagePin
	if !c.Charge.TwoStage {
		hc.ChargeVoltagePin = hal.NoPin
	}
	hc.SenseEnablePin = c.HAL.SensePin
	hc.I2CBus = c.HAL.I2CBus
	hc.ADC.Address = c.HAL.ADCAddress
	hc.ADC.Mux = ads1x15.MuxAIN0 + ads1x15.Mux(c.HAL.ADCChannel)
	if v, err := c.adcVariant(); err == nil {
		hc.ADC.Variant = v
	}
	if c.HAL.Suspend {
		hc.Suspender = hal.LogindSuspender{}
	}
	return hc
}

func (c *Config) adcVariant() (ads1x15.Variant, error) {
	switch strings.ToLower(c.HAL.ADCVariant) {
	case "ads1015":
		return ads1x15.ADS1015, nil
	case "ads1115":
		return ads1x15.ADS1115, nil
	}
	return 0, ErrBadVariant
}
