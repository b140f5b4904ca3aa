package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/li-charger/internal/ads1x15"
	"github.com/sweeney/li-charger/internal/hal"
	"github.com/sweeney/li-charger/internal/logic"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, uint16(650), cfg.Thresholds.Low)
	assert.Equal(t, uint16(812), cfg.Thresholds.Ceiling)
	assert.Equal(t, uint16(853), cfg.Thresholds.Full)
	assert.False(t, cfg.Charge.TwoStage)
	assert.Equal(t, 2*time.Second, cfg.Timing.TickPeriod)
	assert.Equal(t, 100*time.Microsecond, cfg.Timing.SettleDelay)
	assert.Equal(t, 50*time.Millisecond, cfg.Timing.ConversionTimeout)
	assert.Equal(t, 5045, cfg.Scale.FullScaleMV)
	assert.Equal(t, hal.NoPin, cfg.HAL.VoltagePin)
	assert.Equal(t, "ads1015", cfg.HAL.ADCVariant)
	assert.Equal(t, 15*time.Minute, cfg.MQTT.Heartbeat)
	assert.Equal(t, ":80", cfg.HTTP.Addr)
	assert.Empty(t, cfg.Serial.Port)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeTemp(t, `
thresholds:
  low: 640
  ceiling: 800
  full: 850

charge:
  two_stage: true

timing:
  tick_period: 5s
  adc_settle_delay: 200us
  conversion_timeout: 20ms

hal:
  chip: gpiochip4
  usb_pin: 5
  voltage_pin: 6
  adc_variant: ADS1115
  adc_channel: 2
  suspend: true

mqtt:
  broker: tcp://broker:1883
  heartbeat: 1m

serial:
  port: /dev/ttyUSB0
  baud: 9600
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint16(640), cfg.Thresholds.Low)
	assert.True(t, cfg.Charge.TwoStage)
	assert.Equal(t, 5*time.Second, cfg.Timing.TickPeriod)
	assert.Equal(t, 200*time.Microsecond, cfg.Timing.SettleDelay)
	assert.Equal(t, 20*time.Millisecond, cfg.Timing.ConversionTimeout)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, time.Minute, cfg.MQTT.Heartbeat)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 9600, cfg.Serial.Baud)

	// Untouched sections keep their defaults.
	assert.Equal(t, 27, cfg.HAL.CircuitPin)
	assert.Equal(t, ":80", cfg.HTTP.Addr)

	cc := cfg.ChargerConfig()
	assert.Equal(t, logic.TwoStage, cc.Topology)
	assert.Equal(t, logic.Thresholds{Low: 640, Ceiling: 800, Full: 850}, cc.Thresholds)

	hc := cfg.HostConfig()
	assert.Equal(t, "gpiochip4", hc.Chip)
	assert.Equal(t, 5, hc.USBPin)
	assert.Equal(t, 6, hc.ChargeVoltagePin)
	assert.Equal(t, ads1x15.ADS1115, hc.ADC.Variant)
	assert.Equal(t, ads1x15.MuxAIN2, hc.ADC.Mux)
	assert.NotNil(t, hc.Suspender)
}

func TestLoad_HeartbeatZeroDisables(t *testing.T) {
	path := writeTemp(t, `
mqtt:
  heartbeat: 0s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Zero(t, cfg.MQTT.Heartbeat)
}

func TestLoad_HeartbeatMissingKeepsDefault(t *testing.T) {
	path := writeTemp(t, `
mqtt:
  broker: tcp://broker:1883
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.MQTT.Heartbeat)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTemp(t, "invalid: yaml: content: [")

	cfg, err := Load(path)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_ExplicitZerosRestored(t *testing.T) {
	path := writeTemp(t, `
timing:
  tick_period: 0s
mqtt:
  client_id: ""
  buffer_size: 0
http:
  addr: ""
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Timing.TickPeriod)
	assert.Equal(t, "li-charger", cfg.MQTT.ClientID)
	assert.Equal(t, 1000, cfg.MQTT.BufferSize)
	assert.Equal(t, ":80", cfg.HTTP.Addr)
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Charge.TwoStage = true
	cfg.HAL.VoltagePin = 24
	cfg.Serial.Port = "/dev/ttyACM0"

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"low equals ceiling", func(c *Config) { c.Thresholds.Low = c.Thresholds.Ceiling }, logic.ErrLowAboveCeiling},
		{"ceiling above full", func(c *Config) { c.Thresholds.Ceiling = 900 }, logic.ErrCeilingAboveFull},
		{"full out of range", func(c *Config) { c.Thresholds.Full = 2000 }, logic.ErrAboveRange},
		{"two stage without pin", func(c *Config) { c.Charge.TwoStage = true }, ErrNoVoltagePin},
		{"bad channel", func(c *Config) { c.HAL.ADCChannel = 4 }, ErrBadChannel},
		{"bad variant", func(c *Config) { c.HAL.ADCVariant = "mcp3008" }, ErrBadVariant},
		{"negative pin", func(c *Config) { c.HAL.USBPin = -1 }, nil},
		{"zero timeout", func(c *Config) { c.Timing.ConversionTimeout = 0 }, nil},
		{"zero scale", func(c *Config) { c.Scale.FullScaleMV = 0 }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestHostConfigSingleStageDropsVoltagePin(t *testing.T) {
	cfg := Default()
	cfg.HAL.VoltagePin = 24

	hc := cfg.HostConfig()
	assert.Equal(t, hal.NoPin, hc.ChargeVoltagePin)
	assert.Nil(t, hc.Suspender)
	assert.Equal(t, ads1x15.ADS1015, hc.ADC.Variant)
}
