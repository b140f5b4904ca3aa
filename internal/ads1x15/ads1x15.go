// Package ads1x15 provides a minimal single-shot driver for the TI ADS1015
// (12-bit) and ADS1115 (16-bit) I2C ADCs.
//
// Register map (datasheet):
// • 0x00 conversion, 0x01 config, both 16-bit big-endian.
// • Config: OS[15] MUX[14:12] PGA[11:9] MODE[8] DR[7:5] COMP_QUE[1:0].
// • ADS1015 results are left-justified; the low four bits read as zero.
package ads1x15

import (
	"errors"

	"tinygo.org/x/drivers"
)

const AddressDefault uint16 = 0x48

const (
	regConversion byte = 0x00
	regConfig     byte = 0x01
)

const (
	cfgOS         uint16 = 1 << 15
	cfgModeSingle uint16 = 1 << 8
	cfgCompQueOff uint16 = 0x0003
)

// Variant selects the part.
type Variant uint8

const (
	ADS1015 Variant = iota
	ADS1115
)

// Bits returns the conversion resolution.
func (v Variant) Bits() int {
	if v == ADS1115 {
		return 16
	}
	return 12
}

// Mux selects the input. Single-ended inputs are AIN0-AIN3 against GND.
type Mux uint8

const (
	MuxDiff01 Mux = iota
	MuxDiff03
	MuxDiff13
	MuxDiff23
	MuxAIN0
	MuxAIN1
	MuxAIN2
	MuxAIN3
)

// Gain is the PGA setting, named by full-scale range.
type Gain uint8

const (
	Gain6144mV Gain = iota
	Gain4096mV
	Gain2048mV
	Gain1024mV
	Gain512mV
	Gain256mV
)

// Rate is the DR field. The same code means different sample rates on the
// two parts; 4 is 1600 SPS on the ADS1015 and 128 SPS on the ADS1115.
type Rate uint8

const RateDefault Rate = 4

var ErrBadMux = errors.New("ads1x15: mux out of range")

type Config struct {
	Address uint16
	Variant Variant
	Mux     Mux
	Gain    Gain
	Rate    Rate
}

type Device struct {
	i2c     drivers.I2C
	addr    uint16
	variant Variant
	config  uint16

	w [3]byte
	r [2]byte
}

// New returns a device that converts the configured input on each Trigger.
func New(i2c drivers.I2C, cfg Config) (*Device, error) {
	if cfg.Mux > MuxAIN3 {
		return nil, ErrBadMux
	}
	addr := cfg.Address
	if addr == 0 {
		addr = AddressDefault
	}
	rate := cfg.Rate
	if rate == 0 {
		rate = RateDefault
	}
	return &Device{
		i2c:     i2c,
		addr:    addr,
		variant: cfg.Variant,
		config:  ConfigWord(cfg.Mux, cfg.Gain, rate),
	}, nil
}

// ConfigWord builds a single-shot config register value without the OS bit.
func ConfigWord(mux Mux, gain Gain, rate Rate) uint16 {
	return uint16(mux&0x7)<<12 |
		uint16(gain&0x7)<<9 |
		cfgModeSingle |
		uint16(rate&0x7)<<5 |
		cfgCompQueOff
}

// Trigger starts one conversion.
func (d *Device) Trigger() error {
	return d.writeWord(regConfig, d.config|cfgOS)
}

// Ready reports whether the last conversion has finished.
func (d *Device) Ready() (bool, error) {
	v, err := d.readWord(regConfig)
	if err != nil {
		return false, err
	}
	return v&cfgOS != 0, nil
}

// Read returns the signed conversion result, right-aligned for the part.
func (d *Device) Read() (int16, error) {
	v, err := d.readWord(regConversion)
	if err != nil {
		return 0, err
	}
	raw := int16(v)
	if d.variant == ADS1015 {
		raw >>= 4
	}
	return raw, nil
}

// Code10 maps a single-ended result of the given resolution onto 0-1023.
// Negative readings clamp to zero.
func Code10(raw int16, bits int) uint16 {
	if raw <= 0 {
		return 0
	}
	// The positive half of the range carries bits-1 bits.
	shift := bits - 1 - 10
	if shift <= 0 {
		return uint16(raw) << -shift
	}
	return uint16(raw) >> shift
}

// Code10 reads the last conversion as a 10-bit code.
func (d *Device) Code10() (uint16, error) {
	raw, err := d.Read()
	if err != nil {
		return 0, err
	}
	return Code10(raw, d.variant.Bits()), nil
}

func (d *Device) readWord(reg byte) (uint16, error) {
	d.w[0] = reg
	if err := d.i2c.Tx(d.addr, d.w[:1], d.r[:2]); err != nil {
		return 0, err
	}
	return uint16(d.r[0])<<8 | uint16(d.r[1]), nil
}

func (d *Device) writeWord(reg byte, v uint16) error {
	d.w[0] = reg
	d.w[1] = byte(v >> 8)
	d.w[2] = byte(v)
	return d.i2c.Tx(d.addr, d.w[:3], nil)
}
