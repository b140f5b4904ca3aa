// Package telemetry writes one text line per voltage sample, for a serial
// console or log capture.
//
// Line format: unix_micros,code,millivolts,flags
// where flags is four 0/1 digits: usb, charging, complete, depleted.
package telemetry

import (
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/sweeney/li-charger/internal/logic"
)

// DefaultBaudRate is used when none is configured.
const DefaultBaudRate = 115200

// FormatLine renders one sample line without the trailing newline.
func FormatLine(t time.Time, snap logic.Snapshot, fullScaleMV int) string {
	st := snap.State
	flags := []byte{bit(st.USBConnected), bit(st.Charging), bit(st.Complete), bit(st.Depleted)}
	return strconv.FormatInt(t.UnixMicro(), 10) + "," +
		strconv.Itoa(int(snap.Voltage)) + "," +
		strconv.Itoa(logic.Millivolts(snap.Voltage, fullScaleMV)) + "," +
		string(flags)
}

func bit(b bool) byte {
	if b {
		return '1'
	}
	return '0'
}

// Writer emits sample lines to an io.Writer. Safe for concurrent use.
type Writer struct {
	mu          sync.Mutex
	w           io.Writer
	closer      io.Closer
	fullScaleMV int
	last        time.Time
}

// NewWriter returns a Writer on w. If w is an io.Closer, Close closes it.
func NewWriter(w io.Writer, fullScaleMV int) *Writer {
	tw := &Writer{w: w, fullScaleMV: fullScaleMV}
	if c, ok := w.(io.Closer); ok {
		tw.closer = c
	}
	return tw
}

// OpenSerial opens a serial port and returns a Writer on it.
func OpenSerial(port string, baud, fullScaleMV int) (*Writer, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", port, err)
	}
	return NewWriter(p, fullScaleMV), nil
}

// Ports lists the serial ports present on the machine.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// Sample writes a line for snap. Snapshots without a completed sample are
// skipped.
func (w *Writer) Sample(t time.Time, snap logic.Snapshot) error {
	if !snap.Sampled {
		return nil
	}
	line := FormatLine(t, snap, w.fullScaleMV) + "\n"

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := io.WriteString(w.w, line); err != nil {
		return fmt.Errorf("write telemetry: %w", err)
	}
	w.last = t
	return nil
}

// Last returns the time of the last line written.
func (w *Writer) Last() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Close closes the underlying port, if any.
func (w *Writer) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}
