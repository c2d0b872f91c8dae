// Package serial provides a transport.Link over a UART.
//
// Flight controllers speak MSP over a USB CDC or hardware UART with no flow
// control. Reads are bounded by a short timeout so the read pump can observe
// shutdown; a read that returns no data is reported as transport.ErrTimeout.
package serial

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/inav-msp-go/transport"
	"go.bug.st/serial"
)

// Compile-time interface check.
var _ transport.Link = (*Link)(nil)

const (
	// DefaultBaudRate is the default baud rate for MSP serial connections.
	DefaultBaudRate = 115200

	// DefaultReadTimeout bounds each blocking read.
	DefaultReadTimeout = 10 * time.Millisecond
)

// Config holds the configuration for a serial link.
type Config struct {
	// Port is the serial port path (e.g., "/dev/ttyACM0" or "COM3").
	Port string
	// BaudRate is the serial baud rate. Defaults to 115200.
	BaudRate int
	// ReadTimeout bounds each read. Defaults to 10ms.
	ReadTimeout time.Duration
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Link implements transport.Link over a serial port.
type Link struct {
	cfg  Config
	port io.ReadWriteCloser
	log  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Open opens the serial port described by cfg.
func Open(cfg Config) (*Link, error) {
	if cfg.Port == "" {
		return nil, errors.New("serial port is required")
	}
	cfg.applyDefaults()

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("opening serial port: %w", err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("setting read timeout: %w", err)
	}

	l := newLink(port, cfg)
	l.log.Info("opened serial port", "port", cfg.Port, "baud", cfg.BaudRate)
	return l, nil
}

func newLink(port io.ReadWriteCloser, cfg Config) *Link {
	cfg.applyDefaults()
	return &Link{
		cfg:  cfg,
		port: port,
		log:  cfg.Logger.WithGroup("serial"),
	}
}

// Read reads from the port. A read that times out with no data returns
// transport.ErrTimeout.
func (l *Link) Read(p []byte) (int, error) {
	n, err := l.port.Read(p)
	if err != nil {
		if l.isClosed() || isPortClosed(err) {
			return n, transport.ErrClosed
		}
		return n, fmt.Errorf("reading serial port: %w", err)
	}
	if n == 0 {
		return 0, transport.ErrTimeout
	}
	return n, nil
}

// Write writes p to the port.
func (l *Link) Write(p []byte) (int, error) {
	if l.isClosed() {
		return 0, transport.ErrClosed
	}
	n, err := l.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("writing serial port: %w", err)
	}
	if n < len(p) {
		return n, fmt.Errorf("short write to serial port (%d of %d): %w", n, len(p), transport.ErrTimeout)
	}
	return n, nil
}

// Close closes the port. Closing twice is a no-op.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.log.Info("closing serial port", "port", l.cfg.Port)
	return l.port.Close()
}

func (l *Link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func isPortClosed(err error) bool {
	var portErr *serial.PortError
	return errors.As(err, &portErr) && portErr.Code() == serial.PortClosed
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	return ports, nil
}
