// Package transport provides scoped acquisition of the physical link to a
// Davis console, over either a local serial port or a TCP-attached serial
// server.
package transport

import (
	"fmt"
	"io"
	"net"
	"time"

	serial "github.com/tarm/goserial"
	"go.uber.org/zap"
)

// Config describes how to reach the console.
type Config struct {
	// SerialDevice, if set, selects a local serial port (e.g. /dev/ttyUSB0).
	SerialDevice string
	Baud         int

	// Hostname/Port select a network-attached serial-to-TCP bridge when
	// SerialDevice is empty.
	Hostname string
	Port     string

	DialTimeout time.Duration
	ReadTimeout time.Duration
}

func (c Config) isNetwork() bool {
	return c.SerialDevice == "" && c.Hostname != "" && c.Port != ""
}

// Port is the link to the console: a byte stream plus a deadline knob for
// the network case (serial ports use their own read timeout set at open).
type Port interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// serialPort wraps a serial connection; it has no real read-deadline
// support, so SetReadDeadline is a no-op and callers rely on the serial
// library's configured Timeout instead.
type serialPort struct {
	io.ReadWriteCloser
}

func (serialPort) SetReadDeadline(time.Time) error { return nil }

// netPort adapts a net.Conn to Port.
type netPort struct {
	net.Conn
}

// Open connects to the console, retrying with backoff until ctx-like
// cancellation is requested via the done channel, mirroring
// connectToSerialStation/connectToNetworkStation's retry loops.
func Open(cfg Config, logger *zap.SugaredLogger, done <-chan struct{}) (Port, error) {
	if cfg.isNetwork() {
		return openNetwork(cfg, logger, done)
	}
	if cfg.SerialDevice == "" {
		return nil, fmt.Errorf("transport: must configure either a serial device or hostname+port")
	}
	return openSerial(cfg, logger, done)
}

func openSerial(cfg Config, logger *zap.SugaredLogger, done <-chan struct{}) (Port, error) {
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 5 * time.Second
	}

	for {
		sc := &serial.Config{Name: cfg.SerialDevice, Baud: cfg.Baud}
		logger.Debugf("opening serial port %s at %d baud", cfg.SerialDevice, cfg.Baud)

		rwc, err := serial.OpenPort(sc)
		if err == nil {
			return serialPort{rwc}, nil
		}

		logger.Errorf("failed to open serial port %s: %v, retrying in 30s", cfg.SerialDevice, err)
		select {
		case <-done:
			return nil, fmt.Errorf("transport: cancelled while opening %s: %w", cfg.SerialDevice, err)
		case <-time.After(30 * time.Second):
		}
	}
}

func openNetwork(cfg Config, logger *zap.SugaredLogger, done <-chan struct{}) (Port, error) {
	addr := net.JoinHostPort(cfg.Hostname, cfg.Port)
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}

	for {
		logger.Infof("connecting to %s...", addr)
		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err == nil {
			readTimeout := cfg.ReadTimeout
			if readTimeout == 0 {
				readTimeout = 30 * time.Second
			}
			conn.SetReadDeadline(time.Now().Add(readTimeout))
			return netPort{conn}, nil
		}

		logger.Errorf("could not connect to %s: %v, retrying in 5s", addr, err)
		select {
		case <-done:
			return nil, fmt.Errorf("transport: cancelled while dialing %s: %w", addr, err)
		case <-time.After(5 * time.Second):
		}
	}
}
