// Package vantage implements the Davis VantagePro/VantagePro2 console
// protocol: wake-up handshake, ACK/CRC-gated framing, LOOP and archive
// packet decoding, time codecs, accumulators, and the high-level Driver
// that composes all of it.
package vantage

import (
	"fmt"
	"io"
	"time"

	vanerrors "github.com/wx-tools/vantaged/internal/errors"
	"github.com/wx-tools/vantaged/internal/transport"
	"github.com/wx-tools/vantaged/pkg/crc16"
	"go.uber.org/zap"
)

const (
	ack = 0x06
	nak = 0x21
	lf  = 0x0A
	cr  = 0x0D
)

// frame wraps a transport.Port with the wake/send/sendCrc/recvCrc
// primitives every console operation composes, and remembers the last
// command attempted so errors can report it.
type frame struct {
	port    transport.Port
	logger  *zap.SugaredLogger
	lastCmd string
}

func newFrame(port transport.Port, logger *zap.SugaredLogger) *frame {
	return &frame{port: port, logger: logger}
}

// flush drains any bytes currently buffered on the port without blocking
// past a short deadline, mirroring pyserial's flushInput/flushOutput.
func (f *frame) flush() {
	f.port.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	buf := make([]byte, 256)
	for {
		n, err := f.port.Read(buf)
		if n == 0 || err != nil {
			break
		}
	}
}

func (f *frame) readExactly(n int, timeout time.Duration) ([]byte, error) {
	f.port.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, n)
	_, err := io.ReadFull(f.port, buf)
	return buf, err
}

// wake performs the wake-up handshake: flush, three LFs, 500ms pause,
// flush, one LF, then expect exactly "\n\r" within maxTries attempts.
func (f *frame) wake(maxTries int, wait time.Duration) error {
	var lastErr error
	for try := 0; try < maxTries; try++ {
		f.flush()

		if _, err := f.port.Write([]byte{lf, lf, lf}); err != nil {
			lastErr = err
			time.Sleep(wait)
			continue
		}
		time.Sleep(500 * time.Millisecond)
		f.flush()

		if _, err := f.port.Write([]byte{lf}); err != nil {
			lastErr = err
			time.Sleep(wait)
			continue
		}

		resp, err := f.readExactly(2, 2*time.Second)
		if err == nil && resp[0] == lf && resp[1] == cr {
			return nil
		}
		lastErr = err
		time.Sleep(wait)
	}
	return &vanerrors.WakeupError{Command: "wake", Err: lastErr}
}

// send writes cmd and expects a single ACK byte in reply.
func (f *frame) send(cmd string) error {
	f.lastCmd = cmd
	if _, err := f.port.Write([]byte(cmd)); err != nil {
		return &vanerrors.AckError{Command: cmd, Err: err}
	}
	resp, err := f.readExactly(1, 5*time.Second)
	if err != nil {
		return &vanerrors.AckError{Command: cmd, Err: err}
	}
	if resp[0] != ack {
		return &vanerrors.AckError{Command: cmd, Got: resp[0]}
	}
	return nil
}

// sendCrc appends a big-endian CRC-16 to payload, writes it, and expects
// an ACK byte, retrying up to maxTries times on non-ACK.
func (f *frame) sendCrc(payload []byte, maxTries int) error {
	framed := crc16.Append(payload)
	var lastErr error
	for try := 0; try < maxTries; try++ {
		if _, err := f.port.Write(framed); err != nil {
			lastErr = err
			continue
		}
		resp, err := f.readExactly(1, 5*time.Second)
		if err == nil && resp[0] == ack {
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("got %#02x, want ACK", resp[0])
		}
	}
	return &vanerrors.CrcError{Command: "sendCrc", Err: lastErr}
}

// recvCrc optionally sends a short prompt, then reads exactly n bytes and
// validates the trailing CRC, retrying up to maxTries with a NAK between
// attempts on length or CRC failure.
func (f *frame) recvCrc(n int, prompt []byte, maxTries int) ([]byte, error) {
	var lastErr error
	for try := 0; try < maxTries; try++ {
		if prompt != nil {
			if _, err := f.port.Write(prompt); err != nil {
				lastErr = err
				continue
			}
		}

		buf, err := f.readExactly(n, 5*time.Second)
		if err == nil && len(buf) == n && crc16.Valid(buf) {
			return buf, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("short or corrupt frame (want %d bytes)", n)
		}
		f.port.Write([]byte{nak})
	}
	return nil, &vanerrors.CrcError{Command: "recvCrc", Err: lastErr}
}
