package vantage

import (
	"net"
	"testing"
	"time"

	"github.com/wx-tools/vantaged/pkg/crc16"
	"go.uber.org/zap"
)

// pipePort adapts a net.Conn (from net.Pipe) to transport.Port for tests,
// mirroring how cmd/davis-emulator/main.go plays the console's half of
// the protocol over a real net.Conn.
type pipePort struct {
	net.Conn
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestWakeSucceedsOnNoisyThirdAttempt(t *testing.T) {
	client, console := net.Pipe()
	defer client.Close()
	defer console.Close()

	go func() {
		// Two noisy non-responses, then a correct LF CR on the third probe.
		for i := 0; i < 2; i++ {
			buf := make([]byte, 4)
			console.Read(buf) // the three LFs
			buf = buf[:1]
			console.Read(buf) // the single LF
			console.Write([]byte("garbage response"))
		}
		buf := make([]byte, 3)
		console.Read(buf)
		buf = buf[:1]
		console.Read(buf)
		console.Write([]byte{lf, cr})
	}()

	f := newFrame(pipePort{client}, testLogger())
	if err := f.wake(3, 10*time.Millisecond); err != nil {
		t.Fatalf("wake() = %v, want success on third attempt", err)
	}
}

func TestWakeFailsAfterExhaustion(t *testing.T) {
	client, console := net.Pipe()
	defer client.Close()
	defer console.Close()

	go func() {
		buf := make([]byte, 64)
		for {
			if _, err := console.Read(buf); err != nil {
				return
			}
		}
	}()

	f := newFrame(pipePort{client}, testLogger())
	if err := f.wake(2, 5*time.Millisecond); err == nil {
		t.Fatal("wake() should fail when the console never replies")
	}
}

func TestSendRequiresAck(t *testing.T) {
	client, console := net.Pipe()
	defer client.Close()
	defer console.Close()

	go func() {
		buf := make([]byte, 64)
		console.Read(buf)
		console.Write([]byte{ack})
	}()

	f := newFrame(pipePort{client}, testLogger())
	if err := f.send("TEST\n"); err != nil {
		t.Fatalf("send() = %v, want nil", err)
	}
}

func TestSendRejectsNonAck(t *testing.T) {
	client, console := net.Pipe()
	defer client.Close()
	defer console.Close()

	go func() {
		buf := make([]byte, 64)
		console.Read(buf)
		console.Write([]byte{0x42})
	}()

	f := newFrame(pipePort{client}, testLogger())
	if err := f.send("TEST\n"); err == nil {
		t.Fatal("send() should fail on a non-ACK byte")
	}
}

func TestRecvCrcRetriesOnCorruption(t *testing.T) {
	client, console := net.Pipe()
	defer client.Close()
	defer console.Close()

	good := crc16.Append([]byte("hello"))

	go func() {
		corrupt := append([]byte{}, good...)
		corrupt[0] ^= 0xFF
		console.Write(corrupt)

		nakBuf := make([]byte, 1)
		console.Read(nakBuf)
		if nakBuf[0] != nak {
			t.Errorf("expected NAK byte, got %#02x", nakBuf[0])
		}

		console.Write(good)
	}()

	f := newFrame(pipePort{client}, testLogger())
	buf, err := f.recvCrc(len(good), nil, 3)
	if err != nil {
		t.Fatalf("recvCrc() = %v, want success on retry", err)
	}
	if len(buf) != len(good) {
		t.Fatalf("recvCrc returned %d bytes, want %d", len(buf), len(good))
	}
}

func TestRecvCrcNeverReturnsShortBuffer(t *testing.T) {
	client, console := net.Pipe()
	defer client.Close()
	defer console.Close()

	go func() {
		console.Write([]byte{0x01, 0x02}) // too short, then nothing more
		console.Close()
	}()

	f := newFrame(pipePort{client}, testLogger())
	_, err := f.recvCrc(10, nil, 1)
	if err == nil {
		t.Fatal("recvCrc() should error rather than return a short buffer")
	}
}
