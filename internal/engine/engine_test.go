package engine

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	vanerrors "github.com/wx-tools/vantaged/internal/errors"
	"github.com/wx-tools/vantaged/internal/types"
	"go.uber.org/zap"
)

type recordingService struct {
	ServiceBase
	name  string
	calls *[]string
}

func (s recordingService) Setup(ctx context.Context) error {
	*s.calls = append(*s.calls, s.name+":setup")
	return nil
}

func (s recordingService) NewLoopPacket(ctx context.Context, rec types.LoopRecord) error {
	*s.calls = append(*s.calls, s.name+":loop")
	return nil
}

func TestSetupRunsServicesInRegistrationOrder(t *testing.T) {
	var calls []string
	svcA := recordingService{name: "a", calls: &calls}
	svcB := recordingService{name: "b", calls: &calls}

	e := &Engine{services: []Service{svcA, svcB}, logger: testLogger()}
	if err := e.setup(context.Background()); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if len(calls) < 2 || calls[0] != "a:setup" || calls[1] != "b:setup" {
		t.Fatalf("calls = %v, want a:setup before b:setup", calls)
	}
}

func TestNewestArchiveTimestampTakesMax(t *testing.T) {
	now := time.Now()
	e := &Engine{services: []Service{
		constTimestampService{ts: now.Add(-time.Hour), ok: true},
		constTimestampService{ts: now, ok: true},
		constTimestampService{ok: false},
	}}

	got := e.newestArchiveTimestamp(context.Background())
	if !got.Equal(now) {
		t.Errorf("newestArchiveTimestamp = %v, want %v", got, now)
	}
}

type constTimestampService struct {
	ServiceBase
	ts time.Time
	ok bool
}

func (s constTimestampService) NewestArchiveTimestamp(context.Context) (time.Time, bool) {
	return s.ts, s.ok
}

func TestClassifyFaultTransportErrorsGetIOFaultBackoff(t *testing.T) {
	e := &Engine{IOFaultBackoff: 60 * time.Second, OSFaultBackoff: 10 * time.Second}

	cases := []error{
		&vanerrors.WakeupError{Command: "LOOP"},
		&vanerrors.AckError{Command: "LOOP", Got: 0x21},
		&vanerrors.CrcError{Command: "DMPAFT"},
		&vanerrors.RetriesExceeded{Command: "LOOP", Tries: 4},
	}
	for _, err := range cases {
		if got := e.classifyFault(err); got != e.IOFaultBackoff {
			t.Errorf("classifyFault(%v) = %v, want IOFaultBackoff %v", err, got, e.IOFaultBackoff)
		}
	}
}

func TestClassifyFaultOSErrorsGetOSFaultBackoff(t *testing.T) {
	e := &Engine{IOFaultBackoff: 60 * time.Second, OSFaultBackoff: 10 * time.Second}

	cases := []error{
		&os.PathError{Op: "open", Path: "/dev/ttyUSB0", Err: errors.New("device busy")},
		&net.OpError{Op: "dial", Err: errors.New("connection refused")},
	}
	for _, err := range cases {
		if got := e.classifyFault(err); got != e.OSFaultBackoff {
			t.Errorf("classifyFault(%v) = %v, want OSFaultBackoff %v", err, got, e.OSFaultBackoff)
		}
	}
}

func TestClassifyFaultOtherErrorsTerminate(t *testing.T) {
	e := &Engine{IOFaultBackoff: 60 * time.Second, OSFaultBackoff: 10 * time.Second}

	cases := []error{
		&vanerrors.UnknownArchiveType{Command: "DMPAFT", Type: 0xFF},
		&vanerrors.ViolatedPrecondition{Command: "SETPER", Reason: "not a divisor of 120"},
		&vanerrors.UnsupportedFeature{Command: "SETUP", Feature: "metric units"},
		errors.New("unrelated failure"),
	}
	for _, err := range cases {
		if got := e.classifyFault(err); got >= 0 {
			t.Errorf("classifyFault(%v) = %v, want a negative (terminate) duration", err, got)
		}
	}
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
