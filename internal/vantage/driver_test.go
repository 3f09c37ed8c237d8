package vantage

import (
	"net"
	"testing"
	"time"

	"github.com/wx-tools/vantaged/internal/transport"
	"github.com/wx-tools/vantaged/internal/types"
	"github.com/wx-tools/vantaged/pkg/crc16"
	"go.uber.org/zap"
)

// startFakeConsole listens on loopback and runs handle for each accepted
// connection, returning the transport.Config to reach it. This plays the
// console's half of the protocol the way cmd/davis-emulator/main.go does,
// but scripted per test instead of simulating the full command set.
func startFakeConsole(t *testing.T, handle func(net.Conn)) transport.Config {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		handle(conn)
	}()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	return transport.Config{Hostname: host, Port: port, DialTimeout: time.Second, ReadTimeout: 2 * time.Second}
}

func respondToWake(conn net.Conn) {
	buf := make([]byte, 3)
	conn.Read(buf)
	buf = buf[:1]
	conn.Read(buf)
	conn.Write([]byte{lf, cr})
}

func archiveRecordBytes(t *testing.T, ts time.Time, outTemp int16) []byte {
	dateWord, timeWord := encodeArchiveDateTime(ts)
	raw := rawArchiveRecord{DateStamp: dateWord, TimeStamp: timeWord, OutTemp: outTemp, RecordType: recordTypeRevB}
	return buildArchiveRecord(t, raw)
}

func buildArchivePage(t *testing.T, records [][]byte) []byte {
	t.Helper()
	page := make([]byte, 0, archivePageLen)
	page = append(page, 0) // sequence byte
	for _, r := range records {
		page = append(page, r...)
	}
	for len(records) < recordsPerPage {
		page = append(page, make([]byte, archiveRecordLen)...)
		records = append(records, nil)
	}
	for len(page) < archivePageLen-2 {
		page = append(page, 0)
	}
	return crc16.Append(page[:archivePageLen-2])
}

func newTestDriver(cfg transport.Config) *Driver {
	d := &Driver{
		cfg: Config{
			Transport: cfg,
			ISSId:     1,
			ModelType: 2,
			MaxTries:  2,
			Location:  time.UTC,
		},
		logger:          zap.NewNop().Sugar(),
		archiveInterval: 300 * time.Second,
	}
	d.cfg.setDefaults()
	d.accumulators = newAccumulatorSet(d.archiveInterval)
	return d
}

func TestDumpSinceUnusedSlotTermination(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec1 := archiveRecordBytes(t, base, 700)
	rec2 := archiveRecordBytes(t, base.Add(5*time.Minute), 705)
	unused := make([]byte, archiveRecordLen)
	for i := range unused {
		unused[i] = 0xFF
	}
	page := buildArchivePage(t, [][]byte{rec1, rec2, unused})

	tcfg := startFakeConsole(t, func(conn net.Conn) {
		defer conn.Close()
		respondToWake(conn)

		cmdBuf := make([]byte, 16)
		conn.Read(cmdBuf) // DMPAFT\n
		conn.Write([]byte{ack})

		dtBuf := make([]byte, 6)
		conn.Read(dtBuf) // date/time + CRC
		conn.Write([]byte{ack})

		header := make([]byte, 4)
		header[0], header[1] = 1, 0 // 1 page
		header[2], header[3] = 0, 0 // start index 0
		conn.Write(crc16.Append(header))

		ackBuf := make([]byte, 1)
		conn.Read(ackBuf) // page-request prompt
		conn.Write(page)
	})

	d := newTestDriver(tcfg)
	var got []types.ArchiveRecord
	err := d.DumpSince(nil, time.Time{}, func(r types.ArchiveRecord) bool {
		got = append(got, r)
		return true
	})
	if err != nil {
		t.Fatalf("DumpSince: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2 (unused slot should terminate the dump)", len(got))
	}
}

func TestNextArchiveBoundary(t *testing.T) {
	now := time.Unix(1000, 0)
	interval := 300 * time.Second
	delay := 15 * time.Second

	boundary := nextArchiveBoundary(now, interval, delay)
	want := time.Unix(1200+15, 0) // ceil(1000/300)*300 = 1200, +15s delay
	if !boundary.Equal(want) {
		t.Errorf("nextArchiveBoundary = %v, want %v", boundary, want)
	}
}

func TestSetArchiveIntervalRejectsBadDivisor(t *testing.T) {
	d := newTestDriver(transport.Config{})
	if err := d.SetArchiveInterval(nil, 450); err == nil {
		t.Fatal("expected ViolatedPrecondition for an unsupported interval")
	}
}
