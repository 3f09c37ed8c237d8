package vantage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	vanerrors "github.com/wx-tools/vantaged/internal/errors"
	"github.com/wx-tools/vantaged/internal/transport"
	"github.com/wx-tools/vantaged/internal/types"
	"go.uber.org/zap"
)

const (
	unitsUS = 1

	defaultMaxTries      = 4
	defaultWaitBeforeRetry = 1200 * time.Millisecond
	defaultArchiveDelay  = 15 * time.Second
	defaultDstDelta      = 3600 * time.Second
	loopBatchSize        = 200
)

// validArchiveIntervals are the only divisors the console accepts for
// setArchiveInterval, expressed in seconds.
var validArchiveIntervals = map[int]bool{
	60: true, 300: true, 600: true, 900: true, 1800: true, 3600: true, 7200: true,
}

// Config holds the per-station parameters the Driver needs beyond the
// raw transport: ISS identity, model, timing knobs, and location.
type Config struct {
	Transport transport.Config

	ISSId             int
	ModelType         int // 1 or 2
	WindDirCorrection float64
	MaxTries          int
	WaitBeforeRetry   time.Duration
	ArchiveDelay      time.Duration
	DstDelta          time.Duration
	Location          *time.Location
}

func (c *Config) setDefaults() {
	if c.ModelType == 0 {
		c.ModelType = 2
	}
	if c.MaxTries == 0 {
		c.MaxTries = defaultMaxTries
	}
	if c.WaitBeforeRetry == 0 {
		c.WaitBeforeRetry = defaultWaitBeforeRetry
	}
	if c.ArchiveDelay == 0 {
		c.ArchiveDelay = defaultArchiveDelay
	}
	if c.DstDelta == 0 {
		c.DstDelta = defaultDstDelta
	}
	if c.Location == nil {
		c.Location = time.Local
	}
}

// Driver is the high-level console protocol surface: streamLoop,
// dumpSince, getTime/setTime, getInterval/setInterval, clearLog, and
// getRxStats, composed from the framing primitives and the accumulator
// set that bridges LOOP samples into archive records.
type Driver struct {
	cfg    Config
	logger *zap.SugaredLogger

	archiveInterval time.Duration
	accumulators    *AccumulatorSet
}

// NewDriver constructs a Driver and eagerly fetches the console's current
// archive interval so callers always have a cached value, per the
// original's constructor behavior; a wake-up or command failure here is
// logged and the configured default interval is kept. Opening the port
// itself is retried until it succeeds, so NewDriver blocks while the port
// cannot be opened.
func NewDriver(cfg Config, logger *zap.SugaredLogger, defaultIntervalSeconds int) *Driver {
	cfg.setDefaults()
	d := &Driver{
		cfg:             cfg,
		logger:          logger,
		archiveInterval: time.Duration(defaultIntervalSeconds) * time.Second,
	}

	if interval, err := d.GetArchiveInterval(); err != nil {
		logger.Warnf("could not fetch archive interval from console at startup, using configured default %s: %v", d.archiveInterval, err)
	} else {
		d.archiveInterval = interval
	}

	d.accumulators = newAccumulatorSet(d.archiveInterval)
	return d
}

// acquire opens the port, performs the wake-up handshake, and returns a
// frame plus a release function that sends the wake-up nudge (cancelling
// any pending LOOP quota) before closing — the single scoped-acquisition
// pattern every high-level operation uses.
func (d *Driver) acquire(done <-chan struct{}) (*frame, func(), error) {
	port, err := transport.Open(d.cfg.Transport, d.logger, done)
	if err != nil {
		return nil, func() {}, err
	}

	f := newFrame(port, d.logger)
	if err := f.wake(d.cfg.MaxTries, d.cfg.WaitBeforeRetry); err != nil {
		port.Close()
		return nil, func() {}, err
	}

	release := func() {
		f.wake(1, d.cfg.WaitBeforeRetry)
		port.Close()
	}
	return f, release, nil
}

// StreamLoop requests loopBatchSize LOOP frames from a single port
// acquisition and calls yield for each translated record, stopping either
// when host time crosses the next archive boundary or the console's
// internal LOOP quota runs out (in which case the caller should call
// StreamLoop again for another batch). yield returning false stops early.
func (d *Driver) StreamLoop(done <-chan struct{}, yield func(types.LoopRecord) bool) error {
	boundary := nextArchiveBoundary(time.Now(), d.archiveInterval, d.cfg.ArchiveDelay)

	f, release, err := d.acquire(done)
	if err != nil {
		return err
	}
	defer release()

	if err := f.send(fmt.Sprintf("LOOP %d\n", loopBatchSize)); err != nil {
		return err
	}

	for i := 0; i < loopBatchSize; i++ {
		select {
		case <-done:
			return nil
		default:
		}

		buf, err := f.recvCrc(loopFrameLen, nil, d.cfg.MaxTries)
		if err != nil {
			return err
		}

		raw, loopType, trend, err := decodeLoopFrame(buf)
		if err != nil {
			d.logger.Errorf("discarding malformed LOOP frame: %v", err)
			continue
		}

		rec, err := translateLoopPacket(raw, loopType, trend, unitsUS, d.cfg.WindDirCorrection, d.cfg.Location)
		if err != nil {
			return err
		}

		consBattery := consBatteryVoltage(raw.ConsBatteryVoltage)
		d.accumulators.AddLoopSample(rec.DateTime, consBattery, rec.TxBatteryBits)

		if !yield(rec) {
			return nil
		}

		if time.Now().After(boundary) {
			return nil
		}
	}
	return nil
}

// nextArchiveBoundary computes ceil(now/interval)*interval + archiveDelay.
func nextArchiveBoundary(now time.Time, interval, archiveDelay time.Duration) time.Time {
	epoch := now.Unix()
	intervalSec := int64(interval.Seconds())
	if intervalSec <= 0 {
		intervalSec = 300
	}
	boundary := (epoch / intervalSec) * intervalSec
	if boundary < epoch || now.Nanosecond() != 0 {
		boundary += intervalSec
	}
	return time.Unix(boundary, 0).Add(archiveDelay)
}

// DumpSince requests every archive record strictly after sinceTS and
// calls yield for each translated, accumulator-merged record in
// increasing dateTime order. On any transport fault the whole dump is
// retried from the beginning up to MaxTries; exhaustion raises
// RetriesExceeded. UnknownArchiveType and UnsupportedFeature are returned
// at once, without a retry.
func (d *Driver) DumpSince(done <-chan struct{}, sinceTS time.Time, yield func(types.ArchiveRecord) bool) error {
	var lastErr error
	for try := 0; try < d.cfg.MaxTries; try++ {
		err := d.dumpSinceOnce(done, sinceTS, yield)
		if err == nil {
			return nil
		}
		var unknownType *vanerrors.UnknownArchiveType
		var unsupported *vanerrors.UnsupportedFeature
		if errors.As(err, &unknownType) || errors.As(err, &unsupported) {
			return err
		}
		lastErr = err
		d.logger.Errorf("archive dump attempt %d failed, retrying from the start: %v", try+1, err)
	}
	return &vanerrors.RetriesExceeded{Command: "DMPAFT", Tries: d.cfg.MaxTries, Err: lastErr}
}

func (d *Driver) dumpSinceOnce(done <-chan struct{}, sinceTS time.Time, yield func(types.ArchiveRecord) bool) error {
	f, release, err := d.acquire(done)
	if err != nil {
		return err
	}
	defer release()

	if err := f.send("DMPAFT\n"); err != nil {
		return err
	}

	dateWord, timeWord := encodeArchiveDateTime(sinceTS)
	payload := make([]byte, 4)
	payload[0] = byte(dateWord)
	payload[1] = byte(dateWord >> 8)
	payload[2] = byte(timeWord)
	payload[3] = byte(timeWord >> 8)
	if err := f.sendCrc(payload, d.cfg.MaxTries); err != nil {
		return err
	}

	header, err := f.recvCrc(6, nil, d.cfg.MaxTries)
	if err != nil {
		return err
	}
	numPages := int(header[0]) | int(header[1])<<8
	startIndex := int(header[2]) | int(header[3])<<8

	lastGood := sinceTS
	haveLastGood := !sinceTS.IsZero()

	for page := 0; page < numPages; page++ {
		select {
		case <-done:
			return nil
		default:
		}

		buf, err := f.recvCrc(archivePageLen, []byte{ack}, d.cfg.MaxTries)
		if err != nil {
			return err
		}

		slotStart := archiveSeqLen
		firstIndex := 0
		if page == 0 {
			firstIndex = startIndex
		}

		for slot := firstIndex; slot < recordsPerPage; slot++ {
			off := slotStart + slot*archiveRecordLen
			raw := buf[off : off+archiveRecordLen]

			if isUnusedSlot(raw) {
				return nil
			}

			rawRec, err := decodeArchiveRecord(raw)
			if err != nil {
				return err
			}

			rxCheckPercent := d.rxCheckPercent(float64(rawRec.NumWindSamples))
			rec, err := translateArchiveRecord(rawRec, unitsUS, int(d.archiveInterval.Seconds()), d.cfg.ISSId, d.cfg.ModelType, rxCheckPercent, d.cfg.Location)
			if err != nil {
				return err
			}

			if rec.DateTime.IsZero() {
				return nil
			}
			if haveLastGood {
				regression := lastGood.Sub(rec.DateTime)
				if regression > d.cfg.DstDelta {
					return nil
				}
			}

			d.accumulators.MergeIntoRecord(&rec)
			lastGood = rec.DateTime
			haveLastGood = true

			if !yield(rec) {
				return nil
			}
		}
	}
	return nil
}

// rxCheckPercent estimates packet loss as observed/expected samples per
// archive interval, clamped to 100. Model 2's expected-count formula is
// 960*interval_minutes/(41+issID-1); model 1 reuses the same formula here
// since no captured model-1 traffic was available to derive or verify a
// different one — preserve, don't invent.
func (d *Driver) rxCheckPercent(observedSamples float64) float64 {
	intervalMinutes := d.archiveInterval.Minutes()
	expected := 960.0 * intervalMinutes / (41.0 + float64(d.cfg.ISSId) - 1.0)
	if expected <= 0 {
		return 0
	}
	pct := (observedSamples / expected) * 100.0
	if pct > 100 {
		pct = 100
	}
	return pct
}

// GetTime reads the console's clock and returns it as a host epoch time.
func (d *Driver) GetTime(done <-chan struct{}) (time.Time, error) {
	f, release, err := d.acquire(done)
	if err != nil {
		return time.Time{}, err
	}
	defer release()

	if err := f.send("GETTIME\n"); err != nil {
		return time.Time{}, err
	}
	buf, err := f.recvCrc(8, nil, d.cfg.MaxTries)
	if err != nil {
		return time.Time{}, err
	}

	sec, min, hr, day, month, yearSince1900 := int(buf[0]), int(buf[1]), int(buf[2]), int(buf[3]), int(buf[4]), int(buf[5])
	return time.Date(1900+yearSince1900, time.Month(month), day, hr, min, sec, 0, d.cfg.Location), nil
}

// SetTime synchronizes the console's clock to target if the drift
// exceeds maxDrift, logging the measured drift either way.
func (d *Driver) SetTime(done <-chan struct{}, target time.Time, maxDrift time.Duration) error {
	consoleTime, err := d.GetTime(done)
	if err != nil {
		return err
	}

	drift := target.Sub(consoleTime)
	d.logger.Debugf("clock error is %.2f seconds (positive is fast)", -drift.Seconds())

	if drift < maxDrift && drift > -maxDrift {
		return nil
	}

	f, release, err := d.acquire(done)
	if err != nil {
		return err
	}
	defer release()

	if err := f.send("SETTIME\n"); err != nil {
		return err
	}

	payload := []byte{
		byte(target.Second()),
		byte(target.Minute()),
		byte(target.Hour()),
		byte(target.Day()),
		byte(target.Month()),
		byte(target.Year() - 1900),
	}
	return f.sendCrc(payload, d.cfg.MaxTries)
}

// GetArchiveInterval reads the EEPROM byte at 0x2D and scales it to
// seconds.
func (d *Driver) GetArchiveInterval() (time.Duration, error) {
	f, release, err := d.acquire(nil)
	if err != nil {
		return 0, err
	}
	defer release()

	if err := f.send("EEBRD 2D 01\n"); err != nil {
		return 0, err
	}
	buf, err := f.recvCrc(3, nil, d.cfg.MaxTries)
	if err != nil {
		return 0, err
	}

	minutes := int(buf[0])
	interval := time.Duration(minutes) * time.Minute
	d.archiveInterval = interval
	return interval, nil
}

// SetArchiveInterval reconfigures the console's archive interval. The
// console replies with the ASCII string "OK" rather than an ACK byte,
// after roughly a one-second settle; setting the interval invalidates
// archive memory, so callers typically follow with ClearLog.
func (d *Driver) SetArchiveInterval(done <-chan struct{}, seconds int) error {
	if !validArchiveIntervals[seconds] {
		return &vanerrors.ViolatedPrecondition{Command: "SETPER", Reason: fmt.Sprintf("%d seconds is not one of the console's allowed archive intervals", seconds)}
	}

	f, release, err := d.acquire(done)
	if err != nil {
		return err
	}
	defer release()

	minutes := seconds / 60
	if _, err := f.port.Write([]byte(fmt.Sprintf("SETPER %d\n", minutes))); err != nil {
		return err
	}

	time.Sleep(1 * time.Second)

	buf, err := f.readExactly(64, 2*time.Second)
	if err != nil && len(buf) == 0 {
		return fmt.Errorf("SETPER: no response from console: %w", err)
	}
	if !strings.Contains(string(buf), "OK") {
		return fmt.Errorf("SETPER: expected OK response, got %q", string(buf))
	}

	d.archiveInterval = time.Duration(seconds) * time.Second
	return nil
}

// ClearLog erases the console's archive memory.
func (d *Driver) ClearLog(done <-chan struct{}) error {
	f, release, err := d.acquire(done)
	if err != nil {
		return err
	}
	defer release()
	return f.send("CLRLOG\n")
}

// RxStats is the parsed reply to RXCHECK.
type RxStats struct {
	Total     int
	Missed    int
	Resyncs   int
	MaxInRow  int
	CrcErrors int
}

// GetRxStats sends RXCHECK (which, unusually, isn't ACKed), waits 500ms,
// and parses the buffered "OK n n n n n" reply.
func (d *Driver) GetRxStats(done <-chan struct{}) (RxStats, error) {
	f, release, err := d.acquire(done)
	if err != nil {
		return RxStats{}, err
	}
	defer release()

	if _, err := f.port.Write([]byte("RXCHECK\n")); err != nil {
		return RxStats{}, err
	}
	time.Sleep(500 * time.Millisecond)

	buf, _ := f.readExactly(128, 1*time.Second)
	fields := strings.Fields(string(buf))
	if len(fields) < 6 || fields[0] != "OK" {
		return RxStats{}, fmt.Errorf("RXCHECK: unexpected reply %q", string(buf))
	}

	vals := make([]int, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.Atoi(fields[i+1])
		if err != nil {
			return RxStats{}, fmt.Errorf("RXCHECK: parsing field %d: %w", i+1, err)
		}
		vals[i] = v
	}
	return RxStats{Total: vals[0], Missed: vals[1], Resyncs: vals[2], MaxInRow: vals[3], CrcErrors: vals[4]}, nil
}
