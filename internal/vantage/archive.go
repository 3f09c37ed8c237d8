package vantage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	vanerrors "github.com/wx-tools/vantaged/internal/errors"
	"github.com/wx-tools/vantaged/internal/types"
	"github.com/wx-tools/vantaged/internal/wxformulas"
)

const (
	archiveRecordLen = 52
	archiveSeqLen    = 1
	archiveFillerLen = 4
	archiveCrcLen    = 2
	recordsPerPage   = 5
	recordTypeRevB   = 0
	unusedSlotByte   = 0xFF

	// archivePageLen is the 267-byte vendor page: 1 sequence byte, 5
	// 52-byte Rev-B records, 4 filler bytes, and a trailing 2-byte CRC
	// validated across the whole page.
	archivePageLen = archiveSeqLen + recordsPerPage*archiveRecordLen + archiveFillerLen + archiveCrcLen
)

// rawArchiveRecord mirrors the 52-byte Rev-B on-wire layout.
type rawArchiveRecord struct {
	DateStamp      uint16
	TimeStamp      uint16
	OutTemp        int16
	HighOutTemp    int16
	LowOutTemp     int16
	Rain           uint16
	HighRainRate   uint16
	Barometer      uint16
	Radiation      uint16
	NumWindSamples uint16
	InTemp         int16
	InHumidity     uint8
	OutHumidity    uint8
	AvgWindSpeed   uint8
	HighWindSpeed  uint8
	HighWindDir    uint8
	PrevailingDir  uint8
	AvgUV          uint8
	ET             uint8
	HighRadiation  uint16
	HighUV         uint8
	ForecastRule   uint8
	LeafTemp       [2]uint8
	LeafWetness    [2]uint8
	SoilTemp       [4]uint8
	RecordType     uint8
	ExtraHumidity  [2]uint8
	ExtraTemp      [3]uint8
	SoilMoisture   [4]uint8
}

// isUnusedSlot reports whether a raw 52-byte record slot is the
// all-0xFF sentinel marking "no more records in this dump".
func isUnusedSlot(slot []byte) bool {
	for _, b := range slot {
		if b != unusedSlotByte {
			return false
		}
	}
	return true
}

func decodeArchiveRecord(slot []byte) (*rawArchiveRecord, error) {
	if len(slot) != archiveRecordLen {
		return nil, fmt.Errorf("archive record must be %d bytes, got %d", archiveRecordLen, len(slot))
	}
	var raw rawArchiveRecord
	r := bytes.NewReader(slot)
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return nil, fmt.Errorf("decoding archive record: %w", err)
	}
	if raw.RecordType != recordTypeRevB {
		return nil, &vanerrors.UnknownArchiveType{Command: "DMPAFT", Type: byte(raw.RecordType)}
	}
	return &raw, nil
}

// translateArchiveRecord converts a decoded archive record into physical
// units, attaching the interval/model/ISS context the caller supplies and
// the packet-loss estimate already computed by the driver.
func translateArchiveRecord(raw *rawArchiveRecord, usUnits, interval, issID, modelType int, rxCheckPercent float64, loc *time.Location) (types.ArchiveRecord, error) {
	if usUnits != unitsUS {
		return types.ArchiveRecord{}, &vanerrors.UnsupportedFeature{Command: "translateArchivePacket", Feature: "non-US unit system"}
	}

	rec := types.ArchiveRecord{
		DateTime:       decodeArchiveDateTime(raw.DateStamp, raw.TimeStamp, loc),
		UsUnits:        usUnits,
		Interval:       interval,
		ISSId:          issID,
		ModelType:      modelType,
		RxCheckPercent: rxCheckPercent,
	}

	rec.OutTemp, _ = bigVal10(raw.OutTemp)
	rec.HighOutTemp, _ = bigVal10(raw.HighOutTemp)
	rec.LowOutTemp, _ = bigVal10(raw.LowOutTemp)

	rec.Rain = val100(raw.Rain)
	rec.RainRate, _ = bigVal100(raw.HighRainRate)

	rec.Barometer = val1000(raw.Barometer)
	rec.Radiation, _ = bigVal(int16(raw.Radiation))
	rec.HighRadiation, _ = bigVal(int16(raw.HighRadiation))
	rec.NumWindSamples = float64(raw.NumWindSamples)

	rec.InTemp, _ = bigVal10(raw.InTemp)
	rec.InHumidity, _ = littleVal(raw.InHumidity)
	rec.OutHumidity, _ = littleVal(raw.OutHumidity)

	rec.AvgWindSpeed, _ = littleVal(raw.AvgWindSpeed)
	rec.HighWindSpeed, _ = littleVal(raw.HighWindSpeed)
	rec.HighWindDir, _ = windDir(raw.HighWindDir)
	rec.PrevailingWindDir, _ = windDir(raw.PrevailingDir)

	rec.UV, _ = littleVal10(raw.AvgUV)
	rec.HighUV, _ = littleVal10(raw.HighUV)
	rec.ET = val1000(uint16(raw.ET))

	rec.ForecastRule = raw.ForecastRule

	for i := range raw.LeafTemp {
		rec.LeafTemp[i], _ = littleTemp(raw.LeafTemp[i])
	}
	for i := range raw.LeafWetness {
		rec.LeafWetness[i], _ = littleVal(raw.LeafWetness[i])
	}
	for i := range raw.SoilTemp {
		rec.SoilTemp[i], _ = littleTemp(raw.SoilTemp[i])
	}
	for i := range raw.ExtraHumidity {
		rec.ExtraHumidity[i], _ = littleVal(raw.ExtraHumidity[i])
	}
	for i := range raw.ExtraTemp {
		rec.ExtraTemp[i], _ = littleTemp(raw.ExtraTemp[i])
	}
	for i := range raw.SoilMoisture {
		rec.SoilMoisture[i], _ = littleVal(raw.SoilMoisture[i])
	}

	rec.DewPoint = wxformulas.CalculateDewPoint(rec.OutTemp, rec.OutHumidity)
	rec.HeatIndex = wxformulas.CalculateHeatIndex(rec.OutTemp, rec.OutHumidity)
	rec.WindChill = wxformulas.CalculateWindChill(rec.OutTemp, rec.AvgWindSpeed)

	return rec, nil
}
