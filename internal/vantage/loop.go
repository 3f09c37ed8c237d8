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

const loopFrameLen = 99

// rawLoopPacket mirrors the 95-byte LOOP payload's on-wire layout,
// binary.Read-compatible.
type rawLoopPacket struct {
	Magic              [3]byte
	LoopType           int8
	PacketType         uint8
	NextRecord         uint16
	Barometer          uint16
	InTemp             int16
	InHumidity         uint8
	OutTemp            int16
	WindSpeed          uint8
	WindSpeed10        uint8
	WindDir            uint16
	ExtraTemp          [7]uint8
	SoilTemp           [4]uint8
	LeafTemp           [4]uint8
	OutHumidity        uint8
	ExtraHumidity      [7]uint8
	RainRate           uint16
	UV                 uint8
	Radiation          uint16
	StormRain          uint16
	StormStart         uint16
	DayRain            uint16
	MonthRain          uint16
	YearRain           uint16
	DayET              uint16
	MonthET            uint16
	YearET             uint16
	SoilMoisture       [4]uint8
	LeafWetness        [4]uint8
	InsideAlarm        uint8
	RainAlarm          uint8
	OutsideAlarm       [2]uint8
	ExtraAlarm         [8]uint8
	SoilLeafAlarm      [4]uint8
	TxBatteryStatus    uint8
	ConsBatteryVoltage uint16
	ForecastIcon       uint8
	ForecastRule       uint8
	Sunrise            uint16
	Sunset             uint16
}

// decodeLoopFrame parses a 99-byte frame (magic + flavor byte + payload +
// CRC) that the caller has already CRC-validated. The fourth byte
// discriminates flavor A ('P') from flavor B (a signed barometer trend).
func decodeLoopFrame(buf []byte) (*rawLoopPacket, byte, int8, error) {
	if len(buf) != loopFrameLen {
		return nil, 0, 0, fmt.Errorf("LOOP frame must be %d bytes, got %d", loopFrameLen, len(buf))
	}
	if buf[0] != 'L' || buf[1] != 'O' || buf[2] != 'O' {
		return nil, 0, 0, fmt.Errorf("LOOP frame missing magic, got %q", buf[0:3])
	}

	flavorByte := buf[3]
	loopType := byte('B')
	var trend int8
	if flavorByte == 'P' {
		loopType = 'A'
	} else {
		trend = int8(flavorByte)
	}

	var raw rawLoopPacket
	r := bytes.NewReader(buf[:95])
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return nil, 0, 0, fmt.Errorf("decoding LOOP payload: %w", err)
	}

	return &raw, loopType, trend, nil
}

// translateLoopPacket converts a decoded LOOP frame into physical units.
// usUnits must be US customary (1); anything else is UnsupportedFeature,
// carried per the original's independent check in both translate paths.
func translateLoopPacket(raw *rawLoopPacket, loopType byte, trend int8, usUnits int, windDirCorrection float64, loc *time.Location) (types.LoopRecord, error) {
	if usUnits != unitsUS {
		return types.LoopRecord{}, &vanerrors.UnsupportedFeature{Command: "translateLoopPacket", Feature: "non-US unit system"}
	}

	rec := types.LoopRecord{
		DateTime:   time.Now(),
		UsUnits:    usUnits,
		LoopType:   loopType,
		BarTrend:   trend,
		NextRecord: raw.NextRecord,
	}

	rec.Barometer, _ = val1000Zero(raw.Barometer)
	rec.InTemp, _ = bigVal10(raw.InTemp)
	rec.InHumidity, _ = littleVal(raw.InHumidity)
	rec.OutTemp, _ = bigVal10(raw.OutTemp)
	rec.WindSpeed, _ = littleVal(raw.WindSpeed)
	rec.WindSpeed10, _ = littleVal(raw.WindSpeed10)
	rec.WindDir = correctWindDirection(raw.WindDir, windDirCorrection)

	for i := range raw.ExtraTemp {
		rec.ExtraTemp[i], _ = littleTemp(raw.ExtraTemp[i])
	}
	for i := range raw.SoilTemp {
		rec.SoilTemp[i], _ = littleTemp(raw.SoilTemp[i])
	}
	for i := range raw.LeafTemp {
		rec.LeafTemp[i], _ = littleTemp(raw.LeafTemp[i])
	}

	rec.OutHumidity, _ = littleVal(raw.OutHumidity)
	for i := range raw.ExtraHumidity {
		rec.ExtraHumidity[i], _ = littleVal(raw.ExtraHumidity[i])
	}

	rec.RainRate, _ = bigVal100(raw.RainRate)
	rec.UV, _ = littleVal10(raw.UV)
	rec.SolarWatts, _ = bigVal(int16(raw.Radiation))

	rec.StormRain = val100(raw.StormRain)
	rec.StormStart, rec.HasStorm = decodeLoopStormDate(raw.StormStart, loc)

	rec.DayRain = val100(raw.DayRain)
	rec.MonthRain = val100(raw.MonthRain)
	rec.YearRain = val100(raw.YearRain)
	rec.DayET = val1000(raw.DayET)
	rec.MonthET = val100(raw.MonthET)
	rec.YearET = val100(raw.YearET)

	for i := range raw.SoilMoisture {
		rec.SoilMoisture[i], _ = littleVal(raw.SoilMoisture[i])
	}
	for i := range raw.LeafWetness {
		rec.LeafWetness[i], _ = littleVal(raw.LeafWetness[i])
	}

	rec.InsideAlarm = raw.InsideAlarm
	rec.RainAlarm = raw.RainAlarm
	rec.OutsideAlarm = raw.OutsideAlarm
	rec.ExtraAlarm = raw.ExtraAlarm
	rec.SoilLeafAlarm = raw.SoilLeafAlarm
	rec.TxBatteryBits = raw.TxBatteryStatus
	rec.ConsBatteryVolts = consBatteryVoltage(raw.ConsBatteryVoltage)

	rec.ForecastIcon = raw.ForecastIcon
	rec.ForecastRule = raw.ForecastRule
	if sunrise, ok := decodeSunTime(raw.Sunrise); ok {
		rec.Sunrise = sunrise
	}
	if sunset, ok := decodeSunTime(raw.Sunset); ok {
		rec.Sunset = sunset
	}

	rec.DewPoint = wxformulas.CalculateDewPoint(rec.OutTemp, rec.OutHumidity)
	rec.HeatIndex = wxformulas.CalculateHeatIndex(rec.OutTemp, rec.OutHumidity)
	rec.WindChill = wxformulas.CalculateWindChill(rec.OutTemp, rec.WindSpeed)

	return rec, nil
}

// correctWindDirection applies the configured correction in degrees and
// normalizes to [0, 360).
func correctWindDirection(raw uint16, correctionDeg float64) float64 {
	if raw == 0x7FFF {
		return 0
	}
	d := float64(int16(raw)) + correctionDeg
	for d >= 360 {
		d -= 360
	}
	for d < 0 {
		d += 360
	}
	return d
}

// decodeSunTime decodes the console's packed HHMM sunrise/sunset fields
// into a time-of-day anchored on the zero date; the record's own date is
// not applied.
func decodeSunTime(v uint16) (time.Time, bool) {
	if v == 0xFFFF {
		return time.Time{}, false
	}
	hour := int(v) / 100
	minute := int(v) % 100
	if hour > 23 || minute > 59 {
		return time.Time{}, false
	}
	return time.Date(0, 1, 1, hour, minute, 0, 0, time.UTC), true
}
