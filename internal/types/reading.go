// Package types defines the translated, physical-unit record shapes that
// flow out of the console driver: LoopRecord (one per LOOP frame) and
// ArchiveRecord (one per archive-dump record), covering what a Davis
// console actually reports, plus the accumulator-derived fields archive
// records carry that LOOP records don't.
package types

import "time"

// LoopRecord is a translated LOOP packet: a single instantaneous
// observation, in US customary units, as read moments ago.
type LoopRecord struct {
	DateTime time.Time
	UsUnits  int

	LoopType   byte // 'A' or 'B'
	BarTrend   int8 // only meaningful for type 'B'
	NextRecord uint16

	Barometer   float64
	InTemp      float64
	InHumidity  float64
	OutTemp     float64
	WindSpeed   float64
	WindSpeed10 float64
	WindDir     float64

	ExtraTemp [7]float64
	SoilTemp  [4]float64
	LeafTemp  [4]float64

	OutHumidity   float64
	ExtraHumidity [7]float64

	RainRate   float64
	UV         float64
	SolarWatts float64

	StormRain  float64
	StormStart time.Time
	HasStorm   bool

	DayRain   float64
	MonthRain float64
	YearRain  float64
	DayET     float64
	MonthET   float64
	YearET    float64

	SoilMoisture [4]float64
	LeafWetness  [4]float64

	InsideAlarm      uint8
	RainAlarm        uint8
	OutsideAlarm     [2]uint8
	ExtraAlarm       [8]uint8
	SoilLeafAlarm    [4]uint8
	TxBatteryBits    uint8
	ConsBatteryVolts float64

	ForecastIcon uint8
	ForecastRule uint8
	Sunrise      time.Time
	Sunset       time.Time

	DewPoint  float64
	HeatIndex float64
	WindChill float64
}

// ArchiveRecord is a translated archive-dump record: one per archive
// interval, enriched with the accumulator averages derived from the LOOP
// samples observed during that interval.
type ArchiveRecord struct {
	DateTime time.Time
	UsUnits  int
	Interval int // seconds

	ISSId          int
	ModelType      int
	RxCheckPercent float64

	OutTemp     float64
	HighOutTemp float64
	LowOutTemp  float64

	Rain     float64
	RainRate float64

	Barometer     float64
	Radiation     float64
	HighRadiation float64

	NumWindSamples float64

	InTemp      float64
	InHumidity  float64
	OutHumidity float64

	AvgWindSpeed      float64
	HighWindSpeed     float64
	HighWindDir       float64
	PrevailingWindDir float64

	UV     float64
	HighUV float64
	ET     float64

	ForecastRule uint8

	LeafTemp      [2]float64
	LeafWetness   [2]float64
	SoilTemp      [4]float64
	ExtraHumidity [2]float64
	ExtraTemp     [3]float64
	SoilMoisture  [4]float64

	TxBatteryStatus    uint8
	ConsBatteryVoltage float64

	DewPoint  float64
	HeatIndex float64
	WindChill float64
}
