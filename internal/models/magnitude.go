package models

type MagnitudeKind int

const (
	MagnitudeUnknown MagnitudeKind = iota
	MagnitudePollutant
	MagnitudeOther
)

func (k MagnitudeKind) String() string {
	switch k {
	case MagnitudePollutant:
		return "pollutant"
	case MagnitudeOther:
		return "other"
	default:
		return "unknown"
	}
}

const (
	carbonMonoxideCode = "06"
	humidityCode       = "86"

	UnitMilligramsPerCubicMetre = "GP"
	UnitMicrogramsPerCubicMetre = "GQ"
)

// Magnitude describes what a feed row measures.
type Magnitude struct {
	Code        string
	Kind        MagnitudeKind
	Name        string
	Description string
}

// UnitCode is only meaningful for pollutants.
func (m Magnitude) UnitCode() string {
	if m.Code == carbonMonoxideCode {
		return UnitMilligramsPerCubicMetre
	}
	return UnitMicrogramsPerCubicMetre
}

// Normalize converts a raw feed value to the published scale. Relative
// humidity is published as a fraction.
func (m Magnitude) Normalize(v float64) float64 {
	if m.Kind == MagnitudeOther && m.Code == humidityCode {
		return v / 100
	}
	return v
}

// MagnitudeTable is a read-only code lookup built once at start-up.
type MagnitudeTable struct {
	entries map[string]Magnitude
}

func (t *MagnitudeTable) Lookup(code string) Magnitude {
	if m, ok := t.entries[code]; ok {
		return m
	}
	return Magnitude{Code: code, Kind: MagnitudeUnknown}
}

func (t *MagnitudeTable) Len() int {
	return len(t.entries)
}

// Magnitudes is the Madrid air quality network code table.
var Magnitudes = newMagnitudeTable()

func newMagnitudeTable() *MagnitudeTable {
	t := &MagnitudeTable{entries: make(map[string]Magnitude)}

	pollutants := []Magnitude{
		{Code: "01", Name: "SO2", Description: "Sulfur Dioxide"},
		{Code: "06", Name: "CO", Description: "Carbon Monoxide"},
		{Code: "07", Name: "NO", Description: "Nitrogen Monoxide"},
		{Code: "08", Name: "NO2", Description: "Nitrogen Dioxide"},
		{Code: "09", Name: "PM2.5", Description: "Particles lower than 2.5"},
		{Code: "10", Name: "PM10", Description: "Particles lower than 10"},
		{Code: "12", Name: "NOx", Description: "Nitrogen oxides"},
		{Code: "14", Name: "O3", Description: "Ozone"},
		{Code: "20", Name: "TOL", Description: "Toluene"},
		{Code: "30", Name: "BEN", Description: "Benzene"},
		{Code: "35", Name: "EBE", Description: "Etilbenzene"},
		{Code: "37", Name: "MXY", Description: "Metaxylene"},
		{Code: "38", Name: "PXY", Description: "Paraxylene"},
		{Code: "39", Name: "OXY", Description: "Orthoxylene"},
		{Code: "42", Name: "TCH", Description: "Total Hydrocarbons"},
		{Code: "43", Name: "CH4", Description: "Hydrocarbons - Methane"},
		{Code: "44", Name: "NHMC", Description: "Non-methane hydrocarbons - Hexane"},
	}
	for _, m := range pollutants {
		m.Kind = MagnitudePollutant
		t.entries[m.Code] = m
	}

	others := []Magnitude{
		{Code: "80", Name: "ultravioletRadiation", Description: "Ultraviolet Radiation"},
		{Code: "81", Name: "windSpeed", Description: "Wind Speed"},
		{Code: "82", Name: "windDirection", Description: "Wind Direction"},
		{Code: "83", Name: "temperature", Description: "temperature"},
		{Code: "86", Name: "relativeHumidity", Description: "Relative Humidity"},
		{Code: "87", Name: "atmosphericPressure", Description: "Atmospheric Pressure"},
		{Code: "88", Name: "solarRadiation", Description: "Solar Radiation"},
		{Code: "89", Name: "precipitation", Description: "Precipitation"},
		{Code: "92", Name: "acidRainLevel", Description: "Acid Rain Level"},
	}
	for _, m := range others {
		m.Kind = MagnitudeOther
		t.entries[m.Code] = m
	}

	return t
}
