package telemetry

import (
	"encoding/json"
)

// Record is a normalized telemetry record. Numeric fields are nil only when the
// raw record did not carry them; DataDateTime is nil when the backend had no
// timestamp. Fields the normalizer does not know about are kept in Extra.
type Record struct {
	VehicleCD    float64
	VehicleName  *string
	DataDateTime *string

	// nullName is set when VehicleName arrived as an explicit null, so Raw
	// keeps the key.
	nullName bool

	AllStateFontColorIndex *float64
	BranchCD               *float64
	CurrentWorkCD          *float64
	DataFilterType         *float64
	DispFlag               *float64
	DriverCD               *float64
	GPSDirection           *float64
	GPSEnable              *float64
	GPSLatitude            *float64
	GPSLongitude           *float64
	GPSSatelliteNum        *float64
	OperationState         *float64
	ReciveEventType        *float64
	RecivePacketType       *float64
	ReciveWorkCD           *float64
	Revo                   *float64
	Speed                  *float64
	SubDriverCD            *float64
	TempState              *float64

	Extra map[string]any
}

type numericField struct {
	name string
	ref  func(*Record) **float64
}

// numericFields lists the numeric-typed fields except VehicleCD, which goes
// through identity resolution instead.
var numericFields = []numericField{
	{"AllStateFontColorIndex", func(r *Record) **float64 { return &r.AllStateFontColorIndex }},
	{"BranchCD", func(r *Record) **float64 { return &r.BranchCD }},
	{"CurrentWorkCD", func(r *Record) **float64 { return &r.CurrentWorkCD }},
	{"DataFilterType", func(r *Record) **float64 { return &r.DataFilterType }},
	{"DispFlag", func(r *Record) **float64 { return &r.DispFlag }},
	{"DriverCD", func(r *Record) **float64 { return &r.DriverCD }},
	{"GPSDirection", func(r *Record) **float64 { return &r.GPSDirection }},
	{"GPSEnable", func(r *Record) **float64 { return &r.GPSEnable }},
	{"GPSLatitude", func(r *Record) **float64 { return &r.GPSLatitude }},
	{"GPSLongitude", func(r *Record) **float64 { return &r.GPSLongitude }},
	{"GPSSatelliteNum", func(r *Record) **float64 { return &r.GPSSatelliteNum }},
	{"OperationState", func(r *Record) **float64 { return &r.OperationState }},
	{"ReciveEventType", func(r *Record) **float64 { return &r.ReciveEventType }},
	{"RecivePacketType", func(r *Record) **float64 { return &r.RecivePacketType }},
	{"ReciveWorkCD", func(r *Record) **float64 { return &r.ReciveWorkCD }},
	{"Revo", func(r *Record) **float64 { return &r.Revo }},
	{"Speed", func(r *Record) **float64 { return &r.Speed }},
	{"SubDriverCD", func(r *Record) **float64 { return &r.SubDriverCD }},
	{"TempState", func(r *Record) **float64 { return &r.TempState }},
}

// NumericFields returns the names of every numeric-typed field, VehicleCD included.
func NumericFields() []string {
	names := make([]string, 0, len(numericFields)+1)
	for _, f := range numericFields {
		names = append(names, f.name)
	}
	return append(names, FieldVehicleCD)
}

func isKnownField(name string) bool {
	switch name {
	case FieldVehicleCD, FieldVehicleName, FieldDataDateTime:
		return true
	}
	for _, f := range numericFields {
		if f.name == name {
			return true
		}
	}
	return false
}

// Number returns the value of a numeric-typed field by name.
func (r *Record) Number(name string) (float64, bool) {
	if name == FieldVehicleCD {
		return r.VehicleCD, true
	}
	for _, f := range numericFields {
		if f.name == name {
			p := *f.ref(r)
			if p == nil {
				return 0, false
			}
			return *p, true
		}
	}
	return 0, false
}

// Raw flattens the record back into the open mapping the sink expects.
func (r Record) Raw() RawRecord {
	out := make(RawRecord, len(r.Extra)+len(numericFields)+3)
	for k, v := range r.Extra {
		out[k] = v
	}
	for _, f := range numericFields {
		if p := *f.ref(&r); p != nil {
			out[f.name] = *p
		}
	}
	out[FieldVehicleCD] = r.VehicleCD
	if r.VehicleName != nil {
		out[FieldVehicleName] = *r.VehicleName
	} else if r.nullName {
		out[FieldVehicleName] = nil
	}
	if r.DataDateTime != nil {
		out[FieldDataDateTime] = *r.DataDateTime
	} else {
		out[FieldDataDateTime] = nil
	}
	return out
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any(r.Raw()))
}
