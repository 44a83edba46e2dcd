// Package flight holds the decoded flight-event record and the decoder for
// the comma-delimited wire format published on the raw flights topic.
package flight

import (
	"fmt"
	"strconv"
	"strings"
)

// Delimiter separates positional fields in a raw flight record.
const Delimiter = ","

// FieldCount is the number of positional fields in a well-formed record.
const FieldCount = 10

// Event is a single flight state report. It is a value type and is never
// modified once Decode has returned it.
type Event struct {
	ICAO24        string  `json:"icao24" bson:"icao24"`
	Callsign      string  `json:"callsign" bson:"callsign"`
	OriginCountry string  `json:"origin_country" bson:"origin_country"`
	TimePosition  int64   `json:"time_position" bson:"time_position"`
	LastContact   int64   `json:"last_contact" bson:"last_contact"`
	Longitude     float64 `json:"longitude" bson:"longitude"`
	Latitude      float64 `json:"latitude" bson:"latitude"`
	BaroAltitude  float64 `json:"baro_altitude" bson:"baro_altitude"`
	Velocity      float64 `json:"velocity" bson:"velocity"`
	TrueTrack     float64 `json:"true_track" bson:"true_track"`
}

// DecodeError reports a raw value that does not match the positional layout.
type DecodeError struct {
	Value  string
	Fields int
	Field  string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("flight: field %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("flight: want %d fields, got %d", FieldCount, e.Fields)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode splits a raw value on Delimiter and builds an Event. Empty numeric
// fields decode as zero; anything else that fails to parse is a DecodeError.
func Decode(raw string) (Event, error) {
	parts := strings.Split(raw, Delimiter)
	if len(parts) != FieldCount {
		return Event{}, &DecodeError{Value: raw, Fields: len(parts)}
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	p := parser{raw: raw}
	ev := Event{
		ICAO24:        parts[0],
		Callsign:      parts[1],
		OriginCountry: parts[2],
		TimePosition:  p.int("time_position", parts[3]),
		LastContact:   p.int("last_contact", parts[4]),
		Longitude:     p.float("longitude", parts[5]),
		Latitude:      p.float("latitude", parts[6]),
		BaroAltitude:  p.float("baro_altitude", parts[7]),
		Velocity:      p.float("velocity", parts[8]),
		TrueTrack:     p.float("true_track", parts[9]),
	}
	if p.err != nil {
		return Event{}, p.err
	}
	if ev.ICAO24 == "" {
		return Event{}, &DecodeError{Value: raw, Fields: len(parts), Field: "icao24", Err: fmt.Errorf("empty")}
	}
	return ev, nil
}

// Encode renders ev in the positional wire format accepted by Decode.
func Encode(ev Event) string {
	fields := []string{
		ev.ICAO24,
		ev.Callsign,
		ev.OriginCountry,
		strconv.FormatInt(ev.TimePosition, 10),
		strconv.FormatInt(ev.LastContact, 10),
		strconv.FormatFloat(ev.Longitude, 'f', -1, 64),
		strconv.FormatFloat(ev.Latitude, 'f', -1, 64),
		strconv.FormatFloat(ev.BaroAltitude, 'f', -1, 64),
		strconv.FormatFloat(ev.Velocity, 'f', -1, 64),
		strconv.FormatFloat(ev.TrueTrack, 'f', -1, 64),
	}
	return strings.Join(fields, Delimiter)
}

// parser keeps the first field error so Decode reads as a flat literal.
type parser struct {
	raw string
	err error
}

func (p *parser) int(name, s string) int64 {
	if p.err != nil || s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		p.err = &DecodeError{Value: p.raw, Fields: FieldCount, Field: name, Err: err}
	}
	return v
}

func (p *parser) float(name, s string) float64 {
	if p.err != nil || s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.err = &DecodeError{Value: p.raw, Fields: FieldCount, Field: name, Err: err}
	}
	return v
}
