// Package fit reads Garmin FIT activity files recorded by power meters and
// fitness devices. Only the file_id, record and session messages are
// interpreted; everything else is skipped by size.
package fit

import (
	"fmt"
	"strconv"

	"github.com/montanaflynn/stats"
	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/payload"
	"github.com/qarbon/qingest/pkg/units"
)

const Name = "fit"

var descriptor = adapters.Descriptor{
	Name:               Name,
	Version:            "1.0.0",
	DeclaredConfidence: 1.0,
	SupportedFormats:   []string{"fit"},
	Shape:              adapters.ShapeBinary,
}

var manufacturers = map[uint16]string{
	1:   "garmin",
	15:  "dynastream",
	23:  "suunto",
	32:  "wahoo_fitness",
	89:  "tacx",
	255: "development",
	260: "zwift",
}

func manufacturerName(id uint16) string {
	if n, ok := manufacturers[id]; ok {
		return n
	}
	return "manufacturer " + strconv.Itoa(int(id))
}

type Adapter struct {
	heuristics []adapters.Heuristic
}

// Binary payloads are read through Bytes: trimming would strip a 0x0c header
// size byte as whitespace.
func New() *Adapter {
	return &Adapter{heuristics: []adapters.Heuristic{
		{
			Name:   "header size",
			Weight: 0.2,
			Test: func(p *payload.Payload) float64 {
				b := p.Bytes()
				return adapters.Bool(len(b) >= minHeaderSize && (b[0] == minHeaderSize || b[0] == crcHeaderSize))
			},
			Evidence: "FIT header size byte",
		},
		{
			Name:   "signature",
			Weight: 0.5,
			Test: func(p *payload.Payload) float64 {
				_, err := parseHeader(p.Bytes())
				return adapters.Bool(err == nil)
			},
			Evidence: ".FIT signature",
		},
		{
			Name:   "header crc",
			Weight: 0.15,
			Test: func(p *payload.Payload) float64 {
				h, err := parseHeader(p.Bytes())
				return adapters.Bool(err == nil && h.headerCRCOK(p.Bytes()))
			},
			Evidence: "header CRC matches",
		},
		{
			Name:   "data size",
			Weight: 0.15,
			Test: func(p *payload.Payload) float64 {
				h, err := parseHeader(p.Bytes())
				return adapters.Bool(err == nil && h.end() <= p.Len())
			},
			Evidence: "declared data size fits the payload",
		},
	}}
}

func (a *Adapter) Descriptor() adapters.Descriptor { return descriptor }

func (a *Adapter) Detect(p *payload.Payload) bool {
	_, err := parseHeader(p.Bytes())
	return err == nil
}

func (a *Adapter) DetectConfidence(p *payload.Payload) adapters.FormatConfidence {
	return adapters.Evaluate(descriptor, a.heuristics, p)
}

func (a *Adapter) Validate(p *payload.Payload) adapters.ValidationResult {
	b := p.Bytes()
	act, h, err := decode(b)
	if err != nil {
		return adapters.Invalid(err.Error())
	}
	var errs, warns []string
	if !h.headerCRCOK(b) {
		errs = append(errs, "header CRC mismatch")
	}
	switch present, ok := h.fileCRC(b); {
	case !present:
		warns = append(warns, "file CRC missing")
	case !ok:
		errs = append(errs, "file CRC mismatch")
	}
	if act.messages == 0 {
		errs = append(errs, "no data messages")
	}
	if len(act.power) == 0 && !act.hasWork {
		warns = append(warns, "no power or work data")
	}
	if len(errs) > 0 {
		return adapters.ValidationResult{Errors: errs, Warnings: warns}
	}
	return adapters.Valid(warns...)
}

func (a *Adapter) Ingest(p *payload.Payload) (*adapters.NormalizedData, error) {
	act, h, err := decode(p.Bytes())
	if err != nil {
		return nil, adapters.Wrap(Name, err, "decode")
	}
	if act.messages == 0 {
		return nil, adapters.Errorf(Name, "no data messages")
	}

	data := adapters.NewNormalizedData(descriptor)

	var seconds float64
	switch {
	case act.hasElapsed:
		seconds = act.elapsed
	case act.hasTS:
		seconds = float64(act.lastTS - act.firstTS)
	}
	if seconds > 0 {
		data.Duration = &adapters.Duration{Seconds: seconds}
	}

	var mean float64
	if len(act.power) > 0 {
		mean, _ = stats.Mean(act.power)
		peak, _ := stats.Max(act.power)
		data.Power = &adapters.Power{Average: mean, Peak: peak, Unit: units.Watt, Samples: len(act.power)}
	}

	switch {
	case act.hasWork:
		kwh, _, _ := units.Convert(act.work, "J")
		data.Energy = &adapters.Energy{Total: kwh, Unit: units.KilowattHour}
	case mean > 0 && seconds > 0:
		kwh, _, _ := units.Convert(mean*seconds, "J")
		data.Energy = &adapters.Energy{Total: kwh, Unit: units.KilowattHour}
	}

	if act.lat != nil || act.lng != nil {
		data.Location = &adapters.Location{Latitude: act.lat, Longitude: act.lng}
	}
	if act.hasFileID {
		d := &adapters.Device{Type: "fitness-device", Manufacturer: manufacturerName(act.manufacturer)}
		if act.product != 0 {
			d.Model = strconv.Itoa(int(act.product))
		}
		if act.serial != 0 {
			d.Serial = strconv.FormatUint(uint64(act.serial), 10)
		}
		data.Device = d
	}

	data.SetExtra("protocol_version", fmt.Sprintf("%d.%d", h.protocol>>4, h.protocol&0x0f))
	data.SetExtra("profile_version", float64(h.profile)/100)
	data.SetExtra("messages", act.messages)
	return data, nil
}
