package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/adapters/builtin"
	"github.com/qarbon/qingest/pkg/payload"
	"github.com/qarbon/qingest/pkg/registry"
)

// meterLog reads plain lines such as "METER m-12 4.25 kWh" from a building
// energy meter and sums the readings.
type meterLog struct{}

func (meterLog) Descriptor() adapters.Descriptor {
	return adapters.Descriptor{
		Name:               "meterlog",
		Version:            "0.1.0",
		DeclaredConfidence: 0.9,
		SupportedFormats:   []string{"text"},
		Shape:              adapters.ShapeRecords,
		Keywords:           []string{"meter", "kwh"},
	}
}

func (meterLog) Detect(p *payload.Payload) bool { return p.StartsWith("METER ") }

func (m meterLog) DetectConfidence(p *payload.Payload) adapters.FormatConfidence {
	return adapters.Evaluate(m.Descriptor(), []adapters.Heuristic{
		{Name: "prefix", Weight: 0.6, Test: func(p *payload.Payload) float64 { return adapters.Bool(p.StartsWith("METER ")) }, Evidence: "METER line prefix"},
		{Name: "unit", Weight: 0.4, Test: func(p *payload.Payload) float64 {
			return adapters.Bool(strings.Contains(p.Text(), " kWh"))
		}, Evidence: "kWh readings"},
	}, p)
}

func (m meterLog) Ingest(p *payload.Payload) (*adapters.NormalizedData, error) {
	var total float64
	for _, line := range strings.Split(p.Text(), "\n") {
		f := strings.Fields(line)
		if len(f) < 3 || f[0] != "METER" {
			continue
		}
		v, err := strconv.ParseFloat(f[2], 64)
		if err != nil {
			return nil, adapters.Wrap("meterlog", err, "bad reading")
		}
		total += v
	}
	data := adapters.NewNormalizedData(m.Descriptor())
	data.Energy = &adapters.Energy{Total: total, Unit: "kWh"}
	return data, nil
}

func (meterLog) Validate(p *payload.Payload) adapters.ValidationResult {
	if !p.StartsWith("METER ") {
		return adapters.Invalid("not a meter log")
	}
	return adapters.Valid()
}

func main() {
	// Usage: go run main.go -file readings.txt
	fileFlag := flag.String("file", "", "File to ingest")
	flag.Parse()

	if *fileFlag == "" {
		fmt.Println("File is required. Please provide it using -file flag.")
		return
	}
	b, err := os.ReadFile(*fileFlag)
	if err != nil {
		fmt.Println(err)
		return
	}

	// Built-in adapters plus our own, evaluated first.
	opts := registry.DefaultOptions()
	opts.Priority = []string{"meterlog"}
	reg, err := builtin.NewRegistry(opts, builtin.Config{})
	if err != nil {
		fmt.Println(err)
		return
	}
	if err := reg.Register(meterLog{}); err != nil {
		fmt.Println(err)
		return
	}

	data, res, err := reg.IngestDetailed(context.Background(), payload.FromBytes(b))
	if err != nil {
		fmt.Println(err)
		return
	}
	for _, c := range res.ConfidenceScores {
		fmt.Printf("%-12s %.3f\n", c.AdapterName, c.Score)
	}
	out, _ := json.MarshalIndent(data, "", "  ")
	fmt.Println(string(out))
}
