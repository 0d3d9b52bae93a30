package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/antenna-proximity/internal/model"
	"github.com/sells-group/antenna-proximity/internal/proximity"
)

// antennaView is the presentation form of one listed antenna.
type antennaView struct {
	ID          string   `json:"id" yaml:"id"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Channels    []string `json:"channels,omitempty" yaml:"channels,omitempty"`
	DistanceM   float64  `json:"distance_m" yaml:"distance_m"`
	BearingDeg  float64  `json:"bearing_deg" yaml:"bearing_deg"`
	Far         bool     `json:"far" yaml:"far"`
}

// publication is one published list, tagged with the fix that was current
// when it arrived.
type publication struct {
	Fix      int            `json:"fix" yaml:"fix"`
	Position model.Position `json:"position" yaml:"position"`
	Antennas []antennaView  `json:"antennas" yaml:"antennas"`
}

func viewList(list []proximity.Listed) []antennaView {
	out := make([]antennaView, len(list))
	for i, l := range list {
		out[i] = antennaView{
			ID:          l.Antenna.ID.String(),
			Description: l.Antenna.Description,
			Channels:    l.Antenna.Channels,
			DistanceM:   l.Distance,
			BearingDeg:  l.Bearing,
			Far:         l.Far,
		}
	}
	return out
}

// printer writes publications in one of the supported formats.
type printer interface {
	Print(p publication) error
	Close() error
}

func newPrinter(format string, w io.Writer) (printer, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return textPrinter{w: w}, nil
	case "json":
		return jsonPrinter{enc: json.NewEncoder(w)}, nil
	case "yaml":
		return &yamlPrinter{enc: yaml.NewEncoder(w)}, nil
	default:
		return nil, eris.Errorf("unsupported output format %q (text, json, yaml)", format)
	}
}

type textPrinter struct{ w io.Writer }

func (p textPrinter) Print(pub publication) error {
	var b strings.Builder
	fmt.Fprintf(&b, "fix %d %s:", pub.Fix, pub.Position)
	if len(pub.Antennas) == 0 {
		b.WriteString(" no antennas in range")
	}
	for _, a := range pub.Antennas {
		state := "near"
		if a.Far {
			state = "far"
		}
		name := a.ID
		if a.Description != "" {
			name = a.Description
		}
		fmt.Fprintf(&b, " {%s %.0fm %.0f° %s}", name, a.DistanceM, a.BearingDeg, state)
	}
	b.WriteByte('\n')
	_, err := io.WriteString(p.w, b.String())
	return err
}

func (textPrinter) Close() error { return nil }

type jsonPrinter struct{ enc *json.Encoder }

func (p jsonPrinter) Print(pub publication) error {
	return p.enc.Encode(pub)
}

func (jsonPrinter) Close() error { return nil }

type yamlPrinter struct{ enc *yaml.Encoder }

func (p *yamlPrinter) Print(pub publication) error {
	return p.enc.Encode(pub)
}

func (p *yamlPrinter) Close() error {
	return p.enc.Close()
}
