package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ShippingZone groups destination countries served under one label.
type ShippingZone struct {
	Name      string   `yaml:"name"`
	Countries []string `yaml:"countries"`
}

// ShippingZones is the parsed shipping zones file.
//
//	zones:
//	  - name: eu
//	    countries: [DE, FR, LV]
type ShippingZones struct {
	Zones []ShippingZone `yaml:"zones"`
}

// Countries returns the de-duplicated, upper-cased country codes across all zones.
func (z ShippingZones) Countries() []string {
	var out []string
	for _, zone := range z.Zones {
		out = mergeCountries(out, zone.Countries)
	}
	return out
}

// LoadShippingZones reads and validates a YAML shipping zones file.
func LoadShippingZones(path string) (ShippingZones, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ShippingZones{}, fmt.Errorf("config: read shipping zones %s: %w", path, err)
	}
	return ParseShippingZones(raw)
}

// ParseShippingZones decodes the YAML document. Every zone needs a name and at least one two-letter country code.
func ParseShippingZones(raw []byte) (ShippingZones, error) {
	var zones ShippingZones
	if err := yaml.Unmarshal(raw, &zones); err != nil {
		return ShippingZones{}, fmt.Errorf("config: parse shipping zones: %w", err)
	}
	if len(zones.Zones) == 0 {
		return ShippingZones{}, errors.New("config: shipping zones file defines no zones")
	}
	for i, zone := range zones.Zones {
		if strings.TrimSpace(zone.Name) == "" {
			return ShippingZones{}, fmt.Errorf("config: shipping zone %d has no name", i)
		}
		if len(zone.Countries) == 0 {
			return ShippingZones{}, fmt.Errorf("config: shipping zone %s has no countries", zone.Name)
		}
		for _, country := range zone.Countries {
			if len(strings.TrimSpace(country)) != 2 {
				return ShippingZones{}, fmt.Errorf("config: shipping zone %s: invalid country %q", zone.Name, country)
			}
		}
	}
	return zones, nil
}

func mergeCountries(base []string, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, country := range list {
			code := strings.ToUpper(strings.TrimSpace(country))
			if code == "" {
				continue
			}
			if _, ok := seen[code]; ok {
				continue
			}
			seen[code] = struct{}{}
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out
}
