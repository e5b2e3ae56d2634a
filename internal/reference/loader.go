package reference

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nneupane1/telemetry-agent/internal/logging"
)

// Dictionary file stems inside a reference directory. Each may be .yaml,
// .yml or .json.
const (
	CatalogFile    = "ref_hi_catalog"
	FamilyMapFile  = "ref_hi_family_map"
	ConfidenceFile = "ref_confidence_map"
)

// ErrMissingDictionary is returned when a required dictionary file is absent.
var ErrMissingDictionary = errors.New("reference: missing dictionary")

// LoadDir reads the three dictionaries from dir and merges them in the fixed
// order catalog < family map < confidence map.
func LoadDir(dir string) (*Set, error) {
	catalogRaw, err := readMapping(dir, CatalogFile)
	if err != nil {
		return nil, err
	}
	familyRaw, err := readMapping(dir, FamilyMapFile)
	if err != nil {
		return nil, err
	}
	confRaw, err := readMapping(dir, ConfidenceFile)
	if err != nil {
		return nil, err
	}

	catalog, err := CatalogLayer(catalogRaw)
	if err != nil {
		return nil, err
	}
	families, err := FamilyLayer(familyRaw)
	if err != nil {
		return nil, err
	}
	confidence, err := ConfidenceLayer(confRaw)
	if err != nil {
		return nil, err
	}

	set := Merge(catalog, families, confidence)
	logging.New("reference").Info("reference dictionaries loaded",
		"reference_dir", dir,
		"catalog_size", len(catalog.Patches),
		"family_size", len(families.Patches),
		"confidence_bands", len(confidence.Bands),
		"codes", set.Len())
	return set, nil
}

// CatalogLayer converts a decoded catalog (code -> description string or
// {description|label: ...}) into a Layer.
func CatalogLayer(raw map[string]any) (Layer, error) {
	l := Layer{Name: CatalogFile, Patches: make(map[string]Patch, len(raw))}
	for code, v := range raw {
		switch val := v.(type) {
		case string:
			l.Patches[code] = Patch{Label: val}
		case map[string]any:
			label, _ := val["description"].(string)
			if label == "" {
				label, _ = val["label"].(string)
			}
			family, _ := val["family"].(string)
			l.Patches[code] = Patch{Label: label, Family: family}
		case nil:
			l.Patches[code] = Patch{}
		default:
			l.Patches[code] = Patch{Label: fmt.Sprint(val)}
		}
	}
	return l, nil
}

// FamilyLayer converts a decoded family map (code -> family) into a Layer.
func FamilyLayer(raw map[string]any) (Layer, error) {
	l := Layer{Name: FamilyMapFile, Patches: make(map[string]Patch, len(raw))}
	for code, v := range raw {
		family, ok := v.(string)
		if !ok {
			return Layer{}, fmt.Errorf("reference: family for %q must be a string, got %T", code, v)
		}
		l.Patches[code] = Patch{Family: family}
	}
	return l, nil
}

// ConfidenceLayer converts a decoded confidence map into a Layer. The map
// holds global "ranges" and optional per-code tables under "codes".
func ConfidenceLayer(raw map[string]any) (Layer, error) {
	l := Layer{Name: ConfidenceFile, Patches: make(map[string]Patch)}
	if ranges, ok := raw["ranges"]; ok {
		bands, err := decodeBands(ranges)
		if err != nil {
			return Layer{}, fmt.Errorf("reference: confidence ranges: %w", err)
		}
		l.Bands = bands
	}
	codes, _ := raw["codes"].(map[string]any)
	for code, v := range codes {
		var table any = v
		if m, ok := v.(map[string]any); ok {
			table = m["ranges"]
		}
		bands, err := decodeBands(table)
		if err != nil {
			return Layer{}, fmt.Errorf("reference: confidence table for %q: %w", code, err)
		}
		l.Patches[code] = Patch{Bands: bands}
	}
	return l, nil
}

func decodeBands(v any) ([]Band, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("ranges must be a list, got %T", v)
	}
	bands := make([]Band, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		b := Band{Min: 0, Max: 1}
		if f, ok := toFloat(m["min"]); ok {
			b.Min = f
		}
		if f, ok := toFloat(m["max"]); ok {
			b.Max = f
		}
		b.Label, _ = m["label"].(string)
		if b.Min > b.Max {
			return nil, fmt.Errorf("range %d: min %.2f > max %.2f", i, b.Min, b.Max)
		}
		bands = append(bands, b)
	}
	return bands, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func readMapping(dir, stem string) (map[string]any, error) {
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		path := filepath.Join(dir, stem+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return DecodeMapping(data, ext)
	}
	return nil, fmt.Errorf("%w: %s in %s", ErrMissingDictionary, stem, dir)
}

// DecodeMapping parses a YAML or JSON document whose root must be a mapping.
func DecodeMapping(data []byte, ext string) (map[string]any, error) {
	var out map[string]any
	if strings.EqualFold(ext, ".json") {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("parse reference json: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("parse reference yaml: %w", err)
		}
	}
	if out == nil {
		return nil, fmt.Errorf("reference: document must contain a mapping")
	}
	return out, nil
}
