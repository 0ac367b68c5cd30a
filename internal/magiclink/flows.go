package magiclink

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed flows.yaml
var defaultFlows []byte

type Strictness string

const (
	StrictnessBasic  Strictness = "basic"
	StrictnessStrict Strictness = "strict"
)

// Flow parameterizes one issuance variant.
type Flow struct {
	Name       string
	TTL        time.Duration
	Strictness Strictness
	Subject    string
}

// Flows is keyed by flow name.
type Flows map[string]Flow

type flowFile struct {
	Flows []struct {
		Name       string     `yaml:"name"`
		TTLMinutes int        `yaml:"ttl_minutes"`
		Strictness Strictness `yaml:"validation_strictness"`
		Subject    string     `yaml:"subject"`
	} `yaml:"flows"`
}

// LoadFlows reads flow definitions from path, or the built-in set when path
// is empty.
func LoadFlows(path string) (Flows, error) {
	data := defaultFlows
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read flows file: %w", err)
		}
		data = b
	}
	return ParseFlows(data)
}

func ParseFlows(data []byte) (Flows, error) {
	var f flowFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse flows: %w", err)
	}
	if len(f.Flows) == 0 {
		return nil, fmt.Errorf("parse flows: no flows defined")
	}

	flows := make(Flows, len(f.Flows))
	for _, raw := range f.Flows {
		if raw.Name == "" {
			return nil, fmt.Errorf("parse flows: flow without name")
		}
		if _, dup := flows[raw.Name]; dup {
			return nil, fmt.Errorf("parse flows: duplicate flow %q", raw.Name)
		}
		if raw.TTLMinutes <= 0 {
			return nil, fmt.Errorf("parse flows: flow %q: ttl_minutes must be positive", raw.Name)
		}
		switch raw.Strictness {
		case StrictnessBasic, StrictnessStrict:
		case "":
			raw.Strictness = StrictnessBasic
		default:
			return nil, fmt.Errorf("parse flows: flow %q: unknown validation_strictness %q", raw.Name, raw.Strictness)
		}
		subject := raw.Subject
		if subject == "" {
			subject = "Your sign-in link"
		}
		flows[raw.Name] = Flow{
			Name:       raw.Name,
			TTL:        time.Duration(raw.TTLMinutes) * time.Minute,
			Strictness: raw.Strictness,
			Subject:    subject,
		}
	}
	return flows, nil
}
