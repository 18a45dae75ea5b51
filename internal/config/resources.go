package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/juanjortega/openhimtoFhirproxy/internal/domain"
)

// resourceSpecFile is the on-disk shape of a related-resource pull list.
type resourceSpecFile struct {
	Resources []domain.RelatedResource `yaml:"resources"`
}

// LoadRelatedResources returns the related-resource pull list. An empty
// path returns the built-in defaults; otherwise the YAML file at path
// replaces them entirely.
func LoadRelatedResources(path string) ([]domain.RelatedResource, error) {
	if path == "" {
		return domain.DefaultRelatedResources(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read resource spec %s: %w", path, err)
	}

	var spec resourceSpecFile
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parse resource spec %s: %w", path, err)
	}
	if len(spec.Resources) == 0 {
		return nil, fmt.Errorf("resource spec %s: no resources defined", path)
	}

	for i, r := range spec.Resources {
		if r.Type == "" {
			return nil, fmt.Errorf("resource spec %s: entry %d: type is required", path, i)
		}
		if r.QueryTemplate == "" {
			return nil, fmt.Errorf("resource spec %s: entry %d (%s): query is required", path, i, r.Type)
		}
		if !strings.Contains(r.QueryTemplate, "{id}") {
			return nil, fmt.Errorf("resource spec %s: entry %d (%s): query must contain the {id} placeholder", path, i, r.Type)
		}
	}

	return spec.Resources, nil
}
