package provider

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the layout of a YAML profile file.
//
//	profiles:
//	  - id: my-video-model
//	    kind: video
//	    submit: {url: https://vendor.example/v1/jobs}
//	    auth: {scheme: bearer, credential: video_api_key}
//	    rules:
//	      status_fields: [status]
//	      result_fields: [output.url]
//	      status_url_fields: [links.status]
//	    poll: {interval: 3s, backoff_factor: 1.1, max_interval: 5s, max_attempts: 180}
type File struct {
	Profiles []Profile `yaml:"profiles"`
}

// LoadFile reads and validates the profiles defined in a YAML file.
func LoadFile(path string) ([]Profile, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("provider: read profile file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile decodes and validates YAML profile definitions.
func ParseFile(data []byte) ([]Profile, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("provider: parse profile file: %w", err)
	}
	for i := range f.Profiles {
		if err := f.Profiles[i].Validate(); err != nil {
			return nil, err
		}
	}
	return f.Profiles, nil
}
