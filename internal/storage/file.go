package storage

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileLoader reads group definitions from a YAML document:
//
//	groups:
//	  - id: sidebar
//	    order: weighted
//	    ads:
//	      - id: "12"
//	        weight: 8
//	        active: true
type FileLoader struct {
	Path string
}

type fileDoc struct {
	Groups []GroupRow `yaml:"groups"`
}

func (f FileLoader) LoadGroups(_ context.Context) ([]GroupRow, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open ad definitions %s: %w", f.Path, err)
	}
	defer fh.Close()

	var doc fileDoc
	if err := yaml.NewDecoder(fh).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode ad definitions %s: %w", f.Path, err)
	}
	return doc.Groups, nil
}
