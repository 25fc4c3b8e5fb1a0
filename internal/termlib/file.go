// Package termlib loads, validates, stores and hot-reloads the bias term
// library that detectors are built from.
package termlib

import (
	"fmt"
	"os"

	"github.com/raaihank/feedback-sentinel/internal/bias"
	"gopkg.in/yaml.v3"
)

// libraryDocument is the mapping form of a term file
type libraryDocument struct {
	Terms []bias.BiasTerm `yaml:"terms"`
}

// LoadFile reads a YAML or JSON term library. The document may be a list of
// terms or a mapping with a `terms` key.
func LoadFile(path string) ([]bias.BiasTerm, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read term library: %w", err)
	}
	terms, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse term library %s: %w", path, err)
	}
	return terms, nil
}

// Parse decodes a YAML or JSON term library document
func Parse(data []byte) ([]bias.BiasTerm, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return []bias.BiasTerm{}, nil
	}

	node := root.Content[0]
	switch node.Kind {
	case yaml.SequenceNode:
		var terms []bias.BiasTerm
		if err := node.Decode(&terms); err != nil {
			return nil, err
		}
		return terms, nil
	case yaml.MappingNode:
		var doc libraryDocument
		if err := node.Decode(&doc); err != nil {
			return nil, err
		}
		if doc.Terms == nil {
			doc.Terms = []bias.BiasTerm{}
		}
		return doc.Terms, nil
	default:
		return nil, fmt.Errorf("unexpected document kind %d, want a list of terms", node.Kind)
	}
}
