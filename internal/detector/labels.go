package detector

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Labels maps class indices to names.
type Labels []string

// Name returns the class name for idx, or "class_<idx>" when it is unknown.
func (l Labels) Name(idx int) string {
	if idx >= 0 && idx < len(l) && l[idx] != "" {
		return l[idx]
	}
	return "class_" + strconv.Itoa(idx)
}

// LoadLabels reads class names from a YAML file. Both a plain list and the
// dataset form with a "names" key (list or index map) are accepted.
func LoadLabels(path string) (Labels, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels file: %w", err)
	}
	return ParseLabels(data)
}

// ParseLabels parses the YAML accepted by LoadLabels.
func ParseLabels(data []byte) (Labels, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse labels: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, errors.New("labels file is empty")
	}

	node := root.Content[0]
	if node.Kind == yaml.MappingNode {
		var doc struct {
			Names yaml.Node `yaml:"names"`
		}
		if err := node.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to parse labels: %w", err)
		}
		if doc.Names.Kind == 0 {
			return nil, errors.New(`labels mapping has no "names" key`)
		}
		node = &doc.Names
	}

	switch node.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return nil, fmt.Errorf("failed to parse label list: %w", err)
		}
		return Labels(names), nil
	case yaml.MappingNode:
		var byIndex map[int]string
		if err := node.Decode(&byIndex); err != nil {
			return nil, fmt.Errorf("failed to parse label map: %w", err)
		}
		return labelsFromMap(byIndex), nil
	default:
		return nil, errors.New("labels must be a list or an index map")
	}
}

func labelsFromMap(byIndex map[int]string) Labels {
	idx := make([]int, 0, len(byIndex))
	for k := range byIndex {
		if k >= 0 {
			idx = append(idx, k)
		}
	}
	sort.Ints(idx)
	if len(idx) == 0 {
		return nil
	}
	out := make(Labels, idx[len(idx)-1]+1)
	for _, k := range idx {
		out[k] = byIndex[k]
	}
	return out
}
