package chunker

import (
	"encoding/json"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// jsonSections yields one section per top-level key. Invalid JSON falls back
// to plain-text chunking; an empty or non-object document becomes a single
// json section.
func jsonSections(content string) []section {
	if !json.Valid([]byte(content)) {
		return plainSections(content)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &obj); err != nil || len(obj) == 0 {
		return []section{{Label: "json", Content: content}}
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sections := make([]section, 0, len(keys))
	for _, k := range keys {
		sections = append(sections, section{
			Label:   k,
			Content: k + ": " + string(obj[k]),
		})
	}
	return sections
}

// yamlSections yields one section per top-level mapping key, in document
// order.
func yamlSections(content string) []section {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return plainSections(content)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return []section{{Label: "yaml", Content: content}}
	}

	root := doc.Content[0]
	var sections []section
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		pair := &yaml.Node{
			Kind:    yaml.MappingNode,
			Content: []*yaml.Node{key, val},
		}
		out, err := yaml.Marshal(pair)
		if err != nil {
			continue
		}
		sections = append(sections, section{
			Label:   key.Value,
			Content: strings.TrimRight(string(out), "\n"),
		})
	}
	if len(sections) == 0 {
		return []section{{Label: "yaml", Content: content}}
	}
	return sections
}

// tomlSections yields one section per top-level key.
func tomlSections(content string) []section {
	var m map[string]any
	if err := toml.Unmarshal([]byte(content), &m); err != nil {
		return plainSections(content)
	}
	if len(m) == 0 {
		return []section{{Label: "toml", Content: content}}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sections := make([]section, 0, len(keys))
	for _, k := range keys {
		out, err := toml.Marshal(map[string]any{k: m[k]})
		if err != nil {
			continue
		}
		sections = append(sections, section{
			Label:   k,
			Content: strings.TrimRight(string(out), "\n"),
		})
	}
	return sections
}
