package mapping

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FieldMapping declares how one output field is extracted from a record.
type FieldMapping struct {
	Path      string      `yaml:"path" json:"path"`
	Default   interface{} `yaml:"default,omitempty" json:"default,omitempty"`
	Transform string      `yaml:"transform,omitempty" json:"transform,omitempty"`
	Required  bool        `yaml:"required,omitempty" json:"required,omitempty"`
}

// PaginationType selects the iteration strategy for a paginated source.
type PaginationType string

const (
	PaginationOffset PaginationType = "offset"
	PaginationCursor PaginationType = "cursor"
	PaginationPage   PaginationType = "page"
)

// PaginationConfig describes how to walk a vendor's paginated endpoint.
type PaginationConfig struct {
	Type     PaginationType `yaml:"type" json:"type"`
	PageSize int            `yaml:"page_size,omitempty" json:"page_size,omitempty"`

	LimitParam  string `yaml:"limit_param,omitempty" json:"limit_param,omitempty"`
	OffsetParam string `yaml:"offset_param,omitempty" json:"offset_param,omitempty"`
	PageParam   string `yaml:"page_param,omitempty" json:"page_param,omitempty"`
	CursorParam string `yaml:"cursor_param,omitempty" json:"cursor_param,omitempty"`

	// NextCursorPath locates the next cursor in the response (cursor type).
	// HasMorePath optionally locates a boolean has-more indicator.
	NextCursorPath string `yaml:"next_cursor_path,omitempty" json:"next_cursor_path,omitempty"`
	HasMorePath    string `yaml:"has_more_path,omitempty" json:"has_more_path,omitempty"`

	// MaxRecords caps the total fetched across all pages.
	MaxRecords int `yaml:"max_records,omitempty" json:"max_records,omitempty"`
}

// EntityMapping describes how to fetch and extract one entity type. Source is
// the endpoint path for REST vendors or the record element name for XML
// documents. Supplied by configuration, not code.
type EntityMapping struct {
	Source     string                  `yaml:"source" json:"source"`
	ArrayPath  string                  `yaml:"array_path,omitempty" json:"array_path,omitempty"`
	Fields     map[string]FieldMapping `yaml:"fields" json:"fields"`
	Pagination *PaginationConfig       `yaml:"pagination,omitempty" json:"pagination,omitempty"`
}

// MappingFile is the on-disk YAML document: one EntityMapping per entity type
// (departments, tenders, cashiers, tax_rates, ...).
type MappingFile struct {
	Entities map[string]*EntityMapping `yaml:"entities"`
}

// LoadMappingFile reads and validates a YAML mapping document.
func LoadMappingFile(path string) (map[string]*EntityMapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file %s: %w", path, err)
	}

	var doc MappingFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse mapping file %s: %w", path, err)
	}
	if len(doc.Entities) == 0 {
		return nil, fmt.Errorf("mapping file %s declares no entities", path)
	}

	for entity, em := range doc.Entities {
		if em == nil || em.Source == "" {
			return nil, fmt.Errorf("mapping for %q is missing a source", entity)
		}
		if len(em.Fields) == 0 {
			return nil, fmt.Errorf("mapping for %q declares no fields", entity)
		}
	}

	return doc.Entities, nil
}
