package catalog

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	_ "embed"
)

// The catalog is the only place that knows the portal's markup. Each
// field lists strategies in priority order; later ones are fallbacks
// and second opinions for cross-validation.

type StrategyKind string

const (
	// KindCss takes the text content of the first node matching a
	// css selector.
	KindCss StrategyKind = "css"
	// KindCssAttr takes an attribute value off the first matching node.
	KindCssAttr StrategyKind = "css-attr"
	// KindRegex runs a pattern with one capture group over the page's
	// visible text.
	KindRegex StrategyKind = "regex"
)

type FieldKind string

const (
	FieldText     FieldKind = "text"
	FieldMoney    FieldKind = "money"
	FieldDate     FieldKind = "date"
	FieldStatus   FieldKind = "status"
	FieldPresence FieldKind = "presence"
)

type Strategy struct {
	Id       string       `yaml:"id"`
	Kind     StrategyKind `yaml:"kind"`
	Selector string       `yaml:"selector,omitempty"`
	Attr     string       `yaml:"attr,omitempty"`
	Pattern  string       `yaml:"pattern,omitempty"`

	regex *regexp.Regexp
}

// Regex is the compiled Pattern, only set once Validate has run.
func (s Strategy) Regex() *regexp.Regexp {
	return s.regex
}

type Field struct {
	Name       string     `yaml:"name"`
	Kind       FieldKind  `yaml:"kind"`
	Mandatory  bool       `yaml:"mandatory,omitempty"`
	Strategies []Strategy `yaml:"strategies"`
	// Labels maps a canonical status label to the raw substrings the
	// portal renders for it. Only meaningful for status fields.
	Labels map[string][]string `yaml:"labels,omitempty"`
}

type Catalog struct {
	Version int     `yaml:"version"`
	Fields  []Field `yaml:"fields"`
}

//go:embed catalog.yaml
var defaultCatalog []byte

// Default is the catalog shipped with the binary. It always validates;
// a test guards the embedded file.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return c
}

func Parse(raw []byte) (*Catalog, error) {
	var c Catalog
	err := yaml.Unmarshal(raw, &c)
	if err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	err = c.Validate()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads a catalog override from disk, falling back to the
// embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Validate checks the catalog's internal consistency and compiles
// every regex strategy.
func (c *Catalog) Validate() error {
	if c.Version < 1 {
		return fmt.Errorf("catalog version must be >= 1, got %d", c.Version)
	}
	if len(c.Fields) == 0 {
		return fmt.Errorf("catalog has no fields")
	}

	mandatoryCount := 0
	fieldNames := map[string]bool{}
	for fi := range c.Fields {
		field := &c.Fields[fi]
		if field.Name == "" {
			return fmt.Errorf("field %d has no name", fi)
		}
		if fieldNames[field.Name] {
			return fmt.Errorf("duplicate field %q", field.Name)
		}
		fieldNames[field.Name] = true

		switch field.Kind {
		case FieldText, FieldMoney, FieldDate, FieldStatus, FieldPresence:
		default:
			return fmt.Errorf("field %q has unknown kind %q", field.Name, field.Kind)
		}
		if field.Kind == FieldStatus && len(field.Labels) == 0 {
			return fmt.Errorf("status field %q has no labels", field.Name)
		}
		if field.Mandatory {
			mandatoryCount++
		}
		if len(field.Strategies) == 0 {
			return fmt.Errorf("field %q has no strategies", field.Name)
		}

		strategyIds := map[string]bool{}
		for si := range field.Strategies {
			strategy := &field.Strategies[si]
			if strategy.Id == "" {
				return fmt.Errorf("field %q strategy %d has no id", field.Name, si)
			}
			if strategyIds[strategy.Id] {
				return fmt.Errorf("field %q has duplicate strategy %q", field.Name, strategy.Id)
			}
			strategyIds[strategy.Id] = true

			switch strategy.Kind {
			case KindCss:
				if strategy.Selector == "" {
					return fmt.Errorf("strategy %q/%q needs a selector", field.Name, strategy.Id)
				}
			case KindCssAttr:
				if strategy.Selector == "" || strategy.Attr == "" {
					return fmt.Errorf("strategy %q/%q needs a selector and attr", field.Name, strategy.Id)
				}
			case KindRegex:
				if strategy.Pattern == "" {
					return fmt.Errorf("strategy %q/%q needs a pattern", field.Name, strategy.Id)
				}
				regex, err := regexp.Compile(strategy.Pattern)
				if err != nil {
					return fmt.Errorf("strategy %q/%q pattern: %w", field.Name, strategy.Id, err)
				}
				if regex.NumSubexp() != 1 {
					return fmt.Errorf("strategy %q/%q pattern needs exactly one capture group", field.Name, strategy.Id)
				}
				strategy.regex = regex
			default:
				return fmt.Errorf("strategy %q/%q has unknown kind %q", field.Name, strategy.Id, strategy.Kind)
			}
		}
	}

	if mandatoryCount == 0 {
		return fmt.Errorf("catalog has no mandatory field")
	}
	return nil
}

// Mandatory is the first mandatory field, the "account found"
// indicator extraction cannot do without.
func (c *Catalog) Mandatory() *Field {
	for i := range c.Fields {
		if c.Fields[i].Mandatory {
			return &c.Fields[i]
		}
	}
	return nil
}
