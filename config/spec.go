package config

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"cityflow/vehown/errs"
)

// Coefficient is one named model weight.
type Coefficient struct {
	Name  string
	Value float64
}

// Spec is a fitted count-model specification. Coeffs keeps declaration
// order; the first entry is the constant term.
type Spec struct {
	File     string
	Coeffs   []Coefficient
	FieldMap map[string]string
}

// LoadSpec reads a coefficient specification with a required coeffs mapping
// and an optional field_map mapping.
func LoadSpec(path string) (*Spec, error) {
	doc, err := loadDocument(path, []string{"coeffs"})
	if err != nil {
		return nil, err
	}
	spec := &Spec{File: path, FieldMap: map[string]string{}}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key, val := doc.Content[i], doc.Content[i+1]
		switch key.Value {
		case "coeffs":
			if spec.Coeffs, err = parseCoeffs(path, val); err != nil {
				return nil, err
			}
		case "field_map":
			if val.Tag == "!!null" {
				continue
			}
			if err := val.Decode(&spec.FieldMap); err != nil {
				return nil, &errs.ConfigError{File: path, Fields: []string{"field_map"}, Err: err}
			}
			if spec.FieldMap == nil {
				spec.FieldMap = map[string]string{}
			}
		}
	}
	if len(spec.Coeffs) == 0 {
		return nil, &errs.ConfigError{File: path, Fields: []string{"coeffs"}, Err: errors.New("no coefficients listed")}
	}
	return spec, nil
}

func parseCoeffs(path string, node *yaml.Node) ([]Coefficient, error) {
	if node.Kind != yaml.MappingNode {
		return nil, &errs.ConfigError{File: path, Fields: []string{"coeffs"}, Err: fmt.Errorf("line %d: expected a name: weight mapping", node.Line)}
	}
	seen := make(map[string]bool)
	coeffs := make([]Coefficient, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var v float64
		if err := node.Content[i+1].Decode(&v); err != nil {
			return nil, &errs.ConfigError{File: path, Fields: []string{"coeffs." + name}, Err: err}
		}
		if seen[name] {
			return nil, &errs.ConfigError{File: path, Fields: []string{"coeffs." + name}, Err: errors.New("listed twice")}
		}
		seen[name] = true
		coeffs = append(coeffs, Coefficient{Name: name, Value: v})
	}
	return coeffs, nil
}

// Intercept is the constant term.
func (s *Spec) Intercept() Coefficient { return s.Coeffs[0] }

// Terms are the coefficients applied to data columns, in declaration order.
func (s *Spec) Terms() []Coefficient { return s.Coeffs[1:] }

// Column names the data column a coefficient applies to. With an empty field
// map the coefficient name is the column name; otherwise the coefficient must
// be mapped.
func (s *Spec) Column(coeff string) (string, error) {
	if len(s.FieldMap) == 0 {
		return coeff, nil
	}
	col, ok := s.FieldMap[coeff]
	if !ok {
		return "", &errs.ConfigError{File: s.File, Fields: []string{"field_map." + coeff}, Err: errors.New("coefficient has no field mapping")}
	}
	return col, nil
}
