package config

import (
	"fmt"
	"math/big"
	"os"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/stackforge/stackctl/pkg/errors"
)

// UnitFile is the deployment unit filename.
const UnitFile = "deploy.hcl"

// Dependency is one dependency declaration in a deployment unit.
type Dependency struct {
	// Producer is the depended-on module's path, from the block label.
	Producer string

	// Environment names the producer's environment when it differs from
	// the consumer's. Left empty for same-environment dependencies (the
	// graph rejects anything else).
	Environment string

	// Outputs lists the producer outputs this unit consumes.
	Outputs []string

	// MockOutputs are placeholder values used when the producer is not
	// applied.
	MockOutputs map[string]interface{}

	// MockAllowedOperations lists the operations that may consume the
	// placeholders.
	MockAllowedOperations []string

	// MergeWithState prefers the producer's prior recorded values over the
	// placeholders when present.
	MergeWithState bool
}

// Unit is a parsed deployment unit.
type Unit struct {
	// Source is the shared module library root this unit references, if
	// any. Relative to the unit's directory.
	Source string

	// Inputs are the declared input values.
	Inputs map[string]interface{}

	// Dependencies in declaration order.
	Dependencies []Dependency
}

// ParseUnit parses a deploy.hcl file.
func ParseUnit(path string) (*Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read unit: %w", err)
	}
	return ParseUnitBytes(data, path)
}

// ParseUnitBytes parses a deployment unit from raw bytes.
func ParseUnitBytes(data []byte, filename string) (*Unit, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, errors.ParseError(filename, fmt.Errorf("%s", diags.Error()))
	}

	bodySchema := &hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "source"},
			{Name: "inputs"},
		},
		Blocks: []hcl.BlockHeaderSchema{
			{Type: "dependency", LabelNames: []string{"name"}},
		},
	}

	content, moreDiags := file.Body.Content(bodySchema)
	diags = append(diags, moreDiags...)
	if diags.HasErrors() {
		return nil, errors.ParseError(filename, fmt.Errorf("%s", diags.Error()))
	}

	unit := &Unit{}

	if attr, ok := content.Attributes["source"]; ok {
		val, valDiags := attr.Expr.Value(nil)
		if valDiags.HasErrors() {
			return nil, errors.ParseError(filename, fmt.Errorf("source: %s", valDiags.Error()))
		}
		unit.Source = val.AsString()
	}

	if attr, ok := content.Attributes["inputs"]; ok {
		inputs, err := evalObject(attr.Expr, "inputs")
		if err != nil {
			return nil, errors.ParseError(filename, err)
		}
		unit.Inputs = inputs
	}

	for _, block := range content.Blocks.OfType("dependency") {
		dep, err := parseDependency(block)
		if err != nil {
			return nil, errors.ParseError(filename, err)
		}
		unit.Dependencies = append(unit.Dependencies, *dep)
	}

	seen := make(map[string]bool)
	for _, dep := range unit.Dependencies {
		if seen[dep.Producer] {
			return nil, errors.ParseError(filename, fmt.Errorf("dependency %q declared twice", dep.Producer))
		}
		seen[dep.Producer] = true
	}

	return unit, nil
}

func parseDependency(block *hcl.Block) (*Dependency, error) {
	depSchema := &hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "environment"},
			{Name: "outputs"},
			{Name: "mock_outputs"},
			{Name: "mock_outputs_allowed_operations"},
			{Name: "mock_outputs_merge_with_state"},
		},
	}

	content, diags := block.Body.Content(depSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("dependency %q: %s", block.Labels[0], diags.Error())
	}

	dep := &Dependency{Producer: block.Labels[0]}

	if attr, ok := content.Attributes["environment"]; ok {
		val, valDiags := attr.Expr.Value(nil)
		if valDiags.HasErrors() {
			return nil, fmt.Errorf("dependency %q environment: %s", dep.Producer, valDiags.Error())
		}
		dep.Environment = val.AsString()
	}

	if attr, ok := content.Attributes["outputs"]; ok {
		names, err := evalStringList(attr.Expr, "outputs")
		if err != nil {
			return nil, fmt.Errorf("dependency %q: %w", dep.Producer, err)
		}
		dep.Outputs = names
	}

	if attr, ok := content.Attributes["mock_outputs"]; ok {
		mocks, err := evalObject(attr.Expr, "mock_outputs")
		if err != nil {
			return nil, fmt.Errorf("dependency %q: %w", dep.Producer, err)
		}
		dep.MockOutputs = mocks
	}

	if attr, ok := content.Attributes["mock_outputs_allowed_operations"]; ok {
		ops, err := evalStringList(attr.Expr, "mock_outputs_allowed_operations")
		if err != nil {
			return nil, fmt.Errorf("dependency %q: %w", dep.Producer, err)
		}
		dep.MockAllowedOperations = ops
	}

	if attr, ok := content.Attributes["mock_outputs_merge_with_state"]; ok {
		val, valDiags := attr.Expr.Value(nil)
		if valDiags.HasErrors() {
			return nil, fmt.Errorf("dependency %q merge_with_state: %s", dep.Producer, valDiags.Error())
		}
		dep.MergeWithState = val.True()
	}

	// Consuming no named outputs is still a valid ordering-only dependency.
	if len(dep.Outputs) == 0 {
		for name := range dep.MockOutputs {
			dep.Outputs = append(dep.Outputs, name)
		}
		sort.Strings(dep.Outputs)
	}

	return dep, nil
}

func evalObject(expr hcl.Expression, name string) (map[string]interface{}, error) {
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%s: %s", name, diags.Error())
	}
	if !val.Type().IsObjectType() && !val.Type().IsMapType() {
		return nil, fmt.Errorf("%s must be an object, got %s", name, val.Type().FriendlyName())
	}

	result := make(map[string]interface{})
	for k, v := range val.AsValueMap() {
		result[k] = fromCtyValue(v)
	}
	return result, nil
}

func evalStringList(expr hcl.Expression, name string) ([]string, error) {
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%s: %s", name, diags.Error())
	}
	if !val.CanIterateElements() {
		return nil, fmt.Errorf("%s must be a list of strings, got %s", name, val.Type().FriendlyName())
	}

	var result []string
	for it := val.ElementIterator(); it.Next(); {
		_, elem := it.Element()
		if elem.Type() != cty.String {
			return nil, fmt.Errorf("%s must be a list of strings, got %s element", name, elem.Type().FriendlyName())
		}
		result = append(result, elem.AsString())
	}
	return result, nil
}

// fromCtyValue converts an evaluated cty value into plain Go values.
func fromCtyValue(val cty.Value) interface{} {
	if val.IsNull() || !val.IsKnown() {
		return nil
	}

	ty := val.Type()
	switch {
	case ty == cty.String:
		return val.AsString()
	case ty == cty.Bool:
		return val.True()
	case ty == cty.Number:
		bf := val.AsBigFloat()
		if i, acc := bf.Int64(); acc == big.Exact {
			return i
		}
		f, _ := bf.Float64()
		return f
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		var list []interface{}
		for it := val.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			list = append(list, fromCtyValue(elem))
		}
		return list
	case ty.IsObjectType() || ty.IsMapType():
		obj := make(map[string]interface{})
		for k, v := range val.AsValueMap() {
			obj[k] = fromCtyValue(v)
		}
		return obj
	default:
		return nil
	}
}
