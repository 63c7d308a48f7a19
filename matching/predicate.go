// Package matching turns a problem pattern into a list of typed predicate
// descriptors and folds them into a single AND-combined SQL condition.
//
// Every populated pattern field yields exactly one predicate; empty strings and
// nil booleans yield none, so an empty pattern matches everything.
package matching

import (
	"fmt"
	"strings"

	"ara/core"
)

// Mode is how a predicate compares its value to the target column.
type Mode int

const (
	// Exact compares for strict equality.
	Exact Mode = iota
	// Prefix anchors the value (a LIKE expression) at the start of the target.
	Prefix
	// Substring matches the value (a LIKE expression) anywhere in the target.
	Substring
	// Bool compares a boolean column.
	Bool
)

func (m Mode) String() string {
	switch m {
	case Exact:
		return "exact"
	case Prefix:
		return "prefix"
	case Substring:
		return "substring"
	case Bool:
		return "bool"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Field is a pattern attribute that can be constrained.
type Field string

const (
	FieldFeatureFile    Field = "featureFile"
	FieldFeatureName    Field = "featureName"
	FieldScenarioName   Field = "scenarioName"
	FieldStep           Field = "step"
	FieldStepDefinition Field = "stepDefinition"
	FieldException      Field = "exception"
	FieldRelease        Field = "release"
	FieldCountry        Field = "country"
	FieldType           Field = "type"
	FieldTypeIsBrowser  Field = "typeIsBrowser"
	FieldTypeIsMobile   Field = "typeIsMobile"
	FieldPlatform       Field = "platform"
)

// Predicate is one optional constraint of a pattern.
type Predicate struct {
	Field Field
	Mode  Mode
	Value any
}

type descriptor struct {
	field Field
	build func(p *core.ProblemPattern) (Predicate, bool)
}

func text(field Field, value func(*core.ProblemPattern) string, startsWith func(*core.ProblemPattern) bool) descriptor {
	return descriptor{field: field, build: func(p *core.ProblemPattern) (Predicate, bool) {
		v := value(p)
		if v == "" {
			return Predicate{}, false
		}
		mode := Exact
		if startsWith != nil && startsWith(p) {
			mode = Prefix
		}
		return Predicate{Field: field, Mode: mode, Value: v}, true
	}}
}

func flag(field Field, value func(*core.ProblemPattern) *bool) descriptor {
	return descriptor{field: field, build: func(p *core.ProblemPattern) (Predicate, bool) {
		v := value(p)
		if v == nil {
			return Predicate{}, false
		}
		return Predicate{Field: field, Mode: Bool, Value: *v}, true
	}}
}

// descriptors lists every constrainable field in a fixed order.
var descriptors = []descriptor{
	text(FieldFeatureFile, func(p *core.ProblemPattern) string { return p.FeatureFile }, nil),
	text(FieldFeatureName, func(p *core.ProblemPattern) string { return p.FeatureName }, nil),
	text(FieldScenarioName,
		func(p *core.ProblemPattern) string { return p.ScenarioName },
		func(p *core.ProblemPattern) bool { return p.ScenarioNameStartsWith }),
	text(FieldStep,
		func(p *core.ProblemPattern) string { return p.Step },
		func(p *core.ProblemPattern) bool { return p.StepStartsWith }),
	text(FieldStepDefinition,
		func(p *core.ProblemPattern) string { return p.StepDefinition },
		func(p *core.ProblemPattern) bool { return p.StepDefinitionStartsWith }),
	{field: FieldException, build: func(p *core.ProblemPattern) (Predicate, bool) {
		if p.Exception == "" {
			return Predicate{}, false
		}
		return Predicate{Field: FieldException, Mode: Substring, Value: p.Exception}, true
	}},
	text(FieldRelease, func(p *core.ProblemPattern) string { return p.Release }, nil),
	text(FieldCountry, func(p *core.ProblemPattern) string { return p.CountryCode }, nil),
	text(FieldType, func(p *core.ProblemPattern) string { return p.TypeCode }, nil),
	flag(FieldTypeIsBrowser, func(p *core.ProblemPattern) *bool { return p.TypeIsBrowser }),
	flag(FieldTypeIsMobile, func(p *core.ProblemPattern) *bool { return p.TypeIsMobile }),
	text(FieldPlatform, func(p *core.ProblemPattern) string { return p.Platform }, nil),
}

// FromPattern returns the predicates of every populated field of p.
func FromPattern(p *core.ProblemPattern) []Predicate {
	if p == nil {
		return nil
	}
	var predicates []Predicate
	for _, d := range descriptors {
		if predicate, ok := d.build(p); ok {
			predicates = append(predicates, predicate)
		}
	}
	return predicates
}

// Columns maps each field to the SQL expression it is compared against.
type Columns map[Field]string

// Fold combines predicates with AND into one SQL condition and its positional arguments.
// An empty predicate list folds to a condition that is always true.
func Fold(predicates []Predicate, columns Columns) (string, []any, error) {
	if len(predicates) == 0 {
		return "1 = 1", nil, nil
	}

	clauses := make([]string, 0, len(predicates))
	args := make([]any, 0, len(predicates))
	for _, p := range predicates {
		column, ok := columns[p.Field]
		if !ok {
			return "", nil, fmt.Errorf("no column mapped for field %q", p.Field)
		}
		clause, arg, err := render(column, p)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, arg)
	}
	return strings.Join(clauses, " AND "), args, nil
}

func render(column string, p Predicate) (string, any, error) {
	switch p.Mode {
	case Exact:
		return column + " = ?", p.Value, nil
	case Prefix:
		s, ok := p.Value.(string)
		if !ok {
			return "", nil, fmt.Errorf("field %q: prefix value must be a string", p.Field)
		}
		return column + " LIKE ?", s + "%", nil
	case Substring:
		s, ok := p.Value.(string)
		if !ok {
			return "", nil, fmt.Errorf("field %q: substring value must be a string", p.Field)
		}
		return column + " LIKE ?", "%" + s + "%", nil
	case Bool:
		b, ok := p.Value.(bool)
		if !ok {
			return "", nil, fmt.Errorf("field %q: bool value must be a boolean", p.Field)
		}
		// SQLite stores booleans as integers
		if b {
			return column + " = ?", 1, nil
		}
		return column + " = ?", 0, nil
	default:
		return "", nil, fmt.Errorf("field %q: unsupported mode %s", p.Field, p.Mode)
	}
}
