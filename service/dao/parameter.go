package dao

// Parameter is a named equality filter applied by List. Value holds either a
// single string or a []string of alternatives.
type Parameter struct {
	Name  string
	Value interface{}
}

// NewParameter builds a filter matching any of the given values.
func NewParameter(name string, values ...string) *Parameter {
	if len(values) == 1 {
		return &Parameter{Name: name, Value: values[0]}
	}
	return &Parameter{Name: name, Value: values}
}
