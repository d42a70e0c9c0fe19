package criteria

import (
	"github.com/viant/nexus/service/dao"
	"github.com/viant/toolbox"
)

// Match reports whether a record field value passes an optional single
// equality parameter with the given name; unnamed or unknown parameters do
// not filter.
func Match(field, value string, parameters []*dao.Parameter) bool {
	switch len(parameters) {
	case 0:
		return true
	case 1:
		if parameters[0].Name == field {
			switch actual := parameters[0].Value.(type) {
			case string:
				return value == actual
			case []string:
				for _, s := range actual {
					if value == s {
						return true
					}
				}
				return false
			default:
				return value == toolbox.AsString(actual)
			}
		}
	}
	return true
}
