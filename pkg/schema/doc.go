// Package schema type-checks the values flowing through node ports.
//
// A port declares its type as a string:
//
//	string, int, float, bool, map, any
//	[T]   a list whose elements are all T, e.g. [string] or [[int]]
//
// An empty type accepts anything. Values are checked after JSON round trips,
// so whole-number floats pass as int.
//
//	if err := schema.CheckPorts(def.Inputs, inputs); err != nil {
//	    for _, e := range schema.ValidationErrors(err) {
//	        ...
//	    }
//	}
package schema
