/*
Package dsl provides a Go DSL for building weave graphs in code.

It is the type-checked alternative to YAML or JSON graph files and is handy
for tests and generated workflows.

Example usage:

	b := dsl.New("greeting", "1")

	b.Add("hello").
		Const(map[string]any{"greeting": "hi"}).
		Go("shout")

	b.Add("shout").
		Script(`package script
	func Run(in, state map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"loud": in["greeting"]}, nil
	}`).
		Input("greeting", true)

	g, err := b.Build()
	// ... pass g to weave.Engine.Publish
*/
package dsl
