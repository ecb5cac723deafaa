package main

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/delver/pkg/config"
)

// SchemaCmd prints the JSON schema of the configuration file, for editor
// integration and validation tooling.
type SchemaCmd struct {
	Indent bool `help:"Pretty-print the schema." default:"true"`
}

func (c *SchemaCmd) Run() error {
	reflector := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: false,
	}
	schema := reflector.Reflect(&config.Config{})
	schema.Title = "Delver Configuration"
	schema.Description = "Configuration schema for the delver deep-research runtime."

	var raw []byte
	var err error
	if c.Indent {
		raw, err = json.MarshalIndent(schema, "", "  ")
	} else {
		raw, err = json.Marshal(schema)
	}
	if err != nil {
		return err
	}

	fmt.Println(string(raw))
	return nil
}
