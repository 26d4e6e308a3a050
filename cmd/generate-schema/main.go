// Command generate-schema writes the JSON schema of the DittoSync config file,
// for editor completion and CI validation of deployed configs.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/dittosync/pkg/config"
	"github.com/spf13/pflag"
)

func main() {
	output := pflag.StringP("output", "o", "config.schema.json", "File to write the schema to")
	pflag.Parse()

	// Config keys are the mapstructure names viper decodes, not Go field names
	reflector := jsonschema.Reflector{
		FieldNameTag:              "mapstructure",
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "DittoSync Configuration"
	schema.Description = "Configuration schema for the DittoSync provider and requester"
	schema.Version = "1.0.0"

	schema.Comments = "Durations use Go syntax, e.g. 30s or 5m. Store sections are free-form maps."

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling schema: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*output, schemaJSON, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing schema file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("JSON schema written to %s\n", *output)
}
