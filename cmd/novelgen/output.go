package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// outputFormatKind is the resolved --output flag value a command's result is
// rendered with.
type outputFormatKind string

const (
	outputYAML outputFormatKind = "yaml"
	outputJSON outputFormatKind = "json"
)

var globalOutputFormat = outputYAML

// setOutputFormat sets the global output format from the --output flag's raw
// string value, falling back to YAML for anything unrecognized.
func setOutputFormat(format string) {
	switch format {
	case "json":
		globalOutputFormat = outputJSON
	default:
		globalOutputFormat = outputYAML
	}
}

// printResult writes v to stdout in the configured format.
func printResult(v any) error {
	return writeResult(os.Stdout, globalOutputFormat, v)
}

func writeResult(w io.Writer, format outputFormatKind, v any) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
