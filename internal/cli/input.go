package cli

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// decodeInputFile reads a YAML or JSON registration file into v. Unknown
// fields are rejected so a misspelled key is not silently dropped.
func decodeInputFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read input file", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to parse %s", path), err)
	}
	return nil
}
