package util

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/google/go-jsonnet"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// EvaluateJsonnet evaluates a Jsonnet snippet and returns the resulting
// JSON document. All environment variables of the current process are
// available through std.extVar().
func EvaluateJsonnet(filename, snippet string) ([]byte, error) {
	vm := jsonnet.MakeVM()
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			return nil, status.Errorf(codes.InvalidArgument, "Invalid environment variable: %#v", env)
		}
		vm.ExtVar(parts[0], parts[1])
	}

	jsonnetOutput, err := vm.EvaluateAnonymousSnippet(filename, snippet)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "Failed to evaluate configuration: %s", err)
	}
	return []byte(jsonnetOutput), nil
}

// UnmarshalConfigurationFromFile reads a Jsonnet file, evaluates it and
// unmarshals the output into a configuration struct. Fields that are
// not part of the struct are rejected, so that typos in configuration
// files don't get silently ignored.
func UnmarshalConfigurationFromFile(path string, configuration any) error {
	// Read configuration file from disk or from stdin.
	var jsonnetInput []byte
	var err error
	if path == "-" {
		jsonnetInput, err = io.ReadAll(os.Stdin)
	} else {
		jsonnetInput, err = os.ReadFile(path)
	}
	if err != nil {
		return StatusWrapf(err, "Failed to read file contents")
	}

	jsonOutput, err := EvaluateJsonnet(path, string(jsonnetInput))
	if err != nil {
		return err
	}
	return UnmarshalConfigurationFromJSON(jsonOutput, configuration)
}

// UnmarshalConfigurationFromJSON decodes an already evaluated
// configuration document.
func UnmarshalConfigurationFromJSON(data []byte, configuration any) error {
	if configuration == nil {
		return status.Error(codes.InvalidArgument, "No configuration message provided")
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(configuration); err != nil {
		return status.Errorf(codes.InvalidArgument, "Failed to unmarshal configuration: %s", err)
	}
	return nil
}
