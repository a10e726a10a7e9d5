package gcp

import (
	"google.golang.org/api/option"
)

// ClientOptionsConfiguration contains the options that may be used to
// connect to GCP services.
type ClientOptionsConfiguration struct {
	// Path of a service account key file. When empty, Application
	// Default Credentials are used.
	CredentialsFile string `json:"credentialsFile,omitempty"`
	// Alternative endpoint, e.g. for an emulator.
	Endpoint string `json:"endpoint,omitempty"`
	// Don't authenticate at all. Only useful against emulators.
	WithoutAuthentication bool `json:"withoutAuthentication,omitempty"`
}

// NewClientOptionsFromConfiguration creates a list of Google Cloud SDK
// client options based on options specified in a configuration
// message. The resulting client options can be used to access GCP
// services such as GCS.
func NewClientOptionsFromConfiguration(configuration *ClientOptionsConfiguration) []option.ClientOption {
	var options []option.ClientOption
	if configuration == nil {
		return options
	}
	if configuration.CredentialsFile != "" {
		options = append(options, option.WithCredentialsFile(configuration.CredentialsFile))
	}
	if configuration.Endpoint != "" {
		options = append(options, option.WithEndpoint(configuration.Endpoint))
	}
	if configuration.WithoutAuthentication {
		options = append(options, option.WithoutAuthentication())
	}
	return options
}
