// Package config holds the settings shared by the sipkit packages. There is
// no global instance. A Config is built once, near main(), and passed into
// the constructors that need it.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config collects the naming scheme and endpoint settings for one
// installation. The zero value is not usable; start from Default().
type Config struct {
	// BaseURI is the root under which description and event URIs are
	// minted, e.g. "https://data.razu.nl/".
	BaseURI string `toml:"base_uri"`

	// FilePrefix is the fixed leading component of every generated
	// filename and UID, e.g. "NL-WbDRAZU".
	FilePrefix string `toml:"file_prefix"`

	// MetadataSuffix and MetadataExt form the tail of metadata resource
	// filenames: "<uid>.<suffix>.<ext>".
	MetadataSuffix string `toml:"metadata_suffix"`
	MetadataExt    string `toml:"metadata_ext"`

	// StorageHostSuffix is the domain under which per-creator storage
	// hosts live, e.g. "opslag.razu.nl".
	StorageHostSuffix string `toml:"storage_host_suffix"`

	// SparqlEndpointPrefix and SparqlEndpointSuffix bracket a vocabulary
	// name to form the SPARQL endpoint used for concept lookups.
	SparqlEndpointPrefix string `toml:"sparql_endpoint_prefix"`
	SparqlEndpointSuffix string `toml:"sparql_endpoint_suffix"`

	// SentryDSN enables error reporting when set.
	SentryDSN string `toml:"sentry_dsn"`

	Storage Storage `toml:"storage"`
}

// Storage holds the credentials for the S3-compatible object store that
// finished packages are pushed to.
type Storage struct {
	Endpoint  string `toml:"endpoint"`
	Region    string `toml:"region"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

// Default returns the configuration used by the RAZU e-depot. Installations
// with a different naming scheme override the relevant fields.
func Default() Config {
	return Config{
		BaseURI:              "https://data.razu.nl/",
		FilePrefix:           "NL-WbDRAZU",
		MetadataSuffix:       "meta",
		MetadataExt:          "json",
		StorageHostSuffix:    "opslag.razu.nl",
		SparqlEndpointPrefix: "https://api.data.razu.nl/datasets/id/",
		SparqlEndpointSuffix: "/sparql",
		Storage: Storage{
			Region: "us-east-1",
		},
	}
}

// Load reads a TOML file over the defaults. Fields absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	c := Default()
	_, err := toml.DecodeFile(path, &c)
	if err != nil {
		return c, errors.Wrapf(err, "config %s", path)
	}
	return c, nil
}
