package config

import (
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the prefix of environment variables overriding config
// file values, e.g. TRUST_AUTH_JWTSECRET.
const EnvPrefix = "TRUST"

// Load reads the yaml file at path into config and applies environment
// overrides on top of it.
func Load(path string, config interface{}) error {
	if path == "" {
		return errors.New("please setup the config file path")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "fail to open config file")
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return errors.Wrap(err, "fail to decode config file")
	}

	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return errors.Wrap(err, "fail to apply environment overrides")
	}

	return nil
}
