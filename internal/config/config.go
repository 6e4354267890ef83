package config

import (
	"io/ioutil"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is an optional section/option source. A nil *Config behaves like an
// empty one, so callers don't have to guard every lookup.
type Config struct {
	sections map[string]map[string]interface{}
}

func Empty() *Config {
	return &Config{sections: make(map[string]map[string]interface{})}
}

// Load reads a YAML mapping of sections to options. A missing file is not an
// error since the configuration source is optional.
func Load(path string) (*Config, error) {
	if path == "" {
		return Empty(), nil
	}

	raw, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return Empty(), nil
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "read configuration file '%s'", path)
	}

	sections := make(map[string]map[string]interface{})
	if err := yaml.Unmarshal(raw, &sections); err != nil {
		return nil, errors.WithMessagef(err, "parse configuration file '%s'", path)
	}

	return &Config{sections: sections}, nil
}

func (c *Config) HasSection(section string) bool {
	if c == nil {
		return false
	}
	_, found := c.sections[section]
	return found
}

func (c *Config) HasOption(section, option string) bool {
	if c == nil {
		return false
	}
	options, found := c.sections[section]
	if !found {
		return false
	}
	_, found = options[option]
	return found
}

func (c *Config) GetString(section, option string) (string, error) {
	value, err := c.value(section, option)
	if err != nil {
		return "", err
	}

	stringValue, ok := value.(string)
	if !ok {
		return "", errInvalidOptionType(section, option, value, "string")
	}
	return stringValue, nil
}

func (c *Config) GetInt(section, option string) (int, error) {
	value, err := c.value(section, option)
	if err != nil {
		return 0, err
	}

	switch typed := value.(type) {
	case int:
		return typed, nil
	case string:
		parsed, err := strconv.Atoi(typed)
		if err != nil {
			return 0, errInvalidOptionType(section, option, value, "integer")
		}
		return parsed, nil
	default:
		return 0, errInvalidOptionType(section, option, value, "integer")
	}
}

func (c *Config) GetFloat(section, option string) (float64, error) {
	value, err := c.value(section, option)
	if err != nil {
		return 0, err
	}

	switch typed := value.(type) {
	case float64:
		return typed, nil
	case int:
		return float64(typed), nil
	case string:
		parsed, err := strconv.ParseFloat(typed, 64)
		if err != nil {
			return 0, errInvalidOptionType(section, option, value, "number")
		}
		return parsed, nil
	default:
		return 0, errInvalidOptionType(section, option, value, "number")
	}
}

func (c *Config) GetBool(section, option string) (bool, error) {
	value, err := c.value(section, option)
	if err != nil {
		return false, err
	}

	switch typed := value.(type) {
	case bool:
		return typed, nil
	case string:
		parsed, err := strconv.ParseBool(typed)
		if err != nil {
			return false, errInvalidOptionType(section, option, value, "boolean")
		}
		return parsed, nil
	default:
		return false, errInvalidOptionType(section, option, value, "boolean")
	}
}

func (c *Config) value(section, option string) (interface{}, error) {
	if c == nil {
		return nil, errors.Errorf("option '%s.%s' is not set", section, option)
	}

	options, found := c.sections[section]
	if !found {
		return nil, errors.Errorf("section '%s' is not set", section)
	}

	value, found := options[option]
	if !found {
		return nil, errors.Errorf("option '%s.%s' is not set", section, option)
	}
	return value, nil
}

func errInvalidOptionType(section, option string, value interface{}, expected string) error {
	return errors.Errorf("option '%s.%s' has value '%v', expected a %s", section, option, value, expected)
}
