package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

// Loader reads a settings file and overlays environment variables.
//
// An environment variable PREFIX_SECTION__KEY overrides section.key; the
// file is optional.
type Loader struct {
	File      string
	EnvPrefix string
	Defaults  map[string]interface{}
}

// Load decodes the merged settings into out, which must be a pointer to a
// struct with mapstructure tags.
//
// Parameters:
//   - out: pointer to the settings struct; its mapstructure keys are bound to
//     the environment so overrides apply even when neither the file nor the
//     defaults mention the key
//
// Returns an error when the file exists but cannot be parsed, or when the
// merged values do not decode into out.
//
// Example:
//
//	var s Settings
//	err := settings.Loader{File: "relay.toml", EnvPrefix: "RELAY"}.Load(&s)
func (l Loader) Load(out interface{}) error {
	v := viper.New()

	for key, value := range l.Defaults {
		v.SetDefault(key, value)
	}

	if l.File != "" {
		v.SetConfigFile(l.File)
		if err := v.ReadInConfig(); err != nil && !isMissingFile(err) {
			return fmt.Errorf("read settings file %q: %w", l.File, err)
		}
	}

	if l.EnvPrefix != "" {
		v.SetEnvPrefix(l.EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
		v.AutomaticEnv()
		for _, key := range settingKeys(reflect.TypeOf(out), "") {
			if err := v.BindEnv(key); err != nil {
				return fmt.Errorf("bind %q: %w", key, err)
			}
		}
	}

	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return nil
}

func isMissingFile(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}
