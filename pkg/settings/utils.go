package settings

import (
	"os"
	"reflect"
	"strings"
)

// FileFromArgs returns args[1], or DefaultSettingsFile when absent.
func FileFromArgs(args []string) string {
	if len(args) > 1 && args[1] != "" {
		return args[1]
	}
	return DefaultSettingsFile
}

// ResolveRuntime reads PORT and APP_ENV through lookup. Pass os.LookupEnv
// from main.
func ResolveRuntime(lookup func(string) (string, bool)) Runtime {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	rt := Runtime{Port: DefaultPort, AppEnv: "development"}
	if port, ok := lookup("PORT"); ok && port != "" {
		rt.Port = port
	}
	if env, ok := lookup("APP_ENV"); ok && env != "" {
		rt.AppEnv = env
	}
	return rt
}

// settingKeys lists the dotted leaf keys viper decodes into t, following
// mapstructure tags. Nested structs become sections; slices, maps and
// scalars are leaves.
func settingKeys(t reflect.Type, prefix string) []string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}

	var keys []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "-" {
			continue
		}
		if strings.Contains(opts, "squash") {
			keys = append(keys, settingKeys(field.Type, prefix)...)
			continue
		}
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		key := prefix + name

		ft := field.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct {
			keys = append(keys, settingKeys(ft, key+".")...)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}
