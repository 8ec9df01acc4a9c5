package settings

// DefaultSettingsFile is read when no file is passed on the command line.
const DefaultSettingsFile = "settings.toml"

// DefaultPort is used when PORT is not set.
const DefaultPort = "8080"

// Runtime holds the process environment values consulted at startup. It is
// resolved once and passed into constructors so nothing below main reads the
// environment directly.
type Runtime struct {
	Port   string
	AppEnv string
}
