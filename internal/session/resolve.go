package session

import (
	"os"

	"github.com/matheus3301/paperchat/internal/config"
)

const DefaultSessionName = "main"

// Resolve picks the active session name: the --session flag, then
// PAPERCHAT_SESSION, then default_session from config.toml or its .env, then
// "main". An unreadable config falls through to the default.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if name := os.Getenv(config.EnvPrefix + "SESSION"); name != "" {
		return name
	}
	if cfg, err := config.Resolve(ConfigPath()); err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
