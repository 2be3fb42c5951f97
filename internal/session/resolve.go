package session

import (
	"errors"

	"github.com/matheus3301/shopchat/internal/config"
)

// ErrNoUser means no identity was given by flag, environment or config.
var ErrNoUser = errors.New("no user id: pass --user, set SHOPCHAT_USER or [user] id in config.toml")

// Resolve determines the acting user using precedence:
// 1. flagOverride (--user flag)
// 2. cfg.User.ID (config.toml, already overridden by SHOPCHAT_USER)
func Resolve(flagOverride string, cfg *config.Config) (string, error) {
	user := flagOverride
	if user == "" && cfg != nil {
		user = cfg.User.ID
	}
	if user == "" {
		return "", ErrNoUser
	}
	if err := ValidateUser(user); err != nil {
		return "", err
	}
	return user, nil
}
