package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the parts of the config that would make the bot unusable
// or silently wrong. It is installed as the Watch validator so bad edits are
// rejected instead of committed.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if _, err := Duration("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}

	for _, f := range []struct{ name, raw string }{
		{"catalog.reminder_interval", c.Catalog.ReminderInterval},
		{"catalog.announce_delay", c.Catalog.AnnounceDelay},
		{"catalog.stale_after", c.Catalog.StaleAfter},
		{"catalog.check_every", c.Catalog.CheckEvery},
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
		{"http.idle_timeout", c.HTTP.IdleTimeout},
	} {
		if _, err := Duration(f.name, f.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Catalog.AnnounceRatePerSec < 0 {
		errs = append(errs, errors.New("catalog.announce_rate_per_sec must be >= 0"))
	}
	if c.Catalog.PageSize < 0 {
		errs = append(errs, errors.New("catalog.page_size must be >= 0"))
	}

	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
		}
		if _, err := Duration("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// IsAdmin reports whether userID is in the admin allowlist.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Telegram.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
