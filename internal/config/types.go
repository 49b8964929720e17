package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	HTTP     HTTPConfig     `json:"http"`
	Catalog  CatalogConfig  `json:"catalog"`
	Storage  *StorageConfig `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminUserIDs grants the administrative commands (/chats,
	// /removecollection, /resetcache) and receives staleness alerts.
	AdminUserIDs []int64 `json:"admin_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the snapshot ingest API.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:3003"
	// AllowOrigin is the CORS origin allowed to call the API. Empty disables
	// the CORS headers entirely.
	AllowOrigin string `json:"allow_origin,omitempty"`

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// CatalogConfig tunes change detection and notification behavior.
//
// All durations are Go duration strings (e.g. "2m", "1h").
type CatalogConfig struct {
	// AppURL is the web-app base for open-collection buttons.
	AppURL string `json:"app_url"`

	// ReminderInterval is the cadence of unacknowledged-announcement
	// reminders. Default "2m".
	ReminderInterval string `json:"reminder_interval,omitempty"`

	// AnnounceRatePerSec caps outgoing messages per second. Default 2.
	AnnounceRatePerSec float64 `json:"announce_rate_per_sec,omitempty"`
	// AnnounceDelay spaces consecutive announcements to one chat.
	// Default "1500ms".
	AnnounceDelay string `json:"announce_delay,omitempty"`

	// StaleAfter is how long without a snapshot counts as stale. Default "1h".
	StaleAfter string `json:"stale_after,omitempty"`
	// CheckEvery is the staleness poll cadence. Default "5m".
	CheckEvery string `json:"check_every,omitempty"`

	// PageSize controls /collections pagination. Default 5.
	PageSize int `json:"page_size,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./stickerbot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
