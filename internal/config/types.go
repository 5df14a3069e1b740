package config

type Config struct {
	// Timezone is the fixed IANA zone all cron triggers fire in, e.g. "Asia/Seoul".
	Timezone string `json:"timezone,omitempty"`

	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notify    NotifyConfig    `json:"notify"`
	Providers ProvidersConfig `json:"providers,omitempty"`
	HTTP      HTTPConfig      `json:"http,omitempty"`
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

// StorageConfig controls the SQLite persistence layer.
//
// Example:
//
//	"storage": { "path": "./data/assistant.db" }
type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (e.g. "5s").
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the job execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 64
//   - max_instances: 3
//   - default_timeout: "30s"
type SchedulerConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// MaxInstances caps concurrent executions of a single job id.
	MaxInstances int `json:"max_instances,omitempty"`

	// DefaultTimeout applies per job execution. Use "0s" to disable.
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

// NotifyConfig holds delivery channel credentials.
type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Kakao    KakaoConfig    `json:"kakao"`
	// RatePerSec limits outbound sends across all channels.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type KakaoConfig struct {
	// APIBase overrides the Kakao API endpoint (tests); default https://kapi.kakao.com.
	APIBase string `json:"api_base,omitempty"`
}

// ProvidersConfig holds data-source credentials and knobs.
type ProvidersConfig struct {
	Weather  WeatherProviderConfig  `json:"weather,omitempty"`
	Market   MarketProviderConfig   `json:"market,omitempty"`
	Calendar CalendarProviderConfig `json:"calendar,omitempty"`
}

type WeatherProviderConfig struct {
	APIKey string `json:"api_key,omitempty"`
	City   string `json:"city,omitempty"`
}

type MarketProviderConfig struct {
	APIBase string `json:"api_base,omitempty"`
}

type CalendarProviderConfig struct {
	APIBase string `json:"api_base,omitempty"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
}
