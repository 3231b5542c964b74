package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"` // auto, json, text
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName   string              `yaml:"runtime_name"`
	Environment   string              `yaml:"environment"`
	HTTP          HTTPConfig          `yaml:"http"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Storage       StorageConfig       `yaml:"storage"`
	Capture       CaptureConfig       `yaml:"capture"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	EventStore    EventStoreConfig    `yaml:"event_store"`
	Bus           BusConfig           `yaml:"bus"`
}

// StorageConfig locates the flat directory shared by recordings and transcripts.
type StorageConfig struct {
	Directory string `yaml:"directory"`
	Extension string `yaml:"extension"`
	Watch     bool   `yaml:"watch"`
}

// CaptureConfig describes the capture process. The audio profile is fixed by
// the hardware input; the fields exist so the defaults are visible in one place.
type CaptureConfig struct {
	Command       string `yaml:"command"`
	Device        string `yaml:"device"`
	Format        string `yaml:"format"`
	SampleRate    int    `yaml:"sample_rate"`
	Channels      int    `yaml:"channels"`
	FilePrefix    string `yaml:"file_prefix"`
	StopTimeoutMS int    `yaml:"stop_timeout_ms"`
}

type TranscriptionConfig struct {
	Mode          string `yaml:"mode"` // mock, exec, whisper
	Command       string `yaml:"command"`
	ModelDir      string `yaml:"model_dir"`
	Language      string `yaml:"language"`
	Threads       int    `yaml:"threads"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	TimeoutMS     int    `yaml:"timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-capture",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 5000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			LogFormat:    "auto",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Storage: StorageConfig{
			Directory: "./recordings",
			Extension: ".wav",
		},
		Capture: CaptureConfig{
			Command:       "arecord",
			Device:        "multicapture",
			Format:        "S32_LE",
			SampleRate:    48000,
			Channels:      2,
			FilePrefix:    "manual_recording_",
			StopTimeoutMS: 5000,
		},
		Transcription: TranscriptionConfig{
			Mode:          "mock",
			ModelDir:      "./models",
			Language:      "en",
			MaxConcurrent: 1,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-capture.db",
			RetentionMode: "persistent",
			RetentionDays: 90,
			MaxSessions:   10000,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "LOQA_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Storage.Directory, "LOQA_STORAGE_DIRECTORY")
	overrideString(&cfg.Storage.Extension, "LOQA_STORAGE_EXTENSION")
	overrideBool(&cfg.Storage.Watch, "LOQA_STORAGE_WATCH")
	overrideString(&cfg.Capture.Command, "LOQA_CAPTURE_COMMAND")
	overrideString(&cfg.Capture.Device, "LOQA_CAPTURE_DEVICE")
	overrideString(&cfg.Capture.FilePrefix, "LOQA_CAPTURE_FILE_PREFIX")
	overrideInt(&cfg.Capture.StopTimeoutMS, "LOQA_CAPTURE_STOP_TIMEOUT_MS")
	overrideString(&cfg.Transcription.Mode, "LOQA_TRANSCRIPTION_MODE")
	overrideString(&cfg.Transcription.Command, "LOQA_TRANSCRIPTION_COMMAND")
	overrideString(&cfg.Transcription.ModelDir, "LOQA_TRANSCRIPTION_MODEL_DIR")
	overrideString(&cfg.Transcription.Language, "LOQA_TRANSCRIPTION_LANGUAGE")
	overrideInt(&cfg.Transcription.Threads, "LOQA_TRANSCRIPTION_THREADS")
	overrideInt(&cfg.Transcription.MaxConcurrent, "LOQA_TRANSCRIPTION_MAX_CONCURRENT")
	overrideInt(&cfg.Transcription.TimeoutMS, "LOQA_TRANSCRIPTION_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Telemetry.LogFormat {
	case "auto", "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of auto|json|text")
	}
	if cfg.Storage.Directory == "" {
		return errors.New("storage.directory must not be empty")
	}
	if !strings.HasPrefix(cfg.Storage.Extension, ".") || len(cfg.Storage.Extension) < 2 {
		return errors.New("storage.extension must start with a dot")
	}
	if strings.TrimSpace(cfg.Capture.Command) == "" {
		return errors.New("capture.command must not be empty")
	}
	if cfg.Capture.Device == "" {
		return errors.New("capture.device must not be empty")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	if cfg.Capture.StopTimeoutMS <= 0 {
		return errors.New("capture.stop_timeout_ms must be positive")
	}
	switch cfg.Transcription.Mode {
	case "mock", "exec", "whisper":
	default:
		return errors.New("transcription.mode must be one of mock|exec|whisper")
	}
	if cfg.Transcription.Mode == "exec" && strings.TrimSpace(cfg.Transcription.Command) == "" {
		return errors.New("transcription.command must be set when mode=exec")
	}
	if cfg.Transcription.Mode == "whisper" && cfg.Transcription.ModelDir == "" {
		return errors.New("transcription.model_dir must be set when mode=whisper")
	}
	if cfg.Transcription.MaxConcurrent <= 0 {
		return errors.New("transcription.max_concurrent must be >= 1")
	}
	if cfg.Transcription.Threads < 0 || cfg.Transcription.TimeoutMS < 0 {
		return errors.New("transcription.threads and transcription.timeout_ms must be >= 0")
	}
	if cfg.EventStore.Path == "" && cfg.EventStore.RetentionMode != "ephemeral" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	return nil
}
