package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnv overrides cfg with DUCKER_* environment variables. Unset or
// malformed values leave the current setting alone.
func ApplyEnv(cfg *Config) {
	if v := getEnv("DUCKER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v, ok := getEnvBool("DUCKER_DEV_STATIC"); ok {
		cfg.Server.UseDiskStatic = v
	}
	if v := getEnv("DUCKER_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
	if v := getEnv("DUCKER_BACKEND"); v != "" {
		cfg.Storage.Backend = strings.ToLower(v)
	}
	if v := getEnv("DUCKER_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := getEnv("DUCKER_REMOTE_URL"); v != "" {
		cfg.Storage.RemoteURL = v
	}
	if v := getEnv("DUCKER_REMOTE_TOKEN"); v != "" {
		cfg.Storage.RemoteToken = v
	}
	if v, ok := getEnvBool("DUCKER_WATCH"); ok {
		cfg.Storage.Watch = v
	}
	if v := getEnv("DUCKER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := getEnv("DUCKER_LOG_FORMAT"); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}
	if d := getEnvDuration("DUCKER_HEARTBEAT"); d > 0 {
		cfg.Sync.Heartbeat = d
	}
	if d := getEnvDuration("DUCKER_RECONNECT"); d > 0 {
		cfg.Sync.Reconnect = d
	}
	if val := getEnvInt("DUCKER_TELEMETRY_LIMIT"); val > 0 {
		cfg.Telemetry.Limit = val
	}
}

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func getEnvInt(key string) int {
	val := getEnv(key)
	if val == "" {
		return 0
	}
	num, err := strconv.Atoi(val)
	if err != nil {
		return 0
	}
	return num
}

func getEnvBool(key string) (bool, bool) {
	switch strings.ToLower(getEnv(key)) {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	default:
		return false, false
	}
}

func getEnvDuration(key string) time.Duration {
	val := getEnv(key)
	if val == "" {
		return 0
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0
	}
	return d
}
