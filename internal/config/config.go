// Package config loads the full runtime configuration surface from
// environment variables (and an optional yaml file) via viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the complete, flat configuration for the backend. Fields map
// 1:1 to the documented environment variables.
type Config struct {
	// Server.
	HTTPAddr  string
	LogLevel  string
	DBDSN     string
	RedisAddr string

	// AI client.
	AIProvider string // mock | ollama
	AIBaseURL  string
	AIModel    string
	AIAPIKey   string

	// Planner (fast).
	PlanDefaultDayStart   string
	PlanDefaultDayEnd     string
	PlanDefaultSlotMins   int
	PlanMaxDays           int
	PlanFastRandomSeed    int64
	PlanFastPoiLimitPerDay int
	PlanFastTransportMode string

	// Planner (deep).
	PlanDeepEnabled         bool
	PlanDeepModel           string
	PlanDeepTemperature     float64
	PlanDeepMaxTokens       int
	PlanDeepTimeoutS        int
	PlanDeepRetries         int
	PlanDeepMaxPois         int
	PlanDeepMaxDays         int
	PlanDeepFallbackToFast  bool
	PlanDeepContextMaxDays  int
	PlanDeepContextMaxChars int
	PlanDeepPromptVersion   string
	PlanDeepOutlineSource   string // fast | llm_outline
	PlanRequireUniquePois   bool

	// Task engine.
	PlanTaskWorkerConcurrency int
	PlanTaskQueueMaxsize      int
	PlanTaskMaxRunningPerUser int
	PlanTaskRetentionDays     int

	// POI service.
	PoiProvider       string // mock | amap
	PoiAPIKey         string
	PoiDefaultRadiusM int
	PoiMaxRadiusM     int
	PoiCacheTTLSecs   int
	PoiCoordPrecision int
	PoiCacheEnabled   bool
	PoiCacheBackend   string // memory | redis
	PoiMinResults     int

	// Assistant / websocket.
	AssistantWSEnabled            bool
	AssistantWSMaxConnsPerUser    int
	AssistantWSIdleTimeoutS       int
	AssistantWSSendQueueMaxsize   int
	AssistantWSMaxMessageChars    int
	AssistantWSRateLimitPerMin    int
	AssistantHistoryMaxRounds     int
	AssistantTurnTimeoutS         int
	AssistantStreamChunkChars     int

	// Memory provider.
	MemoryEnabled     bool
	MemoryPersistPath string // empty keeps the vector store in process memory
	MemoryEmbedModel  string // ollama embedding model; empty uses deterministic local embeddings

	// Geocode.
	GeocodeProvider      string // mock | amap | disabled
	GeocodeAPIKey        string
	GeocodeCacheTTLSecs  int

	// External call bound.
	MaxConcurrentExternal int

	// Admin.
	AdminAPIToken            string
	AdminAllowedIPs          []string
	AdminSQLConsoleEnabled   bool
	AdminSQLConsoleTimeoutMS int
	AdminSQLConsoleMaxRows   int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("db_dsn", "")
	v.SetDefault("redis_addr", "")

	v.SetDefault("ai_provider", "mock")
	v.SetDefault("ai_base_url", "http://127.0.0.1:11434")
	v.SetDefault("ai_model", "qwen2.5:7b")
	v.SetDefault("ai_api_key", "")

	v.SetDefault("plan_default_day_start", "09:00")
	v.SetDefault("plan_default_day_end", "18:00")
	v.SetDefault("plan_default_slot_minutes", 120)
	v.SetDefault("plan_max_days", 14)
	v.SetDefault("plan_fast_random_seed", 42)
	v.SetDefault("plan_fast_poi_limit_per_day", 4)
	v.SetDefault("plan_fast_transport_mode", "walk")

	v.SetDefault("plan_deep_enabled", true)
	v.SetDefault("plan_deep_model", "")
	v.SetDefault("plan_deep_temperature", 0.2)
	v.SetDefault("plan_deep_max_tokens", 1024)
	v.SetDefault("plan_deep_timeout_s", 30)
	v.SetDefault("plan_deep_retries", 1)
	v.SetDefault("plan_deep_max_pois", 12)
	v.SetDefault("plan_deep_max_days", 7)
	v.SetDefault("plan_deep_fallback_to_fast", true)
	v.SetDefault("plan_deep_context_max_days", 3)
	v.SetDefault("plan_deep_context_max_chars", 2000)
	v.SetDefault("plan_deep_prompt_version", "v1")
	v.SetDefault("plan_deep_outline_source", "fast")
	v.SetDefault("plan_require_unique_pois", true)

	v.SetDefault("plan_task_worker_concurrency", 2)
	v.SetDefault("plan_task_queue_maxsize", 64)
	v.SetDefault("plan_task_max_running_per_user", 2)
	v.SetDefault("plan_task_retention_days", 14)

	v.SetDefault("poi_provider", "mock")
	v.SetDefault("poi_api_key", "")
	v.SetDefault("poi_default_radius_m", 1000)
	v.SetDefault("poi_max_radius_m", 5000)
	v.SetDefault("poi_cache_ttl_seconds", 300)
	v.SetDefault("poi_coord_precision", 4)
	v.SetDefault("poi_cache_enabled", true)
	v.SetDefault("poi_cache_backend", "memory")
	v.SetDefault("poi_min_results", 3)

	v.SetDefault("assistant_ws_enabled", true)
	v.SetDefault("assistant_ws_max_connections_per_user", 3)
	v.SetDefault("assistant_ws_idle_timeout_s", 300)
	v.SetDefault("assistant_ws_send_queue_maxsize", 64)
	v.SetDefault("assistant_ws_max_message_chars", 4000)
	v.SetDefault("assistant_ws_rate_limit_per_min", 30)
	v.SetDefault("assistant_history_max_rounds", 6)
	v.SetDefault("assistant_turn_timeout_s", 60)
	v.SetDefault("assistant_stream_chunk_chars", 40)

	v.SetDefault("memory_enabled", true)
	v.SetDefault("memory_persist_path", "")
	v.SetDefault("memory_embed_model", "")

	v.SetDefault("geocode_provider", "mock")
	v.SetDefault("geocode_api_key", "")
	v.SetDefault("geocode_cache_ttl_seconds", 3600)

	v.SetDefault("max_concurrent_external", 8)

	v.SetDefault("admin_api_token", "")
	v.SetDefault("admin_allowed_ips", []string{})
	v.SetDefault("admin_sql_console_enabled", false)
	v.SetDefault("admin_sql_console_timeout_ms", 3000)
	v.SetDefault("admin_sql_console_max_rows", 200)
}

// Load reads configuration from the environment (TRAVELIST_ prefix) and an
// optional yaml file.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("travelist")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return fromViper(v), nil
}

// Default returns the built-in defaults without touching the environment.
// Tests build on this and override individual fields.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		HTTPAddr:  v.GetString("http_addr"),
		LogLevel:  v.GetString("log_level"),
		DBDSN:     v.GetString("db_dsn"),
		RedisAddr: v.GetString("redis_addr"),

		AIProvider: v.GetString("ai_provider"),
		AIBaseURL:  v.GetString("ai_base_url"),
		AIModel:    v.GetString("ai_model"),
		AIAPIKey:   v.GetString("ai_api_key"),

		PlanDefaultDayStart:    v.GetString("plan_default_day_start"),
		PlanDefaultDayEnd:      v.GetString("plan_default_day_end"),
		PlanDefaultSlotMins:    v.GetInt("plan_default_slot_minutes"),
		PlanMaxDays:            v.GetInt("plan_max_days"),
		PlanFastRandomSeed:     v.GetInt64("plan_fast_random_seed"),
		PlanFastPoiLimitPerDay: v.GetInt("plan_fast_poi_limit_per_day"),
		PlanFastTransportMode:  v.GetString("plan_fast_transport_mode"),

		PlanDeepEnabled:         v.GetBool("plan_deep_enabled"),
		PlanDeepModel:           v.GetString("plan_deep_model"),
		PlanDeepTemperature:     v.GetFloat64("plan_deep_temperature"),
		PlanDeepMaxTokens:       v.GetInt("plan_deep_max_tokens"),
		PlanDeepTimeoutS:        v.GetInt("plan_deep_timeout_s"),
		PlanDeepRetries:         v.GetInt("plan_deep_retries"),
		PlanDeepMaxPois:         v.GetInt("plan_deep_max_pois"),
		PlanDeepMaxDays:         v.GetInt("plan_deep_max_days"),
		PlanDeepFallbackToFast:  v.GetBool("plan_deep_fallback_to_fast"),
		PlanDeepContextMaxDays:  v.GetInt("plan_deep_context_max_days"),
		PlanDeepContextMaxChars: v.GetInt("plan_deep_context_max_chars"),
		PlanDeepPromptVersion:   v.GetString("plan_deep_prompt_version"),
		PlanDeepOutlineSource:   v.GetString("plan_deep_outline_source"),
		PlanRequireUniquePois:   v.GetBool("plan_require_unique_pois"),

		PlanTaskWorkerConcurrency: v.GetInt("plan_task_worker_concurrency"),
		PlanTaskQueueMaxsize:      v.GetInt("plan_task_queue_maxsize"),
		PlanTaskMaxRunningPerUser: v.GetInt("plan_task_max_running_per_user"),
		PlanTaskRetentionDays:     v.GetInt("plan_task_retention_days"),

		PoiProvider:       v.GetString("poi_provider"),
		PoiAPIKey:         v.GetString("poi_api_key"),
		PoiDefaultRadiusM: v.GetInt("poi_default_radius_m"),
		PoiMaxRadiusM:     v.GetInt("poi_max_radius_m"),
		PoiCacheTTLSecs:   v.GetInt("poi_cache_ttl_seconds"),
		PoiCoordPrecision: v.GetInt("poi_coord_precision"),
		PoiCacheEnabled:   v.GetBool("poi_cache_enabled"),
		PoiCacheBackend:   v.GetString("poi_cache_backend"),
		PoiMinResults:     v.GetInt("poi_min_results"),

		AssistantWSEnabled:          v.GetBool("assistant_ws_enabled"),
		AssistantWSMaxConnsPerUser:  v.GetInt("assistant_ws_max_connections_per_user"),
		AssistantWSIdleTimeoutS:     v.GetInt("assistant_ws_idle_timeout_s"),
		AssistantWSSendQueueMaxsize: v.GetInt("assistant_ws_send_queue_maxsize"),
		AssistantWSMaxMessageChars:  v.GetInt("assistant_ws_max_message_chars"),
		AssistantWSRateLimitPerMin:  v.GetInt("assistant_ws_rate_limit_per_min"),
		AssistantHistoryMaxRounds:   v.GetInt("assistant_history_max_rounds"),
		AssistantTurnTimeoutS:       v.GetInt("assistant_turn_timeout_s"),
		AssistantStreamChunkChars:   v.GetInt("assistant_stream_chunk_chars"),

		MemoryEnabled:     v.GetBool("memory_enabled"),
		MemoryPersistPath: v.GetString("memory_persist_path"),
		MemoryEmbedModel:  v.GetString("memory_embed_model"),

		GeocodeProvider:     v.GetString("geocode_provider"),
		GeocodeAPIKey:       v.GetString("geocode_api_key"),
		GeocodeCacheTTLSecs: v.GetInt("geocode_cache_ttl_seconds"),

		MaxConcurrentExternal: v.GetInt("max_concurrent_external"),

		AdminAPIToken:            v.GetString("admin_api_token"),
		AdminAllowedIPs:          v.GetStringSlice("admin_allowed_ips"),
		AdminSQLConsoleEnabled:   v.GetBool("admin_sql_console_enabled"),
		AdminSQLConsoleTimeoutMS: v.GetInt("admin_sql_console_timeout_ms"),
		AdminSQLConsoleMaxRows:   v.GetInt("admin_sql_console_max_rows"),
	}
}
