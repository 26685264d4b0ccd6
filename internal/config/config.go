package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/socialsync/internal/logger"
	"gopkg.in/yaml.v3"
)

// loadEnv читает .env только вне production.
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		f, err := os.Open(dir + "/.env")
		if err == nil {
			loadEnvFrom(f)
			f.Close()
			return
		}
		parent := strings.TrimSuffix(dir, "/")
		idx := strings.LastIndex(parent, "/")
		if idx <= 0 {
			return
		}
		dir = parent[:idx]
	}
}

func loadEnvFrom(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if len(val) >= 2 && (val[0] == '"' && val[len(val)-1] == '"' || val[0] == '\'' && val[len(val)-1] == '\'') {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// RemoteConfig: адреса удалённого API социальной сети и его стримов.
type RemoteConfig struct {
	APIBaseURL             string
	StreamBaseURL          string
	ChatListPath           string
	MessagesPath           string
	NotificationsPath      string
	MessageStreamPath      string
	NotificationStreamPath string
	RequestTimeout         time.Duration
}

// StreamConfig: параметры WebSocket-соединений (стримы и UI-хаб).
type StreamConfig struct {
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
	SendBufferSize int
	MaxUIClients   int
}

// PushConfig: пуш-уведомления о новых событиях. Если ServiceURL пуст, пуши выключены.
type PushConfig struct {
	ServiceURL    string
	VAPIDKeysFile string
	// VAPIDPublicKey заполняется при старте, если пуши включены.
	VAPIDPublicKey string
}

// Config содержит настройки клиента синхронизации.
// Приоритет: переменные окружения > YAML > значения по умолчанию.
type Config struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Сессия: токен и id пользователя выдаются внешней авторизацией.
	Token           string
	UserID          int64
	AutoSelectFirst bool

	Remote RemoteConfig
	Stream StreamConfig
	Push   PushConfig

	// RedisURL: хранилище решений accept/decline. Если пусто, решения хранятся в памяти процесса.
	RedisURL    string
	DecisionTTL time.Duration

	CORSAllowedOrigins string
	// GatewaySecret пускает запросы не с локальных адресов (заголовок X-Gateway-Secret).
	GatewaySecret      string
	RateLimit          int
	LogLevel           string
}

type yamlConfig struct {
	ListenAddr             string `yaml:"listen_addr"`
	ReadTimeout            int    `yaml:"read_timeout"`
	WriteTimeout           int    `yaml:"write_timeout"`
	IdleTimeout            int    `yaml:"idle_timeout"`
	Token                  string `yaml:"token"`
	UserID                 int64  `yaml:"user_id"`
	AutoSelectFirst        bool   `yaml:"auto_select_first"`
	APIBaseURL             string `yaml:"api_base_url"`
	StreamBaseURL          string `yaml:"stream_base_url"`
	ChatListPath           string `yaml:"chat_list_path"`
	MessagesPath           string `yaml:"messages_path"`
	NotificationsPath      string `yaml:"notifications_path"`
	MessageStreamPath      string `yaml:"message_stream_path"`
	NotificationStreamPath string `yaml:"notification_stream_path"`
	RequestTimeout         int    `yaml:"request_timeout"`
	WSWriteTimeout         int    `yaml:"ws_write_timeout"`
	WSPongTimeout          int    `yaml:"ws_pong_timeout"`
	WSMaxMessageSize       int    `yaml:"ws_max_message_size"`
	WSSendBufferSize       int    `yaml:"ws_send_buffer_size"`
	MaxUIClients           int    `yaml:"max_ui_clients"`
	PushServiceURL         string `yaml:"push_service_url"`
	VAPIDKeysFile          string `yaml:"vapid_keys_file"`
	RedisURL               string `yaml:"redis_url"`
	DecisionTTLHours       int    `yaml:"decision_ttl_hours"`
	CORSAllowedOrigins     string `yaml:"cors_allowed_origins"`
	GatewaySecret          string `yaml:"gateway_secret"`
	RateLimitPerMinute     int    `yaml:"rate_limit_per_minute"`
	LogLevel               string `yaml:"log_level"`
}

func defaults() yamlConfig {
	return yamlConfig{
		ListenAddr:             "127.0.0.1:3000",
		ReadTimeout:            15,
		WriteTimeout:           15,
		IdleTimeout:            60,
		AutoSelectFirst:        true,
		APIBaseURL:             "http://localhost:8080",
		StreamBaseURL:          "ws://localhost:8080",
		ChatListPath:           "/chat-display",
		MessagesPath:           "/chats/{chatId}/messages",
		NotificationsPath:      "/notifications/get",
		MessageStreamPath:      "/message-websocket",
		NotificationStreamPath: "/notification",
		RequestTimeout:         15,
		WSWriteTimeout:         10,
		WSPongTimeout:          60,
		WSMaxMessageSize:       65536,
		WSSendBufferSize:       256,
		MaxUIClients:           64,
		DecisionTTLHours:       24 * 30,
		CORSAllowedOrigins:     "*",
		RateLimitPerMinute:     600,
		LogLevel:               "info",
	}
}

// Load загружает конфигурацию: .env, затем YAML (CONFIG_PATH или config/socialsync.yaml), затем env.
func Load() *Config {
	loadEnv()
	yc := defaults()
	for _, path := range []string{os.Getenv("CONFIG_PATH"), "config/socialsync.yaml"} {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: parse %s: %v (using defaults)", path, err)
			yc = defaults()
		} else {
			logger.Infof("config: loaded %s", path)
		}
		break
	}
	return fromYAML(yc)
}

// Parse строит конфигурацию из YAML поверх значений по умолчанию, затем применяет env.
func Parse(data []byte) (*Config, error) {
	yc := defaults()
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return nil, err
	}
	return fromYAML(yc), nil
}

func fromYAML(yc yamlConfig) *Config {
	sec := func(key string, v int) time.Duration { return time.Duration(envInt(key, v)) * time.Second }
	cfg := &Config{
		ListenAddr:      envStr("LISTEN_ADDR", yc.ListenAddr),
		ReadTimeout:     sec("READ_TIMEOUT", yc.ReadTimeout),
		WriteTimeout:    sec("WRITE_TIMEOUT", yc.WriteTimeout),
		IdleTimeout:     sec("IDLE_TIMEOUT", yc.IdleTimeout),
		Token:           envStr("SESSION_TOKEN", yc.Token),
		UserID:          int64(envInt("USER_ID", int(yc.UserID))),
		AutoSelectFirst: envBool("AUTO_SELECT_FIRST", yc.AutoSelectFirst),
		Remote: RemoteConfig{
			APIBaseURL:             strings.TrimSuffix(envStr("API_BASE_URL", yc.APIBaseURL), "/"),
			StreamBaseURL:          strings.TrimSuffix(envStr("STREAM_BASE_URL", yc.StreamBaseURL), "/"),
			ChatListPath:           envStr("CHAT_LIST_PATH", yc.ChatListPath),
			MessagesPath:           envStr("MESSAGES_PATH", yc.MessagesPath),
			NotificationsPath:      envStr("NOTIFICATIONS_PATH", yc.NotificationsPath),
			MessageStreamPath:      envStr("MESSAGE_STREAM_PATH", yc.MessageStreamPath),
			NotificationStreamPath: envStr("NOTIFICATION_STREAM_PATH", yc.NotificationStreamPath),
			RequestTimeout:         sec("REQUEST_TIMEOUT", yc.RequestTimeout),
		},
		Stream: StreamConfig{
			WriteTimeout:   sec("WS_WRITE_TIMEOUT", yc.WSWriteTimeout),
			PongTimeout:    sec("WS_PONG_TIMEOUT", yc.WSPongTimeout),
			MaxMessageSize: int64(envInt("WS_MAX_MESSAGE_SIZE", yc.WSMaxMessageSize)),
			SendBufferSize: envInt("WS_SEND_BUFFER_SIZE", yc.WSSendBufferSize),
			MaxUIClients:   envInt("MAX_UI_CLIENTS", yc.MaxUIClients),
		},
		Push: PushConfig{
			ServiceURL:    envStr("PUSH_SERVICE_URL", yc.PushServiceURL),
			VAPIDKeysFile: envStr("VAPID_KEYS_FILE", yc.VAPIDKeysFile),
		},
		RedisURL:           envStr("REDIS_URL", yc.RedisURL),
		DecisionTTL:        time.Duration(envInt("DECISION_TTL_HOURS", yc.DecisionTTLHours)) * time.Hour,
		CORSAllowedOrigins: envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
		GatewaySecret:      envStr("GATEWAY_SECRET", yc.GatewaySecret),
		RateLimit:          envInt("RATE_LIMIT_PER_MINUTE", yc.RateLimitPerMinute),
		LogLevel:           envStr("LOG_LEVEL", yc.LogLevel),
	}
	if cfg.Stream.SendBufferSize <= 0 {
		cfg.Stream.SendBufferSize = 256
	}
	if cfg.Stream.MaxUIClients <= 0 {
		cfg.Stream.MaxUIClients = 64
	}
	return cfg
}

// MessageStreamURL возвращает адрес стрима сообщений (без токена).
func (c *Config) MessageStreamURL() string {
	return c.Remote.StreamBaseURL + c.Remote.MessageStreamPath
}

// NotificationStreamURL возвращает адрес стрима уведомлений (без токена).
func (c *Config) NotificationStreamURL() string {
	return c.Remote.StreamBaseURL + c.Remote.NotificationStreamPath
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
