package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "change-me-in-production"

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host         string        // 监听地址，默认 "0.0.0.0"
	Port         int           // 监听端口，默认 8080
	ReadTimeout  time.Duration // 读超时，默认 15 秒
	WriteTimeout time.Duration // 写超时，默认 15 秒
}

// SchedulerConfig 定义存活检测调度器配置
type SchedulerConfig struct {
	Enabled           bool          // 是否在进程内运行定时 tick；关闭时依赖外部调用 /v1/tasks/tick
	Interval          time.Duration // tick 周期，也是允许的最小检测周期，默认 1 分钟
	Workers           int           // 执行命令的 worker 数量
	QueueSize         int           // 命令队列长度
	PingRetries       int           // 单次 ping 投递失败后的最大重试次数
	ReminderInterval  time.Duration // 释放后重复提醒接收人的间隔，0 表示不重复
	ExecTimeout       time.Duration // 单条命令的执行超时
	LockTTL           time.Duration // tick 锁的过期时间
	PushRatePerSecond float64       // 推送速率上限
	PushBurst         int           // 推送突发上限
	TaskToken         string        // /v1/tasks/tick 的访问令牌，为空时禁用该接口
}

// StorageConfig 定义数据存储配置
type StorageConfig struct {
	Type            string        // memory | filesystem | postgres | mysql | sqlite
	Path            string        // filesystem 存储目录
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Enabled   bool          // 是否启用 Redis（缓存与分布式 tick 锁）
	Address   string        // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password  string        // Redis 认证密码，留空表示无密码
	DB        int           // Redis 数据库编号，默认 0
	KeyPrefix string        // 键前缀，默认 "deadswitch:"
	CacheTTL  time.Duration // 消息缓存时间，默认 5 分钟
}

// PushConfig 定义 Web Push 配置
type PushConfig struct {
	VAPIDPublicKey  string        // VAPID 公钥（URL-safe base64）
	VAPIDPrivateKey string        // VAPID 私钥
	Subscriber      string        // 联系方式，邮箱或 URL
	TTL             time.Duration // 推送服务保留消息的时间
}

// Enabled 是否配置了 VAPID 密钥
func (p PushConfig) Enabled() bool {
	return p.VAPIDPublicKey != "" && p.VAPIDPrivateKey != ""
}

// SMTPConfig 定义邮件通知通道配置
type SMTPConfig struct {
	Addr     string // SMTP 服务器地址 "host:port"，为空时禁用邮件通道
	From     string // 发件人地址
	Username string // 认证用户名，为空表示不认证
	Password string // 认证密码
}

// Enabled 是否启用邮件通道
func (s SMTPConfig) Enabled() bool {
	return s.Addr != "" && s.From != ""
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，为空时只输出到 stdout
	MaxSize     int    // 单个日志文件最大 MB
	MaxBackups  int    // 保留的旧文件数量
	MaxAge      int    // 旧文件保留天数
	Compress    bool   // 是否压缩旧文件
}

// JWTConfig 定义 JWT 认证相关配置
type JWTConfig struct {
	Secret        string        // JWT 签名密钥，必须至少 32 字符
	Issuer        string        // JWT 签发者标识，默认 "deadswitch"
	AccessExpiry  time.Duration // 访问令牌有效期，默认 15 分钟
	RefreshExpiry time.Duration // 刷新令牌有效期，默认 7 天
}

// RegistrationConfig 定义注册与创建规则
type RegistrationConfig struct {
	Block                        bool // 禁止新用户注册
	RequireRecipientSubscription bool // 创建消息时要求接收人已登记推送订阅
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server       ServerConfig
	Scheduler    SchedulerConfig
	Storage      StorageConfig
	Redis        RedisConfig
	Push         PushConfig
	SMTP         SMTPConfig
	CORS         CORSConfig
	Log          LogConfig
	JWT          JWTConfig
	Registration RegistrationConfig
}

// Load 从环境变量、可选配置文件和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. DEADSWITCH_CONFIG 指定的配置文件（yaml/json/toml）
//  4. 默认值
//
// 环境变量前缀: DEADSWITCH_
// 例如: DEADSWITCH_SERVER_PORT, DEADSWITCH_JWT_SECRET
//
// 返回值:
//   - *Config: 加载成功的配置对象
//   - error: 配置验证失败时返回错误
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("deadswitch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if file := os.Getenv("DEADSWITCH_CONFIG"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:         v.GetString("server.host"),
			Port:         v.GetInt("server.port"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
		},
		Scheduler: SchedulerConfig{
			Enabled:           v.GetBool("scheduler.enabled"),
			Interval:          v.GetDuration("scheduler.interval"),
			Workers:           v.GetInt("scheduler.workers"),
			QueueSize:         v.GetInt("scheduler.queue_size"),
			PingRetries:       v.GetInt("scheduler.ping_retries"),
			ReminderInterval:  v.GetDuration("scheduler.reminder_interval"),
			ExecTimeout:       v.GetDuration("scheduler.exec_timeout"),
			LockTTL:           v.GetDuration("scheduler.lock_ttl"),
			PushRatePerSecond: v.GetFloat64("scheduler.push_rate"),
			PushBurst:         v.GetInt("scheduler.push_burst"),
			TaskToken:         v.GetString("scheduler.task_token"),
		},
		Storage: StorageConfig{
			Type:            strings.ToLower(v.GetString("storage.type")),
			Path:            v.GetString("storage.path"),
			DSN:             v.GetString("storage.dsn"),
			MaxOpenConns:    v.GetInt("storage.max_open_conns"),
			MaxIdleConns:    v.GetInt("storage.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("storage.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Enabled:   v.GetBool("redis.enabled"),
			Address:   v.GetString("redis.address"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
			CacheTTL:  v.GetDuration("redis.cache_ttl"),
		},
		Push: PushConfig{
			VAPIDPublicKey:  v.GetString("push.vapid_public_key"),
			VAPIDPrivateKey: v.GetString("push.vapid_private_key"),
			Subscriber:      v.GetString("push.subscriber"),
			TTL:             v.GetDuration("push.ttl"),
		},
		SMTP: SMTPConfig{
			Addr:     v.GetString("smtp.addr"),
			From:     v.GetString("smtp.from"),
			Username: v.GetString("smtp.username"),
			Password: v.GetString("smtp.password"),
		},
		CORS: CORSConfig{
			AllowedOrigins: parseList(v.GetString("cors.allowed_origins")),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
			MaxSize:     v.GetInt("log.max_size"),
			MaxBackups:  v.GetInt("log.max_backups"),
			MaxAge:      v.GetInt("log.max_age"),
			Compress:    v.GetBool("log.compress"),
		},
		JWT: JWTConfig{
			Secret:        v.GetString("jwt.secret"),
			Issuer:        v.GetString("jwt.issuer"),
			AccessExpiry:  v.GetDuration("jwt.access_expiry"),
			RefreshExpiry: v.GetDuration("jwt.refresh_expiry"),
		},
		Registration: RegistrationConfig{
			Block:                        v.GetBool("registration.block"),
			RequireRecipientSubscription: v.GetBool("registration.require_recipient_subscription"),
		},
	}

	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}
	if cfg.Storage.Type == "json" {
		cfg.Storage.Type = "filesystem"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.workers", 8)
	v.SetDefault("scheduler.queue_size", 1024)
	v.SetDefault("scheduler.ping_retries", 3)
	v.SetDefault("scheduler.reminder_interval", "24h")
	v.SetDefault("scheduler.exec_timeout", "30s")
	v.SetDefault("scheduler.lock_ttl", "5m")
	v.SetDefault("scheduler.push_rate", 20)
	v.SetDefault("scheduler.push_burst", 40)
	v.SetDefault("scheduler.task_token", "")
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.path", "./data")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.max_open_conns", 25)
	v.SetDefault("storage.max_idle_conns", 5)
	v.SetDefault("storage.conn_max_lifetime", "5m")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "deadswitch:")
	v.SetDefault("redis.cache_ttl", "5m")
	v.SetDefault("push.vapid_public_key", "")
	v.SetDefault("push.vapid_private_key", "")
	v.SetDefault("push.subscriber", "")
	v.SetDefault("push.ttl", "24h")
	v.SetDefault("smtp.addr", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("jwt.secret", defaultJWTSecret)
	v.SetDefault("jwt.issuer", "deadswitch")
	v.SetDefault("jwt.access_expiry", "15m")
	v.SetDefault("jwt.refresh_expiry", "168h")
	v.SetDefault("registration.block", false)
	v.SetDefault("registration.require_recipient_subscription", true)
}

// Validate 校验配置组合是否合法
func (c *Config) Validate() error {
	// 安全检查：禁止使用默认的 JWT secret
	if c.JWT.Secret == defaultJWTSecret {
		return fmt.Errorf("SECURITY ERROR: JWT secret cannot be the default value. Please set DEADSWITCH_JWT_SECRET environment variable")
	}
	// JWT secret 必须至少 32 字符
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("SECURITY ERROR: JWT secret must be at least 32 characters long")
	}
	if c.JWT.AccessExpiry <= 0 || c.JWT.RefreshExpiry <= 0 {
		return fmt.Errorf("jwt expiry must be positive")
	}

	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	if c.Scheduler.Workers <= 0 || c.Scheduler.QueueSize <= 0 {
		return fmt.Errorf("scheduler.workers and scheduler.queue_size must be positive")
	}
	if c.Scheduler.PingRetries < 0 {
		return fmt.Errorf("scheduler.ping_retries must not be negative")
	}
	if c.Scheduler.PushRatePerSecond <= 0 || c.Scheduler.PushBurst <= 0 {
		return fmt.Errorf("scheduler.push_rate and scheduler.push_burst must be positive")
	}

	switch c.Storage.Type {
	case "memory":
	case "filesystem":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for filesystem storage")
		}
	case "postgres", "mysql", "sqlite":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for %s storage", c.Storage.Type)
		}
	default:
		return fmt.Errorf("unsupported storage.type: %s (supported: memory, filesystem, postgres, mysql, sqlite)", c.Storage.Type)
	}

	if c.Redis.Enabled && !c.Storage.IsSQL() {
		return fmt.Errorf("redis cache requires a SQL storage type")
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		return fmt.Errorf("push.vapid_public_key and push.vapid_private_key must be set together")
	}
	if c.Push.Enabled() && c.Push.Subscriber == "" {
		return fmt.Errorf("push.subscriber is required when VAPID keys are set")
	}
	return nil
}

// IsSQL 是否为关系数据库存储
func (s StorageConfig) IsSQL() bool {
	switch s.Type {
	case "postgres", "mysql", "sqlite":
		return true
	}
	return false
}

// Address 返回 HTTP 监听地址
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// parseList 将逗号分隔的字符串解析为字符串切片
//
// 参数:
//   - value: 逗号分隔的字符串，如 "item1,item2,item3"
//
// 返回值:
//   - []string: 解析后的字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env（用于从 cmd/ 子目录运行的情况）
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 环境变量不会被覆盖（已存在的环境变量优先级更高）
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
