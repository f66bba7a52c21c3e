package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Game      GameConfig      `mapstructure:"game"`
	Anchor    AnchorConfig    `mapstructure:"anchor"`
	Log       LogConfig       `mapstructure:"log"`
	Security  SecurityConfig  `mapstructure:"security"`
	System    SystemConfig    `mapstructure:"system"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// WebSocketConfig WebSocket配置
type WebSocketConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	Path              string        `mapstructure:"path"`
	ReadBufferSize    int           `mapstructure:"read_buffer_size"`
	WriteBufferSize   int           `mapstructure:"write_buffer_size"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	PongTimeout       time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	EnableCompression bool          `mapstructure:"enable_compression"`
}

// GameConfig 游戏配置
type GameConfig struct {
	Loci      LociConfig      `mapstructure:"loci"`
	Standings StandingsConfig `mapstructure:"standings"`
	Dialog    DialogConfig    `mapstructure:"dialog"`
	Session   SessionConfig   `mapstructure:"session"`
}

// SessionConfig 会话管理配置
type SessionConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`          // 不活跃会话回收时长
	MaxSessions     int           `mapstructure:"max_sessions"`     // 并发会话上限
	SnapshotTimeout time.Duration `mapstructure:"snapshot_timeout"` // 快照过期时长
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"` // 回收巡检间隔
}

// LociConfig 记忆宫殿玩法配置
type LociConfig struct {
	MagnetCount         int           `mapstructure:"magnet_count"`          // 每局磁珠数量
	MagnetSize          float64       `mapstructure:"magnet_size"`           // 磁珠包围盒边长（米）
	AttachDistance      float64       `mapstructure:"attach_distance"`       // 概念吸附阈值（米）
	TableClearance      float64       `mapstructure:"table_clearance"`       // 桌面出生点排斥半径（米）
	MainPhaseDuration   time.Duration `mapstructure:"main_phase_duration"`   // 主游戏固定时长
	WrongDetachDelay    time.Duration `mapstructure:"wrong_detach_delay"`    // 错放概念脱落延迟
	IdlePenaltyInterval time.Duration `mapstructure:"idle_penalty_interval"` // 怠惰扣分间隔
	UseRoomAreaTime     bool          `mapstructure:"use_room_area_time"`    // 用房间面积估算时长
	MinRoomArea         float64       `mapstructure:"min_room_area"`         // 可玩的最小房间面积（平方米）
	ExperienceFile      string        `mapstructure:"experience_file"`       // 体验存档文件路径
}

// StandingsConfig 排行榜配置
type StandingsConfig struct {
	PageSize int `mapstructure:"page_size"`
}

// DialogConfig 对话框配置
type DialogConfig struct {
	AutoDismiss time.Duration `mapstructure:"auto_dismiss"`
}

// AnchorConfig 空间锚点配置
type AnchorConfig struct {
	EraseChunkSize  int           `mapstructure:"erase_chunk_size"`
	LoadChunkSize   int           `mapstructure:"load_chunk_size"`
	LocalizeTimeout time.Duration `mapstructure:"localize_timeout"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Operator  OperatorConfig  `mapstructure:"operator"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret       string `mapstructure:"secret"`
	ExpireHours  int    `mapstructure:"expire_hours"`
	RefreshHours int    `mapstructure:"refresh_hours"`
}

// OperatorConfig 运维账号配置（argon2散列存配置，不建用户表）
type OperatorConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
}

// SystemConfig 系统配置
type SystemConfig struct {
	Timezone string `mapstructure:"timezone"`
	MaxProcs int    `mapstructure:"max_procs"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		v = viper.New()

		// 设置配置文件路径
		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		// 设置环境变量前缀
		v.SetEnvPrefix("LOCI_PALACE")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		// 设置默认值
		setDefaults(v)

		// 读取配置文件
		if err = v.ReadInConfig(); err != nil {
			// 如果配置文件不存在，使用默认配置
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return
			}
			err = nil
		}

		// 解析配置到结构体
		cfg = &Config{}
		err = v.Unmarshal(cfg)
	})

	return err
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "development")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// 数据库默认配置
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/loci-palace.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "info")
	v.SetDefault("database.auto_migrate", true)

	// WebSocket默认配置
	v.SetDefault("websocket.host", "0.0.0.0")
	v.SetDefault("websocket.port", 8081)
	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.enable_compression", true)

	// 玩法默认配置
	v.SetDefault("game.loci.magnet_count", 8)
	v.SetDefault("game.loci.magnet_size", 0.1)
	v.SetDefault("game.loci.attach_distance", 0.5)
	v.SetDefault("game.loci.table_clearance", 0.5)
	v.SetDefault("game.loci.main_phase_duration", "80s")
	v.SetDefault("game.loci.wrong_detach_delay", "1300ms")
	v.SetDefault("game.loci.idle_penalty_interval", "3s")
	v.SetDefault("game.loci.use_room_area_time", false)
	v.SetDefault("game.loci.min_room_area", 4.0)
	v.SetDefault("game.loci.experience_file", "./data/experiences.json")
	v.SetDefault("game.standings.page_size", 6)
	v.SetDefault("game.dialog.auto_dismiss", "10s")
	v.SetDefault("game.session.timeout", "30m")
	v.SetDefault("game.session.max_sessions", 64)
	v.SetDefault("game.session.snapshot_timeout", "1h")
	v.SetDefault("game.session.cleanup_interval", "5m")

	// 安全默认配置
	v.SetDefault("security.jwt.secret", "change-me-in-production")
	v.SetDefault("security.jwt.expire_hours", 24)
	v.SetDefault("security.jwt.refresh_hours", 168)
	v.SetDefault("security.operator.username", "admin")

	// 锚点默认配置
	v.SetDefault("anchor.erase_chunk_size", 30)
	v.SetDefault("anchor.load_chunk_size", 45)
	v.SetDefault("anchor.localize_timeout", "15s")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "both")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "loci-palace.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()

		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}

		cfg = newCfg

		if callback != nil {
			callback(cfg)
		}

		fmt.Println("配置已重新加载")
	})
}

// GetString 获取字符串配置
func GetString(key string) string {
	return v.GetString(key)
}

// GetInt 获取整数配置
func GetInt(key string) int {
	return v.GetInt(key)
}

// GetBool 获取布尔配置
func GetBool(key string) bool {
	return v.GetBool(key)
}

// GetFloat64 获取浮点数配置
func GetFloat64(key string) float64 {
	return v.GetFloat64(key)
}

// GetDuration 获取时间间隔配置
func GetDuration(key string) time.Duration {
	return v.GetDuration(key)
}

// IsSet 检查配置项是否存在
func IsSet(key string) bool {
	return v.IsSet(key)
}

// Set 动态设置配置值
func Set(key string, value interface{}) {
	v.Set(key, value)
}
