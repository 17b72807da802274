package config

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Library    LibraryConfig    `mapstructure:"library"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Cluster    ClusterConfig    `mapstructure:"cluster"`
	Duplicate  DuplicateConfig  `mapstructure:"duplicate"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Watcher    WatcherConfig    `mapstructure:"watcher"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
}

type ServerConfig struct {
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`      // json 或 text
	Output     string `mapstructure:"output"`      // stdout 或 file
	MaxSize    int    `mapstructure:"max_size"`    // 兆字节
	MaxBackups int    `mapstructure:"max_backups"` // 备份数量
	MaxAge     int    `mapstructure:"max_age"`     // 天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧文件
}

type JWTConfig struct {
	Secret     string `mapstructure:"secret"`      // JWT 密钥
	ExpireTime int    `mapstructure:"expire_time"` // 过期时间（小时）
	Issuer     string `mapstructure:"issuer"`      // 签发者
}

// LibraryConfig 媒体库与扫描配置
type LibraryConfig struct {
	Roots            []string `mapstructure:"roots"`              // 媒体库根目录列表
	ImageExtensions  []string `mapstructure:"image_extensions"`   // 图片后缀白名单
	VideoExtensions  []string `mapstructure:"video_extensions"`   // 视频后缀白名单
	ScanBatchSize    int      `mapstructure:"scan_batch_size"`    // 扫描插入批量提交大小
	ThumbnailSize    int      `mapstructure:"thumbnail_size"`     // 缩略图边长（像素）
	MissingGraceDays int      `mapstructure:"missing_grace_days"` // 文件丢失确认宽限期（天）
	MissingPurgeDays int      `mapstructure:"missing_purge_days"` // 确认丢失后的清理期（天）
}

// ProcessingConfig 媒体处理流水线配置
type ProcessingConfig struct {
	BatchSize     int      `mapstructure:"batch_size"`     // 每批处理的媒体数量
	ActivePlugins []string `mapstructure:"active_plugins"` // 启用的处理插件
	MLBaseURL     string   `mapstructure:"ml_base_url"`    // 推理服务地址
	SceneCount    int      `mapstructure:"scene_count"`    // 视频抽取场景帧数量
	CustomLabels  []string `mapstructure:"custom_labels"`  // auto_tag_custom 任务使用的限定标签集
}

// ClusterConfig 人物聚类配置，相似度统一使用余弦相似度（0-1）
type ClusterConfig struct {
	BatchSize         int     `mapstructure:"batch_size"`           // 游标分页批量大小
	AssignThreshold   float64 `mapstructure:"assign_threshold"`     // 归入已有人物的最低相似度
	AssignMargin      float64 `mapstructure:"assign_margin"`        // 最优与次优候选的最小间隔
	MinAppearance     int     `mapstructure:"min_appearance"`       // 候选人物的最小出现次数
	MinClusterSize    int     `mapstructure:"min_cluster_size"`     // 密度聚类最小簇大小
	MinSamples        int     `mapstructure:"min_samples"`          // 密度聚类核心点最小邻居数
	Eps               float64 `mapstructure:"eps"`                  // 密度聚类邻域半径（余弦距离）
	MinFacesPerPerson int     `mapstructure:"min_faces_per_person"` // 新建人物的最少人脸数
	MaxRadius         float64 `mapstructure:"max_radius"`           // 簇内距质心的最大余弦距离
	MinDistinctMedia  int     `mapstructure:"min_distinct_media"`   // 簇内最少不同来源媒体数
	MergeThresholdPct float64 `mapstructure:"merge_threshold_pct"`  // 相似人物合并阈值（百分比 = 余弦相似度*100）
}

// DuplicateConfig 重复检测配置
type DuplicateConfig struct {
	HammingThreshold int  `mapstructure:"hamming_threshold"` // 近似重复的最大汉明距离
	NearVideoEnabled bool `mapstructure:"near_video_enabled"`
}

// PipelineConfig 任务链配置
type PipelineConfig struct {
	ChainScan    bool `mapstructure:"chain_scan"`    // 清理丢失文件完成后接扫描
	ChainProcess bool `mapstructure:"chain_process"` // 扫描完成后接处理、处理完成后接聚类
}

// SchedulerConfig 定时任务配置，cron 表达式为空表示禁用
type SchedulerConfig struct {
	ScanCron       string `mapstructure:"scan_cron"`
	ProcessCron    string `mapstructure:"process_cron"`
	ClusterCron    string `mapstructure:"cluster_cron"`
	DuplicatesCron string `mapstructure:"duplicates_cron"`
	CleanCron      string `mapstructure:"clean_cron"`
}

// WatcherConfig 文件监控配置
type WatcherConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	DebounceSecs int  `mapstructure:"debounce_secs"` // 事件去抖窗口（秒）
}

// WebhookConfig 任务完成通知配置
type WebhookConfig struct {
	URL string `mapstructure:"url"` // 为空表示禁用
}

func Load() *Config {
	setDefaults()

	// 读取配置
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("未找到配置文件，使用默认配置")
		} else {
			log.Fatalf("读取配置文件出错: %v", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("无法解码配置: %v", err)
	}

	// 验证配置
	if err := validateConfig(&config); err != nil {
		log.Fatalf("配置验证失败: %v", err)
	}

	return &config
}

// setDefaults 设置默认配置
func setDefaults() {
	viper.SetDefault("server.port", "5000")

	// 日志默认配置
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	// JWT默认配置
	viper.SetDefault("jwt.secret", "your-secret-key-change-in-production")
	viper.SetDefault("jwt.expire_time", 24) // 24小时
	viper.SetDefault("jwt.issuer", "photo-fusion")

	// 媒体库默认配置
	viper.SetDefault("library.image_extensions", []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tiff", ".heic"})
	viper.SetDefault("library.video_extensions", []string{".mp4", ".mkv", ".mov", ".avi", ".webm", ".m4v"})
	viper.SetDefault("library.scan_batch_size", 200)
	viper.SetDefault("library.thumbnail_size", 320)
	viper.SetDefault("library.missing_grace_days", 3)
	viper.SetDefault("library.missing_purge_days", 30)

	// 处理流水线默认配置
	viper.SetDefault("processing.batch_size", 100)
	viper.SetDefault("processing.active_plugins", []string{"faces", "embedding", "auto_tag"})
	viper.SetDefault("processing.scene_count", 3)

	// 聚类默认配置
	viper.SetDefault("cluster.batch_size", 500)
	viper.SetDefault("cluster.assign_threshold", 0.40)
	viper.SetDefault("cluster.assign_margin", 0.05)
	viper.SetDefault("cluster.min_appearance", 3)
	viper.SetDefault("cluster.min_cluster_size", 8)
	viper.SetDefault("cluster.min_samples", 3)
	viper.SetDefault("cluster.eps", 0.35)
	viper.SetDefault("cluster.min_faces_per_person", 3)
	viper.SetDefault("cluster.max_radius", 0.45)
	viper.SetDefault("cluster.min_distinct_media", 2)
	viper.SetDefault("cluster.merge_threshold_pct", 75.0)

	// 重复检测默认配置
	viper.SetDefault("duplicate.hamming_threshold", 5)
	viper.SetDefault("duplicate.near_video_enabled", true)

	// 任务链默认配置
	viper.SetDefault("pipeline.chain_scan", true)
	viper.SetDefault("pipeline.chain_process", true)

	// 文件监控默认配置
	viper.SetDefault("watcher.enabled", false)
	viper.SetDefault("watcher.debounce_secs", 30)
}

// validateConfig 验证配置的有效性
func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("服务器端口未设置")
	}
	if config.JWT.Secret == "" {
		return fmt.Errorf("JWT密钥未设置")
	}
	if config.Library.ScanBatchSize <= 0 {
		return fmt.Errorf("扫描批量大小必须大于 0")
	}
	if config.Cluster.AssignThreshold <= 0 || config.Cluster.AssignThreshold >= 1 {
		return fmt.Errorf("聚类归类阈值必须在 (0,1) 之间")
	}
	if config.Duplicate.HammingThreshold < 0 {
		return fmt.Errorf("汉明距离阈值不能为负数")
	}
	return nil
}
