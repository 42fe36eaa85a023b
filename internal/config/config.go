package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 POOLSCALER_POOL_NAME
const EnvPrefix = "POOLSCALER"

// Config 应用配置
type Config struct {
	Pool       PoolConfig       `mapstructure:"pool"`
	K8s        K8sConfig        `mapstructure:"k8s"`
	Controller ControllerConfig `mapstructure:"controller"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Scaling    ScalingConfig    `mapstructure:"scaling"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// PoolConfig 资源池配置
type PoolConfig struct {
	Name         string `mapstructure:"name"`
	Namespace    string `mapstructure:"namespace"`
	WorkloadKind string `mapstructure:"workload_kind"` // Deployment 或 StatefulSet
	WorkloadName string `mapstructure:"workload_name"`
	SlotSelector string `mapstructure:"slot_selector"` // 槽位Pod的label selector
}

// K8sConfig K8s配置
type K8sConfig struct {
	Kubeconfig        string `mapstructure:"kubeconfig"`
	WatchPolicy       bool   `mapstructure:"watch_policy"`   // 是否监听PoolScaling资源
	PublishStatus     bool   `mapstructure:"publish_status"` // 是否回写PoolScaling状态
	PoolScalingName   string `mapstructure:"pool_scaling_name"`
	TaskQueueName     string `mapstructure:"task_queue_name"`
	ReconnectInterval int    `mapstructure:"reconnect_interval"` // 秒
}

// ControllerConfig 控制循环配置
type ControllerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	ScaleUpCooldown time.Duration `mapstructure:"scale_up_cooldown"` // 0 沿用策略的 min_idle_time_seconds，负数关闭
	StatusInterval  time.Duration `mapstructure:"status_interval"`
}

// TelemetryConfig 遥测采集配置
type TelemetryConfig struct {
	BusySource         string        `mapstructure:"busy_source"` // annotation 或 cpu
	BusyAnnotation     string        `mapstructure:"busy_annotation"`
	CPUBusyMillicores  int64         `mapstructure:"cpu_busy_millicores"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	EnableQueueCRD     bool          `mapstructure:"enable_queue_crd"`
	QueuePendingField  string        `mapstructure:"queue_pending_field"`
	EnableCapacityPoll bool          `mapstructure:"enable_capacity_poll"`
}

// ScalingConfig 伸缩策略配置（有序，先匹配者生效）
type ScalingConfig struct {
	Policies []PolicyConfig `mapstructure:"policies" json:"policies"`
}

// PolicyConfig 单条策略
type PolicyConfig struct {
	Name               string         `mapstructure:"name" json:"name"`
	Type               string         `mapstructure:"type" json:"type"`
	EnabledPeriods     []PeriodConfig `mapstructure:"enabled_periods" json:"enabled_periods"`
	SlotsCount         int            `mapstructure:"slots_count" json:"slots_count,omitempty"`
	MinTotalSlots      int            `mapstructure:"min_total_slots" json:"min_total_slots,omitempty"`
	MaxTotalSlots      int            `mapstructure:"max_total_slots" json:"max_total_slots,omitempty"`
	MinIdleSlots       int            `mapstructure:"min_idle_slots" json:"min_idle_slots,omitempty"`
	MinIdleTimeSeconds int            `mapstructure:"min_idle_time_seconds" json:"min_idle_time_seconds,omitempty"`
	ScalingFactor      float64        `mapstructure:"scaling_factor" json:"scaling_factor,omitempty"`
}

// PeriodConfig 时间段，时刻为 ISO-8601 (UTC)
type PeriodConfig struct {
	Name         string   `mapstructure:"name" json:"name"`
	Type         string   `mapstructure:"type" json:"type"`
	Days         []string `mapstructure:"days" json:"days,omitempty"`
	StartTimeUTC string   `mapstructure:"start_time_utc" json:"start_time_utc,omitempty"`
	EndTimeUTC   string   `mapstructure:"end_time_utc" json:"end_time_utc,omitempty"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Load 加载配置文件
// configPath 为空时只使用默认值和环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 读取环境变量
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 读取配置文件
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v)
}

// LoadFromViper 从已有的viper实例解析配置
func LoadFromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	// 策略部分先做结构校验
	if raw := v.Get("scaling"); raw != nil {
		if err := ValidateScalingDocument(raw); err != nil {
			return nil, fmt.Errorf("invalid scaling section: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Pool.Name == "" {
		return nil, fmt.Errorf("pool.name is required")
	}

	return &config, nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("pool.namespace", "default")
	v.SetDefault("pool.workload_kind", "Deployment")

	v.SetDefault("k8s.kubeconfig", "")
	v.SetDefault("k8s.watch_policy", false)
	v.SetDefault("k8s.publish_status", false)
	v.SetDefault("k8s.reconnect_interval", 5)

	v.SetDefault("controller.interval", 10*time.Second)
	v.SetDefault("controller.scale_up_cooldown", time.Duration(0))
	v.SetDefault("controller.status_interval", 15*time.Second)

	v.SetDefault("telemetry.busy_source", "annotation")
	v.SetDefault("telemetry.busy_annotation", "scaling.poolscaler.io/busy")
	v.SetDefault("telemetry.cpu_busy_millicores", 200)
	v.SetDefault("telemetry.poll_interval", 5*time.Second)
	v.SetDefault("telemetry.enable_queue_crd", true)
	v.SetDefault("telemetry.queue_pending_field", "pending")
	v.SetDefault("telemetry.enable_capacity_poll", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}
