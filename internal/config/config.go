package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the main configuration structure
type Config struct {
	Project   ProjectConfig   `mapstructure:"project"`
	AWS       AWSConfig       `mapstructure:"aws"`
	Terraform TerraformConfig `mapstructure:"terraform"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Deploy    DeployConfig    `mapstructure:"deploy"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	State     StateConfig     `mapstructure:"state"`
	Web       WebConfig       `mapstructure:"web"`
}

// ProjectConfig identifies the application being deployed
type ProjectConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// AWSConfig contains AWS-specific configuration
type AWSConfig struct {
	Region  string `mapstructure:"region"`
	Profile string `mapstructure:"profile"`
}

// TerraformConfig locates the Terraform stack the deployment reads outputs from
type TerraformConfig struct {
	Binary    string `mapstructure:"binary"`
	Dir       string `mapstructure:"dir"`
	Workspace string `mapstructure:"workspace"`
}

// DockerConfig drives the image build
type DockerConfig struct {
	Binary     string `mapstructure:"binary"`
	ContextDir string `mapstructure:"context_dir"`
	Dockerfile string `mapstructure:"dockerfile"`
	Platform   string `mapstructure:"platform"`
}

// DeployConfig contains fleet dispatch and validation settings
type DeployConfig struct {
	AutoScalingGroup  string        `mapstructure:"auto_scaling_group"`
	ServiceName       string        `mapstructure:"service_name"`
	ContainerPort     int           `mapstructure:"container_port"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout"`
	CommandPollEvery  time.Duration `mapstructure:"command_poll_every"`
	HealthPath        string        `mapstructure:"health_path"`
	HealthRetries     int           `mapstructure:"health_retries"`
	HealthInterval    time.Duration `mapstructure:"health_interval"`
	DiscoveryRetries  int           `mapstructure:"discovery_retries"`
	DiscoveryInterval time.Duration `mapstructure:"discovery_interval"`
	RollbackOnFailure bool          `mapstructure:"rollback_on_failure"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// StateConfig locates the deployment history file
type StateConfig struct {
	FilePath      string `mapstructure:"file_path"`
	BackupEnabled bool   `mapstructure:"backup_enabled"`
	BackupDir     string `mapstructure:"backup_dir"`
}

// WebConfig contains the dashboard server configuration
type WebConfig struct {
	Port             int    `mapstructure:"port"`
	Host             string `mapstructure:"host"`
	EnableWebSockets bool   `mapstructure:"enable_websockets"`
}

// Load loads configuration from file, environment variables, and defaults
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads configuration from an explicit file path, falling back to the
// default search paths when path is empty.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.deployctl")
	}

	// Environment variable support
	v.SetEnvPrefix("DEPLOYCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Try to read config file (optional when searching, required when explicit)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Ambient AWS environment wins over file values
	if awsRegion := os.Getenv("AWS_REGION"); awsRegion != "" {
		config.AWS.Region = awsRegion
	}
	if awsProfile := os.Getenv("AWS_PROFILE"); awsProfile != "" {
		config.AWS.Profile = awsProfile
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Project defaults
	v.SetDefault("project.name", "ecommerce-app")
	v.SetDefault("project.environment", "production")

	// AWS defaults
	v.SetDefault("aws.region", "us-east-1")

	// Terraform defaults
	v.SetDefault("terraform.binary", "terraform")
	v.SetDefault("terraform.dir", "./terraform")

	// Docker defaults
	v.SetDefault("docker.binary", "docker")
	v.SetDefault("docker.context_dir", ".")
	v.SetDefault("docker.dockerfile", "Dockerfile")
	v.SetDefault("docker.platform", "linux/amd64")

	// Deploy defaults
	v.SetDefault("deploy.service_name", "web")
	v.SetDefault("deploy.container_port", 5000)
	v.SetDefault("deploy.command_timeout", "10m")
	v.SetDefault("deploy.command_poll_every", "5s")
	v.SetDefault("deploy.health_path", "/health")
	v.SetDefault("deploy.health_retries", 30)
	v.SetDefault("deploy.health_interval", "10s")
	v.SetDefault("deploy.discovery_retries", 5)
	v.SetDefault("deploy.discovery_interval", "6s")
	v.SetDefault("deploy.rollback_on_failure", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	// State defaults
	v.SetDefault("state.file_path", "deployments.state")
	v.SetDefault("state.backup_enabled", true)
	v.SetDefault("state.backup_dir", "./backups")

	// Web defaults
	v.SetDefault("web.port", 8080)
	v.SetDefault("web.host", "localhost")
	v.SetDefault("web.enable_websockets", true)
}

// GetStateFilePath returns the full path to the deployment history file
func (c *Config) GetStateFilePath() string {
	return c.State.FilePath
}

// IsProductionMode returns true if running in production mode
func (c *Config) IsProductionMode() bool {
	return c.Logging.Level != "debug"
}
