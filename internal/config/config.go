package config

import (
	"log"

	"github.com/spf13/viper"
)

type AnalyzerConfig struct {
	// Command is the analyzer executable invoked for each job. The video
	// URL, model path and output file are appended as arguments.
	Command    string   `mapstructure:"command"`
	ExtraArgs  []string `mapstructure:"extra_args"`
	Confidence float64  `mapstructure:"confidence"`
	IOU        float64  `mapstructure:"iou"`
	ImageSize  int      `mapstructure:"image_size"`
	TempDir    string   `mapstructure:"temp_dir"`
	ResultsDir string   `mapstructure:"results_dir"`

	// When UseDocker is set the analyzer runs inside a container of
	// EngineImage instead of a local process.
	UseDocker            bool   `mapstructure:"use_docker"`
	EngineImage          string `mapstructure:"engine_image"`
	ContainerCPULimit    int64  `mapstructure:"container_cpu_limit"`
	ContainerMemoryLimit int64  `mapstructure:"container_memory_limit"`
}

type ImportConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

type QueryConfig struct {
	// ConfidenceThreshold is the default minimum confidence applied to
	// detection queries when the client does not pass one.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

type Config struct {
	DatabaseURL      string         `mapstructure:"database_url"`
	ServerPort       string         `mapstructure:"server_port"`
	AdminTokenSecret string         `mapstructure:"admin_token_secret"`
	Analyzer         AnalyzerConfig `mapstructure:"analyzer"`
	Import           ImportConfig   `mapstructure:"import"`
	Query            QueryConfig    `mapstructure:"query"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	// Fallback defaults
	if config.ServerPort == "" {
		config.ServerPort = "8000"
	}
	if config.AdminTokenSecret == "" {
		log.Fatal("Admin token secret must be set in the config file")
	}
	if config.Analyzer.Command == "" && !config.Analyzer.UseDocker {
		config.Analyzer.Command = "analyze-video"
	}
	if config.Analyzer.Confidence == 0 {
		config.Analyzer.Confidence = 0.6
	}
	if config.Analyzer.IOU == 0 {
		config.Analyzer.IOU = 0.5
	}
	if config.Analyzer.ImageSize == 0 {
		config.Analyzer.ImageSize = 736
	}
	if config.Analyzer.ResultsDir == "" {
		config.Analyzer.ResultsDir = "results"
	}
	if config.Import.BatchSize == 0 {
		config.Import.BatchSize = 4096
	}
	if config.Query.ConfidenceThreshold == 0 {
		config.Query.ConfidenceThreshold = 0.65
	}

	return &config
}
