package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/menta2k/point-to-box/pkg/coords"
	"github.com/menta2k/point-to-box/pkg/cropper"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "PTB_"

// Config holds the application configuration
type Config struct {
	Converter ConverterConfig `json:"converter"`
	Split     SplitConfig     `json:"split"`
	Output    OutputConfig    `json:"output"`
	Log       LogConfig       `json:"log"`
}

// ConverterConfig holds configuration for dataset conversion
type ConverterConfig struct {
	DataDir          string  `json:"data_dir"`
	Annotations      string  `json:"annotations"`
	CropSize         int     `json:"crop_size"`
	CropNoise        float64 `json:"crop_noise"`
	BoxNoise         float64 `json:"box_noise"`
	OversizePolicy   string  `json:"oversize_policy"`
	StrictGeometry   bool    `json:"strict_geometry"`
	Resize           bool    `json:"resize"`
	ImgSize          int     `json:"img_size"`
	PromptsPerObject int     `json:"prompts_per_object"`
	PromptNoise      float64 `json:"prompt_noise"`
	Seed             uint64  `json:"seed"`
	Workers          int     `json:"workers"`
}

// SplitConfig holds configuration for the train/val split
type SplitConfig struct {
	Enabled bool    `json:"enabled"`
	ValPct  float64 `json:"val_pct"`
	Seed    uint64  `json:"seed"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	OutputDir string `json:"output_dir"`
	Format    string `json:"format"`
	Quality   int    `json:"quality"`
	Lossless  bool   `json:"lossless"`
	BoxFormat string `json:"box_format"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Directory string `json:"directory"`
	Quiet     bool   `json:"quiet"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Converter: ConverterConfig{
			Annotations:      "annotations.json",
			CropSize:         100,
			CropNoise:        0.1,
			BoxNoise:         0.2,
			OversizePolicy:   string(cropper.Reject),
			Resize:           true,
			ImgSize:          512,
			PromptsPerObject: 1,
			PromptNoise:      0.1,
			Workers:          1,
		},
		Split: SplitConfig{
			Enabled: true,
			ValPct:  0.2,
		},
		Output: OutputConfig{
			OutputDir: "./output",
			Format:    "jpg",
			Quality:   90,
			BoxFormat: string(coords.COCO),
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Fields absent from
// the file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Converter.CropSize < 1 {
		return fmt.Errorf("converter.crop_size must be positive")
	}

	if c.Converter.CropNoise < 0 || c.Converter.CropNoise > 1 {
		return fmt.Errorf("converter.crop_noise must be between 0 and 1")
	}

	if c.Converter.BoxNoise < 0 || c.Converter.BoxNoise > 1 {
		return fmt.Errorf("converter.box_noise must be between 0 and 1")
	}

	if c.Converter.PromptNoise < 0 || c.Converter.PromptNoise > 1 {
		return fmt.Errorf("converter.prompt_noise must be between 0 and 1")
	}

	if _, err := cropper.ParseOversizePolicy(c.Converter.OversizePolicy); err != nil {
		return fmt.Errorf("converter.oversize_policy: %w", err)
	}

	if c.Converter.Resize && c.Converter.ImgSize < 1 {
		return fmt.Errorf("converter.img_size must be positive when resizing")
	}

	if c.Converter.PromptsPerObject < 1 {
		return fmt.Errorf("converter.prompts_per_object must be at least 1")
	}

	if c.Converter.Workers < 1 {
		return fmt.Errorf("converter.workers must be at least 1")
	}

	if c.Split.ValPct < 0 || c.Split.ValPct > 1 {
		return fmt.Errorf("split.val_pct must be between 0 and 1")
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	switch strings.ToLower(c.Output.Format) {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("output.format must be jpg, png or webp")
	}

	if _, err := coords.ParseFormat(c.Output.BoxFormat); err != nil {
		return fmt.Errorf("output.box_format: %w", err)
	}

	return nil
}

// CropConfig returns the crop planner settings
func (c *Config) CropConfig() cropper.CropConfig {
	return cropper.CropConfig{
		CropSize:       c.Converter.CropSize,
		CropNoise:      c.Converter.CropNoise,
		BoxNoise:       c.Converter.BoxNoise,
		Oversize:       cropper.OversizePolicy(c.Converter.OversizePolicy),
		StrictGeometry: c.Converter.StrictGeometry,
	}
}

// LoadEnv reads KEY=value files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from PTB_* environment variables
func (c *Config) ApplyEnv() {
	cv := &c.Converter
	cv.DataDir = getEnv("DATA_DIR", cv.DataDir)
	cv.Annotations = getEnv("ANNOTATIONS", cv.Annotations)
	cv.CropSize = getEnvAsInt("CROP_SIZE", cv.CropSize)
	cv.CropNoise = getEnvAsFloat("CROP_NOISE", cv.CropNoise)
	cv.BoxNoise = getEnvAsFloat("BOX_NOISE", cv.BoxNoise)
	cv.OversizePolicy = getEnv("OVERSIZE_POLICY", cv.OversizePolicy)
	cv.StrictGeometry = getEnvAsBool("STRICT_GEOMETRY", cv.StrictGeometry)
	cv.Resize = getEnvAsBool("RESIZE", cv.Resize)
	cv.ImgSize = getEnvAsInt("IMG_SIZE", cv.ImgSize)
	cv.PromptsPerObject = getEnvAsInt("PROMPTS_PER_OBJECT", cv.PromptsPerObject)
	cv.PromptNoise = getEnvAsFloat("PROMPT_NOISE", cv.PromptNoise)
	cv.Seed = getEnvAsUint64("SEED", cv.Seed)
	cv.Workers = getEnvAsInt("WORKERS", cv.Workers)

	c.Split.Enabled = getEnvAsBool("SPLIT", c.Split.Enabled)
	c.Split.ValPct = getEnvAsFloat("VAL_PCT", c.Split.ValPct)
	c.Split.Seed = getEnvAsUint64("SPLIT_SEED", c.Split.Seed)

	c.Output.OutputDir = getEnv("OUTPUT_DIR", c.Output.OutputDir)
	c.Output.Format = getEnv("FORMAT", c.Output.Format)
	c.Output.Quality = getEnvAsInt("QUALITY", c.Output.Quality)
	c.Output.Lossless = getEnvAsBool("LOSSLESS", c.Output.Lossless)
	c.Output.BoxFormat = getEnv("BOX_FORMAT", c.Output.BoxFormat)

	c.Log.Directory = getEnv("LOG_DIR", c.Log.Directory)
	c.Log.Quiet = getEnvAsBool("QUIET", c.Log.Quiet)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "point-to-box", "config.json")
}
