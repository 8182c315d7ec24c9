package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LoadedFiles []string       `yaml:"-"`
	Include     []string       `yaml:"include"`
	Loggers     []LoggerConfig `yaml:"loggers"`
	Telnet      TelnetConfig   `yaml:"telnet"`
	SSH         SSHConfig      `yaml:"ssh"`
	Transfer    TransferConfig `yaml:"transfer"`
}

type LoggerConfig struct {
	Stdout     bool   `yaml:"stdout,omitempty"`
	Stderr     bool   `yaml:"stderr,omitempty"`
	File       string `yaml:"file,omitempty"`
	Level      string `yaml:"level"`
	Source     bool   `yaml:"source"`
	HideTime   bool   `yaml:"hideTime,omitempty"`
	TimeFormat string `yaml:"timeFormat,omitempty"`
}

type TelnetConfig struct {
	DialTimeout   Duration `yaml:"dialTimeout"`
	PollInterval  Duration `yaml:"pollInterval"`
	StrictOptions bool     `yaml:"strictOptions"`
}

type SSHConfig struct {
	User       string `yaml:"user"`
	Password   string `yaml:"password,omitempty"`
	KeyFile    string `yaml:"keyFile,omitempty"`
	KnownHosts string `yaml:"knownHosts,omitempty"`
	Term       string `yaml:"term,omitempty"`
}

type TransferConfig struct {
	Protocol         string   `yaml:"protocol"`
	Timeout          Duration `yaml:"timeout"`
	MaxRetries       int      `yaml:"maxRetries"`
	DownloadDir      string   `yaml:"downloadDir"`
	DefaultFileName  string   `yaml:"defaultFileName"`
	ProgressInterval Duration `yaml:"progressInterval"`
}

// Duration accepts Go duration strings ("1500ms", "10s") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", value.Line, value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LoadedFiles: []string{},
		Loggers: []LoggerConfig{
			{Stderr: true, Level: "warn"},
		},
		Telnet: TelnetConfig{
			DialTimeout:  Duration(5 * time.Second),
			PollInterval: Duration(time.Millisecond),
		},
		SSH: SSHConfig{
			Term: "ansi",
		},
		Transfer: TransferConfig{
			Protocol:         "",
			Timeout:          Duration(10 * time.Second),
			MaxRetries:       10,
			DownloadDir:      "downloads",
			DefaultFileName:  "xmodem.bin",
			ProgressInterval: Duration(100 * time.Millisecond),
		},
	}
}

// Load reads filename, and any files it includes, over the defaults.
func Load(filename string) (*Config, error) {
	cfg := Default()

	// Keep track of processed files to avoid include loops
	processed := make(map[string]bool)

	if err := loadRecursive(filename, cfg, processed); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRecursive(filename string, cfg *Config, processed map[string]bool) error {
	absPath, err := filepath.Abs(filename)
	if err != nil {
		return err
	}

	if processed[absPath] {
		return nil
	}
	processed[absPath] = true
	cfg.LoadedFiles = append(cfg.LoadedFiles, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return err
	}

	// Expand environment variables so secrets can stay out of the file
	expandedData := []byte(os.ExpandEnv(string(data)))

	var tempCfg struct {
		Include []string `yaml:"include"`
	}
	if err := yaml.Unmarshal(expandedData, &tempCfg); err != nil {
		return fmt.Errorf("%s: %w", absPath, err)
	}

	baseDir := filepath.Dir(absPath)
	for _, includePath := range tempCfg.Include {
		fullPath := includePath
		if !filepath.IsAbs(includePath) {
			fullPath = filepath.Join(baseDir, includePath)
		}

		if err := loadRecursive(fullPath, cfg, processed); err != nil {
			return fmt.Errorf("failed to load included config %s: %w", fullPath, err)
		}
	}

	if err := yaml.Unmarshal(expandedData, cfg); err != nil {
		return fmt.Errorf("%s: %w", absPath, err)
	}
	return nil
}
