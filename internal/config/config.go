// Package config loads apex-go settings from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Benny93/apex-go/internal/graph"
	"github.com/Benny93/apex-go/internal/toolchain"
)

// DefaultFile is the config file looked up in the working directory when no
// explicit path is given.
const DefaultFile = ".apex.yaml"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("strategy", func(fl validator.FieldLevel) bool {
		_, err := graph.ParseStrategy(fl.Field().String())
		return err == nil
	})
	return v
}

// Config holds every setting a run can take from a file.
type Config struct {
	// BuildDir receives every intermediate artifact and log.
	BuildDir string `yaml:"build_dir" validate:"required"`

	// Output is the extracted executable.
	Output string `yaml:"output" validate:"required"`

	// Entry is the function the extracted program starts from.
	Entry string `yaml:"entry" validate:"required"`

	// Strategy is the path search strategy of the reachability stage.
	Strategy string `yaml:"strategy" validate:"strategy"`

	// Export renders call graphs of the input, linked and extracted programs.
	Export bool `yaml:"export"`

	Tools     toolchain.Tools `yaml:"tools"`
	Transform Transform       `yaml:"transform"`
	History   History         `yaml:"history"`
}

// Transform configures the opt plugin that prunes the linked program.
type Transform struct {
	// Plugin is the shared object implementing the pass.
	Plugin string `yaml:"plugin" validate:"required"`

	// Pass is the pass name given to opt.
	Pass string `yaml:"pass" validate:"required"`

	// NewPassManager loads the plugin with -load-pass-plugin/-passes instead
	// of the legacy -load/-<pass> form.
	NewPassManager bool `yaml:"new_pass_manager"`

	// Flag names for the target location and entry point. The stock pass
	// always starts from main and has no entry option, so EntryFlag is
	// empty by default and the flag is left off the command line.
	FileFlag  string `yaml:"file_flag" validate:"required"`
	LineFlag  string `yaml:"line_flag" validate:"required"`
	EntryFlag string `yaml:"entry_flag"`

	// ExtraArgs are appended to the opt command line.
	ExtraArgs []string `yaml:"extra_args"`
}

// History configures the run history database.
type History struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
	Limit   int    `yaml:"limit" validate:"gte=0"`
}

// Default returns the settings used when no config file exists.
func Default() *Config {
	return &Config{
		BuildDir: "build",
		Output:   "extracted",
		Entry:    "main",
		Strategy: "bfs",
		Tools:    toolchain.DefaultTools(),
		Transform: Transform{
			Plugin:   "src/build/apex/libAPEXPass.so",
			Pass:     "apex",
			FileFlag: "file",
			LineFlag: "line",
		},
		History: History{
			Enabled: true,
			Path:    ".apex/badger",
			Limit:   20,
		},
	}
}

// Load reads the config at path. An empty path loads DefaultFile from the
// working directory if it exists and falls back to Default otherwise.
// Values missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the config against its struct tags.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
