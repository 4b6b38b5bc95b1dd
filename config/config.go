package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/maastricht-university/emoface/expression"
	"github.com/maastricht-university/emoface/extractor"
)

type Server struct {
	Addr           string   `yaml:"addr" mapstructure:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	WriteTimeout   int      `yaml:"write_timeout" mapstructure:"write_timeout"`
}

type LLM struct {
	Provider         string  `yaml:"provider" mapstructure:"provider"`
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey           string  `yaml:"api_key" mapstructure:"api_key"`
	Model            string  `yaml:"model" mapstructure:"model"`
	Temperature      float64 `yaml:"temperature" mapstructure:"temperature"`
	Timeout          int     `yaml:"timeout" mapstructure:"timeout"` // seconds until response headers
	History          bool    `yaml:"history" mapstructure:"history"`
	SystemPrompt     string  `yaml:"system_prompt" mapstructure:"system_prompt"`
	SystemPromptFile string  `yaml:"system_prompt_file" mapstructure:"system_prompt_file"`
}

// Expression selects a preset and optionally replaces parts of it.
type Expression struct {
	Preset        string                `yaml:"preset" mapstructure:"preset"`
	KeyframesFile string                `yaml:"keyframes_file,omitempty" mapstructure:"keyframes_file"`
	Keyframes     []expression.Keyframe `yaml:"keyframes,omitempty" mapstructure:"keyframes"`
	Weighting     *expression.Weighting `yaml:"weighting,omitempty" mapstructure:"weighting"`
	Overrides     []expression.Override `yaml:"overrides,omitempty" mapstructure:"overrides"`
}

type Extractor struct {
	Preset    string            `yaml:"preset" mapstructure:"preset"`
	Pattern   string            `yaml:"pattern,omitempty" mapstructure:"pattern"`
	Scale     float64           `yaml:"scale,omitempty" mapstructure:"scale"`
	Threshold int               `yaml:"threshold,omitempty" mapstructure:"threshold"`
	MaxBuffer int               `yaml:"max_buffer,omitempty" mapstructure:"max_buffer"`
	Preamble  string            `yaml:"preamble,omitempty" mapstructure:"preamble"`
	Blocks    []extractor.Block `yaml:"blocks,omitempty" mapstructure:"blocks"`
}

type Root struct {
	Pipeline struct {
		Name      string `yaml:"name" mapstructure:"name"`
		Version   string `yaml:"version" mapstructure:"version"`
		LogLvl    string `yaml:"log_level" mapstructure:"log_level"`
		LogFormat string `yaml:"log_format" mapstructure:"log_format"`
	} `yaml:"pipeline" mapstructure:"pipeline"`
	Server     Server     `yaml:"server" mapstructure:"server"`
	LLM        LLM        `yaml:"llm" mapstructure:"llm"`
	Expression Expression `yaml:"expression" mapstructure:"expression"`
	Extractor  Extractor  `yaml:"extractor" mapstructure:"extractor"`
	Paths      struct {
		Static  string `yaml:"static" mapstructure:"static"`
		Outputs string `yaml:"outputs" mapstructure:"outputs"`
	} `yaml:"paths" mapstructure:"paths"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.name", "emoface")
	v.SetDefault("pipeline.log_level", "info")
	v.SetDefault("pipeline.log_format", "text")
	v.SetDefault("server.addr", "127.0.0.1:5000")
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.base_url", "http://127.0.0.1:11434")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "qwen3:8b")
	v.SetDefault("llm.timeout", 120)
	v.SetDefault("llm.history", true)
	v.SetDefault("expression.preset", "default")
	v.SetDefault("extractor.preset", "tag")
	v.SetDefault("paths.static", "static")
	v.SetDefault("paths.outputs", "outputs")
}

// Load reads path, or the first config file found the usual way when path
// is empty. EMOFACE_* environment variables override file values.
func Load(v *viper.Viper, path string) (*Root, error) {
	setDefaults(v)
	v.SetEnvPrefix("EMOFACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = find()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	var cfg Root
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	if err := cfg.resolveFiles(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func find() string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	var guess []string = []string{
		filepath.Join("config", env, "config.yaml"),
		filepath.Join("src", "shared", "config.yaml"),
	}
	for _, p := range guess {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

type keyframeFile struct {
	Keyframes []expression.Keyframe `yaml:"keyframes"`
}

func (r *Root) resolveFiles(base string) error {
	rel := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	if f := r.Expression.KeyframesFile; f != "" {
		fd, err := os.Open(rel(f))
		if err != nil {
			return fmt.Errorf("keyframes: %w", err)
		}
		defer fd.Close()
		var kf keyframeFile
		if err := yaml.NewDecoder(fd).Decode(&kf); err != nil {
			return fmt.Errorf("keyframes %s: %w", f, err)
		}
		r.Expression.Keyframes = kf.Keyframes
	}
	if f := r.LLM.SystemPromptFile; f != "" {
		b, err := os.ReadFile(rel(f))
		if err != nil {
			return fmt.Errorf("system prompt: %w", err)
		}
		r.LLM.SystemPrompt = string(b)
	}
	return nil
}

// ExpressionConfig layers the configured keyframes, weighting and overrides
// on top of the selected preset.
func (r *Root) ExpressionConfig() (expression.Config, error) {
	c, err := expression.Preset(r.Expression.Preset)
	if err != nil {
		return expression.Config{}, err
	}
	if len(r.Expression.Keyframes) > 0 {
		c.Keyframes = r.Expression.Keyframes
		// preset clusters name preset labels; a custom table brings its own
		c.Overrides = nil
	}
	if r.Expression.Weighting != nil {
		c.Weighting = *r.Expression.Weighting
	}
	if r.Expression.Overrides != nil {
		c.Overrides = r.Expression.Overrides
	}
	return c, nil
}

func (r *Root) GrammarConfig() (extractor.GrammarConfig, error) {
	x := r.Extractor
	g, err := extractor.GrammarPreset(x.Preset)
	if err != nil {
		return extractor.GrammarConfig{}, err
	}
	if x.Pattern != "" {
		g.Pattern = x.Pattern
	}
	if x.Scale != 0 {
		g.Scale = x.Scale
	}
	if x.Threshold != 0 {
		g.Threshold = x.Threshold
	}
	if x.MaxBuffer != 0 {
		g.MaxBuffer = x.MaxBuffer
	}
	if x.Preamble != "" {
		g.Preamble = extractor.Preamble(x.Preamble)
	}
	if x.Blocks != nil {
		g.Blocks = x.Blocks
	}
	return g, nil
}

func (r *Root) Validate() error {
	var errs []error
	if _, err := r.ExpressionConfig(); err != nil {
		errs = append(errs, err)
	}
	if _, err := r.GrammarConfig(); err != nil {
		errs = append(errs, err)
	}
	switch r.LLM.Provider {
	case "ollama", "openai":
	default:
		errs = append(errs, fmt.Errorf("llm: unknown provider %q", r.LLM.Provider))
	}
	if r.LLM.Model == "" {
		errs = append(errs, errors.New("llm: model is required"))
	}
	return errors.Join(errs...)
}

func Dump(w io.Writer, r *Root) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

func DurSeconds(n int) time.Duration { return time.Duration(n) * time.Second }
