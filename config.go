package spritemerge

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/gogpu/spritemerge/surface"
)

// Config holds the registry configuration.
type Config struct {
	// Mode selects CPU- or GPU-backed atlases for new surfaces.
	// Default: ModeGPU
	Mode surface.Mode

	// Enabled turns merging on. When false every sprite draws with its own texture.
	// Default: true
	Enabled bool

	// MaxActionsPerTick caps merges per GPU-mode atlas per tick. 0 means no cap.
	// Default: 8
	MaxActionsPerTick int

	// TimeBudget is the wall-clock time a tick may spend merging.
	// Default: 150µs
	TimeBudget time.Duration

	// MaxAtlasCount is the number of compatible atlases at which unreferenced
	// ones are trimmed before another is created. 0 disables trimming.
	// Default: 8
	MaxAtlasCount int

	// DefaultAtlasWidth and DefaultAtlasHeight size new atlases.
	// Default: 2048 x 2048
	DefaultAtlasWidth  int
	DefaultAtlasHeight int

	// MaxAtlasWidth and MaxAtlasHeight bound the sprites that are packed.
	// Larger sprites draw with their own texture.
	// Default: 1024 x 1024
	MaxAtlasWidth  int
	MaxAtlasHeight int

	// Device names the registered surface device. Empty selects the best
	// available one.
	Device string
}

// defaultMaxSprite is the default limit for packed sprite sides.
const defaultMaxSprite = 1024

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Mode:               surface.ModeGPU,
		Enabled:            true,
		MaxActionsPerTick:  8,
		TimeBudget:         150 * time.Microsecond,
		MaxAtlasCount:      8,
		DefaultAtlasWidth:  2048,
		DefaultAtlasHeight: 2048,
		MaxAtlasWidth:      defaultMaxSprite,
		MaxAtlasHeight:     defaultMaxSprite,
	}
}

// maxAtlasDimension is the largest atlas side accepted.
const maxAtlasDimension = 16384

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Mode != surface.ModeGPU && c.Mode != surface.ModeCPU {
		return &ConfigError{Field: "Mode", Reason: "must be cpu or gpu"}
	}
	if c.MaxActionsPerTick < 0 {
		return &ConfigError{Field: "MaxActionsPerTick", Reason: "must be non-negative"}
	}
	if c.TimeBudget < 0 {
		return &ConfigError{Field: "TimeBudget", Reason: "must be non-negative"}
	}
	if c.MaxAtlasCount < 0 {
		return &ConfigError{Field: "MaxAtlasCount", Reason: "must be non-negative"}
	}
	if c.DefaultAtlasWidth < 1 || c.DefaultAtlasWidth > maxAtlasDimension {
		return &ConfigError{Field: "DefaultAtlasWidth", Reason: "must be between 1 and 16384"}
	}
	if c.DefaultAtlasHeight < 1 || c.DefaultAtlasHeight > maxAtlasDimension {
		return &ConfigError{Field: "DefaultAtlasHeight", Reason: "must be between 1 and 16384"}
	}
	if c.MaxAtlasWidth < 1 || c.MaxAtlasWidth > c.DefaultAtlasWidth {
		return &ConfigError{Field: "MaxAtlasWidth", Reason: "must be between 1 and DefaultAtlasWidth"}
	}
	if c.MaxAtlasHeight < 1 || c.MaxAtlasHeight > c.DefaultAtlasHeight {
		return &ConfigError{Field: "MaxAtlasHeight", Reason: "must be between 1 and DefaultAtlasHeight"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "spritemerge: invalid config." + e.Field + ": " + e.Reason
}

// Console variable names understood by Config.Set and Config.Get.
const (
	VarMode              = "sprite.merge.mode"
	VarEnabled           = "sprite.merge.enabled"
	VarMaxActionsPerTick = "sprite.merge.max_actions_per_tick"
	VarTimeBudget        = "sprite.merge.time_budget"
	VarMaxAtlasCount     = "sprite.merge.max_atlas_count"
	VarAtlasWidth        = "sprite.merge.atlas_width"
	VarAtlasHeight       = "sprite.merge.atlas_height"
)

// ConsoleVariable describes one runtime-tunable setting.
type ConsoleVariable struct {
	Name string
	Help string
}

var consoleVariables = []ConsoleVariable{
	{VarMode, "merge backend: cpu or gpu"},
	{VarEnabled, "merge sprites into atlases (true/false)"},
	{VarMaxActionsPerTick, "merges per GPU atlas per tick, 0 for no cap"},
	{VarTimeBudget, "time spent merging per tick, in seconds or as a duration (150us)"},
	{VarMaxAtlasCount, "compatible atlases kept before unreferenced ones are trimmed"},
	{VarAtlasWidth, "width of new atlases"},
	{VarAtlasHeight, "height of new atlases"},
}

// ConsoleVariables lists the variables accepted by Set, in a stable order.
func ConsoleVariables() []ConsoleVariable {
	out := make([]ConsoleVariable, len(consoleVariables))
	copy(out, consoleVariables)
	return out
}

// Set assigns a console variable from its string form. The configuration is
// left unchanged if the result would not validate.
func (c *Config) Set(name, value string) error {
	next := *c
	var err error
	switch name {
	case VarMode:
		err = next.Mode.UnmarshalText([]byte(value))
	case VarEnabled:
		next.Enabled, err = strconv.ParseBool(value)
	case VarMaxActionsPerTick:
		next.MaxActionsPerTick, err = strconv.Atoi(value)
	case VarTimeBudget:
		next.TimeBudget, err = parseBudget(value)
	case VarMaxAtlasCount:
		next.MaxAtlasCount, err = strconv.Atoi(value)
	case VarAtlasWidth:
		next.DefaultAtlasWidth, err = strconv.Atoi(value)
		next.MaxAtlasWidth = spriteLimit(c.DefaultAtlasWidth, c.MaxAtlasWidth, next.DefaultAtlasWidth, defaultMaxSprite)
	case VarAtlasHeight:
		next.DefaultAtlasHeight, err = strconv.Atoi(value)
		next.MaxAtlasHeight = spriteLimit(c.DefaultAtlasHeight, c.MaxAtlasHeight, next.DefaultAtlasHeight, defaultMaxSprite)
	default:
		return fmt.Errorf("spritemerge: unknown console variable %q", name)
	}
	if err != nil {
		return fmt.Errorf("spritemerge: %s: %w", name, err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

// spriteLimit returns the sprite size limit after an atlas side changes from
// oldAtlas to newAtlas. The limit never exceeds the atlas. A limit that was
// pinned to the old atlas side grows back with the atlas, up to the larger of
// its old value and fallback.
func spriteLimit(oldAtlas, oldLimit, newAtlas, fallback int) int {
	if newAtlas > oldAtlas && oldLimit == oldAtlas {
		return min(newAtlas, max(oldLimit, fallback))
	}
	return min(oldLimit, newAtlas)
}

// Get returns the string form of a console variable.
func (c *Config) Get(name string) (string, error) {
	switch name {
	case VarMode:
		return c.Mode.String(), nil
	case VarEnabled:
		return strconv.FormatBool(c.Enabled), nil
	case VarMaxActionsPerTick:
		return strconv.Itoa(c.MaxActionsPerTick), nil
	case VarTimeBudget:
		return strconv.FormatFloat(c.TimeBudget.Seconds(), 'g', -1, 64), nil
	case VarMaxAtlasCount:
		return strconv.Itoa(c.MaxAtlasCount), nil
	case VarAtlasWidth:
		return strconv.Itoa(c.DefaultAtlasWidth), nil
	case VarAtlasHeight:
		return strconv.Itoa(c.DefaultAtlasHeight), nil
	default:
		return "", fmt.Errorf("spritemerge: unknown console variable %q", name)
	}
}

// parseBudget accepts plain seconds ("0.00015") or a Go duration ("150us").
func parseBudget(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(math.Round(secs * float64(time.Second))), nil
	}
	return time.ParseDuration(s)
}

// configFile is the on-disk TOML layout of Config.
type configFile struct {
	Mode              string `toml:"mode"`
	Enabled           bool   `toml:"enabled"`
	MaxActionsPerTick int    `toml:"max_actions_per_tick"`
	TimeBudget        string `toml:"time_budget"`
	MaxAtlasCount     int    `toml:"max_atlas_count"`
	AtlasWidth        int    `toml:"atlas_width"`
	AtlasHeight       int    `toml:"atlas_height"`
	MaxSpriteWidth    int    `toml:"max_sprite_width"`
	MaxSpriteHeight   int    `toml:"max_sprite_height"`
	Device            string `toml:"device"`
}

func (c *Config) toFile() configFile {
	return configFile{
		Mode:              c.Mode.String(),
		Enabled:           c.Enabled,
		MaxActionsPerTick: c.MaxActionsPerTick,
		TimeBudget:        c.TimeBudget.String(),
		MaxAtlasCount:     c.MaxAtlasCount,
		AtlasWidth:        c.DefaultAtlasWidth,
		AtlasHeight:       c.DefaultAtlasHeight,
		MaxSpriteWidth:    c.MaxAtlasWidth,
		MaxSpriteHeight:   c.MaxAtlasHeight,
		Device:            c.Device,
	}
}

// LoadConfig reads a TOML configuration file. Keys missing from the file keep
// their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	def := DefaultConfig()
	f := def.toFile()
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return Config{}, fmt.Errorf("spritemerge: read config %s: %w", path, err)
	}

	cfg := Config{
		Enabled:            f.Enabled,
		MaxActionsPerTick:  f.MaxActionsPerTick,
		MaxAtlasCount:      f.MaxAtlasCount,
		DefaultAtlasWidth:  f.AtlasWidth,
		DefaultAtlasHeight: f.AtlasHeight,
		MaxAtlasWidth:      f.MaxSpriteWidth,
		MaxAtlasHeight:     f.MaxSpriteHeight,
		Device:             f.Device,
	}
	if err := cfg.Mode.UnmarshalText([]byte(f.Mode)); err != nil {
		return Config{}, &ConfigError{Field: "Mode", Reason: err.Error()}
	}
	budget, err := parseBudget(f.TimeBudget)
	if err != nil {
		return Config{}, &ConfigError{Field: "TimeBudget", Reason: err.Error()}
	}
	cfg.TimeBudget = budget

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the configuration as TOML.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	f := c.toFile()
	if err := toml.NewEncoder(&buf).Encode(&f); err != nil {
		return fmt.Errorf("spritemerge: encode config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("spritemerge: write config %s: %w", path, err)
	}
	return nil
}
