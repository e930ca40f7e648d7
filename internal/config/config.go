package config

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFilename is looked up in the project root when --config is not given.
const DefaultConfigFilename = ".assetpipe.yaml"

// Mode is the build profile. Any value is accepted; only production changes behavior.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// IsProduction reports whether minification is on and the dev caches are off.
func (m Mode) IsProduction() bool {
	return m == ModeProduction
}

// Known reports whether m is one of the documented modes.
func (m Mode) Known() bool {
	return m == ModeDevelopment || m == ModeProduction
}

// Group is one asset group of the configuration table.
type Group struct {
	Base    string   `yaml:"base"`    // Directory relative paths are computed against
	Src     []string `yaml:"src"`     // Positive globs
	Exclude []string `yaml:"exclude"` // Negated globs, each prefixed with '!'
	Dest    string   `yaml:"dest"`    // Output directory
}

// Globs returns the positive globs followed by the negated ones.
func (g Group) Globs() []string {
	globs := make([]string, 0, len(g.Src)+len(g.Exclude))
	globs = append(globs, g.Src...)
	return append(globs, g.Exclude...)
}

// Rule maps a source pattern to a chain of transforms, applied right to left.
type Rule struct {
	Test    string   `yaml:"test"`    // Regular expression matched against the absolute path
	Exclude string   `yaml:"exclude"` // Optional regular expression that disables the rule
	Use     []string `yaml:"use"`     // Loader names: style, css, sass, babel, lint, pug
}

// Bundle configures the script bundler.
type Bundle struct {
	Target  string            `yaml:"target"`  // Language level scripts are downleveled to
	Rules   []Rule            `yaml:"rules"`   // Evaluated in order, first match wins
	Provide map[string]string `yaml:"provide"` // Global identifier -> module
}

// Config holds the whole build description.
type Config struct {
	Root          string   `yaml:"-"`             // Project root, all other paths are relative to it
	Mode          Mode     `yaml:"-"`             // Fixed from the command line
	LogLevel      string   `yaml:"log_level"`     // Logging level: debug, info, warn, error
	Notifications bool     `yaml:"notifications"` // If true, send desktop notifications on build errors
	Daemonize     bool     `yaml:"daemonize"`     // If true, run the preview server as a daemon
	Port          int      `yaml:"port"`          // Preview server port
	SassBinary    string   `yaml:"sass_binary"`   // Dart Sass executable (must support --embedded)
	Browsers      []string `yaml:"browsers"`      // Prefixing targets, e.g. "chrome58", "ie11"

	Base string `yaml:"base"`
	Dest string `yaml:"dest"`

	Templates Group  `yaml:"templates"`
	Styles    Group  `yaml:"styles"`
	Scripts   Group  `yaml:"scripts"`
	Statics   Group  `yaml:"statics"`
	Bundle    Bundle `yaml:"bundle"`
}

// Default returns the built-in table for the given mode.
func Default(mode Mode) *Config {
	if mode == "" {
		mode = ModeDevelopment
	}

	return &Config{
		Root:          ".",
		Mode:          mode,
		LogLevel:      "info",
		Notifications: true,
		Port:          3000,
		SassBinary:    "sass",
		Browsers:      []string{"chrome58", "edge16", "firefox57", "safari11", "ios11"},
		Base:          "src",
		Dest:          "htdocs",
		Templates: Group{
			Base:    "src",
			Src:     []string{"src/**/*.{pug,html}"},
			Exclude: []string{"!src/**/_*"},
			Dest:    "htdocs",
		},
		Styles: Group{
			Base: "src/assets/css",
			Src:  []string{"src/assets/css/**/*.scss"},
			Dest: "htdocs/css",
		},
		Scripts: Group{
			Base:    "src/assets/js",
			Src:     []string{"src/assets/js/**/*"},
			Exclude: []string{"!src/assets/js/**/_*", "!src/assets/js/js/modules/**/*"},
			Dest:    "htdocs/js",
		},
		Statics: Group{
			Src:     []string{"src/static/**/*"},
			Exclude: []string{"!src/static/**/_*"},
			Dest:    "htdocs",
		},
		Bundle: Bundle{
			Target: "es2015",
			Rules: []Rule{
				// css from dependencies is injected with a style tag, urls untouched
				{Test: `node_modules/.+\.css$`, Use: []string{"style", "css"}},
				{Test: `\.m?js$`, Exclude: `node_modules`, Use: []string{"babel", "lint"}},
				{Test: `\.pug$`, Exclude: `node_modules`, Use: []string{"babel", "pug"}},
				{Test: `\.(sass|scss)$`, Use: []string{"style", "css", "sass"}},
			},
			Provide: map[string]string{
				"$":      "jquery",
				"jQuery": "jquery",
			},
		},
	}
}

// LoadConfig overlays the YAML file at path on top of Default(mode).
func LoadConfig(path string, mode Mode) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", path)
	}

	cfg := Default(mode)
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, eris.Wrap(err, "failed to parse YAML")
	}
	return cfg, nil
}

// Path resolves a configuration path against the project root.
func (c *Config) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(c.Root, filepath.FromSlash(rel))
}
