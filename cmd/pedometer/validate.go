package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/pedometer/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the pedometer configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration as YAML with changed values highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	// If dump requested, show full configuration with changed values highlighted
	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		if err := dumpConfig(cfg, config.Defaults()); err != nil {
			return err
		}

		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))
	}

	return nil
}

// findUnknownKeys loads the config file and checks for keys without a default
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// getValidKeys returns every key that has a default
func getValidKeys() map[string]bool {
	v := viper.New()
	config.SetDefaults(v)

	keys := make(map[string]bool)
	for _, key := range v.AllKeys() {
		keys[key] = true
	}
	return keys
}

// dumpConfig prints cfg as YAML. Lines whose value differs from the default
// are highlighted.
func dumpConfig(cfg, defaultCfg *config.Config) error {
	redacted := *cfg
	redacted.Storage.Redis.Password = redactPassword(cfg.Storage.Redis.Password)

	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	changed, err := changedKeys(cfg, defaultCfg)
	if err != nil {
		return err
	}

	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)

	var path []string
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		key, depth := yamlKey(line)
		if key != "" {
			path = append(path[:min(depth, len(path))], key)
		}
		if changed[strings.Join(path, ".")] {
			_, _ = yellow.Println(line)
		} else {
			_, _ = green.Println(line)
		}
	}
	return nil
}

// changedKeys flattens both configurations and returns the dotted keys whose
// values differ.
func changedKeys(cfg, defaultCfg *config.Config) (map[string]bool, error) {
	current, err := flattenConfig(cfg)
	if err != nil {
		return nil, err
	}
	defaults, err := flattenConfig(defaultCfg)
	if err != nil {
		return nil, err
	}

	changed := make(map[string]bool)
	for key, value := range current {
		if !reflect.DeepEqual(value, defaults[key]) {
			changed[key] = true
		}
	}
	return changed, nil
}

func flattenConfig(cfg *config.Config) (map[string]interface{}, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal configuration: %w", err)
	}

	var tree map[string]interface{}
	if err := yaml.Unmarshal(out, &tree); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	flat := make(map[string]interface{})
	flatten("", tree, flat)
	return flat, nil
}

func flatten(prefix string, tree map[string]interface{}, flat map[string]interface{}) {
	for key, value := range tree {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			flatten(full, nested, flat)
			continue
		}
		flat[full] = value
	}
}

// yamlKey returns the mapping key on a YAML line and its nesting depth, or
// "" for list items and continuation lines.
func yamlKey(line string) (string, int) {
	trimmed := strings.TrimLeft(line, " ")
	if trimmed == "" || strings.HasPrefix(trimmed, "- ") {
		return "", 0
	}
	idx := strings.Index(trimmed, ":")
	if idx <= 0 {
		return "", 0
	}
	// yaml.v3 indents by four spaces.
	return trimmed[:idx], (len(line) - len(trimmed)) / 4
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
