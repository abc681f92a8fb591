// Package config binds cmd/kvnode's flags and KVSHARD_* environment
// variables into a single Config value, the way MaxIOFS's internal/config
// binds its own flags/env through viper — generalized here from MaxIOFS's
// YAML-config-file-first approach to the teacher's flag-first style, since
// kvshard's process interface (spec.md §6) is flags/env only, no config
// file.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is a single node's startup configuration.
type Config struct {
	Self    string `mapstructure:"self"`
	Addr    string `mapstructure:"addr"`
	DataDir string `mapstructure:"data_dir"`
	Cluster string `mapstructure:"cluster"`
}

// ClusterURLs splits Cluster on commas, dropping empty entries.
func (c Config) ClusterURLs() []string {
	if c.Cluster == "" {
		return nil
	}
	var urls []string
	for _, u := range strings.Split(c.Cluster, ",") {
		u = strings.TrimSpace(u)
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// Load binds cmd's flags and the KVSHARD_ environment prefix into a Config.
func Load(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := bindFlags(cmd, v); err != nil {
		return Config{}, fmt.Errorf("config: bind flags: %w", err)
	}

	v.SetEnvPrefix("KVSHARD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("self", "")
	v.SetDefault("addr", ":8080")
	v.SetDefault("data_dir", "")
	v.SetDefault("cluster", "")
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"self":     "self",
		"addr":     "addr",
		"data-dir": "data_dir",
		"cluster":  "cluster",
	}
	for flag, key := range flags {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}
