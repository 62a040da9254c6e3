// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cardinalhq/adminguard/internal/admission"
	"github.com/cardinalhq/adminguard/internal/memgov"
	"github.com/cardinalhq/adminguard/internal/mutbatch"
	"github.com/cardinalhq/adminguard/internal/querycache"
)

// Config aggregates configuration for the governance layer.
// Each field is owned by its respective package.
type Config struct {
	Admission admission.Config  `mapstructure:"admission"`
	Cache     querycache.Config `mapstructure:"cache"`
	Batch     mutbatch.Config   `mapstructure:"batch"`
	Memory    memgov.Config     `mapstructure:"memory"`
	Warmup    WarmupConfig      `mapstructure:"warmup"`
	Database  DatabaseConfig    `mapstructure:"database"`
}

// WarmupConfig drives the cache warm-up cadence.
type WarmupConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// DatabaseConfig locates the shared backing store.
type DatabaseConfig struct {
	URL              string        `mapstructure:"url"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "ADMINGUARD" and the dot character
// in keys is replaced by an underscore. For example, "batch.max_batch_size"
// becomes "ADMINGUARD_BATCH_MAX_BATCH_SIZE".
func Load() (*Config, error) {
	cfg := &Config{
		Admission: admission.DefaultConfig(),
		Cache:     querycache.DefaultConfig(),
		Batch:     mutbatch.DefaultConfig(),
		Memory:    memgov.DefaultConfig(),
		Warmup: WarmupConfig{
			Interval: 15 * time.Minute,
		},
		Database: DatabaseConfig{
			StatementTimeout: 30 * time.Second,
		},
	}

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("ADMINGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
