// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package conf loads nightcal settings from nightcal.yaml, NIGHTCAL_
// environment variables and built-in defaults, in increasing order of
// precedence from defaults to environment.
package conf

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hoxca/nightcal/internal/calib"
	"github.com/hoxca/nightcal/internal/frame"
	"github.com/hoxca/nightcal/internal/stack"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	ConfigName = "nightcal"
	EnvPrefix  = "NIGHTCAL"
)

type LogSettings struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

type DatabaseSettings struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // sqlite or mysql
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

type StackSettings struct {
	Sigma         float64        `mapstructure:"sigma" yaml:"sigma"`
	FlatThreshold float64        `mapstructure:"flatthreshold" yaml:"flatthreshold"`
	MinFrames     map[string]int `mapstructure:"minframes" yaml:"minframes"`
	// Memory budget in MB for loading frames, 0 for 75% of physical memory
	Memory int64 `mapstructure:"memory" yaml:"memory"`
}

type ReduceSettings struct {
	Dialect      string `mapstructure:"dialect" yaml:"dialect"`
	UseOnlyOlder bool   `mapstructure:"useonlyolder" yaml:"useonlyolder"`
	// Compare new bias frames against the current master and flag outliers
	Compare bool `mapstructure:"compare" yaml:"compare"`
	// Parallel frames, 0 to size from CPUs and memory
	Workers int `mapstructure:"workers" yaml:"workers"`
}

type CacheSettings struct {
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type ServerSettings struct {
	Port   int    `mapstructure:"port" yaml:"port"`
	Static string `mapstructure:"static" yaml:"static"`
}

type NightSettings struct {
	// Sun depression in degrees below the horizon that bounds the night
	Depression float64 `mapstructure:"depression" yaml:"depression"`
}

// All nightcal settings
type Settings struct {
	Log      LogSettings      `mapstructure:"log" yaml:"log"`
	Database DatabaseSettings `mapstructure:"database" yaml:"database"`
	// Directory for masters and products
	Processed string         `mapstructure:"processed" yaml:"processed"`
	Stack     StackSettings  `mapstructure:"stack" yaml:"stack"`
	Reduce    ReduceSettings `mapstructure:"reduce" yaml:"reduce"`
	// Grouping and selection attributes per calibration type
	Criteria map[string][]string `mapstructure:"criteria" yaml:"criteria"`
	// Missing master policy per calibration type: ignore, flagbad or reject
	Policies map[string]string  `mapstructure:"policies" yaml:"policies"`
	Cache    CacheSettings      `mapstructure:"cache" yaml:"cache"`
	Server   ServerSettings     `mapstructure:"server" yaml:"server"`
	Night    NightSettings      `mapstructure:"night" yaml:"night"`
	Cameras  frame.CameraConfig `mapstructure:"cameras" yaml:"cameras"`
}

// Directories searched for nightcal.yaml
func ConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigName))
	}
	return append(paths, filepath.Join("/etc", ConfigName))
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName(ConfigName)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaultConfig(v)
	return v
}

// Load settings from the given file, or search the config paths if empty.
// A missing config file is not an error when searching.
func Load(path string) (*Settings, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		for _, p := range ConfigPaths() {
			v.AddConfigPath(p)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Settings with all defaults applied and no file or environment
func Default() *Settings {
	v := viper.New()
	setDefaultConfig(v)
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		panic(err)
	}
	return s
}

// Write the default settings as YAML
func WriteDefault(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Default()); err != nil {
		return err
	}
	return enc.Close()
}

// Check settings for consistency
func (s *Settings) Validate() error {
	var errs []error
	switch strings.ToLower(s.Database.Driver) {
	case "", "sqlite", "sqlite3", "mysql":
	default:
		errs = append(errs, fmt.Errorf("database.driver: unsupported driver %q", s.Database.Driver))
	}
	if s.Stack.Sigma <= 0 {
		errs = append(errs, fmt.Errorf("stack.sigma must be positive, got %g", s.Stack.Sigma))
	}
	if _, err := s.MinFrames(); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.KindCriteria(); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.KindPolicies(); err != nil {
		errs = append(errs, err)
	}
	if _, err := frame.DialectFor(s.Reduce.Dialect); err != nil {
		errs = append(errs, fmt.Errorf("reduce.dialect: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Settings) MinFrames() (map[frame.Kind]int, error) {
	out := make(map[frame.Kind]int, len(s.Stack.MinFrames))
	for name, n := range s.Stack.MinFrames {
		k, err := frame.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("stack.minframes: %w", err)
		}
		out[k] = n
	}
	return out, nil
}

func (s *Settings) KindCriteria() (map[frame.Kind][]string, error) {
	out := make(map[frame.Kind][]string, len(s.Criteria))
	for name, c := range s.Criteria {
		k, err := frame.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("criteria: %w", err)
		}
		out[k] = c
	}
	return out, nil
}

func (s *Settings) KindPolicies() (map[frame.Kind]calib.Policy, error) {
	out := calib.DefaultPolicies()
	for name, p := range s.Policies {
		k, err := frame.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("policies: %w", err)
		}
		if out[k], err = calib.ParsePolicy(p); err != nil {
			return nil, fmt.Errorf("policies.%s: %w", name, err)
		}
	}
	return out, nil
}

// Stacking parameters, writing masters below the processed directory
func (s *Settings) StackParams() (*stack.Params, error) {
	minFrames, err := s.MinFrames()
	if err != nil {
		return nil, err
	}
	criteria, err := s.KindCriteria()
	if err != nil {
		return nil, err
	}
	return &stack.Params{
		Sigma:         s.Stack.Sigma,
		MinFrames:     minFrames,
		Criteria:      criteria,
		FlatThreshold: s.Stack.FlatThreshold,
		OutDir:        s.Processed,
	}, nil
}

// Dialect used to interpret raw headers
func (s *Settings) Dialect() frame.Dialect {
	d, err := frame.DialectFor(s.Reduce.Dialect)
	if err != nil {
		return frame.LCO{}
	}
	return d
}
