// Package config provides the default corecontract.ConfigProvider, a YAML
// file loaded with gopkg.in/yaml.v3, grounded on the teacher's
// internal/cli.loadConfig (a flat os.ReadFile + yaml.Unmarshal into a
// struct with yaml tags). The grammar itself (what a "destination" or
// "source" block looks like) is intentionally out of scope, per the
// source specification's own non-goals; this package only supplies the
// scalar knobs corecontract.ConfigProvider asks for.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/logrelay/pkg/corecontract"
)

// File is the on-disk shape of a configuration file. Defaults are applied
// in Load for any field left at its YAML zero value, mirroring the
// defaulting that NewWAL does for bufferSize/flushInterval in the teacher.
type File struct {
	Queue struct {
		Capacity     int  `yaml:"capacity"`
		UseBacklog   bool `yaml:"use_backlog"`
		ThrottleRate int  `yaml:"throttle_rate"`
	} `yaml:"queue"`

	Destination struct {
		BatchLines        int `yaml:"batch_lines"`
		BatchTimeoutMS    int `yaml:"batch_timeout_ms"`
		ReopenSec         int `yaml:"reopen_sec"`
		MaxRetries        int `yaml:"max_retries"`
		MaxRetriesOnError int `yaml:"max_retries_on_error"`
		NumWorkers        int `yaml:"num_workers"`
	} `yaml:"destination"`

	MarkMode string `yaml:"mark_mode"`
}

// Provider is a corecontract.ConfigProvider backed by a loaded File.
type Provider struct {
	f File
}

// Load reads and parses path, applying defaults for any field left unset.
func Load(path string) (*Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	applyDefaults(&f)
	return &Provider{f: f}, nil
}

// FromFile wraps an already-parsed File, applying the same defaults Load
// does. Useful for tests and for embedders that build configuration
// programmatically instead of from disk.
func FromFile(f File) *Provider {
	applyDefaults(&f)
	return &Provider{f: f}
}

func applyDefaults(f *File) {
	if f.Queue.Capacity <= 0 {
		f.Queue.Capacity = 10000
	}
	if f.Destination.BatchLines <= 0 {
		f.Destination.BatchLines = 1
	}
	if f.Destination.BatchTimeoutMS <= 0 {
		f.Destination.BatchTimeoutMS = 1000
	}
	if f.Destination.ReopenSec <= 0 {
		f.Destination.ReopenSec = 60
	}
	if f.Destination.MaxRetries <= 0 {
		f.Destination.MaxRetries = 3
	}
	if f.Destination.MaxRetriesOnError <= 0 {
		f.Destination.MaxRetriesOnError = 3
	}
	if f.Destination.NumWorkers <= 0 {
		f.Destination.NumWorkers = 1
	}
}

func (p *Provider) Capacity() int           { return p.f.Queue.Capacity }
func (p *Provider) BatchLines() int         { return p.f.Destination.BatchLines }
func (p *Provider) BatchTimeoutMS() int     { return p.f.Destination.BatchTimeoutMS }
func (p *Provider) ReopenSec() int          { return p.f.Destination.ReopenSec }
func (p *Provider) MaxRetries() int         { return p.f.Destination.MaxRetries }
func (p *Provider) MaxRetriesOnError() int  { return p.f.Destination.MaxRetriesOnError }
func (p *Provider) NumWorkers() int         { return p.f.Destination.NumWorkers }
func (p *Provider) ThrottleRate() int       { return p.f.Queue.ThrottleRate }
func (p *Provider) UseBacklog() bool        { return p.f.Queue.UseBacklog }

func (p *Provider) MarkMode() corecontract.MarkMode {
	switch p.f.MarkMode {
	case "global":
		return corecontract.MarkModeGlobal
	case "dst-idle":
		return corecontract.MarkModeDstIdle
	case "host-idle":
		return corecontract.MarkModeHostIdle
	case "internal":
		return corecontract.MarkModeInternal
	case "periodical":
		return corecontract.MarkModePeriodical
	default:
		return corecontract.MarkModeNone
	}
}

var _ corecontract.ConfigProvider = (*Provider)(nil)
