// Package stress runs scripted allocation workloads against an arena tree.
package stress

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/hupe1980/scopearena"
	"gopkg.in/yaml.v3"
)

// Kind names the workload driver of a profile.
type Kind string

const (
	KindFragmentation Kind = "fragmentation"
	KindScopes        Kind = "scopes"
	KindServer        Kind = "server"
	KindRecursive     Kind = "recursive"
	KindEventLoop     Kind = "event-loop"
	KindConcurrent    Kind = "concurrent"
)

// Profile parameterises one workload. Fields a driver does not use are
// ignored.
type Profile struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Kind        Kind   `yaml:"kind" json:"kind"`

	Iterations int `yaml:"iterations" json:"iterations"`
	Workers    int `yaml:"workers,omitempty" json:"workers,omitempty"`
	Children   int `yaml:"children,omitempty" json:"children,omitempty"`
	Handles    int `yaml:"handles,omitempty" json:"handles,omitempty"`
	AllocSize  int `yaml:"alloc_size,omitempty" json:"alloc_size,omitempty"`
	Depth      int `yaml:"depth,omitempty" json:"depth,omitempty"`

	// ResetEvery resets the long-lived arena every n iterations.
	ResetEvery int `yaml:"reset_every,omitempty" json:"reset_every,omitempty"`
	// PromoteEvery promotes a value to the parent every n iterations.
	PromoteEvery int `yaml:"promote_every,omitempty" json:"promote_every,omitempty"`

	Seed uint64 `yaml:"seed,omitempty" json:"seed,omitempty"`

	// Arena overrides the arena configuration. Zero fields take defaults.
	Arena scopearena.Config `yaml:"arena,omitempty" json:"arena"`
}

var builtins = []Profile{
	{
		Name:        "fragmentation-storm",
		Description: "Children repeatedly replace half their handles, then compact",
		Kind:        KindFragmentation,
		Iterations:  3,
		Children:    8,
		Handles:     200,
		AllocSize:   64,
	},
	{
		Name:         "mixed-scope-modes",
		Description:  "Alternating promoting scopes, private scopes and shared root allocations",
		Kind:         KindScopes,
		Iterations:   50,
		Handles:      5,
		AllocSize:    32,
		PromoteEvery: 3,
	},
	{
		Name:         "web-server",
		Description:  "Request scopes promote results into a periodically reset session",
		Kind:         KindServer,
		Iterations:   100,
		Handles:      10,
		AllocSize:    128,
		PromoteEvery: 2,
		ResetEvery:   20,
	},
	{
		Name:        "recursive-tree-walk",
		Description: "Each recursion level opens a scope and promotes its result outward",
		Kind:        KindRecursive,
		Iterations:  1,
		Depth:       5,
		Children:    2,
		Handles:     10,
		AllocSize:   32,
	},
	{
		Name:        "event-loop-reset",
		Description: "Per-tick allocations with cleanup callbacks and periodic resets",
		Kind:        KindEventLoop,
		Iterations:  10,
		Handles:     50,
		AllocSize:   64,
		ResetEvery:  3,
	},
	{
		Name:         "concurrent-multi-arena",
		Description:  "Workers churn private children and promote into the shared root",
		Kind:         KindConcurrent,
		Iterations:   500,
		Workers:      4,
		AllocSize:    64,
		PromoteEvery: 50,
	},
}

// Builtins returns the built-in profiles.
func Builtins() []Profile {
	return slices.Clone(builtins)
}

// Lookup returns the built-in profile with the given name.
func Lookup(name string) (Profile, bool) {
	for _, p := range builtins {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// Decode reads profiles from YAML. The document is either a single profile
// or a mapping with a "profiles" list.
func Decode(r io.Reader) ([]Profile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var f profileFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil || len(f.Profiles) == 0 {
		var p Profile
		single := yaml.NewDecoder(bytes.NewReader(data))
		single.KnownFields(true)
		if serr := single.Decode(&p); serr != nil {
			if err == nil {
				err = serr
			}
			return nil, fmt.Errorf("stress: decode profiles: %w", err)
		}
		f.Profiles = []Profile{p}
	}

	for i := range f.Profiles {
		if err := f.Profiles[i].Validate(); err != nil {
			return nil, err
		}
	}
	return f.Profiles, nil
}

// Load reads profiles from a YAML file.
func Load(path string) ([]Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Decode(f)
}

// Validate checks that the profile names a known driver and has work to do.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("stress: profile without name")
	}
	if _, ok := drivers[p.Kind]; !ok {
		return fmt.Errorf("stress: profile %q: unknown kind %q", p.Name, p.Kind)
	}
	if p.Iterations <= 0 {
		return fmt.Errorf("stress: profile %q: iterations must be positive", p.Name)
	}
	if p.AllocSize < 0 || p.Handles < 0 || p.Children < 0 || p.Workers < 0 || p.Depth < 0 {
		return fmt.Errorf("stress: profile %q: negative parameter", p.Name)
	}
	return nil
}

// Scale returns a copy with the iteration count multiplied by f, but at
// least one iteration.
func (p Profile) Scale(f float64) Profile {
	p.Iterations = max(1, int(float64(p.Iterations)*f))
	return p
}
