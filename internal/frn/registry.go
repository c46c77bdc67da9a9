package frn

import (
	"os"
	"regexp"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Institution is one registry entry mapping a canonical institution
// name (plus trading names and shared brands) to its FRN.
type Institution struct {
	FRN     string   `yaml:"frn"`
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases,omitempty"`
}

type registryFile struct {
	Institutions []Institution `yaml:"institutions"`
}

// Registry is the in-memory name->FRN index. Lookups are read-only and
// safe for concurrent use once built.
type Registry struct {
	byName  map[string]Institution // normalized canonical name -> institution
	byAlias map[string]Institution // normalized alias -> institution
	names   []indexedName          // every normalized name, for fuzzy scans
}

type indexedName struct {
	normalized string
	display    string
	inst       Institution
	alias      bool
}

var frnRe = regexp.MustCompile(`^\d{6,7}$`)

// LoadRegistry reads the YAML registry file and builds the index.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "frn: read registry %s", path)
	}

	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "frn: parse registry %s", path)
	}
	return NewRegistry(f.Institutions)
}

// NewRegistry builds the index from already-loaded institutions.
func NewRegistry(institutions []Institution) (*Registry, error) {
	r := &Registry{
		byName:  make(map[string]Institution, len(institutions)),
		byAlias: make(map[string]Institution),
	}

	for _, inst := range institutions {
		if !frnRe.MatchString(inst.FRN) {
			return nil, eris.Errorf("frn: invalid FRN %q for %q", inst.FRN, inst.Name)
		}
		if inst.Name == "" {
			return nil, eris.Errorf("frn: institution with FRN %s has no name", inst.FRN)
		}

		norm, _ := NormalizeName(inst.Name)
		r.byName[norm] = inst
		r.names = append(r.names, indexedName{normalized: norm, display: inst.Name, inst: inst})

		for _, alias := range inst.Aliases {
			aliasNorm, _ := NormalizeName(alias)
			if aliasNorm == "" {
				continue
			}
			r.byAlias[aliasNorm] = inst
			r.names = append(r.names, indexedName{normalized: aliasNorm, display: alias, inst: inst, alias: true})
		}
	}
	return r, nil
}

// Exact returns the institution whose canonical name normalizes to the
// given normalized name.
func (r *Registry) Exact(normalized string) (Institution, bool) {
	inst, ok := r.byName[normalized]
	return inst, ok
}

// Alias returns the institution behind a trading name or shared brand.
func (r *Registry) Alias(normalized string) (Institution, bool) {
	inst, ok := r.byAlias[normalized]
	return inst, ok
}

// Size returns the number of indexed names, canonical and alias.
func (r *Registry) Size() int {
	return len(r.names)
}
