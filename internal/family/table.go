// Package family maps catalog collection ids onto satellite families.
package family

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/whatnick/aws-tf-vibe/internal/core/model"
)

type Family struct {
	Tag     string   `yaml:"tag"`
	Aliases []string `yaml:"aliases"`
}

// Table is an ordered, read-only set of families. Declaration order is the
// tie-break when an alias appears under more than one family.
type Table struct {
	families []Family
}

func NewTable(fams ...Family) (Table, error) {
	seen := make(map[string]struct{}, len(fams))
	out := make([]Family, 0, len(fams))
	for i, f := range fams {
		tag := strings.TrimSpace(f.Tag)
		if tag == "" {
			return Table{}, fmt.Errorf("family %d: empty tag", i)
		}
		if tag == model.FamilyOther || tag == model.TotalKey {
			return Table{}, fmt.Errorf("family %d: tag %q is reserved", i, tag)
		}
		if _, dup := seen[tag]; dup {
			return Table{}, fmt.Errorf("family %d: duplicate tag %q", i, tag)
		}
		seen[tag] = struct{}{}

		aliases := make([]string, 0, len(f.Aliases))
		for _, a := range f.Aliases {
			if a = strings.TrimSpace(a); a != "" {
				aliases = append(aliases, a)
			}
		}
		out = append(out, Family{Tag: tag, Aliases: aliases})
	}
	return Table{families: out}, nil
}

// DefaultTable is the built-in sentinel-2 / landsat table.
func DefaultTable() Table {
	t, _ := NewTable(
		Family{Tag: model.FamilySentinel2, Aliases: []string{"sentinel-2-l2a", "sentinel-2-l1c", "sentinel-s2-l2a-cogs"}},
		Family{Tag: model.FamilyLandsat, Aliases: []string{"landsat-c2-l2", "landsat-c2-l1", "landsat-8-c1-l1", "landsat-7-c1-l1"}},
	)
	return t
}

type tableFile struct {
	Families []Family `yaml:"families"`
}

// LoadTable reads a YAML family table:
//
//	families:
//	  - tag: sentinel-2
//	    aliases: [sentinel-2-l2a, sentinel-2-l1c]
func LoadTable(path string) (Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read family table: %w", err)
	}
	var tf tableFile
	if err := yaml.Unmarshal(b, &tf); err != nil {
		return Table{}, fmt.Errorf("parse family table %s: %w", path, err)
	}
	if len(tf.Families) == 0 {
		return Table{}, errors.New("family table has no families")
	}
	t, err := NewTable(tf.Families...)
	if err != nil {
		return Table{}, fmt.Errorf("family table %s: %w", path, err)
	}
	return t, nil
}

// Tags returns family tags in declaration order.
func (t Table) Tags() []string {
	out := make([]string, 0, len(t.families))
	for _, f := range t.families {
		out = append(out, f.Tag)
	}
	return out
}

func (t Table) Families() []Family {
	out := make([]Family, len(t.families))
	for i, f := range t.families {
		out[i] = Family{Tag: f.Tag, Aliases: append([]string(nil), f.Aliases...)}
	}
	return out
}

func (t Table) Len() int { return len(t.families) }
