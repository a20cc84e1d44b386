package family

import "github.com/whatnick/aws-tf-vibe/internal/core/model"

type Assignment struct {
	Collection model.CollectionRecord
	Family     string
}

type Result struct {
	// Classified is ordered by family, then alias declaration order.
	Classified   []Assignment
	Unclassified []model.CollectionRecord
}

// Assignments returns collection id -> family tag.
func (r Result) Assignments() map[string]string {
	m := make(map[string]string, len(r.Classified))
	for _, a := range r.Classified {
		m[a.Collection.ID] = a.Family
	}
	return m
}

// Classify matches collections against the table alias by alias. An id
// listed under several families goes to the first one declared.
func Classify(collections []model.CollectionRecord, t Table) Result {
	byID := make(map[string]model.CollectionRecord, len(collections))
	for _, c := range collections {
		if _, ok := byID[c.ID]; !ok {
			byID[c.ID] = c
		}
	}

	var res Result
	assigned := make(map[string]struct{})
	for _, f := range t.families {
		for _, alias := range f.Aliases {
			c, ok := byID[alias]
			if !ok {
				continue
			}
			if _, done := assigned[alias]; done {
				continue
			}
			assigned[alias] = struct{}{}
			res.Classified = append(res.Classified, Assignment{Collection: c, Family: f.Tag})
		}
	}

	for _, c := range collections {
		if _, ok := assigned[c.ID]; ok {
			continue
		}
		// listing the same id twice must not count it twice
		assigned[c.ID] = struct{}{}
		res.Unclassified = append(res.Unclassified, c)
	}
	return res
}
