package catalog

import "strings"

// ExtraQueryName is the extra field holding the comma-separated list of
// broker queries that matched a target.
const ExtraQueryName = "query_name"

// AppendQueryName returns the target's query_name extra with name merged in.
// Existing entries are compared after trimming whitespace; a name already
// present leaves the value unchanged. The target is not modified.
func AppendQueryName(t *Target, name string) string {
	existing := t.Extra(ExtraQueryName)
	if existing == "" {
		return name
	}

	for _, n := range strings.Split(existing, ",") {
		if strings.TrimSpace(n) == name {
			return existing
		}
	}
	return existing + ", " + name
}
