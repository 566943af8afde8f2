package bus

import "strings"

// Namespace prefixes every subject published by a subgraph.
const Namespace = "gema"

const subjectSuffix = "value.updated"

// Subject returns the stable update subject for a profile, e.g.
// "gema.subgraph.value.updated".
func Subject(profile string) string {
	profile = strings.TrimSpace(profile)
	return Namespace + "." + profile + "." + subjectSuffix
}
