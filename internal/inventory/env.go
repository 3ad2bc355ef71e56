package inventory

import "strings"

// envKeywords maps an environment to the substrings that mark it.
// Order matters: the first environment with a hit wins.
var envKeywords = []struct {
	env      string
	keywords []string
}{
	{"prod", []string{"prod", "prd"}},
	{"dev", []string{"dev"}},
	{"test", []string{"test", "tst"}},
	{"qa", []string{"qa", "quality"}},
}

// ClassifyEnv derives an environment label from naming conventions.
// All given parts (host name, role, tags) are searched together.
func ClassifyEnv(parts ...string) string {
	text := strings.ToLower(strings.Join(parts, " "))
	for _, e := range envKeywords {
		for _, kw := range e.keywords {
			if strings.Contains(text, kw) {
				return e.env
			}
		}
	}
	return "unknown"
}
