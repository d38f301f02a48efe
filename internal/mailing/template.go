package mailing

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Render replaces every {{ name }} placeholder in content with the matching
// substitution value. An exact-case key wins; otherwise names match
// case-insensitively, and among keys differing only in case the first in
// sorted order is used. Unknown names render as the empty string. Non-string
// values are formatted with fmt.Sprint.
func Render(content string, subs map[string]any) string {
	if content == "" || !strings.Contains(content, "{{") {
		return content
	}
	keys := make([]string, 0, len(subs))
	for k := range subs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	folded := make(map[string]string, len(subs))
	for _, k := range keys {
		lk := strings.ToLower(k)
		if _, seen := folded[lk]; !seen {
			folded[lk] = k
		}
	}
	return placeholderRe.ReplaceAllStringFunc(content, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		v, ok := subs[name]
		if !ok {
			k, found := folded[strings.ToLower(name)]
			if !found {
				return ""
			}
			v = subs[k]
		}
		if v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
}

// RenderOptional is Render for optional content; nil stays nil.
func RenderOptional(content *string, subs map[string]any) *string {
	if content == nil {
		return nil
	}
	out := Render(*content, subs)
	return &out
}
