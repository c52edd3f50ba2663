package coordinator

import (
	"sort"
	"strings"

	"bridged/pkg/models"
)

// trailing punctuation stripped from mention tokens, so "@codex," and
// "@codex." resolve the same as "@codex"
const mentionTrim = ".,:;!?)]}\"'"

// ExtractMentions scans message text for prefix-marked mentions and returns
// them lowercased, deduplicated and sorted. Non-string content never carries
// mentions.
func ExtractMentions(content interface{}, prefix string) []string {
	s, ok := content.(string)
	if !ok {
		return nil
	}
	if prefix == "" {
		prefix = "@"
	}
	set := map[string]struct{}{}
	for _, tok := range strings.Fields(s) {
		if !strings.HasPrefix(tok, prefix) {
			continue
		}
		m := strings.TrimPrefix(tok, prefix)
		m = strings.TrimRight(m, mentionTrim)
		if m == "" {
			continue
		}
		set[strings.ToLower(m)] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// ResolveMention maps a mention to an invited participant id. Exact id match
// wins; otherwise a profile field match (nickname, role, client or model) is
// used only when exactly one participant matches. Ambiguous or unknown
// mentions resolve to nothing rather than guessing.
func ResolveMention(mention string, invited map[string]models.Invitation) (string, bool) {
	for id := range invited {
		if strings.ToLower(id) == mention {
			return id, true
		}
	}
	var match string
	var n int
	for id, inv := range invited {
		p := inv.Profile
		for _, f := range []string{p.Nickname, p.Role, p.Client, p.Model} {
			if f != "" && strings.ToLower(f) == mention {
				match = id
				n++
				break
			}
		}
	}
	if n == 1 {
		return match, true
	}
	return "", false
}
