package moderation

import (
	"regexp"
	"strings"

	"github.com/kukuri-network/community-node/internal/nostr"
	"github.com/kukuri-network/community-node/internal/store"
)

// Matches evaluates a rule's conditions against an event, applying the
// fixed predicate precedence: kinds → authors → keywords → regex → tags.
// Every present predicate must match; an absent predicate is skipped.
func Matches(cond store.RuleCondition, ev store.EventRecord) bool {
	if len(cond.Kinds) > 0 && !containsInt(cond.Kinds, ev.Kind) {
		return false
	}
	if len(cond.Authors) > 0 && !containsString(cond.Authors, ev.Pubkey) {
		return false
	}
	if len(cond.Keywords) > 0 && !anyKeywordPresent(cond.Keywords, ev.Content) {
		return false
	}
	if cond.Regex != "" {
		re, err := regexp.Compile("(?i)" + cond.Regex)
		if err != nil || !re.MatchString(ev.Content) {
			return false
		}
	}
	if len(cond.Tags) > 0 && !tagsMatch(cond.Tags, ev.Tags) {
		return false
	}
	return true
}

func containsInt(set []int, v int) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(set []string, v string) bool {
	for _, x := range set {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}

func anyKeywordPresent(keywords []string, content string) bool {
	lower := strings.ToLower(content)
	for _, k := range keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// tagsMatch requires every named tag to be present; when its allowed-values
// list is non-empty, at least one of the event's values for that tag name
// must be in the allowed set.
func tagsMatch(want map[string][]string, tags []nostr.Tag) bool {
	for name, allowed := range want {
		values := valuesForTag(tags, name)
		if len(values) == 0 {
			return false
		}
		if len(allowed) == 0 {
			continue
		}
		if !anyIn(values, allowed) {
			return false
		}
	}
	return true
}

func valuesForTag(tags []nostr.Tag, name string) []string {
	var out []string
	for _, t := range tags {
		if t.Name() == name {
			out = append(out, t.Value())
		}
	}
	return out
}

func anyIn(values, allowed []string) bool {
	for _, v := range values {
		for _, a := range allowed {
			if v == a {
				return true
			}
		}
	}
	return false
}
