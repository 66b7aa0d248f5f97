package pipeline

import (
	"fmt"
	"strings"
)

// fragment is either a literal chunk or a {{ref}} reference, produced once
// at pipeline load time per the "parse each param string once" design
// note. Evaluation folds over the fragment list instead of re-parsing the
// string on every wave.
type fragment struct {
	literal string
	ref     string // non-empty iff this fragment is a reference
}

// template is a parsed param string: its fragments, plus whether the
// entire string is exactly one {{ref}} with nothing else around it — the
// single-ref short-circuit that preserves a referenced value's type
// instead of stringifying it.
type template struct {
	fragments []fragment
	singleRef string // non-empty iff this template is a lone {{ref}}
}

// parseTemplate splits s on {{...}} occurrences. Identifiers match
// [^{}]+? (non-greedy) and whitespace inside braces is not trimmed.
func parseTemplate(s string) template {
	var frags []fragment
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "{{")
		if start < 0 {
			frags = append(frags, fragment{literal: s[i:]})
			break
		}
		start += i
		if start > i {
			frags = append(frags, fragment{literal: s[i:start]})
		}
		end := strings.Index(s[start+2:], "}}")
		if end < 0 {
			// Unterminated "{{": treat the rest as a literal.
			frags = append(frags, fragment{literal: s[start:]})
			break
		}
		end = start + 2 + end
		ref := s[start+2 : end]
		frags = append(frags, fragment{ref: ref})
		i = end + 2
	}

	t := template{fragments: frags}
	if len(frags) == 1 && frags[0].ref != "" {
		t.singleRef = frags[0].ref
	}
	return t
}

// resolver evaluates templates against the merged parameter mapping and
// the accumulated node results for this run.
type resolver struct {
	params      map[string]any
	nodeResults map[string]map[string]any
}

func newResolver(params map[string]any, nodeResults map[string]map[string]any) *resolver {
	return &resolver{params: params, nodeResults: nodeResults}
}

// lookup resolves a single {{ref}} identifier. On miss it returns the
// literal "{{ref}}" text unchanged (ok=false) — the template resolver
// never throws.
func (r *resolver) lookup(ref string) (any, bool) {
	if name, found := strings.CutPrefix(ref, "params."); found {
		v, ok := r.params[name]
		return v, ok
	}
	dot := strings.Index(ref, ".")
	if dot < 0 {
		return nil, false
	}
	nodeID, field := ref[:dot], ref[dot+1:]
	fields, ok := r.nodeResults[nodeID]
	if !ok {
		return nil, false
	}
	v, ok := fields[field]
	return v, ok
}

// resolveValue resolves one node.params value. Non-string values pass
// through unchanged. String values are parsed as a template; the
// single-ref short-circuit returns the typed value directly, otherwise
// every occurrence is substituted into a new string.
func (r *resolver) resolveValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	t := parseTemplate(s)

	if t.singleRef != "" {
		if val, ok := r.lookup(t.singleRef); ok {
			return val
		}
		return "{{" + t.singleRef + "}}"
	}

	var b strings.Builder
	for _, f := range t.fragments {
		if f.ref == "" {
			b.WriteString(f.literal)
			continue
		}
		if val, ok := r.lookup(f.ref); ok {
			b.WriteString(stringify(val))
		} else {
			b.WriteString("{{" + f.ref + "}}")
		}
	}
	return b.String()
}

// resolveParams resolves every entry of a node's param map.
func (r *resolver) resolveParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = r.resolveValue(v)
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
