package pipeline

import "testing"

// P5: the resolver is idempotent on literal strings containing no {{…}}.
func TestResolveValueLiteralPassthrough(t *testing.T) {
	r := newResolver(map[string]any{"name": "ignored"}, nil)
	got := r.resolveValue("just a plain string")
	if got != "just a plain string" {
		t.Fatalf("got %v", got)
	}
}

// P6: single-ref short-circuit preserves the source value's type.
func TestResolveValueSingleRefPreservesType(t *testing.T) {
	r := newResolver(nil, map[string]map[string]any{"n": {"v": 42}})
	got := r.resolveValue("{{n.v}}")
	if got != 42 {
		t.Fatalf("got %v (%T), want int 42", got, got)
	}
}

func TestResolveValueMultiRefStringifies(t *testing.T) {
	r := newResolver(nil, map[string]map[string]any{"n": {"v": 42}})
	got := r.resolveValue("value is {{n.v}} exactly")
	if got != "value is 42 exactly" {
		t.Fatalf("got %v", got)
	}
}

func TestResolveValueParamsRef(t *testing.T) {
	r := newResolver(map[string]any{"width": 512}, nil)
	got := r.resolveValue("{{params.width}}")
	if got != 512 {
		t.Fatalf("got %v", got)
	}
}

func TestResolveValueMissRefPreservesLiteralText(t *testing.T) {
	r := newResolver(nil, nil)
	got := r.resolveValue("{{missing.field}}")
	if got != "{{missing.field}}" {
		t.Fatalf("got %v, want literal preserved", got)
	}
}

func TestResolveValueNonStringPassthrough(t *testing.T) {
	r := newResolver(nil, nil)
	if got := r.resolveValue(7); got != 7 {
		t.Fatalf("got %v", got)
	}
	if got := r.resolveValue(true); got != true {
		t.Fatalf("got %v", got)
	}
}

func TestParseTemplateWhitespaceNotTrimmed(t *testing.T) {
	tpl := parseTemplate("{{ params.x }}")
	if tpl.singleRef != " params.x " {
		t.Fatalf("ref = %q, want whitespace preserved", tpl.singleRef)
	}
}

func TestParseTemplateNonGreedy(t *testing.T) {
	tpl := parseTemplate("{{a.b}} and {{c.d}}")
	if len(tpl.fragments) != 3 {
		t.Fatalf("fragments = %v, want 3 (ref, literal, ref)", tpl.fragments)
	}
	if tpl.fragments[0].ref != "a.b" || tpl.fragments[2].ref != "c.d" {
		t.Fatalf("unexpected refs: %+v", tpl.fragments)
	}
}
