package mailing

import (
	"testing"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name    string
		content string
		subs    map[string]any
		want    string
	}{
		{"missing key renders empty", "Hi {{ name }}, {{missing}}.", map[string]any{"name": "Ana"}, "Hi Ana, ."},
		{"case insensitive", "{{ FirstName }}/{{firstname}}", map[string]any{"firstName": "Bo"}, "Bo/Bo"},
		{"whitespace variants", "{{x}}{{ x }}{{   x\t}}", map[string]any{"x": "1"}, "111"},
		{"non string values", "{{n}} {{ok}} {{nil}}", map[string]any{"n": 42, "ok": true, "nil": nil}, "42 true "},
		{"no placeholders", "plain text", nil, "plain text"},
		{"not a placeholder", "{{ two words }}", map[string]any{"two": "x"}, "{{ two words }}"},
		{"dotted names", "{{ order.id }}", map[string]any{"order.id": "A-1"}, "A-1"},
		{"empty", "", map[string]any{"a": "b"}, ""},
		{"exact case wins", "{{ Plan }}/{{ plan }}/{{ PLAN }}", map[string]any{"Plan": "A", "plan": "b"}, "A/b/A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.content, tt.subs))
		})
	}
}

func TestRenderIsIdempotentWithoutPlaceholders(t *testing.T) {
	out := Render("Hi {{ name }}", map[string]any{"name": "Ana"})
	assert.Equal(t, out, Render(out, nil))
}

func TestRenderOptional(t *testing.T) {
	assert.Nil(t, RenderOptional(nil, map[string]any{"a": 1}))

	s := "{{a}}"
	got := RenderOptional(&s, map[string]any{"a": 1})
	if assert.NotNil(t, got) {
		assert.Equal(t, "1", *got)
	}
	assert.Equal(t, "{{a}}", s)
}

func TestRenderBuiltinsBeatCaseVariants(t *testing.T) {
	r := domain.Recipient{
		Email: "ana@example.com",
		Name:  "Ana",
		SubstitutionData: map[string]any{
			"Name":  "CSV-Name",
			"EMAIL": "csv@example.com",
			"Plan":  "pro",
		},
	}
	for i := 0; i < 200; i++ {
		got := Render("Hi {{ name }} <{{ Email }}> {{ plan }}", r.Substitutions())
		if !assert.Equal(t, "Hi Ana <ana@example.com> pro", got) {
			return
		}
	}
}
