package template

import (
	"errors"
	"strings"
	"testing"
)

var testVars = map[string]string{
	"form_link":   "https://example.com/apply",
	"sender_name": "Alice Example",
}

func TestRenderSubstitutesVariables(t *testing.T) {
	tmpl := &Template{
		ID:                "greeting",
		Body:              "Hi {sender_name}! 👋\n\nApply here:\n{form_link}",
		RequiredVariables: []string{"form_link", "sender_name"},
	}

	out, err := tmpl.Render(testVars)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "Hi Alice Example! 👋\n\nApply here:\nhttps://example.com/apply"
	if out != want {
		t.Fatalf("Render = %q, want %q", out, want)
	}
}

func TestRenderRoundTripFidelity(t *testing.T) {
	// Line count and symbol sequence must survive rendering untouched.
	body := "Line one ✅\nLine two — ₿ symbols\n\nLine four {form_link}"
	tmpl := &Template{ID: "fidelity", Body: body, RequiredVariables: []string{"form_link"}}

	out, err := tmpl.Render(testVars)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got, want := strings.Count(out, "\n"), strings.Count(body, "\n"); got != want {
		t.Errorf("line breaks = %d, want %d", got, want)
	}
	if !strings.Contains(out, "Line one ✅") || !strings.Contains(out, "— ₿") {
		t.Errorf("symbols altered: %q", out)
	}
}

func TestRenderMissingRequiredVariable(t *testing.T) {
	tmpl := &Template{
		ID:                "needy",
		Body:              "link: {form_link}",
		RequiredVariables: []string{"form_link"},
	}

	if _, err := tmpl.Render(nil); !errors.Is(err, ErrTemplateInvalid) {
		t.Fatalf("Render error = %v, want ErrTemplateInvalid", err)
	}
}

func TestRenderUnresolvedPlaceholder(t *testing.T) {
	tmpl := &Template{ID: "hole", Body: "hello {unknown_var}"}

	if _, err := tmpl.Render(testVars); !errors.Is(err, ErrTemplateInvalid) {
		t.Fatalf("Render error = %v, want ErrTemplateInvalid", err)
	}
}

func TestRenderLengthLimit(t *testing.T) {
	tmpl := &Template{ID: "long", Body: strings.Repeat("x", MaxLengthChars+1)}

	if _, err := tmpl.Render(testVars); !errors.Is(err, ErrTemplateInvalid) {
		t.Fatalf("Render error = %v, want ErrTemplateInvalid", err)
	}
}

func TestRenderLiteralBracesAreNotPlaceholders(t *testing.T) {
	tmpl := &Template{ID: "braces", Body: "smile {:-} and {form_link}", RequiredVariables: []string{"form_link"}}

	out, err := tmpl.Render(testVars)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "{:-}") {
		t.Errorf("literal braces mangled: %q", out)
	}
}

func TestRegistryBuiltins(t *testing.T) {
	reg := NewRegistry(testVars)

	ids := reg.IDs()
	for _, want := range []string{"default", "plain", "enhanced", "conversational", "conversion"} {
		found := false
		for _, id := range ids {
			if id == want {
				found = true
			}
		}
		if !found {
			t.Errorf("builtin %q missing from %v", want, ids)
		}
	}

	if reg.Active() == nil || reg.Active().ID != "default" {
		t.Fatalf("active = %+v, want default", reg.Active())
	}

	for _, id := range ids {
		if err := reg.Activate(id); err != nil {
			t.Errorf("builtin %q does not render: %v", id, err)
		}
	}
}

func TestActivateInvalidKeepsPrevious(t *testing.T) {
	reg := NewRegistry(testVars)
	if err := reg.Register(&Template{
		ID:                "broken",
		Body:              "needs {missing_thing}",
		RequiredVariables: []string{"missing_thing"},
	}); err != nil {
		t.Fatal(err)
	}

	if err := reg.Activate("broken"); !errors.Is(err, ErrTemplateInvalid) {
		t.Fatalf("Activate error = %v, want ErrTemplateInvalid", err)
	}
	if reg.Active().ID != "default" {
		t.Fatalf("active switched to broken template: %q", reg.Active().ID)
	}
}

func TestActivateUnknown(t *testing.T) {
	reg := NewRegistry(testVars)
	if err := reg.Activate("nope"); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("Activate error = %v, want ErrTemplateNotFound", err)
	}
}

func TestStatusReportsRenderedLength(t *testing.T) {
	reg := NewRegistry(testVars)

	st := reg.Status()
	if st.ActiveTemplateID != "default" || !st.Valid || st.LengthChars == 0 {
		t.Fatalf("Status = %+v", st)
	}
}
