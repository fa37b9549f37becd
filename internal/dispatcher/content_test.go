package dispatcher

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeCatalogue(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCatalogue_EmptyPathUsesDefault(t *testing.T) {
	c, err := LoadCatalogue("")
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Lookup("anything"); got != DefaultContent {
		t.Errorf("Lookup = %+v, want DefaultContent", got)
	}
	if len(c.Events()) != 0 {
		t.Errorf("Events = %v, want none", c.Events())
	}
}

func TestLoadCatalogue_EventsAndFallback(t *testing.T) {
	path := writeCatalogue(t, `{
		"default": {"title": "Hello", "body": "Something new"},
		"events": {
			"water": {"title": "Drink water", "body": "Stay hydrated", "url": "https://app.example.com/water"},
			"journal": {"title": "Journal", "body": "How was today?"}
		}
	}`)

	c, err := LoadCatalogue(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Lookup("water"); got.Title != "Drink water" || got.URL != "https://app.example.com/water" {
		t.Errorf("water = %+v", got)
	}
	if got := c.Lookup("unknown"); got.Title != "Hello" {
		t.Errorf("fallback = %+v", got)
	}
	if got, want := c.Events(), []string{"journal", "water"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Events = %v, want %v", got, want)
	}
}

func TestLoadCatalogue_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{"events":`, "parse event content"},
		{"untitled event", `{"events":{"water":{"body":"x"}}}`, `event "water" has no title`},
		{"untitled default", `{"default":{"body":"x"}}`, "default title is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCatalogue(writeCatalogue(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want containing %q", err, tt.want)
			}
		})
	}

	if _, err := LoadCatalogue(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestNewCatalogue_CopiesInput(t *testing.T) {
	events := map[string]Content{"a": {Title: "A"}}
	c := NewCatalogue(DefaultContent, events)
	events["a"] = Content{Title: "changed"}

	if got := c.Lookup("a"); got.Title != "A" {
		t.Errorf("catalogue changed with its input map: %+v", got)
	}
}
