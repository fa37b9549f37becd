package dispatcher

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Content is the fixed message for a schedule event.
type Content struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

// DefaultContent is used for events with no catalogue entry.
var DefaultContent = Content{
	Title: "Reminder",
	Body:  "You have a new notification.",
}

// Catalogue maps event names to content. It is read-only after creation.
type Catalogue struct {
	fallback Content
	events   map[string]Content
}

func NewCatalogue(fallback Content, events map[string]Content) *Catalogue {
	c := &Catalogue{fallback: fallback, events: make(map[string]Content, len(events))}
	for name, content := range events {
		c.events[name] = content
	}
	return c
}

// Lookup returns the content for eventName, or the fallback entry.
func (c *Catalogue) Lookup(eventName string) Content {
	if content, ok := c.events[eventName]; ok {
		return content
	}
	return c.fallback
}

// Events lists the event names with their own entry, sorted.
func (c *Catalogue) Events() []string {
	names := make([]string, 0, len(c.events))
	for name := range c.events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type catalogueFile struct {
	Default *Content           `json:"default"`
	Events  map[string]Content `json:"events"`
}

// LoadCatalogue reads a JSON catalogue of the form
// {"default": {...}, "events": {"name": {...}}}. An empty path yields a
// catalogue holding only DefaultContent.
func LoadCatalogue(path string) (*Catalogue, error) {
	if path == "" {
		return NewCatalogue(DefaultContent, nil), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event content: %w", err)
	}

	var f catalogueFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse event content %s: %w", path, err)
	}

	fallback := DefaultContent
	if f.Default != nil {
		fallback = *f.Default
	}
	if fallback.Title == "" {
		return nil, fmt.Errorf("event content %s: default title is required", path)
	}
	for name, content := range f.Events {
		if content.Title == "" {
			return nil, fmt.Errorf("event content %s: event %q has no title", path, name)
		}
	}
	return NewCatalogue(fallback, f.Events), nil
}
