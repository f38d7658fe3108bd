// Package ui defines the browser automation contract used by UI-mirrored
// checks, and the screenshot-on-failure combinator wrapped around them.
package ui

import (
	"context"
	"fmt"
)

// Locator addresses an element by a stable attribute. Its syntax belongs
// to the Driver.
type Locator string

// Row is one rendered list row, keyed by column name.
type Row struct {
	Cells map[string]string
}

// Cell returns the text shown in column col.
func (r Row) Cell(col string) string {
	return r.Cells[col]
}

// Driver drives one browser session. Every call blocks until the page
// settles or the driver's own wait timeout expires.
type Driver interface {
	Open(ctx context.Context, url string) error
	Rows(ctx context.Context) ([]Row, error)
	Click(ctx context.Context, loc Locator) error
	WaitVisible(ctx context.Context, loc Locator) error
	Text(ctx context.Context, loc Locator) (string, error)
	// Screenshot saves the current page and returns a reference to it.
	Screenshot(ctx context.Context, name string) (string, error)
}

// Locators are the element conventions of a list page.
type Locators struct {
	// Toggle is a format with one %s verb for the row id.
	Toggle  string  `yaml:"toggle"`
	Dialog  Locator `yaml:"dialog"`
	Confirm Locator `yaml:"confirm"`
	Cancel  Locator `yaml:"cancel"`
	Message Locator `yaml:"message"`
	Refresh Locator `yaml:"refresh"`
}

// DefaultLocators match the data-test attributes of the admin list pages.
var DefaultLocators = Locators{
	Toggle:  `[data-test="status-toggle-%s"]`,
	Dialog:  `[data-test="confirm-dialog"]`,
	Confirm: `[data-test="confirm-ok"]`,
	Cancel:  `[data-test="confirm-cancel"]`,
	Message: `[data-test="message-box"]`,
	Refresh: `[data-test="list-refresh"]`,
}

// ToggleFor returns the status toggle of row id.
func (l Locators) ToggleFor(id string) Locator {
	return Locator(fmt.Sprintf(l.Toggle, id))
}

// Find returns the index of the row whose key column shows id, or -1.
func Find(rows []Row, key, id string) int {
	for i, r := range rows {
		if r.Cell(key) == id {
			return i
		}
	}
	return -1
}
