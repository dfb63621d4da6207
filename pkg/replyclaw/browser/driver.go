// Package browser owns the single Chrome instance that drives WhatsApp Web.
// The remote interface has no stable contract, so every functional element
// is located through an ordered set of candidate markers (CSS selectors)
// rather than a single hardcoded one. The Driver interface abstracts that
// capability so the monitor loop can run against the real browser in
// production and against a scripted fixture double in tests.
package browser

import (
	"context"
	"errors"
)

// Errors returned by Driver implementations.
var (
	// ErrElementNotFound means no marker in the candidate set resolved to
	// a visible element. Callers treat this as "try the next fallback",
	// not as a fatal condition.
	ErrElementNotFound = errors.New("no candidate marker resolved to a visible element")

	// ErrDriverClosed means the browser connection is gone.
	ErrDriverClosed = errors.New("browser driver is closed")
)

// Element is a handle to a located page element. The ID is only meaningful
// to the driver that produced it and only for the lifetime of the page;
// handles are re-resolved every cycle, never cached across scans.
type Element struct {
	// ID is the driver-assigned node identifier.
	ID string

	// Marker is the candidate marker that resolved this element.
	Marker string

	// Text is the element's visible text at locate time.
	Text string

	// Label is the element's accessibility label (aria-label).
	Label string

	// Title is the element's title attribute.
	Title string
}

// Driver is the capability interface for driving the remote web interface.
// All calls carry a context; implementations must honor its deadline so no
// remote interaction blocks indefinitely.
type Driver interface {
	// Navigate loads the given URL in the driven page.
	Navigate(ctx context.Context, url string) error

	// Reload reloads the current page. Used after a session restore so the
	// page picks up the restored profile state.
	Reload(ctx context.Context) error

	// Location returns the page's current address. Used as a secondary
	// authentication signal when structural indicators fail.
	Location(ctx context.Context) (string, error)

	// LocateByCandidateSet tries each marker in order and returns a handle
	// to the first visible match. Returns ErrElementNotFound when the full
	// set is exhausted.
	LocateByCandidateSet(ctx context.Context, markers []string) (*Element, error)

	// LocateAll returns handles to every visible element matching a single
	// marker, in document order.
	LocateAll(ctx context.Context, marker string) ([]*Element, error)

	// Ancestor resolves the nearest ancestor of el matching any marker in
	// the candidate set.
	Ancestor(ctx context.Context, el *Element, markers []string) (*Element, error)

	// Descendant resolves the first descendant of el matching any marker
	// in the candidate set.
	Descendant(ctx context.Context, el *Element, markers []string) (*Element, error)

	// Attribute reads a single attribute value from the element. Returns
	// an empty string when the attribute is absent.
	Attribute(ctx context.Context, el *Element, name string) (string, error)

	// InnerText reads the element's current visible text.
	InnerText(ctx context.Context, el *Element) (string, error)

	// Click clicks the element.
	Click(ctx context.Context, el *Element) error

	// InjectText inserts text into a contenteditable compose surface as a
	// single structured unit, preserving line breaks and symbols exactly,
	// and emits the native "content changed" events so the host recognizes
	// non-empty input. It never splits the text into separate insertions.
	InjectText(ctx context.Context, el *Element, text string) error

	// SendCommitKey dispatches a synthetic Enter key to the element. Used
	// as the send fallback when no send action marker resolves.
	SendCommitKey(ctx context.Context, el *Element) error

	// Close releases the browser connection and, if the driver launched
	// the browser process, shuts it down.
	Close() error
}
