// Package browser – scripted.go implements a scripted fixture double of the
// Driver interface. Tests build a small node tree that answers marker
// lookups deterministically and script side effects (clicks clearing a
// compose surface, markers failing) without a live browser.
package browser

import (
	"context"
	"fmt"
	"sync"
)

// Node is one element in the scripted page tree. A node matches a marker
// when the marker appears verbatim in its Markers list.
type Node struct {
	// Markers are the candidate markers this node answers to.
	Markers []string

	// Text, Label and Title mirror the Element fields.
	Text  string
	Label string
	Title string

	// Attrs holds attribute values returned by Attribute.
	Attrs map[string]string

	// Hidden nodes never match a lookup.
	Hidden bool

	// Children are nested nodes, in document order.
	Children []*Node

	parent *Node
	id     string
}

// ScriptedDriver is the in-memory Driver used by tests.
type ScriptedDriver struct {
	mu       sync.Mutex
	root     *Node
	nodes    map[string]*Node
	location string
	seq      int
	closed   bool

	// FailingMarkers simulates markers that error instead of missing.
	FailingMarkers map[string]bool

	// OnClick runs when a node is clicked.
	OnClick func(n *Node)

	// OnInject runs when text is injected into a node. The default
	// behavior (setting the node's Text) runs first.
	OnInject func(n *Node, text string)

	// OnCommitKey runs when a synthetic commit key is sent to a node.
	OnCommitKey func(n *Node)

	// OnReload runs on Reload, letting tests swap page state.
	OnReload func(d *ScriptedDriver)

	// Reloads counts Reload calls.
	Reloads int
}

// NewScripted creates a scripted driver over the given page tree.
func NewScripted(root *Node, location string) *ScriptedDriver {
	d := &ScriptedDriver{
		root:           root,
		nodes:          make(map[string]*Node),
		location:       location,
		FailingMarkers: make(map[string]bool),
	}
	d.index(root, nil)
	return d
}

// SetRoot replaces the page tree, invalidating all prior handles.
func (d *ScriptedDriver) SetRoot(root *Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.root = root
	d.nodes = make(map[string]*Node)
	d.index(root, nil)
}

// SetLocation updates the reported page address.
func (d *ScriptedDriver) SetLocation(location string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.location = location
}

func (d *ScriptedDriver) index(n *Node, parent *Node) {
	if n == nil {
		return
	}
	n.parent = parent
	d.seq++
	n.id = fmt.Sprintf("n%d", d.seq)
	d.nodes[n.id] = n
	for _, c := range n.Children {
		d.index(c, n)
	}
}

func (n *Node) matches(marker string) bool {
	if n.Hidden {
		return false
	}
	for _, m := range n.Markers {
		if m == marker {
			return true
		}
	}
	return false
}

func (d *ScriptedDriver) describe(n *Node, marker string) *Element {
	return &Element{ID: n.id, Marker: marker, Text: n.Text, Label: n.Label, Title: n.Title}
}

func (d *ScriptedDriver) resolve(el *Element) (*Node, error) {
	n, ok := d.nodes[el.ID]
	if !ok || n.Hidden {
		return nil, ErrElementNotFound
	}
	return n, nil
}

// walk visits nodes depth-first in document order.
func walk(n *Node, visit func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if !visit(n) {
		return false
	}
	for _, c := range n.Children {
		if !walk(c, visit) {
			return false
		}
	}
	return true
}

// ---------- Driver interface ----------

func (d *ScriptedDriver) Navigate(_ context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDriverClosed
	}
	d.location = url
	return nil
}

func (d *ScriptedDriver) Reload(_ context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDriverClosed
	}
	d.Reloads++
	hook := d.OnReload
	d.mu.Unlock()
	if hook != nil {
		hook(d)
	}
	return nil
}

func (d *ScriptedDriver) Location(_ context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return "", ErrDriverClosed
	}
	return d.location, nil
}

func (d *ScriptedDriver) LocateByCandidateSet(_ context.Context, markers []string) (*Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDriverClosed
	}
	for _, marker := range markers {
		if d.FailingMarkers[marker] {
			continue
		}
		var found *Element
		walk(d.root, func(n *Node) bool {
			if n.matches(marker) {
				found = d.describe(n, marker)
				return false
			}
			return true
		})
		if found != nil {
			return found, nil
		}
	}
	return nil, ErrElementNotFound
}

func (d *ScriptedDriver) LocateAll(_ context.Context, marker string) ([]*Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDriverClosed
	}
	if d.FailingMarkers[marker] {
		return nil, fmt.Errorf("marker %q failed", marker)
	}
	var out []*Element
	walk(d.root, func(n *Node) bool {
		if n.matches(marker) {
			out = append(out, d.describe(n, marker))
		}
		return true
	})
	return out, nil
}

func (d *ScriptedDriver) Ancestor(_ context.Context, el *Element, markers []string) (*Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.resolve(el)
	if err != nil {
		return nil, err
	}
	for _, marker := range markers {
		for cur := n; cur != nil; cur = cur.parent {
			if cur.matches(marker) {
				return d.describe(cur, marker), nil
			}
		}
	}
	return nil, ErrElementNotFound
}

func (d *ScriptedDriver) Descendant(_ context.Context, el *Element, markers []string) (*Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.resolve(el)
	if err != nil {
		return nil, err
	}
	for _, marker := range markers {
		var found *Element
		for _, c := range n.Children {
			walk(c, func(cand *Node) bool {
				if cand.matches(marker) {
					found = d.describe(cand, marker)
					return false
				}
				return true
			})
			if found != nil {
				return found, nil
			}
		}
	}
	return nil, ErrElementNotFound
}

func (d *ScriptedDriver) Attribute(_ context.Context, el *Element, name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.resolve(el)
	if err != nil {
		return "", err
	}
	return n.Attrs[name], nil
}

func (d *ScriptedDriver) InnerText(_ context.Context, el *Element) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.resolve(el)
	if err != nil {
		return "", err
	}
	return n.Text, nil
}

func (d *ScriptedDriver) Click(_ context.Context, el *Element) error {
	d.mu.Lock()
	n, err := d.resolve(el)
	hook := d.OnClick
	d.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(n)
	}
	return nil
}

func (d *ScriptedDriver) InjectText(_ context.Context, el *Element, text string) error {
	d.mu.Lock()
	n, err := d.resolve(el)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	n.Text = text
	hook := d.OnInject
	d.mu.Unlock()
	if hook != nil {
		hook(n, text)
	}
	return nil
}

func (d *ScriptedDriver) SendCommitKey(_ context.Context, el *Element) error {
	d.mu.Lock()
	n, err := d.resolve(el)
	hook := d.OnCommitKey
	d.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(n)
	}
	return nil
}

func (d *ScriptedDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

var _ Driver = (*ScriptedDriver)(nil)
