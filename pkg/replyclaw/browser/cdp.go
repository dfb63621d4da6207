// Package browser – cdp.go implements the real Driver against a locally
// launched Chrome over the DevTools Protocol. No WebDriver binary is
// involved: the driver launches Chrome with a persistent profile directory,
// discovers the page target over the debugging HTTP endpoint and speaks raw
// CDP over a websocket. Element handles are kept in a page-side registry so
// repeated operations on the same handle stay cheap; a page reload simply
// invalidates them, which callers already tolerate by re-locating every
// cycle.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Config holds the Chrome driver configuration.
type Config struct {
	// ChromePath is the Chrome/Chromium binary to launch. If empty, the
	// driver tries common binary names on PATH.
	ChromePath string `yaml:"chrome_path"`

	// ProfileDir is the persistent user-data directory. This is the
	// session artifact: keeping it between runs avoids re-scanning the
	// login QR, and the session store backs it up and restores it.
	ProfileDir string `yaml:"profile_dir"`

	// DebugPort is the remote debugging port Chrome listens on.
	DebugPort int `yaml:"debug_port"`

	// Headless launches Chrome without a visible window.
	Headless bool `yaml:"headless"`

	// StartURL is the page the driver opens after launch.
	StartURL string `yaml:"start_url"`

	// CallTimeout bounds every individual protocol call.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ProfileDir:  "./sessions/chrome-profile",
		DebugPort:   9223,
		Headless:    false,
		StartURL:    "https://web.whatsapp.com",
		CallTimeout: 10 * time.Second,
	}
}

// chromeCandidates are the binary names tried when ChromePath is unset.
var chromeCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
}

// CDPDriver drives one Chrome page over the DevTools Protocol.
type CDPDriver struct {
	cfg    Config
	logger *slog.Logger

	cmd  *exec.Cmd
	conn *websocket.Conn

	// writeMu serializes websocket writes (gorilla allows one writer).
	writeMu sync.Mutex

	// pending maps in-flight call IDs to their response channels.
	pending   map[int64]chan cdpResponse
	pendingMu sync.Mutex

	nextID atomic.Int64
	closed atomic.Bool
}

type cdpRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type cdpResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *cdpError       `json:"error"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Launch starts Chrome with the configured profile directory, connects to
// its debugging endpoint and navigates to the start URL.
func Launch(ctx context.Context, cfg Config, logger *slog.Logger) (*CDPDriver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.DebugPort <= 0 {
		cfg.DebugPort = 9223
	}

	bin, err := resolveChromeBinary(cfg.ChromePath)
	if err != nil {
		return nil, err
	}

	args := []string{
		fmt.Sprintf("--user-data-dir=%s", cfg.ProfileDir),
		fmt.Sprintf("--remote-debugging-port=%d", cfg.DebugPort),
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--disable-blink-features=AutomationControlled",
		"--disable-extensions",
		"--disable-external-intent-requests",
		"--disable-background-timer-throttling",
		"--disable-backgrounding-occluded-windows",
		"--disable-renderer-backgrounding",
		"--no-first-run",
		"--no-default-browser-check",
	}
	if cfg.Headless {
		args = append(args, "--headless=new")
	}
	args = append(args, "about:blank")

	cmd := exec.Command(bin, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting chrome: %w", err)
	}

	d := &CDPDriver{
		cfg:     cfg,
		logger:  logger.With("component", "browser"),
		cmd:     cmd,
		pending: make(map[int64]chan cdpResponse),
	}

	wsURL, err := d.discoverTarget(ctx)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("dialing devtools websocket: %w", err)
	}
	d.conn = conn
	go d.readLoop()

	d.logger.Info("chrome launched",
		"binary", bin,
		"profile", cfg.ProfileDir,
		"debug_port", cfg.DebugPort,
		"headless", cfg.Headless)

	if cfg.StartURL != "" {
		if err := d.Navigate(ctx, cfg.StartURL); err != nil {
			d.Close()
			return nil, err
		}
	}
	return d, nil
}

func resolveChromeBinary(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	for _, name := range chromeCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no chrome binary found on PATH (set browser.chrome_path)")
}

// discoverTarget polls the debugging HTTP endpoint until the first page
// target shows up and returns its websocket URL.
func (d *CDPDriver) discoverTarget(ctx context.Context) (string, error) {
	endpoint := fmt.Sprintf("http://127.0.0.1:%d/json/list", d.cfg.DebugPort)

	var lastErr error
	for attempt := 0; attempt < 40; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return "", err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		var targets []struct {
			Type                 string `json:"type"`
			URL                  string `json:"url"`
			WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
		}
		err = json.NewDecoder(resp.Body).Decode(&targets)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		for _, t := range targets {
			if t.Type == "page" && t.WebSocketDebuggerURL != "" {
				return t.WebSocketDebuggerURL, nil
			}
		}
		lastErr = fmt.Errorf("no page target yet")
	}
	return "", fmt.Errorf("discovering devtools target: %w", lastErr)
}

// readLoop dispatches protocol responses to their callers. Event messages
// (no ID) are dropped; the driver operates purely request/response.
func (d *CDPDriver) readLoop() {
	for {
		_, data, err := d.conn.ReadMessage()
		if err != nil {
			d.failPending(err)
			return
		}
		var resp cdpResponse
		if err := json.Unmarshal(data, &resp); err != nil || resp.ID == 0 {
			continue
		}
		d.pendingMu.Lock()
		ch, ok := d.pending[resp.ID]
		delete(d.pending, resp.ID)
		d.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (d *CDPDriver) failPending(err error) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	for id, ch := range d.pending {
		delete(d.pending, id)
		close(ch)
	}
	if !d.closed.Load() {
		d.logger.Warn("devtools connection lost", "error", err)
	}
}

// call performs one protocol call and waits for its response.
func (d *CDPDriver) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if d.closed.Load() {
		return nil, ErrDriverClosed
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	id := d.nextID.Add(1)
	ch := make(chan cdpResponse, 1)
	d.pendingMu.Lock()
	d.pending[id] = ch
	d.pendingMu.Unlock()

	d.writeMu.Lock()
	err := d.conn.WriteJSON(cdpRequest{ID: id, Method: method, Params: params})
	d.writeMu.Unlock()
	if err != nil {
		d.pendingMu.Lock()
		delete(d.pending, id)
		d.pendingMu.Unlock()
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		d.pendingMu.Lock()
		delete(d.pending, id)
		d.pendingMu.Unlock()
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrDriverClosed
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %s", method, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

// jsPrelude defines the page-side helpers shared by every evaluation. The
// handle registry survives between calls but not across reloads, which is
// fine: a stale handle resolves to null and surfaces as ErrElementNotFound.
const jsPrelude = `
const R = (window.__rcReg = window.__rcReg || { seq: 0, map: {} });
const visible = (el) => !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length);
const describe = (el, marker) => {
	const id = 'e' + (++R.seq);
	R.map[id] = el;
	return {
		id: id,
		marker: marker || '',
		text: (el.innerText || '').slice(0, 400),
		label: el.getAttribute('aria-label') || '',
		title: el.getAttribute('title') || ''
	};
};
const get = (id) => R.map[id] || null;
`

// eval runs a JS body inside an IIFE with the prelude and decodes the
// returned value into out (which may be nil for fire-and-forget bodies).
func (d *CDPDriver) eval(ctx context.Context, body string, out any) error {
	expr := "(() => {" + jsPrelude + body + "})()"
	raw, err := d.call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expr,
		"returnByValue": true,
	})
	if err != nil {
		return err
	}

	var result struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decoding evaluate result: %w", err)
	}
	if result.ExceptionDetails != nil {
		return fmt.Errorf("page script failed: %s", result.ExceptionDetails.Text)
	}
	if out == nil || len(result.Result.Value) == 0 || string(result.Result.Value) == "null" {
		if out != nil {
			return ErrElementNotFound
		}
		return nil
	}
	return json.Unmarshal(result.Result.Value, out)
}

// jsString marshals a Go string into a JS string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// jsStrings marshals a Go string slice into a JS array literal.
func jsStrings(ss []string) string {
	b, _ := json.Marshal(ss)
	return string(b)
}

// ---------- Driver interface ----------

// Navigate loads the given URL.
func (d *CDPDriver) Navigate(ctx context.Context, url string) error {
	_, err := d.call(ctx, "Page.navigate", map[string]any{"url": url})
	return err
}

// Reload reloads the current page.
func (d *CDPDriver) Reload(ctx context.Context) error {
	_, err := d.call(ctx, "Page.reload", nil)
	return err
}

// Location returns the page's current address.
func (d *CDPDriver) Location(ctx context.Context) (string, error) {
	var loc string
	if err := d.eval(ctx, "return window.location.href;", &loc); err != nil {
		return "", err
	}
	return loc, nil
}

// LocateByCandidateSet returns the first visible element matching any
// marker, trying markers in order.
func (d *CDPDriver) LocateByCandidateSet(ctx context.Context, markers []string) (*Element, error) {
	body := fmt.Sprintf(`
	for (const marker of %s) {
		let els;
		try { els = document.querySelectorAll(marker); } catch (e) { continue; }
		for (const el of els) {
			if (visible(el)) return describe(el, marker);
		}
	}
	return null;`, jsStrings(markers))

	var el Element
	if err := d.eval(ctx, body, &el); err != nil {
		return nil, err
	}
	return &el, nil
}

// LocateAll returns every visible element matching the marker.
func (d *CDPDriver) LocateAll(ctx context.Context, marker string) ([]*Element, error) {
	body := fmt.Sprintf(`
	let els;
	try { els = document.querySelectorAll(%s); } catch (e) { return []; }
	const out = [];
	for (const el of els) {
		if (visible(el)) out.push(describe(el, %s));
	}
	return out;`, jsString(marker), jsString(marker))

	var els []*Element
	if err := d.eval(ctx, body, &els); err != nil {
		return nil, err
	}
	return els, nil
}

// Ancestor resolves the nearest ancestor (or self) matching any marker.
func (d *CDPDriver) Ancestor(ctx context.Context, el *Element, markers []string) (*Element, error) {
	body := fmt.Sprintf(`
	const el = get(%s);
	if (!el) return null;
	for (const marker of %s) {
		let hit;
		try { hit = el.closest(marker); } catch (e) { continue; }
		if (hit) return describe(hit, marker);
	}
	return null;`, jsString(el.ID), jsStrings(markers))

	var out Element
	if err := d.eval(ctx, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Descendant resolves the first visible descendant matching any marker.
func (d *CDPDriver) Descendant(ctx context.Context, el *Element, markers []string) (*Element, error) {
	body := fmt.Sprintf(`
	const el = get(%s);
	if (!el) return null;
	for (const marker of %s) {
		let els;
		try { els = el.querySelectorAll(marker); } catch (e) { continue; }
		for (const hit of els) {
			if (visible(hit)) return describe(hit, marker);
		}
	}
	return null;`, jsString(el.ID), jsStrings(markers))

	var out Element
	if err := d.eval(ctx, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Attribute reads one attribute from the element.
func (d *CDPDriver) Attribute(ctx context.Context, el *Element, name string) (string, error) {
	body := fmt.Sprintf(`
	const el = get(%s);
	if (!el) return null;
	return el.getAttribute(%s) || '';`, jsString(el.ID), jsString(name))

	var value string
	if err := d.eval(ctx, body, &value); err != nil {
		return "", err
	}
	return value, nil
}

// InnerText reads the element's current visible text.
func (d *CDPDriver) InnerText(ctx context.Context, el *Element) (string, error) {
	body := fmt.Sprintf(`
	const el = get(%s);
	if (!el) return null;
	return el.innerText || '';`, jsString(el.ID))

	var value string
	if err := d.eval(ctx, body, &value); err != nil {
		return "", err
	}
	return value, nil
}

// Click clicks the element through the page's own click handler.
func (d *CDPDriver) Click(ctx context.Context, el *Element) error {
	body := fmt.Sprintf(`
	const el = get(%s);
	if (!el) return null;
	el.click();
	return true;`, jsString(el.ID))

	var ok bool
	return d.eval(ctx, body, &ok)
}

// InjectText inserts the message into a contenteditable compose surface as
// one structured unit: each line becomes a text node, lines are separated
// by <br> elements, and the host's input events fire once for the whole
// message. WhatsApp Web only enables its send action after seeing those
// events, and fragment-wise insertion mangles multi-line templates.
func (d *CDPDriver) InjectText(ctx context.Context, el *Element, text string) error {
	body := fmt.Sprintf(`
	const el = get(%s);
	if (!el) return null;
	const message = %s;
	el.innerHTML = '';
	el.textContent = '';
	el.focus();
	const lines = message.split('\n');
	for (let i = 0; i < lines.length; i++) {
		if (lines[i] !== '') {
			el.appendChild(document.createTextNode(lines[i]));
		}
		if (i < lines.length - 1) {
			el.appendChild(document.createElement('br'));
		}
	}
	const events = [
		new Event('input', { bubbles: true, cancelable: true }),
		new Event('change', { bubbles: true, cancelable: true }),
		new Event('keyup', { bubbles: true, cancelable: true }),
		new InputEvent('input', { bubbles: true, cancelable: true, inputType: 'insertText', data: message })
	];
	for (const evt of events) {
		try { el.dispatchEvent(evt); } catch (e) {}
	}
	return true;`, jsString(el.ID), jsString(text))

	var ok bool
	return d.eval(ctx, body, &ok)
}

// SendCommitKey dispatches a synthetic Enter keydown/keyup pair to the
// element. Fallback send path when no send action marker resolves.
func (d *CDPDriver) SendCommitKey(ctx context.Context, el *Element) error {
	body := fmt.Sprintf(`
	const el = get(%s);
	if (!el) return null;
	for (const type of ['keydown', 'keyup']) {
		el.dispatchEvent(new KeyboardEvent(type, {
			key: 'Enter', code: 'Enter', keyCode: 13, which: 13,
			bubbles: true, cancelable: true
		}));
	}
	return true;`, jsString(el.ID))

	var ok bool
	return d.eval(ctx, body, &ok)
}

// Close tears down the websocket and the Chrome process.
func (d *CDPDriver) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	if d.conn != nil {
		_ = d.conn.Close()
	}
	if d.cmd != nil && d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
		_ = d.cmd.Wait()
	}
	d.logger.Info("chrome closed")
	return nil
}

var _ Driver = (*CDPDriver)(nil)
