// Package pagescript holds the JavaScript installed into the page: the
// capture listeners, the shadow-root observer, DOM snapshotting and the
// replay primitives. Everything else runs in Go.
package pagescript

import (
	"context"
	"encoding/json"
	"fmt"
)

// Version is bumped whenever Source changes so a stale install is replaced.
const Version = "4"

// Global is the window property the engine lives under.
const Global = "__stepflow"

// IndicatorID is the id of the on-page recording indicator.
const IndicatorID = "__stepflow-indicator"

// Call renders a call of an engine method with JSON-encoded arguments.
func Call(method string, args ...any) string {
	encoded := "("
	for i, a := range args {
		if i > 0 {
			encoded += ","
		}
		data, err := json.Marshal(a)
		if err != nil {
			// Arguments are plain strings, numbers and structs of them.
			panic(fmt.Sprintf("pagescript: encode argument %d of %s: %v", i, method, err))
		}
		encoded += string(data)
	}
	return "window." + Global + "." + method + encoded + ")"
}

// Installed evaluates to true when the current document carries this
// version of the engine.
const Installed = `(typeof window.` + Global + ` === "object" && window.` + Global + `.version === "` + Version + `")`

// Source installs the engine. It is idempotent per document and evaluates
// to true.
const Source = `(() => {
  if (window.__stepflow && window.__stepflow.version === "` + Version + `") return true;
  if (window.__stepflow && window.__stepflow.stop) { try { window.__stepflow.stop(); } catch (e) {} }

  const INDICATOR_ID = "` + IndicatorID + `";
  const NODE_ATTR = "data-sf-node";
  const TYPES = ["click", "input", "change"];
  const state = {
    recording: false,
    queue: [],
    keys: new WeakMap(),
    elements: new Map(),
    nextKey: 1,
    roots: null,
    rootCount: 0,
    attached: [],
    observer: null,
    resolved: null,
  };

  function keyOf(el) {
    let k = state.keys.get(el);
    if (!k) {
      k = state.nextKey++;
      state.keys.set(el, k);
    }
    state.elements.set(k, new WeakRef(el));
    return k;
  }

  function realTarget(ev) {
    const path = ev.composedPath ? ev.composedPath() : [];
    const t = path.length ? path[0] : ev.target;
    if (t && t.nodeType === Node.TEXT_NODE) return t.parentElement;
    return t && t.nodeType === Node.ELEMENT_NODE ? t : null;
  }

  function inIndicator(el) {
    const ind = document.getElementById(INDICATOR_ID);
    return !!ind && (ind === el || ind.contains(el));
  }

  function firstSeen(ev) {
    if (ev.__stepflowSeen) return false;
    try { ev.__stepflowSeen = true; } catch (e) {}
    return true;
  }

  function indexPath(scope, el) {
    const path = [];
    while (el && el !== scope) {
      const parent = el.parentNode;
      if (!parent || !parent.children) return null;
      path.unshift(Array.prototype.indexOf.call(parent.children, el));
      el = parent;
    }
    return el === scope ? path : null;
  }

  function follow(root, path) {
    let n = root;
    for (const i of path) {
      if (!n) return null;
      n = n.children[i];
    }
    return n || null;
  }

  function snapshot(target) {
    const root = target.getRootNode();
    const shadow = typeof ShadowRoot !== "undefined" && root instanceof ShadowRoot;
    const scope = shadow ? root : document.documentElement;
    const marks = [[indexPath(scope, target), "data-sf-target"]];
    let cur = target;
    for (let depth = 0; cur && cur.nodeType === Node.ELEMENT_NODE && depth <= 6; depth++) {
      try {
        if (getComputedStyle(cur).cursor === "pointer") marks.push([indexPath(scope, cur), "data-sf-pointer"]);
      } catch (e) {}
      cur = cur.parentElement;
    }
    let clone;
    if (shadow) {
      clone = document.createElement("div");
      for (const child of root.childNodes) clone.appendChild(child.cloneNode(true));
      stampNodes(clone, false);
    } else {
      clone = cloneDocument();
    }
    for (const [path, attr] of marks) {
      const el = path && follow(clone, path);
      if (el) el.setAttribute(attr, "1");
    }
    if (!shadow) return { html: clone.outerHTML, shadow: false };
    return {
      html: "<html><body>" + clone.innerHTML + "</body></html>",
      shadow: true,
      light: cloneDocument().outerHTML,
    };
  }

  function stampNodes(clone, self) {
    if (self) clone.setAttribute(NODE_ATTR, "1");
    for (const el of clone.querySelectorAll("*")) el.setAttribute(NODE_ATTR, "1");
  }

  function cloneDocument() {
    const clone = document.documentElement.cloneNode(true);
    stampNodes(clone, true);
    const ind = clone.querySelector("#" + INDICATOR_ID);
    if (ind) ind.remove();
    return clone;
  }

  function valueOf(el) {
    if (el.isContentEditable) return el.textContent || "";
    return el.value == null ? "" : String(el.value);
  }

  function isTextField(el) {
    const tag = el.tagName.toLowerCase();
    return tag === "input" || tag === "textarea" || el.isContentEditable;
  }

  function onEvent(ev) {
    if (!state.recording || !firstSeen(ev)) return;
    const t = realTarget(ev);
    if (!t || inIndicator(t)) return;
    const now = Date.now();
    switch (ev.type) {
      case "click":
        state.queue.push({ kind: "click", key: keyOf(t), snapshot: snapshot(t), timestamp: now });
        break;
      case "input":
        if (!isTextField(t)) return;
        state.queue.push({ kind: "input", key: keyOf(t), timestamp: now });
        break;
      case "change":
        if (t.tagName.toLowerCase() !== "select") return;
        state.queue.push({ kind: "change", key: keyOf(t), value: valueOf(t), snapshot: snapshot(t), timestamp: now });
        break;
    }
  }

  function listen(target) {
    for (const type of TYPES) {
      target.addEventListener(type, onEvent, true);
      state.attached.push([target, type]);
    }
  }

  function attachRoot(root) {
    if (!state.recording || !root || state.roots.has(root)) return;
    state.roots.add(root);
    state.rootCount++;
    listen(root);
    if (state.observer) state.observer.observe(root, { childList: true, subtree: true });
    scan(root);
  }

  function scan(node) {
    if (!node) return;
    if (node.shadowRoot) attachRoot(node.shadowRoot);
    if (!node.querySelectorAll) return;
    for (const el of node.querySelectorAll("*")) {
      if (el.shadowRoot) attachRoot(el.shadowRoot);
    }
  }

  const nativeAttachShadow = Element.prototype.attachShadow;
  if (nativeAttachShadow && !nativeAttachShadow.__stepflow) {
    const patched = function () {
      const root = nativeAttachShadow.apply(this, arguments);
      queueMicrotask(() => attachRoot(root));
      return root;
    };
    patched.__stepflow = true;
    Element.prototype.attachShadow = patched;
  }

  function showIndicator() {
    if (document.getElementById(INDICATOR_ID)) return;
    const ind = document.createElement("div");
    ind.id = INDICATOR_ID;
    ind.textContent = "● REC";
    ind.style.cssText = "position:fixed;top:10px;right:10px;z-index:2147483647;background:#e53935;color:#fff;" +
      "padding:4px 10px;border-radius:12px;font:600 12px/1.4 sans-serif;box-shadow:0 1px 4px rgba(0,0,0,.3);";
    (document.body || document.documentElement).appendChild(ind);
  }

  function hideIndicator() {
    const ind = document.getElementById(INDICATOR_ID);
    if (ind) ind.remove();
  }

  function visible(el) {
    const style = getComputedStyle(el);
    if (style.display === "none" || style.visibility === "hidden" || style.opacity === "0") return false;
    if (el.offsetParent !== null) return true;
    return style.position === "fixed" && el.getClientRects().length > 0;
  }

  function deepQueryAll(selector, root, out) {
    out = out || [];
    root = root || document;
    for (const el of root.querySelectorAll(selector)) out.push(el);
    for (const el of root.querySelectorAll("*")) {
      if (el.shadowRoot) deepQueryAll(selector, el.shadowRoot, out);
    }
    return out;
  }

  function resolvedElement() {
    const el = state.resolved && state.resolved.deref();
    return el && el.isConnected ? el : null;
  }

  function dispatch(el, ev) {
    el.dispatchEvent(ev);
  }

  window.__stepflow = {
    version: "` + Version + `",

    start() {
      if (state.recording) return false;
      state.recording = true;
      state.roots = new WeakSet();
      state.rootCount = 0;
      listen(window);
      listen(document);
      state.observer = new MutationObserver((records) => {
        for (const rec of records) {
          for (const node of rec.addedNodes) {
            if (node.nodeType === Node.ELEMENT_NODE) scan(node);
          }
        }
      });
      state.observer.observe(document.documentElement, { childList: true, subtree: true });
      scan(document.documentElement);
      showIndicator();
      return true;
    },

    stop() {
      if (!state.recording) return false;
      state.recording = false;
      for (const [target, type] of state.attached) target.removeEventListener(type, onEvent, true);
      state.attached = [];
      if (state.observer) state.observer.disconnect();
      state.observer = null;
      state.roots = null;
      state.rootCount = 0;
      hideIndicator();
      return true;
    },

    drain() {
      const events = state.queue;
      state.queue = [];
      return { recording: state.recording, events: events };
    },

    describe(key) {
      const ref = state.elements.get(key);
      const el = ref && ref.deref();
      if (!el || !el.isConnected) return { found: false };
      return { found: true, value: valueOf(el), snapshot: snapshot(el) };
    },

    stats() {
      return { recording: state.recording, shadowRoots: state.rootCount, queued: state.queue.length };
    },

    resolve(alternatives) {
      state.resolved = null;
      for (let i = 0; i < alternatives.length; i++) {
        const alt = alternatives[i];
        let candidates;
        try {
          candidates = deepQueryAll(alt.kind === 1 ? alt.tag : alt.raw);
        } catch (e) {
          continue;
        }
        for (const el of candidates) {
          if (alt.kind === 1 && (el.textContent || "").trim() !== alt.text) continue;
          if (!visible(el)) continue;
          state.resolved = new WeakRef(el);
          return { found: true, index: i, tagName: el.tagName.toLowerCase() };
        }
      }
      return { found: false, index: -1 };
    },

    scroll() {
      const el = resolvedElement();
      if (!el) return { ok: false, reason: "detached" };
      try { el.scrollIntoView({ block: "center", inline: "center", behavior: "instant" }); } catch (e) {}
      return { ok: true };
    },

    highlight(ms) {
      const el = resolvedElement();
      if (!el) return { ok: false, reason: "detached" };
      const prev = el.style.outline;
      el.style.outline = "3px solid #ff9800";
      setTimeout(() => { el.style.outline = prev; }, ms);
      return { ok: true };
    },

    click() {
      const el = resolvedElement();
      if (!el) return { ok: false, reason: "detached" };
      try {
        el.click();
        return { ok: true, fallback: false };
      } catch (e) {
        dispatch(el, new MouseEvent("click", { bubbles: true, cancelable: true, view: window }));
        return { ok: true, fallback: true };
      }
    },

    input(value) {
      const el = resolvedElement();
      if (!el) return { ok: false, reason: "detached" };
      try { el.focus(); } catch (e) {}
      const tag = el.tagName.toLowerCase();
      if (tag === "select") {
        el.value = value;
        dispatch(el, new Event("change", { bubbles: true }));
        return { ok: true, kind: "select" };
      }
      if (el.isContentEditable) {
        el.textContent = value;
        dispatch(el, new InputEvent("input", { bubbles: true, data: value, inputType: "insertText" }));
        return { ok: true, kind: "contenteditable" };
      }
      const proto = tag === "textarea" ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
      const desc = Object.getOwnPropertyDescriptor(proto, "value");
      if (desc && desc.set) desc.set.call(el, value);
      else el.value = value;
      dispatch(el, new Event("input", { bubbles: true }));
      dispatch(el, new Event("change", { bubbles: true }));
      dispatch(el, new KeyboardEvent("keyup", { bubbles: true }));
      return { ok: true, kind: "value" };
    },
  };
  return true;
})()`

// Page is the part of a browser tab the engine scripts need.
type Page interface {
	Evaluate(ctx context.Context, expression string, out any) error
}

// Install evaluates Source in the current document.
func Install(ctx context.Context, page Page) error {
	var ok bool
	if err := page.Evaluate(ctx, Source, &ok); err != nil {
		return fmt.Errorf("install page engine: %w", err)
	}
	return nil
}

// IsInstalled reports whether the current document carries the engine.
func IsInstalled(ctx context.Context, page Page) (bool, error) {
	var ok bool
	if err := page.Evaluate(ctx, Installed, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

// Snapshot is a serialised DOM clone around an event target, as produced by
// the page script.
type Snapshot struct {
	HTML   string `json:"html"`
	Shadow bool   `json:"shadow"`
	// Light is the light document, sent along with shadow-root snapshots so
	// uniqueness can be judged the way replay resolves: light DOM first.
	Light string `json:"light,omitempty"`
}
