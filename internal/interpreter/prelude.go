package interpreter

import "fmt"

// buildPrelude returns the DOM shim evaluated before any page script. The
// shim is ES5 only. Element values round-trip through __state so the
// answer can be read back after the page scripts finish.
func buildPrelude(host string) string {
	return fmt.Sprintf(preludeTemplate, host)
}

const preludeTemplate = `
var __host = %q;
var __scheme = "https://";
var location = {
    href: __scheme + __host + "/",
    hostname: __host,
    protocol: "https:",
    port: ""
};
var window = { location: location };
var navigator = {
    userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
    language: "en-US",
    languages: ["en-US", "en"],
    platform: "Win32"
};
window.navigator = navigator;
var history = { replaceState: function() {} };
window.history = history;
var performance = { now: function() { return Date.now(); } };
window.performance = performance;
var __state = {
    values: {},
    setValue: function(id, value) { this.values[id] = value; },
    getValue: function(id) { return this.values[id]; }
};
function __absUrl(input) {
    if (!input) return "";
    if (input.indexOf("http://") === 0 || input.indexOf("https://") === 0) return input;
    if (input.indexOf("//") === 0) return location.protocol + input;
    if (input.charAt(0) === "/") return __scheme + __host + input;
    if (input.charAt(0) === "?") return __scheme + __host + "/" + input;
    return __scheme + __host + "/" + input.replace(/^\/+/, "");
}
function __makeElement(id) {
    var element = {
        id: id,
        style: {},
        attributes: {},
        children: [],
        addEventListener: function() {},
        removeEventListener: function() {},
        appendChild: function(child) { this.children.push(child); return child; },
        setAttribute: function(name, value) { this.attributes[name] = value; },
        getAttribute: function(name) { return this.attributes[name] || ""; },
        submit: function() {}
    };
    Object.defineProperty(element, "value", {
        get: function() { return __state.getValue(id); },
        set: function(v) { __state.setValue(id, v); }
    });
    Object.defineProperty(element, "innerHTML", {
        get: function() { return this._innerHTML || ""; },
        set: function(val) {
            this._innerHTML = val;
            var match = /href\s*=\s*['"]([^'"]+)['"]/i.exec(val || "");
            if (match) {
                this.firstChild = { href: __absUrl(match[1]) };
            } else {
                this.firstChild = { href: "" };
            }
        }
    });
    Object.defineProperty(element, "href", {
        get: function() { return this._href || ""; },
        set: function(val) { this._href = __absUrl(val); }
    });
    return element;
}
var document = {
    _cache: {},
    location: location,
    createElement: function(tag) { return __makeElement(tag); },
    querySelector: function(sel) { return __makeElement(sel); },
    querySelectorAll: function(sel) { return []; },
    getElementById: function(id) {
        if (!this._cache[id]) {
            var el = __makeElement(id);
            if (id === "challenge-form") {
                el.elements = { get: function(name) { return document.getElementById(name); } };
            }
            this._cache[id] = el;
        }
        return this._cache[id];
    }
};
window.document = document;
document.defaultView = window;
function setTimeout(cb, delay) { return cb(); }
function clearTimeout() {}
function atob(str) { return str; }
function btoa(str) { return str; }
`
