// Package browser drives real browsers through Playwright for the engines.
//
// # Sessions
//
// A SessionManager owns the playwright driver. Each Session is one launched
// browser with a single context and page:
//
//  1. Initialize installs the drivers and browsers once per process
//  2. StartSession launches chromium, firefox or webkit and wraps the page
//  3. CloseSession, CleanupIdleSessions and Shutdown release resources
//
// # Pages
//
// Page implements engine.Page. On chromium a CDP session backs DOM
// snapshots (DOMSnapshot.captureSnapshot), the accessibility tree
// (Accessibility.getFullAXTree) and node-level calls (DOM.resolveNode plus
// Runtime.callFunctionOn), so backend node ids line up with the
// accessibility tree. Other engines use an in-page walker whose node ids are
// kept in a WeakMap by the page helpers; the accessibility tree is not
// available there.
//
// The page helpers are installed as an init script and cover scroll waits,
// DOM settle detection, per-word highlighting, word measurement and observe
// overlays.
//
// Playwright calls do not take a context. Page runs each call on its own
// goroutine and returns when the context ends; the call keeps running until
// its playwright timeout, which is derived from the context deadline.
package browser
