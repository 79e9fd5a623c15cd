package browser

// helpersScript installs window.__pagehand in every document of the page. It
// is registered as an init script and evaluated once on attach.
const helpersScript = `(() => {
  if (window.__pagehand) return;

  const ids = new WeakMap();
  const byID = new Map();
  let nextID = 1;

  const byXPath = (xpath) => {
    if (!xpath) return document.body;
    return document.evaluate(xpath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
  };

  const scrollEnd = () => new Promise((resolve) => {
    let timer;
    const done = () => {
      document.removeEventListener('scroll', onScroll, true);
      resolve();
    };
    const onScroll = () => {
      clearTimeout(timer);
      timer = setTimeout(done, 100);
    };
    document.addEventListener('scroll', onScroll, { capture: true, passive: true });
    timer = setTimeout(done, 100);
  });

  const skipWords = new Set(['SCRIPT', 'STYLE', 'IFRAME', 'INPUT']);

  window.__pagehand = {
    id(node) {
      let id = ids.get(node);
      if (id === undefined) {
        id = nextID++;
        ids.set(node, id);
        byID.set(id, new WeakRef(node));
      }
      return id;
    },

    node(id) {
      const ref = byID.get(id);
      const node = ref && ref.deref();
      if (!node || !node.isConnected) throw new Error('node ' + id + ' is detached');
      return node;
    },

    resolve(xpath) {
      const el = byXPath(xpath);
      if (!el) throw new Error('no element matches ' + xpath);
      return el;
    },

    scrollTo(el, offset) {
      const ended = scrollEnd();
      (el || window).scrollTo({ top: offset, left: 0, behavior: 'smooth' });
      return ended;
    },

    scrollIntoView(el) {
      const ended = scrollEnd();
      el.scrollIntoView({ behavior: 'smooth', block: 'center' });
      return ended;
    },

    canScroll(el) {
      const before = el.scrollTop;
      el.scrollTo({ top: before + 100, left: 0, behavior: 'instant' });
      const moved = el.scrollTop !== before;
      el.scrollTo({ top: before, left: 0, behavior: 'instant' });
      return moved;
    },

    settle(quietMs) {
      return new Promise((resolve) => {
        const target = document.body || document.documentElement;
        let timer;
        const observer = new MutationObserver(() => {
          clearTimeout(timer);
          timer = setTimeout(done, quietMs);
        });
        const done = () => {
          observer.disconnect();
          resolve();
        };
        observer.observe(target, { childList: true, subtree: true });
        timer = setTimeout(done, quietMs);
      });
    },

    storeDOM(xpath) {
      if (!xpath) return document.body.cloneNode(true).outerHTML;
      return this.resolve(xpath).outerHTML;
    },

    restoreDOM(stored, xpath) {
      if (!xpath) {
        document.body.innerHTML = stored;
        return;
      }
      this.resolve(xpath).outerHTML = stored;
    },

    highlightWords(xpath) {
      const root = this.resolve(xpath);
      const texts = [];
      const walker = document.createTreeWalker(root, NodeFilter.SHOW_TEXT, {
        acceptNode(node) {
          for (let p = node.parentElement; p && p !== root.parentElement; p = p.parentElement) {
            if (skipWords.has(p.tagName)) return NodeFilter.FILTER_REJECT;
          }
          return node.nodeValue.trim() ? NodeFilter.FILTER_ACCEPT : NodeFilter.FILTER_SKIP;
        },
      });
      while (walker.nextNode()) texts.push(walker.currentNode);
      for (const text of texts) {
        const frag = document.createDocumentFragment();
        for (const token of text.nodeValue.split(/(\s+)/)) {
          if (!token) continue;
          const span = document.createElement('span');
          span.textContent = token;
          span.className = token.trim() ? 'pagehand-word' : 'pagehand-space';
          frag.appendChild(span);
        }
        text.parentNode.replaceChild(frag, text);
      }
    },

    wordBoxes(xpath) {
      const el = this.resolve(xpath);
      const box = (text, r, scale) => ({
        text,
        left: r.left + window.scrollX,
        top: r.top + window.scrollY,
        width: r.width,
        height: r.height * scale,
      });
      if (el.tagName === 'SELECT') {
        const opt = el.options[el.selectedIndex];
        const text = opt ? opt.textContent.trim() : '';
        return text ? [box(text, el.getBoundingClientRect(), 1)] : [];
      }
      const words = [];
      for (const span of el.querySelectorAll('.pagehand-word')) {
        const r = span.getBoundingClientRect();
        const b = box(span.textContent, r, 0.75);
        if (b.width > 0 && b.height > 0 && b.top >= 0 && b.left >= 0) words.push(b);
      }
      if (words.length > 0) return words;
      let fallback = '';
      if (el.tagName === 'INPUT' || el.tagName === 'TEXTAREA') fallback = el.placeholder || '';
      else if (el.tagName === 'IMG') fallback = el.alt || '';
      return [box(fallback, el.getBoundingClientRect(), 0.75)];
    },

    drawOverlay(xpaths) {
      let drawn = 0;
      for (const xpath of xpaths) {
        const el = byXPath(xpath);
        if (!el || !el.getBoundingClientRect) continue;
        const r = el.getBoundingClientRect();
        const overlay = document.createElement('div');
        overlay.className = 'pagehand-observe-overlay';
        Object.assign(overlay.style, {
          position: 'absolute',
          left: r.left + window.scrollX + 'px',
          top: r.top + window.scrollY + 'px',
          width: r.width + 'px',
          height: r.height + 'px',
          backgroundColor: 'rgba(255, 255, 0, 0.3)',
          pointerEvents: 'none',
          zIndex: '10000',
        });
        document.body.appendChild(overlay);
        drawn++;
      }
      return drawn;
    },

    clearOverlays() {
      for (const el of document.querySelectorAll('.pagehand-observe-overlay')) el.remove();
    },
  };
})()`

// viewportScript reads the window size, scroll position and pixel ratio.
const viewportScript = `() => ({
  width: window.innerWidth,
  height: window.innerHeight,
  scrollX: window.scrollX,
  scrollY: window.scrollY,
  dpr: window.devicePixelRatio || 1,
})`

// snapshotScript walks the document in pre-order and returns rawNode
// records. It backs Snapshot on browsers without CDP.
const snapshotScript = `() => {
  const h = window.__pagehand;
  const nodes = [];
  const rect = (r) => [r.x, r.y, r.width, r.height];
  const visit = (node, parent) => {
    const type = node.nodeType;
    if (type !== 1 && type !== 3 && type !== 8 && type !== 9) return;
    const raw = { parent, type, name: node.nodeName, id: h.id(node) };
    if (type === 3 || type === 8) raw.value = node.nodeValue;
    if (type === 1) {
      raw.attrs = [];
      for (const a of node.attributes) raw.attrs.push(a.name, a.value);
      if (node.getClientRects().length > 0) raw.box = rect(node.getBoundingClientRect());
      const s = getComputedStyle(node);
      raw.style = [s.display, s.visibility, s.overflowY, s.opacity];
      const z = parseInt(s.zIndex, 10);
      raw.paint = isNaN(z) ? 0 : z;
      raw.scroll = [node.scrollTop, node.scrollHeight, node.clientHeight];
    } else if (type === 3) {
      const range = document.createRange();
      range.selectNodeContents(node);
      const r = range.getBoundingClientRect();
      if (r.width > 0 || r.height > 0) raw.box = rect(r);
    }
    const index = nodes.length;
    nodes.push(raw);
    for (const child of node.childNodes) visit(child, index);
  };
  visit(document, -1);
  return { url: location.href, nodes };
}`

// nodeCall runs fn with this bound to the node registered under id. It is
// the non-CDP path of callOnNode.
const nodeCall = `([id, arg]) => (%s).call(window.__pagehand.node(id), arg)`

const (
	scrollToFn       = `function(offset) { return window.__pagehand.scrollTo(this, offset); }`
	scrollIntoViewFn = `function() { return window.__pagehand.scrollIntoView(this); }`
	canScrollFn      = `function() { return window.__pagehand.canScroll(this); }`
)
