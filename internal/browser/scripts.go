package browser

// JS-функции для Runtime.evaluate. Аргументы подставляются как JSON.

const jsXPathHelper = `function __x(xp) {
	try {
		return document.evaluate(xp, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	} catch (e) { return null; }
}
function __visible(el) {
	if (!el) return false;
	const r = el.getBoundingClientRect();
	const st = window.getComputedStyle(el);
	return r.width > 0 && r.height > 0 && st.visibility !== 'hidden' && st.display !== 'none';
}`

const jsLocate = `(xp) => {` + jsXPathHelper + `
	const el = __x(xp);
	if (!el) return null;
	const text = (el.tagName === 'INPUT' || el.tagName === 'TEXTAREA') ? el.value : (el.innerText || el.textContent || '');
	return {tag: el.tagName, text: text, visible: __visible(el)};
}`

const jsFill = `(xp, value) => {` + jsXPathHelper + `
	const el = __x(xp);
	if (!el) return false;
	el.focus();
	const proto = el.tagName === 'TEXTAREA' ? window.HTMLTextAreaElement.prototype : window.HTMLInputElement.prototype;
	const setter = Object.getOwnPropertyDescriptor(proto, 'value').set;
	setter.call(el, value);
	el.dispatchEvent(new Event('input', {bubbles: true}));
	el.dispatchEvent(new Event('change', {bubbles: true}));
	return true;
}`

const jsClick = `(xp) => {` + jsXPathHelper + `
	const el = __x(xp);
	if (!el || !__visible(el) || el.disabled) return false;
	el.scrollIntoView({block: 'center'});
	el.click();
	return true;
}`

const jsScroll = `(xp, dir) => {` + jsXPathHelper + `
	const el = xp ? __x(xp) : null;
	const t = el || document.scrollingElement || document.documentElement;
	switch (dir) {
	case 'top': t.scrollTop = 0; break;
	case 'bottom': t.scrollTop = t.scrollHeight; break;
	case 'left': t.scrollLeft = 0; break;
	case 'right': t.scrollLeft = t.scrollWidth; break;
	}
	return !!el || !xp;
}`

const jsOverlayPresent = `(host, marker) => {
	try {
		const h = document.querySelector(host);
		if (!h || !h.shadowRoot) return false;
		return h.shadowRoot.querySelector(marker) !== null;
	} catch (e) { return false; }
}`

const jsOverlayFocus = `(host, input) => {
	const h = document.querySelector(host);
	if (!h || !h.shadowRoot) return false;
	const el = h.shadowRoot.querySelector(input);
	if (!el) return false;
	el.focus();
	el.value = '';
	return true;
}`

// PendingOrdersJS — число висящих ордеров в панели "открытые ордера".
const PendingOrdersJS = `(pane, rows) => {
	const p = document.querySelector(pane);
	const list = p ? p.querySelectorAll(rows) : document.querySelectorAll(rows);
	return list ? list.length : 0;
}`

// SetCheckedJS — привести чекбокс (CSS) к нужному состоянию. null, если чекбокса нет.
const SetCheckedJS = `(css, want) => {
	const el = document.querySelector(css);
	if (!el) return null;
	const checked = el.getAttribute('aria-checked') === 'true' || el.classList.contains('checked') || !!el.checked;
	if (checked !== want) el.click();
	return true;
}`
