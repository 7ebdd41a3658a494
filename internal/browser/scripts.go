package browser

// elementInfoJS maps an element onto ElementInfo. Visibility follows the
// layout-box rule: an element with no client rects or visibility:hidden is hidden.
const elementInfoJS = `(el) => {
	const style = window.getComputedStyle(el);
	const boxed = !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length);
	return {
		tag: el.tagName.toLowerCase(),
		id: el.id || '',
		name: el.getAttribute('name') || '',
		value: (el.value !== undefined && el.value !== null) ? String(el.value) : (el.getAttribute('value') || ''),
		type: (el.getAttribute('type') || '').toLowerCase(),
		visible: boxed && style.visibility !== 'hidden' && style.display !== 'none',
		checked: !!el.checked,
	};
}`

const optionsJS = `(el) => Array.from(el.options || []).map(o => ({ text: (o.text || '').trim(), value: o.value || '' }))`

const selectIndexJS = `(el, i) => {
	el.selectedIndex = i;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return el.selectedIndex === i;
}`
