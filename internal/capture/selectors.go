package capture

// Markup hooks of the article reader. These change whenever the site ships a
// new frontend, so they are kept together.
const (
	hiddenContentCSS = `[data-e2e-test-id="section-content-is-hidden"]`
	shownContentCSS  = `[data-e2e-test-id="section-content-is-shown"]`
	sectionHeaderCSS = `section[data-e2e-test-id="section-with-header"] div[class*="headerContainer"][role="button"]`
	globalToggleCSS  = `button[data-e2e-test-id="toggle-all-sections-button"]`
	modalCSS         = "#ds-modal"
)

// collapsedIndicators must all be invisible after expansion.
var collapsedIndicators = []Selector{
	CSS(hiddenContentCSS),
	Text("Weiterlesen"),
	Text("Read more"),
}

// validationIndicators is the stricter set used by the validator.
var validationIndicators = []Selector{
	CSS(hiddenContentCSS),
	Text("Weiterlesen"),
	Text("Read more"),
	Text("Mehr anzeigen"),
	Text("Show more"),
}

var genericExpanders = []Selector{
	CSS(hiddenContentCSS),
	CSS(`[data-testid="expand-button"]`),
	CSS(".expand-button"),
	CSS(".read-more-button"),
	HasText("button", "Weiterlesen"),
	HasText("button", "Read more"),
	HasText("button", "Mehr anzeigen"),
	HasText("button", "Show more"),
}

var expandSelectors = []Selector{
	CSS(hiddenContentCSS),
	Text("Weiterlesen"),
	Text("Read more"),
	Text("Mehr anzeigen"),
	Text("Show more"),
	CSS(`[data-testid="expand-button"]`),
	CSS(".expand-button"),
	CSS(".read-more-button"),
}

var modalCloseSelectors = []Selector{
	CSS(`button[aria-label*="Close"]`),
	CSS(`button[aria-label*="Schließen"]`),
	HasText("button", "×"),
	HasText("button", "✕"),
	HasText("button", "Close"),
	HasText("button", "Schließen"),
	CSS(`[data-testid*="close"]`),
	CSS(`[data-testid*="dismiss"]`),
	CSS(".close-button"),
	CSS(".modal-close"),
	CSS(`button[class*="close"]`),
	CSS(`div[role="button"][class*="close"]`),
	CSS(`svg[class*="close"]`),
}

var popupSelectors = []Selector{
	CSS(`button[aria-label*="Close"]`),
	CSS(`button[aria-label*="Schließen"]`),
	CSS(`.modal button[aria-label*="Close"]`),
	CSS(`.popup button[aria-label*="Close"]`),
	HasText("button", "×"),
	HasText("button", "✕"),
	HasText("button", "Close"),
	HasText("button", "Schließen"),
	HasText("button", "OK"),
	HasText("button", "Accept"),
	HasText("button", "Akzeptieren"),
	HasText("button", "Got it"),
	HasText("button", "Verstanden"),
	HasText("button", "Weiter"),
	HasText("button", "Next"),
	HasText("button", "Überspringen"),
	HasText("button", "Skip"),
	CSS(`[data-testid*="close"]`),
	CSS(`[data-testid*="dismiss"]`),
	CSS(".close-button"),
	CSS(".modal-close"),
}

var cookieConsentSelectors = []Selector{
	HasText("button", "Accept all"),
	HasText("button", "Alle akzeptieren"),
	HasText("button", "Accept cookies"),
	HasText("button", "Cookies akzeptieren"),
	HasText("button", "I agree"),
	HasText("button", "Ich stimme zu"),
}

var aggressiveCloseSelectors = []Selector{
	CSS(`button[aria-label*="Close"]`),
	HasText("button", "×"),
	HasText("button", "✕"),
	HasText("button", "Close"),
	HasText("button", "Schließen"),
	CSS(`[data-testid*="close"]`),
}

var loadingSelectors = []Selector{
	CSS(`[data-testid="loading"]`),
	CSS(".loading"),
	CSS(".spinner"),
	CSS(`[aria-busy="true"]`),
}

var sectionTitleSelectors = []Selector{
	CSS("h1"), CSS("h2"), CSS("h3"), CSS("h4"), CSS("h5"), CSS("h6"),
	CSS(`[data-testid="section-header"]`),
	CSS(".section-header"),
	CSS(".article-section"),
}

const removeOverlaysScript = `(() => {
	document.querySelectorAll('#ds-modal, [class*="modal"], [class*="overlay"], [class*="popup"], [role="dialog"]').forEach(el => el.remove());
	document.querySelectorAll('[class*="backdrop"], [class*="overlay"], [class*="dim"]').forEach(el => el.remove());
	document.querySelectorAll('[style*="position: fixed"]').forEach(el => {
		if (el.style.zIndex && parseInt(el.style.zIndex, 10) > 1000) el.remove();
	});
	document.body.style.overflow = 'auto';
	document.documentElement.style.overflow = 'auto';
	return true;
})()`

const removeModalScript = `(() => {
	const modal = document.querySelector('#ds-modal');
	if (!modal) return false;
	modal.remove();
	const backdrop = document.querySelector('[class*="backdrop"], [class*="overlay"]');
	if (backdrop) backdrop.remove();
	return true;
})()`

const fallbackExpandScript = `(() => {
	const selectors = [
		'[data-e2e-test-id="section-content-is-hidden"]',
		'[data-testid="expand-button"]',
		'.expand-button',
		'.read-more-button'
	];
	let clicked = 0;
	selectors.forEach(sel => {
		document.querySelectorAll(sel).forEach(el => {
			if (el.offsetParent !== null) {
				el.click();
				clicked++;
			}
		});
	});
	return clicked;
})()`

const pageHeightScript = `document.body.scrollHeight`
