package kick

// Page scripts the scheduler runs on watch pages.
const (
	// ScriptResolveLive picks the first live channel card off a category
	// page.
	ScriptResolveLive = `(() => {
		const card = document.querySelector('a[href^="/"][class*="channel"], div[data-testid="channel-card"] a');
		return card ? new URL(card.getAttribute('href'), location.origin).href : '';
	})()`

	// ScriptDismissGate accepts the mature-content prompt.
	ScriptDismissGate = `(() => {
		const buttons = Array.from(document.querySelectorAll('button'));
		const btn = buttons.find(b => /start watching|i am over/i.test(b.textContent));
		if (btn) { btn.click(); return true; }
		return false;
	})()`

	// ScriptForceLowQuality mutes the player; kick's player picks its own
	// rendition and exposes no stable quality hook.
	ScriptForceLowQuality = `(() => {
		const video = document.querySelector('video');
		if (!video) return false;
		video.muted = true;
		return true;
	})()`

	// ScriptLiveCheck reports whether the channel page still shows a
	// playing live stream.
	ScriptLiveCheck = `(() => {
		const video = document.querySelector('video');
		return !!video && !video.paused && video.readyState >= 2;
	})()`
)
