package twitch

// Page scripts the scheduler runs on watch pages. Selectors follow the
// current web client and need occasional upkeep.
const (
	// ScriptResolveLive picks the first live channel link off a directory
	// category page.
	ScriptResolveLive = `(() => {
		const link = document.querySelector('a[data-a-target="preview-card-channel-link"]');
		return link ? link.href : '';
	})()`

	// ScriptDismissGate clicks through the mature-content overlay.
	ScriptDismissGate = `(() => {
		const btn = document.querySelector('button[data-a-target="content-classification-gate-overlay-start-watching-button"]')
			|| document.querySelector('button[data-a-target="player-overlay-mature-accept"]');
		if (btn) { btn.click(); return true; }
		return false;
	})()`

	// ScriptForceLowQuality pins the player to 160p through its settings
	// store rather than the menu UI.
	ScriptForceLowQuality = `(() => {
		try {
			window.localStorage.setItem('video-quality', '{"default":"160p30"}');
			window.localStorage.setItem('volume', '0');
			const video = document.querySelector('video');
			if (video) video.muted = true;
			return true;
		} catch (e) { return false; }
	})()`

	// ScriptLiveCheck reports whether the player is still playing a live
	// stream. An offline channel page drops the live indicator.
	ScriptLiveCheck = `(() => {
		if (document.querySelector('div[data-a-target="player-overlay-content-gate"]')) return true;
		const indicator = document.querySelector('.live-indicator-container, [data-a-target="animated-channel-viewers-count"]');
		const video = document.querySelector('video');
		return !!indicator && !!video && !video.paused;
	})()`
)
