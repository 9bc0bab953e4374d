package browser

import (
	"context"

	"github.com/browserutils/kooky"
	_ "github.com/browserutils/kooky/browser/chrome"
	_ "github.com/browserutils/kooky/browser/chromium"
	_ "github.com/browserutils/kooky/browser/edge"
	_ "github.com/browserutils/kooky/browser/firefox"
	_ "github.com/browserutils/kooky/browser/opera"

	"drops-miner-backend/internal/common/apperr"
)

// ImportSessionCookie looks through the user's installed browsers for a
// valid session cookie matching domain and name and returns the newest
// value found. Used once at startup to seed the automation host with an
// existing platform login.
func ImportSessionCookie(ctx context.Context, domain, name string) (string, error) {
	cookies, err := kooky.ReadCookies(ctx,
		kooky.Valid,
		kooky.DomainHasSuffix(domain),
		kooky.Name(name),
	)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeCredentialCaptureFailed, "browser cookie read failed")
	}

	var best *kooky.Cookie
	for _, ck := range cookies {
		if ck.Value == "" {
			continue
		}
		if best == nil || ck.Creation.After(best.Creation) {
			best = ck
		}
	}
	if best == nil {
		return "", apperr.New(apperr.CodeCredentialCaptureFailed, "no session cookie found in installed browsers").
			WithDetail("domain", domain).
			WithDetail("name", name)
	}
	return best.Value, nil
}
