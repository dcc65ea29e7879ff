package chromedp_browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/user/article-capture/internal/capture"
	"github.com/user/article-capture/internal/repository"
)

var (
	loginIndicators = []capture.Selector{
		capture.Text("Anmelden"),
		capture.Text("Login"),
		capture.CSS(`[data-testid='login-button']`),
		capture.CSS(".login-button"),
	}
	userIndicators = []capture.Selector{
		capture.CSS(`[data-testid='user-menu']`),
		capture.CSS(".user-menu"),
		capture.Text("Profil"),
		capture.Text("Profile"),
	}

	emailInputs    = []capture.Selector{capture.CSS(`input[type='email']`), capture.CSS(`input[name='email']`), capture.CSS("#email")}
	passwordInputs = []capture.Selector{capture.CSS(`input[type='password']`), capture.CSS(`input[name='password']`)}
	submitButtons  = []capture.Selector{capture.CSS(`button[type='submit']`), capture.HasText("button", "Anmelden"), capture.HasText("button", "Login")}
)

func (b *Browser) homeURL() string {
	return strings.TrimRight(b.cfg.BaseURL, "/") + "/de"
}

// VerifyAuth loads the site home and looks for login or account controls.
// A visible login control means the session expired; a page with neither
// is treated as logged in.
func (b *Browser) VerifyAuth(ctx context.Context, page capture.Page) (bool, error) {
	var authed bool
	check := func() error {
		if err := page.Navigate(ctx, b.homeURL()); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		if err := page.WaitReady(ctx); err != nil {
			return err
		}
		ok, err := checkIndicators(ctx, page)
		if err != nil {
			return err
		}
		authed = ok
		return nil
	}
	notify := func(err error, d time.Duration) {
		b.logger.Warn("auth check failed, retrying", zap.Error(err), zap.Duration("backoff", d))
	}
	if err := backoff.RetryNotify(check, backoff.WithContext(b.cfg.backOff(), ctx), notify); err != nil {
		return false, fmt.Errorf("verify auth: %w", err)
	}
	b.logger.Info("auth verified", zap.Bool("authenticated", authed))
	return authed, nil
}

func checkIndicators(ctx context.Context, page capture.Page) (bool, error) {
	for _, sel := range loginIndicators {
		_, found, err := capture.FirstVisible(ctx, page, sel)
		if err != nil {
			return false, err
		}
		if found {
			return false, nil
		}
	}
	for _, sel := range userIndicators {
		_, found, err := capture.FirstVisible(ctx, page, sel)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return true, nil
}

// RefreshAuth logs in with the stored credentials and, on success, replaces
// the cookie file with the new session.
func (b *Browser) RefreshAuth(ctx context.Context) error {
	creds, err := LoadCredentials(b.cfg.CredentialsPath)
	if err != nil {
		return err
	}

	tab, err := b.newTab(ctx)
	if err != nil {
		return err
	}
	defer tab.Close()

	if err := login(ctx, tab, b.homeURL()+"/login", creds, b.cfg.SettleDelay); err != nil {
		return err
	}

	ok, err := b.VerifyAuth(ctx, tab)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("login as %s: %w", creds.Email, repository.ErrNotAuthenticated)
	}

	raw, err := tab.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("read session cookies: %w", err)
	}
	cookies := fromNetwork(raw)
	if err := SaveCookies(b.cfg.CookiePath, cookies); err != nil {
		return err
	}
	b.mu.Lock()
	b.cookies = cookies
	b.mu.Unlock()
	b.logger.Info("session refreshed", zap.String("path", b.cfg.CookiePath), zap.Int("cookies", len(cookies)))
	return nil
}

// login fills and submits the login form at loginURL.
func login(ctx context.Context, page capture.Page, loginURL string, creds Credentials, settle time.Duration) error {
	if err := page.Navigate(ctx, loginURL); err != nil {
		return err
	}
	if err := page.WaitReady(ctx); err != nil {
		return err
	}

	email, err := firstOf(ctx, page, emailInputs)
	if err != nil {
		return fmt.Errorf("email field: %w", err)
	}
	password, err := firstOf(ctx, page, passwordInputs)
	if err != nil {
		return fmt.Errorf("password field: %w", err)
	}
	if err := page.Fill(ctx, email, creds.Email); err != nil {
		return err
	}
	if err := page.Fill(ctx, password, creds.Password); err != nil {
		return err
	}

	if submit, err := firstOf(ctx, page, submitButtons); err == nil {
		err = page.Click(ctx, submit)
		if err != nil {
			return fmt.Errorf("submit login: %w", err)
		}
	} else if err := page.PressKey(ctx, "Enter"); err != nil {
		return fmt.Errorf("submit login: %w", err)
	}

	if err := page.WaitReady(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(settle):
	}
	return nil
}

func firstOf(ctx context.Context, page capture.Page, sels []capture.Selector) (capture.Element, error) {
	for _, sel := range sels {
		el, found, err := capture.FirstVisible(ctx, page, sel)
		if err != nil {
			return capture.Element{}, err
		}
		if found {
			return el, nil
		}
	}
	return capture.Element{}, errors.New("not found")
}
