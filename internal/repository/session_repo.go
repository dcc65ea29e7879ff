package repository

import (
	"context"

	"github.com/user/article-capture/internal/capture"
)

// BrowserRepository hands out authenticated browser pages.
type BrowserRepository interface {
	// NewPage opens a tab with the session cookies and viewport applied.
	NewPage(ctx context.Context) (capture.Page, error)
	// VerifyAuth reports whether the stored session is still logged in.
	VerifyAuth(ctx context.Context, page capture.Page) (bool, error)
	// Close shuts the browser down.
	Close()
}
