// Package share publishes exported reports behind expiring links.
package share

import (
	"context"
	"time"

	"github.com/ekaya-inc/dashboard-gateway/pkg/apperrors"
)

// MaxExpiry is the longest lifetime a V4 signed URL may have.
const MaxExpiry = 7 * 24 * time.Hour

// Link is a published report.
type Link struct {
	URL        string    `json:"share_url"`
	ObjectName string    `json:"-"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Sink stores report HTML and returns a time-limited link to it.
type Sink interface {
	Publish(ctx context.Context, name string, html []byte) (*Link, error)
}

// Disabled is the Sink used when sharing is not configured.
type Disabled struct{}

var _ Sink = Disabled{}

func (Disabled) Publish(context.Context, string, []byte) (*Link, error) {
	return nil, apperrors.ErrShareDisabled
}
