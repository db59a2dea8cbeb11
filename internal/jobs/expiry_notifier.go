// expiry_notifier.go implements ExpiryNotifier, which emails an organization's contact
// address when its license is about to expire. The expiry_notified_at column makes each
// warning go out once per expiry, across restarts; renewing clears it.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/license-console/license-console/internal/db/models"
	"github.com/license-console/license-console/internal/db/repositories"
	"github.com/license-console/license-console/internal/telemetry"
)

const defaultWarningDays = 14

// ExpiringOrganizations is the part of repositories.OrganizationStore the notifier uses
type ExpiringOrganizations interface {
	ListExpiringUnnotified(ctx context.Context, now, until time.Time) ([]*models.Organization, error)
	MarkExpiryNotified(ctx context.Context, id string, expiresAt, at time.Time) error
}

var _ ExpiringOrganizations = (repositories.OrganizationStore)(nil)

// ExpiryNotifier sends one warning email per upcoming expiry
type ExpiryNotifier struct {
	orgs        ExpiringOrganizations
	mailer      Mailer
	now         func() time.Time
	warningDays int
	portalURL   string
}

// NewExpiryNotifier creates the notifier. now defaults to the UTC wall clock.
func NewExpiryNotifier(orgs ExpiringOrganizations, mailer Mailer, now func() time.Time, warningDays int) *ExpiryNotifier {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if warningDays <= 0 {
		warningDays = defaultWarningDays
	}
	return &ExpiryNotifier{orgs: orgs, mailer: mailer, now: now, warningDays: warningDays}
}

// WithPortalURL links the warning email to the self-service portal under baseURL
func (n *ExpiryNotifier) WithPortalURL(baseURL string) *ExpiryNotifier {
	n.portalURL = strings.TrimRight(baseURL, "/")
	return n
}

// Name implements Job
func (n *ExpiryNotifier) Name() string { return "expiry_notifier" }

// Run emails every active organization expiring within the warning window that has not been
// warned yet. A failed send leaves the organization unmarked so the next run retries it.
func (n *ExpiryNotifier) Run(ctx context.Context) error {
	now := n.now()
	orgs, err := n.orgs.ListExpiringUnnotified(ctx, now, now.AddDate(0, 0, n.warningDays))
	if err != nil {
		return fmt.Errorf("failed to query expiring licenses: %w", err)
	}
	if len(orgs) == 0 {
		return nil
	}
	slog.Info("expiry notifier: licenses approaching expiry", "count", len(orgs))

	for _, org := range orgs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if org.ContactEmail == "" {
			continue
		}
		subject, body := expiryMessage(org, now, n.portalURL)
		if err := n.mailer.Send(ctx, org.ContactEmail, subject, body); err != nil {
			telemetry.ExpiryNotificationsFailedTotal.Inc()
			slog.Warn("expiry notifier: send failed", "organization_id", org.ID, "error", err)
			continue
		}
		telemetry.ExpiryNotificationsSentTotal.Inc()

		err := n.orgs.MarkExpiryNotified(ctx, org.ID, org.ExpiresAt, now)
		switch {
		case errors.Is(err, repositories.ErrNotFound):
			slog.Info("expiry notifier: license changed since listing, leaving unmarked", "organization_id", org.ID)
		case err != nil:
			slog.Error("expiry notifier: failed to mark notification sent", "organization_id", org.ID, "error", err)
		}
	}
	return nil
}

// expiryMessage renders the warning. Days are rounded up, so a license expiring later today
// reads as 1 day.
func expiryMessage(org *models.Organization, now time.Time, portalURL string) (string, string) {
	daysLeft := int(org.ExpiresAt.Sub(now).Hours()/24) + 1
	if daysLeft < 1 {
		daysLeft = 1
	}

	subject := fmt.Sprintf("Your %s license expires in %d day(s)", org.Name, daysLeft)
	lines := []string{
		"Hello,",
		"",
		fmt.Sprintf("The license for %s (key %s) expires on %s.",
			org.Name, org.LicenseKeyHint, org.ExpiresAt.UTC().Format("2 January 2006 15:04 MST")),
		"",
		"Once it expires, members of your organization lose access until the license is renewed.",
		"Contact your account administrator to renew.",
	}
	if portalURL != "" {
		lines = append(lines, "", "Current usage and quotas: "+portalURL+"/api/v1/portal/organization")
	}
	lines = append(lines, "", "License Console")
	return subject, strings.Join(lines, "\n")
}
