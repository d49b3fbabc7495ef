package services

import (
	"context"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
	"go.uber.org/zap"

	"github.com/caseconnect/casa-cli/pkg/core/model"
)

const dateLayout = "2006-01-02"

// RenewalItem is one volunteer whose background check needs attention.
type RenewalItem struct {
	VolunteerID string
	Name        string
	CheckedAt   time.Time
	DueAt       time.Time
	Lapsed      bool
}

// RenewalReport lists the volunteers due for a background-check renewal and
// those whose checks have already lapsed.
type RenewalReport struct {
	Due    []RenewalItem
	Lapsed []RenewalItem
}

// VolunteerLister fetches volunteers, optionally filtered to one status.
type VolunteerLister interface {
	ListVolunteers(ctx context.Context, status model.VolunteerStatus) ([]model.Volunteer, error)
}

// ReviewRenewals expands the renewal recurrence rule from each active
// volunteer's last background check and reports who is due or lapsed as of
// now. It is read-only; any follow-up re-check runs through the backend.
func ReviewRenewals(ctx context.Context, client VolunteerLister, renewalRule string, logger *zap.Logger, now time.Time) (*RenewalReport, error) {
	logger.Info("Reviewing background-check renewals", zap.String("rrule", renewalRule))

	option, err := rrule.StrToROption(renewalRule)
	if err != nil {
		return nil, fmt.Errorf("invalid renewal rrule: %w", err)
	}

	volunteers, err := client.ListVolunteers(ctx, model.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active volunteers: %w", err)
	}
	logger.Debug("Fetched active volunteers", zap.Int("count", len(volunteers)))

	report := &RenewalReport{}
	for _, v := range volunteers {
		if v.BackgroundCheckStatus == model.CheckExpired {
			report.Lapsed = append(report.Lapsed, RenewalItem{
				VolunteerID: v.ID,
				Name:        v.Name(),
				Lapsed:      true,
			})
			continue
		}
		if v.BackgroundCheckStatus != model.CheckApproved || v.BackgroundCheckedAt == "" {
			continue
		}

		checkedAt, err := time.Parse(dateLayout, v.BackgroundCheckedAt)
		if err != nil {
			logger.Warn("Skipping volunteer with unparseable check date",
				zap.String("volunteer_id", v.ID),
				zap.String("background_checked_at", v.BackgroundCheckedAt))
			continue
		}

		due, err := nextRenewal(*option, checkedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to expand renewal rule for volunteer %s: %w", v.ID, err)
		}
		if due.IsZero() || due.After(now) {
			continue
		}

		report.Due = append(report.Due, RenewalItem{
			VolunteerID: v.ID,
			Name:        v.Name(),
			CheckedAt:   checkedAt,
			DueAt:       due,
		})
	}

	logger.Info("Renewal review complete",
		zap.Int("due", len(report.Due)),
		zap.Int("lapsed", len(report.Lapsed)))
	return report, nil
}

// nextRenewal returns the first occurrence of the rule after the check date.
func nextRenewal(option rrule.ROption, checkedAt time.Time) (time.Time, error) {
	option.Dtstart = checkedAt
	rule, err := rrule.NewRRule(option)
	if err != nil {
		return time.Time{}, err
	}
	return rule.After(checkedAt, false), nil
}
