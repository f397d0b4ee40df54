package service

import (
	"context"
	"fmt"
	"time"

	"github.com/civicqo/be-billing/internal/apperr"
	"github.com/civicqo/be-billing/internal/client"
	"github.com/civicqo/be-billing/internal/config"
	"github.com/civicqo/be-billing/internal/logger"
	"github.com/civicqo/be-billing/internal/repository"
)

// ReminderService runs the two-phase renewal reminder cycle: an ensure
// phase that schedules one reminder per escalation level for every
// expiring entitlement, and a dispatch phase that sends the due ones.
// Both phases are idempotent so a crashed run resumes cleanly.
type ReminderService struct {
	reminders     ReminderStore
	subscriptions SubscriptionStore
	tenants       TenantStore
	mailer        client.Mailer
	scheduler     config.SchedulerConfig
	portalURL     string
	log           *logger.Logger

	nowFn func() time.Time
}

// NewReminderService creates a new reminder service.
func NewReminderService(
	reminders ReminderStore,
	subscriptions SubscriptionStore,
	tenants TenantStore,
	mailer client.Mailer,
	scheduler config.SchedulerConfig,
	portalURL string,
	log *logger.Logger,
) *ReminderService {
	return &ReminderService{
		reminders:     reminders,
		subscriptions: subscriptions,
		tenants:       tenants,
		mailer:        mailer,
		scheduler:     scheduler,
		portalURL:     portalURL,
		log:           log,
		nowFn:         func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce executes one full scheduler cycle.
func (s *ReminderService) RunOnce(ctx context.Context) error {
	if err := s.RunSchedulingPhase(ctx); err != nil {
		return err
	}
	return s.RunDispatchPhase(ctx)
}

// RunSchedulingPhase ensures a reminder exists for every escalation level
// of every expiring entitlement: trial tenants approaching trialEndsAt and
// mandate-rail subscriptions approaching endDate. Levels whose scheduled
// time is already past are still created and become due immediately.
// Re-creating an existing level is a silent no-op.
func (s *ReminderService) RunSchedulingPhase(ctx context.Context) error {
	now := s.nowFn()

	trials, err := s.tenants.ListTrialTenants(ctx, now)
	if err != nil {
		return err
	}
	for _, tenant := range trials {
		if tenant.TrialEndsAt == nil {
			continue
		}
		s.ensureLevels(ctx, tenant.ID, nil, *tenant.TrialEndsAt)
	}

	expiring, err := s.subscriptions.ListExpiringMandate(ctx, now)
	if err != nil {
		return err
	}
	for _, sub := range expiring {
		subID := sub.ID
		s.ensureLevels(ctx, sub.TenantID, &subID, sub.EndDate)
	}

	return nil
}

// ensureLevels inserts one reminder per configured level relative to the
// window end. Insert conflicts with live reminders are swallowed.
func (s *ReminderService) ensureLevels(ctx context.Context, tenantID string, subscriptionID *string, windowEnd time.Time) {
	for i, offsetDays := range s.scheduler.ReminderOffsetsDays {
		rem := &repository.RenewalReminder{
			TenantID:       tenantID,
			SubscriptionID: subscriptionID,
			ReminderLevel:  i + 1,
			ScheduledFor:   windowEnd.AddDate(0, 0, -offsetDays),
			Status:         repository.ReminderStatusPending,
		}

		created, err := s.reminders.Ensure(ctx, rem)
		if err != nil {
			s.log.Error().Err(err).
				Str("tenant_id", tenantID).
				Int("level", rem.ReminderLevel).
				Msg("failed to ensure reminder")
			continue
		}
		if created {
			s.log.Info().
				Str("reminder_id", rem.ID).
				Str("tenant_id", tenantID).
				Int("level", rem.ReminderLevel).
				Time("scheduled_for", rem.ScheduledFor).
				Msg("Reminder scheduled")
		}
	}
}

// RunDispatchPhase sends every PENDING reminder whose scheduled time has
// arrived. Reminders for archived tenants are cancelled; a send failure
// increments the retry count and the reminder goes FAILED once the cap is
// reached. Status moves only after the send outcome is known.
func (s *ReminderService) RunDispatchPhase(ctx context.Context) error {
	now := s.nowFn()

	due, err := s.reminders.ListDue(ctx, now)
	if err != nil {
		return err
	}

	for _, rem := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.dispatch(ctx, rem)
	}

	return nil
}

func (s *ReminderService) dispatch(ctx context.Context, rem *repository.RenewalReminder) {
	tenant, err := s.tenants.GetByID(ctx, rem.TenantID)
	if err != nil {
		s.recordFailure(ctx, rem, fmt.Sprintf("tenant lookup: %v", err))
		return
	}

	if tenant.LifecycleStatus == repository.TenantStatusArchived {
		if err := s.reminders.Cancel(ctx, rem.ID); err != nil {
			s.log.Error().Err(err).Str("reminder_id", rem.ID).Msg("failed to cancel reminder")
			return
		}
		s.log.Info().
			Str("reminder_id", rem.ID).
			Str("tenant_id", tenant.ID).
			Msg("Reminder cancelled, tenant archived")
		return
	}

	if tenant.ContactEmail == "" {
		s.recordFailure(ctx, rem, "tenant has no contact email")
		return
	}

	renewURL := fmt.Sprintf("%s/renouvellement", s.portalURL)
	if rem.SubscriptionID != nil {
		sub, serr := s.subscriptions.GetByID(ctx, *rem.SubscriptionID)
		if serr != nil {
			s.recordFailure(ctx, rem, fmt.Sprintf("subscription lookup: %v", serr))
			return
		}
		if !sub.IsCurrent {
			// the window was superseded by a renewal before this level fired
			if cerr := s.reminders.Cancel(ctx, rem.ID); cerr != nil {
				s.log.Error().Err(cerr).Str("reminder_id", rem.ID).Msg("failed to cancel reminder")
				return
			}
			s.log.Info().
				Str("reminder_id", rem.ID).
				Str("subscription_id", sub.ID).
				Msg("Reminder cancelled, subscription window renewed")
			return
		}
		err = s.mailer.SendSubscriptionExpiryReminder(ctx, tenant.ContactEmail, tenant.Name, sub.EndDate, renewURL)
	} else {
		if tenant.TrialEndsAt == nil {
			s.recordFailure(ctx, rem, "trial tenant has no trial end date")
			return
		}
		err = s.mailer.SendTrialExpiryReminder(ctx, tenant.ContactEmail, tenant.Name, *tenant.TrialEndsAt, renewURL)
	}

	if err != nil {
		s.recordFailure(ctx, rem, err.Error())
		return
	}

	if err := s.reminders.MarkSent(ctx, rem.ID, s.nowFn()); err != nil {
		if apperr.Is(err, apperr.CodeInvalidTransition) {
			// concurrent worker already resolved it
			return
		}
		s.log.Error().Err(err).Str("reminder_id", rem.ID).Msg("failed to mark reminder sent")
		return
	}

	s.log.Info().
		Str("reminder_id", rem.ID).
		Str("tenant_id", tenant.ID).
		Int("level", rem.ReminderLevel).
		Msg("Reminder sent")
}

func (s *ReminderService) recordFailure(ctx context.Context, rem *repository.RenewalReminder, reason string) {
	if err := s.reminders.RecordFailure(ctx, rem.ID, reason, s.scheduler.MaxSendRetries); err != nil {
		s.log.Error().Err(err).Str("reminder_id", rem.ID).Msg("failed to record reminder failure")
		return
	}

	s.log.Warn().
		Str("reminder_id", rem.ID).
		Str("tenant_id", rem.TenantID).
		Int("retry_count", rem.RetryCount+1).
		Str("reason", reason).
		Msg("Reminder send failed")
}

// ListReminders lists reminders, typically filtered to FAILED for manual
// follow-up.
func (s *ReminderService) ListReminders(ctx context.Context, status *string, page, pageSize int) ([]*repository.RenewalReminder, int64, error) {
	offset := (page - 1) * pageSize
	return s.reminders.List(ctx, status, pageSize, offset)
}
