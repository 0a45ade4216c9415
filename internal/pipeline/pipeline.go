// Package pipeline drives inbound items from mailbox discovery to a derived
// schedule. Discovery finds candidate messages and records them as pending
// items; processing takes a pending item through attachment extraction,
// parsing and validation, ending in processed or failed. One bad item never
// aborts the rest of a batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/makaronz/stillontime/internal/db"
	"github.com/makaronz/stillontime/internal/extract"
	"github.com/makaronz/stillontime/internal/filter"
	"github.com/makaronz/stillontime/internal/mailbox"
	"github.com/makaronz/stillontime/internal/metrics"
	"github.com/makaronz/stillontime/internal/models"
	"github.com/makaronz/stillontime/internal/parse"
)

// ErrNotRetryable means the item is not in a state that allows a retry.
var ErrNotRetryable = errors.New("item is not in a retryable state")

// ItemStore is the inbound item persistence the pipeline needs.
type ItemStore interface {
	Create(ctx context.Context, item *models.InboundItem) error
	GetByID(ctx context.Context, id string) (*models.InboundItem, error)
	ExistsByExternalID(ctx context.Context, userID, externalMessageID string) (bool, error)
	ExistsByFingerprint(ctx context.Context, userID, fingerprint string) (bool, error)
	SetFingerprint(ctx context.Context, id, fingerprint string) error
	FindPending(ctx context.Context, userID string, limit int) ([]*models.InboundItem, error)
	ClaimProcessing(ctx context.Context, id string) (bool, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
	ResetForRetry(ctx context.Context, id string) (bool, error)
}

// ScheduleStore persists derived schedules.
type ScheduleStore interface {
	Create(ctx context.Context, schedule *models.Schedule) error
}

// AccountFlagger surfaces expired credentials for re-authentication.
type AccountFlagger interface {
	MarkAuthExpired(ctx context.Context, userID string) error
}

// JobQueue enqueues follow-up work.
type JobQueue interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

// Config bounds one pipeline run.
type Config struct {
	PendingBatchSize int
	JobMaxAttempts   int
}

// Service is the pipeline worker shared by the queue handlers and the API.
type Service struct {
	gateways  mailbox.Factory
	items     ItemStore
	schedules ScheduleStore
	accounts  AccountFlagger
	jobs      JobQueue
	filter    *filter.Filter
	extractor *extract.Extractor
	parser    parse.DocumentParser
	validator parse.Validator
	metrics   metrics.Recorder
	cfg       Config
}

func NewService(
	gateways mailbox.Factory,
	items ItemStore,
	schedules ScheduleStore,
	accounts AccountFlagger,
	jobs JobQueue,
	f *filter.Filter,
	parser parse.DocumentParser,
	validator parse.Validator,
	recorder metrics.Recorder,
	cfg Config,
) *Service {
	if cfg.PendingBatchSize <= 0 {
		cfg.PendingBatchSize = 25
	}
	if cfg.JobMaxAttempts <= 0 {
		cfg.JobMaxAttempts = 3
	}
	return &Service{
		gateways:  gateways,
		items:     items,
		schedules: schedules,
		accounts:  accounts,
		jobs:      jobs,
		filter:    f,
		extractor: extract.New(f),
		parser:    parser,
		validator: validator,
		metrics:   recorder,
		cfg:       cfg,
	}
}

// Discover searches the user's mailbox for candidate messages and records
// each new one as a pending item. It returns the number of items created.
// Credentials that turn out expired abort the whole run; the account is
// flagged and no item state is touched.
func (s *Service) Discover(ctx context.Context, userID string) (int, error) {
	s.metrics.RecordDiscoveryRun()

	gateway, err := s.openGateway(ctx, userID)
	if err != nil {
		return 0, err
	}
	defer gateway.Close()

	refs, err := gateway.Search(ctx, mailbox.Query{Keywords: s.filter.Keywords()})
	if err != nil {
		return 0, fmt.Errorf("mailbox search for user %s failed: %w", userID, err)
	}

	created := 0
	for _, ref := range refs {
		ok, err := s.discoverOne(ctx, gateway, userID, ref)
		if err != nil {
			log.Printf("Warning: discovery skipped message %s for user %s: %v", ref.ID, userID, err)
			continue
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// discoverOne records one searched message as a pending item if it is a new
// pipeline candidate.
func (s *Service) discoverOne(ctx context.Context, gateway mailbox.Gateway, userID string, ref mailbox.MessageRef) (bool, error) {
	seen, err := s.items.ExistsByExternalID(ctx, userID, ref.ID)
	if err != nil {
		return false, err
	}
	if seen {
		s.metrics.RecordDuplicateSkipped()
		return false, nil
	}

	msg, err := gateway.Fetch(ctx, ref.ID)
	if err != nil {
		return false, err
	}
	if !s.filter.IsCandidate(msg) {
		return false, nil
	}

	item := &models.InboundItem{
		UserID:            userID,
		ExternalMessageID: msg.ID,
		ThreadID:          msg.ThreadID,
		Subject:           msg.Subject,
		Sender:            msg.Sender,
		ReceivedAt:        &msg.ReceivedAt,
		Status:            models.ItemStatusPending,
	}
	if err := s.items.Create(ctx, item); err != nil {
		if errors.Is(err, db.ErrDuplicateItem) {
			// Concurrent discovery beat us to it.
			s.metrics.RecordDuplicateSkipped()
			return false, nil
		}
		return false, err
	}
	s.metrics.RecordItemCreated()
	return true, nil
}

// ProcessPending takes up to one batch of the user's pending items through
// extraction, parsing and validation. Per-item failures are recorded on the
// item and the batch continues.
func (s *Service) ProcessPending(ctx context.Context, userID string) error {
	items, err := s.items.FindPending(ctx, userID, s.cfg.PendingBatchSize)
	if err != nil {
		return fmt.Errorf("failed to load pending items for user %s: %w", userID, err)
	}
	if len(items) == 0 {
		return nil
	}

	gateway, err := s.openGateway(ctx, userID)
	if err != nil {
		return err
	}
	defer gateway.Close()

	for _, item := range items {
		s.processItem(ctx, gateway, item)
	}
	return nil
}

// processItem drives a single pending item to processed or failed. Every
// failure path, expected or not, ends in MarkFailed so the item never sticks
// in processing.
func (s *Service) processItem(ctx context.Context, gateway mailbox.Gateway, item *models.InboundItem) {
	claimed, err := s.items.ClaimProcessing(ctx, item.ID)
	if err != nil {
		log.Printf("Warning: could not claim item %s: %v", item.ID, err)
		return
	}
	if !claimed {
		// Another worker owns it.
		return
	}

	start := time.Now()
	if err := s.runItem(ctx, gateway, item); err != nil {
		s.fail(ctx, item.ID, err.Error())
		return
	}
	s.metrics.RecordProcessingLatency(time.Since(start))
}

func (s *Service) runItem(ctx context.Context, gateway mailbox.Gateway, item *models.InboundItem) error {
	msg, err := gateway.Fetch(ctx, item.ExternalMessageID)
	if err != nil {
		return fmt.Errorf("failed to fetch message: %w", err)
	}

	attachments, failedDownloads := s.extractor.Extract(ctx, gateway, msg)
	for i := 0; i < failedDownloads; i++ {
		s.metrics.RecordAttachmentFetchFailure()
	}
	if len(attachments) == 0 {
		return errors.New("no parseable attachment found")
	}

	fingerprint := extract.Fingerprint(attachments[0].Data)
	if err := s.items.SetFingerprint(ctx, item.ID, fingerprint); err != nil {
		if errors.Is(err, db.ErrDuplicateItem) {
			s.metrics.RecordDuplicateSkipped()
			return errors.New("duplicate content: same document already ingested")
		}
		return fmt.Errorf("failed to record content fingerprint: %w", err)
	}

	extraction, err := s.parser.Parse(ctx, attachments[0].Data, attachments[0].Filename)
	if err != nil {
		return fmt.Errorf("parser error: %w", err)
	}

	result := s.validator.Validate(extraction)
	if !result.IsValid {
		return fmt.Errorf("Validation failed: %s", strings.Join(result.Errors, "; "))
	}

	schedule := &models.Schedule{
		ItemID:      item.ID,
		UserID:      item.UserID,
		ShootDate:   extraction.Fields.ShootDate.Format("2006-01-02"),
		CallTime:    extraction.Fields.CallTime,
		Location:    extraction.Fields.Location,
		Scenes:      extraction.Fields.Scenes,
		SafetyNotes: extraction.Fields.SafetyNotes,
		Equipment:   extraction.Fields.Equipment,
		Contacts:    extraction.Fields.Contacts,
		Confidence:  extraction.Confidence,
	}
	if err := s.schedules.Create(ctx, schedule); err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	if err := s.items.MarkProcessed(ctx, item.ID); err != nil {
		log.Printf("Warning: item %s processed but status update failed: %v", item.ID, err)
		return nil
	}
	s.metrics.RecordItemProcessed()
	return nil
}

func (s *Service) fail(ctx context.Context, itemID, reason string) {
	if err := s.items.MarkFailed(ctx, itemID, reason); err != nil {
		log.Printf("Warning: could not mark item %s failed: %v", itemID, err)
		return
	}
	s.metrics.RecordItemFailed()
}

// Retry puts a failed item back into pending and enqueues a high-priority
// processing job for it.
func (s *Service) Retry(ctx context.Context, itemID string) error {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return err
	}

	reset, err := s.items.ResetForRetry(ctx, itemID)
	if err != nil {
		return err
	}
	if !reset {
		return fmt.Errorf("%w: item %s has status %s", ErrNotRetryable, itemID, item.Status)
	}

	return s.jobs.Enqueue(ctx, &models.Job{
		Type:        models.JobTypeProcessing,
		UserID:      item.UserID,
		MessageID:   item.ExternalMessageID,
		Priority:    models.PriorityRetry,
		MaxAttempts: s.cfg.JobMaxAttempts,
	})
}

// EnqueueProcessing schedules an on-demand processing job for the user. An
// optional messageID narrows the run to one message.
func (s *Service) EnqueueProcessing(ctx context.Context, userID, messageID string) error {
	return s.jobs.Enqueue(ctx, &models.Job{
		Type:        models.JobTypeProcessing,
		UserID:      userID,
		MessageID:   messageID,
		Priority:    models.PriorityProcessing,
		MaxAttempts: s.cfg.JobMaxAttempts,
	})
}

// HandleDiscoveryJob is the queue handler for discovery jobs: find new
// candidates, then work off the pending batch.
func (s *Service) HandleDiscoveryJob(ctx context.Context, job *models.Job) error {
	if _, err := s.Discover(ctx, job.UserID); err != nil {
		return err
	}
	return s.ProcessPending(ctx, job.UserID)
}

// HandleProcessingJob is the queue handler for processing jobs. A job with a
// message id first makes sure that message has an item, then processes the
// user's pending batch.
func (s *Service) HandleProcessingJob(ctx context.Context, job *models.Job) error {
	if job.MessageID != "" {
		if err := s.ensureItem(ctx, job.UserID, job.MessageID); err != nil {
			return err
		}
	}
	return s.ProcessPending(ctx, job.UserID)
}

// ensureItem records the named message as a pending item when it is a new
// candidate. Already-known messages are fine; the pending batch picks them up
// if they still need work.
func (s *Service) ensureItem(ctx context.Context, userID, messageID string) error {
	gateway, err := s.openGateway(ctx, userID)
	if err != nil {
		return err
	}
	defer gateway.Close()

	_, err = s.discoverOne(ctx, gateway, userID, mailbox.MessageRef{ID: messageID})
	return err
}

// openGateway opens the user's mailbox, flagging the account when the
// credentials turn out expired.
func (s *Service) openGateway(ctx context.Context, userID string) (mailbox.Gateway, error) {
	gateway, err := s.gateways.ForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, mailbox.ErrAuthExpired) {
			if markErr := s.accounts.MarkAuthExpired(ctx, userID); markErr != nil {
				log.Printf("Warning: could not flag expired credentials for user %s: %v", userID, markErr)
			}
		}
		return nil, fmt.Errorf("could not open mailbox for user %s: %w", userID, err)
	}
	return gateway, nil
}
