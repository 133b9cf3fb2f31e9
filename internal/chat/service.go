package chat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/suPer8Hu/genimage/internal/ai"
	"github.com/suPer8Hu/genimage/internal/common"
	"github.com/suPer8Hu/genimage/internal/metrics"
	"github.com/suPer8Hu/genimage/internal/models"
)

const HistoryPageSize = 10

// GenerationGuard admits at most one in-flight generation per owner.
type GenerationGuard interface {
	TryAcquire(ctx context.Context, ownerID uint64) (release func(), ok bool, err error)
}

// ReconcileScheduler arranges for a pending record to be checked against the
// provider later, in case its webhook never arrives.
type ReconcileScheduler interface {
	ScheduleReconcile(ctx context.Context, chatID string, attempt int) error
}

// AssetStore keeps generated bytes and returns their public URL.
type AssetStore interface {
	PutAsset(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Notifier announces that a record reached a terminal status.
type Notifier interface {
	PublishStatus(ctx context.Context, chatID string, status Status) error
}

type Options struct {
	Guard                GenerationGuard
	Scheduler            ReconcileScheduler
	Assets               AssetStore
	Notifier             Notifier
	ReconcileMaxAttempts int
	Logger               zerolog.Logger
}

type Service struct {
	repo        *Repo
	generators  *ai.Registry[ai.ImageGenerator]
	async       *ai.Registry[ai.AsyncImageGenerator]
	guard       GenerationGuard
	scheduler   ReconcileScheduler
	assets      AssetStore
	notifier    Notifier
	maxAttempts int
	log         zerolog.Logger
}

func NewService(repo *Repo, generators *ai.Registry[ai.ImageGenerator], async *ai.Registry[ai.AsyncImageGenerator], opts Options) *Service {
	if generators == nil {
		generators = ai.NewRegistry[ai.ImageGenerator]()
	}
	if async == nil {
		async = ai.NewRegistry[ai.AsyncImageGenerator]()
	}
	if opts.ReconcileMaxAttempts <= 0 {
		opts.ReconcileMaxAttempts = 10
	}
	return &Service{
		repo:        repo,
		generators:  generators,
		async:       async,
		guard:       opts.Guard,
		scheduler:   opts.Scheduler,
		assets:      opts.Assets,
		notifier:    opts.Notifier,
		maxAttempts: opts.ReconcileMaxAttempts,
		log:         opts.Logger,
	}
}

type GenerateInput struct {
	// ExternalUserID is the verified token subject.
	ExternalUserID string
	Model          string
	Prompt         string
	IdempotencyKey string
}

// ResolveOwner maps the token subject to the local user.
func (s *Service) ResolveOwner(ctx context.Context, externalUserID string) (*models.User, error) {
	externalUserID = strings.TrimSpace(externalUserID)
	if externalUserID == "" {
		return nil, ErrUnauthorized
	}
	u, err := s.repo.GetUserByExternalID(ctx, externalUserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: load user: %v", ErrPersistence, err)
	}
	return u, nil
}

// SyncUser creates or refreshes the local user for a token subject.
func (s *Service) SyncUser(ctx context.Context, externalUserID, email string) (*models.User, error) {
	externalUserID = strings.TrimSpace(externalUserID)
	if externalUserID == "" {
		return nil, ErrUnauthorized
	}
	u, err := s.repo.UpsertUser(ctx, externalUserID, strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("%w: upsert user: %v", ErrPersistence, err)
	}
	return u, nil
}

func (s *Service) prepare(ctx context.Context, in GenerateInput) (*models.User, string, error) {
	owner, err := s.ResolveOwner(ctx, in.ExternalUserID)
	if err != nil {
		return nil, "", err
	}
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return nil, "", fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	return owner, prompt, nil
}

// existing returns the record already created under the same idempotency key.
func (s *Service) existing(ctx context.Context, ownerID uint64, key string) (*Chat, error) {
	if key == "" {
		return nil, nil
	}
	c, err := s.repo.GetChatByOwnerAndIdempotencyKey(ctx, ownerID, key)
	if err == nil {
		return c, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: idempotency lookup: %v", ErrPersistence, err)
}

func (s *Service) acquire(ctx context.Context, ownerID uint64) (func(), error) {
	if s.guard == nil {
		return func() {}, nil
	}
	release, ok, err := s.guard.TryAcquire(ctx, ownerID)
	if err != nil {
		// fail open
		s.log.Warn().Err(err).Uint64("owner_id", ownerID).Msg("generation guard unavailable")
		return func() {}, nil
	}
	if !ok {
		return nil, ErrGenerationInFlight
	}
	return release, nil
}

// GenerateSync calls a provider that returns the finished image and persists
// a completed record. Nothing is persisted when the provider call fails.
func (s *Service) GenerateSync(ctx context.Context, in GenerateInput) (*Chat, error) {
	owner, prompt, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	if c, err := s.existing(ctx, owner.ID, in.IdempotencyKey); c != nil || err != nil {
		return c, err
	}

	gen, err := s.generators.Get(ctx, in.Model)
	if err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, owner.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	res, err := gen.Generate(ctx, prompt)
	metrics.RecordProviderCall(in.Model, ai.Outcome(err), time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	id := common.NewULID()
	assetURL, err := s.storeAsset(ctx, owner.ID, id, res)
	if err != nil {
		return nil, err
	}

	c := &Chat{
		ID:       id,
		OwnerID:  owner.ID,
		Prompt:   prompt,
		Model:    normalizeModel(in.Model),
		AssetURL: &assetURL,
		Status:   StatusCompleted,
	}
	if res.Description != "" {
		c.Description = &res.Description
	}
	if in.IdempotencyKey != "" {
		c.IdempotencyKey = &in.IdempotencyKey
	}

	saved, _, err := s.repo.CreateChatOrGetExisting(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%w: create chat: %v", ErrPersistence, err)
	}
	metrics.RecordJobTransition(saved.Model, string(StatusCompleted), "sync")
	return saved, nil
}

func (s *Service) storeAsset(ctx context.Context, ownerID uint64, chatID string, res *ai.GenerateResult) (string, error) {
	if s.assets == nil || len(res.Data) == 0 {
		return res.AssetURL(), nil
	}
	contentType := res.MIMEType
	if contentType == "" {
		contentType = mimetype.Detect(res.Data).String()
	}
	ext := ".png"
	if mt := mimetype.Lookup(contentType); mt != nil && mt.Extension() != "" {
		ext = mt.Extension()
	}
	key := fmt.Sprintf("generations/%d/%s%s", ownerID, chatID, ext)
	url, err := s.assets.PutAsset(ctx, key, contentType, res.Data)
	if err != nil {
		return "", fmt.Errorf("%w: store asset: %v", ErrPersistence, err)
	}
	return url, nil
}

// GenerateAsync submits to a provider that completes out-of-band and persists
// a pending record correlated by the provider's job id.
func (s *Service) GenerateAsync(ctx context.Context, in GenerateInput) (*Chat, error) {
	owner, prompt, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	if c, err := s.existing(ctx, owner.ID, in.IdempotencyKey); c != nil || err != nil {
		return c, err
	}

	gen, err := s.async.Get(ctx, in.Model)
	if err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, owner.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	sub, err := gen.Submit(ctx, prompt)
	metrics.RecordProviderCall(in.Model, ai.Outcome(err), time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	externalID := sub.ExternalID
	c := &Chat{
		ID:            common.NewULID(),
		OwnerID:       owner.ID,
		Prompt:        prompt,
		Model:         normalizeModel(in.Model),
		Status:        StatusPending,
		ExternalJobID: &externalID,
	}
	if in.IdempotencyKey != "" {
		c.IdempotencyKey = &in.IdempotencyKey
	}

	saved, created, err := s.repo.CreateChatOrGetExisting(ctx, c)
	if err != nil {
		s.log.Error().Err(err).Str("external_job_id", externalID).Msg("pending chat not persisted; provider job is orphaned")
		return nil, fmt.Errorf("%w: create chat: %v", ErrPersistence, err)
	}
	if !created {
		return saved, nil
	}
	metrics.RecordJobTransition(saved.Model, string(StatusPending), "async")

	if s.scheduler != nil {
		if err := s.scheduler.ScheduleReconcile(ctx, saved.ID, 1); err != nil {
			s.log.Warn().Err(err).Str("chat_id", saved.ID).Msg("schedule reconcile failed")
		}
	}
	return saved, nil
}

type WebhookOutcome string

const (
	WebhookIgnored   WebhookOutcome = "ignored"
	WebhookApplied   WebhookOutcome = "applied"
	WebhookDuplicate WebhookOutcome = "duplicate"
)

// HandleWebhook applies a provider callback. Only a succeeded prediction is
// acted on; a record that is already terminal is left as is.
func (s *Service) HandleWebhook(ctx context.Context, p *ai.Prediction) (WebhookOutcome, error) {
	if p == nil || p.Status != ai.PredictionSucceeded {
		return WebhookIgnored, nil
	}

	c, err := s.repo.GetChatByExternalID(ctx, p.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return WebhookIgnored, fmt.Errorf("%w: external job %s", ErrNotFound, p.ID)
		}
		return WebhookIgnored, fmt.Errorf("%w: load chat: %v", ErrPersistence, err)
	}
	return s.applyPrediction(ctx, c, p, "webhook")
}

func (s *Service) applyPrediction(ctx context.Context, c *Chat, p *ai.Prediction, source string) (WebhookOutcome, error) {
	if c.Status.IsTerminal() {
		s.log.Info().Str("chat_id", c.ID).Str("status", string(c.Status)).Str("source", source).
			Msg("prediction for terminal chat ignored")
		return WebhookDuplicate, nil
	}

	var (
		applied bool
		err     error
		status  Status
	)
	if p.Failed() {
		status = StatusFailed
		applied, err = s.repo.FailPending(ctx, c.ID, p.FailureMessage())
	} else {
		assetURL, urlErr := p.AssetURL()
		if urlErr != nil {
			status = StatusFailed
			applied, err = s.repo.FailPending(ctx, c.ID, urlErr.Error())
		} else {
			status = StatusCompleted
			applied, err = s.repo.CompletePending(ctx, c.ID, assetURL, nil)
		}
	}
	if err != nil {
		return WebhookIgnored, fmt.Errorf("%w: update chat: %v", ErrPersistence, err)
	}
	if !applied {
		return WebhookDuplicate, nil
	}

	metrics.RecordJobTransition(c.Model, string(status), source)
	s.notify(ctx, c.ID, status)
	return WebhookApplied, nil
}

func (s *Service) notify(ctx context.Context, chatID string, status Status) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PublishStatus(ctx, chatID, status); err != nil {
		s.log.Warn().Err(err).Str("chat_id", chatID).Msg("publish status failed")
	}
}

// GetStatus returns a record owned by the caller. Records of other owners
// are reported as not found.
func (s *Service) GetStatus(ctx context.Context, externalUserID, chatID string) (*Chat, error) {
	owner, err := s.ResolveOwner(ctx, externalUserID)
	if err != nil {
		return nil, err
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, fmt.Errorf("%w: chat id is required", ErrInvalidInput)
	}
	c, err := s.repo.GetChatByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: load chat: %v", ErrPersistence, err)
	}
	if c.OwnerID != owner.ID {
		return nil, ErrNotFound
	}
	return c, nil
}

type Pagination struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	TotalPages int   `json:"totalPages"`
	HasMore    bool  `json:"hasMore"`
}

type HistoryPage struct {
	Chats      []Chat     `json:"chats"`
	Pagination Pagination `json:"pagination"`
}

// ListHistory returns one page of the caller's records, newest first.
func (s *Service) ListHistory(ctx context.Context, externalUserID string, page int) (*HistoryPage, error) {
	owner, err := s.ResolveOwner(ctx, externalUserID)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * HistoryPageSize

	var (
		chats []Chat
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		chats, err = s.repo.ListByOwner(gctx, owner.ID, offset, HistoryPageSize)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.repo.CountByOwner(gctx, owner.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: list chats: %v", ErrPersistence, err)
	}
	if chats == nil {
		chats = []Chat{}
	}

	return &HistoryPage{
		Chats: chats,
		Pagination: Pagination{
			Total:      total,
			Page:       page,
			TotalPages: int(math.Ceil(float64(total) / float64(HistoryPageSize))),
			HasMore:    int64(page*HistoryPageSize) < total,
		},
	}, nil
}

type ReconcileResult string

const (
	ReconcileDone       ReconcileResult = "done"
	ReconcileRequeued   ReconcileResult = "requeued"
	ReconcileTimedOut   ReconcileResult = "timed_out"
	ReconcileNotPending ReconcileResult = "not_pending"
)

// Reconcile checks a pending record against its provider. A running
// prediction is rescheduled until the attempt budget is spent, after which
// the record fails as timed out.
func (s *Service) Reconcile(ctx context.Context, chatID string, attempt int) (ReconcileResult, error) {
	c, err := s.repo.GetChatByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ReconcileNotPending, ErrNotFound
		}
		return "", fmt.Errorf("%w: load chat: %v", ErrPersistence, err)
	}
	if c.Status.IsTerminal() || c.ExternalJobID == nil {
		return ReconcileNotPending, nil
	}

	gen, err := s.async.Get(ctx, c.Model)
	if err != nil {
		return "", err
	}

	start := time.Now()
	p, fetchErr := gen.Fetch(ctx, *c.ExternalJobID)
	metrics.RecordProviderCall(c.Model, ai.Outcome(fetchErr), time.Since(start).Seconds())
	if fetchErr == nil && p.Terminal() {
		if _, err := s.applyPrediction(ctx, c, p, "reconcile"); err != nil {
			return "", err
		}
		return ReconcileDone, nil
	}
	if fetchErr != nil {
		s.log.Warn().Err(fetchErr).Str("chat_id", c.ID).Int("attempt", attempt).Msg("reconcile fetch failed")
	}

	if attempt >= s.maxAttempts {
		applied, err := s.repo.FailPending(ctx, c.ID, timedOutMessage)
		if err != nil {
			return "", fmt.Errorf("%w: update chat: %v", ErrPersistence, err)
		}
		if applied {
			metrics.RecordJobTransition(c.Model, string(StatusFailed), "reconcile")
			s.notify(ctx, c.ID, StatusFailed)
		}
		return ReconcileTimedOut, nil
	}

	if s.scheduler == nil {
		return ReconcileRequeued, nil
	}
	if err := s.scheduler.ScheduleReconcile(ctx, c.ID, attempt+1); err != nil {
		return "", fmt.Errorf("reschedule reconcile: %w", err)
	}
	return ReconcileRequeued, nil
}

func normalizeModel(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}
