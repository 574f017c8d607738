package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"

	"wazoopass/observability"
	"wazoopass/observability/logging"
	"wazoopass/passes/roles"
	"wazoopass/passes/store"
)

// AvatarSource retrieves avatar bytes, handling its own fallback.
type AvatarSource interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Renderer composes the pass image.
type Renderer interface {
	Render(avatar []byte, roleText, nameText string) ([]byte, error)
}

// Pass describes an issued pass.
type Pass struct {
	ID          uint64
	Role        string
	DisplayName string
	ImagePath   string
	// Resumed is set when an unfinished flow was returned instead of a new pass.
	Resumed bool
	Caption string
}

// Config wires the machine's collaborators.
type Config struct {
	Store     store.Store
	Resolver  *roles.Resolver
	Avatars   AvatarSource
	Renderer  Renderer
	OutputDir string
	InviteURL string
}

// Machine sequences generate → link → wallet for each identity. Operations on
// the same identity are serialised; distinct identities run concurrently.
type Machine struct {
	store     store.Store
	resolver  *roles.Resolver
	avatars   AvatarSource
	renderer  Renderer
	outputDir string
	inviteURL string
	locks     *keyedMutex
	logger    *slog.Logger
	metrics   *observability.PassMetrics
	tracer    trace.Tracer
	nowFn     func() time.Time
}

// Option customises a Machine.
type Option func(*Machine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(metrics *observability.PassMetrics) Option {
	return func(m *Machine) { m.metrics = metrics }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.nowFn = now
		}
	}
}

// New validates cfg and prepares the output directory.
func New(cfg Config, opts ...Option) (*Machine, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Avatars == nil {
		return nil, errors.New("avatar source required")
	}
	if cfg.Renderer == nil {
		return nil, errors.New("renderer required")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return nil, errors.New("output directory required")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = roles.NewResolver(nil)
	}
	m := &Machine{
		store:     cfg.Store,
		resolver:  resolver,
		avatars:   cfg.Avatars,
		renderer:  cfg.Renderer,
		outputDir: cfg.OutputDir,
		inviteURL: cfg.InviteURL,
		locks:     newKeyedMutex(),
		logger:    slog.Default(),
		tracer:    otel.Tracer("wazoopass/passes/flow"),
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PassPath is where the image for passID is written.
func PassPath(dir string, passID uint64) string {
	return filepath.Join(dir, fmt.Sprintf("pass_%d.png", passID))
}

// ImagePath returns the image location for passID under the machine's output directory.
func (m *Machine) ImagePath(passID uint64) string {
	return PassPath(m.outputDir, passID)
}

// Generate issues a pass for member unless one was already completed. An
// unfinished flow from this session is returned as-is without allocating.
func (m *Machine) Generate(ctx context.Context, member Member) (pass Pass, err error) {
	identity := strings.TrimSpace(member.Identity())
	ctx, span := m.tracer.Start(ctx, "flow.generate", trace.WithAttributes(attribute.String("identity", identity)))
	defer func() { m.finishSpan(span, err) }()
	if identity == "" {
		return Pass{}, ErrIdentityRequired
	}
	unlock, err := m.locks.Lock(ctx, identity)
	if err != nil {
		return Pass{}, err
	}
	defer unlock()

	log := m.logger.With(slog.String("identity", identity), slog.String("step", "generate"))

	if _, done, err := m.store.Submission(ctx, identity); err != nil {
		return Pass{}, m.fault(log, "lookup submission", err)
	} else if done {
		m.metrics.RecordGeneration("duplicate")
		m.metrics.RecordRejection("generate", "completed")
		return Pass{}, ErrAlreadyCompleted
	}
	if pending, ok, err := m.store.Pending(ctx, identity); err != nil {
		return Pass{}, m.fault(log, "lookup pending", err)
	} else if ok {
		m.metrics.RecordGeneration("resumed")
		resumed := Pass{ID: pending.PassID, Role: pending.Role, DisplayName: pending.DisplayName, ImagePath: pending.ImagePath, Resumed: true}
		resumed.Caption = Caption(resumed, m.inviteURL)
		return resumed, nil
	}

	role := m.resolver.Resolve(member.MembershipLabels())
	name := norm.NFC.String(strings.TrimSpace(member.DisplayName()))
	if name == "" {
		name = identity
	}

	// The avatar is fetched before allocating so a failed download never burns an id.
	started := time.Now()
	avatarBytes, err := m.avatars.Fetch(ctx, member.AvatarURL())
	m.metrics.ObserveAvatarFetch(time.Since(started), err)
	if err != nil {
		m.metrics.RecordGeneration("avatar_failed")
		log.Warn("avatar fetch failed", slog.Any("error", err))
		return Pass{}, err
	}

	passID, err := m.store.IncrementCounter(ctx)
	if err != nil {
		return Pass{}, m.fault(log, "allocate id", err)
	}
	m.metrics.SetLastIssuedID(passID)
	log = log.With(slog.Uint64("pass_id", passID))

	started = time.Now()
	image, err := m.renderer.Render(avatarBytes, RoleLine(role, passID), name)
	m.metrics.ObserveRender(time.Since(started))
	if err != nil {
		m.metrics.RecordGeneration("render_failed")
		log.Error("render failed, pass id burned", slog.Any("error", err))
		return Pass{}, fmt.Errorf("render pass %d: %w", passID, err)
	}
	path := m.ImagePath(passID)
	if err := writeFileAtomic(path, image); err != nil {
		m.metrics.RecordGeneration("write_failed")
		log.Error("write pass image failed, pass id burned", slog.Any("error", err))
		return Pass{}, fmt.Errorf("write pass %d: %w", passID, err)
	}

	pending := store.Pending{
		Identity:    identity,
		PassID:      passID,
		Role:        role,
		DisplayName: name,
		ImagePath:   path,
		CreatedAt:   m.nowFn().UTC(),
	}
	if err := m.store.SetPending(ctx, pending); err != nil {
		return Pass{}, m.fault(log, "store pending", err)
	}
	m.metrics.RecordGeneration("issued")
	log.Info("pass issued", slog.String("role", role))

	pass = Pass{ID: passID, Role: role, DisplayName: name, ImagePath: path}
	pass.Caption = Caption(pass, m.inviteURL)
	return pass, nil
}

// SubmitLink records the social post link for an unfinished flow. Submitting
// again replaces the previous link.
func (m *Machine) SubmitLink(ctx context.Context, identity, link string) (err error) {
	identity = strings.TrimSpace(identity)
	ctx, span := m.tracer.Start(ctx, "flow.submit_link", trace.WithAttributes(attribute.String("identity", identity)))
	defer func() { m.finishSpan(span, err) }()
	if identity == "" {
		return ErrIdentityRequired
	}
	unlock, err := m.locks.Lock(ctx, identity)
	if err != nil {
		return err
	}
	defer unlock()

	log := m.logger.With(slog.String("identity", identity), slog.String("step", "link"))
	pending, ok, err := m.store.Pending(ctx, identity)
	if err != nil {
		return m.fault(log, "lookup pending", err)
	}
	if !ok {
		m.metrics.RecordRejection("link", "not_generated")
		return ErrGenerateFirst
	}
	link = strings.TrimSpace(link)
	if link == "" {
		m.metrics.RecordRejection("link", "empty")
		return ErrEmptyLink
	}
	pending.TwitterLink = link
	if err := m.store.SetPending(ctx, pending); err != nil {
		return m.fault(log, "store pending", err)
	}
	log.Info("link recorded", slog.Uint64("pass_id", pending.PassID))
	return nil
}

// ValidWallet reports whether wallet has a case-insensitive 0x prefix followed
// by at least one character. The remainder is not otherwise checked.
func ValidWallet(wallet string) bool {
	return len(wallet) > 2 && strings.EqualFold(wallet[:2], "0x")
}

// SubmitWallet completes the flow: it validates the wallet, requires a
// recorded link, persists the submission and discards the pending state.
func (m *Machine) SubmitWallet(ctx context.Context, identity, wallet string) (sub store.Submission, err error) {
	identity = strings.TrimSpace(identity)
	ctx, span := m.tracer.Start(ctx, "flow.submit_wallet", trace.WithAttributes(attribute.String("identity", identity)))
	defer func() { m.finishSpan(span, err) }()
	if identity == "" {
		return store.Submission{}, ErrIdentityRequired
	}
	unlock, err := m.locks.Lock(ctx, identity)
	if err != nil {
		return store.Submission{}, err
	}
	defer unlock()

	log := m.logger.With(slog.String("identity", identity), slog.String("step", "wallet"))
	pending, ok, err := m.store.Pending(ctx, identity)
	if err != nil {
		return store.Submission{}, m.fault(log, "lookup pending", err)
	}
	if !ok {
		m.metrics.RecordRejection("wallet", "not_generated")
		return store.Submission{}, ErrGenerateFirst
	}
	wallet = strings.TrimSpace(wallet)
	if !ValidWallet(wallet) {
		m.metrics.RecordRejection("wallet", "invalid")
		return store.Submission{}, ErrInvalidWallet
	}
	if pending.TwitterLink == "" {
		m.metrics.RecordRejection("wallet", "no_link")
		return store.Submission{}, ErrLinkFirst
	}

	sub = store.Submission{
		Identity:    identity,
		DisplayName: pending.DisplayName,
		Role:        pending.Role,
		PassID:      pending.PassID,
		TwitterLink: pending.TwitterLink,
		Wallet:      wallet,
		CompletedAt: m.nowFn().UTC(),
	}
	if err := m.store.AppendSubmission(ctx, sub); err != nil {
		if errors.Is(err, store.ErrDuplicateSubmission) {
			_ = m.store.ClearPending(ctx, identity)
			return store.Submission{}, ErrAlreadyCompleted
		}
		return store.Submission{}, m.fault(log, "append submission", err)
	}
	if err := m.store.ClearPending(ctx, identity); err != nil {
		log.Warn("clear pending failed", slog.Any("error", err))
	}
	m.metrics.RecordSubmission(sub.Role)
	log.Info("submission recorded", slog.Uint64("pass_id", sub.PassID), logging.WalletAttr(wallet))
	return sub, nil
}

// Submissions returns every completed submission in completion order.
func (m *Machine) Submissions(ctx context.Context) ([]store.Submission, error) {
	subs, err := m.store.Submissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return subs, nil
}

func (m *Machine) fault(log *slog.Logger, op string, err error) error {
	log.Error("pass flow failure", slog.String("op", op), slog.Any("error", err))
	return fmt.Errorf("%s: %w", op, err)
}

func (m *Machine) finishSpan(span trace.Span, err error) {
	if err != nil && !IsUserError(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
