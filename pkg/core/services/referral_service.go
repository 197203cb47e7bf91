package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wadjakorntonsri/go-referral-engine/pkg/core/domain"
	"github.com/wadjakorntonsri/go-referral-engine/pkg/metrics"
	"github.com/wadjakorntonsri/go-referral-engine/pkg/ports"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

type ReferralService struct {
	repo     ports.ReferralRepository
	stats    ports.StatsRepository
	accounts ports.AccountDirectory
	limiter  *RateLimiter
	locks    *userLocks

	policy  domain.RewardPolicy
	trigger ports.StatsTrigger
	metrics *metrics.Metrics
	logger  *zap.Logger
	loc     *time.Location
	now     func() time.Time
}

type Option func(*ReferralService)

// WithPolicy replaces the default reward policy
func WithPolicy(p domain.RewardPolicy) Option {
	return func(s *ReferralService) { s.policy = p }
}

// WithStatsTrigger hands stats rebuilds to a background worker. Without one
// the service rebuilds inline after each mutation and ignores failures.
func WithStatsTrigger(t ports.StatsTrigger) Option {
	return func(s *ReferralService) { s.trigger = t }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ReferralService) { s.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *ReferralService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLocation sets the time zone used for the "today" and "month" stats buckets
func WithLocation(loc *time.Location) Option {
	return func(s *ReferralService) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *ReferralService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewReferralService(repo ports.ReferralRepository, stats ports.StatsRepository, accounts ports.AccountDirectory, opts ...Option) *ReferralService {
	s := &ReferralService{
		repo:     repo,
		stats:    stats,
		accounts: accounts,
		locks:    newUserLocks(),
		policy:   domain.DefaultPolicy(),
		logger:   zap.NewNop(),
		loc:      time.Local,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limiter = NewRateLimiter(repo)
	return s
}

// Policy returns the reward policy in effect
func (s *ReferralService) Policy() domain.RewardPolicy {
	return s.policy
}

func (s *ReferralService) refresh(userID int64) {
	if s.trigger != nil {
		s.trigger.Refresh(userID)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	if _, err := s.RebuildStats(ctx, userID); err != nil {
		s.logger.Warn("stats refresh failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (s *ReferralService) requireUser(ctx context.Context, userID int64) (*domain.Account, error) {
	user, err := s.accounts.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status == domain.AccountDeleted {
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}

// NormalizePage clamps a requested page and page size to what listings serve
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit
}

func pageBounds(page, limit int) (int, int) {
	page, limit = NormalizePage(page, limit)
	return limit, (page - 1) * limit
}

var _ ports.ReferralService = (*ReferralService)(nil)
