// internal/rewards/implementation.go
package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"campusevents/internal/apperr"
	"campusevents/internal/notify"
	"campusevents/pkg/eventstore"
)

const (
	aggregateType = "reward"
	maxAttempts   = 5
)

// service implements the Service interface.
type service struct {
	store     Store
	resolvers Resolvers
	publisher notify.Publisher
	log       *slog.Logger
	tracer    trace.Tracer
	granted   metric.Int64Counter
	expired   metric.Int64Counter
	now       func() time.Time
	backoff   func() backoff.BackOff
}

// NewService creates a new rewards service instance. resolvers may be nil,
// in which case history entries are returned without source data. Catalog
// items resolve from store unless resolvers already covers KindReward.
func NewService(store Store, resolvers Resolvers, publisher notify.Publisher, log *slog.Logger) Service {
	meter := otel.Meter("campusevents/rewards")
	granted, err := meter.Int64Counter("rewards.grants", metric.WithDescription("Point grants recorded"))
	if err != nil {
		log.Warn("metric registration failed", "err", err)
	}
	expired, err := meter.Int64Counter("rewards.grants_expired", metric.WithDescription("Point grants retired by the expiry sweep"))
	if err != nil {
		log.Warn("metric registration failed", "err", err)
	}

	resolvers = maps.Clone(resolvers)
	if resolvers == nil {
		resolvers = Resolvers{}
	}
	if _, ok := resolvers[KindReward]; !ok {
		resolvers[KindReward] = catalogResolver(store)
	}

	return &service{
		store:     store,
		resolvers: resolvers,
		publisher: publisher,
		log:       log,
		tracer:    otel.Tracer("campusevents/rewards"),
		granted:   granted,
		expired:   expired,
		now:       time.Now,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 20 * time.Millisecond
			b.MaxInterval = 500 * time.Millisecond
			return b
		},
	}
}

// change is the domain event a mutation produced. An empty type means the
// mutation left the record untouched and nothing is written.
type change struct {
	eventType string
	data      any
}

// mutate applies fn to the user's record and commits it together with the
// event describing the change. The versioned save is the compare-and-swap
// point: it only succeeds if no other writer has committed since the record
// was read. Conflicts are retried with a fresh read; every other error ends
// the attempt and leaves both the record and its log untouched.
func (s *service) mutate(ctx context.Context, userID uuid.UUID, create bool, fn func(r *Reward, now time.Time) (change, error)) (*Reward, error) {
	ctx, span := s.tracer.Start(ctx, "rewards.mutate", trace.WithAttributes(attribute.String("user.id", userID.String())))
	defer span.End()

	r, err := retry(ctx, s, func() (*Reward, error) {
		now := s.now().UTC()
		expected := 0

		r, err := s.store.Get(ctx, userID)
		switch {
		case apperr.IsNotFound(err) && create:
			r = NewReward(userID, now)
		case err != nil:
			return nil, backoff.Permanent(err)
		default:
			expected = r.Version
		}

		c, err := fn(r, now)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if c.eventType == "" {
			if expected == 0 {
				c = change{eventType: "RewardOpened", data: RewardOpenedEvent{UserID: userID}}
			} else {
				return r, nil
			}
		}

		event, err := eventstore.NewEvent(aggregateType, c.eventType, c.data)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		r.Version = expected + 1
		if err := s.store.Save(ctx, r, expected, event); err != nil {
			return nil, retryable(fmt.Errorf("save %s: %w", c.eventType, err))
		}
		return r, nil
	})
	if isStale(err) {
		span.SetAttributes(attribute.Bool("conflict", true))
		return nil, apperr.Conflict(nil, "reward record for %s is busy, retry", userID)
	}
	return r, err
}

// retry runs op with the service's backoff until it succeeds, fails
// permanently or runs out of attempts.
func retry[T any](ctx context.Context, s *service, op backoff.Operation[T]) (T, error) {
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(s.backoff()),
		backoff.WithMaxTries(maxAttempts),
	)
}

// retryable leaves lost races open to another attempt and makes every other
// error permanent.
func retryable(err error) error {
	if isStale(err) {
		return err
	}
	return backoff.Permanent(err)
}

func isStale(err error) bool {
	return errors.Is(err, ErrStaleReward) || errors.Is(err, ErrStaleCatalog) ||
		errors.Is(err, eventstore.ErrConcurrencyConflict)
}

// GetOrCreate returns the user's record, opening an empty one on first use.
func (s *service) GetOrCreate(ctx context.Context, userID uuid.UUID) (*Reward, error) {
	if userID == uuid.Nil {
		return nil, apperr.Invalid("user_id", "user id is required")
	}
	r, err := s.store.Get(ctx, userID)
	if err == nil {
		return r, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, err
	}
	return s.mutate(ctx, userID, true, func(*Reward, time.Time) (change, error) {
		return change{}, nil
	})
}

// GrantPoints records a grant or deduction and notifies the user.
func (s *service) GrantPoints(ctx context.Context, req GrantRequest) (*Reward, error) {
	switch {
	case req.UserID == uuid.Nil:
		return nil, apperr.Invalid("user_id", "user id is required")
	case req.Amount == 0:
		return nil, apperr.Invalid("amount", "points amount must be a non-zero number")
	case abs(req.Amount) > MaxGrantAmount:
		return nil, apperr.Invalid("amount", "points amount must be within ±%d", MaxGrantAmount)
	case req.Reason == "":
		return nil, apperr.Invalid("reason", "reason is required")
	case !req.Source.Valid():
		return nil, apperr.Invalid("source", "unknown source %q", req.Source)
	case !req.SourceRef.Kind.Valid():
		return nil, apperr.Invalid("source_ref.kind", "unknown source kind %q", req.SourceRef.Kind)
	}

	var grant PointGrant
	r, err := s.mutate(ctx, req.UserID, true, func(r *Reward, now time.Time) (change, error) {
		grant = r.AddPoints(PointGrant{
			Amount:    req.Amount,
			Reason:    req.Reason,
			Source:    req.Source,
			SourceRef: req.SourceRef,
			Skills:    req.Skills,
			ExpiresAt: req.ExpiresAt,
			AddedBy:   req.AddedBy,
		}, now)
		return change{"PointsGranted", PointsGrantedEvent{UserID: r.UserID, Grant: grant, Total: r.Total}}, nil
	})
	if err != nil {
		return nil, err
	}

	if s.granted != nil {
		s.granted.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(req.Source))))
	}

	verb, dir := "Added", "added to"
	if req.Amount < 0 {
		verb, dir = "Deducted", "deducted from"
	}
	s.notify(ctx, "rewards.points", notify.New("achievement",
		"Points "+verb,
		fmt.Sprintf("%d points have been %s your account. Reason: %s", abs(req.Amount), dir, req.Reason),
		notify.PriorityNormal, req.AddedBy, req.UserID))
	return r, nil
}

// AwardBadge gives the user a badge they do not hold yet.
func (s *service) AwardBadge(ctx context.Context, userID uuid.UUID, in NewBadge, actor uuid.UUID) (*Badge, error) {
	if userID == uuid.Nil {
		return nil, apperr.Invalid("user_id", "user id is required")
	}

	var awarded Badge
	_, err := s.mutate(ctx, userID, true, func(r *Reward, now time.Time) (change, error) {
		awarded = Badge{
			Name:         in.Name,
			Description:  in.Description,
			Category:     in.Category,
			Level:        in.Level,
			ImageURL:     in.ImageURL,
			Requirements: in.Requirements,
			UnlockedAt:   now,
		}
		if err := r.AddBadge(awarded, now); err != nil {
			return change{}, err
		}
		return change{"BadgeAwarded", BadgeAwardedEvent{UserID: userID, Badge: awarded}}, nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, "rewards.badge", notify.New("achievement",
		"New Badge Earned",
		fmt.Sprintf("You have earned the %s badge: %s. %s", awarded.Level, awarded.Name, awarded.Description),
		notify.PriorityHigh, actor, userID))
	return &awarded, nil
}

// CreateAchievement starts tracking a new achievement for the user.
func (s *service) CreateAchievement(ctx context.Context, userID uuid.UUID, in NewAchievement) (*Achievement, error) {
	if userID == uuid.Nil {
		return nil, apperr.Invalid("user_id", "user id is required")
	}

	var added Achievement
	_, err := s.mutate(ctx, userID, true, func(r *Reward, now time.Time) (change, error) {
		added = Achievement{
			Title:         in.Title,
			Description:   in.Description,
			Category:      in.Category,
			Progress:      Progress{Target: in.Target},
			PointsAwarded: in.PointsAwarded,
		}
		if err := r.AddAchievement(added, now); err != nil {
			return change{}, err
		}
		return change{"AchievementAdded", AchievementAddedEvent{UserID: userID, Achievement: added}}, nil
	})
	if err != nil {
		return nil, err
	}
	return &added, nil
}

// ProgressAchievement advances an achievement. The user is notified once, on
// the update that completes it.
func (s *service) ProgressAchievement(ctx context.Context, userID uuid.UUID, title string, increment int, actor uuid.UUID) (*AchievementUpdate, error) {
	var update AchievementUpdate
	_, err := s.mutate(ctx, userID, false, func(r *Reward, now time.Time) (change, error) {
		var err error
		update, err = r.UpdateAchievement(title, increment, now)
		if err != nil || !update.Changed {
			return change{}, err
		}
		return change{"AchievementProgressed", AchievementProgressedEvent{
			UserID:    userID,
			Title:     title,
			Progress:  update.Achievement.Progress,
			Completed: update.Completed,
		}}, nil
	})
	if err != nil {
		return nil, err
	}

	if update.Completed {
		if update.Grant != nil && s.granted != nil {
			s.granted.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(SourceAchievement))))
		}
		s.notify(ctx, "rewards.achievement", notify.New("achievement",
			"Achievement Completed",
			fmt.Sprintf("You have completed the achievement: %s. %s", title, update.Achievement.Description),
			notify.PriorityHigh, actor, userID))
	}
	return &update, nil
}

// History returns the user's grants newest first, one page at a time.
func (s *service) History(ctx context.Context, userID uuid.UUID, page, limit int) (*HistoryPage, error) {
	page, limit = max(page, 1), max(limit, 1)

	r, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	history := append([]PointGrant(nil), r.History...)
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Timestamp.After(history[j].Timestamp)
	})

	start := min((page-1)*limit, len(history))
	end := min(start+limit, len(history))

	entries := make([]HistoryEntry, 0, end-start)
	for _, g := range history[start:end] {
		entry := HistoryEntry{PointGrant: g}
		data, err := s.resolvers.Resolve(ctx, g.SourceRef)
		if err != nil {
			s.log.Warn("could not resolve grant source", "kind", g.SourceRef.Kind, "source.id", g.SourceRef.ID, "err", err)
		}
		entry.SourceData = data
		entries = append(entries, entry)
	}

	return &HistoryPage{History: entries, Pagination: paginate(len(history), page, limit)}, nil
}

// Leaderboard ranks users by total points, or by one skill.
func (s *service) Leaderboard(ctx context.Context, skill string, page, limit int) (*LeaderboardPage, error) {
	page, limit = max(page, 1), max(limit, 1)

	entries, total, err := s.store.Leaderboard(ctx, skill, (page-1)*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	return &LeaderboardPage{Leaderboard: entries, Pagination: paginate(total, page, limit)}, nil
}

// SweepExpired retires expired grants for every affected user and returns how
// many records changed. A failure on one user is logged and does not stop the
// others.
func (s *service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "rewards.sweep_expired")
	defer span.End()

	users, err := s.store.ExpiringUsers(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("find expiring records: %w", err)
	}

	updated := 0
	for _, userID := range users {
		var result SweepResult
		_, err := s.mutate(ctx, userID, false, func(r *Reward, _ time.Time) (change, error) {
			result = r.SweepExpired(now)
			if result.Expired == 0 {
				return change{}, nil
			}
			return change{"PointsExpired", PointsExpiredEvent{UserID: userID, Expired: result.Expired, NewTotal: result.NewTotal}}, nil
		})
		if err != nil {
			s.log.Error("expiry sweep failed", "user.id", userID, "err", err)
			continue
		}
		if result.Expired > 0 {
			updated++
			if s.expired != nil {
				s.expired.Add(ctx, int64(result.Expired))
			}
		}
	}

	span.SetAttributes(attribute.Int("records.updated", updated))
	s.log.Info("expiry sweep finished", "candidates", len(users), "updated", updated)
	return updated, nil
}

func (s *service) notify(ctx context.Context, key string, n notify.Notification) {
	if err := s.publisher.Publish(ctx, key, n); err != nil {
		s.log.Warn("notification publish failed", "key", key, "err", err)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
