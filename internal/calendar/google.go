package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"nova/internal/freebusy"
	logx "nova/pkg/logx"
)

// maxPages bounds one listing to maxPages*MaxResults events.
const maxPages = 10

// ErrTooManyEvents means a listing hit the paging cap before the last page.
var ErrTooManyEvents = errors.New("calendar: too many events in range")

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	// CalendarID is used when the account names none. Default "primary".
	CalendarID     string
	MaxResults     int
	RequestTimeout time.Duration
	SkipAllDay     bool
	// Location is used to place all-day dates. Default time.Local.
	Location *time.Location
}

// Google talks to the Google Calendar v3 API. Each account's refresh token
// gets its own token source; services are cached per token.
type Google struct {
	cfg   GoogleConfig
	oauth *oauth2.Config
	log   logx.Logger

	mu       sync.Mutex
	services map[string]*gcal.Service

	// newService is swapped in tests.
	newService func(ctx context.Context, ts oauth2.TokenSource) (*gcal.Service, error)
}

func NewGoogle(cfg GoogleConfig, log logx.Logger) *Google {
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 250
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Google{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gcal.CalendarEventsScope},
		},
		log:      log.With(logx.String("comp", "calendar.google")),
		services: map[string]*gcal.Service{},
		newService: func(ctx context.Context, ts oauth2.TokenSource) (*gcal.Service, error) {
			return gcal.NewService(ctx, option.WithTokenSource(ts))
		},
	}
}

func (g *Google) service(acct Account) (*gcal.Service, error) {
	token := strings.TrimSpace(acct.RefreshToken)
	if token == "" {
		return nil, ErrNoAccount
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if svc, ok := g.services[token]; ok {
		return svc, nil
	}
	// The token source outlives any single request, so it gets a background context.
	ts := g.oauth.TokenSource(context.Background(), &oauth2.Token{RefreshToken: token})
	svc, err := g.newService(context.Background(), ts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	g.services[token] = svc
	return svc, nil
}

// Forget drops the cached client for a token, e.g. after it was revoked.
func (g *Google) Forget(refreshToken string) {
	g.mu.Lock()
	delete(g.services, refreshToken)
	g.mu.Unlock()
}

func (g *Google) calendarID(acct Account) string {
	if id := strings.TrimSpace(acct.CalendarID); id != "" {
		return id
	}
	return g.cfg.CalendarID
}

func (g *Google) Events(ctx context.Context, acct Account, start, end time.Time) ([]Event, error) {
	svc, err := g.service(acct)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	var (
		out   []Event
		page  string
		began = time.Now()
	)
	for {
		call := svc.Events.List(g.calendarID(acct)).
			TimeMin(start.Format(time.RFC3339)).
			TimeMax(end.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime").
			MaxResults(int64(g.cfg.MaxResults)).
			Context(ctx)
		if page != "" {
			call = call.PageToken(page)
		}
		res, err := call.Do()
		if err != nil {
			g.log.Warn("events list failed", logx.Duration("dur", time.Since(began)), logx.Err(err))
			return nil, fmt.Errorf("%w: list events: %w", ErrProviderUnavailable, err)
		}
		for _, item := range res.Items {
			if ev, ok := fromAPI(item, g.cfg.Location); ok {
				out = append(out, ev)
			}
		}
		page = res.NextPageToken
		if page == "" {
			break
		}
		// A partial listing would read as free time, so refuse it outright.
		if limit := maxPages * g.cfg.MaxResults; len(out) >= limit {
			g.log.Warn("events listing truncated", logx.Int("limit", limit), logx.Duration("dur", time.Since(began)))
			return nil, fmt.Errorf("%w: %w: more than %d events", ErrProviderUnavailable, ErrTooManyEvents, limit)
		}
	}
	g.log.Debug("events listed", logx.Int("count", len(out)), logx.Duration("dur", time.Since(began)))
	return out, nil
}

func (g *Google) BusyIntervals(ctx context.Context, acct Account, start, end time.Time) ([]freebusy.Interval, error) {
	evs, err := g.Events(ctx, acct, start, end)
	if err != nil {
		return nil, err
	}
	return Busy(evs, g.cfg.SkipAllDay), nil
}

func (g *Google) CreateEvent(ctx context.Context, acct Account, spec EventSpec) (string, error) {
	if spec.Summary == "" || !spec.End.After(spec.Start) {
		return "", fmt.Errorf("calendar: invalid event spec %q", spec.Summary)
	}
	svc, err := g.service(acct)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	created, err := svc.Events.Insert(g.calendarID(acct), toAPI(spec)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("%w: insert event: %w", ErrProviderUnavailable, err)
	}
	g.log.Info("event created", logx.String("event_id", created.Id), logx.String("tag", spec.Tag))
	return created.Id, nil
}

// IsPermanent reports whether err will not go away on retry: a rejected
// request or a revoked refresh token.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrNoAccount) || errors.Is(err, ErrDisabled) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code >= 400 && gerr.Code < 500 && gerr.Code != http.StatusTooManyRequests
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return rerr.ErrorCode == "invalid_grant" || rerr.ErrorCode == "invalid_client"
	}
	return false
}

// fromAPI converts one API event. Cancelled entries are dropped.
func fromAPI(item *gcal.Event, loc *time.Location) (Event, bool) {
	if item == nil || item.Status == "cancelled" || item.Start == nil {
		return Event{}, false
	}
	ev := Event{
		ID:      item.Id,
		Summary: item.Summary,
		Free:    item.Transparency == "transparent",
	}
	if item.ExtendedProperties != nil {
		ev.Tag = item.ExtendedProperties.Private[TagKey]
	}

	if item.Start.DateTime == "" {
		d, err := time.ParseInLocation("2006-01-02", item.Start.Date, loc)
		if err != nil {
			return Event{}, false
		}
		ev.AllDay, ev.Start, ev.End = true, d, d.AddDate(0, 0, 1)
		if item.End != nil && item.End.Date != "" {
			if e, err := time.ParseInLocation("2006-01-02", item.End.Date, loc); err == nil && e.After(d) {
				ev.End = e
			}
		}
		return ev, true
	}

	st, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return Event{}, false
	}
	ev.Start = st
	if item.End == nil || item.End.DateTime == "" {
		ev.EndUnspecified = true
		return ev, true
	}
	en, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil || !en.After(st) {
		ev.EndUnspecified = true
		return ev, true
	}
	ev.End = en
	return ev, true
}

func toAPI(spec EventSpec) *gcal.Event {
	// Recurring events need an IANA zone; offsets in DateTime cover the rest.
	tz := spec.Start.Location().String()
	if tz == "Local" {
		tz = ""
	}
	ev := &gcal.Event{
		Summary:    spec.Summary,
		Start:      &gcal.EventDateTime{DateTime: spec.Start.Format(time.RFC3339), TimeZone: tz},
		End:        &gcal.EventDateTime{DateTime: spec.End.Format(time.RFC3339), TimeZone: tz},
		Recurrence: spec.Recurrence,
	}
	if spec.Tag != "" {
		ev.ExtendedProperties = &gcal.EventExtendedProperties{Private: map[string]string{TagKey: spec.Tag}}
	}
	return ev
}
