// Package audit records who did what, from where, over which channel.
//
// Recording is best effort: enrichment and persistence failures are logged
// and never change the outcome of the action being audited.
package audit

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/AdamLaszab/zadanie-skuska/internal/geo"
	"github.com/AdamLaszab/zadanie-skuska/internal/log"
	"github.com/AdamLaszab/zadanie-skuska/internal/metrics"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/AdamLaszab/zadanie-skuska/internal/audit Store
//go:generate mockgen -destination=mocks/mock_locator.go -package=mocks github.com/AdamLaszab/zadanie-skuska/internal/geo Locator

// Channel is how the caller reached the service.
type Channel string

const (
	ChannelWeb Channel = "web"
	ChannelAPI Channel = "api"
)

// DefaultInteractiveHeader marks requests from the browser frontend.
const DefaultInteractiveHeader = "X-Inertia"

// Entry is one persisted audit record. Entries are append-only.
type Entry struct {
	ID        int64     `json:"id"`
	ActorID   *string   `json:"actor_id"`
	Action    string    `json:"action"`
	Channel   Channel   `json:"channel"`
	Detail    string    `json:"detail"`
	ClientIP  string    `json:"client_ip"`
	City      string    `json:"city"`
	Country   string    `json:"country"`
	CreatedAt time.Time `json:"created_at"`
}

// RequestInfo is the slice of an inbound request the logger needs.
type RequestInfo struct {
	RemoteAddr  string
	Interactive bool
}

// RequestInfoFrom extracts RequestInfo from r. RemoteAddr should already
// reflect any trusted proxy headers.
func RequestInfoFrom(r *http.Request, interactiveHeader string) RequestInfo {
	if interactiveHeader == "" {
		interactiveHeader = DefaultInteractiveHeader
	}
	return RequestInfo{
		RemoteAddr:  r.RemoteAddr,
		Interactive: strings.EqualFold(strings.TrimSpace(r.Header.Get(interactiveHeader)), "true"),
	}
}

// Channel derives the access channel.
func (ri RequestInfo) Channel() Channel {
	if ri.Interactive {
		return ChannelWeb
	}
	return ChannelAPI
}

// Event is an action to record.
type Event struct {
	Action  string
	Detail  string
	ActorID *string
	Request RequestInfo
}

// Page is one slice of the audit trail, newest first.
type Page struct {
	Entries []Entry `json:"entries"`
	Page    int     `json:"page"`
	PerPage int     `json:"per_page"`
	Total   int64   `json:"total"`
}

// Store persists audit entries.
type Store interface {
	Insert(ctx context.Context, e Entry) (int64, error)
	List(ctx context.Context, page, perPage int) (Page, error)
	ExportCSV(ctx context.Context, w io.Writer) error
	Purge(ctx context.Context) (int64, error)
}

// Logger enriches and persists events.
type Logger struct {
	store   Store
	locator geo.Locator
	now     func() time.Time
	logger  *slog.Logger
}

// NewLogger returns an audit logger. A nil locator disables geolocation.
func NewLogger(store Store, locator geo.Locator) *Logger {
	if locator == nil {
		locator = geo.Disabled{}
	}
	return &Logger{
		store:   store,
		locator: locator,
		now:     time.Now,
		logger:  log.WithComponent("audit"),
	}
}

// Record enriches ev and writes it. It never fails; the returned entry has
// ID 0 when persistence did not succeed.
func (l *Logger) Record(ctx context.Context, ev Event) Entry {
	// The audited request may already be finished.
	ctx = context.WithoutCancel(ctx)

	entry := Entry{
		ActorID:   ev.ActorID,
		Action:    ev.Action,
		Channel:   ev.Request.Channel(),
		Detail:    ev.Detail,
		ClientIP:  strings.TrimSpace(ev.Request.RemoteAddr),
		CreatedAt: l.now().UTC(),
	}

	addr, ok := ParseClientIP(ev.Request.RemoteAddr)
	class := IPInvalid
	if ok {
		entry.ClientIP = addr.String()
		class = Classify(addr)
	}

	if class == IPPublic {
		entry.City, entry.Country = l.locate(ctx, addr)
	} else {
		entry.City, entry.Country = fixedLocation(class)
		if class == IPInvalid {
			l.logger.Warn("invalid or missing client address", "remote_addr", ev.Request.RemoteAddr)
		}
	}

	id, err := l.store.Insert(ctx, entry)
	if err != nil {
		l.logger.Error("audit insert failed", "action", ev.Action, "error", err)
		return entry
	}
	entry.ID = id
	return entry
}

func (l *Logger) locate(ctx context.Context, addr netip.Addr) (string, string) {
	loc, err := l.locator.Locate(ctx, addr)
	if err != nil {
		metrics.GeolocationLookupsTotal.WithLabelValues("unavailable").Inc()
		l.logger.Warn("geolocation failed for public address", "ip", addr.String(), "error", err)
		return unknown, unknown
	}
	metrics.GeolocationLookupsTotal.WithLabelValues("success").Inc()

	city, country := loc.City, loc.Country
	if city == "" {
		city = notApplicable
	}
	if country == "" {
		country = notApplicable
	}
	return city, country
}
