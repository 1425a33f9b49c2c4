package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/models"
	"github.com/nbd-wtf/go-nostr"
)

// Config holds relay client settings
type Config struct {
	URL              string
	ConnectTimeout   time.Duration
	VerifySignatures bool
}

// Client resolves profiles through short-lived relay connections. Every
// call dials, subscribes and tears both down before returning.
type Client struct {
	cfg    Config
	logger Logger
}

// NewClient creates a relay client
func NewClient(cfg Config, logger Logger) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger,
	}
}

// URL returns the relay endpoint
func (c *Client) URL() string {
	return c.cfg.URL
}

// Resolve returns the newest profile for identity, or nil when the relay
// has none before the timeout. Connection failures return ErrRelayUnavailable.
func (c *Client) Resolve(ctx context.Context, identity string, timeout time.Duration) (*models.ProfileRecord, error) {
	filter := nostr.Filter{
		Kinds:   []int{nostr.KindProfileMetadata},
		Authors: []string{identity},
		Limit:   1,
	}

	var best *models.ProfileRecord
	err := c.collect(ctx, filter, timeout, func(p *models.ProfileRecord) bool {
		if p.Identity != identity {
			return false
		}
		if p.NewerThan(best) {
			best = p
		}
		// First qualifying event ends the lookup
		return true
	})
	if err != nil {
		relayLookups.WithLabelValues("resolve", "unavailable").Inc()
		return nil, err
	}

	if best == nil {
		relayLookups.WithLabelValues("resolve", "not_found").Inc()
		c.logger.Debug("relay has no profile", "identity", identity)
		return nil, nil
	}

	relayLookups.WithLabelValues("resolve", "found").Inc()
	return best, nil
}

// ResolveMany resolves a batch with one subscription filtered to every
// author. The wait is bounded by timeout for the whole batch.
func (c *Client) ResolveMany(ctx context.Context, identities []string, timeout time.Duration) (map[string]*models.ProfileRecord, error) {
	result := make(map[string]*models.ProfileRecord)
	if len(identities) == 0 {
		return result, nil
	}

	wanted := make(map[string]bool, len(identities))
	for _, id := range identities {
		wanted[id] = true
	}

	filter := nostr.Filter{
		Kinds:   []int{nostr.KindProfileMetadata},
		Authors: identities,
	}

	err := c.collect(ctx, filter, timeout, func(p *models.ProfileRecord) bool {
		if !wanted[p.Identity] {
			return false
		}
		if p.NewerThan(result[p.Identity]) {
			result[p.Identity] = p
		}
		return false
	})
	if err != nil {
		relayLookups.WithLabelValues("resolve_many", "unavailable").Inc()
		return nil, err
	}

	relayLookups.WithLabelValues("resolve_many", "found").Add(float64(len(result)))
	return result, nil
}

// Recent streams profile events created after since, stopping at limit
// events, end of stored events or timeout. Only the newest event per
// author is returned.
func (c *Client) Recent(ctx context.Context, since time.Time, limit int, timeout time.Duration) ([]*models.ProfileRecord, error) {
	ts := nostr.Timestamp(since.Unix())
	filter := nostr.Filter{
		Kinds: []int{nostr.KindProfileMetadata},
		Since: &ts,
		Limit: limit,
	}

	newest := make(map[string]*models.ProfileRecord)
	order := make([]string, 0)
	seen := 0

	err := c.collect(ctx, filter, timeout, func(p *models.ProfileRecord) bool {
		if limit > 0 && seen >= limit {
			return true
		}
		seen++
		if existing, ok := newest[p.Identity]; !ok {
			order = append(order, p.Identity)
			newest[p.Identity] = p
		} else if p.NewerThan(existing) {
			newest[p.Identity] = p
		}
		return limit > 0 && seen >= limit
	})
	if err != nil {
		relayLookups.WithLabelValues("recent", "unavailable").Inc()
		return nil, err
	}

	out := make([]*models.ProfileRecord, 0, len(order))
	for _, id := range order {
		out = append(out, newest[id])
	}
	relayLookups.WithLabelValues("recent", "found").Add(float64(len(out)))
	return out, nil
}

// collect opens a connection and subscription, feeds decoded profiles to
// accept until it returns true, EOSE arrives or timeout expires, then tears
// everything down. Events already buffered when accept stops are still
// offered so the newest candidate wins. A connection that drops before any
// profile arrives is reported as ErrRelayUnavailable.
func (c *Client) collect(ctx context.Context, filter nostr.Filter, timeout time.Duration, accept func(*models.ProfileRecord) bool) error {
	conn, err := Dial(ctx, c.cfg.URL, c.cfg.ConnectTimeout, c.logger)
	if err != nil {
		c.logger.Warn("relay connect failed", "relay", c.cfg.URL, "error", err)
		return err
	}
	defer conn.Close()

	sub, err := conn.Subscribe(filter)
	if err != nil {
		return err
	}
	defer sub.Close()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	received := 0
	for {
		select {
		case ev := <-sub.Events:
			p := c.decode(ev)
			if p == nil {
				continue
			}
			received++
			if accept(p) {
				c.drain(sub, accept)
				return nil
			}

		case <-sub.EndOfStored():
			c.drain(sub, accept)
			return nil

		case <-timer.C:
			c.drain(sub, accept)
			return nil

		case <-conn.Done():
			// Dropped mid-subscription: keep what arrived, if anything did
			received += c.drain(sub, accept)
			if received == 0 {
				c.logger.Warn("relay dropped connection before end of stored events", "relay", c.cfg.URL)
				return fmt.Errorf("%w: connection lost", ErrRelayUnavailable)
			}
			return nil

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drain offers buffered events to accept and returns how many decoded
func (c *Client) drain(sub *Subscription, accept func(*models.ProfileRecord) bool) int {
	n := 0
	for {
		select {
		case ev := <-sub.Events:
			if p := c.decode(ev); p != nil {
				n++
				accept(p)
			}
		default:
			return n
		}
	}
}

// decode filters and converts one event. Returns nil for anything that is
// not a well-formed, correctly signed profile event.
func (c *Client) decode(ev *nostr.Event) *models.ProfileRecord {
	if ev == nil || ev.Kind != nostr.KindProfileMetadata {
		return nil
	}

	if c.cfg.VerifySignatures {
		ok, err := ev.CheckSignature()
		if err != nil || !ok {
			c.logger.Debug("relay event signature rejected", "event_id", ev.ID, "pubkey", ev.PubKey)
			return nil
		}
	}

	p, err := ProfileFromEvent(ev)
	if err != nil {
		c.logger.Debug("relay event content rejected", "event_id", ev.ID, "error", err)
		return nil
	}
	return p
}

// profileContent is the JSON object carried in a profile event's content
type profileContent struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	About       string `json:"about"`
	Picture     string `json:"picture"`
	Banner      string `json:"banner"`
}

// ProfileFromEvent decodes a profile event into a ProfileRecord
func ProfileFromEvent(ev *nostr.Event) (*models.ProfileRecord, error) {
	var content profileContent
	if err := json.Unmarshal([]byte(ev.Content), &content); err != nil {
		return nil, err
	}

	displayName := content.DisplayName
	if displayName == "" {
		displayName = content.Name
	}

	return &models.ProfileRecord{
		Identity:    strings.ToLower(ev.PubKey),
		DisplayName: displayName,
		About:       content.About,
		PictureURL:  strings.TrimSpace(content.Picture),
		BannerURL:   strings.TrimSpace(content.Banner),
		UpdatedAt:   int64(ev.CreatedAt),
	}, nil
}
