package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"ad-decision-engine/internal/observability"
)

var ErrChannelStatus = errors.New("tracking endpoint rejected request")

// Channel delivers a batch of events of one action. Send never panics; a
// transport failure is logged and returned.
type Channel interface {
	Name() ChannelName
	Send(ctx context.Context, action Action, events []Event) error
}

// LocalChannel posts ad ids to the site's own collector endpoint.
type LocalChannel struct {
	Endpoint string
	Token    string
	Client   *http.Client
}

func NewLocalChannel(endpoint, token string) *LocalChannel {
	return &LocalChannel{Endpoint: endpoint, Token: token, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (c *LocalChannel) Name() ChannelName { return Local }

type collectorResponse struct {
	Success bool `json:"success"`
}

func (c *LocalChannel) Send(ctx context.Context, action Action, events []Event) error {
	form := url.Values{}
	for _, e := range events {
		form.Add("ad_ids[]", e.AdID)
	}
	form.Set("action", string(action))
	form.Set("security_token", c.Token)

	err := c.post(ctx, form)
	record(Local, err)
	if err != nil {
		log.Warn().Err(err).Str("channel", string(Local)).Str("action", string(action)).
			Int("ads", len(events)).Msg("tracking dispatch failed")
	}
	return err
}

func (c *LocalChannel) post(ctx context.Context, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrChannelStatus, resp.StatusCode)
	}
	var body collectorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err == nil && !body.Success {
		return fmt.Errorf("%w: success=false", ErrChannelStatus)
	}
	return nil
}

// AnalyticsChannel forwards events to a measurement-protocol style endpoint.
type AnalyticsChannel struct {
	Endpoint      string
	MeasurementID string
	ClientID      string
	Client        *http.Client
}

func NewAnalyticsChannel(endpoint, measurementID, clientID string) *AnalyticsChannel {
	return &AnalyticsChannel{
		Endpoint:      endpoint,
		MeasurementID: measurementID,
		ClientID:      clientID,
		Client:        &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *AnalyticsChannel) Name() ChannelName { return Analytics }

type analyticsEvent struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params"`
}

type analyticsPayload struct {
	ClientID string           `json:"client_id"`
	Events   []analyticsEvent `json:"events"`
}

func (c *AnalyticsChannel) Send(ctx context.Context, action Action, events []Event) error {
	p := analyticsPayload{ClientID: c.ClientID}
	for _, e := range events {
		p.Events = append(p.Events, analyticsEvent{
			Name: "ad_" + string(action),
			Params: map[string]string{
				"ad_id":    e.AdID,
				"ad_title": e.Title,
				"event_id": e.ID,
			},
		})
	}
	err := c.post(ctx, p)
	record(Analytics, err)
	if err != nil {
		log.Warn().Err(err).Str("channel", string(Analytics)).Str("action", string(action)).Msg("tracking dispatch failed")
	}
	return err
}

func (c *AnalyticsChannel) post(ctx context.Context, p analyticsPayload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("measurement_id", c.MeasurementID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrChannelStatus, resp.StatusCode)
	}
	return nil
}

func record(ch ChannelName, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	observability.ChannelDispatch.WithLabelValues(string(ch), result).Inc()
}
