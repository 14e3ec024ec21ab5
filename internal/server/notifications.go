package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"plenario/internal/config"
	"plenario/internal/domain"
	"plenario/internal/engine"
)

const (
	dispatchInterval       = 2 * time.Second
	dispatchBatch          = 50
	defaultHookTimeout     = 5 * time.Second
	headerNotifyEvent      = "X-Plenario-Event"
	headerNotifyDelivery   = "X-Plenario-Delivery"
	headerNotifyChamber    = "X-Plenario-Chamber"
	headerNotifySecret     = "X-Plenario-Secret"
)

// startNotificationDispatcher polls the event log and delivers new events to
// the configured webhooks. Delivery is at-most-once per process: the cursor
// starts at the latest event so restarts do not replay history.
func startNotificationDispatcher(e engine.Engine) {
	hooks := enabledHooks(e.Config.Webhooks)
	if len(hooks) == 0 {
		return
	}
	go runDispatcher(e, hooks)
}

func enabledHooks(cfgs []config.WebhookConfig) []config.WebhookConfig {
	var hooks []config.WebhookConfig
	for _, h := range cfgs {
		if h.URL == "" {
			continue
		}
		if h.Enabled != nil && !*h.Enabled {
			continue
		}
		hooks = append(hooks, h)
	}
	return hooks
}

func runDispatcher(e engine.Engine, hooks []config.WebhookConfig) {
	ctx := context.Background()
	chamberID := e.Config.Chamber.ID
	cursor, err := e.Repo.LatestEventID(ctx, chamberID)
	if err != nil {
		log.Printf("webhook dispatcher: initial cursor read failed: %v", err)
	}
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()
	for range ticker.C {
		events, err := e.Repo.EventsAfter(ctx, dispatchBatch, cursor, chamberID)
		if err != nil {
			log.Printf("webhook dispatcher: event poll failed: %v", err)
			continue
		}
		for _, ev := range events {
			for _, hook := range hooks {
				if !eventMatches(hook.Events, ev.Type) {
					continue
				}
				deliver(hook, ev)
			}
			cursor = ev.ID
		}
	}
}

// eventMatches applies the hook's event filter. An empty filter matches
// everything; a trailing "*" matches by prefix ("tramitacao.*").
func eventMatches(filters []string, eventType string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f == eventType {
			return true
		}
		if n := len(f); n > 1 && f[n-1] == '*' && len(eventType) >= n-1 && eventType[:n-1] == f[:n-1] {
			return true
		}
	}
	return false
}

func deliver(hook config.WebhookConfig, ev domain.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		log.Printf("webhook dispatcher: marshal event %d: %v", ev.ID, err)
		return
	}
	timeout := defaultHookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		log.Printf("webhook dispatcher: build request for %s: %v", hook.URL, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerNotifyEvent, ev.Type)
	req.Header.Set(headerNotifyDelivery, uuid.New().String())
	req.Header.Set(headerNotifyChamber, ev.ChamberID)
	if hook.Secret != "" {
		req.Header.Set(headerNotifySecret, hook.Secret)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("webhook dispatcher: deliver event %d to %s: %v", ev.ID, hook.URL, err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("webhook dispatcher: %s responded %d for event %d", hook.URL, resp.StatusCode, ev.ID)
	}
}
