// Package webhook delivers financial event notifications to agent-registered
// URLs. The registry is in-memory and lost on restart; persistence is a
// known limitation of the current system.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	deliveryTimeout = 5 * time.Second
	userAgent       = "agentfin/1.0"
)

// Result reports the outcome of one fan-out. Errors entries are formatted as
// "<url>: <error>".
type Result struct {
	Sent   int      `json:"sent"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors"`
}

// Notifier owns the agent → URLs registry and delivers payloads to every URL
// registered for an agent, concurrently and independently.
type Notifier struct {
	mu     sync.RWMutex
	urls   map[string][]string
	client *http.Client
	now    func() time.Time
}

func NewNotifier() *Notifier {
	return &Notifier{
		urls:   make(map[string][]string),
		client: &http.Client{Timeout: deliveryTimeout},
		now:    time.Now,
	}
}

// Register adds a webhook URL for an agent. Idempotent; insertion order is
// preserved.
func (n *Notifier) Register(agentID, url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, existing := range n.urls[agentID] {
		if existing == url {
			return
		}
	}
	n.urls[agentID] = append(n.urls[agentID], url)
}

// Unregister removes a webhook URL for an agent. Removing the last URL drops
// the agent's entry entirely.
func (n *Notifier) Unregister(agentID, url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	current := n.urls[agentID]
	kept := current[:0]
	for _, existing := range current {
		if existing != url {
			kept = append(kept, existing)
		}
	}
	if len(kept) == 0 {
		delete(n.urls, agentID)
		return
	}
	n.urls[agentID] = kept
}

// URLs returns the registered webhook URLs for an agent, oldest first.
func (n *Notifier) URLs(agentID string) []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	registered := n.urls[agentID]
	out := make([]string, len(registered))
	copy(out, registered)
	return out
}

type payload struct {
	Event     Event          `json:"event"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NotifyAgent delivers the event to every URL registered for the agent. Each
// delivery runs in its own goroutine with a 5 second budget; one failure
// never affects the others. With nothing registered it returns immediately
// without touching the network.
func (n *Notifier) NotifyAgent(ctx context.Context, agentID string, event Event, data map[string]any) Result {
	urls := n.URLs(agentID)
	result := Result{Errors: []string{}}
	if len(urls) == 0 {
		return result
	}

	merged := map[string]any{"agentId": agentID}
	for k, v := range data {
		merged[k] = v
	}
	body, err := json.Marshal(payload{
		Event:     event,
		Timestamp: n.now().UnixMilli(),
		Data:      merged,
	})
	if err != nil {
		result.Failed = len(urls)
		for _, url := range urls {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", url, err))
		}
		return result
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, url := range urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			err := n.deliver(ctx, url, event, body)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", url, err))
				return
			}
			result.Sent++
		}(url)
	}
	wg.Wait()
	return result
}

func (n *Notifier) deliver(ctx context.Context, url string, event Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Webhook-Event", string(event))

	resp, err := n.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return errors.New("Timeout")
		}
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
