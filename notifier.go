package main

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hako/durafmt"
)

// opsNotifier posts best-effort operational alerts (repeated connect
// failures against a pool) to a Discord webhook. It never blocks the
// client actor it's called from and never turns an alert-delivery
// failure into anything the caller needs to handle.
type opsNotifier struct {
	session *discordgo.Session
	webhook string // full https://discord.com/api/webhooks/<id>/<token> URL
	id      string
	token   string

	mu           sync.Mutex
	lastSent     map[string]time.Time
	failingSince map[string]time.Time
}

const opsAlertCooldown = 15 * time.Minute

// newOpsNotifier returns nil when webhookURL is empty, so callers can
// unconditionally call methods on the result (nil-receiver methods below
// are no-ops).
func newOpsNotifier(webhookURL string) *opsNotifier {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return nil
	}
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		logger.Warn("discord_webhook_url is set but could not be parsed, ops alerts disabled", "err", err)
		return nil
	}
	s, _ := discordgo.New("")
	return &opsNotifier{
		session:      s,
		webhook:      webhookURL,
		id:           id,
		token:        token,
		lastSent:     make(map[string]time.Time),
		failingSince: make(map[string]time.Time),
	}
}

func parseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("unrecognized webhook URL shape")
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
}

// alertConnectFailures notifies once per pool per cooldown window when a
// pool has failed to connect at least threshold times in a row.
func (n *opsNotifier) alertConnectFailures(poolName string, failures, threshold int) {
	if n == nil || threshold <= 0 {
		return
	}
	n.mu.Lock()
	if _, ok := n.failingSince[poolName]; !ok {
		n.failingSince[poolName] = time.Now()
	}
	since := n.failingSince[poolName]
	last, ok := n.lastSent[poolName]
	if failures < threshold || (ok && time.Since(last) < opsAlertCooldown) {
		n.mu.Unlock()
		return
	}
	n.lastSent[poolName] = time.Now()
	n.mu.Unlock()

	elapsed := durafmt.Parse(time.Since(since)).LimitFirstN(2).String()
	msg := fmt.Sprintf(":warning: pool **%s** has failed to connect %d consecutive times (failing for %s)", poolName, failures, elapsed)
	n.send(msg)
}

// clearFailure drops the failure streak and the alert cooldown once a pool
// connects successfully, so the next run of failures starts its
// elapsed-time clock from zero and may alert without waiting out the
// previous cooldown.
func (n *opsNotifier) clearFailure(poolName string) {
	if n == nil {
		return
	}
	n.mu.Lock()
	delete(n.failingSince, poolName)
	delete(n.lastSent, poolName)
	n.mu.Unlock()
}

func (n *opsNotifier) send(content string) {
	if n == nil || n.session == nil {
		return
	}
	_, err := n.session.WebhookExecute(n.id, n.token, false, &discordgo.WebhookParams{
		Content: content,
	})
	if err != nil {
		logger.Warn("ops alert delivery failed", "err", err)
	}
}
