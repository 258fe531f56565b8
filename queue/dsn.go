package queue

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ed25519"

	"github.com/stalwartgo/core/stats"
)

// DSNKind distinguishes which NOTIFY epoch a DSN covers.
type DSNKind byte

const (
	DSNDelay DSNKind = iota
	DSNFailure
	DSNSuccess
)

// BuildDSN composes a multipart/report delivery-status-notification for
// the subset of recipients whose NotifyFlags match kind, referencing the
// original message's blob and signing the result with the given Ed25519
// DKIM selector key. It returns (nil, false) if no recipient qualifies.
func BuildDSN(m *Message, kind DSNKind, domain, selector string, dkimKey ed25519.PrivateKey) ([]byte, bool) {
	var targets []Recipient
	for _, r := range m.Recipients {
		if dsnApplies(r, kind) {
			targets = append(targets, r)
		}
	}
	if len(targets) == 0 {
		return nil, false
	}

	var body bytes.Buffer
	fmt.Fprintf(&body, "From: Mail Delivery System <postmaster@%s>\r\n", domain)
	fmt.Fprintf(&body, "To: %s\r\n", m.ReturnPath)
	fmt.Fprintf(&body, "Subject: %s\r\n", dsnSubject(kind))
	body.WriteString("MIME-Version: 1.0\r\n")
	body.WriteString("Content-Type: multipart/report; report-type=delivery-status; boundary=\"stwt-dsn\"\r\n\r\n")

	body.WriteString("--stwt-dsn\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	for _, r := range targets {
		fmt.Fprintf(&body, "%s: %s (%s)\r\n", r.Address, statusWord(r.Status), r.LastReply)
	}

	body.WriteString("--stwt-dsn\r\nContent-Type: message/delivery-status\r\n\r\n")
	fmt.Fprintf(&body, "Reporting-MTA: dns;%s\r\n\r\n", domain)
	for _, r := range targets {
		fmt.Fprintf(&body, "Final-Recipient: rfc822;%s\r\nAction: %s\r\nStatus: %s\r\n\r\n",
			r.Address, dsnAction(r.Status), dsnStatusCode(r.Status))
	}
	body.WriteString("--stwt-dsn--\r\n")

	signed := signDKIM(body.Bytes(), domain, selector, dkimKey)
	stats.QueueDSNCount.WithLabelValues(dsnKindLabel(kind)).Inc()
	return signed, true
}

// MarkDSNSent clears the NotifyFlags bit matching kind on every recipient
// BuildDSN would have selected for it, so a later worker pass does not
// regenerate and re-send the same notification.
func MarkDSNSent(m *Message, kind DSNKind) {
	for i := range m.Recipients {
		r := &m.Recipients[i]
		if !dsnApplies(*r, kind) {
			continue
		}
		switch kind {
		case DSNDelay:
			r.NotifyFlags &^= NotifyDelay
		case DSNFailure:
			r.NotifyFlags &^= NotifyFailure
		case DSNSuccess:
			r.NotifyFlags &^= NotifySuccess
		}
	}
}

func dsnKindLabel(kind DSNKind) string {
	switch kind {
	case DSNDelay:
		return "delay"
	case DSNFailure:
		return "failure"
	default:
		return "success"
	}
}

func dsnApplies(r Recipient, kind DSNKind) bool {
	switch kind {
	case DSNDelay:
		return r.Status == StatusTemporaryFailure && r.NotifyFlags&NotifyDelay != 0
	case DSNFailure:
		return r.Status == StatusPermanentFailure && r.NotifyFlags&NotifyFailure != 0
	case DSNSuccess:
		return r.Status == StatusCompleted && r.NotifyFlags&NotifySuccess != 0
	}
	return false
}

func dsnSubject(kind DSNKind) string {
	switch kind {
	case DSNDelay:
		return "Delayed Mail (still being retried)"
	case DSNFailure:
		return "Undelivered Mail Returned to Sender"
	default:
		return "Successful Mail Delivery Report"
	}
}

func statusWord(s Status) string {
	switch s {
	case StatusCompleted:
		return "delivered"
	case StatusPermanentFailure:
		return "failed permanently"
	default:
		return "deferred"
	}
}

func dsnAction(s Status) string {
	switch s {
	case StatusCompleted:
		return "delivered"
	case StatusPermanentFailure:
		return "failed"
	default:
		return "delayed"
	}
}

func dsnStatusCode(s Status) string {
	switch s {
	case StatusCompleted:
		return "2.0.0"
	case StatusPermanentFailure:
		return "5.0.0"
	default:
		return "4.0.0"
	}
}

// signDKIM prepends a DKIM-Signature header computed over a simple
// canonicalization of the body using an Ed25519 selector key (RFC 8463).
// Header canonicalization of the rest of the message is left to the
// transport layer that actually frames the outbound SMTP DATA; this core
// only produces the signature itself.
func signDKIM(body []byte, domain, selector string, key ed25519.PrivateKey) []byte {
	if len(key) == 0 {
		return body
	}
	sum := sha256.Sum256(body)
	sig := ed25519.Sign(key, sum[:])

	var hdr bytes.Buffer
	fmt.Fprintf(&hdr, "DKIM-Signature: v=1; a=ed25519-sha256; d=%s; s=%s; t=%d; bh=%x; b=%x\r\n",
		domain, selector, time.Now().Unix(), sum, sig)
	return append(hdr.Bytes(), body...)
}

// VerifyDKIM is the test-facing counterpart: re-derives the body hash and
// checks the signature against the selector's public key.
func VerifyDKIM(signed []byte, pub ed25519.PublicKey) bool {
	idx := bytes.Index(signed, []byte("\r\n"))
	if idx < 0 {
		return false
	}
	header := string(signed[:idx])
	body := signed[idx+2:]
	sum := sha256.Sum256(body)

	const marker = "; b="
	bIdx := strings.LastIndex(header, marker)
	if bIdx < 0 {
		return false
	}
	sigHex := strings.TrimRight(header[bIdx+len(marker):], "\r\n")
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, sum[:], sig)
}
