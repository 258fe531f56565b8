package push

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

// Registration is one external Web Push endpoint a principal has
// registered, pending or confirmed by the challenge/verify handshake.
type Registration struct {
	ID        uuid.UUID
	Account   uint32
	URL       string
	AuthKey   string
	P256dhKey string
	Types     DataType
	Verified  bool
	ExpiresAt time.Time
}

// Manager delivers notifications to external Web Push endpoints and runs
// the verification challenge every new Registration must complete before
// it receives live traffic.
type Manager struct {
	mu            sync.RWMutex
	regs          map[uuid.UUID]*Registration
	client        *fasthttp.Client
	challengeKey  []byte
}

func NewManager(challengeKey []byte) *Manager {
	return &Manager{
		regs:         make(map[uuid.UUID]*Registration),
		client:       &fasthttp.Client{MaxConnsPerHost: 64},
		challengeKey: challengeKey,
	}
}

// Register adds an unverified endpoint and returns the signed challenge
// token the caller must deliver to it.
func (m *Manager) Register(r *Registration) (challengeToken string, err error) {
	r.Verified = false
	m.mu.Lock()
	m.regs[r.ID] = r
	m.mu.Unlock()

	claims := jwt.MapClaims{
		"sub": r.ID.String(),
		"exp": time.Now().Add(10 * time.Minute).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(m.challengeKey)
}

// Verify validates a challenge token returned by the endpoint and marks
// the matching registration confirmed.
func (m *Manager) Verify(challengeToken string) error {
	tok, err := jwt.Parse(challengeToken, func(t *jwt.Token) (interface{}, error) {
		return m.challengeKey, nil
	})
	if err != nil || !tok.Valid {
		return jwt.ErrTokenExpired
	}
	claims := tok.Claims.(jwt.MapClaims)
	id, err := uuid.Parse(claims["sub"].(string))
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.regs[id]; ok {
		r.Verified = true
	}
	return nil
}

// Notify delivers n to every verified, unexpired, type-matching
// registration for account, best-effort (failures are logged, not
// retried here — retry is the task queue's job via SendAlarm/SendImip
// style scheduling for anything that must not be dropped).
func (m *Manager) Notify(account uint32, n Notification) {
	m.mu.RLock()
	var targets []*Registration
	now := time.Now()
	for _, r := range m.regs {
		if r.Account == account && r.Verified && r.Types&n.Type != 0 && r.ExpiresAt.After(now) {
			targets = append(targets, r)
		}
	}
	m.mu.RUnlock()

	for _, r := range targets {
		if err := m.deliver(r, n); err != nil {
			glog.Warningf("push: delivery to %s failed: %v", r.URL, err)
		}
	}
}

func (m *Manager) deliver(r *Registration, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.URL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(payload)

	return m.client.DoTimeout(req, resp, 5*time.Second)
}

// Purge drops registrations whose ExpiresAt has passed. Verification state
// is not consulted: an unverified registration is kept until it expires.
func (m *Manager) Purge(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for id, r := range m.regs {
		if r.ExpiresAt.Before(now) {
			delete(m.regs, id)
		}
	}
}
