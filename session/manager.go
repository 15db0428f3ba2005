package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/pipeline"
	"github.com/goliatone/go-shopify-app/security"
)

const contextKey = "shopify_app.session"

const defaultSessionTTL = 24 * time.Hour

type ManagerConfig struct {
	CookieName string
	TTL        time.Duration
	Cookie     CookieOptions
	Keyring    *security.Keyring
	// Store is optional; without it the sealed session lives in the cookie.
	Store  Store
	Logger core.Logger
	Now    func() time.Time
}

type Manager struct {
	cookieName string
	ttl        time.Duration
	cookie     CookieOptions
	codec      *codec
	store      Store
	logger     core.Logger
	now        func() time.Time
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	codec, err := newCodec(cfg.Keyring)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(cfg.CookieName)
	if name == "" {
		name = DefaultCookieName
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = glog.Nop()
	}
	return &Manager{
		cookieName: name,
		ttl:        ttl,
		cookie:     cfg.Cookie.normalize(),
		codec:      codec,
		store:      cfg.Store,
		logger:     logger,
		now:        now,
	}, nil
}

func (m *Manager) CookieName() string {
	if m == nil {
		return ""
	}
	return m.cookieName
}

func (m *Manager) Store() Store {
	if m == nil {
		return nil
	}
	return m.store
}

// Attach resolves the session for the request and binds a Handle to c.
// Invalid or expired cookies resolve to an absent session and are cleared.
func (m *Manager) Attach(c *gin.Context) *Handle {
	if existing := FromContext(c); existing != nil {
		return existing
	}
	handle := &Handle{manager: m, ctx: c}
	c.Set(contextKey, handle)

	raw, err := c.Cookie(m.cookieName)
	if err != nil || strings.TrimSpace(raw) == "" {
		return handle
	}
	session, id, err := m.load(c.Request.Context(), raw)
	if err != nil {
		core.LogWithLevel(c.Request.Context(), m.logger, "warn", "session cookie rejected", map[string]any{
			"path":  c.Request.URL.Path,
			"error": err.Error(),
		})
		clearCookie(c.Writer, m.cookieName, m.cookie)
		return handle
	}
	handle.id = id
	if session == nil {
		clearCookie(c.Writer, m.cookieName, m.cookie)
		return handle
	}
	if session.Expired(m.now()) {
		if m.store != nil && id != "" {
			_ = m.store.Delete(c.Request.Context(), id)
		}
		handle.id = ""
		clearCookie(c.Writer, m.cookieName, m.cookie)
		return handle
	}
	handle.session = session
	return handle
}

func (m *Manager) load(ctx context.Context, raw string) (*core.Session, string, error) {
	if m.store == nil {
		session, err := m.codec.decodeSession(ctx, raw)
		if err != nil {
			return nil, "", err
		}
		return session, "", nil
	}
	id, err := m.codec.decodeID(raw)
	if err != nil {
		return nil, "", err
	}
	session, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("session: load %s: %w", id, err)
	}
	if session != nil {
		session.ID = id
	}
	return session, id, nil
}

// FromContext returns the handle attached to c, or nil.
func FromContext(c *gin.Context) *Handle {
	if c == nil {
		return nil
	}
	value, ok := c.Get(contextKey)
	if !ok {
		return nil
	}
	handle, _ := value.(*Handle)
	return handle
}

// Handle is the request-scoped view of one session.
type Handle struct {
	manager *Manager
	ctx     *gin.Context
	session *core.Session
	id      string
}

// Read returns a copy of the session, or nil when absent.
func (h *Handle) Read() *core.Session {
	if h == nil || h.session == nil {
		return nil
	}
	cloned := h.session.Clone()
	return &cloned
}

// Authenticated returns the session only when it carries a live access token.
func (h *Handle) Authenticated() *core.Session {
	session := h.Read()
	if h == nil || !session.Authenticated(h.manager.now()) {
		return nil
	}
	return session
}

// Write persists session and refreshes the signed cookie.
func (h *Handle) Write(session core.Session) error {
	if h == nil || h.manager == nil || h.ctx == nil {
		return fmt.Errorf("session: handle is not attached")
	}
	if h.ctx.Writer.Written() {
		return fmt.Errorf("session: response already written")
	}
	m := h.manager
	now := m.now()
	session = session.Clone()
	session.Shop = strings.TrimSpace(session.Shop)
	if session.CreatedAt.IsZero() {
		if h.session != nil && !h.session.CreatedAt.IsZero() {
			session.CreatedAt = h.session.CreatedAt
		} else {
			session.CreatedAt = now
		}
	}
	session.UpdatedAt = now
	if session.ExpiresAt.IsZero() {
		session.ExpiresAt = now.Add(m.ttl)
	}
	if !now.Before(session.ExpiresAt) {
		return fmt.Errorf("session: expires_at must be in the future")
	}

	var value string
	if m.store != nil {
		id := strings.TrimSpace(h.id)
		if id == "" {
			id = GenerateID()
		}
		session.ID = id
		if err := m.store.Save(h.ctx.Request.Context(), session); err != nil {
			return fmt.Errorf("session: save: %w", err)
		}
		encoded, err := m.codec.encodeID(id)
		if err != nil {
			return err
		}
		h.id = id
		value = encoded
	} else {
		session.ID = ""
		encoded, err := m.codec.encodeSession(h.ctx.Request.Context(), session)
		if err != nil {
			return err
		}
		value = encoded
	}
	setCookie(h.ctx.Writer, m.cookieName, value, session.ExpiresAt, now, m.cookie)
	h.session = &session
	return nil
}

// Clear removes server-side state and expires the cookie.
func (h *Handle) Clear() error {
	if h == nil || h.manager == nil || h.ctx == nil {
		return fmt.Errorf("session: handle is not attached")
	}
	var err error
	if h.manager.store != nil && strings.TrimSpace(h.id) != "" {
		err = h.manager.store.Delete(h.ctx.Request.Context(), h.id)
	}
	h.session = nil
	h.id = ""
	if !h.ctx.Writer.Written() {
		clearCookie(h.ctx.Writer, h.manager.cookieName, h.manager.cookie)
	}
	return err
}

// Stage attaches the session handle as the first pipeline stage.
type Stage struct {
	Manager *Manager
}

func NewStage(manager *Manager) *Stage {
	return &Stage{Manager: manager}
}

func (*Stage) Name() string {
	return "session"
}

func (s *Stage) Handle(c *gin.Context) {
	if s == nil || s.Manager == nil {
		core.WriteError(c, fmt.Errorf("session: manager is not configured"))
		return
	}
	s.Manager.Attach(c)
}

var _ pipeline.Stage = (*Stage)(nil)
