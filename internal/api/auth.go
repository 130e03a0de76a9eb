package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Zecruu/SpineLineDemo/internal/appointment"
	"github.com/Zecruu/SpineLineDemo/internal/audit"
	"github.com/Zecruu/SpineLineDemo/internal/identity"
	"github.com/Zecruu/SpineLineDemo/pkg/logging"
)

const (
	ActionUserCreated = "USER_CREATED"
	ActionUserLogin   = "USER_LOGIN"
)

// Authenticator verifies bearer tokens and resolves them to staff accounts,
// provisioning an account with the default role on first sign-in.
type Authenticator struct {
	verifier identity.TokenVerifier
	users    identity.Directory
	sink     audit.Sink
	logger   *logging.Logger
	now      func() time.Time
}

func NewAuthenticator(verifier identity.TokenVerifier, users identity.Directory, sink audit.Sink, logger *logging.Logger) *Authenticator {
	if sink == nil {
		sink = audit.Discard
	}
	return &Authenticator{verifier: verifier, users: users, sink: sink, logger: logger, now: time.Now}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_token", "Authorization: Bearer <token> required")
			return
		}

		subject, err := a.verifier.Verify(r.Context(), raw)
		if err != nil {
			a.logger.Debug("token rejected", "request_id", GetRequestID(r.Context()), "error", err)
			writeError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired token")
			return
		}

		user, err := a.resolve(r, subject)
		if err != nil {
			a.logger.Error("resolve user failed", "request_id", GetRequestID(r.Context()), "subject", subject.ID, "error", err)
			writeError(w, http.StatusServiceUnavailable, "service_unavailable", "please retry later")
			return
		}
		if !user.IsActive {
			writeError(w, http.StatusForbidden, "account_deactivated", "this account has been deactivated")
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) resolve(r *http.Request, subject *identity.Subject) (*identity.User, error) {
	ctx := r.Context()
	user, err := a.users.FindByExternalID(ctx, subject.ID)
	switch {
	case err == nil:
		if !user.IsActive {
			return user, nil
		}
		now := a.now().UTC()
		if err := a.users.TouchLogin(ctx, user.ID, now); err != nil {
			a.logger.Warn("touch last login failed", "user_id", user.ID, "error", err)
		} else {
			user.LastLogin = &now
		}
		a.record(r, ActionUserLogin, user.ID, map[string]any{"userId": user.ID.String(), "email": user.Email})
		return user, nil
	case !errors.Is(err, identity.ErrUserNotFound):
		return nil, err
	}

	name := subject.DisplayName
	if name == "" {
		name = "New User"
	}
	created, err := a.users.Create(ctx, &identity.User{
		ExternalID: subject.ID,
		Email:      subject.Email,
		FullName:   name,
		Role:       identity.DefaultRole,
	})
	if errors.Is(err, identity.ErrDuplicateUser) {
		// A concurrent first request provisioned the account.
		return a.users.FindByExternalID(ctx, subject.ID)
	}
	if err != nil {
		return nil, err
	}

	a.logger.Info("user provisioned", "user_id", created.ID, "role", created.Role)
	a.record(r, ActionUserCreated, created.ID, map[string]any{"userId": created.ID.String(), "email": created.Email})
	return created, nil
}

func (a *Authenticator) record(r *http.Request, action string, userID uuid.UUID, details map[string]any) {
	recordUserAudit(r, a.sink, a.logger, action, userID, userID, details)
}

// recordUserAudit is best effort like every other audit write.
func recordUserAudit(r *http.Request, sink audit.Sink, logger *logging.Logger, action string, actor, target uuid.UUID, details map[string]any) {
	recordAudit(r, sink, logger, action, actor, audit.ResourceUser, target, details)
}

func recordAudit(r *http.Request, sink audit.Sink, logger *logging.Logger, action string, actor uuid.UUID,
	resource audit.ResourceType, target uuid.UUID, details map[string]any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
	defer cancel()

	err := sink.Record(ctx, audit.Entry{
		Action:       action,
		Actor:        actor,
		ResourceType: resource,
		ResourceID:   &target,
		Details:      details,
		IPAddress:    clientIP(r),
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		logger.Warn("audit write failed", "action", action, "resource_type", resource, "resource_id", target, "error", err)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*identity.User, bool) {
	u, ok := ctx.Value(userKey).(*identity.User)
	return u, ok && u != nil
}

func actorFromContext(ctx context.Context) (appointment.Actor, bool) {
	u, ok := UserFromContext(ctx)
	if !ok {
		return appointment.Actor{}, false
	}
	return appointment.Actor{ID: u.ID, Role: u.Role}, true
}

// RequireRole lets through users holding one of roles. Admins always pass.
func RequireRole(roles ...identity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := UserFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "")
				return
			}
			if u.Role != identity.RoleAdmin && !slices.Contains(roles, u.Role) {
				writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
