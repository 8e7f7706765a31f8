package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/secure/precis"

	"github.com/metta-portal/metta-portal/internal/audit"
	"github.com/metta-portal/metta-portal/internal/session"
	"github.com/metta-portal/metta-portal/internal/shared"
)

// Service wraps the authentication business rules: credential
// verification, donator self-registration, logout, and password rotation.
type Service struct {
	repo        Repository
	sessions    *session.Manager
	audit       *audit.Recorder
	logger      *slog.Logger
	validate    *validator.Validate
	minPassword int
	now         func() time.Time
}

// NewService constructs a Service. minPassword is the configured minimum
// password length.
func NewService(repo Repository, sessions *session.Manager, recorder *audit.Recorder, logger *slog.Logger, minPassword int) *Service {
	return &Service{
		repo:        repo,
		sessions:    sessions,
		audit:       recorder,
		logger:      logger,
		validate:    validator.New(),
		minPassword: minPassword,
		now:         time.Now,
	}
}

// WithClock overrides time acquisition, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Login verifies credentials inside the claimed role's partition and mints
// a session on success. Absent principal, deactivated principal, and wrong
// password all collapse into ErrInvalidCredentials so the response carries
// no enumeration signal.
func (s *Service) Login(ctx context.Context, loginName, password string, role shared.Role, meta RequestMeta) (*Principal, session.Session, error) {
	login, err := normalizeLogin(loginName)
	if err != nil {
		return nil, session.Session{}, s.rejectLogin(ctx, role, 0, loginName, err, meta)
	}
	principal, err := s.repo.FindByLoginOrEmail(ctx, role, login)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			// Infrastructure failure, not a credential problem. Surfaces as
			// an outage to the caller rather than a 401.
			s.logger.Error("lookup principal", slog.Any("error", err))
			s.recordLoginAttempt(ctx, role, 0, login, false, err, meta)
			return nil, session.Session{}, err
		}
		return nil, session.Session{}, s.rejectLogin(ctx, role, 0, login, shared.ErrPrincipalNotFound, meta)
	}
	if !principal.Active {
		return nil, session.Session{}, s.rejectLogin(ctx, role, principal.ID, login, shared.ErrAccountDeactivated, meta)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(principal.PasswordHash), []byte(password)); err != nil {
		return nil, session.Session{}, s.rejectLogin(ctx, role, principal.ID, login, shared.ErrPasswordMismatch, meta)
	}

	sess, err := s.sessions.Create(ctx, role, principal.ID, meta.IP, meta.UserAgent)
	if err != nil {
		s.recordLoginAttempt(ctx, role, principal.ID, login, false, err, meta)
		return nil, session.Session{}, err
	}
	if err := s.repo.TouchLastSeen(ctx, role, principal.ID, s.now().UTC()); err != nil {
		s.logger.Warn("touch last seen", slog.Any("error", err))
	}
	s.recordLoginAttempt(ctx, role, principal.ID, login, true, nil, meta)
	s.audit.Record(ctx, audit.Event{
		ActorRole: role,
		ActorID:   principal.ID,
		Action:    audit.ActionSessionCreate,
		Entity:    "session",
		EntityID:  sess.Token,
		After:     map[string]any{"role": role.String(), "principal_id": principal.ID},
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	return principal, sess, nil
}

// RegisterDonator creates a donator principal. The audit payload is
// scrubbed: neither the raw nor the hashed password ever reaches the trail.
func (s *Service) RegisterDonator(ctx context.Context, form DonatorRegistration, meta RequestMeta) (int64, error) {
	if err := s.validate.Struct(form); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				if fe.Field() == "Email" && fe.Tag() == "email" {
					return 0, shared.ErrInvalidEmail
				}
			}
		}
		return 0, err
	}
	if len(form.Password) < s.minPassword {
		return 0, shared.ErrWeakPassword
	}
	login, err := normalizeLogin(form.LoginName)
	if err != nil {
		return 0, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(form.Password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	id, err := s.repo.InsertDonator(ctx, Principal{
		Role:         shared.RoleDonator,
		LoginName:    login,
		Email:        form.Email,
		PasswordHash: string(hash),
		DisplayName:  form.DisplayName,
		Active:       true,
	})
	if err != nil {
		return 0, err
	}
	s.audit.Record(ctx, audit.Event{
		ActorRole: shared.RoleDonator,
		ActorID:   id,
		Action:    audit.ActionRegister,
		Entity:    "donator",
		EntityID:  strconv.FormatInt(id, 10),
		After: map[string]any{
			"login_name":   login,
			"email":        form.Email,
			"display_name": form.DisplayName,
		},
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	return id, nil
}

// Logout ends the session. Missing or already-ended sessions are not an
// error, so a double logout observes the same state as a single one.
func (s *Service) Logout(ctx context.Context, token string, meta RequestMeta) error {
	if err := s.sessions.End(ctx, token, session.EndedLoggedOut); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{
		Action:    audit.ActionLogout,
		Entity:    "session",
		EntityID:  token,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	return nil
}

// LogoutAll ends every session the actor holds except the current one and
// leaves a single trail entry carrying the count.
func (s *Service) LogoutAll(ctx context.Context, actor shared.IdentityContext, meta RequestMeta) (int64, error) {
	ended, err := s.sessions.TerminateOthers(ctx, actor.Role, actor.PrincipalID, actor.SessionToken, session.EndedLoggedOut)
	if err != nil {
		return 0, err
	}
	s.audit.Record(ctx, audit.Event{
		ActorRole: actor.Role,
		ActorID:   actor.PrincipalID,
		Action:    audit.ActionTerminateOther,
		Entity:    "session",
		EntityID:  actor.SessionToken,
		After:     map[string]any{"ended": ended},
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	return ended, nil
}

// TerminateSession force-ends an arbitrary session on behalf of an
// administrator, recording who pulled the switch and which session died.
func (s *Service) TerminateSession(ctx context.Context, actor shared.IdentityContext, token string, meta RequestMeta) error {
	if err := s.sessions.Terminate(ctx, token); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{
		ActorRole: actor.Role,
		ActorID:   actor.PrincipalID,
		Action:    audit.ActionTerminate,
		Entity:    "session",
		EntityID:  token,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	return nil
}

// ChangePassword re-verifies the current password before accepting the new
// one. The old password keeps working until the new one is stored.
func (s *Service) ChangePassword(ctx context.Context, role shared.Role, principalID int64, current, next string, meta RequestMeta) error {
	principal, err := s.repo.FindByID(ctx, role, principalID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.ErrPrincipalNotFound
		}
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(principal.PasswordHash), []byte(current)); err != nil {
		return shared.ErrPasswordMismatch
	}
	if len(next) < s.minPassword {
		return shared.ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, role, principalID, string(hash)); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{
		ActorRole: role,
		ActorID:   principalID,
		Action:    audit.ActionPasswordChange,
		Entity:    role.String(),
		EntityID:  strconv.FormatInt(principalID, 10),
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	return nil
}

// rejectLogin records the failed attempt with its true cause in the trail,
// then collapses the caller-visible error into ErrInvalidCredentials so the
// response carries no enumeration signal.
func (s *Service) rejectLogin(ctx context.Context, role shared.Role, principalID int64, login string, cause error, meta RequestMeta) error {
	s.recordLoginAttempt(ctx, role, principalID, login, false, cause, meta)
	return shared.ErrInvalidCredentials
}

func (s *Service) recordLoginAttempt(ctx context.Context, role shared.Role, principalID int64, login string, success bool, cause error, meta RequestMeta) {
	after := map[string]any{"success": success}
	if cause != nil {
		after["cause"] = cause.Error()
	}
	s.audit.Record(ctx, audit.Event{
		ActorRole: role,
		ActorID:   principalID,
		Action:    audit.ActionLoginAttempt,
		Entity:    role.String(),
		EntityID:  login,
		After:     after,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
}

// normalizeLogin canonicalizes a submitted login name with the PRECIS
// UsernameCaseMapped profile so lookups are case and width insensitive.
// Email-shaped input is passed through lowered by the same profile.
func normalizeLogin(raw string) (string, error) {
	normalized, err := precis.UsernameCaseMapped.String(raw)
	if err != nil {
		return "", fmt.Errorf("normalize login: %w", err)
	}
	return normalized, nil
}
