package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/genmed/genmed/internal/platform/auth"
	"github.com/genmed/genmed/internal/platform/db"
	"github.com/genmed/genmed/internal/platform/validation"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotFound           = errors.New("user not found")
)

// AuthRecorder counts authentication outcomes.
type AuthRecorder interface {
	AuthAttempt(method, status string)
}

type nopRecorder struct{}

func (nopRecorder) AuthAttempt(string, string) {}

// dummyPassword is hashed once at startup so logins for unknown emails
// still pay for one bcrypt comparison.
const dummyPassword = "genmed-timing-equalizer"

type Service struct {
	repo      Repository
	tx        db.TxRunner
	hasher    *auth.PasswordHasher
	tokens    *auth.TokenService
	recorder  AuthRecorder
	logger    zerolog.Logger
	dummyHash string
}

func NewService(repo Repository, tx db.TxRunner, hasher *auth.PasswordHasher, tokens *auth.TokenService, recorder AuthRecorder, logger zerolog.Logger) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	dummy, err := hasher.Hash(dummyPassword)
	if err != nil {
		logger.Warn().Err(err).Msg("could not prepare dummy password hash")
	}
	return &Service{
		repo:      repo,
		tx:        tx,
		hasher:    hasher,
		tokens:    tokens,
		recorder:  recorder,
		logger:    logger.With().Str("component", "users").Logger(),
		dummyHash: dummy,
	}
}

// Register creates a user. No token is issued.
func (s *Service) Register(ctx context.Context, req RegisterRequest) error {
	req.Email = NormalizeEmail(req.Email)
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	if err := validation.Struct(req); err != nil {
		s.recorder.AuthAttempt("register", "invalid")
		return fmt.Errorf("%w: %s", ErrValidation, err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		s.recorder.AuthAttempt("register", "invalid")
		return fmt.Errorf("%w: password must be at most %d bytes", ErrValidation, auth.MaxPasswordBytes)
	}
	if err != nil {
		return err
	}

	u := &User{Email: req.Email, PasswordHash: hash, Role: req.Role}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		_, err := s.repo.GetByEmail(ctx, u.Email)
		switch {
		case err == nil:
			return ErrEmailTaken
		case !errors.Is(err, ErrNotFound):
			return fmt.Errorf("lookup user: %w", err)
		}
		return s.repo.Create(ctx, u)
	})
	if errors.Is(err, ErrEmailTaken) {
		s.recorder.AuthAttempt("register", "conflict")
		return ErrEmailTaken
	}
	if err != nil {
		return err
	}

	s.recorder.AuthAttempt("register", "success")
	s.logger.Info().Str("email", u.Email).Str("role", u.Role).Msg("user registered")
	return nil
}

// Login checks credentials and issues a bearer token. Unknown emails and
// wrong passwords fail identically.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	req.Email = NormalizeEmail(req.Email)
	if err := validation.Struct(req); err != nil {
		s.recorder.AuthAttempt("login", "invalid")
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	u, err := s.repo.GetByEmail(ctx, req.Email)
	if errors.Is(err, ErrNotFound) {
		s.hasher.Verify(req.Password, s.dummyHash)
		s.recorder.AuthAttempt("login", "failure")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !s.hasher.Verify(req.Password, u.PasswordHash) {
		s.recorder.AuthAttempt("login", "failure")
		return nil, ErrInvalidCredentials
	}

	if s.hasher.NeedsRehash(u.PasswordHash) {
		s.rehash(ctx, u.Email, req.Password)
	}

	token, _, err := s.tokens.Issue(u.Email)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	s.recorder.AuthAttempt("login", "success")
	return &TokenResponse{AccessToken: token, TokenType: "bearer"}, nil
}

// rehash upgrades a stored hash to the current cost. Failures only cost
// the upgrade, never the login.
func (s *Service) rehash(ctx context.Context, email, password string) {
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.repo.UpdatePasswordHash(ctx, email, hash)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("email", email).Msg("password rehash failed")
		return
	}
	s.logger.Info().Str("email", email).Msg("password hash upgraded")
}

// ResolvePrincipal implements auth.UserResolver.
func (s *Service) ResolvePrincipal(ctx context.Context, email string) (auth.Principal, error) {
	u, err := s.repo.GetByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return auth.Principal{}, auth.ErrUserNotFound
	}
	if err != nil {
		return auth.Principal{}, err
	}
	return auth.Principal{Email: u.Email, Role: u.Role}, nil
}
