package user

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"go-chat-sync/internal/auth"
)

const tokenTTL = 24 * time.Hour

// store is the slice of Repository the service uses.
type store interface {
	CreateUser(ctx context.Context, user *User) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	SearchUsers(ctx context.Context, query string) ([]User, error)
}

type Service struct {
	repo      store
	jwtSecret string
}

func NewService(repo store, secret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: secret,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*RegisterRequest, error) {
	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	u := &User{
		Username: req.Username,
		Password: string(hashedPwd),
	}

	if _, err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	return &RegisterRequest{Username: u.Username}, nil
}

func (s *Service) Login(ctx context.Context, req *RegisterRequest) (*LoginResponse, error) {
	u, err := s.repo.GetUserByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, err
	}

	ss, err := auth.Issue(s.jwtSecret, u.ID, u.Username, tokenTTL)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken: ss,
		ID:          u.ID,
		Username:    u.Username,
	}, nil
}

// ValidateToken satisfies the auth middleware.
func (s *Service) ValidateToken(tokenString string) (int64, string, error) {
	return auth.Validate(s.jwtSecret, tokenString)
}

func (s *Service) Profile(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetUserByID(ctx, id)
}

func (s *Service) SearchUsers(ctx context.Context, query string) ([]User, error) {
	return s.repo.SearchUsers(ctx, query)
}
