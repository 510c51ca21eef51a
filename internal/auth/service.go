package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"redis-chat/internal/config"
	"redis-chat/internal/database"
	"redis-chat/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// bcryptCost matches hashes already stored in user:{id} records.
const bcryptCost = 10

// RoomJoiner is the slice of the room directory registration needs.
type RoomJoiner interface {
	AddMember(ctx context.Context, userID models.UserID, roomID string) error
}

type Service struct {
	users database.UserRepository
	rooms RoomJoiner
	cfg   config.JWTConfig
}

func NewService(users database.UserRepository, rooms RoomJoiner, cfg config.JWTConfig) *Service {
	return &Service{
		users: users,
		rooms: rooms,
		cfg:   cfg,
	}
}

// Register creates a user and makes it a member of the General room.
func (s *Service) Register(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if err := validateCredentials(username, password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, username, hash)
	if err != nil {
		return nil, err
	}

	if err := s.rooms.AddMember(ctx, user.ID, models.GeneralRoomID); err != nil {
		return nil, fmt.Errorf("failed to join %s room: %w", models.GeneralRoomName, err)
	}

	return user.Public(), nil
}

// VerifyCredentials returns the user when the password matches.
func (s *Service) VerifyCredentials(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, models.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return nil, models.ErrInvalidCredentials
	}

	return user.Public(), nil
}

// Login verifies an existing user or registers a new one on first sight of
// the username, then issues a token.
func (s *Service) Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error) {
	user, err := s.VerifyCredentials(ctx, req.Username, req.Password)
	if errors.Is(err, models.ErrInvalidCredentials) {
		_, lookupErr := s.users.GetUserByUsername(ctx, strings.TrimSpace(req.Username))
		if errors.Is(lookupErr, models.ErrUserNotFound) {
			user, err = s.Register(ctx, req.Username, req.Password)
		}
	}
	if err != nil {
		return nil, err
	}

	token, err := s.GenerateToken(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &models.LoginResponse{ID: user.ID, Username: user.Username, Token: token}, nil
}

func (s *Service) GetUser(ctx context.Context, id models.UserID) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return user.Public(), nil
}

func (s *Service) ValidateToken(tokenString string) (*jwt.RegisteredClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.cfg.Secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*jwt.RegisteredClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

func (s *Service) GetUserFromToken(ctx context.Context, tokenString string) (*models.User, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrUnauthenticated, err)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid user ID in token", models.ErrUnauthenticated)
	}

	return s.GetUser(ctx, models.UserID(id))
}

func (s *Service) GenerateToken(user *models.User) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   user.ID.String(),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.ExpiresIn)),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.cfg.Secret)
}

func validateCredentials(username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("%w: missing required fields", models.ErrInvalidCredentials)
	}
	if len(username) > 30 {
		return fmt.Errorf("%w: username must be at most 30 characters long", models.ErrInvalidCredentials)
	}
	if strings.ContainsAny(username, ": ") {
		return fmt.Errorf("%w: username must not contain spaces or colons", models.ErrInvalidCredentials)
	}
	return nil
}
