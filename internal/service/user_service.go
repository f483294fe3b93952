package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"speakroom/internal/domain"
	"speakroom/internal/password"
	"speakroom/internal/repository"
)

const (
	MinUsernameLength = 3
	MinPasswordLength = 4
)

// Account describes a user that must exist before anyone logs in.
type Account struct {
	Username    string
	Password    string
	Role        domain.Role
	DisplayName string
}

// DefaultAccounts returns the built-in teacher and demo student.
func DefaultAccounts(teacherPassword, studentPassword string) []Account {
	return []Account{
		{Username: "teacher", Password: teacherPassword, Role: domain.RoleTeacher, DisplayName: "Teacher"},
		{Username: "student", Password: studentPassword, Role: domain.RoleStudent, DisplayName: "Student"},
	}
}

// NewStudent is a teacher's request to open a student account.
type NewStudent struct {
	Username    string
	Password    string
	DisplayName string
}

// UserService describes account lifecycle operations.
type UserService interface {
	// Bootstrap creates the built-in accounts if absent. Existing rows are never touched.
	Bootstrap(ctx context.Context) error
	Authenticate(ctx context.Context, username, password string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	CreateStudent(ctx context.Context, req NewStudent) (*domain.User, error)
	CountByRole(ctx context.Context, role domain.Role) (int, error)
	ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error)
}

type userService struct {
	users    repository.UserRepository
	hasher   password.Hasher
	accounts []Account
	logger   logrus.FieldLogger

	dummyOnce sync.Once
	dummyHash string
}

func NewUserService(users repository.UserRepository, hasher password.Hasher, accounts []Account, logger logrus.FieldLogger) UserService {
	if logger == nil {
		logger = logrus.New()
	}
	return &userService{
		users:    users,
		hasher:   hasher,
		accounts: accounts,
		logger:   logger,
	}
}

func (s *userService) Bootstrap(ctx context.Context) error {
	for _, acc := range s.accounts {
		if !acc.Role.Valid() {
			return fmt.Errorf("bootstrap %s: %w", acc.Username, domain.ErrInvalidRole)
		}

		_, err := s.users.GetByUsername(ctx, acc.Username)
		if err == nil {
			continue
		}
		if !errors.Is(err, repository.ErrUserNotFound) {
			return fmt.Errorf("bootstrap lookup %s: %w", acc.Username, err)
		}

		hash, err := s.hasher.Hash(acc.Password)
		if err != nil {
			return fmt.Errorf("bootstrap %s: %w", acc.Username, err)
		}
		user := &domain.User{
			Username:     acc.Username,
			PasswordHash: hash,
			Role:         acc.Role,
			DisplayName:  acc.DisplayName,
		}
		inserted, err := s.users.CreateIfAbsent(ctx, user)
		if err != nil {
			return fmt.Errorf("bootstrap %s: %w", acc.Username, err)
		}
		if inserted {
			s.logger.WithFields(logrus.Fields{"username": acc.Username, "role": acc.Role}).Info("created default account")
		}
	}
	return nil
}

func (s *userService) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// burn the same hashing time as a real check
			s.hasher.Verify(password, s.dummy())
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return sanitizeUser(user), nil
}

func (s *userService) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("not a real password")
		if err != nil {
			s.logger.WithError(err).Warn("compute dummy hash")
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func (s *userService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return sanitizeUser(user), nil
}

func (s *userService) CreateStudent(ctx context.Context, req NewStudent) (*domain.User, error) {
	username := strings.TrimSpace(req.Username)
	displayName := strings.TrimSpace(req.DisplayName)

	if utf8.RuneCountInString(username) < MinUsernameLength || utf8.RuneCountInString(req.Password) < MinPasswordLength {
		return nil, &ValidationError{
			Message: fmt.Sprintf("Username >= %d chars, password >= %d chars.", MinUsernameLength, MinPasswordLength),
		}
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Username:     username,
		PasswordHash: hash,
		Role:         domain.RoleStudent,
		DisplayName:  displayName,
	}
	if _, err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUsernameTaken) {
			return nil, ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("create student: %w", err)
	}

	return sanitizeUser(user), nil
}

func (s *userService) CountByRole(ctx context.Context, role domain.Role) (int, error) {
	return s.users.CountByRole(ctx, role)
}

func (s *userService) ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error) {
	users, err := s.users.ListByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].PasswordHash = ""
	}
	return users, nil
}

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	clean := *user
	clean.PasswordHash = ""
	return &clean
}
