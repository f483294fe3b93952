package service

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speakroom/internal/domain"
	"speakroom/internal/password"
	"speakroom/internal/repository"
	"speakroom/internal/repository/sqlite"
)

// countingRepo records which write paths were reached.
type countingRepo struct {
	repository.UserRepository
	creates         int
	createIfAbsents int
}

func (r *countingRepo) Create(ctx context.Context, user *domain.User) (int64, error) {
	r.creates++
	return r.UserRepository.Create(ctx, user)
}

func (r *countingRepo) CreateIfAbsent(ctx context.Context, user *domain.User) (bool, error) {
	r.createIfAbsents++
	return r.UserRepository.CreateIfAbsent(ctx, user)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testHasher(t *testing.T) password.Hasher {
	t.Helper()
	h, err := password.New(password.Config{Rounds: 1000})
	require.NoError(t, err)
	return h
}

func newRepo(t *testing.T) *countingRepo {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewUserRepository(db)
	require.NoError(t, repo.Init(context.Background()))
	return &countingRepo{UserRepository: repo}
}

func newUserService(t *testing.T) (UserService, *countingRepo) {
	t.Helper()
	repo := newRepo(t)
	svc := NewUserService(repo, testHasher(t), DefaultAccounts("teacher123", "student123"), quietLogger())
	return svc, repo
}

func TestBootstrap_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc, repo := newUserService(t)

	require.NoError(t, svc.Bootstrap(ctx))
	teacher, err := repo.GetByUsername(ctx, "teacher")
	require.NoError(t, err)
	student, err := repo.GetByUsername(ctx, "student")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Bootstrap(ctx))
	}

	teachers, err := repo.CountByRole(ctx, domain.RoleTeacher)
	require.NoError(t, err)
	students, err := repo.CountByRole(ctx, domain.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, 1, teachers)
	assert.Equal(t, 1, students)

	teacherAfter, err := repo.GetByUsername(ctx, "teacher")
	require.NoError(t, err)
	studentAfter, err := repo.GetByUsername(ctx, "student")
	require.NoError(t, err)
	assert.Equal(t, teacher.PasswordHash, teacherAfter.PasswordHash)
	assert.Equal(t, student.PasswordHash, studentAfter.PasswordHash)
	assert.Equal(t, "Teacher", teacherAfter.DisplayName)
	assert.Equal(t, 2, repo.createIfAbsents)
}

func TestBootstrap_KeepsExistingPassword(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	hasher := testHasher(t)

	hash, err := hasher.Hash("changed-by-admin")
	require.NoError(t, err)
	_, err = repo.Create(ctx, &domain.User{Username: "teacher", PasswordHash: hash, Role: domain.RoleTeacher})
	require.NoError(t, err)

	svc := NewUserService(repo, hasher, DefaultAccounts("teacher123", "student123"), quietLogger())
	require.NoError(t, svc.Bootstrap(ctx))

	_, err = svc.Authenticate(ctx, "teacher", "changed-by-admin")
	assert.NoError(t, err)
	_, err = svc.Authenticate(ctx, "teacher", "teacher123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newUserService(t)
	require.NoError(t, svc.Bootstrap(ctx))

	user, err := svc.Authenticate(ctx, "  teacher ", "teacher123")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleTeacher, user.Role)
	assert.Empty(t, user.PasswordHash)

	user, err = svc.Authenticate(ctx, "student", "student123")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleStudent, user.Role)

	_, errUnknown := svc.Authenticate(ctx, "nobody", "student123")
	_, errWrong := svc.Authenticate(ctx, "student", "wrong")
	assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())

	_, err = svc.Authenticate(ctx, "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticate_CorruptStoredHash(t *testing.T) {
	ctx := context.Background()
	svc, repo := newUserService(t)

	_, err := repo.Create(ctx, &domain.User{Username: "broken", PasswordHash: "$pbkdf2-sha256$oops", Role: domain.RoleStudent})
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "broken", "anything")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCreateStudent(t *testing.T) {
	ctx := context.Background()
	svc, repo := newUserService(t)

	user, err := svc.CreateStudent(ctx, NewStudent{Username: " ada ", Password: "pass", DisplayName: " Ada L "})
	require.NoError(t, err)
	assert.Equal(t, "ada", user.Username)
	assert.Equal(t, "Ada L", user.DisplayName)
	assert.Equal(t, domain.RoleStudent, user.Role)
	assert.Empty(t, user.PasswordHash)

	stored, err := repo.GetByUsername(ctx, "ada")
	require.NoError(t, err)
	assert.NotEqual(t, "pass", stored.PasswordHash)

	_, err = svc.Authenticate(ctx, "ada", "pass")
	assert.NoError(t, err)
}

func TestCreateStudent_DuplicateIsConflict(t *testing.T) {
	ctx := context.Background()
	svc, _ := newUserService(t)

	_, err := svc.CreateStudent(ctx, NewStudent{Username: "dup", Password: "pass"})
	require.NoError(t, err)
	_, err = svc.CreateStudent(ctx, NewStudent{Username: "dup", Password: "other"})
	assert.ErrorIs(t, err, ErrUserAlreadyExists)
}

func TestCreateStudent_ValidationBeforeStorage(t *testing.T) {
	ctx := context.Background()
	svc, repo := newUserService(t)

	for _, req := range []NewStudent{
		{Username: "ab", Password: "long-enough"},
		{Username: "  ab  ", Password: "long-enough"},
		{Username: "abc", Password: "123"},
		{Username: "", Password: ""},
	} {
		_, err := svc.CreateStudent(ctx, req)
		require.Error(t, err)
		assert.True(t, IsValidation(err), "request %+v", req)
	}

	assert.Zero(t, repo.creates)
	n, err := repo.CountByRole(ctx, domain.RoleStudent)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListByRole_NewestFirstWithoutHashes(t *testing.T) {
	ctx := context.Background()
	svc, _ := newUserService(t)
	require.NoError(t, svc.Bootstrap(ctx))

	_, err := svc.CreateStudent(ctx, NewStudent{Username: "newest", Password: "pass"})
	require.NoError(t, err)

	students, err := svc.ListByRole(ctx, domain.RoleStudent)
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "newest", students[0].Username)
	for _, s := range students {
		assert.Empty(t, s.PasswordHash)
	}

	n, err := svc.CountByRole(ctx, domain.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
