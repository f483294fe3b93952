package service

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	"speakroom/internal/domain"
	"speakroom/internal/repository"
	"speakroom/internal/storage"
)

// DefaultMaxAvatarBytes caps avatar uploads at roughly 2.5 MB.
const DefaultMaxAvatarBytes = 2_500_000

var avatarExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"webp": {},
}

// AvatarUpload is an image submitted with the settings form.
// Data may hold one byte more than the cap so oversize files can be detected.
type AvatarUpload struct {
	Filename string
	Data     []byte
}

// Settings is what a student may change about their own profile.
type Settings struct {
	DisplayName string
	Avatar      *AvatarUpload
}

// ProfileService applies student settings changes.
type ProfileService interface {
	UpdateSettings(ctx context.Context, userID int64, settings Settings) (*domain.User, error)
}

type profileService struct {
	users    repository.UserRepository
	store    storage.Service
	maxBytes int
	logger   logrus.FieldLogger
}

func NewProfileService(users repository.UserRepository, store storage.Service, maxBytes int, logger logrus.FieldLogger) ProfileService {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAvatarBytes
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &profileService{
		users:    users,
		store:    store,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

func (s *profileService) UpdateSettings(ctx context.Context, userID int64, settings Settings) (*domain.User, error) {
	displayName := strings.TrimSpace(settings.DisplayName)
	update := domain.ProfileUpdate{DisplayName: &displayName}

	var avatarKey string
	if settings.Avatar != nil && settings.Avatar.Filename != "" {
		ext, err := s.validateAvatar(settings.Avatar)
		if err != nil {
			return nil, err
		}

		current, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return nil, err
		}

		avatarKey = fmt.Sprintf("user-%d.%s", userID, ext)
		contentType := mimetype.Detect(settings.Avatar.Data).String()
		ref, err := s.store.Put(ctx, avatarKey, settings.Avatar.Data, contentType)
		if err != nil {
			return nil, fmt.Errorf("store avatar: %w", err)
		}
		update.AvatarPath = &ref

		if err := s.users.UpdateProfile(ctx, userID, update); err != nil {
			// the row still points at current.AvatarPath; an object under
			// that same reference was overwritten in place and must stay
			if ref != current.AvatarPath {
				if derr := s.store.Delete(ctx, avatarKey); derr != nil {
					s.logger.WithError(derr).WithField("uid", userID).Warn("remove orphaned avatar")
				}
			}
			return nil, fmt.Errorf("update profile: %w", err)
		}
	} else if err := s.users.UpdateProfile(ctx, userID, update); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}

	if avatarKey != "" {
		s.removeStaleAvatars(ctx, userID, avatarKey)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return sanitizeUser(user), nil
}

func (s *profileService) validateAvatar(avatar *AvatarUpload) (string, error) {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(avatar.Filename)), ".")
	if _, ok := avatarExtensions[ext]; !ok {
		return "", &ValidationError{Field: "avatar", Message: "Avatar must be PNG/JPG/WEBP."}
	}
	if len(avatar.Data) > s.maxBytes {
		return "", &ValidationError{Field: "avatar", Message: "Avatar too large (max ~2.5MB)."}
	}
	return ext, nil
}

// removeStaleAvatars drops uploads of the same user stored under another extension.
func (s *profileService) removeStaleAvatars(ctx context.Context, userID int64, keep string) {
	objects, err := s.store.List(ctx, fmt.Sprintf("user-%d.", userID))
	if err != nil {
		s.logger.WithError(err).WithField("uid", userID).Warn("list previous avatars")
		return
	}

	var stale []string
	for _, obj := range objects {
		if obj.Key != keep {
			stale = append(stale, obj.Key)
		}
	}
	if len(stale) == 0 {
		return
	}
	if err := s.store.Delete(ctx, stale...); err != nil {
		s.logger.WithError(err).WithField("uid", userID).Warn("remove previous avatars")
	}
}
