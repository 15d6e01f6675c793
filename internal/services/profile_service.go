package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/oklog/ulid/v2"

	domain "github.com/rede-afiliados/api/internal/domain"
	pstorage "github.com/rede-afiliados/api/internal/platform/storage"
	"github.com/rede-afiliados/api/internal/repositories"
)

const (
	referralCodeLength = 8
	minNicknameLength  = 3
	maxNicknameLength  = 40
	networkWithdrawals = 20
)

var (
	// ErrProfileInvalidInput signals the caller provided invalid data.
	ErrProfileInvalidInput = errors.New("profile: invalid input")
	// ErrProfileNotFound indicates the profile could not be located.
	ErrProfileNotFound = errors.New("profile: not found")
	// ErrProfileNicknameTaken indicates another profile already holds the nickname.
	ErrProfileNicknameTaken = errors.New("profile: nickname already in use")
	// ErrProfileUploadUnavailable indicates object storage is not configured.
	ErrProfileUploadUnavailable = errors.New("profile: uploads unavailable")
)

// ProfileServiceDeps bundles collaborators for the profile service.
type ProfileServiceDeps struct {
	Profiles    repositories.ProfileRepository
	Withdrawals repositories.WithdrawalRepository
	Uploads     UploadSigner
	// PublicBaseURL is the dashboard origin used to build referral links.
	PublicBaseURL string
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type profileService struct {
	profiles    repositories.ProfileRepository
	withdrawals repositories.WithdrawalRepository
	uploads     UploadSigner
	baseURL     string
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

// NewProfileService constructs the self-service profile service.
func NewProfileService(deps ProfileServiceDeps) (ProfileService, error) {
	if deps.Profiles == nil {
		return nil, errors.New("profile service: profile repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &profileService{
		profiles:    deps.Profiles,
		withdrawals: deps.Withdrawals,
		uploads:     deps.Uploads,
		baseURL:     strings.TrimRight(strings.TrimSpace(deps.PublicBaseURL), "/"),
		clock:       func() time.Time { return clock().UTC() },
		newID:       idGen,
		logger:      logger,
	}, nil
}

// EnsureProfile returns the caller's profile, creating it on first sight. The
// referral handle is only honoured at creation time.
func (s *profileService) EnsureProfile(ctx context.Context, cmd EnsureProfileCommand) (Profile, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Profile{}, fmt.Errorf("%w: user id is required", ErrProfileInvalidInput)
	}
	existing, err := s.profiles.FindByID(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !repositories.IsNotFound(err) {
		return Profile{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	profile := Profile{
		ID:           userID,
		Email:        strings.TrimSpace(cmd.Email),
		FullName:     sanitizeText(cmd.FullName, 160),
		ReferralCode: s.referralCode(),
		Role:         domain.RoleAffiliate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if handle := strings.TrimSpace(cmd.ReferralHandle); handle != "" {
		referrer, err := s.profiles.FindByReferralHandle(ctx, handle)
		switch {
		case err == nil && referrer.ID != userID:
			profile.ReferredBy = referrer.ID
		case err == nil:
			s.logger(ctx, "profile.referral.self", map[string]any{"userId": userID})
		case repositories.IsNotFound(err):
			s.logger(ctx, "profile.referral.unknown", map[string]any{"userId": userID, "handle": handle})
		default:
			return Profile{}, s.mapRepositoryError(err)
		}
	}

	if err := s.profiles.Insert(ctx, profile); err != nil {
		if repositories.IsConflict(err) {
			// created concurrently by another request
			return s.Get(ctx, userID)
		}
		return Profile{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "profile.created", map[string]any{"userId": userID, "referredBy": profile.ReferredBy})
	return profile, nil
}

func (s *profileService) Get(ctx context.Context, profileID string) (Profile, error) {
	profileID = strings.TrimSpace(profileID)
	if profileID == "" {
		return Profile{}, fmt.Errorf("%w: profile id is required", ErrProfileInvalidInput)
	}
	profile, err := s.profiles.FindByID(ctx, profileID)
	if err != nil {
		return Profile{}, s.mapRepositoryError(err)
	}
	return profile, nil
}

func (s *profileService) UpdateSettings(ctx context.Context, cmd UpdateProfileCommand) (Profile, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Profile{}, fmt.Errorf("%w: user id is required", ErrProfileInvalidInput)
	}
	update := repositories.ProfileSettingsUpdate{UpdatedAt: s.clock()}
	if cmd.FullName != nil {
		name := sanitizeText(*cmd.FullName, 160)
		if name == "" {
			return Profile{}, fmt.Errorf("%w: full name cannot be empty", ErrProfileInvalidInput)
		}
		update.FullName = &name
	}
	if cmd.PixKey != nil {
		pix := sanitizeText(*cmd.PixKey, 140)
		update.PixKey = &pix
	}
	profile, err := s.profiles.UpdateSettings(ctx, userID, update)
	if err != nil {
		return Profile{}, s.mapRepositoryError(err)
	}
	return profile, nil
}

// SetNickname normalises the nickname into a URL slug and claims it.
func (s *profileService) SetNickname(ctx context.Context, cmd SetNicknameCommand) (Profile, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Profile{}, fmt.Errorf("%w: user id is required", ErrProfileInvalidInput)
	}
	nickname := normalizeNickname(cmd.Nickname)
	if len(nickname) < minNicknameLength || len(nickname) > maxNicknameLength {
		return Profile{}, fmt.Errorf("%w: nickname must be %d-%d characters", ErrProfileInvalidInput, minNicknameLength, maxNicknameLength)
	}
	if err := s.profiles.ClaimNickname(ctx, userID, nickname, s.clock()); err != nil {
		if repositories.IsConflict(err) {
			return Profile{}, fmt.Errorf("%w: %s", ErrProfileNicknameTaken, nickname)
		}
		return Profile{}, s.mapRepositoryError(err)
	}
	return s.Get(ctx, userID)
}

func (s *profileService) Network(ctx context.Context, profileID string) (NetworkOverview, error) {
	profile, err := s.Get(ctx, profileID)
	if err != nil {
		return NetworkOverview{}, err
	}
	referrals, err := s.profiles.ListReferrals(ctx, profile.ID)
	if err != nil {
		return NetworkOverview{}, s.mapRepositoryError(err)
	}
	overview := NetworkOverview{
		Profile:      profile,
		ReferralLink: s.referralLink(profile),
		Referrals:    referrals,
	}
	if s.withdrawals != nil {
		page, err := s.withdrawals.List(ctx, repositories.WithdrawalListFilter{
			UserID:     profile.ID,
			Pagination: Pagination{PageSize: networkWithdrawals},
		})
		if err != nil {
			return NetworkOverview{}, s.mapRepositoryError(err)
		}
		overview.Withdrawals = page.Items
	}
	return overview, nil
}

// AvatarUploadURL signs an avatar upload and points the profile at the new object.
func (s *profileService) AvatarUploadURL(ctx context.Context, cmd AvatarUploadCommand) (SignedUpload, error) {
	if s.uploads == nil {
		return SignedUpload{}, ErrProfileUploadUnavailable
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return SignedUpload{}, fmt.Errorf("%w: user id is required", ErrProfileInvalidInput)
	}
	ext := strings.ToLower(path.Ext(strings.TrimSpace(cmd.FileName)))
	if ext == "" {
		return SignedUpload{}, fmt.Errorf("%w: file name needs an extension", ErrProfileInvalidInput)
	}
	upload, err := s.uploads.SignUpload(ctx, pstorage.PurposeAvatar, pstorage.PathParams{
		OwnerID:  userID,
		FileName: "avatar" + ext,
	}, cmd.ContentType)
	if err != nil {
		return SignedUpload{}, fmt.Errorf("%w: %v", ErrProfileInvalidInput, err)
	}
	avatar := upload.PublicURL
	if _, err := s.profiles.UpdateSettings(ctx, userID, repositories.ProfileSettingsUpdate{
		AvatarPath: &avatar,
		UpdatedAt:  s.clock(),
	}); err != nil {
		return SignedUpload{}, s.mapRepositoryError(err)
	}
	return upload, nil
}

func (s *profileService) referralLink(profile Profile) string {
	handle := profile.Nickname
	if handle == "" {
		handle = profile.ReferralCode
	}
	return s.baseURL + "/register?ref=" + url.QueryEscape(handle)
}

func (s *profileService) referralCode() string {
	id := strings.ToUpper(s.newID())
	if len(id) > referralCodeLength {
		id = id[len(id)-referralCodeLength:]
	}
	return id
}

func normalizeNickname(raw string) string {
	return slug.Make(strings.TrimSpace(raw))
}

func (s *profileService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrProfileNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrProfileNicknameTaken, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("profile: repository unavailable: %w", err)
		}
	}
	return err
}
