package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/rede-afiliados/api/internal/domain"
	pfirestore "github.com/rede-afiliados/api/internal/platform/firestore"
	"github.com/rede-afiliados/api/internal/repositories"
)

// ProfileRepository persists profiles and their nickname claims. Nickname uniqueness is
// enforced by a nicknames/{lowercase} claim document written in the same transaction.
type ProfileRepository struct {
	provider *pfirestore.Provider
}

// NewProfileRepository constructs a Firestore-backed profile repository.
func NewProfileRepository(provider *pfirestore.Provider) (*ProfileRepository, error) {
	if provider == nil {
		return nil, errors.New("profile repository requires firestore provider")
	}
	return &ProfileRepository{provider: provider}, nil
}

func (r *ProfileRepository) client(ctx context.Context) (*firestore.Client, error) {
	return r.provider.Client(ctx)
}

func (r *ProfileRepository) Insert(ctx context.Context, profile domain.Profile) error {
	client, err := r.client(ctx)
	if err != nil {
		return err
	}
	doc := fromDomainProfile(profile)
	var txErr error
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		txErr = nil
		if doc.NicknameLower != "" {
			claim := client.Collection(nicknamesCollection).Doc(doc.NicknameLower)
			if _, err := tx.Get(claim); err == nil {
				txErr = repositories.NewConflictError("profiles.insert", "nickname %q taken", profile.Nickname)
				return txErr
			} else if !repositories.IsNotFound(pfirestore.WrapError("profiles.insert", err)) {
				return err
			}
			if err := tx.Create(claim, nicknameDocument{ProfileID: profile.ID, ClaimedAt: profile.CreatedAt.UTC()}); err != nil {
				return err
			}
		}
		return tx.Create(client.Collection(profilesCollection).Doc(profile.ID), doc)
	})
	if txErr != nil {
		return txErr
	}
	if repositories.IsConflict(err) {
		return repositories.NewConflictError("profiles.insert", "profile %s exists", profile.ID)
	}
	return err
}

func (r *ProfileRepository) FindByID(ctx context.Context, profileID string) (domain.Profile, error) {
	client, err := r.client(ctx)
	if err != nil {
		return domain.Profile{}, err
	}
	snap, err := client.Collection(profilesCollection).Doc(profileID).Get(ctx)
	if err != nil {
		return domain.Profile{}, notFound(err, "profiles.find", "profile %s", profileID)
	}
	return decodeProfile(snap)
}

// FindByReferralHandle resolves a nickname (case-insensitive) first and falls back to the referral code.
func (r *ProfileRepository) FindByReferralHandle(ctx context.Context, handle string) (domain.Profile, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return domain.Profile{}, repositories.NewNotFoundError("profiles.handle", "empty referral handle")
	}
	client, err := r.client(ctx)
	if err != nil {
		return domain.Profile{}, err
	}
	profiles := client.Collection(profilesCollection)

	byNickname, err := collect(ctx, "profiles.handle", profiles.Where("nicknameLower", "==", lower(handle)).Limit(1), decodeProfile)
	if err != nil {
		return domain.Profile{}, err
	}
	if len(byNickname) > 0 {
		return byNickname[0], nil
	}

	codes := uniqueStrings(handle, strings.ToUpper(handle), strings.ToLower(handle))
	byCode, err := collect(ctx, "profiles.handle", profiles.Where("referralCode", "in", codes).Limit(1), decodeProfile)
	if err != nil {
		return domain.Profile{}, err
	}
	if len(byCode) > 0 {
		return byCode[0], nil
	}
	return domain.Profile{}, repositories.NewNotFoundError("profiles.handle", "referral handle %q", handle)
}

func (r *ProfileRepository) UpdateSettings(ctx context.Context, profileID string, update repositories.ProfileSettingsUpdate) (domain.Profile, error) {
	client, err := r.client(ctx)
	if err != nil {
		return domain.Profile{}, err
	}
	ref := client.Collection(profilesCollection).Doc(profileID)

	updates := []firestore.Update{{Path: "updatedAt", Value: update.UpdatedAt.UTC()}}
	if update.FullName != nil {
		updates = append(updates, firestore.Update{Path: "fullName", Value: *update.FullName})
	}
	if update.PixKey != nil {
		updates = append(updates, firestore.Update{Path: "pixKey", Value: *update.PixKey})
	}
	if update.AvatarPath != nil {
		updates = append(updates, firestore.Update{Path: "avatarPath", Value: *update.AvatarPath})
	}
	if update.Role != nil {
		updates = append(updates, firestore.Update{Path: "role", Value: string(*update.Role)})
	}
	if update.InvoiceLimit != nil {
		updates = append(updates, firestore.Update{Path: "invoiceLimit", Value: *update.InvoiceLimit})
	}
	if update.InvoiceDueDay != nil {
		updates = append(updates, firestore.Update{Path: "invoiceDueDay", Value: int64(*update.InvoiceDueDay)})
	}

	if _, err := ref.Update(ctx, updates, firestore.Exists); err != nil {
		return domain.Profile{}, notFound(err, "profiles.update", "profile %s", profileID)
	}
	return r.FindByID(ctx, profileID)
}

// ClaimNickname moves the profile's nickname claim, releasing the previous one.
func (r *ProfileRepository) ClaimNickname(ctx context.Context, profileID, nickname string, now time.Time) error {
	client, err := r.client(ctx)
	if err != nil {
		return err
	}
	key := lower(nickname)
	var txErr error
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		txErr = nil
		profileRef := client.Collection(profilesCollection).Doc(profileID)
		snap, err := tx.Get(profileRef)
		if err != nil {
			txErr = notFound(err, "profiles.nickname", "profile %s", profileID)
			return txErr
		}
		var current profileDocument
		if err := snap.DataTo(&current); err != nil {
			return err
		}

		claimRef := client.Collection(nicknamesCollection).Doc(key)
		claimSnap, err := tx.Get(claimRef)
		switch {
		case err == nil:
			var claim nicknameDocument
			if err := claimSnap.DataTo(&claim); err != nil {
				return err
			}
			if claim.ProfileID != profileID {
				txErr = repositories.NewConflictError("profiles.nickname", "nickname %q taken", nickname)
				return txErr
			}
		case repositories.IsNotFound(pfirestore.WrapError("profiles.nickname", err)):
		default:
			return err
		}

		if current.NicknameLower != "" && current.NicknameLower != key {
			if err := tx.Delete(client.Collection(nicknamesCollection).Doc(current.NicknameLower)); err != nil {
				return err
			}
		}
		if err := tx.Set(claimRef, nicknameDocument{ProfileID: profileID, ClaimedAt: now.UTC()}); err != nil {
			return err
		}
		return tx.Update(profileRef, []firestore.Update{
			{Path: "nickname", Value: nickname},
			{Path: "nicknameLower", Value: key},
			{Path: "updatedAt", Value: now.UTC()},
		})
	})
	if txErr != nil {
		return txErr
	}
	return err
}

func (r *ProfileRepository) List(ctx context.Context, filter repositories.ProfileListFilter) (domain.CursorPage[domain.Profile], error) {
	client, err := r.client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Profile]{}, err
	}
	query := client.Collection(profilesCollection).Query
	if filter.Role != nil {
		query = query.Where("role", "==", string(*filter.Role))
	}
	return pageNewestFirst(ctx, "profiles.list", query, filter.Pagination, func(snap *firestore.DocumentSnapshot) (domain.Profile, time.Time, error) {
		profile, err := decodeProfile(snap)
		return profile, profile.CreatedAt, err
	})
}

func (r *ProfileRepository) ListReferrals(ctx context.Context, referrerID string) ([]domain.Profile, error) {
	client, err := r.client(ctx)
	if err != nil {
		return nil, err
	}
	query := client.Collection(profilesCollection).
		Where("referredBy", "==", referrerID).
		OrderBy("createdAt", firestore.Desc)
	return collect(ctx, "profiles.referrals", query, decodeProfile)
}

func (r *ProfileRepository) Count(ctx context.Context) (int, error) {
	client, err := r.client(ctx)
	if err != nil {
		return 0, err
	}
	return count(ctx, "profiles.count", client.Collection(profilesCollection).Query)
}

// Delete removes the profile together with its nickname claim.
func (r *ProfileRepository) Delete(ctx context.Context, profileID string) error {
	client, err := r.client(ctx)
	if err != nil {
		return err
	}
	var txErr error
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		txErr = nil
		ref := client.Collection(profilesCollection).Doc(profileID)
		snap, err := tx.Get(ref)
		if err != nil {
			txErr = notFound(err, "profiles.delete", "profile %s", profileID)
			return txErr
		}
		var doc profileDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.NicknameLower != "" {
			if err := tx.Delete(client.Collection(nicknamesCollection).Doc(doc.NicknameLower)); err != nil {
				return err
			}
		}
		return tx.Delete(ref)
	})
	if txErr != nil {
		return txErr
	}
	return err
}

func decodeProfile(snap *firestore.DocumentSnapshot) (domain.Profile, error) {
	var doc profileDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Profile{}, err
	}
	return doc.toDomain(snap.Ref.ID), nil
}

func uniqueStrings(values ...string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
