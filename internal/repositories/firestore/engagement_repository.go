package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/rede-afiliados/api/internal/domain"
	pfirestore "github.com/rede-afiliados/api/internal/platform/firestore"
	"github.com/rede-afiliados/api/internal/repositories"
)

// NotificationRepository persists in-app notifications.
type NotificationRepository struct {
	provider *pfirestore.Provider
}

// NewNotificationRepository constructs a Firestore-backed notification repository.
func NewNotificationRepository(provider *pfirestore.Provider) (*NotificationRepository, error) {
	if provider == nil {
		return nil, errors.New("notification repository requires firestore provider")
	}
	return &NotificationRepository{provider: provider}, nil
}

func (r *NotificationRepository) collection(ctx context.Context) (*firestore.Client, *firestore.CollectionRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Collection(notificationsCollection), nil
}

func (r *NotificationRepository) Insert(ctx context.Context, notification domain.Notification) error {
	_, coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	doc := notificationDocument{
		UserID:    notification.UserID,
		Title:     notification.Title,
		Message:   notification.Message,
		Type:      string(notification.Type),
		Read:      notification.Read,
		CreatedAt: notification.CreatedAt.UTC(),
	}
	if _, err := coll.Doc(notification.ID).Create(ctx, doc); err != nil {
		wrapped := pfirestore.WrapError("notifications.insert", err)
		if repositories.IsConflict(wrapped) {
			return repositories.NewConflictError("notifications.insert", "notification %s exists", notification.ID)
		}
		return wrapped
	}
	return nil
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	_, coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Where("userId", "==", userID).OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	return collect(ctx, "notifications.by_user", query, decodeNotification)
}

func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	_, coll, err := r.collection(ctx)
	if err != nil {
		return 0, err
	}
	return count(ctx, "notifications.unread", coll.Where("userId", "==", userID).Where("read", "==", false))
}

// MarkRead flags one notification as read. Notifications owned by another user report NotFound.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, notificationID string) error {
	_, coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	ref := coll.Doc(notificationID)
	snap, err := ref.Get(ctx)
	if err != nil {
		return notFound(err, "notifications.read", "notification %s", notificationID)
	}
	notification, err := decodeNotification(snap)
	if err != nil {
		return err
	}
	if notification.UserID != userID {
		return repositories.NewNotFoundError("notifications.read", "notification %s", notificationID)
	}
	if notification.Read {
		return nil
	}
	_, err = ref.Update(ctx, []firestore.Update{{Path: "read", Value: true}}, firestore.LastUpdateTime(snap.UpdateTime))
	return pfirestore.WrapError("notifications.read", err)
}

// MarkAllRead flips every unread notification of the user through a BulkWriter.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) (int, error) {
	client, coll, err := r.collection(ctx)
	if err != nil {
		return 0, err
	}
	refs, err := collect(ctx, "notifications.read_all", coll.Where("userId", "==", userID).Where("read", "==", false),
		func(snap *firestore.DocumentSnapshot) (*firestore.DocumentRef, error) { return snap.Ref, nil })
	if err != nil {
		return 0, err
	}
	if len(refs) == 0 {
		return 0, nil
	}

	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := writer.Update(ref, []firestore.Update{{Path: "read", Value: true}})
		if err != nil {
			writer.End()
			return 0, pfirestore.WrapError("notifications.read_all", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	updated := 0
	var firstErr error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		updated++
	}
	if firstErr != nil {
		return updated, pfirestore.WrapError("notifications.read_all", fmt.Errorf("%d of %d updates failed: %w", len(jobs)-updated, len(jobs), firstErr))
	}
	return updated, nil
}

func decodeNotification(snap *firestore.DocumentSnapshot) (domain.Notification, error) {
	var doc notificationDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Notification{}, err
	}
	return domain.Notification{
		ID:        snap.Ref.ID,
		UserID:    doc.UserID,
		Title:     doc.Title,
		Message:   doc.Message,
		Type:      domain.NotificationType(doc.Type),
		Read:      doc.Read,
		CreatedAt: doc.CreatedAt,
	}, nil
}

// SiteRepository persists the landing page settings singleton and gallery assets.
type SiteRepository struct {
	provider *pfirestore.Provider
}

// NewSiteRepository constructs a Firestore-backed site repository.
func NewSiteRepository(provider *pfirestore.Provider) (*SiteRepository, error) {
	if provider == nil {
		return nil, errors.New("site repository requires firestore provider")
	}
	return &SiteRepository{provider: provider}, nil
}

func (r *SiteRepository) GetSettings(ctx context.Context) (domain.SiteSettings, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.SiteSettings{}, err
	}
	snap, err := client.Collection(siteCollection).Doc(siteSettingsDocID).Get(ctx)
	if err != nil {
		return domain.SiteSettings{}, notFound(err, "site.settings", "site settings not configured")
	}
	var doc siteSettingsDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.SiteSettings{}, err
	}
	return doc.toDomain(), nil
}

func (r *SiteRepository) SaveSettings(ctx context.Context, settings domain.SiteSettings) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(siteCollection).Doc(siteSettingsDocID).Set(ctx, fromDomainSiteSettings(settings))
	return pfirestore.WrapError("site.settings.save", err)
}

func (r *SiteRepository) InsertAsset(ctx context.Context, asset domain.SiteAsset) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	doc := siteAssetDocument{Type: asset.Type, URL: asset.URL, CreatedAt: asset.CreatedAt.UTC()}
	_, err = client.Collection(siteAssetsCollection).Doc(asset.ID).Set(ctx, doc)
	return pfirestore.WrapError("site.assets.insert", err)
}

func (r *SiteRepository) ListAssets(ctx context.Context) ([]domain.SiteAsset, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	query := client.Collection(siteAssetsCollection).OrderBy("createdAt", firestore.Desc)
	return collect(ctx, "site.assets.list", query, func(snap *firestore.DocumentSnapshot) (domain.SiteAsset, error) {
		var doc siteAssetDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.SiteAsset{}, err
		}
		return domain.SiteAsset{ID: snap.Ref.ID, Type: doc.Type, URL: doc.URL, CreatedAt: doc.CreatedAt}, nil
	})
}

func (r *SiteRepository) DeleteAsset(ctx context.Context, assetID string) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := client.Collection(siteAssetsCollection).Doc(assetID).Delete(ctx, firestore.Exists); err != nil {
		return notFound(err, "site.assets.delete", "asset %s", assetID)
	}
	return nil
}

// AuditLogRepository appends and lists administrative audit entries.
type AuditLogRepository struct {
	provider *pfirestore.Provider
}

// NewAuditLogRepository constructs a Firestore-backed audit repository.
func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository requires firestore provider")
	}
	return &AuditLogRepository{provider: provider}, nil
}

func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	doc := auditLogDocument{
		Actor:     entry.Actor,
		ActorType: entry.ActorType,
		Action:    entry.Action,
		TargetRef: entry.TargetRef,
		Severity:  entry.Severity,
		Metadata:  entry.Metadata,
		Diff:      entry.Diff,
		IPHash:    entry.IPHash,
		UserAgent: entry.UserAgent,
		RequestID: entry.RequestID,
		CreatedAt: entry.CreatedAt.UTC(),
	}
	ref := client.Collection(auditLogsCollection).NewDoc()
	if entry.ID != "" {
		ref = client.Collection(auditLogsCollection).Doc(entry.ID)
	}
	_, err = ref.Create(ctx, doc)
	return pfirestore.WrapError("audit_logs.append", err)
}

func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}
	query := client.Collection(auditLogsCollection).Query
	if filter.TargetRef != "" {
		query = query.Where("targetRef", "==", filter.TargetRef)
	}
	if filter.Actor != "" {
		query = query.Where("actor", "==", filter.Actor)
	}
	if filter.Action != "" {
		query = query.Where("action", "==", filter.Action)
	}
	return pageNewestFirst(ctx, "audit_logs.list", query, filter.Pagination, func(snap *firestore.DocumentSnapshot) (domain.AuditLogEntry, time.Time, error) {
		var doc auditLogDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.AuditLogEntry{}, time.Time{}, err
		}
		return domain.AuditLogEntry{
			ID:        snap.Ref.ID,
			Actor:     doc.Actor,
			ActorType: doc.ActorType,
			Action:    doc.Action,
			TargetRef: doc.TargetRef,
			Severity:  doc.Severity,
			Metadata:  doc.Metadata,
			Diff:      doc.Diff,
			IPHash:    doc.IPHash,
			UserAgent: doc.UserAgent,
			RequestID: doc.RequestID,
			CreatedAt: doc.CreatedAt,
		}, doc.CreatedAt, nil
	})
}
