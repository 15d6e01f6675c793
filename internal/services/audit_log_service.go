package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/repositories"
)

const (
	auditIDPrefix        = "aud_"
	defaultAuditSeverity = "info"
	defaultActorType     = "unknown"
	hashedValuePrefix    = "sha256:"
)

// sensitiveAuditKeys are hashed instead of stored verbatim.
var sensitiveAuditKeys = map[string]struct{}{
	"pixkey": {},
	"token":  {},
	"email":  {},
}

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository  repositories.AuditLogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	HashSalt    string
}

type auditLogService struct {
	repo     repositories.AuditLogRepository
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
	hashSalt string
}

// NewAuditLogService creates an audit log writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("audit log service: repository is required")
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
	return &auditLogService{
		repo:     deps.Repository,
		clock:    func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
		hashSalt: deps.HashSalt,
	}, nil
}

// Record persists an audit entry. Failures are logged and never reach the caller.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) {
	entry := s.buildEntry(record)
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger(ctx, "audit.append.failed", map[string]any{
			"action": entry.Action,
			"target": entry.TargetRef,
			"error":  err.Error(),
		})
	}
}

func (s *auditLogService) List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error) {
	return s.repo.List(ctx, repositories.AuditLogFilter{
		TargetRef:  strings.TrimSpace(filter.TargetRef),
		Actor:      strings.TrimSpace(filter.Actor),
		Action:     strings.TrimSpace(filter.Action),
		Pagination: filter.Pagination,
	})
}

func (s *auditLogService) buildEntry(record AuditLogRecord) domain.AuditLogEntry {
	occurred := record.OccurredAt.UTC()
	if record.OccurredAt.IsZero() {
		occurred = s.clock()
	}
	entry := domain.AuditLogEntry{
		ID:        auditIDPrefix + s.newID(),
		Actor:     sanitizeText(record.Actor, 160),
		ActorType: normalizeActorType(record.ActorType, record.Actor),
		Action:    sanitizeText(record.Action, 120),
		TargetRef: sanitizeText(record.TargetRef, 200),
		Severity:  normalizeSeverity(record.Severity),
		RequestID: sanitizeText(record.RequestID, 128),
		UserAgent: sanitizeText(record.UserAgent, 256),
		CreatedAt: occurred,
	}
	if len(record.Metadata) > 0 {
		entry.Metadata = make(map[string]any, len(record.Metadata))
		for key, value := range record.Metadata {
			if key = sanitizeText(key, 80); key != "" {
				entry.Metadata[key] = s.auditValue(key, value)
			}
		}
	}
	if len(record.Diff) > 0 {
		entry.Diff = make(map[string]any, len(record.Diff))
		for key, change := range record.Diff {
			if key = sanitizeText(key, 80); key != "" {
				entry.Diff[key] = map[string]any{
					"before": s.auditValue(key, change.Before),
					"after":  s.auditValue(key, change.After),
				}
			}
		}
	}
	if ip := strings.TrimSpace(record.IPAddress); ip != "" {
		entry.IPHash = hashedValuePrefix + s.hash(ip)
	}
	return entry
}

func (s *auditLogService) auditValue(key string, value any) any {
	if _, sensitive := sensitiveAuditKeys[strings.ToLower(key)]; sensitive {
		if value == nil {
			return nil
		}
		raw, err := json.Marshal(value)
		if err != nil {
			raw = []byte(fmt.Sprint(value))
		}
		return hashedValuePrefix + s.hash(string(raw))
	}
	switch v := value.(type) {
	case string:
		return sanitizeText(v, 512)
	case fmt.Stringer:
		return sanitizeText(v.String(), 512)
	default:
		return v
	}
}

func (s *auditLogService) hash(value string) string {
	sum := sha256.Sum256([]byte(s.hashSalt + strings.TrimSpace(value)))
	return hex.EncodeToString(sum[:])
}

func normalizeActorType(actorType, actor string) string {
	normalized := strings.ToLower(strings.TrimSpace(actorType))
	switch normalized {
	case "admin", "affiliate", "system", "delegate":
		return normalized
	}
	if actor = strings.ToLower(strings.TrimSpace(actor)); actor == "system" || strings.HasPrefix(actor, "system:") {
		return "system"
	}
	return defaultActorType
}

func normalizeSeverity(severity string) string {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "warn", "warning":
		return "warn"
	case "error":
		return "error"
	default:
		return defaultAuditSeverity
	}
}

// sanitizeText trims input, drops control characters and caps it at limit bytes.
func sanitizeText(input string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	for _, r := range input {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		builder.WriteRune(r)
		if builder.Len() >= limit {
			break
		}
	}
	return builder.String()
}
