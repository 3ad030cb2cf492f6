package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/payables/internal/audit/domain"
	"github.com/smallbiznis/payables/internal/channel"
	"github.com/smallbiznis/payables/internal/clock"
	obscontext "github.com/smallbiznis/payables/internal/observability/context"
	"github.com/smallbiznis/payables/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, in auditdomain.Entry) error {
	action := strings.TrimSpace(in.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	if !in.Channel.Valid() {
		return channel.ErrInvalidChannel
	}
	if tx == nil {
		tx = s.db
	}

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		Channel:    in.Channel,
		Action:     action,
		TargetType: orUnknown(in.TargetType),
		TargetID:   optional(in.TargetID),
		Metadata:   s.metadata(ctx, in.Metadata),
		CreatedAt:  s.clock.Now().UTC(),
	}
	entry.ActorType, entry.ActorID = actorOf(ctx, in.ActorID)

	ip, userAgent := obscontext.ClientInfoFromContext(ctx)
	entry.IPAddress = optional(ip)
	entry.UserAgent = optional(userAgent)

	if err := s.repo.Insert(ctx, tx, &entry); err != nil {
		s.log.Warn("audit insert failed",
			zap.String("action", action),
			zap.String("channel", in.Channel.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// metadata copies the caller's fields and stamps the request id, so the
// entry can be matched to the request log line.
func (s *Service) metadata(ctx context.Context, in map[string]any) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(in)+1)
	for key, value := range in {
		if key != "" {
			out[key] = value
		}
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		out["request_id"] = requestID
	}
	return out
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	ch, err := req.Grant.Resolve(s.clock.Now())
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTimeRange
	}

	cursor, err := decodeCursor(req.PageToken)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}
	pageSize := clampPageSize(req.PageSize)

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		Channel:    ch,
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		ActorID:    req.ActorID,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      pageSize,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	var resp auditdomain.ListAuditLogResponse
	if info := pagination.BuildCursorPageInfo(items, int32(pageSize), encodeCursor); info != nil {
		resp.PageInfo = *info
	}
	if len(items) > pageSize {
		items = items[:pageSize]
	}
	resp.AuditLogs = make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item != nil {
			resp.AuditLogs = append(resp.AuditLogs, *item)
		}
	}
	return resp, nil
}

func decodeCursor(token string) (*auditdomain.AuditCursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	decoded, err := pagination.DecodeCursor(token)
	if err != nil || decoded == nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
	if err != nil || id == 0 {
		return nil, auditdomain.ErrInvalidPageToken
	}
	return &auditdomain.AuditCursor{ID: id, CreatedAt: createdAt}, nil
}

func encodeCursor(item *auditdomain.AuditLog) string {
	token, err := pagination.EncodeCursor(pagination.Cursor{
		ID:        item.ID.String(),
		CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return ""
	}
	return token
}

func clampPageSize(size int) int {
	switch {
	case size <= 0:
		return pagination.DefaultPageSize
	case size > pagination.MaxPageSize:
		return pagination.MaxPageSize
	}
	return size
}

// actorOf prefers the explicit actor, then the authenticated user on ctx.
// Changes with neither are attributed to the system.
func actorOf(ctx context.Context, explicit string) (string, *string) {
	if actor := optional(explicit); actor != nil {
		return string(auditdomain.ActorTypeUser), actor
	}
	if actor := optional(obscontext.ActorFromContext(ctx)); actor != nil {
		return string(auditdomain.ActorTypeUser), actor
	}
	return string(auditdomain.ActorTypeSystem), nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func orUnknown(value string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return "unknown"
}
