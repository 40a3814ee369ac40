package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"loyalty/internal/pkg/logger"
	"loyalty/internal/service/loyalty/application"
	"loyalty/internal/service/loyalty/domain"
)

const serviceName = "loyalty-service"

// LoyaltyHandler 暴露只读查询面。所有变更都由流水线驱动，这里没有写入口。
type LoyaltyHandler struct {
	queries *application.Queries
}

func NewLoyaltyHandler(queries *application.Queries) *LoyaltyHandler {
	return &LoyaltyHandler{queries: queries}
}

// RegisterRoutes 在 ServeMux 上注册所有路由。
func (h *LoyaltyHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/achievements/progress", h.handle("loyalty.api.AchievementProgress",
		func(ctx context.Context, userID uint, r *http.Request) (interface{}, error) {
			return h.queries.AchievementProgress(ctx, userID)
		}))
	mux.HandleFunc("/achievements/recent", h.handle("loyalty.api.RecentlyUnlocked",
		func(ctx context.Context, userID uint, r *http.Request) (interface{}, error) {
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			return h.queries.RecentlyUnlocked(ctx, userID, limit)
		}))
	mux.HandleFunc("/badges/progress", h.handle("loyalty.api.BadgeProgress",
		func(ctx context.Context, userID uint, r *http.Request) (interface{}, error) {
			return h.queries.BadgeProgress(ctx, userID)
		}))
	mux.HandleFunc("/badges/next", h.handle("loyalty.api.NextBadge",
		func(ctx context.Context, userID uint, r *http.Request) (interface{}, error) {
			badge, err := h.queries.NextBadge(ctx, userID)
			if err != nil {
				return nil, err
			}
			// badge 为 nil 表示已是最高等级
			return map[string]interface{}{"next": badge}, nil
		}))
	mux.HandleFunc("/badges/history", h.handle("loyalty.api.BadgeHistory",
		func(ctx context.Context, userID uint, r *http.Request) (interface{}, error) {
			return h.queries.BadgeHistory(ctx, userID)
		}))
	mux.HandleFunc("/cashback/summary", h.handle("loyalty.api.CashbackSummary",
		func(ctx context.Context, userID uint, r *http.Request) (interface{}, error) {
			return h.queries.GetCashbackSummary(ctx, userID)
		}))
}

// handle 统一处理追踪上下文重建、userId 解析和 JSON 响应。
func (h *LoyaltyHandler) handle(spanName string, fn func(ctx context.Context, userID uint, r *http.Request) (interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		tracer := otel.Tracer(serviceName)
		ctx, span := tracer.Start(ctx, spanName)
		defer span.End()

		w.Header().Set("Content-Type", "application/json")

		id, err := strconv.ParseUint(r.URL.Query().Get("userId"), 10, 32)
		if err != nil || id == 0 {
			http.Error(w, `{"error":"userId is required"}`, http.StatusBadRequest)
			return
		}
		span.SetAttributes(attribute.Int("user.id", int(id)))

		payload, err := fn(ctx, uint(id), r)
		if err != nil {
			if errors.Is(err, domain.ErrUserNotFound) {
				http.Error(w, `{"error":"user not found"}`, http.StatusNotFound)
				return
			}
			span.RecordError(err)
			logger.Ctx(ctx).Error().Err(err).Str("path", r.URL.Path).Msg("query failed")
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}

		if encodeErr := json.NewEncoder(w).Encode(payload); encodeErr != nil {
			logger.Ctx(ctx).Error().Err(encodeErr).Msg("failed to encode response")
		}
	}
}
