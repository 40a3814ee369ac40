package infrastructure

import (
	"encoding/json"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"loyalty/internal/service/loyalty/domain"
)

// ToDomainUser 将数据库模型转换为领域模型
func ToDomainUser(model *UserModel) *domain.User {
	if model == nil {
		return nil
	}
	return &domain.User{
		ID:             model.ID,
		Email:          model.Email,
		Name:           model.Name,
		TotalPoints:    model.TotalPoints,
		TotalCashback:  model.TotalCashback,
		CurrentBadgeID: model.CurrentBadgeID,
		BankAccount:    model.BankAccount,
		BankCode:       model.BankCode,
	}
}

// ToDomainAchievement 将数据库模型转换为领域模型。
// 条件字段解析失败时按零值条件处理，脏数据不应让整个评估批次失败。
func ToDomainAchievement(model *AchievementModel) *domain.Achievement {
	if model == nil {
		return nil
	}
	var criteria domain.Criteria
	if len(model.Criteria) > 0 {
		_ = json.Unmarshal(model.Criteria, &criteria)
	}
	return &domain.Achievement{
		ID:          model.ID,
		Name:        model.Name,
		Description: model.Description,
		Type:        domain.AchievementType(model.Type),
		Criteria:    criteria,
		Points:      model.Points,
		Tier:        domain.AchievementTier(model.Tier),
		Icon:        model.Icon,
		IsActive:    model.IsActive,
	}
}

// ToDomainUserAchievement 将数据库模型转换为领域模型
func ToDomainUserAchievement(model *UserAchievementModel) *domain.UserAchievement {
	if model == nil {
		return nil
	}
	return &domain.UserAchievement{
		UserID:        model.UserID,
		AchievementID: model.AchievementID,
		Progress:      model.Progress,
		UnlockedAt:    model.UnlockedAt,
		UpdatedAt:     model.UpdatedAt,
	}
}

// ToDomainBadge 将数据库模型转换为领域模型
func ToDomainBadge(model *BadgeModel) *domain.Badge {
	if model == nil {
		return nil
	}
	return &domain.Badge{
		ID:                   model.ID,
		Name:                 model.Name,
		Description:          model.Description,
		Level:                model.Level,
		PointsRequired:       model.PointsRequired,
		AchievementsRequired: model.AchievementsRequired,
		Icon:                 model.Icon,
		Color:                model.Color,
		IsActive:             model.IsActive,
	}
}

// ToDomainUserBadge 将数据库模型转换为领域模型
func ToDomainUserBadge(model *UserBadgeModel) *domain.UserBadge {
	if model == nil {
		return nil
	}
	return &domain.UserBadge{
		UserID:    model.UserID,
		BadgeID:   model.BadgeID,
		EarnedAt:  model.EarnedAt,
		IsCurrent: model.IsCurrent,
	}
}

// ToDomainPurchase 将数据库模型转换为领域模型
func ToDomainPurchase(model *PurchaseModel) *domain.Purchase {
	if model == nil {
		return nil
	}
	return &domain.Purchase{
		ID:                  model.ID,
		UserID:              model.UserID,
		OrderID:             model.OrderID,
		Amount:              model.Amount,
		Currency:            model.Currency,
		Status:              domain.PurchaseStatus(model.Status),
		ProcessedForLoyalty: model.ProcessedForLoyalty,
		CreatedAt:           model.CreatedAt,
	}
}

// ToDomainCashbackTransaction 将数据库模型转换为领域模型
func ToDomainCashbackTransaction(model *CashbackTransactionModel) *domain.CashbackTransaction {
	if model == nil {
		return nil
	}
	var raw map[string]interface{}
	if len(model.RawResponse) > 0 {
		_ = json.Unmarshal(model.RawResponse, &raw)
	}
	return &domain.CashbackTransaction{
		ID:           model.ID,
		UserID:       model.UserID,
		PurchaseID:   model.PurchaseID,
		Amount:       model.Amount,
		Currency:     model.Currency,
		Status:       domain.CashbackStatus(model.Status),
		Provider:     model.Provider,
		Reference:    model.Reference,
		RawResponse:  raw,
		ErrorMessage: model.ErrorMessage,
		RetryCount:   model.RetryCount,
		ProcessedAt:  model.ProcessedAt,
		CreatedAt:    model.CreatedAt,
	}
}

// FromDomainCashbackTransaction 将领域模型转换为数据库模型 (用于插入和更新)
func FromDomainCashbackTransaction(dmn *domain.CashbackTransaction) *CashbackTransactionModel {
	if dmn == nil {
		return nil
	}
	var raw datatypes.JSON
	if dmn.RawResponse != nil {
		raw, _ = json.Marshal(dmn.RawResponse)
	}
	return &CashbackTransactionModel{
		Model:        gorm.Model{ID: dmn.ID},
		UserID:       dmn.UserID,
		PurchaseID:   dmn.PurchaseID,
		Amount:       dmn.Amount,
		Currency:     dmn.Currency,
		Status:       string(dmn.Status),
		Provider:     dmn.Provider,
		Reference:    dmn.Reference,
		RawResponse:  raw,
		ErrorMessage: dmn.ErrorMessage,
		RetryCount:   dmn.RetryCount,
		ProcessedAt:  dmn.ProcessedAt,
	}
}
