package infrastructure

import (
	"encoding/json"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"loyalty/internal/service/loyalty/domain"
)

func criteriaJSON(target float64) datatypes.JSON {
	b, _ := json.Marshal(domain.Criteria{Target: target})
	return b
}

// SeedCatalog 幂等地写入成就与徽章目录，已有数据不会被覆盖。
func SeedCatalog(db *gorm.DB) error {
	achievements := []AchievementModel{
		{Name: "First Purchase", Description: "Complete your first purchase", Type: "purchase_count", Criteria: criteriaJSON(1), Points: 50, Tier: "bronze", Icon: "shopping-bag", IsActive: true},
		{Name: "Loyal Shopper", Description: "Complete 5 purchases", Type: "purchase_count", Criteria: criteriaJSON(5), Points: 150, Tier: "silver", Icon: "repeat", IsActive: true},
		{Name: "Shopping Habit", Description: "Complete 20 purchases", Type: "purchase_count", Criteria: criteriaJSON(20), Points: 400, Tier: "gold", Icon: "calendar", IsActive: true},
		{Name: "Century Club", Description: "Complete 100 purchases", Type: "purchase_count", Criteria: criteriaJSON(100), Points: 1500, Tier: "platinum", Icon: "trophy", IsActive: true},
		{Name: "Big Spender", Description: "Spend a total of 50,000", Type: "spending_total", Criteria: criteriaJSON(50000), Points: 300, Tier: "silver", Icon: "banknote", IsActive: true},
		{Name: "High Roller", Description: "Spend a total of 200,000", Type: "spending_total", Criteria: criteriaJSON(200000), Points: 800, Tier: "gold", Icon: "gem", IsActive: true},
		{Name: "Whale", Description: "Spend a total of 1,000,000", Type: "spending_total", Criteria: criteriaJSON(1000000), Points: 2500, Tier: "platinum", Icon: "crown", IsActive: true},
	}
	err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&achievements).Error
	if err != nil {
		return errors.Wrap(err, "failed to seed achievements")
	}

	badges := []BadgeModel{
		{Name: "Bronze", Description: "Welcome to the program", Level: 1, PointsRequired: 100, AchievementsRequired: 1, Icon: "medal", Color: "#cd7f32", IsActive: true},
		{Name: "Silver", Description: "A regular customer", Level: 2, PointsRequired: 400, AchievementsRequired: 2, Icon: "medal", Color: "#c0c0c0", IsActive: true},
		{Name: "Gold", Description: "A valued customer", Level: 3, PointsRequired: 1000, AchievementsRequired: 3, Icon: "medal", Color: "#ffd700", IsActive: true},
		{Name: "Platinum", Description: "A top-tier customer", Level: 4, PointsRequired: 2500, AchievementsRequired: 5, Icon: "star", Color: "#e5e4e2", IsActive: true},
		{Name: "Diamond", Description: "Our most loyal customer", Level: 5, PointsRequired: 5000, AchievementsRequired: 7, Icon: "diamond", Color: "#b9f2ff", IsActive: true},
	}
	err = db.Clauses(clause.OnConflict{DoNothing: true}).Create(&badges).Error
	return errors.Wrap(err, "failed to seed badges")
}
