package domain

import "github.com/shopspring/decimal"

// User 持有积分与返现的累计值。
// TotalPoints 由成就评估器全量重算；TotalCashback 只增不减，
// 由返现编排器在转账成功后累加；CurrentBadgeID 只由徽章评估器改写。
type User struct {
	ID             uint
	Email          string
	Name           string
	TotalPoints    int
	TotalCashback  float64
	CurrentBadgeID *uint

	// 支付提供方转账时需要的收款信息
	BankAccount string
	BankCode    string
}

// AddCashback 在十进制域内累加返现总额，避免二进制浮点的累积误差。
func (u *User) AddCashback(amount float64) {
	total := decimal.NewFromFloat(u.TotalCashback).Add(decimal.NewFromFloat(amount))
	u.TotalCashback, _ = total.Round(2).Float64()
}
