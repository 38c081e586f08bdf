package models

import "time"

// ReturnRequest records a member's return and the refund account. Only the
// last four digits of the account are exposed; the full number stays encrypted.
type ReturnRequest struct {
	ID               int64     `json:"id"`
	OrderNo          string    `json:"order_no"`
	MemberID         int64     `json:"member_id"`
	Reason           string    `json:"reason"`
	BankCode         string    `json:"bank_code"`
	AccountName      string    `json:"account_name"`
	AccountLast4     string    `json:"account_last4"`
	AccountEncrypted string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}
