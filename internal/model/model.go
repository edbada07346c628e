package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Phone    string `json:"phone"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

type CreateUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Role     Role   `json:"role"`
	Phone    string `json:"phone"`
	Avatar   string `json:"avatar"`
}

type UpdateUserRequest struct {
	Name   *string `json:"name"`
	Phone  *string `json:"phone"`
	Avatar *string `json:"avatar"`
	Role   *Role   `json:"role"`
	Active *bool   `json:"active"`
}

type UserFilter struct {
	Role   Role   `form:"role"`
	Active *bool  `form:"active"`
	Search string `form:"q"`
	Page
}

type CreateGroupRequest struct {
	Name               string          `json:"name" binding:"required"`
	Description        string          `json:"description"`
	ContributionAmount decimal.Decimal `json:"contribution_amount"`
	StartDate          time.Time       `json:"start_date" binding:"required"`
	EndDate            *time.Time      `json:"end_date"`
	CycleLength        int             `json:"cycle_length"`
	TotalMembers       int             `json:"total_members"`
	ManagerID          string          `json:"manager_id"`
	Rules              json.RawMessage `json:"rules"`
}

type UpdateGroupRequest struct {
	Name               *string          `json:"name"`
	Description        *string          `json:"description"`
	ContributionAmount *decimal.Decimal `json:"contribution_amount"`
	EndDate            *time.Time       `json:"end_date"`
	CycleLength        *int             `json:"cycle_length"`
	TotalMembers       *int             `json:"total_members"`
	Rules              json.RawMessage  `json:"rules"`
}

type GroupStatusRequest struct {
	Status GroupStatus `json:"status" binding:"required"`
}

type GroupFilter struct {
	Status    GroupStatus `form:"status"`
	ManagerID string      `form:"manager_id"`
	MemberID  string      `form:"member_user_id"`
	Search    string      `form:"q"`
	Page
}

type GroupSummary struct {
	GroupID          string                  `json:"group_id"`
	CurrentCycle     int                     `json:"current_cycle"`
	ActiveMembers    int                     `json:"active_members"`
	PotSize          decimal.Decimal         `json:"pot_size"`
	TotalCollected   decimal.Decimal         `json:"total_collected"`
	TotalOutstanding decimal.Decimal         `json:"total_outstanding"`
	CompletedCycles  int                     `json:"completed_cycles"`
	PaymentsByStatus map[PaymentStatus]int64 `json:"payments_by_status"`
}

type ScheduleEntry struct {
	Cycle       int       `json:"cycle"`
	DueDate     time.Time `json:"due_date"`
	RecipientID string    `json:"recipient_member_id"`
	Recipient   string    `json:"recipient_name"`
}

type AddMemberRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Position int    `json:"position"`
	Notes    string `json:"notes"`
}

type UpdateMemberRequest struct {
	Notes    *string       `json:"notes"`
	Position *int          `json:"position"`
	Status   *MemberStatus `json:"status"`
}

type ReorderRequest struct {
	MemberIDs []string `json:"member_ids" binding:"required"`
}

type CreatePaymentRequest struct {
	GroupID  string          `json:"group_id" binding:"required"`
	MemberID string          `json:"member_id" binding:"required"`
	Amount   decimal.Decimal `json:"amount"`
	Type     PaymentType     `json:"type" binding:"required"`
	DueDate  *time.Time      `json:"due_date"`
	Cycle    int             `json:"cycle"`
	Note     string          `json:"note"`
}

type PaymentActionRequest struct {
	Note    string `json:"note"`
	Receipt string `json:"receipt"`
}

type PaymentFilter struct {
	GroupID   string        `form:"group_id"`
	MemberID  string        `form:"member_id"`
	UserID    string        `form:"user_id"`
	Status    PaymentStatus `form:"status"`
	Type      PaymentType   `form:"type"`
	Cycle     int           `form:"cycle"`
	DueBefore *time.Time    `form:"due_before" time_format:"2006-01-02"`
	DueAfter  *time.Time    `form:"due_after" time_format:"2006-01-02"`
	Page
}

type PaymentAggregate struct {
	Status PaymentStatus   `json:"status"`
	Count  int64           `json:"count"`
	Sum    decimal.Decimal `json:"sum"`
	Avg    decimal.Decimal `json:"avg"`
	Min    decimal.Decimal `json:"min"`
	Max    decimal.Decimal `json:"max"`
}

type NotificationFilter struct {
	UnreadOnly bool `form:"unread"`
	Page
}

type AuditFilter struct {
	UserID   string     `form:"user_id"`
	Entity   string     `form:"entity"`
	EntityID string     `form:"entity_id"`
	Action   string     `form:"action"`
	Since    *time.Time `form:"since" time_format:"2006-01-02"`
	Until    *time.Time `form:"until" time_format:"2006-01-02"`
	Page
}

type SettingRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}

// Page is the common page/page_size query pair.
type Page struct {
	Page     int `form:"page" json:"page"`
	PageSize int `form:"page_size" json:"page_size"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

func (p Page) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.PageSize
}

type ListResponse[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}
