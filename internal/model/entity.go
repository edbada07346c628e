package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type User struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	Email     string     `gorm:"size:191;uniqueIndex;not null" json:"email"`
	Password  string     `gorm:"not null" json:"-"`
	Name      string     `gorm:"size:100;not null" json:"name"`
	Role      Role       `gorm:"size:16;not null;index" json:"role"`
	Phone     string     `gorm:"size:32" json:"phone,omitempty"`
	Avatar    string     `gorm:"size:255" json:"avatar,omitempty"`
	Active    bool       `gorm:"not null" json:"active"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type HuiGroup struct {
	ID                 string          `gorm:"primaryKey;size:36" json:"id"`
	Name               string          `gorm:"size:120;not null" json:"name"`
	Description        string          `gorm:"type:text" json:"description,omitempty"`
	ContributionAmount decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"contribution_amount"`
	StartDate          time.Time       `gorm:"not null" json:"start_date"`
	EndDate            *time.Time      `json:"end_date,omitempty"`
	Status             GroupStatus     `gorm:"size:16;not null;index" json:"status"`
	ManagerID          string          `gorm:"size:36;not null;index" json:"manager_id"`
	CycleLength        int             `gorm:"not null" json:"cycle_length"`
	TotalMembers       int             `gorm:"not null" json:"total_members"`
	CurrentCycle       int             `gorm:"not null" json:"current_cycle"`
	NextPaymentDate    *time.Time      `json:"next_payment_date,omitempty"`
	Rules              datatypes.JSON  `json:"rules,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`

	Manager *User       `gorm:"foreignKey:ManagerID" json:"manager,omitempty"`
	Members []HuiMember `gorm:"foreignKey:GroupID" json:"members,omitempty"`
}

type HuiMember struct {
	ID              string          `gorm:"primaryKey;size:36" json:"id"`
	UserID          string          `gorm:"size:36;not null;uniqueIndex:uk_member_user_group" json:"user_id"`
	GroupID         string          `gorm:"size:36;not null;uniqueIndex:uk_member_user_group;index" json:"group_id"`
	Status          MemberStatus    `gorm:"size:16;not null" json:"status"`
	JoinedAt        time.Time       `gorm:"not null" json:"joined_at"`
	LeftAt          *time.Time      `json:"left_at,omitempty"`
	Position        int             `gorm:"not null" json:"position"`
	TotalPaid       decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"total_paid"`
	TotalDue        decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"total_due"`
	LastPaymentDate *time.Time      `json:"last_payment_date,omitempty"`
	NextPaymentDate *time.Time      `json:"next_payment_date,omitempty"`
	Notes           string          `gorm:"type:text" json:"notes,omitempty"`

	User  *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Group *HuiGroup `gorm:"foreignKey:GroupID" json:"group,omitempty"`
}

type Payment struct {
	ID          string          `gorm:"primaryKey;size:36" json:"id"`
	Amount      decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
	Type        PaymentType     `gorm:"size:16;not null;index" json:"type"`
	Status      PaymentStatus   `gorm:"size:16;not null;index" json:"status"`
	UserID      string          `gorm:"size:36;not null;index" json:"user_id"`
	MemberID    string          `gorm:"size:36;not null;index" json:"member_id"`
	GroupID     string          `gorm:"size:36;not null;index" json:"group_id"`
	DueDate     time.Time       `gorm:"not null;index" json:"due_date"`
	PaidDate    *time.Time      `json:"paid_date,omitempty"`
	Cycle       int             `gorm:"not null;index" json:"cycle"`
	Note        string          `gorm:"type:text" json:"note,omitempty"`
	Receipt     string          `gorm:"size:255" json:"receipt,omitempty"`
	VerifiedBy  *string         `gorm:"size:36" json:"verified_by,omitempty"`
	VerifiedAt  *time.Time      `json:"verified_at,omitempty"`
	RemindedAt  *time.Time      `json:"reminded_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	History []PaymentHistory `gorm:"foreignKey:PaymentID" json:"history,omitempty"`
}

type PaymentHistory struct {
	ID        string        `gorm:"primaryKey;size:36" json:"id"`
	PaymentID string        `gorm:"size:36;not null;index" json:"payment_id"`
	Status    PaymentStatus `gorm:"size:16;not null" json:"status"`
	Note      string        `gorm:"type:text" json:"note,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	CreatedBy string        `gorm:"size:36" json:"created_by,omitempty"`
}

type Notification struct {
	ID        string           `gorm:"primaryKey;size:36" json:"id"`
	Title     string           `gorm:"size:200;not null" json:"title"`
	Message   string           `gorm:"type:text;not null" json:"message"`
	Type      NotificationType `gorm:"size:24;not null" json:"type"`
	Read      bool             `gorm:"not null;index" json:"read"`
	UserID    string           `gorm:"size:36;not null;index" json:"user_id"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type AuditLog struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	UserID    *string        `gorm:"size:36;index" json:"user_id,omitempty"`
	Action    string         `gorm:"size:64;not null;index" json:"action"`
	Entity    string         `gorm:"size:64;not null;index:idx_audit_entity" json:"entity"`
	EntityID  string         `gorm:"size:36;index:idx_audit_entity" json:"entity_id"`
	Details   datatypes.JSON `json:"details,omitempty"`
	IPAddress string         `gorm:"size:64" json:"ip_address,omitempty"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

type SystemSettings struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	Key       string         `gorm:"size:128;uniqueIndex;not null" json:"key"`
	Value     datatypes.JSON `gorm:"not null" json:"value"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	UpdatedBy *string        `gorm:"size:36" json:"updated_by,omitempty"`
}

func (HuiGroup) TableName() string       { return "hui_groups" }
func (HuiMember) TableName() string      { return "hui_members" }
func (PaymentHistory) TableName() string { return "payment_histories" }
func (SystemSettings) TableName() string { return "system_settings" }

func newID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

func (u *User) BeforeCreate(*gorm.DB) error           { newID(&u.ID); return nil }
func (g *HuiGroup) BeforeCreate(*gorm.DB) error       { newID(&g.ID); return nil }
func (m *HuiMember) BeforeCreate(*gorm.DB) error      { newID(&m.ID); return nil }
func (p *Payment) BeforeCreate(*gorm.DB) error        { newID(&p.ID); return nil }
func (h *PaymentHistory) BeforeCreate(*gorm.DB) error { newID(&h.ID); return nil }
func (n *Notification) BeforeCreate(*gorm.DB) error   { newID(&n.ID); return nil }
func (a *AuditLog) BeforeCreate(*gorm.DB) error       { newID(&a.ID); return nil }
func (s *SystemSettings) BeforeCreate(*gorm.DB) error { newID(&s.ID); return nil }

// AutoMigrate creates or updates every table, parents first.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&HuiGroup{},
		&HuiMember{},
		&Payment{},
		&PaymentHistory{},
		&Notification{},
		&AuditLog{},
		&SystemSettings{},
	)
}
