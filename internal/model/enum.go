package model

type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleUser    Role = "USER"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleUser:
		return true
	}
	return false
}

type GroupStatus string

const (
	GroupActive    GroupStatus = "ACTIVE"
	GroupCompleted GroupStatus = "COMPLETED"
	GroupCancelled GroupStatus = "CANCELLED"
)

func (s GroupStatus) Valid() bool {
	switch s {
	case GroupActive, GroupCompleted, GroupCancelled:
		return true
	}
	return false
}

type MemberStatus string

const (
	MemberActive   MemberStatus = "ACTIVE"
	MemberInactive MemberStatus = "INACTIVE"
	MemberRemoved  MemberStatus = "REMOVED"
)

func (s MemberStatus) Valid() bool {
	switch s {
	case MemberActive, MemberInactive, MemberRemoved:
		return true
	}
	return false
}

type PaymentType string

const (
	PaymentContribution PaymentType = "CONTRIBUTION"
	PaymentWithdrawal   PaymentType = "WITHDRAWAL"
	PaymentFine         PaymentType = "FINE"
)

func (t PaymentType) Valid() bool {
	switch t {
	case PaymentContribution, PaymentWithdrawal, PaymentFine:
		return true
	}
	return false
}

// Accrues reports whether completing a payment of this type counts toward
// the member's paid total.
func (t PaymentType) Accrues() bool {
	return t == PaymentContribution || t == PaymentFine
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a payment may move from s to next.
// COMPLETED and CANCELLED are terminal.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	return s == PaymentPending && (next == PaymentCompleted || next == PaymentCancelled)
}

type NotificationType string

const (
	NotifyPaymentDue      NotificationType = "PAYMENT_DUE"
	NotifyPaymentReceived NotificationType = "PAYMENT_RECEIVED"
	NotifyGroupUpdate     NotificationType = "GROUP_UPDATE"
	NotifySystem          NotificationType = "SYSTEM"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotifyPaymentDue, NotifyPaymentReceived, NotifyGroupUpdate, NotifySystem:
		return true
	}
	return false
}
