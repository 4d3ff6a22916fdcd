package models

import "time"

// Group is a family that owns exactly one fund.
type Group struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	ImageRef  string    `json:"imageRef,omitempty" db:"image_ref"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Member roles
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

type GroupMember struct {
	GroupID   string    `json:"groupId" db:"group_id"`
	UserID    string    `json:"userId" db:"user_id"`
	Role      string    `json:"role" db:"role"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Recipient is the shipping identity for printed output of a group.
type Recipient struct {
	ID         string    `json:"id" db:"id"`
	GroupID    string    `json:"groupId" db:"group_id"`
	Name       string    `json:"name" db:"name"`
	Address    string    `json:"address" db:"address"`
	City       string    `json:"city" db:"city"`
	PostalCode string    `json:"postalCode,omitempty" db:"postal_code"`
	Phone      string    `json:"phone,omitempty" db:"phone"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// GroupData is the client-supplied part of a new group.
type GroupData struct {
	Name     string `json:"name" validate:"required,min=2,max=80"`
	ImageRef string `json:"imageRef,omitempty" validate:"omitempty,max=512"`
}

// RecipientData is the client-supplied delivery recipient.
type RecipientData struct {
	Name       string `json:"name" validate:"required,min=2,max=120"`
	Address    string `json:"address" validate:"required,max=200"`
	City       string `json:"city" validate:"required,max=80"`
	PostalCode string `json:"postalCode,omitempty" validate:"omitempty,numeric,max=10"`
	Phone      string `json:"phone,omitempty" validate:"omitempty,min=7,max=20"`
}
