package storage

import (
	"context"
	"database/sql"

	"github.com/familyfund/backend/internal/models"
)

func (c conn) InsertGroup(ctx context.Context, g *models.Group) error {
	_, err := c.exec(ctx, `
		INSERT INTO family_groups (id, name, image_ref, created_at)
		VALUES (?, ?, ?, ?)`,
		g.ID, g.Name, nullString(g.ImageRef), g.CreatedAt)
	return c.wrapErr("insert group", err)
}

func (c conn) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	var (
		g        models.Group
		imageRef sql.NullString
	)
	err := c.queryRow(ctx, `SELECT id, name, image_ref, created_at FROM family_groups WHERE id = ?`, groupID).
		Scan(&g.ID, &g.Name, &imageRef, &g.CreatedAt)
	if err != nil {
		return nil, c.wrapErr("get group", err)
	}
	g.ImageRef = imageRef.String
	return &g, nil
}

func (c conn) InsertMember(ctx context.Context, m *models.GroupMember) error {
	_, err := c.exec(ctx, `
		INSERT INTO group_members (group_id, user_id, role, created_at)
		VALUES (?, ?, ?, ?)`,
		m.GroupID, m.UserID, m.Role, m.CreatedAt)
	return c.wrapErr("insert member", err)
}

// GetMember returns the membership of userID in groupID or ErrNotFound.
func (c conn) GetMember(ctx context.Context, groupID, userID string) (*models.GroupMember, error) {
	var m models.GroupMember
	err := c.queryRow(ctx, `
		SELECT group_id, user_id, role, created_at
		FROM group_members
		WHERE group_id = ? AND user_id = ?`, groupID, userID).
		Scan(&m.GroupID, &m.UserID, &m.Role, &m.CreatedAt)
	if err != nil {
		return nil, c.wrapErr("get member", err)
	}
	return &m, nil
}

func (c conn) InsertRecipient(ctx context.Context, r *models.Recipient) error {
	_, err := c.exec(ctx, `
		INSERT INTO recipients (id, group_id, name, address, city, postal_code, phone, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.GroupID, r.Name, r.Address, r.City, nullString(r.PostalCode), nullString(r.Phone), r.CreatedAt)
	return c.wrapErr("insert recipient", err)
}

func (c conn) ListRecipients(ctx context.Context, groupID string) ([]models.Recipient, error) {
	rows, err := c.query(ctx, `
		SELECT id, group_id, name, address, city, postal_code, phone, created_at
		FROM recipients
		WHERE group_id = ?
		ORDER BY created_at`, groupID)
	if err != nil {
		return nil, c.wrapErr("list recipients", err)
	}
	defer rows.Close()

	var recipients []models.Recipient
	for rows.Next() {
		var (
			r                 models.Recipient
			postalCode, phone sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.GroupID, &r.Name, &r.Address, &r.City, &postalCode, &phone, &r.CreatedAt); err != nil {
			return nil, c.wrapErr("scan recipient", err)
		}
		r.PostalCode = postalCode.String
		r.Phone = phone.String
		recipients = append(recipients, r)
	}
	return recipients, c.wrapErr("list recipients", rows.Err())
}
