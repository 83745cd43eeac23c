package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/mo"
)

// MembershipRepository は memberships テーブルへのアクセスを提供する
type MembershipRepository struct {
	db DBTX
}

// NewMembershipRepository は新しい MembershipRepository を作成する
func NewMembershipRepository(db DBTX) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// Role はテナントにおけるユーザーのロールを返す。所属していない場合は None
func (r *MembershipRepository) Role(ctx context.Context, tenantID, userID uuid.UUID) (mo.Option[string], error) {
	var role string
	err := r.db.QueryRow(ctx,
		`SELECT role FROM memberships WHERE tenant_id = $1 AND user_id = $2`,
		UUIDToPgtype(tenantID), UUIDToPgtype(userID),
	).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[string](), nil
		}
		return mo.None[string](), fmt.Errorf("failed to get membership: %w", err)
	}
	return mo.Some(role), nil
}

// AddMember はメンバーを追加する。既存の場合はロールを更新する
func (r *MembershipRepository) AddMember(ctx context.Context, tenantID, userID uuid.UUID, role string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO memberships (tenant_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		UUIDToPgtype(tenantID), UUIDToPgtype(userID), role,
	)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}
