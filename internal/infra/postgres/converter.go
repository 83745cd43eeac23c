package postgres

import (
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/mo"
)

// UUIDToPgtype converts uuid.UUID to pgtype.UUID
func UUIDToPgtype(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// PgtypeToUUID converts pgtype.UUID to uuid.UUID
func PgtypeToUUID(id pgtype.UUID) uuid.UUID {
	return id.Bytes
}

// OptionUUIDToPgtype converts mo.Option[uuid.UUID] to a nullable pgtype.UUID
func OptionUUIDToPgtype(id mo.Option[uuid.UUID]) pgtype.UUID {
	value, ok := id.Get()
	if !ok {
		return pgtype.UUID{}
	}
	return UUIDToPgtype(value)
}

// PgtypeToOptionUUID converts a nullable pgtype.UUID to mo.Option[uuid.UUID]
func PgtypeToOptionUUID(id pgtype.UUID) mo.Option[uuid.UUID] {
	if !id.Valid {
		return mo.None[uuid.UUID]()
	}
	return mo.Some(uuid.UUID(id.Bytes))
}

// UUIDsToPgtype converts []uuid.UUID to a non-nil []pgtype.UUID
// nil を渡すと SQL の NULL 配列になってしまうため、空でも長さ0のスライスを返す
func UUIDsToPgtype(ids []uuid.UUID) []pgtype.UUID {
	out := make([]pgtype.UUID, 0, len(ids))
	for _, id := range ids {
		out = append(out, UUIDToPgtype(id))
	}
	return out
}

// PgtypeToUUIDs converts []pgtype.UUID to []uuid.UUID, skipping NULL elements
func PgtypeToUUIDs(ids []pgtype.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id.Valid {
			out = append(out, id.Bytes)
		}
	}
	return out
}

// StringToNullableText converts string to pgtype.Text (nullable)
func StringToNullableText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// PgtextToString converts pgtype.Text to string ("" for NULL)
func PgtextToString(t pgtype.Text) string {
	if !t.Valid {
		return ""
	}
	return t.String
}
