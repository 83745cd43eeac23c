package eval

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// SetWriter は評価セットとケースを書き込む
type SetWriter interface {
	CreateSet(ctx context.Context, tenantID uuid.UUID, name string) (uuid.UUID, error)
	AddCase(ctx context.Context, setID uuid.UUID, c Case) (uuid.UUID, error)
}

// ImportSet は評価セットを作成し、ケースを順に登録する
// 途中で失敗した場合は最初のエラーを返す。全体を原子的にするのは呼び出し側のトランザクションの責務
func ImportSet(ctx context.Context, w SetWriter, tenantID uuid.UUID, name string, cases []Case) (uuid.UUID, error) {
	if len(cases) == 0 {
		return uuid.Nil, ErrNoCases
	}

	setID, err := w.CreateSet(ctx, tenantID, name)
	if err != nil {
		return uuid.Nil, err
	}
	for _, c := range cases {
		if _, err := w.AddCase(ctx, setID, c); err != nil {
			return uuid.Nil, fmt.Errorf("failed to import case %q: %w", c.ID, err)
		}
	}
	return setID, nil
}
