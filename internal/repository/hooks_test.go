package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAfterCommitOutsideTransactionRunsImmediately(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func() { ran = true })
	assert.True(t, ran)

	ran = false
	AfterTx(context.Background(), func() { ran = true })
	assert.True(t, ran)
}

func TestAfterCommitDefersUntilCommitted(t *testing.T) {
	ctx, hooks := WithTxHooks(context.Background())

	var order []int
	AfterTx(ctx, func() { order = append(order, 3) })
	AfterCommit(ctx, func() { order = append(order, 1) })
	AfterCommit(ctx, func() { order = append(order, 2) })
	assert.Empty(t, order)

	hooks.Committed()
	assert.Equal(t, []int{1, 2, 3}, order)

	hooks.Committed()
	assert.Equal(t, []int{1, 2, 3}, order, "hooks run once")
}

func TestRolledBackRunsOnlyEndHooks(t *testing.T) {
	ctx, hooks := WithTxHooks(context.Background())

	var committed, ended bool
	AfterCommit(ctx, func() { committed = true })
	AfterTx(ctx, func() { ended = true })

	hooks.RolledBack()
	assert.False(t, committed)
	assert.True(t, ended)
}
