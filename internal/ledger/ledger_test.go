package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"economy/internal/model"
)

func newTestLedger(gw Gateway, exec Executor) (*Ledger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(gw, exec, NewQueue(0), Options{Logger: zap.New(core)})
	return l, logs
}

func TestLedger_LoadFoundEntity(t *testing.T) {
	gw := newFakeGateway()
	id := uuid.New()
	acc := model.NewAccount(id, "old-name", fixedNow)
	acc.Balance = model.NewAmount(dec("42"))
	gw.accounts[id] = acc

	l, _ := newTestLedger(gw, &syncExecutor{})

	res := <-l.Load(context.Background(), id, "new-name")
	require.NoError(t, res.Err)
	assertBalance(t, "42", res.Entry.Balance())
	assert.Equal(t, "new-name", res.Entry.DisplayName())

	e, err := l.Entry(id)
	require.NoError(t, err)
	assert.Same(t, res.Entry, e)
}

func TestLedger_LoadAbsentEntityStartsAtZero(t *testing.T) {
	gw := newFakeGateway()
	l, _ := newTestLedger(gw, &syncExecutor{})
	id := uuid.New()

	res := <-l.Load(context.Background(), id, "bob")
	require.NoError(t, res.Err)
	assert.True(t, res.Entry.Balance().IsZero())
	assert.Equal(t, "bob", res.Entry.DisplayName())
}

func TestLedger_LoadDegradesWhenGatewayUnavailable(t *testing.T) {
	for _, cause := range []error{ErrGatewayClosed, ErrGatewayUnavailable} {
		t.Run(cause.Error(), func(t *testing.T) {
			gw := newFakeGateway()
			gw.loadErr = fmt.Errorf("select: %w", cause)
			l, logs := newTestLedger(gw, &syncExecutor{})
			id := uuid.New()

			res := <-l.Load(context.Background(), id, "carol")
			require.NoError(t, res.Err)
			assert.True(t, res.Entry.Balance().IsZero())
			assert.True(t, l.Cache().Contains(id))
			assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
		})
	}
}

func TestLedger_LoadPropagatesOtherErrors(t *testing.T) {
	gw := newFakeGateway()
	boom := errors.New("syntax error")
	gw.loadErr = boom
	l, logs := newTestLedger(gw, &syncExecutor{})
	id := uuid.New()

	res := <-l.Load(context.Background(), id, "dave")
	require.ErrorIs(t, res.Err, boom)
	assert.Nil(t, res.Entry)
	assert.False(t, l.Cache().Contains(id))
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestLedger_LoadKeepsLiveEntry(t *testing.T) {
	gw := newFakeGateway()
	l, _ := newTestLedger(gw, &syncExecutor{})
	id := uuid.New()

	first := <-l.Load(context.Background(), id, "erin")
	require.NoError(t, first.Err)
	_, err := first.Entry.Sum(dec("9"))
	require.NoError(t, err)

	// 库中仍是0，但缓存中的存活条目优先
	second := <-l.Load(context.Background(), id, "erin2")
	require.NoError(t, second.Err)
	assert.Same(t, first.Entry, second.Entry)
	assertBalance(t, "9", second.Entry.Balance())
	assert.Equal(t, "erin2", second.Entry.DisplayName())
}

func TestLedger_LoadExecutorClosed(t *testing.T) {
	l, _ := newTestLedger(newFakeGateway(), &syncExecutor{closed: true})

	res := <-l.Load(context.Background(), uuid.New(), "frank")
	assert.ErrorIs(t, res.Err, ErrExecutorClosed)
}

func TestLedger_UnloadKeepsQueuedMutations(t *testing.T) {
	gw := newFakeGateway()
	l, _ := newTestLedger(gw, &syncExecutor{})
	id := uuid.New()

	res := <-l.Load(context.Background(), id, "gina")
	require.NoError(t, res.Err)
	_, err := res.Entry.Sum(dec("4"))
	require.NoError(t, err)

	assert.True(t, l.Unload(id))
	assert.False(t, l.Unload(id))

	_, err = l.Entry(id)
	assert.ErrorIs(t, err, ErrEntityNotLoaded)
	assert.Equal(t, 1, l.Queue().Len())

	require.NoError(t, gw.CommitBatch(context.Background(), l.Queue().Drain(10)))
	assertBalance(t, "4", gw.balance(id))
}

func TestLedger_ObserveAppliesToLoadedEntries(t *testing.T) {
	l, _ := newTestLedger(newFakeGateway(), &syncExecutor{})
	l.Observe(func(c Change) Decision {
		if c.Proposed.IsNegative() {
			return Veto()
		}
		return Proceed(c.Proposed)
	})

	res := <-l.Load(context.Background(), uuid.New(), "hank")
	require.NoError(t, res.Err)

	r, err := res.Entry.Subtract(dec("1"))
	require.NoError(t, err)
	assert.True(t, r.Vetoed)
	assert.True(t, l.Queue().IsEmpty())
}
