package mq

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"economy/internal/model"
)

func TestPublisher_SendsOneEventPerMutation(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	id := uuid.New()
	ts := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	var events []BalanceEvent
	check := func(val []byte) error {
		var e BalanceEvent
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		events = append(events, e)
		return nil
	}
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(check)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(check)

	p := NewPublisher(producer, "economy.balance")
	err := p.OnCommit(context.Background(), []model.PendingMutation{
		{ID: 1, EntityID: id, DisplayName: "alice", Balance: decimal.NewFromInt(3), Timestamp: ts},
		{ID: 2, EntityID: id, DisplayName: "alice", Balance: decimal.NewFromInt(5), Timestamp: ts},
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())

	require.Len(t, events, 2)
	assert.Equal(t, "1", events[0].MutationID)
	assert.Equal(t, id.String(), events[1].EntityID)
	assert.Equal(t, "5", events[1].Balance)
	assert.True(t, ts.Equal(events[1].Timestamp))
}

func TestPublisher_ReturnsBrokerError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	p := NewPublisher(producer, "economy.balance")
	err := p.OnCommit(context.Background(), []model.PendingMutation{
		{ID: 1, EntityID: uuid.New(), Balance: decimal.NewFromInt(1)},
	})
	assert.Error(t, err)
	require.NoError(t, p.Close())
}
