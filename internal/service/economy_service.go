package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"economy/internal/config"
	"economy/internal/ledger"
	"economy/internal/model"
)

var (
	ErrInvalidAmount     = errors.New("金额格式错误")
	ErrAmountNotPositive = errors.New("金额必须大于0")
	ErrBalanceNotEnough  = errors.New("余额不足")
	ErrSelfTransfer      = errors.New("不能给自己转账")
	ErrCooldown          = errors.New("冷却中，请稍后再试")
	ErrForbidden         = errors.New("没有权限")
	ErrVetoed            = errors.New("操作被拒绝")
)

// Cooldown 冷却锁，见 lock.RedisCooldown / lock.LocalCooldown
type Cooldown interface {
	TryAcquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// DeadLetterReader 死信查询
type DeadLetterReader interface {
	ListRecent(ctx context.Context, limit int) ([]model.DeadLetter, error)
}

// EconomyService 调用层：会话加载/卸载和带业务校验的余额操作
//
// 余额是否足够、金额是否合法都在这里校验，ledger 只负责记账
type EconomyService struct {
	ledger      *ledger.Ledger
	cooldown    Cooldown
	deadLetters DeadLetterReader
	operators   map[uuid.UUID]struct{}
	earnMin     int64
	earnMax     int64
	randN       func(n int64) int64
	beforeDebit func(from uuid.UUID) // 余额检查之后、扣款之前调用，测试用
	logger      *zap.Logger
}

func NewEconomyService(l *ledger.Ledger, cooldown Cooldown, deadLetters DeadLetterReader, cfg config.EconomyConfig, logger *zap.Logger) *EconomyService {
	if logger == nil {
		logger = zap.NewNop()
	}

	operators := make(map[uuid.UUID]struct{}, len(cfg.Operators))
	for _, op := range cfg.Operators {
		// 配置校验时已保证格式
		if id, err := uuid.Parse(op); err == nil {
			operators[id] = struct{}{}
		}
	}

	return &EconomyService{
		ledger:      l,
		cooldown:    cooldown,
		deadLetters: deadLetters,
		operators:   operators,
		earnMin:     cfg.EarnMin,
		earnMax:     cfg.EarnMax,
		randN:       rand.Int63n,
		logger:      logger,
	}
}

// Login 会话开始：加载实体到缓存
func (s *EconomyService) Login(ctx context.Context, entityID uuid.UUID, displayName string) (model.Account, error) {
	select {
	case res := <-s.ledger.Load(ctx, entityID, displayName):
		if res.Err != nil {
			return model.Account{}, res.Err
		}
		return res.Entry.Snapshot(), nil
	case <-ctx.Done():
		return model.Account{}, ctx.Err()
	}
}

// Logout 会话结束：只移出缓存，未落库的变更照常提交
func (s *EconomyService) Logout(entityID uuid.UUID) bool {
	return s.ledger.Unload(entityID)
}

func (s *EconomyService) Balance(entityID uuid.UUID) (model.Account, error) {
	entry, err := s.ledger.Entry(entityID)
	if err != nil {
		return model.Account{}, err
	}
	return entry.Snapshot(), nil
}

// EarnResult 领取结果
type EarnResult struct {
	Reward  decimal.Decimal `json:"reward"`
	Balance decimal.Decimal `json:"balance"`
}

// Earn 随机领取 earn_min..earn_max，同一实体在 earn_cooldown 内只能领取一次
func (s *EconomyService) Earn(ctx context.Context, entityID uuid.UUID) (EarnResult, error) {
	entry, err := s.ledger.Entry(entityID)
	if err != nil {
		return EarnResult{}, err
	}

	key := entityID.String()
	ok, err := s.cooldown.TryAcquire(ctx, key)
	if err != nil {
		return EarnResult{}, fmt.Errorf("获取冷却锁失败: %w", err)
	}
	if !ok {
		return EarnResult{}, ErrCooldown
	}

	reward := decimal.NewFromInt(s.earnMin + s.randN(s.earnMax-s.earnMin+1))
	res, err := entry.Sum(reward)
	if err == nil && res.Vetoed {
		err = ErrVetoed
	}
	if err != nil {
		// 没领到就不算冷却
		if relErr := s.cooldown.Release(ctx, key); relErr != nil {
			s.logger.Warn("释放冷却锁失败", zap.String("entity_id", key), zap.Error(relErr))
		}
		return EarnResult{}, err
	}

	return EarnResult{Reward: reward, Balance: res.Balance}, nil
}

// TransferResult 转账后双方余额
type TransferResult struct {
	Amount          decimal.Decimal `json:"amount"`
	SenderBalance   decimal.Decimal `json:"sender_balance"`
	ReceiverBalance decimal.Decimal `json:"receiver_balance"`
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if !amount.IsPositive() {
		return decimal.Zero, ErrAmountNotPositive
	}
	return amount, nil
}

// Give 从 from 转给 to；双方都必须已加载
//
// 先扣后加：扣款前余额不足（含并发扣款导致的）或收款被否决时，把扣款加回去
func (s *EconomyService) Give(from, to uuid.UUID, rawAmount string) (TransferResult, error) {
	amount, err := parseAmount(rawAmount)
	if err != nil {
		return TransferResult{}, err
	}
	if from == to {
		return TransferResult{}, ErrSelfTransfer
	}

	sender, err := s.ledger.Entry(from)
	if err != nil {
		return TransferResult{}, err
	}
	receiver, err := s.ledger.Entry(to)
	if err != nil {
		return TransferResult{}, err
	}

	if sender.Balance().LessThan(amount) {
		return TransferResult{}, ErrBalanceNotEnough
	}
	if s.beforeDebit != nil {
		s.beforeDebit(from)
	}

	debit, err := sender.Subtract(amount)
	if err != nil {
		return TransferResult{}, err
	}
	if debit.Vetoed {
		return TransferResult{}, ErrVetoed
	}
	if debit.Previous.LessThan(amount) {
		s.refund(sender, amount)
		return TransferResult{}, ErrBalanceNotEnough
	}

	credit, err := receiver.Sum(amount)
	if err == nil && credit.Vetoed {
		err = ErrVetoed
	}
	if err != nil {
		s.refund(sender, amount)
		return TransferResult{}, err
	}

	s.logger.Info("转账成功",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Stringer("amount", amount))

	return TransferResult{
		Amount:          amount,
		SenderBalance:   debit.Balance,
		ReceiverBalance: credit.Balance,
	}, nil
}

func (s *EconomyService) refund(sender *ledger.Entry, amount decimal.Decimal) {
	res, err := sender.Sum(amount)
	if err != nil || res.Vetoed {
		// 只能记录下来人工处理
		s.logger.Error("转账回滚失败",
			zap.Stringer("entity_id", sender.EntityID()),
			zap.Stringer("amount", amount),
			zap.Bool("vetoed", res.Vetoed),
			zap.Error(err))
	}
}

// SetBalance 管理员直接设置余额
func (s *EconomyService) SetBalance(actor, target uuid.UUID, rawAmount string) (decimal.Decimal, error) {
	if _, ok := s.operators[actor]; !ok {
		return decimal.Zero, ErrForbidden
	}

	amount, err := parseAmount(rawAmount)
	if err != nil {
		return decimal.Zero, err
	}

	entry, err := s.ledger.Entry(target)
	if err != nil {
		return decimal.Zero, err
	}

	res, err := entry.SetBalance(amount)
	if err != nil {
		return decimal.Zero, err
	}
	if res.Vetoed {
		return decimal.Zero, ErrVetoed
	}

	s.logger.Info("设置余额",
		zap.Stringer("actor", actor),
		zap.Stringer("target", target),
		zap.Stringer("previous", res.Previous),
		zap.Stringer("balance", res.Balance))
	return res.Balance, nil
}

// PendingMutations 查看待落库队列的一页
func (s *EconomyService) PendingMutations(page, pageSize int) ([]model.PendingMutation, int) {
	q := s.ledger.Queue()
	return q.PeekPage(page, pageSize), q.Len()
}

// RecentDeadLetters 未配置死信存储时返回空
func (s *EconomyService) RecentDeadLetters(ctx context.Context, limit int) ([]model.DeadLetter, error) {
	if s.deadLetters == nil {
		return nil, nil
	}
	return s.deadLetters.ListRecent(ctx, limit)
}
