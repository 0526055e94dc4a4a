package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"economy/internal/ledger"
	"economy/internal/model"
)

var ErrAccountNotFound = errors.New("账户不存在")

// AccountRepository 基于 gorm 的持久化网关
type AccountRepository struct {
	db     *gorm.DB
	closed atomic.Bool
	now    func() time.Time
}

var _ ledger.Gateway = (*AccountRepository)(nil)

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db, now: time.Now}
}

// EnsureSchema 自动迁移表结构，可重复执行
func (r *AccountRepository) EnsureSchema(ctx context.Context) error {
	if r.closed.Load() {
		return ledger.ErrGatewayClosed
	}
	err := r.db.WithContext(ctx).AutoMigrate(
		&model.Account{},
		&model.DeadLetter{},
	)
	return classify(err)
}

func (r *AccountRepository) GetByEntityID(ctx context.Context, entityID uuid.UUID) (model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("entity_id = ?", entityID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Account{}, ErrAccountNotFound
		}
		return model.Account{}, err
	}
	return account, nil
}

// LoadEntity 查询或创建零余额账户；展示名不一致时以传入的为准
func (r *AccountRepository) LoadEntity(ctx context.Context, entityID uuid.UUID, fallbackName string) (model.Account, error) {
	if r.closed.Load() {
		return model.Account{}, ledger.ErrGatewayClosed
	}

	account, err := r.GetByEntityID(ctx, entityID)
	if errors.Is(err, ErrAccountNotFound) {
		account, err = r.create(ctx, entityID, fallbackName)
	}
	if err != nil {
		return model.Account{}, classify(err)
	}

	if fallbackName != "" && account.DisplayName != fallbackName {
		err := r.db.WithContext(ctx).
			Model(&model.Account{}).
			Where("entity_id = ?", entityID).
			Update("display_name", fallbackName).Error
		if err != nil {
			return model.Account{}, classify(err)
		}
		account.DisplayName = fallbackName
	}

	return account, nil
}

// create 并发创建时以先写入者为准，然后重新读取
func (r *AccountRepository) create(ctx context.Context, entityID uuid.UUID, name string) (model.Account, error) {
	newAccount := model.NewAccount(entityID, name, r.now())

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_id"}},
			DoNothing: true,
		}).
		Create(&newAccount).Error
	if err != nil {
		return model.Account{}, err
	}

	return r.GetByEntityID(ctx, entityID)
}

// CommitBatch 在一个事务中按顺序 upsert 整批变更
//
// 每条变更写入绝对余额，同一实体后写覆盖先写；影响行数与变更数不一致时回滚
func (r *AccountRepository) CommitBatch(ctx context.Context, batch []model.PendingMutation) error {
	if r.closed.Load() {
		return ledger.ErrGatewayClosed
	}
	if len(batch) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var applied int
		for _, m := range batch {
			row := model.Account{
				EntityID:    m.EntityID,
				DisplayName: m.DisplayName,
				Balance:     model.NewAmount(m.Balance),
				CreatedAt:   m.Timestamp,
				UpdatedAt:   m.Timestamp,
			}

			result := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "entity_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"display_name", "balance", "updated_at"}),
			}).Create(&row)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected > 0 {
				applied++
			}
		}

		if applied != len(batch) {
			return fmt.Errorf("%w: applied %d of %d", ledger.ErrBatchMismatch, applied, len(batch))
		}
		return nil
	})
	return classify(err)
}

// Close 关闭连接池，幂等
func (r *AccountRepository) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// classify 把连接级错误归为 ErrGatewayUnavailable，其他错误原样返回
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ledger.ErrBatchMismatch) || ledger.IsUnavailable(err) {
		return err
	}

	var opErr *net.OpError
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ledger.ErrGatewayUnavailable, err)
	}
	return err
}
