package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jihoon/wonfolio/internal/database"
	"github.com/jihoon/wonfolio/internal/domain"
)

// FXResolver converts currencies at trade time. Satisfied by
// marketdata.FXService.
type FXResolver interface {
	GetRate(ctx context.Context, from, to string) (*domain.FXRate, error)
}

// Revaluer runs a valuation pass after a trade changes the book.
// Satisfied by valuation.Service; optional.
type Revaluer interface {
	RevalueUser(ctx context.Context, userID string) error
}

// keyLock serializes trades on the same (user, account, symbol).
// Different keys proceed concurrently.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*sync.Mutex)}
}

func (k *keyLock) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if m, ok := k.locks[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	k.locks[key] = m
	return m
}

// BuyOrder is a purchase request. Price is the KRW unit price; foreign
// instruments capture the USD cost basis at the trade-time FX rate.
type BuyOrder struct {
	UserID     string    `json:"user_id"`
	Account    string    `json:"account"`
	Symbol     string    `json:"symbol"`
	Name       string    `json:"name"`
	Market     string    `json:"market"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Fee        float64   `json:"fee"`
	Tax        float64   `json:"tax"`
	Memo       string    `json:"memo"`
	ExecutedAt time.Time `json:"executed_at"`
}

// SellOrder is a sale request. Price is the KRW unit price.
type SellOrder struct {
	UserID     string    `json:"user_id"`
	Account    string    `json:"account"`
	Symbol     string    `json:"symbol"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Fee        float64   `json:"fee"`
	Tax        float64   `json:"tax"`
	Memo       string    `json:"memo"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Service executes buy and sell orders against the position ledger.
type Service struct {
	db        *sql.DB
	positions *PositionRepository
	txns      *TransactionRepository
	fx        FXResolver
	revaluer  Revaluer
	clock     domain.Clock
	locks     *keyLock
	log       zerolog.Logger
}

// NewService creates a ledger service.
func NewService(db *sql.DB, positions *PositionRepository, txns *TransactionRepository, fx FXResolver, clock domain.Clock, log zerolog.Logger) *Service {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Service{
		db:        db,
		positions: positions,
		txns:      txns,
		fx:        fx,
		clock:     clock,
		locks:     newKeyLock(),
		log:       log.With().Str("service", "ledger").Logger(),
	}
}

// SetRevaluer installs the post-trade valuation hook. Separate from the
// constructor because valuation is built on top of the ledger.
func (s *Service) SetRevaluer(r Revaluer) {
	s.revaluer = r
}

func validateOrder(userID, account, symbol string, quantity, price float64) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(account) == "" || strings.TrimSpace(symbol) == "" {
		return fmt.Errorf("%w: user, account and symbol are required", domain.ErrInvalidOrder)
	}
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidOrder)
	}
	// Zero is a valid price: grants and transfers book at no cost.
	if price < 0 {
		return fmt.Errorf("%w: price must not be negative", domain.ErrInvalidOrder)
	}
	return nil
}

// Buy opens or grows a position. The average cost is quantity-weighted
// across all buys; the position row and the transaction row commit
// atomically.
func (s *Service) Buy(ctx context.Context, order BuyOrder) (*domain.Position, error) {
	if err := validateOrder(order.UserID, order.Account, order.Symbol, order.Quantity, order.Price); err != nil {
		return nil, err
	}

	executedAt := order.ExecutedAt
	if executedAt.IsZero() {
		executedAt = s.clock.Now()
	}

	// Capture the trade-time USD cost for foreign instruments. A missing
	// rate leaves the USD basis unset rather than failing the trade.
	var priceUSD *float64
	if order.Market != domain.MarketKR {
		if rate, err := s.fx.GetRate(ctx, "USD", "KRW"); err == nil && rate.Rate > 0 {
			usd := order.Price / rate.Rate
			priceUSD = &usd
		} else if err != nil {
			s.log.Warn().Err(err).Str("symbol", order.Symbol).Msg("no FX rate at trade time, skipping USD cost basis")
		}
	}

	key := order.UserID + "|" + order.Account + "|" + order.Symbol
	lock := s.locks.get(key)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.positions.GetByKey(order.UserID, order.Account, order.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}

	account := order.Account
	symbol := order.Symbol
	txn := &domain.Transaction{
		ID:              uuid.New().String(),
		UserID:          order.UserID,
		PositionAccount: &account,
		PositionSymbol:  &symbol,
		Symbol:          order.Symbol,
		Type:            domain.TransactionBuy,
		Quantity:        order.Quantity,
		Price:           order.Price,
		Fee:             order.Fee,
		Tax:             order.Tax,
		Memo:            order.Memo,
		ExecutedAt:      executedAt,
	}

	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if existing == nil {
			p := &domain.Position{
				UserID:      order.UserID,
				Account:     order.Account,
				Symbol:      order.Symbol,
				Name:        order.Name,
				Market:      order.Market,
				Quantity:    order.Quantity,
				AvgPriceKRW: order.Price,
				AvgPriceUSD: priceUSD,
				LastUpdated: executedAt,
			}
			if err := s.positions.InsertTx(tx, p); err != nil {
				return err
			}
			return s.txns.InsertTx(tx, txn)
		}

		newQty := existing.Quantity + order.Quantity
		newAvgKRW := (existing.AvgPriceKRW*existing.Quantity + order.Price*order.Quantity) / newQty
		newAvgUSD := weightedUSD(existing.AvgPriceUSD, existing.Quantity, priceUSD, order.Quantity)

		if err := s.positions.UpdateTradeTx(tx, order.UserID, order.Account, order.Symbol, newQty, newAvgKRW, newAvgUSD, executedAt); err != nil {
			return err
		}
		return s.txns.InsertTx(tx, txn)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: buy %s: %v", domain.ErrPersistenceFailure, order.Symbol, err)
	}

	s.log.Info().
		Str("user", order.UserID).
		Str("symbol", order.Symbol).
		Float64("quantity", order.Quantity).
		Float64("price", order.Price).
		Msg("buy executed")

	s.revalueAfterTrade(ctx, order.UserID)

	position, err := s.positions.GetByKey(order.UserID, order.Account, order.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	return position, nil
}

// Sell shrinks or closes a position. Selling more than held is rejected
// with no effect. A full-quantity sell deletes the position; its
// transactions survive with the position reference detached.
func (s *Service) Sell(ctx context.Context, order SellOrder) (*domain.Transaction, error) {
	if err := validateOrder(order.UserID, order.Account, order.Symbol, order.Quantity, order.Price); err != nil {
		return nil, err
	}

	executedAt := order.ExecutedAt
	if executedAt.IsZero() {
		executedAt = s.clock.Now()
	}

	key := order.UserID + "|" + order.Account + "|" + order.Symbol
	lock := s.locks.get(key)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.positions.GetByKey(order.UserID, order.Account, order.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrPositionNotFound, order.Account, order.Symbol)
	}
	if order.Quantity > existing.Quantity {
		return nil, fmt.Errorf("%w: selling %.4f but holding %.4f",
			domain.ErrInsufficientQuantity, order.Quantity, existing.Quantity)
	}

	realized := (order.Price-existing.AvgPriceKRW)*order.Quantity - order.Fee - order.Tax

	account := order.Account
	symbol := order.Symbol
	txn := &domain.Transaction{
		ID:              uuid.New().String(),
		UserID:          order.UserID,
		PositionAccount: &account,
		PositionSymbol:  &symbol,
		Symbol:          order.Symbol,
		Type:            domain.TransactionSell,
		Quantity:        order.Quantity,
		Price:           order.Price,
		Fee:             order.Fee,
		Tax:             order.Tax,
		RealizedPnL:     &realized,
		Memo:            order.Memo,
		ExecutedAt:      executedAt,
	}

	newQty := existing.Quantity - order.Quantity

	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if err := s.txns.InsertTx(tx, txn); err != nil {
			return err
		}
		if newQty == 0 {
			// Closing sell. The detach also clears the reference on the
			// sell transaction just written, which is the desired end
			// state for a closed position's history.
			return s.positions.DeleteTx(tx, order.UserID, order.Account, order.Symbol)
		}
		return s.positions.UpdateTradeTx(tx, order.UserID, order.Account, order.Symbol,
			newQty, existing.AvgPriceKRW, existing.AvgPriceUSD, executedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: sell %s: %v", domain.ErrPersistenceFailure, order.Symbol, err)
	}

	s.log.Info().
		Str("user", order.UserID).
		Str("symbol", order.Symbol).
		Float64("quantity", order.Quantity).
		Float64("realized_pnl", realized).
		Bool("closed", newQty == 0).
		Msg("sell executed")

	s.revalueAfterTrade(ctx, order.UserID)

	return txn, nil
}

// Positions returns every position held by a user.
func (s *Service) Positions(userID string) ([]domain.Position, error) {
	return s.positions.GetAllForUser(userID)
}

// Position returns one position, or ErrPositionNotFound.
func (s *Service) Position(userID, account, symbol string) (*domain.Position, error) {
	p, err := s.positions.GetByKey(userID, account, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrPositionNotFound, account, symbol)
	}
	return p, nil
}

// Transactions returns the user's latest trades, newest first.
func (s *Service) Transactions(userID string, limit int) ([]TransactionRecord, error) {
	return s.txns.ListForUser(userID, limit)
}

// UpdatePosition applies a partial update to position metadata.
func (s *Service) UpdatePosition(userID, account, symbol string, patch PositionPatch) error {
	return s.positions.ApplyPatch(userID, account, symbol, patch, s.clock.Now())
}

func (s *Service) revalueAfterTrade(ctx context.Context, userID string) {
	if s.revaluer == nil {
		return
	}
	if err := s.revaluer.RevalueUser(ctx, userID); err != nil {
		// Valuation is derived state; the trade already committed.
		s.log.Warn().Err(err).Str("user", userID).Msg("post-trade valuation failed")
	}
}

// weightedUSD blends the USD cost basis across buys. If either side is
// missing a USD price the known side carries over unchanged.
func weightedUSD(existing *float64, existingQty float64, incoming *float64, incomingQty float64) *float64 {
	switch {
	case existing != nil && incoming != nil:
		blended := (*existing*existingQty + *incoming*incomingQty) / (existingQty + incomingQty)
		return &blended
	case existing != nil:
		return existing
	case incoming != nil:
		return incoming
	default:
		return nil
	}
}
