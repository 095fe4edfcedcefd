package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alanyoungcy/carbonex/internal/certificate"
	"github.com/alanyoungcy/carbonex/internal/domain"
)

const (
	tracerName = "github.com/alanyoungcy/carbonex/internal/service"

	defaultLockTTL    = 30 * time.Second
	defaultLockWait   = 2 * time.Second
	lockRetryInterval = 20 * time.Millisecond
)

// CertificateIssuer issues retirement certificates after a retirement
// commits.
type CertificateIssuer interface {
	Issue(ctx context.Context, rec domain.RetirementRecord, credit domain.Credit) (certificate.Certificate, error)
}

// ExchangeConfig tunes the per-asset lock.
type ExchangeConfig struct {
	LockTTL  time.Duration // lease length of an asset lock
	LockWait time.Duration // how long an operation waits for a held lock
}

// Exchange is the listing lifecycle engine. Every operation holds the
// asset's lock and runs in one store transaction; adapter effects performed
// before a failure are compensated in reverse order.
type Exchange struct {
	store    domain.Store
	custody  domain.CustodyAdapter
	payments domain.PaymentAdapter
	locks    domain.LockManager
	events   domain.EventSink
	cache    domain.ListingCache
	certs    CertificateIssuer
	tracer   trace.Tracer
	logger   *slog.Logger
	nowFn    func() time.Time
	lockTTL  time.Duration
	lockWait time.Duration
}

// NewExchange creates an Exchange with all required dependencies.
func NewExchange(
	store domain.Store,
	custody domain.CustodyAdapter,
	payments domain.PaymentAdapter,
	locks domain.LockManager,
	events domain.EventSink,
	cfg ExchangeConfig,
	logger *slog.Logger,
) *Exchange {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = defaultLockWait
	}
	return &Exchange{
		store:    store,
		custody:  custody,
		payments: payments,
		locks:    locks,
		events:   events,
		tracer:   otel.Tracer(tracerName),
		logger:   logger.With(slog.String("component", "exchange")),
		nowFn:    time.Now,
		lockTTL:  cfg.LockTTL,
		lockWait: cfg.LockWait,
	}
}

// WithListingCache invalidates cache entries on every transition.
func (e *Exchange) WithListingCache(c domain.ListingCache) *Exchange {
	e.cache = c
	return e
}

// WithCertificates issues a certificate after each retirement.
func (e *Exchange) WithCertificates(c CertificateIssuer) *Exchange {
	e.certs = c
	return e
}

// List offers owner's asset for sale at price and freezes it in custody.
func (e *Exchange) List(ctx context.Context, owner common.Address, assetID string, price uint64) (domain.Listing, error) {
	ctx, span := e.startSpan(ctx, "exchange.List", assetID, attribute.String("owner", owner.Hex()))
	defer span.End()

	if price == 0 || price > math.MaxInt64 {
		return domain.Listing{}, e.fail(ctx, span, "list", assetID, fmt.Errorf("exchange: list %s: %w", assetID, domain.ErrInvalidPrice))
	}
	if err := domain.ValidateAssetID(assetID); err != nil {
		return domain.Listing{}, e.fail(ctx, span, "list", assetID, err)
	}

	unlock, err := e.lockAsset(ctx, assetID)
	if err != nil {
		return domain.Listing{}, e.fail(ctx, span, "list", assetID, err)
	}
	defer unlock()

	listing := domain.Listing{
		AssetID:   assetID,
		Owner:     owner,
		Price:     price,
		CreatedAt: e.nowFn().UTC(),
	}
	var comp compensations
	err = e.store.WithTx(ctx, func(tx domain.Tx) error {
		if err := ensureNotRetired(ctx, tx, assetID); err != nil {
			return err
		}
		if _, err := tx.Listings().Get(ctx, assetID); err == nil {
			return domain.ErrListingExists
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err := e.requireSingleUnit(ctx, assetID, owner); err != nil {
			return err
		}
		if err := tx.Listings().Create(ctx, listing); err != nil {
			return err
		}
		if err := setCreditState(ctx, tx, assetID, owner, domain.CreditStatusListed); err != nil {
			return err
		}
		if err := tx.Audit().Log(ctx, "listing.created", map[string]any{
			"asset_id": assetID,
			"owner":    owner.Hex(),
			"price":    price,
		}); err != nil {
			return err
		}
		if err := e.custody.Freeze(ctx, assetID, owner); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrFreezeFailed, err)
		}
		comp.add("unfreeze", func(ctx context.Context) error {
			return e.custody.Unfreeze(ctx, assetID, owner)
		})
		return nil
	})
	if err != nil {
		err = e.rollback(ctx, &comp, fmt.Errorf("exchange: list %s: %w", assetID, err))
		return domain.Listing{}, e.fail(ctx, span, "list", assetID, err)
	}

	e.invalidate(ctx, assetID)
	e.logger.InfoContext(ctx, "listing created",
		slog.String("asset_id", assetID),
		slog.String("owner", owner.Hex()),
		slog.Uint64("price", price),
	)
	e.emit(ctx, domain.ListingCreated{
		AssetID:   assetID,
		Owner:     owner,
		Price:     price,
		Timestamp: listing.CreatedAt,
	})
	return listing, nil
}

// Buy purchases seller's listed asset for buyer at the listed price.
// Payment settles first; any later failure refunds it and restores the
// seller's frozen unit.
func (e *Exchange) Buy(ctx context.Context, buyer, seller common.Address, assetID string) (domain.Sale, error) {
	return e.buy(ctx, buyer, seller, assetID, 0)
}

// BuyWithLimit is Buy that fails with domain.ErrPriceAboveLimit when the
// listed price exceeds maxPrice.
func (e *Exchange) BuyWithLimit(ctx context.Context, buyer, seller common.Address, assetID string, maxPrice uint64) (domain.Sale, error) {
	if maxPrice == 0 {
		return domain.Sale{}, fmt.Errorf("exchange: buy %s: %w", assetID, domain.ErrInvalidPrice)
	}
	return e.buy(ctx, buyer, seller, assetID, maxPrice)
}

// buy implements Buy; a zero maxPrice accepts any listed price.
func (e *Exchange) buy(ctx context.Context, buyer, seller common.Address, assetID string, maxPrice uint64) (domain.Sale, error) {
	ctx, span := e.startSpan(ctx, "exchange.Buy", assetID,
		attribute.String("buyer", buyer.Hex()),
		attribute.String("seller", seller.Hex()),
	)
	defer span.End()

	if buyer == seller {
		return domain.Sale{}, e.fail(ctx, span, "buy", assetID, fmt.Errorf("exchange: buy %s: %w", assetID, domain.ErrSelfPurchase))
	}
	if err := domain.ValidateAssetID(assetID); err != nil {
		return domain.Sale{}, e.fail(ctx, span, "buy", assetID, err)
	}

	unlock, err := e.lockAsset(ctx, assetID)
	if err != nil {
		return domain.Sale{}, e.fail(ctx, span, "buy", assetID, err)
	}
	defer unlock()

	var (
		sale domain.Sale
		comp compensations
	)
	err = e.store.WithTx(ctx, func(tx domain.Tx) error {
		listing, err := tx.Listings().Get(ctx, assetID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrListingNotFound
		}
		if err != nil {
			return err
		}
		if listing.Owner != seller {
			return domain.ErrInvalidOwner
		}
		if maxPrice > 0 && listing.Price > maxPrice {
			return fmt.Errorf("%w: listed at %d, limit %d", domain.ErrPriceAboveLimit, listing.Price, maxPrice)
		}
		if err := e.requireSingleUnit(ctx, assetID, seller); err != nil {
			return err
		}
		frozen, err := e.custody.IsFrozen(ctx, assetID, seller)
		if err != nil {
			return fmt.Errorf("custody frozen state: %w", err)
		}
		if !frozen {
			return domain.ErrNotLocked
		}
		funds, err := e.payments.Balance(ctx, buyer)
		if err != nil {
			return fmt.Errorf("payment balance: %w", err)
		}
		if funds < listing.Price {
			return domain.ErrInsufficientFunds
		}

		if err := e.payments.Transfer(ctx, buyer, seller, listing.Price); err != nil {
			if errors.Is(err, domain.ErrInsufficientFunds) {
				return err
			}
			return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
		}
		comp.add("refund", func(ctx context.Context) error {
			return e.payments.Transfer(ctx, seller, buyer, listing.Price)
		})

		if err := e.custody.Unfreeze(ctx, assetID, seller); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrFreezeFailed, err)
		}
		comp.add("refreeze", func(ctx context.Context) error {
			return e.custody.Freeze(ctx, assetID, seller)
		})

		if err := e.custody.Transfer(ctx, assetID, seller, buyer, 1); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrTokenTransferFailed, err)
		}
		comp.add("return asset", func(ctx context.Context) error {
			return e.custody.Transfer(ctx, assetID, buyer, seller, 1)
		})

		if err := tx.Listings().Delete(ctx, assetID); err != nil {
			return err
		}
		if err := setCreditState(ctx, tx, assetID, buyer, domain.CreditStatusActive); err != nil {
			return err
		}
		sale = domain.Sale{
			ID:          uuid.NewString(),
			AssetID:     assetID,
			Seller:      seller,
			Buyer:       buyer,
			Price:       listing.Price,
			CompletedAt: e.nowFn().UTC(),
		}
		if err := tx.Sales().Insert(ctx, sale); err != nil {
			return err
		}
		return tx.Audit().Log(ctx, "sale.completed", map[string]any{
			"sale_id":  sale.ID,
			"asset_id": assetID,
			"seller":   seller.Hex(),
			"buyer":    buyer.Hex(),
			"price":    listing.Price,
		})
	})
	if err != nil {
		err = e.rollback(ctx, &comp, fmt.Errorf("exchange: buy %s: %w", assetID, err))
		return domain.Sale{}, e.fail(ctx, span, "buy", assetID, err)
	}

	e.invalidate(ctx, assetID)
	e.logger.InfoContext(ctx, "sale completed",
		slog.String("asset_id", assetID),
		slog.String("sale_id", sale.ID),
		slog.String("seller", seller.Hex()),
		slog.String("buyer", buyer.Hex()),
		slog.Uint64("price", sale.Price),
	)
	e.emit(ctx, domain.SaleCompleted{
		AssetID:       assetID,
		Seller:        seller,
		Buyer:         buyer,
		Price:         sale.Price,
		Timestamp:     sale.CompletedAt,
		ListingClosed: true,
	})
	return sale, nil
}

// Cancel withdraws owner's listing and unfreezes the asset.
func (e *Exchange) Cancel(ctx context.Context, owner common.Address, assetID string) error {
	ctx, span := e.startSpan(ctx, "exchange.Cancel", assetID, attribute.String("owner", owner.Hex()))
	defer span.End()

	if err := domain.ValidateAssetID(assetID); err != nil {
		return e.fail(ctx, span, "cancel", assetID, err)
	}
	unlock, err := e.lockAsset(ctx, assetID)
	if err != nil {
		return e.fail(ctx, span, "cancel", assetID, err)
	}
	defer unlock()

	var comp compensations
	err = e.store.WithTx(ctx, func(tx domain.Tx) error {
		listing, err := tx.Listings().Get(ctx, assetID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrListingNotFound
		}
		if err != nil {
			return err
		}
		if listing.Owner != owner {
			return domain.ErrInvalidOwner
		}
		if err := tx.Listings().Delete(ctx, assetID); err != nil {
			return err
		}
		if err := setCreditState(ctx, tx, assetID, owner, domain.CreditStatusActive); err != nil {
			return err
		}
		if err := tx.Audit().Log(ctx, "listing.cancelled", map[string]any{
			"asset_id": assetID,
			"owner":    owner.Hex(),
		}); err != nil {
			return err
		}
		if err := e.custody.Unfreeze(ctx, assetID, owner); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrFreezeFailed, err)
		}
		comp.add("refreeze", func(ctx context.Context) error {
			return e.custody.Freeze(ctx, assetID, owner)
		})
		return nil
	})
	if err != nil {
		err = e.rollback(ctx, &comp, fmt.Errorf("exchange: cancel %s: %w", assetID, err))
		return e.fail(ctx, span, "cancel", assetID, err)
	}

	e.invalidate(ctx, assetID)
	e.logger.InfoContext(ctx, "listing cancelled",
		slog.String("asset_id", assetID),
		slog.String("owner", owner.Hex()),
	)
	e.emit(ctx, domain.ListingCancelled{
		AssetID:   assetID,
		Owner:     owner,
		Timestamp: e.nowFn().UTC(),
	})
	return nil
}

// Retire burns owner's asset on behalf of beneficiary and appends it to the
// retirement ledger. Listed assets must be cancelled first. An empty reason
// records domain.DefaultRetirementReason; the beneficiary goes through
// domain.NormalizeBeneficiary.
func (e *Exchange) Retire(ctx context.Context, owner common.Address, assetID, beneficiary, reason string) (domain.RetirementRecord, error) {
	ctx, span := e.startSpan(ctx, "exchange.Retire", assetID, attribute.String("owner", owner.Hex()))
	defer span.End()

	if err := domain.ValidateAssetID(assetID); err != nil {
		return domain.RetirementRecord{}, e.fail(ctx, span, "retire", assetID, err)
	}
	if reason == "" {
		reason = domain.DefaultRetirementReason
	}
	beneficiary, err := domain.NormalizeBeneficiary(beneficiary, owner)
	if err != nil {
		return domain.RetirementRecord{}, e.fail(ctx, span, "retire", assetID, err)
	}

	unlock, err := e.lockAsset(ctx, assetID)
	if err != nil {
		return domain.RetirementRecord{}, e.fail(ctx, span, "retire", assetID, err)
	}
	defer unlock()

	rec := domain.RetirementRecord{
		AssetID:        assetID,
		Owner:          owner,
		Beneficiary:    beneficiary,
		Reason:         reason,
		RetirementDate: e.nowFn().UTC(),
	}
	var (
		credit    domain.Credit
		hasCredit bool
		remaining uint64
	)
	// A burned unit cannot come back, so once the burn is issued the
	// transaction must commit even if the caller goes away.
	txCtx := context.WithoutCancel(ctx)
	err = e.store.WithTx(txCtx, func(tx domain.Tx) error {
		if err := ensureNotRetired(txCtx, tx, assetID); err != nil {
			return err
		}
		if _, err := tx.Listings().Get(txCtx, assetID); err == nil {
			return domain.ErrAssetListed
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err := e.requireSingleUnit(txCtx, assetID, owner); err != nil {
			return err
		}
		if err := tx.Retirements().Insert(txCtx, rec); err != nil {
			return err
		}
		var err error
		if remaining, err = recordRetire(txCtx, tx); err != nil {
			return err
		}
		if credit, err = tx.Credits().Get(txCtx, assetID); err == nil {
			hasCredit = true
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err := setCreditState(txCtx, tx, assetID, owner, domain.CreditStatusRetired); err != nil {
			return err
		}
		if err := tx.Audit().Log(txCtx, "credit.retired", map[string]any{
			"asset_id":    assetID,
			"owner":       owner.Hex(),
			"beneficiary": beneficiary,
			"reason":      reason,
		}); err != nil {
			return err
		}
		// Last chance to abandon: nothing irreversible has happened yet.
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.custody.Burn(txCtx, assetID, owner, 1); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrTokenBurnFailed, err)
		}
		return nil
	})
	if err != nil {
		return domain.RetirementRecord{}, e.fail(ctx, span, "retire", assetID, fmt.Errorf("exchange: retire %s: %w", assetID, err))
	}

	e.invalidate(txCtx, assetID)
	e.logger.InfoContext(ctx, "credit retired",
		slog.String("asset_id", assetID),
		slog.String("owner", owner.Hex()),
		slog.String("beneficiary", beneficiary),
		slog.Uint64("total_assets", remaining),
	)
	e.emit(txCtx, domain.CreditRetired{
		AssetID:        assetID,
		Owner:          owner,
		Beneficiary:    beneficiary,
		RetirementDate: rec.RetirementDate,
	})
	if e.certs != nil {
		if !hasCredit {
			credit = domain.Credit{AssetID: assetID, Owner: owner}
		}
		if cert, err := e.certs.Issue(txCtx, rec, credit); err != nil {
			e.logger.ErrorContext(ctx, "certificate issue failed",
				slog.String("asset_id", assetID),
				slog.String("error", err.Error()),
			)
		} else {
			e.logger.InfoContext(ctx, "certificate issued",
				slog.String("asset_id", assetID),
				slog.String("cid", cert.CID),
			)
		}
	}
	return rec, nil
}

func (e *Exchange) startSpan(ctx context.Context, name, assetID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("asset.id", assetID))
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// lockAsset takes the asset's lock, retrying while another operation on the
// same asset holds it.
func (e *Exchange) lockAsset(ctx context.Context, assetID string) (func(), error) {
	key := "asset:" + assetID
	deadline := e.nowFn().Add(e.lockWait)
	for {
		unlock, err := e.locks.Acquire(ctx, key, e.lockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) || !e.nowFn().Before(deadline) {
			return nil, fmt.Errorf("exchange: lock %s: %w", assetID, err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("exchange: lock %s: %w", assetID, ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
}

func (e *Exchange) requireSingleUnit(ctx context.Context, assetID string, holder common.Address) error {
	units, err := e.custody.Balance(ctx, assetID, holder)
	if err != nil {
		return fmt.Errorf("custody balance: %w", err)
	}
	if units != 1 {
		return domain.ErrInvalidTokenBalance
	}
	return nil
}

// rollback runs the compensations registered before cause and joins any
// that fail onto the returned error.
func (e *Exchange) rollback(ctx context.Context, comp *compensations, cause error) error {
	failed := comp.run(context.WithoutCancel(ctx))
	for _, err := range failed {
		e.logger.ErrorContext(ctx, "compensation failed",
			slog.String("cause", cause.Error()),
			slog.String("error", err.Error()),
		)
	}
	if len(failed) == 0 {
		return cause
	}
	return errors.Join(append([]error{cause}, failed...)...)
}

func (e *Exchange) fail(ctx context.Context, span trace.Span, op, assetID string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, domain.ErrorCode(err))
	e.logger.WarnContext(ctx, "operation rejected",
		slog.String("op", op),
		slog.String("asset_id", assetID),
		slog.String("code", domain.ErrorCode(err)),
		slog.String("error", err.Error()),
	)
	return err
}

func (e *Exchange) invalidate(ctx context.Context, assetID string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx, assetID); err != nil {
		e.logger.WarnContext(ctx, "listing cache invalidate failed",
			slog.String("asset_id", assetID),
			slog.String("error", err.Error()),
		)
	}
}

// emit publishes a committed event. Failures are logged only: the
// transition and its audit row are already durable.
func (e *Exchange) emit(ctx context.Context, ev domain.Event) {
	if e.events == nil {
		return
	}
	if err := e.events.Emit(ctx, ev); err != nil {
		e.logger.ErrorContext(ctx, "event emit failed",
			slog.String("type", string(ev.Type())),
			slog.String("asset_id", ev.Asset()),
			slog.String("error", err.Error()),
		)
	}
}

func ensureNotRetired(ctx context.Context, tx domain.Tx, assetID string) error {
	_, err := tx.Retirements().Get(ctx, assetID)
	switch {
	case err == nil:
		return domain.ErrAlreadyRetired
	case errors.Is(err, domain.ErrNotFound):
		return nil
	default:
		return err
	}
}

// setCreditState updates the catalogue row. Assets minted outside the
// exchange have no row and are skipped.
func setCreditState(ctx context.Context, tx domain.Tx, assetID string, owner common.Address, status domain.CreditStatus) error {
	err := tx.Credits().UpdateState(ctx, assetID, owner, status)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}
