package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/money"
	"github.com/add-to-Cart/porma-marketplace/internal/repositories"
)

const (
	defaultTrendDays = 30
	maxTrendDays     = 365

	reportIDPrefix     = "rep_"
	consistencyArchive = "consistency"
)

// ReportArchiver stores audit reports outside the database.
type ReportArchiver interface {
	Archive(ctx context.Context, prefix, id string, generatedAt time.Time, report any) (string, error)
}

// MetricsReconcilerDeps bundles collaborators required by the reconciler.
type MetricsReconcilerDeps struct {
	Products    repositories.ProductRepository
	Orders      repositories.OrderRepository
	Sellers     repositories.SellerRepository
	Archive     ReportArchiver
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type metricsReconciler struct {
	products repositories.ProductRepository
	orders   repositories.OrderRepository
	sellers  repositories.SellerRepository
	archive  ReportArchiver
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

func NewMetricsReconciler(deps MetricsReconcilerDeps) (MetricsReconciler, error) {
	if deps.Products == nil || deps.Orders == nil || deps.Sellers == nil {
		return nil, errors.New("metrics reconciler: product, order and seller repositories are required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &metricsReconciler{
		products: deps.Products,
		orders:   deps.Orders,
		sellers:  deps.Sellers,
		archive:  deps.Archive,
		clock:    func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
	}, nil
}

// RecalculateSellerMetrics rebuilds a seller's aggregates from its products' counters.
func (r *metricsReconciler) RecalculateSellerMetrics(ctx context.Context, sellerID string) (SellerMetricsResult, error) {
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return SellerMetricsResult{}, fmt.Errorf("%w: seller id is required", ErrMetricsInvalidInput)
	}
	ctx, span := tracer.Start(ctx, "metrics.recalculate_seller", trace.WithAttributes(attribute.String("seller.id", sellerID)))
	defer span.End()

	products, err := r.products.ListBySeller(ctx, sellerID)
	if err != nil {
		endSpan(span, err)
		return SellerMetricsResult{}, r.mapError(err)
	}
	metrics, err := sumSellerProducts(products)
	if err != nil {
		endSpan(span, err)
		return SellerMetricsResult{}, err
	}
	now := r.clock()
	if _, err := r.sellers.ApplyMetrics(ctx, sellerID, metrics, now); err != nil {
		endSpan(span, err)
		return SellerMetricsResult{}, r.mapError(err)
	}
	return SellerMetricsResult{
		SellerID:          sellerID,
		TotalSales:        metrics.TotalSales,
		TotalRevenueMinor: metrics.TotalRevenueMinor,
		TotalProducts:     metrics.TotalProducts,
		SyncedAt:          now,
	}, nil
}

// SyncAllSellerMetrics recalculates every seller. A failure for one seller is reported in its
// result and does not stop the others.
func (r *metricsReconciler) SyncAllSellerMetrics(ctx context.Context) ([]SellerMetricsResult, error) {
	var ids []string
	if err := r.sellers.Scan(ctx, func(seller domain.Seller) error {
		ids = append(ids, seller.ID)
		return nil
	}); err != nil {
		return nil, r.mapError(err)
	}

	results := make([]SellerMetricsResult, 0, len(ids))
	failed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := r.RecalculateSellerMetrics(ctx, id)
		if err != nil {
			failed++
			result = SellerMetricsResult{SellerID: id, Error: err.Error()}
			r.logger(ctx, "seller_metrics_sync_failed", map[string]any{"sellerId": id, "error": err.Error()})
		}
		results = append(results, result)
	}
	r.logger(ctx, "seller_metrics_synced", map[string]any{"sellers": len(ids), "failed": failed})
	return results, nil
}

type sellerTotals struct {
	sold    int
	revenue int64
	count   int
}

// VerifyDataConsistency compares completed order quantities, product sold counts and seller
// totals. It never writes to the ledger collections.
func (r *metricsReconciler) VerifyDataConsistency(ctx context.Context) (ConsistencyReport, error) {
	ctx, span := tracer.Start(ctx, "metrics.verify_consistency")
	defer span.End()

	report := ConsistencyReport{ID: reportIDPrefix + r.newID(), GeneratedAt: r.clock()}

	if err := r.orders.ScanCompleted(ctx, func(order domain.Order) error {
		report.CompletedOrders++
		for _, item := range order.Items {
			report.CompletedOrderQuantity += item.Quantity
		}
		return nil
	}); err != nil {
		endSpan(span, err)
		return ConsistencyReport{}, r.mapError(err)
	}

	bySeller := make(map[string]*sellerTotals)
	if err := r.products.Scan(ctx, func(p domain.Product) error {
		report.Products++
		report.ProductSoldCount += p.SoldCount
		if p.Stock < 0 || p.ReservedStock < 0 || p.SoldCount < 0 {
			report.NegativeCounterProductIDs = append(report.NegativeCounterProductIDs, p.ID)
		}
		totals := bySeller[p.SellerID]
		if totals == nil {
			totals = &sellerTotals{}
			bySeller[p.SellerID] = totals
		}
		revenue, err := addLine(totals.revenue, p.PriceMinor, p.SoldCount)
		if err != nil {
			return fmt.Errorf("metrics: revenue for product %s: %w", p.ID, err)
		}
		totals.sold += p.SoldCount
		totals.revenue = revenue
		totals.count++
		return nil
	}); err != nil {
		endSpan(span, err)
		return ConsistencyReport{}, r.mapError(err)
	}

	if err := r.sellers.Scan(ctx, func(seller domain.Seller) error {
		report.Sellers++
		report.SellerTotalSales += seller.TotalSales
		totals := bySeller[seller.ID]
		if totals == nil {
			totals = &sellerTotals{}
		}
		if seller.TotalSales != totals.sold || seller.TotalRevenueMinor != totals.revenue || seller.TotalProducts != totals.count {
			report.SellerDrift = append(report.SellerDrift, domain.SellerDrift{
				SellerID:            seller.ID,
				TotalSales:          seller.TotalSales,
				ProductSoldCount:    totals.sold,
				TotalRevenueMinor:   seller.TotalRevenueMinor,
				ProductRevenueMinor: totals.revenue,
				TotalProducts:       seller.TotalProducts,
				ProductCount:        totals.count,
			})
		}
		return nil
	}); err != nil {
		endSpan(span, err)
		return ConsistencyReport{}, r.mapError(err)
	}

	report.Issues = compareTotals(report)
	report.Consistent = len(report.Issues) == 0 && len(report.SellerDrift) == 0 && len(report.NegativeCounterProductIDs) == 0
	sort.Slice(report.SellerDrift, func(i, j int) bool { return report.SellerDrift[i].SellerID < report.SellerDrift[j].SellerID })
	sort.Strings(report.NegativeCounterProductIDs)

	if !report.Consistent {
		r.logger(ctx, "ledger_inconsistent_report", map[string]any{
			"reportId":       report.ID,
			"issues":         len(report.Issues),
			"sellerDrift":    len(report.SellerDrift),
			"negativeCounts": len(report.NegativeCounterProductIDs),
		})
	}
	span.SetAttributes(attribute.Bool("report.consistent", report.Consistent))

	if r.archive != nil {
		uri, err := r.archive.Archive(ctx, consistencyArchive, report.ID, report.GeneratedAt, report)
		if err != nil {
			r.logger(ctx, "consistency_report_archive_failed", map[string]any{"reportId": report.ID, "error": err.Error()})
		} else {
			report.ArchiveURI = uri
		}
	}
	return report, nil
}

// SellerTrend buckets a seller's completed sales per UTC day over the last days days,
// today included.
func (r *metricsReconciler) SellerTrend(ctx context.Context, sellerID string, days int) (SellerTrend, error) {
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return SellerTrend{}, fmt.Errorf("%w: seller id is required", ErrMetricsInvalidInput)
	}
	switch {
	case days == 0:
		days = defaultTrendDays
	case days < 0:
		return SellerTrend{}, fmt.Errorf("%w: days must be positive", ErrMetricsInvalidInput)
	case days > maxTrendDays:
		days = maxTrendDays
	}
	if _, err := r.sellers.FindByID(ctx, sellerID); err != nil {
		return SellerTrend{}, r.mapError(err)
	}

	now := r.clock()
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	from := to.AddDate(0, 0, -days)

	orders, err := r.orders.ListCompleted(ctx, repositories.CompletedOrderFilter{SellerID: sellerID, CompletedFrom: from, CompletedTo: to})
	if err != nil {
		return SellerTrend{}, r.mapError(err)
	}

	points := make([]domain.SellerTrendPoint, days)
	for i := range points {
		points[i].Date = from.AddDate(0, 0, i)
	}
	trend := SellerTrend{SellerID: sellerID, From: from, To: to}
	for _, order := range orders {
		if order.CompletedAt == nil {
			continue
		}
		idx := int(order.CompletedAt.UTC().Sub(from) / (24 * time.Hour))
		if idx < 0 || idx >= days {
			continue
		}
		counted := false
		for _, item := range order.Items {
			if item.SellerID != sellerID {
				continue
			}
			counted = true
			revenue, err := money.Mul(item.PriceMinor, item.Quantity)
			if err != nil {
				return SellerTrend{}, fmt.Errorf("metrics: revenue for order %s: %w", order.ID, err)
			}
			if points[idx].RevenueMinor, err = money.Add(points[idx].RevenueMinor, revenue); err != nil {
				return SellerTrend{}, fmt.Errorf("metrics: trend revenue: %w", err)
			}
			if trend.TotalRevenueMinor, err = money.Add(trend.TotalRevenueMinor, revenue); err != nil {
				return SellerTrend{}, fmt.Errorf("metrics: trend revenue: %w", err)
			}
			points[idx].UnitsSold += item.Quantity
			trend.TotalUnits += item.Quantity
		}
		if counted {
			points[idx].Orders++
		}
	}
	trend.Points = points
	return trend, nil
}

func (r *metricsReconciler) mapError(err error) error {
	if _, ok := repositories.AsLedgerError(err); ok {
		return mapLedgerError(err)
	}
	return err
}

func sumSellerProducts(products []domain.Product) (repositories.SellerMetrics, error) {
	var metrics repositories.SellerMetrics
	for _, p := range products {
		revenue, err := addLine(metrics.TotalRevenueMinor, p.PriceMinor, p.SoldCount)
		if err != nil {
			return repositories.SellerMetrics{}, fmt.Errorf("metrics: revenue for product %s: %w", p.ID, err)
		}
		metrics.TotalSales += p.SoldCount
		metrics.TotalRevenueMinor = revenue
	}
	metrics.TotalProducts = len(products)
	return metrics, nil
}

func compareTotals(report ConsistencyReport) []domain.ConsistencyIssue {
	var issues []domain.ConsistencyIssue
	check := func(kind domain.ConsistencyCheck, expected, actual int, description string) {
		if expected == actual {
			return
		}
		issues = append(issues, domain.ConsistencyIssue{
			Check:       kind,
			Expected:    expected,
			Actual:      actual,
			Difference:  actual - expected,
			Description: description,
		})
	}
	check(domain.CheckOrdersVsProducts, report.CompletedOrderQuantity, report.ProductSoldCount,
		"units on completed orders differ from product sold counts; replaying order history is required")
	check(domain.CheckProductsVsSellers, report.ProductSoldCount, report.SellerTotalSales,
		"product sold counts differ from seller totals; run a seller metrics sync")
	check(domain.CheckOrdersVsSellers, report.CompletedOrderQuantity, report.SellerTotalSales,
		"units on completed orders differ from seller totals")
	return issues
}
