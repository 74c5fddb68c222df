package handlers

import (
	"encoding/json"

	"github.com/add-to-Cart/porma-marketplace/internal/platform/money"
	"github.com/add-to-Cart/porma-marketplace/internal/services"
)

type sellerMetricsPayload struct {
	SellerID      string      `json:"sellerId"`
	TotalSales    int         `json:"totalSales"`
	TotalRevenue  json.Number `json:"totalRevenue"`
	TotalProducts int         `json:"totalProducts"`
	SyncedAt      string      `json:"syncedAt,omitempty"`
	Error         string      `json:"error,omitempty"`
}

type syncAllPayload struct {
	Synced  int                    `json:"synced"`
	Failed  int                    `json:"failed"`
	Results []sellerMetricsPayload `json:"results"`
}

type consistencyIssuePayload struct {
	Check       string `json:"check"`
	Expected    int    `json:"expected"`
	Actual      int    `json:"actual"`
	Difference  int    `json:"difference"`
	Description string `json:"description"`
}

type sellerDriftPayload struct {
	SellerID       string      `json:"sellerId"`
	TotalSales     int         `json:"totalSales"`
	ProductSold    int         `json:"productSoldCount"`
	TotalRevenue   json.Number `json:"totalRevenue"`
	ProductRevenue json.Number `json:"productRevenue"`
	TotalProducts  int         `json:"totalProducts"`
	ProductCount   int         `json:"productCount"`
}

type consistencyPayload struct {
	ID                     string                    `json:"id"`
	GeneratedAt            string                    `json:"generatedAt"`
	Consistent             bool                      `json:"consistent"`
	CompletedOrders        int                       `json:"completedOrders"`
	Products               int                       `json:"products"`
	Sellers                int                       `json:"sellers"`
	CompletedOrderQuantity int                       `json:"completedOrderQuantity"`
	ProductSoldCount       int                       `json:"productSoldCount"`
	SellerTotalSales       int                       `json:"sellerTotalSales"`
	Issues                 []consistencyIssuePayload `json:"issues"`
	SellerDrift            []sellerDriftPayload      `json:"sellerDrift,omitempty"`
	NegativeCounters       []string                  `json:"negativeCounterProductIds,omitempty"`
	ArchiveURI             string                    `json:"archiveUri,omitempty"`
}

type trendPointPayload struct {
	Date      string      `json:"date"`
	Orders    int         `json:"orders"`
	UnitsSold int         `json:"unitsSold"`
	Revenue   json.Number `json:"revenue"`
}

type sellerTrendPayload struct {
	SellerID     string              `json:"sellerId"`
	From         string              `json:"from"`
	To           string              `json:"to"`
	Points       []trendPointPayload `json:"points"`
	TotalUnits   int                 `json:"totalUnits"`
	TotalRevenue json.Number         `json:"totalRevenue"`
}

func buildSellerMetricsPayload(result services.SellerMetricsResult) sellerMetricsPayload {
	return sellerMetricsPayload{
		SellerID:      result.SellerID,
		TotalSales:    result.TotalSales,
		TotalRevenue:  money.Number(result.TotalRevenueMinor),
		TotalProducts: result.TotalProducts,
		SyncedAt:      formatTime(result.SyncedAt),
		Error:         result.Error,
	}
}

func buildConsistencyPayload(report services.ConsistencyReport) consistencyPayload {
	payload := consistencyPayload{
		ID:                     report.ID,
		GeneratedAt:            formatTime(report.GeneratedAt),
		Consistent:             report.Consistent,
		CompletedOrders:        report.CompletedOrders,
		Products:               report.Products,
		Sellers:                report.Sellers,
		CompletedOrderQuantity: report.CompletedOrderQuantity,
		ProductSoldCount:       report.ProductSoldCount,
		SellerTotalSales:       report.SellerTotalSales,
		Issues:                 make([]consistencyIssuePayload, 0, len(report.Issues)),
		NegativeCounters:       report.NegativeCounterProductIDs,
		ArchiveURI:             report.ArchiveURI,
	}
	for _, issue := range report.Issues {
		payload.Issues = append(payload.Issues, consistencyIssuePayload{
			Check:       string(issue.Check),
			Expected:    issue.Expected,
			Actual:      issue.Actual,
			Difference:  issue.Difference,
			Description: issue.Description,
		})
	}
	for _, drift := range report.SellerDrift {
		payload.SellerDrift = append(payload.SellerDrift, sellerDriftPayload{
			SellerID:       drift.SellerID,
			TotalSales:     drift.TotalSales,
			ProductSold:    drift.ProductSoldCount,
			TotalRevenue:   money.Number(drift.TotalRevenueMinor),
			ProductRevenue: money.Number(drift.ProductRevenueMinor),
			TotalProducts:  drift.TotalProducts,
			ProductCount:   drift.ProductCount,
		})
	}
	return payload
}
