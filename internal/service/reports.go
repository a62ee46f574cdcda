package service

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"fifoshop/backend/internal/costing"
	"fifoshop/backend/internal/domain"
)

// Reports are recomputed from the ledger and the recorded sales on every
// call. They never write.

func (s *Service) StockStatus(ctx context.Context, shopID int64, search string) (domain.StockReport, error) {
	if _, err := s.authorize(ctx, shopID); err != nil {
		return domain.StockReport{}, err
	}
	totals, err := s.repo.StockTotals(ctx, shopID, domain.ProductFilter{Search: search})
	if err != nil {
		return domain.StockReport{}, err
	}

	report := domain.StockReport{
		Threshold: s.lowStockThreshold,
		Rows:      make([]domain.StockStatusRow, 0, len(totals)),
	}
	for _, t := range totals {
		report.Rows = append(report.Rows, s.stockRow(t))
	}
	return report, nil
}

func (s *Service) PriceList(ctx context.Context, shopID int64) ([]domain.PriceListRow, error) {
	if _, err := s.authorize(ctx, shopID); err != nil {
		return nil, err
	}
	products, err := s.repo.ListProducts(ctx, shopID, domain.ProductFilter{IncludeArchived: true})
	if err != nil {
		return nil, err
	}
	totals, err := s.repo.StockTotals(ctx, shopID, domain.ProductFilter{IncludeArchived: true})
	if err != nil {
		return nil, err
	}
	byProduct := make(map[int64]domain.StockTotals, len(totals))
	for _, t := range totals {
		byProduct[t.ProductID] = t
	}

	rows := make([]domain.PriceListRow, 0, len(products))
	for _, p := range products {
		row := domain.PriceListRow{
			ProductID:        p.ID,
			ProductName:      p.Name,
			RecommendedPrice: p.RecommendedPrice,
			Active:           p.Active,
		}
		if avg, ok := costing.AverageFromTotals(byProduct[p.ID]); ok {
			row.AverageUnitCost = &avg
			if margin, ok := costing.ProjectedMargin(p.RecommendedPrice, avg); ok {
				row.ProjectedMargin = &margin
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Service) DailyReport(ctx context.Context, shopID int64, from string, to string) (domain.DailyReport, error) {
	if _, err := s.authorize(ctx, shopID); err != nil {
		return domain.DailyReport{}, err
	}
	start, end, err := s.parseRange(from, to)
	if err != nil {
		return domain.DailyReport{}, err
	}
	sales, err := s.repo.ListSales(ctx, shopID, start, end)
	if err != nil {
		return domain.DailyReport{}, err
	}

	report := domain.DailyReport{
		From:         start.Format(domain.DateLayout),
		To:           end.Format(domain.DateLayout),
		Days:         make([]domain.DailyReportRow, 0, 8),
		TotalRevenue: decimal.Zero,
		TotalProfit:  decimal.Zero,
	}
	totalCost := decimal.Zero
	index := make(map[string]int)
	for _, sale := range sales {
		key := sale.SoldOn.Format(domain.DateLayout)
		i, ok := index[key]
		if !ok {
			i = len(report.Days)
			index[key] = i
			report.Days = append(report.Days, domain.DailyReportRow{Date: key, Revenue: decimal.Zero, Cost: decimal.Zero})
		}
		day := &report.Days[i]
		day.Revenue = day.Revenue.Add(sale.TotalPrice)
		day.Cost = day.Cost.Add(sale.CostBasis)
		day.Quantity += sale.Quantity

		report.TotalRevenue = report.TotalRevenue.Add(sale.TotalPrice)
		totalCost = totalCost.Add(sale.CostBasis)
	}
	for i := range report.Days {
		day := &report.Days[i]
		day.Profit = day.Revenue.Sub(day.Cost)
		day.Margin = costing.Margin(day.Revenue, day.Cost)
	}
	slices.SortFunc(report.Days, func(a, b domain.DailyReportRow) int {
		return strings.Compare(a.Date, b.Date)
	})

	report.TotalProfit = report.TotalRevenue.Sub(totalCost)
	report.AverageMargin = costing.Margin(report.TotalRevenue, totalCost)
	return report, nil
}

func (s *Service) ItemSalesReport(ctx context.Context, shopID int64, from string, to string) (domain.ItemSalesReport, error) {
	if _, err := s.authorize(ctx, shopID); err != nil {
		return domain.ItemSalesReport{}, err
	}
	start, end, err := s.parseRange(from, to)
	if err != nil {
		return domain.ItemSalesReport{}, err
	}
	sales, err := s.repo.ListSales(ctx, shopID, start, end)
	if err != nil {
		return domain.ItemSalesReport{}, err
	}

	report := domain.ItemSalesReport{
		From:  start.Format(domain.DateLayout),
		To:    end.Format(domain.DateLayout),
		Items: make([]domain.ItemSalesRow, 0, 16),
	}
	index := make(map[int64]int)
	for _, sale := range sales {
		i, ok := index[sale.ProductID]
		if !ok {
			i = len(report.Items)
			index[sale.ProductID] = i
			report.Items = append(report.Items, domain.ItemSalesRow{
				ProductID:   sale.ProductID,
				ProductName: sale.ProductName,
				TotalCost:   decimal.Zero,
				TotalSales:  decimal.Zero,
			})
		}
		item := &report.Items[i]
		item.Quantity += sale.Quantity
		item.TotalCost = item.TotalCost.Add(sale.CostBasis)
		item.TotalSales = item.TotalSales.Add(sale.TotalPrice)
	}
	for i := range report.Items {
		item := &report.Items[i]
		qty := decimal.NewFromInt(int64(item.Quantity))
		item.UnitCost = item.TotalCost.DivRound(qty, 4)
		item.UnitSellPrice = item.TotalSales.DivRound(qty, 4)
		item.Profit = item.TotalSales.Sub(item.TotalCost)
		item.Margin = costing.Margin(item.TotalSales, item.TotalCost)
	}
	slices.SortFunc(report.Items, func(a, b domain.ItemSalesRow) int {
		if c := strings.Compare(strings.ToLower(a.ProductName), strings.ToLower(b.ProductName)); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return report, nil
}
