package httpapi

import (
	"bytes"
	"encoding/csv"
	"html/template"
	"strconv"

	"github.com/xuri/excelize/v2"

	"petshop/backend/internal/domain"
)

func reportFileName(report domain.SalesReport) string {
	switch {
	case report.From != "" && report.From == report.To:
		return "sales-report-" + report.From
	case report.From != "" || report.To != "":
		return "sales-report-" + orDash(report.From) + "_" + orDash(report.To)
	}
	return "sales-report-all"
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

var saleColumns = []string{"sale_date", "pet_food_id", "productName", "brand", "category", "unitOfMeasurement", "quantity_sold", "revenue"}

func saleRow(sale domain.SaleAggregate) []string {
	return []string{
		sale.SaleDate.Format(domain.DayLayout),
		sale.PetFoodID,
		sale.ProductName,
		sale.Brand,
		sale.Category,
		sale.UnitOfMeasurement,
		strconv.Itoa(sale.QuantitySold),
		sale.Revenue.StringFixed(2),
	}
}

// reportToCSV writes one row per aggregate followed by a totals row.
func reportToCSV(report domain.SalesReport) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(saleColumns); err != nil {
		return nil, err
	}
	for _, sale := range report.Sales {
		if err := writer.Write(saleRow(sale)); err != nil {
			return nil, err
		}
	}
	total := []string{"TOTAL", "", "", "", "", "", strconv.Itoa(report.TotalQuantity), report.TotalRevenue.StringFixed(2)}
	if err := writer.Write(total); err != nil {
		return nil, err
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var salesReportHTMLTmpl = template.Must(template.New("sales-report").Funcs(template.FuncMap{
	"day": func(sale domain.SaleAggregate) string { return sale.SaleDate.Format(domain.DayLayout) },
}).Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Sales Report</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    td.num { text-align: right; }
    h2, h3 { margin-bottom: 4px; }
  </style>
</head>
<body>
  <h2>Sales Report</h2>
  <p>Period: {{if .From}}{{.From}}{{else}}start{{end}} to {{if .To}}{{.To}}{{else}}now{{end}}</p>
  <p>Units sold: {{.TotalQuantity}} | Revenue: {{.TotalRevenue.StringFixed 2}}</p>

  <h3>Top Products</h3>
  <table>
    <thead><tr><th>Product</th><th>Brand</th><th>Units</th><th>Revenue</th></tr></thead>
    <tbody>{{range .TopProducts}}<tr><td>{{.ProductName}}</td><td>{{.Brand}}</td><td class="num">{{.QuantitySold}}</td><td class="num">{{.Revenue.StringFixed 2}}</td></tr>{{end}}</tbody>
  </table>

  <h3>Low Stock</h3>
  <table>
    <thead><tr><th>Product</th><th>Brand</th><th>Stock</th></tr></thead>
    <tbody>{{range .LowStock}}<tr><td>{{.ProductName}}</td><td>{{.Brand}}</td><td class="num">{{.StockQuantity}}</td></tr>{{end}}</tbody>
  </table>

  <h3>Sales</h3>
  <table>
    <thead><tr><th>Date</th><th>Product</th><th>Brand</th><th>Category</th><th>Units</th><th>Revenue</th></tr></thead>
    <tbody>{{range .Sales}}<tr><td>{{day .}}</td><td>{{.ProductName}}</td><td>{{.Brand}}</td><td>{{.Category}}</td><td class="num">{{.QuantitySold}}</td><td class="num">{{.Revenue.StringFixed 2}}</td></tr>{{end}}</tbody>
  </table>
</body>
</html>
`))

func reportToHTML(report domain.SalesReport) ([]byte, error) {
	var buf bytes.Buffer
	if err := salesReportHTMLTmpl.Execute(&buf, report); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// reportToXLSX builds a workbook with a Sales sheet and a Summary sheet.
func reportToXLSX(report domain.SalesReport) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if err := f.SetSheetName(sheet, "Sales"); err != nil {
		return nil, err
	}
	sheet = "Sales"

	header := make([]any, len(saleColumns))
	for i, col := range saleColumns {
		header[i] = col
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, sale := range report.Sales {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		revenue, _ := sale.Revenue.Float64()
		row := []any{
			sale.SaleDate.Format(domain.DayLayout),
			sale.PetFoodID,
			sale.ProductName,
			sale.Brand,
			sale.Category,
			sale.UnitOfMeasurement,
			sale.QuantitySold,
			revenue,
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, err
		}
	}

	const summary = "Summary"
	if _, err := f.NewSheet(summary); err != nil {
		return nil, err
	}
	totalRevenue, _ := report.TotalRevenue.Float64()
	rows := [][]any{
		{"from", report.From},
		{"to", report.To},
		{"totalQuantity", report.TotalQuantity},
		{"totalRevenue", totalRevenue},
		{},
		{"top products", "brand", "quantity_sold", "revenue"},
	}
	for _, p := range report.TopProducts {
		revenue, _ := p.Revenue.Float64()
		rows = append(rows, []any{p.ProductName, p.Brand, p.QuantitySold, revenue})
	}
	rows = append(rows, []any{}, []any{"low stock", "brand", "stockQuantity"})
	for _, item := range report.LowStock {
		rows = append(rows, []any{item.ProductName, item.Brand, item.StockQuantity})
	}
	for i := range rows {
		if len(rows[i]) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(summary, cell, &rows[i]); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
