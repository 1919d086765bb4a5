package xlsx

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/pricewatch/internal/core/domain"
)

func TestWriteReportSortsRows(t *testing.T) {
	report := domain.Report{
		"LECHE": {
			"leche entera 1 l": {
				{PointOfSale: "pos-2", Price: 1250, Brand: "serenisima"},
				{PointOfSale: "pos-1", Price: 1199, Brand: "serenisima"},
			},
		},
		"ACEITE": {
			"aceite girasol": {{PointOfSale: "pos-1", Price: 3000, Brand: "natura"}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, "by-tag", "tag", report))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("by-tag")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"tag", "description", "point_of_sale", "price", "brand"}, rows[0])
	assert.Equal(t, "ACEITE", rows[1][0])
	assert.Equal(t, "pos-1", rows[2][2])
	assert.Equal(t, "pos-2", rows[3][2])

	raw, err := f.GetCellValue("by-tag", "D3", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "11.99", raw)
}

func TestWriteReportEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, "", "brand", domain.Report{}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("report")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
