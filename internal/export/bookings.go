package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"kostbook/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	sheetName  = "Bookings"
	timeLayout = "2006-01-02 15:04"
)

var headers = []string{
	"Booking Code", "Kost", "Room", "Renter ID", "Start", "End",
	"Hours", "Price / Hour", "Total", "Status", "Checked In", "Closed",
}

// Labels turns ids into names for the sheet. Missing entries fall back to the id.
type Labels struct {
	Kosts map[int64]string
	Rooms map[int64]string
}

func (l Labels) kost(id int64) string {
	if name, ok := l.Kosts[id]; ok {
		return name
	}
	return fmt.Sprintf("#%d", id)
}

func (l Labels) room(id int64) string {
	if name, ok := l.Rooms[id]; ok {
		return name
	}
	return fmt.Sprintf("#%d", id)
}

// OwnerBookings renders an owner's booking history as an XLSX workbook.
type OwnerBookings struct {
	dir      string
	location *time.Location
}

func NewOwnerBookings(dir string, loc *time.Location) *OwnerBookings {
	if loc == nil {
		loc = time.UTC
	}
	return &OwnerBookings{dir: dir, location: loc}
}

// Build creates the workbook. The caller closes it.
func (e *OwnerBookings) Build(bookings []models.Booking, labels Labels) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.SetCellStyle(sheetName, "A1", lastCol+"1", headerStyle)

	cancelledStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFC7CE"}, Pattern: 1},
	})

	var revenue int64
	row := 2
	for i := range bookings {
		b := &bookings[i]
		values := []interface{}{
			b.BookingCode,
			labels.kost(b.KostID),
			labels.room(b.RoomID),
			b.UserID,
			e.format(b.StartTime),
			e.format(b.EndTime),
			b.DurationHours,
			b.PricePerHour,
			b.TotalPrice,
			string(b.Status),
			e.formatPtr(b.CheckedInAt),
			e.formatPtr(b.ClosedAt),
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write row %d: %w", row, err)
		}
		if b.Status == models.StatusCancelled {
			_ = f.SetCellStyle(sheetName, cell, fmt.Sprintf("%s%d", lastCol, row), cancelledStyle)
		} else {
			revenue += b.TotalPrice
		}
		row++
	}

	totalStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	_ = f.SetCellValue(sheetName, fmt.Sprintf("H%d", row+1), "Revenue")
	_ = f.SetCellValue(sheetName, fmt.Sprintf("I%d", row+1), revenue)
	_ = f.SetCellStyle(sheetName, fmt.Sprintf("H%d", row+1), fmt.Sprintf("I%d", row+1), totalStyle)

	_ = f.SetColWidth(sheetName, "A", "A", 16)
	_ = f.SetColWidth(sheetName, "B", "C", 20)
	_ = f.SetColWidth(sheetName, "E", "F", 18)
	_ = f.SetColWidth(sheetName, "K", "L", 18)
	_ = f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	return f, nil
}

// Write streams the workbook to w.
func (e *OwnerBookings) Write(w io.Writer, bookings []models.Booking, labels Labels) error {
	f, err := e.Build(bookings, labels)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteTo(w)
	return err
}

// Save writes the workbook under the export directory and returns its path.
func (e *OwnerBookings) Save(ownerID int64, bookings []models.Booking, labels Labels, now time.Time) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}
	f, err := e.Build(bookings, labels)
	if err != nil {
		return "", err
	}
	defer f.Close()

	name := fmt.Sprintf("bookings_owner%d_%s.xlsx", ownerID, now.In(e.location).Format("20060102_150405"))
	path := filepath.Join(e.dir, name)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return path, nil
}

func (e *OwnerBookings) format(t time.Time) string {
	return t.In(e.location).Format(timeLayout)
}

func (e *OwnerBookings) formatPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return e.format(*t)
}
