package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"kostbook/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	sheetName    = "Bookings"
	lastColumn   = "L"
	statusColumn = "J"
	updatedCol   = "L"
	sheetTime    = "2006-01-02 15:04"
)

// ErrRowNotFound means the booking has no row in the sheet yet.
var ErrRowNotFound = errors.New("booking row not found")

var headerRow = []interface{}{
	"ID", "Booking Code", "User ID", "Kost ID", "Room ID", "Start", "End",
	"Hours", "Total", "Status", "Created At", "Updated At",
}

// BookingsSheet mirrors bookings into a spreadsheet for owners who live in
// Google Sheets. One row per booking; column A holds the booking id.
type BookingsSheet struct {
	service       *sheets.Service
	spreadsheetID string
	rowCache      map[int64]int
	cacheMu       sync.RWMutex
	location      *time.Location
	logger        zerolog.Logger
}

// NewBookingsSheet authenticates with a service-account JSON key.
func NewBookingsSheet(ctx context.Context, credentialsFile, spreadsheetID string, logger *zerolog.Logger) (*BookingsSheet, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	cfg, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	return newBookingsSheet(srv, spreadsheetID, logger), nil
}

func newBookingsSheet(srv *sheets.Service, spreadsheetID string, logger *zerolog.Logger) *BookingsSheet {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "bookings_sheet").Logger()
	}
	return &BookingsSheet{
		service:       srv,
		spreadsheetID: spreadsheetID,
		rowCache:      make(map[int64]int),
		location:      time.UTC,
		logger:        l,
	}
}

// SetLocation sets the zone used for the human-readable time columns.
func (s *BookingsSheet) SetLocation(loc *time.Location) {
	if loc != nil {
		s.location = loc
	}
}

// StartCacheRefresh rebuilds the id -> row map now and then every interval.
func (s *BookingsSheet) StartCacheRefresh(ctx context.Context, interval time.Duration) {
	refresh := func() {
		rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := s.WarmUpCache(rctx); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("row cache refresh failed")
		}
	}

	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

func (s *BookingsSheet) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, sheetName+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

func (s *BookingsSheet) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, sheetName+"!A:A").Context(ctx).Do()
	if err != nil {
		return err
	}

	cache := make(map[int64]int, len(resp.Values))
	for i, row := range resp.Values {
		if id, ok := cellID(row); ok {
			cache[id] = i + 1
		}
	}

	s.cacheMu.Lock()
	s.rowCache = cache
	s.cacheMu.Unlock()
	return nil
}

func (s *BookingsSheet) UpsertBooking(ctx context.Context, booking *models.Booking) error {
	if booking == nil {
		return errors.New("booking is nil")
	}

	rowIdx, err := s.FindBookingRow(ctx, booking.ID)
	if errors.Is(err, ErrRowNotFound) {
		return s.appendBooking(ctx, booking)
	}
	if err != nil {
		return err
	}

	rangeData := fmt.Sprintf("%s!A%d:%s%d", sheetName, rowIdx, lastColumn, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{s.rowValues(booking)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (s *BookingsSheet) appendBooking(ctx context.Context, booking *models.Booking) error {
	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, sheetName+"!A:A", &sheets.ValueRange{
		Values: [][]interface{}{s.rowValues(booking)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return err
	}
	if resp.Updates != nil {
		if row, ok := rowFromRange(resp.Updates.UpdatedRange); ok {
			s.setCachedRow(booking.ID, row)
		}
	}
	return nil
}

// UpdateBookingStatus rewrites only the status and updated-at cells.
func (s *BookingsSheet) UpdateBookingStatus(ctx context.Context, bookingID int64, status string) error {
	rowIdx, err := s.FindBookingRow(ctx, bookingID)
	if err != nil {
		return err
	}

	statusRange := fmt.Sprintf("%s!%s%d", sheetName, statusColumn, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, statusRange, &sheets.ValueRange{
		Values: [][]interface{}{{status}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return err
	}

	updatedRange := fmt.Sprintf("%s!%s%d", sheetName, updatedCol, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, updatedRange, &sheets.ValueRange{
		Values: [][]interface{}{{time.Now().In(s.location).Format(sheetTime)}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// ReplaceAll rewrites the whole sheet, header included.
func (s *BookingsSheet) ReplaceAll(ctx context.Context, bookings []models.Booking) error {
	values := make([][]interface{}, 0, len(bookings)+1)
	values = append(values, headerRow)
	for i := range bookings {
		values = append(values, s.rowValues(&bookings[i]))
	}

	if _, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, sheetName, &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear sheet: %w", err)
	}
	rangeData := fmt.Sprintf("%s!A1:%s%d", sheetName, lastColumn, len(values))
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: values,
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return err
	}

	cache := make(map[int64]int, len(bookings))
	for i := range bookings {
		cache[bookings[i].ID] = i + 2
	}
	s.cacheMu.Lock()
	s.rowCache = cache
	s.cacheMu.Unlock()
	return nil
}

func (s *BookingsSheet) FindBookingRow(ctx context.Context, bookingID int64) (int, error) {
	if bookingID == 0 {
		return 0, errors.New("booking id is required")
	}
	if row, ok := s.getCachedRow(bookingID); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, sheetName+"!A:A").Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	for i, row := range resp.Values {
		if id, ok := cellID(row); ok && id == bookingID {
			s.setCachedRow(bookingID, i+1)
			return i + 1, nil
		}
	}
	return 0, ErrRowNotFound
}

func (s *BookingsSheet) getCachedRow(id int64) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *BookingsSheet) setCachedRow(id int64, row int) {
	s.cacheMu.Lock()
	s.rowCache[id] = row
	s.cacheMu.Unlock()
}

func (s *BookingsSheet) rowValues(b *models.Booking) []interface{} {
	return []interface{}{
		b.ID,
		b.BookingCode,
		b.UserID,
		b.KostID,
		b.RoomID,
		b.StartTime.In(s.location).Format(sheetTime),
		b.EndTime.In(s.location).Format(sheetTime),
		b.DurationHours,
		b.TotalPrice,
		string(b.Status),
		b.CreatedAt.In(s.location).Format(sheetTime),
		b.UpdatedAt.In(s.location).Format(sheetTime),
	}
}

func cellID(row []interface{}) (int64, bool) {
	if len(row) == 0 {
		return 0, false
	}
	var id int64
	switch v := row[0].(type) {
	case float64:
		id = int64(v)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		id = n
	}
	return id, id > 0
}

// rowFromRange extracts 10 from "Bookings!A10:L10".
func rowFromRange(r string) (int, bool) {
	_, cells, ok := strings.Cut(r, "!")
	if !ok {
		return 0, false
	}
	first, _, _ := strings.Cut(cells, ":")
	digits := strings.TrimLeft(first, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
