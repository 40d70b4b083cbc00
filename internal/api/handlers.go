package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kostbook/internal/domain"
	"kostbook/internal/export"
	"kostbook/internal/models"

	"github.com/go-chi/chi/v5"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleAvailableRooms(w http.ResponseWriter, r *http.Request) {
	kostID, err := pathID(r, "kostID")
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	start, err := queryTime(r, "start")
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	end, err := queryTime(r, "end")
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	rooms, err := s.engine.QueryAvailableRooms(r.Context(), kostID, start, end)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if rooms == nil {
		rooms = []models.Room{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

type createBookingRequest struct {
	KostID        int64     `json:"kost_id"`
	RoomID        int64     `json:"room_id"`
	StartTime     time.Time `json:"start_time"`
	DurationHours int       `json:"duration_hours"`
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	session := mustSession(r)

	var body createBookingRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	b, err := s.engine.CreateBooking(r.Context(), session, body.KostID, body.RoomID, body.StartTime, body.DurationHours)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bookingView(b, s.engine.Now()))
}

func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	status := models.Status(strings.TrimSpace(r.URL.Query().Get("status")))
	list, err := s.engine.ListUserBookings(r.Context(), mustSession(r), status)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": nonNil(list)})
}

func (s *HTTPServer) handleActiveBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.engine.GetActiveBooking(r.Context(), mustSession(r))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingView(b, s.engine.Now()))
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bookingID")
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	b, err := s.engine.GetBooking(r.Context(), mustSession(r), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingView(b, s.engine.Now()))
}

func (s *HTTPServer) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bookingID")
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	var body struct {
		Action string `json:"action"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	action, err := models.ParseAction(strings.TrimSpace(body.Action))
	if err != nil {
		s.writeEngineError(w, r, domain.Invalid("action", err.Error()))
		return
	}

	b, err := s.engine.TransitionBooking(r.Context(), mustSession(r), id, action)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingView(b, s.engine.Now()))
}

// handleCheckin is used at the front desk: whoever presents the code checks the
// renter in. Only the renter gets the code back.
func (s *HTTPServer) handleCheckin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	b, err := s.engine.CheckIn(r.Context(), body.Code)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if session := mustSession(r); session.UserID != b.UserID {
		out := b.WithoutSecret()
		b = &out
	}
	writeJSON(w, http.StatusOK, bookingView(b, s.engine.Now()))
}

func (s *HTTPServer) handleOwnerBookings(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListOwnerBookings(r.Context(), mustSession(r))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": nonNil(list)})
}

func (s *HTTPServer) handleOwnerExport(w http.ResponseWriter, r *http.Request) {
	session := mustSession(r)
	ctx := r.Context()

	list, err := s.engine.ListOwnerBookings(ctx, session)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	kosts, err := s.engine.ListOwnerKosts(ctx, session)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	rooms, err := s.engine.ListOwnerRooms(ctx, session)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	labels := export.Labels{Kosts: make(map[int64]string, len(kosts)), Rooms: make(map[int64]string, len(rooms))}
	for _, k := range kosts {
		labels.Kosts[k.ID] = k.Name
	}
	for _, room := range rooms {
		labels.Rooms[room.ID] = room.Number
	}

	var buf bytes.Buffer
	if err := s.exports.Write(&buf, list, labels); err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	name := fmt.Sprintf("bookings_owner%d_%s.xlsx", session.UserID, s.engine.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *HTTPServer) handleOwnerKosts(w http.ResponseWriter, r *http.Request) {
	kosts, err := s.engine.ListOwnerKosts(r.Context(), mustSession(r))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kosts": nonNil(kosts)})
}

func (s *HTTPServer) handleUpdateKost(w http.ResponseWriter, r *http.Request) {
	kostID, err := pathID(r, "kostID")
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	var update models.KostUpdate
	if err := decodeBody(r, &update); err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	kost, err := s.engine.UpdateKost(r.Context(), mustSession(r), kostID, update)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, kost)
}

func (s *HTTPServer) handleRoomStatus(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "roomID")
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	room, err := s.engine.SetRoomStatus(r.Context(), mustSession(r), roomID, models.RoomStatus(strings.TrimSpace(body.Status)))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *HTTPServer) handleSweep(w http.ResponseWriter, r *http.Request) {
	session := mustSession(r)
	if !session.CanManage() {
		s.writeEngineError(w, r, fmt.Errorf("%w: role %s cannot run the sweep", domain.ErrForbidden, session.Role))
		return
	}
	n, err := s.engine.SweepExpired(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.log.Info().Int64("user_id", session.UserID).Int("transitioned", n).Msg("manual sweep")
	writeJSON(w, http.StatusOK, map[string]int{"transitioned": n})
}

// bookingResponse adds the countdown shown in the renter app.
type bookingResponse struct {
	models.Booking
	RemainingSeconds int64 `json:"remaining_seconds"`
}

func bookingView(b *models.Booking, now time.Time) bookingResponse {
	return bookingResponse{
		Booking:          *b,
		RemainingSeconds: int64(models.TimeRemaining(now, b.EndTime) / time.Second),
	}
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}

// mustSession is only called behind SessionAuth.Middleware.
func mustSession(r *http.Request) models.Session {
	s, _ := SessionFrom(r.Context())
	return s
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return domain.Invalid("body", "invalid JSON")
	}
	return nil
}

func pathID(r *http.Request, param string) (int64, error) {
	raw := chi.URLParam(r, param)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Invalid(param, fmt.Sprintf("must be a positive integer, got %q", raw))
	}
	return id, nil
}

func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, domain.Invalid(name, "is required")
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, domain.Invalid(name, fmt.Sprintf("must be RFC3339, got %q", raw))
	}
	return t, nil
}
