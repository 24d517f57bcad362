package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store is the persistence interface for price history.
type Store interface {
	SaveObservation(ctx context.Context, o *Observation) (int64, error)
	GetObservation(ctx context.Context, id int64) (*Observation, error)
	GetLastObservation(ctx context.Context, key RouteKey) (*Observation, error)
	QueryHistory(ctx context.Context, key RouteKey) ([]Observation, error)
	QueryRecent(ctx context.Context, limit int) ([]Observation, error)
	RouteStats(ctx context.Context) ([]RouteStat, error)

	GetDailyBest(ctx context.Context, day Date) (*DailyBest, error)
	UpsertDailyBest(ctx context.Context, b *DailyBest) error
	RebuildDailyBest(ctx context.Context, day Date) (*DailyBest, error)

	SaveHotelObservation(ctx context.Context, h *HotelObservation) (int64, error)
	ListHotelObservations(ctx context.Context, city string, checkIn, checkOut Date) ([]HotelObservation, error)

	Close() error
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock replaces time.Now for checked dates and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// New opens a SQLite database and runs migrations.
func New(path string, opts ...Option) (*SQLiteStore, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, wrap("open sqlite "+path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, wrap("open sqlite "+path, err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, wrap("run migrations", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const observationColumns = `id, departure_date, return_date, inbound_airport, outbound_airport,
	routing_description, total_price, currency, outbound_flight_data, return_flight_data,
	booking_url, flight_numbers, airlines, checked_date, created_at`

// SaveObservation appends o and sets its ID and CreatedAt. An empty
// CheckedDate is filled with today's date.
func (s *SQLiteStore) SaveObservation(ctx context.Context, o *Observation) (int64, error) {
	now := s.now()
	if o.CheckedDate == "" {
		o.CheckedDate = DateOf(now)
	}
	o.CreatedAt = now.UTC()

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO price_observations (
			departure_date, return_date, inbound_airport, outbound_airport,
			routing_description, total_price, currency, outbound_flight_data,
			return_flight_data, booking_url, flight_numbers, airlines,
			checked_date, created_at
		) VALUES (
			:departure_date, :return_date, :inbound_airport, :outbound_airport,
			:routing_description, :total_price, :currency, :outbound_flight_data,
			:return_flight_data, :booking_url, :flight_numbers, :airlines,
			:checked_date, :created_at
		)
	`, o)
	if err != nil {
		return 0, wrap(fmt.Sprintf("save observation %s", o.Route()), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrap("save observation: last insert id", err)
	}
	o.ID = id
	return id, nil
}

func (s *SQLiteStore) GetObservation(ctx context.Context, id int64) (*Observation, error) {
	var o Observation
	err := s.db.GetContext(ctx, &o, "SELECT "+observationColumns+" FROM price_observations WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get observation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, wrap(fmt.Sprintf("get observation %d", id), err)
	}
	return &o, nil
}

// GetLastObservation returns the most recent observation for key, or nil if
// the pair was never observed.
func (s *SQLiteStore) GetLastObservation(ctx context.Context, key RouteKey) (*Observation, error) {
	var o Observation
	err := s.db.GetContext(ctx, &o, `
		SELECT `+observationColumns+` FROM price_observations
		WHERE departure_date = ? AND return_date = ?
		ORDER BY checked_date DESC, created_at DESC, id DESC
		LIMIT 1
	`, key.Departure, key.Return)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(fmt.Sprintf("get last observation %s", key), err)
	}
	return &o, nil
}

func (s *SQLiteStore) QueryHistory(ctx context.Context, key RouteKey) ([]Observation, error) {
	var obs []Observation
	err := s.db.SelectContext(ctx, &obs, `
		SELECT `+observationColumns+` FROM price_observations
		WHERE departure_date = ? AND return_date = ?
		ORDER BY checked_date DESC, created_at DESC, id DESC
	`, key.Departure, key.Return)
	if err != nil {
		return nil, wrap(fmt.Sprintf("query history %s", key), err)
	}
	return obs, nil
}

func (s *SQLiteStore) QueryRecent(ctx context.Context, limit int) ([]Observation, error) {
	if limit <= 0 {
		limit = 50
	}
	var obs []Observation
	err := s.db.SelectContext(ctx, &obs, `
		SELECT `+observationColumns+` FROM price_observations
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, wrap("query recent", err)
	}
	return obs, nil
}

func (s *SQLiteStore) RouteStats(ctx context.Context) ([]RouteStat, error) {
	var stats []RouteStat
	err := s.db.SelectContext(ctx, &stats, `
		SELECT inbound_airport, outbound_airport,
			COUNT(*) AS cnt,
			AVG(total_price) AS avg_price,
			MIN(total_price) AS min_price,
			MAX(currency) AS currency
		FROM price_observations
		GROUP BY inbound_airport, outbound_airport
		ORDER BY min_price ASC
	`)
	if err != nil {
		return nil, wrap("route stats", err)
	}
	return stats, nil
}

const dailyBestColumns = `checked_date, best_price, currency, departure_date, return_date,
	inbound_airport, outbound_airport, routing_description, observation_id, updated_at`

// GetDailyBest returns the best price recorded on day, or nil if nothing was
// recorded that day.
func (s *SQLiteStore) GetDailyBest(ctx context.Context, day Date) (*DailyBest, error) {
	var b DailyBest
	err := s.db.GetContext(ctx, &b, "SELECT "+dailyBestColumns+" FROM daily_best WHERE checked_date = ?", day)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get daily best "+string(day), err)
	}
	return &b, nil
}

// UpsertDailyBest writes b over any existing row for its date. It does not
// compare prices; callers only call it with a better price.
func (s *SQLiteStore) UpsertDailyBest(ctx context.Context, b *DailyBest) error {
	return s.upsertDailyBest(ctx, s.db, b)
}

func (s *SQLiteStore) upsertDailyBest(ctx context.Context, ext sqlx.ExtContext, b *DailyBest) error {
	b.UpdatedAt = s.now().UTC()
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO daily_best (`+dailyBestColumns+`)
		VALUES (
			:checked_date, :best_price, :currency, :departure_date, :return_date,
			:inbound_airport, :outbound_airport, :routing_description, :observation_id, :updated_at
		)
		ON CONFLICT(checked_date) DO UPDATE SET
			best_price = excluded.best_price,
			currency = excluded.currency,
			departure_date = excluded.departure_date,
			return_date = excluded.return_date,
			inbound_airport = excluded.inbound_airport,
			outbound_airport = excluded.outbound_airport,
			routing_description = excluded.routing_description,
			observation_id = excluded.observation_id,
			updated_at = excluded.updated_at
	`, b)
	if err != nil {
		return wrap("upsert daily best "+string(b.CheckedDate), err)
	}
	return nil
}

// RebuildDailyBest recomputes day's best from its observations. Ties keep the
// earliest observation. The row is removed when the day has no observations.
func (s *SQLiteStore) RebuildDailyBest(ctx context.Context, day Date) (*DailyBest, error) {
	op := "rebuild daily best " + string(day)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var o Observation
	err = tx.GetContext(ctx, &o, `
		SELECT `+observationColumns+` FROM price_observations
		WHERE checked_date = ?
		ORDER BY total_price ASC, created_at ASC, id ASC
		LIMIT 1
	`, day)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := tx.ExecContext(ctx, "DELETE FROM daily_best WHERE checked_date = ?", day); err != nil {
			return nil, wrap(op, err)
		}
		return nil, wrap(op, tx.Commit())
	}
	if err != nil {
		return nil, wrap(op, err)
	}

	b := &DailyBest{
		CheckedDate:        day,
		BestPrice:          o.TotalPrice,
		Currency:           o.Currency,
		DepartureDate:      o.DepartureDate,
		ReturnDate:         o.ReturnDate,
		InboundAirport:     o.InboundAirport,
		OutboundAirport:    o.OutboundAirport,
		RoutingDescription: o.RoutingDescription,
		ObservationID:      o.ID,
	}
	if err := s.upsertDailyBest(ctx, tx, b); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, wrap(op, err)
	}
	return b, nil
}

const hotelColumns = `id, city, check_in_date, check_out_date, hotel_name, price_per_night,
	total_price, currency, hotel_data, checked_date, created_at`

// SaveHotelObservation inserts h or replaces the row with the same city,
// stay dates and hotel name.
func (s *SQLiteStore) SaveHotelObservation(ctx context.Context, h *HotelObservation) (int64, error) {
	now := s.now()
	if h.CheckedDate == "" {
		h.CheckedDate = DateOf(now)
	}
	h.CreatedAt = now.UTC()

	var id int64
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO hotel_observations (
			city, check_in_date, check_out_date, hotel_name, price_per_night,
			total_price, currency, hotel_data, checked_date, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(city, check_in_date, check_out_date, hotel_name) DO UPDATE SET
			price_per_night = excluded.price_per_night,
			total_price = excluded.total_price,
			currency = excluded.currency,
			hotel_data = excluded.hotel_data,
			checked_date = excluded.checked_date,
			created_at = excluded.created_at
		RETURNING id
	`, h.City, h.CheckInDate, h.CheckOutDate, h.HotelName, h.PricePerNight,
		h.TotalPrice, h.Currency, h.HotelData, h.CheckedDate, h.CreatedAt).Scan(&id)
	if err != nil {
		return 0, wrap(fmt.Sprintf("save hotel observation %s %s", h.City, h.HotelName), err)
	}
	h.ID = id
	return id, nil
}

// ListHotelObservations returns quotes for a stay, cheapest first.
func (s *SQLiteStore) ListHotelObservations(ctx context.Context, city string, checkIn, checkOut Date) ([]HotelObservation, error) {
	var hotels []HotelObservation
	err := s.db.SelectContext(ctx, &hotels, `
		SELECT `+hotelColumns+` FROM hotel_observations
		WHERE city = ? AND check_in_date = ? AND check_out_date = ?
		ORDER BY total_price ASC
	`, city, checkIn, checkOut)
	if err != nil {
		return nil, wrap("list hotel observations "+city, err)
	}
	return hotels, nil
}
