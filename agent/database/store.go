package database

import (
	"context"
	"time"

	"callwatch/agent/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the persistence layer shared by the listener, poller, command
// handlers and HTTP API.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// --- Alerts ---

// UpsertAlert inserts a new alert or, when the address was already called,
// points the existing row at the new alert message and restarts its clock.
func (s *Store) UpsertAlert(ctx context.Context, a *models.Alert) error {
	a.CreatedAt = a.CreatedAt.UTC()
	a.NextCheckAt = a.NextCheckAt.UTC()
	a.CreationTime = a.CreationTime.UTC()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"message_id", "created_at", "bonded", "next_check_at", "chat_id", "bot_name",
		}),
	}).Create(a).Error
}

// UpsertHypotheticalAlert stores a test alert; an existing row only has its
// initial market cap replaced.
func (s *Store) UpsertHypotheticalAlert(ctx context.Context, a *models.Alert) error {
	a.CreatedAt = a.CreatedAt.UTC()
	a.NextCheckAt = a.NextCheckAt.UTC()
	a.CreationTime = a.CreationTime.UTC()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"initial_market_cap"}),
	}).Create(a).Error
}

// DueAlerts returns alerts whose next check time has passed, oldest first.
func (s *Store) DueAlerts(ctx context.Context, now time.Time, limit int) ([]models.Alert, error) {
	var alerts []models.Alert
	err := s.db.WithContext(ctx).
		Where("next_check_at <= ?", now.UTC()).
		Order("next_check_at ASC").
		Limit(limit).
		Find(&alerts).Error
	return alerts, err
}

// RecentAlerts returns the newest alerts first.
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	var alerts []models.Alert
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&alerts).Error
	return alerts, err
}

func (s *Store) AlertByAddress(ctx context.Context, address string) (*models.Alert, error) {
	var a models.Alert
	if err := s.db.WithContext(ctx).Where("address = ?", address).First(&a).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// AlertsByAddresses loads the alerts that still exist for the given
// addresses, keyed by address.
func (s *Store) AlertsByAddresses(ctx context.Context, addresses []string) (map[string]models.Alert, error) {
	out := make(map[string]models.Alert, len(addresses))
	if len(addresses) == 0 {
		return out, nil
	}
	var alerts []models.Alert
	if err := s.db.WithContext(ctx).Where("address IN ?", addresses).Find(&alerts).Error; err != nil {
		return nil, err
	}
	for _, a := range alerts {
		out[a.Address] = a
	}
	return out, nil
}

func (s *Store) DeleteAlert(ctx context.Context, address string) error {
	return s.db.WithContext(ctx).Where("address = ?", address).Delete(&models.Alert{}).Error
}

func (s *Store) MarkMarketCapAlerted(ctx context.Context, address string) error {
	return s.updateAlert(ctx, address, map[string]interface{}{"market_cap_increase_alerted": true})
}

func (s *Store) MarkBonded(ctx context.Context, address string) error {
	return s.updateAlert(ctx, address, map[string]interface{}{"bonded": true, "bonding_alerted": true})
}

func (s *Store) SetNextCheck(ctx context.Context, address string, at time.Time) error {
	return s.updateAlert(ctx, address, map[string]interface{}{"next_check_at": at.UTC()})
}

func (s *Store) updateAlert(ctx context.Context, address string, fields map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&models.Alert{}).Where("address = ?", address).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- User calls ---

func (s *Store) InsertUserCall(ctx context.Context, c *models.UserCall) error {
	c.CreatedAt = c.CreatedAt.UTC()
	return s.db.WithContext(ctx).Create(c).Error
}

// CallsSince returns the calls a user made at or after since.
func (s *Store) CallsSince(ctx context.Context, userID int64, since time.Time) ([]models.UserCall, error) {
	var calls []models.UserCall
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", userID, since.UTC()).
		Order("created_at ASC").
		Find(&calls).Error
	return calls, err
}

// RecentCalls returns a user's newest calls first.
func (s *Store) RecentCalls(ctx context.Context, userID int64, limit int) ([]models.UserCall, error) {
	var calls []models.UserCall
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&calls).Error
	return calls, err
}

// MarkCallsSuccessful flags every call of an address as having reached 2x.
func (s *Store) MarkCallsSuccessful(ctx context.Context, address string) error {
	return s.db.WithContext(ctx).Model(&models.UserCall{}).
		Where("address = ? AND success = ?", address, false).
		Update("success", true).Error
}

// --- Keywords ---

// AddKeyword registers a keyword for a user. Duplicates are ignored.
func (s *Store) AddKeyword(ctx context.Context, userID int64, keyword string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Keyword{UserID: userID, Keyword: keyword}).Error
}

// RemoveKeyword deletes a keyword and reports whether it existed.
func (s *Store) RemoveKeyword(ctx context.Context, userID int64, keyword string) (bool, error) {
	res := s.db.WithContext(ctx).Where("user_id = ? AND keyword = ?", userID, keyword).Delete(&models.Keyword{})
	return res.RowsAffected > 0, res.Error
}

func (s *Store) KeywordsForUser(ctx context.Context, userID int64) ([]string, error) {
	var keywords []string
	err := s.db.WithContext(ctx).Model(&models.Keyword{}).
		Where("user_id = ?", userID).
		Order("id ASC").
		Pluck("keyword", &keywords).Error
	return keywords, err
}

func (s *Store) ListKeywords(ctx context.Context) ([]models.Keyword, error) {
	var keywords []models.Keyword
	err := s.db.WithContext(ctx).Order("user_id ASC, id ASC").Find(&keywords).Error
	return keywords, err
}

// --- Uptime ---

const uptimeRowID = 1

// SetUptimeURL replaces the monitored URL and resets its status.
func (s *Store) SetUptimeURL(ctx context.Context, url string) error {
	row := models.UptimeConfig{ID: uptimeRowID, URL: url, Status: "unknown"}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"url": url, "last_ping": nil, "status": "unknown"}),
	}).Create(&row).Error
}

// RecordUptimePing stores the result of an uptime check.
func (s *Store) RecordUptimePing(ctx context.Context, status string, at time.Time) error {
	at = at.UTC()
	res := s.db.WithContext(ctx).Model(&models.UptimeConfig{}).
		Where("id = ?", uptimeRowID).
		Updates(map[string]interface{}{"last_ping": at, "status": status})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetUptime(ctx context.Context) (*models.UptimeConfig, error) {
	var row models.UptimeConfig
	if err := s.db.WithContext(ctx).Where("id = ?", uptimeRowID).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

// --- Registry targets ---

func (s *Store) ListTargets(ctx context.Context) ([]models.Target, error) {
	var targets []models.Target
	err := s.db.WithContext(ctx).Order("kind ASC, id ASC").Find(&targets).Error
	return targets, err
}

// UpsertTarget adds a registry entry or replaces its label.
func (s *Store) UpsertTarget(ctx context.Context, t *models.Target) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "target_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"label"}),
	}).Create(t).Error
}

func (s *Store) DeleteTarget(ctx context.Context, kind models.TargetKind, targetID int64) error {
	return s.db.WithContext(ctx).
		Where("kind = ? AND target_id = ?", kind, targetID).
		Delete(&models.Target{}).Error
}
