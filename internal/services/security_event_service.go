package services

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Wikid82/gearshare/backend/internal/audit"
	"github.com/Wikid82/gearshare/backend/internal/chain"
	"github.com/Wikid82/gearshare/backend/internal/logger"
	"github.com/Wikid82/gearshare/backend/internal/models"
	"github.com/Wikid82/gearshare/backend/internal/risk"
	"github.com/Wikid82/gearshare/backend/internal/secevent"
	"github.com/Wikid82/gearshare/backend/internal/util"
)

const maxEventDetails = 2000

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

var ErrUnknownEventType = errors.New("unknown security event type")

// Alerter forwards alerts to operators.
type Alerter interface {
	SendAlert(a Alert)
}

// SecurityEventService persists guard events. Each user's events form a
// blake3 hash chain so later edits are detectable.
type SecurityEventService struct {
	db      *gorm.DB
	alerter Alerter
	now     func() time.Time
}

func NewSecurityEventService(db *gorm.DB, alerter Alerter) *SecurityEventService {
	return &SecurityEventService{db: db, alerter: alerter, now: time.Now}
}

// Log appends an event to userID's chain. High and critical events and
// incident responses raise an alert.
func (s *SecurityEventService) Log(userID, eventType, details string, level risk.Level) (*models.SecurityEvent, error) {
	if !secevent.Known(secevent.Type(eventType)) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	if !level.Valid() {
		level = secevent.DefaultRisk(secevent.Type(eventType))
	}
	details = truncateRunes(details, maxEventDetails)

	ev := &models.SecurityEvent{
		UUID:      uuid.NewString(),
		UserUUID:  userID,
		EventType: eventType,
		Details:   details,
		RiskLevel: level.String(),
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var prev models.SecurityEvent
		err := tx.Where("user_uuid = ?", userID).Order("id desc").First(&prev).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			ev.PrevDigest = chain.Genesis
		case err != nil:
			return err
		default:
			ev.PrevDigest = prev.Digest
		}
		ev.Digest = chain.Hash(ev.PrevDigest, ev.ChainFields()...)
		return tx.Create(ev).Error
	})
	if err != nil {
		return nil, err
	}

	logger.Log().WithFields(map[string]interface{}{
		"user":       userID,
		"event_type": eventType,
		"risk_level": ev.RiskLevel,
	}).Info("security event stored")

	incident := eventType == string(secevent.TypeIncidentResponse)
	if s.alerter != nil && (level >= risk.High || incident) {
		s.alerter.SendAlert(Alert{
			Title:    fmt.Sprintf("Security event: %s (%s)", eventType, ev.RiskLevel),
			Message:  fmt.Sprintf("user %s: %s", userID, util.SanitizeForLog(details)),
			Level:    level,
			Incident: incident,
		})
	}
	return ev, nil
}

// Recent returns the newest events of userID.
func (s *SecurityEventService) Recent(userID string, limit int) ([]models.SecurityEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []models.SecurityEvent
	err := s.db.Where("user_uuid = ?", userID).Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}

// VerifyChain checks userID's whole chain from the genesis record.
func (s *SecurityEventService) VerifyChain(userID string) error {
	var rows []models.SecurityEvent
	if err := s.db.Where("user_uuid = ?", userID).Order("id asc").Find(&rows).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	if rows[0].PrevDigest != chain.Genesis {
		return fmt.Errorf("%w: first record does not start at genesis", chain.ErrBroken)
	}
	links := make([]chain.Link, len(rows))
	for i := range rows {
		links[i] = rows[i]
	}
	return chain.Verify(links)
}

// AuditStatus summarizes userID's last 24 hours for the client audit.
func (s *SecurityEventService) AuditStatus(userID string) (audit.RemoteStatus, error) {
	var st audit.RemoteStatus
	since := s.now().UTC().Add(-24 * time.Hour)

	var suspicious int64
	if err := s.db.Model(&models.SecurityEvent{}).
		Where("user_uuid = ? AND event_type = ? AND created_at >= ?", userID, string(secevent.TypeSuspicious), since).
		Count(&suspicious).Error; err != nil {
		return st, err
	}
	st.SuspiciousEvents24h = int(suspicious)

	var user models.User
	if err := s.db.Where("uuid = ?", userID).First(&user).Error; err == nil {
		st.FailedLogins24h = user.FailedLoginAttempts
	}

	err := s.VerifyChain(userID)
	if err != nil && !errors.Is(err, chain.ErrBroken) {
		return st, err
	}
	st.ChainIntact = err == nil
	return st, nil
}
