package services

import (
	"fmt"
	"net"
	neturl "net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/containrrr/shoutrrr"
	"gorm.io/gorm"

	"github.com/Wikid82/gearshare/backend/internal/logger"
	"github.com/Wikid82/gearshare/backend/internal/models"
	"github.com/Wikid82/gearshare/backend/internal/risk"
)

type NotificationService struct {
	DB *gorm.DB

	staticURLs []string
	send       func(url, message string) error
	pending    sync.WaitGroup
}

// NewNotificationService stores in-app notifications in db and forwards
// alerts to the enabled providers plus the static shoutrrr URLs.
func NewNotificationService(db *gorm.DB, staticURLs ...string) *NotificationService {
	return &NotificationService{
		DB:         db,
		staticURLs: staticURLs,
		send:       func(url, message string) error { return shoutrrr.Send(url, message) },
	}
}

var discordWebhookRegex = regexp.MustCompile(`^https://discord(?:app)?\.com/api/webhooks/(\d+)/([a-zA-Z0-9_-]+)`)

func normalizeURL(serviceType, rawURL string) string {
	if serviceType == "discord" {
		matches := discordWebhookRegex.FindStringSubmatch(rawURL)
		if len(matches) == 3 {
			return fmt.Sprintf("discord://%s@%s", matches[2], matches[1])
		}
	}
	return rawURL
}

// Internal Notifications (DB)

func (s *NotificationService) Create(nType models.NotificationType, userID, title, message string) (*models.Notification, error) {
	notification := &models.Notification{
		Type:     nType,
		Title:    title,
		Message:  message,
		UserUUID: userID,
	}
	result := s.DB.Create(notification)
	return notification, result.Error
}

func (s *NotificationService) List(unreadOnly bool) ([]models.Notification, error) {
	var notifications []models.Notification
	query := s.DB.Order("created_at desc")
	if unreadOnly {
		query = query.Where("read = ?", false)
	}
	result := query.Find(&notifications)
	return notifications, result.Error
}

func (s *NotificationService) MarkAsRead(id string) error {
	return s.DB.Model(&models.Notification{}).Where("id = ?", id).Update("read", true).Error
}

func (s *NotificationService) MarkAllAsRead() error {
	return s.DB.Model(&models.Notification{}).Where("read = ?", false).Update("read", true).Error
}

// External alerts (shoutrrr)

// Alert is a security event worth telling an operator about.
type Alert struct {
	Title    string
	Message  string
	Level    risk.Level
	Incident bool
}

// SendAlert records an in-app notification and fans the alert out to every
// matching provider in the background. Delivery errors are logged only.
func (s *NotificationService) SendAlert(a Alert) {
	nType := models.NotificationTypeWarning
	if a.Level >= risk.Critical || a.Incident {
		nType = models.NotificationTypeError
	}
	if _, err := s.Create(nType, "", a.Title, a.Message); err != nil {
		logger.Log().WithError(err).Warn("failed to store security notification")
	}

	var providers []models.NotificationProvider
	if err := s.DB.Where("enabled = ?", true).Find(&providers).Error; err != nil {
		logger.Log().WithError(err).Warn("failed to fetch notification providers")
	}

	targets := append([]string(nil), s.staticURLs...)
	for _, p := range providers {
		if !providerWants(p, a) {
			continue
		}
		targets = append(targets, normalizeURL(p.Type, p.URL))
	}

	msg := fmt.Sprintf("%s\n\n%s", a.Title, a.Message)
	for _, url := range targets {
		s.pending.Add(1)
		go func(url string) {
			defer s.pending.Done()
			if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
				if _, err := validateWebhookURL(url); err != nil {
					logger.Log().WithError(err).Warn("skipping alert to disallowed destination")
					return
				}
			}
			if err := s.send(url, msg); err != nil {
				logger.Log().WithError(err).Warn("failed to deliver security alert")
			}
		}(url)
	}
}

// Wait blocks until in-flight alerts finish.
func (s *NotificationService) Wait() { s.pending.Wait() }

func providerWants(p models.NotificationProvider, a Alert) bool {
	if a.Incident && p.NotifyIncidents {
		return true
	}
	floor, err := risk.Parse(p.MinRisk)
	if err != nil {
		floor = risk.High
	}
	return a.Level >= floor
}

// isPrivateIP returns true for RFC1918, loopback and link-local addresses.
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsPrivate() {
		return true
	}
	return false
}

// validateWebhookURL parses and validates webhook URLs and ensures
// the resolved addresses are not private/local.
func validateWebhookURL(raw string) (*neturl.URL, error) {
	u, err := neturl.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("missing host")
	}

	// Allow explicit loopback/localhost addresses for local tests.
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return u, nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return nil, fmt.Errorf("disallowed host IP: %s", ip.String())
		}
	}
	return u, nil
}

// TestProvider sends a test message to one provider synchronously.
func (s *NotificationService) TestProvider(provider models.NotificationProvider) error {
	return s.send(normalizeURL(provider.Type, provider.URL), "Test notification from GearShare")
}
