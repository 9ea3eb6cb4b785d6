package emergency

import (
	"fmt"
	"strings"

	"sitter-safety/internal/models"
)

func mapsLink(loc models.GPSLocation) string {
	return fmt.Sprintf("https://maps.google.com/?q=%.6f,%.6f", loc.Latitude, loc.Longitude)
}

func alertData(a *models.EmergencyAlert, class string) map[string]string {
	return map[string]string{
		"type":      class,
		"alertId":   a.ID,
		"sessionId": a.SessionID,
		"reason":    a.Reason,
		"latitude":  fmt.Sprintf("%.6f", a.Location.Latitude),
		"longitude": fmt.Sprintf("%.6f", a.Location.Longitude),
	}
}

func describeReason(reason string) string {
	switch reason {
	case models.ReasonManualSOS:
		return "pressed the SOS button"
	case models.ReasonGeofenceViolation:
		return "left a safe zone"
	default:
		return strings.ReplaceAll(reason, "_", " ")
	}
}

func emergencyNotification(a *models.EmergencyAlert) models.Notification {
	body := fmt.Sprintf("The %s %s and needs help.", a.TriggeredByRole, describeReason(a.Reason))
	return models.Notification{
		Class: models.NotificationEmergency,
		Title: "EMERGENCY ALERT",
		Body:  body,
		SMS:   fmt.Sprintf("EMERGENCY: %s Location: %s", body, mapsLink(a.Location)),
		Data:  alertData(a, models.NotificationEmergency),
	}
}

func escalationNotification(a *models.EmergencyAlert) models.Notification {
	body := fmt.Sprintf("An emergency alert has not been resolved and was escalated. The %s %s.",
		a.TriggeredByRole, describeReason(a.Reason))
	return models.Notification{
		Class: models.NotificationEscalation,
		Title: "ESCALATED EMERGENCY",
		Body:  body,
		SMS:   fmt.Sprintf("ESCALATED EMERGENCY: %s Last known location: %s", body, mapsLink(a.Location)),
		Data:  alertData(a, models.NotificationEscalation),
	}
}

func resolvedNotification(a *models.EmergencyAlert) models.Notification {
	body := "The emergency has been resolved. Everyone is safe."
	if a.Status == models.AlertStatusFalseAlarm {
		body = "The emergency alert was a false alarm. Everyone is safe."
	}
	return models.Notification{
		Class: models.NotificationResolved,
		Title: "Emergency resolved",
		Body:  body,
		SMS:   body,
		Data:  alertData(a, models.NotificationResolved),
	}
}

// authorityContacts 升级时额外通知的号码
func authorityContacts(phones []string) []models.EmergencyContact {
	contacts := make([]models.EmergencyContact, 0, len(phones))
	for i, p := range phones {
		contacts = append(contacts, models.EmergencyContact{
			ID:           fmt.Sprintf("authority-%d", i+1),
			Name:         "Emergency services",
			Relationship: "authority",
			Phone:        p,
		})
	}
	return contacts
}
