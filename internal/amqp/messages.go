package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"verdeling/internal/core"
)

// Reasons carried by DistributionChangedMessage.
const (
	ReasonReadingsSaved   = "readings_saved"
	ReasonReadingsDeleted = "readings_deleted"
	ReasonInvoiceSaved    = "invoice_saved"
	ReasonInvoiceDeleted  = "invoice_deleted"
)

// DistributionChangedMessage tells consumers that the inputs of a month's
// distribution changed. The worker recomputes from the store; the message
// carries no figures.
type DistributionChangedMessage struct {
	Year      int       `json:"year"`
	Month     int       `json:"month"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func NewDistributionChangedMessage(ym core.YearMonth, reason string) *DistributionChangedMessage {
	return &DistributionChangedMessage{
		Year:      ym.Year,
		Month:     ym.Month,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

func (m *DistributionChangedMessage) Period() core.YearMonth {
	return core.NewYearMonth(m.Year, m.Month)
}

func (m *DistributionChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// DistributionChangedMessageFromJSON decodes and validates a message body.
func DistributionChangedMessageFromJSON(data []byte) (*DistributionChangedMessage, error) {
	var msg DistributionChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Period().Validate(); err != nil {
		return nil, fmt.Errorf("message period %04d-%02d: %w", msg.Year, msg.Month, err)
	}
	return &msg, nil
}
