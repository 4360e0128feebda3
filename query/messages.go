package query

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-partners/core"
)

const (
	TypeGetPartner       = "partners.query.partner.get"
	TypeGetPartnerByName = "partners.query.partner.get_by_name"
	TypeListPartners     = "partners.query.partner.list"
	TypeListSubscribed   = "partners.query.partner.list_subscribed"
	TypeListWebhookLogs  = "partners.query.webhook_log.list"
)

type GetPartnerMessage struct {
	PartnerID string
}

func (GetPartnerMessage) Type() string { return TypeGetPartner }

func (m GetPartnerMessage) Validate() error {
	if strings.TrimSpace(m.PartnerID) == "" {
		return fmt.Errorf("query: partner id is required")
	}
	return nil
}

type GetPartnerByNameMessage struct {
	Name string
}

func (GetPartnerByNameMessage) Type() string { return TypeGetPartnerByName }

func (m GetPartnerByNameMessage) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("query: partner name is required")
	}
	return nil
}

type ListPartnersMessage struct {
	Status core.PartnerStatus
}

func (ListPartnersMessage) Type() string { return TypeListPartners }

func (m ListPartnersMessage) Validate() error {
	switch m.Status {
	case "", core.PartnerStatusActive, core.PartnerStatusInactive, core.PartnerStatusSuspended:
		return nil
	}
	return fmt.Errorf("query: status %q is not valid", m.Status)
}

type ListSubscribedMessage struct {
	EventType string
}

func (ListSubscribedMessage) Type() string { return TypeListSubscribed }

func (m ListSubscribedMessage) Validate() error {
	if strings.TrimSpace(m.EventType) == "" {
		return fmt.Errorf("query: event type is required")
	}
	return nil
}

type ListWebhookLogsMessage struct {
	Filter core.WebhookLogFilter
}

func (ListWebhookLogsMessage) Type() string { return TypeListWebhookLogs }

func (m ListWebhookLogsMessage) Validate() error {
	if m.Filter.Limit < 0 {
		return fmt.Errorf("query: limit cannot be negative")
	}
	if m.Filter.Since != nil && m.Filter.Until != nil && m.Filter.Until.Before(*m.Filter.Since) {
		return fmt.Errorf("query: time range is inverted")
	}
	return nil
}
