package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-partners/core"
	"github.com/goliatone/go-partners/registry"
)

const (
	TypeRegisterPartner       = "partners.command.partner.register"
	TypeUpdatePartner         = "partners.command.partner.update"
	TypeActivatePartner       = "partners.command.partner.activate"
	TypeDeactivatePartner     = "partners.command.partner.deactivate"
	TypeSuspendPartner        = "partners.command.partner.suspend"
	TypeRegenerateSecret      = "partners.command.partner.regenerate_secret"
	TypeRecordDeliveryOutcome = "partners.command.partner.record_outcome"
	TypeDispatchEvent         = "partners.command.webhook.dispatch"
	TypeDispatchTest          = "partners.command.webhook.dispatch_test"
)

type RegisterPartnerMessage struct {
	Input registry.RegisterInput
}

func (RegisterPartnerMessage) Type() string { return TypeRegisterPartner }

func (m RegisterPartnerMessage) Validate() error {
	if strings.TrimSpace(m.Input.Name) == "" {
		return fmt.Errorf("command: partner name is required")
	}
	if strings.TrimSpace(m.Input.WebhookURL) == "" {
		return fmt.Errorf("command: webhook url is required")
	}
	return nil
}

type UpdatePartnerMessage struct {
	PartnerID string
	Patch     registry.UpdateInput
}

func (UpdatePartnerMessage) Type() string { return TypeUpdatePartner }

func (m UpdatePartnerMessage) Validate() error {
	if strings.TrimSpace(m.PartnerID) == "" {
		return fmt.Errorf("command: partner id is required")
	}
	return nil
}

type ActivatePartnerMessage struct {
	PartnerID string
}

func (ActivatePartnerMessage) Type() string { return TypeActivatePartner }

func (m ActivatePartnerMessage) Validate() error {
	return requirePartnerID(m.PartnerID)
}

type DeactivatePartnerMessage struct {
	PartnerID string
}

func (DeactivatePartnerMessage) Type() string { return TypeDeactivatePartner }

func (m DeactivatePartnerMessage) Validate() error {
	return requirePartnerID(m.PartnerID)
}

type SuspendPartnerMessage struct {
	PartnerID string
}

func (SuspendPartnerMessage) Type() string { return TypeSuspendPartner }

func (m SuspendPartnerMessage) Validate() error {
	return requirePartnerID(m.PartnerID)
}

type RegenerateSecretMessage struct {
	PartnerID string
}

func (RegenerateSecretMessage) Type() string { return TypeRegenerateSecret }

func (m RegenerateSecretMessage) Validate() error {
	return requirePartnerID(m.PartnerID)
}

type RecordDeliveryOutcomeMessage struct {
	PartnerID string
	Success   bool
}

func (RecordDeliveryOutcomeMessage) Type() string { return TypeRecordDeliveryOutcome }

func (m RecordDeliveryOutcomeMessage) Validate() error {
	return requirePartnerID(m.PartnerID)
}

type DispatchEventMessage struct {
	Event core.Event
}

func (DispatchEventMessage) Type() string { return TypeDispatchEvent }

func (m DispatchEventMessage) Validate() error {
	if err := m.Event.Validate(); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	return nil
}

type DispatchTestMessage struct {
	PartnerID string
}

func (DispatchTestMessage) Type() string { return TypeDispatchTest }

func (m DispatchTestMessage) Validate() error {
	return requirePartnerID(m.PartnerID)
}

func requirePartnerID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("command: partner id is required")
	}
	return nil
}
