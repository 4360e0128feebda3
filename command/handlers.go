package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-partners/core"
	"github.com/goliatone/go-partners/registry"
)

// PartnerMutator is the slice of the registry the command handlers need.
type PartnerMutator interface {
	Register(ctx context.Context, in registry.RegisterInput) (core.Partner, string, error)
	Update(ctx context.Context, id string, patch registry.UpdateInput) (core.Partner, error)
	Activate(ctx context.Context, id string) (core.Partner, error)
	Deactivate(ctx context.Context, id string) (core.Partner, error)
	Suspend(ctx context.Context, id string) (core.Partner, error)
	RegenerateSecret(ctx context.Context, id string) (string, error)
	RecordDeliveryOutcome(ctx context.Context, id string, success bool) (core.Partner, error)
}

// EventDispatcher is the slice of the webhook dispatcher the command
// handlers need.
type EventDispatcher interface {
	DispatchEvent(ctx context.Context, event core.Event) ([]core.DeliveryResult, error)
	DispatchTest(ctx context.Context, partnerID string) (core.DeliveryResult, error)
}

// Registration bundles the created partner with the plaintext secret, which
// exists only in this result.
type Registration struct {
	Partner core.Partner
	Secret  string
}

type RegisterPartnerCommand struct {
	service PartnerMutator
}

func NewRegisterPartnerCommand(service PartnerMutator) *RegisterPartnerCommand {
	return &RegisterPartnerCommand{service: service}
}

func (c *RegisterPartnerCommand) Execute(ctx context.Context, msg RegisterPartnerMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: partner registry is required")
	}
	partner, secret, err := c.service.Register(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, Registration{Partner: partner, Secret: secret})
	return nil
}

type UpdatePartnerCommand struct {
	service PartnerMutator
}

func NewUpdatePartnerCommand(service PartnerMutator) *UpdatePartnerCommand {
	return &UpdatePartnerCommand{service: service}
}

func (c *UpdatePartnerCommand) Execute(ctx context.Context, msg UpdatePartnerMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: partner registry is required")
	}
	partner, err := c.service.Update(ctx, msg.PartnerID, msg.Patch)
	if err != nil {
		return err
	}
	storeResult(ctx, partner)
	return nil
}

type ActivatePartnerCommand struct {
	service PartnerMutator
}

func NewActivatePartnerCommand(service PartnerMutator) *ActivatePartnerCommand {
	return &ActivatePartnerCommand{service: service}
}

func (c *ActivatePartnerCommand) Execute(ctx context.Context, msg ActivatePartnerMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: partner registry is required")
	}
	partner, err := c.service.Activate(ctx, msg.PartnerID)
	if err != nil {
		return err
	}
	storeResult(ctx, partner)
	return nil
}

type DeactivatePartnerCommand struct {
	service PartnerMutator
}

func NewDeactivatePartnerCommand(service PartnerMutator) *DeactivatePartnerCommand {
	return &DeactivatePartnerCommand{service: service}
}

func (c *DeactivatePartnerCommand) Execute(ctx context.Context, msg DeactivatePartnerMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: partner registry is required")
	}
	partner, err := c.service.Deactivate(ctx, msg.PartnerID)
	if err != nil {
		return err
	}
	storeResult(ctx, partner)
	return nil
}

type SuspendPartnerCommand struct {
	service PartnerMutator
}

func NewSuspendPartnerCommand(service PartnerMutator) *SuspendPartnerCommand {
	return &SuspendPartnerCommand{service: service}
}

func (c *SuspendPartnerCommand) Execute(ctx context.Context, msg SuspendPartnerMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: partner registry is required")
	}
	partner, err := c.service.Suspend(ctx, msg.PartnerID)
	if err != nil {
		return err
	}
	storeResult(ctx, partner)
	return nil
}

type RegenerateSecretCommand struct {
	service PartnerMutator
}

func NewRegenerateSecretCommand(service PartnerMutator) *RegenerateSecretCommand {
	return &RegenerateSecretCommand{service: service}
}

func (c *RegenerateSecretCommand) Execute(ctx context.Context, msg RegenerateSecretMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: partner registry is required")
	}
	secret, err := c.service.RegenerateSecret(ctx, msg.PartnerID)
	if err != nil {
		return err
	}
	storeResult(ctx, secret)
	return nil
}

type RecordDeliveryOutcomeCommand struct {
	service PartnerMutator
}

func NewRecordDeliveryOutcomeCommand(service PartnerMutator) *RecordDeliveryOutcomeCommand {
	return &RecordDeliveryOutcomeCommand{service: service}
}

func (c *RecordDeliveryOutcomeCommand) Execute(ctx context.Context, msg RecordDeliveryOutcomeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: partner registry is required")
	}
	partner, err := c.service.RecordDeliveryOutcome(ctx, msg.PartnerID, msg.Success)
	if err != nil {
		return err
	}
	storeResult(ctx, partner)
	return nil
}

type DispatchEventCommand struct {
	dispatcher EventDispatcher
}

func NewDispatchEventCommand(dispatcher EventDispatcher) *DispatchEventCommand {
	return &DispatchEventCommand{dispatcher: dispatcher}
}

func (c *DispatchEventCommand) Execute(ctx context.Context, msg DispatchEventMessage) error {
	if c == nil || c.dispatcher == nil {
		return commandDependencyError("command: webhook dispatcher is required")
	}
	results, err := c.dispatcher.DispatchEvent(ctx, msg.Event)
	if err != nil {
		return err
	}
	storeResult(ctx, results)
	return nil
}

type DispatchTestCommand struct {
	dispatcher EventDispatcher
}

func NewDispatchTestCommand(dispatcher EventDispatcher) *DispatchTestCommand {
	return &DispatchTestCommand{dispatcher: dispatcher}
}

func (c *DispatchTestCommand) Execute(ctx context.Context, msg DispatchTestMessage) error {
	if c == nil || c.dispatcher == nil {
		return commandDependencyError("command: webhook dispatcher is required")
	}
	result, err := c.dispatcher.DispatchTest(ctx, msg.PartnerID)
	if err != nil {
		return err
	}
	storeResult(ctx, result)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
