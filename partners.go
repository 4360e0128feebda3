package partners

import "github.com/goliatone/go-partners/core"

type Config = core.Config

type DeliveryConfig = core.DeliveryConfig

type SignatureConfig = core.SignatureConfig

type Partner = core.Partner

type PartnerStatus = core.PartnerStatus

type Event = core.Event

type DeliveryResult = core.DeliveryResult

type WebhookLog = core.WebhookLog

type WebhookLogFilter = core.WebhookLogFilter

type WebhookStatus = core.WebhookStatus

type RetryTask = core.RetryTask

type SignedEnvelope = core.SignedEnvelope

type PartnerStore = core.PartnerStore
type WebhookLogStore = core.WebhookLogStore
type RetryQueueStore = core.RetryQueueStore
type ReplayLedger = core.ReplayLedger
type SecretProvider = core.SecretProvider
type DeliveryEventEmitter = core.DeliveryEventEmitter
type MetricsRecorder = core.MetricsRecorder
type StoreProvider = core.StoreProvider

type Logger = core.Logger

const (
	PartnerStatusActive    = core.PartnerStatusActive
	PartnerStatusInactive  = core.PartnerStatusInactive
	PartnerStatusSuspended = core.PartnerStatusSuspended
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}
