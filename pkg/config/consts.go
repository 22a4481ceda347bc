package config

// EnvPrefix namespaces every environment variable the service reads.
const EnvPrefix = "OVERTONE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "OVERTONE_APP_ENV"
	EnvPort     = "OVERTONE_APP_PORT"
	EnvDBDSN    = "OVERTONE_DB_DSN"
	EnvDBHost   = "OVERTONE_DB_HOST"
	EnvDBUser   = "OVERTONE_DB_USER"
	EnvDBName   = "OVERTONE_DB_NAME"
	EnvRedisURL = "OVERTONE_REDIS_URL"

	EnvStripeAPIKey        = "OVERTONE_STRIPE_API_KEY"
	EnvStripeWebhookSecret = "OVERTONE_STRIPE_WEBHOOK_SECRET"

	EnvGCPProjectID           = "OVERTONE_GCP_PROJECT_ID"
	EnvPubSubConfirmTopic     = "OVERTONE_PUBSUB_CONFIRMATION_TOPIC"
	EnvPubSubConfirmSub       = "OVERTONE_PUBSUB_CONFIRMATION_SUBSCRIPTION"
	EnvCheckoutSuccessURL     = "OVERTONE_CHECKOUT_SUCCESS_URL"
	EnvCheckoutCancelURL      = "OVERTONE_CHECKOUT_CANCEL_URL"
	EnvRetryMaxAttempts       = "OVERTONE_RETRY_MAX_ATTEMPTS"
	EnvRetryBaseDelay         = "OVERTONE_RETRY_BASE_DELAY"
	EnvReconcileLockTTL       = "OVERTONE_RECONCILE_LOCK_TTL"
	EnvOutboxPublishBatchSize = "OVERTONE_OUTBOX_PUBLISH_BATCH_SIZE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
