package config

// EnvPrefix scopes every environment variable the service reads.
const EnvPrefix = "MARALEMPAY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "MARALEMPAY_DB_DSN"
	EnvDBHost = "MARALEMPAY_DB_HOST"
	EnvDBUser = "MARALEMPAY_DB_USER"
	EnvDBName = "MARALEMPAY_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
