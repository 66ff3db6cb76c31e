package app

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "HEAPDB"

type Environment string

const (
	EnvDev  Environment = "dev"
	EnvProd Environment = "prod"
)

type envVars struct {
	Environment     Environment   `envconfig:"ENVIRONMENT" default:"dev"`
	DataDir         string        `envconfig:"DATA_DIR" default:"./data"`
	CatalogPath     string        `envconfig:"CATALOG" default:"./catalog.txt"`
	BufferPoolPages int           `envconfig:"BUFFERPOOL_PAGES" default:"50"`
	LockTimeout     time.Duration `envconfig:"LOCK_TIMEOUT" default:"2s"`
}

// loadEnv reads HEAPDB_* variables. A .env file in the working directory is
// loaded first if present; variables already set take precedence.
func loadEnv() (envVars, error) {
	_ = godotenv.Load()

	var env envVars
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return envVars{}, err
	}
	return env, nil
}

func mustLoadEnv() envVars {
	env, err := loadEnv()
	if err != nil {
		log.Fatalf("failed to load environment: %v", err)
	}
	return env
}
